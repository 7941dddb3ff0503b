// Package crawler implements the crawl orchestration engine: given a
// query, a time budget and an authenticated browsing session it
// produces a ranked set of notes and a deduplicated set of comments.
// Everything network-shaped is reached through collaborator interfaces
// so the whole engine runs against fakes in tests.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"time"

	"liuweiq/snsworker/config"
	"liuweiq/snsworker/internal/browser"
	"liuweiq/snsworker/internal/jsonwalk"
	"liuweiq/snsworker/internal/proxybind"
	"liuweiq/snsworker/internal/ratelimit"
	"liuweiq/snsworker/internal/session"
	"liuweiq/snsworker/internal/sign"
	"liuweiq/snsworker/logger"
)

const (
	defaultQuickTimeout = 90 * time.Second
	defaultDeepTimeout  = 180 * time.Second

	maxErrorsHead = 20

	syntheticAuthor   = "note_desc_fallback"
	syntheticMaxChars = 120

	closeTimeout = 8 * time.Second
)

// Engine runs platform crawls. One Engine serves all jobs; per-crawl
// state lives in a crawlRun.
type Engine struct {
	cfg      *config.Config
	profiles map[string]*config.Profile
	rates    *ratelimit.Registry
	proxies  *proxybind.Manager
	sessions session.Store
	driver   browser.Driver
	provider *ProviderClient

	// pace is swapped for a no-op in tests.
	pace func(ctx context.Context, d time.Duration)
}

// NewEngine wires the engine and its collaborators. provider may be nil
// when no token-provider fallback is configured.
func NewEngine(cfg *config.Config, profiles map[string]*config.Profile, rates *ratelimit.Registry,
	proxies *proxybind.Manager, sessions session.Store, driver browser.Driver, provider *ProviderClient) *Engine {
	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		rates:    rates,
		proxies:  proxies,
		sessions: sessions,
		driver:   driver,
		provider: provider,
		pace:     sleepCtx,
	}
}

// crawlRun is the per-invocation state of the orchestrator.
type crawlRun struct {
	eng     *Engine
	profile *config.Profile
	mp      config.ModeParams
	log     *logger.Logger

	platform string
	userID   string
	query    string
	mode     string
	limits   Limits

	deadline time.Time
	terms    []string

	sess browser.Session
	api  *apiClient

	// signedDead flips when a hard protocol rejection or signer failure
	// kills the signed tier for the rest of the job.
	signedDead bool

	errs []string
	cost Cost
}

// Crawl runs one platform crawl to completion. It always returns a
// result; failures are encoded in the result rather than an error so
// callers can aggregate partial multi-platform jobs.
func (e *Engine) Crawl(ctx context.Context, platform string, req Request) (PlatformResult, Cost) {
	start := time.Now()
	res := PlatformResult{Platform: platform, Notes: []Note{}, Comments: []Comment{}}
	cost := Cost{ProviderMix: map[string]float64{}}
	defer func() {
		res.LatencyMS = int(time.Since(start).Milliseconds())
	}()

	profile, ok := e.profiles[platform]
	if !ok {
		res.Error = "platform_unsupported"
		return res, cost
	}

	mode := req.Mode
	if mode != "deep" {
		mode = "quick"
	}
	userID := req.UserID
	if userID == "" {
		userID = "default"
	}

	// Rate and cooldown gates fire before any work is attempted; a
	// denial produces a throttled result with zero partial work.
	rate, burst := profile.RateFor(mode)
	if ok, wait := e.rates.Allow("crawl:"+platform+":"+mode, rate, burst); !ok {
		res.Error = fmt.Sprintf("throttled_retry_after_%dms", wait.Milliseconds())
		return res, cost
	}
	if ok, wait := e.rates.AcquireCooldown("cooldown:"+platform+":"+userID, profile.Cooldown); !ok {
		res.Error = fmt.Sprintf("cooldown_retry_after_%dms", wait.Milliseconds())
		return res, cost
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultQuickTimeout
		if mode == "deep" {
			timeout = defaultDeepTimeout
		}
	}

	run := &crawlRun{
		eng:      e,
		profile:  profile,
		mp:       profile.Mode(mode),
		log:      logger.ForCrawler(platform),
		platform: platform,
		userID:   userID,
		query:    NormalizeQuery(req.Query),
		mode:     mode,
		limits:   req.NormalizedLimits(),
		deadline: start.Add(timeout),
		terms:    QueryTerms(req.Query),
	}

	if profile.ProviderOnly {
		e.providerCrawl(ctx, run, &res, &cost)
		return res, cost
	}

	rec, reason, err := e.sessions.GetValid(ctx, platform, userID)
	if rec == nil {
		if err != nil && reason == "" {
			reason = "session_store_error"
		}
		if e.provider != nil {
			run.log.Warn().Str("reason", reason).Msg("no usable session, falling back to provider")
			res.Diagnostic = &Diagnostic{FallbackUsed: true, FallbackReason: reason}
			e.providerCrawl(ctx, run, &res, &cost)
			return res, cost
		}
		res.Error = reason
		return res, cost
	}
	_ = e.sessions.Touch(ctx, platform, userID)

	diag := &Diagnostic{}
	var endpoint *proxybind.Endpoint
	proxied := false
	if e.proxies != nil && e.proxies.Mode() != proxybind.ModeOff {
		binding, rotated, perr := e.proxies.Acquire(platform, userID)
		if perr != nil {
			run.errs = append(run.errs, "proxy_acquire_failed:"+truncRunes(perr.Error(), 120))
		} else if binding != nil {
			diag.ProxyBindingID = binding.BindingID
			diag.ProxyRotated = rotated
			if ep, eerr := e.proxies.Endpoint(binding); eerr == nil {
				endpoint = ep
				proxied = true
			} else {
				run.errs = append(run.errs, "proxy_endpoint_failed:"+truncRunes(eerr.Error(), 120))
			}
		}
	}

	ua := rec.UserAgent
	if ua == "" && len(e.cfg.UserAgents) > 0 {
		ua = e.cfg.UserAgents[rand.Intn(len(e.cfg.UserAgents))]
	}
	sess, err := e.driver.NewSession(ctx, browser.SessionOptions{
		Platform:       platform,
		Cookies:        rec.Cookies,
		CookieDomain:   profile.CookieDomain,
		UserAgent:      ua,
		Proxy:          endpoint,
		RequestTimeout: e.cfg.HTTPTimeout,
	})
	if err != nil {
		res.Error = "browser_launch_failed"
		res.Diagnostic = diag
		diag.ErrorsHead = headStrings(append(run.errs, truncRunes(err.Error(), 140)), maxErrorsHead)
		return res, cost
	}
	defer closeSession(sess)

	run.sess = sess
	run.cost.ProviderMix = map[string]float64{}

	notes, comments := e.browserCrawl(ctx, run)

	res.Notes = notes
	res.Comments = comments
	res.Success = len(notes) > 0 && len(comments) > 0
	cost.Add(run.cost)
	if proxied {
		cost.ProxyCalls++
		_ = e.proxies.ReportResult(platform, userID, res.Success)
	}
	cost.ProviderMix["self_crawler"] += float64(len(notes))

	diag.ErrorsHead = headStrings(run.errs, maxErrorsHead)
	res.Diagnostic = diag

	if res.Success {
		_ = e.sessions.MarkResult(ctx, platform, userID, true, "")
	} else {
		res.Error = normalizeError(run.errs)
		// Throttle, timeout and empty outcomes say nothing about the
		// session itself and must not poison its health score.
		if sessionAffecting(res.Error) {
			_ = e.sessions.MarkResult(ctx, platform, userID, false, res.Error)
		}
	}
	return res, cost
}

// sessionAffecting reports whether a normalized crawl error should count
// against the stored session's health.
func sessionAffecting(label string) bool {
	switch label {
	case "", "session_crawl_empty":
		return false
	}
	if strings.Contains(label, "throttled") || strings.Contains(label, "cooldown") ||
		strings.Contains(label, "deadline") {
		return false
	}
	return true
}

// closeSession tears the browser down on its own clock so a hung close
// cannot block job completion.
func closeSession(sess browser.Session) {
	done := make(chan struct{})
	go func() {
		_ = sess.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
	}
}

// budgetLeft reports whether a new network step may start.
func (r *crawlRun) budgetLeft() bool {
	return time.Now().Before(r.deadline)
}

// floorMet reports whether the mode's minimum acceptable return is
// already in hand while the remaining budget is too thin for another
// full candidate fetch. The loop settles for the floor instead of
// starting work it cannot finish.
func (r *crawlRun) floorMet(notes, comments, minComments int) bool {
	minNotes := r.mp.MinNotesReturn
	if minNotes > r.limits.Notes {
		minNotes = r.limits.Notes
	}
	if minNotes < 1 {
		return false
	}
	if notes < minNotes || comments < minComments {
		return false
	}
	return time.Until(r.deadline) < r.mp.PerNoteBudget/2
}

// deadlineMark records the budget-exhausted marker once.
func (r *crawlRun) deadlineMark() {
	for _, e := range r.errs {
		if e == "crawl_deadline_reached" {
			return
		}
	}
	r.errs = append(r.errs, "crawl_deadline_reached")
}

// browserCrawl drives the full authenticated flow: warm-up navigation,
// signed search with DOM and alternate-query fallbacks, then the
// sequential per-candidate comment loop.
func (e *Engine) browserCrawl(ctx context.Context, run *crawlRun) ([]Note, []Comment) {
	ranked := e.searchStage(ctx, run)
	if len(ranked) == 0 {
		if run.budgetLeft() {
			run.errs = append(run.errs, "search_empty:"+run.query)
		}
		return nil, nil
	}
	return e.candidateLoop(ctx, run, ranked)
}

// searchStage walks the fallback chain until a non-empty ranked pool is
// obtained or the budget runs out: signed search on the primary query,
// DOM scan of the rendered search page, then alternate queries through
// the same two tiers.
func (e *Engine) searchStage(ctx context.Context, run *crawlRun) []noteRow {
	queries := SearchQueries(run.query)
	if len(queries) == 0 {
		queries = []string{run.query}
	}
	if cap := run.mp.AltQueryCap + 1; len(queries) > cap && cap > 0 {
		queries = queries[:cap]
	}

	for i, q := range queries {
		if !run.budgetLeft() {
			run.deadlineMark()
			return nil
		}
		ranked := e.searchOnce(ctx, run, q, i > 0)
		if len(ranked) > 0 {
			return ranked
		}
		if i == 0 {
			run.errs = append(run.errs, "primary_query_empty:"+truncRunes(q, 40))
		}
	}
	return nil
}

// searchOnce runs one query through the signed and DOM tiers and merges
// whatever both produced into a ranked pool.
func (e *Engine) searchOnce(ctx context.Context, run *crawlRun, query string, alt bool) []noteRow {
	navTimeout, postWait, scrollDelta := run.mp.SearchNavTimeout, run.mp.PostNavWait, run.mp.ScrollDelta
	if alt {
		navTimeout, postWait, scrollDelta = run.mp.AltNavTimeout, run.mp.AltPostNavWait, run.mp.AltScrollDelta
	}

	// The search page render serves two purposes: it installs the
	// in-page signer for the signed tier and it leaks note payloads
	// through the network capture.
	capture, capErr := run.sess.Capture(run.profile.SearchCapture...)
	if capErr != nil {
		run.errs = append(run.errs, "capture_unavailable:"+truncRunes(capErr.Error(), 100))
	}

	// Each render round tries the next search entry URL; one clean
	// load is enough.
	rounds := run.mp.SearchRounds
	if rounds < 1 {
		rounds = 1
	}
	navOK := false
	for r := 0; r < rounds && !navOK && run.budgetLeft(); r++ {
		entry := fmt.Sprintf(run.profile.SearchEntryURLs[r%len(run.profile.SearchEntryURLs)], url.QueryEscape(query))
		navOK = runStep(ctx, &run.errs, "search_nav", navBudget(navTimeout, run.deadline), func(sctx context.Context) error {
			note, err := run.sess.Navigate(sctx, entry)
			if note != "" {
				run.errs = append(run.errs, "search_nav:"+note)
			}
			return err
		})
	}
	if navOK {
		e.pace(ctx, postWait)
		for i := 0; i < run.mp.ScrollRounds && run.budgetLeft(); i++ {
			_ = run.sess.Scroll(ctx, scrollDelta)
			e.pace(ctx, run.mp.ScrollWait)
		}
	}

	// Signed tier. The signer only exists after a successful render, so
	// a failed navigation skips straight to whatever the capture got.
	var apiRows []noteRow
	if navOK && !run.signedDead && run.budgetLeft() {
		if run.api == nil {
			run.api = newAPIClient(run.sess, browser.NewPageSigner(run.sess, run.platform, run.profile.SignerExpr),
				e.signMaterial(ctx, run), run.profile)
		}
		sctx, cancel := context.WithTimeout(ctx, stepBudget(run.mp.SignedSearchTimeout*3, run.deadline))
		rows, textures := run.api.searchNotes(sctx, query, run.mode, run.limits.Notes)
		cancel()
		apiRows = rows
		run.errs = append(run.errs, textures...)
		for _, t := range textures {
			if hardFail(run.profile, t) {
				run.signedDead = true
				run.log.Warn().Str("texture", truncRunes(t, 140)).Msg("signed search tier disabled for this job")
				break
			}
		}
	}

	// Capture tier: payloads sniffed off the render are mined for note
	// rows. Stop joins the listener, so nothing reads concurrently.
	var capRows []noteRow
	if capture != nil {
		for _, item := range capture.Stop() {
			var raw any
			if err := json.Unmarshal(item.Body, &raw); err != nil {
				continue
			}
			capRows = append(capRows, extractNoteRows(raw, run.platform, run.profile.NoteURLTemplate)...)
		}
	}

	// DOM tier: the rendered page's visible anchors, coarse but cheap.
	var domRows []noteRow
	if navOK && run.budgetLeft() {
		limit := domScanCap
		if alt {
			limit = domAltScanCap
		}
		runStep(ctx, &run.errs, "dom_scan", stepBudget(5*time.Second, run.deadline), func(sctx context.Context) error {
			rows, err := scanNoteAnchors(sctx, run.sess, "dom", limit)
			domRows = rows
			return err
		})
	}

	// Relevance gate before merge: signed rows are already scoped by the
	// platform's own query matching, everything else must hit a term.
	var gated []noteRow
	for _, row := range append(capRows, domRows...) {
		if RelevantRow(row.Source, row.Title+" "+row.Desc, run.terms) {
			gated = append(gated, row)
		}
	}
	return mergeNoteRows(gated, apiRows, run.limits.Notes, run.mode, run.mp.CandidateFloor, run.terms)
}

// signMaterial pulls the device cookie and local-storage fingerprint the
// common signature header binds.
func (e *Engine) signMaterial(ctx context.Context, run *crawlRun) sign.Material {
	m := sign.Material{}
	if cookies, err := run.sess.Cookies(); err == nil {
		m.A1 = cookies["a1"]
	}
	if v, err := run.sess.Eval(ctx, `() => { try { return localStorage.getItem('b1') || '' } catch (e) { return '' } }`); err == nil {
		m.B1, _ = v.(string)
	}
	return m
}

// candidateLoop walks the ranked pool in score order, sequentially, and
// collects comments per note until targets, streak abort or deadline.
func (e *Engine) candidateLoop(ctx context.Context, run *crawlRun, ranked []noteRow) ([]Note, []Comment) {
	var notes []Note
	var comments []Comment
	emptyStreak := 0

	minComments := run.mp.MinCommentsReturn
	if target := run.limits.Notes * run.limits.CommentsPerNote; minComments > target {
		minComments = target
	}

	for i, cand := range ranked {
		if len(notes) >= run.limits.Notes && len(comments) >= minComments {
			break
		}
		if run.floorMet(len(notes), len(comments), minComments) {
			break
		}
		if !run.budgetLeft() {
			run.deadlineMark()
			break
		}
		if i > 0 {
			e.pace(ctx, humanDelay(run.mp.DelayMin, run.mp.DelayMax))
		}

		rows := e.fetchCandidate(ctx, run, &cand)
		if len(rows) == 0 {
			emptyStreak++
			if emptyStreak > run.mp.EmptyStreakCap && len(notes) == 0 {
				// A long run of empty candidates with nothing accepted
				// means the query is systematically unproductive.
				run.errs = append(run.errs, fmt.Sprintf("empty_streak_abort:%d", emptyStreak))
				break
			}
			continue
		}
		emptyStreak = 0

		sort.SliceStable(rows, func(a, b int) bool { return rows[a].LikeCount > rows[b].LikeCount })
		if len(rows) > run.limits.CommentsPerNote {
			rows = rows[:run.limits.CommentsPerNote]
		}
		note := cand.toNote(run.platform)
		notes = append(notes, note)
		for j, row := range rows {
			comments = append(comments, row.toComment(run.platform, note.ID, fmt.Sprintf("%s_c%d", note.ID, j)))
		}
	}
	return notes, comments
}

func (c noteRow) toNote(platform string) Note {
	return Note{
		ID:             c.ID,
		Title:          c.Title,
		Desc:           c.Desc,
		LikedCount:     c.LikedCount,
		CommentsCount:  c.CommentsCount,
		CollectedCount: c.CollectedCount,
		Platform:       platform,
		URL:            c.URL,
	}
}

// fetchCandidate collects one candidate's comments through the source
// chain: signed direct calls first when an access token is present,
// then the rendered note page's captured traffic, pagination follow-ups
// and a final signed attempt. Transport failures are recorded and never
// abort the job.
func (e *Engine) fetchCandidate(ctx context.Context, run *crawlRun, cand *noteRow) []commentRow {
	target := run.limits.CommentsPerNote
	seen := map[string]bool{}
	noteDeadline := time.Now().Add(stepBudget(run.mp.PerNoteBudget, run.deadline))

	// API-first preflight: with a per-note access token the signed
	// endpoint is authoritative and the render can be skipped entirely.
	// Fetching double the target leaves room to keep the best-liked.
	if cand.XsecToken != "" && !run.signedDead && run.api != nil && run.budgetLeft() {
		var direct []commentRow
		runStep(ctx, &run.errs, "comments_direct", stepBudget(run.mp.CommentStepTimeout*2, run.deadline), func(sctx context.Context) error {
			rows, texture := run.api.fetchCommentsDirect(sctx, cand.ID, cand.XsecToken, cand.XsecSource,
				target*2, run.mp.CommentPagesDirect, seen)
			direct = rows
			if texture != "" {
				run.errs = append(run.errs, "comments_direct:"+texture)
				if hardFail(run.profile, texture) {
					run.signedDead = true
				}
			}
			return nil
		})
		if len(direct) >= target {
			return direct
		}
		if !run.budgetLeft() || time.Now().After(noteDeadline) {
			return direct
		}
		// Not enough from the signed path; fall through to the render
		// with what we already have.
		return append(direct, e.renderComments(ctx, run, cand, target-len(direct), seen, noteDeadline)...)
	}

	return e.renderComments(ctx, run, cand, target, seen, noteDeadline)
}

// renderComments navigates the note page and harvests comments from the
// captured network traffic, pagination follow-ups and, last, a signed
// direct attempt when a token is available.
func (e *Engine) renderComments(ctx context.Context, run *crawlRun, cand *noteRow, want int, seen map[string]bool, noteDeadline time.Time) []commentRow {
	if want <= 0 || !run.budgetLeft() {
		return nil
	}
	left := func() bool { return run.budgetLeft() && time.Now().Before(noteDeadline) }

	capture, capErr := run.sess.Capture(run.profile.NoteCapture...)
	if capErr != nil {
		run.errs = append(run.errs, "capture_unavailable:"+truncRunes(capErr.Error(), 100))
	}

	navOK := false
	for attempt := 0; attempt <= run.mp.NavRetries && !navOK && left(); attempt++ {
		if attempt > 0 {
			e.pace(ctx, run.mp.NavRetryWait)
		}
		navOK = runStep(ctx, &run.errs, "note_nav", navBudget(run.mp.NoteNavTimeout, run.deadline), func(sctx context.Context) error {
			note, err := run.sess.Navigate(sctx, cand.URL)
			if note != "" {
				run.errs = append(run.errs, "note_nav:"+note)
			}
			return err
		})
	}
	if !navOK {
		if capture != nil {
			capture.Stop()
		}
		return nil
	}

	e.waitNoteReady(ctx, run)
	e.pace(ctx, run.mp.CommentPanelWait)
	for i := 0; i < run.mp.CommentScrollRounds && left(); i++ {
		_ = run.sess.Scroll(ctx, run.mp.CommentScrollStep)
		e.pace(ctx, run.mp.CommentScrollPause)
	}

	var collected []commentRow
	var hints []jsonwalk.PageHint
	if capture != nil {
		for _, item := range capture.Stop() {
			var raw any
			if err := json.Unmarshal(item.Body, &raw); err != nil {
				continue
			}
			for _, row := range extractCommentRows(raw) {
				key := truncRunes(row.Content, 180)
				if seen[key] {
					continue
				}
				seen[key] = true
				collected = append(collected, row)
			}
			for _, h := range jsonwalk.PaginationHints(raw) {
				h.URL = item.URL
				hints = append(hints, h)
			}
		}
	}

	if len(collected) < want && len(hints) > 0 && left() {
		runStep(ctx, &run.errs, "comments_paginate", stepBudget(run.mp.CommentStepTimeout*2, run.deadline), func(sctx context.Context) error {
			collected = append(collected, collectPaginatedComments(sctx, run.sess, hints,
				want-len(collected), run.mp.CommentPagesInPage, seen)...)
			return nil
		})
	}

	if len(collected) < want && cand.XsecToken != "" && !run.signedDead && run.api != nil && left() {
		runStep(ctx, &run.errs, "comments_direct", stepBudget(run.mp.CommentStepTimeout, run.deadline), func(sctx context.Context) error {
			rows, texture := run.api.fetchCommentsDirect(sctx, cand.ID, cand.XsecToken, cand.XsecSource,
				want-len(collected), run.mp.CommentPagesDirect, seen)
			collected = append(collected, rows...)
			if texture != "" {
				run.errs = append(run.errs, "comments_direct:"+texture)
				if hardFail(run.profile, texture) {
					run.signedDead = true
				}
			}
			return nil
		})
	}

	// Detail eval backfills a missing description off the rendered page.
	if cand.Desc == "" && left() {
		runStep(ctx, &run.errs, "detail_eval", stepBudget(run.mp.DetailEvalTimeout, run.deadline), func(sctx context.Context) error {
			v, err := run.sess.Eval(sctx, detailDescExpr)
			if err != nil {
				return err
			}
			if s, _ := v.(string); s != "" {
				cand.Desc = truncRunes(strings.TrimSpace(s), 1000)
			}
			return nil
		})
	}

	if len(collected) == 0 && e.cfg.SyntheticComment {
		if row, ok := e.syntheticComment(ctx, run, cand); ok {
			collected = append(collected, row)
		}
	}
	return collected
}

const noteReadyInterval = 300 * time.Millisecond

// waitNoteReady polls the profile's readiness selector until the note
// page has rendered enough to harvest, bounded by the mode's wait.
func (e *Engine) waitNoteReady(ctx context.Context, run *crawlRun) {
	if run.profile.NoteReadySelector == "" || run.mp.NoteReadyWait <= 0 {
		return
	}
	attempts := int(run.mp.NoteReadyWait / noteReadyInterval)
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts && run.budgetLeft(); i++ {
		v, err := run.sess.Eval(ctx, `(sel) => !!document.querySelector(sel)`, run.profile.NoteReadySelector)
		if err == nil {
			if ready, _ := v.(bool); ready {
				return
			}
		}
		e.pace(ctx, noteReadyInterval)
	}
}

const detailDescExpr = `() => {
	const m = document.querySelector('meta[name="description"], meta[property="og:description"]');
	if (m && m.content) return m.content;
	return document.title || '';
}`

// humanDelay randomizes the pacing gap between candidate fetches so the
// request cadence never looks mechanical.
func humanDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
