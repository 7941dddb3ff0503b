package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"liuweiq/snsworker/helpers"
)

// Hosted-provider REST paths per platform. The provider normalizes both
// platforms' search and comment APIs behind bearer-token endpoints.
var providerPaths = map[string]struct {
	search   string
	comments string
}{
	platformXHS:    {"/api/v1/xiaohongshu/web/search_notes", "/api/v1/xiaohongshu/web/get_note_comments"},
	platformDouyin: {"/api/v1/douyin/web/fetch_general_search", "/api/v1/douyin/web/fetch_video_comments"},
}

const providerCallCost = 0.001

// ProviderClient crawls through a hosted provider API when no
// authenticated session is available. No signing, plain bearer auth.
type ProviderClient struct {
	baseURL string
	token   string
	timeout time.Duration
}

// NewProviderClient returns nil when no token is configured, which
// disables the provider path entirely.
func NewProviderClient(baseURL, token string, timeout time.Duration) *ProviderClient {
	if token == "" || baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &ProviderClient{baseURL: baseURL, token: token, timeout: timeout}
}

func (p *ProviderClient) get(ctx context.Context, path string, params url.Values) (any, error) {
	full := p.baseURL + path
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return helpers.FetchJSON(sctx, full, map[string]string{
		"Authorization": "Bearer " + p.token,
		"Accept":        "application/json",
	})
}

// SearchNotes queries the provider's search endpoint and mines the
// response for note rows with the same duck-typed extraction the
// capture path uses.
func (p *ProviderClient) SearchNotes(ctx context.Context, platform, query string, limit int) ([]noteRow, error) {
	paths, ok := providerPaths[platform]
	if !ok {
		return nil, fmt.Errorf("provider: unsupported platform %q", platform)
	}
	payload, err := p.get(ctx, paths.search, url.Values{
		"keyword": {query},
		"page":    {"1"},
	})
	if err != nil {
		return nil, err
	}
	rows := extractNoteRows(payload, platform, "")
	for i := range rows {
		rows[i].Source = "provider"
	}
	if len(rows) > limit && limit > 0 {
		rows = rows[:limit]
	}
	return rows, nil
}

// FetchComments pulls one note's comments from the provider.
func (p *ProviderClient) FetchComments(ctx context.Context, platform, noteID string, limit int) ([]commentRow, error) {
	paths, ok := providerPaths[platform]
	if !ok {
		return nil, fmt.Errorf("provider: unsupported platform %q", platform)
	}
	idKey := "note_id"
	if platform == platformDouyin {
		idKey = "aweme_id"
	}
	payload, err := p.get(ctx, paths.comments, url.Values{
		idKey:    {noteID},
		"cursor": {"0"},
	})
	if err != nil {
		return nil, err
	}
	rows := extractCommentRows(payload)
	if len(rows) > limit && limit > 0 {
		rows = rows[:limit]
	}
	return rows, nil
}

// providerCrawl serves one platform entirely through the provider API.
// It reuses the engine's ranking and per-note caps but skips the
// browser, signing and synthetic-fallback machinery.
func (e *Engine) providerCrawl(ctx context.Context, run *crawlRun, res *PlatformResult, cost *Cost) {
	if e.provider == nil {
		res.Error = "provider_unconfigured"
		return
	}

	rows, err := e.provider.SearchNotes(ctx, run.platform, run.query, poolSize(run.limits.Notes, run.mode, run.mp.CandidateFloor))
	cost.ExternalAPICalls++
	cost.EstCost += providerCallCost
	if err != nil {
		run.errs = append(run.errs, "provider_search:"+truncRunes(err.Error(), 140))
		res.Error = "provider_search_failed"
		res.Diagnostic = mergeDiag(res.Diagnostic, run.errs)
		return
	}
	ranked := mergeNoteRows(nil, rows, run.limits.Notes, run.mode, run.mp.CandidateFloor, run.terms)

	var notes []Note
	var comments []Comment
	for _, cand := range ranked {
		if len(notes) >= run.limits.Notes {
			break
		}
		if !run.budgetLeft() {
			run.deadlineMark()
			break
		}
		rows, err := e.provider.FetchComments(ctx, run.platform, cand.ID, run.limits.CommentsPerNote*2)
		cost.ExternalAPICalls++
		cost.EstCost += providerCallCost
		if err != nil {
			run.errs = append(run.errs, "provider_comments:"+truncRunes(err.Error(), 140))
			continue
		}
		if len(rows) == 0 {
			continue
		}
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

	res.Notes = notes
	res.Comments = comments
	res.Success = len(notes) > 0 && len(comments) > 0
	cost.ProviderMix["provider_api"] += float64(len(notes))
	if !res.Success && res.Error == "" {
		res.Error = "provider_crawl_empty"
	}
	res.Diagnostic = mergeDiag(res.Diagnostic, run.errs)
}

// mergeDiag attaches the bounded error head to an existing diagnostic,
// creating one when the crawl had none yet.
func mergeDiag(d *Diagnostic, errs []string) *Diagnostic {
	if d == nil {
		d = &Diagnostic{}
	}
	d.ErrorsHead = headStrings(errs, maxErrorsHead)
	return d
}
