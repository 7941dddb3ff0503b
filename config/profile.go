package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"liuweiq/snsworker/pkg/errors"
)

// ModeParams holds the per-mode (quick/deep) crawl pacing constants for a
// platform. Quick mode trades coverage for latency; deep mode does the
// opposite. All durations are step budgets, not totals — the orchestrator
// shrinks them further as the hard deadline approaches.
type ModeParams struct {
	SearchRounds        int
	SearchNavTimeout    time.Duration
	PostNavWait         time.Duration
	SignedSearchTimeout time.Duration
	SearchPages         int
	ScrollRounds        int
	ScrollDelta         int
	ScrollWait          time.Duration
	Sorts               []string

	AltQueryCap    int
	AltNavTimeout  time.Duration
	AltPostNavWait time.Duration
	AltScrollDelta int

	NoteNavTimeout time.Duration
	NavRetries     int
	NavRetryWait   time.Duration
	NoteReadyWait  time.Duration

	CommentStepTimeout  time.Duration
	DetailEvalTimeout   time.Duration
	CommentPanelWait    time.Duration
	CommentScrollRounds int
	CommentScrollStep   int
	CommentScrollPause  time.Duration
	CommentPagesInPage  int
	CommentPagesDirect  int

	PerNoteBudget     time.Duration
	CandidateFloor    int
	EmptyStreakCap    int
	MinNotesReturn    int
	MinCommentsReturn int

	DelayMin time.Duration
	DelayMax time.Duration

	// RatePerSecond and BurstCapacity, when set, replace the profile-level
	// token bucket for this mode. Deep mode runs on a tighter bucket since
	// its sessions stay on-platform far longer per job.
	RatePerSecond float64
	BurstCapacity float64
}

// Profile describes one target platform: hosts, endpoints, cookie
// requirements, protocol failure codes and per-mode pacing.
type Profile struct {
	Platform string

	APIHost         string
	SearchPath      string
	CommentPaths    []string
	SearchEntryURLs []string
	NoteURLTemplate string
	DefaultXsec     string
	CookieDomain    string

	// SearchCapture and NoteCapture are the URL substrings worth
	// sniffing off the page's network traffic in each stage.
	SearchCapture []string
	NoteCapture   []string

	// NoteReadySelector marks a note page as rendered enough to work.
	NoteReadySelector string

	// SignerExpr is evaluated inside the live page; it receives the
	// canonical sign string and its md5 hex digest.
	SignerExpr string

	RequiredCookies []string
	AnyOfCookies    []string

	// HardFailCodes are protocol rejection codes that abort the current
	// strategy instead of retrying it.
	HardFailCodes []int

	// ProviderOnly platforms have no browser path and are served entirely
	// through the token-provider fallback.
	ProviderOnly bool

	RatePerSecond float64
	BurstCapacity float64
	Cooldown      time.Duration

	Quick ModeParams
	Deep  ModeParams
}

// Mode returns the pacing parameters for the given mode, defaulting to
// quick for anything unrecognized.
func (p *Profile) Mode(mode string) ModeParams {
	if mode == "deep" {
		return p.Deep
	}
	return p.Quick
}

// RateFor returns the token bucket parameters for the given mode. Modes
// without their own bucket inherit the profile-level one.
func (p *Profile) RateFor(mode string) (rate, burst float64) {
	mp := p.Mode(mode)
	rate, burst = p.RatePerSecond, p.BurstCapacity
	if mp.RatePerSecond > 0 {
		rate = mp.RatePerSecond
	}
	if mp.BurstCapacity > 0 {
		burst = mp.BurstCapacity
	}
	return rate, burst
}

// HardFail reports whether a protocol rejection code is in the profile's
// hard-fail set.
func (p *Profile) HardFail(code int) bool {
	for _, c := range p.HardFailCodes {
		if c == code {
			return true
		}
	}
	return false
}

// XHSProfile returns the Xiaohongshu crawl profile.
func XHSProfile() *Profile {
	return &Profile{
		Platform:   "xiaohongshu",
		APIHost:    "https://edith.xiaohongshu.com",
		SearchPath: "/api/sns/web/v1/search/notes",
		CommentPaths: []string{
			"/api/sns/web/v2/comment/page",
			"/api/sns/web/v1/comment/page",
			"/api/sns/web/v1/note/comment/page",
		},
		SearchEntryURLs: []string{
			"https://www.xiaohongshu.com/search_result?keyword=%s&source=web_explore_feed",
			"https://www.xiaohongshu.com/search_result?keyword=%s&source=web_search_result",
		},
		NoteURLTemplate:   "https://www.xiaohongshu.com/explore/%s",
		DefaultXsec:       "pc_search",
		CookieDomain:      ".xiaohongshu.com",
		SearchCapture:     []string{"search", "note", "feed"},
		NoteCapture:       []string{"xiaohongshu.com", "xhscdn.com"},
		NoteReadySelector: "article, [class*='note'], [class*='content']",
		SignerExpr:        "(s, t) => window.mnsv2(s, t)",
		RequiredCookies: []string{"web_session", "a1"},
		AnyOfCookies:    []string{"id_token", "gid", "webid", "webId"},
		HardFailCodes:   []int{-104, 300011, 300012, -510001},
		RatePerSecond:   2.0,
		BurstCapacity:   4.0,
		Cooldown:        1500 * time.Millisecond,
		Quick: ModeParams{
			SearchRounds:        2,
			SearchNavTimeout:    16 * time.Second,
			PostNavWait:         1200 * time.Millisecond,
			SignedSearchTimeout: 7 * time.Second,
			SearchPages:         1,
			ScrollRounds:        2,
			ScrollDelta:         1200,
			ScrollWait:          900 * time.Millisecond,
			Sorts:               []string{"popularity_descending", "time_descending"},
			AltQueryCap:         4,
			AltNavTimeout:       16 * time.Second,
			AltPostNavWait:      900 * time.Millisecond,
			AltScrollDelta:      1100,
			NoteNavTimeout:      12 * time.Second,
			NavRetries:          1,
			NavRetryWait:        1200 * time.Millisecond,
			NoteReadyWait:       7 * time.Second,
			CommentStepTimeout:  3 * time.Second,
			DetailEvalTimeout:   3 * time.Second,
			CommentPanelWait:    520 * time.Millisecond,
			CommentScrollRounds: 4,
			CommentScrollStep:   820,
			CommentScrollPause:  880 * time.Millisecond,
			CommentPagesInPage:  1,
			CommentPagesDirect:  2,
			PerNoteBudget:       16 * time.Second,
			CandidateFloor:      8,
			EmptyStreakCap:      8,
			MinNotesReturn:      2,
			MinCommentsReturn:   4,
			DelayMin:            900 * time.Millisecond,
			DelayMax:            1800 * time.Millisecond,
		},
		Deep: ModeParams{
			SearchRounds:        3,
			SearchNavTimeout:    26 * time.Second,
			PostNavWait:         1800 * time.Millisecond,
			SignedSearchTimeout: 14 * time.Second,
			SearchPages:         2,
			ScrollRounds:        3,
			ScrollDelta:         1500,
			ScrollWait:          1050 * time.Millisecond,
			Sorts:               []string{"popularity_descending", "general", "time_descending"},
			AltQueryCap:         8,
			AltNavTimeout:       22 * time.Second,
			AltPostNavWait:      1400 * time.Millisecond,
			AltScrollDelta:      1300,
			NoteNavTimeout:      32 * time.Second,
			NavRetries:          2,
			NavRetryWait:        1200 * time.Millisecond,
			NoteReadyWait:       12 * time.Second,
			CommentStepTimeout:  8 * time.Second,
			DetailEvalTimeout:   6 * time.Second,
			CommentPanelWait:    760 * time.Millisecond,
			CommentScrollRounds: 7,
			CommentScrollStep:   960,
			CommentScrollPause:  1020 * time.Millisecond,
			CommentPagesInPage:  3,
			CommentPagesDirect:  4,
			PerNoteBudget:       24 * time.Second,
			CandidateFloor:      12,
			EmptyStreakCap:      20,
			MinNotesReturn:      3,
			MinCommentsReturn:   8,
			DelayMin:            600 * time.Millisecond,
			DelayMax:            1200 * time.Millisecond,
			RatePerSecond:       0.5,
			BurstCapacity:       2.0,
		},
	}
}

// DouyinProfile returns the Douyin crawl profile. Douyin is served via the
// token provider only, so most pacing fields stay at their zero values.
func DouyinProfile() *Profile {
	return &Profile{
		Platform:      "douyin",
		AnyOfCookies:  []string{"sessionid", "sessionid_ss", "sid_guard"},
		ProviderOnly:  true,
		RatePerSecond: 2.0,
		BurstCapacity: 4.0,
		Cooldown:      1500 * time.Millisecond,
	}
}

// Profiles returns the built-in platform profiles keyed by platform name,
// with any YAML override from path applied on top. An empty path returns
// the builtins unchanged.
func Profiles(path string) (map[string]*Profile, error) {
	out := map[string]*Profile{
		"xiaohongshu": XHSProfile(),
		"douyin":      DouyinProfile(),
	}
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("read profile override", err)
	}
	var overrides map[string]profileOverride
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, errors.NewConfiguration("parse profile override", err)
	}
	for platform, ov := range overrides {
		p, ok := out[platform]
		if !ok {
			continue
		}
		ov.apply(p)
	}
	return out, nil
}

// profileOverride is the YAML shape for per-platform tuning. Only the
// fields operators actually need to adjust in the field are exposed.
type profileOverride struct {
	HardFailCodes  *[]int   `yaml:"hard_fail_codes"`
	RatePerSecond  *float64 `yaml:"rate_per_second"`
	BurstCapacity  *float64 `yaml:"burst_capacity"`
	CooldownMs     *int     `yaml:"cooldown_ms"`
	QuickMinNotes  *int     `yaml:"quick_min_notes"`
	QuickMinComm   *int     `yaml:"quick_min_comments"`
	DeepMinNotes   *int     `yaml:"deep_min_notes"`
	DeepMinComm    *int     `yaml:"deep_min_comments"`
	QuickStreakCap *int     `yaml:"quick_empty_streak_cap"`
	DeepStreakCap  *int     `yaml:"deep_empty_streak_cap"`
}

func (o profileOverride) apply(p *Profile) {
	if o.HardFailCodes != nil {
		p.HardFailCodes = append([]int(nil), (*o.HardFailCodes)...)
	}
	if o.RatePerSecond != nil && *o.RatePerSecond > 0 {
		p.RatePerSecond = *o.RatePerSecond
	}
	if o.BurstCapacity != nil && *o.BurstCapacity > 0 {
		p.BurstCapacity = *o.BurstCapacity
	}
	if o.CooldownMs != nil && *o.CooldownMs >= 0 {
		p.Cooldown = time.Duration(*o.CooldownMs) * time.Millisecond
	}
	if o.QuickMinNotes != nil && *o.QuickMinNotes > 0 {
		p.Quick.MinNotesReturn = *o.QuickMinNotes
	}
	if o.QuickMinComm != nil && *o.QuickMinComm > 0 {
		p.Quick.MinCommentsReturn = *o.QuickMinComm
	}
	if o.DeepMinNotes != nil && *o.DeepMinNotes > 0 {
		p.Deep.MinNotesReturn = *o.DeepMinNotes
	}
	if o.DeepMinComm != nil && *o.DeepMinComm > 0 {
		p.Deep.MinCommentsReturn = *o.DeepMinComm
	}
	if o.QuickStreakCap != nil && *o.QuickStreakCap > 0 {
		p.Quick.EmptyStreakCap = *o.QuickStreakCap
	}
	if o.DeepStreakCap != nil && *o.DeepStreakCap > 0 {
		p.Deep.EmptyStreakCap = *o.DeepStreakCap
	}
}
