// Package session stores per-user platform login sessions and judges
// whether they are still usable. Sessions are created by the login
// service; the crawl worker only reads them, reports outcomes and
// evicts the ones that have gone bad.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Session statuses. Degraded sessions are still tried; inactive ones
// are not.
const (
	StatusActive   = "active"
	StatusDegraded = "degraded"
	StatusInactive = "inactive"
)

// Validation failure reasons. Every reason produced here evicts the
// stored session, since none of them heal on their own.
const (
	ReasonNotFound       = "session_not_found"
	ReasonInactive       = "inactive_session"
	ReasonEmptyCookies   = "empty_cookies"
	ReasonMissingCookies = "missing_required_cookies"
	ReasonStale          = "session_stale"
	ReasonCookiesExpired = "cookies_expired"
	ReasonFailThreshold  = "session_fail_threshold_reached"
)

// Cookie mirrors a browser cookie as captured at login time. Expires
// is unix seconds; -1 (and the unset zero) mark session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Record is one user's authenticated session on one platform.
type Record struct {
	SessionID           string    `json:"session_id"`
	Platform            string    `json:"platform"`
	UserID              string    `json:"user_id"`
	Status              string    `json:"status"`
	Cookies             []Cookie  `json:"cookies"`
	UserAgent           string    `json:"user_agent"`
	Region              string    `json:"region"`
	Source              string    `json:"source"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastFailedAt        time.Time `json:"last_failed_at"`
}

// CookieMap flattens cookies into name → value, skipping nameless
// entries.
func (r *Record) CookieMap() map[string]string {
	out := make(map[string]string, len(r.Cookies))
	for _, c := range r.Cookies {
		if c.Name == "" {
			continue
		}
		out[c.Name] = c.Value
	}
	return out
}

// CookieValue returns the value of the named cookie, or "".
func (r *Record) CookieValue(name string) string {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Store keeps platform sessions keyed by (platform, user).
type Store interface {
	// Upsert stores a fresh session, deriving status from the cookie
	// bundle, and returns the new session id.
	Upsert(ctx context.Context, rec Record) (string, error)

	// Get returns the raw record without validation, or nil.
	Get(ctx context.Context, platform, userID string) (*Record, error)

	// GetValid returns a validated record. On validation failure the
	// stored session is evicted and the failure reason returned.
	GetValid(ctx context.Context, platform, userID string) (*Record, string, error)

	// Touch refreshes the idle clock of an existing session.
	Touch(ctx context.Context, platform, userID string) error

	// MarkResult records a crawl outcome. Success reactivates the
	// session; enough consecutive failures degrade it, and errors
	// naming an unusable credential deactivate it outright.
	MarkResult(ctx context.Context, platform, userID string, success bool, crawlErr string) error

	// Delete removes a session, reporting whether one existed.
	Delete(ctx context.Context, platform, userID string) (bool, error)
}

// Cookie requirements per platform. Requiring both web_session and a1
// for xiaohongshu filters out anonymous visitor bundles; douyin
// accepts any one strong login cookie.
var (
	requiredAllCookies = map[string][]string{
		"xiaohongshu": {"web_session", "a1"},
	}
	requiredAnyCookies = map[string][]string{
		"xiaohongshu": {"id_token", "gid", "webid", "webId"},
		"douyin":      {"sessionid", "sessionid_ss", "sid_guard"},
	}
)

// autoEvict reports whether a crawl error names a condition under which
// the stored credentials are unusable outright, not just transiently
// failing. Such sessions go inactive on the first occurrence.
func autoEvict(crawlErr string) bool {
	return strings.Contains(crawlErr, "account_abnormal") ||
		strings.Contains(crawlErr, "session_expired")
}

// ValidateCookies checks a cookie bundle against the platform's
// login-cookie requirements.
func ValidateCookies(platform string, cookies []Cookie) (bool, string) {
	if len(cookies) == 0 {
		return false, ReasonEmptyCookies
	}
	byName := map[string]string{}
	for _, c := range cookies {
		if c.Name != "" {
			byName[c.Name] = c.Value
		}
	}
	for _, name := range requiredAllCookies[platform] {
		if byName[name] == "" {
			return false, ReasonMissingCookies
		}
	}
	if names := requiredAnyCookies[platform]; len(names) > 0 {
		found := false
		for _, name := range names {
			if byName[name] != "" {
				found = true
				break
			}
		}
		if !found {
			return false, ReasonMissingCookies
		}
	}
	return true, ""
}

// validateRecord applies the full health check used by GetValid.
func validateRecord(rec *Record, maxIdle time.Duration, failThreshold int, now time.Time) (bool, string) {
	if rec.Status != StatusActive && rec.Status != StatusDegraded {
		return false, ReasonInactive
	}
	if ok, reason := ValidateCookies(rec.Platform, rec.Cookies); !ok {
		return false, reason
	}
	if !rec.UpdatedAt.IsZero() && now.Sub(rec.UpdatedAt) > maxIdle {
		return false, ReasonStale
	}

	// At least one cookie must outlive the next ~30 seconds. Session
	// cookies (expires unset or -1) always qualify.
	hasLiveCookie := false
	nowTS := float64(now.Unix())
	for _, c := range rec.Cookies {
		if c.Expires == 0 || c.Expires == -1 || c.Expires > nowTS+30 {
			hasLiveCookie = true
			break
		}
	}
	if !hasLiveCookie {
		return false, ReasonCookiesExpired
	}

	if failThreshold < 1 {
		failThreshold = 1
	}
	if rec.ConsecutiveFailures >= failThreshold {
		return false, ReasonFailThreshold
	}
	return true, ""
}

// newSessionID builds the id recorded at upsert time.
func newSessionID(platform, userID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", platform, userID, now.Unix())
}

// sessionKey is the storage key for a (platform, user) pair.
func sessionKey(platform, userID string) string {
	return "crawler:session:" + platform + ":" + userID
}

// clampError bounds stored error strings.
func clampError(msg string) string {
	if msg == "" {
		return "crawl_failed"
	}
	if len(msg) > 200 {
		return msg[:200]
	}
	return msg
}
