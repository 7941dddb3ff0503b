// Package browser drives a real headless Chromium for crawls that must
// look like a logged-in human: stealth pages, injected session cookies,
// in-page JS evaluation and opportunistic capture of the XHR traffic a
// page generates while rendering.
package browser

import (
	"context"
	"time"

	"liuweiq/snsworker/internal/proxybind"
	"liuweiq/snsworker/internal/session"
)

// SessionOptions configures one browser session. Each session owns its
// browser process so proxy and cookie state never leak across users.
type SessionOptions struct {
	Platform       string
	Cookies        []session.Cookie
	CookieDomain   string // default domain for cookies captured without one
	UserAgent      string
	Proxy          *proxybind.Endpoint
	RequestTimeout time.Duration // raw HTTP call timeout, default 25s
}

// CapturedResponse is one JSON body sniffed off the page's network
// traffic.
type CapturedResponse struct {
	URL  string
	Body []byte
}

// Capture is a running network-capture subscription. Stop cancels the
// subscription, waits for the event loop to drain and returns
// everything collected; it is safe to call once only.
type Capture interface {
	Stop() []CapturedResponse
}

// Session is one live page context bound to a user's cookies.
type Session interface {
	// Navigate loads url, falling back to a bare navigation without
	// the load-event wait when the full load times out. The returned
	// note is empty on a clean load and carries a fallback marker
	// otherwise.
	Navigate(ctx context.Context, url string) (string, error)

	// Eval runs a JS function in the page and returns its decoded
	// JSON result.
	Eval(ctx context.Context, js string, args ...any) (any, error)

	// HTML returns the current DOM serialized as HTML.
	HTML(ctx context.Context) (string, error)

	// CurrentURL returns the page's present location.
	CurrentURL() string

	// Scroll scrolls the page down by pixels.
	Scroll(ctx context.Context, pixels int) error

	// Capture starts collecting JSON responses whose URL contains any
	// of the given substrings.
	Capture(patterns ...string) (Capture, error)

	// Request issues a raw HTTP call that rides the session's cookie
	// jar, user agent and proxy.
	Request(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error)

	// NewPage opens an extra page in the same browser, sharing cookies
	// and proxy. Closing the child leaves the parent untouched.
	NewPage(ctx context.Context) (Session, error)

	// Cookies snapshots the current cookie jar as name → value.
	Cookies() (map[string]string, error)

	// UserAgent reports the user agent the session presents.
	UserAgent() string

	// Close tears down the page and its browser process.
	Close() error
}

// Driver creates sessions.
type Driver interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}
