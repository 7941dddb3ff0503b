package crawler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"liuweiq/snsworker/internal/browser"
)

// fakeCapture hands back preloaded payloads when joined.
type fakeCapture struct {
	items   []browser.CapturedResponse
	stopped bool
}

var _ browser.Capture = (*fakeCapture)(nil)

func (c *fakeCapture) Stop() []browser.CapturedResponse {
	c.stopped = true
	return c.items
}

// fakeSession scripts the whole browser surface: Request is routed
// through a handler, Navigate can be slowed down, captures are served
// from a queue in call order.
type fakeSession struct {
	mu sync.Mutex

	html     string
	cookies  map[string]string
	signerOK bool
	b1       string
	desc     string

	navDelay time.Duration
	navErr   error

	// notReadyPolls makes the first N readiness polls report an
	// unrendered page.
	notReadyPolls int
	readyPolls    int

	// requestDelay slows raw HTTP calls whose URL contains
	// requestDelayMatch (every call when the match is empty).
	requestDelay      time.Duration
	requestDelayMatch string

	// handler routes raw HTTP calls; nil returns 404.
	handler func(method, url string, body []byte) (int, []byte, error)

	captureQueue []*fakeCapture

	navigations  []string
	requests     []string
	captureCalls int
	evalCalls    []string
	closed       bool
}

var _ browser.Session = (*fakeSession)(nil)

func newFakeSession() *fakeSession {
	return &fakeSession{
		html:     "<html><body></body></html>",
		cookies:  map[string]string{"a1": "a1-device", "web_session": "ws"},
		signerOK: true,
		b1:       "b1-fingerprint",
	}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	delay, err := s.navDelay, s.navErr
	s.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return "", err
}

func (s *fakeSession) Eval(_ context.Context, js string, _ ...any) (any, error) {
	s.mu.Lock()
	s.evalCalls = append(s.evalCalls, js)
	s.mu.Unlock()
	switch {
	case strings.Contains(js, "mnsv2"):
		if s.signerOK {
			return "fake-signature-token", nil
		}
		return "", nil
	case strings.Contains(js, "localStorage"):
		return s.b1, nil
	case strings.Contains(js, "og:description"):
		return s.desc, nil
	case strings.Contains(js, "querySelector(sel)"):
		s.readyPolls++
		return s.readyPolls > s.notReadyPolls, nil
	}
	return nil, nil
}

func (s *fakeSession) HTML(context.Context) (string, error) { return s.html, nil }
func (s *fakeSession) CurrentURL() string                   { return "" }
func (s *fakeSession) Scroll(context.Context, int) error    { return nil }

func (s *fakeSession) Capture(...string) (browser.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureCalls++
	if len(s.captureQueue) > 0 {
		c := s.captureQueue[0]
		s.captureQueue = s.captureQueue[1:]
		return c, nil
	}
	return &fakeCapture{}, nil
}

func (s *fakeSession) Request(ctx context.Context, method, url string, _ map[string]string, body []byte) (int, []byte, error) {
	s.mu.Lock()
	s.requests = append(s.requests, method+" "+url)
	handler := s.handler
	delay, match := s.requestDelay, s.requestDelayMatch
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if delay > 0 && (match == "" || strings.Contains(url, match)) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-t.C:
		}
	}
	if handler == nil {
		return 404, []byte("{}"), nil
	}
	return handler(method, url, body)
}

func (s *fakeSession) NewPage(context.Context) (browser.Session, error) { return s, nil }

func (s *fakeSession) Cookies() (map[string]string, error) { return s.cookies, nil }
func (s *fakeSession) UserAgent() string                   { return "test-agent" }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) requestCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if strings.Contains(r, substr) {
			n++
		}
	}
	return n
}

// fakeDriver always hands out the same scripted session.
type fakeDriver struct {
	sess *fakeSession
	err  error
}

var _ browser.Driver = (*fakeDriver)(nil)

func (d *fakeDriver) NewSession(context.Context, browser.SessionOptions) (browser.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

// apiOK wraps a data envelope in a successful platform response body.
func apiOK(data map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{"success": true, "code": 0, "data": data})
	return body
}

// apiErr builds a structured platform rejection.
func apiErr(code int, msg string) []byte {
	body, _ := json.Marshal(map[string]any{"success": false, "code": code, "msg": msg})
	return body
}

// searchItem builds one search-result card the extractor understands.
func searchItem(id, title, desc, token string, liked, comments int) map[string]any {
	return map[string]any{
		"id": id,
		"note_card": map[string]any{
			"display_title": title,
			"desc":          desc,
			"interact_info": map[string]any{
				"liked_count":   liked,
				"comment_count": comments,
			},
		},
		"xsec_token": token,
	}
}

// commentItem builds one comment object.
func commentItem(id, content string, likes int) map[string]any {
	return map[string]any{
		"id":          id,
		"content":     content,
		"like_count":  likes,
		"user":        map[string]any{"nickname": "用户" + id},
		"ip_location": "上海",
		"create_time": 1757912345,
	}
}
