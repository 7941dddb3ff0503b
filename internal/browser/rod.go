package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	xproxy "golang.org/x/net/proxy"

	"liuweiq/snsworker/internal/proxybind"
	"liuweiq/snsworker/internal/session"
	apperr "liuweiq/snsworker/pkg/errors"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	maxCaptureBytes  = 2 << 20
	maxResponseBytes = 4 << 20
)

// RodDriver launches one Chromium process per session so proxy
// credentials and cookie jars never bleed between users.
type RodDriver struct {
	headless bool
}

var _ Driver = (*RodDriver)(nil)

// NewRodDriver creates a driver.
func NewRodDriver(headless bool) *RodDriver {
	return &RodDriver{headless: headless}
}

// NewSession launches a browser, applies stealth patches and seeds the
// session cookies before any navigation happens.
func (d *RodDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	l := launcher.New().
		Headless(d.headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage")
	if opts.Proxy != nil && opts.Proxy.Server != "" {
		l = l.Proxy(opts.Proxy.Server)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	_ = b.IgnoreCertErrors(true)

	if opts.Proxy != nil && opts.Proxy.Username != "" {
		go func() {
			_ = b.HandleAuth(opts.Proxy.Username, opts.Proxy.Password)()
		}()
	}

	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	if params := cookieParams(opts.Cookies, opts.CookieDomain); len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			_ = b.Close()
			l.Kill()
			return nil, fmt.Errorf("seed cookies: %w", err)
		}
	}

	transport, err := proxyTransport(opts.Proxy)
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, err
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	return &rodSession{
		platform: opts.Platform,
		launcher: l,
		browser:  b,
		page:     page,
		ua:       ua,
		client:   &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

type rodSession struct {
	platform string
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	ua       string
	client   *http.Client
	child    bool
}

var _ Session = (*rodSession)(nil)

// Navigate tries a full load first. Anti-bot pages often stall the load
// event forever, so a timeout retries with a bare navigation on a
// budget of at least 12s.
func (s *rodSession) Navigate(ctx context.Context, rawURL string) (string, error) {
	budget := 35 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain > 0 {
			budget = remain
		}
	}

	err := s.navigateAndWait(ctx, rawURL)
	if err == nil {
		return "", nil
	}

	fb := 12 * time.Second
	if scaled := time.Duration(float64(budget) * 0.6); scaled > fb {
		fb = scaled
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fb)
	defer cancel()
	if ferr := s.page.Context(fctx).Navigate(rawURL); ferr != nil {
		return "", apperr.NewNavigationFailed(s.platform, rawURL,
			fmt.Errorf("goto_failed:%s", trunc(ferr.Error(), 220)))
	}
	return "goto_fallback:" + trunc(err.Error(), 120), nil
}

func (s *rodSession) navigateAndWait(ctx context.Context, rawURL string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(rawURL); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) Eval(ctx context.Context, js string, args ...any) (any, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) Scroll(ctx context.Context, pixels int) error {
	if _, err := s.page.Context(ctx).Eval(`(px) => window.scrollBy(0, px)`, pixels); err == nil {
		return nil
	}
	return s.page.Mouse.Scroll(0, float64(pixels), 1)
}

// Capture subscribes to network responses on the page. The callback
// runs on the event loop goroutine, so Stop's channel receive is a real
// join: once it returns no more items can arrive.
func (s *rodSession) Capture(patterns ...string) (Capture, error) {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return nil, fmt.Errorf("enable network capture: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	capture := &rodCapture{cancel: cancel, done: make(chan struct{})}
	cpage := s.page.Context(cctx)

	wait := cpage.EachEvent(func(e *proto.NetworkResponseReceived) {
		u := e.Response.URL
		if !matchAny(u, patterns) || !jsonLike(e.Response.MIMEType, u) {
			return
		}
		res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(cpage)
		if err != nil {
			return
		}
		body := []byte(res.Body)
		if res.Base64Encoded {
			decoded, derr := base64.StdEncoding.DecodeString(res.Body)
			if derr != nil {
				return
			}
			body = decoded
		}
		if len(body) == 0 || len(body) > maxCaptureBytes {
			return
		}
		capture.add(CapturedResponse{URL: u, Body: body})
	})
	go func() {
		wait()
		close(capture.done)
	}()
	return capture, nil
}

func (s *rodSession) Request(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if ck := s.cookieHeader(rawURL); ck != "" {
		req.Header.Set("Cookie", ck)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (s *rodSession) Cookies() (map[string]string, error) {
	cookies, err := s.page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

func (s *rodSession) UserAgent() string {
	return s.ua
}

// NewPage opens a sibling page in the running browser. The child rides
// the same cookie jar and HTTP client; only its page is torn down on
// Close.
func (s *rodSession) NewPage(ctx context.Context) (Session, error) {
	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.ua}); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	return &rodSession{
		platform: s.platform,
		browser:  s.browser,
		page:     page,
		ua:       s.ua,
		client:   s.client,
		child:    true,
	}, nil
}

func (s *rodSession) Close() error {
	if s.child {
		return s.page.Close()
	}
	_ = s.page.Close()
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

// cookieHeader flattens the live jar into a Cookie header so raw HTTP
// calls present the same identity as the page.
func (s *rodSession) cookieHeader(rawURL string) string {
	cookies, err := s.page.Cookies([]string{rawURL})
	if err != nil || len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

type rodCapture struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	items []CapturedResponse
}

var _ Capture = (*rodCapture)(nil)

func (c *rodCapture) add(it CapturedResponse) {
	c.mu.Lock()
	c.items = append(c.items, it)
	c.mu.Unlock()
}

func (c *rodCapture) Stop() []CapturedResponse {
	c.cancel()
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedResponse(nil), c.items...)
}

func cookieParams(cookies []session.Cookie, defaultDomain string) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := c.Domain
		if domain == "" {
			domain = defaultDomain
		}
		if domain == "" {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch c.SameSite {
		case "Strict", "Lax", "None":
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}

// proxyTransport builds an HTTP transport that exits through the same
// proxy the browser uses. SOCKS endpoints need a dialer, HTTP ones the
// standard proxy hook.
func proxyTransport(ep *proxybind.Endpoint) (*http.Transport, error) {
	t := &http.Transport{}
	if ep == nil || ep.Server == "" {
		return t, nil
	}
	u, err := url.Parse(ep.Server)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + ep.Server)
		if err != nil {
			return nil, fmt.Errorf("parse proxy server %q: %w", ep.Server, err)
		}
	}
	switch u.Scheme {
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if ep.Username != "" {
			auth = &xproxy.Auth{User: ep.Username, Password: ep.Password}
		}
		d, err := xproxy.SOCKS5("tcp", u.Host, auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := d.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return d.Dial(network, addr)
		}
	default:
		if ep.Username != "" {
			u.User = url.UserPassword(ep.Username, ep.Password)
		}
		t.Proxy = http.ProxyURL(u)
	}
	return t, nil
}

func matchAny(u string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p != "" && strings.Contains(u, p) {
			return true
		}
	}
	return false
}

func jsonLike(mime, u string) bool {
	return strings.Contains(mime, "json") || strings.Contains(u, "/api/")
}
