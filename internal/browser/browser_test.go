package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"liuweiq/snsworker/internal/proxybind"
	"liuweiq/snsworker/internal/session"
	apperr "liuweiq/snsworker/pkg/errors"
)

type fakeSession struct {
	evalResult any
	evalErr    error
	lastJS     string
	lastArgs   []any
}

var _ Session = (*fakeSession)(nil)

func (f *fakeSession) Navigate(ctx context.Context, url string) (string, error) { return "", nil }
func (f *fakeSession) Eval(ctx context.Context, js string, args ...any) (any, error) {
	f.lastJS = js
	f.lastArgs = args
	return f.evalResult, f.evalErr
}
func (f *fakeSession) HTML(ctx context.Context) (string, error)      { return "", nil }
func (f *fakeSession) CurrentURL() string                            { return "" }
func (f *fakeSession) Scroll(ctx context.Context, pixels int) error  { return nil }
func (f *fakeSession) Capture(patterns ...string) (Capture, error)   { return nil, nil }
func (f *fakeSession) Cookies() (map[string]string, error)           { return nil, nil }
func (f *fakeSession) UserAgent() string                             { return defaultUserAgent }
func (f *fakeSession) NewPage(ctx context.Context) (Session, error)  { return f, nil }
func (f *fakeSession) Close() error                                  { return nil }
func (f *fakeSession) Request(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	return 0, nil, nil
}

func TestPageSignerSign(t *testing.T) {
	sess := &fakeSession{evalResult: "XYS_token"}
	signer := NewPageSigner(sess, "xiaohongshu", "")

	token, err := signer.Sign(context.Background(), "url?a=b", "d41d8cd9")
	assert.NoError(t, err)
	assert.Equal(t, "XYS_token", token)
	assert.Equal(t, defaultSignExpr, sess.lastJS)
	assert.Equal(t, []any{"url?a=b", "d41d8cd9"}, sess.lastArgs)
}

func TestPageSignerEvalError(t *testing.T) {
	sess := &fakeSession{evalErr: errors.New("ReferenceError: mnsv2 is not defined")}
	signer := NewPageSigner(sess, "xiaohongshu", "")

	_, err := signer.Sign(context.Background(), "url", "md5")
	assert.Error(t, err)
	assert.Equal(t, apperr.KindSignatureUnavailable, apperr.KindOf(err))
	assert.True(t, apperr.IsHard(err))
	assert.Contains(t, err.Error(), "mnsv2_eval_failed:")
}

func TestPageSignerEmptyToken(t *testing.T) {
	sess := &fakeSession{evalResult: "  "}
	signer := NewPageSigner(sess, "xiaohongshu", "")

	_, err := signer.Sign(context.Background(), "url", "md5")
	assert.Error(t, err)
	assert.Equal(t, apperr.KindSignatureUnavailable, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "mnsv2_empty_signature")
}

func TestPageSignerCustomExpr(t *testing.T) {
	sess := &fakeSession{evalResult: "tok"}
	signer := NewPageSigner(sess, "xiaohongshu", `(s, t) => window._sign(s, t)`)

	_, err := signer.Sign(context.Background(), "url", "md5")
	assert.NoError(t, err)
	assert.Equal(t, `(s, t) => window._sign(s, t)`, sess.lastJS)
}

func TestCookieParams(t *testing.T) {
	params := cookieParams([]session.Cookie{
		{Name: "web_session", Value: "abc", Domain: ".xiaohongshu.com", Path: "/", Expires: 2000000000, Secure: true},
		{Name: "a1", Value: "dev", Expires: -1},
		{Name: "", Value: "dropped"},
		{Name: "lax", Value: "v", SameSite: "Lax"},
	}, ".xiaohongshu.com")

	assert.Len(t, params, 3)
	assert.Equal(t, "web_session", params[0].Name)
	assert.Equal(t, ".xiaohongshu.com", params[0].Domain)
	assert.NotZero(t, params[0].Expires)

	// session cookie: no expiry set, default domain and path applied
	assert.Equal(t, "a1", params[1].Name)
	assert.Equal(t, ".xiaohongshu.com", params[1].Domain)
	assert.Equal(t, "/", params[1].Path)
	assert.Zero(t, params[1].Expires)

	assert.NotEmpty(t, params[2].SameSite)
}

func TestCookieParamsNoDomain(t *testing.T) {
	params := cookieParams([]session.Cookie{{Name: "orphan", Value: "v"}}, "")
	assert.Empty(t, params)
}

func TestProxyTransport(t *testing.T) {
	tr, err := proxyTransport(nil)
	assert.NoError(t, err)
	assert.Nil(t, tr.Proxy)
	assert.Nil(t, tr.DialContext)

	tr, err = proxyTransport(&proxybind.Endpoint{Server: "http://10.0.0.1:8080", Username: "u", Password: "p"})
	assert.NoError(t, err)
	assert.NotNil(t, tr.Proxy)

	tr, err = proxyTransport(&proxybind.Endpoint{Server: "socks5://10.0.0.1:1080"})
	assert.NoError(t, err)
	assert.Nil(t, tr.Proxy)
	assert.NotNil(t, tr.DialContext)

	// bare host:port is treated as an HTTP proxy
	tr, err = proxyTransport(&proxybind.Endpoint{Server: "10.0.0.1:8080"})
	assert.NoError(t, err)
	assert.NotNil(t, tr.Proxy)
}

func TestCaptureStopReturnsSnapshot(t *testing.T) {
	done := make(chan struct{})
	close(done)
	c := &rodCapture{cancel: func() {}, done: done}
	c.add(CapturedResponse{URL: "https://x/api/one", Body: []byte("{}")})
	c.add(CapturedResponse{URL: "https://x/api/two", Body: []byte("{}")})

	items := c.Stop()
	assert.Len(t, items, 2)
	assert.Equal(t, "https://x/api/one", items[0].URL)
}

func TestMatchAny(t *testing.T) {
	assert.True(t, matchAny("https://x/api/sns/web/v1/search/notes", []string{"search/notes"}))
	assert.False(t, matchAny("https://x/static/app.js", []string{"search/notes", "comment/page"}))
	assert.True(t, matchAny("anything", nil))
}

func TestJSONLike(t *testing.T) {
	assert.True(t, jsonLike("application/json", "https://x/feed"))
	assert.True(t, jsonLike("text/plain", "https://x/api/sns/web/v1/feed"))
	assert.False(t, jsonLike("text/html", "https://x/explore"))
}

func TestTrunc(t *testing.T) {
	assert.Equal(t, "abc", trunc("abc", 5))
	assert.Equal(t, "ab", trunc("abcdef", 2))
}
