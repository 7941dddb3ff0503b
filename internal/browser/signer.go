package browser

import (
	"context"
	"strings"

	"liuweiq/snsworker/internal/sign"
	apperr "liuweiq/snsworker/pkg/errors"
)

// defaultSignExpr calls the signer function the platform's own frontend
// bundle installs on window. It only exists on a fully loaded page.
const defaultSignExpr = `(s, t) => window.mnsv2(s, t)`

// PageSigner produces signature tokens by asking the live page. The
// page must have completed at least one real navigation first.
type PageSigner struct {
	sess     Session
	platform string
	expr     string
}

var _ sign.Signer = (*PageSigner)(nil)

// NewPageSigner wraps a session. A custom expr overrides the default
// window.mnsv2 call for platforms that expose the signer elsewhere.
func NewPageSigner(sess Session, platform, expr string) *PageSigner {
	if expr == "" {
		expr = defaultSignExpr
	}
	return &PageSigner{sess: sess, platform: platform, expr: expr}
}

// Sign evaluates the page signer with the canonical sign string and the
// payload digest. Failures are hard signature errors: retrying without
// a fresh page will not help.
func (p *PageSigner) Sign(ctx context.Context, signStr, payloadMD5 string) (string, error) {
	res, err := p.sess.Eval(ctx, p.expr, signStr, payloadMD5)
	if err != nil {
		return "", apperr.NewSignatureUnavailable(p.platform, "mnsv2_eval_failed:"+trunc(err.Error(), 120))
	}
	token, _ := res.(string)
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.NewSignatureUnavailable(p.platform, "mnsv2_empty_signature")
	}
	return token, nil
}

// trunc bounds error strings folded into messages.
func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
