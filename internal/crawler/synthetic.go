package crawler

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

var sentenceSplitRe = regexp.MustCompile(`[。！？!?\n]+`)

// syntheticComment builds the off-by-default fallback comment from the
// note's own body text when every comment source came up empty. The
// author field is a fixed marker so downstream consumers can discount
// it. Returns false when no relevant sentence is available.
func (e *Engine) syntheticComment(ctx context.Context, run *crawlRun, cand *noteRow) (commentRow, bool) {
	body := cand.Desc
	if body == "" {
		body = e.readableBody(ctx, run, cand.URL)
	}
	sentence := relevantSentence(body, run.terms)
	if sentence == "" {
		return commentRow{}, false
	}
	run.errs = append(run.errs, "synthetic_comment:"+cand.ID)
	return commentRow{
		ID:           cand.ID + "_fallback",
		Content:      truncRunes(sentence, syntheticMaxChars),
		UserNickname: syntheticAuthor,
	}, true
}

// readableBody extracts the main text of the currently rendered page.
func (e *Engine) readableBody(ctx context.Context, run *crawlRun, pageURL string) string {
	sctx, cancel := context.WithTimeout(ctx, stepBudget(4*time.Second, run.deadline))
	defer cancel()
	html, err := run.sess.HTML(sctx)
	if err != nil {
		return ""
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

// relevantSentence returns the first sentence of body that matches the
// query terms, or the leading sentence when no terms are extractable.
func relevantSentence(body string, terms []string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	for _, part := range sentenceSplitRe.Split(body, -1) {
		s := strings.TrimSpace(part)
		if len([]rune(s)) < commentMinChars {
			continue
		}
		if len(terms) == 0 || RelevantText(s, terms) {
			return s
		}
	}
	return ""
}
