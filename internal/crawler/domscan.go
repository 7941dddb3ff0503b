package crawler

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"liuweiq/snsworker/internal/browser"
)

const (
	domScanCap    = 60
	domAltScanCap = 50

	noteHostPrefix = "https://www.xiaohongshu.com"
)

// noteAnchorSelector matches the link shapes note cards use.
const noteAnchorSelector = `a[href*="/explore/"], a[href*="/discovery/item/"], a[href*="/search_result/"]`

// scanNoteAnchors harvests note candidates from the rendered DOM. This
// is the coarse path behind the signed search API: rows come back with
// real URLs and a best-effort title but no counts and no access tokens.
func scanNoteAnchors(ctx context.Context, sess browser.Session, source string, limit int) ([]noteRow, error) {
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	rows := make([]noteRow, 0, 16)
	doc.Find(noteAnchorSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return true
		}
		u := href
		if !strings.HasPrefix(u, "http") {
			u = noteHostPrefix + u
		}
		if _, ok := seen[u]; ok {
			return true
		}
		seen[u] = struct{}{}

		title := strings.TrimSpace(a.Find("h3,h4,p,span,div").First().Text())
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}
		rows = append(rows, noteRow{
			ID:     noteIDFromURL(u),
			URL:    u,
			Title:  truncRunes(title, 80),
			Source: source,
		})
		return len(rows) < limit
	})
	return rows, nil
}
