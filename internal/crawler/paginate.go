package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"liuweiq/snsworker/internal/browser"
	"liuweiq/snsworker/internal/jsonwalk"
)

const (
	paginateSeedCap  = 16
	paginateGrowCap  = 24
	paginateFetchTTL = 15 * time.Second
)

// queuedPage is one pending pagination fetch: the URL the hint came
// from plus the cursor values to fold into its query string.
type queuedPage struct {
	url     string
	cursors map[string]string
}

// collectPaginatedComments chases pagination hints mined from captured
// responses, fetching further comment pages through the live session.
// seen is shared with the caller so rows dedup against every other
// collection path. Fetch failures skip the queue entry silently; only
// pages that parsed count against maxPages.
func collectPaginatedComments(ctx context.Context, sess browser.Session, hints []jsonwalk.PageHint, maxComments, maxPages int, seen map[string]bool) []commentRow {
	if maxComments <= 0 || maxPages <= 0 {
		return nil
	}
	var queue []queuedPage
	for _, hint := range hints {
		if hint.HasMore != nil && !*hint.HasMore {
			continue
		}
		if len(hint.CursorValues) == 0 || hint.URL == "" {
			continue
		}
		queue = append(queue, queuedPage{url: hint.URL, cursors: hint.CursorValues})
		if len(queue) >= paginateSeedCap {
			break
		}
	}

	var collected []commentRow
	visited := map[string]bool{}
	pages := 0

	for len(queue) > 0 && pages < maxPages && len(collected) < maxComments {
		current := queue[0]
		queue = queue[1:]
		nextURL := cursorURL(current.url, current.cursors)
		if nextURL == "" || visited[nextURL] {
			continue
		}
		visited[nextURL] = true

		rctx, cancel := context.WithTimeout(ctx, paginateFetchTTL)
		status, body, err := sess.Request(rctx, http.MethodGet, nextURL, nil, nil)
		cancel()
		if err != nil || status != http.StatusOK {
			continue
		}
		var raw any
		if err := json.Unmarshal(body, &raw); err != nil {
			continue
		}
		pages++

		for _, row := range extractCommentRows(raw) {
			key := truncRunes(row.Content, 180)
			if seen[key] {
				continue
			}
			seen[key] = true
			collected = append(collected, row)
			if len(collected) >= maxComments {
				break
			}
		}
		if len(collected) >= maxComments {
			break
		}

		for _, next := range jsonwalk.PaginationHints(raw) {
			if next.HasMore != nil && !*next.HasMore {
				continue
			}
			if len(next.CursorValues) == 0 {
				continue
			}
			queue = append(queue, queuedPage{url: nextURL, cursors: next.CursorValues})
			if len(queue) >= paginateGrowCap {
				break
			}
		}
	}
	return collected
}
