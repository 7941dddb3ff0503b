package crawler

import (
	"context"
	"fmt"
	neturl "net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liuweiq/snsworker/config"
	"liuweiq/snsworker/internal/browser"
	"liuweiq/snsworker/internal/sign"
)

func newTestAPIClient(sess *fakeSession) *apiClient {
	profile := config.XHSProfile()
	signer := browser.NewPageSigner(sess, profile.Platform, profile.SignerExpr)
	return newAPIClient(sess, signer, sign.Material{A1: "a1-device", B1: "b1"}, profile)
}

func TestSearchNotesCollectsAcrossSorts(t *testing.T) {
	sess := newFakeSession()
	sorts := map[string]bool{}
	sess.handler = func(_, u string, body []byte) (int, []byte, error) {
		if !strings.Contains(u, "/search/notes") {
			return 404, []byte("{}"), nil
		}
		payload := string(body)
		switch {
		case strings.Contains(payload, "popularity_descending"):
			sorts["popularity_descending"] = true
			return 200, apiOK(map[string]any{
				"items":    []any{searchItem("n1", "健身计划", "", "t1", 10, 1)},
				"has_more": false,
			}), nil
		case strings.Contains(payload, "time_descending"):
			sorts["time_descending"] = true
			return 200, apiOK(map[string]any{
				"items":    []any{searchItem("n2", "健身食谱", "", "t2", 5, 1)},
				"has_more": false,
			}), nil
		}
		return 200, apiOK(map[string]any{"items": []any{}}), nil
	}

	api := newTestAPIClient(sess)
	rows, textures := api.searchNotes(context.Background(), "健身", "quick", 3)
	assert.Empty(t, textures)
	require.Len(t, rows, 2)
	assert.True(t, sorts["popularity_descending"])
	assert.True(t, sorts["time_descending"])
	for _, r := range rows {
		assert.True(t, strings.HasPrefix(r.Source, "api_signed:"))
		assert.NotEmpty(t, r.SearchSort)
	}
}

func TestSearchNotesHonorsSearchPages(t *testing.T) {
	sess := newFakeSession()
	page := 0
	sess.handler = func(_, u string, _ []byte) (int, []byte, error) {
		if !strings.Contains(u, "/search/notes") {
			return 404, []byte("{}"), nil
		}
		page++
		id := fmt.Sprintf("n%d", page)
		return 200, apiOK(map[string]any{
			"items":    []any{searchItem(id, "健身日常"+id, "", "", 3, 1)},
			"has_more": true,
		}), nil
	}

	profile := config.XHSProfile()
	profile.Quick.SearchPages = 2
	api := newAPIClient(sess, browser.NewPageSigner(sess, profile.Platform, profile.SignerExpr),
		sign.Material{A1: "a1-device", B1: "b1"}, profile)

	rows, textures := api.searchNotes(context.Background(), "健身", "quick", 3)
	assert.Empty(t, textures)
	assert.Len(t, rows, 4)
	// Two sorts, two pages each.
	assert.Equal(t, 4, sess.requestCount("/search/notes"))
}

func TestSearchNotesHardFailStopsImmediately(t *testing.T) {
	sess := newFakeSession()
	sess.handler = func(_, u string, _ []byte) (int, []byte, error) {
		if strings.Contains(u, "/search/notes") {
			return 200, apiErr(-104, "无权限"), nil
		}
		return 404, []byte("{}"), nil
	}
	api := newTestAPIClient(sess)
	rows, textures := api.searchNotes(context.Background(), "健身", "quick", 3)
	assert.Empty(t, rows)
	require.Len(t, textures, 1)
	assert.Contains(t, textures[0], "api_error_-104:")
	assert.Equal(t, 1, sess.requestCount("/search/notes"))
}

func TestSearchNotesSoftFailContinues(t *testing.T) {
	sess := newFakeSession()
	calls := 0
	sess.handler = func(_, u string, _ []byte) (int, []byte, error) {
		if !strings.Contains(u, "/search/notes") {
			return 404, []byte("{}"), nil
		}
		calls++
		if calls == 1 {
			return 200, apiErr(471, "verification required"), nil
		}
		return 200, apiOK(map[string]any{
			"items":    []any{searchItem("n1", "健身", "", "t1", 1, 1)},
			"has_more": false,
		}), nil
	}
	api := newTestAPIClient(sess)
	rows, textures := api.searchNotes(context.Background(), "健身", "quick", 3)
	assert.Len(t, rows, 1)
	require.NotEmpty(t, textures)
	assert.Contains(t, textures[0], "api_error_471:")
}

func TestSearchNotesSignerFailure(t *testing.T) {
	sess := newFakeSession()
	sess.signerOK = false
	api := newTestAPIClient(sess)
	rows, textures := api.searchNotes(context.Background(), "健身", "quick", 3)
	assert.Empty(t, rows)
	require.NotEmpty(t, textures)
	assert.Contains(t, textures[0], "mnsv2_empty_signature")
	// A signer failure is a hard failure for the whole tier.
	assert.True(t, hardFail(config.XHSProfile(), textures[0]))
	assert.Empty(t, sess.requests)
}

func TestFetchCommentsDirectPages(t *testing.T) {
	sess := newFakeSession()
	sess.handler = func(_, u string, _ []byte) (int, []byte, error) {
		parsed, err := neturl.Parse(u)
		if err != nil {
			return 500, nil, err
		}
		q := parsed.Query()
		if q.Get("note_id") != "n1" {
			return 404, []byte("{}"), nil
		}
		if q.Get("cursor") == "" {
			return 200, apiOK(map[string]any{
				"comments": []any{
					commentItem("c1", "第一页的评论甲", 1),
					commentItem("c2", "第一页的评论乙", 2),
				},
				"cursor":   "next1",
				"has_more": true,
			}), nil
		}
		return 200, apiOK(map[string]any{
			"comments": []any{commentItem("c3", "第二页的评论丙", 3)},
			"has_more": false,
		}), nil
	}

	api := newTestAPIClient(sess)
	rows, texture := api.fetchCommentsDirect(context.Background(), "n1", "tok", "", 3, 3, map[string]bool{})
	assert.Empty(t, texture)
	assert.Len(t, rows, 3)
}

func TestFetchCommentsDirectStopsAtTarget(t *testing.T) {
	sess := newFakeSession()
	sess.handler = func(_, _ string, _ []byte) (int, []byte, error) {
		return 200, apiOK(map[string]any{
			"comments": []any{
				commentItem("c1", "目标前的评论一", 1),
				commentItem("c2", "目标前的评论二", 2),
				commentItem("c3", "目标后的评论三", 3),
			},
			"has_more": true,
			"cursor":   "more",
		}), nil
	}
	api := newTestAPIClient(sess)
	rows, _ := api.fetchCommentsDirect(context.Background(), "n1", "tok", "", 2, 5, map[string]bool{})
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, sess.requestCount("comment/page"))
}

func TestFetchCommentsDirectRequiresToken(t *testing.T) {
	sess := newFakeSession()
	api := newTestAPIClient(sess)
	rows, texture := api.fetchCommentsDirect(context.Background(), "n1", "", "", 5, 2, map[string]bool{})
	assert.Empty(t, rows)
	assert.Empty(t, texture)
	assert.Empty(t, sess.requests)
}

func TestHardFail(t *testing.T) {
	p := config.XHSProfile()
	assert.True(t, hardFail(p, "search:popularity_descending:api_error_300011:账号异常"))
	assert.True(t, hardFail(p, "api_error_-104:forbidden"))
	assert.True(t, hardFail(p, "mnsv2_eval_failed:boom"))
	assert.False(t, hardFail(p, "api_error_471:verification"))
	assert.False(t, hardFail(p, "request_failed:timeout"))
}

func TestNormalizeError(t *testing.T) {
	assert.Equal(t, "session_crawl_empty", normalizeError(nil))
	assert.Equal(t, "session_crawl_empty", normalizeError([]string{"step_timeout:search_nav:1200ms"}))
	assert.Equal(t, "xhs_account_abnormal_300011",
		normalizeError([]string{"search:general:api_error_300011:abnormal"}))
	// Signer failures outrank protocol rejections.
	assert.Equal(t, "xhs_sign_unavailable",
		normalizeError([]string{"api_error_300011:abnormal", "mnsv2_empty_signature"}))
	assert.Equal(t, "xhs_search_forbidden_-104",
		normalizeError([]string{"search:general:api_error_-104:forbidden"}))
}

func TestPayloadView(t *testing.T) {
	withData := map[string]any{"data": map[string]any{"items": []any{}}}
	assert.Equal(t, withData["data"], payloadView(withData))
	flat := map[string]any{"items": []any{}}
	assert.Equal(t, flat, payloadView(flat))
}

func TestFirstCursor(t *testing.T) {
	assert.Equal(t, "c", firstCursor(map[string]string{"cursor": "c", "offset": "o"}))
	assert.Equal(t, "o", firstCursor(map[string]string{"offset": "o"}))
	assert.Equal(t, "", firstCursor(map[string]string{"other": "x"}))
}
