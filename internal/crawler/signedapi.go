package crawler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liuweiq/snsworker/config"
	"liuweiq/snsworker/internal/browser"
	"liuweiq/snsworker/internal/jsonwalk"
	"liuweiq/snsworker/internal/sign"
	apperr "liuweiq/snsworker/pkg/errors"
)

const (
	searchPageSize  = 20
	commentFetchTTL = 13 * time.Second
	commentPageWait = 260 * time.Millisecond
	quickSearchTTL  = 12 * time.Second
	deepSearchTTL   = 16 * time.Second
	quickSearchWait = 380 * time.Millisecond
	deepSearchWait  = 520 * time.Millisecond
	maxTextureChars = 120
)

// apiClient issues signed JSON calls against the platform API through a
// live browser session. Failures come back as texture strings rather
// than Go errors so the orchestrator can record them verbatim and
// pattern-match protocol rejections across steps.
type apiClient struct {
	sess     browser.Session
	signer   sign.Signer
	material sign.Material
	profile  *config.Profile
}

func newAPIClient(sess browser.Session, signer sign.Signer, material sign.Material, profile *config.Profile) *apiClient {
	return &apiClient{sess: sess, signer: signer, material: material, profile: profile}
}

// searchRequest is the signed search body. Field order matters: the
// canonical sign string serializes fields in declaration order and the
// platform recomputes the digest server-side.
type searchRequest struct {
	Keyword  string `json:"keyword"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	SearchID string `json:"search_id"`
	Sort     string `json:"sort"`
	NoteType int    `json:"note_type"`
}

// request signs and performs one API call. On protocol errors the
// decoded payload is returned alongside the texture; the platform
// reports structured failures inside HTTP 200 responses.
func (c *apiClient) request(ctx context.Context, method, uri string, params sign.Params, body any, timeout time.Duration) (map[string]any, string) {
	headers, err := sign.BuildHeaders(ctx, c.signer, c.material, uri, params, body)
	if err != nil {
		return nil, errorText(err)
	}

	fullURL := c.profile.APIHost + uri
	var reqBody []byte
	if method == http.MethodGet {
		if q := params.Encode(); q != "" {
			fullURL += "?" + q
		}
	} else {
		js, jerr := sign.CompactJSON(body)
		if jerr != nil {
			return nil, "request_failed:" + truncRunes(jerr.Error(), maxTextureChars)
		}
		reqBody = []byte(js)
		headers["Content-Type"] = "application/json;charset=UTF-8"
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	status, respBody, err := c.sess.Request(rctx, method, fullURL, headers, reqBody)
	if err != nil {
		return nil, "request_failed:" + truncRunes(err.Error(), maxTextureChars)
	}
	if status != http.StatusOK {
		return nil, fmt.Sprintf("http_%d:%s", status, truncRunes(string(respBody), maxTextureChars))
	}

	var raw any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, "invalid_json:" + truncRunes(err.Error(), maxTextureChars)
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, "invalid_json_payload"
	}

	success, hasSuccess := payload["success"].(bool)
	code, hasCode := payload["code"].(float64)
	if (hasSuccess && !success) || (hasCode && code != 0) {
		msg := jsonwalk.FirstString(payload, "msg", "message")
		return payload, fmt.Sprintf("api_error_%s:%s", jsonwalk.AsString(payload["code"]), truncRunes(msg, maxTextureChars))
	}
	return payload, ""
}

// searchNotes runs the signed search across the profile's sort buckets
// for the given mode, deduplicating rows until the candidate pool
// target fills. Soft failures record a texture and move to the next
// page; hard failures return immediately with whatever was collected.
func (c *apiClient) searchNotes(ctx context.Context, query, mode string, maxNotes int) ([]noteRow, []string) {
	var rows []noteRow
	var textures []string
	seen := map[string]bool{}
	mp := c.profile.Mode(mode)
	poolTarget := poolSize(maxNotes, mode, mp.CandidateFloor)
	maxPages := mp.SearchPages
	if maxPages < 1 {
		maxPages = 1
	}
	fetchTTL, wait := quickSearchTTL, quickSearchWait
	if mode == "deep" {
		fetchTTL, wait = deepSearchTTL, deepSearchWait
	}
	searchID := strconv.FormatInt(time.Now().UnixMilli(), 10)

	for _, sort := range mp.Sorts {
		for pageNo := 1; pageNo <= maxPages; pageNo++ {
			body := searchRequest{
				Keyword:  query,
				Page:     pageNo,
				PageSize: searchPageSize,
				SearchID: searchID,
				Sort:     sort,
				NoteType: 0,
			}
			payload, texture := c.request(ctx, http.MethodPost, c.profile.SearchPath, nil, body, fetchTTL)
			if texture != "" {
				textures = append(textures, "search:"+sort+":"+texture)
				if hardFail(c.profile, texture) {
					return rows, textures
				}
				continue
			}
			view := payloadView(payload)
			for _, row := range extractNoteRows(view, c.profile.Platform, c.profile.NoteURLTemplate) {
				uniq := row.URL
				if uniq == "" {
					uniq = row.ID
				}
				if uniq == "" || seen[uniq] {
					continue
				}
				seen[uniq] = true
				row.Source = "api_signed:" + sort
				row.SearchSort = sort
				rows = append(rows, row)
				if len(rows) >= poolTarget {
					return rows, textures
				}
			}
			if more, ok := view["has_more"].(bool); ok && !more {
				break
			}
			sleepCtx(ctx, wait)
		}
	}
	return rows, textures
}

// fetchCommentsDirect pages comments straight off the signed API,
// cycling through the profile's endpoint variants with the cursor reset
// per endpoint. seen is shared with the caller so direct rows dedup
// against everything already collected. Hard failures return with their
// texture; soft failures advance to the next endpoint and the last one
// is reported.
func (c *apiClient) fetchCommentsDirect(ctx context.Context, noteID, xsecToken, xsecSource string, maxComments, maxPages int, seen map[string]bool) ([]commentRow, string) {
	if noteID == "" || xsecToken == "" || maxComments <= 0 {
		return nil, ""
	}
	if maxPages < 1 {
		maxPages = 1
	}
	if xsecSource == "" {
		xsecSource = c.profile.DefaultXsec
	}

	var collected []commentRow
	lastTexture := ""
	for _, uri := range c.profile.CommentPaths {
		cursor := ""
		pageCount := 0
		for len(collected) < maxComments && pageCount < maxPages {
			params := sign.Params{
				{Key: "note_id", Value: noteID},
				{Key: "cursor", Value: cursor},
				{Key: "top_comment_id", Value: ""},
				{Key: "image_formats", Value: "jpg,webp,avif"},
				{Key: "xsec_token", Value: xsecToken},
				{Key: "xsec_source", Value: xsecSource},
			}
			payload, texture := c.request(ctx, http.MethodGet, uri, params, nil, commentFetchTTL)
			if texture != "" {
				lastTexture = texture
				if hardFail(c.profile, texture) {
					return collected, texture
				}
				break
			}
			view := payloadView(payload)
			for _, row := range extractCommentRows(view) {
				key := truncRunes(row.Content, 180)
				if seen[key] {
					continue
				}
				seen[key] = true
				collected = append(collected, row)
				if len(collected) >= maxComments {
					return collected, ""
				}
			}

			hasMore := jsonwalk.Truthy(view["has_more"]) || jsonwalk.Truthy(view["hasMore"])
			nextCursor := jsonwalk.FirstString(view, "cursor", "next_cursor", "max_cursor")
			if nextCursor == "" {
				for _, hint := range jsonwalk.PaginationHints(view) {
					if nextCursor = firstCursor(hint.CursorValues); nextCursor != "" {
						break
					}
				}
			}
			if nextCursor == "" {
				break
			}
			// The first page may omit has_more while still carrying a
			// cursor; only trust the flag once a page boundary passed.
			if !hasMore && pageCount > 0 {
				break
			}
			cursor = nextCursor
			pageCount++
			sleepCtx(ctx, commentPageWait)
		}
	}
	return collected, lastTexture
}

// payloadView returns the data envelope of an API payload, or the
// payload itself when the envelope is missing.
func payloadView(payload map[string]any) map[string]any {
	if data := jsonwalk.AsMap(payload["data"]); data != nil {
		return data
	}
	return payload
}

func firstCursor(values map[string]string) string {
	for _, key := range []string{"cursor", "next_cursor", "max_cursor", "offset"} {
		if v := strings.TrimSpace(values[key]); v != "" {
			return v
		}
	}
	return ""
}

// hardFail reports whether an error texture names a protocol rejection
// from the profile's hard-fail set or a signer failure. Either aborts
// the current strategy outright.
func hardFail(profile *config.Profile, texture string) bool {
	if strings.Contains(texture, "mnsv2_") {
		return true
	}
	for _, code := range profile.HardFailCodes {
		if strings.Contains(texture, "api_error_"+strconv.Itoa(code)+":") {
			return true
		}
	}
	return false
}

// protocolLabels maps hard rejection codes to the stable error labels
// surfaced in platform results, checked in order of severity.
var protocolLabels = []struct {
	needle string
	label  string
}{
	{"api_error_-104:", "xhs_search_forbidden_-104"},
	{"api_error_300011:", "xhs_account_abnormal_300011"},
	{"api_error_300012:", "xhs_network_risk_300012"},
	{"api_error_-510001:", "xhs_note_abnormal_-510001"},
}

// normalizeError reduces the crawl's raw texture list to the single
// stable label reported upstream. Signer failures outrank protocol
// rejections since they are the more actionable cause; an unrecognized
// list means the session simply came back empty.
func normalizeError(textures []string) string {
	for _, item := range textures {
		if strings.Contains(item, "mnsv2_") {
			return "xhs_sign_unavailable"
		}
	}
	for _, item := range textures {
		for _, pl := range protocolLabels {
			if strings.Contains(item, pl.needle) {
				return pl.label
			}
		}
	}
	return "session_crawl_empty"
}

// errorText flattens err to the texture recorded in the crawl error
// list. Crawl errors contribute their bare message so signer failures
// keep their mnsv2_ prefix for downstream pattern matching.
func errorText(err error) string {
	var ce *apperr.CrawlError
	if stderrors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return err.Error()
}
