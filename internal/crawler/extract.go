package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"liuweiq/snsworker/internal/jsonwalk"
)

const (
	platformXHS    = "xiaohongshu"
	platformDouyin = "douyin"

	defaultXsecSource = "pc_search"

	maxNoteRows    = 80
	maxCommentRows = 400

	commentMinChars = 2
	commentMaxChars = 350
)

var (
	exploreIDRe      = regexp.MustCompile(`/explore/([^/?]+)`)
	discoveryIDRe    = regexp.MustCompile(`/discovery/item/([^/?]+)`)
	searchResultIDRe = regexp.MustCompile(`/search_result/([^/?]+)`)
	videoIDRe        = regexp.MustCompile(`/video/([^/?]+)`)

	// compactRe folds all whitespace including CJK full-width spaces;
	// noiseRe keeps only letters and digits in any script.
	compactRe = regexp.MustCompile(`[\s\p{Zs}]+`)
	noiseRe   = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// extractNoteRows mines note candidates out of an arbitrary captured
// payload. Payload shapes differ per endpoint and shift over time, so
// every field is resolved through a chain of known key spellings.
func extractNoteRows(payload any, platform, noteURLTemplate string) []noteRow {
	var rows []noteRow
	seen := make(map[string]struct{})
	for _, obj := range jsonwalk.Maps(payload, jsonwalk.DefaultMaxNodes) {
		noteCard := jsonwalk.AsMap(obj["note_card"])
		interact := jsonwalk.AsMap(noteCard["interact_info"])

		var id string
		if platform == platformXHS {
			id = jsonwalk.FirstString(obj, "note_id", "id")
			if id == "" {
				id = jsonwalk.FirstString(noteCard, "note_id", "id")
			}
		} else {
			id = jsonwalk.FirstString(obj, "aweme_id", "id")
		}

		title := jsonwalk.FirstString(obj, "title")
		if title == "" {
			title = jsonwalk.FirstString(noteCard, "display_title", "title")
		}
		if title == "" {
			title = jsonwalk.FirstString(obj, "name", "desc")
		}
		if title == "" {
			title = jsonwalk.FirstString(noteCard, "desc")
		}

		desc := jsonwalk.FirstString(obj, "desc")
		if desc == "" {
			desc = jsonwalk.FirstString(noteCard, "desc", "description")
		}
		if desc == "" {
			desc = jsonwalk.FirstString(obj, "content")
		}

		noteURL := jsonwalk.FirstString(obj, "url", "jump_url", "share_url")
		if noteURL == "" && id != "" {
			switch {
			case noteURLTemplate != "":
				noteURL = fmt.Sprintf(noteURLTemplate, id)
			case platform == platformXHS:
				noteURL = "https://www.xiaohongshu.com/explore/" + id
			default:
				noteURL = "https://www.douyin.com/video/" + id
			}
		}
		if noteURL == "" {
			continue
		}

		var xsecToken, xsecSource string
		if platform == platformXHS {
			xsecInfo := jsonwalk.AsMap(obj["xsec_info"])
			xsecToken = jsonwalk.FirstString(obj, "xsec_token", "xsecToken", "xsec_token_v2")
			if xsecToken == "" {
				xsecToken = jsonwalk.FirstString(xsecInfo, "xsec_token", "token")
			}
			if xsecToken == "" {
				xsecToken = jsonwalk.FirstString(noteCard, "xsec_token")
			}
			xsecSource = jsonwalk.FirstString(obj, "xsec_source", "xsecSource")
			if xsecSource == "" {
				xsecSource = jsonwalk.FirstString(xsecInfo, "xsec_source", "source")
			}
			if xsecSource == "" {
				xsecSource = defaultXsecSource
			}
			if xsecToken == "" {
				tok, src := tokensFromURL(noteURL)
				xsecToken = tok
				if src != "" {
					xsecSource = src
				}
			}
			if xsecToken != "" {
				noteURL = withTokens(noteURL, xsecToken, xsecSource)
			}
		}

		liked := jsonwalk.AsInt(jsonwalk.First(obj, "liked_count", "like_count", "digg_count", "likedCount"),
			jsonwalk.AsInt(interact["liked_count"], 0))
		commentsN := jsonwalk.AsInt(jsonwalk.First(obj, "comments_count", "comment_count", "commentCount"),
			jsonwalk.AsInt(interact["comment_count"], 0))
		collected := jsonwalk.AsInt(jsonwalk.First(obj, "collected_count", "collect_count", "favorite_count"),
			jsonwalk.AsInt(interact["collected_count"], 0))
		if platform == platformXHS {
			// search cards carry counts only in note_card.interact_info,
			// usually as strings
			liked = maxInt(liked, jsonwalk.AsInt(interact["liked_count"], 0))
			commentsN = maxInt(commentsN, jsonwalk.AsInt(interact["comment_count"], 0))
			collected = maxInt(collected, jsonwalk.AsInt(interact["collected_count"], 0))
		}

		uniq := id + "|" + noteURL
		if _, ok := seen[uniq]; ok {
			continue
		}
		seen[uniq] = struct{}{}

		rowID := id
		if rowID == "" {
			rowID = noteIDFromURL(noteURL)
		}
		rowTitle := truncRunes(title, 80)
		if title == "" {
			rowTitle = truncRunes(desc, 80)
		}
		rows = append(rows, noteRow{
			ID:             rowID,
			URL:            noteURL,
			Title:          rowTitle,
			Desc:           truncRunes(desc, 1000),
			LikedCount:     liked,
			CommentsCount:  commentsN,
			CollectedCount: collected,
			Source:         "api",
			XsecToken:      xsecToken,
			XsecSource:     xsecSource,
		})
		if len(rows) >= maxNoteRows {
			break
		}
	}
	return rows
}

// extractCommentRows mines comment candidates out of a captured payload.
func extractCommentRows(payload any) []commentRow {
	var rows []commentRow
	seen := make(map[string]struct{})
	for _, obj := range jsonwalk.Maps(payload, jsonwalk.DefaultMaxNodes) {
		content := strings.TrimSpace(commentContent(jsonwalk.First(obj, "content", "text", "comment_text", "desc", "body")))
		if !ValidComment(content) {
			continue
		}
		uniq := truncRunes(content, 180)
		if _, ok := seen[uniq]; ok {
			continue
		}
		seen[uniq] = struct{}{}

		user := jsonwalk.AsMap(obj["user"])
		nickname := jsonwalk.FirstString(obj, "user_nickname")
		if nickname == "" {
			nickname = jsonwalk.FirstString(user, "nickname", "nick_name")
		}
		rows = append(rows, commentRow{
			ID:           jsonwalk.FirstString(obj, "cid", "id", "comment_id", "commentId", "root_comment_id"),
			Content:      content,
			LikeCount:    jsonwalk.FirstInt(obj, 0, "like_count", "digg_count", "liked_count"),
			UserNickname: nickname,
			IPLocation:   jsonwalk.FirstString(obj, "ip_location", "ip_label"),
			PublishedAt:  jsonwalk.FirstString(obj, "create_time", "time", "publish_time"),
		})
		if len(rows) >= maxCommentRows {
			break
		}
	}
	return rows
}

// commentContent digs a comment's text out of whatever shape the field
// takes: a plain string, a wrapper object, or a list of fragments.
func commentContent(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"text", "content", "value", "desc", "comment_text"} {
			if s := commentContent(t[key]); s != "" {
				return s
			}
		}
		return ""
	case []any:
		var parts []string
		for _, item := range t {
			if s := strings.TrimSpace(commentContent(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return ""
}

// ValidComment rejects placeholder UI strings, punctuation-only noise
// and anything outside the 2..350 char window.
func ValidComment(text string) bool {
	n := len([]rune(text))
	if n < commentMinChars || n > commentMaxChars {
		return false
	}
	compact := strings.ToLower(compactRe.ReplaceAllString(text, ""))
	switch compact {
	case "点击评论", "登录后查看更多评论", "暂无评论":
		return false
	}
	if strings.Contains(compact, "这是一片荒地点击评论") {
		return false
	}
	return noiseRe.ReplaceAllString(text, "") != ""
}

// noteIDFromURL pulls the note id out of any of the known note URL
// shapes, falling back to the last path segment with the query cut off.
func noteIDFromURL(raw string) string {
	for _, re := range []*regexp.Regexp{exploreIDRe, discoveryIDRe, searchResultIDRe, videoIDRe} {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			return m[1]
		}
	}
	trimmed := raw
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func tokensFromURL(raw string) (token, source string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return strings.TrimSpace(q.Get("xsec_token")), strings.TrimSpace(q.Get("xsec_source"))
}

func withTokens(raw, token, source string) string {
	if raw == "" || token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if source == "" {
		source = defaultXsecSource
	}
	q := u.Query()
	q.Set("xsec_token", token)
	q.Set("xsec_source", source)
	u.RawQuery = q.Encode()
	return u.String()
}

// cursorURL merges pagination cursor values into a previously captured
// request URL.
func cursorURL(base string, cursorValues map[string]string) string {
	if base == "" || len(cursorValues) == 0 {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	for k, v := range cursorValues {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
