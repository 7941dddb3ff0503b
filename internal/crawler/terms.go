package crawler

import (
	"regexp"
	"strings"
)

var (
	queryCutRe  = regexp.MustCompile(`[：:，,。.!！？;；\n]`)
	termSplitRe = regexp.MustCompile("[\\s,，。.!！？:：;；/\\\\|()\\[\\]{}<>\"'`]+")
	cjkRe       = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
)

const (
	maxQueryRunes = 24
	maxTerms      = 24
	maxAltQueries = 8
)

// NormalizeQuery compacts a raw prompt into a short keyword phrase. Long
// natural-language queries hurt search stability, so only the text before
// the first punctuation break survives, capped at 24 chars.
func NormalizeQuery(raw string) string {
	query := strings.TrimSpace(raw)
	if query == "" {
		return ""
	}
	if loc := queryCutRe.FindStringIndex(query); loc != nil {
		query = strings.TrimSpace(query[:loc[0]])
	}
	return strings.TrimSpace(truncRunes(query, maxQueryRunes))
}

// QueryTerms splits a query into match terms. CJK runs are fragmented
// into short overlapping windows for recall; Latin tokens must be 3+
// chars except the literal "ai".
func QueryTerms(raw string) []string {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return nil
	}
	var terms []string
	for _, part := range termSplitRe.Split(text, -1) {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if cjkRe.MatchString(s) {
			runes := []rune(s)
			n := len(runes)
			if n < 2 {
				continue
			}
			if n <= 6 {
				terms = append(terms, s)
				continue
			}
			maxLen := 8
			if n < maxLen {
				maxLen = n
			}
			for _, win := range []int{maxLen, 6, 4, 3} {
				if win > n {
					continue
				}
				step := win / 2
				if step < 1 {
					step = 1
				}
				for i := 0; i+win <= n; i += step {
					frag := string(runes[i : i+win])
					if len([]rune(frag)) >= 2 {
						terms = append(terms, frag)
					}
				}
			}
			continue
		}
		if s == "ai" || len(s) >= 3 {
			terms = append(terms, s)
		}
	}
	return dedupStrings(terms, maxTerms)
}

// SearchQueries derives alternate shorter queries to retry with when the
// primary query finds nothing.
func SearchQueries(raw string) []string {
	base := NormalizeQuery(raw)
	terms := QueryTerms(raw)

	var queries []string
	if base != "" {
		queries = append(queries, base)
	}
	if len(terms) > 0 {
		var zh, en []string
		for _, t := range terms {
			if cjkRe.MatchString(t) {
				zh = append(zh, t)
			} else {
				en = append(en, t)
			}
		}
		if len(zh) >= 2 {
			queries = append(queries, zh[0]+zh[1])
		}
		if len(zh) >= 1 && len(en) >= 1 {
			queries = append(queries, zh[0]+" "+en[0])
		}
		for _, t := range headStrings(zh, 4) {
			queries = append(queries, t)
		}
		for _, t := range headStrings(en, 4) {
			queries = append(queries, t)
		}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, q := range queries {
		s := strings.TrimSpace(q)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, truncRunes(s, maxQueryRunes))
		if len(out) >= maxAltQueries {
			break
		}
	}
	return out
}

// MatchedTerms returns the terms found in text. CJK terms match as
// substrings; Latin terms must sit on word boundaries to avoid
// accidental substring hits.
func MatchedTerms(text string, terms []string) []string {
	hay := strings.ToLower(text)
	if hay == "" {
		return nil
	}
	var matched []string
	for _, t := range terms {
		term := strings.ToLower(strings.TrimSpace(t))
		if term == "" {
			continue
		}
		if cjkRe.MatchString(term) {
			if strings.Contains(hay, term) {
				matched = append(matched, term)
			}
			continue
		}
		if wordMatch(hay, term) {
			matched = append(matched, term)
		}
	}
	return matched
}

// RelevanceScore counts how many query terms hit the text.
func RelevanceScore(text string, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	return len(MatchedTerms(text, terms))
}

// RelevantText reports whether text matches the query strongly enough:
// either one substantial term hit, or two distinct weak hits.
func RelevantText(text string, terms []string) bool {
	matched := MatchedTerms(text, terms)
	if len(matched) == 0 {
		return false
	}
	for _, t := range matched {
		if cjkRe.MatchString(t) {
			if len([]rune(t)) >= 4 {
				return true
			}
		} else if len(t) >= 5 {
			return true
		}
	}
	distinct := make(map[string]struct{}, len(matched))
	for _, t := range matched {
		distinct[t] = struct{}{}
	}
	return len(distinct) >= 2
}

// RelevantRow gates a candidate row against the query terms. Rows from
// the signed search API are already scoped by the keyword on the server
// side, so they pass unconditionally; anything scraped off the DOM must
// match at least one term to stay in the pool. A query that yields no
// extractable terms cannot gate, so everything passes.
func RelevantRow(source, text string, terms []string) bool {
	if strings.HasPrefix(source, "api_signed:") {
		return true
	}
	if len(terms) == 0 {
		return true
	}
	return RelevanceScore(text, terms) > 0
}

func wordMatch(hay, term string) bool {
	if term == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(hay[start:], term)
		if idx < 0 {
			return false
		}
		idx += start
		before := byte(0)
		if idx > 0 {
			before = hay[idx-1]
		}
		after := byte(0)
		if end := idx + len(term); end < len(hay) {
			after = hay[end]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return true
		}
		start = idx + 1
		if start >= len(hay) {
			return false
		}
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func dedupStrings(items []string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func headStrings(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func truncRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
