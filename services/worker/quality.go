package worker

import (
	"strconv"
	"strings"
	"time"

	"liuweiq/snsworker/internal/crawler"
)

// freshnessBand scores one note's age: newer samples are worth more,
// anything past two weeks barely counts.
func freshnessBand(age time.Duration) float64 {
	switch {
	case age <= 2*24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.75
	case age <= 14*24*time.Hour:
		return 0.45
	default:
		return 0.2
	}
}

// parsePublished turns the timestamp spellings seen in the wild into a
// time: unix seconds, unix milliseconds, or a date string.
func parsePublished(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// scoreQuality aggregates sample size, freshness and duplication across
// all platform results of one job.
func scoreQuality(platforms []crawler.PlatformResult, now time.Time) Quality {
	q := Quality{}
	var freshnessSum float64
	freshnessN := 0
	seen := map[string]int{}

	for _, pr := range platforms {
		q.SampleCount += len(pr.Notes)
		q.CommentCount += len(pr.Comments)
		for _, note := range pr.Notes {
			if note.PublishedAt == nil {
				continue
			}
			if t, ok := parsePublished(*note.PublishedAt); ok {
				freshnessSum += freshnessBand(now.Sub(t))
				freshnessN++
			}
		}
		for _, c := range pr.Comments {
			key := pr.Platform + "|" + c.ID
			if c.ID == "" {
				key = pr.Platform + "|" + normalizeText(c.Content)
			}
			seen[key]++
		}
	}

	if freshnessN > 0 {
		q.FreshnessScore = freshnessSum / float64(freshnessN) * 100
	}
	if q.CommentCount > 0 {
		dups := 0
		for _, n := range seen {
			if n > 1 {
				dups += n - 1
			}
		}
		q.DupRatio = float64(dups) / float64(q.CommentCount)
	}
	return q
}

// normalizeText is the dedup key for comments without a stable ID.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
