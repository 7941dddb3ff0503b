package crawler

import (
	"sort"
	"strings"
)

const maxCandidatePool = 48

// poolSize returns how many ranked candidates to keep for a crawl. The
// pool oversamples the requested note count so that blocked or
// irrelevant notes can be skipped without running dry. floor comes from
// the mode's CandidateFloor; zero falls back to the mode default.
func poolSize(maxNotes int, mode string, floor int) int {
	base := maxNotes
	if base < 1 {
		base = 1
	}
	mult := 2
	if mode == "deep" {
		mult = 3
	}
	if floor < 1 {
		floor = 8
		if mode == "deep" {
			floor = 12
		}
	}
	size := base
	if floor > size {
		size = floor
	}
	if base*mult > size {
		size = base * mult
	}
	if size > maxCandidatePool {
		size = maxCandidatePool
	}
	return size
}

// engagementScore ranks a candidate by engagement counts plus bonuses
// for trusted sources, the sort bucket it surfaced in, and query
// relevance.
func engagementScore(row noteRow, terms []string) float64 {
	var sourceBonus float64
	if strings.HasPrefix(row.Source, "api_signed:") {
		sourceBonus = 12
	} else if row.Source == "api" {
		sourceBonus = 6
	}
	var sortBonus float64
	switch row.SearchSort {
	case "popularity_descending":
		sortBonus = 20
	case "general":
		sortBonus = 8
	case "time_descending":
		sortBonus = 4
	}
	relevance := RelevanceScore(row.Title+" "+row.Desc, terms)
	return float64(row.LikedCount) +
		float64(row.CommentsCount)*2.2 +
		float64(row.CollectedCount)*1.3 +
		sourceBonus + sortBonus +
		float64(relevance)*40
}

// mergeNoteRows folds DOM and API candidates into one ranked pool keyed
// by URL. Counts merge upward; the richer duplicate wins the slot.
func mergeNoteRows(domRows, apiRows []noteRow, maxNotes int, mode string, floor int, terms []string) []noteRow {
	byURL := make(map[string]*noteRow)
	var order []string

	process := func(raw noteRow) {
		u := strings.TrimSpace(raw.URL)
		if u == "" {
			return
		}
		cand := noteRow{
			ID:             raw.ID,
			URL:            u,
			Title:          truncRunes(raw.Title, 80),
			Desc:           truncRunes(raw.Desc, 1000),
			LikedCount:     raw.LikedCount,
			CommentsCount:  raw.CommentsCount,
			CollectedCount: raw.CollectedCount,
			Source:         raw.Source,
			XsecToken:      strings.TrimSpace(raw.XsecToken),
			XsecSource:     strings.TrimSpace(raw.XsecSource),
			SearchSort:     strings.TrimSpace(raw.SearchSort),
		}
		if cand.Source == "" {
			cand.Source = "dom"
		}
		cand.Relevance = RelevanceScore(cand.Title+" "+cand.Desc, terms)
		cand.Score = engagementScore(cand, terms)

		existing, ok := byURL[u]
		if !ok {
			c := cand
			byURL[u] = &c
			order = append(order, u)
			return
		}
		// Duplicates enrich the stored row in place. Counts only move
		// upward and the richer text wins without resetting the rest.
		if existing.XsecToken == "" && cand.XsecToken != "" {
			existing.XsecToken = cand.XsecToken
			existing.XsecSource = cand.XsecSource
		}
		existing.LikedCount = maxInt(existing.LikedCount, cand.LikedCount)
		existing.CommentsCount = maxInt(existing.CommentsCount, cand.CommentsCount)
		existing.CollectedCount = maxInt(existing.CollectedCount, cand.CollectedCount)
		if runeLen(cand.Title) > runeLen(existing.Title) {
			existing.Title = cand.Title
		}
		if runeLen(cand.Desc) > runeLen(existing.Desc) {
			existing.Desc = cand.Desc
		}
		if sourceRank(cand.Source) > sourceRank(existing.Source) {
			existing.Source = cand.Source
			existing.SearchSort = cand.SearchSort
		}
		if existing.ID == "" {
			existing.ID = cand.ID
		}
		existing.Relevance = maxInt(existing.Relevance,
			RelevanceScore(existing.Title+" "+existing.Desc, terms))
		existing.Score = engagementScore(*existing, terms)
	}

	for _, r := range domRows {
		process(r)
	}
	for _, r := range apiRows {
		process(r)
	}

	ranked := make([]noteRow, 0, len(order))
	for _, u := range order {
		ranked = append(ranked, *byURL[u])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CommentsCount != b.CommentsCount {
			return a.CommentsCount > b.CommentsCount
		}
		if a.LikedCount != b.LikedCount {
			return a.LikedCount > b.LikedCount
		}
		return runeLen(a.Desc) > runeLen(b.Desc)
	})

	if size := poolSize(maxNotes, mode, floor); len(ranked) > size {
		ranked = ranked[:size]
	}
	return ranked
}

// sourceRank orders candidate provenance: signed API rows outrank
// captured API rows, which outrank DOM scans.
func sourceRank(source string) int {
	switch {
	case strings.HasPrefix(source, "api_signed:"):
		return 3
	case source == "api":
		return 2
	default:
		return 1
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}
