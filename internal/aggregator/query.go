package aggregator

import (
	"sort"
	"strings"
)

// WeightedQuery is one query emitted by the Query Generator, carrying the
// group it was derived from for the per-source diversity constraint.
type WeightedQuery struct {
	GroupID string
	Text    string
	Weight  float64
}

// scoreBand linearly maps a zero-safe ratio into [lo, hi].
func scoreBand(ratio float64, lo, hi float64) float64 {
	return lo + ratio*(hi-lo)
}

func safeRatio(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// countMatches counts titles in corpus containing any of the group's
// keywords, case-insensitively, after expanding each keyword to every
// tag-synonym sharing its canonical tag (per spec §4.5's tag-synonym map
// scoring input) so a title mentioning a synonym still counts toward the
// group's recency/frequency.
func countMatches(corpus []string, keywords []string, synonyms TagSynonymsFile, reverseIndex map[string]string) int {
	expanded := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		expanded = append(expanded, expandKeywordSynonyms(keyword, synonyms, reverseIndex)...)
	}

	count := 0
	for _, title := range corpus {
		lower := strings.ToLower(title)
		for _, keyword := range expanded {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				count++
				break
			}
		}
	}
	return count
}

// expandKeywordSynonyms returns keyword plus every other tag-synonym sharing
// its canonical tag, or just keyword if it resolves to no canonical tag.
func expandKeywordSynonyms(keyword string, synonyms TagSynonymsFile, reverseIndex map[string]string) []string {
	canonical, ok := ResolveTag(keyword, reverseIndex)
	if !ok {
		return []string{keyword}
	}
	expanded := append([]string{canonical}, synonyms[canonical]...)
	return expanded
}

// ScoredGroup is a QueryGroup after recency/frequency weighting.
type ScoredGroup struct {
	Group       QueryGroup
	FinalWeight float64
}

// ScoreGroups computes finalWeight = baseWeight × recencyFactor ×
// frequencyFactor for every group, per spec §4.5.
func ScoreGroups(groups []QueryGroup, recentTitles, allTimeTitles []string, synonyms TagSynonymsFile) []ScoredGroup {
	reverseIndex := synonyms.ReverseIndex()
	recentCounts := make([]int, len(groups))
	allCounts := make([]int, len(groups))
	maxRecent, maxAll := 0, 0
	for i, group := range groups {
		recentCounts[i] = countMatches(recentTitles, group.Keywords, synonyms, reverseIndex)
		allCounts[i] = countMatches(allTimeTitles, group.Keywords, synonyms, reverseIndex)
		if recentCounts[i] > maxRecent {
			maxRecent = recentCounts[i]
		}
		if allCounts[i] > maxAll {
			maxAll = allCounts[i]
		}
	}

	scored := make([]ScoredGroup, len(groups))
	for i, group := range groups {
		recencyRatio := safeRatio(recentCounts[i], maxRecent)
		frequencyRatio := safeRatio(allCounts[i], maxAll)
		recencyFactor := scoreBand(recencyRatio, 0.5, 1.5)
		frequencyFactor := scoreBand(frequencyRatio, 0.8, 1.2)
		scored[i] = ScoredGroup{
			Group:       group,
			FinalWeight: group.Weight * recencyFactor * frequencyFactor,
		}
	}
	return scored
}

// EmitQueries produces one query per keyword plus, if enabled, pairwise
// combinations within each group capped at maxCombinations, per spec §4.5.
func EmitQueries(scored []ScoredGroup, combined CombinedQueriesConfig) []WeightedQuery {
	var queries []WeightedQuery
	for _, sg := range scored {
		for _, keyword := range sg.Group.Keywords {
			queries = append(queries, WeightedQuery{
				GroupID: sg.Group.ID,
				Text:    keyword,
				Weight:  sg.FinalWeight,
			})
		}
		if !combined.Enabled {
			continue
		}
		emitted := 0
		for i := 0; i < len(sg.Group.Keywords) && emitted < combined.MaxCombinations; i++ {
			for j := i + 1; j < len(sg.Group.Keywords) && emitted < combined.MaxCombinations; j++ {
				queries = append(queries, WeightedQuery{
					GroupID: sg.Group.ID,
					Text:    sg.Group.Keywords[i] + " " + sg.Group.Keywords[j],
					Weight:  sg.FinalWeight * 0.9,
				})
				emitted++
			}
		}
	}
	return queries
}

// SelectQueries sorts by weight descending, takes the top N, then walks the
// sorted list allocating at most maxPerSource queries with at most one query
// per group (diversity constraint), per spec §4.5.
func SelectQueries(queries []WeightedQuery, topN, maxPerSource int) []WeightedQuery {
	sorted := make([]WeightedQuery, len(queries))
	copy(sorted, queries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Weight > sorted[j].Weight
	})
	if topN > 0 && topN < len(sorted) {
		sorted = sorted[:topN]
	}

	var allocated []WeightedQuery
	seenGroups := make(map[string]struct{})
	for _, query := range sorted {
		if maxPerSource > 0 && len(allocated) >= maxPerSource {
			break
		}
		if _, seen := seenGroups[query.GroupID]; seen {
			continue
		}
		seenGroups[query.GroupID] = struct{}{}
		allocated = append(allocated, query)
	}
	return allocated
}

// GenerateQueries runs the full Query Generator pipeline: score, emit,
// select. The date restriction is neither mixed into the query strings nor
// attached to the returned queries.
func GenerateQueries(queryFile *QueriesFile, recentTitles, allTimeTitles []string, synonyms TagSynonymsFile) []WeightedQuery {
	scored := ScoreGroups(queryFile.QueryGroups, recentTitles, allTimeTitles, synonyms)
	emitted := EmitQueries(scored, queryFile.CombinedQueries)
	return SelectQueries(emitted, queryFile.Selection.TopN, queryFile.Selection.MaxPerSource)
}

// ResolveTag looks up a free-form keyword against a synonym reverse-index,
// returning the canonical tag and whether a match was found.
func ResolveTag(keyword string, reverseIndex map[string]string) (string, bool) {
	canonical, ok := reverseIndex[strings.ToLower(strings.TrimSpace(keyword))]
	return canonical, ok
}
