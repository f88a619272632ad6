package aggregator

import (
	"strconv"
	"strings"
	"unicode"
)

// foldWidth maps a full-width ASCII variant (U+FF01-U+FF5E) or the full-width
// space (U+3000) to its half-width equivalent; other runes pass through.
func foldWidth(r rune) rune {
	switch {
	case r >= 0xFF01 && r <= 0xFF5E:
		return r - 0xFEE0
	case r == 0x3000:
		return ' '
	default:
		return r
	}
}

func foldNormalizeString(s string) string {
	runes := make([]rune, 0, len(s))
	for _, r := range s {
		runes = append(runes, unicode.ToLower(foldWidth(r)))
	}
	return string(runes)
}

func isASCIIAlnum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// TokenizeTitle lowercases and width-folds the input, extracts ASCII
// alphanumeric runs as word tokens, and emits adjacent-character bigrams
// (or the lone character, for single-character runs) for the non-ASCII
// residue. The returned set is the union of both.
func TokenizeTitle(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word []rune
	var residue []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens[string(word)] = struct{}{}
			word = word[:0]
		}
	}
	flushResidue := func() {
		switch len(residue) {
		case 0:
			return
		case 1:
			tokens[string(residue)] = struct{}{}
		default:
			for i := 0; i < len(residue)-1; i++ {
				tokens[string(residue[i:i+2])] = struct{}{}
			}
		}
		residue = residue[:0]
	}

	for _, r := range s {
		folded := unicode.ToLower(foldWidth(r))
		switch {
		case isASCIIAlnum(folded):
			flushResidue()
			word = append(word, folded)
		case folded < unicode.MaxASCII:
			flushWord()
			flushResidue()
		default:
			flushWord()
			residue = append(residue, folded)
		}
	}
	flushWord()
	flushResidue()
	return tokens
}

// Jaccard computes |A∩B| / |A∪B|. Two empty sets yield 1; exactly one empty yields 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

// levenshtein computes standard unit-cost edit distance in O(min(len(a),len(b))) memory.
func levenshtein(a, b []rune) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(b); j++ {
		curr[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[i] = minInt(prev[i]+1, minInt(curr[i-1]+1, prev[i-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(a)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// NormalizedEditDistance divides unit-cost edit distance by max(|a|,|b|) on
// the fold-normalised strings. Two empty strings yield 0; exactly one empty
// yields 1.
func NormalizedEditDistance(a, b string) float64 {
	fa := []rune(foldNormalizeString(a))
	fb := []rune(foldNormalizeString(b))
	if len(fa) == 0 && len(fb) == 0 {
		return 0
	}
	if len(fa) == 0 || len(fb) == 0 {
		return 1
	}
	dist := levenshtein(fa, fb)
	longest := len(fa)
	if len(fb) > longest {
		longest = len(fb)
	}
	return float64(dist) / float64(longest)
}

// DetectCategory classifies a source/URL pairing by source-id substring
// first, then hostname substring, falling back to "default".
func DetectCategory(sourceID, hostname string) string {
	if cat := categoryFromSubstring(strings.ToLower(sourceID)); cat != "" {
		return cat
	}
	if cat := categoryFromSubstring(strings.ToLower(hostname)); cat != "" {
		return cat
	}
	return "default"
}

func categoryFromSubstring(s string) string {
	switch {
	case strings.Contains(s, "arxiv"):
		return "arxiv"
	case strings.Contains(s, "news"), strings.Contains(s, "techcrunch"):
		return "news"
	case strings.Contains(s, "blog"), strings.Contains(s, "qiita"), strings.Contains(s, "zenn"):
		return "blog"
	default:
		return ""
	}
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// TitleHash computes djb2 (seed 5381) over the fold-normalised,
// whitespace-collapsed title, emitted in base-16 absolute value. It narrows
// Layer-3 candidate sets only — never a sole duplicate signal.
func TitleHash(title string) string {
	normalized := collapseWhitespace(foldNormalizeString(title))
	h := int32(5381)
	for _, c := range []byte(normalized) {
		h = ((h << 5) + h) + int32(c)
	}
	if h < 0 {
		h = -h
	}
	return strconv.FormatInt(int64(h), 16)
}

// IsLayer3Duplicate is the fuzzy duplicate rule: titles match iff Jaccard
// meets the category's jaccard_gte or the normalised edit distance is at
// or below levenshtein_lte.
func IsLayer3Duplicate(titleA, titleB string, thresholds CategoryThresholds) (duplicate bool, jaccard float64, editDistance float64) {
	jaccard = Jaccard(TokenizeTitle(titleA), TokenizeTitle(titleB))
	editDistance = NormalizedEditDistance(titleA, titleB)
	duplicate = jaccard >= thresholds.JaccardGTE || editDistance <= thresholds.LevenshteinLTE
	return duplicate, jaccard, editDistance
}

// IsLayer2Duplicate is the intra-batch near-duplicate rule: Jaccard-only,
// against a same-domain or cross-domain threshold.
func IsLayer2Duplicate(titleA, titleB string, sameDomain bool, fallback Layer2Fallback) (duplicate bool, jaccard float64) {
	jaccard = Jaccard(TokenizeTitle(titleA), TokenizeTitle(titleB))
	threshold := fallback.CrossDomain
	if sameDomain {
		threshold = fallback.SameDomain
	}
	return jaccard >= threshold, jaccard
}
