// Package pipeline adapts the Semantic Gray-Zone Enrichment hook: an
// optional, embedding-based escalation the Deduplicator's Stage 4 consults
// only when a Layer-3 fuzzy verdict is borderline. It is never the primary
// duplicate signal.
package pipeline

import (
	"crypto/sha256"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/bulletin/internal/aggregator"
)

// rawArrivalRow is the subset of news.raw_arrivals this package consumes,
// kept independent of internal/db to avoid a layer inversion.
type rawArrivalRow struct {
	RawArrivalID      int64
	Source            string
	SourceItemID      string
	Collection        string
	SourceItemURL     *string
	SourcePublishedAt *time.Time
	RawPayload        []byte
	FetchedAt         time.Time
}

// NormalizedArticle is the output of buildNormalizedArticle, carrying the
// fields a caller persists into news.articles.
type NormalizedArticle struct {
	Source          string
	SourceItemID    string
	Collection      string
	CanonicalURL    string
	SourceDomain    string
	NormalizedTitle string
	NormalizedText  string
	PublishedAt     *time.Time
	TitleHash       [32]byte
	ContentHash     [32]byte
	TitleSimhash    int64
}

type rawPayload struct {
	Title          string         `json:"title"`
	SourceMetadata map[string]any `json:"source_metadata"`
}

// buildNormalizedArticle decodes a raw arrival's JSON payload, preferring
// source_metadata.collection over the row's own collection column, and
// computes the canonical URL, title hash, and title simhash used by the
// Semantic Gray-Zone comparisons below.
func buildNormalizedArticle(row rawArrivalRow, logger zerolog.Logger) NormalizedArticle {
	collection := strings.ToLower(strings.TrimSpace(row.Collection))
	var title string

	var payload rawPayload
	if err := json.Unmarshal(row.RawPayload, &payload); err != nil {
		logger.Warn().Err(err).Int64("raw_arrival_id", row.RawArrivalID).Msg("buildNormalizedArticle: payload decode failed")
	} else {
		title = strings.TrimSpace(payload.Title)
		if metaCollection, ok := payload.SourceMetadata["collection"].(string); ok {
			if trimmed := strings.ToLower(strings.TrimSpace(metaCollection)); trimmed != "" {
				collection = trimmed
			}
		}
	}

	rawURL := ""
	if row.SourceItemURL != nil {
		rawURL = *row.SourceItemURL
	}
	canonicalURL, host := normalizeURL(rawURL)

	return NormalizedArticle{
		Source:          row.Source,
		SourceItemID:    row.SourceItemID,
		Collection:      collection,
		CanonicalURL:    canonicalURL,
		SourceDomain:    host,
		NormalizedTitle: title,
		PublishedAt:     row.SourcePublishedAt,
		TitleHash:       sha256.Sum256([]byte(title)),
		ContentHash:     sha256.Sum256(row.RawPayload),
		TitleSimhash:    titleSimhash64(title),
	}
}

// normalizeURL canonicalises raw via the core URL Normaliser, with trailing
// slashes stripped, returning ("", "") for unparseable input.
func normalizeURL(raw string) (canonical string, host string) {
	if strings.TrimSpace(raw) == "" {
		return "", ""
	}
	result, err := aggregator.Normalize(raw, aggregator.NormalizeOptions{StripTrailingSlash: true})
	if err != nil {
		return "", ""
	}
	return result, aggregator.ExtractDomain(result)
}

// titleTokenJaccard is the word-token Jaccard similarity of two titles.
func titleTokenJaccard(a, b string) float64 {
	return aggregator.Jaccard(aggregator.TokenizeTitle(a), aggregator.TokenizeTitle(b))
}

// titleTrigramJaccard is the character-trigram Jaccard similarity of two
// titles, a coarser-grained signal than titleTokenJaccard used to catch
// near-duplicate titles with reordered or substituted words.
func titleTrigramJaccard(a, b string) float64 {
	return aggregator.Jaccard(trigramSet(a), trigramSet(b))
}

func trigramSet(s string) map[string]struct{} {
	normalized := strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(normalized)
	grams := make(map[string]struct{})
	if len(runes) < 3 {
		if len(runes) > 0 {
			grams[string(runes)] = struct{}{}
		}
		return grams
	}
	for i := 0; i <= len(runes)-3; i++ {
		grams[string(runes[i:i+3])] = struct{}{}
	}
	return grams
}

// titleSimhash64 computes a 64-bit simhash over a title's word tokens.
func titleSimhash64(title string) int64 {
	tokens := aggregator.TokenizeTitle(title)
	var bitCounts [64]int
	for token := range tokens {
		h := fnvHash64(token)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				bitCounts[bit]++
			} else {
				bitCounts[bit]--
			}
		}
	}
	var result int64
	for bit := 0; bit < 64; bit++ {
		if bitCounts[bit] > 0 {
			result |= 1 << uint(bit)
		}
	}
	return result
}

func fnvHash64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// titleSimhashDistance returns the Hamming distance between two simhashes,
// or ok=false if either is absent.
func titleSimhashDistance(left, right *int64) (distance int, ok bool) {
	if left == nil || right == nil {
		return 0, false
	}
	xor := uint64(*left) ^ uint64(*right)
	for xor != 0 {
		distance++
		xor &= xor - 1
	}
	return distance, true
}

// isWithinDateWindow reports whether date falls within window of now. A nil
// date is never within any window.
func isWithinDateWindow(date *time.Time, now time.Time, window time.Duration) bool {
	if date == nil {
		return false
	}
	delta := now.Sub(*date)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

// computeDateConsistency scores how well two candidates' publish dates
// agree: 1.0 within 48h, 0.6 within 7 days, 0 beyond that, and 0.5 (neutral)
// when a publish date is missing entirely.
func computeDateConsistency(date *time.Time, now time.Time) float64 {
	if date == nil {
		return 0.5
	}
	delta := now.Sub(*date)
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= 48*time.Hour:
		return 1
	case delta <= 7*24*time.Hour:
		return 0.6
	default:
		return 0
	}
}
