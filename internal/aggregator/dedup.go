package aggregator

import (
	"context"
	"time"

	"horse.fit/bulletin/internal/globaltime"
)

// HistoryBackend is the subset of the History Store the Deduplicator
// depends on. internal/history.Store satisfies this structurally.
type HistoryBackend interface {
	FindExistingURLs(ctx context.Context, normalizedURLs []string) (map[string]bool, error)
	BulkUpsert(ctx context.Context, entries []HistoryEntry) error
}

// GrayZoneResolver is the optional Semantic Gray-Zone Enrichment hook,
// consulted only when a Layer-3 verdict is borderline and an embedding
// endpoint is configured. Returning ok=false means "no verdict", leaving
// the Layer-3 decision unchanged.
type GrayZoneResolver interface {
	Resolve(ctx context.Context, titleA, titleB string) (isDuplicate bool, ok bool)
}

// borderline reports whether a Layer-3 score sits within 0.05 of either
// cutoff, per SPEC_FULL.md's Semantic Gray-Zone trigger condition.
func borderline(jaccard, editDistance float64, thresholds CategoryThresholds) bool {
	const margin = 0.05
	nearJaccard := jaccard < thresholds.JaccardGTE && thresholds.JaccardGTE-jaccard <= margin
	nearEdit := editDistance > thresholds.LevenshteinLTE && editDistance-thresholds.LevenshteinLTE <= margin
	return nearJaccard || nearEdit
}

// Deduplicator runs the sequential six-stage pipeline of spec §4.8.
type Deduplicator struct {
	History       HistoryBackend
	Thresholds    *DedupThresholds
	URLOptions    NormalizeOptions
	GrayZone      GrayZoneResolver
	ResolveDate   func(article RawArticle, source SourceConfig) ParseResult
	SourceLookup  map[string]SourceConfig
	Now           func() time.Time
}

// NewDeduplicator builds a Deduplicator with a default system-clock Now and
// the standard multi-layer date resolver.
func NewDeduplicator(history HistoryBackend, thresholds *DedupThresholds, sources []SourceConfig) *Deduplicator {
	lookup := make(map[string]SourceConfig, len(sources))
	for _, s := range sources {
		lookup[s.ID] = s
	}
	d := &Deduplicator{
		History:      history,
		Thresholds:   thresholds,
		URLOptions:   NormalizeOptions{StripTrailingSlash: true},
		SourceLookup: lookup,
		Now:          globaltime.UTC,
	}
	d.ResolveDate = d.defaultResolveDate
	return d
}

func (d *Deduplicator) defaultResolveDate(article RawArticle, source SourceConfig) ParseResult {
	if article.PublishedAt != "" {
		if result, ok := ParseExplicit(article.PublishedAt); ok {
			return result
		}
	}
	if source.DateMethod != "" {
		return ParseByMethod(source.DateMethod, article.PublishedAt, article.URL, article.DateMetaContent, nil, d.Now())
	}
	return ParseMultiLayer(article.PublishedAt, article.URL, article.DateMetaContent, d.Now())
}

type stage1Article struct {
	raw           RawArticle
	normalizedURL string
}

// Run executes all six stages over one batch and returns survivors plus
// stage-by-stage statistics.
func (d *Deduplicator) Run(ctx context.Context, articles []RawArticle, windowStart time.Time) ([]FilteredArticle, DedupStats, error) {
	stats := DedupStats{TotalInput: len(articles)}

	stage1 := d.dedupeURLs(articles)
	stats.AfterURLDedup = len(stage1)

	stage2, err := d.dedupeAgainstHistory(ctx, stage1)
	if err != nil {
		return nil, stats, err
	}
	stats.AfterHistoryDedup = len(stage2)

	stage3 := d.dedupeIntraBatchNearDuplicates(stage2)
	stage4 := d.dedupeFuzzy(ctx, stage3)
	stats.AfterSimilarityDedup = len(stage4)

	survivors := d.classifyFreshness(stage4, windowStart)
	for _, a := range survivors {
		if a.IsFresh || a.DateConfidence == ConfidenceUnknown {
			stats.FreshCount++
		}
	}

	kept := make([]FilteredArticle, 0, len(survivors))
	entries := make([]HistoryEntry, 0, len(stage1))
	now := d.Now()
	// URLs dropped at Stage 2 are re-sightings: upserting them advances their
	// last_seen_at; the store keeps first_seen_at as first recorded.
	newURLs := make(map[string]struct{}, len(stage2))
	for _, a := range stage2 {
		newURLs[a.normalizedURL] = struct{}{}
	}
	for _, a := range stage1 {
		if _, isNew := newURLs[a.normalizedURL]; !isNew {
			entries = append(entries, HistoryEntry{URL: a.raw.URL, NormalizedURL: a.normalizedURL, Title: a.raw.Title,
				Source: a.raw.Source, FirstSeenAt: now, LastSeenAt: now, TitleHash: TitleHash(a.raw.Title)})
		}
	}
	for _, a := range survivors {
		if !(a.IsFresh || a.DateConfidence == ConfidenceUnknown) {
			continue
		}
		kept = append(kept, a)
		entries = append(entries, HistoryEntry{
			URL:            a.URL,
			NormalizedURL:  a.NormalizedURL,
			Title:          a.Title,
			Source:         a.Source,
			FirstSeenAt:    now,
			LastSeenAt:     now,
			PublishedAt:    a.ResolvedDate,
			DateConfidence: a.DateConfidence,
			TitleHash:      TitleHash(a.Title),
		})
	}

	if len(entries) > 0 {
		if err := d.History.BulkUpsert(ctx, entries); err != nil {
			return nil, stats, err
		}
	}

	return kept, stats, nil
}

// dedupeURLs is Stage 1: attach normalizedUrl (fallback to raw URL on
// normalisation failure) and drop URLs already seen earlier in this batch.
func (d *Deduplicator) dedupeURLs(articles []RawArticle) []stage1Article {
	seen := make(map[string]struct{}, len(articles))
	survivors := make([]stage1Article, 0, len(articles))
	for _, article := range articles {
		normalized, err := Normalize(article.URL, d.URLOptions)
		if err != nil {
			normalized = article.URL
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		survivors = append(survivors, stage1Article{raw: article, normalizedURL: normalized})
	}
	return survivors
}

// dedupeAgainstHistory is Stage 2: bulk-lookup survivors' normalizedUrl and
// drop those already present in the History Store.
func (d *Deduplicator) dedupeAgainstHistory(ctx context.Context, articles []stage1Article) ([]stage1Article, error) {
	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.normalizedURL
	}
	existing, err := d.History.FindExistingURLs(ctx, urls)
	if err != nil {
		return nil, err
	}
	survivors := make([]stage1Article, 0, len(articles))
	for _, a := range articles {
		if existing[a.normalizedURL] {
			continue
		}
		survivors = append(survivors, a)
	}
	return survivors, nil
}

// dedupeIntraBatchNearDuplicates is Stage 3: walk in order, dropping any
// candidate whose title is a Layer-2 near-duplicate of an already-accepted title.
func (d *Deduplicator) dedupeIntraBatchNearDuplicates(articles []stage1Article) []stage1Article {
	accepted := make([]stage1Article, 0, len(articles))
	for _, candidate := range articles {
		duplicate := false
		for _, acceptedArticle := range accepted {
			sameDomain := IsSameDomain(candidate.raw.URL, acceptedArticle.raw.URL)
			fallback := d.Thresholds.layer2For(candidate.raw.Source)
			if isDup, _ := IsLayer2Duplicate(candidate.raw.Title, acceptedArticle.raw.Title, sameDomain, fallback); isDup {
				duplicate = true
				break
			}
		}
		if !duplicate {
			accepted = append(accepted, candidate)
		}
	}
	return accepted
}

// dedupeFuzzy is Stage 4: Layer-3 fuzzy check against accepted titles, with
// an optional Semantic Gray-Zone escalation for borderline scores.
func (d *Deduplicator) dedupeFuzzy(ctx context.Context, articles []stage1Article) []stage1Article {
	accepted := make([]stage1Article, 0, len(articles))
	for _, candidate := range articles {
		category := DetectCategory(candidate.raw.Source, ExtractDomain(candidate.raw.URL))
		thresholds := d.Thresholds.categoryFor(category)

		duplicate := false
		for _, acceptedArticle := range accepted {
			isDup, jaccard, editDistance := IsLayer3Duplicate(candidate.raw.Title, acceptedArticle.raw.Title, thresholds)
			if !isDup && d.GrayZone != nil && borderline(jaccard, editDistance, thresholds) {
				if verdict, ok := d.GrayZone.Resolve(ctx, candidate.raw.Title, acceptedArticle.raw.Title); ok {
					isDup = verdict
				}
			}
			if isDup {
				duplicate = true
				break
			}
		}
		if !duplicate {
			accepted = append(accepted, candidate)
		}
	}
	return accepted
}

// classifyFreshness is Stage 5: resolve each survivor's date and apply
// freshness classification against the window start.
func (d *Deduplicator) classifyFreshness(articles []stage1Article, windowStart time.Time) []FilteredArticle {
	out := make([]FilteredArticle, 0, len(articles))
	for _, a := range articles {
		source := d.SourceLookup[a.raw.Source]
		resolved := d.ResolveDate(a.raw, source)
		freshness := ClassifyFreshness(resolved, windowStart)
		out = append(out, FilteredArticle{
			RawArticle:        a.raw,
			NormalizedURL:     a.normalizedURL,
			IsFresh:           freshness.IsFresh,
			DateConfidence:    resolved.Confidence,
			DateSource:        freshness.Source,
			ResolvedDate:      freshness.ResolvedDate,
			FreshnessPriority: freshness.Priority,
		})
	}
	return out
}
