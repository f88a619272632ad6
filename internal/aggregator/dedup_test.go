package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubHistory struct {
	mu       sync.Mutex
	existing map[string]bool
	upserted []HistoryEntry
}

func newStubHistory(existing ...string) *stubHistory {
	set := make(map[string]bool, len(existing))
	for _, u := range existing {
		set[u] = true
	}
	return &stubHistory{existing: set}
}

func (s *stubHistory) FindExistingURLs(ctx context.Context, normalizedURLs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]bool)
	for _, u := range normalizedURLs {
		if s.existing[u] {
			found[u] = true
		}
	}
	return found, nil
}

func (s *stubHistory) BulkUpsert(ctx context.Context, entries []HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, entries...)
	for _, e := range entries {
		if s.existing == nil {
			s.existing = map[string]bool{}
		}
		s.existing[e.NormalizedURL] = true
	}
	return nil
}

func defaultTestThresholds() *DedupThresholds {
	return &DedupThresholds{
		Thresholds: map[string]CategoryThresholds{
			"default": {JaccardGTE: 0.7, LevenshteinLTE: 0.3},
		},
		Layer2Fallback: map[string]Layer2Fallback{
			"default": {SameDomain: 0.5, CrossDomain: 0.8},
		},
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// Scenario 1 from spec §8.
func TestDeduplicator_Scenario1_URLDedupAndFreshness(t *testing.T) {
	t.Parallel()

	history := newStubHistory()
	sources := []SourceConfig{{ID: "techcrunch", Tier: 1, DateMethod: DateMethodURLParse}}
	dedup := NewDeduplicator(history, defaultTestThresholds(), sources)
	ref := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	dedup.Now = fixedClock(ref)

	articles := []RawArticle{
		{URL: "https://TechCrunch.com/2024/01/15/ai", Title: "AI X", Source: "techcrunch"},
		{URL: "https://techcrunch.com/2024/01/15/ai/?utm_source=t", Title: "AI X", Source: "techcrunch"},
	}
	windowStart := WindowStart(nil, ref)
	filtered, stats, err := dedup.Run(context.Background(), articles, windowStart)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.TotalInput != 2 || stats.AfterURLDedup != 1 || stats.AfterHistoryDedup != 1 ||
		stats.AfterSimilarityDedup != 1 || stats.FreshCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(filtered))
	}
	if filtered[0].NormalizedURL != "https://techcrunch.com/2024/01/15/ai" {
		t.Fatalf("unexpected normalized url: %q", filtered[0].NormalizedURL)
	}
	if filtered[0].DateSource != SourceURLDate || filtered[0].DateConfidence != ConfidenceMedium {
		t.Fatalf("unexpected date resolution: source=%v confidence=%v", filtered[0].DateSource, filtered[0].DateConfidence)
	}
}

// Scenario 2 from spec §8.
func TestDeduplicator_Scenario2_FuzzyDuplicateAcrossHosts(t *testing.T) {
	t.Parallel()

	history := newStubHistory()
	sources := []SourceConfig{{ID: "site-a", Tier: 2}, {ID: "site-b", Tier: 2}}
	dedup := NewDeduplicator(history, defaultTestThresholds(), sources)
	dedup.Now = fixedClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	articles := []RawArticle{
		{URL: "https://a.example.com/1", Title: "Claude 4 is incredible! The new reasoning capabilities are amazing.", Source: "site-a"},
		{URL: "https://b.example.com/2", Title: "Claude 4 is amazing! The reasoning capabilities are incredible.", Source: "site-b"},
	}
	filtered, stats, err := dedup.Run(context.Background(), articles, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.AfterSimilarityDedup != 1 {
		t.Fatalf("expected exactly one survivor after similarity dedup, got %d", stats.AfterSimilarityDedup)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 final article, got %d", len(filtered))
	}
}

// Scenario 6 from spec §8: history re-sighting updates lastSeenAt, not firstSeenAt.
func TestDeduplicator_Scenario6_HistoryResighting(t *testing.T) {
	t.Parallel()

	normalizedOld := "https://example.com/a"
	history := newStubHistory(normalizedOld)
	sources := []SourceConfig{{ID: "src", Tier: 1}}
	dedup := NewDeduplicator(history, defaultTestThresholds(), sources)
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	dedup.Now = fixedClock(now)

	articles := []RawArticle{
		{URL: "https://example.com/a", Title: "Old article", Source: "src"},
		{URL: "https://example.com/new", Title: "New article", Source: "src"},
	}
	filtered, _, err := dedup.Run(context.Background(), articles, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected only the new URL to survive, got %d: %+v", len(filtered), filtered)
	}
	if filtered[0].NormalizedURL != "https://example.com/new" {
		t.Fatalf("unexpected survivor: %+v", filtered[0])
	}
	var resighted bool
	for _, e := range history.upserted {
		if e.NormalizedURL == normalizedOld && e.LastSeenAt.Equal(now) {
			resighted = true
		}
	}
	if !resighted {
		t.Fatalf("expected the re-sighted URL to be upserted with lastSeenAt=%v, got %+v", now, history.upserted)
	}
}

func TestDeduplicator_EmptyBatch(t *testing.T) {
	t.Parallel()

	history := newStubHistory()
	dedup := NewDeduplicator(history, defaultTestThresholds(), nil)
	filtered, stats, err := dedup.Run(context.Background(), nil, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(filtered) != 0 {
		t.Fatalf("expected no output, got %d", len(filtered))
	}
	if stats != (DedupStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
	if len(history.upserted) != 0 {
		t.Fatalf("expected no history writes for an empty batch, got %d", len(history.upserted))
	}
}

func TestDeduplicator_SingleArticleNoDateKeptLowPriority(t *testing.T) {
	t.Parallel()

	history := newStubHistory()
	sources := []SourceConfig{{ID: "src", Tier: 1}}
	dedup := NewDeduplicator(history, defaultTestThresholds(), sources)
	dedup.Now = fixedClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	articles := []RawArticle{{URL: "https://example.com/a", Title: "No date here", Source: "src"}}
	filtered, _, err := dedup.Run(context.Background(), articles, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected the article to be kept on doubt, got %d", len(filtered))
	}
	if filtered[0].FreshnessPriority != PriorityLow || filtered[0].DateSource != SourceNone {
		t.Fatalf("unexpected freshness classification: %+v", filtered[0])
	}
	if !filtered[0].IsFresh {
		t.Fatal("expected the conservative keep-on-doubt article to be marked fresh")
	}
}

func TestDeduplicator_TwoIdenticalTitlesOneSurvives(t *testing.T) {
	t.Parallel()

	history := newStubHistory()
	sources := []SourceConfig{{ID: "src-a"}, {ID: "src-b"}}
	dedup := NewDeduplicator(history, defaultTestThresholds(), sources)
	dedup.Now = fixedClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	articles := []RawArticle{
		{URL: "https://a.example.com/1", Title: "Exact same headline", Source: "src-a"},
		{URL: "https://b.example.com/2", Title: "Exact same headline", Source: "src-b"},
	}
	filtered, stats, err := dedup.Run(context.Background(), articles, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.AfterSimilarityDedup != 1 {
		t.Fatalf("expected 1 survivor after Stage 3, got %d", stats.AfterSimilarityDedup)
	}
	if len(filtered) != 1 || filtered[0].URL != "https://a.example.com/1" {
		t.Fatalf("expected the earlier article to win, got %+v", filtered)
	}
}

func TestDeduplicator_StageCountsAreMonotonicallyNonIncreasing(t *testing.T) {
	t.Parallel()

	history := newStubHistory("https://example.com/dup")
	sources := []SourceConfig{{ID: "src"}}
	dedup := NewDeduplicator(history, defaultTestThresholds(), sources)
	dedup.Now = fixedClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	articles := []RawArticle{
		{URL: "https://example.com/dup", Title: "In history already", Source: "src"},
		{URL: "https://example.com/dup", Title: "In history already", Source: "src"},
		{URL: "https://example.com/new1", Title: "Same headline text here", Source: "src"},
		{URL: "https://example.com/new2", Title: "Same headline text here", Source: "src"},
		{URL: "https://example.com/new3", Title: "Completely different story altogether", Source: "src"},
	}
	_, stats, err := dedup.Run(context.Background(), articles, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.AfterURLDedup > stats.TotalInput {
		t.Fatalf("AfterURLDedup %d > TotalInput %d", stats.AfterURLDedup, stats.TotalInput)
	}
	if stats.AfterHistoryDedup > stats.AfterURLDedup {
		t.Fatalf("AfterHistoryDedup %d > AfterURLDedup %d", stats.AfterHistoryDedup, stats.AfterURLDedup)
	}
	if stats.AfterSimilarityDedup > stats.AfterHistoryDedup {
		t.Fatalf("AfterSimilarityDedup %d > AfterHistoryDedup %d", stats.AfterSimilarityDedup, stats.AfterHistoryDedup)
	}
	if stats.FreshCount > stats.AfterSimilarityDedup {
		t.Fatalf("FreshCount %d > AfterSimilarityDedup %d", stats.FreshCount, stats.AfterSimilarityDedup)
	}
}

func TestDeduplicator_GrayZoneResolverEscalatesBorderlineVerdict(t *testing.T) {
	t.Parallel()

	thresholds := &DedupThresholds{
		Thresholds:     map[string]CategoryThresholds{"default": {JaccardGTE: 0.95, LevenshteinLTE: 0.01}},
		Layer2Fallback: map[string]Layer2Fallback{"default": {SameDomain: 0.99, CrossDomain: 0.99}},
	}
	history := newStubHistory()
	sources := []SourceConfig{{ID: "src-a"}, {ID: "src-b"}}
	dedup := NewDeduplicator(history, thresholds, sources)
	dedup.Now = fixedClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	dedup.GrayZone = alwaysDuplicateResolver{}

	articles := []RawArticle{
		{URL: "https://a.example.com/1", Title: "Claude 4 is incredible! The new reasoning capabilities are amazing.", Source: "src-a"},
		{URL: "https://b.example.com/2", Title: "Claude 4 is amazing! The reasoning capabilities are incredible.", Source: "src-b"},
	}
	filtered, _, err := dedup.Run(context.Background(), articles, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected the gray-zone resolver to force a duplicate verdict, got %d survivors", len(filtered))
	}
}

type alwaysDuplicateResolver struct{}

func (alwaysDuplicateResolver) Resolve(ctx context.Context, titleA, titleB string) (bool, bool) {
	return true, true
}
