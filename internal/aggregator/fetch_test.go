package aggregator

import (
	"context"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		message string
		want    ErrorKind
	}{
		{"request timeout after 5s", ErrorTimeout},
		{"aborted by user", ErrorTimeout},
		{"operation aborted", ErrorTimeout},
		{"network error: fetch failed", ErrorNetwork},
		{"could not connect to host", ErrorNetwork},
		{"rate limited: 429 too many requests", ErrorRateLimit},
		{"failed to parse json response", ErrorParse},
		{"something weird happened", ErrorUnknown},
	}
	for _, c := range cases {
		if got := classifyError(c.message); got != c.want {
			t.Errorf("classifyError(%q) = %q, want %q", c.message, got, c.want)
		}
	}
}

func TestEffectiveMaxRetries_TierFloors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		configured, tier, want int
	}{
		{0, 1, 3},
		{5, 1, 5},
		{0, 2, 1},
		{0, 3, 0},
		{2, 3, 2},
	}
	for _, c := range cases {
		if got := EffectiveMaxRetries(c.configured, c.tier); got != c.want {
			t.Errorf("EffectiveMaxRetries(%d, tier %d) = %d, want %d", c.configured, c.tier, got, c.want)
		}
	}
}

type scriptedFetcher struct {
	outcomes []FetchOutcome
	calls    int
}

func (f *scriptedFetcher) Name() string { return "scripted" }

func (f *scriptedFetcher) ExecuteDirect(ctx context.Context, rawURL, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	outcome := f.outcomes[f.calls]
	f.calls++
	return outcome
}

func (f *scriptedFetcher) ExecuteSearch(ctx context.Context, query, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	return f.ExecuteDirect(ctx, query, prompt, sourceID, opts)
}

func TestAttempt_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{outcomes: []FetchOutcome{
		{OK: false, Err: &FetchError{Kind: ErrorNetwork, Message: "network error"}},
		{OK: false, Err: &FetchError{Kind: ErrorNetwork, Message: "network error"}},
		{OK: true, Content: "ok"},
	}}

	result := Attempt(context.Background(), time.Second, time.Millisecond, 2, "src", func(ctx context.Context) FetchOutcome {
		return fetcher.ExecuteDirect(ctx, "", "", "src", FetchOpts{})
	})
	if result.Status != StatusSuccess {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if result.RetryCount != 2 {
		t.Fatalf("expected retryCount=2 (two retries before success), got %d", result.RetryCount)
	}
}

func TestAttempt_ExhaustsRetriesAndReturnsLastError(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{outcomes: []FetchOutcome{
		{OK: false, Err: &FetchError{Kind: ErrorNetwork, Message: "network error 1"}},
		{OK: false, Err: &FetchError{Kind: ErrorNetwork, Message: "network error 2"}},
	}}

	result := Attempt(context.Background(), time.Second, time.Millisecond, 1, "src", func(ctx context.Context) FetchOutcome {
		return fetcher.ExecuteDirect(ctx, "", "", "src", FetchOpts{})
	})
	if result.Status != StatusFailed {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Err == nil || result.Err.Message != "network error 2" {
		t.Fatalf("expected the last error to be surfaced, got %+v", result.Err)
	}
	if result.Err.SourceID != "src" {
		t.Fatalf("expected sourceID to be attached, got %q", result.Err.SourceID)
	}
}

func TestExtractJSONPayload_AllFourRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"json-fence", "Here you go:\n```json\n{\"articles\":[]}\n```\nThanks."},
		{"bare-fence", "```\n{\"articles\":[]}\n```"},
		{"whole-trimmed", "  {\"articles\":[]}  "},
		{"first-to-last-brace", "Sure, here's the data: {\"articles\":[]} — hope that helps!"},
	}
	for _, c := range cases {
		payload, ok := extractJSONPayload(c.content)
		if !ok {
			t.Errorf("%s: expected a payload to be located", c.name)
			continue
		}
		if payload == "" {
			t.Errorf("%s: expected non-empty payload", c.name)
		}
	}
}

func TestExtractJSONPayload_NoneFound(t *testing.T) {
	t.Parallel()

	if _, ok := extractJSONPayload("残念ながら、最新記事を抽出できませんでした。"); ok {
		t.Fatal("expected no JSON payload to be found in prose-only content")
	}
}

func TestParseArticlesPayload_FiltersAndStamps(t *testing.T) {
	t.Parallel()

	content := "```json\n{\"articles\":[" +
		`{"title":"A","url":"https://example.com/a"},` +
		`{"title":"","url":"https://example.com/b"},` +
		`{"title":"C","url":""},` +
		`{"title":"D","url":"https://example.com/d","summary":"s","publishedAt":"2024-01-01"}` +
		"]}\n```"
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	articles, err := ParseArticlesPayload(content, "my-source", now)
	if err != nil {
		t.Fatalf("ParseArticlesPayload: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 valid articles after filtering, got %d: %+v", len(articles), articles)
	}
	for _, a := range articles {
		if a.Source != "my-source" {
			t.Errorf("expected stamped source, got %q", a.Source)
		}
		if !a.CollectedAt.Equal(now) {
			t.Errorf("expected stamped collectedAt, got %v", a.CollectedAt)
		}
	}
	if articles[1].PublishedAt != "2024-01-01" {
		t.Errorf("expected publishedAt to survive, got %q", articles[1].PublishedAt)
	}
}

func TestParseArticlesPayload_BareArray(t *testing.T) {
	t.Parallel()

	content := `[{"title":"A","url":"https://example.com/a"}]`
	articles, err := ParseArticlesPayload(content, "src", time.Now())
	if err != nil {
		t.Fatalf("ParseArticlesPayload: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
}

func TestParseArticlesPayload_NoPayloadIsError(t *testing.T) {
	t.Parallel()

	_, err := ParseArticlesPayload("残念ながら、最新記事を抽出できませんでした。", "src", time.Now())
	if err == nil {
		t.Fatal("expected an error when no JSON payload is present")
	}
}

func TestCollapsePreview(t *testing.T) {
	t.Parallel()

	got := CollapsePreview("line one\n\n   line   two  ", 100)
	if got != "line one line two" {
		t.Fatalf("unexpected collapsed preview: %q", got)
	}

	long := CollapsePreview("abcdefghij", 5)
	if long != "abcde" {
		t.Fatalf("expected clip to 5 runes, got %q", long)
	}
}

func TestFetcherRegistry_RegisterAndResolve(t *testing.T) {
	t.Parallel()

	registry := NewFetcherRegistry("")
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected error registering nil fetcher")
	}

	f := &scriptedFetcher{outcomes: []FetchOutcome{{OK: true}}}
	// scriptedFetcher.Name() returns "scripted"; register it and resolve both
	// by name and via the registry default.
	if err := registry.Register(f); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := registry.Fetcher("scripted"); err != nil {
		t.Fatalf("Fetcher(\"scripted\"): %v", err)
	}
	if _, err := registry.Fetcher(""); err != nil {
		t.Fatalf("Fetcher(\"\") should resolve to the default: %v", err)
	}
	if _, err := registry.Fetcher("missing"); err == nil {
		t.Fatal("expected error resolving an unregistered fetcher")
	}
}

func TestNullSearchFetcher_DegradesGracefully(t *testing.T) {
	t.Parallel()

	var f NullSearchFetcher
	outcome := f.ExecuteSearch(context.Background(), "q", "p", "src", FetchOpts{})
	if outcome.OK {
		t.Fatal("expected NullSearchFetcher to always fail search")
	}
	if outcome.Err.Kind != ErrorRateLimit {
		t.Fatalf("expected rate_limit classification, got %v", outcome.Err.Kind)
	}

	direct := f.ExecuteDirect(context.Background(), "u", "p", "src", FetchOpts{})
	if direct.OK {
		t.Fatal("expected NullSearchFetcher to always fail direct fetch")
	}
}

func TestCompositeFetcher_RoutesToProviders(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{outcomes: []FetchOutcome{{OK: true, Content: "direct"}}}
	search := &scriptedFetcher{outcomes: []FetchOutcome{{OK: true, Content: "search"}}}
	composite := CompositeFetcher{DirectProvider: direct, SearchProvider: search}

	out := composite.ExecuteDirect(context.Background(), "u", "p", "s", FetchOpts{})
	if out.Content != "direct" {
		t.Fatalf("expected direct provider to be used, got %q", out.Content)
	}
	out = composite.ExecuteSearch(context.Background(), "q", "p", "s", FetchOpts{})
	if out.Content != "search" {
		t.Fatalf("expected search provider to be used, got %q", out.Content)
	}
}
