package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/bulletin/internal/globaltime"
	"horse.fit/bulletin/internal/reader"
)

const (
	defaultFetchTimeout  = 12 * time.Second
	defaultBodyByteLimit = 2 * 1024 * 1024
	fetchUserAgent       = "bulletin-aggregator/1.0"
)

// FetchOpts carries per-attempt Fetch Executor options.
type FetchOpts struct {
	Timeout time.Duration
}

// FetchOutcome is the {ok, content, err} contract of executeDirect/executeSearch.
type FetchOutcome struct {
	OK      bool
	Content string
	Err     *FetchError
}

// Fetcher is the boundary between the Collector and the outside world:
// executeDirect fetches a single URL, executeSearch runs a query. Both are
// idempotent — no client-side caching is assumed.
type Fetcher interface {
	Name() string
	ExecuteDirect(ctx context.Context, rawURL, prompt, sourceID string, opts FetchOpts) FetchOutcome
	ExecuteSearch(ctx context.Context, query, prompt, sourceID string, opts FetchOpts) FetchOutcome
}

// FetcherRegistry resolves named Fetcher implementations, mirroring the
// translation package's provider/registry shape.
type FetcherRegistry struct {
	fetchers map[string]Fetcher
	active   string
}

// NewFetcherRegistry creates a registry with the given default active fetcher name.
func NewFetcherRegistry(defaultName string) *FetcherRegistry {
	return &FetcherRegistry{fetchers: make(map[string]Fetcher), active: defaultName}
}

// Register adds one Fetcher.
func (r *FetcherRegistry) Register(f Fetcher) error {
	if f == nil {
		return fmt.Errorf("fetcher is nil")
	}
	name := strings.ToLower(strings.TrimSpace(f.Name()))
	if name == "" {
		return fmt.Errorf("fetcher name is required")
	}
	r.fetchers[name] = f
	if r.active == "" {
		r.active = name
	}
	return nil
}

// Fetcher resolves a fetcher by name, falling back to the registry's active default.
func (r *FetcherRegistry) Fetcher(name string) (Fetcher, error) {
	resolved := strings.ToLower(strings.TrimSpace(name))
	if resolved == "" {
		resolved = r.active
	}
	f, ok := r.fetchers[resolved]
	if !ok {
		return nil, fmt.Errorf("fetcher %q is not registered", resolved)
	}
	return f, nil
}

// classifyError maps raw error text to the error taxonomy by lowercase
// substring, per spec §4.6.
func classifyError(message string) ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "abort"), strings.Contains(lower, "aborted by user"):
		return ErrorTimeout
	case strings.Contains(lower, "network"), strings.Contains(lower, "fetch"), strings.Contains(lower, "connect"):
		return ErrorNetwork
	case strings.Contains(lower, "rate"), strings.Contains(lower, "limit"), strings.Contains(lower, "429"):
		return ErrorRateLimit
	case strings.Contains(lower, "parse"), strings.Contains(lower, "json"):
		return ErrorParse
	default:
		return ErrorUnknown
	}
}

// tierFloor returns the minimum retry budget for a tier: 3/1/0 for tiers 1/2/3.
func tierFloor(tier int) int {
	switch tier {
	case 1:
		return 3
	case 2:
		return 1
	default:
		return 0
	}
}

// EffectiveMaxRetries is max(configured, tierFloor(tier)), per spec §4.6.
func EffectiveMaxRetries(configured, tier int) int {
	floor := tierFloor(tier)
	if configured > floor {
		return configured
	}
	return floor
}

// Attempt runs one fetch via doFetch, classifying a context-deadline error as
// timeout, and retries up to maxRetries times with a fixed retryInterval
// between attempts. A rate.Limiter paces the inter-attempt wait.
func Attempt(ctx context.Context, timeout, retryInterval time.Duration, maxRetries int, sourceID string, doFetch func(ctx context.Context) FetchOutcome) TaskResult {
	var lastErr *FetchError
	var retryCount int

	for attempt := 0; attempt <= maxRetries; attempt++ {
		retryCount = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome := doFetch(attemptCtx)
		cancel()

		if outcome.OK {
			return TaskResult{SourceID: sourceID, Status: StatusSuccess, RetryCount: retryCount}
		}

		fetchErr := outcome.Err
		if fetchErr == nil {
			fetchErr = &FetchError{Kind: ErrorUnknown, SourceID: sourceID, Message: "fetch failed with no error detail"}
		}
		if fetchErr.SourceID == "" {
			fetchErr.SourceID = sourceID
		}
		fetchErr.RetryCount = retryCount
		fetchErr.Timestamp = globaltime.UTC()
		lastErr = fetchErr

		if attemptCtx.Err() != nil && fetchErr.Kind == ErrorUnknown {
			lastErr.Kind = ErrorTimeout
		}

		if attempt < maxRetries {
			// A fresh limiter with its single token drained makes Wait block
			// for one full retryInterval (or until ctx is done).
			limiter := rate.NewLimiter(rate.Every(retryInterval), 1)
			limiter.Allow()
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
	}

	return TaskResult{SourceID: sourceID, Status: StatusFailed, Err: lastErr, RetryCount: retryCount}
}

// extractJSONPayload applies the four ordered JSON-location rules of §4.6 to
// raw fetch content and returns the candidate located by the first rule that
// matches. The candidate is not parsed here, so a later rule is not tried
// when an earlier candidate turns out to be invalid JSON, and only the first
// fenced block of each kind is examined.
func extractJSONPayload(content string) (string, bool) {
	if payload, ok := firstFencedJSON(content, "json"); ok {
		return payload, true
	}
	if payload, ok := firstFencedJSON(content, ""); ok {
		return payload, true
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed, true
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1], true
	}
	return "", false
}

func firstFencedJSON(content, lang string) (string, bool) {
	fence := "```" + lang
	idx := strings.Index(content, fence)
	if idx < 0 {
		return "", false
	}
	rest := content[idx+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if lang == "" && !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
		return "", false
	}
	if body == "" {
		return "", false
	}
	return body, true
}

// normalizedArticleSet is the result of parsing and normalising an
// articles-bearing JSON payload per §4.6.
type normalizedArticleSet struct {
	Articles []RawArticle
}

type rawArticlesPayload struct {
	Articles []rawArticleJSON `json:"articles"`
}

type rawArticleJSON struct {
	Title           string `json:"title"`
	URL             string `json:"url"`
	Summary         string `json:"summary"`
	PublishedAt     string `json:"publishedAt"`
	DateMetaContent string `json:"dateMetaContent"`
}

// ParseArticlesPayload extracts and normalises an articles array from raw
// fetch content, stamping source and collectedAt, keeping only entries with
// non-empty title and url.
func ParseArticlesPayload(content, source string, collectedAt time.Time) ([]RawArticle, error) {
	payload, ok := extractJSONPayload(content)
	if !ok {
		return nil, fmt.Errorf("parse: no JSON payload located in content")
	}

	var items []rawArticleJSON
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	} else {
		var wrapped rawArticlesPayload
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		items = wrapped.Articles
	}

	articles := make([]RawArticle, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.URL) == "" {
			continue
		}
		articles = append(articles, RawArticle{
			URL:             item.URL,
			Title:           item.Title,
			Summary:         item.Summary,
			Source:          source,
			CollectedAt:     collectedAt,
			PublishedAt:     item.PublishedAt,
			DateMetaContent: item.DateMetaContent,
		})
	}
	return articles, nil
}

// CollapsePreview whitespace-collapses and clips text to at most maxChars
// runes, for diagnostic rawPreview fields.
func CollapsePreview(raw string, maxChars int) string {
	collapsed := collapseWhitespace(raw)
	runes := []rune(collapsed)
	if len(runes) <= maxChars {
		return collapsed
	}
	return string(runes[:maxChars])
}

// DirectHTTPFetcher implements executeDirect by fetching the page and
// extracting readable text; executeSearch is not meaningful for this
// provider and always fails as unsupported.
type DirectHTTPFetcher struct {
	Client *http.Client
}

// NewDirectHTTPFetcher builds a DirectHTTPFetcher with a bounded-timeout client.
func NewDirectHTTPFetcher() *DirectHTTPFetcher {
	return &DirectHTTPFetcher{Client: &http.Client{Timeout: defaultFetchTimeout}}
}

func (f *DirectHTTPFetcher) Name() string { return "direct_http" }

func (f *DirectHTTPFetcher) ExecuteDirect(ctx context.Context, rawURL, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	text, err := fetchReadableText(ctx, f.Client, rawURL)
	if err != nil {
		return FetchOutcome{OK: false, Err: &FetchError{Kind: classifyError(err.Error()), SourceID: sourceID, Message: err.Error()}}
	}
	return FetchOutcome{OK: true, Content: text}
}

func (f *DirectHTTPFetcher) ExecuteSearch(ctx context.Context, query, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	return FetchOutcome{OK: false, Err: &FetchError{Kind: ErrorUnknown, SourceID: sourceID, Message: "direct_http fetcher does not support search"}}
}

func fetchReadableText(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	page := strings.TrimSpace(rawURL)
	if page == "" {
		return "", fmt.Errorf("url is required")
	}
	return reader.FetchTextWithOptions(ctx, page, "", reader.FetchOptions{
		Timeout:       defaultFetchTimeout,
		BodyByteLimit: defaultBodyByteLimit,
		UserAgent:     fetchUserAgent,
		HTTPClient:    client,
	})
}

// CompositeFetcher routes executeDirect to one Fetcher and executeSearch to
// another, letting DirectFetch and Search sources use different concrete
// providers behind the single Fetcher boundary the Collector consumes.
type CompositeFetcher struct {
	DirectProvider Fetcher
	SearchProvider Fetcher
}

func (c CompositeFetcher) Name() string { return "composite" }

func (c CompositeFetcher) ExecuteDirect(ctx context.Context, rawURL, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	return c.DirectProvider.ExecuteDirect(ctx, rawURL, prompt, sourceID, opts)
}

func (c CompositeFetcher) ExecuteSearch(ctx context.Context, query, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	return c.SearchProvider.ExecuteSearch(ctx, query, prompt, sourceID, opts)
}

// NullSearchFetcher is the explicitly out-of-scope LLM-driven search
// boundary: executeSearch always degrades to a rate_limit-classified stub
// error so Search-method sources fail gracefully rather than panic. Callers
// needing real search behaviour supply their own Fetcher.
type NullSearchFetcher struct{}

func (NullSearchFetcher) Name() string { return "null_search" }

func (NullSearchFetcher) ExecuteDirect(ctx context.Context, rawURL, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	return FetchOutcome{OK: false, Err: &FetchError{Kind: ErrorUnknown, SourceID: sourceID, Message: "null_search fetcher does not support direct fetch"}}
}

func (NullSearchFetcher) ExecuteSearch(ctx context.Context, query, prompt, sourceID string, opts FetchOpts) FetchOutcome {
	return FetchOutcome{OK: false, Err: &FetchError{
		Kind:     ErrorRateLimit,
		SourceID: sourceID,
		Message:  "rate_limit: no search backend configured",
	}}
}
