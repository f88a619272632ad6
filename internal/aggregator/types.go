// Package aggregator implements the collection and deduplication pipeline:
// URL normalisation, similarity scoring, date/freshness estimation, the
// Query Generator, the Fetch Executor, the Collector, the Deduplicator, and
// the Pipeline Orchestrator that ties them together.
package aggregator

import "time"

// CollectMethod selects how a SourceConfig is fetched.
type CollectMethod string

const (
	CollectDirectFetch CollectMethod = "DirectFetch"
	CollectSearch      CollectMethod = "Search"
)

// DateMethod selects which Date Parser layer a source's date hint is routed through.
type DateMethod string

const (
	DateMethodHTMLMeta     DateMethod = "html_meta"
	DateMethodHTMLParse    DateMethod = "html_parse"
	DateMethodURLParse     DateMethod = "url_parse"
	DateMethodSearchResult DateMethod = "search_result"
	DateMethodAPI          DateMethod = "api"
)

// DateConfidence classifies how trustworthy a resolved date is.
type DateConfidence string

const (
	ConfidenceHigh    DateConfidence = "high"
	ConfidenceMedium  DateConfidence = "medium"
	ConfidenceLow     DateConfidence = "low"
	ConfidenceUnknown DateConfidence = "unknown"
)

// DateSource records which layer produced the resolved date.
type DateSource string

const (
	SourcePublishedAt   DateSource = "published_at"
	SourceURLDate       DateSource = "url_date"
	SourceRelativeTime  DateSource = "relative_time"
	SourceFirstSeenAt   DateSource = "first_seen_at"
	SourceNone          DateSource = "none"
)

// FreshnessPriority ranks how eagerly a fresh article should be surfaced.
type FreshnessPriority string

const (
	PriorityHigh   FreshnessPriority = "high"
	PriorityNormal FreshnessPriority = "normal"
	PriorityLow    FreshnessPriority = "low"
)

// ErrorKind is the fetch error taxonomy.
type ErrorKind string

const (
	ErrorTimeout   ErrorKind = "timeout"
	ErrorNetwork   ErrorKind = "network"
	ErrorRateLimit ErrorKind = "rate_limit"
	ErrorParse     ErrorKind = "parse"
	ErrorUnknown   ErrorKind = "unknown"
)

// SourceStatus is the per-source outcome of a Collector pass.
type SourceStatus string

const (
	StatusSuccess SourceStatus = "success"
	StatusPartial SourceStatus = "partial"
	StatusFailed  SourceStatus = "failed"
)

// RawArticle is produced by the Fetch Executor.
type RawArticle struct {
	URL             string
	Title           string
	Summary         string
	Source          string
	CollectedAt     time.Time
	PublishedAt     string
	DateMetaContent string
}

// FilteredArticle is the output of the Deduplicator.
type FilteredArticle struct {
	RawArticle
	NormalizedURL     string
	IsFresh           bool
	DateConfidence    DateConfidence
	DateSource        DateSource
	ResolvedDate       *time.Time
	FreshnessPriority FreshnessPriority
	SimilarityScore   *float64
}

// HistoryEntry is the persistent record kept in the History Store.
type HistoryEntry struct {
	ID             int64
	URL            string
	NormalizedURL  string
	Title          string
	Source         string
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	PublishedAt    *time.Time
	DateConfidence DateConfidence
	TitleHash      string
	ContentHash    string
}

// SourceConfig describes one configured news source.
type SourceConfig struct {
	ID            string        `yaml:"id"`
	Name          string        `yaml:"name"`
	Tier          int           `yaml:"tier"`
	Enabled       bool          `yaml:"enabled"`
	CollectMethod CollectMethod `yaml:"collectMethod"`
	URL           string        `yaml:"url,omitempty"`
	Query         string        `yaml:"query,omitempty"`
	Accounts      []string      `yaml:"accounts,omitempty"`
	DateMethod    DateMethod    `yaml:"dateMethod,omitempty"`
	DateSelector  string        `yaml:"dateSelector,omitempty"`
	DatePattern   string        `yaml:"datePattern,omitempty"`
	MaxArticles   int           `yaml:"maxArticles,omitempty"`
	RepairEligible bool         `yaml:"repairEligible,omitempty"`
}

// PerSourceRate overrides the global RateControl defaults for one source.
type PerSourceRate struct {
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	RetryInterval time.Duration `yaml:"retryInterval,omitempty"`
	MaxRetries    int           `yaml:"maxRetries,omitempty"`
}

// RateControl holds global fetch pacing defaults plus per-source overrides.
type RateControl struct {
	MaxConcurrency       int                      `yaml:"maxConcurrency"`
	DefaultTimeout       time.Duration            `yaml:"defaultTimeout"`
	DefaultRetryInterval time.Duration            `yaml:"defaultRetryInterval"`
	DefaultMaxRetries    int                      `yaml:"defaultMaxRetries"`
	PerSource            map[string]PerSourceRate `yaml:"perSource,omitempty"`
}

func (rc RateControl) forSource(id string) (timeout time.Duration, retryInterval time.Duration, maxRetries int) {
	timeout, retryInterval, maxRetries = rc.DefaultTimeout, rc.DefaultRetryInterval, rc.DefaultMaxRetries
	override, ok := rc.PerSource[id]
	if !ok {
		return timeout, retryInterval, maxRetries
	}
	if override.Timeout > 0 {
		timeout = override.Timeout
	}
	if override.RetryInterval > 0 {
		retryInterval = override.RetryInterval
	}
	if override.MaxRetries > 0 {
		maxRetries = override.MaxRetries
	}
	return timeout, retryInterval, maxRetries
}

// CategoryThresholds holds the Layer-3 duplicate cutoffs for one category.
type CategoryThresholds struct {
	JaccardGTE     float64 `yaml:"jaccard_gte"`
	LevenshteinLTE float64 `yaml:"levenshtein_lte"`
}

// Layer2Fallback holds the Layer-2 same/cross-domain Jaccard cutoffs for one source.
type Layer2Fallback struct {
	SameDomain  float64 `yaml:"same_domain"`
	CrossDomain float64 `yaml:"cross_domain"`
}

// DedupThresholds is the full category/source threshold configuration.
type DedupThresholds struct {
	Thresholds     map[string]CategoryThresholds `yaml:"thresholds"`
	Layer2Fallback map[string]Layer2Fallback     `yaml:"layer2_fallback"`
}

func (t DedupThresholds) categoryFor(category string) CategoryThresholds {
	return t.CategoryFor(category)
}

func (t DedupThresholds) layer2For(sourceID string) Layer2Fallback {
	return t.Layer2For(sourceID)
}

// CategoryFor returns the Layer-3 cutoffs configured for category, falling
// back to the "default" entry.
func (t DedupThresholds) CategoryFor(category string) CategoryThresholds {
	if ct, ok := t.Thresholds[category]; ok {
		return ct
	}
	return t.Thresholds["default"]
}

// Layer2For returns the Layer-2 Jaccard cutoffs configured for sourceID,
// falling back to the "default" entry.
func (t DedupThresholds) Layer2For(sourceID string) Layer2Fallback {
	if lf, ok := t.Layer2Fallback[sourceID]; ok {
		return lf
	}
	return t.Layer2Fallback["default"]
}

// FetchError is the explicit result-record error carried through the Collector
// and inspected by the auto-disable pass; it is never discarded as a bare error.
type FetchError struct {
	Kind       ErrorKind
	SourceID   string
	RetryCount int
	Timestamp  time.Time
	Message    string
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// TaskResult is one Fetch Executor outcome, shaped as an explicit {ok, value|error} record.
type TaskResult struct {
	SourceID     string
	Status       SourceStatus
	Articles     []RawArticle
	Err          *FetchError
	RetryCount   int
}

// TierSummary aggregates TaskResult counts for one tier.
type TierSummary struct {
	Tier      int
	Succeeded int
	Partial   int
	Failed    int
}

// CollectionResult is the Collector's output handed to the Deduplicator.
type CollectionResult struct {
	Articles []RawArticle
	Results  []TaskResult
	Tiers    []TierSummary
}

// DedupStats reports survivor counts after each Deduplicator stage.
type DedupStats struct {
	TotalInput           int
	AfterURLDedup        int
	AfterHistoryDedup    int
	AfterSimilarityDedup int
	FreshCount           int
}
