package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/bulletin/internal/globaltime"
)

// LastSuccess is the on-disk shape of last_success.json.
type LastSuccess struct {
	LastSuccessAt *time.Time `json:"lastSuccessAt"`
}

// LoadLastSuccess reads last_success.json; a missing file yields a nil timestamp.
func LoadLastSuccess(path string) (*time.Time, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last success file: %w", err)
	}
	var state LastSuccess
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse last success file: %w", err)
	}
	return state.LastSuccessAt, nil
}

// SaveLastSuccess persists lastSuccessAt, touched only after dedup completes
// and from a single thread, per spec §5.
func SaveLastSuccess(path string, at time.Time) error {
	utc := at.UTC()
	data, err := json.Marshal(LastSuccess{LastSuccessAt: &utc})
	if err != nil {
		return fmt.Errorf("marshal last success file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write last success file: %w", err)
	}
	return nil
}

const (
	abortedByUserPhrase  = "aborted by user"
	processAbortedPhrase = "process aborted"
	operationAbortedPhrase = "operation aborted"
)

// isAbortHeavy reports whether a TaskResult's error qualifies the source as
// abort-heavy: retryCount >= 1 and the message contains one of the three
// abort phrases, per spec §4.9 step 5.
func isAbortHeavy(result TaskResult) bool {
	if result.Err == nil || result.RetryCount < 1 {
		return false
	}
	lower := strings.ToLower(result.Err.Message)
	return strings.Contains(lower, abortedByUserPhrase) ||
		strings.Contains(lower, processAbortedPhrase) ||
		strings.Contains(lower, operationAbortedPhrase)
}

// AbortHeavySources returns the distinct source IDs flagged abort-heavy by
// the given results.
func AbortHeavySources(results []TaskResult) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, result := range results {
		if isAbortHeavy(result) {
			if _, dup := seen[result.SourceID]; !dup {
				seen[result.SourceID] = struct{}{}
				ids = append(ids, result.SourceID)
			}
		}
	}
	return ids
}

// OrchestratorOptions captures the CLI-surfaced run options of spec §6.
type OrchestratorOptions struct {
	DryRun         bool
	Verbose        bool
	Simple         bool
	DateOverride   *time.Time
	NoAutoDisable  bool
	NoRerun        bool
}

// OrchestratorConfig bundles the five loaded configuration files and their paths.
type OrchestratorConfig struct {
	SourcesPath string
	Sources     *SourcesFile
	Queries     *QueriesFile
	TagSynonyms TagSynonymsFile
	Thresholds  *DedupThresholds
	App         *AppFile
}

// OrchestratorResult is the hand-off bundle for the out-of-scope renderer,
// per spec §4.9 step 7.
type OrchestratorResult struct {
	Articles    []FilteredArticle
	Collection  CollectionResult
	DedupStats  DedupStats
	Statuses    []TaskResult
	RanSecondPass bool
	DisabledSources []string
}

// Orchestrator runs the single-invocation pipeline flow of spec §4.9.
type Orchestrator struct {
	Config       OrchestratorConfig
	History      HistoryBackend
	Fetchers     *FetcherRegistry
	GrayZone     GrayZoneResolver
	LastSuccessPath string
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Run executes the full flow: validate/load (done by the caller before
// constructing Orchestrator), generate queries, collect, auto-disable pass,
// dedup, persist lastSuccessAt, return the hand-off bundle.
func (o *Orchestrator) Run(ctx context.Context, opts OrchestratorOptions) (*OrchestratorResult, error) {
	now := o.nowOrDefault()
	if opts.DateOverride != nil {
		now = *opts.DateOverride
	}

	lastSuccessAt, err := LoadLastSuccess(o.LastSuccessPath)
	if err != nil {
		return nil, err
	}

	queries := GenerateQueries(o.Config.Queries, nil, nil, o.Config.TagSynonyms)
	topKeywords := make([]string, 0, len(queries))
	for _, q := range queries {
		topKeywords = append(topKeywords, q.Text)
	}

	collector := NewCollector(o.Config.Sources.Sources, o.Config.Sources.RateControl, o.Fetchers)

	if opts.DryRun {
		_, tasks := collector.Run(ctx, topKeywords, true)
		o.Logger.Info().Int("task_count", len(tasks)).Msg("dry run: tasks built, fetch skipped")
		return &OrchestratorResult{}, nil
	}

	collection, _ := collector.Run(ctx, topKeywords, false)

	disabled := []string{}
	ranSecondPass := false
	if !opts.NoAutoDisable {
		abortHeavy := AbortHeavySources(collection.Results)
		if len(abortHeavy) > 0 {
			for _, id := range abortHeavy {
				if o.Config.Sources.DisableSource(id) {
					disabled = append(disabled, id)
				}
			}
			if err := o.Config.Sources.Save(o.Config.SourcesPath); err != nil {
				o.Logger.Error().Err(err).Msg("failed to persist auto-disabled sources")
			}
			if !opts.NoRerun {
				reloaded, err := LoadSourcesFile(o.Config.SourcesPath)
				if err != nil {
					return nil, fmt.Errorf("reload sources after auto-disable: %w", err)
				}
				o.Config.Sources = reloaded
				rerunCollector := NewCollector(o.Config.Sources.Sources, o.Config.Sources.RateControl, o.Fetchers)
				collection, _ = rerunCollector.Run(ctx, topKeywords, false)
				ranSecondPass = true
			}
		}
	}

	dedup := NewDeduplicator(o.History, o.Config.Thresholds, o.Config.Sources.Sources)
	dedup.GrayZone = o.GrayZone
	if o.Config.App != nil {
		dedup.URLOptions = NormalizeOptions{
			RemoveParams:       o.Config.App.URLNormalization.RemoveParams,
			StripTrailingSlash: o.Config.App.URLNormalization.StripTrailingSlash,
		}
	}
	windowStart := WindowStart(lastSuccessAt, now)
	filtered, stats, err := dedup.Run(ctx, collection.Articles, windowStart)
	if err != nil {
		return nil, fmt.Errorf("deduplicator: %w", err)
	}

	if err := SaveLastSuccess(o.LastSuccessPath, now); err != nil {
		o.Logger.Error().Err(err).Msg("failed to persist last success timestamp")
	}

	return &OrchestratorResult{
		Articles:        filtered,
		Collection:      collection,
		DedupStats:      stats,
		Statuses:        collection.Results,
		RanSecondPass:   ranSecondPass,
		DisabledSources: disabled,
	}, nil
}

func (o *Orchestrator) nowOrDefault() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return globaltime.UTC()
}
