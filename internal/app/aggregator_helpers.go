package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"horse.fit/bulletin/internal/aggregator"
	"horse.fit/bulletin/internal/config"
	"horse.fit/bulletin/internal/history"
	"horse.fit/bulletin/internal/pipeline"
)

// aggregatorConfigPaths resolves the five structured configuration file
// paths from a configured directory, per spec §6.
func aggregatorConfigPaths(dir string) (sources, queries, tagSynonyms, dedupThresholds, appPath string) {
	return filepath.Join(dir, "sources.yaml"),
		filepath.Join(dir, "queries.yaml"),
		filepath.Join(dir, "tag-synonyms.yaml"),
		filepath.Join(dir, "dedup-thresholds.yaml"),
		filepath.Join(dir, "app.yaml")
}

// loadOrchestratorConfig validates and loads all five configuration files.
func loadOrchestratorConfig(cfg *config.Config) (aggregator.OrchestratorConfig, error) {
	sourcesPath, queriesPath, tagSynonymsPath, dedupThresholdsPath, appPath := aggregatorConfigPaths(cfg.ConfigDir)

	if err := aggregator.ValidateConfigsExist(sourcesPath, queriesPath, tagSynonymsPath, dedupThresholdsPath, appPath); err != nil {
		return aggregator.OrchestratorConfig{}, err
	}

	sources, err := aggregator.LoadSourcesFile(sourcesPath)
	if err != nil {
		return aggregator.OrchestratorConfig{}, err
	}
	queries, err := aggregator.LoadQueriesFile(queriesPath)
	if err != nil {
		return aggregator.OrchestratorConfig{}, err
	}
	tagSynonyms, err := aggregator.LoadTagSynonymsFile(tagSynonymsPath)
	if err != nil {
		return aggregator.OrchestratorConfig{}, err
	}
	thresholds, err := aggregator.LoadDedupThresholdsFile(dedupThresholdsPath)
	if err != nil {
		return aggregator.OrchestratorConfig{}, err
	}
	appFile, err := aggregator.LoadAppFile(appPath)
	if err != nil {
		return aggregator.OrchestratorConfig{}, err
	}

	return aggregator.OrchestratorConfig{
		SourcesPath: sourcesPath,
		Sources:     sources,
		Queries:     queries,
		TagSynonyms: tagSynonyms,
		Thresholds:  thresholds,
		App:         appFile,
	}, nil
}

// openHistoryStore opens the SQLite History Store at the configured path.
func openHistoryStore(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	store, err := history.Open(ctx, cfg.HistoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return store, nil
}

// defaultFetcherRegistry wires the shipped DirectHTTPFetcher/NullSearchFetcher
// pair behind a single composite Fetcher.
func defaultFetcherRegistry() *aggregator.FetcherRegistry {
	registry := aggregator.NewFetcherRegistry("composite")
	_ = registry.Register(aggregator.CompositeFetcher{
		DirectProvider: aggregator.NewDirectHTTPFetcher(),
		SearchProvider: aggregator.NullSearchFetcher{},
	})
	return registry
}

// defaultGrayZoneResolver wires the Semantic Gray-Zone Enrichment hook when
// cfg.EmbeddingEndpoint is configured, and returns nil otherwise so the
// Deduplicator falls back to its Layer-3 fuzzy verdict alone.
func defaultGrayZoneResolver(cfg *config.Config, logger zerolog.Logger) aggregator.GrayZoneResolver {
	resolver := pipeline.NewSemanticResolver(cfg.EmbeddingEndpoint, "default", logger)
	if resolver == nil {
		return nil
	}
	return resolver
}

func logAggregatorError(logger zerolog.Logger, sourceID string, err *aggregator.FetchError) {
	if err == nil {
		return
	}
	logger.Error().
		Str("source_id", sourceID).
		Str("kind", string(err.Kind)).
		Int("retry_count", err.RetryCount).
		Msg(err.Message)
}
