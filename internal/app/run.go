package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/bulletin/internal/aggregator"
	"horse.fit/bulletin/internal/cli"
	"horse.fit/bulletin/internal/config"
	"horse.fit/bulletin/internal/logging"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Build tasks and print them without fetching")
	verbose := fs.Bool("verbose", false, "Expanded logs")
	simple := fs.Bool("simple", false, "Bypass categorisation hand-off")
	dateOverride := fs.String("date", "", "Override \"today\" as YYYY-MM-DD")
	noAutoDisable := fs.Bool("no-auto-disable", false, "Disable the auto-disable remediation")
	noRerun := fs.Bool("no-rerun", false, "Disable the post-auto-disable re-run")
	outPath := fs.String("out", "", "Write the filtered article batch as JSON to this file instead of stdout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 2
	}

	orchestratorConfig, err := loadOrchestratorConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load aggregator config: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := openHistoryStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("history store error")
		return 2
	}
	defer store.Close()

	var dateOverridePtr *time.Time
	if *dateOverride != "" {
		parsed, err := time.Parse("2006-01-02", *dateOverride)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --date: %v\n", err)
			return 2
		}
		dateOverridePtr = &parsed
	}

	orchestrator := &aggregator.Orchestrator{
		Config:          orchestratorConfig,
		History:         store,
		Fetchers:        defaultFetcherRegistry(),
		GrayZone:        defaultGrayZoneResolver(cfg, logger),
		LastSuccessPath: cfg.LastSuccessPath,
		Logger:          logger,
	}

	result, err := orchestrator.Run(ctx, aggregator.OrchestratorOptions{
		DryRun:        *dryRun,
		Verbose:       *verbose,
		Simple:        *simple,
		DateOverride:  dateOverridePtr,
		NoAutoDisable: *noAutoDisable,
		NoRerun:       *noRerun,
	})
	if err != nil {
		logger.Error().Err(err).Msg("pipeline run failed")
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 2
	}

	if *dryRun {
		return 0
	}

	if _, err := store.Cleanup(ctx, nil, cfg.HistoryRetentionDays); err != nil {
		logger.Error().Err(err).Msg("history cleanup failed")
	}

	for _, result := range result.Statuses {
		logAggregatorError(logger, result.SourceID, result.Err)
	}
	if len(result.DisabledSources) > 0 {
		fmt.Printf("auto-disabled sources: %v (re-run: %t)\n", result.DisabledSources, result.RanSecondPass)
	}
	fmt.Printf("dedup stats: input=%d afterUrl=%d afterHistory=%d afterSimilarity=%d fresh=%d\n",
		result.DedupStats.TotalInput, result.DedupStats.AfterURLDedup, result.DedupStats.AfterHistoryDedup,
		result.DedupStats.AfterSimilarityDedup, result.DedupStats.FreshCount)

	payload, err := json.MarshalIndent(result.Articles, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode articles: %v\n", err)
		return 2
	}
	if *outPath != "" {
		if err := os.WriteFile(*outPath, payload, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
			return 2
		}
	} else {
		fmt.Println(string(payload))
	}

	return 0
}
