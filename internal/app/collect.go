package app

import (
	"context"
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

func runCollect(args []string) int {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Build tasks and print them without fetching")
	verbose := fs.Bool("verbose", false, "Expanded logs")

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
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	orchestratorConfig, err := loadOrchestratorConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load aggregator config: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	queries := aggregator.GenerateQueries(orchestratorConfig.Queries, nil, nil, orchestratorConfig.TagSynonyms)
	topKeywords := make([]string, 0, len(queries))
	for _, q := range queries {
		topKeywords = append(topKeywords, q.Text)
	}

	collector := aggregator.NewCollector(orchestratorConfig.Sources.Sources, orchestratorConfig.Sources.RateControl, defaultFetcherRegistry())
	collection, tasks := collector.Run(ctx, topKeywords, *dryRun)

	if *dryRun {
		fmt.Printf("dry run: %d task(s) built\n", len(tasks))
		for _, task := range tasks {
			fmt.Printf("  source=%s method=%s url=%q query=%q\n", task.SourceID, task.Method, task.URL, task.Query)
		}
		return 0
	}

	for _, result := range collection.Results {
		if *verbose {
			fmt.Printf("source=%s status=%s articles=%d retries=%d\n", result.SourceID, result.Status, len(result.Articles), result.RetryCount)
		}
		logAggregatorError(logger, result.SourceID, result.Err)
	}
	for _, tier := range collection.Tiers {
		fmt.Printf("tier=%d succeeded=%d partial=%d failed=%d\n", tier.Tier, tier.Succeeded, tier.Partial, tier.Failed)
	}
	fmt.Printf("collected %d article(s) across %d source(s)\n", len(collection.Articles), len(collection.Results))

	return 0
}
