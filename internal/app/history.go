package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/bulletin/internal/cli"
	"horse.fit/bulletin/internal/config"
)

func runHistory(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "history requires a subcommand: stats, cleanup")
		return 2
	}

	switch args[0] {
	case "stats":
		return runHistoryStats(args[1:])
	case "cleanup":
		return runHistoryCleanup(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown history subcommand: %s\n", args[0])
		return 2
	}
}

func runHistoryStats(args []string) int {
	fs := flag.NewFlagSet("history stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := openHistoryStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer store.Close()

	stats, err := store.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query history stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{{"total", fmt.Sprintf("%d", stats.Total)}}
	for source, count := range stats.BySource {
		rows = append(rows, []string{source, fmt.Sprintf("%d", count)})
	}
	if err := writeTable([]string{"source", "count"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func runHistoryCleanup(args []string) int {
	fs := flag.NewFlagSet("history cleanup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Second, "Command timeout")
	retentionDays := fs.Int("retention-days", 0, "Retention window in days (0 uses configured default)")

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

	retention := *retentionDays
	if retention <= 0 {
		retention = cfg.HistoryRetentionDays
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := openHistoryStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer store.Close()

	deleted, err := store.Cleanup(ctx, nil, retention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		return 1
	}
	fmt.Printf("deleted %d entr%s older than %d day(s)\n", deleted, pluralIES(deleted), retention)
	return 0
}

func pluralIES(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
