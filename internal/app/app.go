package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "validate":
		return runValidate(args[1:])
	case "collect":
		return runCollect(args[1:])
	case "run":
		return runRun(args[1:])
	case "history":
		return runHistory(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "bulletin CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  bulletin <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  validate   Validate collected article JSON files against the article schema")
	fmt.Fprintln(os.Stderr, "  collect    Run the Collector against configured sources")
	fmt.Fprintln(os.Stderr, "  run        Run the full collect+dedup pipeline for one invocation")
	fmt.Fprintln(os.Stderr, "  history    Inspect or clean up the SQLite History Store")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"bulletin <command> -h\" for command-specific flags.")
}
