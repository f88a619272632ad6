package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	payloadschema "horse.fit/bulletin/schema"
)

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "validate requires at least one article JSON file (a single object or a \"run -out\" batch array)")
		return 2
	}

	failures := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("%s: FAIL (read error: %v)\n", path, err)
			failures++
			continue
		}
		articles, err := payloadschema.ValidateArticleBatchPayload(data)
		if err != nil {
			fmt.Printf("%s: FAIL (%v)\n", path, err)
			failures++
			continue
		}
		fmt.Printf("%s: OK (%d article(s))\n", path, len(articles))
	}

	if failures > 0 {
		return 1
	}
	return 0
}
