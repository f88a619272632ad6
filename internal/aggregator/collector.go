package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/bulletin/internal/globaltime"
)

// Task is one unit of fetch work built by the Collector, per spec §4.7.
type Task struct {
	SourceID string
	Method   CollectMethod
	URL      string
	Query    string
	Prompt   string
}

const (
	directFetchPrompt = "Fetch the page and return its readable article content."
	twitterPrompt     = "Search the given accounts for matching recent posts and return them as a JSON articles array."
	searchPrompt      = "Search for the given query and return matching articles as a JSON articles array."
)

// BuildTasks constructs one Task per enabled source, per spec §4.7's task
// construction rules. topKeywords supplies the space-joined top-N group
// keywords appended to non-Twitter Search sources' own query.
func BuildTasks(sources []SourceConfig, topKeywords []string) []Task {
	keywordSuffix := strings.Join(topKeywords, " ")
	tasks := make([]Task, 0, len(sources))
	for _, source := range sources {
		if !source.Enabled {
			continue
		}
		switch {
		case source.CollectMethod == CollectDirectFetch:
			tasks = append(tasks, Task{
				SourceID: source.ID,
				Method:   CollectDirectFetch,
				URL:      source.URL,
				Prompt:   directFetchPrompt,
			})
		case len(source.Accounts) > 0:
			tasks = append(tasks, Task{
				SourceID: source.ID,
				Method:   CollectSearch,
				Query:    buildTwitterQuery(source.Accounts, topKeywords),
				Prompt:   twitterPrompt,
			})
		default:
			query := source.Query
			if keywordSuffix != "" {
				query = strings.TrimSpace(query + " " + keywordSuffix)
			}
			tasks = append(tasks, Task{
				SourceID: source.ID,
				Method:   CollectSearch,
				Query:    query,
				Prompt:   searchPrompt,
			})
		}
	}
	return tasks
}

func buildTwitterQuery(accounts, keywords []string) string {
	accountClauses := make([]string, len(accounts))
	for i, account := range accounts {
		accountClauses[i] = "from:@" + account
	}
	accountExpr := "(" + strings.Join(accountClauses, " OR ") + ")"
	if len(keywords) == 0 {
		return accountExpr
	}
	keywordExpr := "(" + strings.Join(keywords, " OR ") + ")"
	return accountExpr + " " + keywordExpr
}

// Collector runs the per-tier, bounded-concurrency fetch pipeline.
type Collector struct {
	Sources     []SourceConfig
	RateControl RateControl
	Fetchers    *FetcherRegistry
	RepairPrompt string
}

// NewCollector builds a Collector from loaded source configuration.
func NewCollector(sources []SourceConfig, rateControl RateControl, fetchers *FetcherRegistry) *Collector {
	return &Collector{
		Sources:      sources,
		RateControl:  rateControl,
		Fetchers:     fetchers,
		RepairPrompt: "Return ONLY a strict JSON object with an \"articles\" array; no prose, no markdown fences.",
	}
}

// Run executes tier 1, then tier 2, then tier 3, each tier internally bounded
// by rateControl.maxConcurrency and all-settled (one task's failure does not
// cancel siblings). dryRun builds tasks and returns without fetching.
func (c *Collector) Run(ctx context.Context, topKeywords []string, dryRun bool) (CollectionResult, []Task) {
	tasks := BuildTasks(c.Sources, topKeywords)
	if dryRun {
		return CollectionResult{}, tasks
	}

	bySource := make(map[string]SourceConfig, len(c.Sources))
	for _, s := range c.Sources {
		bySource[s.ID] = s
	}

	tiers := groupTasksByTier(tasks, bySource)
	var allArticles []RawArticle
	var allResults []TaskResult
	var tierSummaries []TierSummary

	for _, tier := range tiers {
		results := c.runTier(ctx, tier.tasks, bySource)
		summary := TierSummary{Tier: tier.tier}
		for i, result := range results {
			switch result.Status {
			case StatusSuccess:
				summary.Succeeded++
			case StatusPartial:
				summary.Partial++
			case StatusFailed:
				summary.Failed++
			}
			allArticles = append(allArticles, result.Articles...)
			allResults = append(allResults, result)
			_ = i
		}
		tierSummaries = append(tierSummaries, summary)
	}

	return CollectionResult{Articles: allArticles, Results: allResults, Tiers: tierSummaries}, tasks
}

type tierTasks struct {
	tier  int
	tasks []Task
}

func groupTasksByTier(tasks []Task, bySource map[string]SourceConfig) []tierTasks {
	byTier := make(map[int][]Task)
	for _, task := range tasks {
		tier := bySource[task.SourceID].Tier
		byTier[tier] = append(byTier[tier], task)
	}
	tierNumbers := make([]int, 0, len(byTier))
	for tier := range byTier {
		tierNumbers = append(tierNumbers, tier)
	}
	sort.Ints(tierNumbers)
	ordered := make([]tierTasks, 0, len(tierNumbers))
	for _, tier := range tierNumbers {
		ordered = append(ordered, tierTasks{tier: tier, tasks: byTier[tier]})
	}
	return ordered
}

func (c *Collector) runTier(ctx context.Context, tasks []Task, bySource map[string]SourceConfig) []TaskResult {
	results := make([]TaskResult, len(tasks))
	group, groupCtx := errgroup.WithContext(ctx)
	limit := c.RateControl.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task
		group.Go(func() error {
			source := bySource[task.SourceID]
			results[i] = c.runTask(groupCtx, task, source)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func (c *Collector) runTask(ctx context.Context, task Task, source SourceConfig) TaskResult {
	timeout, retryInterval, configuredRetries := c.RateControl.forSource(source.ID)
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	maxRetries := EffectiveMaxRetries(configuredRetries, source.Tier)

	fetcher, err := c.Fetchers.Fetcher("")
	if err != nil {
		return TaskResult{
			SourceID: task.SourceID,
			Status:   StatusFailed,
			Err:      &FetchError{Kind: ErrorUnknown, SourceID: task.SourceID, Message: err.Error()},
		}
	}

	doFetch := func(attemptCtx context.Context) FetchOutcome {
		switch task.Method {
		case CollectDirectFetch:
			return fetcher.ExecuteDirect(attemptCtx, task.URL, task.Prompt, task.SourceID, FetchOpts{Timeout: timeout})
		default:
			return fetcher.ExecuteSearch(attemptCtx, task.Query, task.Prompt, task.SourceID, FetchOpts{Timeout: timeout})
		}
	}

	var lastContent string
	result := Attempt(ctx, timeout, retryInterval, maxRetries, task.SourceID, func(attemptCtx context.Context) FetchOutcome {
		outcome := doFetch(attemptCtx)
		if outcome.OK {
			lastContent = outcome.Content
		}
		return outcome
	})
	if result.Status != StatusSuccess {
		return result
	}

	now := globaltime.UTC()
	articles, parseErr := ParseArticlesPayload(lastContent, task.SourceID, now)
	if parseErr == nil {
		return TaskResult{SourceID: task.SourceID, Status: StatusSuccess, Articles: articles, RetryCount: result.RetryCount}
	}

	if source.RepairEligible && task.Method == CollectDirectFetch {
		repaired := fetcher.ExecuteDirect(ctx, task.URL, c.RepairPrompt+"\n\n"+lastContent, task.SourceID, FetchOpts{Timeout: timeout})
		if repaired.OK {
			if articles, repairErr := ParseArticlesPayload(repaired.Content, task.SourceID, now); repairErr == nil {
				status := StatusSuccess
				if len(articles) == 0 {
					status = StatusFailed
				}
				return TaskResult{SourceID: task.SourceID, Status: status, Articles: articles, RetryCount: result.RetryCount}
			}
		}
	}

	preview := CollapsePreview(lastContent, 120)
	fetchErr := &FetchError{
		Kind:       ErrorParse,
		SourceID:   task.SourceID,
		RetryCount: result.RetryCount,
		Timestamp:  now,
		Message:    fmt.Sprintf("parse: %v (preview: %q)", parseErr, preview),
	}
	status := StatusFailed
	if len(articles) > 0 {
		status = StatusPartial
	}
	return TaskResult{SourceID: task.SourceID, Status: status, Articles: articles, Err: fetchErr, RetryCount: result.RetryCount}
}
