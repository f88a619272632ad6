package aggregator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseResult is the outcome of one Date Parser layer or of the combined
// multi-layer/method-dispatched entry points.
type ParseResult struct {
	Date       *time.Time
	Confidence DateConfidence
	Source     DateSource
}

var unresolvedDate = ParseResult{Date: nil, Confidence: ConfidenceUnknown, Source: SourceFirstSeenAt}

// ParseExplicit is Date Parser Layer 1: parse a timestamp string in any
// recognisable form.
func ParseExplicit(value string) (ParseResult, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ParseResult{}, false
	}
	parsed, err := dateparse.ParseAny(trimmed)
	if err != nil {
		return ParseResult{}, false
	}
	utc := parsed.UTC()
	return ParseResult{Date: &utc, Confidence: ConfidenceHigh, Source: SourcePublishedAt}, true
}

var urlDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/(\d{4})[-/](\d{2})[-/](\d{2})/`),
	regexp.MustCompile(`[?&]date=(\d{4})[-/](\d{2})[-/](\d{2})`),
	regexp.MustCompile(`/articles?/(\d{4})(\d{2})(\d{2})`),
}

// ParseURLPath is Date Parser Layer 2: try the built-in URL-path date
// patterns in order, or a single caller-supplied override pattern if given.
// The override must carry three capture groups: year, month, day.
func ParseURLPath(rawURL string, override *regexp.Regexp) (ParseResult, bool) {
	patterns := urlDatePatterns
	if override != nil {
		patterns = []*regexp.Regexp{override}
	}
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(rawURL)
		if match == nil || len(match) < 4 {
			continue
		}
		year, err1 := strconv.Atoi(match[1])
		month, err2 := strconv.Atoi(match[2])
		day, err3 := strconv.Atoi(match[3])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return ParseResult{Date: &date, Confidence: ConfidenceMedium, Source: SourceURLDate}, true
	}
	return ParseResult{}, false
}

type relativeUnit struct {
	pattern *regexp.Regexp
	unit    time.Duration
}

var englishRelativeUnits = []relativeUnit{
	{regexp.MustCompile(`(?i)(\d+)\s*seconds?\s+ago`), time.Second},
	{regexp.MustCompile(`(?i)(\d+)\s*minutes?\s+ago`), time.Minute},
	{regexp.MustCompile(`(?i)(\d+)\s*hours?\s+ago`), time.Hour},
	{regexp.MustCompile(`(?i)(\d+)\s*days?\s+ago`), 24 * time.Hour},
	{regexp.MustCompile(`(?i)(\d+)\s*weeks?\s+ago`), 7 * 24 * time.Hour},
	{regexp.MustCompile(`(?i)(\d+)\s*months?\s+ago`), 30 * 24 * time.Hour},
}

var japaneseRelativeUnits = []relativeUnit{
	{regexp.MustCompile(`(\d+)\s*秒前`), time.Second},
	{regexp.MustCompile(`(\d+)\s*分前`), time.Minute},
	{regexp.MustCompile(`(\d+)\s*時間前`), time.Hour},
	{regexp.MustCompile(`(\d+)\s*日前`), 24 * time.Hour},
	{regexp.MustCompile(`(\d+)\s*週間前`), 7 * 24 * time.Hour},
	{regexp.MustCompile(`(\d+)\s*(?:ヶ月|か月)前`), 30 * 24 * time.Hour},
}

// ParseRelativeTime is Date Parser Layer 3: match the Japanese/English
// relative-time phrase table and subtract from ref.
func ParseRelativeTime(text string, ref time.Time) (ParseResult, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult{}, false
	}

	for _, group := range [][]relativeUnit{englishRelativeUnits, japaneseRelativeUnits} {
		for _, ru := range group {
			match := ru.pattern.FindStringSubmatch(trimmed)
			if match == nil {
				continue
			}
			n, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			resolved := ref.Add(-time.Duration(n) * ru.unit).UTC()
			return ParseResult{Date: &resolved, Confidence: ConfidenceLow, Source: SourceRelativeTime}, true
		}
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(trimmed, "昨日"), strings.Contains(lower, "yesterday"):
		resolved := ref.Add(-24 * time.Hour).UTC()
		return ParseResult{Date: &resolved, Confidence: ConfidenceLow, Source: SourceRelativeTime}, true
	case strings.Contains(trimmed, "今日"), strings.Contains(lower, "today"):
		resolved := ref.UTC()
		return ParseResult{Date: &resolved, Confidence: ConfidenceLow, Source: SourceRelativeTime}, true
	case strings.Contains(trimmed, "先週"), strings.Contains(lower, "last week"):
		resolved := ref.Add(-7 * 24 * time.Hour).UTC()
		return ParseResult{Date: &resolved, Confidence: ConfidenceLow, Source: SourceRelativeTime}, true
	}

	return ParseResult{}, false
}

// ParseMultiLayer runs layers 1-3 in order and returns the first that
// resolves. If all fail, it returns the "none" sentinel instructing the
// caller to fall back on history.
func ParseMultiLayer(explicit, rawURL, relativeText string, ref time.Time) ParseResult {
	if result, ok := ParseExplicit(explicit); ok {
		return result
	}
	if result, ok := ParseURLPath(rawURL, nil); ok {
		return result
	}
	if result, ok := ParseRelativeTime(relativeText, ref); ok {
		return result
	}
	return unresolvedDate
}

// ParseByMethod dispatches to the layer indicated by a SourceConfig's
// dateMethod.
func ParseByMethod(method DateMethod, explicit, rawURL, relativeText string, datePattern *regexp.Regexp, ref time.Time) ParseResult {
	switch method {
	case DateMethodHTMLMeta, DateMethodAPI:
		if result, ok := ParseExplicit(explicit); ok {
			return result
		}
	case DateMethodURLParse:
		if result, ok := ParseURLPath(rawURL, datePattern); ok {
			return result
		}
	case DateMethodHTMLParse, DateMethodSearchResult:
		if result, ok := ParseRelativeTime(relativeText, ref); ok {
			return result
		}
	}
	return unresolvedDate
}

// WindowStart implements the Monday-aware freshness window per spec: on a
// Monday (UTC), the window is the earlier of lastSuccessAt and now-72h (or
// exactly now-72h when lastSuccessAt is absent); otherwise it's
// lastSuccessAt, or now-24h when absent.
func WindowStart(lastSuccessAt *time.Time, now time.Time) time.Time {
	now = now.UTC()
	if now.Weekday() == time.Monday {
		catchUp := now.Add(-72 * time.Hour)
		if lastSuccessAt == nil {
			return catchUp
		}
		last := lastSuccessAt.UTC()
		if last.Before(catchUp) {
			return last
		}
		return catchUp
	}
	if lastSuccessAt != nil {
		return lastSuccessAt.UTC()
	}
	return now.Add(-24 * time.Hour)
}

// FreshnessResult is the outcome of classifying a resolved date against the
// freshness window.
type FreshnessResult struct {
	IsFresh      bool
	Priority     FreshnessPriority
	Source       DateSource
	ResolvedDate *time.Time
}

// ClassifyFreshness takes an already-resolved (date, source) pair — the
// output of ParseMultiLayer/ParseByMethod — and the freshness window start,
// and decides fresh/priority. A nil date is the conservative keep-on-doubt
// case: fresh, low priority, source none.
func ClassifyFreshness(resolved ParseResult, windowStart time.Time) FreshnessResult {
	if resolved.Date == nil {
		return FreshnessResult{IsFresh: true, Priority: PriorityLow, Source: SourceNone}
	}

	priority := priorityForSource(resolved.Source)
	fresh := !resolved.Date.Before(windowStart)
	return FreshnessResult{
		IsFresh:      fresh,
		Priority:     priority,
		Source:       resolved.Source,
		ResolvedDate: resolved.Date,
	}
}

func priorityForSource(source DateSource) FreshnessPriority {
	switch source {
	case SourcePublishedAt:
		return PriorityHigh
	case SourceURLDate, SourceRelativeTime:
		return PriorityNormal
	default:
		return PriorityLow
	}
}
