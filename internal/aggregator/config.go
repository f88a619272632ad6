package aggregator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourcesFile is the top-level shape of the sources configuration file.
type SourcesFile struct {
	Sources     []SourceConfig `yaml:"sources"`
	RateControl RateControl    `yaml:"rateControl"`
}

// LoadSourcesFile reads and validates the sources configuration file.
func LoadSourcesFile(path string) (*SourcesFile, error) {
	var file SourcesFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	if file.RateControl.MaxConcurrency <= 0 {
		file.RateControl.MaxConcurrency = 1
	}
	seen := make(map[string]struct{}, len(file.Sources))
	for _, source := range file.Sources {
		if strings.TrimSpace(source.ID) == "" {
			return nil, fmt.Errorf("sources config %s: source with empty id", path)
		}
		if _, dup := seen[source.ID]; dup {
			return nil, fmt.Errorf("sources config %s: duplicate source id %q", path, source.ID)
		}
		seen[source.ID] = struct{}{}
	}
	return &file, nil
}

// DisableSource sets enabled=false on the named source in memory and reports
// whether anything changed; Save persists the result. Used by the
// Orchestrator's auto-disable pass, which is the sole writer of this file and
// runs between collection phases only.
func (f *SourcesFile) DisableSource(id string) bool {
	changed := false
	for i := range f.Sources {
		if f.Sources[i].ID == id && f.Sources[i].Enabled {
			f.Sources[i].Enabled = false
			changed = true
		}
	}
	return changed
}

// Save writes the sources file back to path as YAML.
func (f *SourcesFile) Save(path string) error {
	return saveYAML(path, f)
}

// QueryGroup is one weighted keyword group used by the Query Generator.
type QueryGroup struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Weight   float64  `yaml:"weight"`
}

// CombinedQueriesConfig controls pairwise keyword-combination emission.
type CombinedQueriesConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxCombinations int  `yaml:"maxCombinations"`
}

// DateRestrictionConfig holds the optional "within days" window read from the
// queries file; it is loaded but not passed to the Collector or the Fetcher.
type DateRestrictionConfig struct {
	Enabled    bool `yaml:"enabled"`
	WithinDays int  `yaml:"withinDays"`
}

// SelectionConfig controls the Query Generator's top-N and per-source caps.
type SelectionConfig struct {
	TopN         int `yaml:"topN"`
	MaxPerSource int `yaml:"maxPerSource"`
}

// QueriesFile is the top-level shape of the queries configuration file.
type QueriesFile struct {
	QueryGroups     []QueryGroup           `yaml:"queryGroups"`
	CombinedQueries CombinedQueriesConfig  `yaml:"combinedQueries"`
	DateRestriction DateRestrictionConfig  `yaml:"dateRestriction"`
	Selection       SelectionConfig        `yaml:"selection"`
}

// LoadQueriesFile reads and validates the queries configuration file.
func LoadQueriesFile(path string) (*QueriesFile, error) {
	var file QueriesFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	if file.Selection.TopN <= 0 {
		file.Selection.TopN = len(file.QueryGroups)
	}
	if file.Selection.MaxPerSource <= 0 {
		file.Selection.MaxPerSource = file.Selection.TopN
	}
	return &file, nil
}

// TagSynonymsFile maps a canonical tag to its synonyms.
type TagSynonymsFile map[string][]string

// LoadTagSynonymsFile reads the tag-synonyms configuration file.
func LoadTagSynonymsFile(path string) (TagSynonymsFile, error) {
	var file TagSynonymsFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	return file, nil
}

// ReverseIndex builds a case-insensitive synonym → canonical-tag lookup,
// built once and reused across a Query Generator run.
func (f TagSynonymsFile) ReverseIndex() map[string]string {
	index := make(map[string]string)
	for canonical, synonyms := range f {
		index[strings.ToLower(canonical)] = canonical
		for _, synonym := range synonyms {
			index[strings.ToLower(synonym)] = canonical
		}
	}
	return index
}

// DedupThresholdsFile is the on-disk shape of DedupThresholds.
type DedupThresholdsFile = DedupThresholds

// LoadDedupThresholdsFile reads and validates the dedup-thresholds configuration file.
func LoadDedupThresholdsFile(path string) (*DedupThresholdsFile, error) {
	var file DedupThresholdsFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	if _, ok := file.Thresholds["default"]; !ok {
		return nil, fmt.Errorf("dedup-thresholds config %s: missing required \"default\" category", path)
	}
	if _, ok := file.Layer2Fallback["default"]; !ok {
		return nil, fmt.Errorf("dedup-thresholds config %s: missing required \"default\" layer2_fallback entry", path)
	}
	return &file, nil
}

// AgentConfig describes how DirectFetch/Search fetches are performed.
type AgentConfig struct {
	RepairEligibleSources []string      `yaml:"repairEligibleSources,omitempty"`
	RequestTimeout        time.Duration `yaml:"requestTimeout,omitempty"`
	UserAgent             string        `yaml:"userAgent,omitempty"`
}

// URLNormalizationConfig describes the app-level URL-normalisation overrides.
type URLNormalizationConfig struct {
	RemoveParams       []string `yaml:"removeParams,omitempty"`
	StripTrailingSlash bool     `yaml:"stripTrailingSlash,omitempty"`
}

// HistorySettings describes the History Store's on-disk location and retention.
type HistorySettings struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

// LoggingSettings mirrors the ambient logger's environment/level knobs.
type LoggingSettings struct {
	Environment string `yaml:"environment,omitempty"`
	Level       string `yaml:"level,omitempty"`
}

// AppFile is the top-level shape of the app configuration file.
type AppFile struct {
	Agent             AgentConfig            `yaml:"agent"`
	URLNormalization  URLNormalizationConfig `yaml:"urlNormalization"`
	History           HistorySettings        `yaml:"history"`
	OutputDir         string                 `yaml:"outputDir,omitempty"`
	Logging           LoggingSettings        `yaml:"logging"`
}

// LoadAppFile reads and validates the app configuration file.
func LoadAppFile(path string) (*AppFile, error) {
	var file AppFile
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	if file.History.RetentionDays <= 0 {
		file.History.RetentionDays = 90
	}
	return &file, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func saveYAML(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal config %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ValidateConfigsExist checks all five configuration files are present
// before the Orchestrator proceeds, per spec step 1.
func ValidateConfigsExist(sourcesPath, queriesPath, tagSynonymsPath, dedupThresholdsPath, appPath string) error {
	for _, path := range []string{sourcesPath, queriesPath, tagSynonymsPath, dedupThresholdsPath, appPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("missing config file %s: %w", path, err)
		}
	}
	return nil
}
