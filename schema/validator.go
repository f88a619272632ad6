package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed article.schema.json
var articleSchemaJSON string

// ArticlePayload is the canonical shape of one FilteredArticle crossing the
// CLI boundary, whether read from a single object or a batch array written
// by "bulletin run -out".
type ArticlePayload struct {
	URL               string   `json:"URL"`
	Title             string   `json:"Title"`
	Summary           string   `json:"Summary,omitempty"`
	Source            string   `json:"Source"`
	CollectedAt       string   `json:"CollectedAt,omitempty"`
	PublishedAt       string   `json:"PublishedAt,omitempty"`
	DateMetaContent   string   `json:"DateMetaContent,omitempty"`
	NormalizedURL     string   `json:"NormalizedURL,omitempty"`
	IsFresh           bool     `json:"IsFresh,omitempty"`
	DateConfidence    string   `json:"DateConfidence,omitempty"`
	DateSource        string   `json:"DateSource,omitempty"`
	ResolvedDate      *string  `json:"ResolvedDate,omitempty"`
	FreshnessPriority string   `json:"FreshnessPriority,omitempty"`
	SimilarityScore   *float64 `json:"SimilarityScore,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateArticleBatchPayload validates raw JSON against the article schema.
// The payload may be a single article object or an array of them, matching
// both the single-article and "run -out" batch shapes.
func ValidateArticleBatchPayload(payload json.RawMessage) ([]ArticlePayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("payload contains no articles")
	}

	articles := make([]ArticlePayload, 0, len(items))
	for i, raw := range items {
		if err := schema.Validate(raw); err != nil {
			return nil, fmt.Errorf("article[%d]: schema validation failed: %w", i, err)
		}

		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("article[%d]: normalize payload JSON: %w", i, err)
		}

		var article ArticlePayload
		if err := json.Unmarshal(normalized, &article); err != nil {
			return nil, fmt.Errorf("article[%d]: unmarshal payload: %w", i, err)
		}
		if err := validateSemantics(&article); err != nil {
			return nil, fmt.Errorf("article[%d]: %w", i, err)
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("article.schema.json", strings.NewReader(articleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(article *ArticlePayload) error {
	if article == nil {
		return fmt.Errorf("article is nil")
	}

	if strings.TrimSpace(article.Source) == "" {
		return fmt.Errorf("Source must not be empty")
	}
	if strings.TrimSpace(article.Title) == "" {
		return fmt.Errorf("Title must not be empty")
	}
	if err := validateURI("URL", article.URL); err != nil {
		return err
	}
	if article.NormalizedURL != "" {
		if err := validateURI("NormalizedURL", article.NormalizedURL); err != nil {
			return err
		}
	}
	if article.CollectedAt != "" {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(article.CollectedAt)); err != nil {
			return fmt.Errorf("CollectedAt must be RFC3339: %w", err)
		}
	}

	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	return nil
}
