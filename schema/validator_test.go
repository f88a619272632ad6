package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateArticleBatchPayload_SingleObjectValid(t *testing.T) {
	payload := json.RawMessage(`{
		"URL":"https://example.com/story/12345",
		"Title":"Model release",
		"Source":"hackernews",
		"CollectedAt":"2026-02-14T10:00:00Z",
		"PublishedAt":"2026-02-13T14:00:00Z",
		"DateConfidence":"high",
		"DateSource":"published_at",
		"FreshnessPriority":"high"
	}`)

	articles, err := ValidateArticleBatchPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	if articles[0].Source != "hackernews" {
		t.Fatalf("expected Source=hackernews, got %q", articles[0].Source)
	}
}

func TestValidateArticleBatchPayload_BatchArrayValid(t *testing.T) {
	payload := json.RawMessage(`[
		{"URL":"https://a.example.com/1","Title":"A","Source":"src-a"},
		{"URL":"https://b.example.com/2","Title":"B","Source":"src-b"}
	]`)

	articles, err := ValidateArticleBatchPayload(payload)
	if err != nil {
		t.Fatalf("expected batch payload to be valid, got error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
}

func TestValidateArticleBatchPayload_EmptyBatchIsError(t *testing.T) {
	payload := json.RawMessage(`[]`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected validation to fail for an empty batch")
	}
}

func TestValidateArticleBatchPayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"Title":"Missing URL and source",
		"Source":""
	}`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected validation to fail for missing required fields")
	}
}

func TestValidateArticleBatchPayload_WhitespaceTitle(t *testing.T) {
	payload := json.RawMessage(`{
		"URL":"https://example.com/a",
		"Title":"   ",
		"Source":"reddit"
	}`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected validation to fail for whitespace-only title")
	}
	if !strings.Contains(err.Error(), "Title must not be empty") {
		t.Fatalf("expected Title semantic error, got: %v", err)
	}
}

func TestValidateArticleBatchPayload_InvalidCollectedAt(t *testing.T) {
	payload := json.RawMessage(`{
		"URL":"https://example.com/a",
		"Title":"Bad date",
		"Source":"rss",
		"CollectedAt":"not-a-timestamp"
	}`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected validation to fail for invalid CollectedAt")
	}
}

func TestValidateArticleBatchPayload_InvalidDateConfidenceEnum(t *testing.T) {
	payload := json.RawMessage(`{
		"URL":"https://example.com/a",
		"Title":"Bad confidence",
		"Source":"rss",
		"DateConfidence":"certain"
	}`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected validation to fail for an out-of-enum DateConfidence")
	}
}

func TestValidateArticleBatchPayload_InvalidURL(t *testing.T) {
	payload := json.RawMessage(`{
		"URL":"not a url",
		"Title":"Bad url",
		"Source":"rss"
	}`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected validation to fail for a malformed URL")
	}
}

func TestValidateArticleBatchPayload_ThirdItemInBatchFailsWholeBatch(t *testing.T) {
	payload := json.RawMessage(`[
		{"URL":"https://a.example.com/1","Title":"A","Source":"src-a"},
		{"URL":"https://b.example.com/2","Title":"B","Source":"src-b"},
		{"URL":"https://c.example.com/3","Title":"","Source":"src-c"}
	]`)

	_, err := ValidateArticleBatchPayload(payload)
	if err == nil {
		t.Fatal("expected the batch to fail because its third item is invalid")
	}
	if !strings.Contains(err.Error(), "article[2]") {
		t.Fatalf("expected the error to identify the failing index, got: %v", err)
	}
}
