package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// embeddingDimensions matches news.article_embeddings.embedding's
// vector(4096) column.
const embeddingDimensions = 4096

const (
	// semanticAutoMergeCosine alone is enough to auto-merge regardless of
	// title overlap.
	semanticAutoMergeCosine = 0.96
	// semanticPairCosine combined with semanticPairTitleOverlap auto-merges
	// a case the cosine-alone threshold misses.
	semanticPairCosine        = 0.93
	semanticPairTitleOverlap  = 0.30
	semanticGrayZoneLowerBand = 0.85
)

// normalizeEmbeddingEndpoint appends the default "/embed" route to a bare
// host:port endpoint, leaving an endpoint that already names a path alone.
func normalizeEmbeddingEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return endpoint
	}
	schemeIdx := strings.Index(endpoint, "://")
	afterScheme := endpoint
	if schemeIdx >= 0 {
		afterScheme = endpoint[schemeIdx+3:]
	}
	if strings.Contains(afterScheme, "/") {
		return endpoint
	}
	return endpoint + "/embed"
}

// toVectorLiteral renders a float64 embedding as the pgvector text literal
// GORM writes into news.article_embeddings.embedding, validating the vector
// carries the expected dimensionality.
func toVectorLiteral(vector []float64) (string, error) {
	if len(vector) != embeddingDimensions {
		return "", fmt.Errorf("pipeline: embedding has %d dimensions, want %d", len(vector), embeddingDimensions)
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String(), nil
}

// shouldAutoMergeSemantic decides whether a cosine similarity and title
// token-overlap pair is confident enough to auto-merge two candidates
// without further Layer-3 fuzzy agreement.
func shouldAutoMergeSemantic(cosine, titleOverlap float64) bool {
	if cosine >= semanticAutoMergeCosine {
		return true
	}
	return cosine >= semanticPairCosine && titleOverlap >= semanticPairTitleOverlap
}

// shouldMarkSemanticGrayZone reports whether cosine alone, without a title
// overlap signal, sits in the band worth an escalated semantic check: below
// the auto-merge-eligible threshold but well above noise.
func shouldMarkSemanticGrayZone(cosine float64) bool {
	return cosine >= semanticGrayZoneLowerBand && cosine < semanticPairCosine
}

// semanticCompositeScore blends embedding cosine similarity, title overlap,
// and publish-date consistency into a single (0,1] confidence. Resolve does
// not call it, and it never gates the auto-merge decision.
func semanticCompositeScore(cosine, titleOverlap, dateConsistency float64) float64 {
	score := 0.6*cosine + 0.25*titleOverlap + 0.15*dateConsistency
	if score <= 0 {
		return 0.0001
	}
	if score > 1 {
		return 1
	}
	return score
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EmbeddingClient calls an embedding service reachable at a normalised
// endpoint and returns one vector per input text.
type EmbeddingClient struct {
	Endpoint   string
	ModelName  string
	HTTPClient *http.Client
}

// NewEmbeddingClient builds a client against endpoint, defaulting the HTTP
// client's timeout to 30s.
func NewEmbeddingClient(endpoint, modelName string) *EmbeddingClient {
	return &EmbeddingClient{
		Endpoint:   normalizeEmbeddingEndpoint(endpoint),
		ModelName:  modelName,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
	Model  string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed requests embeddings for texts in a single batched call.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if c == nil || c.Endpoint == "" {
		return nil, fmt.Errorf("pipeline: embedding client has no endpoint configured")
	}
	body, err := json.Marshal(embedRequest{Inputs: texts, Model: c.ModelName})
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pipeline: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("pipeline: embed service returned status %d", resp.StatusCode)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("pipeline: decode embed response: %w", err)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("pipeline: embed service returned %d vector(s) for %d input(s)", len(decoded.Embeddings), len(texts))
	}
	return decoded.Embeddings, nil
}

// SemanticResolver implements aggregator.GrayZoneResolver by embedding the
// two candidate titles and deciding auto-merge eligibility from their
// cosine similarity and token overlap. It is consulted by Deduplicator
// Stage 4 only when the Layer-3 fuzzy verdict is already borderline.
type SemanticResolver struct {
	Client *EmbeddingClient
	Logger zerolog.Logger
}

// NewSemanticResolver returns a resolver bound to endpoint, or nil if
// endpoint is empty, signalling the caller that semantic enrichment is
// disabled.
func NewSemanticResolver(endpoint, modelName string, logger zerolog.Logger) *SemanticResolver {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	return &SemanticResolver{Client: NewEmbeddingClient(endpoint, modelName), Logger: logger}
}

// Resolve embeds titleA and titleB, and reports isDuplicate per
// shouldAutoMergeSemantic. ok is false whenever the embedding call itself
// fails, so the caller falls back to its own Layer-3 verdict instead of
// treating a network error as a dedup decision.
func (r *SemanticResolver) Resolve(ctx context.Context, titleA, titleB string) (isDuplicate bool, ok bool) {
	if r == nil || r.Client == nil {
		return false, false
	}
	vectors, err := r.Client.Embed(ctx, []string{titleA, titleB})
	if err != nil {
		r.Logger.Warn().Err(err).Msg("semantic gray-zone resolver: embed call failed")
		return false, false
	}
	cosine := cosineSimilarity(vectors[0], vectors[1])
	overlap := titleTokenJaccard(titleA, titleB)
	return shouldAutoMergeSemantic(cosine, overlap), true
}
