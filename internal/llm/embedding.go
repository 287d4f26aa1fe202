package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/TokenRollAI/engram/internal/vecutil"
)

const (
	maxEmbeddingChars = 8000
	embeddingTimeout  = 30 * time.Second
)

// EmbeddingClient wraps an OpenAI-compatible /v1/embeddings endpoint.
// Text longer than 8000 chars is truncated before sending.
type EmbeddingClient struct {
	client *openai.Client
	model  string
}

// NewEmbeddingClient builds a client against endpoint (empty means the
// go-openai default, https://api.openai.com/v1).
func NewEmbeddingClient(endpoint, apiKey, model string) *EmbeddingClient {
	return &EmbeddingClient{client: newClient(endpoint, apiKey, embeddingTimeout), model: model}
}

// Embed returns a single text's embedding vector.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("embedding: empty response")
	}
	return out[0], nil
}

// EmbedBatch embeds multiple texts in one request, preserving input order.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = truncate(t, maxEmbeddingChars)
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: inputs,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(inputs), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// CosineSimilarity and L2Normalize are re-exported so callers that only
// import internal/llm don't also need internal/vecutil for the common case.
func CosineSimilarity(a, b []float32) float64 { return vecutil.CosineSimilarity(a, b) }
func L2Normalize(v []float32) []float32       { return vecutil.L2Normalize(v) }
