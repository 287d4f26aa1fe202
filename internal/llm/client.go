// Package llm wraps the two OpenAI-compatible endpoints the pipeline calls
// out to — embeddings and chat/vision — behind a provider-agnostic
// contract. Any backend speaking POST {endpoint}/chat/completions and
// {endpoint}/embeddings works here, local or hosted.
package llm

import (
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// newClient builds a go-openai client pointed at an OpenAI-compatible
// endpoint. An empty apiKey is fine for backends that don't check
// Authorization (e.g. a local VLM server).
func newClient(endpoint, apiKey string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}
