package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	vlmTimeout        = 120 * time.Second
	vlmCacheCap       = 100
	vlmCacheTTL       = 300 * time.Second
	defaultMaxTokens  = 512
	defaultTemperature = 0.3
)

// VlmResult is the parsed contract a vision-capable chat completion must
// satisfy: one screenshot in, one structured verdict out.
type VlmResult struct {
	Summary            string   `json:"summary"`
	TextContent        string   `json:"text_content"`
	DetectedApp        string   `json:"detected_app"`
	ActivityType       string   `json:"activity_type"`
	Entities           []string `json:"entities"`
	Confidence         float64  `json:"confidence"`
	IsKeyAction        bool     `json:"is_key_action"`
	ActionDescription  string   `json:"action_description"`
	ExistingSessionID  *int64   `json:"existing_session_id"`
	SessionTitle       string   `json:"session_title"`
	SessionDescription string   `json:"session_description"`

	RawResponse string `json:"-"`
}

type cacheEntry struct {
	result    VlmResult
	expiresAt time.Time
}

// VlmClient drives an OpenAI-compatible vision chat endpoint, with a
// bounded dHash-keyed LRU cache of recent verdicts so a near-duplicate
// screenshot doesn't cost a second round trip.
type VlmClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32

	mu    sync.Mutex
	cache map[[8]byte]cacheEntry
	order []cacheKeyTime
	hits  int
	misses int
}

type cacheKeyTime struct {
	key [8]byte
	at  time.Time
}

// NewVlmClient builds a client against endpoint with the given model,
// max_tokens, and temperature (0 values fall back to package defaults).
func NewVlmClient(endpoint, apiKey, model string, maxTokens int, temperature float64) *VlmClient {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return &VlmClient{
		client:      newClient(endpoint, apiKey, vlmTimeout),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		cache:       make(map[[8]byte]cacheEntry),
	}
}

// Analyze sends one screenshot + prompt to the VLM and returns the parsed
// verdict, consulting the dHash-keyed cache first.
func (c *VlmClient) Analyze(ctx context.Context, jpegBytes []byte, hash [8]byte, promptText string) (VlmResult, error) {
	c.cleanupCache()

	c.mu.Lock()
	if e, ok := c.cache[hash]; ok && time.Now().Before(e.expiresAt) {
		c.hits++
		c.mu.Unlock()
		return e.result, nil
	}
	c.misses++
	c.mu.Unlock()

	dataURI, err := dataURIForVlm(jpegBytes)
	if err != nil {
		return VlmResult{}, fmt.Errorf("prepare image: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: promptText},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURI}},
				},
			},
		},
	})
	if err != nil {
		return VlmResult{}, fmt.Errorf("vlm chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return VlmResult{}, fmt.Errorf("vlm chat completion: no choices")
	}

	content := resp.Choices[0].Message.Content
	result := parseVlmResponse(content)

	c.mu.Lock()
	c.cache[hash] = cacheEntry{result: result, expiresAt: time.Now().Add(vlmCacheTTL)}
	c.order = append(c.order, cacheKeyTime{key: hash, at: time.Now()})
	for len(c.cache) > vlmCacheCap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest.key)
	}
	c.mu.Unlock()

	return result, nil
}

// Chat services the chat-with-memory flow using the same endpoint with
// role messages instead of a vision payload.
func (c *VlmClient) Chat(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseVlmResponse parses the VLM's JSON reply, tolerating a ```json fence,
// and falls back to a degraded verdict (raw text as the summary) on parse
// failure rather than erroring the whole trace out of the pipeline.
func parseVlmResponse(content string) VlmResult {
	text := stripJSONFence(content)

	var r VlmResult
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return VlmResult{
			Summary:      truncate(content, 200),
			ActivityType: "other",
			Confidence:   0.5,
			RawResponse:  content,
		}
	}
	r.RawResponse = content
	if r.ActivityType == "" {
		r.ActivityType = "other"
	}
	return r
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}

// cleanupCache prunes expired entries.
func (c *VlmClient) cleanupCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.cache {
		if now.After(e.expiresAt) {
			delete(c.cache, k)
		}
	}
	kept := c.order[:0]
	for _, kt := range c.order {
		if _, ok := c.cache[kt.key]; ok {
			kept = append(kept, kt)
		}
	}
	c.order = kept
}

// clearCache resets both the cache and the hit/miss counters.
func (c *VlmClient) clearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[[8]byte]cacheEntry)
	c.order = nil
	c.hits = 0
	c.misses = 0
}

// CacheStats reports cumulative cache hits/misses since the last ClearCache,
// for callers that want visibility into how often the dHash cache is paying
// for itself.
func (c *VlmClient) CacheStats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// ClearCache exposes clearCache to callers outside the package (e.g. an
// admin/debug endpoint).
func (c *VlmClient) ClearCache() { c.clearCache() }
