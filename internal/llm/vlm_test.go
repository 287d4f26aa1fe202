package llm

import (
	"context"
	"testing"
	"time"
)

func TestParseVlmResponseValidJSON(t *testing.T) {
	raw := `{"summary":"writing code","activity_type":"coding","confidence":0.8}`
	result := parseVlmResponse(raw)
	if result.Summary != "writing code" || result.ActivityType != "coding" {
		t.Fatalf("unexpected parse result: %+v", result)
	}
	if result.RawResponse != raw {
		t.Fatalf("expected raw response preserved, got %q", result.RawResponse)
	}
}

func TestParseVlmResponseStripsJSONFence(t *testing.T) {
	raw := "```json\n{\"summary\":\"reading docs\"}\n```"
	result := parseVlmResponse(raw)
	if result.Summary != "reading docs" {
		t.Fatalf("expected fence stripped before parsing, got %+v", result)
	}
}

func TestParseVlmResponseDefaultsActivityType(t *testing.T) {
	result := parseVlmResponse(`{"summary":"idle"}`)
	if result.ActivityType != "other" {
		t.Fatalf("expected default activity_type 'other', got %q", result.ActivityType)
	}
}

func TestParseVlmResponseFallsBackOnInvalidJSON(t *testing.T) {
	result := parseVlmResponse("the model said something that isn't JSON at all")
	if result.ActivityType != "other" || result.Confidence != 0.5 {
		t.Fatalf("expected degraded fallback contract, got %+v", result)
	}
	if result.RawResponse == "" {
		t.Fatal("expected raw response preserved on fallback")
	}
}

func TestStripJSONFenceVariants(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripJSONFence(in); got != want {
			t.Fatalf("stripJSONFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVlmClientAnalyzeServesCacheHitWithoutNetworkCall(t *testing.T) {
	c := NewVlmClient("", "", "test-model", 0, 0)
	hash := [8]byte{1, 2, 3}
	cached := VlmResult{Summary: "cached verdict", ActivityType: "coding"}

	c.mu.Lock()
	c.cache[hash] = cacheEntry{result: cached, expiresAt: time.Now().Add(time.Minute)}
	c.mu.Unlock()

	got, err := c.Analyze(context.Background(), []byte{0xFF, 0xD8}, hash, "prompt")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Summary != "cached verdict" {
		t.Fatalf("expected cache hit result, got %+v", got)
	}

	hits, misses := c.CacheStats()
	if hits != 1 || misses != 0 {
		t.Fatalf("expected 1 hit 0 misses, got hits=%d misses=%d", hits, misses)
	}
}

func TestVlmClientCleanupCacheDropsExpiredEntries(t *testing.T) {
	c := NewVlmClient("", "", "test-model", 0, 0)
	expired := [8]byte{9}
	fresh := [8]byte{8}

	c.mu.Lock()
	c.cache[expired] = cacheEntry{result: VlmResult{Summary: "old"}, expiresAt: time.Now().Add(-time.Second)}
	c.cache[fresh] = cacheEntry{result: VlmResult{Summary: "new"}, expiresAt: time.Now().Add(time.Minute)}
	c.order = []cacheKeyTime{{key: expired, at: time.Now()}, {key: fresh, at: time.Now()}}
	c.mu.Unlock()

	c.cleanupCache()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[expired]; ok {
		t.Fatal("expected expired entry pruned")
	}
	if _, ok := c.cache[fresh]; !ok {
		t.Fatal("expected fresh entry retained")
	}
	if len(c.order) != 1 || c.order[0].key != fresh {
		t.Fatalf("expected order to retain only the fresh key, got %+v", c.order)
	}
}

func TestVlmClientClearCacheResetsCountersAndEntries(t *testing.T) {
	c := NewVlmClient("", "", "test-model", 0, 0)
	c.mu.Lock()
	c.cache[[8]byte{1}] = cacheEntry{result: VlmResult{}, expiresAt: time.Now().Add(time.Minute)}
	c.hits = 3
	c.misses = 5
	c.mu.Unlock()

	c.ClearCache()

	hits, misses := c.CacheStats()
	if hits != 0 || misses != 0 {
		t.Fatalf("expected counters reset, got hits=%d misses=%d", hits, misses)
	}
	c.mu.Lock()
	n := len(c.cache)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected cache emptied, got %d entries", n)
	}
}

func TestNewVlmClientAppliesDefaults(t *testing.T) {
	c := NewVlmClient("", "", "m", 0, 0)
	if c.maxTokens != defaultMaxTokens {
		t.Fatalf("expected default max tokens %d, got %d", defaultMaxTokens, c.maxTokens)
	}
	if c.temperature != float32(defaultTemperature) {
		t.Fatalf("expected default temperature %v, got %v", defaultTemperature, c.temperature)
	}
}
