package llm

import "testing"

func TestTruncateShorterThanMaxUnchanged(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("truncate: got %q", got)
	}
}

func TestTruncateLongerThanMaxCut(t *testing.T) {
	if got := truncate("hello world", 5); got != "hello" {
		t.Fatalf("truncate: got %q", got)
	}
}

func TestEmbedBatchEmptyInputReturnsNil(t *testing.T) {
	c := NewEmbeddingClient("", "", "test-model")
	out, err := c.EmbedBatch(nil, nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := CosineSimilarity(v, v); got < 0.999 || got > 1.001 {
		t.Fatalf("expected ~1.0 for identical vectors, got %v", got)
	}
}

func TestL2NormalizeProducesUnitVector(t *testing.T) {
	v := L2Normalize([]float32{3, 4})
	got := CosineSimilarity(v, v)
	if got < 0.999 || got > 1.001 {
		t.Fatalf("expected unit vector after normalize, cosine with self = %v", got)
	}
}
