package vecutil

import "testing"

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3.125}
	out := DeserializeF32(SerializeF32(v))
	if len(out) != len(v) {
		t.Fatalf("expected %d elements, got %d", len(v), len(out))
	}
	for i := range v {
		if out[i] != v[i] {
			t.Fatalf("element %d: got %v, want %v", i, out[i], v[i])
		}
	}
}

func TestSerializeF32EmptyVector(t *testing.T) {
	if got := SerializeF32(nil); len(got) != 0 {
		t.Fatalf("expected empty output for empty input, got %v", got)
	}
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected 0 for orthogonal vectors, got %v", got)
	}
}

func TestCosineSimilarityOppositeIsNegativeOne(t *testing.T) {
	got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	if got > -0.999 {
		t.Fatalf("expected ~-1 for opposite vectors, got %v", got)
	}
}

func TestCosineSimilarityMismatchedLengthsIsZero(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", got)
	}
}

func TestCosineSimilarityZeroVectorIsZero(t *testing.T) {
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("expected 0 when one operand is the zero vector, got %v", got)
	}
}

func TestL2NormalizeZeroVectorUnchanged(t *testing.T) {
	out := L2Normalize([]float32{0, 0, 0})
	for _, x := range out {
		if x != 0 {
			t.Fatalf("expected zero vector to stay zero, got %v", out)
		}
	}
}

func TestL2NormalizeUnitLength(t *testing.T) {
	out := L2Normalize([]float32{3, 4})
	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 0.998 || sumSq > 1.002 {
		t.Fatalf("expected unit length (sum of squares ~1), got %v", sumSq)
	}
}
