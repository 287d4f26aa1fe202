package phash

import "testing"

func solidFrame(w, h int, v byte) []byte {
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = v
		pixels[i+1] = v
		pixels[i+2] = v
		pixels[i+3] = 255
	}
	return pixels
}

func TestHashIdenticalInputsMatch(t *testing.T) {
	pixels := solidFrame(100, 100, 128)
	h1 := Hash(pixels, 100, 100)
	h2 := Hash(pixels, 100, 100)
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %x vs %x", h1, h2)
	}
	if d := HammingDistance(h1, h2); d != 0 {
		t.Fatalf("expected distance 0, got %d", d)
	}
}

func TestHashDifferentImagesDiffer(t *testing.T) {
	white := solidFrame(100, 100, 255)
	black := solidFrame(100, 100, 0)

	// Solid colors produce no left>right edges, so dHash is all-zero for
	// both; use a gradient that darkens left to right so every sampled
	// left pixel is brighter than its right neighbour.
	gradient := make([]byte, 100*100*4)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			idx := (y*100 + x) * 4
			v := byte(255 - (x*255)/100)
			gradient[idx] = v
			gradient[idx+1] = v
			gradient[idx+2] = v
			gradient[idx+3] = 255
		}
	}

	hWhite := Hash(white, 100, 100)
	hGradient := Hash(gradient, 100, 100)
	if hWhite == hGradient {
		t.Fatalf("expected different hashes for solid vs gradient")
	}
	if HammingDistance(hWhite, hGradient) == 0 {
		t.Fatalf("expected nonzero distance")
	}
	_ = black
}

func TestHammingDistanceBoundary(t *testing.T) {
	a := [8]byte{0xFF, 0, 0, 0, 0, 0, 0, 0}
	b := [8]byte{0, 0, 0, 0, 0, 0, 0, 0}
	if d := HammingDistance(a, b); d != 8 {
		t.Fatalf("expected 8 differing bits, got %d", d)
	}
}
