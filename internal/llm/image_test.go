package llm

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode fixture jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestDataURIForVlmSmallImagePassesThrough(t *testing.T) {
	raw := encodeTestJPEG(t, 100, 80)
	uri, err := dataURIForVlm(raw)
	if err != nil {
		t.Fatalf("dataURIForVlm: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Fatalf("expected a jpeg data URI, got prefix: %.40s", uri)
	}
}

func TestDataURIForVlmDownsamplesOversizedImage(t *testing.T) {
	raw := encodeTestJPEG(t, 1920, 1080)
	uri, err := dataURIForVlm(raw)
	if err != nil {
		t.Fatalf("dataURIForVlm: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Fatalf("expected a jpeg data URI, got prefix: %.40s", uri)
	}
}

func TestDataURIForVlmInvalidBytesErrors(t *testing.T) {
	if _, err := dataURIForVlm([]byte("not a jpeg")); err == nil {
		t.Fatal("expected an error decoding non-jpeg bytes")
	}
}

func TestResizeProducesRequestedDimensions(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	dst := resize(src, 10, 10)
	b := dst.Bounds()
	if b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("expected 10x10 output, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestMax1ClampsToOne(t *testing.T) {
	if got := max1(0); got != 1 {
		t.Fatalf("max1(0) = %d, want 1", got)
	}
	if got := max1(-5); got != 1 {
		t.Fatalf("max1(-5) = %d, want 1", got)
	}
	if got := max1(42); got != 42 {
		t.Fatalf("max1(42) = %d, want 42", got)
	}
}
