package screencapture

import (
	"testing"

	"github.com/TokenRollAI/engram/internal/types"
)

func TestCapturePrimaryMonitorReturnsFrame(t *testing.T) {
	frame, err := Capture(NullGrabber{}, ModePrimaryMonitor, types.FocusContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Width != 1 || frame.Height != 1 {
		t.Fatalf("expected 1x1 frame from NullGrabber, got %dx%d", frame.Width, frame.Height)
	}
}

func TestCaptureActiveWindowFallsBackToMonitor(t *testing.T) {
	focus := types.FocusContext{HasPID: true, PID: 999}
	frame, err := Capture(NullGrabber{}, ModeActiveWindow, focus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Width == 0 || frame.Height == 0 {
		t.Fatalf("expected fallback frame, got empty frame")
	}
}

func TestDownsampleShrinksOversizedFrame(t *testing.T) {
	w, h := 3840, 2160
	pixels := make([]byte, w*h*4)
	for i := 3; i < len(pixels); i += 4 {
		pixels[i] = 255
	}
	frame := types.CapturedFrame{Pixels: pixels, Width: w, Height: h}

	out := downsample(frame)
	if out.Width > maxWidth || out.Height > maxHeight {
		t.Fatalf("expected downsampled frame within %dx%d, got %dx%d", maxWidth, maxHeight, out.Width, out.Height)
	}
	wantRatio := float64(w) / float64(h)
	gotRatio := float64(out.Width) / float64(out.Height)
	if diff := wantRatio - gotRatio; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected aspect ratio preserved, want %f got %f", wantRatio, gotRatio)
	}
}

func TestDownsampleNoopWhenWithinBounds(t *testing.T) {
	frame := types.CapturedFrame{Pixels: make([]byte, 100*100*4), Width: 100, Height: 100}
	out := downsample(frame)
	if out.Width != 100 || out.Height != 100 {
		t.Fatalf("expected no-op for small frame, got %dx%d", out.Width, out.Height)
	}
}

func TestEncodeJPEGProducesValidHeader(t *testing.T) {
	frame := types.CapturedFrame{Pixels: make([]byte, 10*10*4), Width: 10, Height: 10}
	data, err := EncodeJPEG(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("expected JPEG SOI marker, got % x", data[:2])
	}
}
