// Package screencapture acquires one frame of the screen, picks a monitor
// or window per the configured CaptureMode, downsamples oversized frames,
// and encodes the result as a baseline JPEG.
package screencapture

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/TokenRollAI/engram/internal/types"
)

// CaptureMode selects which region of the desktop to grab.
type CaptureMode string

const (
	ModePrimaryMonitor CaptureMode = "PrimaryMonitor"
	ModeFocusedMonitor  CaptureMode = "FocusedMonitor"
	ModeActiveWindow    CaptureMode = "ActiveWindow"
)

const (
	maxWidth  = 1920
	maxHeight = 1080
	jpegQuality = 80
)

// Monitor describes one display's bounds, as reported by a Grabber.
type Monitor struct {
	X, Y, W, H int
}

// Grabber is the platform-specific backend that actually reads pixels off
// screen. Like FocusProbe, its real implementations are per-OS and live
// outside the core; this package only defines the seam and a no-op
// fallback so the downsample/encode pipeline is independently testable.
type Grabber interface {
	// Monitors returns the available monitors, primary first.
	Monitors() []Monitor
	// GrabMonitor captures the given monitor's full bounds.
	GrabMonitor(m Monitor) (types.CapturedFrame, error)
	// GrabWindow captures the window matching pid or title, if one exists.
	// ok is false if no matching, non-minimized window was found.
	GrabWindow(pid int32, title string) (frame types.CapturedFrame, ok bool, err error)
}

// NullGrabber reports a single blank 1x1 primary monitor and never finds a
// matching window. It lets CaptureLoop and its tests run without a real
// platform backend.
type NullGrabber struct{}

func (NullGrabber) Monitors() []Monitor { return []Monitor{{0, 0, 1, 1}} }

func (NullGrabber) GrabMonitor(m Monitor) (types.CapturedFrame, error) {
	pixels := make([]byte, m.W*m.H*4)
	for i := 3; i < len(pixels); i += 4 {
		pixels[i] = 255
	}
	return types.CapturedFrame{Pixels: pixels, Width: m.W, Height: m.H}, nil
}

func (NullGrabber) GrabWindow(pid int32, title string) (types.CapturedFrame, bool, error) {
	return types.CapturedFrame{}, false, nil
}

// Capture acquires one frame per mode, downsampling if it exceeds
// 1920x1080, and returns the raw RGBA pixels (not yet encoded).
func Capture(grabber Grabber, mode CaptureMode, focus types.FocusContext) (types.CapturedFrame, error) {
	monitors := grabber.Monitors()
	if len(monitors) == 0 {
		monitors = []Monitor{{0, 0, 1, 1}}
	}
	primary := monitors[0]

	var frame types.CapturedFrame
	var err error

	switch mode {
	case ModeActiveWindow:
		if focus.HasPID || focus.WindowTitle != "" {
			var ok bool
			frame, ok, err = grabber.GrabWindow(focus.PID, focus.WindowTitle)
			if err != nil {
				return types.CapturedFrame{}, err
			}
			if !ok {
				frame, err = grabber.GrabMonitor(primary)
			}
		} else {
			frame, err = grabber.GrabMonitor(primary)
		}

	case ModeFocusedMonitor:
		target := primary
		if focus.HasBounds {
			cx := focus.BoundsX + focus.BoundsW/2
			cy := focus.BoundsY + focus.BoundsH/2
			if m, ok := monitorContaining(monitors, cx, cy); ok {
				target = m
			}
		}
		frame, err = grabber.GrabMonitor(target)

	default: // ModePrimaryMonitor and unrecognized modes
		frame, err = grabber.GrabMonitor(primary)
	}

	if err != nil {
		return types.CapturedFrame{}, err
	}

	frame = downsample(frame)
	return frame, nil
}

func monitorContaining(monitors []Monitor, x, y int) (Monitor, bool) {
	for _, m := range monitors {
		if x >= m.X && x < m.X+m.W && y >= m.Y && y < m.Y+m.H {
			return m, true
		}
	}
	return Monitor{}, false
}

// downsample shrinks a frame to fit within 1920x1080 using a triangle
// (bilinear-ish) filter, preserving aspect ratio. No-op if already within
// bounds.
func downsample(frame types.CapturedFrame) types.CapturedFrame {
	if frame.Width <= maxWidth && frame.Height <= maxHeight {
		return frame
	}

	scale := float64(maxWidth) / float64(frame.Width)
	if hScale := float64(maxHeight) / float64(frame.Height); hScale < scale {
		scale = hScale
	}
	dstW := int(float64(frame.Width) * scale)
	dstH := int(float64(frame.Height) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	out := make([]byte, dstW*dstH*4)
	xRatio := float64(frame.Width) / float64(dstW)
	yRatio := float64(frame.Height) / float64(dstH)

	for y := 0; y < dstH; y++ {
		srcYf := (float64(y) + 0.5) * yRatio
		for x := 0; x < dstW; x++ {
			srcXf := (float64(x) + 0.5) * xRatio
			r, g, b, a := triangleSample(frame, srcXf, srcYf)
			idx := (y*dstW + x) * 4
			out[idx] = r
			out[idx+1] = g
			out[idx+2] = b
			out[idx+3] = a
		}
	}

	return types.CapturedFrame{Pixels: out, Width: dstW, Height: dstH, Timestamp: frame.Timestamp}
}

// triangleSample bilinearly samples the four pixels surrounding (x, y).
func triangleSample(frame types.CapturedFrame, x, y float64) (r, g, b, a byte) {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= frame.Width {
		x1 = frame.Width - 1
	}
	if y1 >= frame.Height {
		y1 = frame.Height - 1
	}
	if x0 >= frame.Width {
		x0 = frame.Width - 1
	}
	if y0 >= frame.Height {
		y0 = frame.Height - 1
	}

	fx := x - float64(int(x))
	fy := y - float64(int(y))

	p00 := pixelAt(frame, x0, y0)
	p10 := pixelAt(frame, x1, y0)
	p01 := pixelAt(frame, x0, y1)
	p11 := pixelAt(frame, x1, y1)

	for i := 0; i < 4; i++ {
		top := float64(p00[i])*(1-fx) + float64(p10[i])*fx
		bottom := float64(p01[i])*(1-fx) + float64(p11[i])*fx
		v := top*(1-fy) + bottom*fy
		switch i {
		case 0:
			r = byte(v)
		case 1:
			g = byte(v)
		case 2:
			b = byte(v)
		case 3:
			a = byte(v)
		}
	}
	return
}

func pixelAt(frame types.CapturedFrame, x, y int) [4]byte {
	idx := (y*frame.Width + x) * 4
	if idx < 0 || idx+3 >= len(frame.Pixels) {
		return [4]byte{0, 0, 0, 255}
	}
	return [4]byte{frame.Pixels[idx], frame.Pixels[idx+1], frame.Pixels[idx+2], frame.Pixels[idx+3]}
}

// EncodeJPEG encodes an RGBA frame as a baseline JPEG at quality 80.
func EncodeJPEG(frame types.CapturedFrame) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			idx := (y*frame.Width + x) * 4
			if idx+3 >= len(frame.Pixels) {
				continue
			}
			img.SetRGBA(x, y, color.RGBA{
				R: frame.Pixels[idx],
				G: frame.Pixels[idx+1],
				B: frame.Pixels[idx+2],
				A: frame.Pixels[idx+3],
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
