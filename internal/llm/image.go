package llm

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

const (
	maxVlmWidth  = 1280
	maxVlmHeight = 720
	vlmJpegQuality = 80
)

// dataURIForVlm decodes a JPEG, downsamples it to fit within 1280x720 (the
// screenshot stored by internal/screencapture is already capped at
// 1920x1080; the VLM gets a further-shrunk copy to keep the request small),
// and returns it as a base64 data URI suitable for a ChatMessageImageURL.
func dataURIForVlm(jpegBytes []byte) (string, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxVlmWidth || h > maxVlmHeight {
		scale := float64(maxVlmWidth) / float64(w)
		if hs := float64(maxVlmHeight) / float64(h); hs < scale {
			scale = hs
		}
		img = resize(img, max1(int(float64(w)*scale)), max1(int(float64(h)*scale)))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: vlmJpegQuality}); err != nil {
		return "", fmt.Errorf("encode resized screenshot: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// resize bilinearly samples src down to dstW x dstH, mirroring the triangle
// filter internal/screencapture.downsample uses on raw RGBA frames.
func resize(src image.Image, dstW, dstH int) image.Image {
	b := src.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	xRatio := float64(srcW) / float64(dstW)
	yRatio := float64(srcH) / float64(dstH)

	for y := 0; y < dstH; y++ {
		srcYf := (float64(y) + 0.5) * yRatio
		for x := 0; x < dstW; x++ {
			srcXf := (float64(x) + 0.5) * xRatio
			dst.Set(x, y, sampleBilinear(src, b, srcXf, srcYf))
		}
	}
	return dst
}

func sampleBilinear(src image.Image, b image.Rectangle, x, y float64) color.Color {
	x0 := b.Min.X + int(x)
	y0 := b.Min.Y + int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= b.Max.X {
		x1 = b.Max.X - 1
	}
	if y1 >= b.Max.Y {
		y1 = b.Max.Y - 1
	}
	if x0 >= b.Max.X {
		x0 = b.Max.X - 1
	}
	if y0 >= b.Max.Y {
		y0 = b.Max.Y - 1
	}

	fx := x - float64(int(x))
	fy := y - float64(int(y))

	r00, g00, b00, a00 := src.At(x0, y0).RGBA()
	r10, g10, b10, a10 := src.At(x1, y0).RGBA()
	r01, g01, b01, a01 := src.At(x0, y1).RGBA()
	r11, g11, b11, a11 := src.At(x1, y1).RGBA()

	lerp := func(v00, v10, v01, v11 uint32) uint8 {
		top := float64(v00)*(1-fx) + float64(v10)*fx
		bottom := float64(v01)*(1-fx) + float64(v11)*fx
		return uint8((top*(1-fy) + bottom*fy) / 256)
	}

	return color.RGBA{
		R: lerp(r00, r10, r01, r11),
		G: lerp(g00, g10, g01, g11),
		B: lerp(b00, b10, b01, b11),
		A: lerp(a00, a10, a01, a11),
	}
}
