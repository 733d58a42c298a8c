package screen

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"mirrorcast/pipeline"
)

// RGBAEncoder encodes RGBA video frames. The decode contexts emit
// interleaved 8-bit RGBA, 4 bytes per pixel.
type RGBAEncoder struct{}

func (RGBAEncoder) Encode(frame pipeline.Frame) ([]byte, error) {
	w, h := int(frame.Width), int(frame.Height)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("frame has no dimensions")
	}
	if len(frame.Data) < w*h*4 {
		return nil, fmt.Errorf("frame data too short: %d bytes for %dx%d", len(frame.Data), w, h)
	}

	img := &image.RGBA{
		Pix:    frame.Data,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}
