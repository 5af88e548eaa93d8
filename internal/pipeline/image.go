package pipeline

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// frameFromImage converts a decoded still image into a pipeline frame.
// The pixel layout matches what the video decoders produce, so a still
// goes through exactly the same inference path as a sampled frame.
func frameFromImage(img image.Image) types.Frame {
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]byte, w*h*types.BytesPerPixel)
	src := nrgba.Pix
	n := w * h
	for i := 0; i < n; i++ {
		si := i * 4
		di := i * 3
		data[di+0] = src[si+2] // B
		data[di+1] = src[si+1] // G
		data[di+2] = src[si+0] // R
	}

	return types.Frame{
		Index:     0,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}
