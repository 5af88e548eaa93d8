package types

import (
	"image"
	"time"
)

// BytesPerPixel is the size of one BGR24 pixel.
const BytesPerPixel = 3

// Frame is a single decoded video frame in BGR24 interleaved layout.
//
// Frames are snapshots: Data is owned by the holder and treated as immutable
// once published. Components that hand frames across goroutine boundaries
// (the playback slot, event payloads) deep-copy Data so no two owners ever
// share backing storage.
type Frame struct {
	// Index is the 0-based position of this frame in its source
	Index int64
	// Timestamp is when the frame was decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixel data (BGR24, len == Width*Height*3)
	Data []byte
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Size returns the expected byte length of Data for the frame geometry.
func (f Frame) Size() int {
	return f.Width * f.Height * BytesPerPixel
}

// Clone returns a deep copy of the frame. The copy owns its own Data and can
// outlive the original.
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// ToRGBA converts the BGR24 pixel data into a freshly allocated image.RGBA,
// the display-ready format handed to render surfaces and encoders. Returns
// nil when the frame is empty or its data is shorter than the geometry
// requires.
func (f Frame) ToRGBA() *image.RGBA {
	if f.Empty() || len(f.Data) < f.Size() {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src := f.Data
	dst := img.Pix
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		si := i * 3
		di := i * 4
		dst[di+0] = src[si+2] // R
		dst[di+1] = src[si+1] // G
		dst[di+2] = src[si+0] // B
		dst[di+3] = 0xFF
	}
	return img
}
