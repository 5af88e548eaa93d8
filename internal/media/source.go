// Package media provides frame sources for the playback engine. A source
// hands out raw BGR24 frames one at a time; the caller owns pacing and
// synchronization. Implementations cover video files (ffmpeg subprocess),
// V4L2 cameras (GStreamer) and a deterministic synthetic generator.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// Default property values used when a source cannot report real ones.
const (
	DefaultFPS         = 30.0
	DefaultTotalFrames = 1000
)

// ErrEndOfStream is returned by ReadNext when a finite source has no more
// frames. Live sources never return it.
var ErrEndOfStream = errors.New("media: end of stream")

// ErrNotSeekable is returned by Seek on live sources.
var ErrNotSeekable = errors.New("media: source is not seekable")

// Properties describes a source after it has been opened.
type Properties struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int64
	Live        bool // no frame count, no seek, reads may block on hardware
}

// FrameDuration returns the nominal time between frames.
func (p Properties) FrameDuration() float64 {
	if p.FPS <= 0 {
		return 1.0 / DefaultFPS
	}
	return 1.0 / p.FPS
}

// Normalize replaces unknown rate and length values with their defaults.
// Containers frequently omit both, and downstream pacing and progress
// reporting need usable numbers.
func (p Properties) Normalize() Properties {
	if p.FPS <= 0 {
		p.FPS = DefaultFPS
	}
	if p.TotalFrames <= 0 {
		p.TotalFrames = DefaultTotalFrames
	}
	return p
}

// Source is a sequential frame producer. Implementations are not safe for
// concurrent use; the playback engine serializes access.
type Source interface {
	// ReadNext blocks until the next frame is decoded or the context is
	// canceled. Finite sources return ErrEndOfStream when exhausted.
	ReadNext(ctx context.Context) (types.Frame, error)

	// Seek repositions the stream so the next ReadNext returns the frame
	// at index. Live sources return ErrNotSeekable.
	Seek(index int64) error

	// Properties reports the source geometry, rate and length. Valid after
	// open, constant until Close.
	Properties() Properties

	// Close releases decoder resources. Safe to call more than once.
	Close() error
}

// OpenError reports a source that could not be opened.
type OpenError struct {
	Target string // path, device or descriptor
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("media: open %s: %v", e.Target, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports a failed decode of a single frame. The stream position
// it carries lets callers log where the failure happened.
type ReadError struct {
	Index int64
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("media: read frame %d: %v", e.Index, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
