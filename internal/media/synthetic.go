package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// SyntheticConfig parameterizes a generated source. Zero values fall back
// to a small 320x240 clip at the default rate.
type SyntheticConfig struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int64
	Live        bool // behave like a camera: endless, not seekable

	// ReadFailures maps a frame index to the number of times reading it
	// fails before succeeding. Used to exercise retry paths.
	ReadFailures map[int64]int

	// FailAllReads makes every ReadNext fail. Simulates a dead camera.
	FailAllReads bool

	// ReadDelay is an artificial per-read decode time.
	ReadDelay time.Duration
}

// Synthetic generates deterministic frames without touching any decoder.
// The payload of frame k is uniformly FillValue(k), so a consumer can
// detect mixed-generation buffers by scanning for a second byte value.
type Synthetic struct {
	cfg   SyntheticConfig
	props Properties

	mu       sync.Mutex
	cursor   int64
	failures map[int64]int

	reads  atomic.Int64
	closes atomic.Int64
}

// FillValue returns the byte every payload position of frame index carries.
func FillValue(index int64) byte {
	return byte(index % 256)
}

// NewSynthetic builds a generated source. It never fails to open.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Height <= 0 {
		cfg.Height = 240
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.TotalFrames <= 0 {
		cfg.TotalFrames = 100
	}

	failures := make(map[int64]int, len(cfg.ReadFailures))
	for k, v := range cfg.ReadFailures {
		failures[k] = v
	}

	props := Properties{
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		TotalFrames: cfg.TotalFrames,
		Live:        cfg.Live,
	}
	if cfg.Live {
		props.TotalFrames = DefaultTotalFrames
	}

	return &Synthetic{
		cfg:      cfg,
		props:    props,
		failures: failures,
	}
}

// ReadNext generates the frame at the current cursor and advances it.
func (s *Synthetic) ReadNext(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	if s.cfg.ReadDelay > 0 {
		select {
		case <-time.After(s.cfg.ReadDelay):
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads.Add(1)

	if s.cfg.FailAllReads {
		return types.Frame{}, &ReadError{Index: s.cursor, Err: fmt.Errorf("synthetic: injected failure")}
	}
	if n := s.failures[s.cursor]; n > 0 {
		s.failures[s.cursor] = n - 1
		return types.Frame{}, &ReadError{Index: s.cursor, Err: fmt.Errorf("synthetic: injected failure")}
	}

	if !s.cfg.Live && s.cursor >= s.cfg.TotalFrames {
		return types.Frame{}, ErrEndOfStream
	}

	index := s.cursor
	s.cursor++

	data := make([]byte, s.cfg.Width*s.cfg.Height*types.BytesPerPixel)
	fill := FillValue(index)
	for i := range data {
		data[i] = fill
	}

	return types.Frame{
		Index:     index,
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Data:      data,
	}, nil
}

// Seek moves the cursor, clamping to [0, TotalFrames).
func (s *Synthetic) Seek(index int64) error {
	if s.cfg.Live {
		return ErrNotSeekable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 {
		index = 0
	}
	if index >= s.cfg.TotalFrames {
		index = s.cfg.TotalFrames - 1
	}
	s.cursor = index
	return nil
}

// Properties reports the configured geometry and rate.
func (s *Synthetic) Properties() Properties {
	return s.props
}

// Close records the call. Idempotent, never fails.
func (s *Synthetic) Close() error {
	s.closes.Add(1)
	return nil
}

// Reads returns how many ReadNext calls were made, including failed ones.
func (s *Synthetic) Reads() int64 { return s.reads.Load() }

// Closes returns how many times Close was called.
func (s *Synthetic) Closes() int64 { return s.closes.Load() }
