package playback

import (
	"sync"
	"sync/atomic"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// FrameSlot is the single-frame mailbox between the decode loop and its
// readers.
//
// Semantics:
//   - Single-slot buffer, overwrite policy: a new frame replaces the old
//     one whether or not anyone read it. Readers that lag see the latest
//     frame, never a queue.
//   - Non-consuming reads: Latest does not clear the slot, so display and
//     sampling can both read the same generation.
//   - Copy-out: Latest returns an independent deep copy, so a reader can
//     hold its frame across an inference call while the loop keeps
//     publishing.
//
// Thread-safety: all access is mutex-protected. Set transfers ownership
// of the frame payload to the slot; the caller must not mutate Data
// afterwards.
type FrameSlot struct {
	mu    sync.Mutex
	frame *types.Frame // nil = empty

	writes atomic.Uint64
}

// NewFrameSlot returns an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{}
}

// Set publishes a frame, replacing any previous one.
func (s *FrameSlot) Set(frame types.Frame) {
	s.mu.Lock()
	s.frame = &frame
	s.mu.Unlock()
	s.writes.Add(1)
}

// Latest returns a deep copy of the current frame. The second return is
// false while the slot is empty.
func (s *FrameSlot) Latest() (types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return types.Frame{}, false
	}
	return s.frame.Clone(), true
}

// Clear empties the slot. Called during stop so a later run cannot serve
// a stale frame.
func (s *FrameSlot) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}

// Writes returns how many frames were ever published.
func (s *FrameSlot) Writes() uint64 {
	return s.writes.Load()
}
