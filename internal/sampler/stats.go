package sampler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// Session accumulates inference statistics for one sampling run. All
// methods are safe for concurrent use; the sampling loop writes while
// health endpoints and the event pump read snapshots.
type Session struct {
	id        string
	startedAt time.Time

	mu               sync.Mutex
	framesObserved   uint64
	framesSampled    uint64
	totalDetections  uint64
	totalInferenceMS float64
	lastLatencyMS    float64
	lastClass        string
	lastConfidence   float64
	lastSampleAt     time.Time
	instantFPS       float64
}

// NewSession starts an empty session with a fresh identifier.
func NewSession() *Session {
	return &Session{
		id:        uuid.New().String(),
		startedAt: time.Now(),
	}
}

// ID returns the session identifier carried on emitted statistics.
func (s *Session) ID() string { return s.id }

// ObserveFrame records one observed frame.
func (s *Session) ObserveFrame() {
	s.mu.Lock()
	s.framesObserved++
	s.mu.Unlock()
}

// RecordSample folds one successful inference into the totals. The
// instantaneous rate is the inverse of the gap since the previous sample.
func (s *Session) RecordSample(res types.Result, latency time.Duration) {
	now := time.Now()
	latencyMS := float64(latency) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.framesSampled++
	if res.Detections > 0 {
		s.totalDetections += uint64(res.Detections)
	}
	s.totalInferenceMS += latencyMS
	s.lastLatencyMS = latencyMS
	if res.ClassName != "" {
		s.lastClass = res.ClassName
		s.lastConfidence = res.Confidence
	}

	if !s.lastSampleAt.IsZero() {
		if gap := now.Sub(s.lastSampleAt).Seconds(); gap > 0 {
			s.instantFPS = 1.0 / gap
		}
	}
	s.lastSampleAt = now
}

// Snapshot returns the current totals and averages.
func (s *Session) Snapshot() types.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.SessionSnapshot{
		SessionID:        s.id,
		FramesObserved:   s.framesObserved,
		FramesSampled:    s.framesSampled,
		TotalDetections:  s.totalDetections,
		TotalInferenceMS: s.totalInferenceMS,
		LastLatencyMS:    s.lastLatencyMS,
		FPS:              s.instantFPS,
		LastClass:        s.lastClass,
		LastConfidence:   s.lastConfidence,
	}
	if s.framesSampled > 0 {
		snap.AvgInferenceMS = s.totalInferenceMS / float64(s.framesSampled)
	}
	return snap
}
