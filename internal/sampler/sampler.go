// Package sampler runs the asynchronous inference loop. It polls the
// playback engine's current-frame slot at its own pace, submits every
// Nth observed frame to a predictor and publishes results as events.
// Playback cadence and inference cadence stay decoupled: a slow model
// costs samples, never display frames.
package sampler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// FrameSource is the slot the sampler polls. Reads are non-consuming;
// *playback.FrameSlot satisfies this.
type FrameSource interface {
	Latest() (types.Frame, bool)
}

// Predictor runs inference on one frame. Implementations live in the
// inference package.
type Predictor interface {
	Predict(ctx context.Context, frame types.Frame) (types.Result, error)
}

// Config tunes the sampling loop. Zero values select the documented
// defaults.
type Config struct {
	// Interval submits every Nth observed frame. Default 5.
	Interval int

	// EmptyPoll is the retry delay while the slot has no frame yet.
	EmptyPoll time.Duration

	// IterationDelay is the fixed sleep after each observed frame.
	IterationDelay time.Duration

	// StopTimeout bounds the loop join during stop.
	StopTimeout time.Duration
}

// Stats is a point-in-time snapshot of sampler counters.
type Stats struct {
	Running         bool
	FramesObserved  int64
	FramesSampled   int64
	InferenceErrors int64
	EventsDropped   uint64
	Interval        int
	Session         types.SessionSnapshot
}

// Sampler owns the inference goroutine.
type Sampler struct {
	cfg    Config
	source FrameSource

	predMu    sync.RWMutex // guards predictor; hot-swappable
	predictor Predictor

	events        chan types.Event
	eventsDropped atomic.Uint64

	interval atomic.Int32 // hot-reloadable

	mu      sync.Mutex // serializes Start/Stop
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	session atomic.Pointer[Session]

	observed  atomic.Int64
	sampled   atomic.Int64
	infErrors atomic.Int64
}

// New builds a stopped sampler reading from source and inferring with
// predictor.
func New(cfg Config, source FrameSource, predictor Predictor) *Sampler {
	if cfg.Interval < 1 {
		cfg.Interval = 5
	}
	if cfg.EmptyPoll <= 0 {
		cfg.EmptyPoll = 100 * time.Millisecond
	}
	if cfg.IterationDelay <= 0 {
		cfg.IterationDelay = 50 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}

	s := &Sampler{
		cfg:       cfg,
		source:    source,
		predictor: predictor,
		events:    make(chan types.Event, 64),
	}
	s.interval.Store(int32(cfg.Interval))
	s.session.Store(NewSession())
	return s
}

// Events returns the sampler's event stream. Emission never blocks; a
// lagging consumer costs events, not inference cadence.
func (s *Sampler) Events() <-chan types.Event {
	return s.events
}

// Interval returns the current every-Nth setting.
func (s *Sampler) Interval() int {
	return int(s.interval.Load())
}

// SetInterval changes the every-Nth setting. Takes effect on the next
// observed frame.
func (s *Sampler) SetInterval(n int) {
	if n < 1 {
		n = 1
	}
	old := s.interval.Swap(int32(n))
	if int32(n) != old {
		slog.Info("sampler: interval updated", "old", old, "new", n)
	}
}

// IntervalFromDelay converts a per-frame delay in milliseconds to a
// sampling interval. Returns the number of frames between submissions.
func IntervalFromDelay(delayMS int) int {
	if delayMS <= 0 {
		return 1
	}
	interval := delayMS / 10
	if interval < 1 {
		interval = 1
	}
	slog.Debug("sampler: interval from delay", "delay_ms", delayMS, "interval", interval)
	return interval
}

// SetPredictor swaps the inference backend. Takes effect on the next
// submitted frame; the current run and its session keep going.
func (s *Sampler) SetPredictor(p Predictor) {
	s.predMu.Lock()
	s.predictor = p
	s.predMu.Unlock()
	slog.Info("sampler: predictor updated")
}

func (s *Sampler) currentPredictor() Predictor {
	s.predMu.RLock()
	defer s.predMu.RUnlock()
	return s.predictor
}

// Session returns the statistics for the current run.
func (s *Sampler) Session() *Session {
	return s.session.Load()
}

// Stats snapshots the sampler counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Running:         s.running.Load(),
		FramesObserved:  s.observed.Load(),
		FramesSampled:   s.sampled.Load(),
		InferenceErrors: s.infErrors.Load(),
		EventsDropped:   s.eventsDropped.Load(),
		Interval:        s.Interval(),
		Session:         s.session.Load().Snapshot(),
	}
}

// Start launches the sampling goroutine with a fresh session. No-op if
// already running.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		slog.Debug("sampler: start ignored, already running")
		return
	}

	s.session.Store(NewSession())
	s.observed.Store(0)
	s.sampled.Store(0)
	s.infErrors.Store(0)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Store(true)

	slog.Info("sampler: started",
		"interval", s.Interval(),
		"iteration_delay", s.cfg.IterationDelay,
		"session", s.session.Load().ID())

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the loop, joins it within the stop timeout and emits the
// completion event with the final statistics. Safe to call repeatedly.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	slog.Info("sampler: stopping")
	s.cancel()
	s.cancel = nil

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("sampler: loop stopped cleanly")
	case <-time.After(s.cfg.StopTimeout):
		slog.Warn("sampler: stop timeout exceeded, loop still running")
	}

	s.running.Store(false)

	snap := s.session.Load().Snapshot()
	s.emit(types.Event{
		Kind:      types.EventComplete,
		Timestamp: time.Now(),
		Stats:     &snap,
	})

	slog.Info("sampler: stopped",
		"frames_observed", s.observed.Load(),
		"frames_sampled", s.sampled.Load(),
		"inference_errors", s.infErrors.Load())
}

// loop is the sampling goroutine. Each iteration observes the latest
// slot frame, submits every Nth one, and sleeps a fixed delay. An empty
// slot backs off without counting as an observation. Inference failures
// are reported and skipped; the loop only exits on stop.
func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	session := s.session.Load()

	for {
		if ctx.Err() != nil {
			return
		}

		frame, ok := s.source.Latest()
		if !ok {
			if !sleepCtx(ctx, s.cfg.EmptyPoll) {
				return
			}
			continue
		}

		observed := s.observed.Add(1)
		session.ObserveFrame()

		if observed%int64(s.interval.Load()) == 0 {
			s.sampleOne(ctx, session, frame)
		}

		if !sleepCtx(ctx, s.cfg.IterationDelay) {
			return
		}
	}
}

// sampleOne runs a single inference and publishes its result.
func (s *Sampler) sampleOne(ctx context.Context, session *Session, frame types.Frame) {
	predictor := s.currentPredictor()
	if predictor == nil {
		s.infErrors.Add(1)
		s.emit(types.ErrorEvent("no predictor configured"))
		return
	}

	start := time.Now()
	res, err := predictor.Predict(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.infErrors.Add(1)
		slog.Warn("sampler: inference failed",
			"frame", frame.Index,
			"trace_id", frame.TraceID,
			"error", err)
		s.emit(types.ErrorEvent(err.Error()))
		return
	}

	latency := time.Since(start)
	session.RecordSample(res, latency)
	s.sampled.Add(1)

	snap := session.Snapshot()
	ev := types.Event{
		Kind:      types.EventProcessedFrame,
		Timestamp: time.Now(),
		TraceID:   frame.TraceID,
		Stats:     &snap,
	}
	if res.Annotated != nil {
		ev.Image = res.Annotated.ToRGBA()
	}
	if ev.Image == nil {
		ev.Image = frame.ToRGBA()
	}
	s.emit(ev)

	slog.Debug("sampler: frame processed",
		"frame", frame.Index,
		"detections", res.Detections,
		"latency_ms", float64(latency)/float64(time.Millisecond))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Sampler) emit(ev types.Event) {
	select {
	case s.events <- ev:
	default:
		s.eventsDropped.Add(1)
	}
}
