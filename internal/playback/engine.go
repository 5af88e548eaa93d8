// Package playback runs the decode loop that feeds the current-frame
// slot and the display event stream. One engine owns at most one media
// source at a time; play, pause, resume, seek and stop commands arrive
// from any goroutine and are serialized internally.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sephoration/Yolo11-8Cell/internal/media"
	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// Config tunes the engine. Zero values select the documented defaults.
type Config struct {
	// Loop wraps finite sources back to frame 0 at end of stream instead
	// of finishing. Continuous review setups keep this on.
	Loop bool

	// FPSOverride forces the playback rate. 0 means source native.
	FPSOverride float64

	// ReadRetry is the pause after a failed read before trying again.
	ReadRetry time.Duration

	// DisplayMaxWidth/Height bound emitted display images. 0 = native.
	DisplayMaxWidth  int
	DisplayMaxHeight int

	// StopTimeout bounds the decode loop join during stop.
	StopTimeout time.Duration
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	State         State
	FramesDecoded int64
	Loops         int64
	ReadFailures  int64
	EventsDropped uint64
	SlotWrites    uint64
	SourceOpen    bool
	Width         int
	Height        int
	FPS           float64
	TotalFrames   int64
	Elapsed       float64
}

// Engine decodes frames from one source on a dedicated goroutine,
// publishing each into the frame slot and onto the event stream.
type Engine struct {
	cfg  Config
	slot *FrameSlot

	events        chan types.Event
	eventsDropped atomic.Uint64

	mu    sync.Mutex // serializes commands and lifecycle
	srcMu sync.Mutex // serializes source access between loop and seek
	src   media.Source

	props atomic.Pointer[media.Properties]
	state atomic.Int32

	// Per-run, recreated by Play. The loop captures its own copies, so
	// reassignment here never races a live goroutine.
	gate   *pauseGate
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup

	decoded      atomic.Int64
	loops        atomic.Int64
	readFailures atomic.Int64
	startedAt    atomic.Int64 // unix nanos of the current run's Play
}

// New builds an idle engine.
func New(cfg Config) *Engine {
	if cfg.ReadRetry <= 0 {
		cfg.ReadRetry = 20 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}
	return &Engine{
		cfg:    cfg,
		slot:   NewFrameSlot(),
		events: make(chan types.Event, 256),
	}
}

// Events returns the engine's event stream. The engine never blocks on a
// slow consumer; events are dropped instead and counted.
func (e *Engine) Events() <-chan types.Event {
	return e.events
}

// Slot returns the current-frame mailbox read by the sampler.
func (e *Engine) Slot() *FrameSlot {
	return e.slot
}

// State reports the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// CurrentFrame returns a copy of the most recent decoded frame, or false
// when no frame has been published since the last stop.
func (e *Engine) CurrentFrame() (types.Frame, bool) {
	return e.slot.Latest()
}

// Properties reports the active source's characteristics. The second
// return is false while the engine is idle.
func (e *Engine) Properties() (media.Properties, bool) {
	p := e.props.Load()
	if p == nil {
		return media.Properties{}, false
	}
	return *p, true
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		State:         e.State(),
		FramesDecoded: e.decoded.Load(),
		Loops:         e.loops.Load(),
		ReadFailures:  e.readFailures.Load(),
		EventsDropped: e.eventsDropped.Load(),
		SlotWrites:    e.slot.Writes(),
	}
	if p := e.props.Load(); p != nil {
		s.SourceOpen = true
		s.Width = p.Width
		s.Height = p.Height
		s.FPS = p.FPS
		s.TotalFrames = p.TotalFrames
	}
	if start := e.startedAt.Load(); start > 0 {
		s.Elapsed = time.Since(time.Unix(0, start)).Seconds()
	}
	return s
}

// Play stops any active run, opens the described source and starts the
// decode loop. An open failure leaves the engine idle.
func (e *Engine) Play(spec media.Spec) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	src, err := media.Open(spec)
	if err != nil {
		slog.Error("playback: failed to open source", "kind", spec.Kind, "error", err)
		e.emit(types.ErrorEvent(err.Error()))
		return err
	}

	e.startLocked(src, string(spec.Kind))
	return nil
}

// PlaySource starts playback of an already-open source. The engine takes
// ownership and closes it on stop. Any active run is stopped first.
func (e *Engine) PlaySource(src media.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.startLocked(src, "injected")
}

func (e *Engine) startLocked(src media.Source, kind string) {
	props := src.Properties().Normalize()

	e.src = src
	e.props.Store(&props)
	e.gate = newPauseGate()
	e.wake = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.decoded.Store(0)
	e.loops.Store(0)
	e.readFailures.Store(0)
	e.startedAt.Store(time.Now().UnixNano())

	e.state.Store(int32(StatePlaying))
	e.emit(types.StatusEvent(StatePlaying.String()))

	slog.Info("playback: started",
		"kind", kind,
		"resolution", fmt.Sprintf("%dx%d", props.Width, props.Height),
		"fps", e.effectiveFPS(props),
		"total_frames", props.TotalFrames,
		"live", props.Live,
		"loop", e.cfg.Loop)

	e.wg.Add(1)
	go e.decodeLoop(ctx, src, props, e.gate, e.wake)
}

// Pause closes the gate. The wake signal cuts short an in-progress
// pacing sleep so the loop parks at the gate right away rather than
// after the current frame interval. The slot keeps the last published
// frame. No-op unless playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StatePlaying {
		slog.Debug("playback: pause ignored", "state", e.State().String())
		return
	}
	e.gate.pause()
	if e.wake != nil {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	e.state.Store(int32(StatePaused))
	e.emit(types.StatusEvent(StatePaused.String()))
	slog.Info("playback: paused", "frame", e.decoded.Load())
}

// Resume opens the gate. No-op unless paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StatePaused {
		slog.Debug("playback: resume ignored", "state", e.State().String())
		return
	}
	e.gate.resume()
	e.state.Store(int32(StatePlaying))
	e.emit(types.StatusEvent(StatePlaying.String()))
	slog.Info("playback: resumed")
}

// Seek repositions the source and synchronously publishes the frame at
// the target index, so callers get immediate feedback independent of the
// decode loop's cadence. Works while paused. Live sources are not
// seekable.
func (e *Engine) Seek(target int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == nil {
		return fmt.Errorf("playback: seek with no active source")
	}
	// Reject live sources before touching srcMu: a camera read can hold
	// the lock for as long as the device stays silent.
	if p := e.props.Load(); p != nil && p.Live {
		return media.ErrNotSeekable
	}

	e.srcMu.Lock()
	defer e.srcMu.Unlock()

	if err := e.src.Seek(target); err != nil {
		if !errors.Is(err, media.ErrNotSeekable) {
			e.emit(types.ErrorEvent(err.Error()))
		}
		return err
	}

	frame, err := e.src.ReadNext(context.Background())
	if err != nil {
		e.emit(types.ErrorEvent(err.Error()))
		return fmt.Errorf("playback: read after seek: %w", err)
	}
	frame.TraceID = uuid.New().String()

	e.slot.Set(frame)
	e.decoded.Add(1)
	e.emitFrame(frame)

	slog.Debug("playback: seek complete", "target", target, "frame", frame.Index)
	return nil
}

// Stop tears down the active run: releases the gate, joins the decode
// loop within StopTimeout, closes the source and clears the slot. Safe
// to call repeatedly and from any state.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.src == nil && e.State() == StateIdle {
		return
	}

	slog.Info("playback: stopping")
	e.state.Store(int32(StateStopped))

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.gate != nil {
		e.gate.release()
	}
	if e.wake != nil {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("playback: decode loop stopped cleanly")
	case <-time.After(e.cfg.StopTimeout):
		slog.Warn("playback: stop timeout exceeded, decode loop still running")
		e.emit(types.ErrorEvent("decode loop join timed out"))
	}

	if e.src != nil {
		if err := e.src.Close(); err != nil {
			slog.Error("playback: source close failed", "error", err)
			e.emit(types.ErrorEvent(err.Error()))
		}
		e.src = nil
	}
	e.props.Store(nil)
	e.slot.Clear()
	e.startedAt.Store(0)

	slog.Info("playback: stopped",
		"frames_decoded", e.decoded.Load(),
		"loops", e.loops.Load(),
		"read_failures", e.readFailures.Load())

	e.state.Store(int32(StateIdle))
	e.emit(types.StatusEvent(StateIdle.String()))
}

// effectiveFPS applies the configured override to the source rate.
func (e *Engine) effectiveFPS(props media.Properties) float64 {
	if e.cfg.FPSOverride > 0 {
		return e.cfg.FPSOverride
	}
	return props.FPS
}

// decodeLoop is the engine's producer goroutine. Each iteration checks
// the pause gate, reads one frame, publishes it and sleeps the remainder
// of the frame interval. End of stream wraps to frame 0 when looping.
func (e *Engine) decodeLoop(ctx context.Context, src media.Source, props media.Properties, gate *pauseGate, wake chan struct{}) {
	defer e.wg.Done()

	frameDur := time.Duration(float64(time.Second) / e.effectiveFPS(props))
	consecutiveFailures := 0

	slog.Debug("playback: decode loop started", "frame_duration", frameDur)

	for {
		if ctx.Err() != nil {
			return
		}

		gate.wait()

		if ctx.Err() != nil {
			return
		}

		iterStart := time.Now()

		e.srcMu.Lock()
		frame, err := src.ReadNext(ctx)
		e.srcMu.Unlock()

		switch {
		case err == nil:
			consecutiveFailures = 0
			frame.TraceID = uuid.New().String()
			e.slot.Set(frame)
			e.decoded.Add(1)
			e.emitFrame(frame)

		case errors.Is(err, context.Canceled):
			return

		case errors.Is(err, media.ErrEndOfStream):
			if !e.cfg.Loop {
				slog.Info("playback: finished", "frames_decoded", e.decoded.Load())
				e.state.Store(int32(StateStopped))
				e.emit(types.FinishedEvent())
				return
			}
			e.srcMu.Lock()
			seekErr := src.Seek(0)
			e.srcMu.Unlock()
			if seekErr != nil {
				slog.Error("playback: loop restart failed", "error", seekErr)
				e.emit(types.ErrorEvent(seekErr.Error()))
				e.state.Store(int32(StateStopped))
				return
			}
			e.loops.Add(1)
			slog.Debug("playback: end of stream, looping", "loops", e.loops.Load())
			continue

		default:
			// Live sources fail transiently (exposure, USB hiccups),
			// files should not; both retry until stopped.
			e.readFailures.Add(1)
			consecutiveFailures++
			slog.Warn("playback: read failed",
				"error", err,
				"consecutive", consecutiveFailures)
			if consecutiveFailures == 1 {
				e.emit(types.ErrorEvent(err.Error()))
			}
			if !e.sleepInterruptibly(ctx, wake, e.cfg.ReadRetry) {
				return
			}
			continue
		}

		// Pace to the frame interval, counting time already spent
		// reading and publishing.
		if remaining := frameDur - time.Since(iterStart); remaining > 0 {
			if !e.sleepInterruptibly(ctx, wake, remaining) {
				return
			}
		}
	}
}

// sleepInterruptibly waits for the duration unless a command arrives.
// The wake channel short-circuits the wait so stop and pause never sit
// out a long frame interval; on a wake the loop goes back to the gate.
// Returns false when the run is over.
func (e *Engine) sleepInterruptibly(ctx context.Context, wake chan struct{}, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-wake:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

// emitFrame publishes the display image and progress for one frame.
func (e *Engine) emitFrame(frame types.Frame) {
	img := displayImage(frame, e.cfg.DisplayMaxWidth, e.cfg.DisplayMaxHeight)
	if img != nil {
		ev := types.Event{
			Kind:      types.EventFrameReady,
			Timestamp: time.Now(),
			TraceID:   frame.TraceID,
			Image:     img,
		}
		e.emit(ev)
	}

	total := int64(0)
	elapsed := 0.0
	if p := e.props.Load(); p != nil {
		total = p.TotalFrames
		if fps := e.effectiveFPS(*p); fps > 0 {
			elapsed = float64(frame.Index) / fps
		}
	}
	e.emit(types.ProgressEvent(frame.Index, total, elapsed))
}

// emit sends without blocking. A full consumer costs an event, not the
// decode cadence.
func (e *Engine) emit(ev types.Event) {
	select {
	case e.events <- ev:
	default:
		e.eventsDropped.Add(1)
	}
}
