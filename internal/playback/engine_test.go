package playback_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sephoration/Yolo11-8Cell/internal/media"
	"github.com/Sephoration/Yolo11-8Cell/internal/playback"
	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// eventRecorder drains an engine's event stream into memory so tests can
// assert on ordering without racing the decode loop.
type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
	stop   chan struct{}
	done   chan struct{}
}

func recordEvents(ch <-chan types.Event) *eventRecorder {
	r := &eventRecorder{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for {
			select {
			case ev := <-ch:
				r.mu.Lock()
				r.events = append(r.events, ev)
				r.mu.Unlock()
			case <-r.stop:
				for {
					select {
					case ev := <-ch:
						r.mu.Lock()
						r.events = append(r.events, ev)
						r.mu.Unlock()
					default:
						return
					}
				}
			}
		}
	}()
	return r
}

func (r *eventRecorder) close() {
	close(r.stop)
	<-r.done
}

func (r *eventRecorder) snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) progressIndices() []int64 {
	var out []int64
	for _, ev := range r.snapshot() {
		if ev.Kind == types.EventProgress && ev.Progress != nil {
			out = append(out, ev.Progress.Index)
		}
	}
	return out
}

func (r *eventRecorder) countKind(kind types.EventKind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitFor polls until the predicate holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- Test 1: End of Stream Wraps to Frame 0 ---

// TestLoopPlaybackWrapsAtEndOfStream validates continuous loop playback.
//
// Contract:
//   - A finite source hitting end of stream seeks back to frame 0 and
//     keeps decoding, with no gap in progress emission.
//   - Progress indices stay inside [0, total) and each step is either +1
//     or a wrap from the last frame to 0.
//
// Scenario:
//  1. Play a 10-frame source at a fast override rate.
//  2. Wait until at least 25 frames were decoded (two full wraps).
//  3. Assert index contiguity and at least two recorded loops.
func TestLoopPlaybackWrapsAtEndOfStream(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 500})
	rec := recordEvents(engine.Events())
	defer rec.close()

	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 10}))
	defer engine.Stop()

	waitFor(t, 5*time.Second, "two full loops", func() bool {
		return engine.Stats().FramesDecoded >= 25
	})
	engine.Stop()

	indices := rec.progressIndices()
	if len(indices) < 25 {
		t.Fatalf("recorded %d progress events, want >= 25", len(indices))
	}

	wraps := 0
	for i := 1; i < len(indices); i++ {
		prev, cur := indices[i-1], indices[i]
		if cur < 0 || cur > 9 {
			t.Fatalf("index %d out of range [0,9]", cur)
		}
		switch {
		case cur == prev+1:
		case prev == 9 && cur == 0:
			wraps++
		default:
			t.Fatalf("non-contiguous progress: %d -> %d", prev, cur)
		}
	}
	if wraps < 2 {
		t.Errorf("observed %d wraps, want >= 2", wraps)
	}
	if engine.State() != playback.StateIdle {
		t.Errorf("state after stop = %v, want idle", engine.State())
	}

	t.Logf("✅ %d progress events, %d wraps, contiguous throughout", len(indices), wraps)
}

// --- Test 2: Pause Freezes, Resume Continues at n+1 ---

// TestPauseFreezesAndResumeContinues validates the pause gate.
//
// Contract:
//   - Pause takes effect at the loop's next gate check; at most one
//     in-flight frame may still be published after the call returns.
//   - While paused the slot keeps its frame and no progress is emitted.
//   - Resume continues with exactly the next frame, no skip, no replay.
//
// Scenario:
//  1. Play a 100-frame source, pause once playback passes frame 50.
//  2. Let any in-flight frame settle, note the frozen frame n.
//  3. Assert nothing changes for 150ms.
//  4. Resume and assert the first new progress index is n+1.
func TestPauseFreezesAndResumeContinues(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 100})
	rec := recordEvents(engine.Events())
	defer rec.close()

	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 100}))
	defer engine.Stop()

	waitFor(t, 5*time.Second, "playback past frame 50", func() bool {
		frame, ok := engine.CurrentFrame()
		return ok && frame.Index >= 50
	})

	engine.Pause()
	if engine.State() != playback.StatePaused {
		t.Fatalf("state after pause = %v, want paused", engine.State())
	}

	// One read may be in flight; give it time to land.
	time.Sleep(30 * time.Millisecond)

	frozen, ok := engine.CurrentFrame()
	if !ok {
		t.Fatal("CurrentFrame() = none while paused, want frame")
	}
	decodedAtPause := engine.Stats().FramesDecoded
	progressAtPause := len(rec.progressIndices())

	time.Sleep(150 * time.Millisecond)

	if got, _ := engine.CurrentFrame(); got.Index != frozen.Index {
		t.Errorf("frame advanced while paused: %d -> %d", frozen.Index, got.Index)
	}
	if n := engine.Stats().FramesDecoded; n != decodedAtPause {
		t.Errorf("decoded count advanced while paused: %d -> %d", decodedAtPause, n)
	}
	if n := len(rec.progressIndices()); n != progressAtPause {
		t.Errorf("progress emitted while paused: %d -> %d events", progressAtPause, n)
	}

	engine.Resume()
	if engine.State() != playback.StatePlaying {
		t.Fatalf("state after resume = %v, want playing", engine.State())
	}

	waitFor(t, 5*time.Second, "progress after resume", func() bool {
		return len(rec.progressIndices()) > progressAtPause
	})

	first := rec.progressIndices()[progressAtPause]
	if first != frozen.Index+1 {
		t.Errorf("first frame after resume = %d, want %d", first, frozen.Index+1)
	}

	t.Logf("✅ froze at frame %d, resumed at %d", frozen.Index, first)
}

// --- Test 3: Stop Is Idempotent and Releases Exactly Once ---

// TestStopIdempotent validates repeated stop calls.
//
// Contract:
//   - Stop from any state is safe; a second stop is a no-op.
//   - The source is closed exactly once, the slot is cleared, the engine
//     rests in idle.
func TestStopIdempotent(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 200})
	src := media.NewSynthetic(media.SyntheticConfig{TotalFrames: 50})

	engine.PlaySource(src)
	waitFor(t, 5*time.Second, "first frame", func() bool {
		_, ok := engine.CurrentFrame()
		return ok
	})

	engine.Stop()
	engine.Stop()
	engine.Stop()

	if got := src.Closes(); got != 1 {
		t.Errorf("source Closes() = %d, want 1", got)
	}
	if engine.State() != playback.StateIdle {
		t.Errorf("state = %v, want idle", engine.State())
	}
	if _, ok := engine.CurrentFrame(); ok {
		t.Error("CurrentFrame() after stop = frame, want none")
	}
	if _, ok := engine.Properties(); ok {
		t.Error("Properties() after stop = true, want false")
	}

	t.Logf("✅ triple stop: one close, idle, slot cleared")
}

// --- Test 4: Seek While Paused Publishes Immediately ---

// TestSeekWhilePaused validates synchronous seek feedback.
//
// Contract:
//   - Seek repositions, reads one frame and publishes slot + progress
//     right away, independent of the decode loop cadence, even while the
//     gate is closed.
//   - Resume afterwards continues from target+1.
func TestSeekWhilePaused(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 100})
	rec := recordEvents(engine.Events())
	defer rec.close()

	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 100}))
	defer engine.Stop()

	waitFor(t, 5*time.Second, "playback running", func() bool {
		_, ok := engine.CurrentFrame()
		return ok
	})

	engine.Pause()
	time.Sleep(30 * time.Millisecond)
	progressBefore := len(rec.progressIndices())

	if err := engine.Seek(42); err != nil {
		t.Fatalf("Seek(42) = %v, want nil", err)
	}

	frame, ok := engine.CurrentFrame()
	if !ok || frame.Index != 42 {
		t.Fatalf("CurrentFrame() after seek = (%d, %v), want (42, true)", frame.Index, ok)
	}

	waitFor(t, time.Second, "seek progress event", func() bool {
		return len(rec.progressIndices()) > progressBefore
	})
	if got := rec.progressIndices()[progressBefore]; got != 42 {
		t.Errorf("progress after seek = %d, want 42", got)
	}
	if engine.State() != playback.StatePaused {
		t.Errorf("state after paused seek = %v, want still paused", engine.State())
	}

	progressAfterSeek := len(rec.progressIndices())
	engine.Resume()
	waitFor(t, 5*time.Second, "progress after resume", func() bool {
		return len(rec.progressIndices()) > progressAfterSeek
	})
	if got := rec.progressIndices()[progressAfterSeek]; got != 43 {
		t.Errorf("first frame after resume = %d, want 43", got)
	}

	t.Logf("✅ paused seek to 42 published immediately, resumed at 43")
}

// --- Test 5: Seek Clamps to Valid Range ---

func TestSeekClampsToRange(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 100})
	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 100}))
	defer engine.Stop()

	engine.Pause()
	time.Sleep(30 * time.Millisecond)

	if err := engine.Seek(5000); err != nil {
		t.Fatalf("Seek(5000) = %v, want nil", err)
	}
	if frame, _ := engine.CurrentFrame(); frame.Index != 99 {
		t.Errorf("CurrentFrame() after Seek(5000) = %d, want 99", frame.Index)
	}

	if err := engine.Seek(-7); err != nil {
		t.Fatalf("Seek(-7) = %v, want nil", err)
	}
	if frame, _ := engine.CurrentFrame(); frame.Index != 0 {
		t.Errorf("CurrentFrame() after Seek(-7) = %d, want 0", frame.Index)
	}
}

// --- Test 6: Play While Playing Restarts ---

// TestPlayWhilePlayingReleasesOldSource validates the implicit stop.
//
// Contract:
//   - Play during an active run stops the run first: the old source is
//     closed before the new one starts.
func TestPlayWhilePlayingReleasesOldSource(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 200})
	defer engine.Stop()

	first := media.NewSynthetic(media.SyntheticConfig{TotalFrames: 10})
	engine.PlaySource(first)
	waitFor(t, 5*time.Second, "first source decoding", func() bool {
		_, ok := engine.CurrentFrame()
		return ok
	})

	second := media.NewSynthetic(media.SyntheticConfig{TotalFrames: 77})
	engine.PlaySource(second)

	if got := first.Closes(); got != 1 {
		t.Errorf("old source Closes() = %d, want 1", got)
	}
	if engine.State() != playback.StatePlaying {
		t.Errorf("state = %v, want playing", engine.State())
	}
	props, ok := engine.Properties()
	if !ok || props.TotalFrames != 77 {
		t.Errorf("Properties().TotalFrames = %d, want 77", props.TotalFrames)
	}

	t.Logf("✅ restart closed old source and switched properties")
}

// --- Test 7: No Torn Frames Under Concurrent Reads ---

// TestNoTornFramesUnderLoad validates slot copy-in/copy-out integrity.
//
// Contract:
//   - A reader never observes a frame whose payload mixes two decode
//     generations. Every byte of a synthetic frame equals FillValue(index).
//
// Scenario:
//  1. Decode a 20-frame loop at a 1ms interval.
//  2. Hammer CurrentFrame from four goroutines for 300ms.
//  3. Assert zero mixed-generation payloads.
func TestNoTornFramesUnderLoad(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 1000})
	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 20}))
	defer engine.Stop()

	waitFor(t, 5*time.Second, "first frame", func() bool {
		_, ok := engine.CurrentFrame()
		return ok
	})

	var torn atomic.Int64
	var reads atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				frame, ok := engine.CurrentFrame()
				if !ok {
					continue
				}
				reads.Add(1)
				want := media.FillValue(frame.Index)
				for _, b := range frame.Data {
					if b != want {
						torn.Add(1)
						break
					}
				}
			}
		}()
	}

	time.Sleep(300 * time.Millisecond)
	close(stop)
	wg.Wait()

	if torn.Load() != 0 {
		t.Errorf("observed %d torn frames in %d reads", torn.Load(), reads.Load())
	}

	t.Logf("✅ %d concurrent reads, zero torn frames", reads.Load())
}

// --- Test 8: Live Read Failures Retry Until Stop ---

// TestLiveReadFailuresRetryUntilStop validates the failure policy for
// cameras.
//
// Contract:
//   - Read failures on a live source never terminate playback; the loop
//     retries after a short pause until stop.
//   - The first failure of a streak surfaces as an error event.
func TestLiveReadFailuresRetryUntilStop(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, ReadRetry: 10 * time.Millisecond})
	rec := recordEvents(engine.Events())
	defer rec.close()

	src := media.NewSynthetic(media.SyntheticConfig{Live: true, FailAllReads: true})
	engine.PlaySource(src)

	waitFor(t, 5*time.Second, "several retries", func() bool {
		return src.Reads() >= 5
	})
	if engine.State() != playback.StatePlaying {
		t.Errorf("state during failures = %v, want playing", engine.State())
	}

	engine.Stop()
	if engine.State() != playback.StateIdle {
		t.Errorf("state after stop = %v, want idle", engine.State())
	}
	if rec.countKind(types.EventError) < 1 {
		t.Error("no error event for failing reads, want at least one")
	}

	t.Logf("✅ %d failed reads retried, stop still clean", src.Reads())
}

// --- Test 9: Non-Loop Playback Finishes ---

// TestNonLoopPlaybackFinishes validates end-of-stream without looping.
//
// Contract:
//   - With looping off, end of stream emits a finished event exactly
//     once and parks the loop in the stopped state. A later stop call
//     completes the teardown to idle.
func TestNonLoopPlaybackFinishes(t *testing.T) {
	engine := playback.New(playback.Config{Loop: false, FPSOverride: 500})
	rec := recordEvents(engine.Events())
	defer rec.close()

	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 5}))

	waitFor(t, 5*time.Second, "finished event", func() bool {
		return rec.countKind(types.EventFinished) >= 1
	})
	if engine.State() != playback.StateStopped {
		t.Errorf("state after finish = %v, want stopped", engine.State())
	}

	time.Sleep(50 * time.Millisecond)
	if n := rec.countKind(types.EventFinished); n != 1 {
		t.Errorf("finished events = %d, want exactly 1", n)
	}

	engine.Stop()
	if engine.State() != playback.StateIdle {
		t.Errorf("state after stop = %v, want idle", engine.State())
	}

	t.Logf("✅ played 5 frames, finished once, teardown clean")
}

// --- Test 10: Open Failure Leaves Engine Idle ---

func TestPlayOpenFailure(t *testing.T) {
	engine := playback.New(playback.Config{})
	rec := recordEvents(engine.Events())
	defer rec.close()

	err := engine.Play(media.Spec{Kind: media.KindFile, Path: "/nonexistent/clip.mp4"})
	if err == nil {
		t.Fatal("Play() = nil, want open error")
	}
	var openErr *media.OpenError
	if !errors.As(err, &openErr) {
		t.Errorf("error = %T, want *media.OpenError", err)
	}
	if engine.State() != playback.StateIdle {
		t.Errorf("state after failed open = %v, want idle", engine.State())
	}

	waitFor(t, time.Second, "error event", func() bool {
		return rec.countKind(types.EventError) >= 1
	})
}

// --- Test 11: Seek Rejected For Live Sources ---

func TestSeekRejectedForLiveSource(t *testing.T) {
	engine := playback.New(playback.Config{})
	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{Live: true}))
	defer engine.Stop()

	if err := engine.Seek(10); !errors.Is(err, media.ErrNotSeekable) {
		t.Errorf("Seek() on live source = %v, want ErrNotSeekable", err)
	}
}

// --- Test 12: Seek With No Source Fails ---

func TestSeekWithoutSource(t *testing.T) {
	engine := playback.New(playback.Config{})
	if err := engine.Seek(0); err == nil {
		t.Error("Seek() on idle engine = nil, want error")
	}
}

// --- Test 13: Pause Interrupts the Pacing Sleep ---

// TestPauseCutsShortFrameInterval validates pause latency at low rates.
//
// Contract:
//   - Pause wakes the loop out of its pacing sleep, so the loop is
//     parked at the gate well before the frame interval elapses and a
//     prompt resume decodes the next frame immediately instead of
//     waiting out the remainder of the interval.
//
// Scenario:
//  1. Play at 2 fps, a 500ms frame interval.
//  2. Pause right after the first frame, resume shortly after.
//  3. Assert the second frame lands within a fraction of the interval.
func TestPauseCutsShortFrameInterval(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 2})
	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 100}))
	defer engine.Stop()

	waitFor(t, 5*time.Second, "first frame", func() bool {
		return engine.Stats().FramesDecoded >= 1
	})

	// The loop is now inside its 500ms pacing sleep.
	engine.Pause()
	time.Sleep(50 * time.Millisecond)
	engine.Resume()
	resumedAt := time.Now()

	waitFor(t, 250*time.Millisecond, "second frame right after resume", func() bool {
		return engine.Stats().FramesDecoded >= 2
	})

	t.Logf("✅ second frame %v after resume, interval 500ms", time.Since(resumedAt))
}

// --- Test 14: Elapsed Resets on Stop ---

// TestElapsedResetsOnStop validates that the run clock stops with the
// run: an idle engine reports zero elapsed time, however long ago its
// last run started.
func TestElapsedResetsOnStop(t *testing.T) {
	engine := playback.New(playback.Config{Loop: true, FPSOverride: 200})
	engine.PlaySource(media.NewSynthetic(media.SyntheticConfig{TotalFrames: 10}))

	waitFor(t, 5*time.Second, "first frame", func() bool {
		return engine.Stats().FramesDecoded >= 1
	})
	if engine.Stats().Elapsed <= 0 {
		t.Error("Elapsed while playing = 0, want > 0")
	}

	engine.Stop()
	if got := engine.Stats().Elapsed; got != 0 {
		t.Errorf("Elapsed after stop = %v, want 0", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := engine.Stats().Elapsed; got != 0 {
		t.Errorf("Elapsed 50ms after stop = %v, want 0", got)
	}
}
