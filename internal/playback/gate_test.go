package playback

import (
	"testing"
	"time"
)

func TestGateOpenByDefault(t *testing.T) {
	g := newPauseGate()

	done := make(chan struct{})
	go func() {
		g.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait() blocked on an open gate")
	}
}

func TestGatePauseBlocksUntilResume(t *testing.T) {
	g := newPauseGate()
	g.pause()

	done := make(chan struct{})
	go func() {
		g.wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait() returned while gate paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.resume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait() still blocked after resume")
	}
}

func TestGateReleaseIsTerminal(t *testing.T) {
	g := newPauseGate()
	g.pause()
	g.release()

	done := make(chan struct{})
	go func() {
		g.wait()
		g.pause() // pausing after release must not block anyone
		g.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait() blocked after release")
	}

	if g.isPaused() {
		t.Error("isPaused() = true after release, want false")
	}
}
