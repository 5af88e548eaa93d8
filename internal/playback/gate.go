package playback

import "sync"

// pauseGate blocks the decode loop while playback is paused.
//
// The gate has three positions: open (loop runs), closed (loop blocks in
// wait), released (terminal open for shutdown; wait never blocks again).
// Release exists so stop can free a loop that is parked in wait without
// racing a concurrent resume.
type pauseGate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	paused   bool
	released bool
}

func newPauseGate() *pauseGate {
	g := &pauseGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// pause closes the gate. The loop blocks at its next wait call.
func (g *pauseGate) pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// resume opens the gate and wakes a waiting loop.
func (g *pauseGate) resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

// release opens the gate permanently. Used during stop.
func (g *pauseGate) release() {
	g.mu.Lock()
	g.released = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// wait blocks while the gate is closed.
func (g *pauseGate) wait() {
	g.mu.Lock()
	for g.paused && !g.released {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// isPaused reports whether the gate is currently closed.
func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused && !g.released
}
