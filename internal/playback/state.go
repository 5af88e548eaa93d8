package playback

// State is the lifecycle phase of the engine.
//
// Transitions:
//
//	Idle ──Play──▶ Playing ──Pause──▶ Paused ──Resume──▶ Playing
//	Playing/Paused ──Stop──▶ Stopped ──(teardown)──▶ Idle
//
// Stopped is transient: the engine passes through it while the decode
// goroutine is joined and the source released, then rests in Idle. A
// non-looping source that plays to its end also parks the loop in
// Stopped until the next Play or Stop call completes the teardown.
type State int32

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
