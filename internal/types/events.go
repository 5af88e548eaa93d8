package types

import (
	"encoding/json"
	"image"
	"time"
)

// EventKind discriminates the pipeline event variants.
type EventKind string

const (
	// EventFrameReady carries a display-ready frame from the decode loop
	EventFrameReady EventKind = "frame_ready"
	// EventProcessedFrame carries a display-ready frame from inference
	EventProcessedFrame EventKind = "processed_frame"
	// EventProgress reports playback position after each decode step
	EventProgress EventKind = "progress"
	// EventStatus is an informational message
	EventStatus EventKind = "status"
	// EventComplete carries a statistics snapshot after an inference call
	EventComplete EventKind = "processing_complete"
	// EventError reports a non-fatal failure
	EventError EventKind = "error"
	// EventFinished signals that a decode loop has exited
	EventFinished EventKind = "finished"
)

// Progress is the playback position derived after every decode step.
type Progress struct {
	// Index is the 0-based index of the frame just decoded
	Index int64 `json:"current_index"`
	// Total is the source's reported frame count (sentinel for live sources)
	Total int64 `json:"total_frames"`
	// Elapsed is Index divided by the source frame rate, in seconds
	Elapsed float64 `json:"elapsed_seconds"`
}

// Event is the tagged variant emitted by the playback engine and the frame
// sampler and consumed by the pipeline controller. Exactly the fields
// relevant to Kind are set.
//
// Image is an in-process payload only: it never crosses the wire, so it is
// excluded from the JSON encoding used for broker emission.
type Event struct {
	// Kind selects the variant
	Kind EventKind `json:"kind"`
	// Timestamp is when the event was produced
	Timestamp time.Time `json:"timestamp"`
	// TraceID links the event to the frame that caused it, when there is one
	TraceID string `json:"trace_id,omitempty"`
	// Image is the display payload for frame_ready / processed_frame
	Image *image.RGBA `json:"-"`
	// Progress is set for progress events
	Progress *Progress `json:"progress,omitempty"`
	// Message is set for status and error events
	Message string `json:"message,omitempty"`
	// Stats is set for processing_complete events
	Stats *SessionSnapshot `json:"stats,omitempty"`
}

// ToJSON encodes the serializable portion of the event for broker emission.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StatusEvent builds a status event.
func StatusEvent(msg string) Event {
	return Event{Kind: EventStatus, Timestamp: time.Now(), Message: msg}
}

// ErrorEvent builds an error event.
func ErrorEvent(msg string) Event {
	return Event{Kind: EventError, Timestamp: time.Now(), Message: msg}
}

// ProgressEvent builds a progress event.
func ProgressEvent(index, total int64, elapsed float64) Event {
	return Event{
		Kind:      EventProgress,
		Timestamp: time.Now(),
		Progress:  &Progress{Index: index, Total: total, Elapsed: elapsed},
	}
}

// FinishedEvent builds a finished event.
func FinishedEvent() Event {
	return Event{Kind: EventFinished, Timestamp: time.Now()}
}
