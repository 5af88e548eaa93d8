package types

// Result is what the inference collaborator returns for one submitted frame.
// All fields beyond Detections are optional; a zero Result is a valid
// "nothing found" answer.
type Result struct {
	// Annotated is an optional copy of the input frame with detections drawn
	// on it. When nil, consumers fall back to the original frame for display.
	Annotated *Frame
	// Detections is the number of objects reported for this frame
	Detections int
	// AvgConfidence is the mean confidence over all detections (0 when none)
	AvgConfidence float64
	// Classes maps class label to per-frame occurrence count
	Classes map[string]int
	// TrackedObjects is the number of active tracks (tracking tasks only)
	TrackedObjects int
	// ClassName is the top-1 label for classification tasks
	ClassName string
	// Confidence is the top-1 confidence for classification tasks
	Confidence float64
}

// SessionSnapshot is an immutable view of one sampling session's accumulated
// statistics, taken after each successful inference call. All fields report
// zero until the first sample completes.
type SessionSnapshot struct {
	// SessionID identifies the sampling session the snapshot belongs to
	SessionID string `json:"session_id"`
	// FramesObserved counts every non-empty slot read by the sampling loop
	FramesObserved uint64 `json:"frames_observed"`
	// FramesSampled counts frames actually submitted to inference
	FramesSampled uint64 `json:"frames_sampled"`
	// TotalDetections accumulates reported detection counts
	TotalDetections uint64 `json:"total_detections"`
	// TotalInferenceMS is the summed latency of all inference calls
	TotalInferenceMS float64 `json:"total_inference_ms"`
	// AvgInferenceMS is TotalInferenceMS / FramesSampled
	AvgInferenceMS float64 `json:"avg_inference_ms"`
	// LastLatencyMS is the latency of the most recent inference call
	LastLatencyMS float64 `json:"last_latency_ms"`
	// FPS is the instantaneous sampling rate, 1 / gap since previous sample
	FPS float64 `json:"fps"`
	// LastClass is the most recent top-1 label, when the task reports one
	LastClass string `json:"last_class,omitempty"`
	// LastConfidence is the confidence paired with LastClass
	LastConfidence float64 `json:"last_confidence,omitempty"`
}
