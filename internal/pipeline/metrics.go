package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sephoration/Yolo11-8Cell/internal/playback"
	"github.com/Sephoration/Yolo11-8Cell/internal/sampler"
)

// Metrics exposes engine and sampler counters to Prometheus. The gauges
// read live snapshots on scrape, so there is nothing to update between
// collections.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics builds a registry wired to the given engine and sampler.
func NewMetrics(engine *playback.Engine, smp *sampler.Sampler) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	gauge := func(name, help string, value func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			value,
		))
	}

	gauge("playback_frames_decoded_total", "Frames decoded in the current run",
		func() float64 { return float64(engine.Stats().FramesDecoded) })
	gauge("playback_loops_total", "End-of-stream wraps in the current run",
		func() float64 { return float64(engine.Stats().Loops) })
	gauge("playback_read_failures_total", "Failed source reads in the current run",
		func() float64 { return float64(engine.Stats().ReadFailures) })
	gauge("playback_slot_writes_total", "Lifetime writes into the current-frame slot",
		func() float64 { return float64(engine.Stats().SlotWrites) })
	gauge("playback_events_dropped_total", "Engine events dropped on a full consumer",
		func() float64 { return float64(engine.Stats().EventsDropped) })
	gauge("playback_state", "Engine state (0 idle, 1 playing, 2 paused, 3 stopped)",
		func() float64 { return float64(engine.State()) })
	gauge("playback_source_fps", "Effective playback rate of the open source",
		func() float64 { return engine.Stats().FPS })

	gauge("sampler_running", "Whether the sampling loop is active (0/1)",
		func() float64 {
			if smp.Stats().Running {
				return 1
			}
			return 0
		})
	gauge("sampler_frames_observed_total", "Slot frames observed by the sampling loop",
		func() float64 { return float64(smp.Stats().FramesObserved) })
	gauge("sampler_frames_sampled_total", "Frames submitted to inference",
		func() float64 { return float64(smp.Stats().FramesSampled) })
	gauge("sampler_inference_errors_total", "Inference calls that failed",
		func() float64 { return float64(smp.Stats().InferenceErrors) })
	gauge("sampler_interval_frames", "Current every-Nth sampling interval",
		func() float64 { return float64(smp.Interval()) })
	gauge("sampler_total_detections", "Detections accumulated in the current session",
		func() float64 { return float64(smp.Session().Snapshot().TotalDetections) })
	gauge("sampler_avg_inference_ms", "Mean inference latency in the current session",
		func() float64 { return smp.Session().Snapshot().AvgInferenceMS })
	gauge("sampler_last_latency_ms", "Latency of the most recent inference call",
		func() float64 { return smp.Session().Snapshot().LastLatencyMS })
	gauge("sampler_fps", "Instantaneous sampling rate",
		func() float64 { return smp.Session().Snapshot().FPS })

	return m
}

// Handler returns the /metrics scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
