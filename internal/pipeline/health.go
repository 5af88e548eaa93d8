package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// HealthStatus is the readiness view of the service.
type HealthStatus struct {
	Status         string                `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	PlaybackState  string                `json:"playback_state"`
	SourceOpen     bool                  `json:"source_open"`
	SamplingActive bool                  `json:"sampling_active"`
	MQTTConnected  bool                  `json:"mqtt_connected"`
	Session        types.SessionSnapshot `json:"session"`
}

// HealthCheck returns the current health of the service.
func (c *Controller) HealthCheck() HealthStatus {
	c.mu.RLock()
	running := c.running
	started := c.started
	c.mu.RUnlock()

	engineStats := c.engine.Stats()
	samplerStats := c.sampler.Stats()

	status := HealthStatus{
		Status:         "healthy",
		UptimeSeconds:  int64(time.Since(started).Seconds()),
		PlaybackState:  engineStats.State.String(),
		SourceOpen:     engineStats.SourceOpen,
		SamplingActive: samplerStats.Running,
		Session:        samplerStats.Session,
	}

	if c.emitter != nil {
		status.MQTTConnected = c.emitter.Connected()
	}

	if !running {
		status.Status = "unhealthy"
	} else if c.emitter != nil && !status.MQTTConnected {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler implements /health: alive as long as the process can
// answer.
func (c *Controller) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler implements /readiness with the full health view.
func (c *Controller) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := c.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// startHealthServer serves /health, /readiness and /metrics on the
// configured port. Runs in its own goroutine; stopped during Shutdown.
func (c *Controller) startHealthServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.LivenessHandler)
	mux.HandleFunc("/readiness", c.ReadinessHandler)
	mux.Handle("/metrics", c.metrics.Handler())

	c.httpServer = &http.Server{
		Addr:         ":" + c.cfg.HTTP.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("pipeline: health server starting",
		"port", c.cfg.HTTP.Port,
		"endpoints", []string{"/health", "/readiness", "/metrics"})

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("pipeline: health server failed", "error", err)
		}
	}()
}
