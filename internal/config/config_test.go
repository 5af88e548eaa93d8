package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yolod.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(Default()) = %v, want nil", err)
	}

	if cfg.Sampling.Interval != 5 {
		t.Errorf("Sampling.Interval = %d, want 5", cfg.Sampling.Interval)
	}
	if cfg.Sampling.EmptyPollMS != 100 {
		t.Errorf("Sampling.EmptyPollMS = %d, want 100", cfg.Sampling.EmptyPollMS)
	}
	if cfg.Sampling.IterationDelayMS != 50 {
		t.Errorf("Sampling.IterationDelayMS = %d, want 50", cfg.Sampling.IterationDelayMS)
	}
	if !cfg.Playback.Loop {
		t.Error("Playback.Loop = false, want true")
	}
	if cfg.Playback.ReadRetryMS != 20 {
		t.Errorf("Playback.ReadRetryMS = %d, want 20", cfg.Playback.ReadRetryMS)
	}
	if cfg.Source.Width != 640 || cfg.Source.Height != 480 {
		t.Errorf("Source geometry = %dx%d, want 640x480", cfg.Source.Width, cfg.Source.Height)
	}
}

func TestLoadKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := writeTempConfig(t, `
instance_id: bench-cam
source:
  kind: synthetic
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.InstanceID != "bench-cam" {
		t.Errorf("InstanceID = %q, want bench-cam", cfg.InstanceID)
	}
	if cfg.Source.Kind != "synthetic" {
		t.Errorf("Source.Kind = %q, want synthetic", cfg.Source.Kind)
	}
	if cfg.Sampling.Interval != 5 {
		t.Errorf("Sampling.Interval = %d, want default 5", cfg.Sampling.Interval)
	}
	if !cfg.Playback.Loop {
		t.Error("Playback.Loop = false, want default true")
	}
	if cfg.Inference.Task != "detect" {
		t.Errorf("Inference.Task = %q, want default detect", cfg.Inference.Task)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
instance_id: lab-rig
source:
  kind: file
  path: /data/clip.mp4
playback:
  loop: false
  fps_override: 25.0
sampling:
  interval: 10
inference:
  task: track
  confidence: 0.4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Playback.Loop {
		t.Error("Playback.Loop = true, want false")
	}
	if cfg.Playback.FPSOverride != 25.0 {
		t.Errorf("Playback.FPSOverride = %v, want 25.0", cfg.Playback.FPSOverride)
	}
	if cfg.Sampling.Interval != 10 {
		t.Errorf("Sampling.Interval = %d, want 10", cfg.Sampling.Interval)
	}
	if cfg.Inference.Task != "track" {
		t.Errorf("Inference.Task = %q, want track", cfg.Inference.Task)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/yolod.yaml")
	if err == nil {
		t.Fatal("Load() = nil, want error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read file") {
		t.Errorf("error = %v, want read failure", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty instance id",
			mutate:  func(c *Config) { c.InstanceID = "" },
			wantErr: "instance_id is required",
		},
		{
			name:    "uppercase instance id",
			mutate:  func(c *Config) { c.InstanceID = "Lab-Rig" },
			wantErr: "instance_id must match",
		},
		{
			name:    "unknown source kind",
			mutate:  func(c *Config) { c.Source.Kind = "rtsp" },
			wantErr: "source.kind",
		},
		{
			name:    "file source without path",
			mutate:  func(c *Config) { c.Source.Kind = "file" },
			wantErr: "source.path is required",
		},
		{
			name:    "negative fps override",
			mutate:  func(c *Config) { c.Playback.FPSOverride = -1 },
			wantErr: "fps_override",
		},
		{
			name:    "zero sampling interval",
			mutate:  func(c *Config) { c.Sampling.Interval = 0 },
			wantErr: "sampling.interval",
		},
		{
			name:    "unknown task",
			mutate:  func(c *Config) { c.Inference.Task = "segment" },
			wantErr: "inference.task",
		},
		{
			name:    "confidence above one",
			mutate:  func(c *Config) { c.Inference.Confidence = 1.5 },
			wantErr: "inference.confidence",
		},
		{
			name:    "mqtt enabled without broker",
			mutate:  func(c *Config) { c.MQTT.Enabled = true },
			wantErr: "mqtt.broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDerivesMQTTTopics(t *testing.T) {
	cfg := Default()
	cfg.InstanceID = "ward-3"
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://localhost:1883"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	if cfg.MQTT.Topics.Events != "vision/events/ward-3" {
		t.Errorf("Topics.Events = %q, want vision/events/ward-3", cfg.MQTT.Topics.Events)
	}
	if cfg.MQTT.Topics.Control != "vision/control/ward-3" {
		t.Errorf("Topics.Control = %q, want vision/control/ward-3", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Health != "vision/health/ward-3" {
		t.Errorf("Topics.Health = %q, want vision/health/ward-3", cfg.MQTT.Topics.Health)
	}
	for _, topic := range []string{"events", "control", "health"} {
		if cfg.MQTT.QoS[topic] != 1 {
			t.Errorf("QoS[%s] = %d, want 1", topic, cfg.MQTT.QoS[topic])
		}
	}
}
