package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validTasks = map[string]bool{
	"detect":   true,
	"classify": true,
	"pose":     true,
	"track":    true,
}

var validSourceKinds = map[string]bool{
	"":          true, // source selected over the control plane
	"file":      true,
	"camera":    true,
	"synthetic": true,
}

// Validate checks field constraints and derives dependent defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match %s, got %q", instanceIDPattern.String(), cfg.InstanceID)
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if !validSourceKinds[cfg.Source.Kind] {
		return fmt.Errorf("source.kind must be file, camera or synthetic, got %q", cfg.Source.Kind)
	}
	if cfg.Source.Kind == "file" && cfg.Source.Path == "" {
		return fmt.Errorf("source.path is required when source.kind is file")
	}
	if cfg.Source.Width <= 0 {
		cfg.Source.Width = 640
	}
	if cfg.Source.Height <= 0 {
		cfg.Source.Height = 480
	}

	if cfg.Playback.FPSOverride < 0 {
		return fmt.Errorf("playback.fps_override must not be negative, got %v", cfg.Playback.FPSOverride)
	}
	if cfg.Playback.ReadRetryMS <= 0 {
		cfg.Playback.ReadRetryMS = 20
	}

	if cfg.Sampling.Interval < 1 {
		return fmt.Errorf("sampling.interval must be at least 1, got %d", cfg.Sampling.Interval)
	}
	if cfg.Sampling.EmptyPollMS <= 0 {
		cfg.Sampling.EmptyPollMS = 100
	}
	if cfg.Sampling.IterationDelayMS <= 0 {
		cfg.Sampling.IterationDelayMS = 50
	}

	if !validTasks[cfg.Inference.Task] {
		return fmt.Errorf("inference.task must be detect, classify, pose or track, got %q", cfg.Inference.Task)
	}
	if cfg.Inference.Confidence < 0 || cfg.Inference.Confidence > 1 {
		return fmt.Errorf("inference.confidence must be between 0 and 1, got %v", cfg.Inference.Confidence)
	}
	if cfg.Inference.CallTimeoutMS <= 0 {
		cfg.Inference.CallTimeoutMS = 10000
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("vision/events/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("vision/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("vision/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{}
		}
		for _, topic := range []string{"events", "control", "health"} {
			if _, ok := cfg.MQTT.QoS[topic]; !ok {
				cfg.MQTT.QoS[topic] = 1
			}
		}
	}

	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}

	return nil
}
