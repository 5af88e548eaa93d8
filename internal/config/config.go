package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // graceful shutdown bound in seconds (default: 5)
	Source           SourceConfig    `yaml:"source"`
	Playback         PlaybackConfig  `yaml:"playback"`
	Sampling         SamplingConfig  `yaml:"sampling"`
	Inference        InferenceConfig `yaml:"inference"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	HTTP             HTTPConfig      `yaml:"http"`
}

// SourceConfig selects the media source opened at startup. Kind may be left
// empty when the daemon is driven purely over the control plane.
type SourceConfig struct {
	Kind   string `yaml:"kind"`   // file, camera, synthetic
	Path   string `yaml:"path"`   // file path (kind: file)
	Device int    `yaml:"device"` // /dev/video index (kind: camera)
	Width  int    `yaml:"width"`  // capture width for cameras (default: 640)
	Height int    `yaml:"height"` // capture height for cameras (default: 480)
}

// PlaybackConfig tunes the decode loop.
type PlaybackConfig struct {
	Loop             bool    `yaml:"loop"`               // wrap to frame 0 at end of stream (default: true)
	FPSOverride      float64 `yaml:"fps_override"`       // force playback rate, 0 = source native
	ReadRetryMS      int     `yaml:"read_retry_ms"`      // pause after a failed live read (default: 20)
	DisplayMaxWidth  int     `yaml:"display_max_width"`  // display frame scale bound, 0 = native
	DisplayMaxHeight int     `yaml:"display_max_height"` // display frame scale bound, 0 = native
}

// SamplingConfig tunes the inference sampling loop.
type SamplingConfig struct {
	Interval         int  `yaml:"interval"`           // submit every Nth observed frame (default: 5)
	EmptyPollMS      int  `yaml:"empty_poll_ms"`      // retry delay when the frame slot is empty (default: 100)
	IterationDelayMS int  `yaml:"iteration_delay_ms"` // fixed per-iteration delay (default: 50)
	AutoStart        bool `yaml:"auto_start"`         // start sampling as soon as playback begins
}

// InferenceConfig selects and parameterizes the inference collaborator.
type InferenceConfig struct {
	Task          string  `yaml:"task"`            // detect, classify, pose, track
	ModelPath     string  `yaml:"model_path"`      // model weights handed to the worker
	Confidence    float64 `yaml:"confidence"`      // score threshold (default: 0.25)
	WorkerCmd     string  `yaml:"worker_cmd"`      // launcher for the external worker process
	CallTimeoutMS int     `yaml:"call_timeout_ms"` // per-call bound (default: 10000)
}

// MQTTConfig contains broker settings for the event and control planes.
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  MQTTTopics      `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos"`
}

// MQTTTopics contains the topic names used by the daemon.
type MQTTTopics struct {
	Events  string `yaml:"events"`
	Control string `yaml:"control"`
	Health  string `yaml:"health"`
}

// HTTPConfig contains the health/metrics server settings.
type HTTPConfig struct {
	Port string `yaml:"port"` // default: 8080
}

// Default returns a runnable configuration with every tunable at its
// documented default. Loading a file starts from these values, so absent
// keys keep their defaults.
func Default() *Config {
	return &Config{
		InstanceID:       "yolod",
		ShutdownTimeoutS: 5,
		Source: SourceConfig{
			Width:  640,
			Height: 480,
		},
		Playback: PlaybackConfig{
			Loop:        true,
			ReadRetryMS: 20,
		},
		Sampling: SamplingConfig{
			Interval:         5,
			EmptyPollMS:      100,
			IterationDelayMS: 50,
		},
		Inference: InferenceConfig{
			Task:          "detect",
			Confidence:    0.25,
			CallTimeoutMS: 10000,
		},
		HTTP: HTTPConfig{Port: "8080"},
	}
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}
