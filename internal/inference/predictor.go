// Package inference provides the predictors the sampling loop submits
// frames to. The real implementation bridges to an external worker
// process over length-prefixed MsgPack; a null predictor keeps the
// pipeline runnable when no worker is configured.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// Predictor runs inference on one frame. Predict blocks until the result
// is available, the context is canceled or the call times out.
type Predictor interface {
	Predict(ctx context.Context, frame types.Frame) (types.Result, error)
}

// Task selects the model family the worker runs.
type Task string

const (
	TaskDetect   Task = "detect"
	TaskClassify Task = "classify"
	TaskPose     Task = "pose"
	TaskTrack    Task = "track"
)

var knownTasks = map[Task]bool{
	TaskDetect:   true,
	TaskClassify: true,
	TaskPose:     true,
	TaskTrack:    true,
}

// Config selects and parameterizes a predictor.
type Config struct {
	Task        Task
	ModelPath   string
	Confidence  float64
	WorkerCmd   string        // launcher for the worker process; empty = null predictor
	CallTimeout time.Duration // per-call bound
}

// New resolves the predictor for a task once, at startup. Starting the
// returned subprocess predictor is the caller's responsibility.
func New(cfg Config) (Predictor, error) {
	if !knownTasks[cfg.Task] {
		return nil, fmt.Errorf("inference: unknown task %q", cfg.Task)
	}
	if cfg.WorkerCmd == "" {
		slog.Warn("inference: no worker configured, results will be empty", "task", cfg.Task)
		return NewNull(cfg.Task), nil
	}
	return NewSubprocess(cfg), nil
}

// Null is a predictor that returns empty results. It keeps playback and
// sampling observable on machines without a model worker installed.
type Null struct {
	task Task
}

// NewNull builds a predictor that detects nothing.
func NewNull(task Task) *Null {
	return &Null{task: task}
}

// Predict returns an empty result for the frame.
func (n *Null) Predict(ctx context.Context, frame types.Frame) (types.Result, error) {
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}
	return types.Result{Classes: map[string]int{}}, nil
}
