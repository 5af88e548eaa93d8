package inference

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// workerStats is the statistics block of a worker response.
type workerStats struct {
	DetectionCount int            `msgpack:"detection_count"`
	InferenceTime  float64        `msgpack:"inference_time"`
	FPS            float64        `msgpack:"fps"`
	AvgConfidence  float64        `msgpack:"avg_confidence"`
	Classes        map[string]int `msgpack:"classes"`
	TrackedObjects int            `msgpack:"tracked_objects"`
}

// workerResponse is one inference result from the worker. Classification
// tasks fill class_name/confidence; detection tasks fill stats.
type workerResponse struct {
	Image      []byte      `msgpack:"image"`
	Stats      workerStats `msgpack:"stats"`
	ClassName  string      `msgpack:"class_name"`
	Confidence float64     `msgpack:"confidence"`
	Error      string      `msgpack:"error"`
}

// Subprocess bridges to an external inference worker. Frames go to the
// worker's stdin as length-prefixed MsgPack (4 bytes big-endian plus
// payload); results come back the same way on stdout. Predict is
// synchronous and serialized: one request in flight at a time.
type Subprocess struct {
	cfg Config
	id  string

	callMu sync.Mutex // one Predict at a time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	responses chan workerResponse

	isActive   atomic.Bool
	inferences atomic.Int64
	failures   atomic.Int64
}

// WorkerStatus summarizes the bridge for health reporting.
type WorkerStatus struct {
	Active     bool
	Inferences int64
	Failures   int64
}

// NewSubprocess builds a stopped bridge. Call Start before Predict.
func NewSubprocess(cfg Config) *Subprocess {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Subprocess{
		cfg:       cfg,
		id:        uuid.New().String()[:8],
		responses: make(chan workerResponse, 4),
	}
}

// Start spawns the worker process and its reader goroutines.
func (w *Subprocess) Start() error {
	if !w.isActive.CompareAndSwap(false, true) {
		return fmt.Errorf("inference: worker already started")
	}

	argv := strings.Fields(w.cfg.WorkerCmd)
	if len(argv) == 0 {
		w.isActive.Store(false)
		return fmt.Errorf("inference: empty worker command")
	}

	args := append(argv[1:], "--task", string(w.cfg.Task))
	if w.cfg.ModelPath != "" {
		args = append(args, "--model", w.cfg.ModelPath)
	}
	if w.cfg.Confidence > 0 {
		args = append(args, "--confidence", fmt.Sprintf("%.2f", w.cfg.Confidence))
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.ctx = ctx
	w.cancel = cancel

	cmd := exec.CommandContext(ctx, argv[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		w.isActive.Store(false)
		return fmt.Errorf("inference: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		w.isActive.Store(false)
		return fmt.Errorf("inference: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		w.isActive.Store(false)
		return fmt.Errorf("inference: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		w.isActive.Store(false)
		return fmt.Errorf("inference: start worker: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = stdout
	w.stderr = stderr

	w.wg.Add(3)
	go w.readResponses()
	go w.logStderr()
	go w.waitProcess()

	slog.Info("inference: worker started",
		"worker_id", w.id,
		"task", w.cfg.Task,
		"model", w.cfg.ModelPath,
		"pid", cmd.Process.Pid)

	return nil
}

// Predict sends one frame and waits for the matching response.
func (w *Subprocess) Predict(ctx context.Context, frame types.Frame) (types.Result, error) {
	if !w.isActive.Load() {
		return types.Result{}, fmt.Errorf("inference: worker not running")
	}

	w.callMu.Lock()
	defer w.callMu.Unlock()

	// A previous call that timed out may have left its late response
	// buffered; discard so this call pairs with its own.
	for {
		select {
		case <-w.responses:
			continue
		default:
		}
		break
	}

	if err := w.sendRequest(ctx, frame); err != nil {
		w.failures.Add(1)
		return types.Result{}, err
	}

	select {
	case resp := <-w.responses:
		if resp.Error != "" {
			w.failures.Add(1)
			return types.Result{}, fmt.Errorf("inference: worker: %s", resp.Error)
		}
		w.inferences.Add(1)
		return resultFromResponse(resp, frame), nil
	case <-time.After(w.cfg.CallTimeout):
		w.failures.Add(1)
		return types.Result{}, fmt.Errorf("inference: call timeout after %s (worker may be hung)", w.cfg.CallTimeout)
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	case <-w.ctx.Done():
		return types.Result{}, fmt.Errorf("inference: worker stopped during call")
	}
}

// sendRequest writes one length-prefixed MsgPack request to the worker.
// MsgPack carries the pixel payload as raw bytes, no base64 detour.
func (w *Subprocess) sendRequest(ctx context.Context, frame types.Frame) error {
	request := map[string]interface{}{
		"frame_data": frame.Data,
		"width":      frame.Width,
		"height":     frame.Height,
		"meta": map[string]interface{}{
			"seq":       frame.Index,
			"trace_id":  frame.TraceID,
			"timestamp": frame.Timestamp.Format(time.RFC3339Nano),
			"task":      string(w.cfg.Task),
		},
	}

	payload, err := msgpack.Marshal(request)
	if err != nil {
		return fmt.Errorf("inference: marshal request: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		prefix := make([]byte, 4)
		binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
		if _, err := w.stdin.Write(prefix); err != nil {
			writeErr <- fmt.Errorf("write length prefix: %w", err)
			return
		}
		if _, err := w.stdin.Write(payload); err != nil {
			writeErr <- fmt.Errorf("write payload: %w", err)
			return
		}
		writeErr <- nil
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("inference: send to worker: %w", err)
		}
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("inference: stdin write timeout (worker may be hung)")
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return fmt.Errorf("inference: worker stopped during write")
	}
}

// readResponses decodes length-prefixed messages from the worker stdout
// until the stream closes.
func (w *Subprocess) readResponses() {
	defer w.wg.Done()

	lengthBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(w.stdout, lengthBuf); err != nil {
			if err == io.EOF {
				slog.Debug("inference: worker stdout closed", "worker_id", w.id)
			} else if w.ctx.Err() == nil {
				slog.Error("inference: failed to read length prefix", "worker_id", w.id, "error", err)
			}
			return
		}

		msgLength := binary.BigEndian.Uint32(lengthBuf)
		data := make([]byte, msgLength)
		if _, err := io.ReadFull(w.stdout, data); err != nil {
			slog.Error("inference: failed to read response body",
				"worker_id", w.id,
				"expected_length", msgLength,
				"error", err)
			return
		}

		var resp workerResponse
		if err := msgpack.Unmarshal(data, &resp); err != nil {
			slog.Error("inference: failed to unmarshal response",
				"worker_id", w.id,
				"data_length", len(data),
				"error", err)
			continue
		}

		select {
		case w.responses <- resp:
		default:
			slog.Warn("inference: response buffer full, dropping result", "worker_id", w.id)
		}
	}
}

// logStderr forwards worker log lines at mapped levels.
func (w *Subprocess) logStderr() {
	defer w.wg.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("inference: worker error", "worker_id", w.id, "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("inference: worker warning", "worker_id", w.id, "log", line)
		default:
			slog.Debug("inference: worker log", "worker_id", w.id, "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("inference: error reading worker stderr", "worker_id", w.id, "error", err)
	}
}

// waitProcess reaps the worker so it cannot linger as a zombie.
func (w *Subprocess) waitProcess() {
	defer w.wg.Done()

	if w.cmd == nil || w.cmd.Process == nil {
		return
	}

	err := w.cmd.Wait()
	switch {
	case err == nil:
		slog.Debug("inference: worker exited cleanly", "worker_id", w.id)
	case w.ctx.Err() != nil:
		slog.Debug("inference: worker stopped", "worker_id", w.id)
	default:
		slog.Error("inference: worker exited unexpectedly", "worker_id", w.id, "error", err)
	}
}

// Status reports bridge counters for health endpoints.
func (w *Subprocess) Status() WorkerStatus {
	return WorkerStatus{
		Active:     w.isActive.Load(),
		Inferences: w.inferences.Load(),
		Failures:   w.failures.Load(),
	}
}

// Stop shuts the worker down: closes stdin for a graceful exit, joins
// the reader goroutines within a bound, kills on timeout. Safe to call
// repeatedly.
func (w *Subprocess) Stop() error {
	if !w.isActive.CompareAndSwap(true, false) {
		return nil
	}

	slog.Info("inference: stopping worker", "worker_id", w.id)

	if w.cancel != nil {
		w.cancel()
	}
	if w.stdin != nil {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("inference: worker goroutines stopped cleanly", "worker_id", w.id)
	case <-time.After(2 * time.Second):
		slog.Warn("inference: worker stop timeout, force killing", "worker_id", w.id)
		if w.cmd != nil && w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil {
				slog.Error("inference: failed to kill worker", "worker_id", w.id, "error", err)
			}
		}
	}

	slog.Info("inference: worker stopped",
		"worker_id", w.id,
		"inferences", w.inferences.Load(),
		"failures", w.failures.Load())

	return nil
}

// resultFromResponse maps a worker response onto the pipeline result
// type. The annotated image is accepted only when it matches the input
// geometry; anything else is treated as absent.
func resultFromResponse(resp workerResponse, frame types.Frame) types.Result {
	res := types.Result{
		Detections:     resp.Stats.DetectionCount,
		AvgConfidence:  resp.Stats.AvgConfidence,
		Classes:        resp.Stats.Classes,
		TrackedObjects: resp.Stats.TrackedObjects,
		ClassName:      resp.ClassName,
		Confidence:     resp.Confidence,
	}
	if res.Classes == nil {
		res.Classes = map[string]int{}
	}

	if len(resp.Image) == frame.Width*frame.Height*types.BytesPerPixel && len(resp.Image) > 0 {
		res.Annotated = &types.Frame{
			Index:     frame.Index,
			Timestamp: time.Now(),
			Width:     frame.Width,
			Height:    frame.Height,
			Data:      resp.Image,
			TraceID:   frame.TraceID,
		}
	}

	return res
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
