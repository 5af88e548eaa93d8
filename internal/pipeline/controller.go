// Package pipeline wires the playback engine, the frame sampler and the
// inference collaborator into one service: it forwards their events to
// the display sink and the MQTT emitter, serves health and metrics over
// HTTP and executes control plane commands.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Sephoration/Yolo11-8Cell/internal/config"
	"github.com/Sephoration/Yolo11-8Cell/internal/control"
	"github.com/Sephoration/Yolo11-8Cell/internal/emitter"
	"github.com/Sephoration/Yolo11-8Cell/internal/inference"
	"github.com/Sephoration/Yolo11-8Cell/internal/media"
	"github.com/Sephoration/Yolo11-8Cell/internal/playback"
	"github.com/Sephoration/Yolo11-8Cell/internal/sampler"
	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// progressPublishInterval throttles progress events on the wire. The
// display sink still receives every one.
const progressPublishInterval = time.Second

// DisplaySink receives every pipeline event in-process, display frames
// included. It runs on the event pump goroutine and must not block.
type DisplaySink func(types.Event)

// Controller is the service orchestrator.
type Controller struct {
	cfg *config.Config

	engine    *playback.Engine
	sampler   *sampler.Sampler
	predictor inference.Predictor
	subproc   *inference.Subprocess // set when the predictor is a worker bridge
	emitter   *emitter.Emitter      // nil when MQTT is disabled
	handler   *control.Handler
	metrics   *Metrics
	display   DisplaySink

	started time.Time
	mu      sync.RWMutex
	running bool

	cancelRun  context.CancelFunc
	wg         sync.WaitGroup
	httpServer *http.Server

	lastProgressPub atomic.Int64 // unix nanos of the last published progress
}

// New builds a controller from configuration. The display sink may be
// nil for headless runs.
func New(cfg *config.Config, display DisplaySink) (*Controller, error) {
	predictor, err := inference.New(inference.Config{
		Task:        inference.Task(cfg.Inference.Task),
		ModelPath:   cfg.Inference.ModelPath,
		Confidence:  cfg.Inference.Confidence,
		WorkerCmd:   cfg.Inference.WorkerCmd,
		CallTimeout: time.Duration(cfg.Inference.CallTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve predictor: %w", err)
	}

	engine := playback.New(playback.Config{
		Loop:             cfg.Playback.Loop,
		FPSOverride:      cfg.Playback.FPSOverride,
		ReadRetry:        time.Duration(cfg.Playback.ReadRetryMS) * time.Millisecond,
		DisplayMaxWidth:  cfg.Playback.DisplayMaxWidth,
		DisplayMaxHeight: cfg.Playback.DisplayMaxHeight,
	})

	smp := sampler.New(sampler.Config{
		Interval:       cfg.Sampling.Interval,
		EmptyPoll:      time.Duration(cfg.Sampling.EmptyPollMS) * time.Millisecond,
		IterationDelay: time.Duration(cfg.Sampling.IterationDelayMS) * time.Millisecond,
	}, engine.Slot(), predictor)

	c := &Controller{
		cfg:       cfg,
		engine:    engine,
		sampler:   smp,
		predictor: predictor,
		display:   display,
	}
	c.subproc, _ = predictor.(*inference.Subprocess)
	c.metrics = NewMetrics(engine, smp)

	if cfg.MQTT.Enabled {
		c.emitter = emitter.New(cfg)
	}

	return c, nil
}

// Run starts every component and blocks until the context is canceled
// or Shutdown is triggered over the control plane.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: already running")
	}
	c.running = true
	c.started = time.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()

	slog.Info("pipeline: starting", "instance_id", c.cfg.InstanceID)

	if c.subproc != nil {
		if err := c.subproc.Start(); err != nil {
			return fmt.Errorf("pipeline: start inference worker: %w", err)
		}
	}

	if c.emitter != nil {
		if err := c.emitter.Connect(); err != nil {
			return fmt.Errorf("pipeline: connect mqtt: %w", err)
		}

		c.handler = control.NewHandler(c.cfg, c.emitter.Client, c.emitter, control.Callbacks{
			OnPlay:          c.Play,
			OnPlayCamera:    c.PlayCamera,
			OnPause:         c.Pause,
			OnResume:        c.Resume,
			OnStop:          c.StopPlayback,
			OnSeek:          c.Seek,
			OnStartSampling: c.StartSampling,
			OnStopSampling:  c.StopSampling,
			OnSetInterval:   c.SetInterval,
			OnScreenshot:    c.Screenshot,
			OnProcessImage:  c.ProcessImage,
			OnGetStatus:     c.Status,
			OnShutdown:      c.shutdownViaControl,
		})
		if err := c.handler.Start(ctx); err != nil {
			return fmt.Errorf("pipeline: start control plane: %w", err)
		}
	}

	c.startHealthServer()

	c.wg.Add(2)
	go c.pumpEvents(ctx, c.engine.Events())
	go c.pumpEvents(ctx, c.sampler.Events())

	c.wg.Add(1)
	go c.logStats(ctx)

	if err := c.openConfiguredSource(); err != nil {
		slog.Error("pipeline: configured source failed to open", "error", err)
	}
	if c.cfg.Sampling.AutoStart {
		if err := c.StartSampling(c.cfg.Sampling.Interval); err != nil {
			slog.Error("pipeline: auto-start sampling failed", "error", err)
		}
	}

	slog.Info("pipeline: running")

	<-ctx.Done()

	slog.Info("pipeline: run loop exiting")
	return nil
}

// openConfiguredSource starts playback of the source named in the
// configuration, when there is one. A daemon driven purely over the
// control plane configures no source and starts idle.
func (c *Controller) openConfiguredSource() error {
	switch c.cfg.Source.Kind {
	case "":
		slog.Info("pipeline: no startup source configured, waiting for commands")
		return nil
	case "file":
		return c.Play(c.cfg.Source.Path)
	case "camera":
		return c.PlayCamera(c.cfg.Source.Device)
	case "synthetic":
		return c.engine.Play(media.Spec{Kind: media.KindSynthetic, Synthetic: media.SyntheticConfig{
			Width:  c.cfg.Source.Width,
			Height: c.cfg.Source.Height,
		}})
	default:
		return fmt.Errorf("pipeline: unknown source kind %q", c.cfg.Source.Kind)
	}
}

// Shutdown tears the service down: sampling first, then playback, then
// the control plane and transports. Bounded by the caller's context.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	slog.Info("pipeline: shutting down")

	c.sampler.Stop()
	c.engine.Stop()

	// The event pump may already have exited with the run context, so
	// drain whatever the stop sequence emitted, the final statistics
	// snapshot included.
	c.drainEvents()

	if c.handler != nil {
		if err := c.handler.Stop(); err != nil {
			slog.Error("pipeline: failed to stop control handler", "error", err)
		}
	}

	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.mu.Unlock()

	slog.Info("pipeline: waiting for goroutines")
	c.wg.Wait()

	if c.subproc != nil {
		if err := c.subproc.Stop(); err != nil {
			slog.Error("pipeline: failed to stop inference worker", "error", err)
		}
	}

	if c.emitter != nil {
		if err := c.emitter.Disconnect(); err != nil {
			slog.Error("pipeline: failed to disconnect mqtt", "error", err)
		}
	}

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			slog.Error("pipeline: http server shutdown failed", "error", err)
		}
	}

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.running = false
	c.mu.Unlock()

	slog.Info("pipeline: shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown bound.
func (c *Controller) ShutdownTimeout() time.Duration {
	return time.Duration(c.cfg.ShutdownTimeoutS) * time.Second
}

// shutdownViaControl ends the run loop; the process main then performs
// the usual graceful shutdown.
func (c *Controller) shutdownViaControl() error {
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("pipeline: not running")
	}
	cancel()
	return nil
}

// Play starts playback of a video file.
func (c *Controller) Play(path string) error {
	return c.engine.Play(media.Spec{Kind: media.KindFile, Path: path})
}

// PlayCamera starts playback of a capture device.
func (c *Controller) PlayCamera(device int) error {
	return c.engine.Play(media.Spec{Kind: media.KindCamera, Camera: media.CameraConfig{
		Device: device,
		Width:  c.cfg.Source.Width,
		Height: c.cfg.Source.Height,
	}})
}

// Pause suspends the decode loop without releasing the source.
func (c *Controller) Pause() error {
	c.engine.Pause()
	return nil
}

// Resume reopens the pause gate.
func (c *Controller) Resume() error {
	c.engine.Resume()
	return nil
}

// StopPlayback stops the decode loop and releases the source.
func (c *Controller) StopPlayback() error {
	c.engine.Stop()
	return nil
}

// Seek repositions playback to the given frame.
func (c *Controller) Seek(frame int64) error {
	return c.engine.Seek(frame)
}

// StartSampling begins submitting every Nth decoded frame to inference.
// interval <= 0 keeps the current setting.
func (c *Controller) StartSampling(interval int) error {
	if interval > 0 {
		c.sampler.SetInterval(interval)
	}
	c.sampler.Start()
	return nil
}

// StopSampling ends the sampling session and emits its final statistics.
func (c *Controller) StopSampling() error {
	c.sampler.Stop()
	return nil
}

// SetInterval changes the every-Nth sampling setting.
func (c *Controller) SetInterval(interval int) error {
	if interval < 1 {
		return fmt.Errorf("pipeline: interval must be at least 1, got %d", interval)
	}
	c.sampler.SetInterval(interval)
	return nil
}

// Screenshot saves the most recent decoded frame to path. The format
// follows the file extension.
func (c *Controller) Screenshot(path string) error {
	frame, ok := c.engine.CurrentFrame()
	if !ok {
		return fmt.Errorf("pipeline: no frame available for screenshot")
	}

	img := frame.ToRGBA()
	if img == nil {
		return fmt.Errorf("pipeline: current frame is not convertible")
	}

	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("pipeline: save screenshot: %w", err)
	}

	slog.Info("pipeline: screenshot saved", "path", path, "frame", frame.Index)
	c.forward(types.StatusEvent(fmt.Sprintf("screenshot saved: %s", path)))
	return nil
}

// ProcessImage runs one inference over a still image file and emits the
// annotated result plus a single-sample statistics snapshot. Playback
// state is untouched.
func (c *Controller) ProcessImage(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("pipeline: open image: %w", err)
	}

	frame := frameFromImage(img)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(c.cfg.Inference.CallTimeoutMS)*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := c.predictor.Predict(ctx, frame)
	if err != nil {
		c.forward(types.ErrorEvent(err.Error()))
		return fmt.Errorf("pipeline: process image: %w", err)
	}
	latency := time.Since(start)

	session := sampler.NewSession()
	session.ObserveFrame()
	session.RecordSample(res, latency)
	snap := session.Snapshot()

	ev := types.Event{
		Kind:      types.EventProcessedFrame,
		Timestamp: time.Now(),
		TraceID:   frame.TraceID,
		Stats:     &snap,
	}
	if res.Annotated != nil {
		ev.Image = res.Annotated.ToRGBA()
	}
	if ev.Image == nil {
		ev.Image = frame.ToRGBA()
	}
	c.forward(ev)
	c.forward(types.Event{Kind: types.EventComplete, Timestamp: time.Now(), Stats: &snap})

	slog.Info("pipeline: image processed",
		"path", path,
		"detections", res.Detections,
		"latency_ms", float64(latency)/float64(time.Millisecond))
	return nil
}

// CurrentFrame exposes the engine's snapshot accessor.
func (c *Controller) CurrentFrame() (types.Frame, bool) {
	return c.engine.CurrentFrame()
}

// Status reports the service state for the control plane.
func (c *Controller) Status() map[string]interface{} {
	c.mu.RLock()
	running := c.running
	started := c.started
	c.mu.RUnlock()

	engineStats := c.engine.Stats()
	samplerStats := c.sampler.Stats()

	status := map[string]interface{}{
		"instance_id":    c.cfg.InstanceID,
		"running":        running,
		"uptime_s":       time.Since(started).Seconds(),
		"state":          engineStats.State.String(),
		"frames_decoded": engineStats.FramesDecoded,
		"loops":          engineStats.Loops,
		"read_failures":  engineStats.ReadFailures,
		"sampling":       samplerStats.Running,
		"interval":       samplerStats.Interval,
		"session":        samplerStats.Session,
	}
	if props, ok := c.engine.Properties(); ok {
		status["source"] = map[string]interface{}{
			"width":        props.Width,
			"height":       props.Height,
			"fps":          props.FPS,
			"total_frames": props.TotalFrames,
			"live":         props.Live,
		}
	}
	if c.emitter != nil {
		status["mqtt_connected"] = c.emitter.Connected()
	}
	return status
}

// drainEvents forwards everything still buffered on the component event
// channels, without blocking.
func (c *Controller) drainEvents() {
	for {
		select {
		case ev := <-c.engine.Events():
			c.forward(ev)
		case ev := <-c.sampler.Events():
			c.forward(ev)
		default:
			return
		}
	}
}

// pumpEvents forwards one component's event stream until the run ends.
func (c *Controller) pumpEvents(ctx context.Context, events <-chan types.Event) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.forward(ev)
		}
	}
}

// forward hands one event to the display sink and, for serializable
// kinds, to the MQTT emitter. Display frames stay in-process; progress
// is throttled on the wire so a 60fps source does not flood the broker.
func (c *Controller) forward(ev types.Event) {
	if c.display != nil {
		c.display(ev)
	}

	if c.emitter == nil {
		return
	}

	switch ev.Kind {
	case types.EventFrameReady, types.EventProcessedFrame:
		return
	case types.EventProgress:
		now := time.Now().UnixNano()
		last := c.lastProgressPub.Load()
		if now-last < int64(progressPublishInterval) {
			return
		}
		if !c.lastProgressPub.CompareAndSwap(last, now) {
			return
		}
	}

	if err := c.emitter.PublishEvent(ev); err != nil {
		slog.Debug("pipeline: event publish failed", "kind", ev.Kind, "error", err)
	}
}

// logStats writes a periodic pipeline summary while the service runs.
func (c *Controller) logStats(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engineStats := c.engine.Stats()
			if engineStats.State == playback.StateIdle && !c.sampler.Stats().Running {
				continue
			}
			samplerStats := c.sampler.Stats()
			slog.Debug("pipeline: stats",
				"state", engineStats.State.String(),
				"frames_decoded", engineStats.FramesDecoded,
				"slot_writes", engineStats.SlotWrites,
				"read_failures", engineStats.ReadFailures,
				"frames_observed", samplerStats.FramesObserved,
				"frames_sampled", samplerStats.FramesSampled,
				"inference_errors", samplerStats.InferenceErrors,
				"avg_inference_ms", samplerStats.Session.AvgInferenceMS)
		}
	}
}
