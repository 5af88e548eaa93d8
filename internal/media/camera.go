package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// warmupFrames is how many initial captures are discarded after the
// pipeline reaches PLAYING. Early frames from V4L2 devices arrive with
// unstable exposure.
const warmupFrames = 3

// CameraConfig parameterizes a capture device.
type CameraConfig struct {
	Device int     // /dev/video index
	Width  int     // requested capture width
	Height int     // requested capture height
	FPS    float64 // requested capture rate, 0 = DefaultFPS
}

// Camera captures frames from a V4L2 device through a GStreamer pipeline
// ending in an appsink. The appsink callback copies each sample into a
// one-deep channel, dropping when the consumer lags, so ReadNext always
// observes the latest capture.
type Camera struct {
	cfg      CameraConfig
	props    Properties
	pipeline *gst.Pipeline

	frames chan types.Frame
	busErr chan error

	frameSeq atomic.Int64
	dropped  atomic.Uint64
	stopped  atomic.Bool
	stopMon  chan struct{}
}

// OpenCamera builds and starts the capture pipeline, then discards the
// warmup frames so the first ReadNext returns a stable image.
func OpenCamera(cfg CameraConfig) (*Camera, error) {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}

	device := fmt.Sprintf("/dev/video%d", cfg.Device)

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("create pipeline: %w", err)}
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("create v4l2src: %w", err)}
	}
	src.SetProperty("device", device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("create videoconvert: %w", err)}
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("create videoscale: %w", err)}
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("create capsfilter: %w", err)}
	}
	capsStr := fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d", cfg.Width, cfg.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("create appsink: %w", err)}
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1) // keep only the latest capture
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, &OpenError{Target: device, Err: fmt.Errorf("link elements: %w", err)}
	}

	cam := &Camera{
		cfg:      cfg,
		pipeline: pipeline,
		frames:   make(chan types.Frame, 1),
		busErr:   make(chan error, 1),
		stopMon:  make(chan struct{}),
		props: Properties{
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPS,
			TotalFrames: DefaultTotalFrames,
			Live:        true,
		},
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: cam.onNewSample,
	})

	go cam.watchBus()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		cam.teardown()
		return nil, &OpenError{Target: device, Err: fmt.Errorf("start pipeline: %w", err)}
	}

	slog.Info("camera opened",
		"device", device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS)

	cam.warmup()

	return cam, nil
}

// onNewSample copies the appsink sample into the frame channel. GStreamer
// reuses the buffer after the callback returns, so the copy is mandatory.
// A full channel means the reader is behind; the capture is dropped.
func (c *Camera) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camera: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camera: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("camera: empty buffer received")
		return gst.FlowOK
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	frame := types.Frame{
		Index:     c.frameSeq.Add(1) - 1,
		Timestamp: time.Now(),
		Width:     c.cfg.Width,
		Height:    c.cfg.Height,
		Data:      payload,
	}

	select {
	case c.frames <- frame:
	default:
		c.dropped.Add(1)
	}

	return gst.FlowOK
}

// watchBus surfaces pipeline errors to ReadNext.
func (c *Camera) watchBus() {
	bus := c.pipeline.GetPipelineBus()
	for {
		select {
		case <-c.stopMon:
			return
		default:
		}

		msg := bus.TimedPop(500 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera: pipeline error", "error", gerr.Error())
			select {
			case c.busErr <- fmt.Errorf("pipeline: %s", gerr.Error()):
			default:
			}
		case gst.MessageEOS:
			slog.Warn("camera: unexpected EOS from capture pipeline")
			select {
			case c.busErr <- fmt.Errorf("pipeline: unexpected EOS"):
			default:
			}
		}
	}
}

// warmup discards the first captures. Bounded so a slow device cannot
// hang open.
func (c *Camera) warmup() {
	deadline := time.After(2 * time.Second)
	for i := 0; i < warmupFrames; i++ {
		select {
		case <-c.frames:
		case <-deadline:
			slog.Warn("camera: warmup incomplete", "discarded", i)
			return
		}
	}
	slog.Debug("camera: warmup complete", "discarded", warmupFrames)
}

// ReadNext blocks until the capture callback delivers a frame, the bus
// reports an error or the context is canceled.
func (c *Camera) ReadNext(ctx context.Context) (types.Frame, error) {
	if c.stopped.Load() {
		return types.Frame{}, &ReadError{Index: c.frameSeq.Load(), Err: fmt.Errorf("camera closed")}
	}

	select {
	case frame := <-c.frames:
		return frame, nil
	case err := <-c.busErr:
		return types.Frame{}, &ReadError{Index: c.frameSeq.Load(), Err: err}
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// Seek is not supported on live capture.
func (c *Camera) Seek(index int64) error {
	return ErrNotSeekable
}

// Properties reports the negotiated capture characteristics.
func (c *Camera) Properties() Properties {
	return c.props
}

// Dropped returns how many captures were discarded because the reader
// was behind.
func (c *Camera) Dropped() uint64 {
	return c.dropped.Load()
}

// Close stops the pipeline. Safe to call more than once.
func (c *Camera) Close() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.teardown()
	slog.Info("camera closed",
		"device", fmt.Sprintf("/dev/video%d", c.cfg.Device),
		"frames", c.frameSeq.Load(),
		"dropped", c.dropped.Load())
	return nil
}

func (c *Camera) teardown() {
	close(c.stopMon)
	c.pipeline.SetState(gst.StateNull)
}
