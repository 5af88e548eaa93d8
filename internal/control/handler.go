// Package control implements the MQTT control plane. Commands arrive as
// JSON on the control topic, are dispatched to callbacks supplied by the
// pipeline controller, and are acknowledged on the health topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Sephoration/Yolo11-8Cell/internal/config"
)

// Command is one control plane request.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response acknowledges a command on the health topic.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Responder publishes command acknowledgements. *emitter.Emitter
// satisfies this.
type Responder interface {
	PublishHealth(payload []byte) error
}

// Callbacks contains the command implementations the handler dispatches
// to. A nil callback makes its command report "not implemented".
type Callbacks struct {
	OnPlay          func(path string) error
	OnPlayCamera    func(device int) error
	OnPause         func() error
	OnResume        func() error
	OnStop          func() error
	OnSeek          func(frame int64) error
	OnStartSampling func(interval int) error
	OnStopSampling  func() error
	OnSetInterval   func(interval int) error
	OnScreenshot    func(path string) error
	OnProcessImage  func(path string) error
	OnGetStatus     func() map[string]interface{}
	OnShutdown      func() error
}

// Handler subscribes to the control topic and runs commands.
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	responder Responder
	callbacks Callbacks
	commands  chan Command
}

// NewHandler creates a control plane handler.
func NewHandler(cfg *config.Config, client mqtt.Client, responder Responder, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		responder: responder,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// Start subscribes to the control topic and starts the command loop.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("control: subscribing", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes from the control topic.
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	slog.Info("control: handler stopped")
	return nil
}

// messageHandler parses an incoming control message and queues it.
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.sendResponse(h.HandleCommand(cmd))
		}
	}
}

// HandleCommand runs one command and builds its acknowledgement.
func (h *Handler) HandleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	switch cmd.Command {
	case "play":
		path, ok := stringParam(cmd, "path")
		if !ok {
			return errResponse(cmd, "missing or invalid 'path' parameter (expected string)")
		}
		if err := h.call(h.callbacks.OnPlay == nil, func() error { return h.callbacks.OnPlay(path) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"playing": true, "path": path}

	case "play_camera":
		device, ok := intParam(cmd, "device")
		if !ok {
			device = 0
		}
		if err := h.call(h.callbacks.OnPlayCamera == nil, func() error { return h.callbacks.OnPlayCamera(device) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"playing": true, "device": device}

	case "pause":
		if err := h.call(h.callbacks.OnPause == nil, h.callbacks.OnPause); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"paused": true}

	case "resume":
		if err := h.call(h.callbacks.OnResume == nil, h.callbacks.OnResume); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"paused": false}

	case "stop":
		if err := h.call(h.callbacks.OnStop == nil, h.callbacks.OnStop); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"playing": false}

	case "seek":
		frame, ok := intParam(cmd, "frame")
		if !ok {
			return errResponse(cmd, "missing or invalid 'frame' parameter (expected integer)")
		}
		if err := h.call(h.callbacks.OnSeek == nil, func() error { return h.callbacks.OnSeek(int64(frame)) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"frame": frame}

	case "start_sampling":
		interval, ok := intParam(cmd, "interval")
		if !ok {
			// The delay slider sends milliseconds; map to a frame count.
			if delayMS, okDelay := intParam(cmd, "delay_ms"); okDelay {
				interval = delayMS / 10
				if interval < 1 {
					interval = 1
				}
			} else {
				return errResponse(cmd, "missing 'interval' or 'delay_ms' parameter (expected integer)")
			}
		}
		if err := h.call(h.callbacks.OnStartSampling == nil, func() error { return h.callbacks.OnStartSampling(interval) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"sampling": true, "interval": interval}

	case "stop_sampling":
		if err := h.call(h.callbacks.OnStopSampling == nil, h.callbacks.OnStopSampling); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"sampling": false}

	case "set_interval":
		interval, ok := intParam(cmd, "interval")
		if !ok {
			return errResponse(cmd, "missing or invalid 'interval' parameter (expected integer)")
		}
		if err := h.call(h.callbacks.OnSetInterval == nil, func() error { return h.callbacks.OnSetInterval(interval) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"interval": interval}

	case "screenshot":
		path, ok := stringParam(cmd, "path")
		if !ok {
			return errResponse(cmd, "missing or invalid 'path' parameter (expected string)")
		}
		if err := h.call(h.callbacks.OnScreenshot == nil, func() error { return h.callbacks.OnScreenshot(path) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"saved": path}

	case "process_image":
		path, ok := stringParam(cmd, "path")
		if !ok {
			return errResponse(cmd, "missing or invalid 'path' parameter (expected string)")
		}
		if err := h.call(h.callbacks.OnProcessImage == nil, func() error { return h.callbacks.OnProcessImage(path) }); err != nil {
			return errorFrom(cmd, err)
		}
		resp.Data = map[string]interface{}{"processed": path}

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return errResponse(cmd, "get_status not implemented")
		}
		resp.Data = h.callbacks.OnGetStatus()

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return errResponse(cmd, "shutdown not implemented")
		}
		slog.Warn("control: shutdown command received")
		resp.Data = map[string]interface{}{"shutdown_initiated": true}
		// The acknowledgement goes out before teardown starts.
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()

	default:
		return errResponse(cmd, fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	return resp
}

// call runs a callback, reporting "not implemented" when absent.
func (h *Handler) call(missing bool, fn func() error) error {
	if missing {
		return fmt.Errorf("not implemented")
	}
	return fn()
}

func errResponse(cmd Command, msg string) Response {
	return Response{CommandAck: cmd.Command, Status: "error", Error: msg}
}

func errorFrom(cmd Command, err error) Response {
	return errResponse(cmd, err.Error())
}

// stringParam extracts a string parameter from a command.
func stringParam(cmd Command, key string) (string, bool) {
	v, ok := cmd.Params[key].(string)
	return v, ok && v != ""
}

// intParam extracts an integer parameter. JSON numbers decode as float64.
func intParam(cmd Command, key string) (int, bool) {
	switch v := cmd.Params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// sendResponse publishes one acknowledgement to the health topic.
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	if err := h.responder.PublishHealth(payload); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
