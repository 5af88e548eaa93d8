package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ffmpeg_go "github.com/u2takey/ffmpeg-go"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// File decodes a video file through an ffmpeg child process emitting raw
// BGR24 frames on stdout. Frames have a fixed byte size, so reads are
// exact io.ReadFull calls with no framing. Seeking kills the decoder and
// respawns it with an -ss offset.
//
// Close may race a ReadNext on another goroutine: the mutex covers only
// the decoder handles, never a blocking read, so Close always proceeds
// and the in-flight read fails on the closed pipe.
type File struct {
	path  string
	props Properties

	frameSize int

	mu     sync.Mutex // guards cmd, stdout, cursor
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cursor int64 // index the next ReadNext returns

	closed atomic.Bool
}

// probeInfo is the subset of ffprobe's JSON output the source needs.
type probeInfo struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// OpenFile probes a video file and spawns the decoder at frame 0.
func OpenFile(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Target: path, Err: err}
	}

	props, err := probeFile(path)
	if err != nil {
		return nil, &OpenError{Target: path, Err: err}
	}

	f := &File{
		path:      path,
		props:     props,
		frameSize: props.Width * props.Height * types.BytesPerPixel,
	}

	if err := f.spawnDecoder(0); err != nil {
		return nil, &OpenError{Target: path, Err: err}
	}

	slog.Info("video file opened",
		"path", path,
		"resolution", fmt.Sprintf("%dx%d", props.Width, props.Height),
		"fps", props.FPS,
		"total_frames", props.TotalFrames)

	return f, nil
}

// probeFile extracts geometry, rate and length from the container.
func probeFile(path string) (Properties, error) {
	out, err := ffmpeg_go.Probe(path)
	if err != nil {
		return Properties{}, fmt.Errorf("ffprobe: %w", err)
	}

	var info probeInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return Properties{}, fmt.Errorf("ffprobe output: %w", err)
	}

	var props Properties
	for _, stream := range info.Streams {
		if stream.CodecType != "video" {
			continue
		}
		props.Width = stream.Width
		props.Height = stream.Height
		props.FPS = parseRate(stream.RFrameRate)

		if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
			props.TotalFrames = n
		} else {
			// Containers without an exact frame count still carry a
			// duration; estimate from the rate instead.
			dur := parseSeconds(stream.Duration)
			if dur == 0 {
				dur = parseSeconds(info.Format.Duration)
			}
			props.TotalFrames = int64(dur * props.FPS)
		}
		break
	}

	if props.Width <= 0 || props.Height <= 0 {
		return Properties{}, fmt.Errorf("no video stream in %s", path)
	}

	return props.Normalize(), nil
}

func parseRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		return 0
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

func parseSeconds(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// spawnDecoder starts ffmpeg positioned at the given frame index. Any
// previous decoder must already be reaped. Caller holds f.mu once the
// File is shared.
func (f *File) spawnDecoder(index int64) error {
	offset := float64(index) / f.props.FPS

	cmd := exec.Command("ffmpeg",
		"-ss", fmt.Sprintf("%.3f", offset),
		"-i", f.path,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-loglevel", "error",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	f.cmd = cmd
	f.stdout = stdout
	f.cursor = index
	return nil
}

// killDecoder tears down the current ffmpeg child, if any. Closing the
// pipe unblocks a concurrent ReadFull with an error instead of leaving
// it hanging. Caller holds f.mu.
func (f *File) killDecoder() {
	if f.cmd != nil {
		if f.cmd.Process != nil {
			f.cmd.Process.Kill()
		}
		f.cmd.Wait()
	}
	if f.stdout != nil {
		f.stdout.Close()
	}
	f.cmd = nil
	f.stdout = nil
}

// ReadNext reads exactly one raw frame from the decoder pipe. The pipe
// handle is captured under the lock and the blocking read happens
// outside it, so a concurrent Close or Seek never finds the lock held.
func (f *File) ReadNext(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	f.mu.Lock()
	stdout := f.stdout
	index := f.cursor
	f.mu.Unlock()

	if f.closed.Load() || stdout == nil {
		return types.Frame{}, &ReadError{Index: index, Err: fmt.Errorf("source closed")}
	}
	if index >= f.props.TotalFrames {
		return types.Frame{}, ErrEndOfStream
	}

	data := make([]byte, f.frameSize)
	n, err := io.ReadFull(stdout, data)
	if err != nil {
		if f.closed.Load() {
			return types.Frame{}, &ReadError{Index: index, Err: fmt.Errorf("source closed")}
		}
		// ffmpeg closing the pipe at container end arrives as EOF (or a
		// partial final read) before the counted frame total does.
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return types.Frame{}, ErrEndOfStream
		}
		return types.Frame{}, &ReadError{Index: index, Err: fmt.Errorf("after %d bytes: %w", n, err)}
	}

	f.mu.Lock()
	if f.cursor == index {
		f.cursor++
	}
	f.mu.Unlock()

	return types.Frame{
		Index:     index,
		Timestamp: time.Now(),
		Width:     f.props.Width,
		Height:    f.props.Height,
		Data:      data,
	}, nil
}

// Seek respawns the decoder at the target frame, clamped to [0, total).
func (f *File) Seek(index int64) error {
	if f.closed.Load() {
		return fmt.Errorf("media: seek on closed source")
	}
	if index < 0 {
		index = 0
	}
	if index >= f.props.TotalFrames {
		index = f.props.TotalFrames - 1
	}

	f.mu.Lock()
	f.killDecoder()
	err := f.spawnDecoder(index)
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("media: seek to %d: %w", index, err)
	}

	slog.Debug("decoder repositioned", "path", f.path, "frame", index)
	return nil
}

// Properties reports the probed stream characteristics.
func (f *File) Properties() Properties {
	return f.props
}

// Close kills the decoder child. Safe to call more than once, and safe
// to call while another goroutine is blocked in ReadNext.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.mu.Lock()
	f.killDecoder()
	f.mu.Unlock()
	slog.Debug("video file closed", "path", f.path)
	return nil
}
