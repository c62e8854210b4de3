// Package camera provides the frame sources that feed the verification loop.
// Every source yields JPEG-encoded frames in capture order.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// Frame is one captured JPEG image.
type Frame struct {
	Data      []byte
	Index     int64 // zero-based position in the source
	Timestamp time.Time
}

// Source yields frames until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// ErrSourceClosed is returned when reading from a closed source.
var ErrSourceClosed = errors.New("frame source closed")

// ErrFFmpegNotFound is returned when the ffmpeg binary is not on PATH.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const (
	megabyte      = 1024 * 1024
	maxFrameBytes = 64 * megabyte
)

// SplitJpeg is a bufio.SplitFunc that extracts whole JPEG images from a
// concatenated MJPEG stream using the SOI and EOI markers.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegSource decodes a camera or video file through an ffmpeg subprocess
// writing MJPEG to its stdout.
type FFmpegSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	scanner *bufio.Scanner
	index   int64
	closed  bool
}

// OpenDevice starts capturing from a V4L2 camera. Cancelling ctx stops ffmpeg.
func OpenDevice(ctx context.Context, cfg config.CameraConfig) (*FFmpegSource, error) {
	args := []string{"-f", "v4l2"}
	if cfg.InputFormat != "" {
		args = append(args, "-input_format", cfg.InputFormat)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	}
	if cfg.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(cfg.FPS))
	}
	args = append(args, "-i", cfg.Device)
	return startFFmpeg(ctx, args)
}

// OpenFile starts decoding a recorded video. Cancelling ctx stops ffmpeg.
func OpenFile(ctx context.Context, path string) (*FFmpegSource, error) {
	return startFFmpeg(ctx, []string{"-i", path})
}

func startFFmpeg(ctx context.Context, input []string) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, ErrFFmpegNotFound
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	logging.Component("camera").WithField("args", args).Debug("Started ffmpeg")

	src := newStreamSource(stdout)
	src.cmd = cmd
	src.stderr = stderr
	return src, nil
}

// newStreamSource reads frames from an already running MJPEG stream.
func newStreamSource(r io.ReadCloser) *FFmpegSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), maxFrameBytes)
	scanner.Split(SplitJpeg)
	return &FFmpegSource{stdout: r, scanner: scanner, stderr: &bytes.Buffer{}}
}

// Next returns the next frame, or io.EOF when the stream ends cleanly.
func (s *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	if s.closed {
		return Frame{}, ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Frame{}, fmt.Errorf("frame scanner failed: %w", err)
		}
		if err := s.wait(); err != nil {
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, err
		}
		return Frame{}, io.EOF
	}

	data := make([]byte, len(s.scanner.Bytes()))
	copy(data, s.scanner.Bytes())

	f := Frame{Data: data, Index: s.index, Timestamp: time.Now()}
	s.index++
	return f, nil
}

func (s *FFmpegSource) wait() error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil
	if err := cmd.Wait(); err != nil {
		if s.stderr.Len() > 0 {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(s.stderr.Bytes()))
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// Close stops ffmpeg and releases the pipe.
func (s *FFmpegSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stdout.Close()
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
		s.cmd = nil
	}
	return nil
}
