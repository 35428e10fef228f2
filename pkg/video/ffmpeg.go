// ABOUTME: ffmpeg subprocess video source
// ABOUTME: Reads scaled rawvideo RGBA frames from the ffmpeg stdout pipe
package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/pslog"
)

const (
	defaultFFmpegBinary = "ffmpeg"
	defaultCaptureFPS   = 30
	stderrTailSize      = 2048
)

// FFmpegSource pulls frames from an ffmpeg child process
type FFmpegSource struct {
	latest

	width  int
	height int
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer
	done   chan struct{}
	log    pslog.Logger

	closeOnce sync.Once
}

// NewFFmpeg starts ffmpeg reading cfg.Device (or cfg.URL) and scaling to
// cfg.Width x cfg.Height
func NewFFmpeg(ctx context.Context, cfg Config) (*FFmpegSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("ffmpeg source needs an output size, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Device == "" && cfg.URL == "" {
		return nil, fmt.Errorf("ffmpeg source needs a device or URL")
	}
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = defaultFFmpegBinary
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin, ffmpegArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &FFmpegSource{
		width:  cfg.Width,
		height: cfg.Height,
		cmd:    cmd,
		cancel: cancel,
		stderr: tail,
		done:   make(chan struct{}),
		log:    logger.With("source", KindFFmpeg),
	}
	s.log.Debug("ffmpeg started", "pid", cmd.Process.Pid, "args", strings.Join(cmd.Args, " "))

	go s.run(stdout)

	// The source lives until Close or until ctx ends
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

func (s *FFmpegSource) run(stdout io.Reader) {
	defer close(s.done)

	err := readRawFrames(bufio.NewReaderSize(stdout, s.width*s.height*4*3), s.width, s.height, s.put)
	waitErr := s.cmd.Wait()

	if err == nil || errors.Is(err, io.EOF) {
		err = waitErr
	}
	if err == nil {
		err = io.EOF
	}
	if tail := s.stderr.String(); tail != "" {
		err = fmt.Errorf("ffmpeg exited: %w: %s", err, tail)
	} else {
		err = fmt.Errorf("ffmpeg exited: %w", err)
	}
	s.fail(err)
	s.log.Debug("ffmpeg reader stopped", "err", err)
}

func (s *FFmpegSource) Frame() (image.Image, error) {
	return s.get()
}

func (s *FFmpegSource) Size() (int, int) {
	return s.width, s.height
}

func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.fail(ErrClosed)
		s.cancel()
	})
	<-s.done
	return nil
}

// readRawFrames reads fixed-size rawvideo rgba frames until r fails.
// Frames already buffered beyond the newest one are discarded.
func readRawFrames(r *bufio.Reader, width, height int, emit func(image.Image)) error {
	size := width * height * 4
	for {
		for r.Buffered() >= size*2 {
			if _, err := r.Discard(size); err != nil {
				return err
			}
		}

		img := image.NewRGBA(image.Rect(0, 0, width, height))
		if _, err := io.ReadFull(r, img.Pix); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("truncated frame: %w", err)
			}
			return err
		}
		emit(img)
	}
}

func ffmpegArgs(cfg Config) []string {
	fps := cfg.FPS
	if fps <= 0 {
		fps = defaultCaptureFPS
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	input := cfg.URL
	if cfg.Device != "" {
		input = cfg.Device
		format := cfg.Format
		if format == "" && strings.HasPrefix(cfg.Device, "/dev/video") {
			format = "v4l2"
		}
		if format != "" {
			args = append(args, "-f", format)
		}
		args = append(args, "-framerate", strconv.Itoa(fps))
	} else if cfg.Format != "" {
		args = append(args, "-f", cfg.Format)
	}

	return append(args,
		"-i", input,
		"-an",
		"-vf", fmt.Sprintf("scale=%dx%d,setsar=1:1", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(fps),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
