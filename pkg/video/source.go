// ABOUTME: Source interface, configuration and the Open factory
// ABOUTME: Selects a concrete video source by kind
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sort"
	"strings"

	"pkt.systems/pslog"
)

var (
	// ErrNotReady is returned by Frame until the first frame has arrived
	ErrNotReady = errors.New("video: frame not ready")
	// ErrUnsupported is returned for source kinds not compiled into this binary
	ErrUnsupported = errors.New("video: source not supported in this build")
	// ErrClosed is returned by Frame after Close
	ErrClosed = errors.New("video: source closed")
)

// Source kinds
const (
	KindTestPattern = "testpattern"
	KindFFmpeg      = "ffmpeg"
	KindMJPEG       = "mjpeg"
	KindGStreamer   = "gstreamer"
)

// Source provides the current frame of a live video feed
type Source interface {
	// Frame returns the most recent frame. The image stays valid until the
	// next call to Frame.
	Frame() (image.Image, error)

	// Size reports the frame size, or 0,0 when not yet known
	Size() (width, height int)

	// Close releases the device or connection
	Close() error
}

// Config selects and configures a video source
type Config struct {
	Kind string

	// Device is a capture device path such as /dev/video0
	Device string
	// URL is an input URL (MJPEG endpoint, or any ffmpeg input)
	URL string
	// Format is the ffmpeg demuxer for Device; defaults to v4l2 for /dev/video*
	Format string
	// FFmpegPath overrides the ffmpeg binary
	FFmpegPath string

	// Width and Height request the output size where the source can scale
	Width  int
	Height int
	FPS    int

	HTTPClient *http.Client
	Logger     pslog.Logger
}

var openers = map[string]func(context.Context, Config) (Source, error){
	KindTestPattern: func(_ context.Context, cfg Config) (Source, error) {
		return NewTestPattern(cfg.Width, cfg.Height), nil
	},
	KindFFmpeg: func(ctx context.Context, cfg Config) (Source, error) {
		return NewFFmpeg(ctx, cfg)
	},
	KindMJPEG: func(ctx context.Context, cfg Config) (Source, error) {
		return NewMJPEG(ctx, cfg)
	},
	KindGStreamer: func(ctx context.Context, cfg Config) (Source, error) {
		return NewGStreamer(ctx, cfg)
	},
}

// Kinds lists the known source kinds
func Kinds() []string {
	kinds := make([]string, 0, len(openers))
	for k := range openers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Open acquires a video source. Acquisition failure is returned, never
// deferred to the first Frame call.
func Open(ctx context.Context, cfg Config) (Source, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = KindTestPattern
	}
	open, ok := openers[kind]
	if !ok {
		return nil, fmt.Errorf("video: unknown source kind %q (known: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.Ctx(ctx)
	}

	src, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s source: %w", kind, err)
	}
	w, h := src.Size()
	cfg.Logger.Info("video source opened", "kind", kind, "width", w, "height", h)
	return src, nil
}
