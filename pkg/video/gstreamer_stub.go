//go:build !gst

// ABOUTME: Stub GStreamer source for builds without the gst tag
// ABOUTME: Returns ErrUnsupported so other sources keep working
package video

import (
	"context"
	"fmt"
	"image"
)

// GStreamerAvailable reports whether this binary was built with GStreamer
const GStreamerAvailable = false

// GStreamerSource is unavailable in this build
type GStreamerSource struct{}

// NewGStreamer always fails; rebuild with -tags gst
func NewGStreamer(ctx context.Context, cfg Config) (*GStreamerSource, error) {
	return nil, fmt.Errorf("gstreamer: %w (rebuild with -tags gst)", ErrUnsupported)
}

func (s *GStreamerSource) Frame() (image.Image, error) { return nil, ErrUnsupported }
func (s *GStreamerSource) Size() (int, int)             { return 0, 0 }
func (s *GStreamerSource) Close() error                 { return nil }
