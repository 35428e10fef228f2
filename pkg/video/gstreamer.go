//go:build gst

// ABOUTME: GStreamer video source using go-gst
// ABOUTME: v4l2src ! videoconvert ! videoscale ! capsfilter(RGBA) ! appsink
package video

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"pkt.systems/pslog"
)

// GStreamerSource captures from a V4L2 device through a GStreamer pipeline.
// Device "test" uses videotestsrc instead of a camera.
type GStreamerSource struct {
	latest

	width    int
	height   int
	pipeline *gst.Pipeline
	stop     chan struct{}
	done     chan struct{}
	log      pslog.Logger

	closeOnce sync.Once
}

// GStreamerAvailable reports whether this binary was built with GStreamer
const GStreamerAvailable = true

// NewGStreamer builds and starts the capture pipeline
func NewGStreamer(ctx context.Context, cfg Config) (*GStreamerSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstreamer source needs an output size, got %dx%d", cfg.Width, cfg.Height)
	}
	device := cfg.Device
	if device == "" {
		device = "/dev/video0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src *gst.Element
	if device == "test" {
		src, err = gst.NewElement("videotestsrc")
		if err == nil {
			src.SetProperty("is-live", true)
		}
	} else {
		src, err = gst.NewElement("v4l2src")
		if err == nil {
			src.SetProperty("device", device)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create source element: %w", err)
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", cfg.Width, cfg.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	s := &GStreamerSource{
		width:    cfg.Width,
		height:   cfg.Height,
		pipeline: pipeline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.With("source", KindGStreamer, "device", device),
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	go s.watchBus()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

func (s *GStreamerSource) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	n := copy(img.Pix, data)
	buffer.Unmap()

	if n != len(img.Pix) {
		s.log.Debug("gstreamer short buffer", "bytes", n, "want", len(img.Pix))
		return gst.FlowOK
	}
	s.put(img)
	return gst.FlowOK
}

func (s *GStreamerSource) watchBus() {
	defer close(s.done)

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.fail(fmt.Errorf("gstreamer: end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.fail(fmt.Errorf("gstreamer: %s", gerr.Error()))
			s.log.Error("gstreamer pipeline error", "err", gerr.Error(), "debug", gerr.DebugString())
			return
		}
	}
}

func (s *GStreamerSource) Frame() (image.Image, error) {
	return s.get()
}

func (s *GStreamerSource) Size() (int, int) {
	return s.width, s.height
}

func (s *GStreamerSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.fail(ErrClosed)
		close(s.stop)
		<-s.done
		err = s.pipeline.SetState(gst.StateNull)
	})
	return err
}
