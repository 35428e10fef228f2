// ABOUTME: Fixed-rate capture loop driving source, transcoder, renderer and stream
// ABOUTME: One ticker goroutine per armed period; tick faults never stop the timer
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/pkg/frame"
	"github.com/asciistream/asciistream-go/pkg/render"
	"github.com/asciistream/asciistream-go/pkg/session"
	"github.com/asciistream/asciistream-go/pkg/transcode"
)

// DefaultInterval is 30 frames per second
const DefaultInterval = time.Second / 30

// ErrNoSource is returned by New without a frame source
var ErrNoSource = errors.New("capture: no frame source")

// FrameSource yields the current video frame
type FrameSource interface {
	Frame() (image.Image, error)
}

// Publisher receives transcoded frame text; *session.Stream satisfies it
type Publisher interface {
	Publish(payload string) error
}

// Config holds loop configuration
type Config struct {
	Source     FrameSource
	Rasterizer *frame.Rasterizer
	Transcoder *transcode.Transcoder
	Renderer   render.Renderer
	Interval   time.Duration
	Logger     pslog.Logger

	// OnError is called on its own goroutine the first time a publish fails
	// with a closed stream in an armed period. It may call Disarm.
	OnError func(error)
}

// Stats counts loop activity since creation
type Stats struct {
	Ticks         uint64
	Rendered      uint64
	Published     uint64
	Skipped       uint64
	Dropped       uint64
	PublishErrors uint64
	Overruns      uint64
	LastTick      time.Duration
}

// Loop runs the capture pipeline on a fixed-rate ticker
type Loop struct {
	source     FrameSource
	rasterizer *frame.Rasterizer
	transcoder *transcode.Transcoder
	renderer   render.Renderer
	interval   time.Duration
	onError    func(error)
	log        pslog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	ticks         atomic.Uint64
	rendered      atomic.Uint64
	published     atomic.Uint64
	skipped       atomic.Uint64
	dropped       atomic.Uint64
	publishErrors atomic.Uint64
	overruns      atomic.Uint64
	lastTick      atomic.Int64
}

// New creates an idle loop
func New(config Config) (*Loop, error) {
	if config.Source == nil {
		return nil, ErrNoSource
	}
	if config.Rasterizer == nil {
		config.Rasterizer = frame.NewRasterizer(0, 0)
	}
	if config.Transcoder == nil {
		config.Transcoder = transcode.New(transcode.Config{})
	}
	if config.Renderer == nil {
		config.Renderer = render.Discard
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	return &Loop{
		source:     config.Source,
		rasterizer: config.Rasterizer,
		transcoder: config.Transcoder,
		renderer:   config.Renderer,
		interval:   config.Interval,
		onError:    config.OnError,
		log:        logx.OrDefault(config.Logger),
	}, nil
}

// Interval returns the tick interval
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Arm cancels any running ticker, waits for it to exit, and starts a new one
// publishing to pub. A nil pub renders locally only.
func (l *Loop) Arm(pub Publisher) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.disarmLocked()

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(pub, l.stop, l.done)

	l.log.Info("capture armed", "interval", l.interval.String())
}

// Disarm stops the ticker. The session and stream are left alone.
func (l *Loop) Disarm() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disarmLocked() {
		l.log.Info("capture disarmed")
	}
}

func (l *Loop) disarmLocked() bool {
	if l.stop == nil {
		return false
	}
	close(l.stop)
	<-l.done
	l.stop = nil
	l.done = nil
	return true
}

// Armed reports whether a ticker is running
func (l *Loop) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

// Stats returns a snapshot of the counters
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:         l.ticks.Load(),
		Rendered:      l.rendered.Load(),
		Published:     l.published.Load(),
		Skipped:       l.skipped.Load(),
		Dropped:       l.dropped.Load(),
		PublishErrors: l.publishErrors.Load(),
		Overruns:      l.overruns.Load(),
		LastTick:      time.Duration(l.lastTick.Load()),
	}
}

// run ticks until stop is closed. Ticks that fire while a tick is still
// running are dropped by the ticker.
func (l *Loop) run(pub Publisher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ticker.C:
			l.tick(pub, &reported)
		case <-stop:
			return
		}
	}
}

func (l *Loop) tick(pub Publisher, reported *bool) {
	start := time.Now()
	l.ticks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			l.skipped.Add(1)
			l.log.Debug("capture tick skipped", "err", fmt.Errorf("capture tick panic: %v", r))
		}
		elapsed := time.Since(start)
		l.lastTick.Store(int64(elapsed))
		if elapsed > l.interval {
			l.overruns.Add(1)
		}
	}()

	f, err := l.produce()
	if err != nil {
		l.skipped.Add(1)
		l.log.Debug("capture tick skipped", "err", err)
		return
	}

	if err := l.renderer.Render(f); err != nil {
		l.log.Debug("render failed", "seq", f.Seq, "err", err)
	} else {
		l.rendered.Add(1)
	}

	if pub == nil {
		return
	}
	l.publish(pub, f, reported)
}

// produce runs source, rasterizer and transcoder. Panics are recovered by tick.
func (l *Loop) produce() (transcode.Frame, error) {
	img, err := l.source.Frame()
	if err != nil {
		return transcode.Frame{}, err
	}
	buf, err := l.rasterizer.Rasterize(img)
	if err != nil {
		return transcode.Frame{}, err
	}
	return l.transcoder.Transcode(buf)
}

func (l *Loop) publish(pub Publisher, f transcode.Frame, reported *bool) {
	err := pub.Publish(f.Text)
	switch {
	case err == nil:
		l.published.Add(1)
	case errors.Is(err, session.ErrBackpressure):
		l.dropped.Add(1)
	default:
		l.publishErrors.Add(1)
		if errors.Is(err, session.ErrStreamClosed) && !*reported {
			*reported = true
			l.log.Warn("publish failed, stream closed", "seq", f.Seq, "err", err)
			if l.onError != nil {
				go l.onError(err)
			}
			return
		}
		l.log.Debug("publish failed", "seq", f.Seq, "err", err)
	}
}
