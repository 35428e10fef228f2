// ABOUTME: Tests for the capture loop
// ABOUTME: Covers arming, re-arming, tick fault handling and publish accounting
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/pkg/render"
	"github.com/asciistream/asciistream-go/pkg/session"
	"github.com/asciistream/asciistream-go/pkg/transcode"
	"github.com/asciistream/asciistream-go/pkg/video"
)

const testInterval = 2 * time.Millisecond

type funcSource func() (image.Image, error)

func (f funcSource) Frame() (image.Image, error) { return f() }

type recordingPublisher struct {
	mu    sync.Mutex
	items []string
	err   error
}

func (p *recordingPublisher) Publish(payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.items = append(p.items, payload)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func newLoop(t *testing.T, src FrameSource, opts ...func(*Config)) *Loop {
	t.Helper()
	cfg := Config{
		Source:   src,
		Interval: testInterval,
		Logger:   logx.Discard(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Disarm)
	return l
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresSource(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{Source: video.NewTestPattern(4, 2)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Interval() != DefaultInterval {
		t.Errorf("expected default interval %v, got %v", DefaultInterval, l.Interval())
	}
	if l.Armed() {
		t.Error("new loop must be idle")
	}
}

func TestArmPublishesAndRenders(t *testing.T) {
	var rendered atomic.Int64
	r := render.Func(func(f transcode.Frame) error {
		if f.Width != 4 || f.Height != 2 {
			t.Errorf("unexpected frame size %dx%d", f.Width, f.Height)
		}
		rendered.Add(1)
		return nil
	})
	l := newLoop(t, video.NewTestPattern(4, 2), func(c *Config) { c.Renderer = r })
	pub := &recordingPublisher{}

	l.Arm(pub)
	if !l.Armed() {
		t.Fatal("expected armed")
	}
	waitFor(t, "published frames", func() bool { return pub.count() >= 3 })
	l.Disarm()

	if l.Armed() {
		t.Error("expected idle after Disarm")
	}
	stats := l.Stats()
	if stats.Published < 3 || stats.Rendered < 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if int64(stats.Rendered) != rendered.Load() {
		t.Errorf("rendered count %d does not match renderer calls %d", stats.Rendered, rendered.Load())
	}

	after := pub.count()
	time.Sleep(10 * testInterval)
	if pub.count() != after {
		t.Error("frames published after Disarm")
	}
}

func TestRearmReplacesTicker(t *testing.T) {
	l := newLoop(t, video.NewTestPattern(2, 2))
	first := &recordingPublisher{}
	second := &recordingPublisher{}

	l.Arm(first)
	waitFor(t, "first publisher", func() bool { return first.count() > 0 })
	l.Arm(second)
	frozen := first.count()

	waitFor(t, "second publisher", func() bool { return second.count() >= 3 })
	if first.count() != frozen {
		t.Errorf("old ticker still running: %d -> %d", frozen, first.count())
	}
}

func TestTickFaultsAreSkipped(t *testing.T) {
	tests := []struct {
		name     string
		src      FrameSource
		renderer render.Renderer
	}{
		{"not ready", funcSource(func() (image.Image, error) { return nil, video.ErrNotReady }), nil},
		{"nil image", funcSource(func() (image.Image, error) { return nil, nil }), nil},
		{"empty image", funcSource(func() (image.Image, error) { return image.NewRGBA(image.Rect(0, 0, 0, 0)), nil }), nil},
		{"panic", funcSource(func() (image.Image, error) { panic("camera exploded") }), nil},
		{"render panic", video.NewTestPattern(2, 1), render.Func(func(transcode.Frame) error { panic("display surface gone") })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLoop(t, tt.src, func(c *Config) { c.Renderer = tt.renderer })
			pub := &recordingPublisher{}
			l.Arm(pub)
			waitFor(t, "skipped ticks", func() bool { return l.Stats().Skipped >= 3 })

			if !l.Armed() {
				t.Error("tick fault stopped the loop")
			}
			if pub.count() != 0 {
				t.Errorf("expected nothing published, got %d", pub.count())
			}
		})
	}
}

func TestPublishPanicIsSkipped(t *testing.T) {
	l := newLoop(t, video.NewTestPattern(2, 1))
	l.Arm(panicPublisher{})

	waitFor(t, "skipped ticks", func() bool { return l.Stats().Skipped >= 3 })
	if s := l.Stats(); s.Rendered < 3 {
		t.Errorf("expected frames rendered before publish, got %d", s.Rendered)
	}
}

type panicPublisher struct{}

func (panicPublisher) Publish(string) error { panic("stream torn down") }

func TestRecoversAfterNotReady(t *testing.T) {
	pattern := video.NewTestPattern(2, 1)
	var calls atomic.Int64
	src := funcSource(func() (image.Image, error) {
		if calls.Add(1) <= 2 {
			return nil, video.ErrNotReady
		}
		return pattern.Frame()
	})
	l := newLoop(t, src)
	pub := &recordingPublisher{}
	l.Arm(pub)

	waitFor(t, "publish after warmup", func() bool { return pub.count() > 0 })
	if s := l.Stats(); s.Skipped < 2 {
		t.Errorf("expected at least 2 skipped ticks, got %d", s.Skipped)
	}
}

func TestBackpressureCountsDropped(t *testing.T) {
	var errs atomic.Int64
	l := newLoop(t, video.NewTestPattern(2, 1), func(c *Config) {
		c.OnError = func(error) { errs.Add(1) }
	})
	pub := &recordingPublisher{err: session.ErrBackpressure}
	l.Arm(pub)

	waitFor(t, "dropped frames", func() bool { return l.Stats().Dropped >= 3 })
	if errs.Load() != 0 {
		t.Errorf("back-pressure must not reach OnError, got %d calls", errs.Load())
	}
	if s := l.Stats(); s.PublishErrors != 0 {
		t.Errorf("expected no publish errors, got %d", s.PublishErrors)
	}
}

func TestStreamClosedReportedOncePerArm(t *testing.T) {
	var errs atomic.Int64
	l := newLoop(t, video.NewTestPattern(2, 1), func(c *Config) {
		c.OnError = func(err error) {
			if !errors.Is(err, session.ErrStreamClosed) {
				t.Errorf("unexpected error %v", err)
			}
			errs.Add(1)
		}
	})
	pub := &recordingPublisher{err: fmt.Errorf("%w: %w", session.ErrStreamClosed, session.ErrConnectionLost)}

	l.Arm(pub)
	waitFor(t, "publish errors", func() bool { return l.Stats().PublishErrors >= 3 })
	waitFor(t, "first report", func() bool { return errs.Load() >= 1 })
	if errs.Load() != 1 {
		t.Errorf("expected 1 OnError call, got %d", errs.Load())
	}

	l.Arm(pub)
	waitFor(t, "second report", func() bool { return errs.Load() == 2 })
	if !l.Armed() {
		t.Error("publish errors must not stop the loop")
	}
}

func TestOnErrorMayDisarm(t *testing.T) {
	var l *Loop
	disarmed := make(chan struct{})
	l = newLoop(t, video.NewTestPattern(2, 1), func(c *Config) {
		c.OnError = func(error) {
			l.Disarm()
			close(disarmed)
		}
	})
	l.Arm(&recordingPublisher{err: session.ErrStreamClosed})

	select {
	case <-disarmed:
	case <-time.After(2 * time.Second):
		t.Fatal("Disarm called from OnError never returned")
	}
	if l.Armed() {
		t.Error("expected loop disarmed")
	}
}

func TestNilPublisherRendersOnly(t *testing.T) {
	l := newLoop(t, video.NewTestPattern(2, 1))
	l.Arm(nil)
	waitFor(t, "rendered frames", func() bool { return l.Stats().Rendered >= 2 })
	if s := l.Stats(); s.Published != 0 {
		t.Errorf("expected nothing published, got %d", s.Published)
	}
}

func TestOverrunsCounted(t *testing.T) {
	pattern := video.NewTestPattern(2, 1)
	src := funcSource(func() (image.Image, error) {
		time.Sleep(3 * testInterval)
		return pattern.Frame()
	})
	l := newLoop(t, src)
	l.Arm(nil)

	waitFor(t, "overruns", func() bool { return l.Stats().Overruns >= 2 })
	if s := l.Stats(); s.LastTick < 3*testInterval {
		t.Errorf("expected last tick >= %v, got %v", 3*testInterval, s.LastTick)
	}
}

func TestRenderErrorStillPublishes(t *testing.T) {
	r := render.Func(func(transcode.Frame) error { return errors.New("tty gone") })
	l := newLoop(t, video.NewTestPattern(2, 1), func(c *Config) { c.Renderer = r })
	pub := &recordingPublisher{}
	l.Arm(pub)

	waitFor(t, "published frames", func() bool { return pub.count() >= 2 })
	if s := l.Stats(); s.Rendered != 0 {
		t.Errorf("expected no successful renders, got %d", s.Rendered)
	}
}
