// ABOUTME: High-level Streamer API for asciistream producers
// ABOUTME: Connects, opens and announces a stream, then arms the capture loop
package asciistream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/pkg/capture"
	"github.com/asciistream/asciistream-go/pkg/frame"
	"github.com/asciistream/asciistream-go/pkg/palette"
	"github.com/asciistream/asciistream-go/pkg/protocol"
	"github.com/asciistream/asciistream-go/pkg/render"
	"github.com/asciistream/asciistream-go/pkg/session"
	"github.com/asciistream/asciistream-go/pkg/transcode"
)

// DefaultFPS is the capture rate
const DefaultFPS = 30

// StreamerConfig holds streamer configuration
type StreamerConfig struct {
	// ServerAddr is the hub address (host:port); used when Transport is nil
	ServerAddr string

	// Name is the display name sent in client/hello
	Name string

	// Transport overrides the WebSocket client
	Transport session.Transport

	// Source provides video frames (required)
	Source capture.FrameSource

	// Width and Height size the glyph grid; zero uses the source size
	Width  int
	Height int

	// FPS is the capture rate (default: 30)
	FPS int

	Palette  *palette.Palette
	Markup   transcode.Markup
	Renderer render.Renderer

	// QueueSize is the outbound frame queue depth
	QueueSize int

	Logger pslog.Logger

	// OnStateChange is called on connection state transitions
	OnStateChange func(session.State)

	// OnError is called on its own goroutine when the stream dies while
	// capturing. It may call Stop, EndStream or Close.
	OnError func(error)
}

// Status is a snapshot of the streamer
type Status struct {
	State    session.State
	Epoch    uint64
	Armed    bool
	StreamID string
	Capture  capture.Stats
	Stream   session.StreamStats
}

// Streamer runs the start/stop sequence for one producer
type Streamer struct {
	session *session.Session
	loop    *capture.Loop
	log     pslog.Logger

	// mu serializes Start, Stop and Close
	mu     sync.Mutex
	stream *session.Stream
	closed bool
}

// NewStreamer creates an idle streamer
func NewStreamer(config StreamerConfig) (*Streamer, error) {
	if config.Source == nil {
		return nil, capture.ErrNoSource
	}
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}
	log := logx.OrDefault(config.Logger)

	transport := config.Transport
	if transport == nil {
		if config.ServerAddr == "" {
			return nil, errors.New("asciistream: no server address")
		}
		transport = protocol.NewClient(protocol.Config{
			ServerAddr: config.ServerAddr,
			Name:       config.Name,
			Role:       protocol.RoleProducer,
			Logger:     log,
		})
	}

	sess := session.New(transport, session.Config{
		QueueSize:     config.QueueSize,
		Logger:        log,
		OnStateChange: config.OnStateChange,
	})

	loop, err := capture.New(capture.Config{
		Source:     config.Source,
		Rasterizer: frame.NewRasterizer(config.Width, config.Height),
		Transcoder: transcode.New(transcode.Config{Palette: config.Palette, Markup: config.Markup}),
		Renderer:   config.Renderer,
		Interval:   time.Second / time.Duration(config.FPS),
		Logger:     log,
		OnError:    config.OnError,
	})
	if err != nil {
		return nil, err
	}

	return &Streamer{session: sess, loop: loop, log: log}, nil
}

// Start connects if needed, opens and announces the outbound stream, and
// arms the capture loop. Connect and announce complete before the loop is
// armed. Calling Start while streaming re-arms the loop on the same stream.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return session.ErrSessionClosed
	}

	if err := s.session.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	stream, err := s.session.OpenOutboundStream()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := s.session.AnnounceStream(ctx, stream); err != nil {
		return fmt.Errorf("announce stream: %w", err)
	}

	s.loop.Arm(stream)
	if s.stream != stream {
		s.log.Info("streaming", "stream_id", stream.ID(), "epoch", stream.Epoch())
	}
	s.stream = stream
	return nil
}

// Stop disarms the capture loop. The connection and stream stay up.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop.Disarm()
}

// Preview arms the loop without a stream, rendering locally only
func (s *Streamer) Preview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop.Arm(nil)
}

// EndStream disarms the loop and completes the stream on the hub
func (s *Streamer) EndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop.Disarm()
	s.stream = nil
	return s.session.CloseStream()
}

// Close stops capturing, completes the stream and disconnects
func (s *Streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.loop.Disarm()
	s.stream = nil
	return s.session.Close()
}

// Armed reports whether frames are being captured
func (s *Streamer) Armed() bool {
	return s.loop.Armed()
}

// Status returns a snapshot of connection, stream and capture state
func (s *Streamer) Status() Status {
	st := Status{
		State:   s.session.State(),
		Epoch:   s.session.Epoch(),
		Armed:   s.loop.Armed(),
		Capture: s.loop.Stats(),
	}
	if stream := s.session.Stream(); stream != nil {
		st.StreamID = stream.ID()
		st.Stream = stream.Stats()
	}
	return st
}
