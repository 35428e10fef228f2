// ABOUTME: Session state machine over a Transport
// ABOUTME: Single in-flight connect, connection epochs and stream ownership
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/logx"
)

// State is the connection state of a Session
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// DefaultQueueSize is the outbound FIFO depth, about 250ms at 30 fps
	DefaultQueueSize = 8
	// DefaultAnnounceTarget is the remote method told about new streams
	DefaultAnnounceTarget = "startStream"
)

// Config holds session configuration
type Config struct {
	QueueSize      int
	AnnounceTarget string
	Logger         pslog.Logger

	// OnStateChange is called outside the session lock after each transition
	OnStateChange func(State)
}

// Session owns one transport connection and at most one outbound stream
type Session struct {
	transport Transport
	config    Config
	log       pslog.Logger
	connect   singleflight.Group

	mu     sync.Mutex
	state  State
	epoch  uint64
	stream *Stream
	closed bool
}

// New creates a disconnected session
func New(t Transport, config Config) *Session {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.AnnounceTarget == "" {
		config.AnnounceTarget = DefaultAnnounceTarget
	}
	return &Session{
		transport: t,
		config:    config,
		log:       logx.OrDefault(config.Logger),
	}
}

// State returns the connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Epoch returns the number of successful connects so far
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Stream returns the current outbound stream, or nil
func (s *Session) Stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// EnsureConnected connects unless already connected. Concurrent callers share
// one handshake, run under the first caller's ctx; a later caller whose ctx
// ends stops waiting without cancelling it.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ch := s.connect.DoChan("connect", func() (any, error) {
		return nil, s.dial(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()
	s.notify(Connecting)

	lost, err := s.transport.Connect(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = Disconnected
		s.mu.Unlock()
		s.notify(Disconnected)
		s.log.Warn("session connect failed", "err", err)
		return fmt.Errorf("connect: %w", err)
	}
	if s.closed {
		s.state = Disconnected
		s.mu.Unlock()
		_ = s.transport.Close()
		return ErrSessionClosed
	}
	s.epoch++
	epoch := s.epoch
	s.state = Connected
	s.mu.Unlock()

	s.log.Info("session connected", "epoch", epoch)
	s.notify(Connected)

	if lost != nil {
		go s.watch(epoch, lost)
	}
	return nil
}

// watch flips the session to Disconnected when the epoch's connection ends
func (s *Session) watch(epoch uint64, lost <-chan struct{}) {
	<-lost

	s.mu.Lock()
	if s.epoch != epoch || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	st := s.stream
	s.mu.Unlock()

	if st != nil && st.Epoch() == epoch {
		st.fail(ErrConnectionLost)
	}
	s.log.Warn("session connection lost", "epoch", epoch)
	s.notify(Disconnected)
}

// OpenOutboundStream returns the open stream of the current epoch, creating
// one when there is none
func (s *Session) OpenOutboundStream() (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.state != Connected {
		return nil, ErrNotConnected
	}
	if st := s.stream; st != nil && st.Epoch() == s.epoch && st.State() == StreamOpen {
		return st, nil
	}

	st := newStream(uuid.NewString(), s.epoch, s.transport, s.config.QueueSize, s.log)
	s.stream = st
	st.log.Debug("stream opened")
	return st, nil
}

// AnnounceStream tells the remote about h; repeated calls are no-ops
func (s *Session) AnnounceStream(ctx context.Context, h *Stream) error {
	if h == nil {
		return fmt.Errorf("%w: no stream", ErrStreamClosed)
	}
	s.mu.Lock()
	if s.state != Connected || h.Epoch() != s.epoch {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()
	return h.announce(ctx, s.config.AnnounceTarget)
}

// Publish enqueues payload on h
func (s *Session) Publish(h *Stream, payload string) error {
	if h == nil {
		return fmt.Errorf("%w: no stream", ErrStreamClosed)
	}
	return h.Publish(payload)
}

// CloseStream completes and forgets the current stream
func (s *Session) CloseStream() error {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st == nil {
		return nil
	}
	return st.Close()
}

// Close completes the stream, closes the transport and rejects further use
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasConnected := s.state != Disconnected
	s.mu.Unlock()

	var errs []error
	if err := s.CloseStream(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.state = Disconnected
	s.mu.Unlock()
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if wasConnected {
		s.notify(Disconnected)
	}
	s.log.Info("session closed")
	return errors.Join(errs...)
}

func (s *Session) notify(state State) {
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(state)
	}
}
