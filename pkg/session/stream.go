// ABOUTME: Outbound stream handle with a bounded FIFO and one writer goroutine
// ABOUTME: Explicit Open -> Closed state machine, fail fast after close
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asciistream/asciistream-go/internal/logx"
	"pkt.systems/pslog"
)

// StreamState is the lifecycle state of an outbound stream
type StreamState int

const (
	// StreamOpen accepts payloads
	StreamOpen StreamState = iota
	// StreamClosed rejects payloads with ErrStreamClosed
	StreamClosed
)

func (s StreamState) String() string {
	if s == StreamOpen {
		return "open"
	}
	return "closed"
}

// StreamStats counts payloads through a stream
type StreamStats struct {
	Published uint64
	Sent      uint64
	Dropped   uint64
}

// Stream is a publishable outbound channel valid for one connection epoch
type Stream struct {
	id        string
	epoch     uint64
	transport Transport
	queue     chan string
	log       pslog.Logger

	mu        sync.Mutex
	state     StreamState
	cause     error
	drain     bool
	announced bool

	announceMu  sync.Mutex
	announcedCh chan struct{}
	stop        chan struct{}
	done        chan struct{}

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

func newStream(id string, epoch uint64, t Transport, queueSize int, log pslog.Logger) *Stream {
	s := &Stream{
		id:          id,
		epoch:       epoch,
		transport:   t,
		queue:       make(chan string, queueSize),
		log:         logx.WithStream(log, id, epoch),
		state:       StreamOpen,
		announcedCh: make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.writer()
	return s
}

// ID returns the stream identifier sent to the remote
func (s *Stream) ID() string { return s.id }

// Epoch returns the connection epoch that opened the stream
func (s *Stream) Epoch() uint64 { return s.epoch }

// State returns the stream state
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the stream closed, or nil while open
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Announced reports whether the remote has been told about the stream
func (s *Stream) Announced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announced
}

// Stats returns payload counters
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Published: s.published.Load(),
		Sent:      s.sent.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Done is closed once the writer goroutine has exited
func (s *Stream) Done() <-chan struct{} { return s.done }

// Publish enqueues payload without blocking. Items queued before the stream
// is announced are held until the announcement completes.
func (s *Stream) Publish(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StreamClosed {
		return fmt.Errorf("%w: %w", ErrStreamClosed, s.cause)
	}

	select {
	case s.queue <- payload:
		s.published.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrBackpressure
	}
}

// announce invokes target once; later calls are no-ops
func (s *Stream) announce(ctx context.Context, target string) error {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	s.mu.Lock()
	if s.announced {
		s.mu.Unlock()
		return nil
	}
	if s.state == StreamClosed {
		cause := s.cause
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrStreamClosed, cause)
	}
	s.mu.Unlock()

	if err := s.transport.Invoke(ctx, target, []string{s.id}); err != nil {
		return fmt.Errorf("announce stream %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.announced = true
	s.mu.Unlock()
	close(s.announcedCh)
	s.log.Info("stream announced", "target", target)
	return nil
}

// fail closes the stream without draining; pending items are discarded
func (s *Stream) fail(cause error) bool {
	return s.shutdown(cause, false)
}

func (s *Stream) shutdown(cause error, drain bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamClosed {
		return false
	}
	s.state = StreamClosed
	s.cause = cause
	s.drain = drain
	close(s.stop)
	return true
}

// Close drains queued items, completes the stream on the remote when it was
// announced, and waits for the writer to exit
func (s *Stream) Close() error {
	if !s.shutdown(errStreamCompleted, true) {
		<-s.done
		return nil
	}
	<-s.done

	if !s.Announced() {
		return nil
	}
	if err := s.transport.Complete(s.id, ""); err != nil {
		return fmt.Errorf("complete stream %s: %w", s.id, err)
	}
	s.log.Info("stream completed", "stats", s.Stats())
	return nil
}

func (s *Stream) writer() {
	defer close(s.done)

	select {
	case <-s.announcedCh:
	case <-s.stop:
		return
	}

	for {
		select {
		case item := <-s.queue:
			if !s.send(item) {
				return
			}
		case <-s.stop:
			s.mu.Lock()
			drain := s.drain
			s.mu.Unlock()
			if drain {
				s.flush()
			}
			return
		}
	}
}

func (s *Stream) flush() {
	for {
		select {
		case item := <-s.queue:
			if !s.send(item) {
				return
			}
		default:
			return
		}
	}
}

func (s *Stream) send(item string) bool {
	if err := s.transport.SendItem(s.id, item); err != nil {
		s.log.Warn("stream send failed", "err", err)
		s.fail(fmt.Errorf("send item: %w", err))
		return false
	}
	s.sent.Add(1)
	return true
}
