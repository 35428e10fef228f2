// ABOUTME: In-memory session transport for tests
// ABOUTME: Records handshakes, invocations and stream items, with injectable delay and faults
package sessiontest

import (
	"context"
	"sync"
	"time"
)

// Invocation is one recorded remote call
type Invocation struct {
	Target    string
	StreamIDs []string
	Args      []any
}

// Transport is a fake session.Transport
type Transport struct {
	// ConnectDelay is waited (or ctx) before each Connect completes
	ConnectDelay time.Duration
	// ItemDelay returns an artificial delay for the n-th item sent
	ItemDelay func(n int) time.Duration

	mu          sync.Mutex
	connectErr  error
	invokeErr   error
	sendErr     error
	connects    int
	closes      int
	lost        chan struct{}
	invocations []Invocation
	items       map[string][]string
	order       []string
	completed   map[string]string
	sent        int
	notify      chan struct{}
}

// New creates a fake transport
func New() *Transport {
	return &Transport{
		items:     make(map[string][]string),
		completed: make(map[string]string),
		notify:    make(chan struct{}, 1),
	}
}

// FailConnect makes subsequent Connect calls return err (nil to clear)
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// FailInvoke makes subsequent Invoke calls return err
func (t *Transport) FailInvoke(err error) {
	t.mu.Lock()
	t.invokeErr = err
	t.mu.Unlock()
}

// FailSend makes subsequent SendItem calls return err
func (t *Transport) FailSend(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context) (<-chan struct{}, error) {
	t.mu.Lock()
	t.connects++
	delay := t.ConnectDelay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	t.lost = make(chan struct{})
	return t.lost, nil
}

// Drop simulates the remote end going away
func (t *Transport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lost != nil {
		close(t.lost)
		t.lost = nil
	}
}

func (t *Transport) Invoke(ctx context.Context, target string, streamIDs []string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.invokeErr != nil {
		return t.invokeErr
	}
	t.invocations = append(t.invocations, Invocation{
		Target:    target,
		StreamIDs: append([]string(nil), streamIDs...),
		Args:      args,
	})
	return nil
}

func (t *Transport) SendItem(streamID string, item string) error {
	t.mu.Lock()
	n := t.sent
	t.sent++
	delayFn := t.ItemDelay
	err := t.sendErr
	t.mu.Unlock()

	if delayFn != nil {
		time.Sleep(delayFn(n))
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.items[streamID] = append(t.items[streamID], item)
	t.order = append(t.order, item)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) Complete(streamID string, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[streamID] = reason
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	if t.lost != nil {
		close(t.lost)
		t.lost = nil
	}
	return nil
}

// Connects returns the number of Connect calls
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Closes returns the number of Close calls
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Invocations returns recorded remote calls
func (t *Transport) Invocations() []Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Invocation(nil), t.invocations...)
}

// Items returns the items delivered on one stream, in order
func (t *Transport) Items(streamID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items[streamID]...)
}

// AllItems returns every delivered item across streams, in order
func (t *Transport) AllItems() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// Completed reports whether a stream was completed and with which reason
func (t *Transport) Completed(streamID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reason, ok := t.completed[streamID]
	return reason, ok
}

// WaitItems blocks until at least n items were delivered or timeout passes
func (t *Transport) WaitItems(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		t.mu.Lock()
		got := len(t.order)
		t.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-t.notify:
		case <-deadline.C:
			return false
		}
	}
}
