// ABOUTME: Sentinel errors for session and stream operations
// ABOUTME: Callers match them with errors.Is
package session

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a live connection
	ErrNotConnected = errors.New("session: not connected")
	// ErrStreamClosed is returned by Publish on a closed stream; it wraps the cause
	ErrStreamClosed = errors.New("session: stream closed")
	// ErrBackpressure is returned when the stream queue is full and the payload was dropped
	ErrBackpressure = errors.New("session: stream queue full, payload dropped")
	// ErrConnectionLost is the cause recorded on streams whose connection went away
	ErrConnectionLost = errors.New("session: connection lost")
	// ErrSessionClosed is returned after Close
	ErrSessionClosed = errors.New("session: closed")
)

// errStreamCompleted is the cause recorded when a stream is closed locally
var errStreamCompleted = errors.New("completed by client")
