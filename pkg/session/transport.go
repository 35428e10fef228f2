// ABOUTME: Transport contract the session drives
// ABOUTME: Implemented by the WebSocket protocol client and test doubles
package session

import "context"

// Transport is the duplex channel a Session runs over
type Transport interface {
	// Connect performs the handshake. The returned channel is closed when
	// the connection is lost or closed.
	Connect(ctx context.Context) (<-chan struct{}, error)

	// Invoke calls a remote method and waits for its completion
	Invoke(ctx context.Context, target string, streamIDs []string, args ...any) error

	// SendItem delivers one stream item; calls for a stream are sequential
	SendItem(streamID string, item string) error

	// Complete ends a stream on the remote; reason is empty for a clean end
	Complete(streamID string, reason string) error

	// Close tears the connection down
	Close() error
}
