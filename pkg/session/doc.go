// ABOUTME: Duplex stream session package
// ABOUTME: Connection state machine and outbound stream handles
// Package session manages the connection to a remote hub and the outbound
// stream that carries transcoded frames.
//
// A Session moves between Disconnected, Connecting and Connected. Concurrent
// EnsureConnected calls share one in-flight handshake. Every successful
// connect starts a new epoch; a Stream belongs to exactly one epoch and is
// never reused after a reconnect.
//
// Publishing never blocks: payloads go onto a bounded FIFO drained by one
// writer goroutine per stream. A full queue drops the payload and returns
// ErrBackpressure. A closed stream fails fast with ErrStreamClosed.
//
// Example:
//
//	s := session.New(transport, session.Config{})
//	if err := s.EnsureConnected(ctx); err != nil {
//	    return err
//	}
//	h, _ := s.OpenOutboundStream()
//	_ = s.AnnounceStream(ctx, h)
//	_ = h.Publish(frame.Text)
package session
