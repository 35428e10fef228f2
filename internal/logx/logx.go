// ABOUTME: Shared pslog helpers for asciistream components
// ABOUTME: Field conventions for streams, clients and sources
package logx

import (
	"context"
	"io"

	"pkt.systems/pslog"
)

// Field keys used across packages
const (
	KeyStream   = "stream_id"
	KeyEpoch    = "epoch"
	KeyClient   = "client_id"
	KeyName     = "name"
	KeyRole     = "role"
	KeySource   = "source"
	KeyProducer = "producer"
)

// OrDefault returns l, or the context-free default logger when l is nil
func OrDefault(l pslog.Logger) pslog.Logger {
	if l == nil {
		return pslog.Ctx(context.Background())
	}
	return l
}

// WithStream tags a logger with an outbound stream
func WithStream(l pslog.Logger, streamID string, epoch uint64) pslog.Logger {
	return OrDefault(l).With(KeyStream, streamID, KeyEpoch, epoch)
}

// WithClient tags a logger with a connected client
func WithClient(l pslog.Logger, clientID, name, role string) pslog.Logger {
	return OrDefault(l).With(KeyClient, clientID, KeyName, name, KeyRole, role)
}

// WithSource tags a logger with a video source kind
func WithSource(l pslog.Logger, kind string) pslog.Logger {
	return OrDefault(l).With(KeySource, kind)
}

// NewStructured builds a JSON-lines logger at debug level
func NewStructured(w io.Writer) pslog.Logger {
	return pslog.NewWithOptions(w, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
}

// Discard returns a logger that writes nowhere
func Discard() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.ErrorLevel,
	})
}
