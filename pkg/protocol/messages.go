// ABOUTME: asciistream protocol message type definitions
// ABOUTME: JSON envelope plus one payload struct per message type
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types
const (
	TypeClientHello    = "client/hello"
	TypeServerHello    = "server/hello"
	TypeClientGoodbye  = "client/goodbye"
	TypeInvocation     = "invocation"
	TypeCompletion     = "completion"
	TypeStreamItem     = "stream/item"
	TypeStreamComplete = "stream/complete"
	TypeStreamStart    = "stream/start"
	TypeStreamFrame    = "stream/frame"
	TypeStreamEnd      = "stream/end"
)

// Client roles
const (
	RoleProducer = "producer"
	RoleWatcher  = "watcher"
)

// Message is the top-level wrapper for outgoing protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is the decoded form of an incoming message; the payload is kept
// raw until the type is known
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope decodes one text frame
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("message has no type")
	}
	return env, nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	Role       string      `json:"role"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the hub's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "user_request", "error"
}

// Invocation calls a hub method; StreamIDs names client streams the call
// carries
type Invocation struct {
	InvocationID string        `json:"invocation_id"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments,omitempty"`
	StreamIDs    []string      `json:"stream_ids,omitempty"`
}

// Completion answers an invocation; Error is empty on success
type Completion struct {
	InvocationID string `json:"invocation_id"`
	Error        string `json:"error,omitempty"`
}

// StreamItem carries one frame from a producer to the hub
type StreamItem struct {
	StreamID string `json:"stream_id"`
	Item     string `json:"item"`
}

// StreamComplete ends a client stream; Error is empty for a clean end
type StreamComplete struct {
	StreamID string `json:"stream_id"`
	Error    string `json:"error,omitempty"`
}

// StreamStart tells watchers a producer stream has begun
type StreamStart struct {
	StreamID string `json:"stream_id"`
	Producer string `json:"producer"`
}

// StreamFrame relays one producer frame to watchers
type StreamFrame struct {
	StreamID string `json:"stream_id"`
	Producer string `json:"producer"`
	Item     string `json:"item"`
}

// StreamEnd tells watchers a producer stream has ended
type StreamEnd struct {
	StreamID string `json:"stream_id"`
	Reason   string `json:"reason,omitempty"`
}
