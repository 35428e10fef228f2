// ABOUTME: WebSocket client for asciistream protocol communication
// ABOUTME: Handles connection, handshake, invocations and message routing
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/internal/version"
)

const (
	// DefaultPath is the hub's WebSocket endpoint
	DefaultPath = "/stream"

	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

var (
	// ErrNotConnected is returned when sending without a connection
	ErrNotConnected = errors.New("protocol: not connected")
	// ErrConnectionClosed is returned to invocations pending when the connection drops
	ErrConnectionClosed = errors.New("protocol: connection closed")
)

// RemoteError is a failed invocation reported by the hub
type RemoteError struct {
	Target  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Target, e.Message)
}

// Config holds client configuration
type Config struct {
	ServerAddr string
	Path       string
	ClientID   string
	Name       string
	Role       string
	DeviceInfo DeviceInfo

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Dialer           *websocket.Dialer
	Logger           pslog.Logger
}

// Client represents a WebSocket client. It can reconnect: each Connect
// starts a fresh connection with its own done channel.
type Client struct {
	config Config
	log    pslog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	done      chan struct{}
	connected bool
	server    ServerHello

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Completion

	// Watcher channels
	Frames       chan StreamFrame
	StreamStarts chan StreamStart
	StreamEnds   chan StreamEnd
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Role == "" {
		config.Role = RoleProducer
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.DeviceInfo == (DeviceInfo{}) {
		config.DeviceInfo = DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		}
	}

	return &Client{
		config:       config,
		log:          logx.WithClient(config.Logger, config.ClientID, config.Name, config.Role),
		pending:      make(map[string]chan Completion),
		Frames:       make(chan StreamFrame, 4),
		StreamStarts: make(chan StreamStart, 4),
		StreamEnds:   make(chan StreamEnd, 4),
	}
}

// ClientID returns the identifier sent in client/hello
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// Server returns the hub's hello from the last handshake
func (c *Client) Server() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// URL returns the endpoint the client dials
func (c *Client) URL() string {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	return u.String()
}

// Connect dials the hub and performs the handshake. The returned channel is
// closed when this connection ends.
func (c *Client) Connect(ctx context.Context) (<-chan struct{}, error) {
	c.mu.RLock()
	if c.connected {
		done := c.done
		c.mu.RUnlock()
		return done, nil
	}
	c.mu.RUnlock()

	target := c.URL()
	c.log.Info("connecting", "url", target)

	conn, _, err := c.config.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	server, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.connected = true
	c.server = server
	c.mu.Unlock()

	c.log.Info("handshake complete", "server_id", server.ServerID, "server_name", server.Name)

	go c.readMessages(conn, done)
	return done, nil
}

// handshake sends client/hello and waits for server/hello
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (ServerHello, error) {
	hello := ClientHello{
		ClientID:   c.config.ClientID,
		Name:       c.config.Name,
		Version:    version.ProtocolVersion,
		Role:       c.config.Role,
		DeviceInfo: &c.config.DeviceInfo,
	}

	deadline := time.Now().Add(c.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return ServerHello{}, fmt.Errorf("failed to send client/hello: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ServerHello{}, fmt.Errorf("failed to read server/hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := ParseEnvelope(data)
	if err != nil {
		return ServerHello{}, err
	}
	if env.Type != TypeServerHello {
		return ServerHello{}, fmt.Errorf("expected server/hello, got %s", env.Type)
	}

	var server ServerHello
	if err := env.Decode(&server); err != nil {
		return ServerHello{}, err
	}
	return server, nil
}

// writeJSON sends one message on the current connection
func (c *Client) writeJSON(msg Message) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages until the connection fails
func (c *Client) readMessages(conn *websocket.Conn, done chan struct{}) {
	defer c.teardown(conn, done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection closed by hub", "err", err)
			} else {
				c.log.Debug("read error", "err", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.log.Debug("ignoring non-text message", "type", messageType)
			continue
		}
		c.handleMessage(data, done)
	}
}

// handleMessage routes one JSON message
func (c *Client) handleMessage(data []byte, done chan struct{}) {
	env, err := ParseEnvelope(data)
	if err != nil {
		c.log.Warn("dropping malformed message", "err", err)
		return
	}

	switch env.Type {
	case TypeCompletion:
		var completion Completion
		if err := env.Decode(&completion); err != nil {
			c.log.Warn("bad completion", "err", err)
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[completion.InvocationID]
		delete(c.pending, completion.InvocationID)
		c.pendingMu.Unlock()
		if ok {
			ch <- completion
		}

	case TypeStreamStart:
		var start StreamStart
		if err := env.Decode(&start); err != nil {
			c.log.Warn("bad stream/start", "err", err)
			return
		}
		select {
		case c.StreamStarts <- start:
		case <-done:
		}

	case TypeStreamFrame:
		var frame StreamFrame
		if err := env.Decode(&frame); err != nil {
			c.log.Warn("bad stream/frame", "err", err)
			return
		}
		select {
		case c.Frames <- frame:
		default:
			c.log.Debug("frame channel full, dropping frame", "stream_id", frame.StreamID)
		}

	case TypeStreamEnd:
		var end StreamEnd
		if err := env.Decode(&end); err != nil {
			c.log.Warn("bad stream/end", "err", err)
			return
		}
		select {
		case c.StreamEnds <- end:
		case <-done:
		}

	default:
		c.log.Debug("unknown message type", "type", env.Type)
	}
}

// teardown marks conn as gone and releases waiters
func (c *Client) teardown(conn *websocket.Conn, done chan struct{}) {
	c.mu.Lock()
	if c.conn == conn {
		c.connected = false
	}
	c.mu.Unlock()

	conn.Close()
	close(done)
	c.log.Info("connection closed")
}

// Invoke calls a hub method and waits for its completion
func (c *Client) Invoke(ctx context.Context, target string, streamIDs []string, args ...any) error {
	c.mu.RLock()
	done := c.done
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	id := uuid.New().String()
	reply := make(chan Completion, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := Message{
		Type: TypeInvocation,
		Payload: Invocation{
			InvocationID: id,
			Target:       target,
			Arguments:    args,
			StreamIDs:    streamIDs,
		},
	}
	if err := c.writeJSON(msg); err != nil {
		return fmt.Errorf("failed to send invocation: %w", err)
	}

	select {
	case completion := <-reply:
		if completion.Error != "" {
			return &RemoteError{Target: target, Message: completion.Error}
		}
		return nil
	case <-done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendItem sends one stream item
func (c *Client) SendItem(streamID string, item string) error {
	return c.writeJSON(Message{
		Type:    TypeStreamItem,
		Payload: StreamItem{StreamID: streamID, Item: item},
	})
}

// Complete ends a client stream on the hub
func (c *Client) Complete(streamID string, reason string) error {
	return c.writeJSON(Message{
		Type:    TypeStreamComplete,
		Payload: StreamComplete{StreamID: streamID, Error: reason},
	})
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.writeJSON(Message{
		Type:    TypeClientGoodbye,
		Payload: ClientGoodbye{Reason: reason},
	})
}

// Close says goodbye and closes the connection
func (c *Client) Close() error {
	c.mu.RLock()
	conn := c.conn
	done := c.done
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return nil
	}

	if err := c.SendGoodbye("shutdown"); err != nil {
		c.log.Debug("goodbye failed", "err", err)
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "goodbye"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	conn.Close()
	<-done
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
