// ABOUTME: Hub server accepting producer streams and fanning frames out to watchers
// ABOUTME: WebSocket endpoint, stream registry, per-client send queues and mDNS advertising
package asciistream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/discovery"
	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/internal/version"
	"github.com/asciistream/asciistream-go/pkg/protocol"
	"github.com/asciistream/asciistream-go/pkg/session"
)

const (
	// DefaultPort is the hub's listening port
	DefaultPort = 8937
	// DefaultSendQueue is the per-client outgoing message queue depth
	DefaultSendQueue = 16

	// AnnounceTarget is the invocation producers use to open a stream
	AnnounceTarget = session.DefaultAnnounceTarget

	// Reasons sent in stream/end
	EndCompleted    = "completed"
	EndDisconnected = "producer disconnected"
	EndShutdown     = "hub shutdown"

	helloTimeout  = 5 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

var errQueueFull = errors.New("client send queue full")

// ServerConfig configures a hub
type ServerConfig struct {
	// Port to listen on (default: 8937)
	Port int

	// Name of the hub for identification
	Name string

	// Path of the WebSocket endpoint (default: /stream)
	Path string

	// SendQueue is the per-client outgoing queue depth; frames for a watcher
	// whose queue is full are dropped
	SendQueue int

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool

	Logger pslog.Logger
}

// Server is an asciistream hub
type Server struct {
	config   ServerConfig
	serverID string
	log      pslog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	// mu guards clients and streams
	mu      sync.RWMutex
	clients map[string]*client
	streams map[string]*hubStream

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// client is one connected producer or watcher
type client struct {
	ID   string
	Name string
	Role string
	Conn *websocket.Conn
	log  pslog.Logger

	// sendChan carries protocol.Message or *websocket.PreparedMessage
	sendChan chan interface{}
	dropped  atomic.Uint64
}

type hubStream struct {
	ID       string
	Producer *client
	Started  time.Time
	frames   atomic.Uint64
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID      string
	Name    string
	Role    string
	Dropped uint64
}

// StreamInfo describes an active stream
type StreamInfo struct {
	ID       string
	Producer string
	Started  time.Time
	Frames   uint64
}

// NewServer creates a hub
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", config.Port)
	}
	if config.Name == "" {
		config.Name = "asciistream hub"
	}
	if config.Path == "" {
		config.Path = protocol.DefaultPath
	}
	if config.SendQueue <= 0 {
		config.SendQueue = DefaultSendQueue
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		log:      logx.OrDefault(config.Logger),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local network hub, any origin
				return true
			},
		},
		clients:  make(map[string]*client),
		streams:  make(map[string]*hubStream),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)

	return s, nil
}

// ID returns the server ID sent in server/hello
func (s *Server) ID() string {
	return s.serverID
}

// Handler returns the hub's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called or the listener fails
func (s *Server) Start() error {
	s.log.Info("hub starting", "name", s.config.Name, "server_id", s.serverID, "version", version.String())

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        s.config.Path,
			Logger:      s.log,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warn("mdns advertisement failed", "err", err)
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:     addr,
		Handler:  s.mux,
		ErrorLog: pslog.LogLoggerWithLevel(s.log, pslog.ErrorLevel),
	}
	s.log.Info("websocket hub listening", "addr", addr, "path", s.config.Path)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-s.stopChan:
		s.log.Info("hub shutting down")
	case err := <-errChan:
		s.shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("http server shutdown error", "err", err)
	}
	s.shutdown()

	s.log.Info("hub stopped")
	return nil
}

// Stop makes Start return
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Close rejects new connections, ends every stream and disconnects clients.
// It is for servers driven through Handler rather than Start.
func (s *Server) Close() {
	s.Stop()
	s.shutdown()
}

func (s *Server) shutdown() {
	s.shutdownMu.Lock()
	already := s.isShutdown
	s.isShutdown = true
	s.shutdownMu.Unlock()
	if already {
		return
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c.Conn)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.endStream(id, EndShutdown)
	}
	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()
}

// Clients returns the connected clients sorted by ID
func (s *Server) Clients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, ClientInfo{
			ID:      c.ID,
			Name:    c.Name,
			Role:    c.Role,
			Dropped: c.dropped.Load(),
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// Streams returns the active streams sorted by start time
func (s *Server) Streams() []StreamInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streams := make([]StreamInfo, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, StreamInfo{
			ID:       st.ID,
			Producer: st.Producer.ID,
			Started:  st.Started,
			Frames:   st.frames.Load(),
		})
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Started.Before(streams[j].Started) })
	return streams
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	down := s.isShutdown
	s.shutdownMu.RUnlock()
	if down {
		http.Error(w, "hub shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.log.Debug("new websocket connection", "remote", r.RemoteAddr)
	s.handleConnection(conn)
}

// readHello waits for client/hello and validates it
func (s *Server) readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, fmt.Errorf("read hello: %w", err)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return protocol.ClientHello{}, err
	}
	if env.Type != protocol.TypeClientHello {
		return protocol.ClientHello{}, fmt.Errorf("expected client/hello, got %s", env.Type)
	}

	var hello protocol.ClientHello
	if err := env.Decode(&hello); err != nil {
		return protocol.ClientHello{}, err
	}
	if hello.ClientID == "" {
		return protocol.ClientHello{}, errors.New("client/hello missing client_id")
	}
	if hello.Role == "" {
		hello.Role = protocol.RoleProducer
	}
	if hello.Role != protocol.RoleProducer && hello.Role != protocol.RoleWatcher {
		return protocol.ClientHello{}, fmt.Errorf("unknown role %q", hello.Role)
	}
	return hello, nil
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	hello, err := s.readHello(conn)
	if err != nil {
		s.log.Warn("rejecting client", "err", err)
		return
	}

	c := &client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Role:     hello.Role,
		Conn:     conn,
		log:      logx.WithClient(s.log, hello.ClientID, hello.Name, hello.Role),
		sendChan: make(chan interface{}, s.config.SendQueue),
	}

	s.mu.Lock()
	if _, exists := s.clients[c.ID]; exists {
		s.mu.Unlock()
		c.log.Warn("client id already connected, rejecting duplicate")
		return
	}
	s.clients[c.ID] = c
	s.mu.Unlock()

	defer s.removeClient(c)

	serverHello := protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  version.ProtocolVersion,
	}
	if err := s.sendMessage(c, protocol.TypeServerHello, serverHello); err != nil {
		c.log.Warn("failed to queue server/hello", "err", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	c.log.Info("client connected")

	if c.Role == protocol.RoleWatcher {
		s.replayStreams(c)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", "err", err)
			}
			return
		}
		s.handleClientMessage(c, data)
	}
}

// clientWriter drains c.sendChan onto the connection
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				c.Conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			switch v := msg.(type) {
			case *websocket.PreparedMessage:
				err = c.Conn.WritePreparedMessage(v)
			default:
				err = c.Conn.WriteJSON(v)
			}
			if err != nil {
				c.log.Debug("write failed", "err", err)
				c.Conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.Conn.Close()
				return
			}
		}
	}
}

// removeClient unregisters c and ends the streams it produced
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if s.clients[c.ID] != c {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.ID)
	var owned []string
	for id, st := range s.streams {
		if st.Producer == c {
			owned = append(owned, id)
		}
	}
	close(c.sendChan)
	s.mu.Unlock()

	for _, id := range owned {
		s.endStream(id, EndDisconnected)
	}
	c.log.Info("client disconnected", "dropped", c.dropped.Load())
}

func (s *Server) handleClientMessage(c *client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.log.Warn("dropping malformed message", "err", err)
		return
	}

	switch env.Type {
	case protocol.TypeInvocation:
		var inv protocol.Invocation
		if err := env.Decode(&inv); err != nil {
			c.log.Warn("bad invocation", "err", err)
			return
		}
		s.handleInvocation(c, inv)

	case protocol.TypeStreamItem:
		var item protocol.StreamItem
		if err := env.Decode(&item); err != nil {
			c.log.Warn("bad stream/item", "err", err)
			return
		}
		s.handleItem(c, item)

	case protocol.TypeStreamComplete:
		var sc protocol.StreamComplete
		if err := env.Decode(&sc); err != nil {
			c.log.Warn("bad stream/complete", "err", err)
			return
		}
		if !s.ownsStream(c, sc.StreamID) {
			c.log.Debug("completion for unknown stream", "stream_id", sc.StreamID)
			return
		}
		reason := EndCompleted
		if sc.Error != "" {
			reason = sc.Error
		}
		s.endStream(sc.StreamID, reason)

	case protocol.TypeClientGoodbye:
		var bye protocol.ClientGoodbye
		if err := env.Decode(&bye); err != nil {
			c.log.Debug("bad client/goodbye", "err", err)
		}
		c.log.Info("client goodbye", "reason", bye.Reason)

	default:
		c.log.Debug("unknown message type", "type", env.Type)
	}
}

func (s *Server) handleInvocation(c *client, inv protocol.Invocation) {
	err := s.invoke(c, inv)

	completion := protocol.Completion{InvocationID: inv.InvocationID}
	if err != nil {
		completion.Error = err.Error()
		c.log.Warn("invocation failed", "target", inv.Target, "err", err)
	}
	if err := s.sendMessage(c, protocol.TypeCompletion, completion); err != nil {
		c.log.Warn("failed to queue completion", "err", err)
	}
}

func (s *Server) invoke(c *client, inv protocol.Invocation) error {
	switch inv.Target {
	case AnnounceTarget:
		if c.Role != protocol.RoleProducer {
			return errors.New("only producers can start streams")
		}
		if len(inv.StreamIDs) == 0 {
			return errors.New("no stream id")
		}
		for _, id := range inv.StreamIDs {
			if err := s.startStream(c, id); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown method %s", inv.Target)
	}
}

// startStream registers id for c and tells watchers. Re-announcing an owned
// stream is a no-op.
func (s *Server) startStream(c *client, id string) error {
	if id == "" {
		return errors.New("empty stream id")
	}

	s.mu.Lock()
	if st, exists := s.streams[id]; exists {
		s.mu.Unlock()
		if st.Producer != c {
			return fmt.Errorf("stream %s belongs to another producer", id)
		}
		return nil
	}
	s.streams[id] = &hubStream{ID: id, Producer: c, Started: time.Now()}
	s.mu.Unlock()

	c.log.Info("stream started", "stream_id", id)
	s.broadcast(protocol.TypeStreamStart, protocol.StreamStart{StreamID: id, Producer: c.Name})
	return nil
}

func (s *Server) ownsStream(c *client, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	return ok && st.Producer == c
}

// handleItem forwards one frame to every watcher
func (s *Server) handleItem(c *client, item protocol.StreamItem) {
	s.mu.RLock()
	st, ok := s.streams[item.StreamID]
	s.mu.RUnlock()
	if !ok || st.Producer != c {
		c.log.Debug("item for unannounced stream", "stream_id", item.StreamID)
		return
	}
	st.frames.Add(1)

	data, err := json.Marshal(protocol.Message{
		Type: protocol.TypeStreamFrame,
		Payload: protocol.StreamFrame{
			StreamID: item.StreamID,
			Producer: c.Name,
			Item:     item.Item,
		},
	})
	if err != nil {
		c.log.Warn("failed to encode frame", "err", err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		c.log.Warn("failed to prepare frame", "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.clients {
		if w.Role != protocol.RoleWatcher {
			continue
		}
		select {
		case w.sendChan <- pm:
		default:
			w.dropped.Add(1)
		}
	}
}

// endStream removes id and tells watchers why
func (s *Server) endStream(id, reason string) {
	s.mu.Lock()
	st, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.log.Info("stream ended", "stream_id", id, "reason", reason, "frames", st.frames.Load())
	s.broadcast(protocol.TypeStreamEnd, protocol.StreamEnd{StreamID: id, Reason: reason})
}

// replayStreams sends stream/start for every active stream to a new watcher
func (s *Server) replayStreams(c *client) {
	s.mu.RLock()
	starts := make([]protocol.StreamStart, 0, len(s.streams))
	for _, st := range s.streams {
		starts = append(starts, protocol.StreamStart{StreamID: st.ID, Producer: st.Producer.Name})
	}
	s.mu.RUnlock()

	for _, start := range starts {
		if err := s.sendMessage(c, protocol.TypeStreamStart, start); err != nil {
			c.log.Warn("failed to queue stream/start", "err", err)
		}
	}
}

// broadcast queues a control message for every watcher
func (s *Server) broadcast(msgType string, payload interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Role != protocol.RoleWatcher {
			continue
		}
		if err := s.trySend(c, protocol.Message{Type: msgType, Payload: payload}); err != nil {
			c.log.Warn("failed to queue message", "type", msgType, "err", err)
		}
	}
}

// sendMessage queues a JSON message for c
func (s *Server) sendMessage(c *client, msgType string, payload interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.clients[c.ID] != c {
		return errors.New("client gone")
	}
	return s.trySend(c, protocol.Message{Type: msgType, Payload: payload})
}

// trySend queues without blocking; the caller holds s.mu
func (s *Server) trySend(c *client, msg interface{}) error {
	select {
	case c.sendChan <- msg:
		return nil
	default:
		c.dropped.Add(1)
		return errQueueFull
	}
}
