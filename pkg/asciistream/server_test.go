// ABOUTME: Integration tests for the hub server
// ABOUTME: Producers and watchers talk to the hub over real WebSocket connections
package asciistream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/pkg/protocol"
	"github.com/asciistream/asciistream-go/pkg/transcode"
	"github.com/asciistream/asciistream-go/pkg/video"
)

func TestNewServer(t *testing.T) {
	tests := []struct {
		name      string
		config    ServerConfig
		expectErr bool
	}{
		{name: "defaults", config: ServerConfig{}},
		{name: "explicit", config: ServerConfig{Port: 9100, Name: "Hub", Path: "/x", SendQueue: 4}},
		{name: "bad port", config: ServerConfig{Port: 70000}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(tt.config)
			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.config.Port == 0 || s.config.Name == "" || s.config.Path == "" || s.config.SendQueue == 0 {
				t.Errorf("defaults not applied: %+v", s.config)
			}
			if s.ID() == "" {
				t.Error("expected server id")
			}
		})
	}
}

func startHub(t *testing.T) (*Server, string) {
	t.Helper()
	s, err := NewServer(ServerConfig{Name: "Test Hub", Logger: logx.Discard()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, strings.TrimPrefix(ts.URL, "http://")
}

func dialHub(t *testing.T, addr, id, role string) *protocol.Client {
	t.Helper()
	c := protocol.NewClient(protocol.Config{
		ServerAddr: addr,
		ClientID:   id,
		Name:       id,
		Role:       role,
		Logger:     logx.Discard(),
	})
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recvStart(t *testing.T, c *protocol.Client) protocol.StreamStart {
	t.Helper()
	select {
	case s := <-c.StreamStarts:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream/start")
	}
	return protocol.StreamStart{}
}

func recvFrame(t *testing.T, c *protocol.Client) protocol.StreamFrame {
	t.Helper()
	select {
	case f := <-c.Frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream/frame")
	}
	return protocol.StreamFrame{}
}

func recvEnd(t *testing.T, c *protocol.Client) protocol.StreamEnd {
	t.Helper()
	select {
	case e := <-c.StreamEnds:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream/end")
	}
	return protocol.StreamEnd{}
}

func TestHubFanOut(t *testing.T) {
	hub, addr := startHub(t)
	watcher := dialHub(t, addr, "watcher-1", protocol.RoleWatcher)
	producer := dialHub(t, addr, "camera-1", protocol.RoleProducer)

	if producer.Server().ServerID != hub.ID() {
		t.Errorf("expected server id %s, got %s", hub.ID(), producer.Server().ServerID)
	}

	ctx := context.Background()
	if err := producer.Invoke(ctx, AnnounceTarget, []string{"s-1"}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	start := recvStart(t, watcher)
	if start.StreamID != "s-1" || start.Producer != "camera-1" {
		t.Errorf("unexpected start %+v", start)
	}

	if err := producer.SendItem("bogus", "nope"); err != nil {
		t.Fatalf("SendItem: %v", err)
	}
	for _, item := range []string{"\nA", "\nB"} {
		if err := producer.SendItem("s-1", item); err != nil {
			t.Fatalf("SendItem: %v", err)
		}
	}
	if f := recvFrame(t, watcher); f.Item != "\nA" || f.StreamID != "s-1" {
		t.Errorf("expected first frame \\nA on s-1, got %+v", f)
	}
	if f := recvFrame(t, watcher); f.Item != "\nB" {
		t.Errorf("expected second frame \\nB, got %+v", f)
	}

	if err := producer.Complete("s-1", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if end := recvEnd(t, watcher); end.StreamID != "s-1" || end.Reason != EndCompleted {
		t.Errorf("unexpected end %+v", end)
	}

	if n := len(hub.Streams()); n != 0 {
		t.Errorf("expected no active streams, got %d", n)
	}
}

func TestHubInvocationErrors(t *testing.T) {
	_, addr := startHub(t)
	producer := dialHub(t, addr, "camera-1", protocol.RoleProducer)
	other := dialHub(t, addr, "camera-2", protocol.RoleProducer)
	watcher := dialHub(t, addr, "watcher-1", protocol.RoleWatcher)
	ctx := context.Background()

	if err := producer.Invoke(ctx, AnnounceTarget, []string{"s-1"}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if err := producer.Invoke(ctx, AnnounceTarget, []string{"s-1"}); err != nil {
		t.Errorf("re-announce by owner must succeed: %v", err)
	}

	tests := []struct {
		name      string
		client    *protocol.Client
		target    string
		streamIDs []string
	}{
		{"stolen stream", other, AnnounceTarget, []string{"s-1"}},
		{"watcher announce", watcher, AnnounceTarget, []string{"s-2"}},
		{"no stream id", producer, AnnounceTarget, nil},
		{"unknown method", producer, "reboot", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.client.Invoke(ctx, tt.target, tt.streamIDs)
			var remote *protocol.RemoteError
			if !errors.As(err, &remote) {
				t.Errorf("expected RemoteError, got %v", err)
			}
		})
	}
}

func TestHubEndsStreamsOnDisconnect(t *testing.T) {
	hub, addr := startHub(t)
	watcher := dialHub(t, addr, "watcher-1", protocol.RoleWatcher)
	producer := dialHub(t, addr, "camera-1", protocol.RoleProducer)

	if err := producer.Invoke(context.Background(), AnnounceTarget, []string{"s-1"}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	recvStart(t, watcher)

	producer.Close()
	if end := recvEnd(t, watcher); end.Reason != EndDisconnected {
		t.Errorf("expected %q, got %+v", EndDisconnected, end)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Clients()) != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if clients := hub.Clients(); len(clients) != 1 || clients[0].ID != "watcher-1" {
		t.Errorf("expected only the watcher left, got %+v", clients)
	}
}

func TestHubReplaysStreamsToLateWatcher(t *testing.T) {
	_, addr := startHub(t)
	producer := dialHub(t, addr, "camera-1", protocol.RoleProducer)
	if err := producer.Invoke(context.Background(), AnnounceTarget, []string{"s-7"}); err != nil {
		t.Fatalf("announce: %v", err)
	}

	watcher := dialHub(t, addr, "watcher-1", protocol.RoleWatcher)
	if start := recvStart(t, watcher); start.StreamID != "s-7" {
		t.Errorf("expected replayed s-7, got %+v", start)
	}
}

func TestHubRejectsBadHellos(t *testing.T) {
	_, addr := startHub(t)
	dialHub(t, addr, "camera-1", protocol.RoleProducer)

	dup := protocol.NewClient(protocol.Config{ServerAddr: addr, ClientID: "camera-1", Logger: logx.Discard()})
	if _, err := dup.Connect(context.Background()); err == nil {
		t.Error("expected duplicate client id to be rejected")
	}

	tests := []struct {
		name  string
		hello protocol.ClientHello
	}{
		{"missing id", protocol.ClientHello{Name: "x", Role: protocol.RoleProducer}},
		{"bad role", protocol.ClientHello{ClientID: "y", Role: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+protocol.DefaultPath, nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()
			if err := conn.WriteJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: tt.hello}); err != nil {
				t.Fatalf("write hello: %v", err)
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Error("expected the hub to close the connection")
			}
		})
	}
}

func TestHubIgnoresMalformedGoodbye(t *testing.T) {
	hub, addr := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+protocol.DefaultPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	hello := protocol.ClientHello{ClientID: "camera-1", Name: "camera-1", Role: protocol.RoleProducer}
	if err := conn.WriteJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if err := conn.WriteJSON(protocol.Message{Type: protocol.TypeClientGoodbye, Payload: 42}); err != nil {
		t.Fatalf("write goodbye: %v", err)
	}

	dialHub(t, addr, "watcher-1", protocol.RoleWatcher)
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Clients()) != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := len(hub.Clients()); n != 2 {
		t.Errorf("expected both clients connected, got %d", n)
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	s, err := NewServer(ServerConfig{Logger: logx.Discard()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	c := &client{ID: "w", sendChan: make(chan interface{}, 1)}

	if err := s.trySend(c, "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := s.trySend(c, "second"); !errors.Is(err, errQueueFull) {
		t.Errorf("expected errQueueFull, got %v", err)
	}
	if c.dropped.Load() != 1 {
		t.Errorf("expected 1 dropped, got %d", c.dropped.Load())
	}
}

func TestStreamerThroughHub(t *testing.T) {
	hub, addr := startHub(t)
	watcher := dialHub(t, addr, "watcher-1", protocol.RoleWatcher)

	s, err := NewStreamer(StreamerConfig{
		ServerAddr: addr,
		Name:       "desk-cam",
		Source:     video.NewTestPattern(6, 4),
		FPS:        200,
		Logger:     logx.Discard(),
	})
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := recvStart(t, watcher)
	if start.StreamID != s.Status().StreamID || start.Producer != "desk-cam" {
		t.Errorf("unexpected start %+v", start)
	}

	f := recvFrame(t, watcher)
	decoded, err := transcode.Decode(f.Item, transcode.DetectMarkup(f.Item))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Rows != 4 || len(decoded.Cells) != 24 {
		t.Errorf("expected 4 rows and 24 cells, got %d rows and %d cells", decoded.Rows, len(decoded.Cells))
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for {
		select {
		case end := <-watcher.StreamEnds:
			if end.StreamID != start.StreamID {
				t.Errorf("unexpected end %+v", end)
			}
			if len(hub.Streams()) != 0 {
				t.Error("expected stream removed from hub")
			}
			return
		case <-watcher.Frames:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream/end")
		}
	}
}
