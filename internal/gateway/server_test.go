package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassandra/internal/chat"
	"cassandra/internal/compaction"
	"cassandra/internal/completion"
	"cassandra/internal/config"
	"cassandra/internal/gateway/middleware"
	"cassandra/internal/gateway/websocket"
	"cassandra/internal/history"
	"cassandra/internal/provider"
	"cassandra/internal/scheduler"
	"cassandra/internal/storage"
)

// newWSServer serves the hub's websocket endpoint and returns its ws:// URL.
func newWSServer(t *testing.T, hub *websocket.Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type streamingCompleter struct{}

func (streamingCompleter) Complete(context.Context, []history.Entry, string) (completion.Result, error) {
	ch := make(chan provider.ChatEvent, 3)
	ch <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: "Hel"}
	ch <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: "lo"}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return completion.Streaming(completion.NewStream(ch, nil, 0)), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Host:      "127.0.0.1",
			Port:      0,
			RateLimit: config.RateLimitConfig{Enabled: false},
		},
		Model: config.ModelConfig{Model: "gpt-test"},
	}
}

func newTestServer(t *testing.T) (*Server, *websocket.Hub) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := websocket.NewHub()
	store := storage.NewSessionStore(db)
	ctrl := chat.NewController(
		compaction.NewReducer(compaction.DefaultConfig(), nil),
		streamingCompleter{},
		chat.WithStore(store),
		chat.WithObserver(PhaseObserver(hub)),
	)
	queue := scheduler.NewRunQueue(10, time.Second)
	t.Cleanup(func() { _ = queue.Shutdown(context.Background()) })
	d := scheduler.NewDispatcher(ctrl, scheduler.NewSessionManager(store, 10), queue)

	s := NewServer(testConfig(), hub, Deps{Dispatcher: d, DB: db, Version: "test"})
	s.runHub()
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, hub
}

func TestServer_HTTPRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(ts.URL + "/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readFrame(t *testing.T, conn *gorillaws.Conn) websocket.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg websocket.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_WebSocketChat(t *testing.T) {
	s, hub := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(websocket.WSMessage{Type: websocket.TypeChat, Session: "s1", Message: "hi"}))

	var frames []websocket.WSMessage
	for {
		f := readFrame(t, conn)
		frames = append(frames, f)
		if f.Type == websocket.TypeDone {
			break
		}
	}

	var streams []string
	var sawUser bool
	for _, f := range frames {
		assert.Equal(t, "s1", f.Session)
		switch f.Type {
		case websocket.TypeUser:
			sawUser = true
			assert.Equal(t, "hi", f.Text)
		case websocket.TypeStream:
			streams = append(streams, f.Text)
		}
	}
	assert.True(t, sawUser)
	assert.Equal(t, []string{"Hel", "Hello"}, streams, "stream frames are cumulative")

	done := frames[len(frames)-1]
	assert.Equal(t, "Hello", done.Text)
	assert.Contains(t, done.HTML, "<p>Hello</p>")

	// the idle phase follows the done frame
	assert.Equal(t, websocket.WSMessage{Type: websocket.TypePhase, Session: "s1", Phase: "idle"}, readFrame(t, conn))
}

func TestServer_WebSocketChat_Rejected(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(websocket.WSMessage{Type: websocket.TypeChat, Session: "s1", Message: strings.Repeat("x", 301)}))

	f := readFrame(t, conn)
	assert.Equal(t, websocket.TypeError, f.Type)
	assert.Equal(t, websocket.CodeChatError, f.Code)
	assert.Contains(t, f.Message, "too long")
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	assert.NoError(t, s.Shutdown(context.Background()), "second Shutdown is a no-op")
}

func TestServer_Addr(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Port = 18790
	s := NewServer(cfg, websocket.NewHub(), Deps{})
	defer s.Shutdown(context.Background())
	assert.Equal(t, "127.0.0.1:18790", s.Addr())
}

var _ chat.Display = (*hubDisplay)(nil)
