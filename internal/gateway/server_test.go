package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg ServerConfig, handler ConnHandler) *Server {
	t.Helper()
	if cfg.SessionWait == 0 {
		cfg.SessionWait = 20 * time.Millisecond
	}
	srv := NewServer(cfg, handler)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.ListenAndServe(ctx)
	// Wait for server to be ready
	require.Eventually(t, func() bool {
		return srv.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond)
	return srv
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(msg, &frame))
	return frame
}

func TestServer_AcceptConnection(t *testing.T) {
	handler := &MockConnHandler{}
	srv := startServer(t, ServerConfig{Port: 0}, handler)
	// Connect with a real WS client
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws/mcp?session_id=s1", nil)
	require.NoError(t, err)
	defer ws.Close()
	frame := readJSON(t, ws)
	assert.Equal(t, "connection_established", frame["type"])
	assert.Equal(t, "mcp_s1", frame["clientId"])
	assert.Equal(t, "command", frame["channel"])
}

func TestServer_ChannelEndpoints(t *testing.T) {
	handler := &MockConnHandler{}
	srv := startServer(t, ServerConfig{Port: 0}, handler)
	for path, ch := range Endpoints {
		ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+path+"?client_id=c", nil)
		require.NoError(t, err, path)
		frame := readJSON(t, ws)
		assert.Equal(t, string(ch), frame["channel"], path)
		ws.Close()
	}
}

func TestServer_IdentityFromCookieAndUserAgent(t *testing.T) {
	handler := &MockConnHandler{}
	srv := startServer(t, ServerConfig{Port: 0}, handler)

	header := http.Header{}
	header.Set("Cookie", "session_id=from-cookie")
	header.Set("User-Agent", "renderer/1.0")
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws/status", header)
	require.NoError(t, err)
	defer ws.Close()
	frame := readJSON(t, ws)
	assert.Equal(t, "status_from-cookie", frame["clientId"])

	established, _, _ := handler.snapshot()
	require.Len(t, established, 1)
	assert.Equal(t, "from-cookie", established[0].Cookie)
	assert.Equal(t, "renderer/1.0", established[0].UserAgent)
}

func TestServer_MultipleConnections(t *testing.T) {
	handler := &MockConnHandler{}
	srv := startServer(t, ServerConfig{Port: 0}, handler)
	// Connect two clients
	ws1, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws1.Close()
	ws2, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws2.Close()
	// Both should be established
	assert.Equal(t, "connection_established", readJSON(t, ws1)["type"])
	assert.Equal(t, "connection_established", readJSON(t, ws2)["type"])
}

func TestServer_ShutdownDrains(t *testing.T) {
	handler := &MockConnHandler{}
	srv := NewServer(ServerConfig{Port: 0, SessionWait: 20 * time.Millisecond}, handler)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx)
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	// Connect a client
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	// Read the established message to confirm connection is alive
	_ = readJSON(t, ws)
	// Trigger shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	cancel() // stop accepting new connections
	// Shutdown should complete (not hang)
	err = srv.Shutdown(shutdownCtx)
	assert.NoError(t, err)
	// Client should see the connection close
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err) // connection should be closed
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := startServer(t, ServerConfig{Port: 0}, &MockConnHandler{})
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ok")
}

func TestServer_ExtraRoutes(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 0}, &MockConnHandler{})
	srv.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/extra")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestIdentityFromRequest(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/ws?sessionId=q1", nil)
	r.Header.Set("User-Agent", "agent")
	r.AddCookie(&http.Cookie{Name: "session_id", Value: "c1"})
	id := identityFromRequest(r)
	assert.Equal(t, "q1", id.Explicit)
	assert.Equal(t, "c1", id.Cookie)
	assert.Equal(t, "agent", id.UserAgent)
	assert.Equal(t, "q1", id.Token())
}
