package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStatus(url string) int {
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		ws.Close()
		return http.StatusSwitchingProtocols
	}
	if resp != nil {
		return resp.StatusCode
	}
	return 0
}

func TestServer_RateLimiting(t *testing.T) {
	// burst 2 at 2/s: a tight loop of upgrades must hit the limiter
	srv := startServer(t, ServerConfig{RateLimit: 2.0, RateBurst: 2}, &MockConnHandler{})
	url := "ws://" + srv.Addr() + "/ws/mcp"

	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		codes[dialStatus(url)]++
	}
	assert.Positive(t, codes[http.StatusTooManyRequests], "expected some upgrades to be rejected")
	assert.Less(t, codes[http.StatusSwitchingProtocols], 10)
	assert.Positive(t, codes[http.StatusSwitchingProtocols], "the burst is admitted")
}

func TestServer_RateLimitRefills(t *testing.T) {
	srv := startServer(t, ServerConfig{RateLimit: 20, RateBurst: 1}, &MockConnHandler{})
	url := "ws://" + srv.Addr() + "/ws"

	require.Equal(t, http.StatusSwitchingProtocols, dialStatus(url))
	require.Eventually(t, func() bool {
		return dialStatus(url) == http.StatusSwitchingProtocols
	}, time.Second, 60*time.Millisecond, "a token comes back after 1/rate")
}

func TestServer_RateLimitDoesNotApplyToHTTP(t *testing.T) {
	srv := startServer(t, ServerConfig{RateLimit: 1, RateBurst: 1}, &MockConnHandler{})
	for i := 0; i < 5; i++ {
		resp, err := http.Get("http://" + srv.Addr() + "/health")
		if assert.NoError(t, err) {
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}
	}
}
