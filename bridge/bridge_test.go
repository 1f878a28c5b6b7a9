package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaojinao/cellium/config"
	"github.com/xiaojinao/cellium/eventbus"
)

func newTestBridge(t *testing.T, cfg config.BridgeConfig, handler MessageHandler) (*Server, *websocket.Conn) {
	t.Helper()

	s := NewServer(cfg, handler)
	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return s, conn
}

func TestRequestReply(t *testing.T) {
	_, conn := newTestBridge(t, config.BridgeConfig{}, func(raw string) string {
		return "reply to " + raw
	})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "reply to ping", string(reply))
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := config.BridgeConfig{RateLimit: 1, RateBurst: 1}
	_, conn := newTestBridge(t, cfg, func(string) string { return "ok" })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("one")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("two")))

	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(first))

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Error: Rate limit exceeded", string(second))
}

func TestBroadcastDeliversEnvelope(t *testing.T) {
	s, conn := newTestBridge(t, config.BridgeConfig{}, func(string) string { return "" })

	// The connection registers asynchronously with the dial handshake
	// already complete, so it is in the conns map by now.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) == 1
	}, time.Second, 10*time.Millisecond)

	s.Broadcast("serial.received", eventbus.Data{"port": "COM3", "bytes": 12})

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	text := string(payload)
	assert.Contains(t, text, `"event":"serial.received"`)
	assert.Contains(t, text, `"port":"COM3"`)
}

func TestSendAfterSlowConsumerDropIsSafe(t *testing.T) {
	s := NewServer(config.BridgeConfig{}, func(string) string { return "" })

	// A client whose buffer is already full, so the next Broadcast takes
	// the slow-consumer path and closes its outbound channel.
	c := &client{outbound: make(chan []byte, 1)}
	c.outbound <- []byte("stuck")
	s.conns[c] = struct{}{}

	s.Broadcast("tick", eventbus.Data{})

	s.mu.Lock()
	_, stillConnected := s.conns[c]
	s.mu.Unlock()
	require.False(t, stillConnected)

	// The read loop may still be handling a frame for the dropped
	// client; its reply must be discarded, not sent on the closed
	// channel.
	assert.NotPanics(t, func() { s.send(c, []byte("late reply")) })
}

func TestAttachBusPushesEvents(t *testing.T) {
	s, conn := newTestBridge(t, config.BridgeConfig{}, func(string) string { return "" })

	bus := eventbus.New()
	require.NoError(t, s.AttachBus(bus))

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) == 1
	}, time.Second, 10*time.Millisecond)

	bus.Publish("app.ready", eventbus.Data{"version": "1.0.0"})

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"event":"app.ready"`)
}
