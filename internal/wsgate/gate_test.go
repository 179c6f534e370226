package wsgate

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialGate(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGateBroadcast(t *testing.T) {
	g := NewGate()
	srv := httptest.NewServer(g)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first := dialGate(t, url)
	second := dialGate(t, url)

	// Connections register asynchronously after the upgrade.
	require.Eventually(t, func() bool { return g.Count() == 2 }, time.Second, 10*time.Millisecond)

	g.Broadcast("GAME OVER! alice WINS!")

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		kind, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, "GAME OVER! alice WINS!", string(msg))
	}
}

func TestGateDetachOnClose(t *testing.T) {
	g := NewGate()
	srv := httptest.NewServer(g)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := dialGate(t, url)
	require.Eventually(t, func() bool { return g.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return g.Count() == 0 }, time.Second, 10*time.Millisecond)
}
