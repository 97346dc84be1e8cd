package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/controller"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil)
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Serve(w, r, r.URL.Query().Get("node"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, node string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?node=" + node
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestBroadcastFiltersByNode verifies subscribers only receive results of their node
func TestBroadcastFiltersByNode(t *testing.T) {
	h, srv := startHub(t)

	living := dial(t, srv, "living")
	all := dial(t, srv, "")
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.Emit(context.Background(), &controller.Result{NodeID: "kitchen", Value: 10.0})
	h.Emit(context.Background(), &controller.Result{NodeID: "living", Value: 20.0})

	read := func(conn *websocket.Conn) map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	msg := read(living)
	assert.Equal(t, "result", msg["type"])
	assert.Equal(t, "living", msg["payload"].(map[string]any)["nodeId"])

	assert.Equal(t, "kitchen", read(all)["payload"].(map[string]any)["nodeId"])
	assert.Equal(t, "living", read(all)["payload"].(map[string]any)["nodeId"])
}

// TestClientDisconnect verifies closed connections are unregistered
func TestClientDisconnect(t *testing.T) {
	h, srv := startHub(t)

	conn := dial(t, srv, "living")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestEmitWithoutClients verifies emitting never blocks when nobody listens
func TestEmitWithoutClients(t *testing.T) {
	h := New(nil)
	for i := 0; i < 1000; i++ {
		h.Emit(context.Background(), &controller.Result{NodeID: "living"})
	}
	assert.Equal(t, 0, h.Clients())
}
