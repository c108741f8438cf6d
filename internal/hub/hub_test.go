// SPDX-License-Identifier: MIT

package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := New()
	defer h.Close()
	server := httptest.NewServer(h)
	defer server.Close()

	first := dial(t, server)
	second := dial(t, server)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	h.Broadcast("sessions_update", []string{"promo"})

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "sessions_update", msg.Event)
	}
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	h := New()
	defer h.Close()
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseRefusesNewClients(t *testing.T) {
	h := New()
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	assert.Zero(t, h.ClientCount())

	// The dropped client sees its connection end.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestBroadcastWithNoClientsIsSafe(t *testing.T) {
	h := New()
	defer h.Close()
	h.Broadcast("sessions_update", nil)
}
