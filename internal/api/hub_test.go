package api

import (
	"Go2NetSentry/internal/core/model"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestHub_BroadcastsRejectedOnly(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Consume(ctx, &model.FeatureRecord{FlowID: "benign"}, model.Pass))
	require.NoError(t, hub.Consume(ctx, &model.FeatureRecord{FlowID: "bad", Protocol: "TCP"}, model.Reject(model.ReasonSuspiciousPort)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "suspicious_port", ev.Verdict)
	require.NotNil(t, ev.Record)
	assert.Equal(t, "bad", ev.Record.FlowID)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dialHub(t, hub)
	defer cleanup()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "the server should close the connection")

	// Consume after Close must not block.
	assert.NoError(t, hub.Consume(context.Background(), &model.FeatureRecord{}, model.Reject(model.ReasonFlagAnomaly)))
	assert.Equal(t, "websocket", hub.Name())
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn, cleanup := dialHub(t, hub)
	defer cleanup()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
