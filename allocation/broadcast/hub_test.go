package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-gateway/allocation/application"
	"seat-gateway/allocation/domain"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func Test_Hub_SendsSnapshotThenNewerEvents(t *testing.T) {
	hub := NewHub(func() domain.Snapshot {
		return domain.Snapshot{Capacity: 10, Remaining: 7, Allocated: 3, LastSequence: 5}
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)

	var snap SnapshotMessage
	readJSON(t, conn, &snap)
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, 7, snap.Remaining)
	assert.Equal(t, uint64(5), snap.LastSequence)

	ctx := context.Background()
	// já coberto pelo snapshot: não deve chegar
	require.NoError(t, hub.Handle(ctx, domain.Event{Type: domain.EventTypeAvailability, Sequence: 5, Remaining: 7}))
	require.NoError(t, hub.Handle(ctx, domain.Event{Type: domain.EventTypeAvailability, Sequence: 6, Remaining: 6}))
	require.NoError(t, hub.Handle(ctx, domain.Event{Type: domain.EventTypeAvailability, Sequence: 6, Remaining: 6}))
	require.NoError(t, hub.Handle(ctx, domain.Event{Type: domain.EventTypeAvailability, Sequence: 7, Remaining: 5}))

	var ev domain.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, uint64(6), ev.Sequence)
	readJSON(t, conn, &ev)
	assert.Equal(t, uint64(7), ev.Sequence)
	assert.Equal(t, 5, ev.Remaining)
}

func Test_Hub_DropsDisconnectedClients(t *testing.T) {
	hub := NewHub(func() domain.Snapshot { return domain.Snapshot{Capacity: 1, Remaining: 1} })
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	var snap SnapshotMessage
	readJSON(t, conn, &snap)
	require.Equal(t, 1, hub.Clients())

	_ = conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 3*time.Second, 10*time.Millisecond)
	hub.Close()
}

func Test_Hub_CommitDuringConnectIsNotLost(t *testing.T) {
	em := application.NewEmitter()
	engine, err := application.New(context.Background(), 2, application.WithPublisher(em))
	require.NoError(t, err)

	var hub *Hub
	first := true
	hub = NewHub(func() domain.Snapshot {
		snap := engine.Snapshot()
		if first {
			first = false
			// commit logo depois do snapshot, antes de o cliente ser registrado
			go func() { _, _ = engine.Allocate(context.Background(), "u1") }()
			time.Sleep(50 * time.Millisecond)
		}
		return snap
	})
	em.Subscribe("ws", hub)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)

	var snap SnapshotMessage
	readJSON(t, conn, &snap)
	require.Equal(t, uint64(0), snap.LastSequence)
	require.Equal(t, 2, snap.Remaining)

	var ev domain.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, uint64(1), ev.Sequence)
	assert.Equal(t, 1, ev.Remaining)

	require.NoError(t, em.Close(context.Background()))
}
