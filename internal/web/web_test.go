package web

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assembly-line-sim/internal/types"
)

func TestStateTracker_IgnoresStaleTicks(t *testing.T) {
	st := NewStateTracker(nil)
	st.UpdateLine(types.LineStatistics{Tick: 10, CurrentProduction: 3})
	st.UpdateLine(types.LineStatistics{Tick: 8, CurrentProduction: 2})

	snap := st.GetStateSnapshot()
	assert.Equal(t, int64(10), snap.Line.Tick)
	assert.Equal(t, 3, snap.Line.CurrentProduction)
}

func TestStateTracker_KeepsRecentEvents(t *testing.T) {
	st := NewStateTracker(nil)
	for i := 0; i < maxRecent+5; i++ {
		st.RecordEvent(EventView{Tick: int64(i), Kind: "transition"})
	}
	snap := st.GetStateSnapshot()
	require.Len(t, snap.Recent, maxRecent)
	assert.Equal(t, int64(5), snap.Recent[0].Tick)
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	st := NewStateTracker(hub)
	srv := httptest.NewServer(hub.ServeWs(func() interface{} { return st.GetStateSnapshot() }))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial GlobalState
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, int64(0), initial.Line.Tick)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	st.UpdateLine(types.LineStatistics{Tick: 42})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got GlobalState
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(42), got.Line.Tick)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(nil) // Run 未启动，通道很快会满
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.BroadcastState(map[string]int{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastState blocked")
	}
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

// requireClosedByServer 连接应被服务端关闭，而不是读超时
func requireClosedByServer(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "connection left open: %v", err)
}

func TestHub_ServeWsAfterRunStops(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	srv := httptest.NewServer(hub.ServeWs(func() interface{} { return map[string]int{"tick": 1} }))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	var initial map[string]int
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, 1, initial["tick"])

	requireClosedByServer(t, conn)
	assert.Zero(t, hub.Clients())
}

func TestHub_ClientsClosedWhenRunStops(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(hub.ServeWs(nil))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	requireClosedByServer(t, conn)
	assert.Zero(t, hub.Clients())
}
