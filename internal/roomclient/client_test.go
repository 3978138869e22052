package roomclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/chessroom/internal/gateway"
	"github.com/park285/chessroom/internal/httpapi"
	"github.com/park285/chessroom/internal/room"
	"github.com/park285/chessroom/pkg/roomdto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	reg     *room.Registry
	baseURL string
	wsURL   string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	reg := room.NewRegistry(room.Options{TickInterval: time.Hour, DefaultTimeControl: 3})
	hub := gateway.NewHub(reg, gateway.Options{})
	wsSrv := httptest.NewServer(gateway.NewHandler(hub, nil))

	app := httpapi.NewApp(reg, hub, httpapi.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()

	t.Cleanup(func() {
		hub.Shutdown()
		wsSrv.Close()
		_ = app.Shutdown()
		reg.Close(context.Background())
	})
	return &stack{
		reg:     reg,
		baseURL: "http://" + ln.Addr().String(),
		wsURL:   "ws" + strings.TrimPrefix(wsSrv.URL, "http"),
	}
}

func TestRESTRoundTrip(t *testing.T) {
	st := newStack(t)
	c := NewClient(st.baseURL, WithTimeout(2*time.Second))
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, created.TimeControlMinutes)

	list, err := c.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalRooms)

	lobby, err := c.Lobby(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, lobby.TotalRooms)
	assert.Equal(t, created.RoomCode, lobby.Rooms[0].RoomCode)

	detail, err := c.GetRoom(ctx, created.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, "waiting", detail.GameState)

	status, err := c.RoomStatus(ctx, created.RoomCode)
	require.NoError(t, err)
	assert.True(t, status.CanJoin)

	require.NoError(t, c.DeleteRoom(ctx, created.RoomCode))

	status, err = c.RoomStatus(ctx, created.RoomCode)
	require.NoError(t, err)
	assert.False(t, status.Exists)
	assert.Equal(t, "Room not found", status.Message)

	_, err = c.GetRoom(ctx, created.RoomCode)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, httpapi.CodeRoomNotFound, apiErr.Body.Code)
}

func TestRetriesServerErrorsOnReads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"totalRooms":0,"rooms":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	list, err := c.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, list.TotalRooms)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCreateIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	_, err := c.CreateRoom(context.Background(), 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, int32(1), hits.Load())
}

type inbox struct {
	mu     sync.Mutex
	events []roomdto.Envelope
}

func (b *inbox) add(env roomdto.Envelope) {
	b.mu.Lock()
	b.events = append(b.events, env)
	b.mu.Unlock()
}

func (b *inbox) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.Event == event {
			return true
		}
	}
	return false
}

func TestWebSocketPlaysAGame(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	var whiteBox, blackBox inbox
	white := NewWebSocket(st.wsURL)
	white.OnMessage(whiteBox.add)
	require.NoError(t, white.Connect(ctx))
	black := NewWebSocket(st.wsURL)
	black.OnMessage(blackBox.add)
	require.NoError(t, black.Connect(ctx))

	require.NoError(t, white.Send(ctx, roomdto.IntentCreateRoom, roomdto.CreateRoom{}))
	require.Eventually(t, func() bool { return whiteBox.has(roomdto.EventRoomCreated) }, 2*time.Second, 10*time.Millisecond)

	var created roomdto.RoomCreated
	whiteBox.mu.Lock()
	require.NoError(t, whiteBox.events[0].Decode(&created))
	whiteBox.mu.Unlock()
	assert.Equal(t, "white", created.Color)

	require.NoError(t, black.Send(ctx, roomdto.IntentJoinRoom, roomdto.JoinRoom{RoomCode: created.RoomCode}))
	require.Eventually(t, func() bool { return whiteBox.has(roomdto.EventGameStart) && blackBox.has(roomdto.EventGameStart) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, white.Send(ctx, roomdto.IntentMove, roomdto.Move{
		RoomCode: created.RoomCode,
		Move:     roomdto.MoveDescriptor{From: "e2", To: "e4"},
	}))
	require.Eventually(t, func() bool { return blackBox.has(roomdto.EventNewMove) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, white.Close(ctx))
	require.Eventually(t, func() bool { return blackBox.has(roomdto.EventOpponentDisconnected) }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, white.Err())
	require.NoError(t, black.Close(ctx))
}

func TestSendBeforeConnect(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/ws")
	err := ws.Send(context.Background(), roomdto.IntentCreateRoom, nil)
	assert.Error(t, err)
	assert.NoError(t, ws.Close(context.Background()))
}
