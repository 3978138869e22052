package roomclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/chessroom/pkg/roomdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// EventCallback receives every server event in arrival order.
type EventCallback func(env roomdto.Envelope)

type callbackEntry struct {
	id       int
	callback EventCallback
}

// WebSocket is a single gateway connection. It does not reconnect: the
// server drops the room when a seat disconnects.
type WebSocket struct {
	wsURL string

	conn  *websocket.Conn
	connM sync.Mutex

	cbs    []callbackEntry
	nextID int
	cbM    sync.RWMutex

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	closedCh chan struct{}
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	errM    sync.Mutex
	readErr error
}

func NewWebSocket(wsURL string) *WebSocket {
	return &WebSocket{
		wsURL:        wsURL,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
		closedCh:     make(chan struct{}),
	}
}

// SetPingInterval must be called before Connect.
func (ws *WebSocket) SetPingInterval(d time.Duration) { ws.pingInterval = d }

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	if ws.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}

	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())
	ws.conn = conn
	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
	return nil
}

// Send writes one intent envelope.
func (ws *WebSocket) Send(ctx context.Context, event string, data any) error {
	ws.connM.Lock()
	conn := ws.conn
	ws.connM.Unlock()
	if conn == nil {
		return errors.New("websocket not connected")
	}
	env, err := roomdto.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, env)
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	defer close(ws.closedCh)
	for {
		var env roomdto.Envelope
		if err := wsjson.Read(ws.rootCtx, conn, &env); err != nil {
			if !ws.isStopping() {
				ws.errM.Lock()
				ws.readErr = err
				ws.errM.Unlock()
			}
			return
		}

		ws.cbM.RLock()
		callbacks := make([]callbackEntry, len(ws.cbs))
		copy(callbacks, ws.cbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(env)
		}
	}
}

func (ws *WebSocket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-ws.closedCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (ws *WebSocket) OnMessage(cb EventCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextID++
	ws.cbs = append(ws.cbs, callbackEntry{id: ws.nextID, callback: cb})
	return ws.nextID
}

func (ws *WebSocket) RemoveMessageCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.cbs {
		if cb.id == id {
			ws.cbs = append(ws.cbs[:i], ws.cbs[i+1:]...)
			break
		}
	}
}

// Done is closed once the read side has stopped.
func (ws *WebSocket) Done() <-chan struct{} { return ws.closedCh }

// Err reports why the read side stopped, if it was not a local Close.
func (ws *WebSocket) Err() error {
	ws.errM.Lock()
	defer ws.errM.Unlock()
	return ws.readErr
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.connM.Lock()
	conn := ws.conn
	ws.connM.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.Close(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	defer ws.rootCancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}
