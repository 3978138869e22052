package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/pkg/roomdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	reasonSlow   = "slow consumer"
)

// Conn is one websocket client. Outbound messages go through a bounded
// queue drained by a single writer, so per-connection order matches
// enqueue order.
type Conn struct {
	id string
	ws *websocket.Conn

	out       chan roomdto.Envelope
	done      chan struct{}
	closeOnce sync.Once

	reasonMu sync.Mutex
	reason   string
}

func newConn(id string, ws *websocket.Conn, queue int) *Conn {
	return &Conn{
		id:   id,
		ws:   ws,
		out:  make(chan roomdto.Envelope, queue),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// enqueue never blocks. A full queue means the client cannot keep up; the
// connection is dropped instead of stalling the room.
func (c *Conn) enqueue(env roomdto.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- env:
		return true
	default:
		obslog.L().Warn("gateway_slow_consumer", zap.String("conn_id", c.id), zap.String("event", env.Event))
		c.shutdown(reasonSlow)
		return false
	}
}

func (c *Conn) send(event string, data any) bool {
	env, err := roomdto.NewEnvelope(event, data)
	if err != nil {
		obslog.L().Error("gateway_encode_error", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.enqueue(env)
}

// shutdown signals the writer to close the socket. Safe to call from any
// goroutine, including with a session lock held.
func (c *Conn) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()
		close(c.done)
	})
}

func (c *Conn) closeReason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// writeLoop drains the queue until shutdown, then flushes what is already
// queued and closes the socket.
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case env := <-c.out:
			if err := c.write(ctx, env); err != nil {
				c.shutdown("write failed")
				_ = c.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-c.done:
			status := websocket.StatusPolicyViolation
			if reason := c.closeReason(); reason != reasonSlow {
				c.flush(ctx)
				status = websocket.StatusNormalClosure
			}
			_ = c.ws.Close(status, c.closeReason())
			return
		case <-ctx.Done():
			c.shutdown("server shutdown")
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutdown")
			return
		}
	}
}

func (c *Conn) flush(ctx context.Context) {
	for {
		select {
		case env := <-c.out:
			if err := c.write(ctx, env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(ctx context.Context, env roomdto.Envelope) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, env)
}
