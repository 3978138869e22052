// Package gateway is the real-time side of the room service: it binds
// websocket connections to rooms, turns intents into registry and session
// calls, and fans room events out to the connections in each room.
package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/park285/chessroom/internal/msgcat"
	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/room"
	"github.com/park285/chessroom/internal/rules"
	"github.com/park285/chessroom/pkg/roomdto"
	"go.uber.org/zap"
)

const defaultQueueSize = 64

type Options struct {
	// QueueSize bounds each connection's outbound queue.
	QueueSize int
	Messages  *msgcat.Catalog
}

// Hub tracks connections and room membership. Lock order: a session lock
// may be held while taking mu, never the reverse.
type Hub struct {
	reg   *room.Registry
	msgs  *msgcat.Catalog
	queue int

	mu       sync.RWMutex
	conns    map[string]*Conn
	members  map[string]map[string]*Conn // room code -> conn id -> conn
	connRoom map[string]string           // conn id -> room code
}

// NewHub wires the hub as the registry's timer event sink.
func NewHub(reg *room.Registry, opts Options) *Hub {
	h := &Hub{
		reg:      reg,
		msgs:     opts.Messages,
		queue:    opts.QueueSize,
		conns:    make(map[string]*Conn),
		members:  make(map[string]map[string]*Conn),
		connRoom: make(map[string]string),
	}
	if h.queue <= 0 {
		h.queue = defaultQueueSize
	}
	if h.msgs == nil {
		h.msgs = msgcat.MustDefault()
	}
	reg.SetEvents(h)
	return h
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()
	obslog.L().Info("gateway_conn_open", zap.String("conn_id", c.id), zap.Int("conns", n))
}

// bind subscribes c to code. Called from announce hooks, before anything
// the joiner should observe is broadcast.
func (h *Hub) bind(c *Conn, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.members[code]
	if set == nil {
		set = make(map[string]*Conn)
		h.members[code] = set
	}
	set[c.id] = c
	h.connRoom[c.id] = code
}

func (h *Hub) roomOf(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	code, ok := h.connRoom[connID]
	return code, ok
}

// broadcast enqueues one event to every connection in code, skipping except.
func (h *Hub) broadcast(code, except, event string, data any) {
	env, err := roomdto.NewEnvelope(event, data)
	if err != nil {
		obslog.L().Error("gateway_encode_error", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.members[code]))
	for id, c := range h.members[code] {
		if id != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(env)
	}
}

// ClockTick implements room.Events.
func (h *Hub) ClockTick(code string, clocks room.Clocks, turn rules.Color) {
	h.broadcast(code, "", roomdto.EventTimerUpdate, roomdto.TimerUpdate{
		WhiteTimeMs: clocks.WhiteMs,
		BlackTimeMs: clocks.BlackMs,
		CurrentTurn: string(turn),
	})
}

// ClockExpired implements room.Events.
func (h *Hub) ClockExpired(code string, winner rules.Color, reason string) {
	h.broadcast(code, "", roomdto.EventTimeExpired, roomdto.TimeExpired{
		Winner: string(winner),
		Reason: reason,
	})
}

// leave runs the disconnect protocol for connID's room, if it has one:
// the session is deleted (stopping its timer) and every other member is
// told its opponent left and unbound.
func (h *Hub) leave(ctx context.Context, connID, cause string) {
	code, ok := h.roomOf(connID)
	if !ok {
		return
	}
	h.closeRoom(ctx, code, connID, cause)
}

// CloseRoom deletes a room on behalf of an operator and notifies all of
// its members.
func (h *Hub) CloseRoom(ctx context.Context, code string) error {
	code = room.NormalizeCode(code)
	if _, err := h.reg.Get(code); err != nil {
		return err
	}
	h.closeRoom(ctx, code, "", "deleted")
	return nil
}

func (h *Hub) closeRoom(ctx context.Context, code, except, cause string) {
	// the closed session emits nothing more, so popping the members after
	// Delete hands each of them exactly one notification
	if err := h.reg.Delete(ctx, code); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		obslog.L().Warn("gateway_room_delete_error", zap.String("code", code), zap.Error(err))
	}

	h.mu.Lock()
	set := h.members[code]
	delete(h.members, code)
	for id := range set {
		delete(h.connRoom, id)
	}
	h.mu.Unlock()

	if len(set) > 0 {
		env, _ := roomdto.NewEnvelope(roomdto.EventOpponentDisconnected, roomdto.OpponentDisconnected{})
		for id, c := range set {
			if id != except {
				c.enqueue(env)
			}
		}
	}
	obslog.L().Info("room_close", zap.String("code", code), zap.String("cause", cause), zap.Int("members", len(set)))
}

// disconnect removes c and applies the disconnect protocol to its room.
func (h *Hub) disconnect(ctx context.Context, c *Conn) {
	h.leave(ctx, c.id, "disconnect")
	h.mu.Lock()
	delete(h.conns, c.id)
	n := len(h.conns)
	h.mu.Unlock()
	c.shutdown("closed")
	obslog.L().Info("gateway_conn_close", zap.String("conn_id", c.id), zap.Int("conns", n))
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.shutdown("server shutdown")
	}
}
