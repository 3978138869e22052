package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/pkg/roomdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const readLimit = 32 << 10

// Handler upgrades requests to websocket connections served by a Hub.
type Handler struct {
	hub     *Hub
	origins []string
}

// NewHandler accepts cross-origin handshakes only from origins matching the
// given host patterns.
func NewHandler(hub *Hub, origins []string) *Handler {
	return &Handler{hub: hub, origins: origins}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("gateway_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(readLimit)

	c := newConn(uuid.NewString(), ws, h.hub.queue)
	h.hub.register(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	h.readLoop(ctx, c)
	h.hub.disconnect(context.Background(), c)
	<-writerDone
}

func (h *Handler) readLoop(ctx context.Context, c *Conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("gateway_read_error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		var env roomdto.Envelope
		if typ != websocket.MessageText || json.Unmarshal(data, &env) != nil || env.Event == "" {
			c.send(roomdto.EventError, roomdto.Error{
				Message: h.hub.msgs.Text("error.invalid_payload", map[string]string{"Detail": "expected {event, data} JSON"}),
			})
			continue
		}
		h.hub.dispatch(ctx, c, env)
	}
}
