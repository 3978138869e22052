package gateway

import (
	"context"
	"errors"

	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/room"
	"github.com/park285/chessroom/internal/rules"
	"github.com/park285/chessroom/internal/validation"
	"github.com/park285/chessroom/pkg/roomdto"
	"go.uber.org/zap"
)

// dispatch handles one inbound envelope. Failures are reported to c only.
func (h *Hub) dispatch(ctx context.Context, c *Conn, env roomdto.Envelope) {
	var err error
	switch env.Event {
	case roomdto.IntentCreateRoom:
		var req roomdto.CreateRoom
		if err = decode(env, &req); err == nil {
			err = h.createRoom(ctx, c, req)
		}
	case roomdto.IntentJoinRoom:
		var req roomdto.JoinRoom
		if err = decode(env, &req); err == nil {
			err = h.joinRoom(ctx, c, req)
		}
	case roomdto.IntentMove:
		var req roomdto.Move
		if err = decode(env, &req); err == nil {
			err = h.move(c, req)
		}
	default:
		c.send(roomdto.EventError, roomdto.Error{
			Message: h.msgs.Text("error.unknown_event", map[string]string{"Event": env.Event}),
		})
		return
	}
	if err != nil {
		obslog.L().Debug("gateway_intent_error",
			zap.String("conn_id", c.id),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		c.send(roomdto.EventError, roomdto.Error{Message: h.errorText(err)})
	}
}

func decode(env roomdto.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return &validation.Error{Details: err.Error()}
	}
	return validation.Struct(v)
}

func (h *Hub) createRoom(ctx context.Context, c *Conn, req roomdto.CreateRoom) error {
	h.leave(ctx, c.id, "rebind")

	code, err := h.reg.Create(ctx, req.TimeControlMinutes)
	if err != nil {
		return err
	}
	sess, err := h.reg.Get(code)
	if err != nil {
		return err
	}
	_, err = sess.Join(c.id, func(seat room.Seat, snap room.Snapshot) {
		h.bind(c, code)
		c.send(roomdto.EventRoomCreated, roomdto.RoomCreated{
			RoomCode:           code,
			Color:              string(seat.Color),
			TimeControlMinutes: snap.TimeControlMinutes,
		})
	})
	if err != nil {
		_ = h.reg.Delete(ctx, code)
		return err
	}
	return nil
}

func (h *Hub) joinRoom(ctx context.Context, c *Conn, req roomdto.JoinRoom) error {
	code := room.NormalizeCode(req.RoomCode)
	sess, err := h.reg.Get(code)
	if err != nil {
		return err
	}
	if cur, ok := h.roomOf(c.id); ok && cur != code {
		h.leave(ctx, c.id, "rebind")
	}
	_, err = sess.Join(c.id, func(seat room.Seat, snap room.Snapshot) {
		h.bind(c, code)
		c.send(roomdto.EventRoomJoined, roomdto.RoomJoined{
			RoomCode:           code,
			Color:              string(seat.Color),
			TimeControlMinutes: snap.TimeControlMinutes,
		})
		if snap.Lifecycle != room.Playing {
			return
		}
		white, _ := snap.Seat(rules.White)
		black, _ := snap.Seat(rules.Black)
		h.broadcast(code, "", roomdto.EventGameStart, roomdto.GameStart{
			WhiteSeatID:        white.ConnID,
			BlackSeatID:        black.ConnID,
			TimeControlMinutes: snap.TimeControlMinutes,
			WhiteTimeMs:        snap.Clocks.WhiteMs,
			BlackTimeMs:        snap.Clocks.BlackMs,
		})
	})
	return err
}

func (h *Hub) move(c *Conn, req roomdto.Move) error {
	code := room.NormalizeCode(req.RoomCode)
	sess, err := h.reg.Get(code)
	if err != nil {
		return err
	}
	mv := rules.MoveRequest{From: req.Move.From, To: req.Move.To, Promotion: req.Move.Promotion}
	_, err = sess.Move(c.id, mv, func(out room.MoveOutcome) {
		res := out.Move
		h.broadcast(code, "", roomdto.EventNewMove, roomdto.NewMove{
			Move: roomdto.MoveInfo{
				Color:     string(res.Mover),
				From:      res.From,
				To:        res.To,
				Promotion: res.Promotion,
				SAN:       res.SAN,
				UCI:       res.UCI,
				Capture:   res.Capture,
				Check:     res.Check,
			},
			CurrentTurn: string(res.Turn),
			Position:    res.Position.FEN,
		})
		h.broadcast(code, "", roomdto.EventTurnChange, roomdto.TurnChange{Turn: string(res.Turn)})
		if out.Result == nil {
			return
		}
		over := roomdto.GameOver{Reason: out.Result.Reason, Position: res.Position.FEN}
		if out.Result.Winner != "" {
			w := string(out.Result.Winner)
			over.Winner = &w
		}
		h.broadcast(code, "", roomdto.EventGameOver, over)
	})
	return err
}

// errorText maps an intent failure to the message shown to the client.
func (h *Hub) errorText(err error) string {
	var (
		verr *validation.Error
		terr *room.TimeControlError
	)
	switch {
	case errors.As(err, &verr):
		return h.msgs.Text("error.invalid_payload", map[string]string{"Detail": verr.Details})
	case errors.Is(err, room.ErrRoomNotFound):
		return h.msgs.Text("error.room_not_found", nil)
	case errors.Is(err, room.ErrRoomFull):
		return h.msgs.Text("error.room_full", nil)
	case errors.Is(err, room.ErrNotPlayer):
		return h.msgs.Text("error.not_player", nil)
	case errors.Is(err, room.ErrNotYourTurn):
		return h.msgs.Text("error.not_your_turn", nil)
	case errors.Is(err, room.ErrInvalidMove):
		return h.msgs.Text("error.invalid_move", nil)
	case errors.Is(err, room.ErrNotInProgress):
		return h.msgs.Text("error.not_in_progress", nil)
	case errors.Is(err, room.ErrAlreadySeated):
		return h.msgs.Text("error.already_seated", nil)
	case errors.As(err, &terr):
		return h.msgs.Text("error.time_control", map[string]int{"Minutes": terr.Minutes})
	default:
		obslog.L().Error("gateway_internal_error", zap.Error(err))
		return h.msgs.Text("error.internal", nil)
	}
}
