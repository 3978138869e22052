package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/room"
	"github.com/park285/chessroom/internal/rules"
	"github.com/park285/chessroom/internal/validation"
	"github.com/park285/chessroom/pkg/roomdto"
	"go.uber.org/zap"
)

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"rooms":  h.reg.Len(),
	})
}

// CreateRoom accepts an empty body; the default time control applies.
func (h *Handler) CreateRoom(c *fiber.Ctx) error {
	var req roomdto.CreateRoomRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(roomdto.ErrorResponse{
				Error:   "invalid request body",
				Code:    CodeInvalidRequest,
				Details: err.Error(),
			})
		}
	}
	if err := validation.Struct(&req); err != nil {
		return h.validationFailed(c, err)
	}

	code, err := h.reg.Create(c.UserContext(), req.TimeControlMinutes)
	if err != nil {
		var terr *room.TimeControlError
		if errors.As(err, &terr) {
			return c.Status(fiber.StatusBadRequest).JSON(roomdto.ErrorResponse{
				Error: h.msgs.Text("error.time_control", map[string]int{"Minutes": terr.Minutes}),
				Code:  CodeTimeControl,
			})
		}
		return err
	}
	sess, err := h.reg.Get(code)
	if err != nil {
		return err
	}
	snap := sess.Snapshot()
	return c.Status(fiber.StatusCreated).JSON(roomdto.CreateRoomResponse{
		RoomCode:           code,
		GameState:          string(snap.Lifecycle),
		TimeControlMinutes: snap.TimeControlMinutes,
		Message:            h.msgs.Text("room.created", nil),
	})
}

// ListRooms lists local rooms. With ?scope=all and a directory configured,
// it lists every mirrored room instead.
func (h *Handler) ListRooms(c *fiber.Ctx) error {
	list := h.reg.List()
	if c.Query("scope") == "all" && h.dir != nil {
		all, err := h.dir.List(c.UserContext())
		if err != nil {
			obslog.L().Warn("http_directory_list_error", zap.Error(err))
		} else {
			list = all
		}
	}
	return c.JSON(roomList(list))
}

// Lobby lists rooms that still accept a player.
func (h *Handler) Lobby(c *fiber.Ctx) error {
	if h.dir != nil {
		list, err := h.dir.ListLobby(c.UserContext())
		if err == nil {
			return c.JSON(roomList(list))
		}
		obslog.L().Warn("http_directory_lobby_error", zap.Error(err))
	}
	var open []room.Summary
	for _, s := range h.reg.List() {
		if s.Lifecycle == room.Waiting && s.SeatCount < room.MaxSeats {
			open = append(open, s)
		}
	}
	return c.JSON(roomList(open))
}

func roomList(list []room.Summary) roomdto.RoomList {
	out := roomdto.RoomList{TotalRooms: len(list), Rooms: make([]roomdto.RoomListItem, 0, len(list))}
	for _, s := range list {
		out.Rooms = append(out.Rooms, roomdto.RoomListItem{
			RoomCode:           s.Code,
			GameState:          string(s.Lifecycle),
			PlayerCount:        s.SeatCount,
			TimeControlMinutes: s.TimeControlMinutes,
			CreatedAt:          s.CreatedAt,
		})
	}
	return out
}

func (h *Handler) GetRoom(c *fiber.Ctx) error {
	sess, err := h.reg.Get(c.Params("code"))
	if err != nil {
		return h.notFound(c)
	}
	snap := sess.Snapshot()
	out := roomdto.RoomDetail{
		RoomCode:           snap.Code,
		GameState:          string(snap.Lifecycle),
		PlayerCount:        len(snap.Seats),
		MaxPlayers:         room.MaxSeats,
		FEN:                snap.FEN,
		Turn:               string(snap.Turn),
		TimeControlMinutes: snap.TimeControlMinutes,
		WhiteTimeMs:        snap.Clocks.WhiteMs,
		BlackTimeMs:        snap.Clocks.BlackMs,
		Moves:              snap.Moves,
		CreatedAt:          snap.CreatedAt,
	}
	if out.Moves == nil {
		out.Moves = []string{}
	}
	if snap.Result != nil {
		out.Result = &roomdto.Result{Reason: snap.Result.Reason, Winner: winnerPtr(snap.Result.Winner)}
	}
	return c.JSON(out)
}

// RoomStatus reports joinability. canJoin requires a waiting room with a
// free seat.
func (h *Handler) RoomStatus(c *fiber.Ctx) error {
	sess, err := h.reg.Get(c.Params("code"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(roomdto.RoomStatus{
			Exists:  false,
			Message: h.msgs.Text("error.room_not_found", nil),
		})
	}
	sum := sess.Summary()
	return c.JSON(roomdto.RoomStatus{
		Exists:      true,
		RoomCode:    sum.Code,
		IsFull:      sum.SeatCount >= room.MaxSeats,
		PlayerCount: sum.SeatCount,
		GameState:   string(sum.Lifecycle),
		CanJoin:     sum.SeatCount < room.MaxSeats && sum.Lifecycle == room.Waiting,
	})
}

func (h *Handler) DeleteRoom(c *fiber.Ctx) error {
	code := c.Params("code")
	var err error
	if h.closer != nil {
		err = h.closer.CloseRoom(c.UserContext(), code)
	} else {
		err = h.reg.Delete(c.UserContext(), code)
	}
	if errors.Is(err, room.ErrRoomNotFound) {
		return h.notFound(c)
	}
	if err != nil {
		return err
	}
	return c.JSON(roomdto.MessageResponse{Message: h.msgs.Text("room.deleted", nil)})
}

func (h *Handler) notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(roomdto.ErrorResponse{
		Error: h.msgs.Text("error.room_not_found", nil),
		Code:  CodeRoomNotFound,
	})
}

func (h *Handler) validationFailed(c *fiber.Ctx, err error) error {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		return err
	}
	return c.Status(fiber.StatusBadRequest).JSON(roomdto.ErrorResponse{
		Error:   "validation failed",
		Code:    CodeInvalidRequest,
		Details: verr.Details,
	})
}

func winnerPtr(c rules.Color) *string {
	if c == "" {
		return nil
	}
	s := string(c)
	return &s
}
