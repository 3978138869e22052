package room

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrNotPlayer     = errors.New("not a player in this room")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrInvalidMove   = errors.New("invalid move")
	ErrNotInProgress = errors.New("game is not in progress")
	ErrAlreadySeated = errors.New("already seated in this room")
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrTimeControl   = errors.New("time control not allowed")
	ErrCodeExhausted = errors.New("failed to allocate room code")
)

// TimeControlError reports a rejected time control. It matches ErrTimeControl.
type TimeControlError struct {
	Minutes int
}

func (e *TimeControlError) Error() string {
	return fmt.Sprintf("%v: %d", ErrTimeControl, e.Minutes)
}

func (e *TimeControlError) Is(target error) bool { return target == ErrTimeControl }
