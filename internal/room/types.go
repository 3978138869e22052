package room

import (
	"context"
	"time"

	"github.com/park285/chessroom/internal/rules"
)

// Lifecycle is the session state.
type Lifecycle string

const (
	Waiting  Lifecycle = "waiting"
	Playing  Lifecycle = "playing"
	Finished Lifecycle = "finished"
)

const MaxSeats = 2

// Finish reasons.
const (
	ReasonCheckmate = "checkmate"
	ReasonStalemate = "stalemate"
	ReasonDraw      = "draw"
	ReasonTime      = "time"
)

// Seat binds a connection to a color. White is always seat 0.
type Seat struct {
	ConnID string
	Color  rules.Color
}

// Clocks holds remaining time per side in milliseconds.
type Clocks struct {
	WhiteMs int64
	BlackMs int64
}

func (c Clocks) of(color rules.Color) int64 {
	if color == rules.Black {
		return c.BlackMs
	}
	return c.WhiteMs
}

// Result is set once a session is finished. Winner is empty for draws.
type Result struct {
	Reason string
	Method string
	Winner rules.Color
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	Code               string
	Lifecycle          Lifecycle
	Seats              []Seat
	FEN                string
	Turn               rules.Color
	Clocks             Clocks
	TimeControlMinutes int
	CreatedAt          time.Time
	Result             *Result
	Moves              []string
}

// Seat returns the seat holding color, if any.
func (s Snapshot) Seat(color rules.Color) (Seat, bool) {
	for _, st := range s.Seats {
		if st.Color == color {
			return st, true
		}
	}
	return Seat{}, false
}

// Summary is the listing view of a session.
type Summary struct {
	Code               string    `json:"code"`
	Lifecycle          Lifecycle `json:"lifecycle"`
	SeatCount          int       `json:"seat_count"`
	TimeControlMinutes int       `json:"time_control_minutes"`
	CreatedAt          time.Time `json:"created_at"`
}

// MoveOutcome describes an accepted move.
type MoveOutcome struct {
	Move   rules.Result
	Clocks Clocks
	Result *Result // non-nil when the move ended the game
}

// Events receives timer-driven notifications. Calls happen while the
// session lock is held and must not block or call back into the session.
type Events interface {
	ClockTick(code string, clocks Clocks, turn rules.Color)
	ClockExpired(code string, winner rules.Color, reason string)
}

// Directory mirrors the registry to an external store so rooms are
// visible and codes stay unique across instances.
type Directory interface {
	Reserve(ctx context.Context, code string) (bool, error)
	Save(ctx context.Context, sum Summary) error
	Remove(ctx context.Context, code string) error
}
