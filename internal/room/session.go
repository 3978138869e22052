package room

import (
	"errors"
	"sync"
	"time"

	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/rules"
	"go.uber.org/zap"
)

// Session is one room. All state is guarded by mu; the announce hooks
// passed to Join and Move and the registry Events sink run with mu held,
// so everything a room emits is ordered.
type Session struct {
	mu sync.Mutex
	rt *runtime

	code      string
	createdAt time.Time
	minutes   int

	lifecycle Lifecycle
	seats     []Seat
	position  rules.Position
	san       []string
	clocks    Clocks
	result    *Result
	closed    bool

	timerStop chan struct{}
}

func newSession(rt *runtime, code string, minutes int) *Session {
	ms := int64(minutes) * int64(time.Minute/time.Millisecond)
	return &Session{
		rt:        rt,
		code:      code,
		createdAt: time.Now(),
		minutes:   minutes,
		lifecycle: Waiting,
		position:  rt.engine.Start(),
		clocks:    Clocks{WhiteMs: ms, BlackMs: ms},
	}
}

func (s *Session) Code() string { return s.code }

// Join seats connID. The first seat is white and keeps the session waiting;
// the second is black, moves the session to playing and starts the clocks.
// announce, when non-nil, runs before the session lock is released.
func (s *Session) Join(connID string, announce func(Seat, Snapshot)) (Seat, error) {
	if connID == "" {
		return Seat{}, ErrInvalidArgs
	}
	s.mu.Lock()
	seat, sum, err := s.joinLocked(connID, announce)
	s.mu.Unlock()
	if err != nil {
		return Seat{}, err
	}
	s.rt.mirror(sum)
	return seat, nil
}

func (s *Session) joinLocked(connID string, announce func(Seat, Snapshot)) (Seat, Summary, error) {
	if s.closed {
		return Seat{}, Summary{}, ErrRoomNotFound
	}
	for _, st := range s.seats {
		if st.ConnID == connID {
			return Seat{}, Summary{}, ErrAlreadySeated
		}
	}
	if s.lifecycle != Waiting || len(s.seats) >= MaxSeats {
		return Seat{}, Summary{}, ErrRoomFull
	}

	seat := Seat{ConnID: connID, Color: rules.White}
	if len(s.seats) == 1 {
		seat.Color = rules.Black
	}
	s.seats = append(s.seats, seat)
	if len(s.seats) == MaxSeats {
		s.lifecycle = Playing
		s.startTimerLocked()
	}
	obslog.L().Info("room_join",
		zap.String("code", s.code),
		zap.String("conn_id", connID),
		zap.String("color", string(seat.Color)),
		zap.String("lifecycle", string(s.lifecycle)),
	)
	if announce != nil {
		announce(seat, s.snapshotLocked())
	}
	return seat, s.summaryLocked(), nil
}

// Move runs the acceptance protocol for connID: lifecycle, membership,
// turn, then the rules engine. Rejections leave the session untouched.
func (s *Session) Move(connID string, mv rules.MoveRequest, announce func(MoveOutcome)) (MoveOutcome, error) {
	s.mu.Lock()
	out, err := s.moveLocked(connID, mv, announce)
	var sum Summary
	if err == nil && out.Result != nil {
		sum = s.summaryLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return MoveOutcome{}, err
	}
	if out.Result != nil {
		s.rt.mirror(sum)
	}
	return out, nil
}

func (s *Session) moveLocked(connID string, mv rules.MoveRequest, announce func(MoveOutcome)) (MoveOutcome, error) {
	if s.closed {
		return MoveOutcome{}, ErrRoomNotFound
	}
	if s.lifecycle != Playing {
		return MoveOutcome{}, ErrNotInProgress
	}
	seat, ok := s.seatLocked(connID)
	if !ok {
		return MoveOutcome{}, ErrNotPlayer
	}
	if seat.Color != s.position.Turn() {
		return MoveOutcome{}, ErrNotYourTurn
	}

	res, err := s.rt.engine.Apply(s.position, mv)
	if err != nil {
		if !errors.Is(err, rules.ErrIllegalMove) {
			obslog.L().Warn("room_move_malformed", zap.String("code", s.code), zap.String("conn_id", connID), zap.Error(err))
		}
		return MoveOutcome{}, ErrInvalidMove
	}

	s.position = res.Position
	s.san = append(s.san, res.SAN)
	out := MoveOutcome{Move: res, Clocks: s.clocks}
	if res.Terminal() {
		s.finishLocked(&Result{Reason: string(res.Outcome), Method: res.Method, Winner: res.Winner})
		out.Result = s.result
	}
	obslog.L().Info("room_move",
		zap.String("code", s.code),
		zap.String("conn_id", connID),
		zap.String("uci", res.UCI),
		zap.String("san", res.SAN),
		zap.String("turn", string(res.Turn)),
	)
	if announce != nil {
		announce(out)
	}
	return out, nil
}

// finishLocked ends the game and releases the timer.
func (s *Session) finishLocked(r *Result) {
	s.lifecycle = Finished
	s.result = r
	s.stopTimerLocked()
	obslog.L().Info("room_finish",
		zap.String("code", s.code),
		zap.String("reason", r.Reason),
		zap.String("winner", string(r.Winner)),
	)
}

// SeatOf returns the seat bound to connID.
func (s *Session) SeatOf(connID string) (Seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seatLocked(connID)
}

func (s *Session) seatLocked(connID string) (Seat, bool) {
	for _, st := range s.seats {
		if st.ConnID == connID {
			return st, true
		}
	}
	return Seat{}, false
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Code:               s.code,
		Lifecycle:          s.lifecycle,
		Seats:              append([]Seat(nil), s.seats...),
		FEN:                s.position.FEN,
		Turn:               s.position.Turn(),
		Clocks:             s.clocks,
		TimeControlMinutes: s.minutes,
		CreatedAt:          s.createdAt,
		Moves:              append([]string(nil), s.san...),
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Session) summaryLocked() Summary {
	return Summary{
		Code:               s.code,
		Lifecycle:          s.lifecycle,
		SeatCount:          len(s.seats),
		TimeControlMinutes: s.minutes,
		CreatedAt:          s.createdAt,
	}
}

// close stops the timer and rejects any further operation.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Session) timerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerStop != nil
}
