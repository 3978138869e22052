package room

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/chessroom/internal/rules"
)

type tickEvent struct {
	clocks Clocks
	turn   rules.Color
}

type expiredEvent struct {
	winner rules.Color
	reason string
}

type recorder struct {
	mu      sync.Mutex
	ticks   []tickEvent
	expired []expiredEvent
}

func (r *recorder) ClockTick(_ string, c Clocks, turn rules.Color) {
	r.mu.Lock()
	r.ticks = append(r.ticks, tickEvent{clocks: c, turn: turn})
	r.mu.Unlock()
}

func (r *recorder) ClockExpired(_ string, winner rules.Color, reason string) {
	r.mu.Lock()
	r.expired = append(r.expired, expiredEvent{winner: winner, reason: reason})
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks), len(r.expired)
}

func (r *recorder) tickCopy() []tickEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tickEvent(nil), r.ticks...)
}

func newTestRegistry(t *testing.T, tick time.Duration) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	reg := NewRegistry(Options{TickInterval: tick, Events: rec, DefaultTimeControl: 3})
	t.Cleanup(func() { reg.Close(context.Background()) })
	return reg, rec
}

// startGame creates a room and seats w and b.
func startGame(t *testing.T, reg *Registry, minutes int) *Session {
	t.Helper()
	code, err := reg.Create(context.Background(), minutes)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := reg.Get(code)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := s.Join("w", nil); err != nil {
		t.Fatalf("Join w: %v", err)
	}
	if _, err := s.Join("b", nil); err != nil {
		t.Fatalf("Join b: %v", err)
	}
	return s
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestCreateCodesUniqueAndUppercase(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()
	re := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := reg.Create(ctx, 0)
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if !re.MatchString(code) {
			t.Fatalf("bad code %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
	if reg.Len() != 200 || len(reg.List()) != 200 {
		t.Fatalf("len=%d list=%d", reg.Len(), len(reg.List()))
	}
}

func TestGetIsCaseInsensitiveAndDeleteRemoves(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()
	code, err := reg.Create(ctx, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := reg.Get("  " + strings.ToLower(code) + " ")
	if err != nil {
		t.Fatalf("lower-case Get: %v", err)
	}
	snap := s.Snapshot()
	if snap.Lifecycle != Waiting || len(snap.Seats) != 0 || snap.TimeControlMinutes != 1 {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	if snap.Clocks.WhiteMs != 60000 || snap.Clocks.BlackMs != 60000 {
		t.Fatalf("clocks = %+v", snap.Clocks)
	}

	if err := reg.Delete(ctx, strings.ToLower(code)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := reg.Delete(ctx, code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
	if _, err := s.Join("late", nil); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join on deleted session err = %v", err)
	}
}

func TestResolveTimeControl(t *testing.T) {
	reg := NewRegistry(Options{
		DefaultTimeControl: 5,
		TimeControlAllowed: func(m int) bool { return m == 1 || m == 5 },
	})
	if m, err := reg.ResolveTimeControl(0); err != nil || m != 5 {
		t.Fatalf("default = %d err=%v", m, err)
	}
	if _, err := reg.ResolveTimeControl(7); !errors.Is(err, ErrTimeControl) {
		t.Fatalf("7 err = %v", err)
	}
	if _, err := reg.ResolveTimeControl(-1); !errors.Is(err, ErrTimeControl) {
		t.Fatalf("-1 err = %v", err)
	}
	if _, err := reg.Create(context.Background(), 7); !errors.Is(err, ErrTimeControl) {
		t.Fatalf("Create 7 err = %v", err)
	}
}

func TestJoinTransitions(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Hour)
	code, _ := reg.Create(context.Background(), 1)
	s, _ := reg.Get(code)

	var announced []Seat
	announce := func(seat Seat, snap Snapshot) {
		announced = append(announced, seat)
		if snap.Code != code {
			t.Errorf("announce snapshot code = %q", snap.Code)
		}
	}

	seat, err := s.Join("w", announce)
	if err != nil || seat.Color != rules.White {
		t.Fatalf("first join seat=%+v err=%v", seat, err)
	}
	if got := s.Snapshot().Lifecycle; got != Waiting || s.timerRunning() {
		t.Fatalf("after one seat lifecycle=%s timer=%v", got, s.timerRunning())
	}
	if _, err := s.Join("w", announce); !errors.Is(err, ErrAlreadySeated) {
		t.Fatalf("rejoin err = %v", err)
	}

	seat, err = s.Join("b", announce)
	if err != nil || seat.Color != rules.Black {
		t.Fatalf("second join seat=%+v err=%v", seat, err)
	}
	snap := s.Snapshot()
	if snap.Lifecycle != Playing || !s.timerRunning() {
		t.Fatalf("after two seats lifecycle=%s timer=%v", snap.Lifecycle, s.timerRunning())
	}
	if w, ok := snap.Seat(rules.White); !ok || w.ConnID != "w" {
		t.Fatalf("white seat = %+v", w)
	}

	if _, err := s.Join("c", announce); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join err = %v", err)
	}
	if len(announced) != 2 {
		t.Fatalf("announced %d joins", len(announced))
	}
	if got := len(s.Snapshot().Seats); got != 2 {
		t.Fatalf("seats = %d", got)
	}
}

func TestMoveAcceptanceProtocol(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Hour)
	code, _ := reg.Create(context.Background(), 3)
	s, _ := reg.Get(code)
	_, _ = s.Join("w", nil)

	e2e4 := rules.MoveRequest{From: "e2", To: "e4"}
	if _, err := s.Move("w", e2e4, nil); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("move while waiting err = %v", err)
	}
	_, _ = s.Join("b", nil)
	before := s.Snapshot()

	if _, err := s.Move("stranger", e2e4, nil); !errors.Is(err, ErrNotPlayer) {
		t.Fatalf("stranger err = %v", err)
	}
	if _, err := s.Move("b", rules.MoveRequest{From: "e7", To: "e5"}, nil); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("black first err = %v", err)
	}
	if _, err := s.Move("w", rules.MoveRequest{From: "e2", To: "e5"}, nil); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("illegal err = %v", err)
	}
	if _, err := s.Move("w", rules.MoveRequest{From: "q9", To: "e5"}, nil); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("malformed err = %v", err)
	}
	after := s.Snapshot()
	if after.FEN != before.FEN || after.Turn != rules.White || len(after.Moves) != 0 {
		t.Fatalf("rejected moves changed state: %+v", after)
	}

	var seen []MoveOutcome
	out, err := s.Move("w", e2e4, func(o MoveOutcome) { seen = append(seen, o) })
	if err != nil {
		t.Fatalf("e2e4: %v", err)
	}
	if out.Move.Turn != rules.Black || out.Move.SAN != "e4" || out.Result != nil {
		t.Fatalf("e2e4 outcome %+v", out)
	}
	out, err = s.Move("b", rules.MoveRequest{From: "c7", To: "c5"}, func(o MoveOutcome) { seen = append(seen, o) })
	if err != nil || out.Move.Turn != rules.White {
		t.Fatalf("c7c5 outcome=%+v err=%v", out, err)
	}
	if len(seen) != 2 {
		t.Fatalf("announced %d moves", len(seen))
	}
	snap := s.Snapshot()
	if snap.Turn != rules.White || len(snap.Moves) != 2 || snap.Moves[1] != "c5" {
		t.Fatalf("snapshot after two moves %+v", snap)
	}
}

func TestRepetitionDrawFinishesSession(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Hour)
	s := startGame(t, reg, 3)

	shuffle := []struct{ conn, from, to string }{
		{"w", "g1", "f3"}, {"b", "g8", "f6"}, {"w", "f3", "g1"}, {"b", "f6", "g8"},
	}
	var last MoveOutcome
	for round := 0; round < 2; round++ {
		for _, m := range shuffle {
			out, err := s.Move(m.conn, rules.MoveRequest{From: m.from, To: m.to}, nil)
			if err != nil {
				t.Fatalf("round %d %s%s: %v", round, m.from, m.to, err)
			}
			last = out
		}
	}
	if last.Result == nil || last.Result.Reason != ReasonDraw || last.Result.Winner != "" {
		t.Fatalf("final result %+v", last.Result)
	}
	if snap := s.Snapshot(); snap.Lifecycle != Finished || s.timerRunning() {
		t.Fatalf("lifecycle=%s timer=%v", snap.Lifecycle, s.timerRunning())
	}
}

func TestCheckmateStopsTimer(t *testing.T) {
	reg, rec := newTestRegistry(t, 5*time.Millisecond)
	s := startGame(t, reg, 3)

	moves := []struct{ conn, from, to string }{
		{"w", "f2", "f3"}, {"b", "e7", "e5"}, {"w", "g2", "g4"}, {"b", "d8", "h4"},
	}
	var last MoveOutcome
	for _, m := range moves {
		out, err := s.Move(m.conn, rules.MoveRequest{From: m.from, To: m.to}, nil)
		if err != nil {
			t.Fatalf("%s%s: %v", m.from, m.to, err)
		}
		last = out
	}
	if last.Result == nil || last.Result.Reason != ReasonCheckmate || last.Result.Winner != rules.Black {
		t.Fatalf("final result %+v", last.Result)
	}
	snap := s.Snapshot()
	if snap.Lifecycle != Finished || s.timerRunning() {
		t.Fatalf("lifecycle=%s timer=%v", snap.Lifecycle, s.timerRunning())
	}
	if _, err := s.Move("w", rules.MoveRequest{From: "e2", To: "e4"}, nil); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("move after mate err = %v", err)
	}

	ticks, _ := rec.counts()
	time.Sleep(40 * time.Millisecond)
	if after, expired := rec.counts(); after != ticks || expired != 0 {
		t.Fatalf("ticks after mate: %d -> %d expired=%d", ticks, after, expired)
	}
}

func TestClockMonotonic(t *testing.T) {
	reg, rec := newTestRegistry(t, 2*time.Millisecond)
	s := startGame(t, reg, 1)

	waitFor(t, time.Second, func() bool { n, _ := rec.counts(); return n >= 5 })
	if _, err := s.Move("w", rules.MoveRequest{From: "e2", To: "e4"}, nil); err != nil {
		t.Fatalf("e2e4: %v", err)
	}
	mark, _ := rec.counts()
	waitFor(t, time.Second, func() bool { n, _ := rec.counts(); return n >= mark+5 })

	const full = int64(60000)
	ticks := rec.tickCopy()
	prev := Clocks{WhiteMs: full, BlackMs: full}
	for i, ev := range ticks {
		c := ev.clocks
		if c.WhiteMs < 0 || c.BlackMs < 0 || c.WhiteMs > full || c.BlackMs > full {
			t.Fatalf("tick %d out of range: %+v", i, c)
		}
		switch ev.turn {
		case rules.White:
			if c.WhiteMs >= prev.WhiteMs || c.BlackMs != prev.BlackMs {
				t.Fatalf("tick %d white to move: %+v after %+v", i, c, prev)
			}
		case rules.Black:
			if c.BlackMs >= prev.BlackMs || c.WhiteMs != prev.WhiteMs {
				t.Fatalf("tick %d black to move: %+v after %+v", i, c, prev)
			}
		}
		prev = c
	}
	if ticks[len(ticks)-1].turn != rules.Black {
		t.Fatalf("last tick turn = %s", ticks[len(ticks)-1].turn)
	}
}

func TestClockExpiry(t *testing.T) {
	reg, rec := newTestRegistry(t, 3*time.Millisecond)
	s := startGame(t, reg, 1)

	s.mu.Lock()
	s.clocks.WhiteMs = 10
	s.mu.Unlock()

	waitFor(t, time.Second, func() bool { _, n := rec.counts(); return n > 0 })
	time.Sleep(20 * time.Millisecond)

	_, expired := rec.counts()
	if expired != 1 {
		t.Fatalf("expired notifications = %d", expired)
	}
	rec.mu.Lock()
	ev := rec.expired[0]
	rec.mu.Unlock()
	if ev.winner != rules.Black || ev.reason != "White ran out of time" {
		t.Fatalf("expiry event %+v", ev)
	}

	snap := s.Snapshot()
	if snap.Lifecycle != Finished || snap.Clocks.WhiteMs != 0 || snap.Clocks.BlackMs != 60000 {
		t.Fatalf("snapshot after expiry %+v", snap)
	}
	if snap.Result == nil || snap.Result.Reason != ReasonTime || snap.Result.Winner != rules.Black {
		t.Fatalf("result %+v", snap.Result)
	}
	if s.timerRunning() {
		t.Fatalf("timer still running")
	}
}

func TestDeleteStopsTimer(t *testing.T) {
	reg, rec := newTestRegistry(t, 2*time.Millisecond)
	s := startGame(t, reg, 1)
	waitFor(t, time.Second, func() bool { n, _ := rec.counts(); return n >= 2 })

	if err := reg.Delete(context.Background(), s.Code()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.timerRunning() {
		t.Fatalf("timer running after delete")
	}
	ticks, _ := rec.counts()
	time.Sleep(20 * time.Millisecond)
	if after, _ := rec.counts(); after != ticks {
		t.Fatalf("ticks after delete: %d -> %d", ticks, after)
	}
}

func TestStopTimerIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Hour)
	code, _ := reg.Create(context.Background(), 1)
	s, _ := reg.Get(code)
	s.mu.Lock()
	s.stopTimerLocked()
	s.startTimerLocked()
	first := s.timerStop
	s.startTimerLocked()
	second := s.timerStop
	s.stopTimerLocked()
	s.stopTimerLocked()
	s.mu.Unlock()
	if first == second {
		t.Fatalf("restart did not replace the handle")
	}
	select {
	case <-first:
	default:
		t.Fatalf("previous timer not stopped on restart")
	}
	if s.timerRunning() {
		t.Fatalf("timer running after stop")
	}
}

type fakeDirectory struct {
	mu      sync.Mutex
	reject  int
	saved   map[string]Summary
	removed []string
}

func (d *fakeDirectory) Reserve(_ context.Context, code string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject > 0 {
		d.reject--
		return false, nil
	}
	return true, nil
}

func (d *fakeDirectory) Save(_ context.Context, sum Summary) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saved == nil {
		d.saved = make(map[string]Summary)
	}
	d.saved[sum.Code] = sum
	return nil
}

func (d *fakeDirectory) Remove(_ context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.saved, code)
	d.removed = append(d.removed, code)
	return nil
}

func TestDirectoryMirror(t *testing.T) {
	dir := &fakeDirectory{reject: 2}
	reg := NewRegistry(Options{Directory: dir, TickInterval: time.Hour})
	ctx := context.Background()

	code, err := reg.Create(ctx, 0)
	if err != nil {
		t.Fatalf("Create with two rejected reservations: %v", err)
	}
	s, _ := reg.Get(code)
	_, _ = s.Join("w", nil)
	_, _ = s.Join("b", nil)

	dir.mu.Lock()
	sum := dir.saved[code]
	dir.mu.Unlock()
	if sum.Lifecycle != Playing || sum.SeatCount != 2 || sum.TimeControlMinutes != 3 {
		t.Fatalf("mirrored summary %+v", sum)
	}

	if err := reg.Delete(ctx, code); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	dir.mu.Lock()
	_, still := dir.saved[code]
	removed := len(dir.removed)
	dir.mu.Unlock()
	if still || removed != 1 {
		t.Fatalf("directory not cleaned: still=%v removed=%d", still, removed)
	}

	dir.reject = codeAttempts
	if _, err := reg.Create(ctx, 0); !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("exhausted err = %v", err)
	}
}
