package room

import (
	"time"

	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/rules"
	"go.uber.org/zap"
)

// startTimerLocked starts the tick loop, replacing any loop already running.
func (s *Session) startTimerLocked() {
	s.stopTimerLocked()
	stop := make(chan struct{})
	s.timerStop = stop
	go s.runTimer(stop, s.rt.tick)
	obslog.L().Debug("room_timer_start", zap.String("code", s.code), zap.Duration("tick", s.rt.tick))
}

// stopTimerLocked is a no-op when no loop is running.
func (s *Session) stopTimerLocked() {
	if s.timerStop == nil {
		return
	}
	close(s.timerStop)
	s.timerStop = nil
}

func (s *Session) runTimer(stop <-chan struct{}, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !s.tick(stop, interval) {
				return
			}
		}
	}
}

// tick decrements the side to move by one interval. It returns false once
// the loop should exit.
func (s *Session) tick(stop <-chan struct{}, interval time.Duration) bool {
	s.mu.Lock()
	expired, sum, cont := s.tickLocked(stop, interval)
	s.mu.Unlock()
	if expired {
		s.rt.mirror(sum)
	}
	return cont
}

func (s *Session) tickLocked(stop <-chan struct{}, interval time.Duration) (expired bool, sum Summary, cont bool) {
	// stopped while waiting for the lock
	select {
	case <-stop:
		return false, Summary{}, false
	default:
	}
	if s.closed || s.lifecycle != Playing {
		s.stopTimerLocked()
		return false, Summary{}, false
	}

	turn := s.position.Turn()
	step := interval.Milliseconds()
	left := s.clocks.of(turn) - step
	if left < 0 {
		left = 0
	}
	if turn == rules.White {
		s.clocks.WhiteMs = left
	} else {
		s.clocks.BlackMs = left
	}

	if left > 0 {
		if s.rt.events != nil {
			s.rt.events.ClockTick(s.code, s.clocks, turn)
		}
		return false, Summary{}, true
	}

	winner := turn.Other()
	s.finishLocked(&Result{Reason: ReasonTime, Winner: winner})
	reason := s.rt.msgs.Text("timer.expired", map[string]string{"Color": turn.Title()})
	if s.rt.events != nil {
		s.rt.events.ClockExpired(s.code, winner, reason)
	}
	return true, s.summaryLocked(), false
}
