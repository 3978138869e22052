// Package rules validates chess moves and reports terminal conditions.
// It keeps no state between calls: every Apply replays the position history
// and returns a new Position.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove   = errors.New("illegal move")
	ErrMalformedMove = errors.New("malformed move")
)

// Color is a side in lower-case wire form.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing side.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Title returns "White" or "Black".
func (c Color) Title() string {
	if c == Black {
		return "Black"
	}
	return "White"
}

// Outcome classifies the position after a move.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCheckmate Outcome = "checkmate"
	OutcomeStalemate Outcome = "stalemate"
	OutcomeDraw      Outcome = "draw"
)

// Position is a full game state: the current FEN plus the UCI history that
// produced it from the standard start. History drives repetition detection.
type Position struct {
	FEN   string
	Moves []string
}

// Turn reports the side to move.
func (p Position) Turn() Color {
	if len(p.Moves)%2 == 0 {
		return White
	}
	return Black
}

// MoveRequest is a candidate move in coordinate form.
type MoveRequest struct {
	From      string
	To        string
	Promotion string
}

// Result describes an accepted move.
type Result struct {
	Position  Position
	Mover     Color
	Turn      Color
	From      string
	To        string
	Promotion string
	SAN       string
	UCI       string
	Capture   bool
	Check     bool
	Outcome   Outcome
	Method    string
	Winner    Color // empty unless checkmate
}

// Terminal reports whether the move ended the game.
func (r Result) Terminal() bool { return r.Outcome != OutcomeNone }

type Engine struct {
	startFEN string
}

func NewEngine() *Engine {
	return &Engine{startFEN: nchess.NewGame().FEN()}
}

// Start returns the standard initial position.
func (e *Engine) Start() Position {
	return Position{FEN: e.startFEN}
}

// Apply validates mv against pos. The promotion piece defaults to a queen
// and is ignored for moves that do not promote.
func (e *Engine) Apply(pos Position, mv MoveRequest) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrMalformedMove, r)
		}
	}()

	from, to, promo, err := normalize(mv)
	if err != nil {
		return Result{}, err
	}

	candidates := []string{from + to + promo, from + to}
	for _, uci := range candidates {
		game, rerr := replay(pos.Moves)
		if rerr != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedMove, rerr)
		}
		before := game.Position()
		move, derr := nchess.UCINotation{}.Decode(before, uci)
		if derr != nil {
			continue
		}
		if merr := game.Move(move, nil); merr != nil {
			continue
		}
		return e.result(pos, game, before, move), nil
	}
	return Result{}, ErrIllegalMove
}

func (e *Engine) result(pos Position, game *nchess.Game, before *nchess.Position, move *nchess.Move) Result {
	mover := colorOf(before.Turn())
	uci := strings.ToLower(nchess.UCINotation{}.Encode(before, move))
	history := make([]string, 0, len(pos.Moves)+1)
	history = append(append(history, pos.Moves...), uci)

	res := Result{
		Position: Position{FEN: game.FEN(), Moves: history},
		Mover:    mover,
		Turn:     colorOf(game.Position().Turn()),
		From:     move.S1().String(),
		To:       move.S2().String(),
		SAN:      nchess.AlgebraicNotation{}.Encode(before, move),
		UCI:      uci,
	}
	if len(uci) == 5 {
		res.Promotion = uci[4:]
	}
	res.Capture = strings.Contains(res.SAN, "x")
	res.Check = strings.ContainsAny(res.SAN, "+#")

	if game.Outcome() == nchess.NoOutcome {
		claimDraw(game)
	}

	// checkmate, then stalemate, then any other draw
	switch {
	case game.Method() == nchess.Checkmate:
		res.Outcome = OutcomeCheckmate
		res.Winner = mover
	case game.Method() == nchess.Stalemate:
		res.Outcome = OutcomeStalemate
	case game.Outcome() == nchess.Draw:
		res.Outcome = OutcomeDraw
	}
	if res.Outcome != OutcomeNone {
		res.Method = strings.ToLower(game.Method().String())
	}
	return res
}

// claimDraw ends the game on threefold repetition or the fifty-move rule.
// The library only ends fivefold and seventy-five-move draws by itself.
func claimDraw(game *nchess.Game) {
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return
		}
	}
}

func normalize(mv MoveRequest) (from, to, promo string, err error) {
	from = strings.ToLower(strings.TrimSpace(mv.From))
	to = strings.ToLower(strings.TrimSpace(mv.To))
	if !validSquare(from) || !validSquare(to) {
		return "", "", "", fmt.Errorf("%w: bad square %q -> %q", ErrMalformedMove, mv.From, mv.To)
	}
	promo = strings.ToLower(strings.TrimSpace(mv.Promotion))
	switch promo {
	case "":
		promo = "q"
	case "q", "r", "b", "n":
	default:
		return "", "", "", fmt.Errorf("%w: bad promotion %q", ErrMalformedMove, mv.Promotion)
	}
	return from, to, promo, nil
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func replay(moves []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, mv := range moves {
		move, err := notation.Decode(game.Position(), mv)
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", mv, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", mv, err)
		}
	}
	return game, nil
}

func colorOf(c nchess.Color) Color {
	if c == nchess.Black {
		return Black
	}
	return White
}
