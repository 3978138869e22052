package roomdto

type RoomCreated struct {
	RoomCode           string `json:"roomCode"`
	Color              string `json:"color"`
	TimeControlMinutes int    `json:"timeControlMinutes"`
}

type RoomJoined struct {
	RoomCode           string `json:"roomCode"`
	Color              string `json:"color"`
	TimeControlMinutes int    `json:"timeControlMinutes"`
}

type GameStart struct {
	WhiteSeatID        string `json:"whiteSeatId"`
	BlackSeatID        string `json:"blackSeatId"`
	TimeControlMinutes int    `json:"timeControlMinutes"`
	WhiteTimeMs        int64  `json:"whiteTimeMs"`
	BlackTimeMs        int64  `json:"blackTimeMs"`
}

// MoveInfo is the resolved move, including its SAN.
type MoveInfo struct {
	Color     string `json:"color"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	UCI       string `json:"uci"`
	Capture   bool   `json:"capture,omitempty"`
	Check     bool   `json:"check,omitempty"`
}

type NewMove struct {
	Move        MoveInfo `json:"move"`
	CurrentTurn string   `json:"currentTurn"`
	Position    string   `json:"position"`
}

type TurnChange struct {
	Turn string `json:"turn"`
}

type TimerUpdate struct {
	WhiteTimeMs int64  `json:"whiteTimeMs"`
	BlackTimeMs int64  `json:"blackTimeMs"`
	CurrentTurn string `json:"currentTurn"`
}

type TimeExpired struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// GameOver.Winner is nil for draws.
type GameOver struct {
	Reason   string  `json:"reason"`
	Winner   *string `json:"winner"`
	Position string  `json:"position"`
}

type OpponentDisconnected struct{}

type Error struct {
	Message string `json:"message"`
}
