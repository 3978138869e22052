package roomdto

import "time"

type CreateRoomRequest struct {
	TimeControlMinutes int `json:"timeControlMinutes,omitempty" validate:"omitempty,min=1,max=180"`
}

type CreateRoomResponse struct {
	RoomCode           string `json:"roomCode"`
	GameState          string `json:"gameState"`
	TimeControlMinutes int    `json:"timeControlMinutes"`
	Message            string `json:"message"`
}

type RoomListItem struct {
	RoomCode           string    `json:"roomCode"`
	GameState          string    `json:"gameState"`
	PlayerCount        int       `json:"playerCount"`
	TimeControlMinutes int       `json:"timeControlMinutes"`
	CreatedAt          time.Time `json:"createdAt"`
}

type RoomList struct {
	TotalRooms int            `json:"totalRooms"`
	Rooms      []RoomListItem `json:"rooms"`
}

type RoomDetail struct {
	RoomCode           string    `json:"roomCode"`
	GameState          string    `json:"gameState"`
	PlayerCount        int       `json:"playerCount"`
	MaxPlayers         int       `json:"maxPlayers"`
	FEN                string    `json:"fen"`
	Turn               string    `json:"turn"`
	TimeControlMinutes int       `json:"timeControlMinutes"`
	WhiteTimeMs        int64     `json:"whiteTimeMs"`
	BlackTimeMs        int64     `json:"blackTimeMs"`
	Moves              []string  `json:"moves"`
	Result             *Result   `json:"result,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

type Result struct {
	Reason string  `json:"reason"`
	Winner *string `json:"winner"`
}

type RoomStatus struct {
	Exists      bool   `json:"exists"`
	RoomCode    string `json:"roomCode,omitempty"`
	IsFull      bool   `json:"isFull"`
	PlayerCount int    `json:"playerCount"`
	GameState   string `json:"gameState,omitempty"`
	CanJoin     bool   `json:"canJoin"`
	Message     string `json:"message,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
