package roomdto

type CreateRoom struct {
	TimeControlMinutes int `json:"timeControlMinutes,omitempty" validate:"omitempty,min=1,max=180"`
}

// JoinRoom carries an optional time control that is ignored by the server;
// the room keeps the one chosen at creation.
type JoinRoom struct {
	RoomCode           string `json:"roomCode" validate:"required,max=16"`
	TimeControlMinutes int    `json:"timeControlMinutes,omitempty" validate:"omitempty,min=1,max=180"`
}

type MoveDescriptor struct {
	From      string `json:"from" validate:"required,len=2"`
	To        string `json:"to" validate:"required,len=2"`
	Promotion string `json:"promotion,omitempty" validate:"omitempty,oneof=q r b n Q R B N"`
}

type Move struct {
	RoomCode string         `json:"roomCode" validate:"required,max=16"`
	Move     MoveDescriptor `json:"move" validate:"required"`
}
