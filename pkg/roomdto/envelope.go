// Package roomdto holds the payloads exchanged between the room server and
// its clients, over the websocket channel and the REST query API.
package roomdto

import "encoding/json"

// Inbound intents.
const (
	IntentCreateRoom = "createRoom"
	IntentJoinRoom   = "joinRoom"
	IntentMove       = "move"
)

// Outbound events.
const (
	EventRoomCreated          = "roomCreated"
	EventRoomJoined           = "roomJoined"
	EventGameStart            = "gameStart"
	EventNewMove              = "newMove"
	EventTurnChange           = "turnChange"
	EventTimerUpdate          = "timerUpdate"
	EventTimeExpired          = "timeExpired"
	EventGameOver             = "gameOver"
	EventOpponentDisconnected = "opponentDisconnected"
	EventError                = "error"
)

// Envelope frames every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event, Data: json.RawMessage("{}")}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
