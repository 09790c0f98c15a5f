package room

import (
	"encoding/json"

	"diamonds-club/internal/state"
)

// Envelope frames every message between a client and the relay.
type Envelope struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope types.
const (
	MsgWelcome         = "welcome"
	MsgRoomPatch       = "room_patch"
	MsgRoomState       = "room_state"
	MsgPresencePatch   = "presence_patch"
	MsgPresence        = "presence"
	MsgPresenceRequest = "presence_request"
	MsgEvent           = "event"
)

// Welcome is the first message a client receives after joining: its assigned
// id, the current room state and presence mapping, and the server-configured
// bankroll its wallet starts from.
type Welcome struct {
	ClientID        string                    `json:"clientId"`
	RoomID          string                    `json:"roomId"`
	RoomState       state.RoomState           `json:"roomState"`
	Presence        map[string]state.Presence `json:"presence"`
	StartingBalance float64                   `json:"startingBalance"`
}

// NewEnvelope wraps a payload, swallowing marshal errors into the returned
// error so callers can surface them once.
func NewEnvelope(msgType, from, to string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, From: from, To: to, Data: data}, nil
}
