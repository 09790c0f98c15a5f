package room

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"diamonds-club/internal/state"
)

// Socket is the relay-backed Store: one websocket connection into a room.
// Callbacks fire on the reader goroutine in arrival order, which preserves
// program order for this client's own writes (the relay echoes every patch
// back over the same FIFO connection).
type Socket struct {
	conn            *websocket.Conn
	clientID        string
	roomID          string
	startingBalance float64

	writeMu sync.Mutex

	mu           sync.Mutex
	lastState    state.RoomState
	lastPresence map[string]state.Presence
	stateFns     []RoomStateFunc
	presenceFns  []PresenceFunc
	requestFns   []PresenceRequestFunc
	eventFns     []EventFunc
	closed       bool
}

var _ Store = (*Socket)(nil)

// Dial connects to a relay websocket endpoint with a join token and waits
// for the welcome frame before returning.
func Dial(wsURL, token string) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %v", err)
	}

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %v", err)
	}
	if env.Type != MsgWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected welcome, got %q", env.Type)
	}

	var welcome Welcome
	if err := json.Unmarshal(env.Data, &welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid welcome: %v", err)
	}

	s := &Socket{
		conn:            conn,
		clientID:        welcome.ClientID,
		roomID:          welcome.RoomID,
		startingBalance: welcome.StartingBalance,
		lastState:       welcome.RoomState,
		lastPresence:    welcome.Presence,
	}
	if s.lastPresence == nil {
		s.lastPresence = map[string]state.Presence{}
	}

	go s.readLoop()
	return s, nil
}

// ClientID implements Store.
func (s *Socket) ClientID() string { return s.clientID }

// RoomID identifies the room this socket joined.
func (s *Socket) RoomID() string { return s.roomID }

// StartingBalance is the server-configured bankroll for a new member; seed
// the local wallet with it.
func (s *Socket) StartingBalance() float64 { return s.startingBalance }

// RoomState implements Store.
func (s *Socket) RoomState() state.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastState
}

// Presence implements Store.
func (s *Socket) Presence() map[string]state.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]state.Presence, len(s.lastPresence))
	for id, p := range s.lastPresence {
		out[id] = p
	}
	return out
}

// UpdateRoomState implements Store.
func (s *Socket) UpdateRoomState(patch state.RoomPatch) error {
	return s.write(MsgRoomPatch, "", patch)
}

// SubscribeRoomState implements Store.
func (s *Socket) SubscribeRoomState(fn RoomStateFunc) {
	s.mu.Lock()
	s.stateFns = append(s.stateFns, fn)
	s.mu.Unlock()
}

// UpdatePresence implements Store.
func (s *Socket) UpdatePresence(patch state.PresencePatch) error {
	return s.write(MsgPresencePatch, "", patch)
}

// SubscribePresence implements Store.
func (s *Socket) SubscribePresence(fn PresenceFunc) {
	s.mu.Lock()
	s.presenceFns = append(s.presenceFns, fn)
	s.mu.Unlock()
}

// RequestPresenceUpdate implements Store.
func (s *Socket) RequestPresenceUpdate(clientID string, req state.PresenceRequest) error {
	return s.write(MsgPresenceRequest, clientID, req)
}

// SubscribePresenceUpdateRequests implements Store.
func (s *Socket) SubscribePresenceUpdateRequests(fn PresenceRequestFunc) {
	s.mu.Lock()
	s.requestFns = append(s.requestFns, fn)
	s.mu.Unlock()
}

// Send implements Store.
func (s *Socket) Send(ev state.Event) error {
	if ev.ClientID == "" {
		ev.ClientID = s.clientID
	}
	return s.write(MsgEvent, "", ev)
}

// OnMessage implements Store.
func (s *Socket) OnMessage(fn EventFunc) {
	s.mu.Lock()
	s.eventFns = append(s.eventFns, fn)
	s.mu.Unlock()
}

// Close implements Store.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Socket) write(msgType, to string, payload any) error {
	env, err := NewEnvelope(msgType, s.clientID, to, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", msgType, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(env)
}

func (s *Socket) readLoop() {
	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("room socket closed: %v", err)
			}
			return
		}
		s.handle(env)
	}
}

func (s *Socket) handle(env Envelope) {
	switch env.Type {
	case MsgRoomState:
		var rs state.RoomState
		if err := json.Unmarshal(env.Data, &rs); err != nil {
			log.Printf("bad room state frame: %v", err)
			return
		}
		s.mu.Lock()
		s.lastState = rs
		fns := append([]RoomStateFunc(nil), s.stateFns...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(rs)
		}

	case MsgPresence:
		var p map[string]state.Presence
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Printf("bad presence frame: %v", err)
			return
		}
		s.mu.Lock()
		s.lastPresence = p
		fns := append([]PresenceFunc(nil), s.presenceFns...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(p)
		}

	case MsgPresenceRequest:
		var req state.PresenceRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Printf("bad presence request frame: %v", err)
			return
		}
		s.mu.Lock()
		fns := append([]PresenceRequestFunc(nil), s.requestFns...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(req, env.From)
		}

	case MsgEvent:
		var ev state.Event
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("bad event frame: %v", err)
			return
		}
		s.mu.Lock()
		fns := append([]EventFunc(nil), s.eventFns...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
	}
}
