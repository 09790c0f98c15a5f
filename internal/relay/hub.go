package relay

import (
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

// Hub owns one room: its member connections, the merged room-state document
// and the presence map. A single run() goroutine owns all of that state, so
// patches from different members are serialized into one order and every
// member sees the same sequence of full-state broadcasts.
type Hub struct {
	roomID          string
	store           *StateStore
	startingBalance float64

	register   chan *client
	unregister chan *client
	inbound    chan inbound

	clients  map[string]*client
	doc      map[string]any
	presence map[string]map[string]any
}

type inbound struct {
	from *client
	env  room.Envelope
}

type client struct {
	hub      *Hub
	id       string
	username string
	conn     *websocket.Conn
	send     chan []byte
}

// NewHub creates a hub for roomID, restoring any persisted room state, and
// starts its run loop. startingBalance seeds every new member's presence
// money and rides along in the welcome frame.
func NewHub(roomID string, store *StateStore, startingBalance float64) *Hub {
	h := &Hub{
		roomID:          roomID,
		store:           store,
		startingBalance: startingBalance,
		register:        make(chan *client),
		unregister:      make(chan *client),
		inbound:         make(chan inbound, 64),
		clients:         make(map[string]*client),
		doc:             map[string]any{},
		presence:        map[string]map[string]any{},
	}

	if store != nil {
		doc, err := store.LoadRoomState(roomID)
		if err != nil {
			log.Printf("room %s: failed to restore state: %v", roomID, err)
		} else if doc != nil {
			h.doc = doc
		}
	}

	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.presence[c.id] = map[string]any{"username": c.username, "money": h.startingBalance}
			log.Printf("room %s: client registered: %s (%s)", h.roomID, c.id, c.username)

			h.sendWelcome(c)
			h.broadcastPresence()
			h.broadcastEvent(state.Event{Type: state.EventConnected, ClientID: c.id, Username: c.username})

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; !ok {
				continue
			}
			delete(h.clients, c.id)
			delete(h.presence, c.id)
			close(c.send)
			log.Printf("room %s: client unregistered: %s", h.roomID, c.id)

			h.broadcastPresence()
			h.broadcastEvent(state.Event{Type: state.EventDisconnected, ClientID: c.id, Username: c.username})

		case msg := <-h.inbound:
			h.handle(msg.from, msg.env)
		}
	}
}

func (h *Hub) handle(from *client, env room.Envelope) {
	switch env.Type {
	case room.MsgRoomPatch:
		var patch map[string]any
		if err := json.Unmarshal(env.Data, &patch); err != nil {
			log.Printf("room %s: bad patch from %s: %v", h.roomID, from.id, err)
			return
		}
		h.doc = state.Merge(h.doc, patch)
		if h.store != nil {
			if err := h.store.SaveRoomState(h.roomID, h.doc); err != nil {
				log.Printf("room %s: failed to persist state: %v", h.roomID, err)
			}
		}
		h.broadcastRoomState()

	case room.MsgPresencePatch:
		var patch map[string]any
		if err := json.Unmarshal(env.Data, &patch); err != nil {
			log.Printf("room %s: bad presence patch from %s: %v", h.roomID, from.id, err)
			return
		}
		h.presence[from.id] = state.Merge(h.presence[from.id], patch)
		h.broadcastPresence()

	case room.MsgPresenceRequest:
		target, ok := h.clients[env.To]
		if !ok {
			// Addressed client is gone; the request is dropped, the
			// pending-transfer record lets the sender recover.
			return
		}
		env.From = from.id
		h.sendTo(target, env)

	case room.MsgEvent:
		var ev state.Event
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("room %s: bad event from %s: %v", h.roomID, from.id, err)
			return
		}
		if ev.ClientID == "" {
			ev.ClientID = from.id
		}
		if h.store != nil {
			if err := h.store.AppendEvent(h.roomID, ev); err != nil {
				log.Printf("room %s: failed to journal event: %v", h.roomID, err)
			}
		}
		h.broadcastEvent(ev)
	}
}

func (h *Hub) typedState() state.RoomState {
	var rs state.RoomState
	if err := state.FromDocument(h.doc, &rs); err != nil {
		log.Printf("room %s: state document corrupt: %v", h.roomID, err)
	}
	return rs
}

func (h *Hub) typedPresence() map[string]state.Presence {
	out := make(map[string]state.Presence, len(h.presence))
	for id, doc := range h.presence {
		var p state.Presence
		if err := state.FromDocument(doc, &p); err == nil {
			out[id] = p
		}
	}
	return out
}

func (h *Hub) sendWelcome(c *client) {
	env, err := room.NewEnvelope(room.MsgWelcome, "", c.id, room.Welcome{
		ClientID:        c.id,
		RoomID:          h.roomID,
		RoomState:       h.typedState(),
		Presence:        h.typedPresence(),
		StartingBalance: h.startingBalance,
	})
	if err != nil {
		log.Printf("room %s: failed to build welcome: %v", h.roomID, err)
		return
	}
	h.sendTo(c, env)
}

func (h *Hub) broadcastRoomState() {
	env, err := room.NewEnvelope(room.MsgRoomState, "", "", h.typedState())
	if err != nil {
		log.Printf("room %s: failed to encode room state: %v", h.roomID, err)
		return
	}
	h.broadcast(env)
}

func (h *Hub) broadcastPresence() {
	env, err := room.NewEnvelope(room.MsgPresence, "", "", h.typedPresence())
	if err != nil {
		log.Printf("room %s: failed to encode presence: %v", h.roomID, err)
		return
	}
	h.broadcast(env)
}

func (h *Hub) broadcastEvent(ev state.Event) {
	env, err := room.NewEnvelope(room.MsgEvent, ev.ClientID, "", ev)
	if err != nil {
		log.Printf("room %s: failed to encode event: %v", h.roomID, err)
		return
	}
	h.broadcast(env)
}

func (h *Hub) broadcast(env room.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("room %s: failed to marshal envelope: %v", h.roomID, err)
		return
	}
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop it rather than stall the room.
			delete(h.clients, id)
			delete(h.presence, id)
			close(c.send)
			log.Printf("room %s: dropped slow client %s", h.roomID, id)
		}
	}
}

func (h *Hub) sendTo(c *client, env room.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("room %s: failed to marshal envelope: %v", h.roomID, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("room %s: send buffer full for client %s", h.roomID, c.id)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		var env room.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("room %s: websocket error: %v", c.hub.roomID, err)
			}
			return
		}
		env.From = c.id
		c.hub.inbound <- inbound{from: c, env: env}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
