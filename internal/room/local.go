package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"diamonds-club/internal/state"
)

// LocalRoom is an in-process room shared by several LocalClients. It applies
// the same merge rules as the relay and delivers every update through a
// single dispatch goroutine, so each client observes one total order and its
// own writes in program order. It backs offline mode and every multi-client
// test in this repo.
type LocalRoom struct {
	mu       sync.Mutex
	doc      map[string]any
	presence map[string]map[string]any
	clients  map[string]*LocalClient

	queue  []func()
	cond   *sync.Cond
	closed bool
}

// NewLocalRoom creates an empty room and starts its dispatcher.
func NewLocalRoom() *LocalRoom {
	r := &LocalRoom{
		doc:      map[string]any{},
		presence: map[string]map[string]any{},
		clients:  map[string]*LocalClient{},
	}
	r.cond = sync.NewCond(&r.mu)
	go r.dispatch()
	return r
}

// Join attaches a new client to the room.
func (r *LocalRoom) Join(username string) *LocalClient {
	c := &LocalClient{
		room:         r,
		id:           uuid.New().String(),
		username:     username,
		lastPresence: map[string]state.Presence{},
	}

	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	// Hand the joiner the current room state before it can act, the way the
	// relay's welcome frame does. The queued broadcast below may land later,
	// and a client seeding games off an empty snapshot would stomp live ones.
	c.lastState = r.snapshotState()

	r.enqueue(func() {
		r.mu.Lock()
		r.presence[c.id] = map[string]any{"username": username, "money": float64(0)}
		r.mu.Unlock()
		r.broadcastPresence()
		r.broadcastEvent(state.Event{Type: state.EventConnected, ClientID: c.id, Username: username})

		snap := r.snapshotState()
		c.deliverRoomState(snap)
	})
	return c
}

// Sync blocks until every update enqueued so far has been delivered. Tests
// call it between an action and its assertions.
func (r *LocalRoom) Sync() {
	for {
		done := make(chan struct{})
		r.enqueue(func() { close(done) })
		<-done

		r.mu.Lock()
		empty := len(r.queue) == 0
		r.mu.Unlock()
		if empty {
			return
		}
	}
}

// Close shuts the dispatcher down.
func (r *LocalRoom) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Signal()
	r.mu.Unlock()
}

func (r *LocalRoom) enqueue(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, fn)
	r.cond.Signal()
	r.mu.Unlock()
}

func (r *LocalRoom) dispatch() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		fn := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		fn()
	}
}

func (r *LocalRoom) snapshotState() state.RoomState {
	r.mu.Lock()
	doc := state.CloneDocument(r.doc)
	r.mu.Unlock()

	var rs state.RoomState
	if err := state.FromDocument(doc, &rs); err != nil {
		return state.RoomState{}
	}
	return rs
}

func (r *LocalRoom) snapshotPresence() map[string]state.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]state.Presence, len(r.presence))
	for id, doc := range r.presence {
		var p state.Presence
		if err := state.FromDocument(doc, &p); err == nil {
			out[id] = p
		}
	}
	return out
}

func (r *LocalRoom) members() []*LocalClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*LocalClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *LocalRoom) broadcastState() {
	snap := r.snapshotState()
	for _, c := range r.members() {
		c.deliverRoomState(snap)
	}
}

func (r *LocalRoom) broadcastPresence() {
	snap := r.snapshotPresence()
	for _, c := range r.members() {
		c.deliverPresence(snap)
	}
}

func (r *LocalRoom) broadcastEvent(ev state.Event) {
	for _, c := range r.members() {
		c.deliverEvent(ev)
	}
}

// LocalClient is one member of a LocalRoom, implementing Store.
type LocalClient struct {
	room     *LocalRoom
	id       string
	username string

	mu           sync.Mutex
	lastState    state.RoomState
	lastPresence map[string]state.Presence
	stateFns     []RoomStateFunc
	presenceFns  []PresenceFunc
	requestFns   []PresenceRequestFunc
	eventFns     []EventFunc
	closed       bool
}

var _ Store = (*LocalClient)(nil)

// ClientID implements Store.
func (c *LocalClient) ClientID() string { return c.id }

// RoomState implements Store.
func (c *LocalClient) RoomState() state.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastState
}

// Presence implements Store.
func (c *LocalClient) Presence() map[string]state.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]state.Presence, len(c.lastPresence))
	for id, p := range c.lastPresence {
		out[id] = p
	}
	return out
}

// UpdateRoomState implements Store.
func (c *LocalClient) UpdateRoomState(patch state.RoomPatch) error {
	doc, err := state.ToDocument(patch)
	if err != nil {
		return fmt.Errorf("invalid room patch: %v", err)
	}
	c.room.enqueue(func() {
		c.room.mu.Lock()
		c.room.doc = state.Merge(c.room.doc, doc)
		c.room.mu.Unlock()
		c.room.broadcastState()
	})
	return nil
}

// SubscribeRoomState implements Store.
func (c *LocalClient) SubscribeRoomState(fn RoomStateFunc) {
	c.mu.Lock()
	c.stateFns = append(c.stateFns, fn)
	c.mu.Unlock()
}

// UpdatePresence implements Store.
func (c *LocalClient) UpdatePresence(patch state.PresencePatch) error {
	doc, err := state.ToDocument(patch)
	if err != nil {
		return fmt.Errorf("invalid presence patch: %v", err)
	}
	c.room.enqueue(func() {
		c.room.mu.Lock()
		c.room.presence[c.id] = state.Merge(c.room.presence[c.id], doc)
		c.room.mu.Unlock()
		c.room.broadcastPresence()
	})
	return nil
}

// SubscribePresence implements Store.
func (c *LocalClient) SubscribePresence(fn PresenceFunc) {
	c.mu.Lock()
	c.presenceFns = append(c.presenceFns, fn)
	c.mu.Unlock()
}

// RequestPresenceUpdate implements Store.
func (c *LocalClient) RequestPresenceUpdate(clientID string, req state.PresenceRequest) error {
	c.room.enqueue(func() {
		c.room.mu.Lock()
		target := c.room.clients[clientID]
		c.room.mu.Unlock()
		if target != nil {
			target.deliverRequest(req, c.id)
		}
	})
	return nil
}

// SubscribePresenceUpdateRequests implements Store.
func (c *LocalClient) SubscribePresenceUpdateRequests(fn PresenceRequestFunc) {
	c.mu.Lock()
	c.requestFns = append(c.requestFns, fn)
	c.mu.Unlock()
}

// Send implements Store.
func (c *LocalClient) Send(ev state.Event) error {
	if ev.ClientID == "" {
		ev.ClientID = c.id
	}
	c.room.enqueue(func() {
		c.room.broadcastEvent(ev)
	})
	return nil
}

// OnMessage implements Store.
func (c *LocalClient) OnMessage(fn EventFunc) {
	c.mu.Lock()
	c.eventFns = append(c.eventFns, fn)
	c.mu.Unlock()
}

// Close implements Store. The client's presence record dies with it, like a
// relay client disconnecting.
func (c *LocalClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.room.mu.Lock()
	delete(c.room.clients, c.id)
	c.room.mu.Unlock()

	c.room.enqueue(func() {
		c.room.mu.Lock()
		delete(c.room.presence, c.id)
		c.room.mu.Unlock()
		c.room.broadcastPresence()
		c.room.broadcastEvent(state.Event{Type: state.EventDisconnected, ClientID: c.id, Username: c.username})
	})
	return nil
}

func (c *LocalClient) deliverRoomState(rs state.RoomState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastState = rs
	fns := append([]RoomStateFunc(nil), c.stateFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(rs)
	}
}

func (c *LocalClient) deliverPresence(p map[string]state.Presence) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastPresence = p
	fns := append([]PresenceFunc(nil), c.presenceFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (c *LocalClient) deliverRequest(req state.PresenceRequest, from string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := append([]PresenceRequestFunc(nil), c.requestFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(req, from)
	}
}

func (c *LocalClient) deliverEvent(ev state.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := append([]EventFunc(nil), c.eventFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
