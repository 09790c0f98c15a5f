// Package room defines the shared room store contract consumed by the game
// layer: a replicated room-state document, per-client presence records,
// targeted presence-update requests and a transient event channel. Two
// implementations exist: Socket speaks to the relay over a websocket, and
// LocalRoom links several clients inside one process for offline play and
// tests.
package room

import "diamonds-club/internal/state"

// RoomStateFunc receives the full room state after every change.
type RoomStateFunc func(state.RoomState)

// PresenceFunc receives the full presence mapping after any entry changes.
type PresenceFunc func(map[string]state.Presence)

// PresenceRequestFunc receives a presence-mutation request another client
// targeted at this one.
type PresenceRequestFunc func(req state.PresenceRequest, fromClientID string)

// EventFunc receives transient broadcast events.
type EventFunc func(ev state.Event)

// Store is one client's handle on a shared room. Writes are optimistic
// merge-patches: the caller never blocks waiting for other members, and its
// own writes come back to it through the subscriptions in program order.
type Store interface {
	// ClientID identifies this member within the room.
	ClientID() string

	// RoomState returns the last observed room state snapshot.
	RoomState() state.RoomState
	// Presence returns the last observed presence mapping.
	Presence() map[string]state.Presence

	// UpdateRoomState publishes a merge-patch against the room document.
	UpdateRoomState(patch state.RoomPatch) error
	// SubscribeRoomState registers a callback for room state changes.
	SubscribeRoomState(fn RoomStateFunc)

	// UpdatePresence publishes a merge-patch against the caller's own
	// presence record. No other client's record can be written through this.
	UpdatePresence(patch state.PresencePatch) error
	// SubscribePresence registers a callback for presence changes.
	SubscribePresence(fn PresenceFunc)

	// RequestPresenceUpdate asks another client to mutate its own presence.
	RequestPresenceUpdate(clientID string, req state.PresenceRequest) error
	// SubscribePresenceUpdateRequests registers the handler for requests
	// other clients target at this one.
	SubscribePresenceUpdateRequests(fn PresenceRequestFunc)

	// Send broadcasts a transient event to every room member.
	Send(ev state.Event) error
	// OnMessage registers a callback for transient events.
	OnMessage(fn EventFunc)

	// Close detaches the client from the room.
	Close() error
}
