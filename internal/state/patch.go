package state

import (
	"encoding/json"
	"fmt"
)

// RoomPatch is a partial write against the room state document. Nil fields
// are omitted from the wire form, so a patch only touches the leaves it
// names. Game patches use pointer fields for the same reason: a *bool that
// is nil means "leave spinning alone", a *bool pointing at false means
// "set spinning to false".
type RoomPatch struct {
	SlotMachines map[string]SlotMachinePatch `json:"slotMachines,omitempty"`
	MinesGames   map[string]MinesGamePatch   `json:"minesGames,omitempty"`
	Transfers    map[string]Transfer         `json:"transfers,omitempty"`
}

// SlotMachinePatch is a partial write against one slot machine's state.
type SlotMachinePatch struct {
	Spinning            *bool      `json:"spinning,omitempty"`
	Owner               *Ownership `json:"owner,omitempty"`
	BetAmount           *float64   `json:"betAmount,omitempty"`
	Reels               *[]string  `json:"reels,omitempty"`
	Message             *string    `json:"message,omitempty"`
	Winnings            *float64   `json:"winnings,omitempty"`
	FinalReels          *[]string  `json:"finalReels,omitempty"`
	FinalMessage        *string    `json:"finalMessage,omitempty"`
	FreeSpinsWon        *int       `json:"freeSpinsWon,omitempty"`
	ShowMultiplierWheel *bool      `json:"showMultiplierWheel,omitempty"`
	FreeSpinActive      *bool      `json:"freeSpinActive,omitempty"`
}

// MinesGamePatch is a partial write against one mines board's state.
type MinesGamePatch struct {
	Active            *bool      `json:"active,omitempty"`
	Owner             *Ownership `json:"owner,omitempty"`
	BetAmount         *float64   `json:"betAmount,omitempty"`
	MineCount         *int       `json:"mineCount,omitempty"`
	Revealed          *[]int     `json:"revealed,omitempty"`
	CurrentMultiplier *float64   `json:"currentMultiplier,omitempty"`
	CurrentPayout     *float64   `json:"currentPayout,omitempty"`
}

// PresencePatch is a partial write against the caller's own presence record.
type PresencePatch struct {
	Username       *string  `json:"username,omitempty"`
	Position       *Vec3    `json:"position,omitempty"`
	Quaternion     *Quat    `json:"quaternion,omitempty"`
	LeftArmRaised  *bool    `json:"leftArmRaised,omitempty"`
	RightArmRaised *bool    `json:"rightArmRaised,omitempty"`
	Money          *float64 `json:"money,omitempty"`
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T { return &v }

// Merge applies a merge-patch onto dst in place and returns dst. Maps merge
// recursively; every other value, slices included, replaces the previous
// value wholesale. This is the single merge rule shared by the relay and the
// in-process room: last writer wins per leaf.
func Merge(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for key, value := range patch {
		sub, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}
		existing, _ := dst[key].(map[string]any)
		dst[key] = Merge(existing, sub)
	}
	return dst
}

// ToDocument converts a typed value into the generic map form patches are
// merged in.
func ToDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %v", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// FromDocument converts the generic map form back into a typed value.
func FromDocument(doc map[string]any, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document: %v", err)
	}
	return nil
}

// CloneDocument deep-copies a document so a snapshot can leave the goroutine
// that owns the original.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		if sub, ok := value.(map[string]any); ok {
			out[key] = CloneDocument(sub)
			continue
		}
		if list, ok := value.([]any); ok {
			copied := make([]any, len(list))
			copy(copied, list)
			out[key] = copied
			continue
		}
		out[key] = value
	}
	return out
}
