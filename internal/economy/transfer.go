package economy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

// DefaultRevertAfter is how long a gift stays pending before the sender
// takes its money back.
const DefaultRevertAfter = 15 * time.Second

// Transfers runs the two-phase money gift protocol on top of room state.
//
// Giving money is split so that no client ever writes another client's
// presence: the sender debits itself and records a pending intent in room
// state, then asks the recipient (over a targeted presence-update request)
// to credit itself and mark the intent claimed. An intent still pending
// after the revert window is re-credited to the sender, which covers
// recipients that were gone before the request reached them.
type Transfers struct {
	store       room.Store
	wallet      *Wallet
	revertAfter time.Duration

	mu       sync.Mutex
	credited map[string]bool
	started  bool
}

// NewTransfers wires the transfer protocol to a store and wallet.
func NewTransfers(store room.Store, wallet *Wallet, revertAfter time.Duration) *Transfers {
	if revertAfter <= 0 {
		revertAfter = DefaultRevertAfter
	}
	return &Transfers{
		store:       store,
		wallet:      wallet,
		revertAfter: revertAfter,
		credited:    map[string]bool{},
	}
}

// Start registers the incoming-gift handler. Call once, before giving or
// receiving.
func (t *Transfers) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.store.SubscribePresenceUpdateRequests(t.handleRequest)
}

// Give sends amount to another room member. The sender is debited
// immediately; the money lands when the recipient claims the intent, and
// comes back if it never does.
func (t *Transfers) Give(toClientID string, amount float64) error {
	amount = state.RoundCents(amount)
	if amount <= 0 {
		return fmt.Errorf("invalid gift amount: %v", amount)
	}
	if toClientID == t.store.ClientID() {
		return fmt.Errorf("cannot gift money to yourself")
	}

	peers := t.store.Presence()
	recipient, ok := peers[toClientID]
	if !ok {
		return fmt.Errorf("recipient is not in the room")
	}

	if err := t.wallet.Debit(amount); err != nil {
		return err
	}

	intent := state.Transfer{
		ID:        uuid.New().String(),
		From:      t.store.ClientID(),
		To:        toClientID,
		Amount:    amount,
		Status:    state.TransferPending,
		CreatedAt: time.Now().UnixMilli(),
	}

	if err := t.store.UpdateRoomState(state.RoomPatch{
		Transfers: map[string]state.Transfer{intent.ID: intent},
	}); err != nil {
		t.wallet.Credit(amount)
		return fmt.Errorf("failed to record gift: %v", err)
	}

	// The intent patch is published first, so by the time the request
	// reaches the recipient its room state already holds the record.
	if err := t.store.RequestPresenceUpdate(toClientID, state.PresenceRequest{
		Type:       state.PresenceRequestGiveMoney,
		Amount:     amount,
		TransferID: intent.ID,
	}); err != nil {
		return fmt.Errorf("failed to notify recipient: %v", err)
	}

	t.store.Send(state.Event{
		Type:              state.EventMoneySent,
		ClientID:          intent.From,
		RecipientID:       toClientID,
		RecipientUsername: recipient.Username,
		Amount:            amount,
	})

	time.AfterFunc(t.revertAfter, func() { t.revert(intent.ID) })
	return nil
}

// revert re-credits the sender when an intent it wrote is still pending.
func (t *Transfers) revert(transferID string) {
	intent, ok := t.store.RoomState().Transfers[transferID]
	if !ok || intent.From != t.store.ClientID() || intent.Status != state.TransferPending {
		return
	}

	reverted := intent
	reverted.Status = state.TransferReverted
	if err := t.store.UpdateRoomState(state.RoomPatch{
		Transfers: map[string]state.Transfer{transferID: reverted},
	}); err != nil {
		return
	}

	t.wallet.Credit(intent.Amount)
	t.store.Send(state.Event{
		Type:        state.EventMoneySendError,
		ClientID:    intent.From,
		RecipientID: intent.To,
		Amount:      intent.Amount,
		Message:     "Gift was not claimed and has been returned",
	})
}

// handleRequest claims an incoming gift: credit the local wallet and mark
// the intent so the sender's revert timer sees it landed.
func (t *Transfers) handleRequest(req state.PresenceRequest, fromClientID string) {
	if req.Type != state.PresenceRequestGiveMoney || req.TransferID == "" {
		return
	}

	intent, ok := t.store.RoomState().Transfers[req.TransferID]
	if !ok || intent.To != t.store.ClientID() || intent.From != fromClientID {
		return
	}
	if intent.Status != state.TransferPending || intent.Amount != req.Amount {
		return
	}

	t.mu.Lock()
	if t.credited[intent.ID] {
		t.mu.Unlock()
		return
	}
	t.credited[intent.ID] = true
	t.mu.Unlock()

	claimed := intent
	claimed.Status = state.TransferClaimed
	if err := t.store.UpdateRoomState(state.RoomPatch{
		Transfers: map[string]state.Transfer{intent.ID: claimed},
	}); err != nil {
		t.mu.Lock()
		delete(t.credited, intent.ID)
		t.mu.Unlock()
		return
	}

	t.wallet.Credit(intent.Amount)
}
