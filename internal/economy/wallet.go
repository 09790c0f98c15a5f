// Package economy holds the presence-based money model: every client's
// balance lives in its own presence record, written only by that client, and
// gifts between clients travel as two-phase transfer intents through room
// state.
package economy

import (
	"fmt"
	"sync"

	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

// ErrInsufficientFunds is returned by debits the balance cannot cover.
var ErrInsufficientFunds = fmt.Errorf("insufficient funds")

// Wallet tracks this client's money and mirrors it into its presence record.
// The wallet is the authority for the local balance; presence is the
// published copy other clients read.
type Wallet struct {
	store room.Store

	mu      sync.Mutex
	balance float64
}

// NewWallet creates a wallet with a starting balance and publishes it.
func NewWallet(store room.Store, starting float64) *Wallet {
	if starting < 0 {
		starting = 0
	}
	w := &Wallet{store: store, balance: starting}
	w.publish(starting)
	return w
}

// Balance returns the current balance.
func (w *Wallet) Balance() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Debit removes amount from the balance, failing when it cannot be covered.
func (w *Wallet) Debit(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("invalid debit amount: %v", amount)
	}

	w.mu.Lock()
	if w.balance < amount {
		w.mu.Unlock()
		return ErrInsufficientFunds
	}
	w.balance -= amount
	next := w.balance
	w.mu.Unlock()

	w.publish(next)
	return nil
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(amount float64) {
	if amount <= 0 {
		return
	}

	w.mu.Lock()
	w.balance += amount
	next := w.balance
	w.mu.Unlock()

	w.publish(next)
}

// ApplyWinnings applies a signed game outcome. Losses larger than the
// balance are capped so the balance never goes below zero. Returns the
// amount actually applied.
func (w *Wallet) ApplyWinnings(delta float64) float64 {
	if delta == 0 {
		return 0
	}

	w.mu.Lock()
	applied := delta
	if delta < 0 && w.balance+delta < 0 {
		applied = -w.balance
	}
	w.balance += applied
	next := w.balance
	w.mu.Unlock()

	w.publish(next)
	return applied
}

func (w *Wallet) publish(balance float64) {
	if err := w.store.UpdatePresence(state.PresencePatch{Money: state.Ptr(balance)}); err != nil {
		// A failed publish leaves the local balance authoritative; the next
		// successful presence patch carries the current value anyway.
		return
	}
}
