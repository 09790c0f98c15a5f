package economy_test

import (
	"testing"
	"time"

	"diamonds-club/internal/economy"
	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

func waitFor(t *testing.T, r *room.LocalRoom, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.Sync()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGiveClaimedByRecipient(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	a := r.Join("ana")
	b := r.Join("ben")
	walletA := economy.NewWallet(a, 100)
	walletB := economy.NewWallet(b, 100)

	ta := economy.NewTransfers(a, walletA, 50*time.Millisecond)
	tb := economy.NewTransfers(b, walletB, 50*time.Millisecond)
	ta.Start()
	tb.Start()
	r.Sync()

	if err := ta.Give(b.ClientID(), 25); err != nil {
		t.Fatalf("give failed: %v", err)
	}
	if got := walletA.Balance(); got != 75 {
		t.Errorf("sender balance = %v, want 75 right after giving", got)
	}

	waitFor(t, r, "recipient to claim the gift", func() bool {
		return walletB.Balance() == 125
	})

	var status state.TransferStatus
	for _, tr := range a.RoomState().Transfers {
		status = tr.Status
	}
	if status != state.TransferClaimed {
		t.Errorf("transfer status = %q, want claimed", status)
	}

	// A claimed gift never reverts.
	time.Sleep(80 * time.Millisecond)
	r.Sync()
	if got := walletA.Balance(); got != 75 {
		t.Errorf("sender balance = %v after the revert window, want 75", got)
	}
	if got := walletB.Balance(); got != 125 {
		t.Errorf("recipient balance = %v after the revert window, want 125", got)
	}
}

func TestGiveRevertsWhenNeverClaimed(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	a := r.Join("ana")
	b := r.Join("ben")
	walletA := economy.NewWallet(a, 100)
	walletB := economy.NewWallet(b, 100)

	ta := economy.NewTransfers(a, walletA, 40*time.Millisecond)
	ta.Start()
	// The recipient never wires its transfer handler: the request goes
	// nowhere, like a client that dropped before it arrived.
	r.Sync()

	if err := ta.Give(b.ClientID(), 25); err != nil {
		t.Fatalf("give failed: %v", err)
	}
	r.Sync()

	// Before the timeout: sender debited, recipient untouched.
	if got := walletA.Balance(); got != 75 {
		t.Errorf("sender balance = %v, want 75", got)
	}
	if got := walletB.Balance(); got != 100 {
		t.Errorf("recipient balance = %v, want 100", got)
	}

	waitFor(t, r, "unclaimed gift to revert", func() bool {
		return walletA.Balance() == 100
	})

	var status state.TransferStatus
	for _, tr := range a.RoomState().Transfers {
		status = tr.Status
	}
	if status != state.TransferReverted {
		t.Errorf("transfer status = %q, want reverted", status)
	}
	if got := walletB.Balance(); got != 100 {
		t.Errorf("recipient balance = %v after revert, want 100", got)
	}
}

func TestGiveValidation(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	a := r.Join("ana")
	walletA := economy.NewWallet(a, 100)
	ta := economy.NewTransfers(a, walletA, time.Second)
	ta.Start()
	r.Sync()

	if err := ta.Give(a.ClientID(), 10); err == nil {
		t.Error("gifting to yourself must fail")
	}
	if err := ta.Give("nobody", 10); err == nil {
		t.Error("gifting to an absent client must fail")
	}
	if err := ta.Give(a.ClientID(), -5); err == nil {
		t.Error("negative gifts must fail")
	}
	if got := walletA.Balance(); got != 100 {
		t.Errorf("failed gifts changed the balance: %v", got)
	}
}

func TestGiveInsufficientFunds(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	a := r.Join("ana")
	b := r.Join("ben")
	walletA := economy.NewWallet(a, 5)
	economy.NewWallet(b, 0)
	ta := economy.NewTransfers(a, walletA, time.Second)
	ta.Start()
	r.Sync()

	if err := ta.Give(b.ClientID(), 10); err != economy.ErrInsufficientFunds {
		t.Errorf("give error = %v, want ErrInsufficientFunds", err)
	}
	if got := walletA.Balance(); got != 5 {
		t.Errorf("balance = %v, want 5", got)
	}
}
