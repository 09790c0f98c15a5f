package games

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"diamonds-club/internal/economy"
	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

// welcomeBonusSpin is the session spin on which a new player is handed a
// forced jackpot.
const welcomeBonusSpin = 10

// SlotMachine is this client's view-model of one shared slot machine. The
// spinning client computes the outcome up front, publishes the spin with the
// precomputed result riding along, and resolves it after the reel animation
// window. Everyone else just mirrors the replicated state.
type SlotMachine struct {
	id     string
	theme  Theme
	store  room.Store
	wallet *economy.Wallet
	timing Timing
	rng    *lockedRand

	// One session per client, shared by every machine in the room, so the
	// welcome bonus lands on the client's 10th spin wherever it happens.
	session *spinSession

	mu      sync.Mutex
	last    state.SlotMachineState
	lastGen uint64

	localMessage string
	messageEpoch int

	// Free spins are a per-player session bound to the machine they were
	// won on. Winnings accumulate here and settle once, multiplied, when
	// the last free spin resolves.
	freeSpinsAvailable int
	freeSpinsUsed      int
	freeSpinMultiplier float64
	freeSpinWinnings   float64
}

func newSlotMachine(id string, theme Theme, store room.Store, wallet *economy.Wallet, timing Timing, rng *lockedRand, session *spinSession) *SlotMachine {
	return &SlotMachine{
		id:                 id,
		theme:              theme,
		store:              store,
		wallet:             wallet,
		timing:             timing,
		rng:                rng,
		session:            session,
		freeSpinMultiplier: 1,
	}
}

// SlotSnapshot is what a renderer needs to draw the machine.
type SlotSnapshot struct {
	ID            string
	Theme         string
	Spinning      bool
	Reels         []string
	Message       string
	BetAmount     float64
	Winnings      float64
	InUse         bool
	FreeSpinsLeft int
}

// Snapshot returns the current render state. Local transient messages
// (contention, insufficient funds) shadow the replicated message until they
// expire.
func (m *SlotMachine) Snapshot() SlotSnapshot {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := m.last.Message
	if m.localMessage != "" {
		msg = m.localMessage
	}
	if msg == "" {
		msg = m.theme.Name
	}

	return SlotSnapshot{
		ID:            m.id,
		Theme:         m.theme.Name,
		Spinning:      m.last.Spinning,
		Reels:         append([]string(nil), m.last.Reels...),
		Message:       msg,
		BetAmount:     m.betLocked(),
		Winnings:      m.last.Winnings,
		InUse:         m.last.Owner.Held() && !m.last.Owner.HeldBy(m.store.ClientID()) && !m.last.Owner.Expired(now),
		FreeSpinsLeft: m.freeSpinsAvailable,
	}
}

// FreeSpinsLeft returns the banked free spins for this machine.
func (m *SlotMachine) FreeSpinsLeft() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeSpinsAvailable
}

// AdjustBet steps the wager along the bet ladder. Bets are cosmetic
// last-writer-wins state; anyone may change them while the machine is idle.
func (m *SlotMachine) AdjustBet(dir int) error {
	m.mu.Lock()
	cur := m.last
	m.mu.Unlock()

	if cur.Spinning {
		return ErrGameInUse
	}

	next := state.StepBet(cur.BetAmount, dir)
	return m.store.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			m.id: {BetAmount: state.Ptr(next)},
		},
	})
}

// Spin takes the machine for one spin. The outcome is drawn immediately,
// published with the spin, and revealed when the reels stop. A free spin
// skips the bet but still counts penalties into the session total.
func (m *SlotMachine) Spin() error {
	clientID := m.store.ClientID()
	now := time.Now().UnixMilli()

	m.mu.Lock()
	cur := m.last
	if cur.Spinning && !cur.Owner.Expired(now) {
		if !cur.Owner.HeldBy(clientID) {
			m.setTransientLocked("Machine in use!")
		}
		m.mu.Unlock()
		return ErrGameInUse
	}
	if cur.Owner.Held() && !cur.Owner.HeldBy(clientID) && !cur.Owner.Expired(now) {
		m.setTransientLocked("Machine in use!")
		m.mu.Unlock()
		return ErrGameInUse
	}

	bet := m.betLocked()
	freeSpin := m.freeSpinsAvailable > 0
	if !freeSpin && m.wallet.Balance() < bet {
		m.setTransientLocked("Not enough money!")
		m.mu.Unlock()
		return economy.ErrInsufficientFunds
	}

	forceJackpot := m.session.recordSpin()
	if freeSpin {
		m.freeSpinsAvailable--
		m.freeSpinsUsed++
	}
	m.mu.Unlock()

	if !freeSpin {
		if err := m.wallet.Debit(bet); err != nil {
			m.mu.Lock()
			m.setTransientLocked("Not enough money!")
			m.mu.Unlock()
			return err
		}
	}

	reels := m.drawReels(forceJackpot)
	out := resolveSpin(m.theme, reels, bet, m.wallet.Balance(), freeSpin)

	if freeSpin {
		m.mu.Lock()
		m.freeSpinWinnings += out.winnings
		m.mu.Unlock()
	}

	spinTime := m.timing.SpinDuration + 3*m.timing.ReelStopDelay
	// The lease has to outlive the scheduled resolution, or spectators
	// could reclaim mid-spin.
	expiry := now + (m.timing.Lease + spinTime).Milliseconds()

	var owner state.Ownership
	if cur.Owner.HeldBy(clientID) {
		owner = cur.Owner.Renewed(expiry)
	} else {
		owner = cur.Owner.Claim(clientID, expiry)
	}

	err := m.store.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			m.id: {
				Spinning:            state.Ptr(true),
				Owner:               &owner,
				BetAmount:           state.Ptr(bet),
				Reels:               state.Ptr([]string{"?", "?", "?"}),
				Message:             state.Ptr("Spinning..."),
				Winnings:            state.Ptr(out.winnings),
				FinalReels:          state.Ptr(out.reels),
				FinalMessage:        state.Ptr(out.message),
				FreeSpinsWon:        state.Ptr(out.freeSpinsWon),
				ShowMultiplierWheel: state.Ptr(out.showWheel),
				FreeSpinActive:      state.Ptr(freeSpin),
			},
		},
	})
	if err != nil {
		if !freeSpin {
			m.wallet.Credit(bet)
		}
		return fmt.Errorf("failed to publish spin: %v", err)
	}

	time.AfterFunc(spinTime, func() { m.finishSpin(owner, out, freeSpin) })
	return nil
}

// finishSpin publishes the resolution and settles money. Only the client
// whose ownership token survived the spin gets here with effect.
func (m *SlotMachine) finishSpin(owner state.Ownership, out spinOutcome, freeSpin bool) {
	clientID := m.store.ClientID()

	m.mu.Lock()
	cur := m.last
	lost := cur.Owner.Generation > owner.Generation ||
		(cur.Owner.Generation == owner.Generation && !cur.Owner.HeldBy(clientID))
	if lost {
		// The lease lapsed and someone reclaimed the machine; this
		// resolution lost. A generation lower than ours just means our
		// own claim has not echoed back yet.
		m.mu.Unlock()
		return
	}

	m.freeSpinsAvailable += out.freeSpinsWon
	wheelMultiplier := 0.0
	if out.freeSpinsWon > 0 && out.showWheel {
		wheelMultiplier = spinWheel(m.rng)
		m.freeSpinMultiplier = wheelMultiplier
	}
	continues := m.freeSpinsAvailable > 0
	sessionUsed := m.freeSpinsUsed
	sessionTotal := m.freeSpinWinnings
	sessionMultiplier := m.freeSpinMultiplier
	if !continues && sessionUsed > 0 {
		m.freeSpinsUsed = 0
		m.freeSpinWinnings = 0
		m.freeSpinMultiplier = 1
	}
	m.mu.Unlock()

	if out.winnings != 0 && !freeSpin {
		m.wallet.ApplyWinnings(out.winnings)
	}

	message := out.message
	if wheelMultiplier > 0 {
		message = fmt.Sprintf("JACKPOT! %d Free Spins with %sx Bonus at the end!", out.freeSpinsWon, formatMoney(wheelMultiplier))
	}

	var nextOwner state.Ownership
	if continues {
		nextOwner = owner.Renewed(time.Now().UnixMilli() + (m.timing.Lease + m.timing.FreeSpinDelay).Milliseconds())
	} else {
		nextOwner = owner.Release()
	}

	m.store.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			m.id: {
				Spinning:            state.Ptr(false),
				Owner:               &nextOwner,
				Reels:               state.Ptr(out.reels),
				Message:             state.Ptr(message),
				Winnings:            state.Ptr(out.winnings),
				FreeSpinsWon:        state.Ptr(0),
				ShowMultiplierWheel: state.Ptr(false),
				FreeSpinActive:      state.Ptr(false),
			},
		},
	})

	if continues {
		time.AfterFunc(m.timing.FreeSpinDelay, func() { m.Spin() })
		return
	}

	if sessionUsed > 0 {
		m.settleFreeSpins(sessionTotal, sessionMultiplier)
	}
}

// settleFreeSpins applies the accumulated session total, multiplied, in one
// balance update.
func (m *SlotMachine) settleFreeSpins(total, multiplier float64) {
	final := state.RoundCents(total * multiplier)

	var message string
	switch {
	case final > 0:
		m.wallet.Credit(final)
		message = fmt.Sprintf("Free Spins Complete! Won $%.2f (%sx multiplier)", final, formatMoney(multiplier))
	case final < 0:
		m.wallet.ApplyWinnings(final)
		message = fmt.Sprintf("Free Spins Complete! Lost $%.2f (%sx multiplier)", -final, formatMoney(multiplier))
	default:
		message = fmt.Sprintf("Free Spins Complete! Broke even (%sx multiplier)", formatMoney(multiplier))
	}

	m.store.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			m.id: {Message: state.Ptr(message)},
		},
	})
}

// Reclaim resets a machine whose owner's lease has lapsed. Any client may
// call it; the generation bump makes the orphaned owner's late resolution
// lose.
func (m *SlotMachine) Reclaim() bool {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	cur := m.last
	m.mu.Unlock()

	if !cur.Owner.Expired(now) {
		return false
	}

	release := cur.Owner.Release()
	m.store.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			m.id: {
				Spinning: state.Ptr(false),
				Owner:    &release,
				Message:  state.Ptr(m.theme.Name),
			},
		},
	})
	return true
}

func (m *SlotMachine) applyRemote(s state.SlotMachineState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Owner.Generation < m.lastGen {
		// Stale write from a previous ownership session.
		return
	}
	m.lastGen = s.Owner.Generation

	if reflect.DeepEqual(m.last, s) {
		return
	}
	m.last = s
}

func (m *SlotMachine) drawReels(forceJackpot bool) []string {
	if forceJackpot {
		return []string{SymbolSeven, SymbolSeven, SymbolSeven}
	}
	reels := make([]string, 3)
	for i := range reels {
		reels[i] = m.theme.Symbols[m.rng.Intn(len(m.theme.Symbols))]
	}
	return reels
}

func (m *SlotMachine) betLocked() float64 {
	if m.last.BetAmount > 0 {
		return m.last.BetAmount
	}
	return state.MinBet
}

func (m *SlotMachine) setTransientLocked(msg string) {
	m.localMessage = msg
	m.messageEpoch++
	epoch := m.messageEpoch
	time.AfterFunc(m.timing.MessageReset, func() {
		m.mu.Lock()
		if m.messageEpoch == epoch {
			m.localMessage = ""
		}
		m.mu.Unlock()
	})
}

// spinOutcome is one spin's precomputed result.
type spinOutcome struct {
	reels        []string
	winnings     float64
	message      string
	freeSpinsWon int
	showWheel    bool
}

// resolveSpin maps drawn reels to a signed payout.
//
// Penalty symbols dominate: 1/2/3 of them lose 2x/3x/4x the bet, capped at
// the balance so it never goes negative. Otherwise any three of a kind pays
// 10x, three sevens pay 20x plus ten free spins (with the multiplier wheel
// when not already inside a free-spin session), two sevens pay 3x and one
// seven pays 2x.
func resolveSpin(theme Theme, reels []string, bet, balance float64, freeSpinActive bool) spinOutcome {
	out := spinOutcome{
		reels:   reels,
		message: theme.LoseMessage,
	}
	if out.message == "" {
		out.message = "Better luck next time!"
	}

	badCount := 0
	sevenCount := 0
	for _, s := range reels {
		switch s {
		case SymbolBad:
			badCount++
		case SymbolSeven:
			sevenCount++
		}
	}

	if badCount > 0 {
		penalty := float64(badCount + 1) // 1 -> 2x, 2 -> 3x, 3 -> 4x
		potential := bet * penalty
		actual := potential
		if actual > balance {
			actual = balance
		}
		out.winnings = -actual

		switch {
		case actual < potential && balance == 0:
			out.message = fmt.Sprintf("%d %s symbols! Still at $0!", badCount, SymbolBad)
		case actual < potential:
			out.message = fmt.Sprintf("%d %s symbols! Lost all your money! Back to $0!", badCount, SymbolBad)
		default:
			out.message = fmt.Sprintf("%d %s symbols! You lose $%s!", badCount, SymbolBad, formatMoney(actual))
		}
		return out
	}

	if reels[0] == reels[1] && reels[1] == reels[2] {
		base := 10.0
		if reels[0] == SymbolSeven {
			base = 20
			out.freeSpinsWon = 10
			out.showWheel = !freeSpinActive
			out.message = "JACKPOT! 10 Free Spins!"
		} else {
			out.message = fmt.Sprintf("%s pays $%s!", theme.Name, formatMoney(base*bet))
		}
		out.winnings = base * bet
		return out
	}

	switch sevenCount {
	case 2:
		out.winnings = bet * 3
		out.message = fmt.Sprintf("2 Sevens pays $%s!", formatMoney(out.winnings))
	case 1:
		out.winnings = bet * 2
		out.message = fmt.Sprintf("7 pays $%s!", formatMoney(out.winnings))
	}
	return out
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
