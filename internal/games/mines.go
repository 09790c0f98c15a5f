package games

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"

	"diamonds-club/internal/economy"
	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

const (
	minesGridSize     = 25
	minesSafetyFactor = 0.96 // house edge applied per revealed tile
	perfectGameBonus  = 1.1
)

// Difficulties are the selectable mine counts on the 25-tile board.
var Difficulties = []int{3, 5, 8, 12, 16, 20}

// MinesGame is this client's view-model of one shared mines board. Mine
// positions are generated by the owner and never leave this process:
// spectators only ever see revealed-safe indices and the running multiplier.
type MinesGame struct {
	id     string
	store  room.Store
	wallet *economy.Wallet
	timing Timing
	rng    *lockedRand

	mu      sync.Mutex
	last    state.MinesGameState
	lastGen uint64

	// Owner-side session. Local state is authoritative for the owner;
	// the replicated record trails it by one round trip.
	session    *state.Ownership
	sessionBet float64
	mineCount  int
	mines      map[int]bool
	revealed   []int
	multiplier float64

	bustMines []int // shown after hitting a mine, until the board resets

	renewStop chan struct{}

	localMessage  string
	messageEpoch  int
	cooldownUntil time.Time
}

func newMinesGame(id string, store room.Store, wallet *economy.Wallet, timing Timing, rng *lockedRand) *MinesGame {
	return &MinesGame{
		id:         id,
		store:      store,
		wallet:     wallet,
		timing:     timing,
		rng:        rng,
		multiplier: 1,
	}
}

// MinesSnapshot is what a renderer needs to draw the board.
type MinesSnapshot struct {
	ID                string
	Active            bool
	Owned             bool
	InUse             bool
	BetAmount         float64
	MineCount         int
	Revealed          []int
	Mines             []int // owner only, or everyone's bust reveal
	CurrentMultiplier float64
	CurrentPayout     float64
	NextPayout        float64
	Message           string
	ControlsDisabled  bool
}

// Snapshot returns the current render state.
func (g *MinesGame) Snapshot() MinesSnapshot {
	now := time.Now()
	nowMillis := now.UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	snap := MinesSnapshot{
		ID:                g.id,
		Active:            g.last.Active,
		Owned:             g.session != nil,
		BetAmount:         g.betLocked(),
		MineCount:         g.mineCountLocked(),
		Revealed:          append([]int(nil), g.last.Revealed...),
		Mines:             append([]int(nil), g.bustMines...),
		CurrentMultiplier: g.last.CurrentMultiplier,
		CurrentPayout:     g.last.CurrentPayout,
		Message:           g.localMessage,
		ControlsDisabled:  now.Before(g.cooldownUntil),
	}
	snap.InUse = g.last.Active && g.session == nil &&
		g.last.Owner.Held() && !g.last.Owner.Expired(nowMillis)

	if g.session != nil {
		snap.Revealed = append([]int(nil), g.revealed...)
		snap.CurrentMultiplier = g.multiplier
		snap.CurrentPayout = g.sessionBet * g.multiplier
		snap.Mines = g.minePositionsLocked()
		snap.NextPayout = g.sessionBet * stepMultiplier(g.mineCount, len(g.revealed)) * minesSafetyFactor
	} else {
		snap.NextPayout = snap.BetAmount * stepMultiplier(snap.MineCount, len(snap.Revealed)) * minesSafetyFactor
	}
	return snap
}

// AdjustBet steps the wager along the bet ladder. Idle boards only.
func (g *MinesGame) AdjustBet(dir int) error {
	g.mu.Lock()
	cur := g.last
	busy := g.session != nil
	g.mu.Unlock()

	if busy || cur.Active {
		return ErrGameInUse
	}

	next := state.StepBet(cur.BetAmount, dir)
	return g.store.UpdateRoomState(state.RoomPatch{
		MinesGames: map[string]state.MinesGamePatch{
			g.id: {BetAmount: state.Ptr(next)},
		},
	})
}

// CycleDifficulty advances the mine count through the difficulty ring. Idle
// boards only.
func (g *MinesGame) CycleDifficulty() error {
	g.mu.Lock()
	cur := g.last
	busy := g.session != nil
	g.mu.Unlock()

	if busy || cur.Active {
		return ErrGameInUse
	}

	next := Difficulties[0]
	for i, d := range Difficulties {
		if d == cur.MineCount {
			next = Difficulties[(i+1)%len(Difficulties)]
			break
		}
	}
	return g.store.UpdateRoomState(state.RoomPatch{
		MinesGames: map[string]state.MinesGamePatch{
			g.id: {MineCount: state.Ptr(next)},
		},
	})
}

// Start claims the board, debits the bet and deals a fresh minefield.
func (g *MinesGame) Start() error {
	clientID := g.store.ClientID()
	now := time.Now().UnixMilli()

	g.mu.Lock()
	cur := g.last
	if g.session != nil {
		g.mu.Unlock()
		return ErrGameInUse
	}
	if cur.Active && !cur.Owner.Expired(now) {
		g.setTransientLocked("Game in progress!")
		g.mu.Unlock()
		return ErrGameInUse
	}
	bet := g.betLocked()
	mineCount := g.mineCountLocked()
	g.mu.Unlock()

	if err := g.wallet.Debit(bet); err != nil {
		g.mu.Lock()
		g.setTransientLocked("Not enough money!")
		g.mu.Unlock()
		return err
	}

	positions := g.rng.Perm(minesGridSize)[:mineCount]
	mines := make(map[int]bool, mineCount)
	for _, p := range positions {
		mines[p] = true
	}

	owner := cur.Owner.Claim(clientID, now+g.timing.Lease.Milliseconds())

	g.mu.Lock()
	g.session = &owner
	g.sessionBet = bet
	g.mineCount = mineCount
	g.mines = mines
	g.revealed = nil
	g.multiplier = 1
	g.bustMines = nil
	g.mu.Unlock()

	g.startRenewal()

	err := g.store.UpdateRoomState(state.RoomPatch{
		MinesGames: map[string]state.MinesGamePatch{
			g.id: {
				Active:            state.Ptr(true),
				Owner:             &owner,
				BetAmount:         state.Ptr(bet),
				MineCount:         state.Ptr(mineCount),
				Revealed:          state.Ptr([]int{}),
				CurrentMultiplier: state.Ptr(1.0),
				CurrentPayout:     state.Ptr(0.0),
			},
		},
	})
	if err != nil {
		g.abandonSession()
		g.wallet.Credit(bet)
		return fmt.Errorf("failed to publish game start: %v", err)
	}

	g.store.Send(state.Event{
		Type:      state.EventMinesGameStart,
		ClientID:  clientID,
		Username:  g.username(),
		GameID:    g.id,
		BetAmount: bet,
		MineCount: mineCount,
	})
	return nil
}

// Reveal uncovers one tile. Owner only; a mine ends the game with the bet
// already lost, a safe tile compounds the multiplier.
func (g *MinesGame) Reveal(index int) error {
	if index < 0 || index >= minesGridSize {
		return fmt.Errorf("tile index out of range: %d", index)
	}

	g.mu.Lock()
	if g.session == nil {
		g.mu.Unlock()
		return fmt.Errorf("no active game owned by this client")
	}
	for _, r := range g.revealed {
		if r == index {
			g.mu.Unlock()
			return fmt.Errorf("tile %d is already revealed", index)
		}
	}

	if g.mines[index] {
		bet := g.sessionBet
		revealedCount := len(g.revealed)
		g.bustMines = g.minePositionsLocked()
		g.setTransientLocked(fmt.Sprintf("BOOM! Lost $%s!", formatMoney(bet)))
		g.mu.Unlock()

		g.store.Send(state.Event{
			Type:      state.EventMinesBust,
			ClientID:  g.store.ClientID(),
			Username:  g.username(),
			GameID:    g.id,
			BetAmount: bet,
			Index:     index,
			SafeCount: revealedCount,
		})
		g.end(g.timing.BustDisplay)
		return nil
	}

	step := stepMultiplier(g.mineCount, len(g.revealed))
	g.revealed = append(g.revealed, index)
	g.multiplier = round4(g.multiplier * step * minesSafetyFactor)
	payout := g.sessionBet * g.multiplier
	revealed := append([]int(nil), g.revealed...)
	multiplier := g.multiplier
	perfect := len(g.revealed) == minesGridSize-g.mineCount
	g.mu.Unlock()

	if err := g.store.UpdateRoomState(state.RoomPatch{
		MinesGames: map[string]state.MinesGamePatch{
			g.id: {
				Revealed:          state.Ptr(revealed),
				CurrentMultiplier: state.Ptr(multiplier),
				CurrentPayout:     state.Ptr(payout),
			},
		},
	}); err != nil {
		return fmt.Errorf("failed to publish reveal: %v", err)
	}

	g.store.Send(state.Event{
		Type:       state.EventMinesReveal,
		ClientID:   g.store.ClientID(),
		Username:   g.username(),
		GameID:     g.id,
		Index:      index,
		SafeCount:  len(revealed),
		Multiplier: multiplier,
	})

	if perfect {
		return g.cashout(true)
	}
	return nil
}

// Cashout banks the current payout and ends the game. Requires at least one
// revealed tile.
func (g *MinesGame) Cashout() error {
	return g.cashout(false)
}

func (g *MinesGame) cashout(perfect bool) error {
	g.mu.Lock()
	if g.session == nil {
		g.mu.Unlock()
		return fmt.Errorf("no active game owned by this client")
	}
	if len(g.revealed) == 0 {
		g.mu.Unlock()
		return fmt.Errorf("reveal at least one tile before cashing out")
	}

	payout := g.sessionBet * g.multiplier
	if perfect {
		payout *= perfectGameBonus
	}
	payout = state.RoundCents(payout)
	multiplier := g.multiplier
	safeCount := len(g.revealed)

	if perfect {
		g.setTransientLocked(fmt.Sprintf("PERFECT GAME! Cashed out $%s!", formatMoney(payout)))
	} else {
		g.setTransientLocked(fmt.Sprintf("Cashed out $%s!", formatMoney(payout)))
	}
	g.mu.Unlock()

	g.wallet.Credit(payout)

	g.store.Send(state.Event{
		Type:        state.EventMinesCashout,
		ClientID:    g.store.ClientID(),
		Username:    g.username(),
		GameID:      g.id,
		SafeCount:   safeCount,
		Multiplier:  multiplier,
		Payout:      payout,
		PerfectGame: perfect,
	})
	g.end(g.timing.WinDisplay)
	return nil
}

// end releases the board and clears the session. The release and the board
// reset ride in one patch so no observer sees an ownerless active game.
func (g *MinesGame) end(cooldown time.Duration) {
	g.mu.Lock()
	var release state.Ownership
	if g.session != nil {
		release = g.session.Release()
	}
	g.clearSessionLocked()
	g.cooldownUntil = time.Now().Add(cooldown)
	g.mu.Unlock()

	g.store.UpdateRoomState(state.RoomPatch{
		MinesGames: map[string]state.MinesGamePatch{
			g.id: {
				Active:            state.Ptr(false),
				Owner:             &release,
				Revealed:          state.Ptr([]int{}),
				CurrentMultiplier: state.Ptr(1.0),
				CurrentPayout:     state.Ptr(0.0),
			},
		},
	})
}

// Reclaim resets a board whose owner's lease has lapsed. Any client may call
// it.
func (g *MinesGame) Reclaim() bool {
	now := time.Now().UnixMilli()
	g.mu.Lock()
	cur := g.last
	g.mu.Unlock()

	if !cur.Owner.Expired(now) {
		return false
	}

	release := cur.Owner.Release()
	g.store.UpdateRoomState(state.RoomPatch{
		MinesGames: map[string]state.MinesGamePatch{
			g.id: {
				Active:            state.Ptr(false),
				Owner:             &release,
				Revealed:          state.Ptr([]int{}),
				CurrentMultiplier: state.Ptr(1.0),
				CurrentPayout:     state.Ptr(0.0),
			},
		},
	})
	return true
}

// abandonSession drops local ownership without touching room state, used
// when a publish failed or the board was reclaimed out from under us.
func (g *MinesGame) abandonSession() {
	g.mu.Lock()
	g.clearSessionLocked()
	g.mu.Unlock()
}

func (g *MinesGame) clearSessionLocked() {
	g.session = nil
	g.sessionBet = 0
	g.mines = nil
	g.revealed = nil
	g.multiplier = 1
	if g.renewStop != nil {
		close(g.renewStop)
		g.renewStop = nil
	}
}

// startRenewal heartbeats the ownership lease while the session lasts, so a
// thinking player is not reclaimed mid-game.
func (g *MinesGame) startRenewal() {
	stop := make(chan struct{})

	g.mu.Lock()
	g.renewStop = stop
	g.mu.Unlock()

	go func() {
		ticker := time.NewTicker(g.timing.LeaseRenewal)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.mu.Lock()
				if g.session == nil {
					g.mu.Unlock()
					return
				}
				renewed := g.session.Renewed(time.Now().UnixMilli() + g.timing.Lease.Milliseconds())
				*g.session = renewed
				g.mu.Unlock()

				g.store.UpdateRoomState(state.RoomPatch{
					MinesGames: map[string]state.MinesGamePatch{
						g.id: {Owner: &renewed},
					},
				})
			}
		}
	}()
}

func (g *MinesGame) applyRemote(s state.MinesGameState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s.Owner.Generation < g.lastGen {
		// Stale write from a previous ownership session.
		return
	}
	g.lastGen = s.Owner.Generation

	if g.session != nil && s.Owner.Generation > g.session.Generation && !s.Owner.HeldBy(g.store.ClientID()) {
		// Someone reclaimed the board from us; abandon the local session.
		g.clearSessionLocked()
	}

	if reflect.DeepEqual(g.last, s) {
		return
	}
	g.last = s
}

func (g *MinesGame) betLocked() float64 {
	if g.session != nil {
		return g.sessionBet
	}
	if g.last.BetAmount > 0 {
		return g.last.BetAmount
	}
	return state.MinBet
}

func (g *MinesGame) mineCountLocked() int {
	if g.session != nil {
		return g.mineCount
	}
	if g.last.MineCount > 0 {
		return g.last.MineCount
	}
	return Difficulties[0]
}

func (g *MinesGame) minePositionsLocked() []int {
	out := make([]int, 0, len(g.mines))
	for p := range g.mines {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (g *MinesGame) username() string {
	if p, ok := g.store.Presence()[g.store.ClientID()]; ok {
		return p.Username
	}
	return ""
}

func (g *MinesGame) setTransientLocked(msg string) {
	g.localMessage = msg
	g.messageEpoch++
	epoch := g.messageEpoch
	time.AfterFunc(g.timing.MessageReset, func() {
		g.mu.Lock()
		if g.messageEpoch == epoch {
			g.localMessage = ""
		}
		g.mu.Unlock()
	})
}

// stepMultiplier is the payout growth for revealing one more safe tile when
// revealedBefore tiles are already open. The fair step (remaining tiles over
// remaining safe tiles) is dampened by the 0.65 power so deep boards do not
// explode.
func stepMultiplier(mineCount, revealedBefore int) float64 {
	remaining := minesGridSize - revealedBefore
	remainingSafe := minesGridSize - mineCount - revealedBefore
	if remainingSafe <= 0 {
		return 1
	}

	increase := float64(remaining)/float64(remainingSafe) - 1
	step := 1.0
	if increase > 0 {
		step = 1 + math.Pow(increase, 0.65)
	}
	if step < 1 {
		step = 1
	}
	return step
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
