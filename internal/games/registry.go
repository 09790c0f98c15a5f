// Package games implements the shared mini-games living inside a room's
// replicated state: slot machines and mines boards. Each game object exists
// once per room; one client owns it at a time while everyone else spectates
// the same state. Ownership is a generation-counted, leased token written
// into room state alongside every ownership-affecting change.
package games

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"diamonds-club/internal/economy"
	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

// ErrGameInUse is returned when another client currently owns the game.
var ErrGameInUse = fmt.Errorf("game is in use by another player")

// Timing groups the delays pacing game flow and the ownership lease. Tests
// shrink these; production uses DefaultTiming.
type Timing struct {
	SpinDuration  time.Duration // reels spin before the first stop
	ReelStopDelay time.Duration // extra delay per reel stop
	MessageReset  time.Duration // transient messages revert after this
	FreeSpinDelay time.Duration // pause between automatic free spins
	WinDisplay    time.Duration // mines result shown before controls re-enable
	BustDisplay   time.Duration

	Lease        time.Duration // ownership lease length
	LeaseRenewal time.Duration // renewal heartbeat while a game is active
}

// DefaultTiming returns the production pacing.
func DefaultTiming() Timing {
	return Timing{
		SpinDuration:  1500 * time.Millisecond,
		ReelStopDelay: 250 * time.Millisecond,
		MessageReset:  3 * time.Second,
		FreeSpinDelay: 2 * time.Second,
		WinDisplay:    2 * time.Second,
		BustDisplay:   3 * time.Second,
		Lease:         10 * time.Second,
		LeaseRenewal:  3 * time.Second,
	}
}

// lockedRand makes a rand.Rand safe to share between the caller and the
// timer goroutines that resolve spins.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(rng *rand.Rand) *lockedRand {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &lockedRand{rng: rng}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Perm(n)
}

// spinSession counts one client's slot spins across every machine in the
// room. The welcome bonus is a one-time, per-client event: it lands on the
// session's 10th spin no matter which machines the spins were split over.
type spinSession struct {
	mu        sync.Mutex
	spins     int
	newPlayer bool
}

// recordSpin counts a spin and reports whether it carries the welcome bonus.
func (s *spinSession) recordSpin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spins++
	if s.newPlayer && s.spins == welcomeBonusSpin {
		s.newPlayer = false
		return true
	}
	return false
}

// Registry owns this client's view-models for every game in the room. It
// subscribes to room state once and fans each update out to the games, which
// re-derive themselves and ignore updates that change nothing.
type Registry struct {
	store   room.Store
	wallet  *economy.Wallet
	timing  Timing
	rng     *lockedRand
	session *spinSession

	mu      sync.Mutex
	slots   map[string]*SlotMachine
	mines   map[string]*MinesGame
	started bool
}

// NewRegistry creates a registry. rng may be nil, in which case a
// time-seeded source is used.
func NewRegistry(store room.Store, wallet *economy.Wallet, timing Timing, rng *rand.Rand) *Registry {
	return &Registry{
		store:   store,
		wallet:  wallet,
		timing:  timing,
		rng:     newLockedRand(rng),
		session: &spinSession{newPlayer: true},
		slots:   map[string]*SlotMachine{},
		mines:   map[string]*MinesGame{},
	}
}

// Start subscribes the registry to room state and applies the current
// snapshot. Call once, after adding the games.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.store.SubscribeRoomState(r.onRoomState)
	r.onRoomState(r.store.RoomState())
}

// AddSlotMachine registers a slot machine view-model and seeds its
// replicated state if no member wrote it yet. Seeding twice is harmless:
// every seeder writes the same idle values.
func (r *Registry) AddSlotMachine(id string, theme Theme) *SlotMachine {
	r.mu.Lock()
	if m, ok := r.slots[id]; ok {
		r.mu.Unlock()
		return m
	}
	m := newSlotMachine(id, theme, r.store, r.wallet, r.timing, r.rng, r.session)
	r.slots[id] = m
	r.mu.Unlock()

	// The seed writes idle cosmetics only; Spinning is left absent so a seed
	// racing a live spin cannot knock it over.
	if _, ok := r.store.RoomState().SlotMachines[id]; !ok {
		r.store.UpdateRoomState(state.RoomPatch{
			SlotMachines: map[string]state.SlotMachinePatch{
				id: {
					BetAmount: state.Ptr(1.0),
					Message:   state.Ptr(theme.Name),
				},
			},
		})
	}
	return m
}

// AddMinesGame registers a mines board view-model and seeds its replicated
// state if absent.
func (r *Registry) AddMinesGame(id string) *MinesGame {
	r.mu.Lock()
	if g, ok := r.mines[id]; ok {
		r.mu.Unlock()
		return g
	}
	g := newMinesGame(id, r.store, r.wallet, r.timing, r.rng)
	r.mines[id] = g
	r.mu.Unlock()

	// Idle cosmetics only; Active and Revealed stay absent so a seed racing
	// a live game cannot reset it.
	if _, ok := r.store.RoomState().MinesGames[id]; !ok {
		r.store.UpdateRoomState(state.RoomPatch{
			MinesGames: map[string]state.MinesGamePatch{
				id: {
					BetAmount:         state.Ptr(1.0),
					MineCount:         state.Ptr(Difficulties[0]),
					CurrentMultiplier: state.Ptr(1.0),
				},
			},
		})
	}
	return g
}

// SlotMachine returns a registered slot machine, or nil.
func (r *Registry) SlotMachine(id string) *SlotMachine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id]
}

// MinesGame returns a registered mines board, or nil.
func (r *Registry) MinesGame(id string) *MinesGame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mines[id]
}

func (r *Registry) onRoomState(rs state.RoomState) {
	r.mu.Lock()
	slots := make([]*SlotMachine, 0, len(r.slots))
	for _, m := range r.slots {
		slots = append(slots, m)
	}
	mines := make([]*MinesGame, 0, len(r.mines))
	for _, g := range r.mines {
		mines = append(mines, g)
	}
	r.mu.Unlock()

	for _, m := range slots {
		if s, ok := rs.SlotMachines[m.id]; ok {
			m.applyRemote(s)
		}
	}
	for _, g := range mines {
		if s, ok := rs.MinesGames[g.id]; ok {
			g.applyRemote(s)
		}
	}
}
