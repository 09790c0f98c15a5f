package games

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"diamonds-club/internal/economy"
	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

// minesForSeed replays the owner's minefield draw: the first rng consumption
// in these tests is the Perm behind Start.
func minesForSeed(seed int64, mineCount int) map[int]bool {
	positions := rand.New(rand.NewSource(seed)).Perm(minesGridSize)[:mineCount]
	out := make(map[int]bool, mineCount)
	for _, p := range positions {
		out[p] = true
	}
	return out
}

func safeTiles(mines map[int]bool) []int {
	var out []int
	for i := 0; i < minesGridSize; i++ {
		if !mines[i] {
			out = append(out, i)
		}
	}
	return out
}

func TestMinesFullGame(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	const seed = 3
	ana := joinPlayer(r, "ana", 100, seed)
	ben := joinPlayer(r, "ben", 100, 4)

	g1 := ana.reg.AddMinesGame("mines-1")
	g2 := ben.reg.AddMinesGame("mines-1")
	ana.reg.Start()
	ben.reg.Start()
	r.Sync()

	var mu sync.Mutex
	var events []state.Event
	ben.client.OnMessage(func(ev state.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := g1.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := ana.wallet.Balance(); got != 99 {
		t.Errorf("balance after bet = %v, want 99", got)
	}
	r.Sync()

	// Spectator sees the game but never the minefield.
	snap := g2.Snapshot()
	if !snap.Active || !snap.InUse {
		t.Errorf("spectator snapshot %+v, want active and in use", snap)
	}
	if len(snap.Mines) != 0 {
		t.Errorf("spectator can see mine positions: %v", snap.Mines)
	}

	// Contention and spectating restrictions.
	if err := g2.Start(); err != ErrGameInUse {
		t.Errorf("contended start error = %v, want ErrGameInUse", err)
	}
	if got := ben.wallet.Balance(); got != 100 {
		t.Errorf("loser of the contention was charged: balance %v", got)
	}
	if err := g2.Reveal(0); err == nil {
		t.Error("a spectator must not be able to reveal tiles")
	}
	if err := g1.Cashout(); err == nil {
		t.Error("cashout before the first reveal must fail")
	}

	mines := minesForSeed(seed, Difficulties[0])
	safe := safeTiles(mines)

	if err := g1.Reveal(safe[0]); err != nil {
		t.Fatalf("reveal failed: %v", err)
	}
	if err := g1.Reveal(safe[0]); err == nil {
		t.Error("revealing the same tile twice must fail")
	}
	if err := g1.Reveal(safe[1]); err != nil {
		t.Fatalf("reveal failed: %v", err)
	}

	// Two safe reveals with 3 mines compound to the golden multiplier.
	const wantMultiplier = 1.5054
	if got := g1.Snapshot().CurrentMultiplier; math.Abs(got-wantMultiplier) > 1e-9 {
		t.Errorf("multiplier = %v, want %v", got, wantMultiplier)
	}

	r.Sync()
	snap = g2.Snapshot()
	if len(snap.Revealed) != 2 {
		t.Errorf("spectator revealed = %v, want 2 tiles", snap.Revealed)
	}
	if math.Abs(snap.CurrentMultiplier-wantMultiplier) > 1e-9 {
		t.Errorf("spectator multiplier = %v, want %v", snap.CurrentMultiplier, wantMultiplier)
	}
	if len(snap.Mines) != 0 {
		t.Errorf("spectator can see mine positions mid-game: %v", snap.Mines)
	}

	if err := g1.Cashout(); err != nil {
		t.Fatalf("cashout failed: %v", err)
	}
	wantPayout := state.RoundCents(1 * wantMultiplier)
	if got := ana.wallet.Balance(); math.Abs(got-(99+wantPayout)) > 1e-9 {
		t.Errorf("balance after cashout = %v, want %v", got, 99+wantPayout)
	}

	r.Sync()
	rs := ana.client.RoomState().MinesGames["mines-1"]
	if rs.Active || rs.Owner.Held() {
		t.Errorf("board not released after cashout: %+v", rs)
	}
	if len(rs.Revealed) != 0 {
		t.Errorf("board not reset after cashout: %v", rs.Revealed)
	}

	mu.Lock()
	defer mu.Unlock()
	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	if counts[state.EventMinesGameStart] != 1 || counts[state.EventMinesReveal] != 2 || counts[state.EventMinesCashout] != 1 {
		t.Errorf("event counts = %v", counts)
	}
}

func TestMinesBust(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	const seed = 11
	ana := joinPlayer(r, "ana", 50, seed)
	ben := joinPlayer(r, "ben", 50, 12)

	g1 := ana.reg.AddMinesGame("mines-1")
	g2 := ben.reg.AddMinesGame("mines-1")
	ana.reg.Start()
	ben.reg.Start()
	r.Sync()

	var mu sync.Mutex
	var busts []state.Event
	ben.client.OnMessage(func(ev state.Event) {
		if ev.Type == state.EventMinesBust {
			mu.Lock()
			busts = append(busts, ev)
			mu.Unlock()
		}
	})

	if err := g1.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mines := minesForSeed(seed, Difficulties[0])
	var mine int
	for p := range mines {
		mine = p
		break
	}

	if err := g1.Reveal(mine); err != nil {
		t.Fatalf("reveal failed: %v", err)
	}

	// Bet already lost at start; busting costs nothing extra.
	if got := ana.wallet.Balance(); got != 49 {
		t.Errorf("balance after bust = %v, want 49", got)
	}

	// The owner gets the post-mortem minefield.
	if got := g1.Snapshot().Mines; len(got) != Difficulties[0] {
		t.Errorf("bust reveal shows %d mines, want %d", len(got), Difficulties[0])
	}

	r.Sync()
	rs := ana.client.RoomState().MinesGames["mines-1"]
	if rs.Active || rs.Owner.Held() {
		t.Errorf("board not released after bust: %+v", rs)
	}
	if g2.Snapshot().Active {
		t.Error("spectator still sees an active game after the bust")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(busts) != 1 {
		t.Errorf("bust events = %d, want 1", len(busts))
	}

	// Further reveals are rejected once the session is over.
	if err := g1.Reveal(0); err == nil {
		t.Error("reveal after bust must fail")
	}
}

func TestMinesPerfectGame(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	const seed = 21
	ana := joinPlayer(r, "ana", 100, seed)
	g := ana.reg.AddMinesGame("mines-1")
	ana.reg.Start()
	r.Sync()

	var mu sync.Mutex
	var cashouts []state.Event
	ana.client.OnMessage(func(ev state.Event) {
		if ev.Type == state.EventMinesCashout {
			mu.Lock()
			cashouts = append(cashouts, ev)
			mu.Unlock()
		}
	})

	if err := g.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mines := minesForSeed(seed, Difficulties[0])
	for _, tile := range safeTiles(mines) {
		if err := g.Reveal(tile); err != nil {
			t.Fatalf("reveal %d failed: %v", tile, err)
		}
	}

	r.Sync()
	mu.Lock()
	if len(cashouts) != 1 {
		mu.Unlock()
		t.Fatalf("cashout events = %d, want the automatic perfect-game cashout", len(cashouts))
	}
	ev := cashouts[0]
	mu.Unlock()

	if !ev.PerfectGame {
		t.Error("perfect game not flagged on the cashout event")
	}
	if ev.SafeCount != minesGridSize-Difficulties[0] {
		t.Errorf("safe count = %d, want %d", ev.SafeCount, minesGridSize-Difficulties[0])
	}

	wantBalance := 99 + ev.Payout
	if got := ana.wallet.Balance(); math.Abs(got-wantBalance) > 1e-9 {
		t.Errorf("balance = %v, want %v", got, wantBalance)
	}
	// The bonus makes the payout strictly better than the raw multiplier.
	if ev.Payout <= ev.Multiplier*1 {
		t.Errorf("payout %v should include the perfect-game bonus over %v", ev.Payout, ev.Multiplier)
	}
}

func TestMinesIdleOnlyControls(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	ana := joinPlayer(r, "ana", 100, 31)
	g := ana.reg.AddMinesGame("mines-1")
	ana.reg.Start()
	r.Sync()

	if err := g.CycleDifficulty(); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	r.Sync()
	if got := ana.client.RoomState().MinesGames["mines-1"].MineCount; got != Difficulties[1] {
		t.Errorf("mine count = %d, want %d", got, Difficulties[1])
	}

	if err := g.AdjustBet(1); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	r.Sync()
	if got := ana.client.RoomState().MinesGames["mines-1"].BetAmount; got != 2 {
		t.Errorf("bet = %v, want 2", got)
	}

	if err := g.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	r.Sync()

	if err := g.AdjustBet(1); err != ErrGameInUse {
		t.Errorf("bet change on an active board = %v, want ErrGameInUse", err)
	}
	if err := g.CycleDifficulty(); err != ErrGameInUse {
		t.Errorf("difficulty change on an active board = %v, want ErrGameInUse", err)
	}
}

func TestMinesDifficultyWrapsAround(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	ana := joinPlayer(r, "ana", 100, 41)
	g := ana.reg.AddMinesGame("mines-1")
	ana.reg.Start()
	r.Sync()

	for range Difficulties {
		if err := g.CycleDifficulty(); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		r.Sync()
	}

	if got := ana.client.RoomState().MinesGames["mines-1"].MineCount; got != Difficulties[0] {
		t.Errorf("mine count = %d, want wrap back to %d", got, Difficulties[0])
	}
}

func TestMinesReclaimExpiredLease(t *testing.T) {
	r := room.NewLocalRoom()
	defer r.Close()

	timing := testTiming()
	timing.Lease = 10 * time.Millisecond
	timing.LeaseRenewal = time.Hour // owner never renews; it is as good as gone

	anaClient := r.Join("ana")
	anaWallet := economy.NewWallet(anaClient, 100)
	anaReg := NewRegistry(anaClient, anaWallet, timing, rand.New(rand.NewSource(51)))
	benClient := r.Join("ben")
	benWallet := economy.NewWallet(benClient, 100)
	benReg := NewRegistry(benClient, benWallet, timing, rand.New(rand.NewSource(52)))

	g1 := anaReg.AddMinesGame("mines-1")
	g2 := benReg.AddMinesGame("mines-1")
	anaReg.Start()
	benReg.Start()
	r.Sync()

	if err := g1.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	r.Sync()

	if g2.Reclaim() {
		t.Error("reclaim must not succeed while the lease is live")
	}

	time.Sleep(30 * time.Millisecond)
	r.Sync()

	if !g2.Reclaim() {
		t.Fatal("reclaim of an expired lease should succeed")
	}
	r.Sync()

	rs := benClient.RoomState().MinesGames["mines-1"]
	if rs.Active || rs.Owner.Held() {
		t.Errorf("board not reset by reclaim: %+v", rs)
	}

	// The orphaned owner's session is dead.
	if err := g1.Reveal(0); err == nil {
		t.Error("orphaned owner can still reveal after reclaim")
	}

	// The board is startable again.
	if err := g2.Start(); err != nil {
		t.Errorf("start after reclaim failed: %v", err)
	}
}
