package state

// RoomState is the replicated key-value document shared by every member of a
// room. Writes are merge-patches; the relay (or the in-process room) merges
// them last-writer-wins per leaf and broadcasts the full document back to
// every member.
type RoomState struct {
	SlotMachines map[string]SlotMachineState `json:"slotMachines,omitempty"`
	MinesGames   map[string]MinesGameState   `json:"minesGames,omitempty"`
	Transfers    map[string]Transfer         `json:"transfers,omitempty"`
}

// Ownership is the tagged ownership token written atomically with every
// ownership-affecting patch. The generation counter increases on every claim
// and release, so a late-arriving stale write can be detected and discarded
// by comparing generations. LeaseExpiry is unix milliseconds; once it has
// passed, any client may reclaim the game.
//
// None of the fields carry omitempty: the token must always serialize as a
// whole object so a release patch actually clears ClientID on merge.
type Ownership struct {
	ClientID    string `json:"clientId"`
	Generation  uint64 `json:"generation"`
	LeaseExpiry int64  `json:"leaseExpiry"`
}

// Held reports whether some client currently holds the token.
func (o Ownership) Held() bool {
	return o.ClientID != ""
}

// HeldBy reports whether clientID currently holds the token.
func (o Ownership) HeldBy(clientID string) bool {
	return o.ClientID != "" && o.ClientID == clientID
}

// Expired reports whether the lease has lapsed as of nowMillis.
func (o Ownership) Expired(nowMillis int64) bool {
	return o.Held() && o.LeaseExpiry > 0 && o.LeaseExpiry < nowMillis
}

// Claim returns the token a client writes to take ownership.
func (o Ownership) Claim(clientID string, expiry int64) Ownership {
	return Ownership{ClientID: clientID, Generation: o.Generation + 1, LeaseExpiry: expiry}
}

// Release returns the cleared token. The generation still advances so that a
// stale claim from before the release loses the comparison.
func (o Ownership) Release() Ownership {
	return Ownership{Generation: o.Generation + 1}
}

// Renewed returns the same ownership session with an extended lease.
func (o Ownership) Renewed(expiry int64) Ownership {
	o.LeaseExpiry = expiry
	return o
}

// SlotMachineState is the replicated state of one slot machine, keyed by
// machine id under roomState.slotMachines.
//
// The transient fields (FinalReels through FreeSpinActive) are produced at
// spin start and consumed at spin resolution by the owning client; everyone
// else only renders Spinning/Reels/Message.
type SlotMachineState struct {
	Spinning  bool      `json:"spinning"`
	Owner     Ownership `json:"owner"`
	BetAmount float64   `json:"betAmount"`
	Reels     []string  `json:"reels,omitempty"`
	Message   string    `json:"message,omitempty"`

	Winnings            float64  `json:"winnings"`
	FinalReels          []string `json:"finalReels,omitempty"`
	FinalMessage        string   `json:"finalMessage,omitempty"`
	FreeSpinsWon        int      `json:"freeSpinsWon"`
	ShowMultiplierWheel bool     `json:"showMultiplierWheel"`
	FreeSpinActive      bool     `json:"freeSpinActive"`
}

// MinesGameState is the replicated state of one mines board. Mine positions
// never appear here: the owner keeps them client-local so spectators only
// ever learn revealed-safe indices.
type MinesGameState struct {
	Active            bool      `json:"active"`
	Owner             Ownership `json:"owner"`
	BetAmount         float64   `json:"betAmount"`
	MineCount         int       `json:"mineCount"`
	Revealed          []int     `json:"revealed"`
	CurrentMultiplier float64   `json:"currentMultiplier"`
	CurrentPayout     float64   `json:"currentPayout"`
}

// TransferStatus tracks a money-gift intent through its two phases.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferClaimed  TransferStatus = "claimed"
	TransferReverted TransferStatus = "reverted"
)

// Transfer is a replicated money-gift intent. The sender debits itself and
// writes the record as pending; the recipient credits itself and marks it
// claimed; the sender reverts an intent that stays pending past its timeout.
type Transfer struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Amount    float64        `json:"amount"`
	Status    TransferStatus `json:"status"`
	CreatedAt int64          `json:"createdAt"`
}

// Vec3 is a replicated position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is a replicated orientation.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Presence is one client's replicated record. Only the owning client ever
// writes it; other clients ask for changes through presence-update requests.
type Presence struct {
	Username       string  `json:"username,omitempty"`
	Position       *Vec3   `json:"position,omitempty"`
	Quaternion     *Quat   `json:"quaternion,omitempty"`
	LeftArmRaised  bool    `json:"leftArmRaised"`
	RightArmRaised bool    `json:"rightArmRaised"`
	Money          float64 `json:"money"`
}

// PresenceRequestGiveMoney asks the addressed client to credit itself.
const PresenceRequestGiveMoney = "giveMoney"

// PresenceRequest is a targeted presence-mutation request. The store never
// applies it; the addressed client decides whether to honor it by updating
// its own presence.
type PresenceRequest struct {
	Type       string  `json:"type"`
	Amount     float64 `json:"amount,omitempty"`
	TransferID string  `json:"transferId,omitempty"`
}
