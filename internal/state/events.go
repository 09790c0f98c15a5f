package state

// Event types carried over the transient broadcast channel. These are
// fire-and-forget notifications (chat lines, game announcements) and are
// never persisted as room state.
const (
	EventChat           = "chat"
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventMoneySent      = "moneySent"
	EventMoneySendError = "moneySendError"
	EventMinesGameStart = "minesGameStart"
	EventMinesReveal    = "minesReveal"
	EventMinesCashout   = "minesCashout"
	EventMinesBust      = "minesBust"
)

// Event is a transient room broadcast. Only the fields relevant to a given
// Type are populated.
type Event struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`

	GameID      string  `json:"gameId,omitempty"`
	BetAmount   float64 `json:"betAmount,omitempty"`
	MineCount   int     `json:"mineCount,omitempty"`
	Index       int     `json:"index,omitempty"`
	SafeCount   int     `json:"safeCount,omitempty"`
	Multiplier  float64 `json:"multiplier,omitempty"`
	Payout      float64 `json:"payout,omitempty"`
	PerfectGame bool    `json:"perfectGame,omitempty"`

	RecipientID       string  `json:"recipientId,omitempty"`
	RecipientUsername string  `json:"recipientUsername,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
}
