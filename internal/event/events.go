package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeGameResolved
	EventTypeHouseBalanceChanged
	EventTypeFundsWithdrawn
	EventTypeFundsDeposited
	EventTypeUnsolicitedCredit
)

func (et EventType) String() string {
	switch et {
	case EventTypeGameResolved:
		return "GameResolved"
	case EventTypeHouseBalanceChanged:
		return "HouseBalanceChanged"
	case EventTypeFundsWithdrawn:
		return "FundsWithdrawn"
	case EventTypeFundsDeposited:
		return "FundsDeposited"
	case EventTypeUnsolicitedCredit:
		return "UnsolicitedCredit"
	default:
		return "Unknown"
	}
}

// Envelope wraps every committed state transition in the game log.
type Envelope struct {
	// Global monotonic sequence assigned by the ledger
	Sequence int64

	// Stable idempotency key (bet id for resolutions, op id for treasury)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	Timestamp time.Time

	// SHA-256 of balances AFTER applying this transition
	StateHash [32]byte

	// Previous transition's state hash (chain integrity)
	PrevHash [32]byte
}

// GameResolved carries the full immutable game record of one resolved bet.
type GameResolved struct {
	BetID      uuid.UUID `json:"bet_id"`
	GameID     int64     `json:"game_id"`
	Player     string    `json:"player"`
	Stake      int64     `json:"stake"`
	Prediction int       `json:"prediction"`
	Outcome    int       `json:"outcome"`
	Won        bool      `json:"won"`
	Payout     int64     `json:"payout"`
	Timestamp  time.Time `json:"timestamp"`
}

// HouseBalanceChanged is emitted on every mutation of the house balance.
type HouseBalanceChanged struct {
	NewBalance int64 `json:"new_balance"`
	HeldFunds  int64 `json:"held_funds"`
}

// FundsWithdrawn records a privileged treasury withdrawal.
type FundsWithdrawn struct {
	OpID   uuid.UUID `json:"op_id"`
	Actor  string    `json:"actor"`
	Amount int64     `json:"amount"`
}

// FundsDeposited records a privileged treasury deposit.
type FundsDeposited struct {
	OpID   uuid.UUID `json:"op_id"`
	Actor  string    `json:"actor"`
	Amount int64     `json:"amount"`
}

// UnsolicitedCredit records inbound value not tied to any bet,
// credited entirely to the house balance.
type UnsolicitedCredit struct {
	OpID   uuid.UUID `json:"op_id"`
	From   string    `json:"from"`
	Amount int64     `json:"amount"`
}
