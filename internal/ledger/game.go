package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Game is the immutable record of one resolved bet. Created fully populated
// in a single atomic step inside ResolveBet; never mutated afterward.
type Game struct {
	ID         int64
	BetID      uuid.UUID
	Player     string
	Stake      int64
	Prediction int
	Outcome    int
	Won        bool
	Payout     int64 // zero when lost
	Timestamp  time.Time
}

// PlayerRecord holds derived win/loss counters for one player.
// Incremented exactly once per resolved game, never decremented outside
// a transfer rollback, never reset.
type PlayerRecord struct {
	Wins   int64
	Losses int64
}

// Receipt confirms a resolved bet back to the caller.
type Receipt struct {
	GameID int64
	Game   *Game
}
