package query

import (
	"time"

	"github.com/google/uuid"
)

// GameResponse is one resolved game for API queries. Amounts are
// micro-units; the *_units fields carry the human-readable decimal form.
type GameResponse struct {
	GameID      int64     `json:"game_id"`
	BetID       uuid.UUID `json:"bet_id"`
	Player      string    `json:"player"`
	Stake       int64     `json:"stake"`
	StakeUnits  string    `json:"stake_units"`
	Prediction  int       `json:"prediction"`
	Outcome     int       `json:"outcome"`
	Won         bool      `json:"won"`
	Payout      int64     `json:"payout"`
	PayoutUnits string    `json:"payout_units"`
	Timestamp   time.Time `json:"timestamp"`
	AsOfGame    int64     `json:"as_of_game"`
}

// PlayerStatsResponse is a player's derived win/loss view.
type PlayerStatsResponse struct {
	Player     string `json:"player"`
	Wins       int64  `json:"wins"`
	Losses     int64  `json:"losses"`
	TotalGames int64  `json:"total_games"`
	WinRate    int64  `json:"win_rate_pct"`
	AsOfGame   int64  `json:"as_of_game"`
}

// ContractStatsResponse is the global totals snapshot.
type ContractStatsResponse struct {
	TotalGames        int64  `json:"total_games"`
	HeldFunds         int64  `json:"held_funds"`
	HeldFundsUnits    string `json:"held_funds_units"`
	HouseBalance      int64  `json:"house_balance"`
	HouseBalanceUnits string `json:"house_balance_units"`
	TotalVolume       int64  `json:"total_volume"`
	TotalVolumeUnits  string `json:"total_volume_units"`
	AsOfGame          int64  `json:"as_of_game"`
}

// IntegrityReport is the result of an integrity verification pass.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	StateErrors     []string `json:"state_errors,omitempty"`
	LogChecked      bool    `json:"log_checked"`
	AsOfGame        int64   `json:"as_of_game"`
}
