package query

import (
	"context"
	"database/sql"

	"DiceLedger/internal/ledger"
	"DiceLedger/internal/money"
)

// Service provides read-only views over the live ledger. Stats are derived
// from the same state bet resolution mutates, so they can never drift from
// the game history. Every response carries an as_of_game watermark: the id
// of the last game included in the view.
type Service struct {
	led *ledger.Ledger
	db  *sql.DB // nil when running without Postgres
}

func NewService(led *ledger.Ledger, db *sql.DB) *Service {
	return &Service{led: led, db: db}
}

// GetGame returns the immutable record of one resolved game.
func (s *Service) GetGame(id int64) (*GameResponse, error) {
	game, err := s.led.GameDetails(id)
	if err != nil {
		return nil, err
	}
	return &GameResponse{
		GameID:      game.ID,
		BetID:       game.BetID,
		Player:      game.Player,
		Stake:       game.Stake,
		StakeUnits:  money.FormatUnits(game.Stake),
		Prediction:  game.Prediction,
		Outcome:     game.Outcome,
		Won:         game.Won,
		Payout:      game.Payout,
		PayoutUnits: money.FormatUnits(game.Payout),
		Timestamp:   game.Timestamp,
		AsOfGame:    s.led.LastGameID(),
	}, nil
}

// GetPlayerStats returns a player's win/loss counters. Unknown players
// read as all zeros.
func (s *Service) GetPlayerStats(player string) (*PlayerStatsResponse, error) {
	view, err := s.led.PlayerStats(player)
	if err != nil {
		return nil, err
	}
	return &PlayerStatsResponse{
		Player:     player,
		Wins:       view.Wins,
		Losses:     view.Losses,
		TotalGames: view.TotalGames,
		WinRate:    view.WinRate,
		AsOfGame:   s.led.LastGameID(),
	}, nil
}

// GetContractStats returns the global totals as one consistent snapshot.
func (s *Service) GetContractStats() (*ContractStatsResponse, error) {
	view, err := s.led.ContractStats()
	if err != nil {
		return nil, err
	}
	return &ContractStatsResponse{
		TotalGames:        view.TotalGames,
		HeldFunds:         view.HeldFunds,
		HeldFundsUnits:    money.FormatUnits(view.HeldFunds),
		HouseBalance:      view.HouseBalance,
		HouseBalanceUnits: money.FormatUnits(view.HouseBalance),
		TotalVolume:       view.TotalVolume,
		TotalVolumeUnits:  money.FormatUnits(view.TotalVolume),
		AsOfGame:          view.TotalGames,
	}, nil
}

// VerifyIntegrity checks the in-memory accounting invariants and, when
// Postgres is attached, hash chain continuity across the persisted log.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{AsOfGame: s.led.LastGameID()}

	if err := s.led.CheckInvariants(); err != nil {
		report.StateErrors = append(report.StateErrors, err.Error())
	}

	if s.db != nil {
		report.LogChecked = true
		rows, err := s.db.QueryContext(ctx, `
			SELECT e1.sequence
			FROM game_log.entries e1
			LEFT JOIN game_log.entries e2 ON e2.sequence = e1.sequence - 1
			WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
			ORDER BY e1.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.StateErrors) == 0
	return report, nil
}
