package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"DiceLedger/internal/event"
)

// ReplayEntry is one persisted game-log row fed back through the ledger on
// startup. Replay applies the recorded mutations without drawing, without
// transfers, and without emitting — the log already holds the committed
// transitions — and re-derives the hash chain to detect log tampering.
type ReplayEntry struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
}

// Replay applies one log entry. Entries must arrive in sequence order.
func (l *Ledger) Replay(e ReplayEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Sequence != l.sequence {
		return fmt.Errorf("replay sequence gap: have %d, want %d", e.Sequence, l.sequence)
	}

	switch e.EventType {
	case event.EventTypeGameResolved.String():
		var g event.GameResolved
		if err := json.Unmarshal(e.Payload, &g); err != nil {
			return fmt.Errorf("unmarshal GameResolved at seq %d: %w", e.Sequence, err)
		}
		if g.GameID != l.nextGameID {
			return fmt.Errorf("replay game id gap: have %d, want %d", g.GameID, l.nextGameID)
		}

		l.heldFunds += g.Stake
		rec := l.playerRecord(g.Player)
		if g.Won {
			l.heldFunds -= g.Payout
			l.winDeficit += g.Payout - g.Stake
			rec.Wins++
		} else {
			l.houseBalance += g.Stake
			rec.Losses++
		}
		l.history[g.GameID] = &Game{
			ID:         g.GameID,
			BetID:      g.BetID,
			Player:     g.Player,
			Stake:      g.Stake,
			Prediction: g.Prediction,
			Outcome:    g.Outcome,
			Won:        g.Won,
			Payout:     g.Payout,
			Timestamp:  g.Timestamp,
		}
		l.totalVolume += g.Stake
		l.nextGameID++
		l.dedup.Add(g.BetID.String())

	case event.EventTypeFundsDeposited.String():
		var d event.FundsDeposited
		if err := json.Unmarshal(e.Payload, &d); err != nil {
			return fmt.Errorf("unmarshal FundsDeposited at seq %d: %w", e.Sequence, err)
		}
		l.heldFunds += d.Amount
		l.houseBalance += d.Amount

	case event.EventTypeFundsWithdrawn.String():
		var w event.FundsWithdrawn
		if err := json.Unmarshal(e.Payload, &w); err != nil {
			return fmt.Errorf("unmarshal FundsWithdrawn at seq %d: %w", e.Sequence, err)
		}
		l.heldFunds -= w.Amount
		l.houseBalance -= w.Amount

	case event.EventTypeUnsolicitedCredit.String():
		var u event.UnsolicitedCredit
		if err := json.Unmarshal(e.Payload, &u); err != nil {
			return fmt.Errorf("unmarshal UnsolicitedCredit at seq %d: %w", e.Sequence, err)
		}
		l.heldFunds += u.Amount
		l.houseBalance += u.Amount

	default:
		return fmt.Errorf("unknown event type %q at seq %d", e.EventType, e.Sequence)
	}

	digest := event.BalancesDigest(l.heldFunds, l.houseBalance, l.totalVolume)
	hash := l.hasher.ComputeHash(e.Sequence, digest)
	if len(e.StateHash) == 32 && !bytes.Equal(hash[:], e.StateHash) {
		return fmt.Errorf("state hash mismatch at seq %d: log diverges from recomputed state", e.Sequence)
	}

	l.sequence = e.Sequence + 1
	return nil
}
