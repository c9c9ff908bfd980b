package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"DiceLedger/internal/ledger"
	"DiceLedger/internal/observability"
)

// ReplayLog rebuilds ledger state from the persisted game log. Every entry
// is applied in sequence order and the hash chain is re-verified against
// the stored state hashes. Returns the number of entries replayed.
func ReplayLog(ctx context.Context, writer *GameLogWriter, led *ledger.Ledger, metrics *observability.Metrics) (int64, error) {
	start := time.Now()
	var count int64

	err := writer.ScanAll(ctx, func(e EntryRow) error {
		if err := led.Replay(ledger.ReplayEntry{
			Sequence:       e.Sequence,
			EventType:      e.EventType,
			IdempotencyKey: e.IdempotencyKey,
			Payload:        e.Payload,
			StateHash:      e.StateHash,
		}); err != nil {
			return fmt.Errorf("replay entry seq %d: %w", e.Sequence, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	if metrics != nil {
		metrics.ReplayEntriesTotal.Add(float64(count))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	log.Printf("INFO: replayed %d game log entries in %v", count, time.Since(start))
	return count, nil
}
