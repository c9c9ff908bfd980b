package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// EntryRow is one row of game_log.entries: a committed ledger transition
// with its hash chain links. The payload column holds the JSON-encoded
// event body.
type EntryRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// GameLogWriter appends batches of entries to Postgres. Writes are
// idempotent on sequence, so a retried batch that partially landed is safe
// to resend in full.
type GameLogWriter struct {
	db *sql.DB
}

func NewGameLogWriter(db *sql.DB) *GameLogWriter {
	return &GameLogWriter{db: db}
}

// WriteEntryBatch writes a batch using a single multi-row INSERT inside tx.
func (w *GameLogWriter) WriteEntryBatch(ctx context.Context, tx *sql.Tx, entries []EntryRow) error {
	if len(entries) == 0 {
		return nil
	}

	query := `INSERT INTO game_log.entries
		(sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*7)

	for i, e := range entries {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ScanAll streams every entry in sequence order through fn. Used for
// startup replay.
func (w *GameLogWriter) ScanAll(ctx context.Context, fn func(EntryRow) error) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp
		FROM game_log.entries
		ORDER BY sequence ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e EntryRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSequence returns the highest persisted sequence, or -1 when the log
// is empty.
func (w *GameLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM game_log.entries`).Scan(&seq)
	if err != nil {
		return -1, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// MarshalPayload JSON-encodes an event payload for the payload column.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
