package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"DiceLedger/internal/event"
	"DiceLedger/internal/funds"
	"DiceLedger/internal/ledger"
	"DiceLedger/internal/rng"
	"DiceLedger/internal/testutil"
)

func TestGameLogRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	writer := NewGameLogWriter(db)
	hasher := event.NewChainHasher()

	var entries []EntryRow
	for seq := int64(0); seq < 5; seq++ {
		digest := event.BalancesDigest(1_000_000+seq, 1_000_000, seq*10_000)
		prev := hasher.GetPrevHash()
		state := hasher.ComputeHash(seq, digest)
		entries = append(entries, EntryRow{
			Sequence:       seq,
			EventType:      "GameResolved",
			IdempotencyKey: uuid.NewString(),
			Payload:        []byte(`{}`),
			StateHash:      state[:],
			PrevHash:       prev[:],
			Timestamp:      time.Now().UTC(),
		})
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEntryBatch(ctx, tx, entries); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Rewriting the same batch must be a no-op, not an error.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEntryBatch(ctx, tx, entries); err != nil {
		t.Fatalf("idempotent rewrite: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	last, err := writer.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 4 {
		t.Errorf("last sequence = %d, want 4", last)
	}

	var got []EntryRow
	if err := writer.ScanAll(ctx, func(e EntryRow) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("scanned %d entries, want 5", len(got))
	}
	for i, e := range got {
		if e.Sequence != int64(i) {
			t.Errorf("entry %d: sequence = %d", i, e.Sequence)
		}
	}
}

func TestReplayLogRestoresLedger(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	// Drive a live ledger and persist its outputs synchronously.
	persistChan := make(chan ledger.Output, 64)
	led := ledger.New(ledger.Config{}, rng.NewFixedSource(3, 1, 3),
		funds.NewAccountBook(), funds.NewStaticAuthorizer("treasury"),
		persistChan, nil, nil)

	if err := led.Deposit(uuid.New(), "treasury", 10_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, ""); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}
	close(persistChan)

	writer := NewGameLogWriter(db)
	var batch []EntryRow
	for out := range persistChan {
		batch = append(batch, toEntryRow(out))
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEntryBatch(ctx, tx, batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	restored := ledger.New(ledger.Config{}, rng.NewFixedSource(1),
		funds.NewAccountBook(), funds.NewStaticAuthorizer("treasury"),
		nil, nil, nil)
	count, err := ReplayLog(ctx, writer, restored, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 4 {
		t.Errorf("replayed %d entries, want 4", count)
	}

	want, _ := led.ContractStats()
	got, _ := restored.ContractStats()
	if got != want {
		t.Errorf("restored stats = %+v, want %+v", got, want)
	}
	if restored.ChainTip() != led.ChainTip() {
		t.Error("restored chain tip diverges")
	}
}
