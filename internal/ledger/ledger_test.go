package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"DiceLedger/internal/event"
	"DiceLedger/internal/money"
	"DiceLedger/internal/rng"
)

func marshalPayload(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

// fakeTransfer records outbound transfers and optionally fails them.
type fakeTransfer struct {
	mu       sync.Mutex
	fail     error
	calls    []transferCall
	callback func(*fakeTransfer) error // invoked during Transfer, for reentrancy tests
}

type transferCall struct {
	to     string
	amount int64
}

func (f *fakeTransfer) Transfer(to string, amount int64) error {
	f.mu.Lock()
	f.calls = append(f.calls, transferCall{to, amount})
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		if err := cb(f); err != nil {
			return err
		}
	}
	return f.fail
}

func (f *fakeTransfer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type allowAll struct{}

func (allowAll) Authorize(string) bool { return true }

func newTestLedger(t *testing.T, outcomes ...int) (*Ledger, *fakeTransfer) {
	t.Helper()
	transfer := &fakeTransfer{}
	led := New(Config{}, rng.NewFixedSource(outcomes...), transfer, allowAll{}, nil, nil, nil)
	led.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0).UTC() })
	return led, transfer
}

func fundHouse(t *testing.T, led *Ledger, amount int64) {
	t.Helper()
	if err := led.Deposit(uuid.New(), "treasury", amount); err != nil {
		t.Fatalf("fund house: %v", err)
	}
}

func TestResolveBetWin(t *testing.T) {
	led, transfer := newTestLedger(t, 3)
	fundHouse(t, led, 10_000_000) // 10 units

	receipt, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, "")
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}

	if receipt.GameID != 1 {
		t.Errorf("game id = %d, want 1", receipt.GameID)
	}
	if !receipt.Game.Won {
		t.Fatal("expected a win")
	}
	// 0.01 stake at 5x minus 2% house edge pays 0.049
	if receipt.Game.Payout != 49_000 {
		t.Errorf("payout = %d, want 49000", receipt.Game.Payout)
	}

	if transfer.callCount() != 1 {
		t.Fatalf("transfer calls = %d, want 1", transfer.callCount())
	}
	if got := transfer.calls[0]; got.to != "alice" || got.amount != 49_000 {
		t.Errorf("transfer = %+v, want alice/49000", got)
	}

	stats, err := led.ContractStats()
	if err != nil {
		t.Fatalf("ContractStats: %v", err)
	}
	// Held grows by the stake and shrinks by the payout.
	if want := int64(10_000_000 + 10_000 - 49_000); stats.HeldFunds != want {
		t.Errorf("held funds = %d, want %d", stats.HeldFunds, want)
	}
	// The house balance does not absorb the stake on a win.
	if stats.HouseBalance != 10_000_000 {
		t.Errorf("house balance = %d, want 10000000", stats.HouseBalance)
	}
	if stats.TotalVolume != 10_000 {
		t.Errorf("total volume = %d, want 10000", stats.TotalVolume)
	}

	player, err := led.PlayerStats("alice")
	if err != nil {
		t.Fatalf("PlayerStats: %v", err)
	}
	if player.Wins != 1 || player.Losses != 0 {
		t.Errorf("player record = %d/%d, want 1/0", player.Wins, player.Losses)
	}
}

func TestResolveBetLoss(t *testing.T) {
	led, transfer := newTestLedger(t, 4)
	fundHouse(t, led, 10_000_000)

	receipt, err := led.ResolveBet(uuid.New(), "bob", 500_000, 2, "")
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if receipt.Game.Won {
		t.Fatal("expected a loss")
	}
	if receipt.Game.Payout != 0 {
		t.Errorf("payout = %d, want 0", receipt.Game.Payout)
	}
	if transfer.callCount() != 0 {
		t.Errorf("transfer calls = %d, want 0", transfer.callCount())
	}

	stats, _ := led.ContractStats()
	if want := int64(10_000_000 + 500_000); stats.HeldFunds != want {
		t.Errorf("held funds = %d, want %d", stats.HeldFunds, want)
	}
	if want := int64(10_000_000 + 500_000); stats.HouseBalance != want {
		t.Errorf("house balance = %d, want %d", stats.HouseBalance, want)
	}

	player, _ := led.PlayerStats("bob")
	if player.Wins != 0 || player.Losses != 1 {
		t.Errorf("player record = %d/%d, want 0/1", player.Wins, player.Losses)
	}
}

func TestStakeBoundsRejected(t *testing.T) {
	led, transfer := newTestLedger(t, 1)
	fundHouse(t, led, 10_000_000)

	cases := []struct {
		name  string
		stake int64
	}{
		{"below minimum", money.MinStake - 1},
		{"zero", 0},
		{"above maximum", money.MaxStake + 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := led.ResolveBet(uuid.New(), "alice", tc.stake, 3, "")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}

	if led.LastGameID() != 0 {
		t.Errorf("game id consumed by rejected bet: last id = %d", led.LastGameID())
	}
	if transfer.callCount() != 0 {
		t.Errorf("transfer calls = %d, want 0", transfer.callCount())
	}
}

func TestPredictionRangeRejected(t *testing.T) {
	led, _ := newTestLedger(t, 1)
	fundHouse(t, led, 10_000_000)

	for _, prediction := range []int{0, -1, 7} {
		_, err := led.ResolveBet(uuid.New(), "alice", 10_000, prediction, "")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("prediction %d: err = %v, want ValidationError", prediction, err)
		}
	}
}

func TestSolvencyRejected(t *testing.T) {
	led, _ := newTestLedger(t, 1)

	// Empty house: nothing held, any bet would exceed coverage.
	_, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, "")
	var serr *SolvencyError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want SolvencyError", err)
	}
	if led.LastGameID() != 0 {
		t.Errorf("game id consumed by rejected bet")
	}
}

func TestSolvencyExcludesIncomingStake(t *testing.T) {
	led, _ := newTestLedger(t, 2)

	// Worst case for a 10000 stake is 50000. Held funds one short of that
	// must reject, regardless of the stake about to come in.
	fundHouse(t, led, 49_999)
	_, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, "")
	var serr *SolvencyError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want SolvencyError", err)
	}

	fundHouse(t, led, 1)
	if _, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, ""); err != nil {
		t.Fatalf("bet at exact coverage boundary rejected: %v", err)
	}
}

func TestDuplicateBetID(t *testing.T) {
	led, _ := newTestLedger(t, 4)
	fundHouse(t, led, 10_000_000)

	betID := uuid.New()
	if _, err := led.ResolveBet(betID, "alice", 10_000, 3, ""); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	_, err := led.ResolveBet(betID, "alice", 10_000, 3, "")
	if !errors.Is(err, ErrDuplicateBet) {
		t.Fatalf("err = %v, want ErrDuplicateBet", err)
	}
	if led.LastGameID() != 1 {
		t.Errorf("duplicate consumed a game id: last id = %d", led.LastGameID())
	}

	// A fresh id goes through.
	if _, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, ""); err != nil {
		t.Fatalf("fresh bet id rejected: %v", err)
	}
}

func TestTransferFailureRollsBack(t *testing.T) {
	led, transfer := newTestLedger(t, 3)
	fundHouse(t, led, 10_000_000)
	transfer.fail = errors.New("rail unavailable")

	before, _ := led.ContractStats()
	betID := uuid.New()

	_, err := led.ResolveBet(betID, "alice", 10_000, 3, "")
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransferError", err)
	}

	after, _ := led.ContractStats()
	if after != before {
		t.Errorf("state changed across failed transfer:\nbefore %+v\nafter  %+v", before, after)
	}
	if led.LastGameID() != 0 {
		t.Errorf("game id consumed by rolled-back bet")
	}
	player, _ := led.PlayerStats("alice")
	if player.Wins != 0 || player.Losses != 0 {
		t.Errorf("player counters survived rollback: %+v", player)
	}

	// The same bet id is retryable once the rail recovers.
	transfer.fail = nil
	if _, err := led.ResolveBet(betID, "alice", 10_000, 3, ""); err != nil {
		t.Fatalf("retry after rollback rejected: %v", err)
	}
}

func TestReentrantCallsRejected(t *testing.T) {
	led, transfer := newTestLedger(t, 5, 5)
	fundHouse(t, led, 10_000_000)

	var inner []error
	transfer.callback = func(*fakeTransfer) error {
		_, err := led.ResolveBet(uuid.New(), "mallory", 10_000, 5, "")
		inner = append(inner, err)
		_, err = led.PlayerStats("mallory")
		inner = append(inner, err)
		if err := led.CheckInvariants(); err != nil {
			inner = append(inner, err)
		} else {
			inner = append(inner, nil)
		}
		return nil
	}

	if _, err := led.ResolveBet(uuid.New(), "mallory", 10_000, 5, ""); err != nil {
		t.Fatalf("outer bet failed: %v", err)
	}

	if len(inner) != 3 {
		t.Fatalf("callback ran %d checks, want 3", len(inner))
	}
	for i, err := range inner {
		if !errors.Is(err, ErrReentrantCall) {
			t.Errorf("inner call %d: err = %v, want ErrReentrantCall", i, err)
		}
	}

	// Only the outer game resolved.
	if led.LastGameID() != 1 {
		t.Errorf("last game id = %d, want 1", led.LastGameID())
	}
}

func TestOtherGoroutinesProceedDuringTransfer(t *testing.T) {
	// First bet wins on 3, second draws 1 against a prediction of 6.
	led, transfer := newTestLedger(t, 3, 1)
	fundHouse(t, led, 10_000_000)

	entered := make(chan struct{})
	release := make(chan struct{})
	transfer.callback = func(*fakeTransfer) error {
		close(entered)
		<-release
		return nil
	}

	outerDone := make(chan error, 1)
	go func() {
		_, err := led.ResolveBet(uuid.New(), "alice", 10_000, 3, "")
		outerDone <- err
	}()
	<-entered

	// The winner's payout transfer is now held open. A bet and a read from
	// unrelated goroutines must queue on the lock, not be rejected.
	betDone := make(chan error, 1)
	go func() {
		_, err := led.ResolveBet(uuid.New(), "bob", 10_000, 6, "")
		betDone <- err
	}()
	statsDone := make(chan error, 1)
	go func() {
		_, err := led.PlayerStats("alice")
		statsDone <- err
	}()

	// Give both a chance to reach the guard while the transfer is in flight.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-betDone:
		t.Fatalf("concurrent bet finished during transfer: %v", err)
	case err := <-statsDone:
		t.Fatalf("concurrent read finished during transfer: %v", err)
	default:
	}

	close(release)
	if err := <-outerDone; err != nil {
		t.Fatalf("winning bet: %v", err)
	}
	if err := <-betDone; err != nil {
		t.Errorf("concurrent bet: %v", err)
	}
	if err := <-statsDone; err != nil {
		t.Errorf("concurrent read: %v", err)
	}

	if led.LastGameID() != 2 {
		t.Errorf("last game id = %d, want 2", led.LastGameID())
	}
}

func TestConservationAcrossManyGames(t *testing.T) {
	// Scripted mix of outcomes against a fixed prediction of 3.
	outcomes := []int{3, 1, 4, 3, 6, 2, 2, 5, 3, 1, 1, 4, 6, 3, 2, 5, 5, 1, 3, 4}
	led, _ := newTestLedger(t, outcomes...)
	fundHouse(t, led, 100_000_000)

	var totalStaked int64
	for i := range outcomes {
		stake := int64(10_000 + (i%10)*50_000)
		if stake > money.MaxStake {
			stake = money.MaxStake
		}
		player := fmt.Sprintf("player-%d", i%3)
		if _, err := led.ResolveBet(uuid.New(), player, stake, 3, ""); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
		totalStaked += stake
	}

	stats, _ := led.ContractStats()
	if stats.TotalGames != int64(len(outcomes)) {
		t.Errorf("total games = %d, want %d", stats.TotalGames, len(outcomes))
	}
	if stats.TotalVolume != totalStaked {
		t.Errorf("total volume = %d, want %d", stats.TotalVolume, totalStaked)
	}
	if err := led.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}

	// Per-player counters sum to the game count.
	var games int64
	for i := 0; i < 3; i++ {
		p, _ := led.PlayerStats(fmt.Sprintf("player-%d", i))
		games += p.TotalGames
	}
	if games != int64(len(outcomes)) {
		t.Errorf("player game sum = %d, want %d", games, len(outcomes))
	}
}

func TestPlayerStatsWinRateTruncates(t *testing.T) {
	led, _ := newTestLedger(t, 3, 1, 1) // one win, two losses
	fundHouse(t, led, 10_000_000)

	for i := 0; i < 3; i++ {
		if _, err := led.ResolveBet(uuid.New(), "carol", 10_000, 3, ""); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}

	stats, _ := led.PlayerStats("carol")
	// 1/3 truncates to 33, never rounds up.
	if stats.WinRate != 33 {
		t.Errorf("win rate = %d, want 33", stats.WinRate)
	}
}

func TestUnknownPlayerStatsAreZero(t *testing.T) {
	led, _ := newTestLedger(t, 1)
	stats, err := led.PlayerStats("nobody")
	if err != nil {
		t.Fatalf("PlayerStats: %v", err)
	}
	if stats != (PlayerStatsView{}) {
		t.Errorf("unknown player stats = %+v, want zeros", stats)
	}
}

func TestGameDetails(t *testing.T) {
	led, _ := newTestLedger(t, 2)
	fundHouse(t, led, 10_000_000)

	receipt, err := led.ResolveBet(uuid.New(), "dave", 20_000, 6, "")
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}

	game, err := led.GameDetails(receipt.GameID)
	if err != nil {
		t.Fatalf("GameDetails: %v", err)
	}
	if game.Player != "dave" || game.Stake != 20_000 || game.Prediction != 6 || game.Outcome != 2 {
		t.Errorf("game = %+v", game)
	}

	_, err = led.GameDetails(99)
	var nferr *NotFoundError
	if !errors.As(err, &nferr) {
		t.Errorf("missing game err = %v, want NotFoundError", err)
	}
}

func TestEmittedSequenceAndHashChain(t *testing.T) {
	persistChan := make(chan Output, 16)
	transfer := &fakeTransfer{}
	led := New(Config{}, rng.NewFixedSource(1, 4, 3), transfer, allowAll{}, persistChan, nil, nil)

	fundHouse(t, led, 10_000_000)
	for i := 0; i < 3; i++ {
		if _, err := led.ResolveBet(uuid.New(), "erin", 10_000, 3, ""); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}
	close(persistChan)

	var outputs []Output
	for out := range persistChan {
		outputs = append(outputs, out)
	}
	if len(outputs) != 4 { // deposit + 3 games
		t.Fatalf("outputs = %d, want 4", len(outputs))
	}

	genesis := event.NewChainHasher().GetPrevHash()
	prev := genesis
	for i, out := range outputs {
		env := out.Envelope
		if env.Sequence != int64(i) {
			t.Errorf("output %d: sequence = %d, want %d", i, env.Sequence, i)
		}
		if env.PrevHash != prev {
			t.Errorf("output %d: prev hash does not link to previous state hash", i)
		}
		if env.StateHash == ([32]byte{}) {
			t.Errorf("output %d: empty state hash", i)
		}
		prev = env.StateHash
	}
	if led.ChainTip() != prev {
		t.Error("chain tip does not match last emitted state hash")
	}
}

func TestReplayRebuildsState(t *testing.T) {
	persistChan := make(chan Output, 32)
	transfer := &fakeTransfer{}
	source := rng.NewFixedSource(3, 1, 5, 3, 2)
	led := New(Config{}, source, transfer, allowAll{}, persistChan, nil, nil)

	fundHouse(t, led, 50_000_000)
	for i := 0; i < 5; i++ {
		if _, err := led.ResolveBet(uuid.New(), "frank", 100_000, 3, ""); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}
	if err := led.Withdraw(uuid.New(), "treasury", 1_000_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	close(persistChan)

	restored := New(Config{}, rng.NewFixedSource(1), &fakeTransfer{}, allowAll{}, nil, nil, nil)
	for out := range persistChan {
		env := out.Envelope
		stateHash := env.StateHash
		if err := restored.Replay(ReplayEntry{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        marshalPayload(t, out.Payload),
			StateHash:      stateHash[:],
		}); err != nil {
			t.Fatalf("replay seq %d: %v", env.Sequence, err)
		}
	}

	want, _ := led.ContractStats()
	got, _ := restored.ContractStats()
	if got != want {
		t.Errorf("restored stats = %+v, want %+v", got, want)
	}
	wantPlayer, _ := led.PlayerStats("frank")
	gotPlayer, _ := restored.PlayerStats("frank")
	if gotPlayer != wantPlayer {
		t.Errorf("restored player = %+v, want %+v", gotPlayer, wantPlayer)
	}
	if restored.ChainTip() != led.ChainTip() {
		t.Error("restored chain tip diverges from original")
	}
	if err := restored.CheckInvariants(); err != nil {
		t.Errorf("restored invariants: %v", err)
	}

	// A replayed bet id stays deduplicated.
	game, err := restored.GameDetails(1)
	if err != nil {
		t.Fatalf("GameDetails: %v", err)
	}
	fundHouse(t, restored, 1_000_000)
	if _, err := restored.ResolveBet(game.BetID, "frank", 100_000, 3, ""); !errors.Is(err, ErrDuplicateBet) {
		t.Errorf("replayed bet id resubmission err = %v, want ErrDuplicateBet", err)
	}
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	persistChan := make(chan Output, 8)
	led := New(Config{}, rng.NewFixedSource(1), &fakeTransfer{}, allowAll{}, persistChan, nil, nil)
	fundHouse(t, led, 1_000_000)
	close(persistChan)

	out := <-persistChan
	payload := marshalPayload(t, out.Payload)

	restored := New(Config{}, rng.NewFixedSource(1), &fakeTransfer{}, allowAll{}, nil, nil, nil)
	badHash := make([]byte, 32)
	badHash[0] = 0xFF
	err := restored.Replay(ReplayEntry{
		Sequence:  0,
		EventType: out.Envelope.EventType.String(),
		Payload:   payload,
		StateHash: badHash,
	})
	if err == nil {
		t.Fatal("tampered state hash accepted")
	}
}

func TestConcurrentBets(t *testing.T) {
	led, _ := newTestLedger(t) // FixedSource with no script always draws 1
	fundHouse(t, led, 1_000_000_000)

	const goroutines = 8
	const betsEach = 50

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*betsEach)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			player := fmt.Sprintf("g%d", g)
			for i := 0; i < betsEach; i++ {
				prediction := 1 + (i % rng.Sides)
				if _, err := led.ResolveBet(uuid.New(), player, 10_000, prediction, ""); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent bet: %v", err)
	}

	stats, _ := led.ContractStats()
	if stats.TotalGames != goroutines*betsEach {
		t.Errorf("total games = %d, want %d", stats.TotalGames, goroutines*betsEach)
	}
	if err := led.CheckInvariants(); err != nil {
		t.Errorf("invariants after concurrent load: %v", err)
	}
}
