package ledger

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"DiceLedger/internal/event"
	"DiceLedger/internal/money"
	"DiceLedger/internal/observability"
	"DiceLedger/internal/rng"

	"github.com/google/uuid"
)

// Transferrer moves value out of the ledger's custody. Failure must be
// distinguishable from success and must not partially apply.
type Transferrer interface {
	Transfer(to string, amount int64) error
}

// Authorizer gates privileged treasury operations.
type Authorizer interface {
	Authorize(actor string) bool
}

// Config holds the wagering limits and entropy seed for one ledger instance.
type Config struct {
	MinStake      int64
	MaxStake      int64
	EntropySeed   []byte
	DedupCapacity int
}

func (c Config) withDefaults() Config {
	if c.MinStake == 0 {
		c.MinStake = money.MinStake
	}
	if c.MaxStake == 0 {
		c.MaxStake = money.MaxStake
	}
	if c.DedupCapacity == 0 {
		c.DedupCapacity = 100_000
	}
	return c
}

// Output is one committed state transition, emitted to the persistence
// worker (blocking) and the outbound publisher (non-blocking).
type Output struct {
	Envelope *event.Envelope
	Payload  interface{}
}

// Ledger is the single serial authority over house balance, held funds,
// volume, and the append-only game history. All mutating operations execute
// one at a time under the write lock; reads share the read lock and always
// observe a fully committed state.
type Ledger struct {
	mu sync.RWMutex

	// Goroutine id of an external transfer in flight, zero otherwise. A
	// ledger call from that same goroutine is a re-entry from the transfer
	// capability and is rejected before it can deadlock on the held lock;
	// calls from other goroutines queue on the mutex as usual.
	transferGID atomic.Int64

	cfg      Config
	source   rng.Source
	transfer Transferrer
	auth     Authorizer
	now      func() time.Time

	sequence     int64 // next log sequence to assign
	nextGameID   int64 // pre-incremented; first game gets id 1
	heldFunds    int64 // total value in the ledger's custody
	houseBalance int64 // house bookkeeping balance
	totalVolume  int64 // sum of all stakes ever wagered

	// Cumulative net cost of wins: sum of (payout - stake). The house
	// balance does not absorb wins, so house - held always equals this.
	winDeficit int64

	history map[int64]*Game
	players map[string]*PlayerRecord
	dedup   *betDedup
	hasher  *event.ChainHasher

	persistChan chan<- Output
	publishChan chan<- Output
	metrics     *observability.Metrics
}

// New creates a ledger instance. persistChan, publishChan, and metrics may be
// nil (test isolation: every instance owns its state, no ambient globals).
func New(
	cfg Config,
	source rng.Source,
	transfer Transferrer,
	auth Authorizer,
	persistChan, publishChan chan<- Output,
	metrics *observability.Metrics,
) *Ledger {
	return &Ledger{
		cfg:         cfg.withDefaults(),
		source:      source,
		transfer:    transfer,
		auth:        auth,
		now:         time.Now,
		nextGameID:  1,
		history:     make(map[int64]*Game),
		players:     make(map[string]*PlayerRecord),
		dedup:       newBetDedup(cfg.withDefaults().DedupCapacity),
		hasher:      event.NewChainHasher(),
		persistChan: persistChan,
		publishChan: publishChan,
		metrics:     metrics,
	}
}

// SetClock overrides the wall clock. Test use only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// ResolveBet validates a wager, draws the outcome, settles balances, and
// appends the immutable game record — all as one atomic unit. The stake
// accompanies the request and enters held funds as part of the commit.
// On a win, the payout transfer is the last side effect: every internal
// mutation is finalized first, so even a re-entrant transfer callback
// observes a consistent state (and is rejected by the guard regardless).
func (l *Ledger) ResolveBet(betID uuid.UUID, player string, stake int64, prediction int, clientSeed string) (*Receipt, error) {
	start := time.Now()

	if l.reentrant() {
		return nil, ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dedup.Contains(betID.String()) {
		l.rejected("duplicate")
		if l.metrics != nil {
			l.metrics.DuplicateBets.Inc()
		}
		return nil, ErrDuplicateBet
	}

	if stake < l.cfg.MinStake || stake > l.cfg.MaxStake {
		l.rejected("stake_bounds")
		return nil, &ValidationError{Field: "stake", Reason: "outside allowed bounds"}
	}
	if prediction < 1 || prediction > rng.Sides {
		l.rejected("prediction_range")
		return nil, &ValidationError{Field: "prediction", Reason: "must be between 1 and 6"}
	}

	// Solvency: held funds (excluding the incoming stake) must cover the
	// maximum possible payout, independent of the draw.
	required := money.MaxPayout(stake)
	if l.heldFunds < required {
		l.rejected("solvency")
		return nil, &SolvencyError{Held: l.heldFunds, Required: required}
	}

	id := l.nextGameID
	l.nextGameID++
	l.dedup.Add(betID.String())
	if l.metrics != nil {
		l.metrics.DedupLRUSize.Set(float64(l.dedup.Size()))
	}

	ts := l.now()
	outcome := l.source.Draw(rng.EntropyContext{
		Timestamp:  ts.UnixNano(),
		Seed:       l.cfg.EntropySeed,
		ClientSeed: clientSeed,
		Caller:     player,
		Nonce:      uint64(id),
	})

	won := outcome == prediction
	var payout int64
	if won {
		payout = money.ComputePayout(stake)
	}

	// Commit all internal bookkeeping before any external call.
	l.heldFunds += stake
	rec := l.playerRecord(player)
	if won {
		l.heldFunds -= payout
		l.winDeficit += payout - stake
		rec.Wins++
	} else {
		l.houseBalance += stake
		rec.Losses++
	}

	game := &Game{
		ID:         id,
		BetID:      betID,
		Player:     player,
		Stake:      stake,
		Prediction: prediction,
		Outcome:    outcome,
		Won:        won,
		Payout:     payout,
		Timestamp:  ts,
	}
	l.history[id] = game
	l.totalVolume += stake

	if won {
		if err := l.guardedTransfer(player, payout); err != nil {
			// Full rollback: the player is not charged, no game is recorded,
			// no id is consumed.
			delete(l.history, id)
			l.nextGameID--
			l.dedup.Remove(betID.String())
			l.heldFunds -= stake
			l.heldFunds += payout
			l.winDeficit -= payout - stake
			l.totalVolume -= stake
			rec.Wins--
			l.rejected("transfer")
			return nil, &TransferError{To: player, Amount: payout, Err: err}
		}
	}

	l.emit(event.EventTypeGameResolved, betID.String(), ts, event.GameResolved{
		BetID:      betID,
		GameID:     id,
		Player:     player,
		Stake:      stake,
		Prediction: prediction,
		Outcome:    outcome,
		Won:        won,
		Payout:     payout,
		Timestamp:  ts,
	})

	if l.metrics != nil {
		result := "lost"
		if won {
			result = "won"
		}
		l.metrics.BetsResolved.WithLabelValues(result).Inc()
		l.metrics.BetDuration.Observe(time.Since(start).Seconds())
		l.metrics.StakeVolume.Add(float64(stake))
		if won {
			l.metrics.PayoutTotal.Add(float64(payout))
		}
		l.metrics.HouseBalance.Set(float64(l.houseBalance))
		l.metrics.HeldFunds.Set(float64(l.heldFunds))
	}

	return &Receipt{GameID: id, Game: game}, nil
}

// guardedTransfer invokes the external transfer capability with the
// calling goroutine marked for the duration of the call.
func (l *Ledger) guardedTransfer(to string, amount int64) error {
	l.transferGID.Store(currentGoroutineID())
	defer l.transferGID.Store(0)
	return l.transfer.Transfer(to, amount)
}

// reentrant reports whether the calling goroutine is inside a transfer
// callback issued by this ledger. Only that goroutine would deadlock on
// the write lock it already holds; unrelated goroutines block on the
// mutex and proceed once the transfer commits.
func (l *Ledger) reentrant() bool {
	gid := l.transferGID.Load()
	return gid != 0 && gid == currentGoroutineID()
}

// currentGoroutineID parses the numeric id out of the runtime stack
// header ("goroutine 123 [running]:"). Used only to tell a transfer
// callback re-entering the ledger apart from an independent caller.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (l *Ledger) playerRecord(player string) *PlayerRecord {
	rec, ok := l.players[player]
	if !ok {
		rec = &PlayerRecord{}
		l.players[player] = rec
	}
	return rec
}

func (l *Ledger) rejected(reason string) {
	if l.metrics != nil {
		l.metrics.BetsRejected.WithLabelValues(reason).Inc()
	}
}

// emit assigns the next log sequence, advances the hash chain, and hands the
// transition to the persistence worker (blocking — no committed transition is
// ever lost) and the outbound publisher (non-blocking — drop on full).
// Caller must hold the write lock.
func (l *Ledger) emit(et event.EventType, key string, ts time.Time, payload interface{}) {
	seq := l.sequence
	l.sequence++

	digest := event.BalancesDigest(l.heldFunds, l.houseBalance, l.totalVolume)
	prevHash := l.hasher.GetPrevHash()
	stateHash := l.hasher.ComputeHash(seq, digest)

	out := Output{
		Envelope: &event.Envelope{
			Sequence:       seq,
			IdempotencyKey: key,
			EventType:      et,
			Timestamp:      ts,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Payload: payload,
	}

	if l.persistChan != nil {
		select {
		case l.persistChan <- out:
		default:
			if l.metrics != nil {
				l.metrics.PersistBackpressure.Inc()
			}
			l.persistChan <- out
		}
	}
	if l.publishChan != nil {
		select {
		case l.publishChan <- out:
		default:
			if l.metrics != nil {
				l.metrics.PublishDrops.Inc()
			}
		}
	}
}

// publishOnly emits an informational event to the publisher without
// consuming a log sequence or touching the hash chain.
func (l *Ledger) publishOnly(et event.EventType, key string, ts time.Time, payload interface{}) {
	if l.publishChan == nil {
		return
	}
	out := Output{
		Envelope: &event.Envelope{
			Sequence:       l.sequence,
			IdempotencyKey: key,
			EventType:      et,
			Timestamp:      ts,
		},
		Payload: payload,
	}
	select {
	case l.publishChan <- out:
	default:
		if l.metrics != nil {
			l.metrics.PublishDrops.Inc()
		}
	}
}

// --- Read path ---

// PlayerStatsView is one player's derived win/loss view.
type PlayerStatsView struct {
	Wins       int64
	Losses     int64
	WinRate    int64 // integer percent, truncating
	TotalGames int64
}

// ContractStatsView is the global totals snapshot.
type ContractStatsView struct {
	TotalGames   int64
	HeldFunds    int64
	HouseBalance int64
	TotalVolume  int64
}

// PlayerStats returns a player's derived counters. Unknown players read as
// all zeros. Reads run concurrently with each other but always observe a
// fully committed state; a read re-entering from a transfer callback would
// self-deadlock on the held write lock, so the guard rejects it instead.
func (l *Ledger) PlayerStats(player string) (PlayerStatsView, error) {
	if l.reentrant() {
		return PlayerStatsView{}, ErrReentrantCall
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.players[player]
	if !ok {
		return PlayerStatsView{}, nil
	}
	view := PlayerStatsView{
		Wins:       rec.Wins,
		Losses:     rec.Losses,
		TotalGames: rec.Wins + rec.Losses,
	}
	if view.TotalGames > 0 {
		view.WinRate = rec.Wins * 100 / view.TotalGames
	}
	return view, nil
}

// ContractStats returns the global totals as one consistent snapshot.
func (l *Ledger) ContractStats() (ContractStatsView, error) {
	if l.reentrant() {
		return ContractStatsView{}, ErrReentrantCall
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ContractStatsView{
		TotalGames:   l.nextGameID - 1,
		HeldFunds:    l.heldFunds,
		HouseBalance: l.houseBalance,
		TotalVolume:  l.totalVolume,
	}, nil
}

// GameDetails returns the immutable record for a resolved game id.
func (l *Ledger) GameDetails(id int64) (*Game, error) {
	if l.reentrant() {
		return nil, ErrReentrantCall
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	game, ok := l.history[id]
	if !ok {
		return nil, &NotFoundError{GameID: id}
	}
	return game, nil
}

// LastGameID returns the id of the most recently resolved game (the read
// freshness watermark), zero before any game has resolved.
func (l *Ledger) LastGameID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextGameID - 1
}

// ChainTip returns the current hash chain tip.
func (l *Ledger) ChainTip() [32]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasher.GetPrevHash()
}

// CheckInvariants validates the ledger's accounting invariants:
// non-negative balances, house funds a subset of holdings, gap-free ids,
// and per-player counters consistent with history.
func (l *Ledger) CheckInvariants() error {
	if l.reentrant() {
		return ErrReentrantCall
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkInvariantsLocked()
}

func (l *Ledger) checkInvariantsLocked() error {
	if l.houseBalance < 0 {
		return &invariantError{"house balance is negative"}
	}
	if l.heldFunds < 0 {
		return &invariantError{"held funds are negative"}
	}
	// Wins pay out of custody without debiting the house balance, so the
	// two diverge by exactly the accumulated win cost.
	if l.houseBalance-l.heldFunds != l.winDeficit {
		return &invariantError{"house/held divergence does not match accumulated win cost"}
	}

	counts := make(map[string]int64, len(l.players))
	for id := int64(1); id < l.nextGameID; id++ {
		game, ok := l.history[id]
		if !ok {
			return &invariantError{"gap in game history"}
		}
		counts[game.Player]++
	}
	if int64(len(l.history)) != l.nextGameID-1 {
		return &invariantError{"history size does not match id counter"}
	}
	for player, rec := range l.players {
		if rec.Wins+rec.Losses != counts[player] {
			return &invariantError{"player counters diverge from history"}
		}
	}
	return nil
}

type invariantError struct {
	msg string
}

func (e *invariantError) Error() string {
	return "invariant violated: " + e.msg
}
