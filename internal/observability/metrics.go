package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for DiceLedger.
type Metrics struct {
	// --- Bet resolution ---
	BetsResolved *prometheus.CounterVec
	BetsRejected *prometheus.CounterVec
	BetDuration  prometheus.Histogram
	StakeVolume  prometheus.Counter
	PayoutTotal  prometheus.Counter

	// --- Balances ---
	HouseBalance prometheus.Gauge
	HeldFunds    prometheus.Gauge

	// --- Treasury ---
	TreasuryOps *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Dedup ---
	DuplicateBets prometheus.Counter
	DedupLRUSize  prometheus.Gauge

	// --- Persistence ---
	PersistEntriesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Replay ---
	ReplayEntriesTotal prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- Publishing ---
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		BetsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_bets_resolved_total",
			Help: "Bets resolved, by result (win/loss)",
		}, []string{"result"}),

		BetsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_bets_rejected_total",
			Help: "Bets rejected before resolution (validation, solvency, duplicate)",
		}, []string{"reason"}),

		BetDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dice_bet_resolve_duration_seconds",
			Help:    "Time to resolve a single bet",
			Buckets: latencyBuckets,
		}),

		StakeVolume: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_stake_volume_units_total",
			Help: "Cumulative staked amount in micro-units",
		}),

		PayoutTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_payout_units_total",
			Help: "Cumulative payout amount in micro-units",
		}),

		HouseBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dice_house_balance_units",
			Help: "Current house balance in micro-units",
		}),

		HeldFunds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dice_held_funds_units",
			Help: "Current total held funds in micro-units",
		}),

		TreasuryOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_treasury_ops_total",
			Help: "Treasury operations (deposit/withdraw/credit)",
		}, []string{"op"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dice_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dice_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dice_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_persist_backpressure_total",
			Help: "Times the ledger blocked on the persist channel",
		}),

		DuplicateBets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_duplicate_bets_total",
			Help: "Resubmitted bet ids caught by dedup",
		}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dice_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		PersistEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_persist_entries_written_total",
			Help: "Game log entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dice_persist_batch_size",
			Help:    "Entries per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dice_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dice_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ReplayEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_replay_entries_total",
			Help: "Entries replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dice_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dice_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dice_publish_errors_total",
			Help: "NATS publish failures",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
