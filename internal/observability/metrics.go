package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for FlashLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreSequence         prometheus.Gauge

	// --- Ledger totals ---
	TotalLiquidity     prometheus.Gauge
	TraderAccounts     prometheus.Gauge
	ExecutionFeesTotal prometheus.Counter
	FundingFeesTotal   prometheus.Counter
	LiquidationsTotal  prometheus.Counter
	LiquidationPenalty prometheus.Counter
	LiquidatorRewards  prometheus.Counter
	HedgesTotal        prometheus.Counter
	HedgedAmount       prometheus.Counter

	// --- Custody ---
	CustodyTransfers        *prometheus.CounterVec
	CustodyTransferDuration prometheus.Histogram

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_core_commands_applied_total",
			Help: "Commands committed by core",
		}, []string{"event_type"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_core_commands_rejected_total",
			Help: "Commands rejected (dedup, authorization, validation)",
		}, []string{"event_type", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flash_core_command_duration_seconds",
			Help:    "Time to execute a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "flash_core_sequence",
			Help: "Last assigned global sequence number",
		}),

		// Ledger totals
		TotalLiquidity: f.NewGauge(prometheus.GaugeOpts{
			Name: "flash_ledger_total_liquidity",
			Help: "Pool liquidity held by the global ledger",
		}),

		TraderAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "flash_ledger_trader_accounts",
			Help: "Number of trader accounts",
		}),

		ExecutionFeesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_execution_fees_total",
			Help: "Execution fees moved from stake to liquidity",
		}),

		FundingFeesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_funding_fees_total",
			Help: "Funding fees moved from exposure to liquidity",
		}),

		LiquidationsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_liquidations_total",
			Help: "Committed liquidations",
		}),

		LiquidationPenalty: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_liquidation_penalty_total",
			Help: "Sum of liquidation penalties",
		}),

		LiquidatorRewards: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_liquidator_rewards_total",
			Help: "Sum of liquidator rewards issued",
		}),

		HedgesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_hedges_total",
			Help: "Committed auto hedges",
		}),

		HedgedAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_ledger_hedged_amount_total",
			Help: "Liquidity withdrawn by auto hedges",
		}),

		// Custody
		CustodyTransfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_custody_transfers_total",
			Help: "Custody transfer attempts by outcome",
		}, []string{"purpose", "outcome"}),

		CustodyTransferDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flash_custody_transfer_duration_seconds",
			Help:    "Custody transfer round trip",
			Buckets: prometheus.DefBuckets,
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flash_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flash_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flash_channel_utilization_ratio",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_projection_drops_total",
			Help: "Outputs dropped because a non-blocking channel was full",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_publish_drops_total",
			Help: "Outbound publishes that failed",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "flash_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_ingest_messages_total",
			Help: "NATS command messages by outcome",
		}, []string{"event_type", "outcome"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_persist_events_written_total",
			Help: "Event log rows committed",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flash_persist_batch_size",
			Help:    "Commands per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flash_persist_batch_duration_seconds",
			Help:    "Time to commit a persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"operation"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "flash_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "flash_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		// Projections
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flash_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: prometheus.DefBuckets,
		}, []string{"projection"}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flash_query_duration_seconds",
			Help:    "Query latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_query_errors_total",
			Help: "Query failures",
		}, []string{"endpoint"}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_cache_requests_total",
			Help: "Read cache lookups by result",
		}, []string{"cache", "result"}),
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
