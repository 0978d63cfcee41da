package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors backing the live trading mode (orders, positions, equity,
// signals, latencies, connection status, errors).
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_orders_total",
		Help: "Total number of orders placed, labeled by symbol/side/status.",
	}, []string{"symbol", "side", "status"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_trades_total",
		Help: "Total number of completed trades, labeled by symbol/side/outcome.",
	}, []string{"symbol", "side", "outcome"})

	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quant_bot_positions_open",
		Help: "Number of currently open positions per symbol.",
	}, []string{"symbol"})

	PositionContracts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quant_bot_position_contracts",
		Help: "Signed contract count per symbol/side.",
	}, []string{"symbol", "side"})

	EquityCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_equity_current",
		Help: "Current account equity.",
	})

	EquityHighWaterMark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_equity_high_water_mark",
		Help: "High-water mark of account equity.",
	})

	DrawdownCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_drawdown_current",
		Help: "Current drawdown from the high-water mark, as a fraction.",
	})

	DailyPL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_daily_pl",
		Help: "Profit/loss for the current trading day.",
	})

	TotalPL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_total_pl",
		Help: "Total profit/loss since inception.",
	})

	SafeModeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_safe_mode_active",
		Help: "1 if the risk engine's kill switch is active, else 0.",
	})

	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_signals_generated_total",
		Help: "Total number of signals generated, labeled by strategy/side.",
	}, []string{"strategy", "side"})

	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_signals_rejected_total",
		Help: "Total number of signals rejected, labeled by reason.",
	}, []string{"reason"})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quant_bot_order_latency_seconds",
		Help:    "Order placement latency.",
		Buckets: prometheus.DefBuckets,
	})

	DataFeedLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quant_bot_data_feed_latency_seconds",
		Help:    "Data feed event delivery latency.",
		Buckets: prometheus.DefBuckets,
	})

	StrategyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quant_bot_strategy_latency_seconds",
		Help:    "Strategy evaluation latency, labeled by strategy name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_heartbeat_timestamp",
		Help: "Unix timestamp of the last recorded heartbeat.",
	})

	DataFeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_data_feed_connected",
		Help: "1 if the data feed is connected, else 0.",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_broker_connected",
		Help: "1 if the broker connection is up, else 0.",
	})

	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_bot_uptime_seconds",
		Help: "Process uptime in seconds.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_errors_total",
		Help: "Total number of errors, labeled by error type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quant_bot_build_info",
		Help: "Build information, always 1, labeled by version/commit/date.",
	}, []string{"version", "commit", "date"})
)

// Collectors backing the replay-driven event core: dispatch loop counters
// and replay controller counters.
var (
	EventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_events_dispatched_total",
		Help: "Total number of events dispatched by an event engine, labeled by event type.",
	}, []string{"type"})

	EventQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quant_bot_event_queue_depth",
		Help: "Sampled event queue depth per engine.",
	}, []string{"engine"})

	ReplayRowsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_replay_rows_emitted_total",
		Help: "Total number of rows emitted by a replay controller, labeled by source.",
	}, []string{"source"})

	ReplayCallbackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_bot_replay_callback_failures_total",
		Help: "Total number of replay callback failures, labeled by source.",
	}, []string{"source"})
)

// SetBuildInfo records build metadata as a single always-1 gauge.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.Reset()
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
