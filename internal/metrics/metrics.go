package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Acquisition counters, gauges and histograms, partitioned by sensor + condition.

var (
	// Rounds
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "acquisition",
		Name:      "rounds_total",
		Help:      "Total acquisition rounds",
	}, []string{"condition"})

	RoundErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "acquisition",
		Name:      "round_errors_total",
		Help:      "Total rounds aborted before any channel was sampled",
	}, []string{"condition"})

	RoundLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exposure",
		Subsystem: "acquisition",
		Name:      "round_duration_seconds",
		Help:      "Acquisition round duration including the integration wait",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 5},
	}, []string{"condition"})

	IntegrationWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exposure",
		Subsystem: "acquisition",
		Name:      "integration_wait_seconds",
		Help:      "Blocking wait sized to the slowest enabled integration time",
		Buckets:   []float64{0.11, 0.22, 0.33, 0.44, 0.55, 0.66, 1},
	}, []string{"condition"})

	// Channels
	ReadingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "channel",
		Name:      "readings_total",
		Help:      "Total raw readings pushed into channel history",
	}, []string{"sensor", "condition"})

	ReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "channel",
		Name:      "read_errors_total",
		Help:      "Total per-channel bus failures by classified reason",
	}, []string{"sensor", "condition", "reason"})

	RawSignal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "exposure",
		Subsystem: "channel",
		Name:      "raw_full_spectrum",
		Help:      "Most recent full-spectrum count",
	}, []string{"sensor", "condition"})

	SettingIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "exposure",
		Subsystem: "channel",
		Name:      "setting_index",
		Help:      "Current gain-integration lattice index",
	}, []string{"sensor", "condition"})

	HistoryValidCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "exposure",
		Subsystem: "channel",
		Name:      "history_valid_count",
		Help:      "Fresh samples recorded since the last setting switch",
	}, []string{"sensor", "condition"})

	RoundsSinceSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "exposure",
		Subsystem: "channel",
		Name:      "rounds_since_success",
		Help:      "Consecutive rounds without a fresh reading",
	}, []string{"sensor", "condition"})

	// Decisions
	SwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "autotune",
		Name:      "switches_total",
		Help:      "Total setting switches by direction",
	}, []string{"sensor", "condition", "direction"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "autotune",
		Name:      "decisions_total",
		Help:      "Total decision engine evaluations by outcome",
	}, []string{"condition", "decision"})

	// Telemetry
	TelemetryPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "telemetry",
		Name:      "published_total",
		Help:      "Total round payloads published",
	}, []string{"format"})

	TelemetryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "telemetry",
		Name:      "errors_total",
		Help:      "Total telemetry publish failures",
	}, []string{"format"})

	// Checkpoint
	CheckpointWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "checkpoint",
		Name:      "writes_total",
		Help:      "Total committed setting checkpoints",
	})

	CheckpointErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "checkpoint",
		Name:      "errors_total",
		Help:      "Total checkpoint write failures",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts delivered per channel",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	// Admin API rate limiter
	AdminRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposure",
		Subsystem: "admin",
		Name:      "rate_limited_total",
		Help:      "Total admin requests rejected by the rate limiter",
	})
)
