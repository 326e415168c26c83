package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsorserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sponsorserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// winners returned per placement
	WinnerCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsorserve_winners_total",
			Help: "Total winner slots filled per placement",
		},
		[]string{"placement"},
	)

	// requests where no campaign filled a placement
	NoFillCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsorserve_nofill_total",
			Help: "Total winner requests answered with an empty list",
		},
		[]string{"placement"},
	)

	// ledger reservation denials by reason
	LedgerDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsorserve_ledger_denials_total",
			Help: "Total ledger reservations denied",
		},
		[]string{"reason"},
	)

	// campaigns excluded by the pacing curve
	PacingThrottles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sponsorserve_pacing_throttles_total",
			Help: "Total campaign exclusions due to pacing",
		},
	)

	// events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsorserve_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// duplicate event deliveries absorbed by the idempotency guard
	DuplicateEventCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sponsorserve_duplicate_events_total",
			Help: "Total duplicate event deliveries deduplicated",
		},
	)

	// events referencing an unknown campaign or placement
	UnknownEntityEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sponsorserve_unknown_entity_events_total",
			Help: "Total events rejected for referencing unknown campaigns or placements",
		},
	)

	// live spend per campaign
	SpendTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sponsorserve_spend_total_cents",
			Help: "Total spend recorded per campaign in cents",
		},
		[]string{"campaign"},
	)

	// errors persisting spend or rollup rows
	PersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsorserve_persist_errors_total",
			Help: "Total persistence errors",
		},
		[]string{"kind"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		WinnerCount,
		NoFillCount,
		LedgerDenials,
		PacingThrottles,
		EventCount,
		DuplicateEventCount,
		UnknownEntityEvents,
		SpendTotal,
		PersistErrors,
	)
}
