package observability

import (
	"strconv"
	"time"
)

// MetricsRegistry provides an interface for recording application metrics.
// Handlers and services depend on this instead of the global Prometheus
// collectors so tests can inject a no-op implementation.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Allocation metrics
	AddWinners(placement string, n int)
	IncrementNoFill(placement string)
	IncrementLedgerDenials(reason string)
	IncrementPacingThrottles()

	// Event tracking metrics
	IncrementEvent(eventType string)
	IncrementDuplicateEvents()
	IncrementUnknownEntityEvents()

	// Spend tracking metrics
	SetSpendTotal(campaignID int, cents int64)
	IncrementPersistErrors(kind string)
}

// PrometheusRegistry implements MetricsRegistry over the package collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry.
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) AddWinners(placement string, n int) {
	WinnerCount.WithLabelValues(placement).Add(float64(n))
}

func (r *PrometheusRegistry) IncrementNoFill(placement string) {
	NoFillCount.WithLabelValues(placement).Inc()
}

func (r *PrometheusRegistry) IncrementLedgerDenials(reason string) {
	LedgerDenials.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementPacingThrottles() {
	PacingThrottles.Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementDuplicateEvents() {
	DuplicateEventCount.Inc()
}

func (r *PrometheusRegistry) IncrementUnknownEntityEvents() {
	UnknownEntityEvents.Inc()
}

func (r *PrometheusRegistry) SetSpendTotal(campaignID int, cents int64) {
	SpendTotal.WithLabelValues(strconv.Itoa(campaignID)).Set(float64(cents))
}

func (r *PrometheusRegistry) IncrementPersistErrors(kind string) {
	PersistErrors.WithLabelValues(kind).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing.
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry.
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) AddWinners(placement string, n int)                                   {}
func (r *NoOpRegistry) IncrementNoFill(placement string)                                     {}
func (r *NoOpRegistry) IncrementLedgerDenials(reason string)                                 {}
func (r *NoOpRegistry) IncrementPacingThrottles()                                            {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementDuplicateEvents()                                            {}
func (r *NoOpRegistry) IncrementUnknownEntityEvents()                                        {}
func (r *NoOpRegistry) SetSpendTotal(campaignID int, cents int64)                            {}
func (r *NoOpRegistry) IncrementPersistErrors(kind string)                                   {}
