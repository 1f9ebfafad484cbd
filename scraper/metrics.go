package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// Metrics bundles Prometheus collectors for the fetch orchestrator. Its
// registry is the process-wide one other packages register onto.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	BreakerOpenTotal  *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	CoalescedTotal    prometheus.Counter
	EscalationsTotal  *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	ItemsScrapedTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Total page loads issued, by platform and strategy.",
		},
		[]string{"platform", "strategy"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_request_duration_seconds",
			Help:    "Page load latency by platform.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
		[]string{"platform"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Total number of fetch errors by kind.",
		},
		[]string{"platform", "error_type"},
	)
	breakerOpen := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_breaker_open_total",
			Help: "Number of times a platform circuit breaker opened.",
		},
		[]string{"platform"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_breaker_state",
			Help: "Circuit breaker state per platform (0 closed, 1 half-open, 2 open).",
		},
		[]string{"platform"},
	)
	coalesced := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_coalesced_submissions_total",
			Help: "Submissions that shared an in-flight fetch of the same URL.",
		},
	)
	escalations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_escalations_total",
			Help: "Fetches escalated to the rendered strategy, by reason.",
		},
		[]string{"platform", "reason"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Tasks waiting for a fetch worker.",
		},
	)
	itemsScraped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_items_discovered_total",
			Help: "Listing cards sent to the discovery pipeline.",
		},
		[]string{"platform"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, breakerOpen,
		breakerState, coalesced, escalations, queueDepth, itemsScraped)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		BreakerOpenTotal:  breakerOpen,
		BreakerState:      breakerState,
		CoalescedTotal:    coalesced,
		EscalationsTotal:  escalations,
		QueueDepth:        queueDepth,
		ItemsScrapedTotal: itemsScraped,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(platform models.Platform, strategy string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(platform), strategy).Inc()
}

// ObserveDuration records a page load duration.
func (m *Metrics) ObserveDuration(platform models.Platform, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(string(platform)).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(platform models.Platform) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(string(platform)).Inc()
}

// IncError increments the errors counter for a kind label.
func (m *Metrics) IncError(platform models.Platform, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(platform), errorType).Inc()
}

// IncBreakerOpen counts a breaker opening.
func (m *Metrics) IncBreakerOpen(platform models.Platform) {
	if m == nil {
		return
	}
	m.BreakerOpenTotal.WithLabelValues(string(platform)).Inc()
}

// SetBreakerState publishes the breaker state gauge.
func (m *Metrics) SetBreakerState(platform models.Platform, state breakerState) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(string(platform)).Set(float64(state))
}

// IncCoalesced counts a submission served by a shared fetch.
func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedTotal.Inc()
}

// IncEscalation counts a rendered fetch.
func (m *Metrics) IncEscalation(platform models.Platform, reason string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(string(platform), reason).Inc()
}

// SetQueueDepth publishes the queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// IncItems increments the discovered items counter.
func (m *Metrics) IncItems(platform models.Platform, n int) {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.WithLabelValues(string(platform)).Add(float64(n))
}
