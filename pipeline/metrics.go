package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/quality"
)

// Metrics counts ingest outcomes.
type Metrics struct {
	IngestTotal       *prometheus.CounterVec
	TierTotal         *prometheus.CounterVec
	DegradationsTotal *prometheus.CounterVec
	RescrapesTotal    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_tasks_total",
				Help: "Ingest tasks by platform and final state.",
			},
			[]string{"platform", "state"},
		),
		TierTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_committed_tier_total",
				Help: "Committed listings by platform and quality tier.",
			},
			[]string{"platform", "tier"},
		),
		DegradationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_parse_degradations_total",
				Help: "Fetches whose parse produced less than the stored payload.",
			},
			[]string{"platform", "field"},
		),
		RescrapesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rescrapes_total",
				Help: "On-demand rescrape requests by outcome.",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.IngestTotal, m.TierTotal, m.DegradationsTotal, m.RescrapesTotal)
	}
	return m
}

// IncIngest records the final state of one task.
func (m *Metrics) IncIngest(platform models.Platform, state models.TaskState) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(string(platform), string(state)).Inc()
}

// IncTier records the tier of a committed listing.
func (m *Metrics) IncTier(platform models.Platform, tier quality.Tier) {
	if m == nil {
		return
	}
	m.TierTotal.WithLabelValues(string(platform), string(tier)).Inc()
}

// IncDegradation records a parse that lost data compared to what is stored.
func (m *Metrics) IncDegradation(platform models.Platform, field string) {
	if m == nil {
		return
	}
	m.DegradationsTotal.WithLabelValues(string(platform), field).Inc()
}

// IncRescrape records one rescrape caller's outcome.
func (m *Metrics) IncRescrape(outcome string) {
	if m == nil {
		return
	}
	m.RescrapesTotal.WithLabelValues(outcome).Inc()
}
