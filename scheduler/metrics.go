package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-catalog-ingest/quality"
)

// Metrics tracks scheduling passes.
type Metrics struct {
	PassesTotal      *prometheus.CounterVec
	SelectedTotal    *prometheus.CounterVec
	StoreAlertsTotal prometheus.Counter
	Cursor           prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_passes_total",
				Help: "Scheduling passes by outcome.",
			},
			[]string{"outcome"},
		),
		SelectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_selected_total",
				Help: "Listings selected for refetch, by tier at selection time.",
			},
			[]string{"tier"},
		),
		StoreAlertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduler_store_alerts_total",
				Help: "Times consecutive store errors crossed the alert threshold.",
			},
		),
		Cursor: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scheduler_checkpoint_cursor",
				Help: "Last checkpointed listing ID of the current pass.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.PassesTotal, m.SelectedTotal, m.StoreAlertsTotal, m.Cursor)
	}
	return m
}

func (m *Metrics) IncPass(outcome string) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSelected(tier quality.Tier) {
	if m == nil {
		return
	}
	m.SelectedTotal.WithLabelValues(string(tier)).Inc()
}

func (m *Metrics) IncStoreAlert() {
	if m == nil {
		return
	}
	m.StoreAlertsTotal.Inc()
}

func (m *Metrics) SetCursor(cursor uint) {
	if m == nil {
		return
	}
	m.Cursor.Set(float64(cursor))
}
