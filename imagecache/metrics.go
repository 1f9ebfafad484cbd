package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// Metrics bundles Prometheus collectors for image resolution.
type Metrics struct {
	ImagesTotal     *prometheus.CounterVec
	RejectedTotal   *prometheus.CounterVec
	ResolutionTotal *prometheus.CounterVec
}

// NewMetrics registers image collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	images := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_images_total",
			Help: "Image cache writes by outcome (cached, reused).",
		},
		[]string{"outcome"},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_image_candidates_rejected_total",
			Help: "Gallery candidates dropped by the filter chain, by reason.",
		},
		[]string{"reason"},
	)
	resolution := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_image_resolutions_total",
			Help: "Image resolutions by platform and resulting status.",
		},
		[]string{"platform", "status"},
	)
	if reg != nil {
		reg.MustRegister(images, rejected, resolution)
	}
	return &Metrics{
		ImagesTotal:     images,
		RejectedTotal:   rejected,
		ResolutionTotal: resolution,
	}
}

// IncImage counts a cache write outcome.
func (m *Metrics) IncImage(outcome string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(outcome).Inc()
}

// IncRejected counts a filtered candidate.
func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

// IncResolution counts a finished resolution.
func (m *Metrics) IncResolution(platform models.Platform, status models.ImageStatus) {
	if m == nil {
		return
	}
	m.ResolutionTotal.WithLabelValues(string(platform), string(status)).Inc()
}
