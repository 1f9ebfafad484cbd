// Package api exposes the catalog over HTTP: on-demand rescrapes, listing
// lookups, tier statistics, cached images and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/pipeline"
	"github.com/aluiziolira/go-catalog-ingest/quality"
	"github.com/aluiziolira/go-catalog-ingest/store"
)

// Rescraper refetches one listing on demand.
type Rescraper interface {
	Rescrape(ctx context.Context, listingID uint) (pipeline.RescrapeResult, error)
}

// Catalog is the read side of the listing store.
type Catalog interface {
	FindByID(ctx context.Context, id uint) (*models.Listing, error)
	CountByPlatformAndTier(ctx context.Context, platform models.Platform) (quality.Counts, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves. Images and Gatherer may be
// nil to leave their routes out.
type Deps struct {
	Rescraper       Rescraper
	Catalog         Catalog
	Classifier      quality.Classifier
	Images          http.Handler
	ImagePrefix     string
	Gatherer        prometheus.Gatherer
	RescrapeTimeout time.Duration
}

type server struct {
	deps Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	if deps.RescrapeTimeout <= 0 {
		deps.RescrapeTimeout = 2 * time.Minute
	}
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Images != nil {
		prefix := deps.ImagePrefix
		if prefix == "" {
			prefix = "/cache/"
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		r.Handle(prefix+"*", deps.Images)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/listings/{id}", s.getListing)
		r.Post("/listings/{id}/rescrape", s.rescrape)
		r.Get("/stats/tiers", s.tierStats)
	})
	return r
}

type listingView struct {
	*models.Listing
	QualityTier quality.Tier `json:"quality_tier"`
}

type tierStats struct {
	Platform string           `json:"platform,omitempty"`
	Tiers    map[string]int64 `json:"tiers"`
	Total    int64            `json:"total"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Catalog.Ping(ctx); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "store unavailable", nil)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid listing id", nil)
		return
	}
	listing, err := s.deps.Catalog.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrListingNotFound) {
			writeError(w, r, http.StatusNotFound, "NOT_FOUND", "listing not found", nil)
			return
		}
		slog.Error("load listing failed", slog.Uint64("id", uint64(id)), slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "failed to load listing", nil)
		return
	}
	writeJSON(w, r, http.StatusOK, listingView{Listing: listing, QualityTier: s.deps.Classifier.Classify(listing.Detail)})
}

func (s *server) rescrape(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid listing id", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RescrapeTimeout)
	defer cancel()

	result, err := s.deps.Rescraper.Rescrape(ctx, id)
	if err == nil {
		writeJSON(w, r, http.StatusOK, result)
		return
	}

	var (
		unreachable models.UnreachableError
		breakerOpen models.BreakerOpenError
		blocked     models.BlockedError
		notFound    models.NotFoundError
	)
	switch {
	case errors.Is(err, store.ErrListingNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "listing not found", nil)
	case errors.As(err, &breakerOpen):
		retryAfter := int(math.Ceil(time.Until(breakerOpen.RetryAt).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, r, http.StatusServiceUnavailable, "BREAKER_OPEN", "source platform is cooling down", map[string]any{"retry_at": breakerOpen.RetryAt})
	case errors.As(err, &unreachable):
		writeError(w, r, http.StatusBadGateway, "UNREACHABLE", "source page unreachable after retries", map[string]any{"attempts": unreachable.Attempts})
	case errors.As(err, &blocked):
		writeError(w, r, http.StatusBadGateway, "BLOCKED", "source page refused the request", map[string]any{"reason": blocked.Reason})
	case errors.As(err, &notFound):
		writeError(w, r, http.StatusGone, "SOURCE_GONE", "source page no longer exists", nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "rescrape did not finish in time", nil)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		slog.Error("rescrape failed", slog.Uint64("id", uint64(id)), slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "rescrape failed", nil)
	}
}

func (s *server) tierStats(w http.ResponseWriter, r *http.Request) {
	var platform models.Platform
	if raw := strings.TrimSpace(r.URL.Query().Get("platform")); raw != "" {
		p, err := models.ParsePlatform(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		platform = p
	}
	counts, err := s.deps.Catalog.CountByPlatformAndTier(r.Context(), platform)
	if err != nil {
		slog.Error("count tiers failed", slog.String("platform", string(platform)), slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "failed to count tiers", nil)
		return
	}

	out := tierStats{Platform: string(platform), Tiers: make(map[string]int64, len(counts)), Total: counts.Total()}
	for _, tier := range quality.Tiers() {
		out.Tiers[string(tier)] = counts[tier]
	}
	writeJSON(w, r, http.StatusOK, out)
}

func parsePathID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}
