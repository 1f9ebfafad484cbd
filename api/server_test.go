package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-catalog-ingest/imagecache"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/pipeline"
	"github.com/aluiziolira/go-catalog-ingest/quality"
	"github.com/aluiziolira/go-catalog-ingest/store"
)

type fakeCatalog struct {
	listings map[uint]*models.Listing
	counts   quality.Counts
	platform models.Platform
	pingErr  error
	countErr error
}

func (f *fakeCatalog) FindByID(_ context.Context, id uint) (*models.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return nil, store.ErrListingNotFound
	}
	return l, nil
}

func (f *fakeCatalog) CountByPlatformAndTier(_ context.Context, platform models.Platform) (quality.Counts, error) {
	f.platform = platform
	return f.counts, f.countErr
}

func (f *fakeCatalog) Ping(context.Context) error { return f.pingErr }

type fakeRescraper struct {
	result pipeline.RescrapeResult
	err    error
	calls  []uint
}

func (f *fakeRescraper) Rescrape(_ context.Context, id uint) (pipeline.RescrapeResult, error) {
	f.calls = append(f.calls, id)
	return f.result, f.err
}

type decoded struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
	Meta    meta            `json:"meta"`
}

func newTestRouter(t *testing.T, catalog *fakeCatalog, rescraper *fakeRescraper) http.Handler {
	t.Helper()
	return NewRouter(Deps{
		Rescraper:  rescraper,
		Catalog:    catalog,
		Classifier: quality.NewClassifier(4),
	})
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, decoded) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body decoded
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, rec.Body.String())
		}
	}
	return rec, body
}

func detailWith(attrs int) *models.DetailPayload {
	d := &models.DetailPayload{}
	for i := 0; i < attrs; i++ {
		d.Attributes = append(d.Attributes, models.Attribute{Label: fmt.Sprintf("k%d", i), Value: "v"})
	}
	return d
}

func TestHealthz(t *testing.T) {
	catalog := &fakeCatalog{}
	h := newTestRouter(t, catalog, &fakeRescraper{})

	rec, body := do(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || !body.Success {
		t.Fatalf("healthy: status=%d success=%v", rec.Code, body.Success)
	}
	if body.Meta.RequestID == "" {
		t.Fatalf("expected request id in meta")
	}

	catalog.pingErr = errors.New("db down")
	rec, body = do(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", rec.Code)
	}
	if body.Error == nil || body.Error.Code != "DEPENDENCY_UNREADY" {
		t.Fatalf("unexpected error body: %+v", body.Error)
	}
}

func TestGetListing(t *testing.T) {
	catalog := &fakeCatalog{listings: map[uint]*models.Listing{
		7: {ID: 7, Platform: models.PlatformAlibaba, Title: "Widget", Detail: detailWith(5)},
		8: {ID: 8, Platform: models.PlatformAlibaba, Title: "Bare"},
	}}
	h := newTestRouter(t, catalog, &fakeRescraper{})

	tests := []struct {
		target string
		status int
		tier   quality.Tier
		code   string
	}{
		{"/api/v1/listings/7", http.StatusOK, quality.Good, ""},
		{"/api/v1/listings/8", http.StatusOK, quality.Missing, ""},
		{"/api/v1/listings/9", http.StatusNotFound, "", "NOT_FOUND"},
		{"/api/v1/listings/abc", http.StatusBadRequest, "", "BAD_REQUEST"},
		{"/api/v1/listings/0", http.StatusBadRequest, "", "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.code != "" {
				if body.Error == nil || body.Error.Code != tt.code {
					t.Fatalf("error = %+v, want %s", body.Error, tt.code)
				}
				return
			}
			var view struct {
				ID          uint         `json:"id"`
				QualityTier quality.Tier `json:"quality_tier"`
			}
			if err := json.Unmarshal(body.Data, &view); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if view.QualityTier != tt.tier {
				t.Fatalf("tier = %s, want %s", view.QualityTier, tt.tier)
			}
		})
	}
}

func TestRescrapeSuccess(t *testing.T) {
	rescraper := &fakeRescraper{result: pipeline.RescrapeResult{
		ListingID:      3,
		AttributeCount: 6,
		PriceTierCount: 2,
		QualityTier:    quality.Good,
		ImageStatus:    string(models.ImageStatusCached),
	}}
	h := newTestRouter(t, &fakeCatalog{}, rescraper)

	rec, body := do(t, h, http.MethodPost, "/api/v1/listings/3/rescrape")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got pipeline.RescrapeResult
	if err := json.Unmarshal(body.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got != rescraper.result {
		t.Fatalf("result = %+v, want %+v", got, rescraper.result)
	}
	if len(rescraper.calls) != 1 || rescraper.calls[0] != 3 {
		t.Fatalf("calls = %v", rescraper.calls)
	}
}

func TestRescrapeErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing listing", fmt.Errorf("load: %w", store.ErrListingNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"unreachable", models.UnreachableError{URL: "https://x", Attempts: 3}, http.StatusBadGateway, "UNREACHABLE"},
		{"blocked", models.BlockedError{Platform: models.PlatformDHgate, Reason: "login_wall"}, http.StatusBadGateway, "BLOCKED"},
		{"gone", models.NotFoundError{URL: "https://x"}, http.StatusGone, "SOURCE_GONE"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"store", models.StoreError{Op: "upsert", Err: errors.New("disk full")}, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeCatalog{}, &fakeRescraper{err: tt.err})
			rec, body := do(t, h, http.MethodPost, "/api/v1/listings/1/rescrape")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if body.Error == nil || body.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", body.Error, tt.code)
			}
		})
	}
}

func TestRescrapeBreakerOpenSetsRetryAfter(t *testing.T) {
	err := models.BreakerOpenError{Platform: models.PlatformAlibaba, RetryAt: time.Now().Add(90 * time.Second)}
	h := newTestRouter(t, &fakeCatalog{}, &fakeRescraper{err: err})

	rec, body := do(t, h, http.MethodPost, "/api/v1/listings/1/rescrape")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "90" {
		t.Fatalf("Retry-After = %q, want 90", got)
	}
	if body.Error == nil || body.Error.Code != "BREAKER_OPEN" {
		t.Fatalf("error = %+v", body.Error)
	}
}

func TestTierStats(t *testing.T) {
	catalog := &fakeCatalog{counts: quality.Counts{quality.Good: 4, quality.Bad: 1}}
	h := newTestRouter(t, catalog, &fakeRescraper{})

	rec, body := do(t, h, http.MethodGet, "/api/v1/stats/tiers?platform=made-in-china")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if catalog.platform != models.PlatformMadeInChina {
		t.Fatalf("platform passed = %q", catalog.platform)
	}
	var stats tierStats
	if err := json.Unmarshal(body.Data, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 5 || stats.Tiers["GOOD"] != 4 || stats.Tiers["MISSING"] != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Tiers) != len(quality.Tiers()) {
		t.Fatalf("expected every tier reported, got %v", stats.Tiers)
	}

	rec, body = do(t, h, http.MethodGet, "/api/v1/stats/tiers?platform=ebay")
	if rec.Code != http.StatusBadRequest || body.Error == nil || body.Error.Code != "BAD_REQUEST" {
		t.Fatalf("invalid platform: status=%d error=%+v", rec.Code, body.Error)
	}

	catalog.countErr = errors.New("boom")
	rec, _ = do(t, h, http.MethodGet, "/api/v1/stats/tiers")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("count failure status = %d", rec.Code)
	}
}

func TestCacheAndMetricsRoutes(t *testing.T) {
	fs, err := imagecache.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	cache := imagecache.NewCache(fs, "/cache/", nil)
	entry, err := cache.Put(context.Background(), []byte("jpeg-ish"), "jpg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	reg := prometheus.NewRegistry()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "api_test_hits_total", Help: "hits"})
	reg.MustRegister(hits)
	hits.Inc()

	h := NewRouter(Deps{
		Rescraper:  &fakeRescraper{},
		Catalog:    &fakeCatalog{},
		Classifier: quality.NewClassifier(4),
		Images:     cache,
		Gatherer:   reg,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache/"+entry.Name, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg-ish" {
		t.Fatalf("cache route = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "api_test_hits_total 1") {
		t.Fatalf("metrics route = %d %q", rec.Code, rec.Body.String())
	}
}
