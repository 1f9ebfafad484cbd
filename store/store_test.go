package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/quality"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatabaseDriver = "sqlite"
	cfg.DatabaseURL = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func attrs(n int) []models.Attribute {
	out := make([]models.Attribute, n)
	for i := range out {
		out[i] = models.Attribute{Label: fmt.Sprintf("label %d", i), Value: "v"}
	}
	return out
}

func listing(url string, status models.ImageStatus, detailAge time.Duration, attributes int) *models.Listing {
	updated := fixedNow.Add(-detailAge)
	l := &models.Listing{
		Platform:        models.PlatformAlibaba,
		URL:             url,
		Title:           "Stainless steel bottle",
		ImageStatus:     status,
		Detail:          &models.DetailPayload{Attributes: attrs(attributes)},
		DetailUpdatedAt: &updated,
	}
	if status == models.ImageStatusCached {
		l.ImagePath = "/cache/abc.jpg"
	}
	return l
}

func countRows(t *testing.T, s *Store) int64 {
	t.Helper()
	var n int64
	if err := s.db.Model(&models.Listing{}).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestUpsertSameCanonicalKeyKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, listing("https://WWW.Alibaba.com/product-detail/bottle_1600.html?spm=a2700#reviews", models.ImageStatusPending, time.Hour, 2))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.Upsert(ctx, listing("https://www.alibaba.com/product-detail/bottle_1600.html/", models.ImageStatusPending, 0, 4))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if got := countRows(t, s); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the row id to be stable, got %d and %d", first.ID, second.ID)
	}
	if second.CanonicalURL != "https://www.alibaba.com/product-detail/bottle_1600.html" {
		t.Fatalf("unexpected canonical url %q", second.CanonicalURL)
	}
	if len(second.Detail.Attributes) != 4 {
		t.Fatalf("expected the fresher record to win, got %d attributes", len(second.Detail.Attributes))
	}
}

func TestUpsertCachedImageOutranksPlaceholder(t *testing.T) {
	const url = "https://www.alibaba.com/product-detail/lamp_77.html"

	tests := []struct {
		name  string
		first *models.Listing
		later *models.Listing
	}{
		{
			name:  "real image arrives after placeholder",
			first: listing(url, models.ImageStatusPending, 48*time.Hour, 12),
			later: listing(url, models.ImageStatusCached, 0, 3),
		},
		{
			name:  "placeholder arrives after real image",
			first: listing(url, models.ImageStatusCached, 48*time.Hour, 3),
			later: listing(url, models.ImageStatusUnresolved, 0, 12),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()

			if _, err := s.Upsert(ctx, tt.first); err != nil {
				t.Fatalf("first upsert: %v", err)
			}
			if _, err := s.Upsert(ctx, tt.later); err != nil {
				t.Fatalf("later upsert: %v", err)
			}

			if got := countRows(t, s); got != 1 {
				t.Fatalf("expected 1 row, got %d", got)
			}
			stored, err := s.FindByCanonicalKey(ctx, models.PlatformAlibaba, url+"?utm_source=mail")
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !stored.HasCachedImage() {
				t.Fatalf("expected the cached image row to survive, got status %q", stored.ImageStatus)
			}
		})
	}
}

func TestScoreOrdering(t *testing.T) {
	recent := fixedNow
	old := fixedNow.Add(-30 * 24 * time.Hour)

	cachedOld := &models.Listing{ImageStatus: models.ImageStatusCached, ImagePath: "/cache/a.jpg", DetailUpdatedAt: &old}
	pendingRecent := &models.Listing{ImageStatus: models.ImageStatusPending, DetailUpdatedAt: &recent}
	if Score(cachedOld, fixedNow) <= Score(pendingRecent, fixedNow) {
		t.Fatal("expected a cached image to outrank recency")
	}

	short := &models.Listing{DetailUpdatedAt: &recent, Detail: &models.DetailPayload{Description: "short"}}
	long := &models.Listing{DetailUpdatedAt: &recent, Detail: &models.DetailPayload{Description: strings.Repeat("x", 2000)}}
	if Score(long, fixedNow) <= Score(short, fixedNow) {
		t.Fatal("expected description length to break ties")
	}
}

func TestUpsertSummaryLeavesDetailAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const url = "https://www.alibaba.com/product-detail/mug_9.html"

	full := listing(url, models.ImageStatusCached, time.Hour, 11)
	if _, err := s.Upsert(ctx, full); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	summary := models.NewListingFromSummary(models.PartialListing{
		Platform:  models.PlatformAlibaba,
		URL:       url + "?spm=x",
		Title:     "Ceramic mug 350ml",
		PriceText: "US$1.20-2.00",
		PriceMin:  1.2,
		PriceMax:  2,
		Currency:  "USD",
	}, "")
	kept, err := s.UpsertSummary(ctx, summary)
	if err != nil {
		t.Fatalf("upsert summary: %v", err)
	}

	if kept.Title != "Ceramic mug 350ml" || kept.PriceText != "US$1.20-2.00" {
		t.Fatalf("summary columns not refreshed: %+v", kept)
	}
	if kept.Detail == nil || len(kept.Detail.Attributes) != 11 {
		t.Fatalf("detail payload must be preserved, got %+v", kept.Detail)
	}
	if !kept.HasCachedImage() {
		t.Fatal("image must be preserved")
	}
	if got := countRows(t, s); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
}

func TestUpsertSummaryInsertsWithoutDetail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.UpsertSummary(ctx, models.NewListingFromSummary(models.PartialListing{
		Platform: models.PlatformDHgate,
		URL:      "https://www.dhgate.com/product/led-strip/881.html",
		Title:    "LED strip",
	}, ""))
	if err != nil {
		t.Fatalf("upsert summary: %v", err)
	}

	stored, err := s.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if stored.Detail != nil {
		t.Fatalf("expected no detail payload, got %+v", stored.Detail)
	}
	if stored.ImageStatus != models.ImageStatusPending {
		t.Fatalf("expected pending image, got %q", stored.ImageStatus)
	}
	if tier := quality.Classify(stored.Detail); tier != quality.Missing {
		t.Fatalf("expected MISSING, got %s", tier)
	}
}

func TestConcurrentUpsertsOfOneKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const url = "https://www.alibaba.com/product-detail/chair_5.html"

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(ctx, listing(url, models.ImageStatusPending, time.Duration(i)*time.Minute, i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if got := countRows(t, s); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
}

func TestFindMissingListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindByID(ctx, 42); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if _, err := s.FindByCanonicalKey(ctx, models.PlatformAlibaba, "https://www.alibaba.com/none.html"); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestCountByPlatformAndTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		platform   models.Platform
		attributes int
		noDetail   bool
	}{
		{models.PlatformAlibaba, 0, true},
		{models.PlatformAlibaba, 0, false},
		{models.PlatformAlibaba, 3, false},
		{models.PlatformAlibaba, 10, false},
		{models.PlatformDHgate, 12, false},
	}
	for i, row := range seed {
		l := listing(fmt.Sprintf("https://example.com/p/%d.html", i), models.ImageStatusPending, 0, row.attributes)
		l.Platform = row.platform
		if row.noDetail {
			l.Detail = nil
			l.DetailUpdatedAt = nil
		}
		if _, err := s.Upsert(ctx, l); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	counts, err := s.CountByPlatformAndTier(ctx, models.PlatformAlibaba)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	want := quality.Counts{quality.Missing: 1, quality.Bad: 1, quality.Partial: 1, quality.Good: 1}
	for tier, n := range want {
		if counts[tier] != n {
			t.Fatalf("tier %s: expected %d, got %d", tier, n, counts[tier])
		}
	}

	all, err := s.CountByPlatformAndTier(ctx, "")
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if all.Total() != 5 || all[quality.Good] != 2 {
		t.Fatalf("unexpected totals: %v", all)
	}
}

func TestListAfterAndEach(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Upsert(ctx, listing(fmt.Sprintf("https://example.com/item/%d", i), models.ImageStatusPending, 0, 1)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	page, err := s.ListAfter(ctx, 2, 2)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(page) != 2 || page[0].ID != 3 || page[1].ID != 4 {
		t.Fatalf("unexpected page: %+v", page)
	}

	var seen []uint
	err = s.Each(ctx, 2, func(batch []*models.Listing) error {
		for _, l := range batch {
			seen = append(seen, l.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 listings, got %v", seen)
	}
}

func TestDedupeCollapsesLegacyRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := fixedNow.Add(-72 * time.Hour)
	legacy := []models.Listing{
		{
			Platform:        models.PlatformMadeInChina,
			URL:             "https://www.made-in-china.com/product/Drill-9.html?from=search",
			CanonicalURL:    "https://www.made-in-china.com/product/Drill-9.html?from=search",
			ImageStatus:     models.ImageStatusPending,
			DetailUpdatedAt: &fixedNow,
		},
		{
			Platform:        models.PlatformMadeInChina,
			URL:             "https://WWW.made-in-china.com/product/Drill-9.html",
			CanonicalURL:    "https://WWW.made-in-china.com/product/Drill-9.html",
			ImageStatus:     models.ImageStatusCached,
			ImagePath:       "/cache/drill.jpg",
			DetailUpdatedAt: &older,
		},
		{
			Platform:     models.PlatformMadeInChina,
			URL:          "https://www.made-in-china.com/product/Saw-1.html",
			CanonicalURL: "https://www.made-in-china.com/product/Saw-1.html",
			ImageStatus:  models.ImageStatusPending,
		},
	}
	for i := range legacy {
		if err := s.db.Create(&legacy[i]).Error; err != nil {
			t.Fatalf("seed legacy row: %v", err)
		}
	}

	removed, err := s.Dedupe(ctx)
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed row, got %d", removed)
	}
	if got := countRows(t, s); got != 2 {
		t.Fatalf("expected 2 rows, got %d", got)
	}

	kept, err := s.FindByCanonicalKey(ctx, models.PlatformMadeInChina, "https://www.made-in-china.com/product/Drill-9.html")
	if err != nil {
		t.Fatalf("find survivor: %v", err)
	}
	if kept.ID != legacy[1].ID || !kept.HasCachedImage() {
		t.Fatalf("expected the cached image row to survive, got %+v", kept)
	}
}

func TestDedupeRekeysLoneStaleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const tracked = "https://www.alibaba.com/product-detail/Bottle_77.html?spm=a2700.search"
	stale := models.Listing{
		Platform:     models.PlatformAlibaba,
		URL:          tracked,
		CanonicalURL: tracked,
		Title:        "Stainless steel bottle",
		ImageStatus:  models.ImageStatusPending,
	}
	if err := s.db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	removed, err := s.Dedupe(ctx)
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing removed, got %d", removed)
	}

	var reloaded models.Listing
	if err := s.db.First(&reloaded, stale.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	want, err := s.CanonicalKey(tracked)
	if err != nil {
		t.Fatalf("canonical key: %v", err)
	}
	if reloaded.CanonicalURL != want || want == tracked {
		t.Fatalf("canonical_url = %q, want %q", reloaded.CanonicalURL, want)
	}

	if _, err := s.Upsert(ctx, listing("https://www.alibaba.com/product-detail/Bottle_77.html", models.ImageStatusPending, 0, 2)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := countRows(t, s); got != 1 {
		t.Fatalf("expected the upsert to reuse the rekeyed row, got %d rows", got)
	}
}
