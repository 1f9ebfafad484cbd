package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/pipeline"
	"github.com/aluiziolira/go-catalog-ingest/provider"
)

// crawlTally collects per-crawl counters across seed goroutines.
type crawlTally struct {
	pages    int64
	items    int64
	errors   int64
	requests int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

func (t *crawlTally) fail(url string, err error) {
	atomic.AddInt64(&t.errors, 1)
	t.mu.Lock()
	t.failedURLs = append(t.failedURLs, url)
	t.errorsByType[models.ErrorKind(err)]++
	t.mu.Unlock()
}

// Discover crawls category and search pages per platform, following
// next-page links up to MaxPages per seed, and streams every listing card
// into p. Seeds run concurrently, bounded by the worker count; a failing page
// ends its own seed only.
func (o *Orchestrator) Discover(ctx context.Context, seeds map[models.Platform][]string, p *pipeline.Pipeline) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	startRetries := o.TotalRetries()
	tally := &crawlTally{errorsByType: make(map[string]int)}

	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.Workers
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, platform := range models.AllPlatforms() {
		platformSeeds := seeds[platform]
		if len(platformSeeds) == 0 {
			continue
		}
		discoverer, ok := o.registry.Discoverer(platform)
		if !ok {
			slog.Warn("platform does not support discovery", slog.String("platform", string(platform)))
			continue
		}
		for _, seed := range platformSeeds {
			g.Go(func() error {
				o.crawlSeed(gctx, platform, seed, discoverer, p, tally)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &models.CrawlResult{
		StartTime:    start,
		EndTime:      time.Now(),
		TotalCount:   int(atomic.LoadInt64(&tally.items)),
		ErrorCount:   int(atomic.LoadInt64(&tally.errors)),
		RetryCount:   o.TotalRetries() - startRetries,
		RequestCount: int(atomic.LoadInt64(&tally.requests)),
		PageCount:    int(atomic.LoadInt64(&tally.pages)),
	}
	tally.mu.Lock()
	result.FailedURLs = append([]string(nil), tally.failedURLs...)
	result.ErrorsByType = make(map[string]int, len(tally.errorsByType))
	for k, v := range tally.errorsByType {
		result.ErrorsByType[k] = v
	}
	tally.mu.Unlock()
	return result, ctx.Err()
}

func (o *Orchestrator) crawlSeed(ctx context.Context, platform models.Platform, seed string, d provider.Discoverer, p *pipeline.Pipeline, tally *crawlTally) {
	visited := make(map[string]struct{})
	next := seed
	for page := 0; page < o.cfg.MaxPages && next != ""; page++ {
		if ctx.Err() != nil {
			return
		}
		if _, seen := visited[next]; seen {
			return
		}
		visited[next] = struct{}{}

		atomic.AddInt64(&tally.requests, 1)
		raw, err := o.submit(ctx, next, platform, models.PriorityLow, true).Wait(ctx)
		if err != nil {
			if ctx.Err() == nil {
				tally.fail(next, err)
				slog.Error("discovery page failed",
					slog.String("platform", string(platform)),
					slog.String("url", next),
					slog.String("category", models.ErrorKind(err)),
					slog.Any("error", err),
				)
			}
			return
		}
		current := atomic.AddInt64(&tally.pages, 1)

		cards := d.ExtractListings(raw.Body, raw.FinalURL)
		batch := make([]*models.PartialListing, 0, len(cards))
		for i := range cards {
			batch = append(batch, &cards[i])
		}
		o.Metrics.IncItems(platform, len(batch))
		atomic.AddInt64(&tally.items, int64(len(batch)))
		if err := p.Process(batch...); err != nil {
			if errors.Is(err, pipeline.ErrPipelineClosed) {
				return
			}
			slog.Error("pipeline process error", slog.Any("error", err))
		}

		if current%10 == 0 {
			slog.Debug("discovery progress",
				slog.Int64("pages", current),
				slog.Int64("items", atomic.LoadInt64(&tally.items)),
				slog.String("url", next),
			)
		}
		next = d.NextPage(raw.Body, raw.FinalURL)
	}
}
