package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/go-catalog-ingest/imagecache"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/provider"
	"github.com/aluiziolira/go-catalog-ingest/quality"
	"github.com/aluiziolira/go-catalog-ingest/store"
)

// PageFetcher fetches a task's page, retrying and coalescing as needed.
type PageFetcher interface {
	Fetch(ctx context.Context, task *models.ScrapeTask) (*models.RawPage, error)
}

// ImageResolver picks and caches a representative gallery image.
type ImageResolver interface {
	Resolve(ctx context.Context, platform models.Platform, gallery []string) (imagecache.Result, error)
}

// ListingStore is the persistence boundary used by ingestion.
type ListingStore interface {
	Upsert(ctx context.Context, listing *models.Listing) (*models.Listing, error)
	FindByID(ctx context.Context, id uint) (*models.Listing, error)
	FindByCanonicalKey(ctx context.Context, platform models.Platform, rawURL string) (*models.Listing, error)
}

// Outcome is what one successful ingest committed.
type Outcome struct {
	Listing  *models.Listing
	Tier     quality.Tier
	Degraded bool
}

// RescrapeResult is the quality summary returned to on-demand callers.
type RescrapeResult struct {
	ListingID      uint         `json:"listing_id"`
	AttributeCount int          `json:"attribute_count"`
	PriceTierCount int          `json:"price_tier_count"`
	QualityTier    quality.Tier `json:"quality_tier"`
	ImageStatus    string       `json:"image_status"`
}

// Ingestor runs one task through fetch, parse, classify, image resolution
// and commit.
type Ingestor struct {
	fetcher    PageFetcher
	registry   *provider.Registry
	classifier quality.Classifier
	images     ImageResolver
	store      ListingStore
	metrics    *Metrics
	now        func() time.Time

	rescrapes singleflight.Group
}

// NewIngestor wires the stages. images may be nil to skip image resolution.
func NewIngestor(fetcher PageFetcher, registry *provider.Registry, classifier quality.Classifier, images ImageResolver, listings ListingStore, metrics *Metrics) *Ingestor {
	return &Ingestor{
		fetcher:    fetcher,
		registry:   registry,
		classifier: classifier,
		images:     images,
		store:      listings,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Ingest drives task through its state machine. Parse and image problems
// degrade the committed record; fetch and store failures end the attempt
// and are returned.
func (in *Ingestor) Ingest(ctx context.Context, task *models.ScrapeTask) (*Outcome, error) {
	if err := task.Transition(models.TaskFetching); err != nil {
		return nil, err
	}

	page, err := in.fetcher.Fetch(ctx, task)
	// The fetcher retries internally and only reports the attempt count, so
	// the RETRY_PENDING/FETCHING rounds are recorded after it returns.
	for i := 1; i < task.Attempts; i++ {
		if terr := advance(task, models.TaskRetryPending, models.TaskFetching); terr != nil {
			return nil, in.fail(task, terr)
		}
	}
	if err != nil {
		return nil, in.fail(task, err)
	}

	adapter, err := in.registry.Get(task.Platform)
	if err != nil {
		return nil, in.fail(task, err)
	}
	summary := adapter.ExtractSummary(page.Body, page.FinalURL)
	detail := adapter.ExtractDetail(page.Body, page.FinalURL)
	summary.Platform = task.Platform
	summary.URL = task.URL
	if err := advance(task, models.TaskParsed); err != nil {
		return nil, in.fail(task, err)
	}

	existing, err := in.store.FindByCanonicalKey(ctx, task.Platform, task.URL)
	if err != nil && !errors.Is(err, store.ErrListingNotFound) {
		return nil, in.fail(task, err)
	}

	var record *models.Listing
	if existing != nil {
		copied := *existing
		record = &copied
		record.ApplySummary(summary)
	} else {
		record = models.NewListingFromSummary(summary, "")
	}

	degraded := in.applyDetail(task, record, existing, detail)
	if err := advance(task, models.TaskClassified); err != nil {
		return nil, in.fail(task, err)
	}

	if err := in.resolveImage(ctx, record, summary.ImageURL); err != nil {
		return nil, in.fail(task, err)
	}
	if err := advance(task, models.TaskImageResolved); err != nil {
		return nil, in.fail(task, err)
	}

	kept, err := in.store.Upsert(ctx, record)
	if err != nil {
		return nil, in.fail(task, err)
	}
	task.ListingID = kept.ID
	if err := advance(task, models.TaskStored); err != nil {
		return nil, in.fail(task, err)
	}

	tier := in.classifier.Classify(kept.Detail)
	in.metrics.IncIngest(task.Platform, models.TaskStored)
	in.metrics.IncTier(task.Platform, tier)
	slog.Debug("listing stored",
		slog.String("platform", string(task.Platform)),
		slog.String("url", task.URL),
		slog.Uint64("id", uint64(kept.ID)),
		slog.String("tier", string(tier)),
		slog.String("image", string(kept.ImageStatus)),
	)
	return &Outcome{Listing: kept, Tier: tier, Degraded: degraded}, nil
}

// applyDetail replaces the payload wholesale, except that a parse without any
// attribute never overwrites a stored PARTIAL or GOOD payload.
func (in *Ingestor) applyDetail(task *models.ScrapeTask, record, existing *models.Listing, detail models.DetailPayload) bool {
	if len(detail.Attributes) == 0 && existing != nil {
		if tier := in.classifier.Classify(existing.Detail); tier == quality.Partial || tier == quality.Good {
			perr := models.ParseError{Platform: task.Platform, URL: task.URL, Field: "attributes"}
			in.metrics.IncDegradation(task.Platform, perr.Field)
			slog.Warn("parse degraded, keeping stored detail",
				slog.String("platform", string(task.Platform)),
				slog.String("url", task.URL),
				slog.String("stored_tier", string(tier)),
				slog.Any("error", perr),
			)
			return true
		}
	}

	now := in.now()
	record.Detail = &detail
	record.DetailUpdatedAt = &now
	if record.Title == "" {
		slog.Debug("parse produced no title",
			slog.Any("error", models.ParseError{Platform: task.Platform, URL: task.URL, Field: "title"}),
		)
	}
	return false
}

// resolveImage re-resolves only when the gallery changed or the image was
// never attempted. A failed re-resolution keeps an earlier cached image.
func (in *Ingestor) resolveImage(ctx context.Context, record *models.Listing, fallback string) error {
	if in.images == nil {
		return nil
	}
	var gallery []string
	if record.Detail != nil {
		gallery = record.Detail.Gallery
	}
	if len(gallery) == 0 && fallback != "" {
		gallery = []string{fallback}
	}
	digest := imagecache.GalleryDigest(gallery)
	if record.ImageStatus != models.ImageStatusPending && record.ImageStatus != "" && digest == record.GalleryDigest {
		return nil
	}

	result, err := in.images.Resolve(ctx, record.Platform, gallery)
	if err != nil {
		return err
	}
	record.GalleryDigest = digest
	switch {
	case result.Status == models.ImageStatusCached:
		record.ImageStatus = models.ImageStatusCached
		record.ImagePath = result.Entry.Path
		record.ImageSourceURL = result.SourceURL
	case record.HasCachedImage():
		slog.Debug("image re-resolution failed, keeping cached image",
			slog.String("url", record.URL),
			slog.Int("failures", len(result.Failures)),
		)
	default:
		record.ImageStatus = models.ImageStatusUnresolved
		record.ImagePath = ""
		record.ImageSourceURL = ""
	}
	return nil
}

// advance walks task through states in order and stops at the first move
// the lifecycle rejects.
func advance(task *models.ScrapeTask, states ...models.TaskState) error {
	for _, next := range states {
		if err := task.Transition(next); err != nil {
			return fmt.Errorf("ingest %s: %w", task.URL, err)
		}
	}
	return nil
}

func (in *Ingestor) fail(task *models.ScrapeTask, err error) error {
	task.Fail(err)
	in.metrics.IncIngest(task.Platform, task.State)
	level := slog.LevelWarn
	if task.State == models.TaskBreakerOpen {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "ingest failed",
		slog.String("platform", string(task.Platform)),
		slog.String("url", task.URL),
		slog.String("state", string(task.State)),
		slog.String("category", task.LastErrorKind),
		slog.Any("error", err),
	)
	return err
}

// Rescrape refetches one listing at high priority and reports its quality.
// Concurrent calls for the same listing share one ingest and receive the
// same result.
func (in *Ingestor) Rescrape(ctx context.Context, listingID uint) (RescrapeResult, error) {
	key := strconv.FormatUint(uint64(listingID), 10)
	// Detached so one caller giving up does not fail the others; the
	// fetcher's timeout and retry budget bound the work.
	shared := context.WithoutCancel(ctx)
	ch := in.rescrapes.DoChan(key, func() (any, error) {
		return in.rescrape(shared, listingID)
	})

	select {
	case <-ctx.Done():
		in.metrics.IncRescrape("abandoned")
		return RescrapeResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			in.metrics.IncRescrape(models.ErrorKind(res.Err))
			return RescrapeResult{}, res.Err
		}
		in.metrics.IncRescrape("ok")
		return res.Val.(RescrapeResult), nil
	}
}

func (in *Ingestor) rescrape(ctx context.Context, listingID uint) (RescrapeResult, error) {
	listing, err := in.store.FindByID(ctx, listingID)
	if err != nil {
		return RescrapeResult{}, err
	}

	task := models.NewScrapeTask(listing.URL, listing.Platform, models.PriorityHigh)
	task.ListingID = listing.ID
	outcome, err := in.Ingest(ctx, task)
	if err != nil {
		return RescrapeResult{}, fmt.Errorf("rescrape listing %d: %w", listingID, err)
	}

	result := RescrapeResult{
		ListingID:   outcome.Listing.ID,
		QualityTier: outcome.Tier,
		ImageStatus: string(outcome.Listing.ImageStatus),
	}
	if d := outcome.Listing.Detail; d != nil {
		result.AttributeCount = len(d.Attributes)
		result.PriceTierCount = len(d.PriceTiers)
	}
	return result, nil
}
