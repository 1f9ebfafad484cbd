// Package scheduler selects listings whose detail is missing, weak or stale
// and feeds them through ingestion in resumable, ID-ordered batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/pipeline"
	"github.com/aluiziolira/go-catalog-ingest/quality"
)

// Source pages through stored listings in ID order.
type Source interface {
	ListAfter(ctx context.Context, cursor uint, limit int) ([]models.Listing, error)
}

// Ingester runs one task to completion.
type Ingester interface {
	Ingest(ctx context.Context, task *models.ScrapeTask) (*pipeline.Outcome, error)
}

// Candidate is a listing selected for refetch.
type Candidate struct {
	ListingID       uint
	URL             string
	Platform        models.Platform
	Tier            quality.Tier
	Stale           bool
	DetailUpdatedAt time.Time
}

// Priority maps the tier onto orchestrator priorities so that MISSING work is
// dequeued before BAD, BAD before PARTIAL, and PARTIAL before stale GOOD.
func (c Candidate) Priority() int {
	return models.PriorityNormal + (quality.Good.Rank() - c.Tier.Rank())
}

// Select filters listings down to refetch candidates and orders them most
// urgent first: by tier, then oldest detail, then ID.
func Select(listings []models.Listing, classifier quality.Classifier, now time.Time, staleAfter time.Duration) []Candidate {
	out := make([]Candidate, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		tier := classifier.Classify(l.Detail)

		var updated time.Time
		if l.DetailUpdatedAt != nil {
			updated = *l.DetailUpdatedAt
		}
		stale := updated.IsZero() || (staleAfter > 0 && now.Sub(updated) > staleAfter)
		if tier == quality.Good && !stale {
			continue
		}
		out = append(out, Candidate{
			ListingID:       l.ID,
			URL:             l.URL,
			Platform:        l.Platform,
			Tier:            tier,
			Stale:           stale,
			DetailUpdatedAt: updated,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() < b.Tier.Rank()
		}
		if !a.DetailUpdatedAt.Equal(b.DetailUpdatedAt) {
			return a.DetailUpdatedAt.Before(b.DetailUpdatedAt)
		}
		return a.ListingID < b.ListingID
	})
	return out
}

// RunReport summarises one pass.
type RunReport struct {
	Run         string                   `json:"run"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
	Resumed     bool                     `json:"resumed"`
	StartCursor uint                     `json:"start_cursor"`
	Cursor      uint                     `json:"cursor"`
	Batches     int                      `json:"batches"`
	Scanned     int                      `json:"scanned"`
	Selected    int                      `json:"selected"`
	States      map[models.TaskState]int `json:"states"`
	Tiers       map[quality.Tier]int     `json:"tiers"`
	Errors      map[string]int           `json:"errors"`
	Interrupted bool                     `json:"interrupted"`
}

func newRunReport(run string, start time.Time) *RunReport {
	return &RunReport{
		Run:       run,
		StartedAt: start,
		States:    make(map[models.TaskState]int),
		Tiers:     make(map[quality.Tier]int),
		Errors:    make(map[string]int),
	}
}

func (r *RunReport) record(task *models.ScrapeTask, outcome *pipeline.Outcome, err error) {
	r.States[task.State]++
	if err != nil {
		r.Errors[models.ErrorKind(err)]++
		return
	}
	if outcome != nil {
		r.Tiers[outcome.Tier]++
	}
}

// Stored returns how many tasks committed.
func (r *RunReport) Stored() int {
	return r.States[models.TaskStored]
}

// Scheduler runs staleness passes. Construct it with New.
type Scheduler struct {
	cfg         *config.Config
	source      Source
	ingester    Ingester
	checkpoints CheckpointStore
	classifier  quality.Classifier
	metrics     *Metrics
	now         func() time.Time

	mu             sync.Mutex // guards storeErrStreak
	storeErrStreak int
}

// New wires a scheduler. metrics may be nil.
func New(cfg *config.Config, source Source, ingester Ingester, checkpoints CheckpointStore, classifier quality.Classifier, metrics *Metrics) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		source:      source,
		ingester:    ingester,
		checkpoints: checkpoints,
		classifier:  classifier,
		metrics:     metrics,
		now:         time.Now,
	}
}

// RunPass walks the catalog once from the saved cursor. The cursor is
// checkpointed after every completed batch and cleared when the pass reaches
// the end, so an interrupted pass resumes at the first unfinished batch.
// Listings added during a pass have higher IDs and are picked up by it.
func (s *Scheduler) RunPass(ctx context.Context) (*RunReport, error) {
	run := s.cfg.RunName
	if run == "" {
		run = "backfill"
	}
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	report := newRunReport(run, s.now())
	cp, found, err := s.checkpoints.Load(ctx, run)
	if err != nil {
		s.metrics.IncPass("error")
		return report, fmt.Errorf("load checkpoint: %w", err)
	}
	if found {
		report.Resumed = true
		report.StartCursor = cp.Cursor
		slog.Info("resuming pass", slog.String("run", run), slog.Uint64("cursor", uint64(cp.Cursor)))
	}
	cursor := cp.Cursor
	report.Cursor = cursor

	for {
		if err := ctx.Err(); err != nil {
			return s.interrupted(report, err)
		}
		rows, err := s.source.ListAfter(ctx, cursor, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupted(report, ctx.Err())
			}
			s.noteStoreError(err)
			s.metrics.IncPass("error")
			report.FinishedAt = s.now()
			return report, err
		}
		if len(rows) == 0 {
			break
		}

		candidates := Select(rows, s.classifier, s.now(), s.cfg.StaleAfter)
		report.Batches++
		report.Scanned += len(rows)
		report.Selected += len(candidates)
		for _, c := range candidates {
			s.metrics.IncSelected(c.Tier)
		}

		if err := s.processBatch(ctx, candidates, report); err != nil {
			return s.interrupted(report, err)
		}

		cursor = rows[len(rows)-1].ID
		if err := s.checkpoints.Save(ctx, Checkpoint{Run: run, Cursor: cursor, UpdatedAt: s.now()}); err != nil {
			s.metrics.IncPass("error")
			report.FinishedAt = s.now()
			return report, fmt.Errorf("save checkpoint: %w", err)
		}
		report.Cursor = cursor
		s.metrics.SetCursor(cursor)
		slog.Debug("batch done",
			slog.String("run", run),
			slog.Uint64("cursor", uint64(cursor)),
			slog.Int("selected", len(candidates)),
		)

		if len(rows) < batchSize {
			break
		}
	}

	if err := s.checkpoints.Clear(ctx, run); err != nil {
		slog.Warn("clear checkpoint failed", slog.String("run", run), slog.Any("error", err))
	}
	s.metrics.SetCursor(0)
	s.metrics.IncPass("completed")
	report.FinishedAt = s.now()
	slog.Info("pass completed",
		slog.String("run", run),
		slog.Int("scanned", report.Scanned),
		slog.Int("selected", report.Selected),
		slog.Int("stored", report.Stored()),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// processBatch submits candidates in priority order, at most MaxParallel at a
// time. Task failures are recorded, not returned; only cancellation stops the
// batch early.
func (s *Scheduler) processBatch(ctx context.Context, candidates []Candidate, report *RunReport) error {
	limit := s.cfg.MaxParallel
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var mu sync.Mutex

	for _, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			task := models.NewScrapeTask(c.URL, c.Platform, c.Priority())
			task.ListingID = c.ListingID
			outcome, err := s.ingester.Ingest(gctx, task)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			report.record(task, outcome, err)
			mu.Unlock()
			s.trackStoreErrors(err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) trackStoreErrors(err error) {
	var storeErr models.StoreError
	if err != nil && errors.As(err, &storeErr) {
		s.noteStoreError(err)
		return
	}
	if err == nil {
		s.mu.Lock()
		s.storeErrStreak = 0
		s.mu.Unlock()
	}
}

// noteStoreError escalates once per streak when consecutive store failures
// reach the alert threshold.
func (s *Scheduler) noteStoreError(err error) {
	threshold := s.cfg.StoreErrorAlert
	if threshold <= 0 {
		threshold = 1
	}
	s.mu.Lock()
	s.storeErrStreak++
	streak := s.storeErrStreak
	s.mu.Unlock()

	if streak == threshold {
		s.metrics.IncStoreAlert()
		slog.Error("persistent store errors",
			slog.Int("consecutive", streak),
			slog.Any("error", err),
		)
	}
}

func (s *Scheduler) interrupted(report *RunReport, err error) (*RunReport, error) {
	report.Interrupted = true
	report.FinishedAt = s.now()
	s.metrics.IncPass("interrupted")
	slog.Warn("pass interrupted",
		slog.String("run", report.Run),
		slog.Uint64("cursor", uint64(report.Cursor)),
	)
	return report, err
}

// Loop runs a pass immediately and then every interval until ctx is done.
// A failed pass is logged and retried on the next tick.
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("scheduling pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
