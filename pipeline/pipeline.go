package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers to flush.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(listings []*models.Listing) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication, and batched writing of
// discovered listing cards.
type Pipeline struct {
	writer         OutputWriter
	itemCh         chan *models.PartialListing
	batchSize      int
	trackingParams []string

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg. Cancelling ctx stops intake.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 512
	}
	batch := cfg.BatchWriteSize
	if batch <= 0 {
		batch = 64
	}
	dedupe := cfg.DedupeMaxSize
	if dedupe <= 0 {
		dedupe = 100000
	}
	seen, err := lru.New[string, struct{}](dedupe)
	if err != nil {
		panic(fmt.Sprintf("pipeline: dedupe cache: %v", err))
	}

	p := &Pipeline{
		writer:         writer,
		itemCh:         make(chan *models.PartialListing, buffer),
		batchSize:      batch,
		trackingParams: cfg.TrackingParams,
		seen:           seen,
		metrics:        newMetrics(),
		shutdown:       make(chan struct{}),
	}
	if ctx != nil {
		context.AfterFunc(ctx, p.signalShutdown)
	}
	return p
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues listing cards for downstream processing.
func (p *Pipeline) Process(listings ...*models.PartialListing) error {
	if len(listings) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, listing := range listings {
		if listing == nil {
			continue
		}
		if err := p.enqueue(listing); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return ErrPipelineCloseTimeout
	}
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["processed_listings"].(int64)
				validation := metrics["validation_errors"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("validation_kinds", len(validation)),
					slog.Int("buffered", len(p.itemCh)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Listing, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for item := range p.itemCh {
		prepared := p.prepare(item)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(item *models.PartialListing) *models.Listing {
	item.Title = parser.NormalizeSpace(item.Title)
	if err := parser.ValidateListing(item); err != nil {
		p.metrics.addValidation("invalid_record")
		return nil
	}

	canonical, err := parser.CanonicalURL(item.URL, p.trackingParams)
	if err != nil {
		p.metrics.addValidation("invalid_url")
		return nil
	}

	key := string(item.Platform) + " " + canonical
	if ok, _ := p.seen.ContainsOrAdd(key, struct{}{}); ok {
		p.metrics.addValidation("duplicate_url")
		return nil
	}

	p.metrics.incrementProcessed()
	return models.NewListingFromSummary(*item, canonical)
}

func (p *Pipeline) enqueue(item *models.PartialListing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.itemCh <- item:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_listings": m.processed,
		"validation_errors":  copyValidation,
	}
}
