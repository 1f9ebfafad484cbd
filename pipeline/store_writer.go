package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// SummaryStore is the part of the catalog store the discovery pipeline needs.
type SummaryStore interface {
	UpsertSummary(ctx context.Context, listing *models.Listing) (*models.Listing, error)
}

// StoreWriter commits discovered listings through the store's summary
// upsert, so existing rows keep their detail and image.
type StoreWriter struct {
	ctx     context.Context
	store   SummaryStore
	mu      sync.Mutex
	written int
}

// NewStoreWriter returns a writer bound to ctx.
func NewStoreWriter(ctx context.Context, store SummaryStore) *StoreWriter {
	return &StoreWriter{ctx: ctx, store: store}
}

// Write upserts each listing. The first store failure aborts the batch.
func (sw *StoreWriter) Write(listings []*models.Listing) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for _, listing := range listings {
		if _, err := sw.store.UpsertSummary(sw.ctx, listing); err != nil {
			return fmt.Errorf("store listing %s: %w", listing.URL, err)
		}
		sw.written++
	}
	return nil
}

// Written returns how many listings were committed.
func (sw *StoreWriter) Written() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written
}

// Close is a no-op; the store outlives the writer.
func (sw *StoreWriter) Close() error {
	return nil
}

// Validate ensures at least one listing was committed.
func (sw *StoreWriter) Validate() error {
	if sw.Written() == 0 {
		return fmt.Errorf("no listings were stored")
	}
	return nil
}
