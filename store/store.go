// Package store persists deduplicated listings. It is the only writer of
// listing rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/parser"
	"github.com/aluiziolira/go-catalog-ingest/quality"
)

// ErrListingNotFound is returned by lookups that match no row.
var ErrListingNotFound = errors.New("listing not found")

// cachedImageBonus makes a real cached image outrank any recency or
// description difference.
const cachedImageBonus = 1_000_000

// Store is a gorm-backed listing catalog.
type Store struct {
	db             *gorm.DB
	trackingParams []string
	classifier     quality.Classifier
	now            func() time.Time
	locks          keyLocks
}

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, models.StoreError{Op: "open", Err: err}
	}
	if cfg.DatabaseDriver == "sqlite" {
		// sqlite allows one writer; a single connection also keeps an
		// in-memory database alive.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, models.StoreError{Op: "open", Err: err}
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, cfg)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB, cfg *config.Config) (*Store, error) {
	if err := db.AutoMigrate(&models.Listing{}); err != nil {
		return nil, models.StoreError{Op: "migrate", Err: err}
	}
	return &Store{
		db:             db,
		trackingParams: cfg.TrackingParams,
		classifier:     quality.NewClassifier(cfg.GoodThreshold),
		now:            time.Now,
		locks:          keyLocks{locks: make(map[string]*keyLock)},
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CanonicalKey returns the dedup key for a raw listing URL.
func (s *Store) CanonicalKey(rawURL string) (string, error) {
	return parser.CanonicalURL(rawURL, s.trackingParams)
}

// Score ranks two versions of the same listing. A real cached image
// dominates, then detail recency in days, then description length as a
// tiebreak.
func Score(l *models.Listing, now time.Time) float64 {
	score := 0.0
	if l.HasCachedImage() {
		score += cachedImageBonus
	}
	ts := l.UpdatedAt
	if l.DetailUpdatedAt != nil {
		ts = *l.DetailUpdatedAt
	}
	if ts.IsZero() {
		ts = now
	}
	score += float64(ts.Unix()) / (24 * 60 * 60)
	score += float64(len(l.Description())) / 1000
	return score
}

// Upsert commits a full listing record. When a row already holds the
// canonical key, the higher-scoring record is kept: a winning incoming
// record overwrites the row in place, a losing one is discarded. The kept
// row is returned.
func (s *Store) Upsert(ctx context.Context, incoming *models.Listing) (*models.Listing, error) {
	key, err := s.keyFor(incoming)
	if err != nil {
		return nil, models.StoreError{Op: "upsert", Err: err}
	}
	incoming.CanonicalURL = key

	unlock := s.locks.lock(string(incoming.Platform) + " " + key)
	defer unlock()

	var kept *models.Listing
	err = s.retryOnConflict(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.findForUpdate(tx, incoming.Platform, key)
			if errors.Is(err, ErrListingNotFound) {
				incoming.ID = 0
				if err := tx.Create(incoming).Error; err != nil {
					return err
				}
				kept = incoming
				return nil
			}
			if err != nil {
				return err
			}

			now := s.now()
			if Score(incoming, now) < Score(existing, now) {
				slog.Debug("upsert kept existing record",
					slog.String("platform", string(existing.Platform)),
					slog.String("url", key),
					slog.Uint64("id", uint64(existing.ID)),
				)
				kept = existing
				return nil
			}
			incoming.ID = existing.ID
			incoming.CreatedAt = existing.CreatedAt
			if err := tx.Save(incoming).Error; err != nil {
				return err
			}
			kept = incoming
			return nil
		})
	})
	if err != nil {
		return nil, models.StoreError{Op: "upsert", Err: err}
	}
	return kept, nil
}

// UpsertSummary is the discovery path: it inserts a listing that has not been
// seen yet, or refreshes only the summary columns of an existing row. Detail,
// image and timestamps of an existing row are never touched.
func (s *Store) UpsertSummary(ctx context.Context, incoming *models.Listing) (*models.Listing, error) {
	key, err := s.keyFor(incoming)
	if err != nil {
		return nil, models.StoreError{Op: "upsert_summary", Err: err}
	}
	incoming.CanonicalURL = key

	unlock := s.locks.lock(string(incoming.Platform) + " " + key)
	defer unlock()

	var kept *models.Listing
	err = s.retryOnConflict(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.findForUpdate(tx, incoming.Platform, key)
			if errors.Is(err, ErrListingNotFound) {
				incoming.ID = 0
				if incoming.ImageStatus == "" {
					incoming.ImageStatus = models.ImageStatusPending
				}
				if err := tx.Create(incoming).Error; err != nil {
					return err
				}
				kept = incoming
				return nil
			}
			if err != nil {
				return err
			}

			existing.ApplySummary(summaryOf(incoming))
			if err := tx.Save(existing).Error; err != nil {
				return err
			}
			kept = existing
			return nil
		})
	})
	if err != nil {
		return nil, models.StoreError{Op: "upsert_summary", Err: err}
	}
	return kept, nil
}

// FindByCanonicalKey returns the listing for platform and a raw or canonical
// URL.
func (s *Store) FindByCanonicalKey(ctx context.Context, platform models.Platform, rawURL string) (*models.Listing, error) {
	key, err := s.CanonicalKey(rawURL)
	if err != nil {
		return nil, models.StoreError{Op: "find", Err: err}
	}
	var listing models.Listing
	err = s.db.WithContext(ctx).
		Where("platform = ? AND canonical_url = ?", platform, key).
		First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, models.StoreError{Op: "find", Err: err}
	}
	return &listing, nil
}

// FindByID returns one listing.
func (s *Store) FindByID(ctx context.Context, id uint) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, models.StoreError{Op: "find_by_id", Err: err}
	}
	return &listing, nil
}

// ListAfter returns up to limit listings with an ID greater than cursor, in
// ID order. It is the keyset page used by resumable scheduler passes.
func (s *Store) ListAfter(ctx context.Context, cursor uint, limit int) ([]models.Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	var listings []models.Listing
	err := s.db.WithContext(ctx).
		Where("id > ?", cursor).
		Order("id asc").
		Limit(limit).
		Find(&listings).Error
	if err != nil {
		return nil, models.StoreError{Op: "list", Err: err}
	}
	return listings, nil
}

// Each walks every listing in ID order, batch rows at a time.
func (s *Store) Each(ctx context.Context, batch int, fn func([]*models.Listing) error) error {
	var cursor uint
	for {
		rows, err := s.ListAfter(ctx, cursor, batch)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		page := make([]*models.Listing, len(rows))
		for i := range rows {
			page[i] = &rows[i]
		}
		if err := fn(page); err != nil {
			return err
		}
		cursor = rows[len(rows)-1].ID
	}
}

// CountByPlatformAndTier tallies listings per quality tier. An empty platform
// counts every platform. Tiers are recomputed from the stored payloads.
func (s *Store) CountByPlatformAndTier(ctx context.Context, platform models.Platform) (quality.Counts, error) {
	counts := make(quality.Counts, 4)
	for _, tier := range quality.Tiers() {
		counts[tier] = 0
	}

	var rows []models.Listing
	query := s.db.WithContext(ctx).Model(&models.Listing{}).Select("id", "detail")
	if platform != "" {
		query = query.Where("platform = ?", platform)
	}
	result := query.FindInBatches(&rows, 500, func(_ *gorm.DB, _ int) error {
		for i := range rows {
			counts[s.classifier.Classify(rows[i].Detail)]++
		}
		return nil
	})
	if result.Error != nil {
		return nil, models.StoreError{Op: "count", Err: result.Error}
	}
	return counts, nil
}

// Dedupe collapses rows whose stored key no longer matches the current
// canonicalization (legacy rows, changed tracking params). Per group the
// highest-scoring row survives; the rest are hard-deleted. A lone row with a
// stale key has its key rewritten so later upserts find it.
func (s *Store) Dedupe(ctx context.Context) (int, error) {
	groups := make(map[string][]uint)
	keys := make(map[uint]string)
	stored := make(map[uint]string)
	var order []string

	var rows []models.Listing
	result := s.db.WithContext(ctx).Model(&models.Listing{}).
		Select("id", "platform", "url", "canonical_url").
		FindInBatches(&rows, 500, func(_ *gorm.DB, _ int) error {
			for _, row := range rows {
				key, err := s.CanonicalKey(row.URL)
				if err != nil {
					key = row.CanonicalURL
				}
				group := string(row.Platform) + " " + key
				if _, ok := groups[group]; !ok {
					order = append(order, group)
				}
				groups[group] = append(groups[group], row.ID)
				keys[row.ID] = key
				stored[row.ID] = row.CanonicalURL
			}
			return nil
		})
	if result.Error != nil {
		return 0, models.StoreError{Op: "dedupe", Err: result.Error}
	}

	removed, rekeyed := 0, 0
	for _, group := range order {
		ids := groups[group]
		if len(ids) == 1 {
			id := ids[0]
			if keys[id] == stored[id] {
				continue
			}
			err := s.db.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", id).Update("canonical_url", keys[id]).Error
			if err != nil {
				return removed, models.StoreError{Op: "dedupe", Err: err}
			}
			rekeyed++
			continue
		}
		n, err := s.collapse(ctx, ids, keys[ids[0]])
		if err != nil {
			return removed, models.StoreError{Op: "dedupe", Err: err}
		}
		removed += n
	}
	if removed > 0 || rekeyed > 0 {
		slog.Info("dedupe finished", slog.Int("removed", removed), slog.Int("rekeyed", rekeyed))
	}
	return removed, nil
}

func (s *Store) collapse(ctx context.Context, ids []uint, key string) (int, error) {
	removed := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listings []models.Listing
		if err := tx.Where("id IN ?", ids).Order("id asc").Find(&listings).Error; err != nil {
			return err
		}
		if len(listings) < 2 {
			return nil
		}
		now := s.now()
		winner := 0
		for i := 1; i < len(listings); i++ {
			if Score(&listings[i], now) > Score(&listings[winner], now) {
				winner = i
			}
		}
		var losers []uint
		for i := range listings {
			if i != winner {
				losers = append(losers, listings[i].ID)
			}
		}
		if err := tx.Delete(&models.Listing{}, losers).Error; err != nil {
			return err
		}
		if err := tx.Model(&listings[winner]).Update("canonical_url", key).Error; err != nil {
			return err
		}
		removed = len(losers)
		return nil
	})
	return removed, err
}

func (s *Store) keyFor(l *models.Listing) (string, error) {
	if !l.Platform.Valid() {
		return "", fmt.Errorf("unknown platform %q", l.Platform)
	}
	raw := l.URL
	if raw == "" {
		raw = l.CanonicalURL
	}
	return s.CanonicalKey(raw)
}

func (s *Store) findForUpdate(tx *gorm.DB, platform models.Platform, key string) (*models.Listing, error) {
	query := tx
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var existing models.Listing
	err := query.Where("platform = ? AND canonical_url = ?", platform, key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// retryOnConflict reruns fn once when another process inserted the same key
// between our lookup and insert.
func (s *Store) retryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = fn()
	}
	return err
}

func summaryOf(l *models.Listing) models.PartialListing {
	return models.PartialListing{
		Platform:    l.Platform,
		URL:         l.URL,
		Title:       l.Title,
		PriceText:   l.PriceText,
		PriceMin:    l.PriceMin,
		PriceMax:    l.PriceMax,
		Currency:    l.Currency,
		MOQ:         l.MOQ,
		MOQUnit:     l.MOQUnit,
		StoreName:   l.StoreName,
		Categories:  l.Categories,
		SearchTerms: l.SearchTerms,
	}
}

// keyLocks serializes writers of the same canonical key inside this process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
