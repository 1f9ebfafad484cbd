package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/imagecache"
	"github.com/aluiziolira/go-catalog-ingest/pipeline"
	"github.com/aluiziolira/go-catalog-ingest/provider"
	"github.com/aluiziolira/go-catalog-ingest/quality"
	"github.com/aluiziolira/go-catalog-ingest/scheduler"
	"github.com/aluiziolira/go-catalog-ingest/scraper"
	"github.com/aluiziolira/go-catalog-ingest/store"
)

// app is the wired component graph shared by every command.
type app struct {
	cfg          *config.Config
	metrics      *scraper.Metrics
	registry     *provider.Registry
	classifier   quality.Classifier
	store        *store.Store
	orchestrator *scraper.Orchestrator
	renderer     *scraper.Renderer
	cache        *imagecache.Cache
	ingestor     *pipeline.Ingestor

	closers []func()
}

// newApp opens the store and builds the fetch stack. Nothing runs until the
// caller starts the orchestrator.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:        cfg,
		metrics:    scraper.NewMetrics(),
		registry:   provider.DefaultRegistry(),
		classifier: quality.NewClassifier(cfg.GoodThreshold),
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	})

	plain := scraper.NewCollyFetcher(cfg)
	opts := []scraper.Option{scraper.WithMetrics(a.metrics)}
	if cfg.EnableRendering {
		a.renderer = scraper.NewRenderer(cfg)
		opts = append(opts, scraper.WithRenderer(a.renderer))
	}
	orch, err := scraper.NewOrchestrator(cfg, a.registry, plain, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	a.orchestrator = orch
	a.closers = append(a.closers, orch.Close)
	if a.renderer != nil {
		a.closers = append(a.closers, a.renderer.Close)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	imageMetrics := imagecache.NewMetrics(a.metrics.Registry)
	a.cache = imagecache.NewCache(blobs, cfg.CachePublicPrefix, imageMetrics)
	resolver := imagecache.NewResolver(cfg, a.cache, plain, imageMetrics)

	a.ingestor = pipeline.NewIngestor(orch, a.registry, a.classifier, resolver, st, pipeline.NewMetrics(a.metrics.Registry))
	return a, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (imagecache.BlobStore, error) {
	switch cfg.CacheBackend {
	case "minio":
		s, err := imagecache.NewMinIOStore(ctx, imagecache.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open minio cache: %w", err)
		}
		return s, nil
	case "fs", "":
		s, err := imagecache.NewFSStore(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("open cache dir: %w", err)
		}
		return s, nil
	default:
		return nil, errors.New("unknown cache backend " + cfg.CacheBackend)
	}
}

// newScheduler builds a scheduler over the app's store and ingestor. The
// returned checkpoint store is closed with the app.
func (a *app) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	checkpoints, err := scheduler.NewCheckpointStore(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open checkpoints: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := checkpoints.Close(); err != nil {
			slog.Error("close checkpoints", slog.Any("error", err))
		}
	})
	return scheduler.New(a.cfg, a.store, a.ingestor, checkpoints, a.classifier, scheduler.NewMetrics(a.metrics.Registry)), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
