package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-catalog-ingest/api"
	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/pipeline"
	"github.com/aluiziolira/go-catalog-ingest/quality"
	"github.com/aluiziolira/go-catalog-ingest/scheduler"
)

const usage = `usage: ingest <command> [flags]

commands:
  run       run one staleness pass over the catalog (resumes from checkpoint)
  discover  crawl configured search seeds into the catalog
  serve     serve the HTTP API and run passes on an interval
  export    write the catalog to csv/json
  dedupe    collapse listings that share a canonical key
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	verbose := fs.Bool("v", cfg.Verbose, "Enable verbose logging")
	fs.StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "Database driver: sqlite or postgres")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "Database DSN or sqlite path")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Fetch worker count")
	fs.BoolVar(&cfg.EnableRendering, "render", cfg.EnableRendering, "Escalate to headless Chrome for thin or blocked pages")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	var run func(ctx context.Context, cfg *config.Config) error
	switch command {
	case "run":
		fs.StringVar(&cfg.RunName, "run", cfg.RunName, "Checkpoint run name")
		fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Listings scanned per batch")
		fs.IntVar(&cfg.MaxParallel, "parallel", cfg.MaxParallel, "Concurrent ingests per batch")
		fs.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "Refetch GOOD listings older than this")
		run = runPass
	case "discover":
		fs.IntVar(&cfg.MaxPages, "pages", cfg.MaxPages, "Maximum search pages per seed")
		seeds := fs.String("seed", "", "Extra seed as platform=url (comma separated)")
		run = func(ctx context.Context, cfg *config.Config) error {
			if err := addSeeds(cfg, *seeds); err != nil {
				return err
			}
			return runDiscover(ctx, cfg)
		}
	case "serve":
		fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
		fs.DurationVar(&cfg.ScheduleInterval, "interval", cfg.ScheduleInterval, "Interval between staleness passes (0 disables)")
		run = runServe
	case "export":
		fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path")
		fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual")
		run = runExport
	case "dedupe":
		run = runDedupe
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	_ = fs.Parse(args)

	cfg.Verbose = *verbose
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(command+" failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func runPass(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	stopMetrics := serveMetrics(cfg.MetricsAddr, a)
	defer stopMetrics()

	sched, err := a.newScheduler(ctx)
	if err != nil {
		return err
	}
	a.orchestrator.Start(ctx)

	report, err := sched.RunPass(ctx)
	if report != nil {
		printReport(report)
	}
	return err
}

func runDiscover(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Seeds) == 0 {
		return errors.New("no seeds configured; set CATALOG_SEEDS_<PLATFORM> or pass -seed")
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	stopMetrics := serveMetrics(cfg.MetricsAddr, a)
	defer stopMetrics()
	a.orchestrator.Start(ctx)

	writer := pipeline.NewStoreWriter(ctx, a.store)
	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, err := a.orchestrator.Discover(ctx, cfg.Seeds, p)
	if closeErr := p.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if result != nil {
		printCrawl(result, writer.Written())
	}
	return err
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.orchestrator.Start(ctx)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Rescraper:       a.ingestor,
			Catalog:         a.store,
			Classifier:      a.classifier,
			Images:          a.cache,
			ImagePrefix:     cfg.CachePublicPrefix,
			Gatherer:        a.metrics.Registry,
			RescrapeTimeout: cfg.FetchTimeout * time.Duration(cfg.MaxAttempts+1),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.ScheduleInterval > 0 {
		sched, err := a.newScheduler(ctx)
		if err != nil {
			return err
		}
		go func() {
			if err := sched.Loop(ctx, cfg.ScheduleInterval); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("http server shutdown failed", slog.Any("error", shutdownErr))
	}
	return err
}

func runExport(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile, a.classifier)
	if err != nil {
		return err
	}
	written := 0
	err = a.store.Each(ctx, cfg.BatchSize, func(batch []*models.Listing) error {
		written += len(batch)
		return writer.Write(batch)
	})
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	slog.Info("export complete", slog.Int("listings", written), slog.String("output", cfg.OutputFile))
	return nil
}

func runDedupe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.store.Dedupe(ctx)
	if err != nil {
		return err
	}
	slog.Info("dedupe complete", slog.Int("removed", removed))
	return nil
}

// addSeeds parses "platform=url" pairs onto cfg.Seeds.
func addSeeds(cfg *config.Config, raw string) error {
	for _, item := range config.SplitList(raw) {
		name, seed, ok := strings.Cut(item, "=")
		if !ok {
			return fmt.Errorf("seed %q must be platform=url", item)
		}
		platform, err := models.ParsePlatform(name)
		if err != nil {
			return err
		}
		cfg.Seeds[platform] = append(cfg.Seeds[platform], strings.TrimSpace(seed))
	}
	return cfg.Validate()
}

func serveMetrics(addr string, a *app) func() {
	if addr == "" {
		return func() {}
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func createWriter(format, filename string, classifier quality.Classifier) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename, classifier)
	case "csv":
		return pipeline.NewCSVWriter(filename, classifier)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename, classifier)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

const separator = "--------------------------------------------------"

func printReport(r *scheduler.RunReport) {
	fmt.Println("\n" + separator)
	if r.Interrupted {
		fmt.Printf("Pass %q interrupted at cursor %d\n", r.Run, r.Cursor)
	} else {
		fmt.Printf("Pass %q complete\n", r.Run)
	}
	if r.Resumed {
		fmt.Printf("  Resumed from:  %d\n", r.StartCursor)
	}
	fmt.Printf("  Scanned:       %d\n", r.Scanned)
	fmt.Printf("  Selected:      %d\n", r.Selected)
	fmt.Printf("  Stored:        %d\n", r.Stored())
	fmt.Printf("  Batches:       %d\n", r.Batches)
	if len(r.Tiers) > 0 {
		fmt.Print("  Tiers:        ")
		for _, tier := range quality.Tiers() {
			fmt.Printf(" %s=%d", tier, r.Tiers[tier])
		}
		fmt.Println()
	}
	if len(r.Errors) > 0 {
		fmt.Printf("  Errors:        %s\n", formatCounts(r.Errors))
	}
	fmt.Printf("  Duration:      %v\n", r.FinishedAt.Sub(r.StartedAt))
	fmt.Println(separator)
}

func printCrawl(result *models.CrawlResult, stored int) {
	fmt.Println("\n" + separator)
	fmt.Println("Discovery complete")
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Cards:         %d\n", result.TotalCount)
	fmt.Printf("  Stored:        %d\n", stored)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %s\n", formatCounts(result.ErrorsByType))
	}
	fmt.Printf("  Duration:      %v\n", result.Duration())
	fmt.Println(separator)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
