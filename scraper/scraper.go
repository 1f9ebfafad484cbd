// Package scraper fetches marketplace pages under per-platform rate limits,
// retries and circuit breakers, and crawls category pages for discovery.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/parser"
	"github.com/aluiziolira/go-catalog-ingest/provider"
)

// Orchestrator owns the fetch worker pool. Construct it explicitly and share
// it; there is no package-level instance.
type Orchestrator struct {
	cfg      *config.Config
	registry *provider.Registry
	plain    Loader
	renderer Loader
	Metrics  *Metrics
	detector blockDetector
	now      func() time.Time

	queue    *taskQueue
	retry    *retryManager
	hints    *lru.Cache[string, struct{}]
	limiters map[models.Platform]*rate.Limiter
	breakers map[models.Platform]*breaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	requestCount int64

	mu        sync.Mutex // guards started/closed/pending
	started   bool
	closed    bool
	pending   map[string]*job
	closeOnce sync.Once
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRenderer enables the rendered escalation strategy.
func WithRenderer(renderer Loader) Option {
	return func(o *Orchestrator) { o.renderer = renderer }
}

// WithClock replaces time.Now for breaker cool-downs.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics shares an existing metrics bundle.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.Metrics = m }
}

// NewOrchestrator wires the pool; call Start before waiting on futures.
func NewOrchestrator(cfg *config.Config, registry *provider.Registry, plain Loader, opts ...Option) (*Orchestrator, error) {
	if plain == nil {
		return nil, errors.New("a plain loader is required")
	}
	hintSize := cfg.EscalationCacheSize
	if hintSize <= 0 {
		hintSize = 1024
	}
	hints, err := lru.New[string, struct{}](hintSize)
	if err != nil {
		return nil, fmt.Errorf("create escalation cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		plain:    plain,
		detector: newBlockDetector(cfg.BlockedMarkers, cfg.LoginWallMarkers),
		now:      time.Now,
		queue:    newTaskQueue(),
		hints:    hints,
		limiters: make(map[models.Platform]*rate.Limiter),
		breakers: make(map[models.Platform]*breaker),
		pending:  make(map[string]*job),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}

	limit := rate.Inf
	if cfg.PlatformInterval > 0 {
		limit = rate.Every(cfg.PlatformInterval)
	}
	burst := cfg.PlatformBurst
	if burst <= 0 {
		burst = 1
	}
	for _, platform := range models.AllPlatforms() {
		o.limiters[platform] = rate.NewLimiter(limit, burst)
		o.breakers[platform] = newBreaker(platform, cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.BreakerMaxCooldown, o.Metrics, o.now)
	}
	o.retry = newRetryManager(cfg, o.Metrics, o.queue.Push)
	return o, nil
}

// Start launches the worker pool. Cancelling ctx closes the orchestrator.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started || o.closed {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	if ctx != nil {
		context.AfterFunc(ctx, o.Close)
	}
}

// Close stops the pool. Every outstanding future resolves with
// ErrOrchestratorClosed.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.cancel()
		for _, j := range o.retry.Stop() {
			j.finish(nil, ErrOrchestratorClosed)
		}
		o.wg.Wait()
		for _, j := range o.queue.Drain() {
			j.finish(nil, ErrOrchestratorClosed)
		}
		o.Metrics.SetQueueDepth(0)
	})
}

// Future is the pending result of a submission.
type Future struct {
	done <-chan struct{}
	job  *job
	err  error
}

func failedFuture(err error) *Future {
	done := make(chan struct{})
	close(done)
	return &Future{done: done, err: err}
}

// Wait blocks until the fetch completes or ctx is done. Abandoning a wait
// does not cancel the shared fetch.
func (f *Future) Wait(ctx context.Context) (*models.RawPage, error) {
	select {
	case <-f.done:
		if f.job != nil {
			return f.job.page, f.job.err
		}
		return nil, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues a fetch. Submissions for the same canonical URL that
// overlap in time share one network fetch and receive the same result; a
// later submission with a higher priority promotes the shared job.
func (o *Orchestrator) Submit(ctx context.Context, rawURL string, platform models.Platform, priority int) *Future {
	return o.submit(ctx, rawURL, platform, priority, false)
}

// submit is Submit for both page kinds. Search pages carry no product title,
// so they never escalate for looking thin.
func (o *Orchestrator) submit(ctx context.Context, rawURL string, platform models.Platform, priority int, searchPage bool) *Future {
	if err := ctx.Err(); err != nil {
		return failedFuture(err)
	}
	if !platform.Valid() {
		return failedFuture(fmt.Errorf("unknown platform %q", platform))
	}
	key, err := parser.CanonicalURL(rawURL, o.cfg.TrackingParams)
	if err != nil {
		return failedFuture(fmt.Errorf("canonicalize %q: %w", rawURL, err))
	}
	if open, retryAt := o.breakers[platform].Rejects(); open {
		o.Metrics.IncError(platform, "breaker_open")
		return failedFuture(models.BreakerOpenError{Platform: platform, RetryAt: retryAt})
	}

	flightKey := string(platform) + " " + key
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return failedFuture(ErrOrchestratorClosed)
	}
	j, joined := o.pending[flightKey]
	promoted := false
	if joined {
		promoted = o.queue.Raise(j, priority)
	} else {
		j = &job{
			key:        flightKey,
			url:        rawURL,
			platform:   platform,
			priority:   priority,
			searchPage: searchPage,
			index:      -1,
			done:       make(chan struct{}),
			release:    o.release,
		}
		o.pending[flightKey] = j
		o.Metrics.SetQueueDepth(o.queue.Push(j))
	}
	o.mu.Unlock()

	if joined {
		o.Metrics.IncCoalesced()
		if promoted {
			slog.Debug("coalesced fetch promoted",
				slog.String("url", rawURL),
				slog.Int("priority", priority),
			)
		}
	}
	return &Future{done: j.done, job: j}
}

// release forgets a finished job so later submissions fetch afresh.
func (o *Orchestrator) release(j *job) {
	o.mu.Lock()
	if o.pending[j.key] == j {
		delete(o.pending, j.key)
	}
	o.mu.Unlock()
}

// Fetch submits task and waits for the result, recording attempts on it.
func (o *Orchestrator) Fetch(ctx context.Context, task *models.ScrapeTask) (*models.RawPage, error) {
	page, err := o.Submit(ctx, task.URL, task.Platform, task.Priority).Wait(ctx)
	if page != nil {
		task.Attempts = page.Attempts
	}
	if err != nil {
		var unreachable models.UnreachableError
		if errors.As(err, &unreachable) {
			task.Attempts = unreachable.Attempts
		}
		return nil, err
	}
	return page, nil
}

// BreakerState reports the breaker state of platform as a label.
func (o *Orchestrator) BreakerState(platform models.Platform) string {
	b, ok := o.breakers[platform]
	if !ok {
		return "unknown"
	}
	return b.State().String()
}

// TotalRetries returns the number of retries scheduled so far.
func (o *Orchestrator) TotalRetries() int {
	return o.retry.TotalRetries()
}

// RequestCount returns the number of page loads issued so far.
func (o *Orchestrator) RequestCount() int {
	return int(atomic.LoadInt64(&o.requestCount))
}

type job struct {
	key        string
	url        string
	platform   models.Platform
	priority   int // guarded by taskQueue.mu once queued
	searchPage bool
	attempts   int
	seq        uint64
	index      int

	once    sync.Once
	done    chan struct{}
	page    *models.RawPage
	err     error
	release func(*job)
}

func (j *job) finish(page *models.RawPage, err error) {
	j.once.Do(func() {
		if j.release != nil {
			j.release(j)
		}
		j.page, j.err = page, err
		close(j.done)
	})
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		j, ok := o.queue.Pop(o.ctx.Done())
		if !ok {
			return
		}
		o.Metrics.SetQueueDepth(o.queue.Len())
		o.process(j)
	}
}

func (o *Orchestrator) process(j *job) {
	if o.ctx.Err() != nil {
		j.finish(nil, ErrOrchestratorClosed)
		return
	}
	br := o.breakers[j.platform]
	if ok, retryAt := br.Allow(); !ok {
		o.Metrics.IncError(j.platform, "breaker_open")
		j.finish(nil, models.BreakerOpenError{Platform: j.platform, RetryAt: retryAt})
		return
	}
	if err := o.limiters[j.platform].Wait(o.ctx); err != nil {
		br.RecordNeutral()
		j.finish(nil, ErrOrchestratorClosed)
		return
	}

	j.attempts++
	page, err := o.attempt(j)
	if err == nil {
		br.RecordSuccess()
		j.finish(page, nil)
		return
	}
	if errors.Is(err, ErrOrchestratorClosed) {
		br.RecordNeutral()
		j.finish(nil, err)
		return
	}

	kind := models.ErrorKind(err)
	o.Metrics.IncError(j.platform, kind)

	var blocked models.BlockedError
	switch {
	case errors.As(err, &blocked):
		o.hints.Add(j.key, struct{}{})
		br.RecordBlocked()
		slog.Warn("fetch blocked",
			slog.String("platform", string(j.platform)),
			slog.String("url", j.url),
			slog.String("reason", blocked.Reason),
		)
		j.finish(nil, err)
	case models.IsRetryable(err):
		br.RecordNeutral()
		if o.retry.Schedule(j) {
			slog.Debug("fetch retry scheduled",
				slog.String("url", j.url),
				slog.Int("attempt", j.attempts),
				slog.String("category", kind),
			)
			return
		}
		slog.Error("fetch gave up",
			slog.String("url", j.url),
			slog.Int("attempts", j.attempts),
			slog.Any("error", err),
		)
		j.finish(nil, models.UnreachableError{URL: j.url, Attempts: j.attempts, Err: err})
	default:
		br.RecordNeutral()
		slog.Debug("fetch failed",
			slog.String("url", j.url),
			slog.String("category", kind),
			slog.Any("error", err),
		)
		j.finish(nil, err)
	}
}

// attempt runs one attempt: the plain strategy unless the URL carries an
// escalation hint, then the rendered strategy if the plain page came back
// without usable content.
func (o *Orchestrator) attempt(j *job) (*models.RawPage, error) {
	strategy := StrategyPlain
	if o.renderer != nil {
		if _, hinted := o.hints.Get(j.key); hinted {
			strategy = StrategyRendered
			o.Metrics.IncEscalation(j.platform, "blocked_before")
		}
	}

	resp, err := o.load(j, strategy)
	if err == nil && strategy == StrategyPlain && !j.searchPage && o.renderer != nil && o.registry != nil &&
		o.registry.Insufficient(j.platform, resp.Body, resp.FinalURL) {
		o.Metrics.IncEscalation(j.platform, "insufficient")
		strategy = StrategyRendered
		resp, err = o.load(j, strategy)
	}
	if err != nil {
		return nil, err
	}

	return &models.RawPage{
		URL:        j.url,
		FinalURL:   resp.FinalURL,
		Platform:   j.platform,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Strategy:   strategy,
		Attempts:   j.attempts,
		FetchedAt:  time.Now(),
	}, nil
}

func (o *Orchestrator) load(j *job, strategy string) (Response, error) {
	loader, timeout := o.plain, o.cfg.FetchTimeout
	if strategy == StrategyRendered {
		loader, timeout = o.renderer, o.cfg.FetchTimeout+o.cfg.RenderWait
	}
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	defer cancel()

	atomic.AddInt64(&o.requestCount, 1)
	o.Metrics.IncRequest(j.platform, strategy)
	start := time.Now()
	resp, err := loader.Load(ctx, j.url)
	o.Metrics.ObserveDuration(j.platform, time.Since(start))

	if o.ctx.Err() != nil {
		return Response{}, ErrOrchestratorClosed
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("fetch exceeded %s: %w", timeout, context.DeadlineExceeded)
	}
	if classified := classifyResponse(j.platform, j.url, resp, err, o.detector); classified != nil {
		return resp, classified
	}
	return resp, nil
}

type retryManager struct {
	cfg     *config.Config
	metrics *Metrics
	requeue func(*job) int
	jitter  func() float64

	mu           sync.Mutex
	timers       map[*job]*time.Timer
	totalRetries int
	stopped      bool
}

func newRetryManager(cfg *config.Config, metrics *Metrics, requeue func(*job) int) *retryManager {
	return &retryManager{
		cfg:     cfg,
		metrics: metrics,
		requeue: requeue,
		jitter:  rand.Float64,
		timers:  make(map[*job]*time.Timer),
	}
}

// Schedule re-queues j after a backoff delay, or reports false when its
// attempt budget is spent.
func (rm *retryManager) Schedule(j *job) bool {
	if rm.cfg.MaxAttempts <= 1 || j.attempts >= rm.cfg.MaxAttempts {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.stopped {
		return false
	}

	rm.totalRetries++
	rm.metrics.IncRetries(j.platform)

	delay := rm.backoff(j.attempts)
	rm.timers[j] = time.AfterFunc(delay, func() {
		rm.fireRetry(j)
	})
	return true
}

// backoff is base*2^(attempt-1), spread by the jitter fraction and capped.
func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if j := rm.cfg.RetryJitter; j > 0 {
		spread := 1 + j*(2*rm.jitter()-1)
		delay = time.Duration(float64(delay) * spread)
	}
	if upper := rm.cfg.RetryBackoffMax; upper > 0 && delay > upper {
		delay = upper
	}
	return delay
}

func (rm *retryManager) fireRetry(j *job) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.timers, j)
	if rm.stopped {
		j.finish(nil, ErrOrchestratorClosed)
		return
	}
	rm.requeue(j)
}

// Stop cancels pending timers and returns the jobs they were holding.
func (rm *retryManager) Stop() []*job {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return nil
	}
	rm.stopped = true
	var pending []*job
	for j, timer := range rm.timers {
		if timer.Stop() {
			pending = append(pending, j)
		}
		delete(rm.timers, j)
	}
	return pending
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}
