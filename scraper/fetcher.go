package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-catalog-ingest/config"
)

// Fetch strategies recorded on RawPage.Strategy.
const (
	StrategyPlain    = "plain"
	StrategyRendered = "rendered"
)

// Response is what a Loader returns for one page load.
type Response struct {
	StatusCode int
	FinalURL   string
	Body       []byte
}

// Loader loads one URL. Implementations must honour ctx cancellation.
type Loader interface {
	Load(ctx context.Context, url string) (Response, error)
}

// CollyFetcher is the plain HTTP strategy. It also downloads images for the
// image resolver.
type CollyFetcher struct {
	collector *colly.Collector
}

// NewCollyFetcher builds a synchronous collector configured from cfg. HTTP
// error statuses are returned as responses so the orchestrator can classify
// them.
func NewCollyFetcher(cfg *config.Config) *CollyFetcher {
	options := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	}
	if cfg.MaxImageBytes > 0 {
		options = append(options, colly.MaxBodySize(int(cfg.MaxImageBytes)+1))
	}
	collector := colly.NewCollector(options...)

	collector.SetRequestTimeout(cfg.FetchTimeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.FetchTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &CollyFetcher{collector: collector}
}

// WithTransport swaps the underlying round tripper (used by tests).
func (f *CollyFetcher) WithTransport(transport http.RoundTripper) {
	f.collector.WithTransport(transport)
}

// Load issues a GET on a clone of the base collector so callbacks are per
// request while the transport and limits are shared.
func (f *CollyFetcher) Load(ctx context.Context, url string) (Response, error) {
	c := f.collector.Clone()

	var resp Response
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		resp.StatusCode = r.StatusCode
		resp.Body = r.Body
		if r.Request != nil && r.Request.URL != nil {
			resp.FinalURL = r.Request.URL.String()
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return Response{}, err
		}
		if resp.FinalURL == "" {
			resp.FinalURL = url
		}
		return resp, nil
	}
}

// Download returns the body of a 2xx response.
func (f *CollyFetcher) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Renderer is the headless-browser strategy used when a plain fetch is
// blocked or comes back without usable content.
type Renderer struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	wait        time.Duration
	timeout     time.Duration

	startOnce     sync.Once
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	startErr      error
}

// NewRenderer prepares a Chrome allocator. The browser itself is launched on
// the first Load.
func NewRenderer(cfg *config.Config) *Renderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ChromeBin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBin))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Renderer{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		wait:        cfg.RenderWait,
		timeout:     cfg.FetchTimeout + cfg.RenderWait,
	}
}

func (r *Renderer) start() error {
	r.startOnce.Do(func() {
		r.browserCtx, r.cancelBrowser = chromedp.NewContext(r.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
		if err := chromedp.Run(r.browserCtx); err != nil {
			r.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return r.startErr
}

// Load opens a tab in the shared browser, waits for scripts to settle and
// returns the serialized DOM.
func (r *Renderer) Load(ctx context.Context, url string) (Response, error) {
	if err := r.start(); err != nil {
		return Response{}, err
	}
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	navResp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("render navigate: %w", err)
	}

	var html, location string
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(r.wait),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("render page: %w", err)
	}

	status := http.StatusOK
	if navResp != nil && navResp.Status != 0 {
		status = int(navResp.Status)
	}
	return Response{StatusCode: status, FinalURL: location, Body: []byte(html)}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.startOnce.Do(func() {})
	if r.cancelBrowser != nil {
		r.cancelBrowser()
	}
	r.cancelAlloc()
}
