package imagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
)

// Downloader fetches raw image bytes for a candidate URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

var (
	errNotImage  = errors.New("payload is not an image")
	errTooLarge  = errors.New("payload exceeds size limit")
	errTooSmall  = errors.New("decoded image below minimum side")
	errUndecoded = errors.New("image header could not be decoded")
)

// Result is the outcome of resolving one gallery.
type Result struct {
	Status    models.ImageStatus
	Entry     models.CacheEntry
	SourceURL string
	Rejected  []Rejection
	Failures  []error
}

// Resolver downloads the best surviving gallery candidate into the cache.
type Resolver struct {
	cfg        *config.Config
	cache      *Cache
	downloader Downloader
	metrics    *Metrics
	filters    map[models.Platform]*Filter
}

// NewResolver builds one filter per platform from cfg.
func NewResolver(cfg *config.Config, cache *Cache, downloader Downloader, metrics *Metrics) *Resolver {
	r := &Resolver{
		cfg:        cfg,
		cache:      cache,
		downloader: downloader,
		metrics:    metrics,
		filters:    make(map[models.Platform]*Filter),
	}
	for _, platform := range models.AllPlatforms() {
		r.filters[platform] = r.newFilter(platform)
	}
	return r
}

func (r *Resolver) newFilter(platform models.Platform) *Filter {
	return NewFilter(FilterConfig{
		Blocklist:       r.cfg.BlocklistFor(platform),
		Keywords:        r.cfg.ImageKeywords,
		MinSide:         r.cfg.MinImageSide,
		BannerRatio:     r.cfg.BannerRatio,
		BannerMaxSide:   r.cfg.BannerMaxSide,
		PreferredTokens: r.cfg.PreferredSizeTokens,
		FallbackTokens:  r.cfg.FallbackSizeTokens,
	})
}

// Candidates returns the ordered survivors of the platform's filter chain.
func (r *Resolver) Candidates(platform models.Platform, gallery []string) ([]string, []Rejection) {
	filter, ok := r.filters[platform]
	if !ok {
		filter = r.newFilter(platform)
	}
	return filter.Select(gallery)
}

// Resolve tries candidates in order and stops at the first one that is
// downloaded, verified and cached. When every candidate fails the result has
// status unresolved and a nil error; only context cancellation is returned.
func (r *Resolver) Resolve(ctx context.Context, platform models.Platform, gallery []string) (Result, error) {
	candidates, rejected := r.Candidates(platform, gallery)
	result := Result{Status: models.ImageStatusUnresolved, Rejected: rejected}
	for _, rej := range rejected {
		r.metrics.IncRejected(rej.Reason)
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entry, err := r.fetch(ctx, platform, candidate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			slog.Debug("image candidate failed",
				slog.String("platform", string(platform)),
				slog.String("url", candidate),
				slog.Any("error", err),
			)
			result.Failures = append(result.Failures, err)
			continue
		}
		result.Status = models.ImageStatusCached
		result.Entry = entry
		result.SourceURL = candidate
		break
	}

	r.metrics.IncResolution(platform, result.Status)
	return result, nil
}

func (r *Resolver) fetch(ctx context.Context, platform models.Platform, candidate string) (models.CacheEntry, error) {
	data, err := r.downloader.Download(ctx, candidate)
	if err != nil {
		return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: err}
	}
	if r.cfg.MaxImageBytes > 0 && int64(len(data)) > r.cfg.MaxImageBytes {
		return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: errTooLarge}
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: errNotImage}
	}
	header, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: fmt.Errorf("%w: %v", errUndecoded, err)}
	}
	if side := min(header.Width, header.Height); r.cfg.MinImageSide > 0 && side < r.cfg.MinImageSide {
		return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: fmt.Errorf("%w: %dx%d", errTooSmall, header.Width, header.Height)}
	}

	ext := extensionFor(format)
	if r.cfg.ShouldNormalize(platform) && format != "jpeg" {
		normalized, err := toJPEG(data)
		if err != nil {
			return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: err}
		}
		data, ext = normalized, "jpg"
	}

	entry, err := r.cache.Put(ctx, data, ext)
	if err != nil {
		return models.CacheEntry{}, models.ImageFetchError{URL: candidate, Err: err}
	}
	return entry, nil
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	default:
		return format
	}
}

func toJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for normalization: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
