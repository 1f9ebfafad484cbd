package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// Config holds ingest pipeline configuration.
type Config struct {
	// Fetch orchestrator
	Workers             int
	FetchTimeout        time.Duration
	MaxAttempts         int
	RetryBackoff        time.Duration
	RetryBackoffMax     time.Duration
	RetryJitter         float64
	PlatformInterval    time.Duration
	PlatformBurst       int
	UserAgent           string
	BlockedMarkers      []string
	LoginWallMarkers    []string
	EscalationCacheSize int
	EnableRendering     bool
	ChromeBin           string
	RenderWait          time.Duration

	// Circuit breaker
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration

	// Image resolver and cache
	CacheBackend        string // fs or minio
	CacheDir            string
	CachePublicPrefix   string
	MinIOEndpoint       string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOBucket         string
	MinIOUseSSL         bool
	MinImageSide        int
	BannerRatio         float64
	BannerMaxSide       int
	ImageKeywords       []string
	ImageBlocklist      []string
	PlatformBlocklists  map[models.Platform][]string
	PreferredSizeTokens []string
	FallbackSizeTokens  []string
	NormalizePlatforms  []models.Platform
	MaxImageBytes       int64

	// Store
	DatabaseDriver string // postgres or sqlite
	DatabaseURL    string
	TrackingParams []string

	// Quality
	GoodThreshold int

	// Scheduler
	BatchSize         int
	MaxParallel       int
	StaleAfter        time.Duration
	CheckpointBackend string // file or redis
	CheckpointPath    string
	RedisAddr         string
	RunName           string
	ScheduleInterval  time.Duration
	StoreErrorAlert   int

	// Discovery pipeline
	Seeds              map[models.Platform][]string
	MaxPages           int
	PipelineBufferSize int
	BatchWriteSize     int
	DedupeMaxSize      int

	// Output and serving
	OutputFile   string
	OutputFormat string // csv, json, or dual
	HTTPAddr     string
	MetricsAddr  string
	Verbose      bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:             8,
		FetchTimeout:        20 * time.Second,
		MaxAttempts:         3,
		RetryBackoff:        500 * time.Millisecond,
		RetryBackoffMax:     10 * time.Second,
		RetryJitter:         0.2,
		PlatformInterval:    time.Second,
		PlatformBurst:       2,
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		BlockedMarkers:      []string{"captcha", "slide to verify", "punish?x5secdata", "unusual traffic", "verify you are human", "cf-chl-", "access denied", "are you a robot"},
		LoginWallMarkers:    []string{"/login", "login.", "signin", "passport."},
		EscalationCacheSize: 4096,
		EnableRendering:     false,
		RenderWait:          2 * time.Second,

		BreakerThreshold:   5,
		BreakerCooldown:    2 * time.Minute,
		BreakerMaxCooldown: 30 * time.Minute,

		CacheBackend:        "fs",
		CacheDir:            "cache",
		CachePublicPrefix:   "/cache/",
		MinIOBucket:         "catalog-images",
		MinImageSide:        120,
		BannerRatio:         3.0,
		BannerMaxSide:       200,
		ImageKeywords:       []string{"logo", "badge", "watermark", "banner", "icon", "sprite", "placeholder", "loading"},
		ImageBlocklist:      []string{"/tps/i1/", "default_img", "no_image", "noimage"},
		PlatformBlocklists:  map[models.Platform][]string{},
		PreferredSizeTokens: []string{"960x960", "800x800", "750x750", "720x720", "640x640", "large", "_big"},
		FallbackSizeTokens:  []string{"500x500", "480x480", "350x350", "300x300", "250x250", "220x220"},
		NormalizePlatforms:  []models.Platform{models.PlatformDHgate},
		MaxImageBytes:       10 * 1024 * 1024,

		DatabaseDriver: "sqlite",
		DatabaseURL:    "catalog.db",
		TrackingParams: []string{"spm", "scm", "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid", "tracelog", "from", "src", "ref", "s", "aff_platform", "sk", "aff_trace_key", "algo_pvid", "algo_exp_id"},

		GoodThreshold: 10,

		BatchSize:         200,
		MaxParallel:       8,
		StaleAfter:        14 * 24 * time.Hour,
		CheckpointBackend: "file",
		CheckpointPath:    "output/checkpoint.json",
		RunName:           "backfill",
		ScheduleInterval:  30 * time.Minute,
		StoreErrorAlert:   3,

		Seeds:              map[models.Platform][]string{},
		MaxPages:           5,
		PipelineBufferSize: 512,
		BatchWriteSize:     64,
		DedupeMaxSize:      100000,

		OutputFile:   "output/listings.csv",
		OutputFormat: "csv",
		HTTPAddr:     ":8080",
		MetricsAddr:  "",
		Verbose:      false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}
	if c.PlatformInterval < 0 {
		return fmt.Errorf("platform interval cannot be negative")
	}
	if c.PlatformBurst <= 0 {
		return fmt.Errorf("platform burst must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}
	if c.BreakerMaxCooldown < c.BreakerCooldown {
		return fmt.Errorf("breaker max cooldown (%s) cannot be below breaker cooldown (%s)", c.BreakerMaxCooldown, c.BreakerCooldown)
	}
	switch c.CacheBackend {
	case "fs":
		if c.CacheDir == "" {
			return fmt.Errorf("cache dir cannot be empty")
		}
	case "minio":
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			return fmt.Errorf("minio cache backend requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("cache backend must be fs or minio")
	}
	if !strings.HasPrefix(c.CachePublicPrefix, "/") || !strings.HasSuffix(c.CachePublicPrefix, "/") {
		return fmt.Errorf("cache public prefix must start and end with a slash")
	}
	if c.MinImageSide < 0 || c.BannerMaxSide < 0 {
		return fmt.Errorf("image dimension limits cannot be negative")
	}
	if c.BannerRatio < 1 {
		return fmt.Errorf("banner ratio must be at least 1")
	}
	for platform := range c.PlatformBlocklists {
		if !platform.Valid() {
			return fmt.Errorf("blocklist for unknown platform %q", platform)
		}
	}
	for _, platform := range c.NormalizePlatforms {
		if !platform.Valid() {
			return fmt.Errorf("normalize platform %q is unknown", platform)
		}
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("database driver must be postgres or sqlite")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if c.GoodThreshold <= 0 {
		return fmt.Errorf("good threshold must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("max parallel must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale after must be positive")
	}
	switch c.CheckpointBackend {
	case "file":
		if c.CheckpointPath == "" {
			return fmt.Errorf("checkpoint path cannot be empty")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis checkpoint backend requires an address")
		}
	default:
		return fmt.Errorf("checkpoint backend must be file or redis")
	}
	if c.RunName == "" {
		return fmt.Errorf("run name cannot be empty")
	}
	for platform, seeds := range c.Seeds {
		if !platform.Valid() {
			return fmt.Errorf("seeds for unknown platform %q", platform)
		}
		for _, seed := range seeds {
			parsed, err := url.Parse(seed)
			if err != nil {
				return fmt.Errorf("invalid seed URL: %w", err)
			}
			if parsed.Host == "" {
				return fmt.Errorf("seed URL %q must include a host", seed)
			}
		}
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.PipelineBufferSize <= 0 || c.BatchWriteSize <= 0 {
		return fmt.Errorf("pipeline buffer and batch sizes must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	return nil
}

// BlocklistFor returns the global blocklist merged with the platform's own entries.
func (c *Config) BlocklistFor(platform models.Platform) []string {
	out := make([]string, 0, len(c.ImageBlocklist)+len(c.PlatformBlocklists[platform]))
	out = append(out, c.ImageBlocklist...)
	out = append(out, c.PlatformBlocklists[platform]...)
	return out
}

// ShouldNormalize reports whether images from platform are re-encoded.
func (c *Config) ShouldNormalize(platform models.Platform) bool {
	for _, p := range c.NormalizePlatforms {
		if p == platform {
			return true
		}
	}
	return false
}
