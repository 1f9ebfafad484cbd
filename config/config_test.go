package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero workers",
			mutate: func(cfg *Config) {
				cfg.Workers = 0
			},
			wantErr: "workers",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.FetchTimeout = -1 * time.Second
			},
			wantErr: "fetch timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "jitter out of range",
			mutate: func(cfg *Config) {
				cfg.RetryJitter = 1.5
			},
			wantErr: "jitter",
		},
		{
			name: "breaker max below cooldown",
			mutate: func(cfg *Config) {
				cfg.BreakerMaxCooldown = time.Second
			},
			wantErr: "breaker max cooldown",
		},
		{
			name: "unknown cache backend",
			mutate: func(cfg *Config) {
				cfg.CacheBackend = "s3"
			},
			wantErr: "cache backend",
		},
		{
			name: "minio without endpoint",
			mutate: func(cfg *Config) {
				cfg.CacheBackend = "minio"
			},
			wantErr: "minio",
		},
		{
			name: "public prefix without slash",
			mutate: func(cfg *Config) {
				cfg.CachePublicPrefix = "cache"
			},
			wantErr: "public prefix",
		},
		{
			name: "unknown database driver",
			mutate: func(cfg *Config) {
				cfg.DatabaseDriver = "mysql"
			},
			wantErr: "database driver",
		},
		{
			name: "zero good threshold",
			mutate: func(cfg *Config) {
				cfg.GoodThreshold = 0
			},
			wantErr: "good threshold",
		},
		{
			name: "redis checkpoint without address",
			mutate: func(cfg *Config) {
				cfg.CheckpointBackend = "redis"
			},
			wantErr: "redis",
		},
		{
			name: "seed without host",
			mutate: func(cfg *Config) {
				cfg.Seeds[models.PlatformAlibaba] = []string{"/trade/search"}
			},
			wantErr: "host",
		},
		{
			name: "seeds for unknown platform",
			mutate: func(cfg *Config) {
				cfg.Seeds["ebay"] = []string{"https://ebay.com"}
			},
			wantErr: "unknown platform",
		},
		{
			name: "bad output format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestBlocklistFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageBlocklist = []string{"global"}
	cfg.PlatformBlocklists[models.PlatformDHgate] = []string{"dh-only"}

	got := cfg.BlocklistFor(models.PlatformDHgate)
	if len(got) != 2 || got[0] != "global" || got[1] != "dh-only" {
		t.Fatalf("unexpected dhgate blocklist: %v", got)
	}
	if got := cfg.BlocklistFor(models.PlatformAlibaba); len(got) != 1 {
		t.Fatalf("alibaba should only see the global blocklist, got %v", got)
	}
	// The merged slice must not alias the configured one.
	got[0] = "mutated"
	if cfg.ImageBlocklist[0] != "global" {
		t.Fatalf("BlocklistFor mutated the config")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CATALOG_WORKERS", "3")
	t.Setenv("CATALOG_BREAKER_COOLDOWN", "45s")
	t.Setenv("CATALOG_DATABASE_DRIVER", "postgres")
	t.Setenv("CATALOG_TRACKING_PARAMS", "spm, utm_source ,,ref")
	t.Setenv("CATALOG_ENABLE_RENDERING", "true")
	t.Setenv("CATALOG_SEEDS_MADE_IN_CHINA", "https://www.made-in-china.com/products-search/hot-china-products/Valve.html")
	t.Setenv("CATALOG_NORMALIZE_PLATFORMS", "dhgate,global-sources")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.BreakerCooldown != 45*time.Second {
		t.Fatalf("expected 45s cooldown, got %s", cfg.BreakerCooldown)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.DatabaseDriver)
	}
	if len(cfg.TrackingParams) != 3 || cfg.TrackingParams[1] != "utm_source" {
		t.Fatalf("unexpected tracking params: %v", cfg.TrackingParams)
	}
	if !cfg.EnableRendering {
		t.Fatalf("expected rendering enabled")
	}
	if len(cfg.Seeds[models.PlatformMadeInChina]) != 1 {
		t.Fatalf("expected one made_in_china seed, got %v", cfg.Seeds)
	}
	if !cfg.ShouldNormalize(models.PlatformGlobalSources) || cfg.ShouldNormalize(models.PlatformAlibaba) {
		t.Fatalf("unexpected normalize platforms: %v", cfg.NormalizePlatforms)
	}
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: "CATALOG_WORKERS", value: "many"},
		{key: "CATALOG_FETCH_TIMEOUT", value: "soon"},
		{key: "CATALOG_ENABLE_RENDERING", value: "maybe"},
		{key: "CATALOG_RETRY_JITTER", value: "lots"},
		{key: "CATALOG_NORMALIZE_PLATFORMS", value: "ebay"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CATALOG_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CATALOG_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if value, ok := EnvString("CATALOG_TEST_DOTENV"); !ok || value != "from-file" {
		t.Fatalf("expected value from .env, got %q (set=%v)", value, ok)
	}
}
