package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// EnvPrefix is prepended to every environment variable read by ApplyEnv.
const EnvPrefix = "CATALOG_"

// LoadDotEnv loads variables from the given .env files when they exist.
// Variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvFloat parses key as a float.
func EnvFloat(key string) (float64, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvList splits a comma separated value, dropping empty items.
func EnvList(key string) ([]string, bool) {
	raw, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	return SplitList(raw), true
}

// SplitList splits a comma separated string into trimmed, non-empty items.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplyEnv overlays CATALOG_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	ints := map[string]*int{
		"WORKERS":           &cfg.Workers,
		"MAX_ATTEMPTS":      &cfg.MaxAttempts,
		"PLATFORM_BURST":    &cfg.PlatformBurst,
		"BREAKER_THRESHOLD": &cfg.BreakerThreshold,
		"MIN_IMAGE_SIDE":    &cfg.MinImageSide,
		"GOOD_THRESHOLD":    &cfg.GoodThreshold,
		"BATCH_SIZE":        &cfg.BatchSize,
		"MAX_PARALLEL":      &cfg.MaxParallel,
		"MAX_PAGES":         &cfg.MaxPages,
		"STORE_ERROR_ALERT": &cfg.StoreErrorAlert,
	}
	for name, target := range ints {
		value, ok, err := EnvInt(EnvPrefix + name)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	durations := map[string]*time.Duration{
		"FETCH_TIMEOUT":        &cfg.FetchTimeout,
		"RETRY_BACKOFF":        &cfg.RetryBackoff,
		"RETRY_BACKOFF_MAX":    &cfg.RetryBackoffMax,
		"PLATFORM_INTERVAL":    &cfg.PlatformInterval,
		"BREAKER_COOLDOWN":     &cfg.BreakerCooldown,
		"BREAKER_MAX_COOLDOWN": &cfg.BreakerMaxCooldown,
		"STALE_AFTER":          &cfg.StaleAfter,
		"SCHEDULE_INTERVAL":    &cfg.ScheduleInterval,
		"RENDER_WAIT":          &cfg.RenderWait,
	}
	for name, target := range durations {
		value, ok, err := EnvDuration(EnvPrefix + name)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	strs := map[string]*string{
		"USER_AGENT":          &cfg.UserAgent,
		"CHROME_BIN":          &cfg.ChromeBin,
		"CACHE_BACKEND":       &cfg.CacheBackend,
		"CACHE_DIR":           &cfg.CacheDir,
		"MINIO_ENDPOINT":      &cfg.MinIOEndpoint,
		"MINIO_ACCESS_KEY":    &cfg.MinIOAccessKey,
		"MINIO_SECRET_KEY":    &cfg.MinIOSecretKey,
		"MINIO_BUCKET":        &cfg.MinIOBucket,
		"DATABASE_DRIVER":     &cfg.DatabaseDriver,
		"DATABASE_URL":        &cfg.DatabaseURL,
		"CHECKPOINT_BACKEND":  &cfg.CheckpointBackend,
		"CHECKPOINT_PATH":     &cfg.CheckpointPath,
		"REDIS_ADDR":          &cfg.RedisAddr,
		"RUN_NAME":            &cfg.RunName,
		"OUTPUT":              &cfg.OutputFile,
		"FORMAT":              &cfg.OutputFormat,
		"HTTP_ADDR":           &cfg.HTTPAddr,
		"METRICS_ADDR":        &cfg.MetricsAddr,
		"CACHE_PUBLIC_PREFIX": &cfg.CachePublicPrefix,
	}
	for name, target := range strs {
		if value, ok := EnvString(EnvPrefix + name); ok {
			*target = value
		}
	}

	lists := map[string]*[]string{
		"BLOCKED_MARKERS":       &cfg.BlockedMarkers,
		"IMAGE_KEYWORDS":        &cfg.ImageKeywords,
		"IMAGE_BLOCKLIST":       &cfg.ImageBlocklist,
		"PREFERRED_SIZE_TOKENS": &cfg.PreferredSizeTokens,
		"FALLBACK_SIZE_TOKENS":  &cfg.FallbackSizeTokens,
		"TRACKING_PARAMS":       &cfg.TrackingParams,
	}
	for name, target := range lists {
		if value, ok := EnvList(EnvPrefix + name); ok {
			*target = value
		}
	}

	if value, ok, err := EnvBool(EnvPrefix + "ENABLE_RENDERING"); err != nil {
		return err
	} else if ok {
		cfg.EnableRendering = value
	}
	if value, ok, err := EnvBool(EnvPrefix + "MINIO_USE_SSL"); err != nil {
		return err
	} else if ok {
		cfg.MinIOUseSSL = value
	}
	if value, ok, err := EnvFloat(EnvPrefix + "RETRY_JITTER"); err != nil {
		return err
	} else if ok {
		cfg.RetryJitter = value
	}

	for _, platform := range models.AllPlatforms() {
		suffix := strings.ToUpper(string(platform))
		if seeds, ok := EnvList(EnvPrefix + "SEEDS_" + suffix); ok {
			cfg.Seeds[platform] = seeds
		}
		if blocklist, ok := EnvList(EnvPrefix + "IMAGE_BLOCKLIST_" + suffix); ok {
			cfg.PlatformBlocklists[platform] = blocklist
		}
	}
	if raw, ok := EnvList(EnvPrefix + "NORMALIZE_PLATFORMS"); ok {
		platforms := make([]models.Platform, 0, len(raw))
		for _, item := range raw {
			platform, err := models.ParsePlatform(item)
			if err != nil {
				return fmt.Errorf("%sNORMALIZE_PLATFORMS: %w", EnvPrefix, err)
			}
			platforms = append(platforms, platform)
		}
		cfg.NormalizePlatforms = platforms
	}
	return nil
}

// FromEnv returns DefaultConfig overlaid with environment variables.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
