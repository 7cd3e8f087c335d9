// Package config loads pipeline settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docstash/thumbnailer/internal/variant"
)

type Config struct {
	NATSURL       string
	JobSubject    string
	WorkerQueue   string
	ResultSubject string

	DBPath string

	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string

	SignedURLTTL       time.Duration
	SignedURLCacheSize int

	MaxConcurrentJobs     int
	InlineFallbackEnabled bool
	StaleJobThreshold     time.Duration
	MaxInlineSourceBytes  int64

	Variants []variant.Spec
}

// DefaultVariants is the fixed size ladder used when THUMBNAIL_SIZES is not
// set. Budgets are soft: an oversized encode is logged, not rejected.
func DefaultVariants() []variant.Spec {
	return []variant.Spec{
		{Name: "small", Width: 256, Height: 256, Quality: 70, TargetBytes: 40 * 1024},
		{Name: "medium", Width: 512, Height: 512, Quality: 80, TargetBytes: 120 * 1024},
		{Name: "large", Width: 1024, Height: 1024, Quality: 85, TargetBytes: 400 * 1024},
	}
}

func Load() (Config, error) {
	cfg := Config{
		NATSURL:       getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:    getenv("THUMBNAIL_JOB_SUBJECT", "thumbnails.jobs"),
		WorkerQueue:   getenv("THUMBNAIL_WORKER_QUEUE", "thumbnail-workers"),
		ResultSubject: getenv("THUMBNAIL_RESULT_SUBJECT", "thumbnails.done"),
		DBPath:        getenv("THUMBNAIL_DB_PATH", "./data/thumbnails.db"),
		S3Region:      getenv("AWS_S3_REGION", "us-east-1"),
		S3Bucket:      getenv("AWS_S3_BUCKET", "docstash-content"),
		S3AccessKey:   getenv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:   getenv("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:    getenv("AWS_S3_ENDPOINT", ""),
		Variants:      DefaultVariants(),
	}

	ttlSeconds, err := parsePositiveInt(getenv("SIGNED_URL_TTL_SECONDS", "3600"), "SIGNED_URL_TTL_SECONDS")
	if err != nil {
		return Config{}, err
	}
	cfg.SignedURLTTL = time.Duration(ttlSeconds) * time.Second

	cacheSize, err := parsePositiveInt(getenv("SIGNED_URL_CACHE_SIZE", "10000"), "SIGNED_URL_CACHE_SIZE")
	if err != nil {
		return Config{}, err
	}
	cfg.SignedURLCacheSize = cacheSize

	maxJobs, err := parsePositiveInt(getenv("MAX_CONCURRENT_JOBS", "4"), "MAX_CONCURRENT_JOBS")
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentJobs = maxJobs

	cfg.InlineFallbackEnabled = getenv("INLINE_FALLBACK_ENABLED", "false") == "true"

	staleMs, err := parsePositiveInt(getenv("STALE_JOB_THRESHOLD_MS", "8000"), "STALE_JOB_THRESHOLD_MS")
	if err != nil {
		return Config{}, err
	}
	cfg.StaleJobThreshold = time.Duration(staleMs) * time.Millisecond

	maxInline, err := parsePositiveInt(getenv("MAX_INLINE_SOURCE_BYTES", strconv.Itoa(20*1024*1024)), "MAX_INLINE_SOURCE_BYTES")
	if err != nil {
		return Config{}, err
	}
	cfg.MaxInlineSourceBytes = int64(maxInline)

	if sizesEnv := getenv("THUMBNAIL_SIZES", ""); sizesEnv != "" {
		specs, err := ParseVariantSpecs(sizesEnv)
		if err != nil {
			return Config{}, fmt.Errorf("parse THUMBNAIL_SIZES: %w", err)
		}
		cfg.Variants = specs
	}

	return cfg, nil
}

// ParseVariantSpecs parses a size ladder of the form
// "name:widthxheight:quality:targetKB" joined by commas, e.g.
// "small:256x256:70:40,large:1024x1024:85:400".
func ParseVariantSpecs(sizesEnv string) ([]variant.Spec, error) {
	var specs []variant.Spec

	for _, entry := range strings.Split(sizesEnv, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid size %q, expected 'name:widthxheight:quality:targetKB'", entry)
		}

		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("empty size name in %q", entry)
		}

		dims := strings.Split(parts[1], "x")
		if len(dims) != 2 {
			return nil, fmt.Errorf("invalid dimensions %q, expected 'widthxheight'", parts[1])
		}
		width, err := strconv.Atoi(strings.TrimSpace(dims[0]))
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("invalid width in %q", entry)
		}
		height, err := strconv.Atoi(strings.TrimSpace(dims[1]))
		if err != nil || height <= 0 {
			return nil, fmt.Errorf("invalid height in %q", entry)
		}

		quality, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || quality < 1 || quality > 100 {
			return nil, fmt.Errorf("invalid quality in %q", entry)
		}

		targetKB, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil || targetKB <= 0 {
			return nil, fmt.Errorf("invalid target size in %q", entry)
		}

		specs = append(specs, variant.Spec{
			Name:        name,
			Width:       width,
			Height:      height,
			Quality:     quality,
			TargetBytes: int64(targetKB) * 1024,
		})
	}

	return specs, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
