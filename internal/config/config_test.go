package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("THUMBNAIL_SIZES", "")
	t.Setenv("STALE_JOB_THRESHOLD_MS", "")
	t.Setenv("INLINE_FALLBACK_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected NATS URL: %s", cfg.NATSURL)
	}
	if cfg.JobSubject != "thumbnails.jobs" || cfg.ResultSubject != "thumbnails.done" {
		t.Fatalf("unexpected subjects: %s %s", cfg.JobSubject, cfg.ResultSubject)
	}
	if cfg.StaleJobThreshold != 8*time.Second {
		t.Fatalf("unexpected stale threshold: %v", cfg.StaleJobThreshold)
	}
	if cfg.InlineFallbackEnabled {
		t.Fatal("inline fallback should default to disabled")
	}
	if cfg.SignedURLCacheSize != 10000 {
		t.Fatalf("unexpected cache size: %d", cfg.SignedURLCacheSize)
	}
	if len(cfg.Variants) != 3 || cfg.Variants[0].Name != "small" {
		t.Fatalf("unexpected default variants: %+v", cfg.Variants)
	}
}

func TestLoadInvalidThreshold(t *testing.T) {
	t.Setenv("STALE_JOB_THRESHOLD_MS", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid STALE_JOB_THRESHOLD_MS")
	}
}

func TestParseVariantSpecs(t *testing.T) {
	specs, err := ParseVariantSpecs("small:256x256:70:40, large:1024x768:85:400")
	if err != nil {
		t.Fatalf("ParseVariantSpecs returned error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Width != 256 || specs[0].Quality != 70 || specs[0].TargetBytes != 40*1024 {
		t.Fatalf("unexpected small spec: %+v", specs[0])
	}
	if specs[1].Height != 768 {
		t.Fatalf("unexpected large spec: %+v", specs[1])
	}
}

func TestParseVariantSpecsRejectsMalformed(t *testing.T) {
	cases := []string{
		"small:256x256:70",
		"small:256:70:40",
		"small:0x256:70:40",
		"small:256x256:0:40",
		"small:256x256:70:0",
		":256x256:70:40",
	}
	for _, c := range cases {
		if _, err := ParseVariantSpecs(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}
