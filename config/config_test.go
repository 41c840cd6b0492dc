package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDataDirDefaults(t *testing.T) {
	t.Setenv("MEDIACONVERT_DATA_DIR", "")
	t.Setenv("MEDIACONVERT_SERVE_DIR", "")

	if got := GetDataDir(); got != "./data" {
		t.Errorf("Expected default data dir ./data, got %s", got)
	}
	if got := GetLocalArtifactDir(); got != "./serve" {
		t.Errorf("Expected default serve dir ./serve, got %s", got)
	}
}

func TestDataDirEnv(t *testing.T) {
	customDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("MEDIACONVERT_DATA_DIR", customDir)

	if got, want := GetJobsDBPath(), filepath.Join(customDir, "jobs.db"); got != want {
		t.Errorf("Expected jobs path %s, got %s", want, got)
	}
	if got, want := GetScratchDir(), filepath.Join(customDir, "scratch"); got != want {
		t.Errorf("Expected scratch path %s, got %s", want, got)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"MEDIACONVERT_PORT", "MEDIACONVERT_STORE_DRIVER", "MEDIACONVERT_ARTIFACT_BACKEND",
		"MEDIACONVERT_ANON_DAILY_LIMIT", "MEDIACONVERT_KEEP_COUNT", "MEDIACONVERT_JOB_TIMEOUT",
		"MEDIACONVERT_ALLOWED_ORIGINS", "MEDIACONVERT_PUBLIC_BASE_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" || cfg.StoreDriver != "pebble" || cfg.ArtifactBackend != "local" {
		t.Errorf("unexpected defaults: port=%s store=%s backend=%s", cfg.Port, cfg.StoreDriver, cfg.ArtifactBackend)
	}
	if cfg.AnonymousDailyLimit != 3 || cfg.KeepCount != 5 {
		t.Errorf("unexpected policy defaults: limit=%d keep=%d", cfg.AnonymousDailyLimit, cfg.KeepCount)
	}
	if cfg.JobTimeout != 10*time.Minute || cfg.ImageTimeout != 5*time.Minute || cfg.StaleAfter != 10*time.Minute {
		t.Errorf("unexpected timeouts: job=%v image=%v stale=%v", cfg.JobTimeout, cfg.ImageTimeout, cfg.StaleAfter)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"*"}) {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Errorf("unexpected base url %s", cfg.PublicBaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEDIACONVERT_STORE_DRIVER", "Postgres")
	t.Setenv("MEDIACONVERT_ANON_DAILY_LIMIT", "10")
	t.Setenv("MEDIACONVERT_JOB_TIMEOUT", "90s")
	t.Setenv("MEDIACONVERT_IMAGE_TIMEOUT", "120")
	t.Setenv("MEDIACONVERT_STALE_AFTER", "soon")
	t.Setenv("MEDIACONVERT_TRUST_PROXY", "yes")
	t.Setenv("MEDIACONVERT_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MEDIACONVERT_PUBLIC_BASE_URL", "https://media.example/")
	t.Setenv("S3_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-1")

	cfg := Load()
	if cfg.StoreDriver != "postgres" {
		t.Errorf("driver not normalized: %s", cfg.StoreDriver)
	}
	if cfg.AnonymousDailyLimit != 10 {
		t.Errorf("limit override ignored: %d", cfg.AnonymousDailyLimit)
	}
	if cfg.JobTimeout != 90*time.Second || cfg.ImageTimeout != 2*time.Minute {
		t.Errorf("duration overrides: job=%v image=%v", cfg.JobTimeout, cfg.ImageTimeout)
	}
	if cfg.StaleAfter != 10*time.Minute {
		t.Errorf("invalid duration should fall back, got %v", cfg.StaleAfter)
	}
	if !cfg.TrustProxy {
		t.Error("TrustProxy should be true")
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.PublicBaseURL != "https://media.example" {
		t.Errorf("trailing slash not trimmed: %s", cfg.PublicBaseURL)
	}
	if cfg.S3Region != "eu-west-1" {
		t.Errorf("region fallback not applied: %s", cfg.S3Region)
	}
}

func TestSharedJobStore(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		share bool
	}{
		{"local pebble", Config{StoreDriver: "pebble"}, false},
		{"postgres", Config{StoreDriver: "postgres"}, true},
		{"pebble with redis", Config{StoreDriver: "pebble", RedisAddr: "localhost:6379"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.SharedJobStore(); got != tt.share {
				t.Errorf("SharedJobStore() = %v, want %v", got, tt.share)
			}
		})
	}
}
