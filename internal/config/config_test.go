package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "STORE_DRIVER", "SCORING_MC_POLICY", "REDIS_URL", "JWT_SECRET", "LISTING_CACHE_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Errorf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.ScoringPolicy != "exact" {
		t.Errorf("ScoringPolicy = %q, want exact", cfg.ScoringPolicy)
	}
	if cfg.RedisURL != "" || cfg.JWTSecret != "" {
		t.Errorf("optional integrations should default to disabled, got redis=%q jwt=%q", cfg.RedisURL, cfg.JWTSecret)
	}
	if cfg.ListingCacheTTL != 5*time.Minute {
		t.Errorf("ListingCacheTTL = %v, want 5m", cfg.ListingCacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("SCORING_MC_POLICY", "partial")
	t.Setenv("SESSION_EXPIRY_GRACE_SECONDS", "30")
	t.Setenv("LISTING_CACHE_SIZE", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", "https://exam.example.com, http://localhost:5173 ,")

	cfg := Load()
	if cfg.StoreDriver != StoreDriverMemory {
		t.Errorf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.ScoringPolicy != "partial" {
		t.Errorf("ScoringPolicy = %q, want partial", cfg.ScoringPolicy)
	}
	if cfg.SessionExpiryGrace != 30*time.Second {
		t.Errorf("SessionExpiryGrace = %v, want 30s", cfg.SessionExpiryGrace)
	}
	if cfg.ListingCacheSize != 1024 {
		t.Errorf("ListingCacheSize = %d, want fallback 1024", cfg.ListingCacheSize)
	}
	want := []string{"https://exam.example.com", "http://localhost:5173"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestParseOriginsEmpty(t *testing.T) {
	if got := parseOrigins(""); got != nil {
		t.Errorf("parseOrigins(\"\") = %v, want nil", got)
	}
}

func TestCacheKeys(t *testing.T) {
	if got := CacheKey.ExamPaperKey("e1"); got != "exam:e1:paper" {
		t.Errorf("ExamPaperKey = %q", got)
	}
	if got := CacheKey.ListingKey("a@b.c", ""); got != "listing:a@b.c:course:" {
		t.Errorf("ListingKey = %q", got)
	}
}
