package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUOTA_STORE", "")
	t.Setenv("QUOTA_ON_UNAVAILABLE", "")
	t.Setenv("GUARD_API_URL", "")
	t.Setenv("QUOTA_OP_RETENTION", "")

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected env dev, got %q", cfg.Env)
	}
	if cfg.QuotaStore != "memory" {
		t.Fatalf("expected memory store, got %q", cfg.QuotaStore)
	}
	if cfg.OnUnavailable != "fail_closed" {
		t.Fatalf("expected fail_closed, got %q", cfg.OnUnavailable)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.GuardCacheTTL != 5*time.Second {
		t.Fatalf("expected 5s cache ttl, got %s", cfg.GuardCacheTTL)
	}
	if cfg.GuardAPIURL != "http://localhost:8080/api/v1" {
		t.Fatalf("unexpected guard api url %q", cfg.GuardAPIURL)
	}
	if cfg.OpRetention != 24*time.Hour {
		t.Fatalf("expected 24h op retention, got %s", cfg.OpRetention)
	}
}

func TestLoadDatabaseURLImpliesSQLStore(t *testing.T) {
	t.Setenv("QUOTA_STORE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/lovepages")

	cfg := Load()
	if cfg.QuotaStore != "sql" {
		t.Fatalf("expected sql store, got %q", cfg.QuotaStore)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("QUOTA_STORE", "redis")
	t.Setenv("QUOTA_ON_UNAVAILABLE", "fail_open")
	t.Setenv("QUOTA_MAX_ATTEMPTS", "5")
	t.Setenv("QUOTA_RETRY_BASE_DELAY", "10ms")
	t.Setenv("GUARD_CACHE_TTL", "bogus")
	t.Setenv("ADMIN_EMAILS", "ops@example.com, , owner@example.com")

	cfg := Load()
	if cfg.Env != "production" {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.QuotaStore != "redis" {
		t.Fatalf("expected redis, got %q", cfg.QuotaStore)
	}
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[1] != "owner@example.com" {
		t.Fatalf("unexpected admin emails %v", cfg.AdminEmails)
	}
	if cfg.OnUnavailable != "fail_open" {
		t.Fatalf("expected fail_open, got %q", cfg.OnUnavailable)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryBaseDelay != 10*time.Millisecond {
		t.Fatalf("expected 10ms, got %s", cfg.RetryBaseDelay)
	}
	if cfg.GuardCacheTTL != 5*time.Second {
		t.Fatalf("expected invalid ttl to fall back to default, got %s", cfg.GuardCacheTTL)
	}
}

func TestLoadEnvFilesDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LOVEPAGE_TEST_A=from-file\nLOVEPAGE_TEST_B=\"quoted\"\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LOVEPAGE_TEST_A", "from-env")
	t.Setenv("LOVEPAGE_TEST_B", "")
	os.Unsetenv("LOVEPAGE_TEST_B")

	loadEnvFiles(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("LOVEPAGE_TEST_A"); got != "from-env" {
		t.Fatalf("expected env value to win, got %q", got)
	}
	if got := os.Getenv("LOVEPAGE_TEST_B"); got != "quoted" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
