package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"lovepage-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port               string
	CORSAllowOrigin    []string
	DatabaseURL        string
	Env                string
	QuotaStore         string
	RedisURL           string
	OnUnavailable      string
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	OpRetention        time.Duration
	OpPruneInterval    time.Duration
	GuardCacheTTL      time.Duration
	GuardCacheSize     int
	GuardAPIURL        string
	GuardToken         string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string
	AdminEmails        []string
	RazorpayKeyID      string
	RazorpayKeySecret  string
	UpgradeQueueURL    string
	AWSRegion          string
	OTLPEndpoint       string
	LogLevel           string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	return Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowOrigin:    splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:        dbURL,
		Env:                env,
		QuotaStore:         normalizeStoreType(getEnv("QUOTA_STORE", ""), dbURL),
		RedisURL:           getEnv("REDIS_URL", ""),
		OnUnavailable:      normalizePolicy(getEnv("QUOTA_ON_UNAVAILABLE", "fail_closed")),
		MaxAttempts:        getEnvInt("QUOTA_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvDuration("QUOTA_RETRY_BASE_DELAY", 50*time.Millisecond),
		OpRetention:        getEnvDuration("QUOTA_OP_RETENTION", 24*time.Hour),
		OpPruneInterval:    getEnvDuration("QUOTA_OP_PRUNE_INTERVAL", 10*time.Minute),
		GuardCacheTTL:      getEnvDuration("GUARD_CACHE_TTL", 5*time.Second),
		GuardCacheSize:     getEnvInt("GUARD_CACHE_SIZE", 256),
		GuardAPIURL:        getEnv("GUARD_API_URL", "http://localhost:8080/api/v1"),
		GuardToken:         getEnv("GUARD_TOKEN", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),
		AdminEmails:        splitAndTrim(getEnv("ADMIN_EMAILS", "")),
		RazorpayKeyID:      getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:  getEnv("RAZORPAY_KEY_SECRET", ""),
		UpgradeQueueURL:    getEnv("PLAN_UPGRADE_QUEUE_URL", ""),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		telemetry.Warn("config.invalid_int", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		telemetry.Warn("config.invalid_duration", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

// normalizeStoreType picks the quota backend. An explicit QUOTA_STORE wins;
// otherwise a DATABASE_URL implies the SQL store.
func normalizeStoreType(raw, dbURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sql", "postgres", "sqlite":
		return "sql"
	case "redis":
		return "redis"
	case "memory":
		return "memory"
	}
	if strings.TrimSpace(dbURL) != "" {
		return "sql"
	}
	return "memory"
}

func normalizePolicy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fail_open", "failopen", "open":
		return "fail_open"
	default:
		return "fail_closed"
	}
}
