package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	SessionSecret   string
	SessionTTL      time.Duration
	SessionIssuer   string
	SessionAudience string
	SessionLockTTL  time.Duration
	CookieName      string
	CookieDomain    string
	CookieSecure    bool
	CookieSameSite  http.SameSite

	UpstreamBaseURL     string
	UpstreamTimeout     time.Duration
	UpstreamMaxAttempts int
	UpstreamBackoff     time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	CurrencyCode      string
	PricePerPageMinor int64

	IntakeAcceptedTypes []string
	UploadMaxBytes      int64

	RazorpayKeyID       string
	RazorpayKeySecret   string
	CheckoutDisplayName string
	CheckoutDescription string
	CheckoutThemeColor  string

	MerchantCacheTTL time.Duration
	IdempotencyTTL   time.Duration

	RateLimitDriver  string
	LoginRateMax     int
	LoginRateWindow  time.Duration
	UploadRateMax    int
	UploadRateWindow time.Duration

	WebhookURL        string
	WebhookSecret     string
	WebhookTopics     []string
	WebhookTimeout    time.Duration
	WebhookMaxRetry   int
	WebhookReplayTTL  time.Duration
	WorkerConcurrency int
	WorkerQueue       string

	OpsUser         string
	OpsPasswordHash string

	AutoMigrate bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8081"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		SessionSecret:   k.String("SESSION_SECRET"),
		SessionTTL:      parseDuration(k.String("SESSION_TTL"), "24h"),
		SessionIssuer:   valueOrDefault(k.String("SESSION_ISSUER"), "printdesk"),
		SessionAudience: valueOrDefault(k.String("SESSION_AUDIENCE"), "printdesk-web"),
		SessionLockTTL:  parseDuration(k.String("SESSION_LOCK_TTL"), "30s"),
		CookieName:      valueOrDefault(k.String("SESSION_COOKIE_NAME"), "printdesk_session"),
		CookieDomain:    strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:    parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:  parseSameSite(k.String("COOKIE_SAMESITE")),

		UpstreamBaseURL:     strings.TrimRight(valueOrDefault(k.String("UPSTREAM_API_URL"), "http://localhost:8080/api"), "/"),
		UpstreamTimeout:     parseDuration(k.String("UPSTREAM_TIMEOUT"), "10s"),
		UpstreamMaxAttempts: parseInt(k.String("UPSTREAM_MAX_ATTEMPTS"), 3),
		UpstreamBackoff:     parseDuration(k.String("UPSTREAM_BACKOFF"), "200ms"),
		BreakerMinRequests:  parseInt(k.String("UPSTREAM_BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio: parseFloat(k.String("UPSTREAM_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("UPSTREAM_BREAKER_OPEN_FOR"), "30s"),

		CurrencyCode:      strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		PricePerPageMinor: int64(parseInt(k.String("PRICE_PER_PAGE_MINOR"), 200)),

		IntakeAcceptedTypes: splitAndTrim(valueOrDefault(k.String("INTAKE_ACCEPTED_TYPES"), "application/pdf")),
		UploadMaxBytes:      int64(parseInt(k.String("UPLOAD_MAX_BYTES"), 50<<20)),

		RazorpayKeyID:       k.String("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:   k.String("RAZORPAY_KEY_SECRET"),
		CheckoutDisplayName: valueOrDefault(k.String("CHECKOUT_DISPLAY_NAME"), "AutoPrint"),
		CheckoutDescription: valueOrDefault(k.String("CHECKOUT_DESCRIPTION"), "Print Order Payment"),
		CheckoutThemeColor:  valueOrDefault(k.String("CHECKOUT_THEME_COLOR"), "#4f46e5"),

		MerchantCacheTTL: parseDuration(k.String("MERCHANT_CACHE_TTL"), "5m"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RateLimitDriver:  strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_DRIVER"), "sliding")),
		LoginRateMax:     parseInt(k.String("LOGIN_RATE_MAX"), 10),
		LoginRateWindow:  parseDuration(k.String("LOGIN_RATE_WINDOW"), "1m"),
		UploadRateMax:    parseInt(k.String("UPLOAD_RATE_MAX"), 30),
		UploadRateWindow: parseDuration(k.String("UPLOAD_RATE_WINDOW"), "1m"),

		WebhookURL:        strings.TrimSpace(k.String("WEBHOOK_URL")),
		WebhookSecret:     k.String("WEBHOOK_SECRET"),
		WebhookTopics:     splitAndTrim(k.String("WEBHOOK_TOPICS")),
		WebhookTimeout:    parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookMaxRetry:   parseInt(k.String("WEBHOOK_MAX_RETRY"), 6),
		WebhookReplayTTL:  parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
		WorkerQueue:       valueOrDefault(k.String("WORKER_QUEUE"), "webhooks"),

		OpsUser:         valueOrDefault(k.String("OPS_BASIC_AUTH_USER"), "ops"),
		OpsPasswordHash: strings.TrimSpace(k.String("OPS_BASIC_AUTH_HASH")),

		AutoMigrate: parseBool(k.String("AUTO_MIGRATE")),
	}
	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}
	if cfg.PricePerPageMinor <= 0 {
		return nil, errors.New("PRICE_PER_PAGE_MINOR must be positive")
	}
	if len(cfg.IntakeAcceptedTypes) == 0 {
		return nil, errors.New("INTAKE_ACCEPTED_TYPES must list at least one media type")
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8081"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// WebhooksEnabled reports whether domain events are forwarded to a webhook endpoint.
func (c *Config) WebhooksEnabled() bool {
	return c.WebhookURL != ""
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
