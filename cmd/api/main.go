package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/auth"
	"github.com/noah-isme/printdesk/internal/checkout"
	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/config"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/health"
	"github.com/noah-isme/printdesk/internal/ledger"
	"github.com/noah-isme/printdesk/internal/lock"
	"github.com/noah-isme/printdesk/internal/merchant"
	"github.com/noah-isme/printdesk/internal/notify"
	"github.com/noah-isme/printdesk/internal/obs"
	"github.com/noah-isme/printdesk/internal/order"
	"github.com/noah-isme/printdesk/internal/payment"
	"github.com/noah-isme/printdesk/internal/ratelimit"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/resilience"
	"github.com/noah-isme/printdesk/internal/security"
	"github.com/noah-isme/printdesk/internal/session"
	"github.com/noah-isme/printdesk/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "printdesk")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "printdesk-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := ledger.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger, metricsEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	ledgerStore := &ledger.Store{DB: pool}
	notifiers := []events.Notifier{events.LogNotifier{}}
	if cfg.WebhooksEnabled() {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse task queue redis url")
		}
		taskClient := asynq.NewClient(redisOpt)
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		notifiers = append(notifiers, notify.Enqueuer{
			Client:   taskClient,
			Topics:   cfg.WebhookTopics,
			Queue:    cfg.WorkerQueue,
			MaxRetry: cfg.WebhookMaxRetry,
			Timeout:  cfg.WebhookTimeout * 2,
		})
	}
	bus := &events.Bus{Store: ledgerStore, Notifiers: notifiers}

	upstreamBreaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("print-api").
		WithLogger(logger)
	upstream := remote.New(remote.Config{
		BaseURL:     cfg.UpstreamBaseURL,
		Timeout:     cfg.UpstreamTimeout,
		MaxAttempts: cfg.UpstreamMaxAttempts,
		Backoff:     cfg.UpstreamBackoff,
		Breaker:     upstreamBreaker,
	})

	sessionLocker := lock.Redis{R: redisClient, Prefix: "lock:", TTL: cfg.SessionLockTTL}
	sessions := session.NewStore(session.StoreConfig{
		Repository: &session.RedisRepository{Client: redisClient, TTL: cfg.SessionTTL},
		Locker:     sessionLocker,
		Rate:       cfg.PricePerPageMinor,
		Currency:   cfg.CurrencyCode,
	})
	sessions.Subscribe(session.EventObserver(bus))

	directory := merchant.NewDirectory(upstream, merchant.NewCache(redisClient, "", cfg.MerchantCacheTTL))

	authService, err := auth.NewService(auth.Config{
		Secret:   cfg.SessionSecret,
		TTL:      cfg.SessionTTL,
		Issuer:   cfg.SessionIssuer,
		Audience: cfg.SessionAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{
		Service:        authService,
		Sessions:       sessions,
		Accounts:       upstream,
		Merchants:      upstream,
		Events:         bus,
		CookieName:     cfg.CookieName,
		CookieDomain:   cfg.CookieDomain,
		CookieSecure:   cfg.CookieSecure,
		CookieSameSite: cfg.CookieSameSite,
	}
	authMiddleware := auth.Middleware{Service: authService, Cookie: cfg.CookieName}

	checkoutSvc := &checkout.Service{
		Sessions: sessions,
		Upstream: upstream,
		Provider: payment.Razorpay{
			KeyID:       cfg.RazorpayKeyID,
			KeySecret:   cfg.RazorpayKeySecret,
			DisplayName: cfg.CheckoutDisplayName,
			Description: cfg.CheckoutDescription,
			ThemeColor:  cfg.CheckoutThemeColor,
		},
		Flows:    ledgerStore,
		Locker:   sessionLocker,
		Events:   bus,
		Currency: cfg.CurrencyCode,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, WriteError: sessions.WriteError}

	limiter := newLimiter(cfg, redisClient, logger)
	onLimitErr := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	loginLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Key: ratelimit.ByIP("login"), Window: cfg.LoginRateWindow, Max: cfg.LoginRateMax},
		OnError: onLimitErr,
	}
	uploadLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Key: ratelimit.BySession("upload"), Window: cfg.UploadRateWindow, Max: cfg.UploadRateMax},
		OnError: onLimitErr,
	}

	sessionHandler := &session.Handler{
		Store:        sessions,
		Intake:       document.NewIntake(cfg.IntakeAcceptedTypes),
		Merchants:    directory,
		UploadMemory: 8 << 20,
		UploadLimit:  uploadLimit.Middleware,
	}
	userHandler := &user.Handler{
		Service:    &user.Service{Sessions: sessions, Profiles: upstream},
		WriteError: sessions.WriteError,
	}
	orderHandler := &order.Handler{Sessions: sessions, Orders: upstream, WriteError: sessions.WriteError}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	opsAuth := security.OpsAuth{User: cfg.OpsUser, PasswordHash: cfg.OpsPasswordHash}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Instrument{Metrics: httpMetrics, Tracing: tracingEnabled}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.UploadMaxBytes}.Middleware)

	if metricsEnabled {
		r.With(opsAuth.Middleware).Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		r.With(opsAuth.Middleware).Mount("/debug/pprof", newPprofMux())
	}
	if opsAuth.Enabled() {
		r.With(opsAuth.Middleware).Post("/ops/merchants/refresh", directory.RefreshHandler)
	}

	healthHandler := health.Handler{Dependencies: []health.Dependency{
		health.Postgres(pool),
		health.Redis(redisClient),
		health.Breaker("print-api", upstreamBreaker),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		authHandler.PublicRoutes(v)
		v.Group(func(s chi.Router) {
			s.Use(authMiddleware.RequireSession)
			authHandler.Routes(s, loginLimit.Middleware)
			sessionHandler.Routes(s)
			checkoutHandler.Routes(s, idem.Middleware)
			userHandler.Routes(s)
			orderHandler.Routes(s)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newLimiter(cfg *config.Config, client *redis.Client, logger zerolog.Logger) ratelimit.Allower {
	if cfg.RateLimitDriver == "ulule" {
		l, err := ratelimit.NewUluleRedis(client, "rl")
		if err == nil {
			return l
		}
		logger.Error().Err(err).Msg("initialise ulule limiter, falling back to sliding window")
	}
	return ratelimit.SlidingWindow{Client: client, Prefix: "rl:"}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "printdesk-api"

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics bool) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}
