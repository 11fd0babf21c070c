package main

import (
	"context"
	"crypto/subtle"
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
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lilou-atelier/backend-boutique/internal/app"
	"github.com/lilou-atelier/backend-boutique/internal/auth"
	"github.com/lilou-atelier/backend-boutique/internal/cache"
	"github.com/lilou-atelier/backend-boutique/internal/checkout"
	"github.com/lilou-atelier/backend-boutique/internal/common"
	"github.com/lilou-atelier/backend-boutique/internal/config"
	"github.com/lilou-atelier/backend-boutique/internal/events"
	"github.com/lilou-atelier/backend-boutique/internal/health"
	"github.com/lilou-atelier/backend-boutique/internal/lock"
	"github.com/lilou-atelier/backend-boutique/internal/obs"
	"github.com/lilou-atelier/backend-boutique/internal/promo"
	"github.com/lilou-atelier/backend-boutique/internal/ratelimit"
	"github.com/lilou-atelier/backend-boutique/internal/security"
	"github.com/lilou-atelier/backend-boutique/internal/shiprate"
	"github.com/lilou-atelier/backend-boutique/internal/stock"
	"github.com/lilou-atelier/backend-boutique/internal/store"
	"github.com/lilou-atelier/backend-boutique/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "boutique-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
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

	if err := runMigrations(cfg); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if cfg.DBMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "boutique-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	queries := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisOpts.Addr,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	stockSvc := &stock.Service{
		Q:                 queries,
		Holds:             &stock.HoldStore{Client: redisClient, TTL: cfg.HoldTTL},
		Scheduler:         tasks.Enqueuer{Client: taskClient},
		Log:               logger,
		LowStockThreshold: cfg.LowStockThreshold,
		HoldTTL:           cfg.HoldTTL,
	}
	stockHandler := &stock.Handler{Svc: stockSvc}

	promoSvc := &promo.Service{
		Q:     queries,
		Cache: cache.New(redisClient, cfg.PromoCacheTTL),
		Log:   logger,
	}
	promoHandler := &promo.Handler{Svc: promoSvc}

	shipSvc := &shiprate.Service{
		Q:       queries,
		Pool:    pool,
		Cache:   cache.New(redisClient, cfg.ShipRulesCacheTTL),
		Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		Log:     logger,
		LockTTL: cfg.LockTTL,
	}
	shipHandler := &shiprate.Handler{Svc: shipSvc, Validate: validator.New()}

	bus := &events.Bus{
		Store:     queries,
		Notifiers: []events.Notifier{events.LogNotifier{Log: logger}},
	}

	checkoutSvc := &checkout.Service{
		Pool:  pool,
		Q:     queries,
		Stock: stockSvc,
		Promo: promoSvc,
		Ship:  shipSvc,
		Bus:   bus,
		Log:   logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	authMiddleware := auth.Middleware{Verifier: auth.Verifier{
		Secret:    []byte(cfg.JWTSecret),
		Validator: auth.TokenValidator{Algorithm: jwa.HS256, ClockSkew: 30 * time.Second},
	}}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	promoLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:promo:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return common.ClientIP(r) },
			Window: cfg.PromoValidateWindow,
			Max:    int(cfg.PromoValidateLimit),
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("promo rate limiter")
		},
	}

	limiterStore, err := app.NewLimiterStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	globalLimiter, err := app.NewGlobalLimiter(limiterStore, cfg.RateLimitGlobal)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse global rate limit")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(limiterstdlib.NewMiddleware(globalLimiter).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(authMiddleware.Authenticate)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/stock", func(s chi.Router) {
			s.Get("/availability", stockHandler.Availability)
			s.Post("/reservations", stockHandler.Reserve)
			s.Post("/reservations/release", stockHandler.Release)
		})

		v.With(promoLimiter.Middleware).Post("/promo-codes/validate", promoHandler.Validate)

		v.Post("/shipping/quote", shipHandler.Quote)

		v.Route("/checkout", func(c chi.Router) {
			c.Post("/quote", checkoutHandler.Quote)
			c.With(idem.Middleware).Post("/confirm", checkoutHandler.Confirm)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireRole("admin"))
			admin.Put("/stock", stockHandler.Update)
			admin.Get("/promo-codes", promoHandler.List)
			admin.Post("/promo-codes", promoHandler.Create)
			admin.Put("/promo-codes/{code}", promoHandler.Update)
			admin.Get("/shipping/rules", shipHandler.List)
			admin.Post("/shipping/rules", shipHandler.Create)
			admin.Put("/shipping/rules/{id}", shipHandler.Update)
			admin.Post("/shipping/rules/{id}/activate", shipHandler.Activate)
		})
	})

	var handler http.Handler = r
	if tracingEnabled {
		handler = otelhttp.NewHandler(r, "boutique-api")
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: handler,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return app.RunMigrations(m)
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
