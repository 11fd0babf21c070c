package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lilou-atelier/backend-boutique/internal/config"
	"github.com/lilou-atelier/backend-boutique/internal/obs"
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
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, queries := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	stockSvc := &stock.Service{
		Q:                 queries,
		Holds:             &stock.HoldStore{Client: redisClient, TTL: cfg.HoldTTL},
		Log:               logger,
		LowStockThreshold: cfg.LowStockThreshold,
		HoldTTL:           cfg.HoldTTL,
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Logger:      asynqLogger{logger},
		},
	)

	logger.Info().Msg("worker starting")
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	if err := srv.Run(tasks.NewMux(stockSvc, logger)); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger adapts zerolog to the asynq logging interface.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msgf("%v", args) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msgf("%v", args) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msgf("%v", args) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msgf("%v", args) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msgf("%v", args) }

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *store.Queries) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if cfg.DBMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.DBMaxIdleConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, store.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
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
