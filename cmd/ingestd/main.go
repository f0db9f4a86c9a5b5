// Package main is the entry point for the telemetry ingest service.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/aggregate"
	"github.com/telemetryhub/ingestd/internal/cache"
	"github.com/telemetryhub/ingestd/internal/config"
	"github.com/telemetryhub/ingestd/internal/database"
	"github.com/telemetryhub/ingestd/internal/handler"
	"github.com/telemetryhub/ingestd/internal/identity"
	"github.com/telemetryhub/ingestd/internal/ingest"
	"github.com/telemetryhub/ingestd/internal/lifecycle"
	"github.com/telemetryhub/ingestd/internal/query"
	"github.com/telemetryhub/ingestd/internal/ratelimit"
	"github.com/telemetryhub/ingestd/internal/router"
	"github.com/telemetryhub/ingestd/internal/schema"
	"github.com/telemetryhub/ingestd/internal/server"
	"github.com/telemetryhub/ingestd/internal/session"
	"github.com/telemetryhub/ingestd/internal/storage"
	"github.com/telemetryhub/ingestd/internal/storage/pgstore"
	"github.com/telemetryhub/ingestd/internal/storage/sqlitestore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := setupLogger(cfg)
	logger.Info().
		Str("env", cfg.Server.Env).
		Str("port", cfg.Server.Port).
		Str("db_type", string(cfg.Database.Type)).
		Msg("starting telemetry ingest service")

	ctx := context.Background()

	db, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer db.Close()

	steps, err := schemaSteps(db.Kind(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to hash copilot password")
	}
	runner := schema.NewRunner(db, logger)
	if err := runner.Run(ctx, steps); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}
	schema.RunBackfillsAsync(ctx, db, logger)

	redis, err := database.NewRedis(database.RedisConfig{
		URL:          cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, rate limiting and top-N cache degraded")
		redis = nil
	} else {
		defer redis.Close()
	}

	aggregates := aggregate.New(db)
	if err := aggregates.BackfillIfEmpty(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial aggregate backfill failed, will not block startup")
	}

	reconciler := session.New(db)
	ingestor := ingest.New(db, reconciler, aggregates, logger)
	queryEngine := query.New(db)
	lifecycleManager := lifecycle.New(db, aggregates)
	topNCache := cache.New(redis, logger)
	limiter := ratelimit.NewLimiter(redis, logger)

	peopleSvc := identity.NewPeopleService(db)
	teamsSvc := identity.NewTeamService(db)
	orgsSvc := identity.NewOrgService(db)
	usersSvc := identity.NewSystemUserService(db)
	tokensSvc := identity.NewRememberTokenService(db)
	loginAuditSvc := identity.NewLoginAuditLogger(db)

	deps := router.Dependencies{
		Config:              cfg,
		Logger:              logger,
		RateLimiter:         limiter,
		HealthHandler:       handler.NewHealthHandler(server.StorageCheck{DB: db}, server.RedisCheck{Redis: redis}),
		IngestHandler:       handler.NewIngestHandler(ingestor, logger, cfg.Server.TelemetryOff),
		QueryHandler:        handler.NewQueryHandler(queryEngine, topNCache),
		LifecycleHandler:    handler.NewLifecycleHandler(lifecycleManager),
		IdentityHandler:     handler.NewIdentityHandler(peopleSvc, teamsSvc, orgsSvc, usersSvc, tokensSvc, loginAuditSvc),
		ExportImportHandler: handler.NewExportImportHandler(db),
		Tokens:              tokensSvc,
		Users:               usersSvc,
	}

	r := router.New(deps)
	srv := server.New(cfg, r, logger)

	logger.Info().Str("addr", srv.Addr()).Msg("ingest service ready to accept connections")

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("ingest service shutdown complete")
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Storage, error) {
	switch cfg.Database.Type {
	case config.DBTypePostgreSQL:
		url := cfg.Database.InternalURL
		if url == "" {
			url = cfg.Database.URL
		}
		pgCfg := pgstore.DefaultConfig(url)
		pgCfg.MaxOpenConns = cfg.Database.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Database.MaxIdleConns
		pgCfg.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		return pgstore.Open(ctx, pgCfg, logger)
	default:
		return sqlitestore.Open(ctx, cfg.Database.Path, logger)
	}
}

func schemaSteps(kind storage.Kind, cfg *config.Config) ([]schema.Step, error) {
	var hash string
	if cfg.Copilot.Username != "" && cfg.Copilot.Password != "" {
		h, err := identity.HashPassword(cfg.Copilot.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	if kind == storage.KindPostgres {
		return schema.PostgresSteps(cfg.Copilot.Username, hash, cfg.Copilot.Role), nil
	}
	return schema.SQLiteSteps(cfg.Copilot.Username, hash, cfg.Copilot.Role), nil
}

// setupLogger configures zerolog based on environment.
func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Logging.Format == "console" || cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return logger
}
