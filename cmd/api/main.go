package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/cache"
	"mestredb/api/internal/config"
	"mestredb/api/internal/database"
	"mestredb/api/internal/handlers"
	"mestredb/api/internal/jobs"
	"mestredb/api/internal/log"
	"mestredb/api/internal/ratelimit"
	"mestredb/api/internal/repository"
	"mestredb/api/internal/security"
	"mestredb/api/internal/server"
	"mestredb/api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "")

	ctx := context.Background()

	var (
		dbPool *pgxpool.Pool
		users  service.UserRepository
		deps   handlers.Dependencies
	)
	switch cfg.Storage.Driver {
	case "postgres":
		dbPool, err = database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		if err := database.EnsureSchema(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
		users = repository.NewUserRepository(dbPool)
		deps.Database = handlers.PingFunc(dbPool.Ping)
	default:
		logger.Warn().Msg("using in-memory user store; data is lost on restart")
		users = repository.NewMemoryUserRepository()
	}

	var redisClient *redis.Client
	if cfg.Security.Blacklist == "redis" || cfg.Audit.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		deps.Cache = handlers.PingFunc(cache.Pinger(redisClient))
	}

	var (
		blacklist security.Blacklist
		purger    jobs.Purger
	)
	if cfg.Security.Blacklist == "redis" {
		blacklist = security.NewRedisBlacklist(redisClient)
	} else {
		memory := security.NewMemoryBlacklist()
		blacklist, purger = memory, memory
	}

	tokens, err := security.NewTokenService(security.TokenConfig{
		Secret:     cfg.Security.JWTSecret,
		Issuer:     cfg.Security.JWTIssuer,
		AccessTTL:  cfg.Security.JWTAccessTTL,
		RefreshTTL: cfg.Security.JWTRefreshTTL,
	}, blacklist)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid token configuration")
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		Window:      cfg.RateLimit.Window,
		Block:       cfg.RateLimit.Block,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid rate limit configuration")
	}

	var publisher audit.Publisher = audit.NewLogPublisher(logger)
	if cfg.Audit.Enabled {
		publisher = audit.NewRedisPublisher(redisClient, cfg.Audit.Stream)
	}

	hasher := security.NewPasswordHasher(security.DefaultArgon2Params)
	deps.Auth = service.NewAuthService(users, hasher, tokens, limiter, publisher, logger)
	deps.Users = service.NewUserService(users, hasher, publisher, logger)
	deps.Limiter = limiter

	bootstrapAdmin(ctx, logger, cfg.Bootstrap, deps.Users)

	handlerSet := handlers.NewHandlerSet(logger, cfg, deps)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(limiter, purger, cfg.RateLimit.SweepInterval, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func bootstrapAdmin(ctx context.Context, logger zerolog.Logger, cfg config.BootstrapConfig, users *service.UserService) {
	if cfg.AdminEmail == "" {
		return
	}
	created, err := users.EnsureSuperuser(ctx, service.CreateUserInput{
		Name:        cfg.AdminName,
		Email:       cfg.AdminEmail,
		Password:    cfg.AdminPassword,
		IsSuperuser: true,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap superuser")
	}
	if created {
		logger.Info().Str("email", cfg.AdminEmail).Msg("bootstrap superuser created")
	}
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduler jobs still running at shutdown")
	}

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
