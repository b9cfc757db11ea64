package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"mestredb/api/internal/cache"
	"mestredb/api/internal/config"
	"mestredb/api/internal/log"
	"mestredb/api/internal/queue"
	"mestredb/api/internal/storage"
	"mestredb/api/internal/tasks"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	client, err := cache.NewRedisClient(context.Background(), cfg.Redis.Connection())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}()

	var archiver tasks.Archiver
	if cfg.Archive.Enabled {
		store, err := storage.NewObjectStore(cfg.Archive)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := store.EnsureBucket(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("ensure archive bucket failed")
		}
		archiver = store
	}

	processor := tasks.NewProcessor(logger, archiver)
	consumer := queue.NewConsumer(client, queue.Options{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Redis.Group,
		Consumer:      cfg.Redis.Consumer,
		ClaimInterval: cfg.Queues.ClaimInterval,
		BatchSize:     cfg.Queues.BatchSize,
		Block:         cfg.Queues.Block,
	}, logger, processor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(cfg.Queues.Block + time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
