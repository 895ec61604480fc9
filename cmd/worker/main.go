package main

import (
	"context"
	"os/signal"
	"syscall"

	"campusflow/internal/config"
	"campusflow/internal/logging"
	"campusflow/internal/queue"
	"campusflow/internal/registration"
	"campusflow/internal/store"
)

// Worker consumes registration jobs and creates accounts.
func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logging.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, consumer will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	if dead, err := q.Dead(ctx); err == nil && len(dead) > 0 {
		logging.Warn().Int("dead", len(dead)).Str("queue", cfg.QueueKey).Msg("dead-lettered registrations awaiting inspection")
	}

	w := &queue.Worker{
		Queue:       q,
		Handler:     registration.NewProcessor(registration.NewRepository(db.Client)).Handle,
		Concurrency: cfg.WorkerConcurrency,
	}

	logging.Info().Int("concurrency", cfg.WorkerConcurrency).Str("queue", cfg.QueueKey).Msg("worker started")
	if err := w.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("worker failed")
	}
	logging.Info().Msg("worker stopped")
}
