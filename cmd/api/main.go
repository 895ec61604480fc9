package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"campusflow/internal/api"
	"campusflow/internal/attendance"
	"campusflow/internal/auth"
	"campusflow/internal/config"
	"campusflow/internal/dashboard"
	"campusflow/internal/logging"
	"campusflow/internal/notify"
	"campusflow/internal/pushclient"
	"campusflow/internal/queue"
	"campusflow/internal/realtime"
	"campusflow/internal/registration"
	"campusflow/internal/store"
	"campusflow/internal/workflow"
)

func main() {
	mint := flag.String("mint", "", "print a token pair for user:role[:college] and exit")
	flag.Parse()

	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if *mint != "" {
		if err := mintToken(cfg, *mint); err != nil {
			logging.Fatal().Err(err).Msg("mint token failed")
		}
		return
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logging.Fatal().Err(err).Msg("http server failed")
	}
}

func mintToken(cfg config.App, subject string) error {
	parts := strings.Split(subject, ":")
	if len(parts) < 2 {
		return errors.New("expected user:role[:college]")
	}
	id := auth.Identity{UserID: parts[0], Role: parts[1]}
	if len(parts) > 2 {
		id.CollegeID = parts[2]
	}
	pair, err := auth.Issue(id, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(pair)
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	wf := workflow.NewRepository(db.Client)
	att := attendance.NewService(attendance.NewRepository(db.Client))
	agg := dashboard.New(wf, att, cfg.StatsTTL, 1024)

	hub := realtime.NewHub(realtime.NewRegistry())
	defer hub.Close()

	push := pushclient.New(cfg.PushURL, cfg.PushAPIKey, cfg.PushSkip, cfg.PushTimeout)
	if !cfg.PushSkip {
		if err := push.Health(ctx); err != nil {
			logging.Warn().Err(err).Msg("push provider not reachable, notifications will be dropped until it recovers")
		}
	}
	notifier := notify.New(hub, hub.Registry(), notify.NewDeviceRepository(db.Client), push, cfg.PushTimeout)

	svc := workflow.NewService(wf, workflow.WithStats(agg), workflow.WithPublisher(notifier))

	checks := map[string]api.HealthCheck{
		"db":    db.Healthy,
		"redis": redisClient.Healthy,
	}
	if cfg.QueueBackend == "memory" {
		// No separate worker can reach an in-process queue.
		delete(checks, "redis")
		w := &queue.Worker{
			Queue:       q,
			Handler:     registration.NewProcessor(registration.NewRepository(db.Client)).Handle,
			Concurrency: cfg.WorkerConcurrency,
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logging.Error().Err(err).Msg("in-process registration worker stopped")
			}
		}()
	}

	r := api.NewRouter(api.Deps{
		Workflow:        svc,
		Dashboard:       agg,
		Attendance:      att,
		Notifier:        notifier,
		Hub:             hub,
		Registration:    registration.NewIntake(q, cfg.JobAttempts, cfg.JobBackoff),
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Checks:          checks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("queue", cfg.QueueBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server forced shutdown")
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("pending push notifications abandoned")
	}

	logging.Info().Msg("server exited")
	return nil
}
