package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/app"
	"github.com/hackgods/venue-reservations/internal/clock"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/logger"
	"github.com/hackgods/venue-reservations/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.Env).Named("lifecycle-worker")
	defer func() { _ = log.Sync() }()

	log.Info("lifecycle worker starting up",
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("retention_interval", cfg.RetentionInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, app.Options{Redis: true})
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	w := worker.New(a.Booking, a.Sweeper, a.Locker, clock.SystemClock{}, log, worker.Config{
		Interval:          cfg.WorkerInterval,
		RetentionInterval: cfg.RetentionInterval,
		RunTimeout:        cfg.LockTTL,
	})
	w.RunForever(rootCtx)
}
