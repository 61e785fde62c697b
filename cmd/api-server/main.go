package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/api"
	"github.com/hackgods/venue-reservations/internal/app"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/logger"
	redisclient "github.com/hackgods/venue-reservations/internal/redis"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.Env).Named("api-server")
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("capacity_mode", cfg.CapacityMode),
		zap.String("no_show_policy", cfg.NoShowPolicy),
		zap.Duration("pending_ttl", cfg.PendingTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, app.Options{Redis: true, RedisOptional: true})
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	health := api.NewHealthHandler(cfg.Env, version).
		AddCheck("postgres", true, a.Pool.Ping).
		AddCheck("redis", false, func(ctx context.Context) error {
			if a.Redis == nil {
				return errors.New("not connected, using in-process job locks")
			}
			return redisclient.Ping(ctx, a.Redis)
		})

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: a.Booking,
			Sweeper: a.Sweeper,
			Locker:  a.Locker,
			Health:  health,
			Logger:  log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}
