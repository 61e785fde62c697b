// Package app wires configuration, storage and services for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/booking"
	"github.com/hackgods/venue-reservations/internal/clock"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/db"
	"github.com/hackgods/venue-reservations/internal/events"
	"github.com/hackgods/venue-reservations/internal/migrate"
	redisclient "github.com/hackgods/venue-reservations/internal/redis"
	"github.com/hackgods/venue-reservations/internal/retention"
	"github.com/hackgods/venue-reservations/internal/token"
)

type App struct {
	Config    config.Config
	Log       *zap.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Locker    redisclient.JobLocker
	Publisher events.Publisher
	Booking   *booking.Service
	Sweeper   *retention.Sweeper

	closers []func()
}

type Options struct {
	// Redis connects the job locker. Without it jobs are only serialized
	// within this process.
	Redis bool
	// RedisOptional falls back to the in-process locker when Redis cannot be
	// reached instead of failing startup.
	RedisOptional bool
}

// New connects to Postgres (and Redis when asked), applies migrations if
// MIGRATE_ON_START is set and builds the services.
func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, log)
	cancel()
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	if cfg.MigrateOnStart {
		if _, err := migrate.Up(ctx, pool, log); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if opts.Redis {
		rdb, locker, err := connectLocker(ctx, cfg, log, opts.RedisOptional)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis, a.Locker = rdb, locker
		if rdb != nil {
			a.closers = append(a.closers, func() {
				if err := rdb.Close(); err != nil {
					log.Warn("close redis", zap.Error(err))
				}
			})
		}
	} else {
		a.Locker = &redisclient.LocalLocker{}
	}

	if cfg.RabbitMQURL != "" {
		pub := events.NewAMQPPublisher(cfg.RabbitMQURL, log)
		a.Publisher = pub
		a.closers = append(a.closers, func() { _ = pub.Close() })
	} else {
		a.Publisher = events.NopPublisher{}
	}

	signer, err := token.NewSigner(cfg.CredentialHashKey)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Booking = booking.NewService(booking.NewPgRepository(pool), signer, a.Publisher, clock.SystemClock{}, log, cfg)
	a.Sweeper = retention.NewSweeper(retention.NewPgStore(pool), cfg.SweepBatchSize, a.Publisher, clock.SystemClock{}, log)
	return a, nil
}

// connectLocker returns a Redis-backed job locker. When optional is set and
// Redis is unreachable it logs a warning and returns a nil client with a
// LocalLocker.
func connectLocker(ctx context.Context, cfg config.Config, log *zap.Logger, optional bool) (*redis.Client, redisclient.JobLocker, error) {
	rdb, err := redisclient.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		if !optional {
			return nil, nil, err
		}
		log.Warn("redis unavailable, job locks are local to this process",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return nil, &redisclient.LocalLocker{}, nil
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	return rdb, redisclient.NewJobLocker(rdb, cfg.LockTTL), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
