// Package worker runs the periodic reservation housekeeping and the retention
// sweep. Each job runs under a named lock so only one replica does it.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/booking"
	"github.com/hackgods/venue-reservations/internal/clock"
	redisclient "github.com/hackgods/venue-reservations/internal/redis"
	"github.com/hackgods/venue-reservations/internal/retention"
)

const lifecycleLock = "lifecycle"

type Lifecycle interface {
	RunLifecycle(ctx context.Context) (booking.LifecycleReport, error)
}

type Config struct {
	Interval          time.Duration
	RetentionInterval time.Duration // 0 disables the sweep
	RunTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
	return c
}

type Worker struct {
	lifecycle Lifecycle
	sweeper   *retention.Sweeper
	locker    redisclient.JobLocker
	clock     clock.Clock
	log       *zap.Logger
	cfg       Config

	lastSweep time.Time
}

func New(lifecycle Lifecycle, sweeper *retention.Sweeper, locker redisclient.JobLocker, clk clock.Clock, log *zap.Logger, cfg Config) *Worker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Worker{
		lifecycle: lifecycle,
		sweeper:   sweeper,
		locker:    locker,
		clock:     clk,
		log:       log.Named("worker"),
		cfg:       cfg.withDefaults(),
	}
}

// RunForever runs once immediately and then on every tick until ctx ends.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("worker run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.log.Info("shutdown signal received, stopping worker")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one lifecycle pass and, when due, one retention sweep. A
// job whose lock is held elsewhere is skipped without error.
func (w *Worker) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	start := w.clock.Now()
	err := w.locker.WithLock(runCtx, lifecycleLock, func(ctx context.Context) error {
		_, err := w.lifecycle.RunLifecycle(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.log.Debug("lifecycle run skipped, lock held elsewhere")
	case err != nil:
		return err
	}

	if w.sweeper == nil || w.cfg.RetentionInterval <= 0 {
		return nil
	}
	if !w.lastSweep.IsZero() && start.Sub(w.lastSweep) < w.cfg.RetentionInterval {
		return nil
	}

	_, err = w.sweeper.SweepLocked(runCtx, w.locker, start, false)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.log.Debug("retention sweep skipped, lock held elsewhere")
		return nil
	case err != nil:
		return err
	}
	w.lastSweep = start
	return nil
}
