package retention

import (
	"context"
	"time"

	redisclient "github.com/hackgods/venue-reservations/internal/redis"
)

// LockName is the job lock held while a destructive sweep runs.
const LockName = "retention-sweep"

// SweepLocked runs Sweep under the named job lock so replicas never sweep
// concurrently. Dry runs read only and skip the lock. It returns
// redisclient.ErrLockNotAcquired when another sweep is running.
func (s *Sweeper) SweepLocked(ctx context.Context, locker redisclient.JobLocker, ref time.Time, dryRun bool) (Report, error) {
	if dryRun || locker == nil {
		return s.Sweep(ctx, ref, dryRun)
	}

	var rep Report
	err := locker.WithLock(ctx, LockName, func(ctx context.Context) error {
		var err error
		rep, err = s.Sweep(ctx, ref, dryRun)
		return err
	})
	return rep, err
}
