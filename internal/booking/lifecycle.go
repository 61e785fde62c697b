package booking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/config"
)

const lifecycleBatch = 200

type LifecycleReport struct {
	HoldsExpired       int      `json:"holds_expired"`
	CredentialsExpired int64    `json:"credentials_expired"`
	NoShows            int      `json:"no_shows"`
	Completed          int      `json:"completed"`
	Errors             []string `json:"errors,omitempty"`
}

// RunLifecycle performs one pass of the periodic housekeeping: expiring stale
// holds, persisting credential expiry, applying the no-show policy and
// completing finished visits. Per-reservation failures are logged and counted
// in the report; only a failed query aborts the pass.
func (s *Service) RunLifecycle(ctx context.Context) (LifecycleReport, error) {
	now := s.clock.Now()
	var rep LifecycleReport

	n, err := s.ExpirePendingHolds(ctx, now, &rep)
	if err != nil {
		return rep, err
	}
	rep.HoldsExpired = n

	var expired int64
	err = s.repo.WithTx(ctx, func(st Store) error {
		var err error
		expired, err = st.ExpireCredentials(ctx, now)
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("expire credentials: %w", err)
	}
	rep.CredentialsExpired = expired

	if s.cfg.NoShowPolicy == config.NoShowAuto {
		n, err := s.SweepNoShows(ctx, now, &rep)
		if err != nil {
			return rep, err
		}
		rep.NoShows = n
	}

	if s.cfg.AutoCompleteAfter > 0 {
		n, err := s.AutoComplete(ctx, now, &rep)
		if err != nil {
			return rep, err
		}
		rep.Completed = n
	}

	s.log.Info("lifecycle pass finished",
		zap.Int("holds_expired", rep.HoldsExpired),
		zap.Int64("credentials_expired", rep.CredentialsExpired),
		zap.Int("no_shows", rep.NoShows),
		zap.Int("completed", rep.Completed),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

// ExpirePendingHolds cancels pending reservations older than the pending TTL,
// giving their capacity back to the slot.
func (s *Service) ExpirePendingHolds(ctx context.Context, now time.Time, rep *LifecycleReport) (int, error) {
	candidates, err := s.repo.FindStalePending(ctx, now.Add(-s.cfg.PendingTTL), lifecycleBatch)
	if err != nil {
		return 0, fmt.Errorf("find stale holds: %w", err)
	}
	return s.applyEach(ctx, now, candidates, "expire hold", rep, func(u *unitOfWork, r *Reservation) error {
		if r.Status != StatusPending {
			return nil
		}
		return s.cancelLocked(ctx, u, r, "hold_expired")
	}), nil
}

// SweepNoShows marks confirmed reservations whose credential expired unscanned.
func (s *Service) SweepNoShows(ctx context.Context, now time.Time, rep *LifecycleReport) (int, error) {
	candidates, err := s.repo.FindNoShowCandidates(ctx, now, lifecycleBatch)
	if err != nil {
		return 0, fmt.Errorf("find no-show candidates: %w", err)
	}
	return s.applyEach(ctx, now, candidates, "mark no-show", rep, func(u *unitOfWork, r *Reservation) error {
		if r.Status != StatusConfirmed {
			return nil
		}
		return s.noShowLocked(ctx, u, r, "policy")
	}), nil
}

// AutoComplete completes checked-in reservations once their slot has been over
// for AutoCompleteAfter.
func (s *Service) AutoComplete(ctx context.Context, now time.Time, rep *LifecycleReport) (int, error) {
	candidates, err := s.repo.FindCompletable(ctx, now.Add(-s.cfg.AutoCompleteAfter), lifecycleBatch)
	if err != nil {
		return 0, fmt.Errorf("find completable reservations: %w", err)
	}
	return s.applyEach(ctx, now, candidates, "auto complete", rep, func(u *unitOfWork, r *Reservation) error {
		if r.Status != StatusCheckedIn {
			return nil
		}
		return s.completeLocked(ctx, u, r, "policy")
	}), nil
}

// applyEach re-locks every candidate in its own transaction so a concurrent
// transition wins cleanly, and returns how many were applied.
func (s *Service) applyEach(ctx context.Context, now time.Time, candidates []Reservation, action string, rep *LifecycleReport, fn func(u *unitOfWork, r *Reservation) error) int {
	applied := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}

		var changed bool
		err := s.inTx(ctx, now, func(u *unitOfWork) error {
			r, err := u.store.LockReservation(ctx, c.ID)
			if err != nil {
				return err
			}
			before := r.Status
			if err := fn(u, r); err != nil {
				return err
			}
			changed = r.Status != before
			return nil
		})
		if err != nil {
			s.log.Error(action+" failed", zap.Stringer("reservation_id", c.ID), zap.Error(err))
			if rep != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s: %v", action, c.ID, err))
			}
			continue
		}
		if changed {
			applied++
		}
	}
	return applied
}
