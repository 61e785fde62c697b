// Package retention deletes credentials that belong to reservations scheduled
// before the current retention period.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/clock"
	"github.com/hackgods/venue-reservations/internal/events"
	"github.com/hackgods/venue-reservations/internal/timewindow"
)

const (
	DefaultBatchSize       = 500
	maxConsecutiveFailures = 3
)

var (
	ErrTooManyFailures = errors.New("retention sweep aborted after repeated chunk failures")
	// ErrFutureReference rejects a deleting run whose reference time is
	// later than now. It would move the boundary over upcoming reservations.
	ErrFutureReference = errors.New("retention reference time is in the future")
)

// Candidate is one credential selected for deletion.
type Candidate struct {
	CredentialID  uuid.UUID
	ReservationID uuid.UUID
	CustomerID    *uuid.UUID
	ScheduledAt   time.Time
}

// Summary describes the candidate set without touching it.
type Summary struct {
	Credentials  int64
	Reservations int64
	Customers    int64
	Oldest       *time.Time
	Newest       *time.Time
}

// Store selects candidates by the owning reservation's scheduled time, never
// by the credential's creation time.
type Store interface {
	Summarize(ctx context.Context, boundary time.Time) (Summary, error)
	// DeleteChunk deletes at most limit candidates and returns them. Rows
	// locked by other transactions are skipped.
	DeleteChunk(ctx context.Context, boundary time.Time, limit int) ([]Candidate, error)
}

type Report struct {
	ReferenceTime        time.Time  `json:"reference_time"`
	Boundary             time.Time  `json:"boundary"`
	DryRun               bool       `json:"dry_run"`
	Candidates           int64      `json:"candidates"`
	Deleted              int64      `json:"deleted"`
	AffectedReservations int64      `json:"affected_reservations"`
	AffectedCustomers    int64      `json:"affected_customers"`
	OldestScheduled      *time.Time `json:"oldest_scheduled,omitempty"`
	NewestScheduled      *time.Time `json:"newest_scheduled,omitempty"`
	Chunks               int        `json:"chunks"`
	FailedChunks         int        `json:"failed_chunks"`
	Errors               []string   `json:"errors,omitempty"`
}

type Sweeper struct {
	store     Store
	batchSize int
	pub       events.Publisher
	clock     clock.Clock
	log       *zap.Logger
}

func NewSweeper(store Store, batchSize int, pub events.Publisher, clk clock.Clock, log *zap.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, batchSize: batchSize, pub: pub, clock: clk, log: log.Named("retention")}
}

// Sweep removes every credential whose reservation was scheduled before the
// first day of ref's month. With dryRun it reports the same candidate set and
// deletes nothing. A second run in the same period finds nothing. A deleting
// run with ref later than now fails with ErrFutureReference; dry runs may look
// ahead.
func (s *Sweeper) Sweep(ctx context.Context, ref time.Time, dryRun bool) (Report, error) {
	now := s.clock.Now()
	if !dryRun && ref.After(now) {
		return Report{ReferenceTime: ref.UTC()}, fmt.Errorf("%w: %s is after %s",
			ErrFutureReference, ref.UTC().Format(time.RFC3339), now.Format(time.RFC3339))
	}

	boundary := timewindow.RetentionBoundary(ref)
	rep := Report{
		ReferenceTime: ref.UTC(),
		Boundary:      boundary,
		DryRun:        dryRun,
	}

	log := s.log.With(zap.Time("boundary", boundary), zap.Bool("dry_run", dryRun))

	if dryRun {
		sum, err := s.store.Summarize(ctx, boundary)
		if err != nil {
			return rep, fmt.Errorf("summarize candidates: %w", err)
		}
		rep.Candidates = sum.Credentials
		rep.AffectedReservations = sum.Reservations
		rep.AffectedCustomers = sum.Customers
		rep.OldestScheduled = sum.Oldest
		rep.NewestScheduled = sum.Newest
		log.Info("retention dry run", zap.Int64("candidates", rep.Candidates))
		return rep, nil
	}

	reservations := make(map[uuid.UUID]struct{})
	customers := make(map[uuid.UUID]struct{})
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			finish(&rep, reservations, customers)
			log.Warn("retention sweep interrupted", zap.Int64("deleted", rep.Deleted), zap.Error(err))
			return rep, err
		}

		rep.Chunks++
		batch, err := s.store.DeleteChunk(ctx, boundary, s.batchSize)
		if err != nil {
			rep.FailedChunks++
			failures++
			rep.Errors = append(rep.Errors, fmt.Sprintf("chunk %d: %v", rep.Chunks, err))
			log.Error("retention chunk failed", zap.Int("chunk", rep.Chunks), zap.Error(err))
			if failures >= maxConsecutiveFailures {
				finish(&rep, reservations, customers)
				return rep, fmt.Errorf("%w: %v", ErrTooManyFailures, err)
			}
			continue
		}
		failures = 0

		for _, c := range batch {
			rep.Deleted++
			reservations[c.ReservationID] = struct{}{}
			if c.CustomerID != nil {
				customers[*c.CustomerID] = struct{}{}
			}
			at := c.ScheduledAt
			if rep.OldestScheduled == nil || at.Before(*rep.OldestScheduled) {
				rep.OldestScheduled = &at
			}
			if rep.NewestScheduled == nil || at.After(*rep.NewestScheduled) {
				rep.NewestScheduled = &at
			}
		}

		// A short chunk can still leave rows that SKIP LOCKED passed over.
		if len(batch) == 0 {
			break
		}
	}

	finish(&rep, reservations, customers)
	rep.Candidates = rep.Deleted

	log.Info("retention sweep finished",
		zap.Int64("deleted", rep.Deleted),
		zap.Int64("reservations", rep.AffectedReservations),
		zap.Int64("customers", rep.AffectedCustomers),
		zap.Int("chunks", rep.Chunks),
		zap.Int("failed_chunks", rep.FailedChunks),
	)

	if rep.Deleted > 0 {
		ev := events.New(events.CredentialsSwept, nil, map[string]any{
			"boundary":              boundary,
			"deleted":               rep.Deleted,
			"affected_reservations": rep.AffectedReservations,
			"affected_customers":    rep.AffectedCustomers,
		}, s.clock.Now())
		if err := s.pub.Publish(ctx, ev); err != nil {
			log.Warn("publish sweep event failed", zap.Error(err))
		}
	}
	return rep, nil
}

func finish(rep *Report, reservations, customers map[uuid.UUID]struct{}) {
	rep.AffectedReservations = int64(len(reservations))
	rep.AffectedCustomers = int64(len(customers))
}
