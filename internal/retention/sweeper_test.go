package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/venue-reservations/internal/clock"
	"github.com/hackgods/venue-reservations/internal/events"
)

// ref is the 5th of the month; the boundary is the 1st.
var ref = time.Date(2026, time.May, 5, 9, 30, 0, 0, time.UTC)

func row(scheduled, created time.Time, customer *uuid.UUID) Row {
	return Row{
		CredentialID:  uuid.New(),
		ReservationID: uuid.New(),
		CustomerID:    customer,
		ScheduledAt:   scheduled,
		CreatedAt:     created,
	}
}

func seed() (*MemoryStore, []Row, []Row) {
	alice, bob := uuid.New(), uuid.New()
	longAgo := time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)

	old := []Row{
		row(time.Date(2026, time.April, 30, 23, 59, 59, 0, time.UTC), longAgo, &alice),
		row(time.Date(2026, time.April, 1, 18, 0, 0, 0, time.UTC), longAgo, &alice),
		row(time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC), longAgo, &bob),
		row(time.Date(2026, time.February, 14, 20, 0, 0, 0, time.UTC), longAgo, nil),
	}
	kept := []Row{
		// Exactly on the boundary.
		row(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC), longAgo, &bob),
		// Earlier this month.
		row(time.Date(2026, time.May, 3, 19, 0, 0, 0, time.UTC), longAgo, &alice),
		// Scheduled far ahead, created long ago.
		row(time.Date(2026, time.December, 24, 19, 0, 0, 0, time.UTC), longAgo, &bob),
	}

	store := NewMemoryStore(append(append([]Row(nil), old...), kept...)...)
	return store, old, kept
}

func TestSweepDeletesOnlyPastReservations(t *testing.T) {
	store, old, kept := seed()
	rec := &events.Recorder{}
	sw := NewSweeper(store, 2, rec, clock.Fixed(ref), zap.NewNop())

	rep, err := sw.Sweep(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !rep.Boundary.Equal(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("boundary = %s", rep.Boundary)
	}
	if rep.Deleted != int64(len(old)) {
		t.Fatalf("deleted = %d, want %d", rep.Deleted, len(old))
	}
	if rep.AffectedReservations != 4 || rep.AffectedCustomers != 2 {
		t.Fatalf("affected = %d reservations / %d customers", rep.AffectedReservations, rep.AffectedCustomers)
	}
	if rep.Chunks != 3 {
		t.Fatalf("chunks = %d, want 3", rep.Chunks)
	}

	for _, r := range old {
		if store.Has(r.CredentialID) {
			t.Errorf("credential for %s survived", r.ScheduledAt)
		}
	}
	for _, r := range kept {
		if !store.Has(r.CredentialID) {
			t.Errorf("credential for %s was deleted", r.ScheduledAt)
		}
	}

	if got := rec.Types(); len(got) != 1 || got[0] != events.CredentialsSwept {
		t.Fatalf("events = %v", got)
	}

	again, err := sw.Sweep(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.Deleted != 0 {
		t.Fatalf("second sweep deleted %d", again.Deleted)
	}
	if store.Len() != len(kept) {
		t.Fatalf("store has %d rows, want %d", store.Len(), len(kept))
	}
}

func TestDryRunMatchesRealRun(t *testing.T) {
	store, _, _ := seed()
	sw := NewSweeper(store, 3, nil, clock.Fixed(ref), zap.NewNop())
	before := store.Len()

	dry, err := sw.Sweep(context.Background(), ref, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if store.Len() != before {
		t.Fatalf("dry run mutated the store: %d -> %d", before, store.Len())
	}
	if dry.Deleted != 0 || !dry.DryRun {
		t.Fatalf("dry report = %+v", dry)
	}

	live, err := sw.Sweep(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("real run: %v", err)
	}

	if dry.Candidates != live.Deleted {
		t.Errorf("dry candidates %d != deleted %d", dry.Candidates, live.Deleted)
	}
	if dry.AffectedReservations != live.AffectedReservations || dry.AffectedCustomers != live.AffectedCustomers {
		t.Errorf("dry affected %d/%d != real %d/%d",
			dry.AffectedReservations, dry.AffectedCustomers, live.AffectedReservations, live.AffectedCustomers)
	}
	if !dry.OldestScheduled.Equal(*live.OldestScheduled) || !dry.NewestScheduled.Equal(*live.NewestScheduled) {
		t.Errorf("date range differs: dry [%s, %s] real [%s, %s]",
			dry.OldestScheduled, dry.NewestScheduled, live.OldestScheduled, live.NewestScheduled)
	}
}

func TestChunkFailureIsLoggedAndRetried(t *testing.T) {
	store, old, _ := seed()
	store.BeforeChunk = func(call int) error {
		if call == 2 {
			return errors.New("deadlock detected")
		}
		return nil
	}

	core, logs := observer.New(zap.ErrorLevel)
	sw := NewSweeper(store, 2, nil, clock.Fixed(ref), zap.New(core))

	rep, err := sw.Sweep(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.FailedChunks != 1 || len(rep.Errors) != 1 {
		t.Fatalf("failed chunks = %d, errors = %v", rep.FailedChunks, rep.Errors)
	}
	if rep.Deleted != int64(len(old)) {
		t.Fatalf("deleted = %d, want %d", rep.Deleted, len(old))
	}

	entries := logs.FilterMessage("retention chunk failed").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d chunk failures, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["chunk"]; got != int64(2) {
		t.Errorf("chunk field = %v, want 2", got)
	}
}

func TestSweepStopsAfterConsecutiveFailures(t *testing.T) {
	store, _, _ := seed()
	store.BeforeChunk = func(int) error { return errors.New("connection refused") }
	sw := NewSweeper(store, 2, nil, clock.Fixed(ref), zap.NewNop())

	rep, err := sw.Sweep(context.Background(), ref, false)
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("got %v, want ErrTooManyFailures", err)
	}
	if rep.FailedChunks != maxConsecutiveFailures {
		t.Fatalf("failed chunks = %d", rep.FailedChunks)
	}
	if rep.Deleted != 0 {
		t.Fatalf("deleted = %d", rep.Deleted)
	}
}

func TestSweepStopsBetweenChunksOnCancel(t *testing.T) {
	store, _, _ := seed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.BeforeChunk = func(call int) error {
		if call == 1 {
			defer cancel()
		}
		return nil
	}
	sw := NewSweeper(store, 2, nil, clock.Fixed(ref), zap.NewNop())

	rep, err := sw.Sweep(ctx, ref, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if rep.Deleted != 2 {
		t.Fatalf("deleted = %d, want the first chunk only", rep.Deleted)
	}
}

func TestSweepEventUsesInjectedClock(t *testing.T) {
	store, _, _ := seed()
	rec := &events.Recorder{}
	sw := NewSweeper(store, 10, rec, clock.Fixed(ref), zap.NewNop())

	if _, err := sw.Sweep(context.Background(), ref, false); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	evs := rec.Events()
	if len(evs) != 1 || !evs[0].OccurredAt.Equal(ref) {
		t.Fatalf("events = %+v, want one stamped %s", evs, ref)
	}
}

func TestFutureReferenceRefusedForRealRun(t *testing.T) {
	store, _, kept := seed()
	now := time.Date(2026, time.June, 9, 12, 0, 0, 0, time.UTC)
	sw := NewSweeper(store, 10, nil, clock.Fixed(now), zap.NewNop())
	future := time.Date(2027, time.January, 5, 0, 0, 0, 0, time.UTC)

	if _, err := sw.Sweep(context.Background(), future, false); !errors.Is(err, ErrFutureReference) {
		t.Fatalf("got %v, want ErrFutureReference", err)
	}
	for _, r := range kept {
		if !store.Has(r.CredentialID) {
			t.Fatalf("credential for %s deleted by a refused sweep", r.ScheduledAt)
		}
	}

	dry, err := sw.Sweep(context.Background(), future, true)
	if err != nil {
		t.Fatalf("dry run ahead: %v", err)
	}
	if dry.Candidates != int64(store.Len()) {
		t.Fatalf("dry candidates = %d, want %d", dry.Candidates, store.Len())
	}

	if _, err := sw.SweepLocked(context.Background(), nil, future, false); !errors.Is(err, ErrFutureReference) {
		t.Fatalf("SweepLocked: got %v, want ErrFutureReference", err)
	}
}

func TestShortChunkDoesNotEndSweep(t *testing.T) {
	store, old, _ := seed()
	// Two candidates are held by another transaction for the first chunk.
	held := []uuid.UUID{old[0].CredentialID, old[1].CredentialID}
	store.Lock(held...)
	store.BeforeChunk = func(call int) error {
		if call == 2 {
			store.Unlock(held...)
		}
		return nil
	}
	sw := NewSweeper(store, 3, nil, clock.Fixed(ref), zap.NewNop())

	rep, err := sw.Sweep(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Deleted != int64(len(old)) {
		t.Fatalf("deleted = %d, want %d", rep.Deleted, len(old))
	}
	for _, r := range old {
		if store.Has(r.CredentialID) {
			t.Errorf("credential for %s survived", r.ScheduledAt)
		}
	}
}
