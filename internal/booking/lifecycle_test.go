package booking

import (
	"context"
	"testing"
	"time"

	"github.com/hackgods/venue-reservations/internal/config"
)

func TestRunLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.NoShowPolicy = config.NoShowAuto
	f := newFixture(t, 10, cfg)
	ctx := context.Background()

	hold, _, err := f.svc.CreateReservation(ctx, CreateReservationRequest{SlotID: f.slot.ID, GuestCount: 2, Hold: true})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	absent, _ := f.book(t, 3)
	arrived, c := f.book(t, 4)
	if _, err := f.svc.Scan(ctx, c.Token, slotStart); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// Past the credential window and the auto-complete delay.
	f.clock.Set(slotStart.Add(13 * time.Hour))

	rep, err := f.svc.RunLifecycle(ctx)
	if err != nil {
		t.Fatalf("RunLifecycle: %v", err)
	}
	if rep.HoldsExpired != 1 || rep.CredentialsExpired != 2 || rep.NoShows != 1 || rep.Completed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Errors) != 0 {
		t.Fatalf("errors = %v", rep.Errors)
	}

	want := map[*Reservation]ReservationStatus{
		hold:    StatusCancelled,
		absent:  StatusNoShow,
		arrived: StatusCompleted,
	}
	for r, status := range want {
		got, _ := f.repo.GetReservationByID(ctx, r.ID)
		if got.Status != status {
			t.Errorf("reservation %s status = %s, want %s", r.ID, got.Status, status)
		}
	}

	if got := f.reserved(t); got != 7 {
		t.Fatalf("reserved = %d, want 7 after releasing the hold", got)
	}

	again, err := f.svc.RunLifecycle(ctx)
	if err != nil {
		t.Fatalf("second RunLifecycle: %v", err)
	}
	if again.HoldsExpired+again.NoShows+again.Completed != 0 || again.CredentialsExpired != 0 {
		t.Fatalf("second pass changed something: %+v", again)
	}
}

func TestManualNoShowPolicySkipsSweep(t *testing.T) {
	f := newFixture(t, 10, testConfig())
	ctx := context.Background()
	r, _ := f.book(t, 2)

	f.clock.Set(slotStart.Add(13 * time.Hour))
	rep, err := f.svc.RunLifecycle(ctx)
	if err != nil {
		t.Fatalf("RunLifecycle: %v", err)
	}
	if rep.NoShows != 0 {
		t.Fatalf("NoShows = %d under manual policy", rep.NoShows)
	}
	got, _ := f.repo.GetReservationByID(ctx, r.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got.Status)
	}
}
