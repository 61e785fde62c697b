package booking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestTryReserveFillsSlot(t *testing.T) {
	s := Slot{Capacity: 4, Status: SlotAvailable}

	if err := s.TryReserve(2); err != nil {
		t.Fatalf("TryReserve(2): %v", err)
	}
	if s.Status != SlotAvailable || s.ReservedCount != 2 {
		t.Fatalf("after 2: %+v", s)
	}
	if err := s.TryReserve(2); err != nil {
		t.Fatalf("TryReserve(2): %v", err)
	}
	if s.Status != SlotFull || s.ReservedCount != 4 {
		t.Fatalf("after 4: %+v", s)
	}
	if err := s.TryReserve(1); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("TryReserve on full slot = %v, want ErrCapacityExceeded", err)
	}
	if s.ReservedCount != 4 {
		t.Fatalf("rejected reserve changed count to %d", s.ReservedCount)
	}
}

func TestTryReserveRejectsPartialFit(t *testing.T) {
	s := Slot{Capacity: 4, ReservedCount: 3, Status: SlotAvailable}

	if err := s.TryReserve(2); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}
	if s.ReservedCount != 3 {
		t.Fatalf("ReservedCount = %d, want 3", s.ReservedCount)
	}
}

func TestTryReserveClosedSlot(t *testing.T) {
	s := Slot{Capacity: 4, Status: SlotClosed}

	if err := s.TryReserve(1); !errors.Is(err, ErrSlotClosed) {
		t.Fatalf("got %v, want ErrSlotClosed", err)
	}
}

func TestTryReserveRejectsNonPositiveUnits(t *testing.T) {
	s := Slot{Capacity: 4, Status: SlotAvailable}
	if err := s.TryReserve(0); err == nil {
		t.Fatal("expected error for zero units")
	}
}

func TestReleaseClampsAndDemotes(t *testing.T) {
	s := Slot{Capacity: 2, ReservedCount: 2, Status: SlotFull}

	s.Release(1)
	if s.Status != SlotAvailable || s.ReservedCount != 1 {
		t.Fatalf("after release: %+v", s)
	}
	s.Release(5)
	if s.ReservedCount != 0 {
		t.Fatalf("ReservedCount = %d, want clamp at 0", s.ReservedCount)
	}
}

func TestCloseReopenKeepsCounts(t *testing.T) {
	s := Slot{Capacity: 2, ReservedCount: 2, Status: SlotFull}

	s.Close()
	s.Release(1)
	if s.Status != SlotClosed {
		t.Fatalf("release must not reopen a closed slot, got %s", s.Status)
	}
	s.Reopen()
	if s.Status != SlotAvailable || s.ReservedCount != 1 {
		t.Fatalf("after reopen: %+v", s)
	}

	s.TryReserve(1)
	s.Close()
	s.Reopen()
	if s.Status != SlotFull {
		t.Fatalf("reopened full slot status = %s, want full", s.Status)
	}
}

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to ReservationStatus }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusCheckedIn},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusNoShow},
		{StatusCheckedIn, StatusCompleted},
	}
	for _, tc := range allowed {
		if err := checkTransition(tc.from, tc.to); err != nil {
			t.Errorf("%s -> %s: %v", tc.from, tc.to, err)
		}
	}

	denied := []struct{ from, to ReservationStatus }{
		{StatusPending, StatusCheckedIn},
		{StatusCheckedIn, StatusCancelled},
		{StatusConfirmed, StatusCompleted},
		{StatusCancelled, StatusCancelled},
		{StatusCancelled, StatusConfirmed},
		{StatusCompleted, StatusCheckedIn},
		{StatusNoShow, StatusCheckedIn},
	}
	for _, tc := range denied {
		if err := checkTransition(tc.from, tc.to); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: got %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
	}

	for _, s := range []ReservationStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("terminal %s has outgoing transitions", s)
		}
	}
}

func TestTerminalStatusErrorNamesFinalState(t *testing.T) {
	err := checkTransition(StatusNoShow, StatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) || !strings.Contains(err.Error(), "is final") {
		t.Fatalf("got %v", err)
	}
}

func TestMemoryRepositoryRejectsUnknownStatus(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	r := &Reservation{ID: uuid.New(), SlotID: uuid.New(), GuestCount: 1, HeldUnits: 1, Status: "archived"}

	if err := repo.InsertReservation(ctx, r); err == nil {
		t.Fatal("inserted a reservation with an unknown status")
	}

	r.Status = StatusPending
	if err := repo.InsertReservation(ctx, r); err != nil {
		t.Fatalf("InsertReservation: %v", err)
	}
	r.Status = "lost"
	if err := repo.UpdateReservation(ctx, r); err == nil {
		t.Fatal("updated a reservation to an unknown status")
	}
	if !StatusCheckedIn.Valid() || ReservationStatus("").Valid() {
		t.Fatal("Valid disagrees with the known statuses")
	}
}
