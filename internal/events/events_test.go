package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewNormalisesTime(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, loc)
	id := uuid.New()

	ev := New(ReservationConfirmed, &id, map[string]any{"guest_count": 2}, at)

	if ev.OccurredAt.Location() != time.UTC || !ev.OccurredAt.Equal(at) {
		t.Fatalf("OccurredAt = %s, want %s in UTC", ev.OccurredAt, at)
	}
	if ev.ID == uuid.Nil {
		t.Fatal("expected event id")
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	now := time.Now()

	_ = r.Publish(ctx, New(ReservationCreated, nil, nil, now))
	_ = r.Publish(ctx, New(CredentialIssued, nil, nil, now))

	got := r.Types()
	if len(got) != 2 || got[0] != ReservationCreated || got[1] != CredentialIssued {
		t.Fatalf("Types = %v", got)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(ReservationCancelled); got != "reservation_cancelled" {
		t.Fatalf("RoutingKey = %q", got)
	}
}
