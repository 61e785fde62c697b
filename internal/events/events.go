// Package events defines the domain events emitted by the reservation core and
// the publishers that hand them to the notification subsystem. The core never
// depends on a message being delivered.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ReservationCreated   = "RESERVATION_CREATED"
	ReservationConfirmed = "RESERVATION_CONFIRMED"
	ReservationCancelled = "RESERVATION_CANCELLED"
	ReservationCheckedIn = "RESERVATION_CHECKED_IN"
	ReservationCompleted = "RESERVATION_COMPLETED"
	ReservationNoShow    = "RESERVATION_NO_SHOW"
	CredentialIssued     = "CREDENTIAL_ISSUED"
	CredentialScanned    = "CREDENTIAL_SCANNED"
	CredentialsSwept     = "CREDENTIALS_SWEPT"
)

// Event is what subscribers receive. Payload keys are snake_case.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	ReservationID *uuid.UUID     `json:"reservation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// New stamps an event with a fresh id and the given time.
func New(eventType string, reservationID *uuid.UUID, payload map[string]any, at time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Type:          eventType,
		ReservationID: reservationID,
		Payload:       payload,
		OccurredAt:    at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every recorded event in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
