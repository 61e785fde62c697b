package booking

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotFull      SlotStatus = "full"
	SlotClosed    SlotStatus = "closed"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCheckedIn ReservationStatus = "checked_in"
	StatusCompleted ReservationStatus = "completed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusNoShow    ReservationStatus = "no_show"
)

type CredentialStatus string

const (
	CredentialActive    CredentialStatus = "active"
	CredentialUsed      CredentialStatus = "used"
	CredentialExpired   CredentialStatus = "expired"
	CredentialCancelled CredentialStatus = "cancelled"
)

type Channel string

const (
	ChannelSelfService Channel = "self_service"
	ChannelStaff       Channel = "staff"
)

type Customer struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Slot struct {
	ID            uuid.UUID
	ServiceID     uuid.UUID
	SlotDate      time.Time // venue-local calendar date at midnight UTC
	StartAt       time.Time
	EndAt         time.Time
	Capacity      int
	ReservedCount int
	Status        SlotStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Reservation struct {
	ID          uuid.UUID
	SlotID      uuid.UUID
	CustomerID  *uuid.UUID // nil for walk-ins
	GuestCount  int
	HeldUnits   int // capacity units taken from the slot
	ScheduledAt time.Time
	Status      ReservationStatus
	Channel     Channel
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	CheckedInAt *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

type Credential struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	Token         string
	ValidFrom     time.Time
	ExpiresAt     time.Time
	Status        CredentialStatus
	ScanCount     int
	LastScannedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type ReservationDetail struct {
	Reservation
	Slot       *Slot
	Customer   *Customer
	Credential *Credential
}
