package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CustomerDirectory resolves customers by id.
type CustomerDirectory interface {
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error)
}

// Store is the set of reads and writes the booking service needs. Lock*
// methods take a row lock that lasts until the surrounding transaction ends;
// outside WithTx they behave like plain reads.
type Store interface {
	CustomerDirectory

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	UpdateSlotLedger(ctx context.Context, slot *Slot) error
	// InsertSlots skips slots that already exist for the same service and
	// start time and returns how many rows were created.
	InsertSlots(ctx context.Context, slots []Slot) (int, error)

	GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	LockReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	UpdateReservation(ctx context.Context, r *Reservation) error
	ListReservationsBySlot(ctx context.Context, slotID uuid.UUID) ([]Reservation, error)
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Reservation, error)
	// FindNoShowCandidates returns confirmed reservations whose credential
	// expired before now without a single scan.
	FindNoShowCandidates(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	// FindCompletable returns checked-in reservations whose slot ended before
	// endedBefore.
	FindCompletable(ctx context.Context, endedBefore time.Time, limit int) ([]Reservation, error)

	// InsertCredential returns ErrAlreadyIssued when the reservation already
	// has a credential that is not cancelled.
	InsertCredential(ctx context.Context, c *Credential) error
	GetCredentialByToken(ctx context.Context, token string) (*Credential, error)
	// GetLiveCredential returns the reservation's credential that is not
	// cancelled.
	GetLiveCredential(ctx context.Context, reservationID uuid.UUID) (*Credential, error)
	// GetLatestCredential returns the reservation's most recently issued
	// credential in any status.
	GetLatestCredential(ctx context.Context, reservationID uuid.UUID) (*Credential, error)
	// SetCredentialStatus moves a credential to status when its current status
	// is one of from. It reports whether a row changed.
	SetCredentialStatus(ctx context.Context, id uuid.UUID, status CredentialStatus, from ...CredentialStatus) (bool, error)
	// RecordScan increments scan_count when the credential is active and now is
	// inside its window. A nil credential means nothing was recorded.
	RecordScan(ctx context.Context, id uuid.UUID, now time.Time) (*Credential, error)
	// ExpireCredentials marks active credentials whose window closed before now.
	ExpireCredentials(ctx context.Context, now time.Time) (int64, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository is a Store that can run a unit of work atomically.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
