package booking

import "errors"

// Capacity errors are expected and never retried by the service.
var (
	ErrCapacityExceeded = errors.New("slot capacity exceeded")
	ErrSlotClosed       = errors.New("slot is closed")
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyIssued     = errors.New("reservation already has a live credential")
	ErrHoldExpired       = errors.New("reservation hold has expired")
	ErrNoShowTooEarly    = errors.New("reservation has not started yet")
)

var (
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrCredentialNotFound  = errors.New("credential not found")
)

var (
	ErrInvalidGuestCount = errors.New("guest count must be positive")
	ErrInvalidChannel    = errors.New("unknown booking channel")
	ErrInvalidTemplate   = errors.New("invalid slot template")
)
