package booking

import "fmt"

var transitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

func (s ReservationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func CanTransition(from, to ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition wrapped with both states.
func checkTransition(from, to ReservationStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is final, cannot move to %s", ErrInvalidTransition, from, to)
	}
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// checkStatus rejects a status that is not one of the known values.
func checkStatus(s ReservationStatus) error {
	if !s.Valid() {
		return fmt.Errorf("unknown reservation status %q", s)
	}
	return nil
}
