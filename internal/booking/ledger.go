package booking

import "fmt"

// TryReserve takes units of capacity from the slot. The caller must hold the
// slot's row lock for the whole read-modify-write.
func (s *Slot) TryReserve(units int) error {
	if units <= 0 {
		return fmt.Errorf("reserve %d units: must be positive", units)
	}
	if s.Status == SlotClosed {
		return ErrSlotClosed
	}
	if s.ReservedCount+units > s.Capacity {
		return ErrCapacityExceeded
	}
	s.ReservedCount += units
	s.syncStatus()
	return nil
}

// Release returns units of capacity, clamping at zero. It is only called from
// the single pending/confirmed -> cancelled transition of a reservation.
func (s *Slot) Release(units int) {
	if units <= 0 {
		return
	}
	s.ReservedCount -= units
	if s.ReservedCount < 0 {
		s.ReservedCount = 0
	}
	s.syncStatus()
}

// Close stops further bookings. Existing reservations keep their capacity.
func (s *Slot) Close() {
	s.Status = SlotClosed
}

// Reopen makes a closed slot bookable again.
func (s *Slot) Reopen() {
	if s.Status != SlotClosed {
		return
	}
	s.Status = SlotAvailable
	s.syncStatus()
}

func (s *Slot) Remaining() int {
	if r := s.Capacity - s.ReservedCount; r > 0 {
		return r
	}
	return 0
}

func (s *Slot) syncStatus() {
	if s.Status == SlotClosed {
		return
	}
	if s.ReservedCount >= s.Capacity {
		s.Status = SlotFull
	} else {
		s.Status = SlotAvailable
	}
}
