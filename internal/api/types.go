package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/venue-reservations/internal/booking"
)

type CreateReservationRequest struct {
	SlotID     string  `json:"slot_id"`
	GuestCount int     `json:"guest_count"`
	CustomerID *string `json:"customer_id,omitempty"`
	Channel    string  `json:"channel,omitempty"`
	Hold       bool    `json:"hold,omitempty"`
}

type ScanRequest struct {
	Token string `json:"token"`
}

type GenerateSlotsRequest struct {
	ServiceID     string   `json:"service_id"`
	TimeZone      string   `json:"timezone"`
	From          string   `json:"from"` // YYYY-MM-DD
	To            string   `json:"to"`
	Weekdays      []string `json:"weekdays,omitempty"` // mon..sun
	StartTimes    []string `json:"start_times"`        // HH:MM local
	LengthMinutes int      `json:"length_minutes"`
	Capacity      int      `json:"capacity"`
}

type ReservationResponse struct {
	ID          uuid.UUID  `json:"id"`
	SlotID      uuid.UUID  `json:"slot_id"`
	CustomerID  *uuid.UUID `json:"customer_id,omitempty"`
	GuestCount  int        `json:"guest_count"`
	HeldUnits   int        `json:"held_units"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	Channel     string     `json:"channel"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type CredentialResponse struct {
	ID            uuid.UUID  `json:"id"`
	ReservationID uuid.UUID  `json:"reservation_id"`
	Token         string     `json:"token"`
	ValidFrom     time.Time  `json:"valid_from"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Status        string     `json:"status"`
	ScanCount     int        `json:"scan_count"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
}

type SlotResponse struct {
	ID            uuid.UUID `json:"id"`
	ServiceID     uuid.UUID `json:"service_id"`
	SlotDate      string    `json:"slot_date"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	Capacity      int       `json:"capacity"`
	ReservedCount int       `json:"reserved_count"`
	Remaining     int       `json:"remaining"`
	Status        string    `json:"status"`
}

type CustomerResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
	Phone *string   `json:"phone,omitempty"`
}

// BookingResponse is returned by create and confirm.
type BookingResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Credential  *CredentialResponse `json:"credential,omitempty"`
}

type ReservationDetailResponse struct {
	ReservationResponse
	Slot       *SlotResponse       `json:"slot,omitempty"`
	Customer   *CustomerResponse   `json:"customer,omitempty"`
	Credential *CredentialResponse `json:"credential,omitempty"`
}

// ScanResponse omits the token so scanner logs never hold it.
type ScanResponse struct {
	Outcome       string     `json:"outcome"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	GuestCount    int        `json:"guest_count,omitempty"`
	ScanCount     int        `json:"scan_count"`
	OverCapacity  bool       `json:"over_capacity"`
	CheckedIn     bool       `json:"checked_in"`
	ValidFrom     *time.Time `json:"valid_from,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type GenerateSlotsResponse struct {
	Created int `json:"created"`
	Total   int `json:"total"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toReservationResponse(r *booking.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:          r.ID,
		SlotID:      r.SlotID,
		CustomerID:  r.CustomerID,
		GuestCount:  r.GuestCount,
		HeldUnits:   r.HeldUnits,
		ScheduledAt: r.ScheduledAt,
		Status:      string(r.Status),
		Channel:     string(r.Channel),
		CreatedAt:   r.CreatedAt,
		ConfirmedAt: r.ConfirmedAt,
		CheckedInAt: r.CheckedInAt,
		CancelledAt: r.CancelledAt,
		CompletedAt: r.CompletedAt,
	}
}

func toCredentialResponse(c *booking.Credential) *CredentialResponse {
	if c == nil {
		return nil
	}
	return &CredentialResponse{
		ID:            c.ID,
		ReservationID: c.ReservationID,
		Token:         c.Token,
		ValidFrom:     c.ValidFrom,
		ExpiresAt:     c.ExpiresAt,
		Status:        string(c.Status),
		ScanCount:     c.ScanCount,
		LastScannedAt: c.LastScannedAt,
	}
}

func toSlotResponse(s *booking.Slot) *SlotResponse {
	if s == nil {
		return nil
	}
	return &SlotResponse{
		ID:            s.ID,
		ServiceID:     s.ServiceID,
		SlotDate:      s.SlotDate.Format(time.DateOnly),
		StartAt:       s.StartAt,
		EndAt:         s.EndAt,
		Capacity:      s.Capacity,
		ReservedCount: s.ReservedCount,
		Remaining:     s.Remaining(),
		Status:        string(s.Status),
	}
}

func toCustomerResponse(c *booking.Customer) *CustomerResponse {
	if c == nil {
		return nil
	}
	return &CustomerResponse{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone}
}

func toScanResponse(res *booking.ScanResult) ScanResponse {
	out := ScanResponse{
		Outcome:      string(res.Outcome),
		GuestCount:   res.GuestCount,
		ScanCount:    res.ScanCount,
		OverCapacity: res.OverCapacity,
		CheckedIn:    res.CheckedIn,
	}
	if res.Credential != nil {
		id := res.ReservationID
		out.ReservationID = &id
		from, until := res.Credential.ValidFrom, res.Credential.ExpiresAt
		out.ValidFrom = &from
		out.ExpiresAt = &until
	}
	return out
}
