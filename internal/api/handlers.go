package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/booking"
	"github.com/hackgods/venue-reservations/internal/clock"
	redisclient "github.com/hackgods/venue-reservations/internal/redis"
	"github.com/hackgods/venue-reservations/internal/retention"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func parseID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		var customerID *uuid.UUID
		if req.CustomerID != nil && *req.CustomerID != "" {
			id, err := uuid.Parse(*req.CustomerID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
				return
			}
			customerID = &id
		}

		res, cred, err := svc.CreateReservation(r.Context(), booking.CreateReservationRequest{
			SlotID:     slotID,
			CustomerID: customerID,
			GuestCount: req.GuestCount,
			Channel:    booking.Channel(req.Channel),
			Hold:       req.Hold,
		})
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			Reservation: toReservationResponse(res),
			Credential:  toCredentialResponse(cred),
		})
	}
}

func getReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_reservation_id")
		if !ok {
			return
		}

		d, err := svc.GetReservation(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ReservationDetailResponse{
			ReservationResponse: toReservationResponse(&d.Reservation),
			Slot:                toSlotResponse(d.Slot),
			Customer:            toCustomerResponse(d.Customer),
			Credential:          toCredentialResponse(d.Credential),
		})
	}
}

func confirmReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_reservation_id")
		if !ok {
			return
		}

		res, cred, err := svc.ConfirmReservation(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, BookingResponse{
			Reservation: toReservationResponse(res),
			Credential:  toCredentialResponse(cred),
		})
	}
}

// transitionHandler serves the single-step staff transitions that return the
// updated reservation.
func transitionHandler(fn func(ctx context.Context, id uuid.UUID) (*booking.Reservation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_reservation_id")
		if !ok {
			return
		}

		res, err := fn(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func getCredentialHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_reservation_id")
		if !ok {
			return
		}

		c, err := svc.GetCredential(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCredentialResponse(c))
	}
}

func decodeScan(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return "", false
	}
	return strings.TrimSpace(req.Token), true
}

func scanHandler(svc *booking.Service, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := decodeScan(w, r)
		if !ok {
			return
		}

		res, err := svc.Scan(r.Context(), tok, clk.Now())
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toScanResponse(res))
	}
}

func validateScanHandler(svc *booking.Service, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := decodeScan(w, r)
		if !ok {
			return
		}

		outcome, c, err := svc.ValidateScan(r.Context(), tok, clk.Now())
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		res := &booking.ScanResult{Outcome: outcome, Credential: c}
		if c != nil {
			res.ReservationID = c.ReservationID
			res.ScanCount = c.ScanCount
		}
		writeJSON(w, http.StatusOK, toScanResponse(res))
	}
}

func getSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		s, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(s))
	}
}

func listSlotReservationsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		list, err := svc.ListSlotReservations(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		out := make([]ReservationResponse, 0, len(list))
		for i := range list {
			out = append(out, toReservationResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func slotStatusHandler(fn func(ctx context.Context, id uuid.UUID) (*booking.Slot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		s, err := fn(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(s))
	}
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseSlotTemplate turns the wire form of a template into a booking one. It
// is shared with the CLI.
func ParseSlotTemplate(req GenerateSlotsRequest) (booking.SlotTemplate, error) {
	var tmpl booking.SlotTemplate

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		return tmpl, fmt.Errorf("%w: service_id must be a valid UUID", booking.ErrInvalidTemplate)
	}
	tz := req.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return tmpl, fmt.Errorf("%w: unknown timezone %q", booking.ErrInvalidTemplate, tz)
	}
	from, err := time.Parse(time.DateOnly, req.From)
	if err != nil {
		return tmpl, fmt.Errorf("%w: from must be YYYY-MM-DD", booking.ErrInvalidTemplate)
	}
	to, err := time.Parse(time.DateOnly, req.To)
	if err != nil {
		return tmpl, fmt.Errorf("%w: to must be YYYY-MM-DD", booking.ErrInvalidTemplate)
	}

	var days []time.Weekday
	for _, d := range req.Weekdays {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdayNames[key]
		if !ok {
			return tmpl, fmt.Errorf("%w: unknown weekday %q", booking.ErrInvalidTemplate, d)
		}
		days = append(days, wd)
	}

	var starts []time.Duration
	for _, s := range req.StartTimes {
		hm, err := time.Parse("15:04", s)
		if err != nil {
			return tmpl, fmt.Errorf("%w: start time %q must be HH:MM", booking.ErrInvalidTemplate, s)
		}
		starts = append(starts, time.Duration(hm.Hour())*time.Hour+time.Duration(hm.Minute())*time.Minute)
	}

	return booking.SlotTemplate{
		ServiceID:  serviceID,
		Location:   loc,
		From:       from,
		To:         to,
		Weekdays:   days,
		StartTimes: starts,
		Length:     time.Duration(req.LengthMinutes) * time.Minute,
		Capacity:   req.Capacity,
	}, nil
}

func generateSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tmpl, err := ParseSlotTemplate(req)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		created, total, err := svc.GenerateSlots(r.Context(), tmpl)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, GenerateSlotsResponse{Created: created, Total: total})
	}
}

func sweepHandler(sw *retention.Sweeper, locker redisclient.JobLocker, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		dryRun := false
		if v := q.Get("dry_run"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dry_run", "dry_run must be a boolean")
				return
			}
			dryRun = b
		}

		ref := clk.Now()
		if v := q.Get("at"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_at", "at must be an RFC3339 timestamp")
				return
			}
			ref = t
		}

		rep, err := sw.SweepLocked(r.Context(), locker, ref, dryRun)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity_exceeded", err.Error())
	case errors.Is(err, booking.ErrSlotClosed):
		writeError(w, http.StatusConflict, "slot_closed", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrAlreadyIssued):
		writeError(w, http.StatusConflict, "credential_already_issued", err.Error())
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", err.Error())
	case errors.Is(err, booking.ErrNoShowTooEarly):
		writeError(w, http.StatusConflict, "no_show_too_early", err.Error())
	case errors.Is(err, retention.ErrFutureReference):
		writeError(w, http.StatusBadRequest, "future_reference", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "sweep_in_progress", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, booking.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "credential_not_found", err.Error())
	case errors.Is(err, booking.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidGuestCount),
		errors.Is(err, booking.ErrInvalidChannel),
		errors.Is(err, booking.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
