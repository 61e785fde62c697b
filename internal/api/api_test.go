package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/booking"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/events"
	redisclient "github.com/hackgods/venue-reservations/internal/redis"
	"github.com/hackgods/venue-reservations/internal/retention"
	"github.com/hackgods/venue-reservations/internal/token"
)

var start = time.Date(2026, time.June, 12, 19, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testServer struct {
	handler  http.Handler
	repo     *booking.MemoryRepository
	store    *retention.MemoryStore
	clock    *manualClock
	slot     booking.Slot
	customer booking.Customer
}

func newTestServer(t *testing.T, capacity int) *testServer {
	t.Helper()

	signer, err := token.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	repo := booking.NewMemoryRepository()
	customer := booking.Customer{ID: uuid.New(), Name: "Ada Lovelace"}
	repo.AddCustomer(customer)
	slot := booking.Slot{
		ID:        uuid.New(),
		ServiceID: uuid.New(),
		SlotDate:  time.Date(2026, time.June, 12, 0, 0, 0, 0, time.UTC),
		StartAt:   start,
		EndAt:     start.Add(2 * time.Hour),
		Capacity:  capacity,
		Status:    booking.SlotAvailable,
	}
	repo.AddSlot(slot)

	clk := &manualClock{now: start.Add(-72 * time.Hour)}
	cfg := config.Config{
		CapacityMode: config.CapacitySeats,
		NoShowPolicy: config.NoShowManual,
		PendingTTL:   15 * time.Minute,
	}
	svc := booking.NewService(repo, signer, events.NopPublisher{}, clk, zap.NewNop(), cfg)

	store := retention.NewMemoryStore()
	sweeper := retention.NewSweeper(store, 10, nil, clk, zap.NewNop())

	health := NewHealthHandler("test", "v0").
		AddCheck("postgres", true, func(context.Context) error { return nil }).
		AddCheck("redis", false, func(context.Context) error { return errors.New("down") })

	h := NewRouter(RouterConfig{
		Service: svc,
		Sweeper: sweeper,
		Locker:  &redisclient.LocalLocker{},
		Clock:   clk,
		Health:  health,
	})

	return &testServer{handler: h, repo: repo, store: store, clock: clk, slot: slot, customer: customer}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

func (s *testServer) book(t *testing.T, guests int) BookingResponse {
	t.Helper()
	cid := s.customer.ID.String()
	rec := s.do(t, http.MethodPost, "/reservations", CreateReservationRequest{
		SlotID:     s.slot.ID.String(),
		GuestCount: guests,
		CustomerID: &cid,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[BookingResponse](t, rec)
}

func TestBookScanAndCancelOverHTTP(t *testing.T) {
	s := newTestServer(t, 4)

	booked := s.book(t, 2)
	if booked.Reservation.Status != "confirmed" || booked.Credential == nil {
		t.Fatalf("booking = %+v", booked)
	}
	id := booked.Reservation.ID.String()

	rec := s.do(t, http.MethodGet, "/reservations/"+id+"/credential", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("credential status = %d", rec.Code)
	}
	cred := decode[CredentialResponse](t, rec)
	if cred.Token != booked.Credential.Token {
		t.Fatal("credential lookup returned a different token")
	}

	s.clock.Set(start.Add(-time.Hour))
	rec = s.do(t, http.MethodPost, "/scan", ScanRequest{Token: cred.Token})
	scan := decode[ScanResponse](t, rec)
	if scan.Outcome != "valid" || scan.ScanCount != 1 || !scan.CheckedIn {
		t.Fatalf("scan = %+v", scan)
	}

	rec = s.do(t, http.MethodPost, "/reservations/"+id+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel checked-in reservation status = %d, want 409", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/reservations/"+id, nil)
	detail := decode[ReservationDetailResponse](t, rec)
	if detail.Status != "checked_in" || detail.Customer == nil || detail.Customer.Name != "Ada Lovelace" {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Slot == nil || detail.Slot.ReservedCount != 2 || detail.Slot.Remaining != 2 {
		t.Fatalf("slot = %+v", detail.Slot)
	}
}

func TestCapacityExceededReturnsConflict(t *testing.T) {
	s := newTestServer(t, 2)
	s.book(t, 2)

	rec := s.do(t, http.MethodPost, "/reservations", CreateReservationRequest{SlotID: s.slot.ID.String(), GuestCount: 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "capacity_exceeded" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestCancelTwice(t *testing.T) {
	s := newTestServer(t, 4)
	id := s.book(t, 2).Reservation.ID.String()

	if rec := s.do(t, http.MethodPost, "/reservations/"+id+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("first cancel status = %d", rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/reservations/"+id+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/slots/"+s.slot.ID.String(), nil)
	if slot := decode[SlotResponse](t, rec); slot.ReservedCount != 0 {
		t.Fatalf("reserved = %d, want 0", slot.ReservedCount)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	s := newTestServer(t, 4)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad slot id", http.MethodPost, "/reservations", CreateReservationRequest{SlotID: "nope", GuestCount: 1}, http.StatusBadRequest, "invalid_slot_id"},
		{"zero guests", http.MethodPost, "/reservations", CreateReservationRequest{SlotID: s.slot.ID.String()}, http.StatusBadRequest, "invalid_request"},
		{"missing slot", http.MethodPost, "/reservations", CreateReservationRequest{SlotID: uuid.NewString(), GuestCount: 1}, http.StatusNotFound, "slot_not_found"},
		{"missing reservation", http.MethodGet, "/reservations/" + uuid.NewString(), nil, http.StatusNotFound, "reservation_not_found"},
		{"bad reservation id", http.MethodPost, "/reservations/x/confirm", nil, http.StatusBadRequest, "invalid_reservation_id"},
		{"bad sweep flag", http.MethodPost, "/admin/sweep?dry_run=maybe", nil, http.StatusBadRequest, "invalid_dry_run"},
	}
	for _, tc := range cases {
		rec := s.do(t, tc.method, tc.path, tc.body)
		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
			continue
		}
		if got := decode[ErrorResponse](t, rec); got.Error != tc.code {
			t.Errorf("%s: error = %q, want %q", tc.name, got.Error, tc.code)
		}
	}
}

func TestScanUnknownAndExpired(t *testing.T) {
	s := newTestServer(t, 4)
	booked := s.book(t, 1)

	rec := s.do(t, http.MethodPost, "/scan", ScanRequest{Token: "forged"})
	if got := decode[ScanResponse](t, rec); got.Outcome != "unknown" || got.ReservationID != nil {
		t.Fatalf("forged scan = %+v", got)
	}

	s.clock.Set(booked.Credential.ExpiresAt.Add(time.Minute))
	rec = s.do(t, http.MethodPost, "/scan/validate", ScanRequest{Token: booked.Credential.Token})
	if got := decode[ScanResponse](t, rec); got.Outcome != "expired" || got.ScanCount != 0 {
		t.Fatalf("expired validate = %+v", got)
	}
}

func TestHoldConfirmFlow(t *testing.T) {
	s := newTestServer(t, 4)

	rec := s.do(t, http.MethodPost, "/reservations", CreateReservationRequest{SlotID: s.slot.ID.String(), GuestCount: 2, Hold: true})
	held := decode[BookingResponse](t, rec)
	if held.Reservation.Status != "pending" || held.Credential != nil {
		t.Fatalf("hold = %+v", held)
	}

	rec = s.do(t, http.MethodPost, "/reservations/"+held.Reservation.ID.String()+"/confirm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d", rec.Code)
	}
	confirmed := decode[BookingResponse](t, rec)
	if confirmed.Reservation.Status != "confirmed" || confirmed.Credential == nil {
		t.Fatalf("confirmed = %+v", confirmed)
	}
}

func TestGenerateAndCloseSlots(t *testing.T) {
	s := newTestServer(t, 4)

	req := GenerateSlotsRequest{
		ServiceID:     uuid.NewString(),
		TimeZone:      "UTC",
		From:          "2026-07-01",
		To:            "2026-07-03",
		Weekdays:      []string{"wed", "Friday"},
		StartTimes:    []string{"18:00", "20:30"},
		LengthMinutes: 90,
		Capacity:      12,
	}
	rec := s.do(t, http.MethodPost, "/slots/generate", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := decode[GenerateSlotsResponse](t, rec); got.Created != 4 || got.Total != 4 {
		t.Fatalf("generate = %+v", got)
	}

	req.StartTimes = []string{"25:99"}
	if rec := s.do(t, http.MethodPost, "/slots/generate", req); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad start time status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/slots/"+s.slot.ID.String()+"/close", nil)
	if got := decode[SlotResponse](t, rec); got.Status != "closed" {
		t.Fatalf("closed slot = %+v", got)
	}
	rec = s.do(t, http.MethodPost, "/reservations", CreateReservationRequest{SlotID: s.slot.ID.String(), GuestCount: 1})
	if got := decode[ErrorResponse](t, rec); got.Error != "slot_closed" {
		t.Fatalf("booking closed slot error = %q", got.Error)
	}
}

func TestSweepEndpoint(t *testing.T) {
	s := newTestServer(t, 4)
	s.store.Add(
		retention.Row{CredentialID: uuid.New(), ReservationID: uuid.New(), ScheduledAt: time.Date(2026, time.March, 2, 19, 0, 0, 0, time.UTC)},
		retention.Row{CredentialID: uuid.New(), ReservationID: uuid.New(), ScheduledAt: time.Date(2026, time.April, 2, 19, 0, 0, 0, time.UTC)},
	)

	rec := s.do(t, http.MethodPost, "/admin/sweep?dry_run=true&at=2026-04-05T10:00:00Z", nil)
	dry := decode[retention.Report](t, rec)
	if !dry.DryRun || dry.Candidates != 1 || s.store.Len() != 2 {
		t.Fatalf("dry run = %+v, rows = %d", dry, s.store.Len())
	}

	rec = s.do(t, http.MethodPost, "/admin/sweep?at=2026-04-05T10:00:00Z", nil)
	live := decode[retention.Report](t, rec)
	if live.Deleted != 1 || s.store.Len() != 1 {
		t.Fatalf("sweep = %+v, rows = %d", live, s.store.Len())
	}
}

func TestSweepRejectsFutureReference(t *testing.T) {
	s := newTestServer(t, 4)
	upcoming := retention.Row{CredentialID: uuid.New(), ReservationID: uuid.New(), ScheduledAt: time.Date(2026, time.July, 20, 19, 0, 0, 0, time.UTC)}
	s.store.Add(upcoming)

	rec := s.do(t, http.MethodPost, "/admin/sweep?at=2027-01-05T00:00:00Z", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "future_reference" {
		t.Fatalf("error = %q", got.Error)
	}
	if !s.store.Has(upcoming.CredentialID) {
		t.Fatal("credential of an upcoming reservation was deleted")
	}

	rec = s.do(t, http.MethodPost, "/admin/sweep?dry_run=true&at=2027-01-05T00:00:00Z", nil)
	if dry := decode[retention.Report](t, rec); dry.Candidates != 1 {
		t.Fatalf("dry run ahead = %+v", dry)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 4)

	if rec := s.do(t, http.MethodGet, "/health/live", nil); rec.Code != http.StatusOK {
		t.Fatalf("live status = %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	got := decode[ReadinessResponse](t, rec)
	if got.Status != "degraded" || got.Dependencies["redis"] != "down" || got.Dependencies["postgres"] != "ok" {
		t.Fatalf("ready = %+v", got)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, 4)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}
