package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/db/dbtest"
	"github.com/hackgods/venue-reservations/internal/events"
	"github.com/hackgods/venue-reservations/internal/token"
)

type pgFixture struct {
	pool     *pgxpool.Pool
	repo     *PgRepository
	svc      *Service
	clock    *testClock
	slot     Slot
	customer uuid.UUID
}

func newPgFixture(t *testing.T, capacity int) *pgFixture {
	t.Helper()
	pool := dbtest.NewPool(t)
	ctx := context.Background()

	signer, err := token.NewSigner(testHashKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	customer := uuid.New()
	if _, err := pool.Exec(ctx, `INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)`,
		customer, gofakeit.Name(), gofakeit.Email()); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	repo := NewPgRepository(pool)
	slot := Slot{
		ID:        uuid.New(),
		ServiceID: uuid.New(),
		SlotDate:  civilDate(slotStart),
		StartAt:   slotStart,
		EndAt:     slotStart.Add(2 * time.Hour),
		Capacity:  capacity,
		Status:    SlotAvailable,
	}
	if n, err := repo.InsertSlots(ctx, []Slot{slot}); err != nil || n != 1 {
		t.Fatalf("InsertSlots = %d, %v", n, err)
	}

	clk := &testClock{now: slotStart.Add(-48 * time.Hour)}
	svc := NewService(repo, signer, &events.Recorder{}, clk, zap.NewNop(), testConfig())
	return &pgFixture{pool: pool, repo: repo, svc: svc, clock: clk, slot: slot, customer: customer}
}

func (f *pgFixture) book(t *testing.T, guests int, hold bool) (*Reservation, *Credential) {
	t.Helper()
	id := f.customer
	r, c, err := f.svc.CreateReservation(context.Background(), CreateReservationRequest{
		SlotID:     f.slot.ID,
		CustomerID: &id,
		GuestCount: guests,
		Hold:       hold,
	})
	if err != nil {
		t.Fatalf("CreateReservation(%d): %v", guests, err)
	}
	return r, c
}

func TestPgConcurrentBookingsRespectCapacity(t *testing.T) {
	f := newPgFixture(t, 10)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.CreateReservation(ctx, CreateReservationRequest{SlotID: f.slot.ID, GuestCount: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 || full != 40 {
		t.Fatalf("ok = %d, full = %d, want 10/40", ok, full)
	}

	s, err := f.repo.GetSlotByID(ctx, f.slot.ID)
	if err != nil {
		t.Fatalf("GetSlotByID: %v", err)
	}
	if s.ReservedCount != 10 || s.Status != SlotFull {
		t.Fatalf("slot = %+v", s)
	}

	var held int
	if err := f.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(held_units), 0)
		FROM reservations
		WHERE slot_id = $1 AND status <> 'cancelled'
	`, f.slot.ID).Scan(&held); err != nil {
		t.Fatalf("sum held units: %v", err)
	}
	if held != s.ReservedCount {
		t.Fatalf("held units = %d, reserved_count = %d", held, s.ReservedCount)
	}
}

func TestPgConcurrentConfirmIssuesOneCredential(t *testing.T) {
	f := newPgFixture(t, 4)
	ctx := context.Background()
	r, _ := f.book(t, 2, true)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.ConfirmReservation(ctx, r.ID)
			if err == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if confirmed != 1 {
		t.Fatalf("confirmed %d times, want 1", confirmed)
	}
	var n int
	if err := f.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials WHERE reservation_id = $1`, r.ID).Scan(&n); err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	if n != 1 {
		t.Fatalf("%d credentials issued, want 1", n)
	}
}

func TestPgSecondLiveCredentialRejected(t *testing.T) {
	f := newPgFixture(t, 4)
	r, c := f.book(t, 1, false)

	err := f.repo.InsertCredential(context.Background(), &Credential{
		ID:            uuid.New(),
		ReservationID: r.ID,
		Token:         "second-" + c.Token,
		ValidFrom:     c.ValidFrom,
		ExpiresAt:     c.ExpiresAt,
		Status:        CredentialActive,
		CreatedAt:     f.clock.Now(),
	})
	if !errors.Is(err, ErrAlreadyIssued) {
		t.Fatalf("got %v, want ErrAlreadyIssued", err)
	}
}

func TestPgRecordScanHonorsWindow(t *testing.T) {
	f := newPgFixture(t, 4)
	ctx := context.Background()
	_, c := f.book(t, 2, false)

	for _, at := range []time.Time{c.ValidFrom.Add(-time.Second), c.ExpiresAt.Add(time.Second)} {
		got, err := f.repo.RecordScan(ctx, c.ID, at)
		if err != nil {
			t.Fatalf("RecordScan(%s): %v", at, err)
		}
		if got != nil {
			t.Fatalf("RecordScan(%s) counted a scan outside the window: %+v", at, got)
		}
	}

	got, err := f.repo.RecordScan(ctx, c.ID, c.ExpiresAt)
	if err != nil || got == nil || got.ScanCount != 1 {
		t.Fatalf("RecordScan at expiry = %+v, %v", got, err)
	}
}

func TestPgScanAfterExpiryRejected(t *testing.T) {
	f := newPgFixture(t, 4)
	ctx := context.Background()
	r, c := f.book(t, 2, false)

	res, err := f.svc.Scan(ctx, c.Token, c.ExpiresAt.Add(time.Second))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Outcome != ScanExpired || res.CheckedIn {
		t.Fatalf("result = %+v", res)
	}

	stored, err := f.repo.GetCredentialByToken(ctx, c.Token)
	if err != nil {
		t.Fatalf("GetCredentialByToken: %v", err)
	}
	if stored.ScanCount != 0 {
		t.Fatalf("scan_count = %d, want 0", stored.ScanCount)
	}
	got, err := f.repo.GetReservationByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReservationByID: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got.Status)
	}
}

func TestPgCancelReleasesCapacity(t *testing.T) {
	f := newPgFixture(t, 4)
	ctx := context.Background()
	r, _ := f.book(t, 3, false)

	if _, err := f.svc.CancelReservation(ctx, r.ID); err != nil {
		t.Fatalf("CancelReservation: %v", err)
	}
	s, err := f.repo.GetSlotByID(ctx, f.slot.ID)
	if err != nil {
		t.Fatalf("GetSlotByID: %v", err)
	}
	if s.ReservedCount != 0 {
		t.Fatalf("reserved_count = %d, want 0", s.ReservedCount)
	}

	c, err := f.svc.GetCredential(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if c.Status != CredentialCancelled {
		t.Fatalf("credential status = %s, want cancelled", c.Status)
	}
}
