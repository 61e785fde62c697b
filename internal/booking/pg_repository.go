package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation   = "23505"
	liveCredentialIndex = "credentials_live_reservation_idx"
	slotColumns         = `id, service_id, slot_date, start_at, end_at, capacity, reserved_count, status, created_at, updated_at`
	reservationColumns  = `id, slot_id, customer_id, guest_count, held_units, scheduled_at, status, channel, created_at, updated_at, confirmed_at, checked_in_at, cancelled_at, completed_at`
	credentialColumns   = `id, reservation_id, token, valid_from, expires_at, status, scan_count, last_scanned_at, created_at, updated_at`
	reservationColumnsR = `r.id, r.slot_id, r.customer_id, r.guest_count, r.held_units, r.scheduled_at, r.status, r.channel, r.created_at, r.updated_at, r.confirmed_at, r.checked_in_at, r.cancelled_at, r.completed_at`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgStore struct {
	q querier
}

type PgRepository struct {
	pgStore
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgStore: pgStore{q: pool}, pool: pool}
}

// WithTx runs fn inside a single read-committed transaction. Row locks taken
// through the Store handed to fn are released on commit or rollback.
func (r *PgRepository) WithTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{q: tx})
	})
}

// Helpers

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ServiceID,
		&s.SlotDate,
		&s.StartAt,
		&s.EndAt,
		&s.Capacity,
		&s.ReservedCount,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(
		&r.ID,
		&r.SlotID,
		&r.CustomerID,
		&r.GuestCount,
		&r.HeldUnits,
		&r.ScheduledAt,
		&r.Status,
		&r.Channel,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.ConfirmedAt,
		&r.CheckedInAt,
		&r.CancelledAt,
		&r.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if err := checkStatus(r.Status); err != nil {
		return nil, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	return &r, nil
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(
		&c.ID,
		&c.ReservationID,
		&c.Token,
		&c.ValidFrom,
		&c.ExpiresAt,
		&c.Status,
		&c.ScanCount,
		&c.LastScannedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Customers

func (s *pgStore) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id)
	return scanCustomer(row)
}

// Slots

func (s *pgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (s *pgStore) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (s *pgStore) UpdateSlotLedger(ctx context.Context, slot *Slot) error {
	row := s.q.QueryRow(ctx, `
		UPDATE slots
		SET reserved_count = $2,
		    status = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, slot.ID, slot.ReservedCount, slot.Status)
	if err := row.Scan(&slot.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotNotFound
		}
		return err
	}
	return nil
}

func (s *pgStore) InsertSlots(ctx context.Context, slots []Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, sl := range slots {
		batch.Queue(`
			INSERT INTO slots (id, service_id, slot_date, start_at, end_at, capacity, reserved_count, status)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
			ON CONFLICT (service_id, start_at) DO NOTHING
		`, sl.ID, sl.ServiceID, sl.SlotDate, sl.StartAt, sl.EndAt, sl.Capacity, sl.Status)
	}

	br := s.q.SendBatch(ctx, batch)
	defer br.Close()

	created := 0
	for range slots {
		tag, err := br.Exec()
		if err != nil {
			return created, fmt.Errorf("insert slot: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// Reservations

func (s *pgStore) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := s.q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	return scanReservation(row)
}

func (s *pgStore) LockReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := s.q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
	return scanReservation(row)
}

func (s *pgStore) InsertReservation(ctx context.Context, r *Reservation) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO reservations (id, slot_id, customer_id, guest_count, held_units, scheduled_at, status, channel, created_at, updated_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)
		RETURNING created_at, updated_at
	`, r.ID, r.SlotID, r.CustomerID, r.GuestCount, r.HeldUnits, r.ScheduledAt, r.Status, r.Channel, r.CreatedAt, r.ConfirmedAt)
	return row.Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (s *pgStore) UpdateReservation(ctx context.Context, r *Reservation) error {
	row := s.q.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    confirmed_at = $3,
		    checked_in_at = $4,
		    cancelled_at = $5,
		    completed_at = $6,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, r.ID, r.Status, r.ConfirmedAt, r.CheckedInAt, r.CancelledAt, r.CompletedAt)
	if err := row.Scan(&r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReservationNotFound
		}
		return err
	}
	return nil
}

func (s *pgStore) ListReservationsBySlot(ctx context.Context, slotID uuid.UUID) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE slot_id = $1
		ORDER BY created_at
	`, slotID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *pgStore) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = $1
		  AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, StatusPending, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *pgStore) FindNoShowCandidates(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+reservationColumnsR+`
		FROM reservations r
		JOIN credentials c ON c.reservation_id = r.id AND c.status <> 'cancelled'
		WHERE r.status = $1
		  AND c.expires_at < $2
		  AND c.scan_count = 0
		ORDER BY c.expires_at
		LIMIT $3
	`, StatusConfirmed, now, limit)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *pgStore) FindCompletable(ctx context.Context, endedBefore time.Time, limit int) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+reservationColumnsR+`
		FROM reservations r
		JOIN slots s ON s.id = r.slot_id
		WHERE r.status = $1
		  AND s.end_at < $2
		ORDER BY s.end_at
		LIMIT $3
	`, StatusCheckedIn, endedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// Credentials

func (s *pgStore) InsertCredential(ctx context.Context, c *Credential) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO credentials (id, reservation_id, token, valid_from, expires_at, status, scan_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		RETURNING created_at, updated_at
	`, c.ID, c.ReservationID, c.Token, c.ValidFrom, c.ExpiresAt, c.Status, c.CreatedAt)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == liveCredentialIndex {
			return ErrAlreadyIssued
		}
		return err
	}
	return nil
}

func (s *pgStore) GetCredentialByToken(ctx context.Context, token string) (*Credential, error) {
	row := s.q.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE token = $1`, token)
	return scanCredential(row)
}

func (s *pgStore) GetLiveCredential(ctx context.Context, reservationID uuid.UUID) (*Credential, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE reservation_id = $1
		  AND status <> 'cancelled'
	`, reservationID)
	return scanCredential(row)
}

func (s *pgStore) GetLatestCredential(ctx context.Context, reservationID uuid.UUID) (*Credential, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE reservation_id = $1
		ORDER BY created_at DESC, id
		LIMIT 1
	`, reservationID)
	return scanCredential(row)
}

func (s *pgStore) SetCredentialStatus(ctx context.Context, id uuid.UUID, status CredentialStatus, from ...CredentialStatus) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, f := range from {
		allowed = append(allowed, string(f))
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE credentials
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($3)
	`, id, status, allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) RecordScan(ctx context.Context, id uuid.UUID, now time.Time) (*Credential, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE credentials
		SET scan_count = scan_count + 1,
		    last_scanned_at = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'active'
		  AND $2 BETWEEN valid_from AND expires_at
		RETURNING `+credentialColumns, id, now)
	c, err := scanCredential(row)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *pgStore) ExpireCredentials(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE credentials
		SET status = 'expired',
		    updated_at = NOW()
		WHERE status = 'active'
		  AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Events

func (s *pgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.ReservationID, ev.Payload, ev.CreatedAt)
	return err
}
