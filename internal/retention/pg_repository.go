package retention

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Summarize(ctx context.Context, boundary time.Time) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT c.reservation_id),
		       COUNT(DISTINCT r.customer_id),
		       MIN(r.scheduled_at),
		       MAX(r.scheduled_at)
		FROM credentials c
		JOIN reservations r ON r.id = c.reservation_id
		WHERE r.scheduled_at < $1
	`, boundary).Scan(&sum.Credentials, &sum.Reservations, &sum.Customers, &sum.Oldest, &sum.Newest)
	return sum, err
}

// DeleteChunk runs as one short statement so row locks never outlive a chunk.
func (s *PgStore) DeleteChunk(ctx context.Context, boundary time.Time, limit int) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		WITH doomed AS (
			SELECT c.id
			FROM credentials c
			JOIN reservations r ON r.id = c.reservation_id
			WHERE r.scheduled_at < $1
			ORDER BY r.scheduled_at
			LIMIT $2
			FOR UPDATE OF c SKIP LOCKED
		)
		DELETE FROM credentials c
		USING doomed d, reservations r
		WHERE c.id = d.id
		  AND r.id = c.reservation_id
		RETURNING c.id, c.reservation_id, r.customer_id, r.scheduled_at
	`, boundary, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.CredentialID, &c.ReservationID, &c.CustomerID, &c.ScheduledAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
