package retention

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Row is a credential joined with the reservation fields the sweep reads.
type Row struct {
	CredentialID  uuid.UUID
	ReservationID uuid.UUID
	CustomerID    *uuid.UUID
	ScheduledAt   time.Time
	CreatedAt     time.Time
}

// MemoryStore is an in-process Store. BeforeChunk, when set, runs before each
// DeleteChunk call with the 1-based call number; a non-nil error fails that
// chunk. Locked rows are passed over by DeleteChunk the way SKIP LOCKED does.
type MemoryStore struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]Row
	locked      map[uuid.UUID]bool
	calls       int
	BeforeChunk func(call int) error
}

func NewMemoryStore(rows ...Row) *MemoryStore {
	m := &MemoryStore{rows: make(map[uuid.UUID]Row), locked: make(map[uuid.UUID]bool)}
	m.Add(rows...)
	return m
}

func (m *MemoryStore) Add(rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.CredentialID] = r
	}
}

// Lock marks credentials as held by another transaction.
func (m *MemoryStore) Lock(credentialIDs ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range credentialIDs {
		m.locked[id] = true
	}
}

func (m *MemoryStore) Unlock(credentialIDs ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range credentialIDs {
		delete(m.locked, id)
	}
}

func (m *MemoryStore) Has(credentialID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[credentialID]
	return ok
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MemoryStore) candidates(boundary time.Time) []Row {
	var out []Row
	for _, r := range m.rows {
		if r.ScheduledAt.Before(boundary) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (m *MemoryStore) Summarize(_ context.Context, boundary time.Time) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum Summary
	reservations := make(map[uuid.UUID]struct{})
	customers := make(map[uuid.UUID]struct{})
	for _, r := range m.candidates(boundary) {
		sum.Credentials++
		reservations[r.ReservationID] = struct{}{}
		if r.CustomerID != nil {
			customers[*r.CustomerID] = struct{}{}
		}
		at := r.ScheduledAt
		if sum.Oldest == nil || at.Before(*sum.Oldest) {
			sum.Oldest = &at
		}
		if sum.Newest == nil || at.After(*sum.Newest) {
			sum.Newest = &at
		}
	}
	sum.Reservations = int64(len(reservations))
	sum.Customers = int64(len(customers))
	return sum, nil
}

func (m *MemoryStore) DeleteChunk(_ context.Context, boundary time.Time, limit int) ([]Candidate, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	hook := m.BeforeChunk
	m.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []Row
	for _, r := range m.candidates(boundary) {
		if len(rows) == limit {
			break
		}
		if !m.locked[r.CredentialID] {
			rows = append(rows, r)
		}
	}
	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		delete(m.rows, r.CredentialID)
		out = append(out, Candidate{
			CredentialID:  r.CredentialID,
			ReservationID: r.ReservationID,
			CustomerID:    r.CustomerID,
			ScheduledAt:   r.ScheduledAt,
		})
	}
	return out, nil
}
