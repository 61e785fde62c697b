package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in maps. Transactions are serialized and
// roll back by restoring a snapshot, which gives the same isolation the
// Postgres row locks provide for the booking paths.
type MemoryRepository struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	customers    map[uuid.UUID]Customer
	slots        map[uuid.UUID]Slot
	reservations map[uuid.UUID]Reservation
	credentials  map[uuid.UUID]Credential
	events       []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers:    make(map[uuid.UUID]Customer),
		slots:        make(map[uuid.UUID]Slot),
		reservations: make(map[uuid.UUID]Reservation),
		credentials:  make(map[uuid.UUID]Credential),
	}
}

type memorySnapshot struct {
	customers    map[uuid.UUID]Customer
	slots        map[uuid.UUID]Slot
	reservations map[uuid.UUID]Reservation
	credentials  map[uuid.UUID]Credential
	events       []EventLog
	nextEventID  int64
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(Store) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	snap := memorySnapshot{
		customers:    cloneMap(r.customers),
		slots:        cloneMap(r.slots),
		reservations: cloneMap(r.reservations),
		credentials:  cloneMap(r.credentials),
		events:       append([]EventLog(nil), r.events...),
		nextEventID:  r.nextEventID,
	}
	r.mu.RUnlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.customers = snap.customers
		r.slots = snap.slots
		r.reservations = snap.reservations
		r.credentials = snap.credentials
		r.events = snap.events
		r.nextEventID = snap.nextEventID
		r.mu.Unlock()
		return err
	}
	return nil
}

// AddCustomer and AddSlot seed fixtures.
func (r *MemoryRepository) AddCustomer(c Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = c
}

func (r *MemoryRepository) AddSlot(s Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Status == "" {
		s.Status = SlotAvailable
	}
	r.slots[s.ID] = s
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// CredentialsFor returns every credential ever issued for a reservation.
func (r *MemoryRepository) CredentialsFor(reservationID uuid.UUID) []Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Credential
	for _, c := range r.credentials {
		if c.ReservationID == reservationID {
			out = append(out, c)
		}
	}
	return out
}

func (r *MemoryRepository) GetCustomerByID(_ context.Context, id uuid.UUID) (*Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *MemoryRepository) UpdateSlotLedger(_ context.Context, slot *Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.slots[slot.ID]
	if !ok {
		return ErrSlotNotFound
	}
	cur.ReservedCount = slot.ReservedCount
	cur.Status = slot.Status
	cur.UpdatedAt = time.Now().UTC()
	r.slots[slot.ID] = cur
	slot.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *MemoryRepository) InsertSlots(_ context.Context, slots []Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := 0
	for _, s := range slots {
		dup := false
		for _, existing := range r.slots {
			if existing.ServiceID == s.ServiceID && existing.StartAt.Equal(s.StartAt) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		now := time.Now().UTC()
		s.CreatedAt, s.UpdatedAt = now, now
		r.slots[s.ID] = s
		created++
	}
	return created, nil
}

func (r *MemoryRepository) GetReservationByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return &res, nil
}

func (r *MemoryRepository) LockReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return r.GetReservationByID(ctx, id)
}

func (r *MemoryRepository) InsertReservation(_ context.Context, res *Reservation) error {
	if err := checkStatus(res.Status); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res.UpdatedAt = res.CreatedAt
	r.reservations[res.ID] = *res
	return nil
}

func (r *MemoryRepository) UpdateReservation(_ context.Context, res *Reservation) error {
	if err := checkStatus(res.Status); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[res.ID]; !ok {
		return ErrReservationNotFound
	}
	res.UpdatedAt = time.Now().UTC()
	r.reservations[res.ID] = *res
	return nil
}

func (r *MemoryRepository) filterReservations(keep func(Reservation) bool, less func(a, b Reservation) bool, limit int) []Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Reservation
	for _, res := range r.reservations {
		if keep(res) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byCreatedAt(a, b Reservation) bool { return a.CreatedAt.Before(b.CreatedAt) }

func (r *MemoryRepository) ListReservationsBySlot(_ context.Context, slotID uuid.UUID) ([]Reservation, error) {
	return r.filterReservations(func(res Reservation) bool {
		return res.SlotID == slotID
	}, byCreatedAt, 0), nil
}

func (r *MemoryRepository) FindStalePending(_ context.Context, createdBefore time.Time, limit int) ([]Reservation, error) {
	return r.filterReservations(func(res Reservation) bool {
		return res.Status == StatusPending && res.CreatedAt.Before(createdBefore)
	}, byCreatedAt, limit), nil
}

func (r *MemoryRepository) FindNoShowCandidates(_ context.Context, now time.Time, limit int) ([]Reservation, error) {
	r.mu.RLock()
	idle := make(map[uuid.UUID]bool)
	for _, c := range r.credentials {
		if c.Status != CredentialCancelled && c.ExpiresAt.Before(now) && c.ScanCount == 0 {
			idle[c.ReservationID] = true
		}
	}
	r.mu.RUnlock()

	return r.filterReservations(func(res Reservation) bool {
		return res.Status == StatusConfirmed && idle[res.ID]
	}, byCreatedAt, limit), nil
}

func (r *MemoryRepository) FindCompletable(_ context.Context, endedBefore time.Time, limit int) ([]Reservation, error) {
	r.mu.RLock()
	ended := make(map[uuid.UUID]bool)
	for _, s := range r.slots {
		if s.EndAt.Before(endedBefore) {
			ended[s.ID] = true
		}
	}
	r.mu.RUnlock()

	return r.filterReservations(func(res Reservation) bool {
		return res.Status == StatusCheckedIn && ended[res.SlotID]
	}, byCreatedAt, limit), nil
}

func (r *MemoryRepository) InsertCredential(_ context.Context, c *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.credentials {
		if existing.ReservationID == c.ReservationID && existing.Status != CredentialCancelled {
			return ErrAlreadyIssued
		}
	}
	c.UpdatedAt = c.CreatedAt
	r.credentials[c.ID] = *c
	return nil
}

func (r *MemoryRepository) GetCredentialByToken(_ context.Context, token string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.credentials {
		if c.Token == token {
			return &c, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (r *MemoryRepository) GetLiveCredential(_ context.Context, reservationID uuid.UUID) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.credentials {
		if c.ReservationID == reservationID && c.Status != CredentialCancelled {
			return &c, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (r *MemoryRepository) GetLatestCredential(_ context.Context, reservationID uuid.UUID) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Credential
	for _, c := range r.credentials {
		if c.ReservationID != reservationID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			c := c
			latest = &c
		}
	}
	if latest == nil {
		return nil, ErrCredentialNotFound
	}
	return latest, nil
}

func (r *MemoryRepository) SetCredentialStatus(_ context.Context, id uuid.UUID, status CredentialStatus, from ...CredentialStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = status
			c.UpdatedAt = time.Now().UTC()
			r.credentials[id] = c
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) RecordScan(_ context.Context, id uuid.UUID, now time.Time) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[id]
	if !ok || c.Status != CredentialActive || now.Before(c.ValidFrom) || now.After(c.ExpiresAt) {
		return nil, nil
	}
	c.ScanCount++
	scannedAt := now
	c.LastScannedAt = &scannedAt
	c.UpdatedAt = time.Now().UTC()
	r.credentials[id] = c
	return &c, nil
}

func (r *MemoryRepository) ExpireCredentials(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.credentials {
		if c.Status == CredentialActive && c.ExpiresAt.Before(now) {
			c.Status = CredentialExpired
			c.UpdatedAt = time.Now().UTC()
			r.credentials[id] = c
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEventID++
	ev.ID = r.nextEventID
	r.events = append(r.events, ev)
	return nil
}
