package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/clock"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/events"
	"github.com/hackgods/venue-reservations/internal/token"
)

type Service struct {
	repo   Repository
	signer *token.Signer
	pub    events.Publisher
	clock  clock.Clock
	log    *zap.Logger
	cfg    config.Config
}

func NewService(repo Repository, signer *token.Signer, pub events.Publisher, clk clock.Clock, log *zap.Logger, cfg config.Config) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		signer: signer,
		pub:    pub,
		clock:  clk,
		log:    log.Named("booking"),
		cfg:    cfg,
	}
}

type CreateReservationRequest struct {
	SlotID     uuid.UUID
	CustomerID *uuid.UUID
	GuestCount int
	Channel    Channel
	// Hold starts the reservation as pending. Capacity is taken either way.
	Hold bool
}

// unitOfWork carries the transaction's store and the events written to the
// log so they can be published once the transaction commits.
type unitOfWork struct {
	store   Store
	at      time.Time
	pending []events.Event
}

func (u *unitOfWork) record(ctx context.Context, eventType string, reservationID uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	id := reservationID
	err = u.store.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		ReservationID: &id,
		Payload:       data,
		CreatedAt:     u.at,
	})
	if err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}

	u.pending = append(u.pending, events.New(eventType, &id, payload, u.at))
	return nil
}

func (s *Service) inTx(ctx context.Context, at time.Time, fn func(u *unitOfWork) error) error {
	var uow *unitOfWork
	err := s.repo.WithTx(ctx, func(st Store) error {
		uow = &unitOfWork{store: st, at: at}
		return fn(uow)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, uow.pending)
	return nil
}

func (s *Service) publish(ctx context.Context, evs []events.Event) {
	for _, ev := range evs {
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.log.Warn("publish event failed",
				zap.String("event_type", ev.Type),
				zap.Stringer("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) units(guestCount int) int {
	if s.cfg.CapacityMode == config.CapacityTables {
		return 1
	}
	return guestCount
}

func (s *Service) holdExpired(r *Reservation, now time.Time) bool {
	return s.cfg.PendingTTL > 0 && r.CreatedAt.Add(s.cfg.PendingTTL).Before(now)
}

// CreateReservation takes capacity from the slot and stores the reservation in
// one transaction. Unless the request asks for a hold, the reservation is
// confirmed straight away and its credential is returned.
func (s *Service) CreateReservation(ctx context.Context, req CreateReservationRequest) (*Reservation, *Credential, error) {
	if req.GuestCount <= 0 {
		return nil, nil, ErrInvalidGuestCount
	}
	if req.Channel == "" {
		req.Channel = ChannelSelfService
	}
	if req.Channel != ChannelSelfService && req.Channel != ChannelStaff {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}

	if req.CustomerID != nil {
		if _, err := s.repo.GetCustomerByID(ctx, *req.CustomerID); err != nil {
			if errors.Is(err, ErrCustomerNotFound) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("load customer: %w", err)
		}
	}

	now := s.clock.Now()
	var (
		created *Reservation
		issued  *Credential
	)

	err := s.inTx(ctx, now, func(u *unitOfWork) error {
		slot, err := u.store.LockSlot(ctx, req.SlotID)
		if err != nil {
			return err
		}
		if !now.Before(slot.EndAt) {
			return fmt.Errorf("%w: slot ended at %s", ErrSlotClosed, slot.EndAt.Format(time.RFC3339))
		}

		units := s.units(req.GuestCount)
		if err := slot.TryReserve(units); err != nil {
			return err
		}
		if err := u.store.UpdateSlotLedger(ctx, slot); err != nil {
			return fmt.Errorf("update slot ledger: %w", err)
		}

		r := &Reservation{
			ID:          uuid.New(),
			SlotID:      slot.ID,
			CustomerID:  req.CustomerID,
			GuestCount:  req.GuestCount,
			HeldUnits:   units,
			ScheduledAt: slot.StartAt.UTC(),
			Status:      StatusPending,
			Channel:     req.Channel,
			CreatedAt:   now,
		}
		if !req.Hold {
			at := now
			r.Status = StatusConfirmed
			r.ConfirmedAt = &at
		}
		if err := u.store.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		payload := map[string]any{
			"slot_id":      slot.ID.String(),
			"guest_count":  r.GuestCount,
			"held_units":   units,
			"scheduled_at": r.ScheduledAt,
			"status":       r.Status,
			"channel":      r.Channel,
		}
		if r.CustomerID != nil {
			payload["customer_id"] = r.CustomerID.String()
		}
		if err := u.record(ctx, events.ReservationCreated, r.ID, payload); err != nil {
			return err
		}

		if r.Status == StatusConfirmed {
			if err := u.record(ctx, events.ReservationConfirmed, r.ID, map[string]any{"source": "booking"}); err != nil {
				return err
			}
			c, err := s.issueCredential(ctx, u, r)
			if err != nil {
				return err
			}
			issued = c
		}

		created = r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("reservation created",
		zap.Stringer("reservation_id", created.ID),
		zap.Stringer("slot_id", created.SlotID),
		zap.Int("guest_count", created.GuestCount),
		zap.String("status", string(created.Status)),
	)
	return created, issued, nil
}

// ConfirmReservation confirms a pending hold and issues its credential. A hold
// older than the pending TTL is cancelled instead and ErrHoldExpired returned.
func (s *Service) ConfirmReservation(ctx context.Context, id uuid.UUID) (*Reservation, *Credential, error) {
	now := s.clock.Now()
	var (
		res     *Reservation
		issued  *Credential
		expired bool
	)

	err := s.inTx(ctx, now, func(u *unitOfWork) error {
		r, err := u.store.LockReservation(ctx, id)
		if err != nil {
			return err
		}

		if r.Status == StatusPending && s.holdExpired(r, now) {
			expired = true
			return s.cancelLocked(ctx, u, r, "hold_expired")
		}
		if err := checkTransition(r.Status, StatusConfirmed); err != nil {
			return err
		}

		at := now
		r.Status = StatusConfirmed
		r.ConfirmedAt = &at
		if err := u.store.UpdateReservation(ctx, r); err != nil {
			return fmt.Errorf("confirm reservation: %w", err)
		}
		if err := u.record(ctx, events.ReservationConfirmed, r.ID, map[string]any{"source": "confirm"}); err != nil {
			return err
		}

		c, err := s.issueCredential(ctx, u, r)
		if err != nil {
			return err
		}
		res, issued = r, c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if expired {
		s.log.Info("hold expired on confirm", zap.Stringer("reservation_id", id))
		return nil, nil, ErrHoldExpired
	}
	return res, issued, nil
}

// CancelReservation releases the reservation's capacity and cancels its
// credential. Cancelling twice returns ErrInvalidTransition and releases
// nothing the second time.
func (s *Service) CancelReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	now := s.clock.Now()
	var res *Reservation

	err := s.inTx(ctx, now, func(u *unitOfWork) error {
		r, err := u.store.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := s.cancelLocked(ctx, u, r, "requested"); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reservation cancelled", zap.Stringer("reservation_id", id))
	return res, nil
}

// cancelLocked expects r to be row-locked by the caller's transaction.
func (s *Service) cancelLocked(ctx context.Context, u *unitOfWork, r *Reservation, reason string) error {
	if err := checkTransition(r.Status, StatusCancelled); err != nil {
		return err
	}

	slot, err := u.store.LockSlot(ctx, r.SlotID)
	if err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}
	slot.Release(r.HeldUnits)
	if err := u.store.UpdateSlotLedger(ctx, slot); err != nil {
		return fmt.Errorf("update slot ledger: %w", err)
	}

	at := u.at
	r.Status = StatusCancelled
	r.CancelledAt = &at
	if err := u.store.UpdateReservation(ctx, r); err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}

	if err := s.closeCredential(ctx, u, r.ID, CredentialCancelled, CredentialActive, CredentialExpired, CredentialUsed); err != nil {
		return err
	}

	return u.record(ctx, events.ReservationCancelled, r.ID, map[string]any{
		"slot_id":        r.SlotID.String(),
		"released_units": r.HeldUnits,
		"reason":         reason,
	})
}

// CheckIn marks a confirmed reservation as arrived without a scan. Checking in
// twice is a no-op.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	now := s.clock.Now()
	var res *Reservation

	err := s.inTx(ctx, now, func(u *unitOfWork) error {
		r, err := u.store.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.checkInLocked(ctx, u, r, "manual"); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// checkInLocked reports whether the reservation moved to checked_in.
func (s *Service) checkInLocked(ctx context.Context, u *unitOfWork, r *Reservation, source string) (bool, error) {
	if r.Status == StatusCheckedIn {
		return false, nil
	}
	if err := checkTransition(r.Status, StatusCheckedIn); err != nil {
		return false, err
	}

	at := u.at
	r.Status = StatusCheckedIn
	r.CheckedInAt = &at
	if err := u.store.UpdateReservation(ctx, r); err != nil {
		return false, fmt.Errorf("check in reservation: %w", err)
	}
	return true, u.record(ctx, events.ReservationCheckedIn, r.ID, map[string]any{"source": source})
}

// Complete closes out a checked-in reservation and marks its credential used.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	now := s.clock.Now()
	var res *Reservation

	err := s.inTx(ctx, now, func(u *unitOfWork) error {
		r, err := u.store.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := s.completeLocked(ctx, u, r, "manual"); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) completeLocked(ctx context.Context, u *unitOfWork, r *Reservation, source string) error {
	if err := checkTransition(r.Status, StatusCompleted); err != nil {
		return err
	}

	at := u.at
	r.Status = StatusCompleted
	r.CompletedAt = &at
	if err := u.store.UpdateReservation(ctx, r); err != nil {
		return fmt.Errorf("complete reservation: %w", err)
	}
	if err := s.closeCredential(ctx, u, r.ID, CredentialUsed, CredentialActive, CredentialExpired); err != nil {
		return err
	}
	return u.record(ctx, events.ReservationCompleted, r.ID, map[string]any{"source": source})
}

// MarkNoShow records that the guest never arrived. It is refused before the
// reservation's scheduled time. The credential is expired if its window has
// closed and cancelled otherwise.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	now := s.clock.Now()
	var res *Reservation

	err := s.inTx(ctx, now, func(u *unitOfWork) error {
		r, err := u.store.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := s.noShowLocked(ctx, u, r, "manual"); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) noShowLocked(ctx context.Context, u *unitOfWork, r *Reservation, source string) error {
	if err := checkTransition(r.Status, StatusNoShow); err != nil {
		return err
	}
	if u.at.Before(r.ScheduledAt) {
		return ErrNoShowTooEarly
	}

	r.Status = StatusNoShow
	if err := u.store.UpdateReservation(ctx, r); err != nil {
		return fmt.Errorf("mark no-show: %w", err)
	}
	// Expired only once the window has closed; an early no-show cancels the
	// credential so it cannot be scanned for the rest of the window.
	closeAs := CredentialCancelled
	if c, err := u.store.GetLiveCredential(ctx, r.ID); err == nil && u.at.After(c.ExpiresAt) {
		closeAs = CredentialExpired
	}
	if err := s.closeCredential(ctx, u, r.ID, closeAs, CredentialActive); err != nil {
		return err
	}
	return u.record(ctx, events.ReservationNoShow, r.ID, map[string]any{"source": source})
}

// closeCredential moves the reservation's live credential, if any, to status.
func (s *Service) closeCredential(ctx context.Context, u *unitOfWork, reservationID uuid.UUID, status CredentialStatus, from ...CredentialStatus) error {
	c, err := u.store.GetLiveCredential(ctx, reservationID)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if _, err := u.store.SetCredentialStatus(ctx, c.ID, status, from...); err != nil {
		return fmt.Errorf("set credential %s: %w", status, err)
	}
	return nil
}

// GetReservation returns the reservation with its slot, customer and live
// credential.
func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*ReservationDetail, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &ReservationDetail{Reservation: *r}

	slot, err := s.repo.GetSlotByID(ctx, r.SlotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	detail.Slot = slot

	if r.CustomerID != nil {
		cust, err := s.repo.GetCustomerByID(ctx, *r.CustomerID)
		if err != nil && !errors.Is(err, ErrCustomerNotFound) {
			return nil, fmt.Errorf("load customer: %w", err)
		}
		detail.Customer = cust
	}

	cred, err := s.GetCredential(ctx, r.ID)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		return nil, err
	}
	detail.Credential = cred

	return detail, nil
}

func (s *Service) ListSlotReservations(ctx context.Context, slotID uuid.UUID) ([]Reservation, error) {
	if _, err := s.repo.GetSlotByID(ctx, slotID); err != nil {
		return nil, err
	}
	return s.repo.ListReservationsBySlot(ctx, slotID)
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetSlotByID(ctx, id)
}

func (s *Service) CloseSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.changeSlot(ctx, id, (*Slot).Close)
}

func (s *Service) ReopenSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.changeSlot(ctx, id, (*Slot).Reopen)
}

func (s *Service) changeSlot(ctx context.Context, id uuid.UUID, apply func(*Slot)) (*Slot, error) {
	var out *Slot
	err := s.repo.WithTx(ctx, func(st Store) error {
		slot, err := st.LockSlot(ctx, id)
		if err != nil {
			return err
		}
		apply(slot)
		if err := st.UpdateSlotLedger(ctx, slot); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}
		out = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("slot status changed", zap.Stringer("slot_id", id), zap.String("status", string(out.Status)))
	return out, nil
}
