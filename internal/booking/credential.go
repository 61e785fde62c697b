package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/events"
	"github.com/hackgods/venue-reservations/internal/timewindow"
)

// EffectiveCredentialStatus is the status a reader should see at now. An
// active credential whose window has closed reads as expired even before the
// row is updated.
func EffectiveCredentialStatus(c *Credential, now time.Time) CredentialStatus {
	if c.Status == CredentialActive && now.After(c.ExpiresAt) {
		return CredentialExpired
	}
	return c.Status
}

// issueCredential must run inside the transaction that confirmed r.
func (s *Service) issueCredential(ctx context.Context, u *unitOfWork, r *Reservation) (*Credential, error) {
	tok, err := s.signer.Mint(r.ID)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	validFrom, expiresAt := timewindow.Compute(r.ScheduledAt)
	c := &Credential{
		ID:            uuid.New(),
		ReservationID: r.ID,
		Token:         tok,
		ValidFrom:     validFrom,
		ExpiresAt:     expiresAt,
		Status:        CredentialActive,
		CreatedAt:     u.at,
	}
	if err := u.store.InsertCredential(ctx, c); err != nil {
		return nil, err
	}

	err = u.record(ctx, events.CredentialIssued, r.ID, map[string]any{
		"credential_id": c.ID.String(),
		"token":         c.Token,
		"valid_from":    c.ValidFrom,
		"expires_at":    c.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCredential returns the reservation's live credential or, when every
// credential was cancelled, the latest cancelled one.
func (s *Service) GetCredential(ctx context.Context, reservationID uuid.UUID) (*Credential, error) {
	if _, err := s.repo.GetReservationByID(ctx, reservationID); err != nil {
		return nil, err
	}
	c, err := s.repo.GetLiveCredential(ctx, reservationID)
	if errors.Is(err, ErrCredentialNotFound) {
		c, err = s.repo.GetLatestCredential(ctx, reservationID)
	}
	if err != nil {
		return nil, err
	}
	return s.expireCredentialIfDue(ctx, c, s.clock.Now()), nil
}

// expireCredentialIfDue persists the lazy expiry observed at now. A failed
// write is logged and the effective status is still returned.
func (s *Service) expireCredentialIfDue(ctx context.Context, c *Credential, now time.Time) *Credential {
	if EffectiveCredentialStatus(c, now) == c.Status {
		return c
	}

	err := s.repo.WithTx(ctx, func(st Store) error {
		_, err := st.SetCredentialStatus(ctx, c.ID, CredentialExpired, CredentialActive)
		return err
	})
	if err != nil {
		s.log.Warn("persist credential expiry failed", zap.Stringer("credential_id", c.ID), zap.Error(err))
	}

	out := *c
	out.Status = CredentialExpired
	return &out
}
