package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/events"
)

type ScanOutcome string

const (
	ScanValid       ScanOutcome = "valid"
	ScanNotYetValid ScanOutcome = "not_yet_valid"
	ScanExpired     ScanOutcome = "expired"
	ScanCancelled   ScanOutcome = "cancelled"
	ScanUsed        ScanOutcome = "used"
	ScanUnknown     ScanOutcome = "unknown"
)

type ScanResult struct {
	Outcome       ScanOutcome
	Credential    *Credential
	ReservationID uuid.UUID
	GuestCount    int
	ScanCount     int
	// OverCapacity is set when the credential has been presented more times
	// than the reservation has guests. The scan is still accepted.
	OverCapacity bool
	// CheckedIn is set when this scan moved the reservation to checked_in.
	CheckedIn bool
}

func classify(c *Credential, now time.Time) ScanOutcome {
	switch EffectiveCredentialStatus(c, now) {
	case CredentialCancelled:
		return ScanCancelled
	case CredentialUsed:
		return ScanUsed
	case CredentialExpired:
		return ScanExpired
	}
	if now.Before(c.ValidFrom) {
		return ScanNotYetValid
	}
	return ScanValid
}

// ValidateScan reports what a scan of token at now would yield without
// recording it. Tokens that fail signature checks or match no credential are
// unknown.
func (s *Service) ValidateScan(ctx context.Context, tok string, now time.Time) (ScanOutcome, *Credential, error) {
	reservationID, err := s.signer.Verify(tok)
	if err != nil {
		return ScanUnknown, nil, nil
	}

	c, err := s.repo.GetCredentialByToken(ctx, tok)
	if errors.Is(err, ErrCredentialNotFound) {
		return ScanUnknown, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load credential: %w", err)
	}
	if c.ReservationID != reservationID {
		return ScanUnknown, nil, nil
	}

	c = s.expireCredentialIfDue(ctx, c, now)
	return classify(c, now), c, nil
}

// Scan validates the token and, when valid, counts the scan and checks the
// reservation in. Repeated scans are accepted; OverCapacity flags when the
// count passes the guest count.
func (s *Service) Scan(ctx context.Context, tok string, now time.Time) (*ScanResult, error) {
	outcome, c, err := s.ValidateScan(ctx, tok, now)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Outcome: outcome, Credential: c}
	if c != nil {
		result.ReservationID = c.ReservationID
		result.ScanCount = c.ScanCount
	}
	if outcome != ScanValid {
		s.log.Info("scan rejected", zap.String("outcome", string(outcome)))
		return result, nil
	}

	err = s.inTx(ctx, now, func(u *unitOfWork) error {
		r, err := u.store.LockReservation(ctx, c.ReservationID)
		if err != nil {
			return fmt.Errorf("load reservation: %w", err)
		}

		scanned, err := u.store.RecordScan(ctx, c.ID, now)
		if err != nil {
			return fmt.Errorf("record scan: %w", err)
		}
		if scanned == nil {
			// Cancelled or expired between validation and the write.
			current, err := u.store.GetCredentialByToken(ctx, tok)
			if err != nil {
				return fmt.Errorf("reload credential: %w", err)
			}
			result.Outcome = classify(current, now)
			if result.Outcome == ScanValid {
				result.Outcome = ScanExpired
			}
			result.Credential = current
			result.ScanCount = current.ScanCount
			return nil
		}

		result.Credential = scanned
		result.ScanCount = scanned.ScanCount
		result.GuestCount = r.GuestCount
		result.OverCapacity = scanned.ScanCount > r.GuestCount

		checkedIn, err := s.checkInLocked(ctx, u, r, "scan")
		if err != nil {
			return err
		}
		result.CheckedIn = checkedIn

		return u.record(ctx, events.CredentialScanned, r.ID, map[string]any{
			"credential_id": scanned.ID.String(),
			"scan_count":    scanned.ScanCount,
			"guest_count":   r.GuestCount,
			"over_capacity": result.OverCapacity,
		})
	})
	if err != nil {
		return nil, err
	}

	if result.OverCapacity {
		s.log.Warn("credential scanned more times than guests",
			zap.Stringer("reservation_id", result.ReservationID),
			zap.Int("scan_count", result.ScanCount),
			zap.Int("guest_count", result.GuestCount),
		)
	}
	return result, nil
}
