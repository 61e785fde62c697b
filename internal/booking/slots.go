package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SlotTemplate describes a recurring opening pattern in the venue's local
// time. Dates are calendar days; only their year, month and day are used.
type SlotTemplate struct {
	ServiceID uuid.UUID
	Location  *time.Location
	From      time.Time
	To        time.Time
	Weekdays  []time.Weekday // empty means every day
	// StartTimes are offsets from local midnight, e.g. 18h30m.
	StartTimes []time.Duration
	Length     time.Duration
	Capacity   int
}

func (t SlotTemplate) validate() error {
	switch {
	case t.ServiceID == uuid.Nil:
		return fmt.Errorf("%w: service id is required", ErrInvalidTemplate)
	case t.Location == nil:
		return fmt.Errorf("%w: location is required", ErrInvalidTemplate)
	case t.From.IsZero() || t.To.IsZero() || civilDate(t.To).Before(civilDate(t.From)):
		return fmt.Errorf("%w: date range is empty", ErrInvalidTemplate)
	case len(t.StartTimes) == 0:
		return fmt.Errorf("%w: at least one start time is required", ErrInvalidTemplate)
	case t.Length <= 0:
		return fmt.Errorf("%w: slot length must be positive", ErrInvalidTemplate)
	case t.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidTemplate)
	}
	for _, st := range t.StartTimes {
		if st < 0 || st >= 24*time.Hour {
			return fmt.Errorf("%w: start time %s outside the day", ErrInvalidTemplate, st)
		}
	}
	return nil
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (t SlotTemplate) runsOn(day time.Weekday) bool {
	if len(t.Weekdays) == 0 {
		return true
	}
	for _, w := range t.Weekdays {
		if w == day {
			return true
		}
	}
	return false
}

// BuildSlots expands a template into slots with UTC start and end instants.
// Wall-clock times are resolved in the template's location per day, so a
// daylight saving change moves the UTC instant but not the local time.
func BuildSlots(t SlotTemplate) ([]Slot, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	var out []Slot
	last := civilDate(t.To)
	for day := civilDate(t.From); !day.After(last); day = day.AddDate(0, 0, 1) {
		if !t.runsOn(day.Weekday()) {
			continue
		}
		y, m, d := day.Date()
		for _, st := range t.StartTimes {
			h := int(st / time.Hour)
			mins := int((st % time.Hour) / time.Minute)
			start := time.Date(y, m, d, h, mins, 0, 0, t.Location).UTC()
			out = append(out, Slot{
				ID:        uuid.New(),
				ServiceID: t.ServiceID,
				SlotDate:  day,
				StartAt:   start,
				EndAt:     start.Add(t.Length),
				Capacity:  t.Capacity,
				Status:    SlotAvailable,
			})
		}
	}
	return out, nil
}

// GenerateSlots stores the template's slots, skipping any that already exist
// for the same service and start instant. It returns how many were created
// and how many the template describes.
func (s *Service) GenerateSlots(ctx context.Context, t SlotTemplate) (created, total int, err error) {
	slots, err := BuildSlots(t)
	if err != nil {
		return 0, 0, err
	}

	err = s.repo.WithTx(ctx, func(st Store) error {
		created, err = st.InsertSlots(ctx, slots)
		return err
	})
	if err != nil {
		return 0, len(slots), fmt.Errorf("insert slots: %w", err)
	}

	s.log.Info("slots generated",
		zap.Stringer("service_id", t.ServiceID),
		zap.Int("created", created),
		zap.Int("total", len(slots)),
	)
	return created, len(slots), nil
}
