// Package timewindow holds the pure time math shared by credential issuance,
// scanning and retention. All inputs are normalised to UTC before any
// arithmetic; nothing here looks at local wall-clock fields.
package timewindow

import "time"

const (
	// LeadTime is how long before the scheduled time a credential becomes valid.
	LeadTime = 24 * time.Hour
	// GraceTime is how long after the scheduled time a credential stays valid.
	GraceTime = 12 * time.Hour
)

// Compute returns the validity window of a credential for a reservation
// scheduled at the given instant. A zero instant is a caller bug.
func Compute(scheduled time.Time) (validFrom, expiresAt time.Time) {
	if scheduled.IsZero() {
		panic("timewindow: zero scheduled time")
	}
	t := scheduled.UTC()
	return t.Add(-LeadTime), t.Add(GraceTime)
}

// Contains reports whether now falls inside [validFrom, expiresAt].
func Contains(validFrom, expiresAt, now time.Time) bool {
	n := now.UTC()
	return !n.Before(validFrom.UTC()) && !n.After(expiresAt.UTC())
}

// RetentionBoundary returns the first instant of the calendar month (UTC)
// containing ref. Data scheduled strictly before it belongs to a past period.
func RetentionBoundary(ref time.Time) time.Time {
	if ref.IsZero() {
		panic("timewindow: zero reference time")
	}
	t := ref.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
