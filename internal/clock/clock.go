package clock

import "time"

// Clock returns the current instant. Every implementation returns UTC.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Used by tests and by operator commands
// that replay a run "as of" a given time.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f).UTC() }
