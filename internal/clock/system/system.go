// Package system provides the wall clock and a frozen clock for replays.
package system

import "time"

// Clock implements jobs.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Relative posting dates resolved
// against it are reproducible, which the normalize command and tests rely on.
type Fixed struct {
	at time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) Fixed {
	return Fixed{at: t}
}

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return f.at
}
