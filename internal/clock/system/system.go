// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock implements imagery.Clock on top of the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, so date selectors never depend on the
// host time zone.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After waits for d on a fresh timer.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
