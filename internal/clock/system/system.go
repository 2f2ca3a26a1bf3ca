// Package system provides the wall clock used by the monitor engine.
package system

import "time"

// Clock reads the system time in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. The monotonic reading is kept, so
// differences between two calls are immune to wall-clock steps.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
