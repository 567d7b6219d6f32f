package engine

import "time"

// DefaultAsOf is the reference time used when none is configured.
var DefaultAsOf = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

// Clock supplies the "as of" time contexts are built at.
type Clock interface {
	Now() time.Time
}

// FixedClock always reports the same time.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time { return c.T }

// SystemClock reports wall-clock time in UTC.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
