package evalctx

import (
	"errors"
	"strings"
	"time"
)

// FallbackHoursUntil is substituted for hours_until when the appointment start time
// cannot be parsed. Contexts built this way have HoursApproximated set.
const FallbackHoursUntil = 24.0

// DisplayTimeLayout formats appointment_time for templates, e.g. "Sep 12, 09:30 AM".
const DisplayTimeLayout = "Jan 02, 03:04 PM"

// UnknownDisplayTime is rendered for appointment_time when the start time is unparsable.
const UnknownDisplayTime = "your appointment time"

// ErrBadTimestamp is returned by ParseTimestamp for input in none of the accepted layouts.
var ErrBadTimestamp = errors.New("unrecognized timestamp")

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without an offset are read
// in loc; a nil loc means UTC.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrBadTimestamp
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrBadTimestamp
}

// HoursBetween returns the hours from asOf until start, floored at zero.
func HoursBetween(start, asOf time.Time) float64 {
	h := start.Sub(asOf).Hours()
	if h < 0 {
		return 0
	}
	return h
}
