// Package timestamp parses client-reported event times and derives the calendar
// day sessions are correlated on.
package timestamp

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidTimestamp is returned when a value does not start with YYYY-MM-DDTHH:MM:SS.
var ErrInvalidTimestamp = errors.New("invalid timestamp format (expected ISO 8601)")

// prefixPattern matches the mandatory second-precision date-time prefix.
// Anything after it (fraction, Z, offset) is tolerated.
var prefixPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

const prefixLayout = "2006-01-02T15:04:05"

// layouts are tried in order; a value without zone information is read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
}

// Valid reports whether raw carries the second-precision ISO 8601 prefix.
func Valid(raw string) bool {
	return prefixPattern.MatchString(raw)
}

// Parse converts a client timestamp into an instant.
func Parse(raw string) (time.Time, error) {
	if !Valid(raw) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	// Unrecognised suffix: keep the second-precision prefix.
	t, err := time.Parse(prefixLayout, raw[:len(prefixLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	return t, nil
}

// Format renders t the way synthetic events store their client timestamp.
// Fractional seconds are kept so Parse(Format(t)) is the same instant.
func Format(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// Day is a calendar date in YYYY-MM-DD form.
type Day string

// DayOf returns the calendar date of t in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(time.DateOnly))
}

// String implements fmt.Stringer.
func (d Day) String() string {
	return string(d)
}
