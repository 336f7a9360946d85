package tracking

import (
	"fmt"
	"strings"
	"time"
)

// localLayout is the zone-less ISO form emitted by receivers that only know
// local wall-clock time. Such values are interpreted as UTC.
const localLayout = "2006-01-02T15:04:05"

// Canonical normalises t to the single representation used for every
// comparison: UTC, truncated to whole seconds.
func Canonical(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ParseTimestamp parses an external time string in RFC 3339 or zone-less
// ISO form and returns it in canonical form. Anything else fails with
// ErrInvalidTimestampFormat.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidTimestampFormat)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Canonical(t), nil
	}
	if t, err := time.Parse(localLayout, s); err == nil {
		return Canonical(t), nil
	}
	// fractional seconds without a zone, e.g. 2024-05-01T10:00:00.123
	if t, err := time.Parse(localLayout+".999999999", s); err == nil {
		return Canonical(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestampFormat, s)
}
