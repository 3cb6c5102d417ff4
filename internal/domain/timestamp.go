package domain

import (
	"fmt"
	"time"
)

// WireTimeLayout is how range bounds are written to the tracking backend
const WireTimeLayout = "2006-01-02T15:04:05.000Z"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO date-times; the latter
// are stored in UTC by the backend and read as such.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// FormatWireTime renders t in UTC with millisecond precision
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(WireTimeLayout)
}
