package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	for _, s := range []string{
		"2025-06-01T10:30:00Z",
		"2025-06-01T12:30:00+02:00",
		"2025-06-01T10:30:00",
		"2025-06-01T10:30:00.000",
		"2025-06-01 10:30:00",
	} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	_, err := ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestFormatWireTime(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2025, 6, 1, 15, 30, 0, 0, ist)
	assert.Equal(t, "2025-06-01T10:00:00.000Z", FormatWireTime(ts))
}

func TestHistoricalRangeInverted(t *testing.T) {
	a := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	b := a.Add(time.Hour)
	assert.False(t, HistoricalRange{Start: a, End: b}.Inverted())
	assert.False(t, HistoricalRange{Start: a, End: a}.Inverted())
	assert.True(t, HistoricalRange{Start: b, End: a}.Inverted())
}
