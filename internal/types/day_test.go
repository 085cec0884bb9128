package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOf_UsesUTCDate(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2026, 3, 14, 23, 30, 0, 0, loc)

	assert.Equal(t, Day("2026-03-15"), DayOf(ts))
}

func TestParseDay_RoundTrip(t *testing.T) {
	d, err := ParseDay("2026-01-02")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02", d.String())
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), d.Time())

	_, err = ParseDay("02.01.2026")
	assert.Error(t, err)
}
