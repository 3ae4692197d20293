package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndEndOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC) // 02:30 on the 11th at UTC+5

	start := StartOfDay(ts, loc)
	assert.Equal(t, 11, start.Day())
	assert.Equal(t, 0, start.Hour())

	end := EndOfDay(ts, loc)
	assert.Equal(t, 11, end.Day())
	assert.Equal(t, 23, end.Hour())

	assert.Equal(t, 10, StartOfDay(ts, nil).Day())
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(a, b, time.UTC))
	assert.Equal(t, -1, DaysBetween(b, a, time.UTC))
	assert.Equal(t, 0, DaysBetween(a, a.Add(30*time.Minute), time.UTC))
	assert.True(t, IsSameDay(a, a.Add(30*time.Minute), time.UTC))
}

func TestDaysBetween_DST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// Clocks go forward on 2025-03-30; that day has 23 hours.
	a := time.Date(2025, 3, 29, 12, 0, 0, 0, loc)
	b := time.Date(2025, 3, 31, 12, 0, 0, 0, loc)
	assert.Equal(t, 2, DaysBetween(a, b, loc))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-12-31", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2024-12-31", FormatDateStr(d, nil))

	_, err = ParseDate("31.12.2024", time.UTC)
	assert.Error(t, err)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Nowhere/Atlantis")
	assert.Error(t, err)
}
