package timeutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowIndex(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	idx, err := WindowIndex(start, start, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx, "the start instant is in window zero")

	idx, err = WindowIndex(start.Add(59*time.Minute), start, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx)

	idx, err = WindowIndex(start.Add(time.Hour), start, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx, "window boundaries are half-open")

	idx, err = WindowIndex(start.Add(49*time.Hour), start, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx)
}

func TestWindowIndex_Errors(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, err := WindowIndex(start.Add(-time.Second), start, time.Hour)
	assert.True(t, errors.Is(err, ErrBeforeStart))

	_, err = WindowIndex(start, start, 0)
	assert.True(t, errors.Is(err, ErrInvalidWindow))

	_, err = WindowIndex(start, start, -time.Hour)
	assert.True(t, errors.Is(err, ErrInvalidWindow))
}

func TestWindowStart_RoundTrips(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	width := 4 * time.Hour

	ws := WindowStart(start, width, 3)
	assert.Equal(t, start.Add(12*time.Hour), ws)

	idx, err := WindowIndex(ws, start, width)
	require.NoError(t, err)
	assert.Equal(t, int64(3), idx)
}

func TestCeilDays(t *testing.T) {
	assert.Equal(t, 0, CeilDays(0))
	assert.Equal(t, 0, CeilDays(-2.5))
	assert.Equal(t, 1, CeilDays(0.01))
	assert.Equal(t, 3, CeilDays(3.0))
	assert.Equal(t, 4, CeilDays(3.2))
}

func TestCeilToWholeWeeks(t *testing.T) {
	assert.Equal(t, 0, CeilToWholeWeeks(0))
	assert.Equal(t, 7, CeilToWholeWeeks(1))
	assert.Equal(t, 7, CeilToWholeWeeks(7))
	assert.Equal(t, 14, CeilToWholeWeeks(8))
	assert.Equal(t, 98, CeilToWholeWeeks(92))
}

func TestStartOfWeek(t *testing.T) {
	// 2026-03-05 is a Thursday; its week starts Monday 2026-03-02.
	thursday := time.Date(2026, 3, 5, 17, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), StartOfWeek(thursday))

	// Sunday belongs to the week that began the previous Monday.
	sunday := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), StartOfWeek(sunday))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 5, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(a, b), "counts calendar days, not 24h spans")
	assert.Equal(t, 0, DaysBetween(a, a))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "12m", FormatDuration(12*time.Minute))
	assert.Equal(t, "1.5h", FormatDuration(90*time.Minute))
	assert.Equal(t, "2.0d", FormatDuration(48*time.Hour))
	assert.Equal(t, "45s", FormatDuration(-45*time.Second))
}
