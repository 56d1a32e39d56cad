package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronSchedule_Fields(t *testing.T) {
	cs, err := ParseCronSchedule("*/15 6 * * 1")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 15, 30, 45}, cs.minutes)
	assert.Equal(t, []int{6}, cs.hours)
	assert.Len(t, cs.days, 31)
	assert.Len(t, cs.months, 12)
	assert.Equal(t, []int{1}, cs.weekdays)
	assert.Equal(t, "*/15 6 * * 1", cs.String())
}

func TestParseCronSchedule_RangesAndLists(t *testing.T) {
	cs, err := ParseCronSchedule("0 9-11 * * 1,3,5")
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10, 11}, cs.hours)
	assert.Equal(t, []int{1, 3, 5}, cs.weekdays)
}

func TestParseCronSchedule_Invalid(t *testing.T) {
	cases := []string{
		"* * * *",     // four fields
		"61 * * * *",  // minute out of range
		"* 25 * * *",  // hour out of range
		"*/0 * * * *", // zero step
		"a * * * *",   // not a number
		"* * * * * *", // six fields
	}
	for _, expr := range cases {
		_, err := ParseCronSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestCronSchedule_Next(t *testing.T) {
	// Every day at 06:00.
	cs := MustParseCronSchedule("0 6 * * *")

	before := time.Date(2026, 3, 4, 5, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC), cs.Next(before))

	after := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC), cs.Next(after),
		"a match at the reference instant schedules the following day")
}

func TestCronSchedule_NextWeekday(t *testing.T) {
	// Monday midnight; 2026-03-04 is a Wednesday.
	cs := MustParseCronSchedule("0 0 * * 1")
	wednesday := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), cs.Next(wednesday))
}

func TestCronSchedule_EveryFiveMinutes(t *testing.T) {
	cs := MustParseCronSchedule("*/5 * * * *")
	at := time.Date(2026, 3, 4, 10, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC), cs.Next(at))
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(15 * time.Minute)
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(15*time.Minute), s.Next(at))
	assert.Equal(t, "@every 15m0s", s.String())
}
