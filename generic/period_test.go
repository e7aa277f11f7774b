package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/generic"
)

func day(s string) generic.TimePoint {
	return generic.MustParseDate(s)
}

// =============================================================================
// WINDOW EVALUATOR
// =============================================================================

func TestInWindow_Boundaries(t *testing.T) {
	// GIVEN: Window [2024-01-01, 2024-01-07]
	// WHEN: Testing the boundary days and their neighbours
	// THEN: Both ends match, the days outside do not

	start, end := day("2024-01-01"), day("2024-01-07")

	tests := []struct {
		date string
		want bool
	}{
		{"2023-12-31", false},
		{"2024-01-01", true},
		{"2024-01-04", true},
		{"2024-01-07", true},
		{"2024-01-08", false},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.InWindow(day(tt.date), start, end))
		})
	}
}

func TestInWindow_ZeroLengthWindowMatchesOnlyItsDay(t *testing.T) {
	d := day("2024-03-10")
	p := generic.Period{Start: d, End: d}

	assert.True(t, p.Contains(d))
	assert.False(t, p.Contains(d.AddDays(1)))
	assert.False(t, p.Contains(d.AddDays(-1)))
}

func TestInWindow_IgnoresClock(t *testing.T) {
	// GIVEN: A date carrying a late-evening clock
	// THEN: It still counts as its calendar day

	late, err := generic.ParseDate("2024-01-07")
	require.NoError(t, err)
	late.Time = late.Time.Add(23 * time.Hour)

	assert.True(t, generic.InWindow(late, day("2024-01-01"), day("2024-01-07")))
}

func TestValidateTaskWindow(t *testing.T) {
	assert.NoError(t, generic.ValidateTaskWindow(generic.Period{Start: day("2024-01-01"), End: day("2024-01-02")}))

	err := generic.ValidateTaskWindow(generic.Period{Start: day("2024-01-02"), End: day("2024-01-02")})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))
}

// =============================================================================
// CADENCE MATH
// =============================================================================

func TestPeriodEnd(t *testing.T) {
	tests := []struct {
		name    string
		cadence generic.Cadence
		n       int
		start   string
		want    string
	}{
		{"one day", generic.CadenceDaily, 1, "2024-01-01", "2024-01-02"},
		{"three days across month", generic.CadenceDaily, 3, "2024-01-30", "2024-02-02"},
		{"one week", generic.CadenceWeekly, 1, "2024-01-01", "2024-01-08"},
		{"two weeks", generic.CadenceWeekly, 2, "2024-12-25", "2025-01-08"},
		{"one month", generic.CadenceMonthly, 1, "2024-01-15", "2024-02-15"},
		{"month end clamps in leap year", generic.CadenceMonthly, 1, "2024-01-31", "2024-02-29"},
		{"month end clamps in common year", generic.CadenceMonthly, 1, "2023-01-31", "2023-02-28"},
		{"across year", generic.CadenceMonthly, 2, "2024-11-30", "2025-01-30"},
		{"n below one counts as one", generic.CadenceDaily, 0, "2024-01-01", "2024-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.PeriodEnd(tt.cadence, tt.n, day(tt.start))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestHabitWindow_InclusiveAndContiguous(t *testing.T) {
	// GIVEN: A weekly cadence starting 2024-01-01
	// WHEN: Taking the first window and its successor
	// THEN: [01-01, 01-07] then [01-08, 01-14]

	first := generic.HabitWindow(generic.CadenceWeekly, 1, day("2024-01-01"))
	assert.Equal(t, "[2024-01-01, 2024-01-07]", first.String())
	assert.Equal(t, 6, generic.DaysBetween(first.Start, first.End))

	next := generic.NextHabitWindow(generic.CadenceWeekly, 1, first)
	assert.Equal(t, "[2024-01-08, 2024-01-14]", next.String())
}

func TestHabitWindowFor(t *testing.T) {
	w := generic.HabitWindowFor(generic.CadenceDaily, 3, day("2024-01-01"), day("2024-01-08"))
	assert.Equal(t, "[2024-01-07, 2024-01-09]", w.String())

	before := generic.HabitWindowFor(generic.CadenceDaily, 3, day("2024-01-01"), day("2023-06-01"))
	assert.Equal(t, "[2024-01-01, 2024-01-03]", before.String())

	weekly := generic.HabitWindowFor(generic.CadenceWeekly, 2, day("2024-01-01"), day("2024-01-29"))
	assert.Equal(t, "[2024-01-29, 2024-02-11]", weekly.String())

	monthly := generic.HabitWindowFor(generic.CadenceMonthly, 1, day("2024-01-31"), day("2024-03-15"))
	assert.Equal(t, "[2024-02-29, 2024-03-28]", monthly.String())
}

func TestHabitWindowFor_MatchesSuccession(t *testing.T) {
	// GIVEN: Each cadence anchored far in the past
	// WHEN: Locating the window for a date years later
	// THEN: It is the window reached by stepping NextHabitWindow

	anchor := day("2019-05-31")
	target := day("2024-06-01")
	for _, c := range []generic.Cadence{generic.CadenceDaily, generic.CadenceWeekly, generic.CadenceMonthly} {
		for _, n := range []int{1, 3} {
			w := generic.HabitWindow(c, n, anchor)
			for w.End.Before(target) {
				w = generic.NextHabitWindow(c, n, w)
			}
			got := generic.HabitWindowFor(c, n, anchor, target)
			assert.Equal(t, w.String(), got.String(), "%s x%d", c, n)
			assert.True(t, got.Contains(target))
		}
	}
}

func TestParseCadence(t *testing.T) {
	c, err := generic.ParseCadence(" weekly ")
	require.NoError(t, err)
	assert.Equal(t, generic.CadenceWeekly, c)

	_, err = generic.ParseCadence("yearly")
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))
}
