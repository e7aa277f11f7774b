package generic

import (
	"fmt"
	"strings"
)

// =============================================================================
// PERIOD - The window a goal accrues in
// =============================================================================

// Period is an inclusive window of calendar days: [Start, End].
//
// Tasks carry one window for their whole life. Habits carry a sequence of
// windows (one per HabitProgress), generated from a cadence.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the day is within the period [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return InWindow(t, p.Start, p.End)
}

// InWindow reports whether date falls within [start, end], inclusive on both
// ends. A zero-length window (start == end) matches only that day.
func InWindow(date, start, end TimePoint) bool {
	return date.AfterOrEqual(start) && date.BeforeOrEqual(end)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// ValidateTaskWindow enforces start < end for task windows.
func ValidateTaskWindow(p Period) error {
	if !p.Start.Before(p.End) {
		return Validation(fmt.Sprintf("start date %s must be before end date %s", p.Start, p.End), ErrInvalidPeriod)
	}
	return nil
}

// =============================================================================
// CADENCE - How a habit's windows repeat
// =============================================================================

type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
)

// ParseCadence accepts DAILY, WEEKLY or MONTHLY in any letter case.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(strings.ToUpper(strings.TrimSpace(s))); c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return c, nil
	default:
		return "", Validation(fmt.Sprintf("unknown period %q (want DAILY, WEEKLY or MONTHLY)", s), nil)
	}
}

// PeriodEnd returns start advanced by n units of the cadence. Month
// arithmetic is calendar correct (see TimePoint.AddMonths).
//
// The result is the exclusive bound of the window: it is also the first day
// of the following window.
func PeriodEnd(c Cadence, n int, start TimePoint) TimePoint {
	if n < 1 {
		n = 1
	}
	switch c {
	case CadenceWeekly:
		return start.AddWeeks(n)
	case CadenceMonthly:
		return start.AddMonths(n)
	default:
		return start.AddDays(n)
	}
}

// HabitWindow returns the inclusive window beginning at start:
// [start, PeriodEnd(start) - 1 day].
func HabitWindow(c Cadence, n int, start TimePoint) Period {
	return Period{Start: start, End: PeriodEnd(c, n, start).AddDays(-1)}
}

// NextHabitWindow returns the window following p for the given cadence.
// Windows are contiguous: the next one starts the day after p ends.
func NextHabitWindow(c Cadence, n int, p Period) Period {
	return HabitWindow(c, n, p.End.AddDays(1))
}

// HabitWindowFor returns the window of the sequence starting at anchor that
// contains date. Dates before anchor return the first window.
//
// Daily and weekly windows have a fixed length and are found directly.
// Monthly windows are walked, since clamping to a month end shifts every
// later start.
func HabitWindowFor(c Cadence, n int, anchor, date TimePoint) Period {
	if n < 1 {
		n = 1
	}
	if !date.After(anchor) {
		return HabitWindow(c, n, anchor)
	}

	switch c {
	case CadenceMonthly:
		w := HabitWindow(c, n, anchor)
		for w.End.Before(date) {
			w = NextHabitWindow(c, n, w)
		}
		return w
	case CadenceWeekly:
		n *= 7
	}
	skipped := DaysBetween(anchor, date) / n
	return HabitWindow(CadenceDaily, n, anchor.AddDays(skipped*n))
}
