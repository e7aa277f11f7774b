package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/progress-engine/generic"
)

// =============================================================================
// PERIOD GENERATOR - Keeps each habit's progress windows populated
// =============================================================================

// DefaultMaxCatchUpWindows caps how many windows one catch-up may create.
const DefaultMaxCatchUpWindows = 366

// PeriodGenerator cuts HabitProgress windows from a habit's cadence.
//
// Windows are generated at three points: the first one when the habit is
// created, missing ones up to an activity's date during accrual, and the
// current one for every habit on the scheduled rollover.
type PeriodGenerator struct {
	// MaxCatchUp bounds the windows created in one call. A longer backlog
	// skips the elapsed windows and creates only the one containing the date.
	MaxCatchUp int
}

func NewPeriodGenerator() *PeriodGenerator {
	return &PeriodGenerator{MaxCatchUp: DefaultMaxCatchUpWindows}
}

// CatchUp makes sure h has a window containing through, creating every
// missing window after the latest one on the way. It returns the windows it
// created. With no window stored yet, catching up through StartDate creates
// exactly the first one.
//
// Windows left out by a skipped backlog are created on demand: a date
// before the latest window gets its own window if none covers it.
func (g *PeriodGenerator) CatchUp(ctx context.Context, s Store, h Habit, through generic.TimePoint) ([]HabitProgress, error) {
	if through.Before(h.StartDate) {
		return nil, nil
	}

	next := h.WindowAt(h.StartDate)
	latest, err := s.LatestHabitProgress(ctx, h.ID)
	switch {
	case err == nil:
		if through.Before(latest.StartDate) {
			covering := generic.HabitWindowFor(h.Period, h.NumberOfPeriods, h.StartDate, through)
			return g.create(ctx, s, h, []generic.Period{covering})
		}
		next = generic.NextHabitWindow(h.Period, h.NumberOfPeriods, latest.Window())
	case !errors.Is(err, generic.ErrNotFound):
		return nil, fmt.Errorf("latest progress for habit %s: %w", h.ID, err)
	}

	limit := g.MaxCatchUp
	if limit <= 0 {
		limit = DefaultMaxCatchUpWindows
	}

	var windows []generic.Period
	for w := next; w.Start.BeforeOrEqual(through); w = generic.NextHabitWindow(h.Period, h.NumberOfPeriods, w) {
		if len(windows) == limit {
			windows = []generic.Period{generic.HabitWindowFor(h.Period, h.NumberOfPeriods, next.Start, through)}
			break
		}
		windows = append(windows, w)
	}
	return g.create(ctx, s, h, windows)
}

// create inserts the windows in order. A window another transaction
// already inserted is left alone and not reported.
func (g *PeriodGenerator) create(ctx context.Context, s Store, h Habit, windows []generic.Period) ([]HabitProgress, error) {
	var created []HabitProgress
	for _, w := range windows {
		p := newProgress(h, w)
		inserted, err := s.CreateHabitProgress(ctx, &p)
		if err != nil {
			return created, fmt.Errorf("create progress for habit %s: %w", h.ID, err)
		}
		if inserted {
			created = append(created, p)
		}
	}
	return created, nil
}

func newProgress(h Habit, w generic.Period) HabitProgress {
	return HabitProgress{
		ID:           uuid.NewString(),
		HabitID:      h.ID,
		UserID:       h.UserID,
		CategoryID:   h.CategoryID,
		StartDate:    w.Start,
		EndDate:      w.End,
		GoalDuration: h.GoalDuration,
		Completed:    generic.IsComplete(0, h.GoalDuration),
	}
}
