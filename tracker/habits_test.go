package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
	"github.com/warp/progress-engine/tracker/store"
)

func date(s string) generic.TimePoint {
	return generic.MustParseDate(s)
}

func (f *fixture) habit(t *testing.T, period string, n int, start string, goal int) tracker.HabitView {
	t.Helper()
	res := mustOK(t)(f.svc.CreateHabit(f.ctx, f.userID, tracker.HabitInput{
		CategoryID:      f.category.ID,
		Title:           "Read daily",
		Period:          period,
		NumberOfPeriods: n,
		GoalDuration:    goal,
		StartDate:       start,
	}))
	return dataOf[tracker.HabitView](t, res)
}

func seededHabit(t *testing.T, mem *store.TxMemory, h tracker.Habit) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.CreateUser(ctx, &tracker.User{ID: h.UserID, Email: "u@example.com", Name: "U"}))
	require.NoError(t, mem.CreateCategory(ctx, &tracker.Category{ID: h.CategoryID, UserID: h.UserID, Name: "Reading"}))
	require.NoError(t, mem.CreateHabit(ctx, &h))
}

// =============================================================================
// HABIT CREATION
// =============================================================================

func TestCreateHabit_CreatesFirstWindow(t *testing.T) {
	// GIVEN: A weekly habit starting Monday 2024-01-01
	// WHEN: Creating it
	// THEN: Exactly one window [2024-01-01, 2024-01-07] exists

	f := newFixture(t)

	view := f.habit(t, "weekly", 1, "2024-01-01", 120)

	require.Len(t, view.Progress, 1)
	assert.Equal(t, generic.CadenceWeekly, view.Habit.Period)
	assert.Equal(t, "2024-01-01", view.Progress[0].StartDate.String())
	assert.Equal(t, "2024-01-07", view.Progress[0].EndDate.String())
	assert.Equal(t, 120, view.Progress[0].GoalDuration)
	assert.Equal(t, f.category.ID, view.Progress[0].CategoryID)
}

func TestCreateHabit_UnknownPeriod_Validation(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateHabit(f.ctx, f.userID, tracker.HabitInput{
		CategoryID:      f.category.ID,
		Title:           "Read",
		Period:          "FORTNIGHTLY",
		NumberOfPeriods: 1,
		StartDate:       "2024-01-01",
	})
	require.NoError(t, err)
	assert.Equal(t, generic.KindValidation, res.Kind)
}

func TestDeleteHabit_RemovesWindows(t *testing.T) {
	f := newFixture(t)
	view := f.habit(t, "DAILY", 1, "2024-01-01", 10)

	mustOK(t)(f.svc.DeleteHabit(f.ctx, f.userID, view.Habit.ID))

	progress, err := f.mem.ListHabitProgress(f.ctx, view.Habit.ID)
	require.NoError(t, err)
	assert.Empty(t, progress)
}

// =============================================================================
// ACCRUAL INTO HABIT WINDOWS
// =============================================================================

func TestLogActivity_HabitCatchUp_AccruesCurrentWindow(t *testing.T) {
	// GIVEN: A daily habit from 2024-01-01 with goal 30 and only its first window
	// WHEN: Logging 30 minutes on 2024-01-04
	// THEN: Windows for the 2nd..4th are created and only the 4th accrues

	f := newFixture(t)
	view := f.habit(t, "DAILY", 1, "2024-01-01", 30)

	logged := f.log(t, "2024-01-04", 30)

	assert.Equal(t, 3, logged.Accrual.PeriodsCreated)
	require.Len(t, logged.Accrual.Habits, 1)
	assert.Equal(t, "2024-01-04", logged.Accrual.Habits[0].StartDate.String())

	progress, err := f.mem.ListHabitProgress(f.ctx, view.Habit.ID)
	require.NoError(t, err)
	require.Len(t, progress, 4)
	for _, p := range progress[:3] {
		assert.Equal(t, 0, p.CompletedDuration)
		assert.False(t, p.Completed)
	}
	assert.Equal(t, 30, progress[3].CompletedDuration)
	assert.True(t, progress[3].Completed)
}

func TestLogActivity_HabitAndTaskBothAccrue(t *testing.T) {
	// GIVEN: A task and a weekly habit window over the same days
	// WHEN: Logging one activity inside both
	// THEN: Both accrue the full duration

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)
	view := f.habit(t, "WEEKLY", 1, "2024-01-01", 60)

	logged := f.log(t, "2024-01-02", 45)

	assert.Len(t, logged.Accrual.Tasks, 1)
	assert.Len(t, logged.Accrual.Habits, 1)
	assert.Equal(t, 45, f.reload(t, task.ID).CompletedDuration)

	latest, err := f.mem.LatestHabitProgress(f.ctx, view.Habit.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, latest.CompletedDuration)
}

func TestLogActivity_BeforeHabitStart_NoWindow(t *testing.T) {
	f := newFixture(t)
	view := f.habit(t, "DAILY", 1, "2024-01-10", 30)

	logged := f.log(t, "2024-01-05", 30)

	assert.Zero(t, logged.Accrual.PeriodsCreated)
	assert.Empty(t, logged.Accrual.Habits)
	progress, err := f.mem.ListHabitProgress(f.ctx, view.Habit.ID)
	require.NoError(t, err)
	assert.Len(t, progress, 1)
}

// =============================================================================
// GENERATOR
// =============================================================================

func TestCatchUp_WindowsAreContiguous(t *testing.T) {
	// GIVEN: A habit every 2 weeks from 2024-01-01
	// WHEN: Catching up through 2024-03-01
	// THEN: Each window starts the day after the previous one ends

	mem := store.NewTxMemory()
	h := tracker.Habit{
		ID: "habit-1", UserID: "user-1", CategoryID: "cat-1",
		Period: generic.CadenceWeekly, NumberOfPeriods: 2, GoalDuration: 60,
		StartDate: date("2024-01-01"),
	}
	seededHabit(t, mem, h)

	created, err := tracker.NewPeriodGenerator().CatchUp(context.Background(), mem, h, date("2024-03-01"))
	require.NoError(t, err)

	// 01-01, 01-15, 01-29, 02-12, 02-26
	require.Len(t, created, 5)
	assert.Equal(t, "2024-01-14", created[0].EndDate.String())
	for i := 1; i < len(created); i++ {
		assert.True(t, created[i].StartDate.Equal(created[i-1].EndDate.AddDays(1)))
	}
	assert.True(t, created[4].Window().Contains(date("2024-03-01")))
}

func TestCatchUp_Idempotent(t *testing.T) {
	mem := store.NewTxMemory()
	h := tracker.Habit{
		ID: "habit-1", UserID: "user-1", CategoryID: "cat-1",
		Period: generic.CadenceDaily, NumberOfPeriods: 1, StartDate: date("2024-01-01"),
	}
	seededHabit(t, mem, h)
	gen := tracker.NewPeriodGenerator()

	first, err := gen.CatchUp(context.Background(), mem, h, date("2024-01-03"))
	require.NoError(t, err)
	again, err := gen.CatchUp(context.Background(), mem, h, date("2024-01-03"))
	require.NoError(t, err)

	assert.Len(t, first, 3)
	assert.Empty(t, again)
}

func TestCatchUp_BacklogOverCapSkipsToCoveringWindow(t *testing.T) {
	// GIVEN: A daily habit a year behind and a cap of 5
	// WHEN: Catching up through 2024-01-01
	// THEN: The elapsed windows are skipped and only the one for 2024-01-01 is created

	mem := store.NewTxMemory()
	h := tracker.Habit{
		ID: "habit-1", UserID: "user-1", CategoryID: "cat-1",
		Period: generic.CadenceDaily, NumberOfPeriods: 1, StartDate: date("2023-01-01"),
	}
	seededHabit(t, mem, h)
	gen := &tracker.PeriodGenerator{MaxCatchUp: 5}

	created, err := gen.CatchUp(context.Background(), mem, h, date("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "2024-01-01", created[0].StartDate.String())

	// A backlog within the cap is filled window by window
	created, err = gen.CatchUp(context.Background(), mem, h, date("2024-01-04"))
	require.NoError(t, err)
	assert.Len(t, created, 3)
}

func TestCatchUp_FillsSkippedWindowOnDemand(t *testing.T) {
	// GIVEN: A weekly habit whose early windows were skipped
	// WHEN: Catching up through a date inside the skipped range, twice
	// THEN: The covering window is created once, aligned to the habit start

	mem := store.NewTxMemory()
	h := tracker.Habit{
		ID: "habit-1", UserID: "user-1", CategoryID: "cat-1",
		Period: generic.CadenceWeekly, NumberOfPeriods: 1, StartDate: date("2024-01-01"),
	}
	seededHabit(t, mem, h)
	gen := &tracker.PeriodGenerator{MaxCatchUp: 2}
	_, err := gen.CatchUp(context.Background(), mem, h, date("2024-06-01"))
	require.NoError(t, err)

	created, err := gen.CatchUp(context.Background(), mem, h, date("2024-02-14"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "[2024-02-12, 2024-02-18]", created[0].Window().String())

	again, err := gen.CatchUp(context.Background(), mem, h, date("2024-02-14"))
	require.NoError(t, err)
	assert.Empty(t, again)

	latest, err := mem.LatestHabitProgress(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-27", latest.StartDate.String())
}

func TestLogActivity_BackdatedHabit_AccruesBeyondCatchUpCap(t *testing.T) {
	// GIVEN: A daily habit started 2023-01-01, goal 10, with only its first window
	// WHEN: Logging 30 minutes on 2024-06-01, then 5 on 2023-03-01
	// THEN: Each activity lands in the window for its own date

	f := newFixture(t)
	view := f.habit(t, "DAILY", 1, "2023-01-01", 10)

	logged := f.log(t, "2024-06-01", 30)

	require.Len(t, logged.Accrual.Habits, 1)
	window := logged.Accrual.Habits[0]
	assert.Equal(t, view.Habit.ID, window.HabitID)
	assert.Equal(t, "2024-06-01", window.StartDate.String())
	assert.Equal(t, 30, window.CompletedDuration)
	assert.True(t, window.Completed)
	assert.Equal(t, 1, logged.Accrual.PeriodsCreated)

	earlier := f.log(t, "2023-03-01", 5)

	require.Len(t, earlier.Accrual.Habits, 1)
	assert.Equal(t, "2023-03-01", earlier.Accrual.Habits[0].StartDate.String())
	assert.Equal(t, 5, earlier.Accrual.Habits[0].CompletedDuration)
	assert.False(t, earlier.Accrual.Habits[0].Completed)
}

func TestRolloverHabits_MonthlyClampsToMonthEnd(t *testing.T) {
	// GIVEN: A monthly habit starting 2024-01-31
	// WHEN: Rolling over on 2024-03-15
	// THEN: The second window starts 2024-02-29 and covers the 15th

	f := newFixture(t)
	view := f.habit(t, "MONTHLY", 1, "2024-01-31", 300)
	require.Equal(t, "2024-02-28", view.Progress[0].EndDate.String())

	created, err := f.svc.RolloverHabits(f.ctx, date("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	latest, err := f.mem.LatestHabitProgress(f.ctx, view.Habit.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", latest.StartDate.String())
	assert.Equal(t, "2024-03-28", latest.EndDate.String())

	events := f.events.all()
	require.NotEmpty(t, events)
	assert.Equal(t, tracker.EventPeriodsRolled, events[len(events)-1].Type)
}

func TestListHabits_IncludesProgress(t *testing.T) {
	f := newFixture(t)
	f.habit(t, "DAILY", 1, "2024-01-01", 10)
	f.log(t, "2024-01-02", 5)

	views := dataOf[[]tracker.HabitView](t, mustOK(t)(f.svc.ListHabits(f.ctx, f.userID)))

	require.Len(t, views, 1)
	assert.Len(t, views[0].Progress, 2)
	assert.WithinDuration(t, time.Now(), views[0].Habit.CreatedAt, time.Minute)
}
