// Package storetest holds the behaviour every tracker.TxStore must show.
// Each implementation runs it from its own tests:
//
//	func TestContract(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) tracker.TxStore { return newStore(t) })
//	}
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
)

// Factory returns an empty store. It registers its own cleanup.
type Factory func(t *testing.T) tracker.TxStore

func Run(t *testing.T, newStore Factory) {
	t.Run("CategoryNamesUniquePerUser", func(t *testing.T) { categoryNames(t, newStore(t)) })
	t.Run("RestrictReferencedCategory", func(t *testing.T) { restrictCategory(t, newStore(t)) })
	t.Run("TaskWindowScan", func(t *testing.T) { taskWindowScan(t, newStore(t)) })
	t.Run("IncrementTask", func(t *testing.T) { incrementTask(t, newStore(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { concurrentIncrements(t, newStore(t)) })
	t.Run("HabitProgress", func(t *testing.T) { habitProgress(t, newStore(t)) })
	t.Run("ConcurrentWindowInserts", func(t *testing.T) { concurrentWindows(t, newStore(t)) })
	t.Run("OwnerMustExist", func(t *testing.T) { ownerMustExist(t, newStore(t)) })
	t.Run("AccrualEntriesFollowActivity", func(t *testing.T) { accrualEntries(t, newStore(t)) })
	t.Run("ActivityFilter", func(t *testing.T) { activityFilter(t, newStore(t)) })
	t.Run("ProjectDeleteDetaches", func(t *testing.T) { projectDelete(t, newStore(t)) })
	t.Run("ToDos", func(t *testing.T) { todos(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { rollback(t, newStore(t)) })
}

const (
	userID     = "user-1"
	categoryID = "cat-1"
)

func d(s string) generic.TimePoint { return generic.MustParseDate(s) }

// seed creates user-1 with category "Reading".
func seed(t *testing.T, s tracker.Store) context.Context {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(ctx, &tracker.User{ID: userID, Email: "u@example.com", Name: "U", CreatedAt: now}))
	require.NoError(t, s.CreateCategory(ctx, &tracker.Category{ID: categoryID, UserID: userID, Name: "Reading", CreatedAt: now}))
	return ctx
}

func newTask(id, start, end string, goal int) *tracker.Task {
	return &tracker.Task{
		ID: id, UserID: userID, CategoryID: categoryID, Title: "task " + id,
		StartDate: d(start), EndDate: d(end), GoalDuration: goal,
		CreatedAt: time.Now().UTC(),
	}
}

func newActivity(id, date string, duration int) *tracker.Activity {
	return &tracker.Activity{
		ID: id, UserID: userID, CategoryID: categoryID,
		Date: d(date), Duration: duration, CreatedAt: time.Now().UTC(),
	}
}

func newHabit(id, start string) *tracker.Habit {
	return &tracker.Habit{
		ID: id, UserID: userID, CategoryID: categoryID, Title: "habit " + id,
		Period: generic.CadenceWeekly, NumberOfPeriods: 1, GoalDuration: 60,
		StartDate: d(start), CreatedAt: time.Now().UTC(),
	}
}

func categoryNames(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)

	err := s.CreateCategory(ctx, &tracker.Category{ID: "cat-2", UserID: userID, Name: "Reading", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, generic.ErrDuplicate)

	require.NoError(t, s.CreateCategory(ctx, &tracker.Category{ID: "cat-3", UserID: userID, Name: "Running", CreatedAt: time.Now()}))
	assert.ErrorIs(t, s.RenameCategory(ctx, "cat-3", "Reading"), generic.ErrDuplicate)
	assert.NoError(t, s.RenameCategory(ctx, "cat-3", "Jogging"))
	assert.ErrorIs(t, s.RenameCategory(ctx, "missing", "X"), generic.ErrNotFound)

	found, err := s.FindCategoryByName(ctx, userID, "Jogging")
	require.NoError(t, err)
	assert.Equal(t, "cat-3", found.ID)

	_, err = s.FindCategoryByName(ctx, userID, "reading")
	assert.ErrorIs(t, err, generic.ErrNotFound, "names are case-sensitive")

	cats, err := s.ListCategories(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Jogging", cats[0].Name)
}

func restrictCategory(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateActivity(ctx, newActivity("act-1", "2024-01-01", 10)))

	refs, err := s.CategoryReferences(ctx, categoryID)
	require.NoError(t, err)
	assert.Equal(t, tracker.CategoryReferences{Activities: 1}, refs)

	assert.ErrorIs(t, s.DeleteCategory(ctx, categoryID), generic.ErrReferenced)

	require.NoError(t, s.DeleteActivity(ctx, "act-1"))
	assert.NoError(t, s.DeleteCategory(ctx, categoryID))
	assert.ErrorIs(t, s.DeleteCategory(ctx, categoryID), generic.ErrNotFound)
}

func taskWindowScan(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateTask(ctx, newTask("task-1", "2024-01-01", "2024-01-07", 60)))
	require.NoError(t, s.CreateTask(ctx, newTask("task-2", "2024-01-07", "2024-01-14", 60)))

	tests := []struct {
		date string
		want []string
	}{
		{"2023-12-31", nil},
		{"2024-01-01", []string{"task-1"}},
		{"2024-01-07", []string{"task-1", "task-2"}},
		{"2024-01-14", []string{"task-2"}},
		{"2024-01-15", nil},
	}
	for _, tt := range tests {
		got, err := s.TasksCovering(ctx, userID, categoryID, d(tt.date))
		require.NoError(t, err)
		var ids []string
		for _, task := range got {
			ids = append(ids, task.ID)
		}
		assert.Equal(t, tt.want, ids, tt.date)
	}

	other, err := s.TasksCovering(ctx, userID, "cat-other", d("2024-01-03"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func incrementTask(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateTask(ctx, newTask("task-1", "2024-01-01", "2024-01-07", 60)))

	got, err := s.IncrementTask(ctx, "task-1", 59)
	require.NoError(t, err)
	assert.Equal(t, 59, got.CompletedDuration)
	assert.False(t, got.Completed)

	got, err = s.IncrementTask(ctx, "task-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 60, got.CompletedDuration)
	assert.True(t, got.Completed)

	got, err = s.IncrementTask(ctx, "task-1", -1)
	require.NoError(t, err)
	assert.False(t, got.Completed)

	stored, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 59, stored.CompletedDuration)
	assert.Equal(t, "2024-01-07", stored.EndDate.String())

	_, err = s.IncrementTask(ctx, "missing", 1)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func concurrentIncrements(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateTask(ctx, newTask("task-1", "2024-01-01", "2024-01-07", 15)))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx tracker.Store) error {
				_, err := tx.IncrementTask(ctx, "task-1", 10)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.CompletedDuration)
	assert.True(t, got.Completed)
}

func habitProgress(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	h := newHabit("habit-1", "2024-01-01")
	require.NoError(t, s.CreateHabit(ctx, h))

	_, err := s.LatestHabitProgress(ctx, h.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	for i, start := range []string{"2024-01-08", "2024-01-01"} {
		w := h.WindowAt(d(start))
		inserted, err := s.CreateHabitProgress(ctx, &tracker.HabitProgress{
			ID: []string{"hp-2", "hp-1"}[i], HabitID: h.ID, UserID: userID, CategoryID: categoryID,
			StartDate: w.Start, EndDate: w.End, GoalDuration: 60,
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	dup := h.WindowAt(d("2024-01-01"))
	inserted, err := s.CreateHabitProgress(ctx, &tracker.HabitProgress{
		ID: "hp-dup", HabitID: h.ID, UserID: userID, CategoryID: categoryID,
		StartDate: dup.Start, EndDate: dup.End, GoalDuration: 60,
	})
	require.NoError(t, err)
	assert.False(t, inserted, "one window per habit and start date")

	_, err = s.CreateHabitProgress(ctx, &tracker.HabitProgress{
		ID: "hp-orphan", HabitID: "missing", UserID: userID, CategoryID: categoryID,
		StartDate: dup.Start, EndDate: dup.End, GoalDuration: 60,
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	latest, err := s.LatestHabitProgress(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "hp-2", latest.ID)

	all, err := s.ListHabitProgress(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "hp-1", all[0].ID)

	covering, err := s.HabitProgressCovering(ctx, userID, categoryID, d("2024-01-09"))
	require.NoError(t, err)
	require.Len(t, covering, 1)
	assert.Equal(t, "hp-2", covering[0].ID)

	p, err := s.IncrementHabitProgress(ctx, "hp-2", 60)
	require.NoError(t, err)
	assert.True(t, p.Completed)

	byCategory, err := s.HabitsByCategory(ctx, userID, categoryID)
	require.NoError(t, err)
	assert.Len(t, byCategory, 1)

	require.NoError(t, s.DeleteHabit(ctx, h.ID))
	all, err = s.ListHabitProgress(ctx, h.ID)
	require.NoError(t, err)
	assert.Empty(t, all, "windows are deleted with the habit")
}

func concurrentWindows(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	h := newHabit("habit-1", "2024-01-01")
	require.NoError(t, s.CreateHabit(ctx, h))
	w := h.WindowAt(d("2024-01-08"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i, id := range []string{"hp-a", "hp-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx tracker.Store) error {
				ok, err := tx.CreateHabitProgress(ctx, &tracker.HabitProgress{
					ID: id, HabitID: h.ID, UserID: userID, CategoryID: categoryID,
					StartDate: w.Start, EndDate: w.End, GoalDuration: 60,
				})
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
				return err
			})
			assert.NoError(t, err, "transaction %d", i)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	all, err := s.ListHabitProgress(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func ownerMustExist(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	const ghost = "user-missing"
	now := time.Now().UTC()

	assert.ErrorIs(t, s.CreateCategory(ctx, &tracker.Category{ID: "cat-ghost", UserID: ghost, Name: "Reading", CreatedAt: now}), generic.ErrNotFound)
	assert.ErrorIs(t, s.CreateProject(ctx, &tracker.Project{ID: "proj-ghost", UserID: ghost, Name: "Thesis", CreatedAt: now}), generic.ErrNotFound)
	assert.ErrorIs(t, s.CreateToDo(ctx, &tracker.ToDo{ID: "todo-ghost", UserID: ghost, Title: "Milk", CreatedAt: now}), generic.ErrNotFound)

	activity := newActivity("act-ghost", "2024-01-01", 10)
	activity.UserID = ghost
	assert.ErrorIs(t, s.CreateActivity(ctx, activity), generic.ErrNotFound)

	task := newTask("task-ghost", "2024-01-01", "2024-01-07", 60)
	task.UserID = ghost
	assert.ErrorIs(t, s.CreateTask(ctx, task), generic.ErrNotFound)

	habit := newHabit("habit-ghost", "2024-01-01")
	habit.UserID = ghost
	assert.ErrorIs(t, s.CreateHabit(ctx, habit), generic.ErrNotFound)

	cats, err := s.ListCategories(ctx, ghost)
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func accrualEntries(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateActivity(ctx, newActivity("act-1", "2024-01-03", 40)))

	entries := []tracker.AccrualEntry{
		{ActivityID: "act-1", TargetKind: generic.TargetTask, TargetID: "task-1", Delta: 40},
		{ActivityID: "act-1", TargetKind: generic.TargetHabitProgress, TargetID: "hp-1", Delta: 40},
	}
	require.NoError(t, s.RecordAccruals(ctx, entries))

	got, err := s.AccrualsForActivity(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, s.DeleteActivity(ctx, "act-1"))
	got, err = s.AccrualsForActivity(ctx, "act-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func activityFilter(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateActivity(ctx, newActivity("act-1", "2024-01-01", 1)))
	require.NoError(t, s.CreateActivity(ctx, newActivity("act-2", "2024-01-05", 2)))
	require.NoError(t, s.CreateActivity(ctx, newActivity("act-3", "2024-01-09", 3)))

	got, err := s.ListActivities(ctx, tracker.ActivityFilter{UserID: userID, From: d("2024-01-02"), To: d("2024-01-09")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "act-2", got[0].ID)
	assert.Equal(t, "2024-01-05", got[0].Date.String())

	all, err := s.ListActivities(ctx, tracker.ActivityFilter{UserID: userID, CategoryID: categoryID})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func projectDelete(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	project := &tracker.Project{ID: "proj-1", UserID: userID, Name: "Thesis", CreatedAt: time.Now()}
	require.NoError(t, s.CreateProject(ctx, project))
	assert.ErrorIs(t, s.CreateProject(ctx, &tracker.Project{ID: "proj-2", UserID: userID, Name: "Thesis", CreatedAt: time.Now()}), generic.ErrDuplicate)

	task := newTask("task-1", "2024-01-01", "2024-01-07", 60)
	task.ProjectID = &project.ID
	require.NoError(t, s.CreateTask(ctx, task))

	stored, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ProjectID)
	assert.Equal(t, "proj-1", *stored.ProjectID)

	require.NoError(t, s.DeleteProject(ctx, project.ID))

	stored, err = s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Nil(t, stored.ProjectID)
}

func todos(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateToDo(ctx, &tracker.ToDo{ID: "todo-1", UserID: userID, Title: "Milk", CreatedAt: time.Now()}))

	require.NoError(t, s.SetToDoCompleted(ctx, "todo-1", true))
	got, err := s.GetToDo(ctx, "todo-1")
	require.NoError(t, err)
	assert.True(t, got.Completed)

	assert.ErrorIs(t, s.SetToDoCompleted(ctx, "missing", true), generic.ErrNotFound)

	require.NoError(t, s.DeleteToDo(ctx, "todo-1"))
	list, err := s.ListToDos(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func rollback(t *testing.T, s tracker.TxStore) {
	ctx := seed(t, s)
	require.NoError(t, s.CreateTask(ctx, newTask("task-1", "2024-01-01", "2024-01-07", 60)))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx tracker.Store) error {
		if err := tx.CreateActivity(ctx, newActivity("act-1", "2024-01-03", 40)); err != nil {
			return err
		}
		if _, err := tx.IncrementTask(ctx, "task-1", 40); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetActivity(ctx, "act-1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, task.CompletedDuration)
}
