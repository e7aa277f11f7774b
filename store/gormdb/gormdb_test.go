package gormdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/store/gormdb"
	"github.com/warp/progress-engine/tracker"
	"github.com/warp/progress-engine/tracker/storetest"
)

func newTestStore(t *testing.T) *gormdb.Store {
	store, err := gormdb.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) tracker.TxStore {
		return newTestStore(t)
	})
}

func TestService_HabitOnGorm(t *testing.T) {
	// GIVEN: A weekly habit, goal 60, starting 2024-01-01
	// WHEN: Logging 30 on 2024-01-16 (third week)
	// THEN: Three windows exist and only the third holds the 30 minutes

	svc := tracker.NewService(newTestStore(t))
	ctx := context.Background()

	res, err := svc.RegisterUser(ctx, "user-1", tracker.RegisterUserInput{Email: "u@example.com", Name: "U"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	res, err = svc.CreateCategory(ctx, "user-1", tracker.CategoryInput{Name: "Running"})
	require.NoError(t, err)
	category := res.Data.(tracker.Category)

	res, err = svc.CreateHabit(ctx, "user-1", tracker.HabitInput{
		CategoryID: category.ID, Title: "Run", Period: "WEEKLY", NumberOfPeriods: 1,
		GoalDuration: 60, StartDate: "2024-01-01",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	habit := res.Data.(tracker.HabitView).Habit

	res, err = svc.LogActivity(ctx, "user-1", tracker.LogActivityInput{
		CategoryID: category.ID, Date: "2024-01-16", Duration: 30,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	res, err = svc.GetHabit(ctx, "user-1", habit.ID)
	require.NoError(t, err)
	view := res.Data.(tracker.HabitView)
	require.Len(t, view.Progress, 3)
	assert.Equal(t, 0, view.Progress[1].CompletedDuration)
	assert.Equal(t, "2024-01-15", view.Progress[2].StartDate.String())
	assert.Equal(t, 30, view.Progress[2].CompletedDuration)

	// The category now has a habit and an activity.
	res, err = svc.DeleteCategory(ctx, "user-1", category.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindConflict, res.Kind)
}

func TestOpenSQLite_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "progress.db")

	store, err := gormdb.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := gormdb.OpenSQLite(path)
	require.NoError(t, err)
	assert.NoError(t, reopened.Close())
}
