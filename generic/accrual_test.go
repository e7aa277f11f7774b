package generic_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/generic"
)

func target(id string, completed, goal int) generic.Target {
	return generic.Target{
		ID:                id,
		Kind:              generic.TargetTask,
		Window:            generic.Period{Start: day("2024-01-01"), End: day("2024-01-07")},
		GoalDuration:      goal,
		CompletedDuration: completed,
		Completed:         generic.IsComplete(completed, goal),
	}
}

// =============================================================================
// ACCRUAL PLAN
// =============================================================================

func TestPlanAccrual_OnlyTargetsCoveringTheDate(t *testing.T) {
	// GIVEN: One target covering the date and one that ended before it
	// WHEN: Planning a 30 minute activity
	// THEN: Only the covering target gets an update

	covering := target("t-1", 0, 60)
	expired := target("t-2", 0, 60)
	expired.Window = generic.Period{Start: day("2023-12-01"), End: day("2023-12-31")}

	plan := generic.PlanAccrual([]generic.Target{covering, expired}, day("2024-01-03"), 30)

	require.Len(t, plan, 1)
	assert.Equal(t, "t-1", plan[0].Target.ID)
	assert.Equal(t, 30, plan[0].Delta)
	assert.Equal(t, 30, plan[0].NewCompletedDuration)
	assert.False(t, plan[0].NewCompleted)
}

func TestPlanAccrual_ThresholdCrossing(t *testing.T) {
	// GIVEN: Goal 60 with 40 accrued
	// WHEN: Planning 19, then 20
	// THEN: 59 stays incomplete, 60 completes

	below := generic.PlanAccrual([]generic.Target{target("t-1", 40, 60)}, day("2024-01-03"), 19)
	require.Len(t, below, 1)
	assert.False(t, below[0].NewCompleted)

	exact := generic.PlanAccrual([]generic.Target{target("t-1", 40, 60)}, day("2024-01-03"), 20)
	require.Len(t, exact, 1)
	assert.Equal(t, 60, exact[0].NewCompletedDuration)
	assert.True(t, exact[0].NewCompleted)
}

func TestPlanAccrual_SkipsUnchanged(t *testing.T) {
	// GIVEN: A zero duration activity
	// THEN: Nothing changes, so nothing is planned

	plan := generic.PlanAccrual([]generic.Target{target("t-1", 10, 60)}, day("2024-01-03"), 0)
	assert.Empty(t, plan)
}

func TestPlanAccrual_Additive(t *testing.T) {
	// GIVEN: Two durations applied in either order
	// THEN: The totals agree

	apply := func(durations ...int) int {
		tg := target("t-1", 0, 1000)
		for _, d := range durations {
			for _, u := range generic.PlanAccrual([]generic.Target{tg}, day("2024-01-02"), d) {
				tg.CompletedDuration += u.Delta
			}
		}
		return tg.CompletedDuration
	}

	assert.Equal(t, 55, apply(15, 40))
	assert.Equal(t, apply(15, 40), apply(40, 15))
}

func TestProgressRatio(t *testing.T) {
	assert.Equal(t, "50", generic.ProgressRatio(30, 60).String())
	assert.Equal(t, "33.33", generic.ProgressRatio(20, 60).String())
	assert.Equal(t, "100", generic.ProgressRatio(90, 60).String())
	assert.Equal(t, "100", generic.ProgressRatio(0, 0).String())
}

// =============================================================================
// ERRORS AND RESULT ENVELOPE
// =============================================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want generic.Kind
	}{
		{"tagged", generic.Conflict("taken", nil), generic.KindConflict},
		{"wrapped sentinel not found", fmt.Errorf("task x: %w", generic.ErrNotFound), generic.KindNotFound},
		{"duplicate", generic.ErrDuplicate, generic.KindConflict},
		{"referenced", generic.ErrReferenced, generic.KindConflict},
		{"negative duration", generic.ErrNegativeDuration, generic.KindValidation},
		{"anything else", errors.New("connection reset"), generic.KindStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.KindOf(tt.err))
		})
	}
}

func TestFail_MessageByKind(t *testing.T) {
	// GIVEN: A client error and a store error
	// THEN: The client error shows only its message; the store error keeps its cause

	res := generic.Fail(generic.Conflict("category \"Reading\" already exists", generic.ErrDuplicate))
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindConflict, res.Kind)
	assert.Equal(t, "category \"Reading\" already exists", res.Message)

	res = generic.Fail(generic.StoreFailure("activity creation failed", errors.New("database is locked")))
	assert.Equal(t, generic.KindStore, res.Kind)
	assert.Equal(t, "activity creation failed: database is locked", res.Message)
}

func TestOK(t *testing.T) {
	res := generic.OK("Activity logged", 42)
	assert.True(t, res.Success)
	assert.Empty(t, res.Kind)
	assert.Equal(t, 42, res.Data)
}
