package generic

import "github.com/shopspring/decimal"

// =============================================================================
// ACCRUAL TARGET - Anything with a window, a goal and an accumulated total
// =============================================================================

type TargetKind string

const (
	TargetTask          TargetKind = "task"
	TargetHabitProgress TargetKind = "habit_progress"
)

// Target is the accrual view of a Task or a HabitProgress row. Both accrue
// the same way, so the plan below never needs to know which one it holds.
type Target struct {
	ID                string
	Kind              TargetKind
	Window            Period
	GoalDuration      int
	CompletedDuration int
	Completed         bool
}

// IsComplete is the completion rule: accumulated total meets or exceeds the goal.
func IsComplete(completedDuration, goalDuration int) bool {
	return completedDuration >= goalDuration
}

// =============================================================================
// ACCRUAL PLAN - What one activity changes
// =============================================================================

// AccrualUpdate is one planned change. Delta is what the store must add
// atomically; NewCompletedDuration/NewCompleted are the values expected when
// no concurrent writer touched the row.
type AccrualUpdate struct {
	Target               Target
	Delta                int
	NewCompletedDuration int
	NewCompleted         bool
}

// PlanAccrual returns the updates an activity of the given duration on date
// causes. Targets whose window does not contain date are ignored. Targets
// whose total and flag would not change are skipped; this saves writes and
// nothing else, since the store applies Delta as an increment.
func PlanAccrual(targets []Target, date TimePoint, duration int) []AccrualUpdate {
	var updates []AccrualUpdate
	for _, t := range targets {
		if !t.Window.Contains(date) {
			continue
		}
		newTotal := t.CompletedDuration + duration
		newFlag := IsComplete(newTotal, t.GoalDuration)
		if newTotal == t.CompletedDuration && newFlag == t.Completed {
			continue
		}
		updates = append(updates, AccrualUpdate{
			Target:               t,
			Delta:                duration,
			NewCompletedDuration: newTotal,
			NewCompleted:         newFlag,
		})
	}
	return updates
}

// =============================================================================
// PROGRESS
// =============================================================================

// ProgressRatio returns completed/goal as a percentage rounded to two
// places, capped at 100. A zero goal is complete by definition.
func ProgressRatio(completedDuration, goalDuration int) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if goalDuration <= 0 {
		return hundred
	}
	pct := decimal.NewFromInt(int64(completedDuration)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(goalDuration))).
		Round(2)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
