/*
dto.go - JSON shapes returned by the API

PURPOSE:
  The service returns domain values inside generic.Result. present() walks
  Result.Data and swaps goals for their DTOs, which add the progress
  percentage. Everything else is serialised as is.

TYPES:
  Requests:  the tracker.*Input structs are decoded directly
  Goals:     TaskDTO, HabitProgressDTO, HabitViewDTO
  Accrual:   AccrualDTO, ActivityLogDTO
  Other:     ToDoCompletedRequest, RolloverDTO

PERCENT:
  progress_percent = completed_duration / goal_duration * 100, capped at
  100, two decimals, serialised as a decimal string ("33.33").
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
)

// =============================================================================
// GOALS
// =============================================================================

type TaskDTO struct {
	tracker.Task
	ProgressPercent decimal.Decimal `json:"progress_percent"`
}

func toTaskDTO(t tracker.Task) TaskDTO {
	return TaskDTO{Task: t, ProgressPercent: generic.ProgressRatio(t.CompletedDuration, t.GoalDuration)}
}

type HabitProgressDTO struct {
	tracker.HabitProgress
	ProgressPercent decimal.Decimal `json:"progress_percent"`
}

func toHabitProgressDTO(p tracker.HabitProgress) HabitProgressDTO {
	return HabitProgressDTO{HabitProgress: p, ProgressPercent: generic.ProgressRatio(p.CompletedDuration, p.GoalDuration)}
}

type HabitViewDTO struct {
	Habit    tracker.Habit      `json:"habit"`
	Progress []HabitProgressDTO `json:"progress"`
}

func toHabitViewDTO(v tracker.HabitView) HabitViewDTO {
	return HabitViewDTO{Habit: v.Habit, Progress: toHabitProgressDTOs(v.Progress)}
}

// =============================================================================
// ACCRUAL
// =============================================================================

type AccrualDTO struct {
	Tasks          []TaskDTO          `json:"tasks"`
	Habits         []HabitProgressDTO `json:"habits"`
	PeriodsCreated int                `json:"periods_created"`
}

func toAccrualDTO(r tracker.AccrualResult) AccrualDTO {
	return AccrualDTO{
		Tasks:          toTaskDTOs(r.Tasks),
		Habits:         toHabitProgressDTOs(r.Habits),
		PeriodsCreated: r.PeriodsCreated,
	}
}

type ActivityLogDTO struct {
	Activity tracker.Activity `json:"activity"`
	Accrual  AccrualDTO       `json:"accrual"`
}

// =============================================================================
// REQUESTS AND SMALL RESPONSES
// =============================================================================

type ToDoCompletedRequest struct {
	Completed bool `json:"completed"`
}

type RolloverDTO struct {
	PeriodsCreated int    `json:"periods_created"`
	AsOf           string `json:"as_of"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toTaskDTOs(tasks []tracker.Task) []TaskDTO {
	out := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskDTO(t)
	}
	return out
}

func toHabitProgressDTOs(progress []tracker.HabitProgress) []HabitProgressDTO {
	out := make([]HabitProgressDTO, len(progress))
	for i, p := range progress {
		out[i] = toHabitProgressDTO(p)
	}
	return out
}

// present replaces domain goals in res.Data with their DTOs.
func present(res generic.Result) generic.Result {
	switch data := res.Data.(type) {
	case tracker.Task:
		res.Data = toTaskDTO(data)
	case []tracker.Task:
		res.Data = toTaskDTOs(data)
	case tracker.HabitView:
		res.Data = toHabitViewDTO(data)
	case []tracker.HabitView:
		views := make([]HabitViewDTO, len(data))
		for i, v := range data {
			views[i] = toHabitViewDTO(v)
		}
		res.Data = views
	case tracker.ActivityLog:
		res.Data = ActivityLogDTO{Activity: data.Activity, Accrual: toAccrualDTO(data.Accrual)}
	case tracker.AccrualResult:
		res.Data = toAccrualDTO(data)
	}
	return res
}
