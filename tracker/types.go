// Package tracker implements the productivity domain on top of the generic
// engine: users, categories, projects, activities, tasks, habits with their
// progress windows, and to-dos.
package tracker

import (
	"time"

	"github.com/warp/progress-engine/generic"
)

// =============================================================================
// OWNERS AND GROUPINGS
// =============================================================================

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Category is a named grouping, unique by name per user.
type Category struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Project groups tasks, habits and to-dos. It has no accrual semantics.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// =============================================================================
// ACTIVITY - Immutable record of time spent
// =============================================================================

type Activity struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	CategoryID  string            `json:"category_id"`
	Date        generic.TimePoint `json:"date"`
	Duration    int               `json:"duration"` // minutes
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// =============================================================================
// GOALS - Tasks and habit periods accrue activity durations
// =============================================================================

// Task is a one-off goal. Completed is derived from the durations and is
// never set on its own.
type Task struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	CategoryID        string            `json:"category_id"`
	ProjectID         *string           `json:"project_id,omitempty"`
	Title             string            `json:"title"`
	StartDate         generic.TimePoint `json:"start_date"`
	EndDate           generic.TimePoint `json:"end_date"`
	GoalDuration      int               `json:"goal_duration"`
	CompletedDuration int               `json:"completed_duration"`
	Completed         bool              `json:"completed"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (t Task) Window() generic.Period {
	return generic.Period{Start: t.StartDate, End: t.EndDate}
}

func (t Task) Target() generic.Target {
	return generic.Target{
		ID:                t.ID,
		Kind:              generic.TargetTask,
		Window:            t.Window(),
		GoalDuration:      t.GoalDuration,
		CompletedDuration: t.CompletedDuration,
		Completed:         t.Completed,
	}
}

// Habit is the template a sequence of HabitProgress windows is cut from.
// Each window spans NumberOfPeriods units of Period and carries GoalDuration.
type Habit struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	CategoryID      string            `json:"category_id"`
	ProjectID       *string           `json:"project_id,omitempty"`
	Title           string            `json:"title"`
	Period          generic.Cadence   `json:"period"`
	NumberOfPeriods int               `json:"number_of_periods"`
	GoalDuration    int               `json:"goal_duration"`
	StartDate       generic.TimePoint `json:"start_date"`
	CreatedAt       time.Time         `json:"created_at"`
}

// WindowAt returns the habit window beginning at start.
func (h Habit) WindowAt(start generic.TimePoint) generic.Period {
	return generic.HabitWindow(h.Period, h.NumberOfPeriods, start)
}

// HabitProgress is one concrete window of a habit. CategoryID is copied from
// the habit so window scans need no join.
type HabitProgress struct {
	ID                string            `json:"id"`
	HabitID           string            `json:"habit_id"`
	UserID            string            `json:"user_id"`
	CategoryID        string            `json:"category_id"`
	StartDate         generic.TimePoint `json:"start_date"`
	EndDate           generic.TimePoint `json:"end_date"`
	GoalDuration      int               `json:"goal_duration"`
	CompletedDuration int               `json:"completed_duration"`
	Completed         bool              `json:"completed"`
}

func (p HabitProgress) Window() generic.Period {
	return generic.Period{Start: p.StartDate, End: p.EndDate}
}

func (p HabitProgress) Target() generic.Target {
	return generic.Target{
		ID:                p.ID,
		Kind:              generic.TargetHabitProgress,
		Window:            p.Window(),
		GoalDuration:      p.GoalDuration,
		CompletedDuration: p.CompletedDuration,
		Completed:         p.Completed,
	}
}

// =============================================================================
// ACCRUAL ENTRY - Which increments an activity caused
// =============================================================================

// AccrualEntry records one increment applied on behalf of an activity, so
// deleting the activity can reverse exactly what it added.
type AccrualEntry struct {
	ActivityID string
	TargetKind generic.TargetKind
	TargetID   string
	Delta      int
}

// =============================================================================
// TODO - Completed directly by the user
// =============================================================================

type ToDo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID *string   `json:"project_id,omitempty"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}
