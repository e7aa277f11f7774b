/*
store.go - Persistence contract for the tracker domain

PURPOSE:
  Defines the interface between the domain logic and the database. The
  engine never holds a package-level client: a Store is constructed by the
  caller and passed in, which keeps tests on the in-memory implementation.

KEY INTERFACES:
  Store:   CRUD keyed by id, owner/category filters, window scans and the
           atomic increments accrual depends on
  TxStore: Store plus WithTx for all-or-nothing units of work

ATOMIC INCREMENTS:
  IncrementTask / IncrementHabitProgress must be a single read-modify-write
  at the store level:

    completed_duration = completed_duration + :delta
    completed          = (completed_duration + :delta) >= goal_duration

  Two activities logged at once against the same row both land. A
  read-add-write in Go would drop one of them.

ERRORS:
  Implementations return generic.ErrNotFound for missing rows,
  generic.ErrDuplicate for unique-constraint violations and
  generic.ErrReferenced when a restrict foreign key blocks a delete.

IMPLEMENTATIONS:
  - tracker/store/memory.go: In-memory, for tests and dev
  - store/sqlite:            database/sql + go-sqlite3
  - store/gormdb:            GORM on PostgreSQL (or SQLite)
*/
package tracker

import (
	"context"

	"github.com/warp/progress-engine/generic"
)

// CategoryReferences counts rows that keep a category alive.
type CategoryReferences struct {
	Activities int
	Tasks      int
	Habits     int
}

func (r CategoryReferences) Total() int { return r.Activities + r.Tasks + r.Habits }

// ActivityFilter narrows ListActivities. Zero dates mean unbounded.
type ActivityFilter struct {
	UserID     string
	CategoryID string
	From       generic.TimePoint
	To         generic.TimePoint
}

// Store handles persistence of every tracker entity.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id string) (*Category, error)
	FindCategoryByName(ctx context.Context, userID, name string) (*Category, error)
	ListCategories(ctx context.Context, userID string) ([]Category, error)
	RenameCategory(ctx context.Context, id, name string) error
	DeleteCategory(ctx context.Context, id string) error
	CategoryReferences(ctx context.Context, categoryID string) (CategoryReferences, error)

	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	FindProjectByName(ctx context.Context, userID, name string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]Project, error)
	DeleteProject(ctx context.Context, id string) error

	CreateActivity(ctx context.Context, a *Activity) error
	GetActivity(ctx context.Context, id string) (*Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
	DeleteActivity(ctx context.Context, id string) error

	// RecordAccruals appends the increments an activity caused.
	RecordAccruals(ctx context.Context, entries []AccrualEntry) error
	// AccrualsForActivity returns what RecordAccruals stored for the activity.
	AccrualsForActivity(ctx context.Context, activityID string) ([]AccrualEntry, error)

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, userID string) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error
	// TasksCovering returns the user's tasks in the category whose window contains date.
	TasksCovering(ctx context.Context, userID, categoryID string, date generic.TimePoint) ([]Task, error)
	// IncrementTask atomically adds delta and recomputes Completed.
	IncrementTask(ctx context.Context, id string, delta int) (*Task, error)

	CreateHabit(ctx context.Context, h *Habit) error
	GetHabit(ctx context.Context, id string) (*Habit, error)
	ListHabits(ctx context.Context, userID string) ([]Habit, error)
	// ListAllHabits returns every habit of every user, for scheduled rollover.
	ListAllHabits(ctx context.Context) ([]Habit, error)
	HabitsByCategory(ctx context.Context, userID, categoryID string) ([]Habit, error)
	// DeleteHabit removes the habit and its progress windows.
	DeleteHabit(ctx context.Context, id string) error

	// CreateHabitProgress inserts p unless the habit already has a window
	// starting on p.StartDate, and reports whether it inserted. Concurrent
	// catch-ups creating the same window both succeed.
	CreateHabitProgress(ctx context.Context, p *HabitProgress) (bool, error)
	// ListHabitProgress returns a habit's windows ordered by start date.
	ListHabitProgress(ctx context.Context, habitID string) ([]HabitProgress, error)
	// LatestHabitProgress returns the window with the greatest start date.
	LatestHabitProgress(ctx context.Context, habitID string) (*HabitProgress, error)
	HabitProgressCovering(ctx context.Context, userID, categoryID string, date generic.TimePoint) ([]HabitProgress, error)
	IncrementHabitProgress(ctx context.Context, id string, delta int) (*HabitProgress, error)

	CreateToDo(ctx context.Context, t *ToDo) error
	GetToDo(ctx context.Context, id string) (*ToDo, error)
	ListToDos(ctx context.Context, userID string) ([]ToDo, error)
	SetToDoCompleted(ctx context.Context, id string, completed bool) error
	DeleteToDo(ctx context.Context, id string) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
