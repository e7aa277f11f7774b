/*
Package sqlite provides a SQLite-backed implementation of tracker.TxStore.

PURPOSE:
  Embedded persistence for a single-node deployment. The schema declares
  the constraints the engine relies on, so a guard check that races another
  writer is still caught by the database.

KEY TABLES:
  users, categories, projects:    owners and groupings
  activities:                     immutable time records
  accrual_entries:                what each activity added to which goal
  tasks, habits, habit_progress:  goals and habit windows
  todos:                          plain checklist items

CONSTRAINTS:
  - UNIQUE(user_id, name) on categories and projects
  - activities/tasks/habits -> categories ON DELETE RESTRICT
  - habit_progress -> habits ON DELETE CASCADE
  - accrual_entries -> activities ON DELETE CASCADE
  - tasks/habits/todos -> projects ON DELETE SET NULL

ATOMIC INCREMENTS:
  completed_duration = completed_duration + ?
  completed          = (completed_duration + ?) >= goal_duration

  SQLite evaluates every SET expression against the old row, so both lines
  see the same pre-update total. RETURNING hands back the stored row.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer at a
  time anyway, and ":memory:" databases live and die with their connection.
  Writers queue on BeginTx instead of failing with SQLITE_BUSY.

DATES:
  Calendar days are stored as TEXT "YYYY-MM-DD" so string comparison is date
  comparison and go-sqlite3 never converts them to time.Time.

USAGE:
  store, err := sqlite.New("./data/progress.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := tracker.NewService(store)

SEE ALSO:
  - tracker/store.go: Interface definitions
  - store/gormdb: The same contract on GORM (PostgreSQL in production)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
)

// Store implements tracker.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(user_id, name)
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(user_id, name)
	);

	-- Activities are never updated, only inserted and deleted
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
		date TEXT NOT NULL,
		duration INTEGER NOT NULL CHECK (duration >= 0),
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_user_date
		ON activities(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_activities_category
		ON activities(category_id);

	CREATE TABLE IF NOT EXISTS accrual_entries (
		activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		delta INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accrual_entries_activity
		ON accrual_entries(activity_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
		project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		goal_duration INTEGER NOT NULL,
		completed_duration INTEGER NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Window scan for accrual (hot path)
	CREATE INDEX IF NOT EXISTS idx_tasks_window
		ON tasks(user_id, category_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
		project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		period TEXT NOT NULL,
		number_of_periods INTEGER NOT NULL,
		goal_duration INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_habits_user_category
		ON habits(user_id, category_id);

	CREATE TABLE IF NOT EXISTS habit_progress (
		id TEXT PRIMARY KEY,
		habit_id TEXT NOT NULL REFERENCES habits(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		goal_duration INTEGER NOT NULL,
		completed_duration INTEGER NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(habit_id, start_date)
	);

	-- Window scan for accrual (hot path)
	CREATE INDEX IF NOT EXISTS idx_habit_progress_window
		ON habit_progress(user_id, category_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_todos_user
		ON todos(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (tracker.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store tracker.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements tracker.Store against either the pool or an open
// transaction.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// USERS
// =============================================================================

func (s *queries) CreateUser(ctx context.Context, u *tracker.User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, formatTime(u.CreatedAt),
	)
	return mapInsertErr("create user", err)
}

func (s *queries) GetUser(ctx context.Context, id string) (*tracker.User, error) {
	var (
		u       tracker.User
		created string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &created)
	if err != nil {
		return nil, mapQueryErr("get user", err)
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

const categoryColumns = `id, user_id, name, created_at`

func scanCategory(row scanner) (*tracker.Category, error) {
	var (
		c       tracker.Category
		created string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func (s *queries) CreateCategory(ctx context.Context, c *tracker.Category) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, formatTime(c.CreatedAt),
	)
	return mapInsertErr("create category", err)
}

func (s *queries) GetCategory(ctx context.Context, id string) (*tracker.Category, error) {
	c, err := scanCategory(s.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		return nil, mapQueryErr("get category", err)
	}
	return c, nil
}

func (s *queries) FindCategoryByName(ctx context.Context, userID, name string) (*tracker.Category, error) {
	c, err := scanCategory(s.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? AND name = ?`, userID, name))
	if err != nil {
		return nil, mapQueryErr("find category", err)
	}
	return c, nil
}

func (s *queries) ListCategories(ctx context.Context, userID string) ([]tracker.Category, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var result []tracker.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *queries) RenameCategory(ctx context.Context, id, name string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return mapInsertErr("rename category", err)
	}
	return requireRow(res, "category", id)
}

func (s *queries) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return mapDeleteErr("delete category", err)
	}
	return requireRow(res, "category", id)
}

func (s *queries) CategoryReferences(ctx context.Context, categoryID string) (tracker.CategoryReferences, error) {
	var refs tracker.CategoryReferences
	err := s.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM activities WHERE category_id = ?),
			(SELECT COUNT(*) FROM tasks WHERE category_id = ?),
			(SELECT COUNT(*) FROM habits WHERE category_id = ?)
	`, categoryID, categoryID, categoryID).Scan(&refs.Activities, &refs.Tasks, &refs.Habits)
	if err != nil {
		return refs, fmt.Errorf("failed to count category references: %w", err)
	}
	return refs, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `id, user_id, name, description, created_at`

func scanProject(row scanner) (*tracker.Project, error) {
	var (
		p       tracker.Project
		created string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (s *queries) CreateProject(ctx context.Context, p *tracker.Project) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Description, formatTime(p.CreatedAt),
	)
	return mapInsertErr("create project", err)
}

func (s *queries) GetProject(ctx context.Context, id string) (*tracker.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, mapQueryErr("get project", err)
	}
	return p, nil
}

func (s *queries) FindProjectByName(ctx context.Context, userID, name string) (*tracker.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? AND name = ?`, userID, name))
	if err != nil {
		return nil, mapQueryErr("find project", err)
	}
	return p, nil
}

func (s *queries) ListProjects(ctx context.Context, userID string) ([]tracker.Project, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var result []tracker.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *queries) DeleteProject(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return mapDeleteErr("delete project", err)
	}
	return requireRow(res, "project", id)
}

// =============================================================================
// ACTIVITIES AND ACCRUAL ENTRIES
// =============================================================================

const activityColumns = `id, user_id, category_id, date, duration, description, created_at`

func scanActivity(row scanner) (*tracker.Activity, error) {
	var (
		a             tracker.Activity
		date, created string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.CategoryID, &date, &a.Duration, &a.Description, &created); err != nil {
		return nil, err
	}
	a.Date = parseDate(date)
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func (s *queries) CreateActivity(ctx context.Context, a *tracker.Activity) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.CategoryID, a.Date.String(), a.Duration, a.Description, formatTime(a.CreatedAt),
	)
	return mapInsertErr("create activity", err)
}

func (s *queries) GetActivity(ctx context.Context, id string) (*tracker.Activity, error) {
	a, err := scanActivity(s.q.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if err != nil {
		return nil, mapQueryErr("get activity", err)
	}
	return a, nil
}

func (s *queries) ListActivities(ctx context.Context, f tracker.ActivityFilter) ([]tracker.Activity, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}

	query := `SELECT ` + activityColumns + ` FROM activities WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY date ASC, created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var result []tracker.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *queries) DeleteActivity(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return mapDeleteErr("delete activity", err)
	}
	return requireRow(res, "activity", id)
}

func (s *queries) RecordAccruals(ctx context.Context, entries []tracker.AccrualEntry) error {
	for _, e := range entries {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO accrual_entries (activity_id, target_kind, target_id, delta) VALUES (?, ?, ?, ?)`,
			e.ActivityID, string(e.TargetKind), e.TargetID, e.Delta,
		)
		if err != nil {
			return mapInsertErr("record accrual", err)
		}
	}
	return nil
}

func (s *queries) AccrualsForActivity(ctx context.Context, activityID string) ([]tracker.AccrualEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT activity_id, target_kind, target_id, delta FROM accrual_entries WHERE activity_id = ? ORDER BY rowid`,
		activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accrual entries: %w", err)
	}
	defer rows.Close()

	var result []tracker.AccrualEntry
	for rows.Next() {
		var (
			e    tracker.AccrualEntry
			kind string
		)
		if err := rows.Scan(&e.ActivityID, &kind, &e.TargetID, &e.Delta); err != nil {
			return nil, fmt.Errorf("failed to scan accrual entry: %w", err)
		}
		e.TargetKind = generic.TargetKind(kind)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// TASKS
// =============================================================================

const taskColumns = `id, user_id, category_id, project_id, title, start_date, end_date,
	goal_duration, completed_duration, completed, created_at`

func scanTask(row scanner) (*tracker.Task, error) {
	var (
		t                     tracker.Task
		project               sql.NullString
		start, end, createdAt string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.CategoryID, &project, &t.Title, &start, &end,
		&t.GoalDuration, &t.CompletedDuration, &t.Completed, &createdAt)
	if err != nil {
		return nil, err
	}
	t.ProjectID = fromNullString(project)
	t.StartDate = parseDate(start)
	t.EndDate = parseDate(end)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (s *queries) CreateTask(ctx context.Context, t *tracker.Task) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.CategoryID, toNullString(t.ProjectID), t.Title,
		t.StartDate.String(), t.EndDate.String(),
		t.GoalDuration, t.CompletedDuration, t.Completed, formatTime(t.CreatedAt),
	)
	return mapInsertErr("create task", err)
}

func (s *queries) GetTask(ctx context.Context, id string) (*tracker.Task, error) {
	t, err := scanTask(s.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, mapQueryErr("get task", err)
	}
	return t, nil
}

func (s *queries) ListTasks(ctx context.Context, userID string) ([]tracker.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY start_date, id`, userID)
}

func (s *queries) TasksCovering(ctx context.Context, userID, categoryID string, date generic.TimePoint) ([]tracker.Task, error) {
	d := date.String()
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND category_id = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date, id`, userID, categoryID, d, d)
}

func (s *queries) queryTasks(ctx context.Context, query string, args ...any) ([]tracker.Task, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var result []tracker.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *queries) DeleteTask(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return mapDeleteErr("delete task", err)
	}
	return requireRow(res, "task", id)
}

func (s *queries) IncrementTask(ctx context.Context, id string, delta int) (*tracker.Task, error) {
	t, err := scanTask(s.q.QueryRowContext(ctx, `
		UPDATE tasks
		SET completed_duration = completed_duration + ?,
		    completed = (completed_duration + ?) >= goal_duration
		WHERE id = ?
		RETURNING `+taskColumns, delta, delta, id))
	if err != nil {
		return nil, mapQueryErr("increment task "+id, err)
	}
	return t, nil
}

// =============================================================================
// HABITS AND PROGRESS WINDOWS
// =============================================================================

const habitColumns = `id, user_id, category_id, project_id, title, period, number_of_periods,
	goal_duration, start_date, created_at`

func scanHabit(row scanner) (*tracker.Habit, error) {
	var (
		h                      tracker.Habit
		project                sql.NullString
		period, start, created string
	)
	err := row.Scan(&h.ID, &h.UserID, &h.CategoryID, &project, &h.Title, &period,
		&h.NumberOfPeriods, &h.GoalDuration, &start, &created)
	if err != nil {
		return nil, err
	}
	h.ProjectID = fromNullString(project)
	h.Period = generic.Cadence(period)
	h.StartDate = parseDate(start)
	h.CreatedAt = parseTime(created)
	return &h, nil
}

func (s *queries) CreateHabit(ctx context.Context, h *tracker.Habit) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO habits (`+habitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.UserID, h.CategoryID, toNullString(h.ProjectID), h.Title, string(h.Period),
		h.NumberOfPeriods, h.GoalDuration, h.StartDate.String(), formatTime(h.CreatedAt),
	)
	return mapInsertErr("create habit", err)
}

func (s *queries) GetHabit(ctx context.Context, id string) (*tracker.Habit, error) {
	h, err := scanHabit(s.q.QueryRowContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE id = ?`, id))
	if err != nil {
		return nil, mapQueryErr("get habit", err)
	}
	return h, nil
}

func (s *queries) ListHabits(ctx context.Context, userID string) ([]tracker.Habit, error) {
	return s.queryHabits(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id = ? ORDER BY start_date, id`, userID)
}

func (s *queries) ListAllHabits(ctx context.Context) ([]tracker.Habit, error) {
	return s.queryHabits(ctx, `SELECT `+habitColumns+` FROM habits ORDER BY start_date, id`)
}

func (s *queries) HabitsByCategory(ctx context.Context, userID, categoryID string) ([]tracker.Habit, error) {
	return s.queryHabits(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id = ? AND category_id = ? ORDER BY start_date, id`,
		userID, categoryID)
}

func (s *queries) queryHabits(ctx context.Context, query string, args ...any) ([]tracker.Habit, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	var result []tracker.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}

// DeleteHabit removes the habit; its windows go with it through the cascade.
func (s *queries) DeleteHabit(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id)
	if err != nil {
		return mapDeleteErr("delete habit", err)
	}
	return requireRow(res, "habit", id)
}

const progressColumns = `id, habit_id, user_id, category_id, start_date, end_date,
	goal_duration, completed_duration, completed`

func scanProgress(row scanner) (*tracker.HabitProgress, error) {
	var (
		p          tracker.HabitProgress
		start, end string
	)
	err := row.Scan(&p.ID, &p.HabitID, &p.UserID, &p.CategoryID, &start, &end,
		&p.GoalDuration, &p.CompletedDuration, &p.Completed)
	if err != nil {
		return nil, err
	}
	p.StartDate = parseDate(start)
	p.EndDate = parseDate(end)
	return &p, nil
}

func (s *queries) CreateHabitProgress(ctx context.Context, p *tracker.HabitProgress) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO habit_progress (`+progressColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (habit_id, start_date) DO NOTHING`,
		p.ID, p.HabitID, p.UserID, p.CategoryID, p.StartDate.String(), p.EndDate.String(),
		p.GoalDuration, p.CompletedDuration, p.Completed,
	)
	if err != nil {
		return false, mapInsertErr("create habit progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create habit progress: %w", err)
	}
	return n == 1, nil
}

func (s *queries) ListHabitProgress(ctx context.Context, habitID string) ([]tracker.HabitProgress, error) {
	return s.queryProgress(ctx,
		`SELECT `+progressColumns+` FROM habit_progress WHERE habit_id = ? ORDER BY start_date`, habitID)
}

func (s *queries) LatestHabitProgress(ctx context.Context, habitID string) (*tracker.HabitProgress, error) {
	p, err := scanProgress(s.q.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM habit_progress WHERE habit_id = ? ORDER BY start_date DESC LIMIT 1`,
		habitID))
	if err != nil {
		return nil, mapQueryErr("latest habit progress", err)
	}
	return p, nil
}

func (s *queries) HabitProgressCovering(ctx context.Context, userID, categoryID string, date generic.TimePoint) ([]tracker.HabitProgress, error) {
	d := date.String()
	return s.queryProgress(ctx, `
		SELECT `+progressColumns+` FROM habit_progress
		WHERE user_id = ? AND category_id = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date, id`, userID, categoryID, d, d)
}

func (s *queries) queryProgress(ctx context.Context, query string, args ...any) ([]tracker.HabitProgress, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query habit progress: %w", err)
	}
	defer rows.Close()

	var result []tracker.HabitProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit progress: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *queries) IncrementHabitProgress(ctx context.Context, id string, delta int) (*tracker.HabitProgress, error) {
	p, err := scanProgress(s.q.QueryRowContext(ctx, `
		UPDATE habit_progress
		SET completed_duration = completed_duration + ?,
		    completed = (completed_duration + ?) >= goal_duration
		WHERE id = ?
		RETURNING `+progressColumns, delta, delta, id))
	if err != nil {
		return nil, mapQueryErr("increment habit progress "+id, err)
	}
	return p, nil
}

// =============================================================================
// TODOS
// =============================================================================

const todoColumns = `id, user_id, project_id, title, completed, created_at`

func scanToDo(row scanner) (*tracker.ToDo, error) {
	var (
		t       tracker.ToDo
		project sql.NullString
		created string
	)
	if err := row.Scan(&t.ID, &t.UserID, &project, &t.Title, &t.Completed, &created); err != nil {
		return nil, err
	}
	t.ProjectID = fromNullString(project)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func (s *queries) CreateToDo(ctx context.Context, t *tracker.ToDo) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO todos (`+todoColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, toNullString(t.ProjectID), t.Title, t.Completed, formatTime(t.CreatedAt),
	)
	return mapInsertErr("create todo", err)
}

func (s *queries) GetToDo(ctx context.Context, id string) (*tracker.ToDo, error) {
	t, err := scanToDo(s.q.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = ?`, id))
	if err != nil {
		return nil, mapQueryErr("get todo", err)
	}
	return t, nil
}

func (s *queries) ListToDos(ctx context.Context, userID string) ([]tracker.ToDo, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var result []tracker.ToDo
	for rows.Next() {
		t, err := scanToDo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *queries) SetToDoCompleted(ctx context.Context, id string, completed bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE todos SET completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	return requireRow(res, "todo", id)
}

func (s *queries) DeleteToDo(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return mapDeleteErr("delete todo", err)
	}
	return requireRow(res, "todo", id)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDate(s string) generic.TimePoint {
	tp, _ := generic.ParseDate(s)
	return tp
}

func toNullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, generic.ErrNotFound)
	}
	return nil
}

func constraintCode(err error) sqlite3.ErrNoExtended {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode
	}
	return 0
}

// mapInsertErr turns unique violations into ErrDuplicate and a missing
// parent row into ErrNotFound.
func mapInsertErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch constraintCode(err) {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%s: %w", op, generic.ErrDuplicate)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%s: referenced row: %w", op, generic.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// mapDeleteErr turns a restrict foreign key into ErrReferenced.
func mapDeleteErr(op string, err error) error {
	if constraintCode(err) == sqlite3.ErrConstraintForeignKey {
		return fmt.Errorf("%s: %w", op, generic.ErrReferenced)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func mapQueryErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, generic.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

var _ tracker.TxStore = (*Store)(nil)
