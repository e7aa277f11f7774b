/*
Package gormdb implements tracker.TxStore on GORM.

PURPOSE:
  The production store. PostgreSQL is the intended database; SQLite runs the
  same code for local use and for the store contract tests.

SCHEMA:
  AutoMigrate builds the tables from the row models in models.go, including
  the unique (user_id, name) indexes, the unique (habit_id, start_date) index
  and the foreign keys with their delete rules.

ATOMIC INCREMENTS:
  UPDATE tasks
     SET completed_duration = completed_duration + ?,
         completed          = (completed_duration + ?) >= goal_duration
   WHERE id = ?

  expressed with gorm.Expr, then the row is read back in the same
  transaction. On PostgreSQL the UPDATE holds the row lock until commit, so
  the reload sees exactly this write.

HABIT WINDOWS:
  Windows are inserted with ON CONFLICT (habit_id, start_date) DO NOTHING.
  Two transactions catching up the same habit both succeed; the second one
  waits for the first to commit and then finds the row in its window scan.

ERRORS:
  gorm.Config.TranslateError turns driver codes into gorm.ErrDuplicatedKey
  and gorm.ErrForeignKeyViolated, which map to generic.ErrDuplicate,
  generic.ErrNotFound (insert) and generic.ErrReferenced (delete).

USAGE:
  store, err := gormdb.OpenPostgres(dsn, 50)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
)

// Store implements tracker.TxStore on a *gorm.DB.
type Store struct {
	db *gorm.DB

	// mu is set on transaction views. A transaction owns one connection and
	// the accrual engine scans from two goroutines.
	mu *sync.Mutex
}

// New migrates the schema and wraps db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &Store{db: db}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(dsn string, maxOpenConns int) (*Store, error) {
	cfg := gormConfig()
	cfg.PrepareStmt = true

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database with GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 100
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db)
}

// OpenSQLite opens a SQLite database through GORM. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string) (*Store, error) {
	if err := ensureDirForSQLite(path); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	// One connection: a single writer, and ":memory:" lives on it.
	sqlDB.SetMaxOpenConns(1)

	return New(db)
}

// ensureDirForSQLite creates the parent directory of a database file.
func ensureDirForSQLite(path string) error {
	if strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory") {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside a GORM transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store tracker.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, mu: &sync.Mutex{}})
	})
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, func()) {
	if s.mu == nil {
		return s.db.WithContext(ctx), func() {}
	}
	s.mu.Lock()
	return s.db.WithContext(ctx), s.mu.Unlock
}

// atomically runs fn in a transaction unless the store already is one.
func (s *Store) atomically(ctx context.Context, fn func(db *gorm.DB) error) error {
	db, done := s.conn(ctx)
	defer done()
	if s.mu != nil {
		return fn(db)
	}
	return db.Transaction(fn)
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *tracker.User) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create user", db.Create(fromUser(u)).Error)
}

func (s *Store) GetUser(ctx context.Context, id string) (*tracker.User, error) {
	db, done := s.conn(ctx)
	defer done()
	var m userModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get user", err)
	}
	return m.toUser(), nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) CreateCategory(ctx context.Context, c *tracker.Category) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create category", db.Create(fromCategory(c)).Error)
}

func (s *Store) GetCategory(ctx context.Context, id string) (*tracker.Category, error) {
	db, done := s.conn(ctx)
	defer done()
	var m categoryModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get category", err)
	}
	c := m.toCategory()
	return &c, nil
}

func (s *Store) FindCategoryByName(ctx context.Context, userID, name string) (*tracker.Category, error) {
	db, done := s.conn(ctx)
	defer done()
	var m categoryModel
	if err := db.Where("user_id = ? AND name = ?", userID, name).Take(&m).Error; err != nil {
		return nil, mapQueryErr("find category", err)
	}
	c := m.toCategory()
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]tracker.Category, error) {
	db, done := s.conn(ctx)
	defer done()
	var rows []categoryModel
	if err := db.Where("user_id = ?", userID).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]tracker.Category, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toCategory())
	}
	return out, nil
}

func (s *Store) RenameCategory(ctx context.Context, id, name string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Model(&categoryModel{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return mapInsertErr("rename category", res.Error)
	}
	return requireRow(res, "category", id)
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Where("id = ?", id).Delete(&categoryModel{})
	if res.Error != nil {
		return mapDeleteErr("delete category", res.Error)
	}
	return requireRow(res, "category", id)
}

func (s *Store) CategoryReferences(ctx context.Context, categoryID string) (tracker.CategoryReferences, error) {
	db, done := s.conn(ctx)
	defer done()

	var activities, tasks, habits int64
	if err := db.Model(&activityModel{}).Where("category_id = ?", categoryID).Count(&activities).Error; err != nil {
		return tracker.CategoryReferences{}, fmt.Errorf("count category activities: %w", err)
	}
	if err := db.Model(&taskModel{}).Where("category_id = ?", categoryID).Count(&tasks).Error; err != nil {
		return tracker.CategoryReferences{}, fmt.Errorf("count category tasks: %w", err)
	}
	if err := db.Model(&habitModel{}).Where("category_id = ?", categoryID).Count(&habits).Error; err != nil {
		return tracker.CategoryReferences{}, fmt.Errorf("count category habits: %w", err)
	}
	return tracker.CategoryReferences{
		Activities: int(activities),
		Tasks:      int(tasks),
		Habits:     int(habits),
	}, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (s *Store) CreateProject(ctx context.Context, p *tracker.Project) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create project", db.Create(fromProject(p)).Error)
}

func (s *Store) GetProject(ctx context.Context, id string) (*tracker.Project, error) {
	db, done := s.conn(ctx)
	defer done()
	var m projectModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get project", err)
	}
	p := m.toProject()
	return &p, nil
}

func (s *Store) FindProjectByName(ctx context.Context, userID, name string) (*tracker.Project, error) {
	db, done := s.conn(ctx)
	defer done()
	var m projectModel
	if err := db.Where("user_id = ? AND name = ?", userID, name).Take(&m).Error; err != nil {
		return nil, mapQueryErr("find project", err)
	}
	p := m.toProject()
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]tracker.Project, error) {
	db, done := s.conn(ctx)
	defer done()
	var rows []projectModel
	if err := db.Where("user_id = ?", userID).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]tracker.Project, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toProject())
	}
	return out, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Where("id = ?", id).Delete(&projectModel{})
	if res.Error != nil {
		return mapDeleteErr("delete project", res.Error)
	}
	return requireRow(res, "project", id)
}

// =============================================================================
// ACTIVITIES AND ACCRUAL ENTRIES
// =============================================================================

func (s *Store) CreateActivity(ctx context.Context, a *tracker.Activity) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create activity", db.Create(fromActivity(a)).Error)
}

func (s *Store) GetActivity(ctx context.Context, id string) (*tracker.Activity, error) {
	db, done := s.conn(ctx)
	defer done()
	var m activityModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get activity", err)
	}
	a := m.toActivity()
	return &a, nil
}

func (s *Store) ListActivities(ctx context.Context, f tracker.ActivityFilter) ([]tracker.Activity, error) {
	db, done := s.conn(ctx)
	defer done()

	q := db.Where("user_id = ?", f.UserID)
	if f.CategoryID != "" {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if !f.From.IsZero() {
		q = q.Where("date >= ?", f.From.String())
	}
	if !f.To.IsZero() {
		q = q.Where("date <= ?", f.To.String())
	}

	var rows []activityModel
	if err := q.Order("date ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make([]tracker.Activity, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toActivity())
	}
	return out, nil
}

func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Where("id = ?", id).Delete(&activityModel{})
	if res.Error != nil {
		return mapDeleteErr("delete activity", res.Error)
	}
	return requireRow(res, "activity", id)
}

func (s *Store) RecordAccruals(ctx context.Context, entries []tracker.AccrualEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]accrualModel, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, accrualModel{
			ActivityID: e.ActivityID,
			TargetKind: string(e.TargetKind),
			TargetID:   e.TargetID,
			Delta:      e.Delta,
		})
	}

	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("record accruals", db.Create(&rows).Error)
}

func (s *Store) AccrualsForActivity(ctx context.Context, activityID string) ([]tracker.AccrualEntry, error) {
	db, done := s.conn(ctx)
	defer done()
	var rows []accrualModel
	if err := db.Where("activity_id = ?", activityID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list accrual entries: %w", err)
	}
	var out []tracker.AccrualEntry
	for _, m := range rows {
		out = append(out, tracker.AccrualEntry{
			ActivityID: m.ActivityID,
			TargetKind: generic.TargetKind(m.TargetKind),
			TargetID:   m.TargetID,
			Delta:      m.Delta,
		})
	}
	return out, nil
}

// =============================================================================
// TASKS
// =============================================================================

func (s *Store) CreateTask(ctx context.Context, t *tracker.Task) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create task", db.Create(fromTask(t)).Error)
}

func (s *Store) GetTask(ctx context.Context, id string) (*tracker.Task, error) {
	db, done := s.conn(ctx)
	defer done()
	var m taskModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get task", err)
	}
	t := m.toTask()
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]tracker.Task, error) {
	db, done := s.conn(ctx)
	defer done()
	return findTasks(db.Where("user_id = ?", userID))
}

func (s *Store) TasksCovering(ctx context.Context, userID, categoryID string, date generic.TimePoint) ([]tracker.Task, error) {
	db, done := s.conn(ctx)
	defer done()
	d := date.String()
	return findTasks(db.Where(
		"user_id = ? AND category_id = ? AND start_date <= ? AND end_date >= ?",
		userID, categoryID, d, d,
	))
}

func findTasks(q *gorm.DB) ([]tracker.Task, error) {
	var rows []taskModel
	if err := q.Order("start_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var out []tracker.Task
	for _, m := range rows {
		out = append(out, m.toTask())
	}
	return out, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Where("id = ?", id).Delete(&taskModel{})
	if res.Error != nil {
		return mapDeleteErr("delete task", res.Error)
	}
	return requireRow(res, "task", id)
}

func (s *Store) IncrementTask(ctx context.Context, id string, delta int) (*tracker.Task, error) {
	var m taskModel
	err := s.atomically(ctx, func(db *gorm.DB) error {
		res := db.Model(&taskModel{}).Where("id = ?", id).Updates(increment(delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return db.Where("id = ?", id).Take(&m).Error
	})
	if err != nil {
		return nil, mapQueryErr("increment task", err)
	}
	t := m.toTask()
	return &t, nil
}

// increment is the column update shared by tasks and habit windows. Both
// expressions read the pre-update completed_duration.
func increment(delta int) map[string]any {
	return map[string]any{
		"completed_duration": gorm.Expr("completed_duration + ?", delta),
		"completed":          gorm.Expr("(completed_duration + ?) >= goal_duration", delta),
	}
}

// =============================================================================
// HABITS AND HABIT PROGRESS
// =============================================================================

func (s *Store) CreateHabit(ctx context.Context, h *tracker.Habit) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create habit", db.Create(fromHabit(h)).Error)
}

func (s *Store) GetHabit(ctx context.Context, id string) (*tracker.Habit, error) {
	db, done := s.conn(ctx)
	defer done()
	var m habitModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get habit", err)
	}
	h := m.toHabit()
	return &h, nil
}

func (s *Store) ListHabits(ctx context.Context, userID string) ([]tracker.Habit, error) {
	db, done := s.conn(ctx)
	defer done()
	return findHabits(db.Where("user_id = ?", userID))
}

func (s *Store) ListAllHabits(ctx context.Context) ([]tracker.Habit, error) {
	db, done := s.conn(ctx)
	defer done()
	return findHabits(db)
}

func (s *Store) HabitsByCategory(ctx context.Context, userID, categoryID string) ([]tracker.Habit, error) {
	db, done := s.conn(ctx)
	defer done()
	return findHabits(db.Where("user_id = ? AND category_id = ?", userID, categoryID))
}

func findHabits(q *gorm.DB) ([]tracker.Habit, error) {
	var rows []habitModel
	if err := q.Order("start_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	var out []tracker.Habit
	for _, m := range rows {
		out = append(out, m.toHabit())
	}
	return out, nil
}

func (s *Store) DeleteHabit(ctx context.Context, id string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Where("id = ?", id).Delete(&habitModel{})
	if res.Error != nil {
		return mapDeleteErr("delete habit", res.Error)
	}
	return requireRow(res, "habit", id)
}

func (s *Store) CreateHabitProgress(ctx context.Context, p *tracker.HabitProgress) (bool, error) {
	db, done := s.conn(ctx)
	defer done()
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "habit_id"}, {Name: "start_date"}},
		DoNothing: true,
	}).Create(fromProgress(p))
	if res.Error != nil {
		return false, mapInsertErr("create habit progress", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListHabitProgress(ctx context.Context, habitID string) ([]tracker.HabitProgress, error) {
	db, done := s.conn(ctx)
	defer done()
	return findProgress(db.Where("habit_id = ?", habitID))
}

func (s *Store) LatestHabitProgress(ctx context.Context, habitID string) (*tracker.HabitProgress, error) {
	db, done := s.conn(ctx)
	defer done()
	var m progressModel
	err := db.Where("habit_id = ?", habitID).Order("start_date DESC").Limit(1).Take(&m).Error
	if err != nil {
		return nil, mapQueryErr("latest habit progress", err)
	}
	p := m.toProgress()
	return &p, nil
}

func (s *Store) HabitProgressCovering(ctx context.Context, userID, categoryID string, date generic.TimePoint) ([]tracker.HabitProgress, error) {
	db, done := s.conn(ctx)
	defer done()
	d := date.String()
	return findProgress(db.Where(
		"user_id = ? AND category_id = ? AND start_date <= ? AND end_date >= ?",
		userID, categoryID, d, d,
	))
}

func findProgress(q *gorm.DB) ([]tracker.HabitProgress, error) {
	var rows []progressModel
	if err := q.Order("start_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list habit progress: %w", err)
	}
	var out []tracker.HabitProgress
	for _, m := range rows {
		out = append(out, m.toProgress())
	}
	return out, nil
}

func (s *Store) IncrementHabitProgress(ctx context.Context, id string, delta int) (*tracker.HabitProgress, error) {
	var m progressModel
	err := s.atomically(ctx, func(db *gorm.DB) error {
		res := db.Model(&progressModel{}).Where("id = ?", id).Updates(increment(delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return db.Where("id = ?", id).Take(&m).Error
	})
	if err != nil {
		return nil, mapQueryErr("increment habit progress", err)
	}
	p := m.toProgress()
	return &p, nil
}

// =============================================================================
// TODOS
// =============================================================================

func (s *Store) CreateToDo(ctx context.Context, t *tracker.ToDo) error {
	db, done := s.conn(ctx)
	defer done()
	return mapInsertErr("create todo", db.Create(fromToDo(t)).Error)
}

func (s *Store) GetToDo(ctx context.Context, id string) (*tracker.ToDo, error) {
	db, done := s.conn(ctx)
	defer done()
	var m toDoModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, mapQueryErr("get todo", err)
	}
	t := m.toToDo()
	return &t, nil
}

func (s *Store) ListToDos(ctx context.Context, userID string) ([]tracker.ToDo, error) {
	db, done := s.conn(ctx)
	defer done()
	var rows []toDoModel
	if err := db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	var out []tracker.ToDo
	for _, m := range rows {
		out = append(out, m.toToDo())
	}
	return out, nil
}

func (s *Store) SetToDoCompleted(ctx context.Context, id string, completed bool) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Model(&toDoModel{}).Where("id = ?", id).Update("completed", completed)
	if res.Error != nil {
		return fmt.Errorf("update todo: %w", res.Error)
	}
	return requireRow(res, "todo", id)
}

func (s *Store) DeleteToDo(ctx context.Context, id string) error {
	db, done := s.conn(ctx)
	defer done()
	res := db.Where("id = ?", id).Delete(&toDoModel{})
	if res.Error != nil {
		return mapDeleteErr("delete todo", res.Error)
	}
	return requireRow(res, "todo", id)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func requireRow(res *gorm.DB, kind, id string) error {
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, generic.ErrNotFound)
	}
	return nil
}

func mapInsertErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, generic.ErrDuplicate)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%s: referenced row: %w", op, generic.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func mapDeleteErr(op string, err error) error {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("%s: %w", op, generic.ErrReferenced)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func mapQueryErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, generic.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

var _ tracker.TxStore = (*Store)(nil)
