// Package store provides an in-memory tracker.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every entity in maps guarded by one RWMutex. It enforces the
// same constraints the SQL stores declare: owners must exist, unique names
// per user, restrict on referenced categories, cascade from habits to their
// windows and from activities to their accrual entries.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]tracker.User
	categories map[string]tracker.Category
	projects   map[string]tracker.Project
	activities map[string]tracker.Activity
	accruals   map[string][]tracker.AccrualEntry // by activity id
	tasks      map[string]tracker.Task
	habits     map[string]tracker.Habit
	progress   map[string]tracker.HabitProgress
	todos      map[string]tracker.ToDo
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]tracker.User),
		categories: make(map[string]tracker.Category),
		projects:   make(map[string]tracker.Project),
		activities: make(map[string]tracker.Activity),
		accruals:   make(map[string][]tracker.AccrualEntry),
		tasks:      make(map[string]tracker.Task),
		habits:     make(map[string]tracker.Habit),
		progress:   make(map[string]tracker.HabitProgress),
		todos:      make(map[string]tracker.ToDo),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, generic.ErrNotFound)
}

// requireUserLocked stands in for the owner foreign key of the SQL stores.
func (m *Memory) requireUserLocked(id string) error {
	if _, ok := m.users[id]; !ok {
		return notFound("user", id)
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u *tracker.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, generic.ErrDuplicate)
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*tracker.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (m *Memory) CreateCategory(_ context.Context, c *tracker.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; ok {
		return fmt.Errorf("category %s: %w", c.ID, generic.ErrDuplicate)
	}
	if err := m.requireUserLocked(c.UserID); err != nil {
		return err
	}
	if m.categoryNamedLocked(c.UserID, c.Name) != nil {
		return fmt.Errorf("category name %q: %w", c.Name, generic.ErrDuplicate)
	}
	m.categories[c.ID] = *c
	return nil
}

func (m *Memory) GetCategory(_ context.Context, id string) (*tracker.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, notFound("category", id)
	}
	return &c, nil
}

func (m *Memory) FindCategoryByName(_ context.Context, userID, name string) (*tracker.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.categoryNamedLocked(userID, name); c != nil {
		return c, nil
	}
	return nil, notFound("category", name)
}

func (m *Memory) categoryNamedLocked(userID, name string) *tracker.Category {
	for _, c := range m.categories {
		if c.UserID == userID && c.Name == name {
			return &c
		}
	}
	return nil
}

func (m *Memory) ListCategories(_ context.Context, userID string) ([]tracker.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Category
	for _, c := range m.categories {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) RenameCategory(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return notFound("category", id)
	}
	if other := m.categoryNamedLocked(c.UserID, name); other != nil && other.ID != id {
		return fmt.Errorf("category name %q: %w", name, generic.ErrDuplicate)
	}
	c.Name = name
	m.categories[id] = c
	return nil
}

func (m *Memory) DeleteCategory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return notFound("category", id)
	}
	if m.referencesLocked(id).Total() > 0 {
		return fmt.Errorf("category %s: %w", id, generic.ErrReferenced)
	}
	delete(m.categories, id)
	return nil
}

func (m *Memory) CategoryReferences(_ context.Context, categoryID string) (tracker.CategoryReferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.referencesLocked(categoryID), nil
}

func (m *Memory) referencesLocked(categoryID string) tracker.CategoryReferences {
	var refs tracker.CategoryReferences
	for _, a := range m.activities {
		if a.CategoryID == categoryID {
			refs.Activities++
		}
	}
	for _, t := range m.tasks {
		if t.CategoryID == categoryID {
			refs.Tasks++
		}
	}
	for _, h := range m.habits {
		if h.CategoryID == categoryID {
			refs.Habits++
		}
	}
	return refs
}

func (m *Memory) requireCategoryLocked(id string) error {
	if _, ok := m.categories[id]; !ok {
		return notFound("category", id)
	}
	return nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (m *Memory) CreateProject(_ context.Context, p *tracker.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, generic.ErrDuplicate)
	}
	if err := m.requireUserLocked(p.UserID); err != nil {
		return err
	}
	for _, other := range m.projects {
		if other.UserID == p.UserID && other.Name == p.Name {
			return fmt.Errorf("project name %q: %w", p.Name, generic.ErrDuplicate)
		}
	}
	m.projects[p.ID] = *p
	return nil
}

func (m *Memory) GetProject(_ context.Context, id string) (*tracker.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	return &p, nil
}

func (m *Memory) FindProjectByName(_ context.Context, userID, name string) (*tracker.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.UserID == userID && p.Name == name {
			return &p, nil
		}
	}
	return nil, notFound("project", name)
}

func (m *Memory) ListProjects(_ context.Context, userID string) ([]tracker.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteProject clears the project reference on tasks, habits and to-dos.
func (m *Memory) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return notFound("project", id)
	}
	for k, t := range m.tasks {
		if t.ProjectID != nil && *t.ProjectID == id {
			t.ProjectID = nil
			m.tasks[k] = t
		}
	}
	for k, h := range m.habits {
		if h.ProjectID != nil && *h.ProjectID == id {
			h.ProjectID = nil
			m.habits[k] = h
		}
	}
	for k, td := range m.todos {
		if td.ProjectID != nil && *td.ProjectID == id {
			td.ProjectID = nil
			m.todos[k] = td
		}
	}
	delete(m.projects, id)
	return nil
}

// =============================================================================
// ACTIVITIES AND ACCRUAL ENTRIES
// =============================================================================

func (m *Memory) CreateActivity(_ context.Context, a *tracker.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[a.ID]; ok {
		return fmt.Errorf("activity %s: %w", a.ID, generic.ErrDuplicate)
	}
	if err := m.requireUserLocked(a.UserID); err != nil {
		return err
	}
	if err := m.requireCategoryLocked(a.CategoryID); err != nil {
		return err
	}
	m.activities[a.ID] = *a
	return nil
}

func (m *Memory) GetActivity(_ context.Context, id string) (*tracker.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return nil, notFound("activity", id)
	}
	return &a, nil
}

func (m *Memory) ListActivities(_ context.Context, f tracker.ActivityFilter) ([]tracker.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Activity
	for _, a := range m.activities {
		if a.UserID != f.UserID {
			continue
		}
		if f.CategoryID != "" && a.CategoryID != f.CategoryID {
			continue
		}
		if !f.From.IsZero() && a.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && a.Date.After(f.To) {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteActivity also drops the activity's accrual entries.
func (m *Memory) DeleteActivity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[id]; !ok {
		return notFound("activity", id)
	}
	delete(m.activities, id)
	delete(m.accruals, id)
	return nil
}

func (m *Memory) RecordAccruals(_ context.Context, entries []tracker.AccrualEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.activities[e.ActivityID]; !ok {
			return notFound("activity", e.ActivityID)
		}
	}
	for _, e := range entries {
		m.accruals[e.ActivityID] = append(m.accruals[e.ActivityID], e)
	}
	return nil
}

func (m *Memory) AccrualsForActivity(_ context.Context, activityID string) ([]tracker.AccrualEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]tracker.AccrualEntry(nil), m.accruals[activityID]...), nil
}

// =============================================================================
// TASKS
// =============================================================================

func (m *Memory) CreateTask(_ context.Context, t *tracker.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, generic.ErrDuplicate)
	}
	if err := m.requireUserLocked(t.UserID); err != nil {
		return err
	}
	if err := m.requireCategoryLocked(t.CategoryID); err != nil {
		return err
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*tracker.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	return &t, nil
}

func (m *Memory) ListTasks(_ context.Context, userID string) ([]tracker.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Task
	for _, t := range m.tasks {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	sortTasks(result)
	return result, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return notFound("task", id)
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) TasksCovering(_ context.Context, userID, categoryID string, date generic.TimePoint) ([]tracker.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Task
	for _, t := range m.tasks {
		if t.UserID == userID && t.CategoryID == categoryID && t.Window().Contains(date) {
			result = append(result, t)
		}
	}
	sortTasks(result)
	return result, nil
}

// IncrementTask adds delta under the write lock, so the read and the write
// are one step.
func (m *Memory) IncrementTask(_ context.Context, id string, delta int) (*tracker.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	t.CompletedDuration += delta
	t.Completed = generic.IsComplete(t.CompletedDuration, t.GoalDuration)
	m.tasks[id] = t
	return &t, nil
}

func sortTasks(ts []tracker.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].StartDate.Equal(ts[j].StartDate) {
			return ts[i].StartDate.Before(ts[j].StartDate)
		}
		return ts[i].ID < ts[j].ID
	})
}

// =============================================================================
// HABITS AND PROGRESS WINDOWS
// =============================================================================

func (m *Memory) CreateHabit(_ context.Context, h *tracker.Habit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.habits[h.ID]; ok {
		return fmt.Errorf("habit %s: %w", h.ID, generic.ErrDuplicate)
	}
	if err := m.requireUserLocked(h.UserID); err != nil {
		return err
	}
	if err := m.requireCategoryLocked(h.CategoryID); err != nil {
		return err
	}
	m.habits[h.ID] = *h
	return nil
}

func (m *Memory) GetHabit(_ context.Context, id string) (*tracker.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.habits[id]
	if !ok {
		return nil, notFound("habit", id)
	}
	return &h, nil
}

func (m *Memory) ListHabits(_ context.Context, userID string) ([]tracker.Habit, error) {
	return m.filterHabits(func(h tracker.Habit) bool { return h.UserID == userID }), nil
}

func (m *Memory) ListAllHabits(_ context.Context) ([]tracker.Habit, error) {
	return m.filterHabits(func(tracker.Habit) bool { return true }), nil
}

func (m *Memory) HabitsByCategory(_ context.Context, userID, categoryID string) ([]tracker.Habit, error) {
	return m.filterHabits(func(h tracker.Habit) bool {
		return h.UserID == userID && h.CategoryID == categoryID
	}), nil
}

func (m *Memory) filterHabits(keep func(tracker.Habit) bool) []tracker.Habit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Habit
	for _, h := range m.habits {
		if keep(h) {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// DeleteHabit cascades to the habit's progress windows.
func (m *Memory) DeleteHabit(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.habits[id]; !ok {
		return notFound("habit", id)
	}
	for k, p := range m.progress {
		if p.HabitID == id {
			delete(m.progress, k)
		}
	}
	delete(m.habits, id)
	return nil
}

func (m *Memory) CreateHabitProgress(_ context.Context, p *tracker.HabitProgress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.progress[p.ID]; ok {
		return false, fmt.Errorf("habit progress %s: %w", p.ID, generic.ErrDuplicate)
	}
	if _, ok := m.habits[p.HabitID]; !ok {
		return false, notFound("habit", p.HabitID)
	}
	for _, other := range m.progress {
		if other.HabitID == p.HabitID && other.StartDate.Equal(p.StartDate) {
			return false, nil
		}
	}
	m.progress[p.ID] = *p
	return true, nil
}

func (m *Memory) ListHabitProgress(_ context.Context, habitID string) ([]tracker.HabitProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.HabitProgress
	for _, p := range m.progress {
		if p.HabitID == habitID {
			result = append(result, p)
		}
	}
	sortProgress(result)
	return result, nil
}

func (m *Memory) LatestHabitProgress(_ context.Context, habitID string) (*tracker.HabitProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *tracker.HabitProgress
	for _, p := range m.progress {
		if p.HabitID != habitID {
			continue
		}
		if latest == nil || p.StartDate.After(latest.StartDate) {
			latest = &p
		}
	}
	if latest == nil {
		return nil, notFound("habit progress for habit", habitID)
	}
	return latest, nil
}

func (m *Memory) HabitProgressCovering(_ context.Context, userID, categoryID string, date generic.TimePoint) ([]tracker.HabitProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.HabitProgress
	for _, p := range m.progress {
		if p.UserID == userID && p.CategoryID == categoryID && p.Window().Contains(date) {
			result = append(result, p)
		}
	}
	sortProgress(result)
	return result, nil
}

func (m *Memory) IncrementHabitProgress(_ context.Context, id string, delta int) (*tracker.HabitProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[id]
	if !ok {
		return nil, notFound("habit progress", id)
	}
	p.CompletedDuration += delta
	p.Completed = generic.IsComplete(p.CompletedDuration, p.GoalDuration)
	m.progress[id] = p
	return &p, nil
}

func sortProgress(ps []tracker.HabitProgress) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].StartDate.Equal(ps[j].StartDate) {
			return ps[i].StartDate.Before(ps[j].StartDate)
		}
		return ps[i].ID < ps[j].ID
	})
}

// =============================================================================
// TODOS
// =============================================================================

func (m *Memory) CreateToDo(_ context.Context, t *tracker.ToDo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.todos[t.ID]; ok {
		return fmt.Errorf("todo %s: %w", t.ID, generic.ErrDuplicate)
	}
	if err := m.requireUserLocked(t.UserID); err != nil {
		return err
	}
	m.todos[t.ID] = *t
	return nil
}

func (m *Memory) GetToDo(_ context.Context, id string) (*tracker.ToDo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.todos[id]
	if !ok {
		return nil, notFound("todo", id)
	}
	return &t, nil
}

func (m *Memory) ListToDos(_ context.Context, userID string) ([]tracker.ToDo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.ToDo
	for _, t := range m.todos {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) SetToDoCompleted(_ context.Context, id string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok {
		return notFound("todo", id)
	}
	t.Completed = completed
	m.todos[id] = t
	return nil
}

func (m *Memory) DeleteToDo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.todos[id]; !ok {
		return notFound("todo", id)
	}
	delete(m.todos, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
//
// Transactions are serialized by txMu and simulated with a snapshot +
// rollback on error. Inside a transaction fn receives the Memory itself, so
// each call still takes mu on its own and concurrent reads from one
// transaction are safe. Writes made outside WithTx while a transaction is
// rolling back are lost with it; callers that need isolation write through
// WithTx only.
type TxMemory struct {
	*Memory
	txMu sync.Mutex
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(tracker.Store) error) error {
	tm.txMu.Lock()
	defer tm.txMu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users      map[string]tracker.User
	categories map[string]tracker.Category
	projects   map[string]tracker.Project
	activities map[string]tracker.Activity
	accruals   map[string][]tracker.AccrualEntry
	tasks      map[string]tracker.Task
	habits     map[string]tracker.Habit
	progress   map[string]tracker.HabitProgress
	todos      map[string]tracker.ToDo
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	accruals := make(map[string][]tracker.AccrualEntry, len(m.accruals))
	for k, v := range m.accruals {
		accruals[k] = append([]tracker.AccrualEntry(nil), v...)
	}
	return memorySnapshot{
		users:      cloneMap(m.users),
		categories: cloneMap(m.categories),
		projects:   cloneMap(m.projects),
		activities: cloneMap(m.activities),
		accruals:   accruals,
		tasks:      cloneMap(m.tasks),
		habits:     cloneMap(m.habits),
		progress:   cloneMap(m.progress),
		todos:      cloneMap(m.todos),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = s.users
	m.categories = s.categories
	m.projects = s.projects
	m.activities = s.activities
	m.accruals = s.accruals
	m.tasks = s.tasks
	m.habits = s.habits
	m.progress = s.progress
	m.todos = s.todos
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ tracker.TxStore = (*TxMemory)(nil)
