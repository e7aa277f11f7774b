/*
service.go - Operations the UI layer calls

PURPOSE:
  Every user-facing operation lives here. Each one validates its input,
  runs its writes inside one TxStore.WithTx unit bounded by StoreTimeout,
  publishes an event after commit and answers with a generic.Result
  envelope.

RETURN CONTRACT:
  (generic.Result, nil)                  - success or a user-visible failure
  (generic.Result{}, ErrUnauthenticated) - no user id reached the core

  A failure Result carries Kind so the caller can map it (validation ->
  400, not_found -> 404, conflict -> 409, store -> 500) without parsing
  the message.

LOG ACTIVITY FLOW:
  validate -> WithTx{ owned category -> insert activity -> accrue } ->
  commit -> metrics + event -> envelope

  If accrual fails the activity insert is rolled back too.

SEE ALSO:
  - accrual.go:  AccrualEngine
  - category.go: CategoryGuard
  - habits.go:   PeriodGenerator
*/
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/logger"
)

// DefaultStoreTimeout bounds one unit of work.
const DefaultStoreTimeout = 5 * time.Second

type Service struct {
	Store        TxStore
	Guard        CategoryGuard
	Engine       *AccrualEngine
	Generator    *PeriodGenerator
	Publisher    Publisher
	Logger       *logger.Logger
	StoreTimeout time.Duration
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.Publisher = p } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.Logger = l } }

func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.StoreTimeout = d } }

func WithMaxCatchUp(n int) Option { return func(s *Service) { s.Generator.MaxCatchUp = n } }

func NewService(store TxStore, opts ...Option) *Service {
	gen := NewPeriodGenerator()
	s := &Service{
		Store:        store,
		Engine:       NewAccrualEngine(gen),
		Generator:    gen,
		Publisher:    NopPublisher{},
		Logger:       logger.NewNop(),
		StoreTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActivityLog is the payload of a successful LogActivity.
type ActivityLog struct {
	Activity Activity      `json:"activity"`
	Accrual  AccrualResult `json:"accrual"`
}

// HabitView is a habit together with its progress windows.
type HabitView struct {
	Habit    Habit           `json:"habit"`
	Progress []HabitProgress `json:"progress"`
}

// =============================================================================
// USERS
// =============================================================================

// RegisterUser stores the profile for an identity the provider already
// authenticated.
func (s *Service) RegisterUser(ctx context.Context, userID string, in RegisterUserInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}

	u := User{ID: userID, Email: in.Email, Name: in.Name, CreatedAt: time.Now().UTC()}
	if err := s.Store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, generic.ErrDuplicate) {
			return generic.Fail(generic.Conflict("user already registered", err)), nil
		}
		return s.fail("register user", err), nil
	}
	return generic.OK("User registered", u), nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Service) CreateCategory(ctx context.Context, userID string, in CategoryInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}

	c := Category{ID: uuid.NewString(), UserID: userID, Name: in.Name, CreatedAt: time.Now().UTC()}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		ok, err := s.Guard.NameAvailable(ctx, tx, in.Name, userID, "")
		if err != nil {
			return err
		}
		if !ok {
			return categoryNameTaken(in.Name, generic.ErrDuplicate)
		}
		if err := tx.CreateCategory(ctx, &c); err != nil {
			if errors.Is(err, generic.ErrDuplicate) {
				return categoryNameTaken(in.Name, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return s.fail("create category", err), nil
	}
	return generic.OK("Category created", c), nil
}

func (s *Service) RenameCategory(ctx context.Context, userID, categoryID string, in CategoryInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}

	var renamed Category
	err = s.Store.WithTx(ctx, func(tx Store) error {
		c, err := s.Guard.Owned(ctx, tx, categoryID, userID)
		if err != nil {
			return err
		}
		ok, err := s.Guard.NameAvailable(ctx, tx, in.Name, userID, categoryID)
		if err != nil {
			return err
		}
		if !ok {
			return categoryNameTaken(in.Name, generic.ErrDuplicate)
		}
		if err := tx.RenameCategory(ctx, categoryID, in.Name); err != nil {
			if errors.Is(err, generic.ErrDuplicate) {
				return categoryNameTaken(in.Name, err)
			}
			return err
		}
		renamed = *c
		renamed.Name = in.Name
		return nil
	})
	if err != nil {
		return s.fail("rename category", err), nil
	}
	return generic.OK("Category renamed", renamed), nil
}

// DeleteCategory refuses while any activity, task or habit still points at
// the category.
func (s *Service) DeleteCategory(ctx context.Context, userID, categoryID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := s.Guard.Owned(ctx, tx, categoryID, userID); err != nil {
			return err
		}
		ok, err := s.Guard.CanDelete(ctx, tx, categoryID)
		if err != nil {
			return err
		}
		if !ok {
			return categoryInUse(generic.ErrReferenced)
		}
		if err := tx.DeleteCategory(ctx, categoryID); err != nil {
			if errors.Is(err, generic.ErrReferenced) {
				return categoryInUse(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return s.fail("delete category", err), nil
	}
	return generic.OK("Category deleted", nil), nil
}

func (s *Service) ListCategories(ctx context.Context, userID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	cats, err := s.Store.ListCategories(ctx, userID)
	if err != nil {
		return s.fail("list categories", err), nil
	}
	return generic.OK(fmt.Sprintf("%d categories", len(cats)), cats), nil
}

func categoryNameTaken(name string, err error) error {
	return generic.Conflict(fmt.Sprintf("category %q already exists", name), err)
}

func categoryInUse(err error) error {
	return generic.Conflict("category is still used by activities, tasks or habits", err)
}

// =============================================================================
// PROJECTS
// =============================================================================

func (s *Service) CreateProject(ctx context.Context, userID string, in ProjectInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}

	p := Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   time.Now().UTC(),
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		_, err := tx.FindProjectByName(ctx, userID, in.Name)
		switch {
		case err == nil:
			return projectNameTaken(in.Name, generic.ErrDuplicate)
		case !errors.Is(err, generic.ErrNotFound):
			return err
		}
		if err := tx.CreateProject(ctx, &p); err != nil {
			if errors.Is(err, generic.ErrDuplicate) {
				return projectNameTaken(in.Name, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return s.fail("create project", err), nil
	}
	return generic.OK("Project created", p), nil
}

func (s *Service) ListProjects(ctx context.Context, userID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	projects, err := s.Store.ListProjects(ctx, userID)
	if err != nil {
		return s.fail("list projects", err), nil
	}
	return generic.OK(fmt.Sprintf("%d projects", len(projects)), projects), nil
}

// DeleteProject detaches the project's tasks, habits and to-dos; it never
// deletes them.
func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := ownedProject(ctx, tx, projectID, userID); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, projectID)
	})
	if err != nil {
		return s.fail("delete project", err), nil
	}
	return generic.OK("Project deleted", nil), nil
}

func projectNameTaken(name string, err error) error {
	return generic.Conflict(fmt.Sprintf("project %q already exists", name), err)
}

func ownedProject(ctx context.Context, st Store, projectID, userID string) (*Project, error) {
	p, err := st.GetProject(ctx, projectID)
	if errors.Is(err, generic.ErrNotFound) || (err == nil && p.UserID != userID) {
		return nil, generic.NotFound(fmt.Sprintf("project %s not found", projectID), generic.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// checkProject accepts a nil or empty project reference.
func checkProject(ctx context.Context, st Store, projectID *string, userID string) (*string, error) {
	if projectID == nil || *projectID == "" {
		return nil, nil
	}
	if _, err := ownedProject(ctx, st, *projectID, userID); err != nil {
		return nil, err
	}
	return projectID, nil
}

// =============================================================================
// ACTIVITIES
// =============================================================================

// LogActivity records time spent and accrues it into every task and habit
// window of the same category that contains the date. Activity and
// increments commit together or not at all.
func (s *Service) LogActivity(ctx context.Context, userID string, in LogActivityInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if in.Duration < 0 {
		return generic.Fail(generic.Validation("duration must be >= 0", generic.ErrNegativeDuration)), nil
	}
	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}
	date, err := generic.ParseDate(in.Date)
	if err != nil {
		return generic.Fail(generic.Validation("date must be YYYY-MM-DD", err)), nil
	}

	a := Activity{
		ID:          uuid.NewString(),
		UserID:      userID,
		CategoryID:  in.CategoryID,
		Date:        date,
		Duration:    in.Duration,
		Description: in.Description,
		CreatedAt:   time.Now().UTC(),
	}

	var accrual AccrualResult
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := s.Guard.Owned(ctx, tx, a.CategoryID, userID); err != nil {
			return err
		}
		if err := tx.CreateActivity(ctx, &a); err != nil {
			return fmt.Errorf("create activity: %w", err)
		}
		var err error
		accrual, err = s.Engine.AccrueActivity(ctx, tx, a)
		return err
	})
	if err != nil {
		if !generic.IsClientError(err) {
			accrualFailures.Inc()
		}
		s.Logger.Error("activity not logged",
			zap.String("user_id", userID),
			zap.String("category_id", a.CategoryID),
			zap.Error(err),
		)
		return s.fail("activity creation failed", err), nil
	}

	activitiesLogged.Inc()
	recordCommitted(accrual)
	s.Logger.Info("activity logged",
		zap.String("activity_id", a.ID),
		zap.String("user_id", userID),
		zap.Int("duration", a.Duration),
		zap.Int("tasks_updated", len(accrual.Tasks)),
		zap.Int("habits_updated", len(accrual.Habits)),
		zap.Int("periods_created", accrual.PeriodsCreated),
	)
	s.publish(ctx, eventFor(EventActivityLogged, userID, a.ID, accrual))

	return generic.OK("Activity logged", ActivityLog{Activity: a, Accrual: accrual}), nil
}

// DeleteActivity removes an activity and takes back what it added to its
// goals, in one unit of work.
func (s *Service) DeleteActivity(ctx context.Context, userID, activityID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	var reversal AccrualResult
	err = s.Store.WithTx(ctx, func(tx Store) error {
		a, err := tx.GetActivity(ctx, activityID)
		if errors.Is(err, generic.ErrNotFound) || (err == nil && a.UserID != userID) {
			return generic.NotFound(fmt.Sprintf("activity %s not found", activityID), generic.ErrNotFound)
		}
		if err != nil {
			return err
		}
		reversal, err = s.Engine.ReverseActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		return tx.DeleteActivity(ctx, activityID)
	})
	if err != nil {
		return s.fail("delete activity", err), nil
	}

	recordCommitted(reversal)
	s.Logger.Info("activity deleted",
		zap.String("activity_id", activityID),
		zap.Int("tasks_updated", len(reversal.Tasks)),
		zap.Int("habits_updated", len(reversal.Habits)),
	)
	s.publish(ctx, eventFor(EventActivityDeleted, userID, activityID, reversal))

	return generic.OK("Activity deleted", reversal), nil
}

// ListActivities filters by category and an inclusive date range; empty
// arguments leave that side open.
func (s *Service) ListActivities(ctx context.Context, userID, categoryID, from, to string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	filter := ActivityFilter{UserID: userID, CategoryID: categoryID}
	if from != "" {
		if filter.From, err = generic.ParseDate(from); err != nil {
			return generic.Fail(generic.Validation("from must be YYYY-MM-DD", err)), nil
		}
	}
	if to != "" {
		if filter.To, err = generic.ParseDate(to); err != nil {
			return generic.Fail(generic.Validation("to must be YYYY-MM-DD", err)), nil
		}
	}

	activities, err := s.Store.ListActivities(ctx, filter)
	if err != nil {
		return s.fail("list activities", err), nil
	}
	return generic.OK(fmt.Sprintf("%d activities", len(activities)), activities), nil
}

// =============================================================================
// TASKS
// =============================================================================

func (s *Service) CreateTask(ctx context.Context, userID string, in TaskInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}
	start, err := generic.ParseDate(in.StartDate)
	if err != nil {
		return generic.Fail(generic.Validation("start_date must be YYYY-MM-DD", err)), nil
	}
	end, err := generic.ParseDate(in.EndDate)
	if err != nil {
		return generic.Fail(generic.Validation("end_date must be YYYY-MM-DD", err)), nil
	}
	window := generic.Period{Start: start, End: end}
	if err := generic.ValidateTaskWindow(window); err != nil {
		return generic.Fail(err), nil
	}

	t := Task{
		ID:           uuid.NewString(),
		UserID:       userID,
		CategoryID:   in.CategoryID,
		Title:        in.Title,
		StartDate:    start,
		EndDate:      end,
		GoalDuration: in.GoalDuration,
		Completed:    generic.IsComplete(0, in.GoalDuration),
		CreatedAt:    time.Now().UTC(),
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := s.Guard.Owned(ctx, tx, in.CategoryID, userID); err != nil {
			return err
		}
		project, err := checkProject(ctx, tx, in.ProjectID, userID)
		if err != nil {
			return err
		}
		t.ProjectID = project
		return tx.CreateTask(ctx, &t)
	})
	if err != nil {
		return s.fail("create task", err), nil
	}
	return generic.OK("Task created", t), nil
}

func (s *Service) GetTask(ctx context.Context, userID, taskID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	t, err := s.Store.GetTask(ctx, taskID)
	if errors.Is(err, generic.ErrNotFound) || (err == nil && t.UserID != userID) {
		return generic.Fail(generic.NotFound(fmt.Sprintf("task %s not found", taskID), generic.ErrNotFound)), nil
	}
	if err != nil {
		return s.fail("load task", err), nil
	}
	return generic.OK("Task loaded", *t), nil
}

func (s *Service) ListTasks(ctx context.Context, userID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	tasks, err := s.Store.ListTasks(ctx, userID)
	if err != nil {
		return s.fail("list tasks", err), nil
	}
	return generic.OK(fmt.Sprintf("%d tasks", len(tasks)), tasks), nil
}

func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		t, err := tx.GetTask(ctx, taskID)
		if errors.Is(err, generic.ErrNotFound) || (err == nil && t.UserID != userID) {
			return generic.NotFound(fmt.Sprintf("task %s not found", taskID), generic.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return tx.DeleteTask(ctx, taskID)
	})
	if err != nil {
		return s.fail("delete task", err), nil
	}
	return generic.OK("Task deleted", nil), nil
}

// =============================================================================
// HABITS
// =============================================================================

// CreateHabit stores the habit and its first progress window.
func (s *Service) CreateHabit(ctx context.Context, userID string, in HabitInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}
	cadence, err := generic.ParseCadence(in.Period)
	if err != nil {
		return generic.Fail(err), nil
	}
	start, err := generic.ParseDate(in.StartDate)
	if err != nil {
		return generic.Fail(generic.Validation("start_date must be YYYY-MM-DD", err)), nil
	}

	h := Habit{
		ID:              uuid.NewString(),
		UserID:          userID,
		CategoryID:      in.CategoryID,
		Title:           in.Title,
		Period:          cadence,
		NumberOfPeriods: in.NumberOfPeriods,
		GoalDuration:    in.GoalDuration,
		StartDate:       start,
		CreatedAt:       time.Now().UTC(),
	}
	var view HabitView
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := s.Guard.Owned(ctx, tx, in.CategoryID, userID); err != nil {
			return err
		}
		project, err := checkProject(ctx, tx, in.ProjectID, userID)
		if err != nil {
			return err
		}
		h.ProjectID = project
		if err := tx.CreateHabit(ctx, &h); err != nil {
			return fmt.Errorf("create habit: %w", err)
		}
		first, err := s.Generator.CatchUp(ctx, tx, h, h.StartDate)
		if err != nil {
			return err
		}
		view = HabitView{Habit: h, Progress: first}
		return nil
	})
	if err != nil {
		return s.fail("create habit", err), nil
	}
	recordCommitted(AccrualResult{PeriodsCreated: len(view.Progress)})
	return generic.OK("Habit created", view), nil
}

func (s *Service) GetHabit(ctx context.Context, userID, habitID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	h, err := s.Store.GetHabit(ctx, habitID)
	if errors.Is(err, generic.ErrNotFound) || (err == nil && h.UserID != userID) {
		return generic.Fail(generic.NotFound(fmt.Sprintf("habit %s not found", habitID), generic.ErrNotFound)), nil
	}
	if err != nil {
		return s.fail("load habit", err), nil
	}
	progress, err := s.Store.ListHabitProgress(ctx, habitID)
	if err != nil {
		return s.fail("load habit progress", err), nil
	}
	return generic.OK("Habit loaded", HabitView{Habit: *h, Progress: progress}), nil
}

func (s *Service) ListHabits(ctx context.Context, userID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	habits, err := s.Store.ListHabits(ctx, userID)
	if err != nil {
		return s.fail("list habits", err), nil
	}
	views := make([]HabitView, 0, len(habits))
	for _, h := range habits {
		progress, err := s.Store.ListHabitProgress(ctx, h.ID)
		if err != nil {
			return s.fail("list habit progress", err), nil
		}
		views = append(views, HabitView{Habit: h, Progress: progress})
	}
	return generic.OK(fmt.Sprintf("%d habits", len(views)), views), nil
}

func (s *Service) DeleteHabit(ctx context.Context, userID, habitID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		h, err := tx.GetHabit(ctx, habitID)
		if errors.Is(err, generic.ErrNotFound) || (err == nil && h.UserID != userID) {
			return generic.NotFound(fmt.Sprintf("habit %s not found", habitID), generic.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return tx.DeleteHabit(ctx, habitID)
	})
	if err != nil {
		return s.fail("delete habit", err), nil
	}
	return generic.OK("Habit deleted", nil), nil
}

// RolloverHabits appends every missing window up to today for all habits.
// Each habit is its own unit of work so one failure does not hold back the
// rest. It returns how many windows were created.
func (s *Service) RolloverHabits(ctx context.Context, today generic.TimePoint) (int, error) {
	habits, err := s.Store.ListAllHabits(ctx)
	if err != nil {
		return 0, fmt.Errorf("list habits: %w", err)
	}

	total := 0
	var errs []error
	for _, h := range habits {
		var created []HabitProgress
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			return s.Store.WithTx(ctx, func(tx Store) error {
				var err error
				created, err = s.Generator.CatchUp(ctx, tx, h, today)
				return err
			})
		})
		if err != nil {
			s.Logger.Error("habit rollover failed", zap.String("habit_id", h.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if len(created) == 0 {
			continue
		}
		total += len(created)
		recordCommitted(AccrualResult{PeriodsCreated: len(created)})
		s.publish(ctx, eventFor(EventPeriodsRolled, h.UserID, "", AccrualResult{Habits: created}))
	}

	s.Logger.Info("habit rollover finished",
		zap.Int("habits", len(habits)),
		zap.Int("periods_created", total),
		zap.Int("failures", len(errs)),
	)
	return total, errors.Join(errs...)
}

// =============================================================================
// TODOS
// =============================================================================

func (s *Service) CreateToDo(ctx context.Context, userID string, in ToDoInput) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	if err := validateInput(in); err != nil {
		return generic.Fail(err), nil
	}

	t := ToDo{ID: uuid.NewString(), UserID: userID, Title: in.Title, CreatedAt: time.Now().UTC()}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		project, err := checkProject(ctx, tx, in.ProjectID, userID)
		if err != nil {
			return err
		}
		t.ProjectID = project
		return tx.CreateToDo(ctx, &t)
	})
	if err != nil {
		return s.fail("create todo", err), nil
	}
	return generic.OK("ToDo created", t), nil
}

func (s *Service) ListToDos(ctx context.Context, userID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	todos, err := s.Store.ListToDos(ctx, userID)
	if err != nil {
		return s.fail("list todos", err), nil
	}
	return generic.OK(fmt.Sprintf("%d todos", len(todos)), todos), nil
}

// SetToDoCompleted sets the flag directly; to-dos have no accrual.
func (s *Service) SetToDoCompleted(ctx context.Context, userID, todoID string, completed bool) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	var updated ToDo
	err = s.Store.WithTx(ctx, func(tx Store) error {
		t, err := ownedToDo(ctx, tx, todoID, userID)
		if err != nil {
			return err
		}
		if err := tx.SetToDoCompleted(ctx, todoID, completed); err != nil {
			return err
		}
		updated = *t
		updated.Completed = completed
		return nil
	})
	if err != nil {
		return s.fail("update todo", err), nil
	}
	return generic.OK("ToDo updated", updated), nil
}

func (s *Service) DeleteToDo(ctx context.Context, userID, todoID string) (generic.Result, error) {
	ctx, cancel, err := s.begin(ctx, userID)
	if err != nil {
		return generic.Result{}, err
	}
	defer cancel()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := ownedToDo(ctx, tx, todoID, userID); err != nil {
			return err
		}
		return tx.DeleteToDo(ctx, todoID)
	})
	if err != nil {
		return s.fail("delete todo", err), nil
	}
	return generic.OK("ToDo deleted", nil), nil
}

func ownedToDo(ctx context.Context, st Store, todoID, userID string) (*ToDo, error) {
	t, err := st.GetToDo(ctx, todoID)
	if errors.Is(err, generic.ErrNotFound) || (err == nil && t.UserID != userID) {
		return nil, generic.NotFound(fmt.Sprintf("todo %s not found", todoID), generic.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// begin rejects a missing identity and bounds the operation by StoreTimeout.
func (s *Service) begin(ctx context.Context, userID string) (context.Context, context.CancelFunc, error) {
	if userID == "" {
		return ctx, func() {}, generic.ErrUnauthenticated
	}
	if s.StoreTimeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	return ctx, cancel, nil
}

func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if s.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.StoreTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// fail builds the failure envelope. Errors that already carry a client kind
// pass through; everything else is reported as a store failure of action.
func (s *Service) fail(action string, err error) generic.Result {
	var tagged *generic.Error
	if errors.As(err, &tagged) {
		return generic.Fail(err)
	}
	if generic.IsClientError(err) {
		return generic.Fail(err)
	}
	return generic.Fail(generic.StoreFailure(action, err))
}

// publish runs after commit. A failed publish is logged and swallowed.
func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.Publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.Logger.Warn("publish progress event",
			zap.String("type", string(e.Type)),
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
	}
}
