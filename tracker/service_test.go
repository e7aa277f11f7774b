package tracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
	"github.com/warp/progress-engine/tracker/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	ctx      context.Context
	svc      *tracker.Service
	mem      *store.TxMemory
	events   *recordingPublisher
	userID   string
	category tracker.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewTxMemory()
	events := &recordingPublisher{}
	f := &fixture{
		ctx:    context.Background(),
		svc:    tracker.NewService(mem, tracker.WithPublisher(events)),
		mem:    mem,
		events: events,
		userID: "user-1",
	}
	f.register(t, f.userID)
	f.category = dataOf[tracker.Category](t, mustOK(t)(f.svc.CreateCategory(f.ctx, f.userID, tracker.CategoryInput{Name: "Reading"})))
	return f
}

func (f *fixture) register(t *testing.T, userID string) {
	t.Helper()
	mustOK(t)(f.svc.RegisterUser(f.ctx, userID, tracker.RegisterUserInput{Email: userID + "@example.com", Name: userID}))
}

func (f *fixture) task(t *testing.T, start, end string, goal int) tracker.Task {
	t.Helper()
	res := mustOK(t)(f.svc.CreateTask(f.ctx, f.userID, tracker.TaskInput{
		CategoryID:   f.category.ID,
		Title:        "Read a book",
		StartDate:    start,
		EndDate:      end,
		GoalDuration: goal,
	}))
	return dataOf[tracker.Task](t, res)
}

func (f *fixture) log(t *testing.T, date string, duration int) tracker.ActivityLog {
	t.Helper()
	res := mustOK(t)(f.svc.LogActivity(f.ctx, f.userID, tracker.LogActivityInput{
		CategoryID: f.category.ID,
		Date:       date,
		Duration:   duration,
	}))
	return dataOf[tracker.ActivityLog](t, res)
}

func (f *fixture) reload(t *testing.T, id string) tracker.Task {
	t.Helper()
	got, err := f.mem.GetTask(f.ctx, id)
	require.NoError(t, err)
	return *got
}

func mustOK(t *testing.T) func(generic.Result, error) generic.Result {
	return func(res generic.Result, err error) generic.Result {
		t.Helper()
		require.NoError(t, err)
		require.True(t, res.Success, "expected success, got %s: %s", res.Kind, res.Message)
		return res
	}
}

func dataOf[T any](t *testing.T, res generic.Result) T {
	t.Helper()
	v, ok := res.Data.(T)
	require.True(t, ok, "unexpected data type %T", res.Data)
	return v
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []tracker.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e tracker.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) all() []tracker.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracker.Event(nil), p.events...)
}

// =============================================================================
// ACCRUAL TESTS
// =============================================================================

func TestLogActivity_ReadingScenario(t *testing.T) {
	// GIVEN: Category "Reading" and a task over 2024-01-01..2024-01-07, goal 60
	// WHEN: Logging 40 on the 3rd, 25 on the 5th, then 100 on the 10th
	// THEN: 40/false, 65/true, and the out-of-window activity changes nothing

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)

	f.log(t, "2024-01-03", 40)
	got := f.reload(t, task.ID)
	assert.Equal(t, 40, got.CompletedDuration)
	assert.False(t, got.Completed)

	f.log(t, "2024-01-05", 25)
	got = f.reload(t, task.ID)
	assert.Equal(t, 65, got.CompletedDuration)
	assert.True(t, got.Completed)

	logged := f.log(t, "2024-01-10", 100)
	assert.Empty(t, logged.Accrual.Tasks, "activity outside the window touches no task")
	got = f.reload(t, task.ID)
	assert.Equal(t, 65, got.CompletedDuration)
	assert.True(t, got.Completed)
}

func TestLogActivity_Additive_OrderIndependent(t *testing.T) {
	// GIVEN: Two identical tasks
	// WHEN: Logging 15 then 30 against both
	// THEN: Both hold 45

	f := newFixture(t)
	a := f.task(t, "2024-03-01", "2024-03-31", 1000)
	b := f.task(t, "2024-03-01", "2024-03-31", 1000)

	f.log(t, "2024-03-20", 30)
	f.log(t, "2024-03-02", 15)

	assert.Equal(t, 45, f.reload(t, a.ID).CompletedDuration)
	assert.Equal(t, 45, f.reload(t, b.ID).CompletedDuration)
}

func TestLogActivity_ThresholdAtExactlyGoal(t *testing.T) {
	// GIVEN: Task with goal 30
	// WHEN: Accruing 29, then 1 more
	// THEN: Not complete at 29, complete at exactly 30

	f := newFixture(t)
	task := f.task(t, "2024-02-01", "2024-02-29", 30)

	f.log(t, "2024-02-10", 29)
	assert.False(t, f.reload(t, task.ID).Completed)

	f.log(t, "2024-02-29", 1)
	got := f.reload(t, task.ID)
	assert.Equal(t, 30, got.CompletedDuration)
	assert.True(t, got.Completed)
}

func TestLogActivity_WindowBoundariesInclusive(t *testing.T) {
	// GIVEN: Task over 2024-05-10..2024-05-20
	// WHEN: Logging on the day before, both boundary days, and the day after
	// THEN: Only the boundary days accrue

	f := newFixture(t)
	task := f.task(t, "2024-05-10", "2024-05-20", 100)

	f.log(t, "2024-05-09", 1)
	f.log(t, "2024-05-10", 10)
	f.log(t, "2024-05-20", 20)
	f.log(t, "2024-05-21", 1)

	assert.Equal(t, 30, f.reload(t, task.ID).CompletedDuration)
}

func TestLogActivity_ConcurrentActivitiesBothLand(t *testing.T) {
	// GIVEN: Task with goal 15
	// WHEN: Two activities of 10 are logged at the same time
	// THEN: 20/true, never 10

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-31", 15)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.LogActivity(f.ctx, f.userID, tracker.LogActivityInput{
				CategoryID: f.category.ID,
				Date:       "2024-01-15",
				Duration:   10,
			})
			assert.NoError(t, err)
			assert.True(t, res.Success, res.Message)
		}()
	}
	wg.Wait()

	got := f.reload(t, task.ID)
	assert.Equal(t, 20, got.CompletedDuration)
	assert.True(t, got.Completed)
}

func TestLogActivity_OtherCategoryNotTouched(t *testing.T) {
	// GIVEN: A task in "Reading" and a second category "Running"
	// WHEN: Logging an activity in "Running" on a date inside the task window
	// THEN: The reading task is unchanged

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)
	running := dataOf[tracker.Category](t, mustOK(t)(f.svc.CreateCategory(f.ctx, f.userID, tracker.CategoryInput{Name: "Running"})))

	mustOK(t)(f.svc.LogActivity(f.ctx, f.userID, tracker.LogActivityInput{
		CategoryID: running.ID,
		Date:       "2024-01-03",
		Duration:   30,
	}))

	assert.Equal(t, 0, f.reload(t, task.ID).CompletedDuration)
}

func TestLogActivity_NegativeDuration_Rejected(t *testing.T) {
	// GIVEN: A category
	// WHEN: Logging a negative duration
	// THEN: Validation failure and nothing stored

	f := newFixture(t)

	res, err := f.svc.LogActivity(f.ctx, f.userID, tracker.LogActivityInput{
		CategoryID: f.category.ID,
		Date:       "2024-01-03",
		Duration:   -5,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindValidation, res.Kind)

	activities, err := f.mem.ListActivities(f.ctx, tracker.ActivityFilter{UserID: f.userID})
	require.NoError(t, err)
	assert.Empty(t, activities)
}

func TestLogActivity_ForeignCategory_NotFound(t *testing.T) {
	// GIVEN: A category owned by user-1
	// WHEN: user-2 logs an activity against it
	// THEN: not_found, as if the category did not exist

	f := newFixture(t)

	res, err := f.svc.LogActivity(f.ctx, "user-2", tracker.LogActivityInput{
		CategoryID: f.category.ID,
		Date:       "2024-01-03",
		Duration:   5,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindNotFound, res.Kind)
}

func TestLogActivity_MissingIdentity(t *testing.T) {
	// GIVEN: No user id
	// WHEN: Logging an activity
	// THEN: ErrUnauthenticated as a Go error, not an envelope

	f := newFixture(t)

	_, err := f.svc.LogActivity(f.ctx, "", tracker.LogActivityInput{CategoryID: f.category.ID, Date: "2024-01-03"})
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
}

// failingStore fails every task increment made inside a transaction.
type failingStore struct {
	*store.TxMemory
}

type failingTx struct {
	tracker.Store
}

func (failingTx) IncrementTask(context.Context, string, int) (*tracker.Task, error) {
	return nil, errors.New("disk full")
}

func (s failingStore) WithTx(ctx context.Context, fn func(tracker.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(tx tracker.Store) error {
		return fn(failingTx{Store: tx})
	})
}

func TestLogActivity_AccrualFailure_RollsBackActivity(t *testing.T) {
	// GIVEN: A task whose increment will fail
	// WHEN: Logging an activity inside its window
	// THEN: store failure, and neither the activity nor any increment persists

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)
	svc := tracker.NewService(failingStore{TxMemory: f.mem})

	res, err := svc.LogActivity(f.ctx, f.userID, tracker.LogActivityInput{
		CategoryID: f.category.ID,
		Date:       "2024-01-03",
		Duration:   40,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindStore, res.Kind)
	assert.Contains(t, res.Message, "disk full")

	activities, err := f.mem.ListActivities(f.ctx, tracker.ActivityFilter{UserID: f.userID})
	require.NoError(t, err)
	assert.Empty(t, activities)
	assert.Equal(t, 0, f.reload(t, task.ID).CompletedDuration)
}

func TestLogActivity_MetricsCountOnlyCommittedWork(t *testing.T) {
	// GIVEN: A daily habit with one window and a task whose increment will fail
	// WHEN: Logging on 2024-01-03 through the failing store, then through the real one
	// THEN: The rolled back attempt counts only as a failure; the committed one
	//       counts two new windows and two goal updates

	f := newFixture(t)
	f.habit(t, "DAILY", 1, "2024-01-01", 10)
	f.task(t, "2024-01-01", "2024-01-07", 60)
	failing := tracker.NewService(failingStore{TxMemory: f.mem})
	in := tracker.LogActivityInput{CategoryID: f.category.ID, Date: "2024-01-03", Duration: 20}

	periods := counterTotal(t, "progress_habit_periods_generated_total")
	updates := counterTotal(t, "progress_accrual_updates_total")
	failures := counterTotal(t, "progress_accrual_failures_total")

	res, err := failing.LogActivity(f.ctx, f.userID, in)
	require.NoError(t, err)
	require.False(t, res.Success)

	assert.Equal(t, periods, counterTotal(t, "progress_habit_periods_generated_total"))
	assert.Equal(t, updates, counterTotal(t, "progress_accrual_updates_total"))
	assert.Equal(t, failures+1, counterTotal(t, "progress_accrual_failures_total"))

	logged := dataOf[tracker.ActivityLog](t, mustOK(t)(f.svc.LogActivity(f.ctx, f.userID, in)))
	require.Equal(t, 2, logged.Accrual.PeriodsCreated)

	assert.Equal(t, periods+2, counterTotal(t, "progress_habit_periods_generated_total"))
	assert.Equal(t, updates+2, counterTotal(t, "progress_accrual_updates_total"))
}

// counterTotal sums every series of a counter in the default registry.
func counterTotal(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestLogActivity_PublishesEventAfterCommit(t *testing.T) {
	// GIVEN: A task and a publisher that always fails
	// WHEN: Logging an activity
	// THEN: The operation still succeeds and the event names the task

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)
	f.events.err = errors.New("redis down")

	logged := f.log(t, "2024-01-03", 10)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, tracker.EventActivityLogged, events[0].Type)
	assert.Equal(t, logged.Activity.ID, events[0].ActivityID)
	assert.Equal(t, []string{task.ID}, events[0].TaskIDs)
}

// =============================================================================
// ACTIVITY DELETION
// =============================================================================

func TestDeleteActivity_ReversesAccrual(t *testing.T) {
	// GIVEN: Task at 65/true after two activities
	// WHEN: Deleting the 25-minute activity
	// THEN: Back to 40/false and the activity is gone

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)
	f.log(t, "2024-01-03", 40)
	second := f.log(t, "2024-01-05", 25)
	require.True(t, f.reload(t, task.ID).Completed)

	mustOK(t)(f.svc.DeleteActivity(f.ctx, f.userID, second.Activity.ID))

	got := f.reload(t, task.ID)
	assert.Equal(t, 40, got.CompletedDuration)
	assert.False(t, got.Completed)

	_, err := f.mem.GetActivity(f.ctx, second.Activity.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestDeleteActivity_TaskDeletedMeanwhile_Skipped(t *testing.T) {
	// GIVEN: An activity that accrued into a task later deleted
	// WHEN: Deleting the activity
	// THEN: Success; the missing task is skipped

	f := newFixture(t)
	task := f.task(t, "2024-01-01", "2024-01-07", 60)
	logged := f.log(t, "2024-01-03", 40)
	mustOK(t)(f.svc.DeleteTask(f.ctx, f.userID, task.ID))

	mustOK(t)(f.svc.DeleteActivity(f.ctx, f.userID, logged.Activity.ID))
}

func TestDeleteActivity_OtherUser_NotFound(t *testing.T) {
	f := newFixture(t)
	logged := f.log(t, "2024-01-03", 40)

	res, err := f.svc.DeleteActivity(f.ctx, "user-2", logged.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.KindNotFound, res.Kind)
}

func TestListActivities_DateRange(t *testing.T) {
	f := newFixture(t)
	f.log(t, "2024-01-01", 1)
	f.log(t, "2024-01-05", 2)
	f.log(t, "2024-01-09", 3)

	res := mustOK(t)(f.svc.ListActivities(f.ctx, f.userID, "", "2024-01-02", "2024-01-09"))
	activities := dataOf[[]tracker.Activity](t, res)
	require.Len(t, activities, 2)
	assert.Equal(t, 2, activities[0].Duration)
	assert.Equal(t, 3, activities[1].Duration)

	res, err := f.svc.ListActivities(f.ctx, f.userID, "", "yesterday", "")
	require.NoError(t, err)
	assert.Equal(t, generic.KindValidation, res.Kind)
}

// =============================================================================
// CATEGORY LIFECYCLE
// =============================================================================

func TestDeleteCategory_Unreferenced_Succeeds(t *testing.T) {
	f := newFixture(t)

	mustOK(t)(f.svc.DeleteCategory(f.ctx, f.userID, f.category.ID))

	_, err := f.mem.GetCategory(f.ctx, f.category.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestDeleteCategory_Referenced_Conflict(t *testing.T) {
	// GIVEN: A category with one task
	// WHEN: Deleting it
	// THEN: conflict and the category survives

	f := newFixture(t)
	f.task(t, "2024-01-01", "2024-01-07", 60)

	res, err := f.svc.DeleteCategory(f.ctx, f.userID, f.category.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindConflict, res.Kind)

	_, err = f.mem.GetCategory(f.ctx, f.category.ID)
	assert.NoError(t, err)
}

func TestCreateCategory_DuplicateName(t *testing.T) {
	// GIVEN: user-1 owns "Reading"
	// WHEN: user-1 creates "Reading" again, then "reading", and user-2 creates "Reading"
	// THEN: Only the first is a conflict; matching is per user and case-sensitive

	f := newFixture(t)

	res, err := f.svc.CreateCategory(f.ctx, f.userID, tracker.CategoryInput{Name: "Reading"})
	require.NoError(t, err)
	assert.Equal(t, generic.KindConflict, res.Kind)

	mustOK(t)(f.svc.CreateCategory(f.ctx, f.userID, tracker.CategoryInput{Name: "reading"}))
	f.register(t, "user-2")
	mustOK(t)(f.svc.CreateCategory(f.ctx, "user-2", tracker.CategoryInput{Name: "Reading"}))
}

func TestCreateCategory_UnregisteredUser_NotFound(t *testing.T) {
	// GIVEN: An identity that never registered a profile
	// WHEN: It creates a category
	// THEN: not_found, and nothing is stored for it

	f := newFixture(t)

	res, err := f.svc.CreateCategory(f.ctx, "user-unknown", tracker.CategoryInput{Name: "Reading"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, generic.KindNotFound, res.Kind)

	cats, err := f.mem.ListCategories(f.ctx, "user-unknown")
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestRenameCategory_SelfExclusion(t *testing.T) {
	// GIVEN: Categories "Reading" and "Running"
	// WHEN: Renaming "Reading" to itself, then to "Running"
	// THEN: The no-op succeeds; the clash is a conflict

	f := newFixture(t)
	mustOK(t)(f.svc.CreateCategory(f.ctx, f.userID, tracker.CategoryInput{Name: "Running"}))

	renamed := dataOf[tracker.Category](t, mustOK(t)(f.svc.RenameCategory(f.ctx, f.userID, f.category.ID, tracker.CategoryInput{Name: "Reading"})))
	assert.Equal(t, "Reading", renamed.Name)

	res, err := f.svc.RenameCategory(f.ctx, f.userID, f.category.ID, tracker.CategoryInput{Name: "Running"})
	require.NoError(t, err)
	assert.Equal(t, generic.KindConflict, res.Kind)

	mustOK(t)(f.svc.RenameCategory(f.ctx, f.userID, f.category.ID, tracker.CategoryInput{Name: "Books"}))
	got, err := f.mem.GetCategory(f.ctx, f.category.ID)
	require.NoError(t, err)
	assert.Equal(t, "Books", got.Name)
}

func TestCreateCategory_EmptyName_Validation(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateCategory(f.ctx, f.userID, tracker.CategoryInput{Name: ""})
	require.NoError(t, err)
	assert.Equal(t, generic.KindValidation, res.Kind)
	assert.Equal(t, "name is required", res.Message)
}

// =============================================================================
// TASKS
// =============================================================================

func TestCreateTask_EndNotAfterStart_Rejected(t *testing.T) {
	f := newFixture(t)

	for _, end := range []string{"2024-01-07", "2024-01-06"} {
		res, err := f.svc.CreateTask(f.ctx, f.userID, tracker.TaskInput{
			CategoryID:   f.category.ID,
			Title:        "Bad window",
			StartDate:    "2024-01-07",
			EndDate:      end,
			GoalDuration: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, generic.KindValidation, res.Kind, "end %s", end)
	}
}

func TestCreateTask_ZeroGoal_CompleteImmediately(t *testing.T) {
	f := newFixture(t)

	task := f.task(t, "2024-01-01", "2024-01-07", 0)

	assert.True(t, task.Completed)
}

func TestCreateTask_ForeignProject_NotFound(t *testing.T) {
	f := newFixture(t)
	f.register(t, "user-2")
	project := dataOf[tracker.Project](t, mustOK(t)(f.svc.CreateProject(f.ctx, "user-2", tracker.ProjectInput{Name: "Theirs"})))

	res, err := f.svc.CreateTask(f.ctx, f.userID, tracker.TaskInput{
		CategoryID:   f.category.ID,
		ProjectID:    &project.ID,
		Title:        "Sneaky",
		StartDate:    "2024-01-01",
		EndDate:      "2024-01-02",
		GoalDuration: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.KindNotFound, res.Kind)
}

// =============================================================================
// PROJECTS AND TODOS
// =============================================================================

func TestDeleteProject_DetachesItems(t *testing.T) {
	// GIVEN: A project holding a to-do
	// WHEN: Deleting the project
	// THEN: The to-do survives without a project

	f := newFixture(t)
	project := dataOf[tracker.Project](t, mustOK(t)(f.svc.CreateProject(f.ctx, f.userID, tracker.ProjectInput{Name: "Thesis"})))
	todo := dataOf[tracker.ToDo](t, mustOK(t)(f.svc.CreateToDo(f.ctx, f.userID, tracker.ToDoInput{ProjectID: &project.ID, Title: "Outline"})))

	mustOK(t)(f.svc.DeleteProject(f.ctx, f.userID, project.ID))

	got, err := f.mem.GetToDo(f.ctx, todo.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProjectID)
}

func TestCreateProject_DuplicateName_Conflict(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.svc.CreateProject(f.ctx, f.userID, tracker.ProjectInput{Name: "Thesis"}))

	res, err := f.svc.CreateProject(f.ctx, f.userID, tracker.ProjectInput{Name: "Thesis"})
	require.NoError(t, err)
	assert.Equal(t, generic.KindConflict, res.Kind)
}

func TestToDo_ToggleAndDelete(t *testing.T) {
	f := newFixture(t)
	todo := dataOf[tracker.ToDo](t, mustOK(t)(f.svc.CreateToDo(f.ctx, f.userID, tracker.ToDoInput{Title: "Buy milk"})))
	assert.False(t, todo.Completed)

	done := dataOf[tracker.ToDo](t, mustOK(t)(f.svc.SetToDoCompleted(f.ctx, f.userID, todo.ID, true)))
	assert.True(t, done.Completed)

	res, err := f.svc.SetToDoCompleted(f.ctx, "user-2", todo.ID, false)
	require.NoError(t, err)
	assert.Equal(t, generic.KindNotFound, res.Kind)

	mustOK(t)(f.svc.DeleteToDo(f.ctx, f.userID, todo.ID))
	todos := dataOf[[]tracker.ToDo](t, mustOK(t)(f.svc.ListToDos(f.ctx, f.userID)))
	assert.Empty(t, todos)
}
