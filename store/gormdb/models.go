package gormdb

import (
	"time"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/tracker"
)

// Row models. Calendar days are stored as "YYYY-MM-DD" strings so window
// scans compare the same way on SQLite and PostgreSQL.
//
// Foreign keys are declared on the parent's has-many field, the way GORM
// migrates them: restrict on categories, cascade on users, habits and
// activities, set null on projects.

type userModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	Email     string `gorm:"size:255;not null"`
	Name      string `gorm:"size:255;not null"`
	CreatedAt time.Time

	Categories []categoryModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Projects   []projectModel  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Activities []activityModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Tasks      []taskModel     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Habits     []habitModel    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ToDos      []toDoModel     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (userModel) TableName() string { return "users" }

type categoryModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:36;not null;uniqueIndex:idx_categories_user_name"`
	Name      string `gorm:"size:100;not null;uniqueIndex:idx_categories_user_name"`
	CreatedAt time.Time

	Activities []activityModel `gorm:"foreignKey:CategoryID;constraint:OnDelete:RESTRICT"`
	Tasks      []taskModel     `gorm:"foreignKey:CategoryID;constraint:OnDelete:RESTRICT"`
	Habits     []habitModel    `gorm:"foreignKey:CategoryID;constraint:OnDelete:RESTRICT"`
}

func (categoryModel) TableName() string { return "categories" }

type projectModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"size:36;not null;uniqueIndex:idx_projects_user_name"`
	Name        string `gorm:"size:100;not null;uniqueIndex:idx_projects_user_name"`
	Description string `gorm:"not null;default:''"`
	CreatedAt   time.Time

	Tasks  []taskModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:SET NULL"`
	Habits []habitModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:SET NULL"`
	ToDos  []toDoModel  `gorm:"foreignKey:ProjectID;constraint:OnDelete:SET NULL"`
}

func (projectModel) TableName() string { return "projects" }

type activityModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"size:36;not null;index:idx_activities_user_date"`
	CategoryID  string `gorm:"size:36;not null;index"`
	Date        string `gorm:"size:10;not null;index:idx_activities_user_date"`
	Duration    int    `gorm:"not null;check:duration >= 0"`
	Description string `gorm:"not null;default:''"`
	CreatedAt   time.Time

	Accruals []accrualModel `gorm:"foreignKey:ActivityID;constraint:OnDelete:CASCADE"`
}

func (activityModel) TableName() string { return "activities" }

// accrualModel keeps an autoincrement key so entries read back in the order
// they were recorded.
type accrualModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ActivityID string `gorm:"size:36;not null;index"`
	TargetKind string `gorm:"size:20;not null"`
	TargetID   string `gorm:"size:36;not null"`
	Delta      int    `gorm:"not null"`
}

func (accrualModel) TableName() string { return "accrual_entries" }

type taskModel struct {
	ID                string  `gorm:"primaryKey;size:36"`
	UserID            string  `gorm:"size:36;not null;index:idx_tasks_window"`
	CategoryID        string  `gorm:"size:36;not null;index:idx_tasks_window"`
	ProjectID         *string `gorm:"size:36"`
	Title             string  `gorm:"size:255;not null"`
	StartDate         string  `gorm:"size:10;not null;index:idx_tasks_window"`
	EndDate           string  `gorm:"size:10;not null;index:idx_tasks_window"`
	GoalDuration      int     `gorm:"not null"`
	CompletedDuration int     `gorm:"not null;default:0"`
	Completed         bool    `gorm:"not null;default:false"`
	CreatedAt         time.Time
}

func (taskModel) TableName() string { return "tasks" }

type habitModel struct {
	ID              string  `gorm:"primaryKey;size:36"`
	UserID          string  `gorm:"size:36;not null;index:idx_habits_user_category"`
	CategoryID      string  `gorm:"size:36;not null;index:idx_habits_user_category"`
	ProjectID       *string `gorm:"size:36"`
	Title           string  `gorm:"size:255;not null"`
	Period          string  `gorm:"size:10;not null"`
	NumberOfPeriods int     `gorm:"not null"`
	GoalDuration    int     `gorm:"not null"`
	StartDate       string  `gorm:"size:10;not null"`
	CreatedAt       time.Time

	Progress []progressModel `gorm:"foreignKey:HabitID;constraint:OnDelete:CASCADE"`
}

func (habitModel) TableName() string { return "habits" }

type progressModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	HabitID           string `gorm:"size:36;not null;uniqueIndex:idx_habit_progress_habit_start"`
	UserID            string `gorm:"size:36;not null;index:idx_habit_progress_window"`
	CategoryID        string `gorm:"size:36;not null;index:idx_habit_progress_window"`
	StartDate         string `gorm:"size:10;not null;uniqueIndex:idx_habit_progress_habit_start;index:idx_habit_progress_window"`
	EndDate           string `gorm:"size:10;not null;index:idx_habit_progress_window"`
	GoalDuration      int    `gorm:"not null"`
	CompletedDuration int    `gorm:"not null;default:0"`
	Completed         bool   `gorm:"not null;default:false"`
}

func (progressModel) TableName() string { return "habit_progress" }

type toDoModel struct {
	ID        string  `gorm:"primaryKey;size:36"`
	UserID    string  `gorm:"size:36;not null;index"`
	ProjectID *string `gorm:"size:36"`
	Title     string  `gorm:"size:255;not null"`
	Completed bool    `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (toDoModel) TableName() string { return "todos" }

// allModels lists parents before children for AutoMigrate.
func allModels() []any {
	return []any{
		&userModel{}, &categoryModel{}, &projectModel{},
		&activityModel{}, &accrualModel{},
		&taskModel{}, &habitModel{}, &progressModel{},
		&toDoModel{},
	}
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func fromUser(u *tracker.User) *userModel {
	return &userModel{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

func (m userModel) toUser() *tracker.User {
	return &tracker.User{ID: m.ID, Email: m.Email, Name: m.Name, CreatedAt: m.CreatedAt.UTC()}
}

func fromCategory(c *tracker.Category) *categoryModel {
	return &categoryModel{ID: c.ID, UserID: c.UserID, Name: c.Name, CreatedAt: c.CreatedAt}
}

func (m categoryModel) toCategory() tracker.Category {
	return tracker.Category{ID: m.ID, UserID: m.UserID, Name: m.Name, CreatedAt: m.CreatedAt.UTC()}
}

func fromProject(p *tracker.Project) *projectModel {
	return &projectModel{ID: p.ID, UserID: p.UserID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
}

func (m projectModel) toProject() tracker.Project {
	return tracker.Project{ID: m.ID, UserID: m.UserID, Name: m.Name, Description: m.Description, CreatedAt: m.CreatedAt.UTC()}
}

func fromActivity(a *tracker.Activity) *activityModel {
	return &activityModel{
		ID: a.ID, UserID: a.UserID, CategoryID: a.CategoryID,
		Date: a.Date.String(), Duration: a.Duration, Description: a.Description,
		CreatedAt: a.CreatedAt,
	}
}

func (m activityModel) toActivity() tracker.Activity {
	return tracker.Activity{
		ID: m.ID, UserID: m.UserID, CategoryID: m.CategoryID,
		Date: parseDate(m.Date), Duration: m.Duration, Description: m.Description,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func fromTask(t *tracker.Task) *taskModel {
	return &taskModel{
		ID: t.ID, UserID: t.UserID, CategoryID: t.CategoryID, ProjectID: t.ProjectID,
		Title: t.Title, StartDate: t.StartDate.String(), EndDate: t.EndDate.String(),
		GoalDuration: t.GoalDuration, CompletedDuration: t.CompletedDuration, Completed: t.Completed,
		CreatedAt: t.CreatedAt,
	}
}

func (m taskModel) toTask() tracker.Task {
	return tracker.Task{
		ID: m.ID, UserID: m.UserID, CategoryID: m.CategoryID, ProjectID: m.ProjectID,
		Title: m.Title, StartDate: parseDate(m.StartDate), EndDate: parseDate(m.EndDate),
		GoalDuration: m.GoalDuration, CompletedDuration: m.CompletedDuration, Completed: m.Completed,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func fromHabit(h *tracker.Habit) *habitModel {
	return &habitModel{
		ID: h.ID, UserID: h.UserID, CategoryID: h.CategoryID, ProjectID: h.ProjectID,
		Title: h.Title, Period: string(h.Period), NumberOfPeriods: h.NumberOfPeriods,
		GoalDuration: h.GoalDuration, StartDate: h.StartDate.String(), CreatedAt: h.CreatedAt,
	}
}

func (m habitModel) toHabit() tracker.Habit {
	return tracker.Habit{
		ID: m.ID, UserID: m.UserID, CategoryID: m.CategoryID, ProjectID: m.ProjectID,
		Title: m.Title, Period: generic.Cadence(m.Period), NumberOfPeriods: m.NumberOfPeriods,
		GoalDuration: m.GoalDuration, StartDate: parseDate(m.StartDate), CreatedAt: m.CreatedAt.UTC(),
	}
}

func fromProgress(p *tracker.HabitProgress) *progressModel {
	return &progressModel{
		ID: p.ID, HabitID: p.HabitID, UserID: p.UserID, CategoryID: p.CategoryID,
		StartDate: p.StartDate.String(), EndDate: p.EndDate.String(),
		GoalDuration: p.GoalDuration, CompletedDuration: p.CompletedDuration, Completed: p.Completed,
	}
}

func (m progressModel) toProgress() tracker.HabitProgress {
	return tracker.HabitProgress{
		ID: m.ID, HabitID: m.HabitID, UserID: m.UserID, CategoryID: m.CategoryID,
		StartDate: parseDate(m.StartDate), EndDate: parseDate(m.EndDate),
		GoalDuration: m.GoalDuration, CompletedDuration: m.CompletedDuration, Completed: m.Completed,
	}
}

func fromToDo(t *tracker.ToDo) *toDoModel {
	return &toDoModel{ID: t.ID, UserID: t.UserID, ProjectID: t.ProjectID, Title: t.Title, Completed: t.Completed, CreatedAt: t.CreatedAt}
}

func (m toDoModel) toToDo() tracker.ToDo {
	return tracker.ToDo{ID: m.ID, UserID: m.UserID, ProjectID: m.ProjectID, Title: m.Title, Completed: m.Completed, CreatedAt: m.CreatedAt.UTC()}
}

func parseDate(s string) generic.TimePoint {
	d, _ := generic.ParseDate(s)
	return d
}
