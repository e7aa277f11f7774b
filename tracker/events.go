package tracker

import (
	"context"
	"time"
)

type EventType string

const (
	EventActivityLogged  EventType = "activity_logged"
	EventActivityDeleted EventType = "activity_deleted"
	EventPeriodsRolled   EventType = "habit_periods_rolled"
)

// Event tells dashboards which goals changed after a commit.
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id"`
	ActivityID string    `json:"activity_id,omitempty"`
	TaskIDs    []string  `json:"task_ids,omitempty"`
	HabitIDs   []string  `json:"habit_progress_ids,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers events after the unit of work committed. Delivery is
// best effort; a failed publish never fails the operation.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func eventFor(t EventType, userID, activityID string, r AccrualResult) Event {
	e := Event{Type: t, UserID: userID, ActivityID: activityID, At: time.Now().UTC()}
	for _, task := range r.Tasks {
		e.TaskIDs = append(e.TaskIDs, task.ID)
	}
	for _, p := range r.Habits {
		e.HabitIDs = append(e.HabitIDs, p.ID)
	}
	return e
}
