package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/progress-engine/generic"
)

var (
	activitiesLogged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_activities_logged_total",
			Help: "Activities committed together with their accrual",
		},
	)

	accrualUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_accrual_updates_total",
			Help: "Goal rows incremented by activity accrual",
		},
		[]string{"target"},
	)

	accrualFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_accrual_failures_total",
			Help: "Activity logs rolled back because accrual failed",
		},
	)

	periodsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_habit_periods_generated_total",
			Help: "HabitProgress windows created",
		},
	)
)

// recordCommitted counts what a committed unit of work changed. Rolled back
// work is never counted.
func recordCommitted(r AccrualResult) {
	if n := len(r.Tasks); n > 0 {
		accrualUpdates.WithLabelValues(string(generic.TargetTask)).Add(float64(n))
	}
	if n := len(r.Habits); n > 0 {
		accrualUpdates.WithLabelValues(string(generic.TargetHabitProgress)).Add(float64(n))
	}
	if r.PeriodsCreated > 0 {
		periodsGenerated.Add(float64(r.PeriodsCreated))
	}
}
