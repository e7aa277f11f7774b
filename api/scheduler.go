/*
scheduler.go - Nightly habit rollover

PURPOSE:
  Habit windows are otherwise only appended when a habit is created or an
  activity lands after the last window. The scheduler appends the window
  containing today for every habit whose last window has elapsed, so
  dashboards show the current period even on days nothing was logged.

DESIGN:
  - robfig/cron runs the job on a standard five-field spec
  - One rollover at a time; a run that would overlap the previous is skipped
  - Each habit is its own transaction (see tracker.Service.RolloverHabits)

CONFIGURATION:
  - Spec:    cron expression (default "5 0 * * *", five past midnight UTC)
  - Enabled: whether the scheduler starts at all

USAGE:
  scheduler, err := NewRolloverScheduler(svc, log, "5 0 * * *")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint (manual rollover)
  - tracker/habits.go: PeriodGenerator
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/logger"
	"github.com/warp/progress-engine/tracker"
)

// DefaultRolloverSpec runs shortly after midnight UTC.
const DefaultRolloverSpec = "5 0 * * *"

// RolloverScheduler runs tracker.Service.RolloverHabits on a cron spec.
type RolloverScheduler struct {
	Service *tracker.Service
	Logger  *logger.Logger
	Spec    string

	// Clock returns "today"; tests pin it.
	Clock func() generic.TimePoint

	cron *cron.Cron
}

// NewRolloverScheduler registers the rollover job. It does not start it.
func NewRolloverScheduler(svc *tracker.Service, log *logger.Logger, spec string) (*RolloverScheduler, error) {
	if spec == "" {
		spec = DefaultRolloverSpec
	}
	if log == nil {
		log = logger.NewNop()
	}

	rs := &RolloverScheduler{
		Service: svc,
		Logger:  log,
		Spec:    spec,
		Clock:   generic.Today,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
	if _, err := rs.cron.AddFunc(spec, rs.RunNow); err != nil {
		return nil, fmt.Errorf("invalid rollover spec %q: %w", spec, err)
	}
	return rs, nil
}

// Start begins the scheduler in its own goroutine.
func (rs *RolloverScheduler) Start() {
	rs.cron.Start()
	rs.Logger.Info("rollover scheduler started",
		zap.String("spec", rs.Spec),
		zap.Time("next_run", rs.NextRun()),
	)
}

// Stop waits for a running job to finish.
func (rs *RolloverScheduler) Stop() {
	<-rs.cron.Stop().Done()
	rs.Logger.Info("rollover scheduler stopped")
}

// RunNow performs one rollover immediately.
func (rs *RolloverScheduler) RunNow() {
	today := rs.Clock()
	created, err := rs.Service.RolloverHabits(context.Background(), today)
	if err != nil {
		rs.Logger.Error("scheduled rollover finished with errors",
			zap.String("as_of", today.String()),
			zap.Int("periods_created", created),
			zap.Error(err),
		)
		return
	}
	rs.Logger.Info("scheduled rollover finished",
		zap.String("as_of", today.String()),
		zap.Int("periods_created", created),
	)
}

// NextRun returns when the job fires next, or the zero time before Start.
func (rs *RolloverScheduler) NextRun() time.Time {
	entries := rs.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
