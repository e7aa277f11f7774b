package tracker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/warp/progress-engine/generic"
)

// =============================================================================
// ACCRUAL ENGINE - Rolls an activity's duration into covering goals
// =============================================================================

// AccrualEngine applies an activity to every Task and HabitProgress window of
// the same user and category that contains the activity date.
//
// It must run against the transactional view of a TxStore, in the same unit
// as the activity insert: if any increment fails the activity is rolled back
// with it and no goal shows a partial accrual.
type AccrualEngine struct {
	Generator *PeriodGenerator
}

func NewAccrualEngine(gen *PeriodGenerator) *AccrualEngine {
	if gen == nil {
		gen = NewPeriodGenerator()
	}
	return &AccrualEngine{Generator: gen}
}

// AccrualResult lists the rows an accrual (or its reversal) changed, with
// their values as stored after the increment.
type AccrualResult struct {
	Tasks          []Task          `json:"tasks"`
	Habits         []HabitProgress `json:"habits"`
	PeriodsCreated int             `json:"periods_created"`
}

// AccrueActivity applies a (already inserted) activity.
//
// Steps:
//  1. Catch up the category's habits so a window exists for the date
//  2. Scan covering tasks and habit windows concurrently
//  3. Plan the updates, skipping rows the activity would not change
//  4. Apply each update as an atomic increment and record it
func (e *AccrualEngine) AccrueActivity(ctx context.Context, s Store, a Activity) (AccrualResult, error) {
	var result AccrualResult
	if a.Duration < 0 {
		return result, generic.Validation("duration must be >= 0", generic.ErrNegativeDuration)
	}

	habits, err := s.HabitsByCategory(ctx, a.UserID, a.CategoryID)
	if err != nil {
		return result, fmt.Errorf("habits for category %s: %w", a.CategoryID, err)
	}
	for _, h := range habits {
		created, err := e.Generator.CatchUp(ctx, s, h, a.Date)
		if err != nil {
			return result, err
		}
		result.PeriodsCreated += len(created)
	}

	var (
		tasks    []Task
		progress []HabitProgress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = s.TasksCovering(gctx, a.UserID, a.CategoryID, a.Date)
		if err != nil {
			return fmt.Errorf("scan tasks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		progress, err = s.HabitProgressCovering(gctx, a.UserID, a.CategoryID, a.Date)
		if err != nil {
			return fmt.Errorf("scan habit progress: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return result, err
	}

	targets := make([]generic.Target, 0, len(tasks)+len(progress))
	for _, t := range tasks {
		targets = append(targets, t.Target())
	}
	for _, p := range progress {
		targets = append(targets, p.Target())
	}

	plan := generic.PlanAccrual(targets, a.Date, a.Duration)
	entries := make([]AccrualEntry, 0, len(plan))
	for _, u := range plan {
		if err := e.apply(ctx, s, u.Target.Kind, u.Target.ID, u.Delta, &result); err != nil {
			return result, err
		}
		entries = append(entries, AccrualEntry{
			ActivityID: a.ID,
			TargetKind: u.Target.Kind,
			TargetID:   u.Target.ID,
			Delta:      u.Delta,
		})
	}

	if len(entries) > 0 {
		if err := s.RecordAccruals(ctx, entries); err != nil {
			return result, fmt.Errorf("record accruals: %w", err)
		}
	}
	return result, nil
}

// ReverseActivity takes back every increment recorded for the activity.
// Goals deleted since the accrual are skipped.
func (e *AccrualEngine) ReverseActivity(ctx context.Context, s Store, activityID string) (AccrualResult, error) {
	var result AccrualResult

	entries, err := s.AccrualsForActivity(ctx, activityID)
	if err != nil {
		return result, fmt.Errorf("accruals for activity %s: %w", activityID, err)
	}
	for _, entry := range entries {
		err := e.apply(ctx, s, entry.TargetKind, entry.TargetID, -entry.Delta, &result)
		if errors.Is(err, generic.ErrNotFound) {
			continue
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *AccrualEngine) apply(ctx context.Context, s Store, kind generic.TargetKind, id string, delta int, result *AccrualResult) error {
	switch kind {
	case generic.TargetTask:
		t, err := s.IncrementTask(ctx, id, delta)
		if err != nil {
			return fmt.Errorf("increment task %s: %w", id, err)
		}
		result.Tasks = append(result.Tasks, *t)
	case generic.TargetHabitProgress:
		p, err := s.IncrementHabitProgress(ctx, id, delta)
		if err != nil {
			return fmt.Errorf("increment habit progress %s: %w", id, err)
		}
		result.Habits = append(result.Habits, *p)
	default:
		return fmt.Errorf("unknown accrual target kind %q", kind)
	}
	return nil
}
