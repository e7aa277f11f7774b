/*
Package generic provides the domain-agnostic core of the progress engine.

PURPOSE:
  This package holds the pieces of goal accounting that do not care whether
  a goal is a one-off task or one period of a recurring habit: calendar-day
  arithmetic, inclusive windows, cadence math, the accrual plan and the
  error/result envelope every operation reports through.

KEY CONCEPTS:
  - TimePoint: A calendar day (UTC, clock ignored)
  - Period:    An inclusive window [Start, End]
  - Cadence:   DAILY / WEEKLY / MONTHLY repetition for habit windows
  - Target:    The accrual view of a Task or HabitProgress row
  - Result:    {success, message, data} envelope returned to the UI layer

DESIGN PRINCIPLES:
  1. Pure functions: nothing here touches storage or clocks (except Today)
  2. Additive accrual: plans carry deltas, stores apply them as increments
  3. Tagged errors: callers branch on Kind, never on message text

USAGE:
  w := generic.HabitWindow(generic.CadenceWeekly, 1, generic.MustParseDate("2024-01-01"))
  // w = [2024-01-01, 2024-01-07]
  updates := generic.PlanAccrual(targets, generic.MustParseDate("2024-01-03"), 40)

SEE ALSO:
  - tracker: Domain entities, stores and the transactional accrual engine
*/
package generic
