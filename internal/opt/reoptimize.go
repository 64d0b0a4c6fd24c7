package opt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"errandplan/internal/schedule"
)

// Outcome of a reoptimization attempt. When Fallback is set, Schedule is
// the baseline and Reason says why.
type Outcome struct {
	Schedule *schedule.Schedule
	Status   Status
	Fallback bool
	Reason   string
	Metrics  SearchMetrics
}

// Reoptimize formulates the problem over contractors, which must carry
// calendars independent of the baseline's, solves it within budget and
// decodes the result. An instance too large to formulate, a solver that
// finds nothing, times out empty-handed or is canceled yields the baseline
// instead of an error. Input errors are returned.
func Reoptimize(ctx context.Context, f *Formulator, solver Solver, customers []schedule.Customer, contractors []*schedule.Contractor, baseline *schedule.Schedule, budget time.Duration) (Outcome, error) {
	started := time.Now()
	form, err := f.Formulate(customers, contractors)
	if errors.Is(err, ErrModelTooLarge) {
		return fallback(f, baseline, StatusNoSolution, SearchMetrics{}, err.Error())
	}
	if err != nil {
		return Outcome{}, err
	}
	if ctx.Err() != nil {
		return fallback(f, baseline, StatusNoSolution, SearchMetrics{}, fmt.Sprintf("canceled: %v", ctx.Err()))
	}
	if baseline != nil {
		form.Hint(baseline)
	}
	sol, err := solver.Solve(ctx, form.Model, budget)
	if err != nil {
		if ctx.Err() != nil {
			return fallback(f, baseline, StatusNoSolution, sol.Metrics, fmt.Sprintf("canceled: %v", ctx.Err()))
		}
		return Outcome{}, fmt.Errorf("reoptimize: %w", err)
	}
	if sol.Status == StatusNoSolution {
		return fallback(f, baseline, sol.Status, sol.Metrics, "solver found no solution within budget")
	}
	sched, err := form.Decode(sol)
	if err != nil {
		if errors.Is(err, ErrNoSolution) {
			return fallback(f, baseline, StatusNoSolution, sol.Metrics, err.Error())
		}
		return Outcome{}, err
	}
	f.logger().Printf("strategy=%s status=%s scheduled=%d/%d profit=%.2f iters=%d dur=%s",
		StrategyOptimized, sol.Status, sched.Scheduled(), len(customers), sched.TotalProfit(), sol.Metrics.Iterations, time.Since(started).Round(time.Millisecond))
	return Outcome{Schedule: sched, Status: sol.Status, Metrics: sol.Metrics}, nil
}

func fallback(f *Formulator, baseline *schedule.Schedule, st Status, met SearchMetrics, reason string) (Outcome, error) {
	if baseline == nil {
		return Outcome{}, fmt.Errorf("reoptimize: %s: %w", reason, ErrNoSolution)
	}
	f.logger().Printf("strategy=%s status=%q fallback=%s reason=%q", StrategyOptimized, st, baseline.Strategy, reason)
	return Outcome{Schedule: baseline, Status: st, Fallback: true, Reason: reason, Metrics: met}, nil
}
