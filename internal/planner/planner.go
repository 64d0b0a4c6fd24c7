// Package planner runs one planning request end to end: greedy baseline,
// optional reoptimization on independent calendars, profit comparison,
// metrics, events, persistence and the completion callback.
package planner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"errandplan/internal/charge"
	"errandplan/internal/config"
	"errandplan/internal/geo"
	"errandplan/internal/metrics"
	"errandplan/internal/model"
	"errandplan/internal/opt"
	"errandplan/internal/schedule"
	"errandplan/internal/store"
	"errandplan/internal/webhooks"
)

// Run lifecycle events.
const (
	EventStarted         = "plan.started"
	EventGreedyCompleted = "plan.greedy.completed"
	EventOptimized       = "plan.optimized"
	EventFallback        = "plan.fallback"
	EventCompleted       = "plan.completed"
)

const maxTimeBudget = time.Minute

// Result is one finished run, retained in process for retrieval.
type Result struct {
	RunID     string
	CreatedAt time.Time
	Origin    time.Time
	Greedy    *schedule.Schedule
	// Optimized is nil when reoptimization was not requested.
	Optimized *opt.Outcome
	Chosen    string
	Summary   model.RunSummary
}

type Planner struct {
	cfg      config.Config
	charges  *charge.Model
	network  geo.Network
	store    store.Store
	webhooks *webhooks.Publisher
	runs     *opt.MetricsStore

	// Log defaults to log.Default().
	Log *log.Logger
	// Notify receives run lifecycle events; nil drops them.
	Notify func(runID, eventType string, data map[string]any)

	mu     sync.Mutex
	recent map[string]*Result
	order  []string
}

func New(cfg config.Config, st store.Store, pub *webhooks.Publisher) (*Planner, error) {
	cc, err := cfg.Charge()
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	charges, err := charge.NewModel(cc)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return &Planner{
		cfg:      cfg,
		charges:  charges,
		network:  cfg.GeoNetwork(),
		store:    st,
		webhooks: pub,
		runs:     opt.NewMetricsStore(),
		recent:   map[string]*Result{},
	}, nil
}

func (p *Planner) Config() config.Config { return p.cfg }

func (p *Planner) logger() *log.Logger {
	if p.Log != nil {
		return p.Log
	}
	return log.Default()
}

func (p *Planner) notify(runID, eventType string, data map[string]any) {
	if p.Notify != nil {
		p.Notify(runID, eventType, data)
	}
}

// Greedy returns a greedy scheduler wired to the metrics and logger.
func (p *Planner) Greedy() *opt.Greedy {
	g := opt.NewGreedy(p.network, p.charges)
	g.Log = p.logger()
	g.OnConflict = func(string) { metrics.ReservationConflicts.WithLabelValues(opt.StrategyGreedy).Inc() }
	return g
}

func (p *Planner) formulator() *opt.Formulator {
	f := opt.NewFormulator(p.network, p.charges)
	f.Log = p.logger()
	f.OnConflict = func(string) { metrics.ReservationConflicts.WithLabelValues(opt.StrategyOptimized).Inc() }
	return f
}

// Plan runs the request. Input errors wrap ErrInvalidRequest; solver
// trouble never fails the run, it falls back to the greedy schedule.
func (p *Planner) Plan(ctx context.Context, req model.PlanRequest) (*Result, error) {
	started := time.Now()
	runID := uuid.New().String()
	inst, err := p.Build(req)
	if err != nil {
		return nil, err
	}
	p.notify(runID, EventStarted, map[string]any{"customers": len(inst.Customers), "contractors": len(inst.Contractors)})

	gStart := time.Now()
	base, err := p.Greedy().Run(inst.Customers, schedule.CloneContractors(inst.Contractors))
	if err != nil {
		return nil, invalid(err)
	}
	p.record(ctx, runID, base, "", time.Since(gStart), nil)
	p.notify(runID, EventGreedyCompleted, scheduleEvent(base))

	res := &Result{RunID: runID, CreatedAt: started.UTC(), Origin: inst.Origin, Greedy: base, Chosen: opt.StrategyGreedy}

	optimize := p.cfg.Solver.Optimize
	if req.Optimize != nil {
		optimize = *req.Optimize
	}
	if optimize && len(inst.Contractors) > 0 && len(inst.Customers) > 0 {
		out, err := p.reoptimize(ctx, runID, inst, base, req)
		if err != nil {
			return nil, err
		}
		res.Optimized = &out
		if !out.Fallback && out.Schedule.TotalProfit() > base.TotalProfit() {
			res.Chosen = opt.StrategyOptimized
		}
	}

	res.Summary = summarize(res, time.Since(started))
	if err := p.store.SaveRun(ctx, res.Summary); err != nil {
		p.logger().Printf("run=%s save summary: %v", runID, err)
	}
	p.retain(res)
	if req.CallbackURL != "" && p.webhooks != nil {
		if _, err := p.webhooks.Emit(ctx, runID, EventCompleted, req.CallbackURL, req.CallbackSecret, res.Summary); err != nil {
			p.logger().Printf("run=%s enqueue callback: %v", runID, err)
		}
	}
	p.logger().Printf("run=%s chosen=%s greedy=%.2f dur=%s", runID, res.Chosen, base.TotalProfit(), time.Since(started).Round(time.Millisecond))
	return res, nil
}

func (p *Planner) reoptimize(ctx context.Context, runID string, inst Instance, base *schedule.Schedule, req model.PlanRequest) (opt.Outcome, error) {
	budget := time.Duration(p.cfg.Solver.TimeBudget)
	if req.TimeBudgetMs > 0 {
		budget = time.Duration(req.TimeBudgetMs) * time.Millisecond
	}
	if budget > maxTimeBudget {
		budget = maxTimeBudget
	}
	seed := p.cfg.Solver.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}
	solver := opt.LocalSearch{Seed: seed}
	sStart := time.Now()
	out, err := opt.Reoptimize(ctx, p.formulator(), solver, inst.Customers, schedule.CloneContractors(inst.Contractors), base, budget)
	if err != nil {
		return opt.Outcome{}, fmt.Errorf("run %s: %w", runID, err)
	}
	elapsed := time.Since(sStart)
	metrics.SolverDuration.WithLabelValues(string(out.Status)).Observe(elapsed.Seconds())
	if out.Fallback {
		metrics.SolverFallbacks.Inc()
		p.notify(runID, EventFallback, map[string]any{"status": string(out.Status), "reason": out.Reason})
		p.record(ctx, runID, nil, out.Status, elapsed, &out.Metrics)
		return out, nil
	}
	p.record(ctx, runID, out.Schedule, out.Status, elapsed, &out.Metrics)
	ev := scheduleEvent(out.Schedule)
	ev["solverStatus"] = string(out.Status)
	p.notify(runID, EventOptimized, ev)
	return out, nil
}

// record publishes one strategy's numbers to Prometheus, the in-process
// metrics store and the persistent store. A nil schedule is a fallback.
func (p *Planner) record(ctx context.Context, runID string, s *schedule.Schedule, st opt.Status, elapsed time.Duration, search *opt.SearchMetrics) {
	rm := opt.RunMetrics{Strategy: opt.StrategyGreedy, Status: "ok", ElapsedMs: elapsed.Milliseconds(), Search: search}
	if search != nil {
		rm.Strategy = opt.StrategyOptimized
		rm.Status = string(st)
	}
	if s != nil {
		rm.Scheduled = s.Scheduled()
		rm.Total = len(s.Customers)
		rm.Profit = s.TotalProfit()
		metrics.Unscheduled.WithLabelValues(rm.Strategy).Add(float64(len(s.Unscheduled)))
		metrics.PlanProfit.WithLabelValues(rm.Strategy).Observe(rm.Profit)
	}
	metrics.PlanRuns.WithLabelValues(rm.Strategy, rm.Status).Inc()
	p.runs.Record(runID, rm)
	if err := p.store.SavePlanMetrics(ctx, runID, rm); err != nil {
		p.logger().Printf("run=%s save metrics strategy=%s: %v", runID, rm.Strategy, err)
	}
	if search != nil && len(search.Snapshots) > 0 {
		if err := p.store.SavePlanMetricsWeights(ctx, runID, rm.Strategy, search.Snapshots); err != nil {
			p.logger().Printf("run=%s save weights: %v", runID, err)
		}
	}
}

// RunMetrics returns the in-process metrics of a run keyed by strategy.
func (p *Planner) RunMetrics(runID string) map[string]opt.RunMetrics { return p.runs.Get(runID) }

func (p *Planner) retain(r *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	limit := p.cfg.RetainRuns
	if limit <= 0 {
		limit = 1
	}
	p.recent[r.RunID] = r
	p.order = append(p.order, r.RunID)
	for len(p.order) > limit {
		delete(p.recent, p.order[0])
		p.order = p.order[1:]
	}
}

// Recent returns a retained run. Older runs only have their summary in the
// store.
func (p *Planner) Recent(runID string) (*Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.recent[runID]
	return r, ok
}

// Trace builds the instance and returns a greedy stepper over fresh
// calendars, for streaming the run one transition at a time.
func (p *Planner) Trace(req model.PlanRequest) (*opt.Stepper, Instance, error) {
	inst, err := p.Build(req)
	if err != nil {
		return nil, Instance{}, err
	}
	return p.Greedy().Stepper(inst.Customers, schedule.CloneContractors(inst.Contractors)), inst, nil
}

// Response renders r for the wire.
func Response(r *Result) model.PlanResponse {
	resp := model.PlanResponse{
		RunID:     r.RunID,
		CreatedAt: r.CreatedAt,
		Chosen:    r.Chosen,
		Greedy:    ScheduleOut(r.Greedy, r.Origin),
	}
	if o := r.Optimized; o != nil {
		resp.SolverStatus = string(o.Status)
		resp.Fallback = o.Fallback
		resp.FallbackReason = o.Reason
		if !o.Fallback {
			so := ScheduleOut(o.Schedule, r.Origin)
			resp.Optimized = &so
		}
	}
	return resp
}

func summarize(r *Result, elapsed time.Duration) model.RunSummary {
	s := model.RunSummary{
		ID:              r.RunID,
		CreatedAt:       r.CreatedAt,
		Customers:       len(r.Greedy.Customers),
		Contractors:     len(r.Greedy.Contractors),
		Chosen:          r.Chosen,
		GreedyScheduled: r.Greedy.Scheduled(),
		GreedyProfit:    r.Greedy.TotalProfit(),
		DurationMs:      elapsed.Milliseconds(),
	}
	if o := r.Optimized; o != nil {
		s.SolverStatus = string(o.Status)
		s.Fallback = o.Fallback
		if !o.Fallback {
			n, v := o.Schedule.Scheduled(), o.Schedule.TotalProfit()
			s.OptimizedScheduled, s.OptimizedProfit = &n, &v
		}
	}
	return s
}

func scheduleEvent(s *schedule.Schedule) map[string]any {
	return map[string]any{
		"strategy":    s.Strategy,
		"status":      s.Status(),
		"scheduled":   s.Scheduled(),
		"profit":      s.TotalProfit(),
		"unscheduled": len(s.Unscheduled),
	}
}
