package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"
)

// LocalSearch is an in-process Solver: adaptive simulated annealing over a
// Model, seeded from the hint or a first-fit construction. It only knows
// the model's generic structure: ExactlyOne groups choose among bools, and
// Guards and NoOverlap intervals tie each bool to the integers it controls.
type LocalSearch struct {
	Seed            int64
	IterationsLimit int     // optional iteration cap
	InitialTemp     float64 // initial temperature for SA
	Cooling         float64 // cooling factor per iteration
	// Penalty is the objective value one unit of violation costs. Zero
	// derives one larger than any objective swing.
	Penalty             float64
	InitialMoveWeights  []float64 // [relocate, shift]
	InitialPlaceWeights []float64 // [firstFit, random]
}

type SearchMetrics struct {
	MoveSelects         [2]int           `json:"moveSelects"`  // relocate, shift
	PlaceSelects        [2]int           `json:"placeSelects"` // firstFit, random
	Iterations          int              `json:"iterations"`
	Improvements        int              `json:"improvements"`
	AcceptedWorse       int              `json:"acceptedWorse"`
	BestObjective       float64          `json:"bestObjective"`
	FinalObjective      float64          `json:"finalObjective"`
	FinalMoveWeights    [2]float64       `json:"finalMoveWeights"`
	FinalPlaceWeights   [2]float64       `json:"finalPlaceWeights"`
	Snapshots           []WeightSnapshot `json:"-"`
	Elapsed             time.Duration    `json:"elapsedNs"`
	ProvenOptimal       bool             `json:"provenOptimal"`
	FeasibleAtIteration int              `json:"feasibleAtIteration"`
}

type WeightSnapshot struct {
	Iteration int        `json:"iteration"`
	Move      [2]float64 `json:"move"`
	Place     [2]float64 `json:"place"`
}

// Solve returns the best feasible assignment found before the budget or ctx
// runs out. It errors only on a malformed model.
func (ls LocalSearch) Solve(ctx context.Context, m *Model, budget time.Duration) (Solution, error) {
	if err := m.Check(); err != nil {
		return Solution{}, err
	}
	started := time.Now()
	seed := ls.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	st := newSearchState(m)
	penalty := ls.Penalty
	if penalty <= 0 {
		penalty = st.defaultPenalty()
	}
	energy := func() float64 { return -st.obj + penalty*float64(st.total) }
	st.construct()

	bound := st.upperBound()
	var best []int
	found := false
	bestObj := math.Inf(-1)
	met := SearchMetrics{FeasibleAtIteration: -1}
	keep := func() bool {
		if st.total == 0 && st.obj > bestObj+1e-9 {
			best = append(best[:0], st.values...)
			bestObj = st.obj
			found = true
			if met.FeasibleAtIteration < 0 {
				met.FeasibleAtIteration = met.Iterations
			}
			return true
		}
		return false
	}
	keep()

	moveW := []float64{1, 1}
	placeW := []float64{1, 1}
	if len(ls.InitialMoveWeights) == 2 {
		moveW = []float64{ls.InitialMoveWeights[0], ls.InitialMoveWeights[1]}
	}
	if len(ls.InitialPlaceWeights) == 2 {
		placeW = []float64{ls.InitialPlaceWeights[0], ls.InitialPlaceWeights[1]}
	}
	temp := 10.0
	if ls.InitialTemp > 0 {
		temp = ls.InitialTemp
	}
	cool := 0.995
	if ls.Cooling > 0 && ls.Cooling < 1 {
		cool = ls.Cooling
	}
	deadline := started.Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	snapshotEvery := 50
	proven := found && bestObj >= bound-1e-9
	for !proven && time.Now().Before(deadline) && ctx.Err() == nil && st.movable() {
		met.Iterations++
		if ls.IterationsLimit > 0 && met.Iterations >= ls.IterationsLimit {
			break
		}
		op := selectOp(moveW, rng)
		met.MoveSelects[op]++
		ip := selectOp(placeW, rng)
		met.PlaceSelects[ip]++

		before := energy()
		mark := st.mark()
		var moved bool
		switch op {
		case 0:
			moved = st.relocate(rng, ip)
		case 1:
			moved = st.shift(rng, ip)
		}
		if !moved {
			st.rollback(mark)
			continue
		}
		delta := energy() - before
		if delta <= 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			if keep() {
				moveW[op] += 0.1
				placeW[ip] += 0.1
				met.Improvements++
				proven = bestObj >= bound-1e-9
			} else if delta > 0 {
				moveW[op] += 0.01
				placeW[ip] += 0.01
				met.AcceptedWorse++
			}
			st.commit()
		} else {
			st.rollback(mark)
			moveW[op] = math.Max(0.01, moveW[op]*0.999)
			placeW[ip] = math.Max(0.01, placeW[ip]*0.999)
		}
		temp *= cool
		if met.Iterations%snapshotEvery == 0 {
			met.Snapshots = append(met.Snapshots, WeightSnapshot{Iteration: met.Iterations, Move: [2]float64{moveW[0], moveW[1]}, Place: [2]float64{placeW[0], placeW[1]}})
		}
	}
	met.FinalMoveWeights = [2]float64{moveW[0], moveW[1]}
	met.FinalPlaceWeights = [2]float64{placeW[0], placeW[1]}
	met.FinalObjective = st.obj
	met.Elapsed = time.Since(started)
	if !found {
		return Solution{Status: StatusNoSolution, Metrics: met}, nil
	}
	met.BestObjective = bestObj
	met.ProvenOptimal = proven
	status := StatusFeasible
	if proven {
		status = StatusOptimal
	}
	if best == nil {
		best = []int{}
	}
	return Solution{Status: status, Values: best, Objective: bestObj, Metrics: met}, nil
}

// searchState keeps the current assignment with per-constraint violations
// maintained incrementally.
type searchState struct {
	m       *Model
	values  []int
	coef    []float64
	domains [][]int
	varCons [][]int
	viol    []int
	total   int
	obj     float64
	groups  []ExactlyOne
	links   map[int][]int
	journal []undo
}

type undo struct{ v, old int }

func newSearchState(m *Model) *searchState {
	st := &searchState{
		m:       m,
		values:  make([]int, len(m.Vars)),
		coef:    make([]float64, len(m.Vars)),
		domains: make([][]int, len(m.Vars)),
		varCons: make([][]int, len(m.Vars)),
		viol:    make([]int, len(m.Constraints)),
		links:   map[int][]int{},
	}
	for i, v := range m.Vars {
		st.domains[i] = v.Values()
		st.values[i] = v.Lo
		if m.Hint != nil {
			st.values[i] = clampTo(st.domains[i], m.Hint[i])
		}
	}
	for _, t := range m.Objective {
		st.coef[t.Var] += t.Coef
	}
	for ci, c := range m.Constraints {
		seen := map[int]bool{}
		for _, v := range c.Vars() {
			if !seen[v] {
				st.varCons[v] = append(st.varCons[v], ci)
				seen[v] = true
			}
		}
		switch c := c.(type) {
		case ExactlyOne:
			st.groups = append(st.groups, c)
		case Guard:
			st.link(c.Bool, c.Int)
		case NoOverlap:
			st.link(c.A.Present, c.A.Start)
			st.link(c.B.Present, c.B.Start)
		}
	}
	st.recompute()
	return st
}

func (st *searchState) link(b, i int) {
	for _, x := range st.links[b] {
		if x == i {
			return
		}
	}
	st.links[b] = append(st.links[b], i)
}

func (st *searchState) recompute() {
	st.total = 0
	for ci, c := range st.m.Constraints {
		st.viol[ci] = c.Violation(st.values)
		st.total += st.viol[ci]
	}
	st.obj = st.m.Value(st.values)
}

func (st *searchState) set(v, x int) {
	old := st.values[v]
	if old == x {
		return
	}
	st.journal = append(st.journal, undo{v: v, old: old})
	st.assign(v, x)
}

func (st *searchState) assign(v, x int) {
	old := st.values[v]
	st.values[v] = x
	st.obj += st.coef[v] * float64(x-old)
	for _, ci := range st.varCons[v] {
		n := st.m.Constraints[ci].Violation(st.values)
		st.total += n - st.viol[ci]
		st.viol[ci] = n
	}
}

func (st *searchState) mark() int { return len(st.journal) }

func (st *searchState) rollback(mark int) {
	for i := len(st.journal) - 1; i >= mark; i-- {
		st.assign(st.journal[i].v, st.journal[i].old)
	}
	st.journal = st.journal[:mark]
}

func (st *searchState) commit() { st.journal = st.journal[:0] }

func (st *searchState) local(v int) int {
	n := 0
	for _, ci := range st.varCons[v] {
		n += st.viol[ci]
	}
	return n
}

// choosable are the members of g whose domain admits 1.
func (st *searchState) choosable(g ExactlyOne) []int {
	var out []int
	for _, b := range g.Bools {
		if st.m.Vars[b].Hi == 1 {
			out = append(out, b)
		}
	}
	return out
}

func (st *searchState) movable() bool {
	for _, g := range st.groups {
		if len(st.choosable(g)) > 0 {
			return true
		}
	}
	return false
}

// choose turns b on, the rest of g off, and places b's integers.
func (st *searchState) choose(g ExactlyOne, b int, place func(v int)) {
	for _, o := range g.Bools {
		if o != b && st.values[o] != 0 {
			st.set(o, 0)
		}
	}
	st.set(b, 1)
	for _, iv := range st.links[b] {
		place(iv)
	}
}

func (st *searchState) firstFit(v int) {
	bestX, bestN := st.values[v], math.MaxInt
	for _, x := range st.domains[v] {
		st.set(v, x)
		n := st.local(v)
		if n < bestN {
			bestX, bestN = x, n
		}
		if n == 0 {
			break
		}
	}
	st.set(v, bestX)
}

func (st *searchState) placer(rng *rand.Rand, ip int) func(v int) {
	if ip == 0 {
		return st.firstFit
	}
	return func(v int) {
		d := st.domains[v]
		st.set(v, d[rng.Intn(len(d))])
	}
}

func (st *searchState) relocate(rng *rand.Rand, ip int) bool {
	g := st.groups[rng.Intn(len(st.groups))]
	cands := st.choosable(g)
	if len(cands) == 0 {
		return false
	}
	st.choose(g, cands[rng.Intn(len(cands))], st.placer(rng, ip))
	return true
}

func (st *searchState) shift(rng *rand.Rand, ip int) bool {
	var active []int
	for b, ivs := range st.links {
		if st.values[b] == 1 && len(ivs) > 0 {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		return false
	}
	// map order is random; sort for a reproducible pick under a fixed seed
	sort.Ints(active)
	b := active[rng.Intn(len(active))]
	place := st.placer(rng, ip)
	for _, iv := range st.links[b] {
		place(iv)
	}
	return true
}

// construct repairs every violated group, first-fit, keeping the member
// that leaves the fewest violations and then the best objective.
func (st *searchState) construct() {
	for _, g := range st.groups {
		if g.Violation(st.values) == 0 {
			continue
		}
		bestB, bestN, bestObj := -1, math.MaxInt, math.Inf(-1)
		for _, b := range st.choosable(g) {
			mark := st.mark()
			st.choose(g, b, st.firstFit)
			if st.total < bestN || (st.total == bestN && st.obj > bestObj) {
				bestB, bestN, bestObj = b, st.total, st.obj
			}
			st.rollback(mark)
		}
		if bestB >= 0 {
			st.choose(g, bestB, st.firstFit)
		}
	}
	st.commit()
}

// upperBound is what the objective could reach if every group took its
// best member and every free bool with a positive coefficient were on.
func (st *searchState) upperBound() float64 {
	grouped := map[int]bool{}
	bound := 0.0
	for _, g := range st.groups {
		top := math.Inf(-1)
		for _, b := range st.choosable(g) {
			grouped[b] = true
			top = math.Max(top, st.coef[b])
		}
		for _, b := range g.Bools {
			grouped[b] = true
		}
		if !math.IsInf(top, -1) {
			bound += top
		}
	}
	for v, c := range st.coef {
		if !grouped[v] && c > 0 {
			bound += c * float64(st.m.Vars[v].Hi)
		}
	}
	return bound
}

func (st *searchState) defaultPenalty() float64 {
	p := 1.0
	for v, c := range st.coef {
		p += math.Abs(c) * float64(max(1, st.m.Vars[v].Hi))
	}
	return p
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}

func clampTo(domain []int, x int) int {
	if len(domain) == 0 {
		return x
	}
	best := domain[0]
	for _, d := range domain {
		if abs(d-x) < abs(best-x) {
			best = d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
