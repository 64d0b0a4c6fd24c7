package opt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoSolution = errors.New("solver found no feasible solution")

// VarKind distinguishes 0/1 decisions from bounded integers.
type VarKind int

const (
	Bool VarKind = iota
	Int
)

// Var is one decision variable. Int variables take values Lo, Lo+Step, ...
// up to Hi.
type Var struct {
	Name string
	Kind VarKind
	Lo   int
	Hi   int
	Step int
}

// Values enumerates the domain.
func (v Var) Values() []int {
	step := v.Step
	if step <= 0 {
		step = 1
	}
	var out []int
	for x := v.Lo; x <= v.Hi; x += step {
		out = append(out, x)
	}
	return out
}

// Constraint is any predicate over a subset of variables. Violation is 0
// when satisfied and grows with the degree of violation.
type Constraint interface {
	Name() string
	Vars() []int
	Violation(values []int) int
}

// Term is one objective coefficient.
type Term struct {
	Var  int
	Coef float64
}

// Model is what a solver consumes: variables, constraints and a linear
// objective to maximize. Hint, when set, is a full starting assignment.
type Model struct {
	Vars        []Var
	Constraints []Constraint
	Objective   []Term
	Hint        []int
}

func (m *Model) AddVar(v Var) int {
	m.Vars = append(m.Vars, v)
	return len(m.Vars) - 1
}

func (m *Model) Add(c Constraint) { m.Constraints = append(m.Constraints, c) }

// Value of the objective under values.
func (m *Model) Value(values []int) float64 {
	total := 0.0
	for _, t := range m.Objective {
		total += t.Coef * float64(values[t.Var])
	}
	return total
}

// Violations sums every constraint's violation.
func (m *Model) Violations(values []int) int {
	n := 0
	for _, c := range m.Constraints {
		n += c.Violation(values)
	}
	return n
}

// Check reports structural problems: bad domains, out-of-range references
// and hints outside their domains.
func (m *Model) Check() error {
	for i, v := range m.Vars {
		if v.Lo > v.Hi {
			return fmt.Errorf("opt: var %d %q has empty domain [%d,%d]", i, v.Name, v.Lo, v.Hi)
		}
		if v.Kind == Bool && (v.Lo < 0 || v.Hi > 1) {
			return fmt.Errorf("opt: bool var %d %q has domain [%d,%d]", i, v.Name, v.Lo, v.Hi)
		}
	}
	for _, c := range m.Constraints {
		for _, i := range c.Vars() {
			if i < 0 || i >= len(m.Vars) {
				return fmt.Errorf("opt: constraint %q references var %d", c.Name(), i)
			}
		}
	}
	for _, t := range m.Objective {
		if t.Var < 0 || t.Var >= len(m.Vars) {
			return fmt.Errorf("opt: objective references var %d", t.Var)
		}
	}
	if m.Hint != nil && len(m.Hint) != len(m.Vars) {
		return fmt.Errorf("opt: hint has %d values for %d vars", len(m.Hint), len(m.Vars))
	}
	return nil
}

// Status is a solver's verdict.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusFeasible   Status = "feasible"
	StatusNoSolution Status = "no solution"
)

// Solution carries the values of the best assignment found. Values is nil
// when Status is StatusNoSolution.
type Solution struct {
	Status    Status
	Values    []int
	Objective float64
	Metrics   SearchMetrics
}

// Solver is the boundary to a search engine. Implementations must honour
// the budget and ctx cancellation and return the best feasible assignment
// found so far.
type Solver interface {
	Solve(ctx context.Context, m *Model, budget time.Duration) (Solution, error)
}

// ExactlyOne holds when exactly one of its bool vars is 1.
type ExactlyOne struct {
	Label string
	Bools []int
}

func (c ExactlyOne) Name() string { return c.Label }
func (c ExactlyOne) Vars() []int  { return c.Bools }
func (c ExactlyOne) Violation(values []int) int {
	n := 0
	for _, b := range c.Bools {
		n += values[b]
	}
	if n > 1 {
		return n - 1
	}
	return 1 - n
}

// Guard holds when Bool is 0 or Allowed accepts the value of Int. Allowed
// is opaque to the solver.
type Guard struct {
	Label   string
	Bool    int
	Int     int
	Allowed func(v int) bool
}

func (c Guard) Name() string { return c.Label }
func (c Guard) Vars() []int  { return []int{c.Bool, c.Int} }
func (c Guard) Violation(values []int) int {
	if values[c.Bool] == 0 || c.Allowed(values[c.Int]) {
		return 0
	}
	return 1
}

// Interval is an optional interval [Start, Start+Length) present when
// Present is 1.
type Interval struct {
	Present int
	Start   int
	Length  int
}

// NoOverlap holds when A and B are not both present, or one ends before
// the other starts. GapAB is the extra separation needed when A comes
// first, GapBA when B does; either may be negative.
type NoOverlap struct {
	Label        string
	A, B         Interval
	GapAB, GapBA int
}

func (c NoOverlap) Name() string { return c.Label }
func (c NoOverlap) Vars() []int  { return []int{c.A.Present, c.A.Start, c.B.Present, c.B.Start} }
func (c NoOverlap) Violation(values []int) int {
	if values[c.A.Present] == 0 || values[c.B.Present] == 0 {
		return 0
	}
	as, bs := values[c.A.Start], values[c.B.Start]
	if bs >= as+c.A.Length+c.GapAB || as >= bs+c.B.Length+c.GapBA {
		return 0
	}
	return 1
}
