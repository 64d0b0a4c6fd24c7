package opt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSearchPicksBestMember(t *testing.T) {
	m := &Model{}
	a := m.AddVar(Var{Name: "a", Kind: Bool, Hi: 1})
	b := m.AddVar(Var{Name: "b", Kind: Bool, Hi: 1})
	c := m.AddVar(Var{Name: "c", Kind: Bool, Hi: 1})
	m.Add(ExactlyOne{Label: "one", Bools: []int{a, b, c}})
	m.Objective = []Term{{a, 1}, {b, 5}, {c, 3}}

	sol, err := LocalSearch{Seed: 1}.Solve(context.Background(), m, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, []int{0, 1, 0}, sol.Values)
	assert.InDelta(t, 5.0, sol.Objective, 1e-9)
	assert.True(t, sol.Metrics.ProvenOptimal)
}

func TestLocalSearchNoSolution(t *testing.T) {
	m := &Model{}
	a := m.AddVar(Var{Name: "a", Kind: Bool, Hi: 0})
	m.Add(ExactlyOne{Label: "one", Bools: []int{a}})

	sol, err := LocalSearch{Seed: 1}.Solve(context.Background(), m, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusNoSolution, sol.Status)
	assert.Nil(t, sol.Values)
}

// two unit jobs on one machine with three start times: the search must
// separate them and prefer the pair worth more
func TestLocalSearchSeparatesIntervals(t *testing.T) {
	m := &Model{}
	var xs, ss [2][2]int
	for j := 0; j < 2; j++ {
		for k := 0; k < 2; k++ {
			xs[j][k] = m.AddVar(Var{Kind: Bool, Hi: 1})
			ss[j][k] = m.AddVar(Var{Kind: Int, Lo: 0, Hi: 2, Step: 1})
		}
		m.Add(ExactlyOne{Label: "job", Bools: []int{xs[j][0], xs[j][1]}})
	}
	// machine 0 pays 10, machine 1 pays 1; machine 0 only fits both if they
	// are apart
	for k := 0; k < 2; k++ {
		m.Add(NoOverlap{Label: "m", A: Interval{Present: xs[0][k], Start: ss[0][k], Length: 2}, B: Interval{Present: xs[1][k], Start: ss[1][k], Length: 2}})
	}
	m.Add(Guard{Label: "ends", Bool: xs[0][0], Int: ss[0][0], Allowed: func(v int) bool { return v+2 <= 4 }})
	m.Add(Guard{Label: "ends", Bool: xs[1][0], Int: ss[1][0], Allowed: func(v int) bool { return v+2 <= 4 }})
	m.Objective = []Term{{xs[0][0], 10}, {xs[0][1], 1}, {xs[1][0], 10}, {xs[1][1], 1}}

	sol, err := LocalSearch{Seed: 7}.Solve(context.Background(), m, 500*time.Millisecond)
	require.NoError(t, err)
	require.NotEqual(t, StatusNoSolution, sol.Status)
	assert.Zero(t, m.Violations(sol.Values))
	assert.InDelta(t, 20.0, sol.Objective, 1e-9)
	assert.Equal(t, StatusOptimal, sol.Status)
}

func TestLocalSearchStopsOnCancel(t *testing.T) {
	m := &Model{}
	var bools []int
	for i := 0; i < 50; i++ {
		bools = append(bools, m.AddVar(Var{Kind: Bool, Hi: 1}))
	}
	m.Add(ExactlyOne{Label: "one", Bools: bools})
	// nothing reaches the bound, so only cancellation ends the search
	m.Objective = []Term{{bools[0], 1}}
	m.Add(Guard{Label: "never", Bool: bools[0], Int: m.AddVar(Var{Kind: Int, Hi: 0}), Allowed: func(int) bool { return false }})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	sol, err := LocalSearch{Seed: 1}.Solve(ctx, m, time.Hour)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StatusFeasible, sol.Status)
	assert.Zero(t, sol.Objective)
}

func TestLocalSearchStartsFromHint(t *testing.T) {
	m := &Model{}
	a := m.AddVar(Var{Kind: Bool, Hi: 1})
	b := m.AddVar(Var{Kind: Bool, Hi: 1})
	m.Add(ExactlyOne{Label: "one", Bools: []int{a, b}})
	m.Objective = []Term{{a, 1}, {b, 2}}
	m.Hint = []int{0, 1}

	sol, err := LocalSearch{Seed: 1, IterationsLimit: 1}.Solve(context.Background(), m, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, sol.Values)
	assert.Equal(t, 0, sol.Metrics.FeasibleAtIteration)
}

func TestModelCheck(t *testing.T) {
	m := &Model{}
	m.AddVar(Var{Kind: Int, Lo: 3, Hi: 1})
	assert.Error(t, m.Check())

	m = &Model{}
	m.AddVar(Var{Kind: Bool, Hi: 2})
	assert.Error(t, m.Check())

	m = &Model{}
	m.Add(ExactlyOne{Label: "dangling", Bools: []int{4}})
	assert.Error(t, m.Check())

	m = &Model{Hint: []int{1}}
	assert.Error(t, m.Check())

	_, err := LocalSearch{}.Solve(context.Background(), m, time.Millisecond)
	assert.Error(t, err)
}

func TestVarValues(t *testing.T) {
	assert.Equal(t, []int{480, 510, 540}, Var{Lo: 480, Hi: 560, Step: 30}.Values())
	assert.Equal(t, []int{0, 1}, Var{Kind: Bool, Hi: 1}.Values())
}

func TestNoOverlapGaps(t *testing.T) {
	c := NoOverlap{
		A:     Interval{Present: 0, Start: 1, Length: 10},
		B:     Interval{Present: 2, Start: 3, Length: 5},
		GapAB: 20,
		GapBA: -3,
	}
	// values: [presentA, startA, presentB, startB]
	assert.Equal(t, 1, c.Violation([]int{1, 0, 1, 29}), "B needs A's length plus the gap")
	assert.Zero(t, c.Violation([]int{1, 0, 1, 30}))
	assert.Zero(t, c.Violation([]int{1, 2, 1, 0}), "a negative gap lets A start before B's end")
	assert.Equal(t, 1, c.Violation([]int{1, 1, 1, 0}))
	assert.Zero(t, c.Violation([]int{0, 0, 1, 0}))
}
