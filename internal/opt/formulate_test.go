package opt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"errandplan/internal/calendar"
	"errandplan/internal/charge"
	"errandplan/internal/errand"
	"errandplan/internal/geo"
	"errandplan/internal/schedule"
)

func newFormulator(t *testing.T) *Formulator {
	t.Helper()
	m, err := charge.NewModel(charge.DefaultConfig())
	require.NoError(t, err)
	return NewFormulator(geo.DefaultNetwork, m)
}

func countConstraints[T Constraint](m *Model) int {
	n := 0
	for _, c := range m.Constraints {
		if _, ok := c.(T); ok {
			n++
		}
	}
	return n
}

func TestFormulateShape(t *testing.T) {
	ks := []*schedule.Contractor{
		contractor(t, "A", geo.Location{}, 0.1, 2),
		contractor(t, "B", geo.Location{X: 90, Y: 90}, 0.1, 2),
	}
	cs := []schedule.Customer{
		customer("c1", geo.Location{X: 50, Y: 50}, errand.KindCleaning, 30*time.Minute),
		customer("c2", geo.Location{X: 0, Y: 20}, errand.KindRepair, time.Hour),
	}
	form, err := newFormulator(t).Formulate(cs, ks)
	require.NoError(t, err)
	m := form.Model

	// 2 days x 2 customers x 2 contractors, a bool and an int each
	assert.Len(t, m.Vars, 16)
	assert.Len(t, m.Objective, 8)
	assert.Equal(t, 2, countConstraints[ExactlyOne](m))
	// fit + calendar guard per cell
	assert.Equal(t, 16, countConstraints[Guard](m))
	// one pair per contractor and day
	assert.Equal(t, 4, countConstraints[NoOverlap](m))
	assert.Empty(t, form.Unreachable)

	for _, v := range m.Vars {
		if v.Kind == Int {
			assert.Equal(t, 8*60, v.Lo)
			assert.Equal(t, 17*60, v.Hi)
			assert.Equal(t, 30, v.Step)
		}
	}
	require.NoError(t, m.Check())
}

func TestFormulateObjectiveIsProfit(t *testing.T) {
	ks := []*schedule.Contractor{contractor(t, "B", geo.Location{X: 90, Y: 90}, 0.1, 1)}
	cs := []schedule.Customer{customer("c1", geo.Location{X: 50, Y: 50}, errand.KindCleaning, 30*time.Minute)}
	form, err := newFormulator(t).Formulate(cs, ks)
	require.NoError(t, err)
	require.Len(t, form.Model.Objective, 1)
	assert.InDelta(t, 13.0, form.Model.Objective[0].Coef, 1e-9)
}

func TestFormulateUnreachableCustomer(t *testing.T) {
	ks := []*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}
	cs := []schedule.Customer{customer("huge", geo.Location{X: 0, Y: 10}, errand.KindInstallation, 10*time.Hour)}
	form, err := newFormulator(t).Formulate(cs, ks)
	require.NoError(t, err)
	assert.Equal(t, []string{"huge"}, form.Unreachable)
	assert.Equal(t, 0, countConstraints[ExactlyOne](form.Model))
	assert.Equal(t, 0, form.Model.Vars[0].Hi, "bool fixed off")

	sol, err := LocalSearch{Seed: 1}.Solve(context.Background(), form.Model, 50*time.Millisecond)
	require.NoError(t, err)
	s, err := form.Decode(sol)
	require.NoError(t, err)
	assert.Equal(t, []string{"huge"}, s.Unscheduled)
}

func TestReoptimizeBeatsGreedyOnProfit(t *testing.T) {
	// A is far but free, B is close but expensive: greedy takes B for the
	// earlier start, the optimizer takes A for the profit.
	build := func() []*schedule.Contractor {
		return []*schedule.Contractor{
			contractor(t, "A", geo.Location{}, 0, 1),
			contractor(t, "B", geo.Location{X: 50, Y: 40}, 1, 1),
		}
	}
	cs := []schedule.Customer{customer("c1", geo.Location{X: 50, Y: 50}, errand.KindCleaning, 30*time.Minute)}

	base, err := newGreedy(t).Run(cs, build())
	require.NoError(t, err)
	assert.Equal(t, "B", base.Days[0][0].ContractorID)
	assert.InDelta(t, -16.0, base.TotalProfit(), 1e-9)

	ks := build()
	out, err := Reoptimize(context.Background(), newFormulator(t), LocalSearch{Seed: 1}, cs, ks, base, time.Second)
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.Equal(t, StatusOptimal, out.Status)
	require.Len(t, out.Schedule.Days[0], 1)
	got := out.Schedule.Days[0][0]
	assert.Equal(t, "A", got.ContractorID)
	assert.Equal(t, at(0, 9, 40), got.Start)
	assert.InDelta(t, 24.0, out.Schedule.TotalProfit(), 1e-9)
	assert.Equal(t, StrategyOptimized, out.Schedule.Strategy)

	// decoding committed through the calendar
	require.Len(t, ks[0].Calendar.Reservations(), 1)
	assert.False(t, ks[0].Calendar.IsAvailable(at(0, 9, 0), at(0, 9, 30)))
	assertSound(t, out.Schedule)
}

func TestReoptimizePacksContendedDay(t *testing.T) {
	ks := []*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}
	cs := []schedule.Customer{
		customer("c1", geo.Location{X: 0, Y: 10}, errand.KindRepair, 2*time.Hour),
		customer("c2", geo.Location{X: 0, Y: 20}, errand.KindRepair, 2*time.Hour),
		customer("c3", geo.Location{X: 0, Y: 30}, errand.KindCleaning, 2*time.Hour),
	}
	out, err := Reoptimize(context.Background(), newFormulator(t), LocalSearch{Seed: 42}, cs, ks, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, out.Status)
	assert.Equal(t, 3, out.Schedule.Scheduled())
	assertSound(t, out.Schedule)
}

func TestReoptimizeHonoursCustomerWindows(t *testing.T) {
	ks := []*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 2)}
	c := customer("c1", geo.Location{X: 0, Y: 20}, errand.KindRepair, time.Hour)
	c.Availability = map[int][]calendar.Slot{1: {{Start: at(1, 13, 0), End: at(1, 15, 0)}}}

	out, err := Reoptimize(context.Background(), newFormulator(t), LocalSearch{Seed: 5}, []schedule.Customer{c}, ks, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, out.Schedule.Scheduled())
	got := out.Schedule.Assignments()[0]
	assert.Equal(t, 1, got.Day)
	assert.False(t, got.Start.Before(at(1, 13, 0)))
	assert.False(t, got.End.After(at(1, 15, 0)))
}

func TestHintFollowsBaseline(t *testing.T) {
	cs, ks := randomInstance(t, 9)
	base, err := newGreedy(t).Run(cs, schedule.CloneContractors(ks))
	require.NoError(t, err)
	form, err := newFormulator(t).Formulate(cs, ks)
	require.NoError(t, err)
	form.Hint(base)
	require.Len(t, form.Model.Hint, len(form.Model.Vars))

	on := 0
	for _, cl := range form.cells {
		on += form.Model.Hint[cl.x]
	}
	assert.LessOrEqual(t, on, base.Scheduled())
	assert.Positive(t, on)
}

func TestReoptimizeLargerInstanceIsSound(t *testing.T) {
	cs, ks := randomInstance(t, 21)
	base, err := newGreedy(t).Run(cs, schedule.CloneContractors(ks))
	require.NoError(t, err)

	out, err := Reoptimize(context.Background(), newFormulator(t), LocalSearch{Seed: 3}, cs, ks, base, 300*time.Millisecond)
	require.NoError(t, err)
	assertSound(t, out.Schedule)
	if !out.Fallback {
		for _, k := range ks {
			rs := k.Calendar.Reservations()
			for i := 1; i < len(rs); i++ {
				assert.False(t, calendar.Overlaps(rs[i-1].Span(), rs[i].Span()))
			}
		}
	}
}

type stubSolver struct {
	sol Solution
	err error
}

func (s stubSolver) Solve(context.Context, *Model, time.Duration) (Solution, error) {
	return s.sol, s.err
}

func TestReoptimizeFallsBack(t *testing.T) {
	cs := []schedule.Customer{customer("c1", geo.Location{X: 0, Y: 20}, errand.KindRepair, time.Hour)}
	base := schedule.New(StrategyGreedy, cs, nil)
	base.MarkUnscheduled("c1")

	out, err := Reoptimize(context.Background(), newFormulator(t), stubSolver{sol: Solution{Status: StatusNoSolution}}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, base, time.Second)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Same(t, base, out.Schedule)
	assert.Equal(t, StatusNoSolution, out.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err = Reoptimize(ctx, newFormulator(t), stubSolver{err: context.Canceled}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, base, time.Second)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Contains(t, out.Reason, "canceled")

	_, err = Reoptimize(context.Background(), newFormulator(t), stubSolver{sol: Solution{Status: StatusNoSolution}}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, nil, time.Second)
	assert.ErrorIs(t, err, ErrNoSolution)

	_, err = Reoptimize(context.Background(), newFormulator(t), stubSolver{err: errors.New("boom")}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, base, time.Second)
	assert.Error(t, err)
}

func TestReoptimizeOffNetworkIsFatal(t *testing.T) {
	cs := []schedule.Customer{customer("x", geo.Location{X: 3, Y: 7}, errand.KindRepair, time.Hour)}
	_, err := Reoptimize(context.Background(), newFormulator(t), LocalSearch{Seed: 1}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, nil, time.Second)
	assert.ErrorIs(t, err, geo.ErrOffNetwork)
}

func TestDecodeRejectsNoSolution(t *testing.T) {
	form, err := newFormulator(t).Formulate(nil, []*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)})
	require.NoError(t, err)
	_, err = form.Decode(Solution{Status: StatusNoSolution})
	assert.ErrorIs(t, err, ErrNoSolution)
}

// assertRoutes walks each contractor's day in time order and checks that
// every stop's travel is the trip from the previous stop (home first), that
// the trip fits between the tasks and that cost follows the real travel.
func assertRoutes(t *testing.T, s *schedule.Schedule, ks []*schedule.Contractor) {
	t.Helper()
	byID := map[string]*schedule.Contractor{}
	for _, k := range ks {
		byID[k.ID] = k
	}
	customers := map[string]schedule.Customer{}
	for _, c := range s.Customers {
		customers[c.ID] = c
	}
	for _, d := range s.DayIndexes() {
		from := map[string]geo.Location{}
		prevEnd := map[string]time.Time{}
		for _, a := range s.Chronological(d) {
			k := byID[a.ContractorID]
			c := customers[a.CustomerID]
			origin, ok := from[k.ID]
			if !ok {
				origin = k.Home
			}
			want := time.Duration(0)
			if !c.Errand.Remote() {
				r, err := geo.DefaultNetwork.Travel(origin, c.Location)
				require.NoError(t, err)
				want = r.Duration
				from[k.ID] = c.Location
			}
			assert.Equal(t, want, a.Travel, "%s travel from %v", a.CustomerID, origin)
			assert.Equal(t, a.Start, a.TravelStart.Add(a.Travel), "%s departs one trip before its task", a.CustomerID)
			if end, ok := prevEnd[k.ID]; ok {
				assert.False(t, a.TravelStart.Before(end), "%s leaves before the previous task ends", a.CustomerID)
			}
			prevEnd[k.ID] = a.End
			assert.InDelta(t, charge.Labour(a.Travel, c.Errand.BaseDuration, k.RatePerMinute), a.Cost, 1e-9)
		}
	}
}

func TestReoptimizeTravelsBetweenStops(t *testing.T) {
	ks := []*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}
	cs := []schedule.Customer{
		customer("c1", geo.Location{X: 0, Y: 100}, errand.KindRepair, time.Hour),
		customer("c2", geo.Location{X: 100, Y: 0}, errand.KindRepair, time.Hour),
	}
	out, err := Reoptimize(context.Background(), newFormulator(t), LocalSearch{Seed: 1}, cs, ks, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, out.Schedule.Scheduled())
	assertSound(t, out.Schedule)
	assertRoutes(t, out.Schedule, ks)

	as := out.Schedule.Chronological(0)
	require.Len(t, as, 2)
	assert.Equal(t, 100*time.Minute, as[0].Travel)
	assert.Equal(t, 200*time.Minute, as[1].Travel)
	assert.False(t, as[1].Start.Before(as[0].End.Add(200*time.Minute)))
}

func TestFormulateGapCoversTrip(t *testing.T) {
	ks := []*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}
	cs := []schedule.Customer{
		customer("c1", geo.Location{X: 0, Y: 100}, errand.KindRepair, time.Hour),
		customer("c2", geo.Location{X: 100, Y: 0}, errand.KindRepair, time.Hour),
		customer("r", geo.Location{X: 0, Y: 10}, errand.KindConsultation, 30*time.Minute),
	}
	form, err := newFormulator(t).Formulate(cs, ks)
	require.NoError(t, err)
	var gaps []NoOverlap
	for _, c := range form.Model.Constraints {
		if n, ok := c.(NoOverlap); ok {
			gaps = append(gaps, n)
		}
	}
	require.Len(t, gaps, 3)
	// c1 <-> c2: 200 minute trip less the 100 minute home leg
	assert.Equal(t, 100, gaps[0].GapAB)
	assert.Equal(t, 100, gaps[0].GapBA)
	// remote consultations add no trip
	assert.Zero(t, gaps[1].GapAB)
	assert.Zero(t, gaps[2].GapBA)
}

func TestFormulateRejectsOversizedInstance(t *testing.T) {
	var ks []*schedule.Contractor
	for i := 0; i < 200; i++ {
		ks = append(ks, contractor(t, fmt.Sprintf("k%03d", i), geo.Location{}, 0.1, 5))
	}
	var cs []schedule.Customer
	for i := 0; i < 2000; i++ {
		cs = append(cs, customer(fmt.Sprintf("c%04d", i), geo.Location{X: 10, Y: i % 100}, errand.KindRepair, time.Hour))
	}
	f := newFormulator(t)
	form, err := f.Formulate(cs, ks)
	assert.ErrorIs(t, err, ErrModelTooLarge)
	assert.Nil(t, form)

	base := schedule.New(StrategyGreedy, cs, ks)
	out, err := Reoptimize(context.Background(), f, LocalSearch{Seed: 1}, cs, ks, base, time.Second)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Same(t, base, out.Schedule)
	assert.Contains(t, out.Reason, "over limit")
	for _, k := range ks[:3] {
		assert.Empty(t, k.Calendar.Reservations())
	}

	// pairs are bounded on their own
	f.MaxCells, f.MaxPairs = 0, 10
	_, err = f.Formulate(cs[:6], ks[:1])
	assert.ErrorIs(t, err, ErrModelTooLarge)
	f.MaxPairs = 0
	_, err = f.Formulate(cs[:6], ks[:1])
	assert.NoError(t, err)
}

func TestReoptimizeLogsThroughFormulatorLogger(t *testing.T) {
	var buf bytes.Buffer
	f := newFormulator(t)
	f.Log = log.New(&buf, "", 0)
	cs := []schedule.Customer{customer("c1", geo.Location{X: 0, Y: 20}, errand.KindRepair, time.Hour)}
	_, err := Reoptimize(context.Background(), f, LocalSearch{Seed: 1}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, nil, time.Second)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "strategy=optimized")

	buf.Reset()
	base := schedule.New(StrategyGreedy, cs, nil)
	base.MarkUnscheduled("c1")
	_, err = Reoptimize(context.Background(), f, stubSolver{sol: Solution{Status: StatusNoSolution}}, cs,
		[]*schedule.Contractor{contractor(t, "A", geo.Location{}, 0.1, 1)}, base, time.Second)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "fallback=greedy")
}
