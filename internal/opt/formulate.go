package opt

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"errandplan/internal/calendar"
	"errandplan/internal/charge"
	"errandplan/internal/geo"
	"errandplan/internal/schedule"
)

// ErrModelTooLarge is returned by Formulate when the instance would exceed
// the formulator's cell or pair limits. Reoptimize treats it as a fallback.
var ErrModelTooLarge = errors.New("formulation exceeds size limits")

const (
	DefaultMaxCells = 50_000
	DefaultMaxPairs = 500_000
)

// Formulator turns customers and contractors into a Model. A cell's own
// travel is estimated from the contractor's home; the gap between two cells
// of one contractor and day covers the trip between their customers.
type Formulator struct {
	Travel     geo.Provider
	Charges    *charge.Model
	OnConflict func(contractorID string)
	Log        *log.Logger
	// MaxCells bounds day x customer x contractor cells and MaxPairs the
	// worst-case no-overlap pairs; zero means no limit.
	MaxCells int
	MaxPairs int
}

func NewFormulator(travel geo.Provider, charges *charge.Model) *Formulator {
	return &Formulator{Travel: travel, Charges: charges, MaxCells: DefaultMaxCells, MaxPairs: DefaultMaxPairs}
}

func (f *Formulator) logger() *log.Logger {
	if f.Log != nil {
		return f.Log
	}
	return log.Default()
}

// checkSize rejects instances before any cell is built.
func (f *Formulator) checkSize(days, customers, contractors int) error {
	cells := int64(days) * int64(customers) * int64(contractors)
	if f.MaxCells > 0 && cells > int64(f.MaxCells) {
		return fmt.Errorf("formulate: %d cells over limit %d: %w", cells, f.MaxCells, ErrModelTooLarge)
	}
	pairs := int64(days) * int64(contractors) * int64(customers) * int64(customers-1) / 2
	if f.MaxPairs > 0 && pairs > int64(f.MaxPairs) {
		return fmt.Errorf("formulate: %d overlap pairs over limit %d: %w", pairs, f.MaxPairs, ErrModelTooLarge)
	}
	return nil
}

// cell is one (day, customer, contractor) choice. Start is the departure
// minute after midnight of the cell's day.
type cell struct {
	day, customer, contractor int
	x, start                  int
	travel                    time.Duration
	length                    int // minutes from departure to task end
	charge, cost              float64
	allowed                   []int
}

// Formulation is a built Model together with what Decode needs to map
// values back to assignments.
type Formulation struct {
	Model       *Model
	f           *Formulator
	customers   []schedule.Customer
	contractors []*schedule.Contractor
	cells       []cell
	index       map[[3]int]int
	// Unreachable lists customers with no feasible cell at all; they are
	// left out of the cover constraint and reported unscheduled.
	Unreachable []string
}

// Formulate builds, per day x customer x contractor, a bool x and an int
// start bounded to working hours, constrained so that each reachable
// customer is covered exactly once, the task fits before end of day, the
// contractor calendar admits the span, customer windows are honoured and no
// two chosen spans of a contractor overlap. The objective maximizes profit.
func (f *Formulator) Formulate(customers []schedule.Customer, contractors []*schedule.Contractor) (*Formulation, error) {
	form := &Formulation{
		Model:       &Model{},
		f:           f,
		customers:   customers,
		contractors: contractors,
		index:       map[[3]int]int{},
	}
	if len(contractors) == 0 {
		for _, c := range customers {
			form.Unreachable = append(form.Unreachable, c.ID)
		}
		return form, nil
	}
	days := contractors[0].Calendar.Days()
	if err := f.checkSize(days, len(customers), len(contractors)); err != nil {
		return nil, err
	}
	m := form.Model
	for d := 0; d < days; d++ {
		for ci, c := range customers {
			for ki, k := range contractors {
				cl, err := f.cell(d, ci, c, ki, k)
				if err != nil {
					return nil, err
				}
				hi := 1
				if len(cl.allowed) == 0 {
					hi = 0
				}
				win := k.Calendar.WorkWindow(d)
				lo, top := minuteOf(win.Start, k.Calendar.DayStart(d)), minuteOf(win.End, k.Calendar.DayStart(d))
				name := fmt.Sprintf("d%d/%s/%s", d, c.ID, k.ID)
				cl.x = m.AddVar(Var{Name: "x/" + name, Kind: Bool, Lo: 0, Hi: hi})
				cl.start = m.AddVar(Var{Name: "s/" + name, Kind: Int, Lo: lo, Hi: top, Step: stepMinutes(k.Calendar)})
				form.index[[3]int{d, ci, ki}] = len(form.cells)
				form.cells = append(form.cells, cl)
			}
		}
	}
	for ci, c := range customers {
		var xs []int
		reachable := false
		for _, cl := range form.cellsOf(ci) {
			xs = append(xs, cl.x)
			reachable = reachable || len(cl.allowed) > 0
		}
		if !reachable {
			form.Unreachable = append(form.Unreachable, c.ID)
			continue
		}
		m.Add(ExactlyOne{Label: "cover/" + c.ID, Bools: xs})
	}
	for i := range form.cells {
		form.guard(i)
	}
	if err := form.noOverlap(); err != nil {
		return nil, err
	}
	for _, cl := range form.cells {
		m.Objective = append(m.Objective, Term{Var: cl.x, Coef: cl.charge - cl.cost})
	}
	return form, nil
}

func (f *Formulator) cell(d, ci int, c schedule.Customer, ki int, k *schedule.Contractor) (cell, error) {
	cl := cell{day: d, customer: ci, contractor: ki}
	if !c.Errand.Remote() {
		r, err := f.Travel.Travel(k.Home, c.Location)
		if err != nil {
			return cell{}, fmt.Errorf("formulate: customer %q contractor %q: %w", c.ID, k.ID, err)
		}
		cl.travel = r.Duration
	}
	cl.length = ceilMinutes(cl.travel + c.Errand.BaseDuration)
	fin, err := f.Charges.Final(c.Errand, k.Calendar.WorkWindow(d).Start, c.RequestedOn)
	if err != nil {
		return cell{}, fmt.Errorf("formulate: customer %q: %w", c.ID, err)
	}
	cl.charge = fin
	cl.cost = charge.Labour(cl.travel, c.Errand.BaseDuration, k.RatePerMinute)

	// presolve: departures that pass every per-cell guard
	win := k.Calendar.WorkWindow(d)
	mid := k.Calendar.DayStart(d)
	v := Var{Lo: minuteOf(win.Start, mid), Hi: minuteOf(win.End, mid), Step: stepMinutes(k.Calendar)}
	for _, s := range v.Values() {
		if fitsDay(win, mid, s, cl.length) && available(k, c, mid, s, cl) && withinWindows(c, d, mid, s, cl) {
			cl.allowed = append(cl.allowed, s)
		}
	}
	return cl, nil
}

func (form *Formulation) cellsOf(customer int) []cell {
	var out []cell
	for _, cl := range form.cells {
		if cl.customer == customer {
			out = append(out, cl)
		}
	}
	return out
}

func (form *Formulation) guard(i int) {
	cl := form.cells[i]
	c := form.customers[cl.customer]
	k := form.contractors[cl.contractor]
	mid := k.Calendar.DayStart(cl.day)
	win := k.Calendar.WorkWindow(cl.day)
	label := form.Model.Vars[cl.x].Name
	m := form.Model
	m.Add(Guard{Label: "fit/" + label, Bool: cl.x, Int: cl.start, Allowed: func(s int) bool {
		return fitsDay(win, mid, s, cl.length)
	}})
	m.Add(Guard{Label: "calendar/" + label, Bool: cl.x, Int: cl.start, Allowed: func(s int) bool {
		return available(k, c, mid, s, cl)
	}})
	if c.Availability != nil {
		m.Add(Guard{Label: "window/" + label, Bool: cl.x, Int: cl.start, Allowed: func(s int) bool {
			return withinWindows(c, cl.day, mid, s, cl)
		}})
	}
}

// noOverlap pairs every two cells of one contractor on one day. Starts are
// home departures, so when A precedes B the gap is the A->B trip less B's
// own home leg: B's task then starts no earlier than A's end plus the trip.
func (form *Formulation) noOverlap() error {
	type key struct{ day, contractor int }
	groups := map[key][]int{}
	var keys []key
	for i, cl := range form.cells {
		if len(cl.allowed) == 0 {
			continue
		}
		k := key{cl.day, cl.contractor}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}
	trips := map[[2]int]int{}
	gap := func(from, to cell) (int, error) {
		// a remote stop does not move the contractor, so its trip is unknown
		// here; Decode checks the real one
		if form.customers[from.customer].Errand.Remote() || form.customers[to.customer].Errand.Remote() {
			return 0, nil
		}
		pair := [2]int{from.customer, to.customer}
		trip, ok := trips[pair]
		if !ok {
			r, err := form.f.Travel.Travel(form.customers[from.customer].Location, form.customers[to.customer].Location)
			if err != nil {
				return 0, fmt.Errorf("formulate: trip %q -> %q: %w", form.customers[from.customer].ID, form.customers[to.customer].ID, err)
			}
			trip = ceilMinutes(r.Duration)
			trips[pair] = trip
		}
		return trip - int(to.travel/time.Minute), nil
	}
	for _, k := range keys {
		ids := groups[k]
		for a := 0; a < len(ids); a++ {
			for b := a + 1; b < len(ids); b++ {
				ca, cb := form.cells[ids[a]], form.cells[ids[b]]
				ab, err := gap(ca, cb)
				if err != nil {
					return err
				}
				ba, err := gap(cb, ca)
				if err != nil {
					return err
				}
				form.Model.Add(NoOverlap{
					Label: fmt.Sprintf("overlap/d%d/%s/%s/%s", k.day, form.contractors[k.contractor].ID, form.customers[ca.customer].ID, form.customers[cb.customer].ID),
					A:     Interval{Present: ca.x, Start: ca.start, Length: ca.length},
					B:     Interval{Present: cb.x, Start: cb.start, Length: cb.length},
					GapAB: ab,
					GapBA: ba,
				})
			}
		}
	}
	return nil
}

// Hint seeds the model from a baseline schedule: each baseline assignment
// turns on its cell at the nearest admissible departure.
func (form *Formulation) Hint(baseline *schedule.Schedule) {
	m := form.Model
	hint := make([]int, len(m.Vars))
	for i, v := range m.Vars {
		hint[i] = v.Lo
	}
	custIdx := map[string]int{}
	for i, c := range form.customers {
		custIdx[c.ID] = i
	}
	kIdx := map[string]int{}
	for i, k := range form.contractors {
		kIdx[k.ID] = i
	}
	for _, a := range baseline.Assignments() {
		ci, ok1 := custIdx[a.CustomerID]
		ki, ok2 := kIdx[a.ContractorID]
		i, ok3 := form.index[[3]int{a.Day, ci, ki}]
		if !ok1 || !ok2 || !ok3 || len(form.cells[i].allowed) == 0 {
			continue
		}
		cl := form.cells[i]
		// the model departs from home, so aim for the baseline's task start
		want := minuteOf(a.Start.Add(-cl.travel), form.contractors[ki].Calendar.DayStart(a.Day))
		hint[cl.x] = 1
		hint[cl.start] = clampTo(cl.allowed, want)
	}
	m.Hint = hint
}

// Decode commits the chosen cells through Calendar.Reserve in task-start
// order. Each contractor's day is walked as a route: travel is measured from
// the previous decoded stop (home for the first), the task keeps the start
// the model chose, and departure, reservation and cost follow the real trip.
// A cell that no longer fits is dropped and its customer left unscheduled.
func (form *Formulation) Decode(sol Solution) (*schedule.Schedule, error) {
	if sol.Status == StatusNoSolution {
		return nil, ErrNoSolution
	}
	if len(sol.Values) != len(form.Model.Vars) {
		return nil, fmt.Errorf("decode: %d values for %d vars", len(sol.Values), len(form.Model.Vars))
	}
	var chosen []cell
	for _, cl := range form.cells {
		if sol.Values[cl.x] == 1 {
			chosen = append(chosen, cl)
		}
	}
	taskStart := func(cl cell) time.Time {
		k := form.contractors[cl.contractor]
		return k.Calendar.DayStart(cl.day).Add(time.Duration(sol.Values[cl.start])*time.Minute + cl.travel)
	}
	sort.SliceStable(chosen, func(i, j int) bool {
		a, b := chosen[i], chosen[j]
		if a.day != b.day {
			return a.day < b.day
		}
		if ta, tb := taskStart(a), taskStart(b); !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.contractor < b.contractor
	})
	out := schedule.New(StrategyOptimized, form.customers, form.contractors)
	placed := make([]bool, len(form.customers))
	last := map[[2]int]geo.Location{}
	for _, cl := range chosen {
		if placed[cl.customer] {
			continue
		}
		c := form.customers[cl.customer]
		k := form.contractors[cl.contractor]
		route := [2]int{cl.day, cl.contractor}
		from, ok := last[route]
		if !ok {
			from = k.Home
		}
		var travel time.Duration
		if !c.Errand.Remote() {
			r, err := form.f.Travel.Travel(from, c.Location)
			if err != nil {
				return nil, fmt.Errorf("decode: customer %q contractor %q: %w", c.ID, k.ID, err)
			}
			travel = r.Duration
		}
		start := taskStart(cl)
		a := schedule.Assignment{
			CustomerID:   c.ID,
			ContractorID: k.ID,
			Day:          cl.day,
			TravelStart:  start.Add(-travel),
			Start:        start,
			End:          start.Add(c.Errand.BaseDuration),
			Travel:       travel,
			Charge:       cl.charge,
			Cost:         charge.Labour(travel, c.Errand.BaseDuration, k.RatePerMinute),
		}
		if !k.Calendar.Reserve(a.Reservation()) {
			if form.f.OnConflict != nil {
				form.f.OnConflict(k.ID)
			}
			continue
		}
		out.Add(a)
		placed[cl.customer] = true
		if !c.Errand.Remote() {
			last[route] = c.Location
		}
	}
	for i, c := range form.customers {
		if !placed[i] {
			out.MarkUnscheduled(c.ID)
		}
	}
	return out, nil
}

func fitsDay(win calendar.Slot, mid time.Time, s, length int) bool {
	dep := mid.Add(time.Duration(s) * time.Minute)
	return !dep.Before(win.Start) && !dep.Add(time.Duration(length)*time.Minute).After(win.End)
}

func available(k *schedule.Contractor, c schedule.Customer, mid time.Time, s int, cl cell) bool {
	dep := mid.Add(time.Duration(s) * time.Minute)
	return k.Calendar.IsAvailable(dep, dep.Add(cl.travel+c.Errand.BaseDuration))
}

func withinWindows(c schedule.Customer, day int, mid time.Time, s int, cl cell) bool {
	wins, restricted := c.Windows(day)
	if !restricted {
		return true
	}
	taskStart := mid.Add(time.Duration(s)*time.Minute + cl.travel)
	taskEnd := taskStart.Add(c.Errand.BaseDuration)
	for _, w := range wins {
		if w.Contains(taskStart, taskEnd) {
			return true
		}
	}
	return false
}

func ceilMinutes(d time.Duration) int { return int((d + time.Minute - 1) / time.Minute) }

func minuteOf(t, midnight time.Time) int { return int(t.Sub(midnight) / time.Minute) }

func stepMinutes(c *calendar.Calendar) int {
	s := int(c.Step() / time.Minute)
	if s < 1 {
		return 1
	}
	return s
}
