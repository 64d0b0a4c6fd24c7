package opt

import (
	"fmt"
	"log"
	"time"

	"errandplan/internal/charge"
	"errandplan/internal/geo"
	"errandplan/internal/schedule"
)

const (
	StrategyGreedy    = "greedy"
	StrategyOptimized = "optimized"
)

// maxReserveAttempts bounds how often a refused reservation is re-queried
// before the customer is left for a later day.
const maxReserveAttempts = 3

// Phase is one state of the greedy state machine.
type Phase string

const (
	PhaseResetLocations Phase = "reset_contractor_locations"
	PhaseFindSlot       Phase = "find_earliest_slot"
	PhaseReserve        Phase = "attempt_reservation"
	PhaseNextCustomer   Phase = "next_customer"
	PhaseNextDay        Phase = "next_day"
	PhaseDone           Phase = "done"
)

// Step records what one call to Stepper.Next did.
type Step struct {
	Phase        Phase     `json:"phase"`
	Day          int       `json:"day"`
	CustomerIdx  int       `json:"customerIndex"`
	CustomerID   string    `json:"customerId,omitempty"`
	ContractorID string    `json:"contractorId,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Note         string    `json:"note,omitempty"`
}

// Greedy assigns customers one at a time, in input order, to the contractor
// offering the earliest task start. It is deterministic.
type Greedy struct {
	Travel  geo.Provider
	Charges *charge.Model
	// Log defaults to log.Default().
	Log *log.Logger
	// OnConflict observes reservations refused after the search saw the
	// window free.
	OnConflict func(contractorID string)
}

func NewGreedy(travel geo.Provider, charges *charge.Model) *Greedy {
	return &Greedy{Travel: travel, Charges: charges}
}

func (g *Greedy) logger() *log.Logger {
	if g.Log != nil {
		return g.Log
	}
	return log.Default()
}

// Run schedules every reachable customer and lists the rest as unscheduled.
// contractors are mutated: their calendars receive the reservations and
// their current locations move.
func (g *Greedy) Run(customers []schedule.Customer, contractors []*schedule.Contractor) (*schedule.Schedule, error) {
	start := time.Now()
	st := g.Stepper(customers, contractors)
	for {
		_, more, err := st.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	s := st.Schedule()
	g.logger().Printf("strategy=%s scheduled=%d/%d profit=%.2f dur=%s",
		StrategyGreedy, s.Scheduled(), len(customers), s.TotalProfit(), time.Since(start).Round(time.Microsecond))
	return s, nil
}

// Stepper runs the greedy algorithm one state transition per Next call. The
// cursor is (day, customer index); stepping to the end yields exactly what
// Run yields.
type Stepper struct {
	g           *Greedy
	customers   []schedule.Customer
	contractors []*schedule.Contractor
	sched       *schedule.Schedule

	days     int
	day      int
	idx      int
	phase    Phase
	placed   []bool
	cursor   []time.Time // per contractor: earliest departure on the current day
	pick     *candidate
	attempts int
	finished bool
}

type candidate struct {
	contractor  int
	travelStart time.Time
	travel      time.Duration
	start       time.Time
	end         time.Time
}

func (g *Greedy) Stepper(customers []schedule.Customer, contractors []*schedule.Contractor) *Stepper {
	s := &Stepper{
		g:           g,
		customers:   customers,
		contractors: contractors,
		sched:       schedule.New(StrategyGreedy, customers, contractors),
		placed:      make([]bool, len(customers)),
		cursor:      make([]time.Time, len(contractors)),
		phase:       PhaseDone,
	}
	if len(contractors) > 0 {
		s.days = contractors[0].Calendar.Days()
	}
	if s.days > 0 && len(customers) > 0 {
		s.phase = PhaseResetLocations
	}
	return s
}

// Schedule is the schedule built so far.
func (s *Stepper) Schedule() *schedule.Schedule { return s.sched }

// Cursor returns the current (day, customer index).
func (s *Stepper) Cursor() (int, int) { return s.day, s.idx }

// Next performs one transition. It returns false once the run is done; the
// returned step is then the final PhaseDone record.
func (s *Stepper) Next() (Step, bool, error) {
	switch s.phase {
	case PhaseResetLocations:
		return s.resetLocations(), true, nil
	case PhaseFindSlot:
		st, err := s.findSlot()
		if err != nil {
			return Step{}, false, err
		}
		return st, true, nil
	case PhaseReserve:
		st, err := s.reserve()
		if err != nil {
			return Step{}, false, err
		}
		return st, true, nil
	case PhaseNextCustomer:
		return s.nextCustomer(), true, nil
	case PhaseNextDay:
		return s.nextDay(), true, nil
	default:
		return s.done(), false, nil
	}
}

func (s *Stepper) step(p Phase) Step {
	st := Step{Phase: p, Day: s.day, CustomerIdx: s.idx}
	if s.idx >= 0 && s.idx < len(s.customers) {
		st.CustomerID = s.customers[s.idx].ID
	}
	return st
}

func (s *Stepper) resetLocations() Step {
	for i, k := range s.contractors {
		k.ResetLocation()
		s.cursor[i] = k.Calendar.WorkWindow(s.day).Start
	}
	st := s.step(PhaseResetLocations)
	st.CustomerID = ""
	s.idx = s.firstUnplaced(0)
	if s.idx < 0 {
		s.phase = PhaseNextDay
	} else {
		s.phase = PhaseFindSlot
	}
	return st
}

func (s *Stepper) findSlot() (Step, error) {
	c := s.customers[s.idx]
	var best *candidate
	for i := range s.contractors {
		cand, ok, err := s.probe(i, c)
		if err != nil {
			return Step{}, err
		}
		// strict comparison keeps the first contractor on ties
		if ok && (best == nil || cand.start.Before(best.start)) {
			cp := cand
			best = &cp
		}
	}
	st := s.step(PhaseFindSlot)
	if best == nil {
		st.Note = "no contractor free"
		s.phase = PhaseNextCustomer
		return st, nil
	}
	s.pick = best
	st.ContractorID = s.contractors[best.contractor].ID
	st.Start, st.End = best.start, best.end
	s.phase = PhaseReserve
	return st, nil
}

// probe finds contractor i's earliest window on the current day that fits
// travel from its current location plus the task.
func (s *Stepper) probe(i int, c schedule.Customer) (candidate, bool, error) {
	k := s.contractors[i]
	var travel time.Duration
	if !c.Errand.Remote() {
		r, err := s.g.Travel.Travel(k.Current, c.Location)
		if err != nil {
			return candidate{}, false, fmt.Errorf("greedy: customer %q contractor %q: %w", c.ID, k.ID, err)
		}
		travel = r.Duration
	}
	need := travel + c.Errand.BaseDuration
	win := k.Calendar.WorkWindow(s.day)
	slot, ok := k.Calendar.NextAvailableUntil(s.cursor[i], win.End, need)
	if !ok {
		return candidate{}, false, nil
	}
	start := slot.Start.Add(travel)
	return candidate{
		contractor:  i,
		travelStart: slot.Start,
		travel:      travel,
		start:       start,
		end:         start.Add(c.Errand.BaseDuration),
	}, true, nil
}

func (s *Stepper) reserve() (Step, error) {
	c := s.customers[s.idx]
	p := s.pick
	k := s.contractors[p.contractor]
	fin, err := s.g.Charges.Final(c.Errand, p.start, c.RequestedOn)
	if err != nil {
		return Step{}, fmt.Errorf("greedy: customer %q: %w", c.ID, err)
	}
	a := schedule.Assignment{
		CustomerID:   c.ID,
		ContractorID: k.ID,
		Day:          s.day,
		TravelStart:  p.travelStart,
		Start:        p.start,
		End:          p.end,
		Travel:       p.travel,
		Charge:       fin,
		Cost:         charge.Labour(p.travel, c.Errand.BaseDuration, k.RatePerMinute),
	}
	st := s.step(PhaseReserve)
	st.ContractorID = k.ID
	st.Start, st.End = a.Start, a.End
	if !k.Calendar.Reserve(a.Reservation()) {
		// stale read: search again rather than assume the slot
		s.attempts++
		if s.g.OnConflict != nil {
			s.g.OnConflict(k.ID)
		}
		st.Note = fmt.Sprintf("reservation refused (attempt %d)", s.attempts)
		if s.attempts < maxReserveAttempts {
			s.phase = PhaseFindSlot
		} else {
			s.phase = PhaseNextCustomer
		}
		return st, nil
	}
	s.sched.Add(a)
	s.placed[s.idx] = true
	s.cursor[p.contractor] = p.end
	if !c.Errand.Remote() {
		k.Current = c.Location
	}
	st.Note = fmt.Sprintf("profit %.2f", a.Profit())
	s.phase = PhaseNextCustomer
	return st, nil
}

func (s *Stepper) nextCustomer() Step {
	st := s.step(PhaseNextCustomer)
	s.pick = nil
	s.attempts = 0
	s.idx = s.firstUnplaced(s.idx + 1)
	if s.idx < 0 {
		s.phase = PhaseNextDay
	} else {
		s.phase = PhaseFindSlot
	}
	return st
}

func (s *Stepper) nextDay() Step {
	st := s.step(PhaseNextDay)
	st.CustomerID = ""
	s.day++
	if s.day >= s.days || s.firstUnplaced(0) < 0 {
		s.phase = PhaseDone
	} else {
		s.phase = PhaseResetLocations
	}
	return st
}

func (s *Stepper) done() Step {
	if !s.finished {
		for i, c := range s.customers {
			if !s.placed[i] {
				s.sched.MarkUnscheduled(c.ID)
			}
		}
		s.finished = true
	}
	return Step{Phase: PhaseDone, Day: s.day, CustomerIdx: -1, Note: s.sched.Status()}
}

func (s *Stepper) firstUnplaced(from int) int {
	for i := from; i < len(s.placed); i++ {
		if !s.placed[i] {
			return i
		}
	}
	return -1
}
