// Package schedule holds the data model shared by every scheduling
// strategy: customers, contractors and the per-day assignment lists a run
// produces.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"errandplan/internal/calendar"
	"errandplan/internal/errand"
	"errandplan/internal/geo"
)

var (
	ErrUnknownContractor = errors.New("unknown contractor")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrNoCalendar        = errors.New("contractor has no calendar")
	ErrHorizonMismatch   = errors.New("contractor calendars do not share a horizon")
)

// Customer requests one errand. Availability restricts the days and windows
// the customer can be served on; a nil map means the whole working day of
// every day.
type Customer struct {
	ID           string
	Location     geo.Location
	Errand       errand.Errand
	RequestedOn  time.Time
	Availability map[int][]calendar.Slot
}

// Windows returns the customer's open windows on day and whether the day is
// restricted at all.
func (c Customer) Windows(day int) ([]calendar.Slot, bool) {
	if c.Availability == nil {
		return nil, false
	}
	return c.Availability[day], true
}

// Contractor owns its calendar. Current is the routing origin and is moved
// by the greedy strategy only.
type Contractor struct {
	ID            string
	Home          geo.Location
	Current       geo.Location
	RatePerMinute float64
	Calendar      *calendar.Calendar
}

// ResetLocation puts the contractor back home.
func (c *Contractor) ResetLocation() { c.Current = c.Home }

// CloneContractors deep-copies contractors so another strategy can reserve
// against the same starting availability.
func CloneContractors(in []*Contractor) []*Contractor {
	out := make([]*Contractor, len(in))
	for i, c := range in {
		cp := *c
		cp.Current = c.Home
		if c.Calendar != nil {
			cp.Calendar = c.Calendar.Clone()
		}
		out[i] = &cp
	}
	return out
}

// Assignment places one customer with one contractor. Start is the task
// start; the contractor leaves at TravelStart.
type Assignment struct {
	CustomerID   string
	ContractorID string
	Day          int
	TravelStart  time.Time
	Start        time.Time
	End          time.Time
	Travel       time.Duration
	Charge       float64
	Cost         float64
}

// Profit is derived, never stored.
func (a Assignment) Profit() float64 { return a.Charge - a.Cost }

// Reservation is the calendar entry backing a.
func (a Assignment) Reservation() calendar.Reservation {
	return calendar.Reservation{
		ErrandID:    a.CustomerID,
		TravelStart: a.TravelStart,
		TravelEnd:   a.TravelStart.Add(a.Travel),
		TaskStart:   a.Start,
		TaskEnd:     a.End,
	}
}

// Schedule is the output of one strategy. Days lists assignments in the
// order they were made, which is not necessarily time order.
type Schedule struct {
	Strategy    string
	Customers   []Customer
	Contractors []*Contractor
	Days        map[int][]Assignment
	Unscheduled []string
}

func New(strategy string, customers []Customer, contractors []*Contractor) *Schedule {
	return &Schedule{
		Strategy:    strategy,
		Customers:   customers,
		Contractors: contractors,
		Days:        map[int][]Assignment{},
	}
}

func (s *Schedule) Add(a Assignment) { s.Days[a.Day] = append(s.Days[a.Day], a) }

func (s *Schedule) MarkUnscheduled(customerID string) {
	s.Unscheduled = append(s.Unscheduled, customerID)
}

// DayIndexes returns the days holding assignments in ascending order.
func (s *Schedule) DayIndexes() []int {
	out := make([]int, 0, len(s.Days))
	for d, as := range s.Days {
		if len(as) > 0 {
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}

// Assignments flattens all days, ascending by day and in insertion order
// within a day.
func (s *Schedule) Assignments() []Assignment {
	var out []Assignment
	for _, d := range s.DayIndexes() {
		out = append(out, s.Days[d]...)
	}
	return out
}

// Chronological returns day's assignments sorted by task start.
func (s *Schedule) Chronological(day int) []Assignment {
	out := append([]Assignment(nil), s.Days[day]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (s *Schedule) Scheduled() int {
	n := 0
	for _, as := range s.Days {
		n += len(as)
	}
	return n
}

func (s *Schedule) TotalProfit() float64 {
	total := 0.0
	for _, as := range s.Days {
		for _, a := range as {
			total += a.Profit()
		}
	}
	return total
}

// Status is the "N of M customers scheduled" summary.
func (s *Schedule) Status() string {
	return fmt.Sprintf("%d of %d customers scheduled", s.Scheduled(), len(s.Customers))
}

// Contractor looks a contractor up by id.
func (s *Schedule) Contractor(id string) (*Contractor, error) {
	for _, c := range s.Contractors {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("schedule: %q: %w", id, ErrUnknownContractor)
}

// Validate checks the input contract every strategy relies on. Failures are
// caller errors and abort the run.
func Validate(customers []Customer, contractors []*Contractor, net geo.Network) error {
	seen := map[string]bool{}
	for _, c := range customers {
		if c.ID == "" || seen["customer/"+c.ID] {
			return fmt.Errorf("schedule: customer %q: %w", c.ID, ErrDuplicateID)
		}
		seen["customer/"+c.ID] = true
		if err := c.Errand.Validate(); err != nil {
			return fmt.Errorf("schedule: customer %q: %w", c.ID, err)
		}
		if !c.Errand.Remote() {
			if err := net.Validate(c.Location); err != nil {
				return fmt.Errorf("schedule: customer %q: %w", c.ID, err)
			}
		}
	}
	var horizon calendar.Slot
	for i, c := range contractors {
		if c.ID == "" || seen["contractor/"+c.ID] {
			return fmt.Errorf("schedule: contractor %q: %w", c.ID, ErrDuplicateID)
		}
		seen["contractor/"+c.ID] = true
		if c.Calendar == nil {
			return fmt.Errorf("schedule: contractor %q: %w", c.ID, ErrNoCalendar)
		}
		if c.RatePerMinute < 0 {
			return fmt.Errorf("schedule: contractor %q: rate %v must be >= 0", c.ID, c.RatePerMinute)
		}
		if err := net.Validate(c.Home); err != nil {
			return fmt.Errorf("schedule: contractor %q: %w", c.ID, err)
		}
		h := c.Calendar.Horizon()
		if i == 0 {
			horizon = h
		} else if !h.Start.Equal(horizon.Start) || !h.End.Equal(horizon.End) {
			return fmt.Errorf("schedule: contractor %q: %w", c.ID, ErrHorizonMismatch)
		}
	}
	return nil
}
