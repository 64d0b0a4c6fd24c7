package planner

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"errandplan/internal/calendar"
	"errandplan/internal/config"
	"errandplan/internal/errand"
	"errandplan/internal/geo"
	"errandplan/internal/model"
	"errandplan/internal/schedule"
)

// ErrInvalidRequest marks input the caller has to fix.
var ErrInvalidRequest = errors.New("invalid plan request")

const dateLayout = "2006-01-02"

// Instance is one planning problem in domain form. Contractors carry fresh
// calendars; strategies run on clones of them.
type Instance struct {
	Origin      time.Time
	Customers   []schedule.Customer
	Contractors []*schedule.Contractor
}

func invalid(err error) error { return fmt.Errorf("%w: %w", ErrInvalidRequest, err) }

// Build converts the wire document into domain entities and validates them.
func (p *Planner) Build(req model.PlanRequest) (Instance, error) {
	inst := Instance{Origin: p.cfg.Origin()}
	days := p.cfg.Scheduling.Days
	for _, in := range req.Contractors {
		cal, err := calendar.New(inst.Origin, days, p.cfg.Hours(), p.cfg.Granularity())
		if err != nil {
			return Instance{}, err
		}
		k := &schedule.Contractor{
			ID:            in.ID,
			Home:          geo.Location{X: in.Home.X, Y: in.Home.Y},
			RatePerMinute: in.RatePerMinute,
			Calendar:      cal,
		}
		k.ResetLocation()
		for i, w := range in.Blocked {
			slot, err := p.window(inst.Origin, w)
			if err != nil {
				return Instance{}, invalid(fmt.Errorf("contractor %q blocked[%d]: %w", in.ID, i, err))
			}
			ok := cal.Reserve(calendar.Reservation{
				ErrandID:    fmt.Sprintf("blocked/%d", i),
				TravelStart: slot.Start,
				TravelEnd:   slot.Start,
				TaskStart:   slot.Start,
				TaskEnd:     slot.End,
			})
			if !ok {
				return Instance{}, invalid(fmt.Errorf("contractor %q blocked[%d]: outside working hours or overlapping", in.ID, i))
			}
		}
		inst.Contractors = append(inst.Contractors, k)
	}
	for _, in := range req.Customers {
		c, err := p.customer(inst.Origin, in)
		if err != nil {
			return Instance{}, invalid(fmt.Errorf("customer %q: %w", in.ID, err))
		}
		inst.Customers = append(inst.Customers, c)
	}
	if err := schedule.Validate(inst.Customers, inst.Contractors, p.network); err != nil {
		return Instance{}, invalid(err)
	}
	return inst, nil
}

func (p *Planner) customer(origin time.Time, in model.CustomerIn) (schedule.Customer, error) {
	kind, err := errand.ParseKind(in.Kind)
	if err != nil {
		return schedule.Customer{}, err
	}
	mult := in.IncentiveMultiplier
	if mult == 0 {
		mult = 1
	}
	e := errand.Errand{
		Kind:                kind,
		BaseDuration:        time.Duration(in.DurationMinutes) * time.Minute,
		IncentiveMultiplier: mult,
	}
	if d := in.Disincentive; d != nil {
		e.Disincentive = &errand.Disincentive{Kind: errand.DisincentiveKind(d.Kind), Value: d.Value, GraceDays: d.GraceDays}
	}
	requested := origin
	if in.RequestedOn != "" {
		requested, err = time.Parse(dateLayout, in.RequestedOn)
		if err != nil {
			return schedule.Customer{}, fmt.Errorf("requestedOn %q: want YYYY-MM-DD", in.RequestedOn)
		}
	}
	c := schedule.Customer{
		ID:          in.ID,
		Location:    geo.Location{X: in.Location.X, Y: in.Location.Y},
		Errand:      e,
		RequestedOn: requested,
	}
	if len(in.Availability) > 0 {
		c.Availability = map[int][]calendar.Slot{}
		for i, w := range in.Availability {
			slot, err := p.window(origin, w)
			if err != nil {
				return schedule.Customer{}, fmt.Errorf("availability[%d]: %w", i, err)
			}
			c.Availability[w.Day] = append(c.Availability[w.Day], slot)
		}
		for d := range c.Availability {
			ws := c.Availability[d]
			sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })
		}
	}
	return c, nil
}

func (p *Planner) window(origin time.Time, w model.Window) (calendar.Slot, error) {
	if w.Day < 0 || w.Day >= p.cfg.Scheduling.Days {
		return calendar.Slot{}, fmt.Errorf("day %d outside the %d-day horizon", w.Day, p.cfg.Scheduling.Days)
	}
	from, err := config.ParseClock(w.Start)
	if err != nil {
		return calendar.Slot{}, err
	}
	to, err := config.ParseClock(w.End)
	if err != nil {
		return calendar.Slot{}, err
	}
	if to <= from {
		return calendar.Slot{}, fmt.Errorf("window %s-%s is empty", w.Start, w.End)
	}
	day := origin.AddDate(0, 0, w.Day)
	return calendar.Slot{Start: day.Add(time.Duration(from)), End: day.Add(time.Duration(to))}, nil
}

// ScheduleOut renders s for the wire with days in order and each day's
// assignments in time order.
func ScheduleOut(s *schedule.Schedule, origin time.Time) model.ScheduleOut {
	out := model.ScheduleOut{
		Strategy:    s.Strategy,
		Status:      s.Status(),
		Scheduled:   s.Scheduled(),
		Total:       len(s.Customers),
		Profit:      s.TotalProfit(),
		Days:        []model.DayOut{},
		Unscheduled: append([]string{}, s.Unscheduled...),
	}
	for _, d := range s.DayIndexes() {
		day := model.DayOut{Day: d, Date: origin.AddDate(0, 0, d).Format(dateLayout)}
		for _, a := range s.Chronological(d) {
			day.Assignments = append(day.Assignments, AssignmentOut(a))
		}
		out.Days = append(out.Days, day)
	}
	return out
}

func AssignmentOut(a schedule.Assignment) model.AssignmentOut {
	return model.AssignmentOut{
		CustomerID:    a.CustomerID,
		ContractorID:  a.ContractorID,
		Day:           a.Day,
		TravelStart:   a.TravelStart,
		Start:         a.Start,
		End:           a.End,
		TravelMinutes: a.Travel.Minutes(),
		Charge:        a.Charge,
		Cost:          a.Cost,
		Profit:        a.Profit(),
	}
}
