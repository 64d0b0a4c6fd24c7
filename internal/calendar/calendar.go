// Package calendar tracks one contractor's free time over a fixed horizon of
// working days. Free time is a per-day list of sorted, disjoint slots clipped
// to working hours; reservations carve pieces out of those slots.
//
// A Calendar is safe for concurrent use. Reserve re-checks availability
// under the same lock that mutates the slots, so two callers racing for the
// same interval can never both succeed.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrBadHours = errors.New("working hours must satisfy 0 <= start < end <= 24h")

// Hours is the daily working window as offsets from midnight.
type Hours struct {
	Start time.Duration
	End   time.Duration
}

func (h Hours) Validate() error {
	if h.Start < 0 || h.End > 24*time.Hour || h.Start >= h.End {
		return fmt.Errorf("calendar: [%v,%v): %w", h.Start, h.End, ErrBadHours)
	}
	return nil
}

// Slot is a half-open interval [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Duration() time.Duration { return s.End.Sub(s.Start) }

// Contains reports whether [start,end) lies inside s.
func (s Slot) Contains(start, end time.Time) bool {
	return !start.Before(s.Start) && !end.After(s.End)
}

// Overlaps reports whether two half-open intervals share any instant.
func Overlaps(a, b Slot) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// SplitSlot returns what remains of slot after removing [cutStart, cutEnd):
// nothing when the cut covers it, one piece when the cut touches an edge,
// two when the cut is strictly inside. A cut that misses the slot leaves it
// whole. Zero-length remainders are never returned.
func SplitSlot(slot Slot, cutStart, cutEnd time.Time) []Slot {
	if !cutStart.Before(slot.End) || !cutEnd.After(slot.Start) || !cutStart.Before(cutEnd) {
		return []Slot{slot}
	}
	out := make([]Slot, 0, 2)
	if cutStart.After(slot.Start) {
		out = append(out, Slot{Start: slot.Start, End: cutStart})
	}
	if cutEnd.Before(slot.End) {
		out = append(out, Slot{Start: cutEnd, End: slot.End})
	}
	return out
}

// Reservation is one committed errand: travel then task, back to back or
// with idle time in between.
type Reservation struct {
	ErrandID    string    `json:"errandId"`
	TravelStart time.Time `json:"travelStart"`
	TravelEnd   time.Time `json:"travelEnd"`
	TaskStart   time.Time `json:"taskStart"`
	TaskEnd     time.Time `json:"taskEnd"`
}

// Span is the interval the reservation occupies on the calendar.
func (r Reservation) Span() Slot { return Slot{Start: r.TravelStart, End: r.TaskEnd} }

func (r Reservation) wellFormed() bool {
	return !r.TravelEnd.Before(r.TravelStart) &&
		!r.TaskStart.Before(r.TravelEnd) &&
		r.TaskEnd.After(r.TaskStart)
}

// Calendar is one contractor's availability. The horizon is fixed at
// construction: anything outside it is unavailable and never grows the
// calendar.
type Calendar struct {
	mu       sync.Mutex
	origin   time.Time
	hours    Hours
	step     time.Duration
	free     [][]Slot
	reserved []Reservation
}

// New builds a calendar whose day 0 is the date of origin (in origin's
// location) and which spans days working days of hours each. step is the
// scan granularity used by NextAvailable.
func New(origin time.Time, days int, hours Hours, step time.Duration) (*Calendar, error) {
	if days <= 0 {
		return nil, fmt.Errorf("calendar: days must be positive, got %d", days)
	}
	if step <= 0 {
		return nil, fmt.Errorf("calendar: step must be positive, got %v", step)
	}
	if err := hours.Validate(); err != nil {
		return nil, err
	}
	y, m, d := origin.Date()
	c := &Calendar{
		origin: time.Date(y, m, d, 0, 0, 0, 0, origin.Location()),
		hours:  hours,
		step:   step,
		free:   make([][]Slot, days),
	}
	for i := range c.free {
		c.free[i] = []Slot{c.workWindow(i)}
	}
	return c, nil
}

// Days is the horizon length.
func (c *Calendar) Days() int { return len(c.free) }

// Step is the scan granularity.
func (c *Calendar) Step() time.Duration { return c.step }

// Hours is the daily working window.
func (c *Calendar) Hours() Hours { return c.hours }

// DayStart is midnight of day d.
func (c *Calendar) DayStart(d int) time.Time { return c.origin.AddDate(0, 0, d) }

// WorkWindow is the working-hours window of day d.
func (c *Calendar) WorkWindow(d int) Slot { return c.workWindow(d) }

func (c *Calendar) workWindow(d int) Slot {
	mid := c.DayStart(d)
	return Slot{Start: mid.Add(c.hours.Start), End: mid.Add(c.hours.End)}
}

// Horizon is [midnight of day 0, midnight after the last day).
func (c *Calendar) Horizon() Slot {
	return Slot{Start: c.origin, End: c.DayStart(len(c.free))}
}

// DayOf returns the horizon day index containing t.
func (c *Calendar) DayOf(t time.Time) (int, bool) {
	y, m, d := t.In(c.origin.Location()).Date()
	oy, om, od := c.origin.Date()
	days := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(time.Date(oy, om, od, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	return days, days >= 0 && days < len(c.free)
}

// IsAvailable reports whether [start,end) is free on every day it touches.
func (c *Calendar) IsAvailable(start, end time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available(start, end)
}

// Reserve commits r if its span is still free and returns false otherwise.
// A failed Reserve leaves the calendar untouched.
func (c *Calendar) Reserve(r Reservation) bool {
	if !r.wellFormed() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	span := r.Span()
	if !c.available(span.Start, span.End) {
		return false
	}
	c.forEachFragment(span.Start, span.End, func(d int, frag Slot) bool {
		i := c.containing(d, frag)
		rest := SplitSlot(c.free[d][i], frag.Start, frag.End)
		day := make([]Slot, 0, len(c.free[d])+1)
		day = append(day, c.free[d][:i]...)
		day = append(day, rest...)
		day = append(day, c.free[d][i+1:]...)
		c.free[d] = day
		return true
	})
	c.reserved = append(c.reserved, r)
	return true
}

// NextAvailable scans forward from from in step increments and returns the
// first window of length minDur that is free. It gives up at the end of the
// horizon.
func (c *Calendar) NextAvailable(from time.Time, minDur time.Duration) (Slot, bool) {
	return c.NextAvailableUntil(from, c.Horizon().End, minDur)
}

// NextAvailableUntil is NextAvailable with the window required to end no
// later than until.
func (c *Calendar) NextAvailableUntil(from, until time.Time, minDur time.Duration) (Slot, bool) {
	if minDur <= 0 {
		return Slot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.Horizon()
	if until.After(h.End) {
		until = h.End
	}
	if from.Before(h.Start) {
		// keep the scan on from's step grid
		n := (h.Start.Sub(from) + c.step - 1) / c.step
		from = from.Add(n * c.step)
	}
	for t := from; !t.Add(minDur).After(until); t = t.Add(c.step) {
		if c.available(t, t.Add(minDur)) {
			return Slot{Start: t, End: t.Add(minDur)}, true
		}
	}
	return Slot{}, false
}

// FreeSlots returns a copy of day d's free slots.
func (c *Calendar) FreeSlots(d int) []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 || d >= len(c.free) {
		return nil
	}
	return append([]Slot(nil), c.free[d]...)
}

// Reservations returns a copy of the committed reservations in time order.
func (c *Calendar) Reservations() []Reservation {
	c.mu.Lock()
	out := append([]Reservation(nil), c.reserved...)
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].TravelStart.Before(out[j].TravelStart) })
	return out
}

// Clone returns an independent copy with the same slots and reservations.
func (c *Calendar) Clone() *Calendar {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := &Calendar{
		origin:   c.origin,
		hours:    c.hours,
		step:     c.step,
		free:     make([][]Slot, len(c.free)),
		reserved: append([]Reservation(nil), c.reserved...),
	}
	for i := range c.free {
		cp.free[i] = append([]Slot(nil), c.free[i]...)
	}
	return cp
}

func (c *Calendar) available(start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	h := c.Horizon()
	if start.Before(h.Start) || end.After(h.End) {
		return false
	}
	return c.forEachFragment(start, end, func(d int, frag Slot) bool {
		return c.containing(d, frag) >= 0
	})
}

// forEachFragment splits [start,end) at midnights and calls fn per day
// until fn returns false. The interval must lie inside the horizon.
func (c *Calendar) forEachFragment(start, end time.Time, fn func(d int, frag Slot) bool) bool {
	first, _ := c.DayOf(start)
	last, _ := c.DayOf(end.Add(-time.Nanosecond))
	for d := first; d <= last; d++ {
		frag := Slot{Start: start, End: end}
		if mid := c.DayStart(d); frag.Start.Before(mid) {
			frag.Start = mid
		}
		if next := c.DayStart(d + 1); frag.End.After(next) {
			frag.End = next
		}
		if !frag.Start.Before(frag.End) {
			continue
		}
		if !fn(d, frag) {
			return false
		}
	}
	return true
}

// containing returns the index of the free slot of day d holding frag, or -1.
func (c *Calendar) containing(d int, frag Slot) int {
	slots := c.free[d]
	i := sort.Search(len(slots), func(i int) bool { return slots[i].End.After(frag.Start) })
	if i < len(slots) && slots[i].Contains(frag.Start, frag.End) {
		return i
	}
	return -1
}
