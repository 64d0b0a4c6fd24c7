// Package geo maps pairs of locations on a grid road network to travel
// routes. Roads run along every line where a coordinate is a multiple of the
// block size; points off those lines are unreachable.
package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrOffNetwork = errors.New("location is off the road network")

// Location is a point on the integer grid.
type Location struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (l Location) String() string { return fmt.Sprintf("(%d,%d)", l.X, l.Y) }

// Route is the outcome of a travel query: road distance in grid units, the
// time it takes, and the waypoints from origin to destination inclusive.
type Route struct {
	Distance int
	Duration time.Duration
	Path     []Location
}

// Provider is the contract the scheduling core consumes.
type Provider interface {
	Travel(a, b Location) (Route, error)
}

// Network is a Manhattan road grid.
type Network struct {
	BlockSize      int
	UnitsPerMinute float64
}

// DefaultNetwork is a 10-unit grid travelled at one unit per minute.
var DefaultNetwork = Network{BlockSize: 10, UnitsPerMinute: 1}

func (n Network) onVertical(l Location) bool   { return l.X%n.BlockSize == 0 }
func (n Network) onHorizontal(l Location) bool { return l.Y%n.BlockSize == 0 }

// Validate reports ErrOffNetwork for points that are not on any road.
func (n Network) Validate(l Location) error {
	if n.BlockSize <= 0 {
		return fmt.Errorf("geo: block size must be positive, got %d", n.BlockSize)
	}
	if !n.onVertical(l) && !n.onHorizontal(l) {
		return fmt.Errorf("geo: %s: %w", l, ErrOffNetwork)
	}
	return nil
}

// Travel returns the shortest road route between a and b.
func (n Network) Travel(a, b Location) (Route, error) {
	if err := n.Validate(a); err != nil {
		return Route{}, err
	}
	if err := n.Validate(b); err != nil {
		return Route{}, err
	}
	if n.UnitsPerMinute <= 0 {
		return Route{}, fmt.Errorf("geo: speed must be positive, got %v", n.UnitsPerMinute)
	}
	path := n.path(a, b)
	dist := 0
	for i := 1; i < len(path); i++ {
		dist += abs(path[i].X-path[i-1].X) + abs(path[i].Y-path[i-1].Y)
	}
	return Route{Distance: dist, Duration: n.duration(dist), Path: path}, nil
}

// duration rounds up to whole minutes.
func (n Network) duration(dist int) time.Duration {
	minutes := math.Ceil(float64(dist) / n.UnitsPerMinute)
	return time.Duration(minutes) * time.Minute
}

func (n Network) path(a, b Location) []Location {
	switch {
	case a == b:
		return []Location{a}
	case n.onVertical(a) && n.onVertical(b) && a.X == b.X,
		n.onHorizontal(a) && n.onHorizontal(b) && a.Y == b.Y:
		return []Location{a, b}
	case n.onVertical(a) && n.onHorizontal(b):
		return compact(a, Location{X: a.X, Y: b.Y}, b)
	case n.onHorizontal(a) && n.onVertical(b):
		return compact(a, Location{X: b.X, Y: a.Y}, b)
	case n.onVertical(a):
		// both sit on different vertical roads between crossings
		y := n.bestCrossing(a.Y, b.Y)
		return compact(a, Location{X: a.X, Y: y}, Location{X: b.X, Y: y}, b)
	default:
		x := n.bestCrossing(a.X, b.X)
		return compact(a, Location{X: x, Y: a.Y}, Location{X: x, Y: b.Y}, b)
	}
}

// bestCrossing picks the cross road minimising |p-c| + |q-c|. The first
// candidate wins on ties.
func (n Network) bestCrossing(p, q int) int {
	cands := []int{
		floorTo(p, n.BlockSize), floorTo(p, n.BlockSize) + n.BlockSize,
		floorTo(q, n.BlockSize), floorTo(q, n.BlockSize) + n.BlockSize,
	}
	best, bestCost := cands[0], math.MaxInt
	for _, c := range cands {
		if cost := abs(p-c) + abs(q-c); cost < bestCost {
			best, bestCost = c, cost
		}
	}
	return best
}

func compact(points ...Location) []Location {
	out := make([]Location, 0, len(points))
	for _, p := range points {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

func floorTo(v, step int) int {
	q := v / step
	if v%step != 0 && v < 0 {
		q--
	}
	return q * step
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
