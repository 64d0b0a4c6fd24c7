// Package charge prices errands: base charge from the per-kind rate table,
// a capped same-day incentive, and a lateness disincentive.
package charge

import (
	"fmt"
	"math"
	"time"

	"errandplan/internal/errand"
)

// Config is the explicit pricing configuration passed to NewModel.
type Config struct {
	// Rates is the charge per minute of errand time, by kind.
	Rates map[errand.Kind]float64
	// IncentiveCap bounds every errand's incentive multiplier.
	IncentiveCap float64
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Rates: map[errand.Kind]float64{
			errand.KindRepair:       1.5,
			errand.KindInstallation: 2.0,
			errand.KindCleaning:     0.8,
			errand.KindDelivery:     0.6,
			errand.KindConsultation: 1.2,
		},
		IncentiveCap: 2.0,
	}
}

func (c Config) Validate() error {
	if c.IncentiveCap < 1 {
		return fmt.Errorf("charge: incentive cap %v must be >= 1", c.IncentiveCap)
	}
	for _, k := range errand.Kinds {
		r, ok := c.Rates[k]
		if !ok {
			return fmt.Errorf("charge: no rate for kind %q", k)
		}
		if r < 0 || math.IsNaN(r) {
			return fmt.Errorf("charge: rate for %q must be >= 0, got %v", k, r)
		}
	}
	return nil
}

// Model computes charges. It is immutable after construction.
type Model struct {
	cfg Config
}

func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rates := make(map[errand.Kind]float64, len(cfg.Rates))
	for k, v := range cfg.Rates {
		rates[k] = v
	}
	cfg.Rates = rates
	return &Model{cfg: cfg}, nil
}

// IncentiveCap returns the configured cap.
func (m *Model) IncentiveCap() float64 { return m.cfg.IncentiveCap }

// BaseCharge is duration in minutes times the kind's rate.
func (m *Model) BaseCharge(e errand.Errand) (float64, error) {
	rate, ok := m.cfg.Rates[e.Kind]
	if !ok {
		return 0, fmt.Errorf("charge: %q: %w", e.Kind, errand.ErrUnknownKind)
	}
	return e.BaseDuration.Minutes() * rate, nil
}

// ApplyIncentive multiplies the base charge when the errand is done on the
// day it was requested. The multiplier never exceeds the global cap.
func (m *Model) ApplyIncentive(e errand.Errand, scheduled, requested time.Time) (float64, error) {
	base, err := m.BaseCharge(e)
	if err != nil {
		return 0, err
	}
	if DaysBetween(requested, scheduled) != 0 {
		return base, nil
	}
	return math.Min(base*e.IncentiveMultiplier, base*m.cfg.IncentiveCap), nil
}

// ApplyDisincentive reduces the base charge for each day past the grace
// window, floored at zero.
func (m *Model) ApplyDisincentive(e errand.Errand, scheduled, requested time.Time) (float64, error) {
	base, err := m.BaseCharge(e)
	if err != nil {
		return 0, err
	}
	d := e.Disincentive
	if d == nil {
		return base, nil
	}
	if err := d.Validate(); err != nil {
		return 0, err
	}
	late := DaysBetween(requested, scheduled)
	if late <= d.GraceDays {
		return base, nil
	}
	past := float64(late - d.GraceDays)
	switch d.Kind {
	case errand.PercentPerDay:
		return math.Max(0, base*(1-math.Min(1, d.Value*past/100))), nil
	default:
		return math.Max(0, base-d.Value*past), nil
	}
}

// Final is the higher of the incentive and disincentive paths, so a steep
// lateness penalty can never cancel an active same-day incentive.
func (m *Model) Final(e errand.Errand, scheduled, requested time.Time) (float64, error) {
	inc, err := m.ApplyIncentive(e, scheduled, requested)
	if err != nil {
		return 0, err
	}
	dis, err := m.ApplyDisincentive(e, scheduled, requested)
	if err != nil {
		return 0, err
	}
	return math.Max(inc, dis), nil
}

// Labour is what the contractor costs for travel and task time.
func Labour(travel, task time.Duration, ratePerMinute float64) float64 {
	return (travel + task).Minutes() * ratePerMinute
}

// Profit is the final charge minus labour.
func Profit(final float64, travel, task time.Duration, ratePerMinute float64) float64 {
	return final - Labour(travel, task, ratePerMinute)
}

// DaysBetween counts calendar days from a to b (negative when b is earlier).
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
