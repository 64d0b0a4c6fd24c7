// Package errand defines the closed set of errand kinds and the request
// descriptors the scheduler prices and places.
package errand

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownKind     = errors.New("unknown errand kind")
	ErrBadDisincentive = errors.New("malformed disincentive")
	ErrBadErrand       = errors.New("malformed errand")
)

// Kind is the closed errand enum.
type Kind string

const (
	KindRepair       Kind = "repair"
	KindInstallation Kind = "installation"
	KindCleaning     Kind = "cleaning"
	KindDelivery     Kind = "delivery"
	KindConsultation Kind = "consultation"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindRepair, KindInstallation, KindCleaning, KindDelivery, KindConsultation}

// Policy holds per-kind behaviour that is not a price.
type Policy struct {
	// Remote errands are done from wherever the contractor is; travel is zero
	// and the contractor does not move.
	Remote bool
}

var policies = map[Kind]Policy{
	KindRepair:       {},
	KindInstallation: {},
	KindCleaning:     {},
	KindDelivery:     {},
	KindConsultation: {Remote: true},
}

// PolicyFor returns the policy of k or ErrUnknownKind.
func PolicyFor(k Kind) (Policy, error) {
	p, ok := policies[k]
	if !ok {
		return Policy{}, fmt.Errorf("errand: %q: %w", k, ErrUnknownKind)
	}
	return p, nil
}

// ParseKind accepts any casing.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, err := PolicyFor(k); err != nil {
		return "", err
	}
	return k, nil
}

// DisincentiveKind selects how lateness reduces the charge.
type DisincentiveKind string

const (
	PercentPerDay DisincentiveKind = "percent"
	FixedPerDay   DisincentiveKind = "fixed"
)

// Disincentive reduces the charge for every day past the grace period.
type Disincentive struct {
	Kind      DisincentiveKind `json:"kind" yaml:"kind"`
	Value     float64          `json:"value" yaml:"value"`
	GraceDays int              `json:"graceDays" yaml:"graceDays"`
}

func (d Disincentive) Validate() error {
	switch d.Kind {
	case PercentPerDay, FixedPerDay:
	default:
		return fmt.Errorf("errand: disincentive kind %q: %w", d.Kind, ErrBadDisincentive)
	}
	if d.Value < 0 {
		return fmt.Errorf("errand: disincentive value %v must be >= 0: %w", d.Value, ErrBadDisincentive)
	}
	if d.GraceDays < 0 {
		return fmt.Errorf("errand: grace days %d must be >= 0: %w", d.GraceDays, ErrBadDisincentive)
	}
	return nil
}

// Errand is an immutable request descriptor.
type Errand struct {
	Kind                Kind
	BaseDuration        time.Duration
	IncentiveMultiplier float64
	Disincentive        *Disincentive
}

// Validate fails on unknown kinds, non-positive durations, multipliers below
// one and malformed disincentives.
func (e Errand) Validate() error {
	if _, err := PolicyFor(e.Kind); err != nil {
		return err
	}
	if e.BaseDuration <= 0 {
		return fmt.Errorf("errand: duration %v must be positive: %w", e.BaseDuration, ErrBadErrand)
	}
	if e.IncentiveMultiplier < 1 {
		return fmt.Errorf("errand: incentive multiplier %v must be >= 1: %w", e.IncentiveMultiplier, ErrBadErrand)
	}
	if e.Disincentive != nil {
		return e.Disincentive.Validate()
	}
	return nil
}

// Remote reports whether the errand needs no travel.
func (e Errand) Remote() bool {
	p, err := PolicyFor(e.Kind)
	return err == nil && p.Remote
}
