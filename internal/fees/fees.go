package fees

import (
	"errors"
	"fmt"
	"sort"
)

// Kind selects how a schedule derives its fee.
type Kind string

const (
	KindFlat       Kind = "flat"
	KindPercentage Kind = "percentage"
	KindTiered     Kind = "tiered"
)

// Tier maps a refund range to a fixed fee. Max == nil means the tier is
// open-ended upward. Bounds are inclusive on both sides.
type Tier struct {
	Min int64  `json:"min"`
	Max *int64 `json:"max,omitempty"`
	Fee int64  `json:"fee"`
}

// Schedule is a pricing rule for deriving a fee from a refund amount.
// All amounts are minor units (cents). Percentage rates are carried in
// basis points (1 bp = 0.01%) so the schedule itself stays float-free.
// A schedule referenced by a live allocation is treated as immutable.
type Schedule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Amount  int64  `json:"amount,omitempty"`   // kind=flat
	RateBps int64  `json:"rate_bps,omitempty"` // kind=percentage
	Tiers   []Tier `json:"tiers,omitempty"`    // kind=tiered
}

var (
	ErrInvalidAmount = errors.New("fees: refund amount must be >= 0")
)

// ConfigError reports a schedule misconfiguration, including a tiered
// schedule with no tier covering the requested amount. Callers are expected
// to recover (typically by charging zero and logging), never to abort.
type ConfigError struct {
	ScheduleID string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fees: schedule %s misconfigured: %s", e.ScheduleID, e.Reason)
}

// ComputeFee resolves the fee a schedule charges for the given refund amount.
// Pure function of its inputs.
//
// Percentage fees round half-up to the nearest cent; the same input always
// yields the same output, so repeated validation round-trips never drift.
func ComputeFee(s Schedule, refund int64) (int64, error) {
	if refund < 0 {
		return 0, ErrInvalidAmount
	}
	switch s.Kind {
	case KindFlat:
		return s.Amount, nil
	case KindPercentage:
		// refund * bps / 10_000, half-up.
		return (refund*s.RateBps + 5_000) / 10_000, nil
	case KindTiered:
		for _, t := range s.Tiers {
			if refund < t.Min {
				continue
			}
			if t.Max != nil && refund > *t.Max {
				continue
			}
			return t.Fee, nil
		}
		return 0, &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("no tier covers amount %d", refund)}
	default:
		return 0, &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("unknown kind %q", s.Kind)}
	}
}

// Validate checks a schedule at load time. Overlapping tiers are rejected
// outright rather than resolved by first-match; gaps are legal here and only
// surface as a ConfigError when ComputeFee lands in one.
func Validate(s Schedule) error {
	if s.ID == "" {
		return &ConfigError{ScheduleID: s.ID, Reason: "id is required"}
	}
	switch s.Kind {
	case KindFlat:
		if s.Amount < 0 {
			return &ConfigError{ScheduleID: s.ID, Reason: "flat amount must be >= 0"}
		}
	case KindPercentage:
		if s.RateBps < 0 {
			return &ConfigError{ScheduleID: s.ID, Reason: "rate must be >= 0"}
		}
	case KindTiered:
		if len(s.Tiers) == 0 {
			return &ConfigError{ScheduleID: s.ID, Reason: "tiered schedule has no tiers"}
		}
		if !sort.SliceIsSorted(s.Tiers, func(i, j int) bool { return s.Tiers[i].Min < s.Tiers[j].Min }) {
			return &ConfigError{ScheduleID: s.ID, Reason: "tiers must be ordered by min ascending"}
		}
		for i, t := range s.Tiers {
			if t.Min < 0 || t.Fee < 0 {
				return &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("tier %d has negative bound or fee", i)}
			}
			if t.Max != nil && *t.Max < t.Min {
				return &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("tier %d max precedes min", i)}
			}
			if i == 0 {
				continue
			}
			prev := s.Tiers[i-1]
			if prev.Max == nil {
				return &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("tier %d follows an open-ended tier", i)}
			}
			if t.Min <= *prev.Max {
				return &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("tier %d overlaps tier %d", i, i-1)}
			}
		}
	default:
		return &ConfigError{ScheduleID: s.ID, Reason: fmt.Sprintf("unknown kind %q", s.Kind)}
	}
	return nil
}
