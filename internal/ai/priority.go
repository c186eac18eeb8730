package ai

import (
	"fmt"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
)

// PriorityThresholds defines how an advisory confidence multiplier maps to
// an effective priority shift
type PriorityThresholds struct {
	MinMultiplier float64 // lowest accepted multiplier (0.5)
	MaxMultiplier float64 // highest accepted multiplier (1.5)
	RaiseAt       float64 // multiplier at or above which priority moves up one tier
	LowerAt       float64 // multiplier at or below which priority moves down one tier
}

// DefaultPriorityThresholds returns the standard thresholds
func DefaultPriorityThresholds() PriorityThresholds {
	return PriorityThresholds{
		MinMultiplier: 0.5,
		MaxMultiplier: 1.5,
		RaiseAt:       1.25,
		LowerAt:       0.75,
	}
}

// Validate ensures the thresholds are ordered min <= lower < raise <= max
func (t PriorityThresholds) Validate() error {
	if t.MinMultiplier <= 0 || t.MaxMultiplier <= t.MinMultiplier {
		return fmt.Errorf("multiplier range must be positive and non-empty, got [%.2f, %.2f]", t.MinMultiplier, t.MaxMultiplier)
	}
	if t.LowerAt < t.MinMultiplier || t.RaiseAt > t.MaxMultiplier {
		return fmt.Errorf("shift thresholds must lie within [%.2f, %.2f]", t.MinMultiplier, t.MaxMultiplier)
	}
	if t.LowerAt >= t.RaiseAt {
		return fmt.Errorf("LowerAt must be less than RaiseAt (lower: %.2f, raise: %.2f)", t.LowerAt, t.RaiseAt)
	}
	return nil
}

// InRange reports whether m is an acceptable multiplier
func (t PriorityThresholds) InRange(m float64) bool {
	return m >= t.MinMultiplier && m <= t.MaxMultiplier
}

// EffectivePriority shifts severity by at most one tier according to m
func (t PriorityThresholds) EffectivePriority(severity entity.Severity, m float64) entity.Severity {
	switch {
	case m >= t.RaiseAt:
		return severity.Shift(1)
	case m <= t.LowerAt:
		return severity.Shift(-1)
	default:
		return severity
	}
}
