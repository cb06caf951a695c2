package scheduler

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidInterval        = errors.New("interval must be greater than 0")
	ErrInvalidForgettingIndex = errors.New("forgetting index must be between 0 and 1 exclusive")
)

// Reschedule converts an interval t, scheduled for a baseline forgetting index
// F, into the interval that gives forgetting index f on the same forgetting
// curve.
//
// Retention decays as R(x) = e^(-x/S). The baseline gives 1-F = e^(-t/S), so
// S = -t / ln(1-F), and the new interval is -S ln(1-f) = t ln(1-f) / ln(1-F).
// The result equals t when f == F and shrinks as f decreases.
func Reschedule(t, f, F float64) (float64, error) {
	if !(t > 0) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterval, t)
	}
	if !(f > 0 && f < 1) {
		return 0, fmt.Errorf("%w: target %v", ErrInvalidForgettingIndex, f)
	}
	if !(F > 0 && F < 1) {
		return 0, fmt.Errorf("%w: baseline %v", ErrInvalidForgettingIndex, F)
	}

	retention := 1 - F // original retention
	desired := 1 - f   // desired retention
	return t * (math.Log(desired) / math.Log(retention)), nil
}

// MemoryStrength returns S for an interval t scheduled at forgetting index F.
func MemoryStrength(t, F float64) (float64, error) {
	if !(t > 0) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterval, t)
	}
	if !(F > 0 && F < 1) {
		return 0, fmt.Errorf("%w: baseline %v", ErrInvalidForgettingIndex, F)
	}
	return -t / math.Log(1-F), nil
}
