package scheduler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescheduleNumericExample(t *testing.T) {
	got, err := Reschedule(10, 0.05, 0.10)
	require.NoError(t, err)
	assert.InDelta(t, 4.8684, got, 1e-3)
	assert.InDelta(t, 10*math.Log(0.95)/math.Log(0.90), got, 1e-12)
}

func TestRescheduleIdentity(t *testing.T) {
	for _, t0 := range []float64{0.5, 1, 3, 17.25, 365} {
		for _, fi := range []float64{0.01, 0.05, 0.1, 0.2, 0.5, 0.99} {
			got, err := Reschedule(t0, fi, fi)
			require.NoError(t, err)
			assert.Equal(t, t0, got, "t=%v fi=%v", t0, fi)
		}
	}
}

func TestRescheduleMonotonic(t *testing.T) {
	targets := []float64{0.01, 0.03, 0.05, 0.1, 0.15, 0.3, 0.6, 0.9}
	prev := 0.0
	for i, f := range targets {
		got, err := Reschedule(20, f, 0.1)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, got, prev, "f=%v", f)
		}
		prev = got
	}
}

func TestRescheduleHigherBaselineLengthens(t *testing.T) {
	// Lowering 8% to 3% equals lowering the default 10% to about 3.78%.
	a, err := Reschedule(10, 0.03, 0.08)
	require.NoError(t, err)
	b, err := Reschedule(10, 0.0378, 0.10)
	require.NoError(t, err)
	assert.InDelta(t, a, b, 0.01)
}

func TestReschedulePreconditions(t *testing.T) {
	tests := []struct {
		name    string
		t, f, F float64
		want    error
	}{
		{"ZeroInterval", 0, 0.05, 0.1, ErrInvalidInterval},
		{"NegativeInterval", -1, 0.05, 0.1, ErrInvalidInterval},
		{"NaNInterval", math.NaN(), 0.05, 0.1, ErrInvalidInterval},
		{"InfInterval", math.Inf(1), 0.05, 0.1, ErrInvalidInterval},
		{"ZeroTarget", 1, 0, 0.1, ErrInvalidForgettingIndex},
		{"TargetOne", 1, 1, 0.1, ErrInvalidForgettingIndex},
		{"BaselineZero", 1, 0.05, 0, ErrInvalidForgettingIndex},
		{"BaselineOne", 1, 0.05, 1, ErrInvalidForgettingIndex},
		{"BaselineAboveOne", 1, 0.05, 1.5, ErrInvalidForgettingIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reschedule(tt.t, tt.f, tt.F)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMemoryStrength(t *testing.T) {
	s, err := MemoryStrength(10, 0.1)
	require.NoError(t, err)
	// Retention after t days on the curve equals 1-F.
	assert.InDelta(t, 0.9, math.Exp(-10/s), 1e-12)

	_, err = MemoryStrength(10, 1)
	assert.ErrorIs(t, err, ErrInvalidForgettingIndex)
}
