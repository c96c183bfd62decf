// internal/capacity/planner_test.go
package capacity

import (
	"math"
	"testing"
	"time"

	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profiles(m map[string]float64) ProfileSource {
	return ProfileSourceFunc(func(name string) (float64, time.Duration, bool) {
		v, ok := m[name]
		return v, 6 * time.Hour, ok
	})
}

func TestRecommendCapacity_EventMultiplier(t *testing.T) {
	p, err := NewPlanner(profiles(map[string]float64{"diwali": 5.0}), RevenueProtection{}, nil)
	require.NoError(t, err)

	rec, err := p.RecommendCapacity(LoadSample{Region: "ap-south", ActiveConnections: 1000}, opt.Some("diwali"))
	require.NoError(t, err)

	assert.Equal(t, int64(5000), rec.RecommendedCapacity)
	assert.True(t, rec.ScalingRequired)
	assert.Equal(t, 5.0, rec.Multiplier)
	name, ok := rec.EventContext.Get()
	assert.True(t, ok)
	assert.Equal(t, "diwali", name)
	assert.Equal(t, 6*time.Hour, rec.ExpectedDuration)
	assert.Contains(t, rec.Justification, "1000 connections x 5.00 = 5000")
}

func TestRecommendCapacity_RevenueProtectionFloor(t *testing.T) {
	protection := RevenueProtection{Enabled: true, EmergencyCapacityPercent: 150}
	p, err := NewPlanner(profiles(map[string]float64{"holi": 1.2}), protection, nil)
	require.NoError(t, err)

	rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: 1000}, opt.Some("holi"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, rec.Multiplier)
	assert.Equal(t, int64(1500), rec.RecommendedCapacity)
	assert.True(t, rec.ScalingRequired)
	assert.Contains(t, rec.Justification, "revenue protection")

	t.Run("event above the floor wins", func(t *testing.T) {
		p, _ := NewPlanner(profiles(map[string]float64{"diwali": 3}), protection, nil)
		rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: 1000}, opt.Some("diwali"))
		require.NoError(t, err)
		assert.Equal(t, 3.0, rec.Multiplier)
	})

	t.Run("threshold gates the floor", func(t *testing.T) {
		gated := protection
		gated.ProtectionThreshold = 5000
		require.NoError(t, p.SetRevenueProtection(gated))
		defer func() { _ = p.SetRevenueProtection(protection) }()

		rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: 1000}, opt.None[string]())
		require.NoError(t, err)
		assert.Equal(t, 1.0, rec.Multiplier)
	})
}

func TestRecommendCapacity_NoEvent(t *testing.T) {
	p, err := NewPlanner(nil, RevenueProtection{}, nil)
	require.NoError(t, err)

	rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: 800}, opt.Some("unknown"))
	require.NoError(t, err)
	assert.Equal(t, int64(800), rec.RecommendedCapacity)
	assert.Equal(t, 1.0, rec.Multiplier)
	assert.False(t, rec.ScalingRequired)
	assert.False(t, rec.EventContext.IsSome())
}

func TestRecommendCapacity_UnknownEvent(t *testing.T) {
	p, err := NewPlanner(profiles(map[string]float64{"diwali": 5}), RevenueProtection{}, nil)
	require.NoError(t, err)

	rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: 800}, opt.Some("eid"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Multiplier)
	assert.Contains(t, rec.Justification, `"eid" has no profile`)
}

func TestRecommendCapacity_HysteresisBand(t *testing.T) {
	tests := []struct {
		multiplier float64
		want       bool
	}{
		{1.0, false},
		{1.05, false},
		{1.10, false},
		{1.11, true},
		{2.0, true},
	}
	for _, tt := range tests {
		p, _ := NewPlanner(profiles(map[string]float64{"e": tt.multiplier}), RevenueProtection{}, nil)
		rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: 1000}, opt.Some("e"))
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.ScalingRequired, "multiplier %g", tt.multiplier)
	}
}

func TestRecommendCapacity_Monotonic(t *testing.T) {
	for _, base := range []int64{0, 1, 7, 999, 1000, 123457} {
		prev := int64(-1)
		for m := 0.0; m <= 6.0; m += 0.05 {
			mult := m
			p, _ := NewPlanner(ProfileSourceFunc(func(string) (float64, time.Duration, bool) {
				return mult, 0, true
			}), RevenueProtection{}, nil)
			rec, err := p.RecommendCapacity(LoadSample{ActiveConnections: base}, opt.Some("e"))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, rec.RecommendedCapacity, prev, "base %d multiplier %g", base, m)
			prev = rec.RecommendedCapacity
		}
	}
}

func TestRecommendCapacity_RejectsNegative(t *testing.T) {
	p, _ := NewPlanner(profiles(map[string]float64{"bad": -2, "nan": math.NaN()}), RevenueProtection{}, nil)

	_, err := p.RecommendCapacity(LoadSample{ActiveConnections: -1}, opt.None[string]())
	assert.ErrorIs(t, err, ErrNegativeLoad)

	_, err = p.RecommendCapacity(LoadSample{ActiveConnections: 10}, opt.Some("bad"))
	assert.ErrorIs(t, err, ErrInvalidMultiplier)
	_, err = p.RecommendCapacity(LoadSample{ActiveConnections: 10}, opt.Some("nan"))
	assert.ErrorIs(t, err, ErrInvalidMultiplier)

	_, err = NewPlanner(nil, RevenueProtection{Enabled: true, EmergencyCapacityPercent: -10}, nil)
	assert.ErrorIs(t, err, ErrInvalidProtection)
	assert.ErrorIs(t, p.SetRevenueProtection(RevenueProtection{ProtectionThreshold: math.Inf(1)}), ErrInvalidProtection)
}
