package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

func TestProbAbove_KnownValues(t *testing.T) {
	tests := []struct {
		name   string
		spot   float64
		strike float64
		sigma  float64
		hours  float64
		want   float64
	}{
		{"strike arriba, vol baja", 80000, 80500, 0.02, 1, 0.3777},
		{"strike arriba, vol alta", 80000, 80500, 0.04, 1, 0.4381},
		{"at the money", 80000, 80000, 0.02, 1, 0.5},
		{"muy in the money", 80000, 70000, 0.02, 1, 1.0},
		{"muy out of the money", 80000, 92000, 0.02, 1, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProbAbove(tt.spot, tt.strike, tt.sigma, tt.hours)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0005)
		})
	}
}

func TestProbAbove_MonotoneInStrike(t *testing.T) {
	prev := 1.1
	for _, strike := range []float64{79000, 79500, 80000, 80500, 81000, 82000} {
		p, err := ProbAbove(80000, strike, 0.02, 1)
		require.NoError(t, err)
		assert.Less(t, p, prev, "strike %v", strike)
		prev = p
	}
}

func TestProbAbove_SigmaPullsTowardHalf(t *testing.T) {
	// Más vol acerca la probabilidad a 0.5 desde cualquier lado.
	pOTMLow, _ := ProbAbove(80000, 80500, 0.005, 1)
	pOTMHigh, _ := ProbAbove(80000, 80500, 0.05, 1)
	assert.Less(t, pOTMLow, pOTMHigh)
	assert.Less(t, pOTMHigh, 0.5)

	pITMLow, _ := ProbAbove(80000, 79500, 0.005, 1)
	pITMHigh, _ := ProbAbove(80000, 79500, 0.05, 1)
	assert.Greater(t, pITMLow, pITMHigh)
	assert.Greater(t, pITMHigh, 0.5)
}

func TestProbAbove_AtTheMoneyIsHalfForAnyHorizon(t *testing.T) {
	for _, hours := range []float64{0.1, 1, 24, 1000} {
		p, err := ProbAbove(80000, 80000, 0.02, hours)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, p, 1e-12, "hours %v", hours)
	}
}

func TestProbAbove_Expired(t *testing.T) {
	p, err := ProbAbove(80600, 80500, 0.02, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	// Cierre exactamente en el strike: gana NO.
	p, err = ProbAbove(80500, 80500, 0.02, -0.01)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)
}

func TestProbAbove_RejectsBadInputs(t *testing.T) {
	_, err := ProbAbove(0, 80500, 0.02, 1)
	assert.Error(t, err)
	_, err = ProbAbove(80000, -1, 0.02, 1)
	assert.Error(t, err)
	_, err = ProbAbove(80000, 80500, 0, 1)
	assert.Error(t, err)
}

func TestFairCents_RoundingAndClamp(t *testing.T) {
	assert.Equal(t, 38, FairCents(0.3777))
	assert.Equal(t, 44, FairCents(0.4381))
	// Half-to-even en el borde exacto.
	assert.Equal(t, 38, FairCents(0.385))
	assert.Equal(t, 42, FairCents(0.425))
	// Nunca 0 ni 100.
	assert.Equal(t, 1, FairCents(0.0))
	assert.Equal(t, 1, FairCents(0.004))
	assert.Equal(t, 99, FairCents(1.0))
	assert.Equal(t, 99, FairCents(0.999))
}

func TestValue_ComplementaryFairPrices(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	c := domain.Contract{
		Ticker: "KXBTCD-26AUG3015-T80500",
		Asset:  domain.AssetBTC,
		Strike: 80500,
		Expiry: now.Add(time.Hour),
	}

	v, err := Value(c, 80000, 0.02, false, now)
	require.NoError(t, err)
	assert.Equal(t, 38, v.FairYes)
	assert.Equal(t, 38, v.FairFor(domain.SideYes))
	assert.Equal(t, 62, v.FairFor(domain.SideNo))
	assert.InDelta(t, 0.3777, v.ProbYes, 0.0005)
	assert.False(t, v.SpotStale)
}
