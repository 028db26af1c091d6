package analyze

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/journal"
)

// syntheticCandles genera velas horarias cuyos log-returns alternan ±r, de
// modo que la σ realizada queda en ≈ r.
func syntheticCandles(t *testing.T, now time.Time, hours int, r float64) []domain.Candle {
	t.Helper()
	start := now.Truncate(time.Hour).Add(-time.Duration(hours) * time.Hour)
	price := 80_000.0
	candles := make([]domain.Candle, 0, hours)
	for i := 0; i < hours; i++ {
		ret := r
		if i%2 == 1 {
			ret = -r
		}
		price *= math.Exp(ret)
		candles = append(candles, domain.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
		})
	}
	return candles
}

func writeOHLCCache(t *testing.T, dir, asset string, candles []domain.Candle) {
	t.Helper()
	cache := map[string]any{
		"asset":        asset,
		"source":       "binance",
		"refreshed_at": time.Now().UTC(),
		"candles":      candles,
	}
	data, err := json.Marshal(cache)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, asset+"-ohlc.json"), data, 0o644))
}

// σ realizada 0.0075 contra 0.005 configurada: +50% de desvío, alerta con la
// σ recomendada.
func TestVolCalibration_FlagsDivergence(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	writeOHLCCache(t, dir, "btc", syntheticCandles(t, now, 24*8, 0.0075))

	out, err := VolCalibration(Options{OHLCDir: dir, Days: 30},
		map[string]float64{"BTC": 0.005}, now)
	require.NoError(t, err)

	rep := out.Data.(*VolCalibReport)
	require.Len(t, rep.Assets, 1)
	a := rep.Assets[0]
	assert.Equal(t, "BTC", a.Asset)
	assert.InDelta(t, 0.0075, a.Realized7d, 2e-4)
	assert.InDelta(t, 0.50, a.Deviation7d, 0.05)
	assert.InDelta(t, 0.0075, a.Recommended, 2e-4)
	assert.True(t, a.Flagged)

	require.NotNil(t, out.Alert)
	assert.Equal(t, journal.AlertVolCalibration, out.Alert.Name)
	assert.Contains(t, out.Alert.Message, "BTC")
	assert.Contains(t, out.Alert.Message, "recommended sigma")
}

func TestVolCalibration_WithinToleranceNoAlert(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	writeOHLCCache(t, dir, "btc", syntheticCandles(t, now, 24*8, 0.005))

	out, err := VolCalibration(Options{OHLCDir: dir, Days: 30},
		map[string]float64{"BTC": 0.005}, now)
	require.NoError(t, err)
	assert.Nil(t, out.Alert)
	assert.False(t, out.Data.(*VolCalibReport).Assets[0].Flagged)
}

func TestVolCalibration_NoCaches(t *testing.T) {
	_, err := VolCalibration(Options{OHLCDir: t.TempDir(), Days: 30},
		map[string]float64{"BTC": 0.005}, time.Now())
	assert.ErrorIs(t, err, ErrNoData)
}
