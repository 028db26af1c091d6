package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// fakeFeed cuenta llamadas y permite forzar fallos.
type fakeFeed struct {
	spot      float64
	spotErr   error
	spotCalls int

	candles     []domain.Candle
	candlesErr  error
	candleCalls int
}

func (f *fakeFeed) Spot(_ context.Context, _ domain.Asset) (float64, time.Time, error) {
	f.spotCalls++
	if f.spotErr != nil {
		return 0, time.Time{}, f.spotErr
	}
	return f.spot, time.Now().UTC(), nil
}

func (f *fakeFeed) Candles(_ context.Context, _ domain.Asset, _ int) ([]domain.Candle, error) {
	f.candleCalls++
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	return f.candles, nil
}

func hourlyCandles(start time.Time, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:     c, High: c, Low: c, Close: c,
		}
	}
	return out
}

func TestSpot_CachedWithinTTL(t *testing.T) {
	feed := &fakeFeed{spot: 80000}
	o, err := New(feed, t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	p1, _, stale, err := o.Spot(ctx, domain.AssetBTC)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 80000.0, p1)

	feed.spot = 81000
	p2, _, _, err := o.Spot(ctx, domain.AssetBTC)
	require.NoError(t, err)
	assert.Equal(t, 80000.0, p2, "dentro del TTL debe servir el cache")
	assert.Equal(t, 1, feed.spotCalls)
}

func TestSpot_ServesStaleOnFetchFailure(t *testing.T) {
	feed := &fakeFeed{spot: 80000}
	o, err := New(feed, t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, _, err = o.Spot(ctx, domain.AssetBTC)
	require.NoError(t, err)

	// Envejecer el cache y romper el feed.
	o.mu.Lock()
	e := o.spots[domain.AssetBTC]
	e.observedAt = e.observedAt.Add(-time.Minute)
	o.spots[domain.AssetBTC] = e
	o.mu.Unlock()
	feed.spotErr = errors.New("binance down")

	price, _, stale, err := o.Spot(ctx, domain.AssetBTC)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, 80000.0, price)
}

func TestSpot_ErrorWithoutCache(t *testing.T) {
	feed := &fakeFeed{spotErr: errors.New("binance down")}
	o, err := New(feed, t.TempDir())
	require.NoError(t, err)

	_, _, _, err = o.Spot(context.Background(), domain.AssetBTC)
	assert.Error(t, err)
}

func TestOHLC_RefreshesAndPersists(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	feed := &fakeFeed{candles: hourlyCandles(start, 80000, 80100, 80050)}
	dir := t.TempDir()
	o, err := New(feed, dir)
	require.NoError(t, err)
	ctx := context.Background()

	candles, stale, err := o.OHLC(ctx, domain.AssetBTC)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Len(t, candles, 3)
	assert.Equal(t, 1, feed.candleCalls)

	// El cache queda en disco con el nombre esperado.
	_, err = os.Stat(filepath.Join(dir, "btc-ohlc.json"))
	require.NoError(t, err)

	// Segunda lectura: cache fresco, sin refetch.
	_, _, err = o.OHLC(ctx, domain.AssetBTC)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.candleCalls)
}

func TestOHLC_ColdStartReadsDiskCache(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	feed := &fakeFeed{candles: hourlyCandles(start, 80000, 80100)}
	o1, err := New(feed, dir)
	require.NoError(t, err)
	_, _, err = o1.OHLC(context.Background(), domain.AssetBTC)
	require.NoError(t, err)

	// Proceso nuevo con el feed roto: debe servir el cache en disco.
	broken := &fakeFeed{candlesErr: errors.New("binance down")}
	o2, err := New(broken, dir)
	require.NoError(t, err)
	candles, stale, err := o2.OHLC(context.Background(), domain.AssetBTC)
	require.NoError(t, err)
	assert.False(t, stale, "cache fresco en disco no es stale")
	assert.Len(t, candles, 2)
}

func TestOHLC_ServesStaleWhenRefreshFails(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	feed := &fakeFeed{candles: hourlyCandles(start, 80000, 80100)}
	o, err := New(feed, dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = o.OHLC(ctx, domain.AssetBTC)
	require.NoError(t, err)

	// Envejecer el cache en memoria más allá del TTL y romper el feed.
	o.mu.Lock()
	cf := o.ohlc[domain.AssetBTC]
	cf.RefreshedAt = cf.RefreshedAt.Add(-25 * time.Hour)
	o.ohlc[domain.AssetBTC] = cf
	o.mu.Unlock()
	feed.candlesErr = errors.New("binance down")

	candles, stale, err := o.OHLC(ctx, domain.AssetBTC)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Len(t, candles, 2)
}

func TestOHLC_RejectsGappySeries(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	gappy := hourlyCandles(start, 80000, 80100, 80050)
	gappy[2].OpenTime = start.Add(5 * time.Hour).UnixMilli() // hueco
	feed := &fakeFeed{candles: gappy}
	o, err := New(feed, t.TempDir())
	require.NoError(t, err)

	_, _, err = o.OHLC(context.Background(), domain.AssetBTC)
	assert.Error(t, err)
}

func TestClosePrice_RefetchesForFreshCandle(t *testing.T) {
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	feed := &fakeFeed{candles: hourlyCandles(start, 80000, 80100)}
	o, err := New(feed, t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Vela 10:00–11:00 cierra en 80000.
	price, err := o.ClosePrice(ctx, domain.AssetBTC, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 80000.0, price)

	// La vela que cierra a las 13:00 no está: fuerza refetch con la serie ampliada.
	feed.candles = hourlyCandles(start, 80000, 80100, 80200)
	price, err = o.ClosePrice(ctx, domain.AssetBTC, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 80200.0, price)

	// Si ni el refetch la trae, es error.
	_, err = o.ClosePrice(ctx, domain.AssetBTC, start.Add(10*time.Hour))
	assert.Error(t, err)
}
