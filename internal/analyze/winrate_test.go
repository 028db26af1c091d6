package analyze

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

func TestWinrate_BucketsAndVolumeWeighting(t *testing.T) {
	dir := t.TempDir()
	// Martes 10:00Z y 14:00Z; el grande gana, el chico pierde.
	big := executedTrade("d1", "KXBTCD-T80500", time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), domain.SideYes, 40, 10, 0.12)
	small := executedTrade("d2", "KXBTCD-T81000", time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC), domain.SideNo, 20, 2, 0.32)
	writeLines(t, filepath.Join(dir, tradesFile), big, small)
	writeLines(t, filepath.Join(dir, settlementFile), settlementFor(big, true), settlementFor(small, false))

	logs, err := Load(dir, time.Time{})
	require.NoError(t, err)
	out, err := Winrate(logs, Options{Days: 30}, time.Now())
	require.NoError(t, err)

	rep := out.Data.(*WinrateReport)
	assert.Equal(t, 2, rep.Settled)
	assert.Equal(t, 1, rep.Wins)
	assert.InDelta(t, 0.5, rep.WinRate, 1e-9)
	// Costo ganado 400 sobre 440 totales.
	assert.InDelta(t, 400.0/440.0, rep.VolumeWeighted, 1e-9)
	assert.Equal(t, (100-40)*10-20*2, rep.PnLCents)

	assert.Equal(t, 1, rep.ByHour["10"].Wins)
	assert.Equal(t, 0, rep.ByHour["14"].Wins)
	assert.Equal(t, 2, rep.ByWeekday["Tuesday"].Trades)
	assert.Equal(t, 2, rep.ByAsset["BTC"].Trades)
	assert.Equal(t, 1, rep.ByEdgeBucket["10-15%"].Wins)
	assert.Equal(t, 0, rep.ByEdgeBucket[">=30%"].Wins)
	// Con dos trades los umbrales de cuartil caen en los propios costos:
	// el chico queda en q1 y el grande en q2.
	assert.Equal(t, 1, rep.BySizeQuartile["q1"].Trades)
	assert.Equal(t, 1, rep.BySizeQuartile["q2"].Trades)
}

// Las ventas de salida y los rechazados no son apuestas: no entran al join.
func TestWinrate_IgnoresExitsAndRejected(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entry := executedTrade("d1", "KXBTCD-T80500", now, domain.SideYes, 40, 5, 0.12)
	exit := executedTrade("d1-exit", "KXBTCD-T80500", now.Add(20*time.Minute), domain.SideYes, 22, 5, 0)
	exit.ExitReason = string(domain.ExitStopLoss)
	rejected := executedTrade("d2", "KXBTCD-T81000", now, domain.SideNo, 30, 3, 0.15)
	rejected.OrderStatus = domain.OrderRejected
	rejected.FilledCount = 0
	writeLines(t, filepath.Join(dir, tradesFile), entry, exit, rejected)
	writeLines(t, filepath.Join(dir, settlementFile), settlementFor(entry, true))

	logs, err := Load(dir, time.Time{})
	require.NoError(t, err)
	out, err := Winrate(logs, Options{Days: 30}, time.Now())
	require.NoError(t, err)

	rep := out.Data.(*WinrateReport)
	assert.Equal(t, 1, rep.Executed)
	assert.Equal(t, 1, rep.Settled)
}

// Un settlement duplicado en el log solo cuenta una vez.
func TestWinrate_FirstSettlementWins(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	trade := executedTrade("d1", "KXBTCD-T80500", now, domain.SideYes, 40, 5, 0.12)
	first := settlementFor(trade, true)
	dup := settlementFor(trade, false) // reintento inconsistente, se ignora
	writeLines(t, filepath.Join(dir, tradesFile), trade)
	writeLines(t, filepath.Join(dir, settlementFile), first, dup)

	logs, err := Load(dir, time.Time{})
	require.NoError(t, err)
	out, err := Winrate(logs, Options{Days: 30}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Data.(*WinrateReport).Wins)
}

func TestWinrate_NoSettledTrades(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, tradesFile),
		executedTrade("d1", "KXBTCD-T80500", time.Now().UTC(), domain.SideYes, 40, 5, 0.12))

	logs, err := Load(dir, time.Time{})
	require.NoError(t, err)
	_, err = Winrate(logs, Options{Days: 30}, time.Now())
	assert.ErrorIs(t, err, ErrNoData)
}
