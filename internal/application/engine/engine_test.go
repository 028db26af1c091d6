package engine

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
	"github.com/alejandrodnm/kalshibot/internal/evaluator"
	"github.com/alejandrodnm/kalshibot/internal/executor"
	"github.com/alejandrodnm/kalshibot/internal/journal"
	"github.com/alejandrodnm/kalshibot/internal/positions"
	"github.com/alejandrodnm/kalshibot/internal/risk"
	"github.com/alejandrodnm/kalshibot/internal/scanner"
	"github.com/alejandrodnm/kalshibot/internal/settlement"
)

// --- fakes de los adapters externos ---

type fakeProvider struct {
	quotes []domain.Quote
	err    error
}

func (f *fakeProvider) FetchHourlyQuotes(_ context.Context, _ []domain.Asset) ([]domain.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func (f *fakeProvider) FetchQuote(_ context.Context, ticker string) (domain.Quote, error) {
	for _, q := range f.quotes {
		if q.Contract.Ticker == ticker {
			return q, nil
		}
	}
	return domain.Quote{}, errors.New("unknown ticker")
}

type fakeGateway struct {
	balance  int
	fills    bool
	sellFill int // tope de contratos por venta; 0 = fill completo
	orders   int
}

func (f *fakeGateway) CreateLimitBuy(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.orders++
	if !f.fills {
		return domain.OrderResult{OrderID: "ord", Status: "canceled"}, nil
	}
	return domain.OrderResult{OrderID: "ord", Status: "executed", FilledCount: req.Count}, nil
}

func (f *fakeGateway) CreateLimitSell(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.orders++
	count := req.Count
	if f.sellFill > 0 && f.sellFill < count {
		count = f.sellFill
	}
	return domain.OrderResult{OrderID: "ord-sell", Status: "executed", FilledCount: count}, nil
}

func (f *fakeGateway) GetOrder(_ context.Context, id string) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: id, Status: "executed"}, nil
}

func (f *fakeGateway) GetBalance(_ context.Context) (int, error) { return f.balance, nil }

type fakeOracle struct {
	spot    float64
	spotErr error
	closes  map[time.Time]float64
}

func (f *fakeOracle) Spot(_ context.Context, _ domain.Asset) (float64, time.Time, bool, error) {
	if f.spotErr != nil {
		return 0, time.Time{}, false, f.spotErr
	}
	return f.spot, time.Now().UTC(), false, nil
}

func (f *fakeOracle) OHLC(_ context.Context, _ domain.Asset) ([]domain.Candle, bool, error) {
	return nil, false, errors.New("not used")
}

func (f *fakeOracle) ClosePrice(_ context.Context, _ domain.Asset, at time.Time) (float64, error) {
	if price, ok := f.closes[at.UTC()]; ok {
		return price, nil
	}
	return 0, errors.New("no candle")
}

// --- armado ---

type fixture struct {
	engine   *Engine
	provider *fakeProvider
	gateway  *fakeGateway
	oracle   *fakeOracle
	journal  *journal.Journal
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	jrnl, err := journal.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })

	alerts, err := journal.NewAlertDir(dir + "/alerts")
	require.NoError(t, err)

	provider := &fakeProvider{}
	gateway := &fakeGateway{balance: 25_000, fills: true}
	oracle := &fakeOracle{spot: 80_000, closes: map[time.Time]float64{}}

	now := time.Now().UTC()
	governor, err := risk.New(risk.Config{
		DailyLossCapCents:    5000,
		MaxConsecutiveLosses: 5,
		Cooldown:             4 * time.Hour,
		DailyTradeCap:        50,
		CycleTradeCap:        3,
		CategoryCapCents:     5000,
	}, jrnl, jrnl, alerts, now)
	require.NoError(t, err)

	scn := scanner.New(provider, scanner.DefaultFilterConfig())
	eval := evaluator.New(evaluator.Config{
		MinEdge:          0.10,
		MinRiskReward:    0.5,
		KellyFraction:    0.25,
		MaxTradeFraction: 0.05,
		MinPriceCents:    5,
		MaxPriceCents:    95,
		MinToExpiry:      5 * time.Minute,
	})
	exec := executor.New(gateway, jrnl, nil, alerts, nil, executor.Config{})
	posman := positions.NewManager(provider, jrnl, positions.Config{
		StopLossPct:        0.40,
		TrailActivationPct: 0.30,
		TrailGapCents:      5,
		MaxHolding:         45 * time.Minute,
	})
	settle := settlement.New(oracle, jrnl, nil)

	eng := New(Config{
		CycleInterval: 30 * time.Second,
		MaxWorkers:    8,
		Sigma: map[domain.Asset]float64{
			domain.AssetBTC: 0.04,
			domain.AssetETH: 0.007,
		},
	}, scn, oracle, eval, governor, exec, posman, settle, gateway, jrnl)

	return &fixture{engine: eng, provider: provider, gateway: gateway, oracle: oracle, journal: jrnl, dir: dir}
}

func cheapYes(ticker string, expiry time.Time) domain.Quote {
	// Con spot 80000, strike 80500 y σ=0.04 el fair YES es 44¢:
	// ask 40 da exactamente 10% de edge.
	return domain.Quote{
		Contract: domain.Contract{
			Ticker: ticker,
			Asset:  domain.AssetBTC,
			Strike: 80500,
			Expiry: expiry,
		},
		YesBid:     38,
		YesAsk:     40,
		Volume:     500,
		ObservedAt: time.Now().UTC(),
	}
}

func TestRunOnce_FullCycleOpensPosition(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	f.provider.quotes = []domain.Quote{cheapYes("KXBTCD-T80500", expiry)}

	result, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Candidates)
	assert.Equal(t, 1, result.Decisions)
	assert.Equal(t, 1, result.Submitted)
	assert.Equal(t, 1, result.Executed)

	// El trade quedó en el journal y la posición en el manager.
	trades, err := f.journal.ReadTrades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.OrderExecuted, trades[0].OrderStatus)
	assert.Equal(t, domain.SideYes, trades[0].Side)

	// El health snapshot refleja el ciclo.
	rs, ok, err := f.journal.ReadRiskState()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rs.TradesToday)
}

func TestRunOnce_NoEdgeNoOrders(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(time.Hour)
	q := cheapYes("KXBTCD-T80500", expiry)
	q.YesBid = 42
	q.YesAsk = 44 // ask = fair: cero edge
	f.provider.quotes = []domain.Quote{q}

	result, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Submitted)
	assert.Equal(t, 1, result.Rejected[evaluator.SkipEdge])
	assert.Zero(t, f.gateway.orders)
}

func TestRunOnce_SettlesExpiredTrade(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(6 * time.Minute).Truncate(time.Second)
	f.provider.quotes = []domain.Quote{cheapYes("KXBTCD-T80500", expiry)}

	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	// Siguiente ciclo, pasado el expiry: cierre por debajo del strike, YES pierde.
	f.provider.quotes = nil
	f.oracle.closes[expiry.UTC()] = 80_450

	// Simular el paso del tiempo expirando el contrato.
	time.Sleep(10 * time.Millisecond)
	f.engine.settlement.Sweep(context.Background(), expiry.Add(time.Minute))

	settlements, err := f.journal.ReadSettlements()
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.False(t, settlements[0].Won)
}

func TestRunOnce_BalanceFallbackToCache(t *testing.T) {
	f := newFixture(t)
	// Primer ciclo cachea el balance.
	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	cached, ok := f.journal.ReadBalance()
	require.True(t, ok)
	assert.Equal(t, 25_000, cached.BalanceCents)
}

// Un stop ejecutado alimenta el PnL diario del governor y suelta el tracking
// de settlement: los contratos ya se vendieron, al expiry no hay nada que
// liquidar — ni siquiera tras un reinicio desde el journal.
func TestSweepPositions_ExitFeedsRiskAndUntracks(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	f.provider.quotes = []domain.Quote{cheapYes("KXBTCD-T80500", expiry)}

	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.engine.settlement.PendingCount())

	// El bid cae a 22¢: pérdida 45% sobre entrada 40¢, dispara el stop.
	q := cheapYes("KXBTCD-T80500", expiry)
	q.YesBid = 22
	q.YesAsk = 26
	f.provider.quotes = []domain.Quote{q}

	exits := f.engine.sweepPositions(context.Background(), time.Now().UTC())
	assert.Equal(t, 1, exits)
	assert.Zero(t, f.engine.positions.Count())
	assert.Zero(t, f.engine.settlement.PendingCount())
	assert.Less(t, f.engine.governor.State().DailyPnLCents, 0)

	// Reinicio sobre el mismo journal: la posición cerrada no resucita y el
	// expiry no produce ningún settlement fantasma.
	require.NoError(t, f.engine.Restore())
	assert.Zero(t, f.engine.settlement.PendingCount())
	assert.Empty(t, f.engine.settlement.Sweep(context.Background(), expiry.Add(time.Minute)))
}

// La venta cruzó menos contratos de los pedidos: el residuo sigue abierto y
// sigue esperando settlement por la cantidad restante.
func TestSweepPositions_PartialExitKeepsResidual(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	f.provider.quotes = []domain.Quote{cheapYes("KXBTCD-T80500", expiry)}

	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	q := cheapYes("KXBTCD-T80500", expiry)
	q.YesBid = 22
	q.YesAsk = 26
	f.provider.quotes = []domain.Quote{q}
	f.gateway.sellFill = 1

	exits := f.engine.sweepPositions(context.Background(), time.Now().UTC())
	assert.Zero(t, exits, "una salida parcial no cierra la posición")
	assert.Equal(t, 1, f.engine.positions.Count())
	assert.Equal(t, 1, f.engine.settlement.PendingCount())
	assert.Less(t, f.engine.governor.State().DailyPnLCents, 0,
		"lo vendido sí cuenta contra el PnL diario")
}

// Los fallos del scanner quedan en api-error-log.jsonl con su source, para
// que el análisis de tasa de errores los vea.
func TestRunOnce_ScanFailureJournaled(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("status 503")

	_, err := f.engine.RunOnce(context.Background())
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "api-error-log.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source":"scanner"`)
	assert.Contains(t, string(data), "scanner.Scan")
}

func TestRunOnce_SpotFailureJournaled(t *testing.T) {
	f := newFixture(t)
	f.oracle.spotErr = errors.New("binance down")
	expiry := time.Now().UTC().Add(time.Hour)
	f.provider.quotes = []domain.Quote{cheapYes("KXBTCD-T80500", expiry)}

	result, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err, "sin spot no se opera ese asset, pero el ciclo sigue")
	assert.Zero(t, result.Submitted)

	data, err := os.ReadFile(filepath.Join(f.dir, "api-error-log.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source":"oracle"`)
	assert.Contains(t, string(data), "oracle.Spot")
}

func TestRestore_RebuildsPendingSettlements(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	f.provider.quotes = []domain.Quote{cheapYes("KXBTCD-T80500", expiry)}

	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.engine.settlement.PendingCount())

	// Proceso nuevo sobre el mismo journal.
	f2 := newFixture(t)
	f2.journal.Close()
	// Reusar el journal del primer fixture para leer sus streams.
	f2.engine.journal = f.journal
	f2.engine.settlement = settlement.New(f.oracle, f.journal, nil)
	require.NoError(t, f2.engine.Restore())
	assert.Equal(t, 1, f2.engine.settlement.PendingCount())
}
