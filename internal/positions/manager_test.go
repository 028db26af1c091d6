package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// quoteProvider sirve una quote fija por ticker.
type quoteProvider struct {
	quotes map[string]domain.Quote
	err    error
}

func (q *quoteProvider) FetchHourlyQuotes(_ context.Context, _ []domain.Asset) ([]domain.Quote, error) {
	return nil, errors.New("not used")
}

func (q *quoteProvider) FetchQuote(_ context.Context, ticker string) (domain.Quote, error) {
	if q.err != nil {
		return domain.Quote{}, q.err
	}
	quote, ok := q.quotes[ticker]
	if !ok {
		return domain.Quote{}, errors.New("unknown ticker")
	}
	return quote, nil
}

func (q *quoteProvider) set(ticker string, yesBid, yesAsk int, expiry time.Time) {
	q.quotes[ticker] = domain.Quote{
		Contract: domain.Contract{
			Ticker: ticker,
			Asset:  domain.AssetBTC,
			Strike: 80500,
			Expiry: expiry,
		},
		YesBid:     yesBid,
		YesAsk:     yesAsk,
		ObservedAt: time.Now().UTC(),
	}
}

type memJournal struct {
	stopLoss []domain.StopLossEntry
}

func (m *memJournal) AppendTrade(domain.TradeRecord) error         { return nil }
func (m *memJournal) AppendSettlement(domain.Settlement) error     { return nil }
func (m *memJournal) AppendBreakerEvent(domain.BreakerEvent) error { return nil }
func (m *memJournal) AppendStopLoss(e domain.StopLossEntry) error {
	m.stopLoss = append(m.stopLoss, e)
	return nil
}
func (m *memJournal) AppendAPIError(ports.APIErrorEntry) error { return nil }

func testCfg() Config {
	return Config{
		StopLossPct:        0.40,
		TrailActivationPct: 0.30,
		TrailGapCents:      5,
		MaxHolding:         45 * time.Minute,
	}
}

func executedTrade(id, ticker string, side domain.Side, price, filled int, at, expiry time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		Timestamp:    at,
		Type:         "trade",
		DecisionID:   id,
		Ticker:       ticker,
		Asset:        domain.AssetBTC,
		Side:         side,
		PriceCents:   price,
		Contracts:    filled,
		CostCents:    price * filled,
		Strike:       80500,
		Expiry:       expiry,
		OrderStatus:  domain.OrderExecuted,
		FilledCount:  filled,
		ResultStatus: domain.ResultPending,
	}
}

func TestOpen_OnlyExecutedFills(t *testing.T) {
	m := NewManager(&quoteProvider{quotes: map[string]domain.Quote{}}, &memJournal{}, testCfg())
	now := time.Now().UTC()

	rejected := executedTrade("d1", "T1", domain.SideYes, 40, 0, now, now.Add(time.Hour))
	rejected.OrderStatus = domain.OrderRejected
	rejected.FilledCount = 0
	m.Open(rejected)
	assert.Zero(t, m.Count())

	m.Open(executedTrade("d2", "T2", domain.SideYes, 40, 10, now, now.Add(time.Hour)))
	assert.Equal(t, 1, m.Count())
}

func TestSweep_StopLoss(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	provider := &quoteProvider{quotes: map[string]domain.Quote{}}
	m := NewManager(provider, &memJournal{}, testCfg())

	// YES comprado a 40¢; el bid cae a 22¢: pérdida 45% ≥ 40%.
	m.Open(executedTrade("d1", "T1", domain.SideYes, 40, 10, now, expiry))
	provider.set("T1", 22, 26, expiry)

	exits := m.Sweep(context.Background(), now.Add(5*time.Minute))
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitStopLoss, exits[0].Reason)
	assert.Equal(t, 22, exits[0].PriceCents)
}

// Comprado NO @30¢ (YES a 70). El YES cae a 12¢: la posición NO vale 88¢,
// ganancia >30% arma el trailing con techo YES en 12+5=17. El rebote del YES
// a 20¢ atraviesa el techo: sale como take_profit, no como stop_loss.
func TestSweep_TrailingTakeProfitOnNo(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	provider := &quoteProvider{quotes: map[string]domain.Quote{}}
	jrnl := &memJournal{}
	m := NewManager(provider, jrnl, testCfg())

	m.Open(executedTrade("d1", "T1", domain.SideNo, 30, 10, now, expiry))

	// YES ask baja a 12: NO vale 88, se arma el trailing.
	provider.set("T1", 10, 12, expiry)
	exits := m.Sweep(context.Background(), now.Add(5*time.Minute))
	assert.Empty(t, exits, "todavía dentro del trailing")

	// Rebote: YES ask 20 > techo 17.
	provider.set("T1", 18, 20, expiry)
	exits = m.Sweep(context.Background(), now.Add(10*time.Minute))
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitTakeProfit, exits[0].Reason)
	assert.Equal(t, 80, exits[0].PriceCents, "bid del NO = 100 − yesAsk")

	// Confirmar registra take_profit en el stop-loss log.
	m.Confirm(exits[0], exits[0].PriceCents, now.Add(10*time.Minute))
	require.Len(t, jrnl.stopLoss, 1)
	assert.Equal(t, domain.ExitTakeProfit, jrnl.stopLoss[0].Type)
	assert.Equal(t, 30, jrnl.stopLoss[0].EntryCents)
	assert.Equal(t, 80, jrnl.stopLoss[0].ExitCents)
	assert.Equal(t, 88, jrnl.stopLoss[0].PeakCents)
	assert.Zero(t, m.Count())
}

// La venta cruzó 4 de 10 contratos: los vendidos van al stop-loss log y el
// residuo de 6 sigue abierto para el próximo barrido.
func TestReduce_PartialFillKeepsResidualOpen(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	provider := &quoteProvider{quotes: map[string]domain.Quote{}}
	jrnl := &memJournal{}
	m := NewManager(provider, jrnl, testCfg())

	m.Open(executedTrade("d1", "T1", domain.SideYes, 40, 10, now, expiry))
	provider.set("T1", 22, 26, expiry)

	exits := m.Sweep(context.Background(), now.Add(5*time.Minute))
	require.Len(t, exits, 1)

	m.Reduce(exits[0], 4, exits[0].PriceCents, now.Add(5*time.Minute))
	assert.Equal(t, 1, m.Count())
	require.Len(t, jrnl.stopLoss, 1)
	assert.Equal(t, 4, jrnl.stopLoss[0].Contracts)
	assert.Equal(t, 22, jrnl.stopLoss[0].ExitCents)

	// El residuo sigue en pérdida: vuelve a pedir salida con 6 contratos.
	exits = m.Sweep(context.Background(), now.Add(10*time.Minute))
	require.Len(t, exits, 1)
	assert.Equal(t, 6, exits[0].Position.Contracts)

	// Un fill por el total restante cierra del todo.
	m.Reduce(exits[0], 6, exits[0].PriceCents, now.Add(10*time.Minute))
	assert.Zero(t, m.Count())
	require.Len(t, jrnl.stopLoss, 2)
	assert.Equal(t, 6, jrnl.stopLoss[1].Contracts)
}

func TestSweep_TimeExitOnlyWhenUnprofitable(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	expiry := now.Add(2 * time.Hour)
	provider := &quoteProvider{quotes: map[string]domain.Quote{}}
	m := NewManager(provider, &memJournal{}, testCfg())

	m.Open(executedTrade("old-loser", "T1", domain.SideYes, 40, 10, now, expiry))
	m.Open(executedTrade("old-winner", "T2", domain.SideYes, 40, 10, now, expiry))
	provider.set("T1", 35, 38, expiry) // bajo entrada, pero lejos del stop
	provider.set("T2", 45, 48, expiry) // en ganancia

	// Antes de la edad máxima nadie sale.
	exits := m.Sweep(context.Background(), now.Add(30*time.Minute))
	assert.Empty(t, exits)

	// Pasados los 45 minutos solo sale la no rentable.
	exits = m.Sweep(context.Background(), now.Add(50*time.Minute))
	require.Len(t, exits, 1)
	assert.Equal(t, "old-loser", exits[0].Position.DecisionID)
	assert.Equal(t, domain.ExitTimeLimit, exits[0].Reason)
}

func TestSweep_DropsExpiredPositions(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	provider := &quoteProvider{quotes: map[string]domain.Quote{}}
	m := NewManager(provider, &memJournal{}, testCfg())

	m.Open(executedTrade("d1", "T1", domain.SideYes, 40, 10, now, now.Add(30*time.Minute)))
	exits := m.Sweep(context.Background(), now.Add(time.Hour))
	assert.Empty(t, exits)
	assert.Zero(t, m.Count(), "las expiradas pasan al settlement sweep")
}

func TestSweep_QuoteFailureKeepsPosition(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	provider := &quoteProvider{quotes: map[string]domain.Quote{}, err: errors.New("status 503")}
	m := NewManager(provider, &memJournal{}, testCfg())

	m.Open(executedTrade("d1", "T1", domain.SideYes, 40, 10, now, now.Add(time.Hour)))
	exits := m.Sweep(context.Background(), now.Add(5*time.Minute))
	assert.Empty(t, exits)
	assert.Equal(t, 1, m.Count())
}
