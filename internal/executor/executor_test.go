package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/journal"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

type fakeGateway struct {
	createResult domain.OrderResult
	createErr    error
	pollResults  []domain.OrderResult
	pollIdx      int
	lastRequest  domain.OrderRequest
}

func (f *fakeGateway) CreateLimitBuy(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.lastRequest = req
	return f.createResult, f.createErr
}

func (f *fakeGateway) CreateLimitSell(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.lastRequest = req
	return f.createResult, f.createErr
}

func (f *fakeGateway) GetOrder(_ context.Context, _ string) (domain.OrderResult, error) {
	if f.pollIdx >= len(f.pollResults) {
		return domain.OrderResult{Status: "pending"}, nil
	}
	r := f.pollResults[f.pollIdx]
	f.pollIdx++
	return r, nil
}

func (f *fakeGateway) GetBalance(_ context.Context) (int, error) { return 25_000, nil }

type memJournal struct {
	trades    []domain.TradeRecord
	apiErrors []ports.APIErrorEntry
}

func (m *memJournal) AppendTrade(rec domain.TradeRecord) error {
	m.trades = append(m.trades, rec)
	return nil
}
func (m *memJournal) AppendSettlement(domain.Settlement) error     { return nil }
func (m *memJournal) AppendBreakerEvent(domain.BreakerEvent) error { return nil }
func (m *memJournal) AppendStopLoss(domain.StopLossEntry) error    { return nil }
func (m *memJournal) AppendAPIError(e ports.APIErrorEntry) error {
	m.apiErrors = append(m.apiErrors, e)
	return nil
}

type memAlerts struct{ raised map[string]string }

func newMemAlerts() *memAlerts                 { return &memAlerts{raised: map[string]string{}} }
func (m *memAlerts) Raise(n, msg string) error { m.raised[n] = msg; return nil }
func (m *memAlerts) Clear(n string) error      { delete(m.raised, n); return nil }

func testDecision() domain.Decision {
	return domain.Decision{
		ID: "0f5a1c2e-test",
		Contract: domain.Contract{
			Ticker: "KXBTCD-26AUG3015-T80500",
			Asset:  domain.AssetBTC,
			Strike: 80500,
			Expiry: time.Now().UTC().Add(time.Hour),
		},
		Side:       domain.SideYes,
		PriceCents: 40,
		Contracts:  10,
		Edge:       0.12,
		Spot:       80000,
	}
}

func newExecutor(gw *fakeGateway, jrnl *memJournal, alerts *memAlerts, classify Classifier) *Executor {
	return New(gw, jrnl, nil, alerts, classify, Config{})
}

func TestExecute_FullFill(t *testing.T) {
	gw := &fakeGateway{createResult: domain.OrderResult{
		OrderID: "ord-1", Status: "executed", FilledCount: 10,
	}}
	jrnl := &memJournal{}
	ex := newExecutor(gw, jrnl, newMemAlerts(), nil)

	rec, err := ex.Execute(context.Background(), testDecision())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderExecuted, rec.OrderStatus)
	assert.Equal(t, 10, rec.FilledCount)
	assert.Equal(t, 400, rec.CostCents)
	assert.Equal(t, "ord-1", rec.OrderID)
	assert.Nil(t, rec.ErrorClass)
	assert.Equal(t, domain.ResultPending, rec.ResultStatus)

	// La orden lleva el decision ID como idempotency key.
	assert.Equal(t, "0f5a1c2e-test", gw.lastRequest.ClientOrderID)
	require.Len(t, jrnl.trades, 1)
}

func TestExecute_PartialFillShrinksCost(t *testing.T) {
	gw := &fakeGateway{createResult: domain.OrderResult{
		OrderID: "ord-2", Status: "executed", FilledCount: 4,
	}}
	jrnl := &memJournal{}
	ex := newExecutor(gw, jrnl, newMemAlerts(), nil)

	rec, err := ex.Execute(context.Background(), testDecision())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExecuted, rec.OrderStatus)
	assert.Equal(t, 4, rec.Contracts)
	assert.Equal(t, 4, rec.FilledCount)
	assert.Equal(t, 160, rec.CostCents, "el costo refleja lo que cruzó")
}

func TestExecute_ZeroFillIsRejected(t *testing.T) {
	gw := &fakeGateway{createResult: domain.OrderResult{
		OrderID: "ord-3", Status: "canceled", FilledCount: 0,
	}}
	jrnl := &memJournal{}
	ex := newExecutor(gw, jrnl, newMemAlerts(), nil)

	rec, err := ex.Execute(context.Background(), testDecision())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRejected, rec.OrderStatus)
	assert.Zero(t, rec.FilledCount)
	assert.Nil(t, rec.ErrorClass)
}

func TestExecute_PollsUntilTerminal(t *testing.T) {
	gw := &fakeGateway{
		createResult: domain.OrderResult{OrderID: "ord-4", Status: "resting"},
		pollResults: []domain.OrderResult{
			{OrderID: "ord-4", Status: "resting"},
			{OrderID: "ord-4", Status: "executed", FilledCount: 10},
		},
	}
	ex := newExecutor(gw, &memJournal{}, newMemAlerts(), nil)

	rec, err := ex.Execute(context.Background(), testDecision())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExecuted, rec.OrderStatus)
	// Dos polls a 300ms: la latencia medida los incluye.
	assert.GreaterOrEqual(t, rec.LatencyMs, 600)
}

func TestExecute_TransientErrorRecorded(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("status 503")}
	jrnl := &memJournal{}
	classify := func(error) string { return "server" }
	ex := newExecutor(gw, jrnl, newMemAlerts(), classify)

	rec, err := ex.Execute(context.Background(), testDecision())
	require.NoError(t, err, "los errores transitorios no paran el loop")
	assert.Equal(t, domain.OrderRejected, rec.OrderStatus)
	require.NotNil(t, rec.ErrorClass)
	assert.Equal(t, "server", *rec.ErrorClass)

	require.Len(t, jrnl.apiErrors, 1)
	assert.Equal(t, "executor", jrnl.apiErrors[0].Source)
	assert.Equal(t, "server", jrnl.apiErrors[0].Class)
}

func TestExecute_AuthErrorIsFatal(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("status 401")}
	classify := func(error) string { return "auth" }
	ex := newExecutor(gw, &memJournal{}, newMemAlerts(), classify)

	_, err := ex.Execute(context.Background(), testDecision())
	require.Error(t, err)
	var authErr *ErrAuth
	assert.ErrorAs(t, err, &authErr)
}

func TestExecute_DryRunSkipsGateway(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("must not be called")}
	jrnl := &memJournal{}
	ex := New(gw, jrnl, nil, newMemAlerts(), nil, Config{DryRun: true})

	rec, err := ex.Execute(context.Background(), testDecision())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExecuted, rec.OrderStatus)
	assert.Equal(t, 10, rec.FilledCount)
	assert.Empty(t, gw.lastRequest.ClientOrderID, "dry-run nunca toca el gateway")
}

func TestErrorRateWindow_RaisesAlert(t *testing.T) {
	alerts := newMemAlerts()
	ex := New(&fakeGateway{}, &memJournal{}, nil, alerts, nil, Config{
		ErrorWindow:    10 * time.Minute,
		ErrorRateLimit: 0.30,
		ErrorMinCalls:  10,
	})

	now := time.Now().UTC()
	// 7 éxitos y 2 fallos: bajo muestras mínimas, sin alerta.
	for i := 0; i < 7; i++ {
		ex.observeCall(false, now)
	}
	ex.observeCall(true, now)
	ex.observeCall(true, now)
	assert.NotContains(t, alerts.raised, journal.AlertAPIErrors)

	// El décimo call es fallo: 3/10 = 30% ≥ umbral.
	ex.observeCall(true, now)
	assert.Contains(t, alerts.raised, journal.AlertAPIErrors)

	// Los fallos salen de la ventana: un éxito posterior limpia la alerta.
	later := now.Add(11 * time.Minute)
	for i := 0; i < 10; i++ {
		ex.observeCall(false, later)
	}
	assert.NotContains(t, alerts.raised, journal.AlertAPIErrors)
}
