package executor

// executor.go — de la Decision aprobada a la orden enviada y registrada.
//
// Envía una limit buy IOC al ask cotizado, mide la latencia de pared desde el
// submit hasta la primera respuesta terminal, verifica el fill y escribe el
// TradeRecord con todo el contexto de la decisión. Los errores auth son
// fatales para el loop; el resto alimenta la ventana de error rate.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/journal"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	// Una orden IOC debería resolverse casi inmediato; si el venue responde
	// "resting"/"pending" se consulta hasta verla terminal.
	pollInterval = 300 * time.Millisecond
	maxPolls     = 10
)

// ErrAuth envuelve un fallo de autenticación: el loop debe parar.
type ErrAuth struct{ Err error }

func (e *ErrAuth) Error() string { return fmt.Sprintf("executor: auth failure: %v", e.Err) }
func (e *ErrAuth) Unwrap() error { return e.Err }

// Classifier mapea un error del gateway a su clase (network, auth, …).
type Classifier func(error) string

// Config del executor.
type Config struct {
	DryRun bool

	// Ventana deslizante de error rate sobre llamadas de órdenes.
	ErrorWindow    time.Duration // ej. 10m
	ErrorRateLimit float64       // fracción que dispara la alerta, ej. 0.30
	ErrorMinCalls  int           // muestras mínimas antes de alertar
}

// Executor envía órdenes y registra el resultado.
type Executor struct {
	gateway  ports.OrderGateway
	journal  ports.TradeJournal
	ledger   ports.LedgerView
	alerts   ports.AlertSink
	classify Classifier
	cfg      Config

	calls []callOutcome // ventana de outcomes, solo toca la goroutine del loop
}

type callOutcome struct {
	at     time.Time
	failed bool
}

// New crea un Executor.
func New(gateway ports.OrderGateway, jrnl ports.TradeJournal, ledger ports.LedgerView, alerts ports.AlertSink, classify Classifier, cfg Config) *Executor {
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = 10 * time.Minute
	}
	if cfg.ErrorRateLimit <= 0 {
		cfg.ErrorRateLimit = 0.30
	}
	if cfg.ErrorMinCalls <= 0 {
		cfg.ErrorMinCalls = 10
	}
	return &Executor{
		gateway:  gateway,
		journal:  jrnl,
		ledger:   ledger,
		alerts:   alerts,
		classify: classify,
		cfg:      cfg,
	}
}

// Execute envía la orden de la decisión y escribe su TradeRecord.
// El error devuelto es *ErrAuth cuando el loop debe detenerse; los errores
// transitorios quedan registrados y no se propagan.
func (e *Executor) Execute(ctx context.Context, d domain.Decision) (domain.TradeRecord, error) {
	if e.cfg.DryRun {
		return e.recordFill(ctx, d, domain.OrderResult{
			OrderID:     "dry-run-" + uuid.NewString()[:8],
			Status:      "executed",
			FilledCount: d.Contracts,
		}, 0)
	}

	req := domain.OrderRequest{
		ClientOrderID: d.ID,
		Ticker:        d.Contract.Ticker,
		Side:          d.Side,
		PriceCents:    d.PriceCents,
		Count:         d.Contracts,
	}

	start := time.Now()
	var result domain.OrderResult
	var err error
	if d.ExitSellSide {
		result, err = e.gateway.CreateLimitSell(ctx, req)
	} else {
		result, err = e.gateway.CreateLimitBuy(ctx, req)
	}
	if err == nil && !result.Terminal() {
		result, err = e.awaitTerminal(ctx, result)
	}
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		return e.recordFailure(ctx, d, err, latencyMs)
	}

	e.observeCall(false, time.Now())
	return e.recordFill(ctx, d, result, latencyMs)
}

// awaitTerminal consulta la orden hasta verla en estado final.
func (e *Executor) awaitTerminal(ctx context.Context, r domain.OrderResult) (domain.OrderResult, error) {
	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-time.After(pollInterval):
		}
		cur, err := e.gateway.GetOrder(ctx, r.OrderID)
		if err != nil {
			return r, err
		}
		if cur.Terminal() {
			return cur, nil
		}
		r = cur
	}
	// El venue no la resolvió en la ventana: tratarla como cancelada sin fill.
	slog.Warn("order never reached terminal state", "order_id", r.OrderID, "status", r.Status)
	r.Status = "canceled"
	return r, nil
}

// recordFill escribe el TradeRecord de una orden que llegó a estado terminal.
func (e *Executor) recordFill(ctx context.Context, d domain.Decision, r domain.OrderResult, latencyMs int64) (domain.TradeRecord, error) {
	rec := baseRecord(d)
	rec.OrderID = r.OrderID
	rec.LatencyMs = int(latencyMs)

	if r.FilledCount > 0 {
		rec.OrderStatus = domain.OrderExecuted
		rec.FilledCount = r.FilledCount
		if r.FilledCount < d.Contracts {
			// Fill parcial: el costo real es lo que cruzó, el resto se liberó.
			slog.Info("partial fill",
				"ticker", d.Contract.Ticker,
				"requested", d.Contracts,
				"filled", r.FilledCount,
			)
			rec.Contracts = r.FilledCount
			rec.CostCents = r.FilledCount * d.PriceCents
		}
	} else {
		rec.OrderStatus = domain.OrderRejected
	}

	if err := e.persist(ctx, rec); err != nil {
		return rec, err
	}

	slog.Info("order recorded",
		"ticker", rec.Ticker,
		"side", rec.Side,
		"status", rec.OrderStatus,
		"filled", rec.FilledCount,
		"latency_ms", rec.LatencyMs,
	)
	return rec, nil
}

// recordFailure escribe el TradeRecord de una orden que falló en el wire.
func (e *Executor) recordFailure(ctx context.Context, d domain.Decision, cause error, latencyMs int64) (domain.TradeRecord, error) {
	class := "network"
	if e.classify != nil {
		class = e.classify(cause)
	}

	rec := baseRecord(d)
	rec.OrderStatus = domain.OrderRejected
	rec.LatencyMs = int(latencyMs)
	rec.ErrorClass = &class

	if err := e.persist(ctx, rec); err != nil {
		slog.Error("failed to persist rejected trade", "err", err)
	}
	e.journal.AppendAPIError(ports.APIErrorEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    "executor",
		Class:     class,
		Operation: "kalshi.CreateOrder",
		Message:   cause.Error(),
	})

	slog.Error("order submission failed",
		"ticker", d.Contract.Ticker,
		"class", class,
		"err", cause,
	)

	if class == "auth" {
		return rec, &ErrAuth{Err: cause}
	}
	e.observeCall(true, time.Now())
	return rec, nil
}

func (e *Executor) persist(ctx context.Context, rec domain.TradeRecord) error {
	if err := e.journal.AppendTrade(rec); err != nil {
		return fmt.Errorf("executor: append trade: %w", err)
	}
	if e.ledger != nil {
		if err := e.ledger.UpsertTrade(ctx, rec); err != nil {
			// La vista derivada es reconstruible: log y seguir.
			slog.Error("ledger upsert failed", "decision_id", rec.DecisionID, "err", err)
		}
	}
	return nil
}

// observeCall alimenta la ventana deslizante y escala a alerta si la tasa de
// error supera el umbral con muestras suficientes.
func (e *Executor) observeCall(failed bool, now time.Time) {
	e.calls = append(e.calls, callOutcome{at: now, failed: failed})

	cutoff := now.Add(-e.cfg.ErrorWindow)
	keep := e.calls[:0]
	failures := 0
	for _, c := range e.calls {
		if c.at.Before(cutoff) {
			continue
		}
		keep = append(keep, c)
		if c.failed {
			failures++
		}
	}
	e.calls = keep

	if len(e.calls) < e.cfg.ErrorMinCalls || e.alerts == nil {
		return
	}
	rate := float64(failures) / float64(len(e.calls))
	if rate >= e.cfg.ErrorRateLimit {
		e.alerts.Raise(journal.AlertAPIErrors, fmt.Sprintf(
			"order API error rate %.0f%% over last %d calls (window %s)",
			rate*100, len(e.calls), e.cfg.ErrorWindow))
	} else if !failed {
		e.alerts.Clear(journal.AlertAPIErrors)
	}
}

func baseRecord(d domain.Decision) domain.TradeRecord {
	return domain.TradeRecord{
		Timestamp:      time.Now().UTC(),
		Type:           "trade",
		DecisionID:     d.ID,
		Ticker:         d.Contract.Ticker,
		Asset:          d.Contract.Asset,
		Side:           d.Side,
		PriceCents:     d.PriceCents,
		Contracts:      d.Contracts,
		CostCents:      d.CostCents(),
		Edge:           d.Edge,
		KellyFraction:  d.KellyFraction,
		Strike:         d.Contract.Strike,
		Expiry:         d.Contract.Expiry,
		SpotAtDecision: d.Spot,
		ResultStatus:   domain.ResultPending,
		ExitReason:     d.ExitOf,
	}
}
