package settlement

// settlement.go — liquidación de trades expirados contra el cierre autoritativo.
//
// Cada ciclo: para cada trade ejecutado cuyo expiry ya pasó y sigue pendiente,
// pide el cierre de la vela al oracle, resuelve won/lost contra el strike
// (empate gana NO: la condición es estrictamente por encima) y escribe el
// Settlement. Si el cierre no está disponible el trade queda pendiente y se
// reintenta en ciclos futuros.

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Engine liquida trades pendientes. Solo lo toca la goroutine del loop.
type Engine struct {
	oracle  ports.Oracle
	journal ports.TradeJournal
	ledger  ports.LedgerView

	pending map[string]domain.TradeRecord // decision ID → trade sin liquidar
}

// New crea un Engine vacío.
func New(oracle ports.Oracle, jrnl ports.TradeJournal, ledger ports.LedgerView) *Engine {
	return &Engine{
		oracle:  oracle,
		journal: jrnl,
		ledger:  ledger,
		pending: make(map[string]domain.TradeRecord),
	}
}

// Track registra un trade ejecutado para liquidarlo tras su expiry.
func (e *Engine) Track(rec domain.TradeRecord) {
	if rec.OrderStatus != domain.OrderExecuted || rec.FilledCount == 0 || rec.DecisionID == "" {
		return
	}
	if rec.ExitReason != "" {
		// Las salidas anticipadas cierran la posición en el venue: no expiran.
		return
	}
	e.pending[rec.DecisionID] = rec
}

// Untrack descarta un trade cuya posición se cerró antes del expiry.
func (e *Engine) Untrack(decisionID string) {
	delete(e.pending, decisionID)
}

// Reduce descuenta contratos vendidos por una salida parcial: al expiry solo
// se liquida el residuo que quedó en cartera.
func (e *Engine) Reduce(decisionID string, contracts int) {
	rec, ok := e.pending[decisionID]
	if !ok || contracts <= 0 {
		return
	}
	if contracts >= rec.FilledCount {
		delete(e.pending, decisionID)
		return
	}
	rec.FilledCount -= contracts
	rec.Contracts -= contracts
	rec.CostCents = rec.PriceCents * rec.FilledCount
	e.pending[decisionID] = rec
}

// Restore reconstruye los pendientes tras un reinicio: todos los trades
// ejecutados del log menos los que ya tienen settlement y menos los cerrados
// por una salida anticipada (el exit vendió los contratos en el venue: no hay
// nada que liquidar al expiry).
func (e *Engine) Restore(trades []domain.TradeRecord, settlements []domain.Settlement) {
	settled := make(map[string]bool, len(settlements))
	for _, s := range settlements {
		settled[settleKey(s.Ticker, s.TradeTime)] = true
	}

	// Contratos ya vendidos por salidas ejecutadas, por decision ID de entrada.
	exited := make(map[string]int)
	for _, rec := range trades {
		if rec.ExitReason == "" || rec.OrderStatus != domain.OrderExecuted || rec.FilledCount == 0 {
			continue
		}
		exited[strings.TrimSuffix(rec.DecisionID, "-exit")] += rec.FilledCount
	}

	for _, rec := range trades {
		if rec.ExitReason != "" || settled[settleKey(rec.Ticker, rec.Timestamp)] {
			continue
		}
		if n := exited[rec.DecisionID]; n > 0 {
			if n >= rec.FilledCount {
				continue
			}
			// Salida parcial: solo el residuo espera liquidación.
			rec.FilledCount -= n
			rec.Contracts -= n
			rec.CostCents = rec.PriceCents * rec.FilledCount
		}
		e.Track(rec)
	}
	if len(e.pending) > 0 {
		slog.Info("restored unsettled trades", "count", len(e.pending))
	}
}

// PendingCount devuelve cuántos trades esperan liquidación.
func (e *Engine) PendingCount() int { return len(e.pending) }

// Sweep liquida todo lo expirado cuyo cierre ya está disponible.
// Devuelve los settlements escritos este ciclo, en orden de expiry.
func (e *Engine) Sweep(ctx context.Context, now time.Time) []domain.Settlement {
	var due []domain.TradeRecord
	for _, rec := range e.pending {
		if now.After(rec.Expiry) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Expiry.Equal(due[j].Expiry) {
			return due[i].Expiry.Before(due[j].Expiry)
		}
		return due[i].DecisionID < due[j].DecisionID
	})

	var settled []domain.Settlement
	for _, rec := range due {
		closePrice, err := e.oracle.ClosePrice(ctx, rec.Asset, rec.Expiry)
		if err != nil {
			// settlement_pending: el cierre aún no está, reintento el próximo ciclo.
			slog.Warn("close price unavailable, settlement pending",
				"ticker", rec.Ticker, "expiry", rec.Expiry, "err", err)
			continue
		}

		s := e.settle(rec, closePrice, now)
		settled = append(settled, s)
		delete(e.pending, rec.DecisionID)
	}
	return settled
}

// settle resuelve y persiste un trade contra su cierre.
func (e *Engine) settle(rec domain.TradeRecord, closePrice float64, now time.Time) domain.Settlement {
	won := domain.SideWins(rec.Side, closePrice, rec.Strike)
	s := domain.Settlement{
		Timestamp:  now.UTC(),
		Type:       "settlement",
		Ticker:     rec.Ticker,
		TradeTime:  rec.Timestamp,
		Asset:      rec.Asset,
		Side:       rec.Side,
		Strike:     rec.Strike,
		Expiry:     rec.Expiry,
		ClosePrice: closePrice,
		EntryCents: rec.PriceCents,
		Contracts:  rec.FilledCount,
		Won:        won,
		PnLCents:   domain.SettlePnLCents(won, rec.PriceCents, rec.FilledCount),
	}

	if err := e.journal.AppendSettlement(s); err != nil {
		slog.Error("failed to append settlement", "ticker", s.Ticker, "err", err)
	}
	if e.ledger != nil {
		if err := e.ledger.ApplySettlement(context.Background(), s); err != nil {
			slog.Error("ledger settlement update failed", "ticker", s.Ticker, "err", err)
		}
	}

	slog.Info("trade settled",
		"ticker", s.Ticker,
		"side", s.Side,
		"close", s.ClosePrice,
		"strike", s.Strike,
		"won", s.Won,
		"pnl_cents", s.PnLCents,
	)
	return s
}

func settleKey(ticker string, tradeTime time.Time) string {
	return ticker + "|" + tradeTime.UTC().Format(time.RFC3339Nano)
}
