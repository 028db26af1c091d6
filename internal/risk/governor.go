package risk

// governor.go — la última palabra antes de enviar una orden.
//
// Mantiene el RiskState del proceso, lo persiste en cada mutación y aplica
// los límites en orden fijo: daily loss stop, caps de conteo, exposición por
// categoría, circuit breaker, bankroll. El primero que falla corta.

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/journal"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Razones de rechazo estables, van al log y a los tests.
const (
	RejectDailyLoss   = "daily_loss_stop"
	RejectCycleCap    = "cycle_trade_cap"
	RejectDailyCap    = "daily_trade_cap"
	RejectCategoryCap = "category_exposure_cap"
	RejectBreaker     = "circuit_breaker"
	RejectHalted      = "halted_for_day"
	RejectManualHalt  = "manual_halt"
	RejectBankroll    = "insufficient_bankroll"
)

// Config son los límites del governor.
type Config struct {
	DailyLossCapCents    int
	MaxConsecutiveLosses int
	Cooldown             time.Duration
	DailyTradeCap        int
	CycleTradeCap        int
	CategoryCapCents     int
}

// Store persiste el RiskState entre procesos.
type Store interface {
	WriteRiskState(rs *domain.RiskState) error
	ReadRiskState() (rs *domain.RiskState, ok bool, err error)
}

// Governor es propiedad exclusiva del loop: sin locks, una goroutine lo toca.
type Governor struct {
	cfg        Config
	state      *domain.RiskState
	store      Store
	journal    ports.TradeJournal
	alerts     ports.AlertSink
	cycleCount int // trades aprobados en el ciclo actual
}

// New carga el estado persistido (o arranca limpio si nunca hubo) y aplica el
// rollover diario. Un snapshot corrupto es fatal: arrancar limpio olvidaría un
// breaker cortado o las pérdidas del día, así que se levanta la alerta y se
// devuelve el error para que el proceso no entre al loop.
func New(cfg Config, store Store, jrnl ports.TradeJournal, alerts ports.AlertSink, now time.Time) (*Governor, error) {
	state, ok, err := store.ReadRiskState()
	if err != nil {
		if alerts != nil {
			if raiseErr := alerts.Raise(journal.AlertStateCorrupt, err.Error()); raiseErr != nil {
				slog.Error("failed to raise alert", "alert", journal.AlertStateCorrupt, "err", raiseErr)
			}
		}
		return nil, fmt.Errorf("risk.New: %w", err)
	}
	if !ok {
		state = domain.NewRiskState(now)
		slog.Info("risk state initialized clean", "day", state.Day)
	} else {
		slog.Info("risk state restored",
			"phase", state.Phase,
			"consecutive_losses", state.ConsecutiveLosses,
			"daily_pnl_cents", state.DailyPnLCents,
		)
	}
	g := &Governor{cfg: cfg, state: state, store: store, journal: jrnl, alerts: alerts}
	if state.Rollover(now) {
		g.persist()
	}
	return g, nil
}

// State expone el estado actual (solo lectura para el health snapshot).
func (g *Governor) State() domain.RiskState {
	return *g.state
}

// BeginCycle resetea el contador por ciclo, aplica el rollover de medianoche
// y libera el cooldown del breaker si venció.
func (g *Governor) BeginCycle(now time.Time) {
	g.cycleCount = 0
	changed := g.state.Rollover(now)
	if g.state.ReleaseExpiredCooldown(now) {
		g.recordRelease(domain.ReleaseCooldown, now)
		changed = true
	}
	if changed {
		g.persist()
	}
}

// Approve aplica los límites en orden. Devuelve "" si la decisión pasa.
func (g *Governor) Approve(d domain.Decision, cashCents int, now time.Time) string {
	// 1. Daily loss stop.
	if g.state.DailyPnLCents <= -g.cfg.DailyLossCapCents {
		if g.state.Phase == domain.PhaseNormal {
			g.state.HaltForDay(now)
			g.persist()
			g.raise(journal.AlertDailyHalt, fmt.Sprintf(
				"daily loss %d¢ reached cap %d¢, halted until UTC midnight",
				-g.state.DailyPnLCents, g.cfg.DailyLossCapCents))
			slog.Warn("daily loss cap reached, halting for day",
				"daily_pnl_cents", g.state.DailyPnLCents, "cap_cents", g.cfg.DailyLossCapCents)
		}
		return RejectDailyLoss
	}
	if g.state.Phase == domain.PhaseHaltedForDay {
		return RejectHalted
	}

	// 2. Caps de conteo por ciclo y por día.
	if g.cfg.CycleTradeCap > 0 && g.cycleCount >= g.cfg.CycleTradeCap {
		return RejectCycleCap
	}
	if g.cfg.DailyTradeCap > 0 && g.state.TradesToday >= g.cfg.DailyTradeCap {
		return RejectDailyCap
	}

	// 3. Exposición por categoría (asset + hora de expiry).
	cat := domain.Category(d.Contract.Asset, d.Contract.Expiry)
	if g.cfg.CategoryCapCents > 0 && g.state.Exposure[cat]+d.CostCents() > g.cfg.CategoryCapCents {
		return RejectCategoryCap
	}

	// 4. Circuit breaker y halt manual.
	if g.state.ManualHalt {
		return RejectManualHalt
	}
	if g.state.Phase == domain.PhaseTripped {
		return RejectBreaker
	}

	// 5. Bankroll.
	if d.CostCents() > cashCents {
		return RejectBankroll
	}
	return ""
}

// RecordOpen registra una orden aprobada y enviada contra los contadores.
func (g *Governor) RecordOpen(d domain.Decision, now time.Time) {
	g.cycleCount++
	g.state.RecordOpen(d.Contract.Asset, d.Contract.Expiry, d.CostCents(), now)
	g.persist()
}

// RecordSettlement alimenta el resultado al streak y al PnL diario.
// Dispara el breaker al cruzar el umbral; una victoria lo libera.
func (g *Governor) RecordSettlement(s domain.Settlement, now time.Time) {
	wasTripped := g.state.Phase == domain.PhaseTripped

	g.state.ReleaseExposure(s.Asset, s.Expiry, s.EntryCents*s.Contracts)
	tripped := g.state.RecordSettlement(s.Won, s.PnLCents, g.cfg.MaxConsecutiveLosses, g.cfg.Cooldown, now)

	if tripped {
		g.recordTrigger(now)
	} else if wasTripped && s.Won {
		g.recordRelease(domain.ReleaseWin, now)
	}
	g.persist()
}

// RecordExit alimenta el PnL realizado de una salida anticipada: libera la
// exposición de los contratos vendidos y cuenta contra el PnL diario y el
// streak. Una salida ganadora no libera el breaker (eso pide un settlement
// ganador), pero una racha de stops sí puede cortarlo.
func (g *Governor) RecordExit(asset domain.Asset, expiry time.Time, costCents, pnlCents int, now time.Time) {
	g.state.ReleaseExposure(asset, expiry, costCents)
	if g.state.RecordExit(pnlCents, g.cfg.MaxConsecutiveLosses, g.cfg.Cooldown, now) {
		g.recordTrigger(now)
	}
	g.persist()
}

func (g *Governor) recordTrigger(now time.Time) {
	g.journal.AppendBreakerEvent(domain.BreakerEvent{
		Timestamp: now.UTC(),
		Type:      "trigger",
		Threshold: g.cfg.MaxConsecutiveLosses,
		Streak:    g.state.ConsecutiveLosses,
	})
	g.raise(journal.AlertBreakerTripped, fmt.Sprintf(
		"circuit breaker tripped after %d consecutive losses", g.state.ConsecutiveLosses))
	slog.Warn("circuit breaker tripped",
		"streak", g.state.ConsecutiveLosses,
		"cooldown_until", g.state.CooldownUntil,
	)
}

// ReleaseManual limpia el breaker y el halt manual por intervención del operador.
func (g *Governor) ReleaseManual(now time.Time) {
	wasTripped := g.state.Phase == domain.PhaseTripped
	g.state.ReleaseManually(now)
	if wasTripped {
		g.recordRelease(domain.ReleaseManual, now)
	}
	g.persist()
}

func (g *Governor) recordRelease(reason domain.ReleaseReason, now time.Time) {
	g.journal.AppendBreakerEvent(domain.BreakerEvent{
		Timestamp:       now.UTC(),
		Type:            "release",
		Reason:          reason,
		DurationSeconds: g.state.TrippedDuration(now).Seconds(),
	})
	if g.alerts != nil {
		g.alerts.Clear(journal.AlertBreakerTripped)
	}
	slog.Info("circuit breaker released", "reason", reason)
}

func (g *Governor) raise(name, msg string) {
	if g.alerts == nil {
		return
	}
	if err := g.alerts.Raise(name, msg); err != nil {
		slog.Error("failed to raise alert", "alert", name, "err", err)
	}
}

func (g *Governor) persist() {
	if err := g.store.WriteRiskState(g.state); err != nil {
		slog.Error("failed to persist risk state", "err", err)
	}
}
