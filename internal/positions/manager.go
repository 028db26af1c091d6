package positions

// manager.go — barrido de posiciones abiertas: stops, trailing y salida por tiempo.
//
// El manager es dueño de las posiciones entre la ejecución y el cierre (por
// salida anticipada o por expiry). Cada ciclo refresca la quote de cada
// contrato, actualiza pico y drawdown y decide si toca salir. Las salidas se
// devuelven como intenciones; quien llama ejecuta la venta y confirma.

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Config son los umbrales de salida.
type Config struct {
	StopLossPct        float64       // pérdida desde entrada que fuerza el stop, ej. 0.40
	TrailActivationPct float64       // ganancia que arma el trailing, ej. 0.30
	TrailGapCents      int           // distancia del piso al pico
	MaxHolding         time.Duration // edad máxima de una posición no rentable
}

// Exit es la intención de cerrar una posición este ciclo.
type Exit struct {
	Position   domain.Position
	Reason     domain.ExitReason
	PriceCents int // bid actual del lado en cartera: precio de salida realista
}

// Manager mantiene las posiciones abiertas. Solo lo toca la goroutine del loop.
type Manager struct {
	provider ports.MarketProvider
	journal  ports.TradeJournal
	cfg      Config

	open map[string]*domain.Position // decision ID → posición
}

// NewManager crea un Manager vacío.
func NewManager(provider ports.MarketProvider, jrnl ports.TradeJournal, cfg Config) *Manager {
	return &Manager{
		provider: provider,
		journal:  jrnl,
		cfg:      cfg,
		open:     make(map[string]*domain.Position),
	}
}

// Open registra una posición desde un trade ejecutado.
func (m *Manager) Open(rec domain.TradeRecord) {
	if rec.OrderStatus != domain.OrderExecuted || rec.FilledCount == 0 {
		return
	}
	p := domain.NewPosition(rec.DecisionID, domain.Contract{
		Ticker: rec.Ticker,
		Asset:  rec.Asset,
		Strike: rec.Strike,
		Expiry: rec.Expiry,
	}, rec.Side, rec.PriceCents, rec.FilledCount, rec.Timestamp)
	m.open[rec.DecisionID] = &p
}

// Count devuelve el número de posiciones abiertas.
func (m *Manager) Count() int { return len(m.open) }

// Sweep refresca precios y devuelve las posiciones que deben cerrarse,
// ordenadas por decision ID para que el ciclo sea determinista.
func (m *Manager) Sweep(ctx context.Context, now time.Time) []Exit {
	var exits []Exit
	for id, p := range m.open {
		if p.Contract.Expired(now) {
			// El settlement sweep resuelve las expiradas; aquí solo se sueltan.
			delete(m.open, id)
			continue
		}

		q, err := m.provider.FetchQuote(ctx, p.Contract.Ticker)
		if err != nil {
			slog.Warn("position quote refresh failed", "ticker", p.Contract.Ticker, "err", err)
			continue
		}
		m.observe(p, q)

		if reason, ok := m.shouldExit(p, now); ok {
			exits = append(exits, Exit{
				Position:   *p,
				Reason:     reason,
				PriceCents: q.BidFor(p.Side),
			})
		}
	}
	sort.Slice(exits, func(i, j int) bool {
		return exits[i].Position.DecisionID < exits[j].Position.DecisionID
	})
	return exits
}

// observe actualiza precio, pico y trailing con la quote fresca.
// El valor de la posición es el bid del lado en cartera (lo realizable),
// convertido a precio YES que es lo que trackea Position.
func (m *Manager) observe(p *domain.Position, q domain.Quote) {
	yesPrice := q.BidFor(domain.SideYes)
	if p.Side == domain.SideNo {
		// Vender NO casa contra el ask YES: el precio YES relevante es el ask.
		yesPrice = q.YesAsk
	}
	p.ObservePrice(yesPrice)

	if !p.TrailArmed && m.cfg.TrailActivationPct > 0 && p.GainFraction() >= m.cfg.TrailActivationPct {
		p.ArmTrail(m.cfg.TrailGapCents)
		slog.Info("trailing take-profit armed",
			"ticker", p.Contract.Ticker,
			"gain", p.GainFraction(),
			"floor_yes", p.TrailFloor,
		)
	}
	p.UpdateTrail(m.cfg.TrailGapCents)
}

// shouldExit aplica las reglas de salida en orden: stop, trailing, tiempo.
func (m *Manager) shouldExit(p *domain.Position, now time.Time) (domain.ExitReason, bool) {
	if m.cfg.StopLossPct > 0 && p.GainFraction() <= -m.cfg.StopLossPct {
		return domain.ExitStopLoss, true
	}
	if p.TrailPierced() {
		return domain.ExitTakeProfit, true
	}
	if m.cfg.MaxHolding > 0 && p.Age(now) > m.cfg.MaxHolding && p.Value() < p.EntryCents {
		return domain.ExitTimeLimit, true
	}
	return "", false
}

// Confirm cierra la posición tras una salida ejecutada y registra la entrada
// en el stop-loss log para el análisis de eficacia.
func (m *Manager) Confirm(e Exit, exitCents int, now time.Time) {
	p := e.Position
	delete(m.open, p.DecisionID)
	m.logExit(p, e.Reason, exitCents, p.Contracts, now)

	slog.Info("position closed",
		"ticker", p.Contract.Ticker,
		"reason", e.Reason,
		"entry", p.EntryCents,
		"exit", exitCents,
		"contracts", p.Contracts,
	)
}

// Reduce cierra parcialmente la posición: la venta cruzó menos contratos de
// los pedidos. Los vendidos se registran; el residuo sigue abierto y el
// próximo barrido decide de nuevo.
func (m *Manager) Reduce(e Exit, filled, exitCents int, now time.Time) {
	p, ok := m.open[e.Position.DecisionID]
	if !ok || filled <= 0 {
		return
	}
	if filled >= p.Contracts {
		e.Position = *p
		m.Confirm(e, exitCents, now)
		return
	}
	p.Contracts -= filled
	m.logExit(e.Position, e.Reason, exitCents, filled, now)

	slog.Warn("exit partially filled, residual stays open",
		"ticker", p.Contract.Ticker,
		"reason", e.Reason,
		"filled", filled,
		"remaining", p.Contracts,
	)
}

func (m *Manager) logExit(p domain.Position, reason domain.ExitReason, exitCents, contracts int, now time.Time) {
	gain := 0.0
	if p.EntryCents > 0 {
		gain = float64(exitCents-p.EntryCents) / float64(p.EntryCents)
	}
	entry := domain.StopLossEntry{
		Timestamp:  now.UTC(),
		Type:       reason,
		DecisionID: p.DecisionID,
		Ticker:     p.Contract.Ticker,
		Asset:      p.Contract.Asset,
		Side:       p.Side,
		Strike:     p.Contract.Strike,
		Expiry:     p.Contract.Expiry,
		EntryCents: p.EntryCents,
		ExitCents:  exitCents,
		PeakCents:  p.PeakValue(),
		Contracts:  contracts,
		GainPct:    gain,
		AgeMinutes: p.Age(now).Minutes(),
	}
	if err := m.journal.AppendStopLoss(entry); err != nil {
		slog.Error("failed to append stop-loss entry", "err", err)
	}
}

// Release descarta la posición sin registrar salida (la venta no cruzó;
// se reintenta el próximo ciclo).
func (m *Manager) Release(e Exit) {
	// La posición sigue abierta: nada que hacer, el map no se tocó.
	slog.Warn("exit order did not fill, will retry",
		"ticker", e.Position.Contract.Ticker,
		"reason", e.Reason,
	)
}
