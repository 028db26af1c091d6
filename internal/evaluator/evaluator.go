package evaluator

// evaluator.go — del fair value a la decisión de trade.
//
// Para cada candidato calcula el edge de ambos lados contra el ask cotizado,
// elige el mejor y lo pasa por los umbrales configurados. El sizing es Kelly
// fraccional sobre el cash actual, con tope duro por trade.

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Skip reasons estables para el log y los tests.
const (
	SkipNoQuote      = "no_tradable_ask"
	SkipEdge         = "edge_below_min"
	SkipRiskReward   = "risk_reward_below_floor"
	SkipTooClose     = "too_close_to_expiry"
	SkipPriceBounds  = "ask_outside_bounds"
	SkipZeroContract = "position_size_zero"
)

// Config son los umbrales del evaluador.
type Config struct {
	MinEdge          float64 // fracción mínima de edge, ej. 0.10
	MinRiskReward    float64 // piso de (100−ask)/ask
	KellyFraction    float64 // multiplicador fraccional, ej. 0.25
	MaxTradeFraction float64 // tope de bankroll por trade, ej. 0.05
	MinPriceCents    int
	MaxPriceCents    int
	MinToExpiry      time.Duration
}

// Result es la salida por candidato: una Decision o una razón de skip.
type Result struct {
	Decision *domain.Decision
	Skip     string // vacío si hay Decision
	BestSide domain.Side
	BestEdge float64
}

// Evaluator aplica umbrales y sizing sobre candidatos ya valorados.
type Evaluator struct {
	cfg Config
}

// New crea un Evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate decide si el candidato merece una orden y de qué tamaño.
// cashCents es el bankroll disponible al momento de evaluar.
func (e *Evaluator) Evaluate(q domain.Quote, v domain.Valuation, cashCents int, now time.Time) Result {
	side, edge, ask := bestSide(q, v)
	res := Result{BestSide: side, BestEdge: edge}

	if ask <= 0 || ask >= 100 {
		res.Skip = SkipNoQuote
		return res
	}
	if edge < e.cfg.MinEdge {
		res.Skip = SkipEdge
		return res
	}
	if riskReward(ask) < e.cfg.MinRiskReward {
		res.Skip = SkipRiskReward
		return res
	}
	if q.Contract.Expiry.Sub(now) < e.cfg.MinToExpiry {
		res.Skip = SkipTooClose
		return res
	}
	if ask < e.cfg.MinPriceCents || ask > e.cfg.MaxPriceCents {
		res.Skip = SkipPriceBounds
		return res
	}

	fraction := e.stakeFraction(edge, ask)
	contracts := int(math.Floor(fraction * float64(cashCents) / float64(ask)))
	if contracts < 1 {
		res.Skip = SkipZeroContract
		return res
	}

	res.Decision = &domain.Decision{
		ID:            uuid.NewString(),
		Contract:      q.Contract,
		Side:          side,
		PriceCents:    ask,
		Contracts:     contracts,
		Edge:          edge,
		KellyFraction: fraction,
		Spot:          v.Spot,
		Sigma:         v.Sigma,
		DecidedAt:     now.UTC(),
	}

	slog.Debug("decision sized",
		"ticker", q.Contract.Ticker,
		"side", side,
		"ask", ask,
		"fair", v.FairFor(side),
		"edge", edge,
		"fraction", fraction,
		"contracts", contracts,
	)
	return res
}

// stakeFraction es Kelly fraccional: f·edge/(1 − ask/100), acotado a
// [0, MaxTradeFraction].
func (e *Evaluator) stakeFraction(edge float64, ask int) float64 {
	b := 1 - float64(ask)/100
	if b <= 0 {
		return 0
	}
	fraction := e.cfg.KellyFraction * edge / b
	if fraction < 0 {
		return 0
	}
	if fraction > e.cfg.MaxTradeFraction {
		return e.cfg.MaxTradeFraction
	}
	return fraction
}

// bestSide calcula el edge de ambos lados y devuelve el mayor.
// edge_s = (fair_s − ask_s) / ask_s.
func bestSide(q domain.Quote, v domain.Valuation) (domain.Side, float64, int) {
	yesAsk := q.AskFor(domain.SideYes)
	noAsk := q.AskFor(domain.SideNo)

	yesEdge := edgeFor(v.FairFor(domain.SideYes), yesAsk)
	noEdge := edgeFor(v.FairFor(domain.SideNo), noAsk)

	if yesEdge >= noEdge {
		return domain.SideYes, yesEdge, yesAsk
	}
	return domain.SideNo, noEdge, noAsk
}

func edgeFor(fair, ask int) float64 {
	if ask <= 0 {
		return math.Inf(-1)
	}
	return float64(fair-ask) / float64(ask)
}

// riskReward es el payoff potencial relativo a la pérdida potencial.
func riskReward(ask int) float64 {
	return float64(100-ask) / float64(ask)
}
