package model

// model.go — modelo log-normal sin drift para contratos binarios horarios.
//
// Bajo el supuesto de retornos log-normales con media cero y volatilidad
// horaria σ, la probabilidad de que el spot cierre por encima del strike en
// T horas es:
//
//	z      = ln(K/S) / (σ·√T)
//	P(YES) = 1 − Φ(z)
//
// El precio justo en centavos es 100·P redondeado half-to-even y acotado a
// [1, 99]: un binario nunca vale exactamente 0 ni 100 antes del cierre.

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// ProbAbove devuelve P(S_T > K) para spot S, strike K, vol horaria sigma y
// horizonte en horas.
func ProbAbove(spot, strike, sigma, hours float64) (float64, error) {
	if spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("model.ProbAbove: spot=%v strike=%v must be positive", spot, strike)
	}
	if sigma <= 0 {
		return 0, fmt.Errorf("model.ProbAbove: sigma=%v must be positive", sigma)
	}
	if hours <= 0 {
		// Expirado: el resultado es determinista. Empates van a NO.
		if spot > strike {
			return 1, nil
		}
		return 0, nil
	}

	z := math.Log(strike/spot) / (sigma * math.Sqrt(hours))
	return phiComplement(z), nil
}

// FairCents convierte una probabilidad a centavos: round-half-to-even y
// clamp a [1, 99].
func FairCents(prob float64) int {
	cents := int(math.RoundToEven(100 * prob))
	if cents < 1 {
		return 1
	}
	if cents > 99 {
		return 99
	}
	return cents
}

// Value valora un contrato a partir del spot observado.
func Value(c domain.Contract, spot, sigma float64, spotStale bool, now time.Time) (domain.Valuation, error) {
	prob, err := ProbAbove(spot, c.Strike, sigma, c.HoursToExpiry(now))
	if err != nil {
		return domain.Valuation{}, fmt.Errorf("model.Value: %s: %w", c.Ticker, err)
	}
	return domain.Valuation{
		Contract:  c,
		Spot:      spot,
		Sigma:     sigma,
		ProbYes:   prob,
		FairYes:   FairCents(prob),
		ValuedAt:  now.UTC(),
		SpotStale: spotStale,
	}, nil
}

// phiComplement es 1 − Φ(z), la cola superior de la normal estándar.
// Via erfc evita la cancelación de 1−Φ para z grande.
func phiComplement(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}
