package domain

import (
	"fmt"
	"math"
	"time"
)

// Candle es una vela OHLC horaria. OpenTime en milisegundos UTC,
// como la devuelve el feed público.
type Candle struct {
	OpenTime int64   `json:"openTime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
}

// OpenedAt devuelve el instante de apertura de la vela.
func (c Candle) OpenedAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// ValidateCandles verifica que la serie tenga openTime estrictamente creciente
// y sin huecos respecto al intervalo dado.
func ValidateCandles(candles []Candle, interval time.Duration) error {
	step := interval.Milliseconds()
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].OpenTime, candles[i].OpenTime
		if cur <= prev {
			return fmt.Errorf("domain.ValidateCandles: openTime no monótono en índice %d (%d → %d)", i, prev, cur)
		}
		if cur-prev != step {
			return fmt.Errorf("domain.ValidateCandles: hueco de %dms en índice %d", cur-prev, i)
		}
	}
	return nil
}

// CloseAt busca el precio de cierre de la vela que cierra exactamente en at:
// la vela cuyo openTime es at − interval.
func CloseAt(candles []Candle, at time.Time, interval time.Duration) (float64, bool) {
	want := at.UTC().Add(-interval).UnixMilli()
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].OpenTime == want {
			return candles[i].Close, true
		}
		if candles[i].OpenTime < want {
			break
		}
	}
	return 0, false
}

// RealizedHourlyVol calcula la desviación estándar de los log-returns
// horarios de cierre a cierre sobre la serie dada.
// Devuelve 0 si hay menos de 2 velas.
func RealizedHourlyVol(candles []Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// TailCandles devuelve las últimas n velas (o todas si hay menos).
func TailCandles(candles []Candle, n int) []Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
