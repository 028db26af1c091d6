package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// PriceFeed es la fuente pública de spot y velas OHLC.
type PriceFeed interface {
	// Spot devuelve el precio spot actual del asset y el instante observado.
	Spot(ctx context.Context, asset domain.Asset) (float64, time.Time, error)

	// Candles devuelve hasta limit velas horarias ordenadas por openTime.
	Candles(ctx context.Context, asset domain.Asset, limit int) ([]domain.Candle, error)
}

// Oracle expone spot cacheado y OHLC con reglas de frescura.
type Oracle interface {
	// Spot devuelve el spot (cache ≤10s). stale=true si viene de un cache
	// vencido porque el fetch falló.
	Spot(ctx context.Context, asset domain.Asset) (price float64, observedAt time.Time, stale bool, err error)

	// OHLC devuelve la serie horaria cacheada en disco (refresco si >24h).
	OHLC(ctx context.Context, asset domain.Asset) (candles []domain.Candle, stale bool, err error)

	// ClosePrice devuelve el cierre autoritativo de la vela que termina en at.
	ClosePrice(ctx context.Context, asset domain.Asset, at time.Time) (float64, error)
}
