package binancefeed

// feed.go — fuente pública de spot y velas horarias via Binance spot REST.
// Implementa ports.PriceFeed.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

const maxKlinesLimit = 1000

var symbols = map[domain.Asset]string{
	domain.AssetBTC: "BTCUSDT",
	domain.AssetETH: "ETHUSDT",
}

// Feed envuelve el cliente spot de Binance.
type Feed struct {
	client *binance.Client
}

// New crea un Feed. base vacío usa la URL de producción.
func New(base string, timeout time.Duration) *Feed {
	client := binance.NewClient("", "") // endpoints públicos, sin credenciales
	if base != "" {
		client.BaseURL = strings.TrimRight(base, "/")
	}
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return &Feed{client: client}
}

// Spot devuelve el precio spot actual del asset.
func (f *Feed) Spot(ctx context.Context, asset domain.Asset) (float64, time.Time, error) {
	symbol, ok := symbols[asset]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("binancefeed.Spot: no symbol for asset %s", asset)
	}

	prices, err := f.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("binancefeed.Spot: %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, time.Time{}, fmt.Errorf("binancefeed.Spot: empty response for %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, time.Time{}, fmt.Errorf("binancefeed.Spot: bad price %q for %s", prices[0].Price, symbol)
	}
	return price, time.Now().UTC(), nil
}

// Candles devuelve hasta limit velas horarias cerradas, ordenadas por openTime.
func (f *Feed) Candles(ctx context.Context, asset domain.Asset, limit int) ([]domain.Candle, error) {
	symbol, ok := symbols[asset]
	if !ok {
		return nil, fmt.Errorf("binancefeed.Candles: no symbol for asset %s", asset)
	}
	if limit <= 0 || limit > maxKlinesLimit {
		limit = maxKlinesLimit
	}

	klines, err := f.client.NewKlinesService().
		Symbol(symbol).
		Interval("1h").
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binancefeed.Candles: %s: %w", symbol, err)
	}

	now := time.Now().UTC().UnixMilli()
	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		// Descartar la vela en curso: solo cierres definitivos.
		if k.CloseTime >= now {
			continue
		}
		candles = append(candles, domain.Candle{
			OpenTime: k.OpenTime,
			Open:     parseF(k.Open),
			High:     parseF(k.High),
			Low:      parseF(k.Low),
			Close:    parseF(k.Close),
		})
	}
	return candles, nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
