package kalshi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Series horarias de "cierra por encima de" por asset.
var hourlySeries = map[domain.Asset]string{
	domain.AssetBTC: "KXBTCD",
	domain.AssetETH: "KXETHD",
}

const marketsPageLimit = 200

// FetchHourlyQuotes lista los contratos binarios horarios abiertos de los
// assets dados y devuelve una quote por contrato. Implementa ports.MarketProvider.
func (c *Client) FetchHourlyQuotes(ctx context.Context, assets []domain.Asset) ([]domain.Quote, error) {
	var quotes []domain.Quote
	for _, asset := range assets {
		series, ok := hourlySeries[asset]
		if !ok {
			return nil, fmt.Errorf("kalshi.FetchHourlyQuotes: no series for asset %s", asset)
		}
		assetQuotes, err := c.fetchSeriesQuotes(ctx, asset, series)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, assetQuotes...)
	}
	return quotes, nil
}

// fetchSeriesQuotes pagina /markets hasta agotar el cursor.
func (c *Client) fetchSeriesQuotes(ctx context.Context, asset domain.Asset, series string) ([]domain.Quote, error) {
	var quotes []domain.Quote
	cursor := ""
	for {
		query := url.Values{}
		query.Set("series_ticker", series)
		query.Set("status", "open")
		query.Set("limit", strconv.Itoa(marketsPageLimit))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp marketsResponse
		if err := c.get(ctx, SourceScanner, "kalshi.ListMarkets", "/markets", query, &resp); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		for _, m := range resp.Markets {
			q, ok := mapMarket(m, asset, now)
			if !ok {
				continue
			}
			quotes = append(quotes, q)
		}

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			return quotes, nil
		}
		cursor = resp.Cursor
	}
}

// FetchQuote devuelve la quote actual de un ticker concreto.
func (c *Client) FetchQuote(ctx context.Context, ticker string) (domain.Quote, error) {
	var resp marketResponse
	path := "/markets/" + ticker
	if err := c.get(ctx, SourceScanner, "kalshi.GetMarket", path, nil, &resp); err != nil {
		return domain.Quote{}, err
	}

	asset, err := assetForTicker(resp.Market.Ticker)
	if err != nil {
		return domain.Quote{}, err
	}
	q, ok := mapMarket(resp.Market, asset, time.Now().UTC())
	if !ok {
		return domain.Quote{}, fmt.Errorf("kalshi.FetchQuote: market %s is not a tradable binary", ticker)
	}
	return q, nil
}

// mapMarket convierte un mercado del wire a domain.Quote.
// Descarta no-binarios y mercados sin precio operable.
func mapMarket(m wireMarket, asset domain.Asset, now time.Time) (domain.Quote, bool) {
	if m.MarketType != "" && m.MarketType != "binary" {
		return domain.Quote{}, false
	}
	if m.FloorStrike <= 0 || m.CloseTime.IsZero() {
		return domain.Quote{}, false
	}
	q := domain.Quote{
		Contract: domain.Contract{
			Ticker: m.Ticker,
			Asset:  asset,
			Strike: m.FloorStrike,
			Expiry: m.CloseTime.UTC(),
		},
		YesBid:     m.YesBid,
		YesAsk:     m.YesAsk,
		Volume:     m.Volume,
		OpenInt:    m.OpenInterest,
		ObservedAt: now,
	}
	if !q.Tradable() {
		return domain.Quote{}, false
	}
	return q, true
}

// assetForTicker deduce el asset desde el prefijo de serie del ticker.
func assetForTicker(ticker string) (domain.Asset, error) {
	for asset, series := range hourlySeries {
		if len(ticker) >= len(series) && ticker[:len(series)] == series {
			return asset, nil
		}
	}
	return "", fmt.Errorf("kalshi.assetForTicker: unknown series in ticker %q", ticker)
}
