package oracle

// oracle.go — spot y OHLC con reglas de frescura.
//
// Spot: cache en memoria ≤10s por asset.
// OHLC: cache en disco por asset (data/ohlc/<asset>-ohlc.json), refresco si
// la edad supera 24h, reescritura atómica (temp + rename). Si el fetch falla
// se sirve el cache viejo marcado stale y el caller decide.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	spotTTL    = 10 * time.Second
	ohlcTTL    = 24 * time.Hour
	ohlcWindow = 24 * 31 // velas horarias retenidas: ~31 días
	ohlcSource = "binance"
)

// cacheFile es el formato en disco del cache OHLC por asset.
type cacheFile struct {
	Asset       domain.Asset    `json:"asset"`
	Source      string          `json:"source"`
	RefreshedAt time.Time       `json:"refreshed_at"`
	Candles     []domain.Candle `json:"candles"`
}

type spotEntry struct {
	price      float64
	observedAt time.Time
}

// Oracle implementa ports.Oracle sobre un PriceFeed con cache.
type Oracle struct {
	feed ports.PriceFeed
	dir  string // directorio del cache OHLC

	mu    sync.Mutex
	spots map[domain.Asset]spotEntry
	ohlc  map[domain.Asset]cacheFile // copia en memoria de lo último leído/escrito
}

// New crea un Oracle con el cache OHLC bajo dir.
func New(feed ports.PriceFeed, dir string) (*Oracle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("oracle.New: mkdir %q: %w", dir, err)
	}
	return &Oracle{
		feed:  feed,
		dir:   dir,
		spots: make(map[domain.Asset]spotEntry),
		ohlc:  make(map[domain.Asset]cacheFile),
	}, nil
}

// Spot devuelve el spot del asset, cacheado hasta 10s.
// stale=true cuando el fetch falló y se devuelve la última observación vieja.
func (o *Oracle) Spot(ctx context.Context, asset domain.Asset) (float64, time.Time, bool, error) {
	o.mu.Lock()
	cached, ok := o.spots[asset]
	o.mu.Unlock()

	now := time.Now().UTC()
	if ok && now.Sub(cached.observedAt) <= spotTTL {
		return cached.price, cached.observedAt, false, nil
	}

	price, observedAt, err := o.feed.Spot(ctx, asset)
	if err != nil {
		if ok {
			slog.Warn("oracle: spot fetch failed, serving stale", "asset", asset, "age", now.Sub(cached.observedAt), "err", err)
			return cached.price, cached.observedAt, true, nil
		}
		return 0, time.Time{}, false, fmt.Errorf("oracle.Spot: %s: %w", asset, err)
	}

	o.mu.Lock()
	o.spots[asset] = spotEntry{price: price, observedAt: observedAt}
	o.mu.Unlock()
	return price, observedAt, false, nil
}

// OHLC devuelve la serie horaria del asset. Refresca desde el feed cuando el
// cache en disco supera las 24h; si el refetch falla sirve el cache con stale=true.
func (o *Oracle) OHLC(ctx context.Context, asset domain.Asset) ([]domain.Candle, bool, error) {
	cached, haveCache := o.loadCache(asset)

	now := time.Now().UTC()
	if haveCache && now.Sub(cached.RefreshedAt) <= ohlcTTL {
		return cached.Candles, false, nil
	}

	refreshed, err := o.Refresh(ctx, asset)
	if err != nil {
		if haveCache {
			slog.Warn("oracle: ohlc refresh failed, serving stale cache",
				"asset", asset, "age", now.Sub(cached.RefreshedAt), "err", err)
			return cached.Candles, true, nil
		}
		return nil, false, fmt.Errorf("oracle.OHLC: %s: %w", asset, err)
	}
	return refreshed, false, nil
}

// Refresh fuerza un refetch del OHLC y reescribe el cache atómicamente.
func (o *Oracle) Refresh(ctx context.Context, asset domain.Asset) ([]domain.Candle, error) {
	candles, err := o.feed.Candles(ctx, asset, ohlcWindow)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateCandles(candles, time.Hour); err != nil {
		return nil, fmt.Errorf("oracle.Refresh: feed returned bad series: %w", err)
	}

	cf := cacheFile{
		Asset:       asset,
		Source:      ohlcSource,
		RefreshedAt: time.Now().UTC(),
		Candles:     candles,
	}
	if err := o.writeCache(asset, cf); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.ohlc[asset] = cf
	o.mu.Unlock()

	slog.Debug("oracle: ohlc cache refreshed", "asset", asset, "candles", len(candles))
	return candles, nil
}

// ClosePrice devuelve el cierre autoritativo de la vela que termina en at.
// Refresca el cache si la vela pedida todavía no está en la serie.
func (o *Oracle) ClosePrice(ctx context.Context, asset domain.Asset, at time.Time) (float64, error) {
	candles, _, err := o.OHLC(ctx, asset)
	if err != nil {
		return 0, err
	}
	if price, ok := domain.CloseAt(candles, at, time.Hour); ok {
		return price, nil
	}

	// La vela puede haber cerrado después del último refresh.
	candles, err = o.Refresh(ctx, asset)
	if err != nil {
		return 0, fmt.Errorf("oracle.ClosePrice: refresh for %s@%s: %w", asset, at.Format(time.RFC3339), err)
	}
	if price, ok := domain.CloseAt(candles, at, time.Hour); ok {
		return price, nil
	}
	return 0, fmt.Errorf("oracle.ClosePrice: no candle closing at %s for %s", at.Format(time.RFC3339), asset)
}

// --- cache en disco ---

func (o *Oracle) cachePath(asset domain.Asset) string {
	return filepath.Join(o.dir, strings.ToLower(string(asset))+"-ohlc.json")
}

// loadCache devuelve el cache del asset, de memoria o de disco.
func (o *Oracle) loadCache(asset domain.Asset) (cacheFile, bool) {
	o.mu.Lock()
	if cf, ok := o.ohlc[asset]; ok {
		o.mu.Unlock()
		return cf, true
	}
	o.mu.Unlock()

	data, err := os.ReadFile(o.cachePath(asset))
	if err != nil {
		return cacheFile{}, false
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil || len(cf.Candles) == 0 {
		slog.Warn("oracle: discarding unreadable ohlc cache", "asset", asset, "err", err)
		return cacheFile{}, false
	}

	o.mu.Lock()
	o.ohlc[asset] = cf
	o.mu.Unlock()
	return cf, true
}

// writeCache escribe a un temp del mismo directorio y renombra.
// El rename atómico evita lecturas rotas de los analizadores.
func (o *Oracle) writeCache(asset domain.Asset, cf cacheFile) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("oracle.writeCache: marshal: %w", err)
	}

	path := o.cachePath(asset)
	tmp, err := os.CreateTemp(o.dir, "ohlc-*.tmp")
	if err != nil {
		return fmt.Errorf("oracle.writeCache: temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("oracle.writeCache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("oracle.writeCache: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("oracle.writeCache: rename: %w", err)
	}
	return nil
}
