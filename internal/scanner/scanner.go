package scanner

// scanner.go — enumeración y filtrado de contratos horarios candidatos.
//
// Una pasada por ciclo: lista los mercados abiertos de las series
// configuradas, descarta lo no operable y entrega candidatos deduplicados
// al evaluador. El scanner no opina sobre valor — eso es del evaluador.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// FilterConfig contiene los parámetros configurables de filtrado.
type FilterConfig struct {
	// Assets son los activos habilitados.
	Assets []domain.Asset
	// ExpiryWindow descarta contratos que expiran más allá de esta ventana.
	ExpiryWindow time.Duration
	// MinToExpiry descarta contratos demasiado cerca del cierre.
	MinToExpiry time.Duration
	// RequireDepth si true exige volumen u open interest > 0.
	RequireDepth bool
}

// DefaultFilterConfig devuelve una configuración conservadora.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Assets:       []domain.Asset{domain.AssetBTC, domain.AssetETH},
		ExpiryWindow: 2 * time.Hour,
		MinToExpiry:  5 * time.Minute,
		RequireDepth: true,
	}
}

// Summary resume una pasada del scanner, para el log por ciclo y el health.
type Summary struct {
	Fetched    int
	Candidates int
	Dropped    map[string]int // razón → conteo
	Elapsed    time.Duration
}

// Scanner enumera candidatos desde un MarketProvider.
type Scanner struct {
	provider ports.MarketProvider
	cfg      FilterConfig
}

// New crea un Scanner con la configuración dada.
func New(provider ports.MarketProvider, cfg FilterConfig) *Scanner {
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultFilterConfig().Assets
	}
	return &Scanner{provider: provider, cfg: cfg}
}

// Scan devuelve los candidatos operables de este ciclo, ordenados por expiry
// y ticker para que el procesamiento posterior sea determinista.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Quote, Summary, error) {
	start := time.Now()

	quotes, err := s.provider.FetchHourlyQuotes(ctx, s.cfg.Assets)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("scanner.Scan: fetch: %w", err)
	}

	summary := Summary{Fetched: len(quotes), Dropped: map[string]int{}}
	now := time.Now().UTC()

	// Dedupe por ticker: el provider pagina y un mercado puede repetirse en
	// el borde de página. Gana la observación más reciente.
	byTicker := make(map[string]domain.Quote, len(quotes))
	for _, q := range quotes {
		if reason := s.drop(q, now); reason != "" {
			summary.Dropped[reason]++
			continue
		}
		if prev, ok := byTicker[q.Contract.Ticker]; ok && !q.ObservedAt.After(prev.ObservedAt) {
			summary.Dropped["duplicate"]++
			continue
		}
		byTicker[q.Contract.Ticker] = q
	}

	candidates := make([]domain.Quote, 0, len(byTicker))
	for _, q := range byTicker {
		candidates = append(candidates, q)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i].Contract, candidates[j].Contract
		if !ci.Expiry.Equal(cj.Expiry) {
			return ci.Expiry.Before(cj.Expiry)
		}
		return ci.Ticker < cj.Ticker
	})

	summary.Candidates = len(candidates)
	summary.Elapsed = time.Since(start)

	slog.Info("scan complete",
		"fetched", summary.Fetched,
		"candidates", summary.Candidates,
		"dropped", summary.Dropped,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return candidates, summary, nil
}

// drop devuelve la razón de descarte, o "" si la quote es candidata.
func (s *Scanner) drop(q domain.Quote, now time.Time) string {
	if !s.assetEnabled(q.Contract.Asset) {
		return "asset"
	}
	toExpiry := q.Contract.Expiry.Sub(now)
	if toExpiry <= 0 {
		return "expired"
	}
	if s.cfg.ExpiryWindow > 0 && toExpiry > s.cfg.ExpiryWindow {
		return "beyond_window"
	}
	if s.cfg.MinToExpiry > 0 && toExpiry < s.cfg.MinToExpiry {
		return "too_close"
	}
	if s.cfg.RequireDepth && q.Volume == 0 && q.OpenInt == 0 {
		return "no_depth"
	}
	if !q.Tradable() {
		return "untradable"
	}
	return ""
}

func (s *Scanner) assetEnabled(a domain.Asset) bool {
	for _, enabled := range s.cfg.Assets {
		if a == enabled {
			return true
		}
	}
	return false
}
