package analyze

// volcalib.go — calibración de la σ configurada contra la realizada.
//
// Lee los caches OHLC de disco (los mismos archivos que escribe el oracle),
// calcula la σ horaria realizada sobre 7 y 30 días y la compara con la σ
// configurada por asset. Desviación > 20% en cualquiera de las dos ventanas
// dispara el alert de calibración con la σ recomendada.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/journal"
)

// deviationLimit es la divergencia tolerada antes de alertar.
const deviationLimit = 0.20

// VolCalibAsset es la calibración de un asset.
type VolCalibAsset struct {
	Asset       string  `json:"asset"`
	Configured  float64 `json:"configured_sigma"`
	Realized7d  float64 `json:"realized_7d"`
	Realized30d float64 `json:"realized_30d"`
	Deviation7d float64 `json:"deviation_7d"` // (realizada − configurada) / configurada
	Recommended float64 `json:"recommended_sigma"`
	Flagged     bool    `json:"flagged"`
}

// VolCalibReport es el payload del reporte.
type VolCalibReport struct {
	Assets []VolCalibAsset `json:"assets"`
}

// ohlcCache refleja el formato en disco del cache del oracle. Se redeclara
// aquí para que el analizador siga siendo un lector puro de archivos.
type ohlcCache struct {
	Asset   string          `json:"asset"`
	Candles []domain.Candle `json:"candles"`
}

// VolCalibration compara σ realizada contra configurada por asset.
func VolCalibration(opts Options, sigmas map[string]float64, now time.Time) (*Report, error) {
	files, err := filepath.Glob(filepath.Join(opts.OHLCDir, "*-ohlc.json"))
	if err != nil {
		return nil, fmt.Errorf("analyze.VolCalibration: glob %q: %w", opts.OHLCDir, err)
	}

	rep := &VolCalibReport{}
	var flagged []VolCalibAsset
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cache ohlcCache
		if err := json.Unmarshal(data, &cache); err != nil || len(cache.Candles) < 2 {
			continue
		}
		asset := strings.ToUpper(cache.Asset)
		configured := sigmas[asset]
		if configured <= 0 {
			continue
		}

		a := VolCalibAsset{
			Asset:       asset,
			Configured:  configured,
			Realized7d:  domain.RealizedHourlyVol(tail(cache.Candles, now, 7*24*time.Hour)),
			Realized30d: domain.RealizedHourlyVol(tail(cache.Candles, now, 30*24*time.Hour)),
		}
		if a.Realized7d <= 0 {
			continue
		}
		a.Deviation7d = (a.Realized7d - configured) / configured
		a.Recommended = a.Realized7d
		dev30 := (a.Realized30d - configured) / configured
		a.Flagged = abs(a.Deviation7d) > deviationLimit ||
			(a.Realized30d > 0 && abs(dev30) > deviationLimit)

		rep.Assets = append(rep.Assets, a)
		if a.Flagged {
			flagged = append(flagged, a)
		}
	}
	if len(rep.Assets) == 0 {
		return nil, ErrNoData
	}
	sort.Slice(rep.Assets, func(i, j int) bool { return rep.Assets[i].Asset < rep.Assets[j].Asset })

	out := &Report{
		Name:        "volcalib",
		GeneratedAt: now.UTC(),
		WindowDays:  opts.Days,
		Data:        rep,
		Headers:     []string{"Asset", "Configured σ", "Realized 7d", "Realized 30d", "Deviation", "Recommended"},
	}
	for _, a := range rep.Assets {
		out.Rows = append(out.Rows, []string{a.Asset,
			fmt.Sprintf("%.4f", a.Configured), fmt.Sprintf("%.4f", a.Realized7d),
			fmt.Sprintf("%.4f", a.Realized30d), fmt.Sprintf("%+.0f%%", a.Deviation7d*100),
			fmt.Sprintf("%.4f", a.Recommended)})
	}

	if len(flagged) > 0 {
		var parts []string
		for _, a := range flagged {
			parts = append(parts, fmt.Sprintf("%s realized %.4f vs configured %.4f (%+.0f%%), recommended sigma %.4f",
				a.Asset, a.Realized7d, a.Configured, a.Deviation7d*100, a.Recommended))
		}
		out.Alert = &Alert{
			Name:    journal.AlertVolCalibration,
			Message: strings.Join(parts, "; "),
		}
	}
	return out, nil
}

// tail devuelve las velas cuya apertura cae dentro de la ventana.
func tail(candles []domain.Candle, now time.Time, window time.Duration) []domain.Candle {
	cutoff := now.Add(-window).UnixMilli()
	for i, c := range candles {
		if c.OpenTime >= cutoff {
			return candles[i:]
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
