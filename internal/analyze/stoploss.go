package analyze

// stoploss.go — eficacia de las salidas anticipadas.
//
// Para cada salida registrada en stop-loss.log se reconstruye el
// contrafactual de haber aguantado hasta el expiry: con el cierre del cache
// OHLC se resuelve si el lado habría ganado (valor 100¢) o perdido (0¢) y se
// compara contra lo que de verdad se cobró al salir. Saved > 0 significa que
// la salida fue mejor que aguantar.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// StopLossOutcome es el contrafactual de una salida.
type StopLossOutcome struct {
	Ticker         string            `json:"ticker"`
	Type           domain.ExitReason `json:"type"`
	ExitCents      int               `json:"exit_cents"`
	HoldCents      int               `json:"hold_cents"` // 100 si habría ganado, 0 si no
	SavedPerCents  int               `json:"saved_per_contract_cents"`
	SavedCents     int               `json:"saved_cents"` // × contratos
	WouldHaveWon   bool              `json:"would_have_won"`
	ClosePrice     float64           `json:"close_price"`
	CloseAvailable bool              `json:"close_available"`
}

// StopLossReport es el payload del reporte.
type StopLossReport struct {
	Exits           int               `json:"exits"`
	Evaluated       int               `json:"evaluated"` // con cierre disponible
	GoodExits       int               `json:"good_exits"`
	BadExits        int               `json:"bad_exits"`
	TotalSavedCents int               `json:"total_saved_cents"`
	AvgSavedCents   float64           `json:"avg_saved_cents"`
	Outcomes        []StopLossOutcome `json:"outcomes"`
}

// StopLossEfficacy compara cada salida anticipada con aguantar a expiry.
func StopLossEfficacy(logs *Logs, opts Options, now time.Time) (*Report, error) {
	if len(logs.StopLoss) == 0 {
		return nil, ErrNoData
	}
	closes := loadCloses(opts.OHLCDir)

	rep := &StopLossReport{Exits: len(logs.StopLoss)}
	for _, e := range logs.StopLoss {
		o := StopLossOutcome{Ticker: e.Ticker, Type: e.Type, ExitCents: e.ExitCents}
		if candles, ok := closes[strings.ToUpper(string(e.Asset))]; ok {
			if price, found := domain.CloseAt(candles, e.Expiry, time.Hour); found {
				o.CloseAvailable = true
				o.ClosePrice = price
				o.WouldHaveWon = domain.SideWins(e.Side, price, e.Strike)
				if o.WouldHaveWon {
					o.HoldCents = 100
				}
				o.SavedPerCents = e.ExitCents - o.HoldCents
				o.SavedCents = o.SavedPerCents * e.Contracts

				rep.Evaluated++
				rep.TotalSavedCents += o.SavedCents
				if o.SavedPerCents > 0 {
					rep.GoodExits++
				} else {
					rep.BadExits++
				}
			}
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	if rep.Evaluated > 0 {
		rep.AvgSavedCents = float64(rep.TotalSavedCents) / float64(rep.Evaluated)
	}

	out := &Report{
		Name:        "stoploss",
		GeneratedAt: now.UTC(),
		WindowDays:  opts.Days,
		Data:        rep,
		Headers:     []string{"Ticker", "Type", "Exit ¢", "Hold ¢", "Saved ¢", "Close"},
	}
	for _, o := range rep.Outcomes {
		closeLabel := "n/a"
		if o.CloseAvailable {
			closeLabel = fmt.Sprintf("%.2f", o.ClosePrice)
		}
		out.Rows = append(out.Rows, []string{o.Ticker, string(o.Type),
			fmt.Sprintf("%d", o.ExitCents), fmt.Sprintf("%d", o.HoldCents),
			fmt.Sprintf("%d", o.SavedCents), closeLabel})
	}
	out.Rows = append(out.Rows, []string{"TOTAL", "",
		"", "", fmt.Sprintf("%d", rep.TotalSavedCents),
		fmt.Sprintf("%d/%d good", rep.GoodExits, rep.Evaluated)})
	return out, nil
}

// loadCloses carga las velas de cada cache OHLC presente, indexadas por asset.
func loadCloses(ohlcDir string) map[string][]domain.Candle {
	out := map[string][]domain.Candle{}
	files, err := filepath.Glob(filepath.Join(ohlcDir, "*-ohlc.json"))
	if err != nil {
		return out
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cache ohlcCache
		if err := json.Unmarshal(data, &cache); err != nil || cache.Asset == "" {
			continue
		}
		out[strings.ToUpper(cache.Asset)] = cache.Candles
	}
	return out
}
