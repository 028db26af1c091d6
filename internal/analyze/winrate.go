package analyze

// winrate.go — win-rate por bucket sobre los trades ya liquidados.
//
// Se juntan trades.jsonl y settlements.json por (ticker, timestamp del
// trade) y se agrega por hora del día, día de la semana, asset, cuartil de
// tamaño y bucket de edge. Solo cuentan entradas ejecutadas; las ventas de
// salida del position manager no son apuestas nuevas.

import (
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// WinrateBucket es el agregado de un bucket.
type WinrateBucket struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	PnLCents int     `json:"pnl_cents"`
}

// WinrateReport es el payload del reporte.
type WinrateReport struct {
	Executed       int     `json:"executed_trades"`
	Settled        int     `json:"settled_trades"`
	Wins           int     `json:"wins"`
	WinRate        float64 `json:"win_rate"`
	VolumeWeighted float64 `json:"volume_weighted_win_rate"` // ponderado por costo
	PnLCents       int     `json:"pnl_cents"`

	ByHour         map[string]*WinrateBucket `json:"by_hour"`
	ByWeekday      map[string]*WinrateBucket `json:"by_weekday"`
	ByAsset        map[string]*WinrateBucket `json:"by_asset"`
	BySizeQuartile map[string]*WinrateBucket `json:"by_size_quartile"`
	ByEdgeBucket   map[string]*WinrateBucket `json:"by_edge_bucket"`
}

type settledTrade struct {
	trade domain.TradeRecord
	won   bool
	pnl   int
}

// Winrate produce el reporte de win-rate por bucket.
func Winrate(logs *Logs, opts Options, now time.Time) (*Report, error) {
	idx := settlementIndex(logs.Settlements)

	var executed int
	var joined []settledTrade
	for _, t := range logs.Trades {
		if t.OrderStatus != domain.OrderExecuted || t.FilledCount == 0 || t.ExitReason != "" {
			continue
		}
		executed++
		if s, ok := idx[settleKey(t.Ticker, t.Timestamp)]; ok {
			joined = append(joined, settledTrade{trade: t, won: s.Won, pnl: s.PnLCents})
		}
	}
	if len(joined) == 0 {
		return nil, ErrNoData
	}

	rep := &WinrateReport{
		Executed:       executed,
		Settled:        len(joined),
		ByHour:         map[string]*WinrateBucket{},
		ByWeekday:      map[string]*WinrateBucket{},
		ByAsset:        map[string]*WinrateBucket{},
		BySizeQuartile: map[string]*WinrateBucket{},
		ByEdgeBucket:   map[string]*WinrateBucket{},
	}

	quartileOf := sizeQuartiles(joined)
	var costTotal, costWon int
	for _, st := range joined {
		t := st.trade
		if st.won {
			rep.Wins++
			costWon += t.CostCents
		}
		rep.PnLCents += st.pnl
		costTotal += t.CostCents

		bump(rep.ByHour, t.Timestamp.UTC().Format("15"), st)
		bump(rep.ByWeekday, t.Timestamp.UTC().Weekday().String(), st)
		bump(rep.ByAsset, string(t.Asset), st)
		bump(rep.BySizeQuartile, quartileOf(t.CostCents), st)
		bump(rep.ByEdgeBucket, edgeBucket(t.Edge), st)
	}
	rep.WinRate = float64(rep.Wins) / float64(rep.Settled)
	if costTotal > 0 {
		rep.VolumeWeighted = float64(costWon) / float64(costTotal)
	}

	out := &Report{
		Name:        "winrate",
		GeneratedAt: now.UTC(),
		WindowDays:  opts.Days,
		Data:        rep,
		Headers:     []string{"Dimension", "Bucket", "Trades", "Wins", "Win rate", "PnL ¢"},
	}
	out.Rows = append(out.Rows, []string{"overall", "-",
		fmt.Sprintf("%d", rep.Settled), fmt.Sprintf("%d", rep.Wins),
		fmt.Sprintf("%.1f%%", rep.WinRate*100), fmt.Sprintf("%d", rep.PnLCents)})
	appendBucketRows(out, "asset", rep.ByAsset)
	appendBucketRows(out, "hour", rep.ByHour)
	appendBucketRows(out, "weekday", rep.ByWeekday)
	appendBucketRows(out, "size", rep.BySizeQuartile)
	appendBucketRows(out, "edge", rep.ByEdgeBucket)
	return out, nil
}

func bump(m map[string]*WinrateBucket, key string, st settledTrade) {
	b := m[key]
	if b == nil {
		b = &WinrateBucket{}
		m[key] = b
	}
	b.Trades++
	if st.won {
		b.Wins++
	}
	b.PnLCents += st.pnl
	b.WinRate = float64(b.Wins) / float64(b.Trades)
}

// sizeQuartiles devuelve un clasificador de costo a cuartil q1..q4 sobre la
// distribución de los trades liquidados de la ventana.
func sizeQuartiles(joined []settledTrade) func(costCents int) string {
	costs := make([]int, len(joined))
	for i, st := range joined {
		costs[i] = st.trade.CostCents
	}
	sort.Ints(costs)
	q1 := costs[len(costs)/4]
	q2 := costs[len(costs)/2]
	q3 := costs[(3*len(costs))/4]
	return func(c int) string {
		switch {
		case c <= q1:
			return "q1"
		case c <= q2:
			return "q2"
		case c <= q3:
			return "q3"
		default:
			return "q4"
		}
	}
}

func edgeBucket(edge float64) string {
	switch {
	case edge < 0.10:
		return "<10%"
	case edge < 0.15:
		return "10-15%"
	case edge < 0.20:
		return "15-20%"
	case edge < 0.30:
		return "20-30%"
	default:
		return ">=30%"
	}
}

func appendBucketRows(out *Report, dim string, m map[string]*WinrateBucket) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b := m[k]
		out.Rows = append(out.Rows, []string{dim, k,
			fmt.Sprintf("%d", b.Trades), fmt.Sprintf("%d", b.Wins),
			fmt.Sprintf("%.1f%%", b.WinRate*100), fmt.Sprintf("%d", b.PnLCents)})
	}
}
