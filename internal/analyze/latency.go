package analyze

// latency.go — tendencia de latencia de ejecución por día.
//
// Percentiles por nearest-rank sobre latency_ms de todos los trades con
// respuesta terminal (ejecutados o rechazados: el reloj corre igual).

import (
	"fmt"
	"sort"
	"time"
)

// LatencyDay son las estadísticas de un día UTC.
type LatencyDay struct {
	Day   string  `json:"day"` // "2006-01-02"; "overall" en el agregado
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	P50   int     `json:"p50_ms"`
	P95   int     `json:"p95_ms"`
	P99   int     `json:"p99_ms"`
	MinMs int     `json:"min_ms"`
	MaxMs int     `json:"max_ms"`
}

// LatencyReport es el payload del reporte.
type LatencyReport struct {
	Overall LatencyDay   `json:"overall"`
	Days    []LatencyDay `json:"days"` // orden cronológico
}

// Latency produce el reporte de latencia por día.
func Latency(logs *Logs, opts Options, now time.Time) (*Report, error) {
	byDay := map[string][]int{}
	var all []int
	for _, t := range logs.Trades {
		if t.LatencyMs <= 0 {
			continue
		}
		day := t.Timestamp.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], t.LatencyMs)
		all = append(all, t.LatencyMs)
	}
	if len(all) == 0 {
		return nil, ErrNoData
	}

	rep := &LatencyReport{Overall: summarize("overall", all)}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		rep.Days = append(rep.Days, summarize(d, byDay[d]))
	}

	out := &Report{
		Name:        "latency",
		GeneratedAt: now.UTC(),
		WindowDays:  opts.Days,
		Data:        rep,
		Headers:     []string{"Day", "Count", "Avg ms", "p50", "p95", "p99", "Min", "Max"},
	}
	for _, d := range append(rep.Days, rep.Overall) {
		out.Rows = append(out.Rows, []string{d.Day,
			fmt.Sprintf("%d", d.Count), fmt.Sprintf("%.0f", d.AvgMs),
			fmt.Sprintf("%d", d.P50), fmt.Sprintf("%d", d.P95),
			fmt.Sprintf("%d", d.P99), fmt.Sprintf("%d", d.MinMs),
			fmt.Sprintf("%d", d.MaxMs)})
	}
	return out, nil
}

func summarize(day string, samples []int) LatencyDay {
	sorted := append([]int(nil), samples...)
	sort.Ints(sorted)

	sum := 0
	for _, v := range sorted {
		sum += v
	}
	return LatencyDay{
		Day:   day,
		Count: len(sorted),
		AvgMs: float64(sum) / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		MinMs: sorted[0],
		MaxMs: sorted[len(sorted)-1],
	}
}

// percentile usa nearest-rank sobre una muestra ya ordenada.
func percentile(sorted []int, p float64) int {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
