package analyze

// breaker.go — historia del circuit breaker.
//
// Cuenta triggers, distribución de razones de release, duración media del
// tripped y una estimación de trades no tomados mientras el breaker estuvo
// activo (ritmo de trades fuera del tripped × horas tripped).

import (
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// BreakerReport es el payload del reporte.
type BreakerReport struct {
	Triggers            int            `json:"triggers"`
	Releases            int            `json:"releases"`
	ReleaseReasons      map[string]int `json:"release_reasons"`
	AvgTrippedSeconds   float64        `json:"avg_tripped_seconds"`
	TotalTrippedSeconds float64        `json:"total_tripped_seconds"`
	TradesSkippedEst    int            `json:"trades_skipped_estimate"`
	OpenTrip            bool           `json:"open_trip"` // trigger sin release al final de la ventana
}

// BreakerHistory produce el reporte de historia del breaker.
func BreakerHistory(logs *Logs, opts Options, now time.Time) (*Report, error) {
	if len(logs.Breaker) == 0 {
		return nil, ErrNoData
	}

	rep := &BreakerReport{ReleaseReasons: map[string]int{}}
	var lastTrigger time.Time
	for _, ev := range logs.Breaker {
		switch ev.Type {
		case "trigger":
			rep.Triggers++
			lastTrigger = ev.Timestamp
			rep.OpenTrip = true
		case "release":
			rep.Releases++
			rep.ReleaseReasons[string(ev.Reason)]++
			rep.TotalTrippedSeconds += ev.DurationSeconds
			rep.OpenTrip = false
		}
	}
	if rep.OpenTrip && !lastTrigger.IsZero() {
		rep.TotalTrippedSeconds += now.Sub(lastTrigger).Seconds()
	}
	if rep.Releases > 0 {
		rep.AvgTrippedSeconds = rep.TotalTrippedSeconds / float64(rep.Releases)
	}
	rep.TradesSkippedEst = estimateSkipped(logs.Trades, rep.TotalTrippedSeconds, opts, now)

	out := &Report{
		Name:        "breaker",
		GeneratedAt: now.UTC(),
		WindowDays:  opts.Days,
		Data:        rep,
		Headers:     []string{"Metric", "Value"},
		Rows: [][]string{
			{"triggers", fmt.Sprintf("%d", rep.Triggers)},
			{"releases", fmt.Sprintf("%d", rep.Releases)},
			{"avg tripped", (time.Duration(rep.AvgTrippedSeconds) * time.Second).String()},
			{"total tripped", (time.Duration(rep.TotalTrippedSeconds) * time.Second).String()},
			{"trades skipped (est)", fmt.Sprintf("%d", rep.TradesSkippedEst)},
		},
	}

	reasons := make([]string, 0, len(rep.ReleaseReasons))
	for r := range rep.ReleaseReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		out.Rows = append(out.Rows, []string{"release: " + r, fmt.Sprintf("%d", rep.ReleaseReasons[r])})
	}
	return out, nil
}

// estimateSkipped proyecta el ritmo de trades de las horas activas sobre las
// horas que el breaker pasó tripped.
func estimateSkipped(trades []domain.TradeRecord, trippedSeconds float64, opts Options, now time.Time) int {
	if trippedSeconds <= 0 || len(trades) == 0 {
		return 0
	}
	windowHours := float64(opts.Days) * 24
	if opts.Days <= 0 {
		windowHours = now.Sub(trades[0].Timestamp).Hours()
	}
	activeHours := windowHours - trippedSeconds/3600
	if activeHours <= 0 {
		return 0
	}
	perHour := float64(len(trades)) / activeHours
	return int(perHour * trippedSeconds / 3600)
}
