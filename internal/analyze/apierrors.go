package analyze

// apierrors.go — tasa de error de la API por source.
//
// El journal solo registra fallos; las operaciones con éxito se aproximan
// con los registros que la ventana sí dejó: cada trade es una llamada del
// executor y cada settlement una consulta de cierre del oracle. Para el
// scanner no hay denominador honesto, así que solo se reportan conteos.

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/journal"
)

// APISourceStats son las métricas de un source lógico.
type APISourceStats struct {
	Source      string         `json:"source"`
	Errors      int            `json:"errors"`
	ByClass     map[string]int `json:"by_class"`
	Operations  int            `json:"operations,omitempty"`
	SuccessRate *float64       `json:"success_rate,omitempty"` // nil cuando no hay denominador
}

// APIErrorsReport es el payload del reporte.
type APIErrorsReport struct {
	Sources []APISourceStats `json:"sources"`
	Floor   float64          `json:"success_floor"`
}

// APIErrors produce el reporte de errores por source y alerta cuando la
// tasa de éxito de algún source medible cae bajo el piso.
func APIErrors(logs *Logs, opts Options, floor float64, now time.Time) (*Report, error) {
	if len(logs.APIErrors) == 0 && len(logs.Trades) == 0 {
		return nil, ErrNoData
	}

	bySource := map[string]*APISourceStats{}
	stats := func(source string) *APISourceStats {
		s := bySource[source]
		if s == nil {
			s = &APISourceStats{Source: source, ByClass: map[string]int{}}
			bySource[source] = s
		}
		return s
	}
	for _, e := range logs.APIErrors {
		s := stats(e.Source)
		s.Errors++
		s.ByClass[e.Class]++
	}
	stats("executor").Operations = len(logs.Trades)
	stats("oracle").Operations = len(logs.Settlements)

	rep := &APIErrorsReport{Floor: floor}
	var breached []string
	for _, s := range bySource {
		if s.Operations > 0 {
			rate := float64(s.Operations) / float64(s.Operations+s.Errors)
			s.SuccessRate = &rate
			if rate < floor {
				breached = append(breached, fmt.Sprintf("%s success rate %.1f%% below floor %.1f%%",
					s.Source, rate*100, floor*100))
			}
		}
		rep.Sources = append(rep.Sources, *s)
	}
	sort.Slice(rep.Sources, func(i, j int) bool { return rep.Sources[i].Source < rep.Sources[j].Source })
	sort.Strings(breached)

	out := &Report{
		Name:        "apierrors",
		GeneratedAt: now.UTC(),
		WindowDays:  opts.Days,
		Data:        rep,
		Headers:     []string{"Source", "Errors", "Operations", "Success rate"},
	}
	for _, s := range rep.Sources {
		rate := "-"
		if s.SuccessRate != nil {
			rate = fmt.Sprintf("%.1f%%", *s.SuccessRate*100)
		}
		out.Rows = append(out.Rows, []string{s.Source,
			fmt.Sprintf("%d", s.Errors), fmt.Sprintf("%d", s.Operations), rate})
	}

	if len(breached) > 0 {
		out.Alert = &Alert{Name: journal.AlertAPIErrors, Message: strings.Join(breached, "; ")}
	}
	return out, nil
}
