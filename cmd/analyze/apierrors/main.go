// Tasa de error de la API por source, con alerta bajo el piso de éxito.
package main

import (
	"os"
	"strconv"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/analyze"
)

const defaultSuccessFloor = 0.95

func main() {
	opts, err := analyze.ParseFlags("apierrors", os.Args[1:], 7)
	if err != nil {
		os.Exit(analyze.ExitNoData)
	}

	floor := defaultSuccessFloor
	if v, perr := strconv.ParseFloat(os.Getenv("API_SUCCESS_FLOOR"), 64); perr == nil && v > 0 && v <= 1 {
		floor = v
	}

	now := time.Now().UTC()
	logs, err := analyze.Load(opts.DataDir, opts.Since(now))
	if err != nil {
		os.Exit(analyze.Run(opts, nil, err))
	}
	rep, err := analyze.APIErrors(logs, opts, floor, now)
	os.Exit(analyze.Run(opts, rep, err))
}
