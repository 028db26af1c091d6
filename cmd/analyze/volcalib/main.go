// Calibración de volatilidad: σ realizada 7/30d contra la configurada.
package main

import (
	"os"
	"time"

	"github.com/alejandrodnm/kalshibot/config"
	"github.com/alejandrodnm/kalshibot/internal/analyze"
)

func main() {
	opts, err := analyze.ParseFlags("volcalib", os.Args[1:], 30)
	if err != nil {
		os.Exit(analyze.ExitNoData)
	}

	// Las σ configuradas salen del mismo config que usa el loop vivo
	// (KALSHIBOT_CONFIG o defaults + overrides de entorno).
	cfg, err := config.Load(os.Getenv("KALSHIBOT_CONFIG"))
	if err != nil {
		os.Exit(analyze.Run(opts, nil, err))
	}

	rep, err := analyze.VolCalibration(opts, cfg.Model.SigmaHourly, time.Now().UTC())
	os.Exit(analyze.Run(opts, rep, err))
}
