// Tendencia de latencia de ejecución: media, p50/p95/p99, min/max por día.
package main

import (
	"os"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/analyze"
)

func main() {
	opts, err := analyze.ParseFlags("latency", os.Args[1:], 30)
	if err != nil {
		os.Exit(analyze.ExitNoData)
	}
	now := time.Now().UTC()
	logs, err := analyze.Load(opts.DataDir, opts.Since(now))
	if err != nil {
		os.Exit(analyze.Run(opts, nil, err))
	}
	rep, err := analyze.Latency(logs, opts, now)
	os.Exit(analyze.Run(opts, rep, err))
}
