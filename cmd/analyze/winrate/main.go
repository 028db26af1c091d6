// Win-rate por hora, día de la semana, asset, tamaño y bucket de edge.
package main

import (
	"os"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/analyze"
)

func main() {
	opts, err := analyze.ParseFlags("winrate", os.Args[1:], 30)
	if err != nil {
		os.Exit(analyze.ExitNoData)
	}
	now := time.Now().UTC()
	logs, err := analyze.Load(opts.DataDir, opts.Since(now))
	if err != nil {
		os.Exit(analyze.Run(opts, nil, err))
	}
	rep, err := analyze.Winrate(logs, opts, now)
	os.Exit(analyze.Run(opts, rep, err))
}
