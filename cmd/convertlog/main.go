// Conversión one-shot de trade logs legados (v1/v2 mezclados) al stream
// canónico trades.jsonl. Lee de -in (o stdin) y escribe a -out (o stdout);
// el archivo de entrada nunca se toca.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/alejandrodnm/kalshibot/internal/analyze"
)

func main() {
	inPath := flag.String("in", "", "legacy log file (default stdin)")
	outPath := flag.String("out", "", "canonical output file (default stdout)")
	flag.Parse()

	var in io.Reader = os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	stats, err := analyze.Convert(in, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "lines=%d canonical=%d converted=%d skipped=%d\n",
		stats.Lines, stats.Canonical, stats.Converted, stats.Skipped)
}
