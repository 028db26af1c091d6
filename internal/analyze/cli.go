package analyze

// cli.go — runner compartido por los binarios de análisis.
//
// Cada analizador es un proceso propio con la misma superficie:
//
//	--json         salida máquina por stdout en vez de tabla
//	--days N       ventana de análisis en días
//	--output PATH  destino del reporte JSON (default reports/<nombre>.json)
//
// Exit codes: 0 ok, 1 sin datos en la ventana, 2 umbral cruzado (y se
// escribió el archivo de alerta).

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/kalshibot/internal/journal"
)

const (
	ExitOK     = 0
	ExitNoData = 1
	ExitAlert  = 2
)

// Options son los flags comunes más las rutas del layout de datos.
type Options struct {
	JSON   bool
	Days   int
	Output string

	DataDir    string
	OHLCDir    string
	ReportsDir string
	AlertsDir  string
}

// ParseFlags interpreta la línea de comandos de un analizador.
func ParseFlags(name string, args []string, defaultDays int) (Options, error) {
	opts := Options{
		DataDir:    envOr("KALSHIBOT_DATA_DIR", "data/trading"),
		OHLCDir:    envOr("KALSHIBOT_OHLC_DIR", "data/ohlc"),
		ReportsDir: "",
		AlertsDir:  envOr("KALSHIBOT_ALERTS_DIR", ""),
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.BoolVar(&opts.JSON, "json", false, "machine-readable JSON on stdout")
	fs.IntVar(&opts.Days, "days", defaultDays, "analysis window in days (0 = everything)")
	fs.StringVar(&opts.Output, "output", "", "report path (default <reports>/"+name+".json)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.ReportsDir == "" {
		opts.ReportsDir = filepath.Join(opts.DataDir, "reports")
	}
	if opts.AlertsDir == "" {
		opts.AlertsDir = filepath.Join(opts.DataDir, "alerts")
	}
	return opts, nil
}

// Since devuelve el inicio de la ventana (zero si Days=0).
func (o Options) Since(now time.Time) time.Time {
	if o.Days <= 0 {
		return time.Time{}
	}
	return now.UTC().AddDate(0, 0, -o.Days)
}

// Alert es la condición de umbral que un analizador quiere escalar.
type Alert struct {
	Name    string `json:"name"` // nombre del archivo .alert
	Message string `json:"message"`
}

// Report es el resultado de un analizador, listo para persistir y mostrar.
type Report struct {
	Name        string    `json:"report"`
	GeneratedAt time.Time `json:"generated_at"`
	WindowDays  int       `json:"window_days"`
	Data        any       `json:"data"`
	Alert       *Alert    `json:"alert,omitempty"`

	// Presentación humana (modo tabla); no se serializa.
	Headers []string   `json:"-"`
	Rows    [][]string `json:"-"`
}

// ErrNoData lo devuelve un analizador cuando la ventana no tiene registros.
var ErrNoData = fmt.Errorf("analyze: no data in window")

// Run persiste el reporte, lo imprime y escala la alerta si la hay.
// Devuelve el exit code del proceso.
func Run(opts Options, rep *Report, err error) int {
	if err != nil {
		if err == ErrNoData {
			fmt.Fprintln(os.Stderr, "no data in the requested window")
			return ExitNoData
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return ExitNoData
	}

	if werr := writeReport(opts, rep); werr != nil {
		fmt.Fprintln(os.Stderr, "error:", werr)
		return ExitNoData
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		printTable(os.Stdout, rep)
	}

	if rep.Alert != nil {
		sink, aerr := journal.NewAlertDir(opts.AlertsDir)
		if aerr == nil {
			aerr = sink.Raise(rep.Alert.Name, rep.Alert.Message)
		}
		if aerr != nil {
			fmt.Fprintln(os.Stderr, "error raising alert:", aerr)
		}
		return ExitAlert
	}
	return ExitOK
}

// writeReport escribe el JSON del reporte con temp + rename, como los
// snapshots: los consumidores nunca ven un reporte a medias.
func writeReport(opts Options, rep *Report) error {
	path := opts.Output
	if path == "" {
		path = filepath.Join(opts.ReportsDir, rep.Name+".json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("analyze.Run: mkdir for %q: %w", path, err)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("analyze.Run: marshal report: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+rep.Name+"-*")
	if err != nil {
		return fmt.Errorf("analyze.Run: temp for %q: %w", path, err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("analyze.Run: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("analyze.Run: close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("analyze.Run: rename %q: %w", path, err)
	}
	return nil
}

func printTable(w io.Writer, rep *Report) {
	fmt.Fprintf(w, "%s — window %dd — generated %s\n",
		rep.Name, rep.WindowDays, rep.GeneratedAt.Format(time.RFC3339))

	if len(rep.Rows) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header(headerAny(rep.Headers)...)
		for _, row := range rep.Rows {
			table.Append(rowAny(row)...)
		}
		table.Render()
	}

	if rep.Alert != nil {
		fmt.Fprintf(w, "\nALERT [%s]: %s\n", rep.Alert.Name, rep.Alert.Message)
	}
}

func headerAny(hs []string) []any {
	out := make([]any, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func rowAny(row []string) []any {
	out := make([]any, len(row))
	for i, c := range row {
		out[i] = c
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
