// Package analyze agrupa los analizadores offline que corren fuera de banda
// sobre los streams del journal. Solo lectura: nunca comparten memoria con el
// loop vivo, y un stream ausente o una línea rota jamás es fatal.
package analyze

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Nombres de los streams bajo el data dir. Tienen que coincidir con los que
// escribe el journal; campos desconocidos se ignoran y los que falten quedan
// en su zero value.
const (
	tradesFile     = "trades.jsonl"
	settlementFile = "settlements.json"
	breakerFile    = "circuit-breaker-history.jsonl"
	stopLossFile   = "stop-loss.log"
	apiErrorFile   = "api-error-log.jsonl"
)

// Logs es el contenido de los streams dentro de la ventana pedida,
// en orden de append.
type Logs struct {
	Trades      []domain.TradeRecord
	Settlements []domain.Settlement
	Breaker     []domain.BreakerEvent
	StopLoss    []domain.StopLossEntry
	APIErrors   []ports.APIErrorEntry
}

// Load lee los cinco streams bajo dataDir y filtra por timestamp ≥ since.
// since zero = sin filtro.
func Load(dataDir string, since time.Time) (*Logs, error) {
	logs := &Logs{}

	err := readStream(filepath.Join(dataDir, tradesFile), "ticker", func(line []byte) {
		var rec domain.TradeRecord
		if json.Unmarshal(line, &rec) == nil && inWindow(rec.Timestamp, since) {
			logs.Trades = append(logs.Trades, rec)
		}
	})
	if err != nil {
		return nil, err
	}

	err = readStream(filepath.Join(dataDir, settlementFile), "ticker", func(line []byte) {
		var s domain.Settlement
		if json.Unmarshal(line, &s) == nil && inWindow(s.Timestamp, since) {
			logs.Settlements = append(logs.Settlements, s)
		}
	})
	if err != nil {
		return nil, err
	}

	err = readStream(filepath.Join(dataDir, breakerFile), "type", func(line []byte) {
		var ev domain.BreakerEvent
		if json.Unmarshal(line, &ev) == nil && inWindow(ev.Timestamp, since) {
			logs.Breaker = append(logs.Breaker, ev)
		}
	})
	if err != nil {
		return nil, err
	}

	err = readStream(filepath.Join(dataDir, stopLossFile), "ticker", func(line []byte) {
		var e domain.StopLossEntry
		if json.Unmarshal(line, &e) == nil && inWindow(e.Timestamp, since) {
			logs.StopLoss = append(logs.StopLoss, e)
		}
	})
	if err != nil {
		return nil, err
	}

	err = readStream(filepath.Join(dataDir, apiErrorFile), "source", func(line []byte) {
		var e ports.APIErrorEntry
		if json.Unmarshal(line, &e) == nil {
			// El timestamp del stream de errores es string RFC3339.
			if ts, perr := time.Parse(time.RFC3339, e.Timestamp); perr == nil && inWindow(ts, since) {
				logs.APIErrors = append(logs.APIErrors, e)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}

// readStream recorre un archivo línea a línea. Cada línea se olfatea con
// gjson antes de decodificar: si no es JSON válido o le falta el campo
// requerido (crash a mitad de write, edición manual) se salta con warning.
func readStream(path, requiredField string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // stream todavía no existe
		}
		return fmt.Errorf("analyze.Load: open %q: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) || !gjson.GetBytes(line, requiredField).Exists() {
			slog.Warn("skipping unreadable line", "file", filepath.Base(path))
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("analyze.Load: scan %q: %w", path, err)
	}
	return nil
}

func inWindow(ts time.Time, since time.Time) bool {
	return since.IsZero() || !ts.Before(since)
}

// settleKey empareja trades con settlements igual que el settlement engine:
// por ticker + timestamp del trade.
func settleKey(ticker string, tradeTime time.Time) string {
	return ticker + "|" + tradeTime.UTC().Format(time.RFC3339Nano)
}

// settlementIndex indexa la primera liquidación efectiva por trade
// (duplicados permitidos en el log, solo cuenta la primera).
func settlementIndex(settlements []domain.Settlement) map[string]domain.Settlement {
	idx := make(map[string]domain.Settlement, len(settlements))
	for _, s := range settlements {
		k := settleKey(s.Ticker, s.TradeTime)
		if _, seen := idx[k]; !seen {
			idx[k] = s
		}
	}
	return idx
}
