package journal

// journal.go — escritor único de los streams append-only en data/trading.
// Cada Append serializa una línea JSON, la escribe y hace fsync antes de
// devolver: un crash nunca deja un registro a medias reconocido como escrito.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Nombres de archivo dentro del directorio de trading. Estables: los
// analizadores y tooling externo los leen por nombre.
const (
	tradesFile     = "trades.jsonl"
	settlementFile = "settlements.json"
	breakerFile    = "circuit-breaker-history.jsonl"
	stopLossFile   = "stop-loss.log"
	apiErrorFile   = "api-error-log.jsonl"
)

// Journal implementa ports.TradeJournal sobre archivos JSONL.
type Journal struct {
	dir string

	mu      sync.Mutex
	streams map[string]*os.File
}

// New abre (o crea) el directorio de trading.
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal.New: mkdir %q: %w", dir, err)
	}
	return &Journal{dir: dir, streams: make(map[string]*os.File)}, nil
}

// Close cierra todos los streams abiertos.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var first error
	for name, f := range j.streams {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("journal.Close: %s: %w", name, err)
		}
		delete(j.streams, name)
	}
	return first
}

// AppendTrade agrega una línea a trades.jsonl.
func (j *Journal) AppendTrade(rec domain.TradeRecord) error {
	return j.appendLine(tradesFile, rec)
}

// AppendSettlement agrega una línea a settlements.json.
func (j *Journal) AppendSettlement(s domain.Settlement) error {
	return j.appendLine(settlementFile, s)
}

// AppendBreakerEvent agrega una línea a circuit-breaker-history.jsonl.
func (j *Journal) AppendBreakerEvent(ev domain.BreakerEvent) error {
	return j.appendLine(breakerFile, ev)
}

// AppendStopLoss agrega una línea al stop-loss log.
func (j *Journal) AppendStopLoss(e domain.StopLossEntry) error {
	return j.appendLine(stopLossFile, e)
}

// AppendAPIError agrega una línea a api-error-log.jsonl.
func (j *Journal) AppendAPIError(e ports.APIErrorEntry) error {
	return j.appendLine(apiErrorFile, e)
}

// appendLine serializa v como una línea JSON y la persiste con fsync.
func (j *Journal) appendLine(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal.appendLine: marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.stream(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal.appendLine: write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("journal.appendLine: fsync %s: %w", name, err)
	}
	return nil
}

// stream devuelve el file handle del stream, abriéndolo en append la primera vez.
// Caller debe tener el lock.
func (j *Journal) stream(name string) (*os.File, error) {
	if f, ok := j.streams[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal.stream: open %s: %w", name, err)
	}
	j.streams[name] = f
	return f, nil
}
