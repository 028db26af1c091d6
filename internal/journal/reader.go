package journal

// reader.go — lectura tolerante de los streams para el arranque del proceso.
// Una línea corrupta (crash a mitad de write de un proceso viejo sin fsync,
// edición manual) se salta con warning, nunca tumba el arranque.

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// ReadTrades devuelve todos los TradeRecords del stream, en orden de append.
func (j *Journal) ReadTrades() ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	err := j.readLines(tradesFile, func(line []byte) {
		var rec domain.TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Ticker == "" {
			slog.Warn("skipping unreadable trade line", "err", err)
			return
		}
		recs = append(recs, rec)
	})
	return recs, err
}

// ReadSettlements devuelve todos los Settlements del stream.
func (j *Journal) ReadSettlements() ([]domain.Settlement, error) {
	var out []domain.Settlement
	err := j.readLines(settlementFile, func(line []byte) {
		var s domain.Settlement
		if err := json.Unmarshal(line, &s); err != nil || s.Ticker == "" {
			slog.Warn("skipping unreadable settlement line", "err", err)
			return
		}
		out = append(out, s)
	})
	return out, err
}

func (j *Journal) readLines(name string, fn func(line []byte)) error {
	f, err := os.Open(filepath.Join(j.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // stream todavía no existe: arranque limpio
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return sc.Err()
}
