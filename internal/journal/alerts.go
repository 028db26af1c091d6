package journal

// alerts.go — alertas como archivos planos: la existencia del archivo es la
// alerta. Un consumidor externo (cron, notificador) la entrega y borra.

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Nombres de alerta conocidos.
const (
	AlertAPIErrors      = "kalshi-api-error"
	AlertVolCalibration = "kalshi-vol-calibration"
	AlertBreakerTripped = "kalshi-breaker-tripped"
	AlertDailyHalt      = "kalshi-daily-halt"
	AlertStateCorrupt   = "kalshi-state-corrupt"
)

// AlertDir implementa ports.AlertSink sobre un directorio de archivos .alert.
type AlertDir struct {
	dir string
}

// NewAlertDir crea el sink, asegurando el directorio.
func NewAlertDir(dir string) (*AlertDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal.NewAlertDir: mkdir %q: %w", dir, err)
	}
	return &AlertDir{dir: dir}, nil
}

// Raise escribe (o reescribe) el archivo de alerta con el mensaje y timestamp.
// Temp + rename: el consumidor externo nunca ve una alerta a medio escribir.
func (a *AlertDir) Raise(name, message string) error {
	body := fmt.Sprintf("%s\n%s\n", time.Now().UTC().Format(time.RFC3339), message)

	tmp, err := os.CreateTemp(a.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("journal.Raise: %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal.Raise: %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal.Raise: %s: %w", name, err)
	}
	if err := os.Rename(tmpName, a.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal.Raise: %s: %w", name, err)
	}
	return nil
}

// Clear borra la alerta si existe. Ausencia no es error.
func (a *AlertDir) Clear(name string) error {
	if err := os.Remove(a.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal.Clear: %s: %w", name, err)
	}
	return nil
}

// Active indica si la alerta está en pie.
func (a *AlertDir) Active(name string) bool {
	_, err := os.Stat(a.path(name))
	return err == nil
}

func (a *AlertDir) path(name string) string {
	return filepath.Join(a.dir, name+".alert")
}
