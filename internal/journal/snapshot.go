package journal

// snapshot.go — snapshots atómicos de estado (health, uptime, balance,
// risk-state). Se escriben completos a un temp y se renombra: un lector
// externo ve siempre el snapshot anterior o el nuevo, nunca uno parcial.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

const (
	healthFile    = "autotrader-health.json"
	uptimeFile    = "autotrader-uptime.json"
	balanceFile   = "balance.json"
	riskStateFile = "risk-state.json"
)

// HealthSnapshot es el estado observable del proceso, reescrito cada ciclo.
type HealthSnapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	Running         bool             `json:"running"`
	DryRun          bool             `json:"dry_run"`
	Cycle           int64            `json:"cycle"`
	Phase           domain.RiskPhase `json:"phase"`
	BreakerActive   bool             `json:"breaker_active"`
	OpenPositions   int              `json:"open_positions"`
	PendingSettles  int              `json:"pending_settlements"`
	BalanceCents    int              `json:"balance_cents"`
	DailyPnLCents   int              `json:"daily_pnl_cents"`
	TradesToday     int              `json:"trades_today"`
	LastCycleMs     int64            `json:"last_cycle_ms"`
	LastError       string           `json:"last_error,omitempty"`
	MarketsScanned  int              `json:"markets_scanned"`
	CandidatesFound int              `json:"candidates_found"`
}

// UptimeSnapshot registra el arranque y el último heartbeat del proceso.
type UptimeSnapshot struct {
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Cycles        int64     `json:"cycles"`
}

// BalanceSnapshot cachea el último balance conocido para arranques con la API caída.
type BalanceSnapshot struct {
	BalanceCents int       `json:"balance_cents"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// WriteHealth reescribe el health snapshot.
func (j *Journal) WriteHealth(h HealthSnapshot) error {
	return j.writeSnapshot(healthFile, h)
}

// WriteUptime reescribe el uptime snapshot.
func (j *Journal) WriteUptime(u UptimeSnapshot) error {
	return j.writeSnapshot(uptimeFile, u)
}

// WriteBalance cachea el balance en disco.
func (j *Journal) WriteBalance(b BalanceSnapshot) error {
	return j.writeSnapshot(balanceFile, b)
}

// ReadBalance devuelve el balance cacheado, si existe.
func (j *Journal) ReadBalance() (BalanceSnapshot, bool) {
	var b BalanceSnapshot
	if err := j.readSnapshot(balanceFile, &b); err != nil {
		return BalanceSnapshot{}, false
	}
	return b, b.FetchedAt.After(time.Time{})
}

// WriteRiskState persiste el estado de riesgo. Se llama en cada mutación.
func (j *Journal) WriteRiskState(rs *domain.RiskState) error {
	return j.writeSnapshot(riskStateFile, rs)
}

// ReadRiskState carga el estado de riesgo persistido. ok=false sin error
// significa que no hay snapshot previo (arranque limpio). Un snapshot presente
// pero ilegible es error: arrancar inventando estado de riesgo borraría un
// breaker o las pérdidas del día, así que el caller debe negarse a operar.
func (j *Journal) ReadRiskState() (*domain.RiskState, bool, error) {
	var rs domain.RiskState
	if err := j.readSnapshot(riskStateFile, &rs); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("journal.ReadRiskState: corrupt %s: %w", riskStateFile, err)
	}
	if rs.Phase == "" {
		return nil, false, fmt.Errorf("journal.ReadRiskState: corrupt %s: missing phase", riskStateFile)
	}
	if rs.Exposure == nil {
		rs.Exposure = map[string]int{}
	}
	return &rs, true, nil
}

func (j *Journal) writeSnapshot(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("journal.writeSnapshot: marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(j.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("journal.writeSnapshot: temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal.writeSnapshot: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal.writeSnapshot: fsync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal.writeSnapshot: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(j.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal.writeSnapshot: rename %s: %w", name, err)
	}
	return nil
}

func (j *Journal) readSnapshot(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(j.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
