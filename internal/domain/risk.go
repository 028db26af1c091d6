package domain

import "time"

// RiskPhase is the coarse trading regime of the process.
//
//	NORMAL ──(n consecutive losses ≥ threshold)──► TRIPPED ──(win | cooldown | manual)──► NORMAL
//	NORMAL ──(daily loss ≥ cap)──► HALTED_FOR_DAY ──(UTC midnight)──► NORMAL
type RiskPhase string

const (
	PhaseNormal       RiskPhase = "NORMAL"
	PhaseTripped      RiskPhase = "TRIPPED"
	PhaseHaltedForDay RiskPhase = "HALTED_FOR_DAY"
)

// ReleaseReason explains why a tripped breaker went back to NORMAL.
type ReleaseReason string

const (
	ReleaseWin      ReleaseReason = "win"
	ReleaseCooldown ReleaseReason = "cooldown"
	ReleaseManual   ReleaseReason = "manual"
)

// RiskState is the process-wide trading state. Loaded once at startup,
// persisted on every mutation. Serialized field names are stable.
type RiskState struct {
	Phase             RiskPhase      `json:"phase"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
	BreakerActive     bool           `json:"breaker_active"`
	CooldownUntil     time.Time      `json:"cooldown_until"`
	TrippedAt         time.Time      `json:"tripped_at,omitzero"`
	ManualHalt        bool           `json:"manual_halt"`
	Day               string         `json:"day"` // UTC date "2006-01-02"
	DailyPnLCents     int            `json:"daily_pnl_cents"`
	TradesToday       int            `json:"trades_today"`
	CostTodayCents    int            `json:"cost_today_cents"`
	Exposure          map[string]int `json:"exposure"` // category → outstanding cost cents
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewRiskState returns a clean state for the given UTC day.
func NewRiskState(now time.Time) *RiskState {
	return &RiskState{
		Phase:    PhaseNormal,
		Day:      now.UTC().Format("2006-01-02"),
		Exposure: map[string]int{},
	}
}

// Category buckets exposure per asset and expiry hour, e.g. "BTC:2026-08-30T15".
func Category(asset Asset, expiry time.Time) string {
	return string(asset) + ":" + expiry.UTC().Format("2006-01-02T15")
}

// Rollover resets the daily counters when the UTC day changed.
// A HALTED_FOR_DAY phase releases at midnight; TRIPPED carries over.
func (rs *RiskState) Rollover(now time.Time) bool {
	day := now.UTC().Format("2006-01-02")
	if day == rs.Day {
		return false
	}
	rs.Day = day
	rs.DailyPnLCents = 0
	rs.TradesToday = 0
	rs.CostTodayCents = 0
	if rs.Phase == PhaseHaltedForDay {
		rs.Phase = PhaseNormal
	}
	rs.UpdatedAt = now.UTC()
	return true
}

// RecordOpen accounts a newly submitted trade against the daily counters
// and the category exposure.
func (rs *RiskState) RecordOpen(asset Asset, expiry time.Time, costCents int, now time.Time) {
	rs.TradesToday++
	rs.CostTodayCents += costCents
	if rs.Exposure == nil {
		rs.Exposure = map[string]int{}
	}
	rs.Exposure[Category(asset, expiry)] += costCents
	rs.UpdatedAt = now.UTC()
}

// RecordSettlement feeds a settlement outcome into the loss streak and daily PnL.
// Returns true when this settlement trips the breaker.
func (rs *RiskState) RecordSettlement(won bool, pnlCents, lossThreshold int, cooldown time.Duration, now time.Time) (tripped bool) {
	rs.DailyPnLCents += pnlCents
	if won {
		rs.ConsecutiveLosses = 0
		if rs.Phase == PhaseTripped {
			rs.release(now)
		}
	} else {
		rs.ConsecutiveLosses++
		if rs.Phase == PhaseNormal && lossThreshold > 0 && rs.ConsecutiveLosses >= lossThreshold {
			rs.Phase = PhaseTripped
			rs.BreakerActive = true
			rs.TrippedAt = now.UTC()
			rs.CooldownUntil = now.UTC().Add(cooldown)
			tripped = true
		}
	}
	rs.UpdatedAt = now.UTC()
	return tripped
}

// RecordExit feeds the realized PnL of an early exit (stop, trailing, time)
// into the daily PnL and the loss streak. Unlike RecordSettlement, a
// profitable exit does not release a tripped breaker: that takes a winning
// settlement. Returns true when the exit trips the breaker.
func (rs *RiskState) RecordExit(pnlCents, lossThreshold int, cooldown time.Duration, now time.Time) (tripped bool) {
	rs.DailyPnLCents += pnlCents
	switch {
	case pnlCents > 0:
		rs.ConsecutiveLosses = 0
	case pnlCents < 0:
		rs.ConsecutiveLosses++
		if rs.Phase == PhaseNormal && lossThreshold > 0 && rs.ConsecutiveLosses >= lossThreshold {
			rs.Phase = PhaseTripped
			rs.BreakerActive = true
			rs.TrippedAt = now.UTC()
			rs.CooldownUntil = now.UTC().Add(cooldown)
			tripped = true
		}
	}
	rs.UpdatedAt = now.UTC()
	return tripped
}

// ReleaseExpiredCooldown moves TRIPPED back to NORMAL once the cooldown elapsed.
func (rs *RiskState) ReleaseExpiredCooldown(now time.Time) bool {
	if rs.Phase != PhaseTripped || now.Before(rs.CooldownUntil) {
		return false
	}
	rs.release(now)
	return true
}

// ReleaseManually clears both the breaker and a manual halt.
func (rs *RiskState) ReleaseManually(now time.Time) {
	rs.ManualHalt = false
	if rs.Phase == PhaseTripped {
		rs.release(now)
	}
}

// HaltForDay enters the daily-loss stop regime.
func (rs *RiskState) HaltForDay(now time.Time) {
	if rs.Phase == PhaseNormal {
		rs.Phase = PhaseHaltedForDay
		rs.UpdatedAt = now.UTC()
	}
}

// ReleaseExposure removes a settled trade's cost from its category bucket.
func (rs *RiskState) ReleaseExposure(asset Asset, expiry time.Time, costCents int) {
	cat := Category(asset, expiry)
	if v, ok := rs.Exposure[cat]; ok {
		if v -= costCents; v > 0 {
			rs.Exposure[cat] = v
		} else {
			delete(rs.Exposure, cat)
		}
	}
}

// TrippedDuration is how long the breaker has been (or was) active.
func (rs *RiskState) TrippedDuration(now time.Time) time.Duration {
	if rs.TrippedAt.IsZero() {
		return 0
	}
	return now.Sub(rs.TrippedAt)
}

func (rs *RiskState) release(now time.Time) {
	rs.Phase = PhaseNormal
	rs.BreakerActive = false
	rs.ConsecutiveLosses = 0
	rs.CooldownUntil = time.Time{}
	rs.UpdatedAt = now.UTC()
}

// BreakerEvent is one line of circuit-breaker-history.jsonl.
type BreakerEvent struct {
	Timestamp       time.Time     `json:"timestamp"`
	Type            string        `json:"type"` // "trigger" | "release"
	Threshold       int           `json:"threshold,omitempty"`
	Streak          int           `json:"streak,omitempty"`
	Reason          ReleaseReason `json:"reason,omitempty"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
}
