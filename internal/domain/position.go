package domain

import "time"

// ExitReason clasifica por qué el position manager cerró una posición.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTimeLimit  ExitReason = "time_exit"
)

// Position es una posición abierta, propiedad del position manager hasta cerrarla.
//
// El precio que se trackea es el precio YES del mercado: para una posición YES
// el valor sube con él, para una NO el valor es el complemento (100 − yes).
// PeakYes es el máximo visto para YES y el mínimo para NO, de modo que
// PeakYes ≥ entrada para YES y ≤ para NO.
type Position struct {
	DecisionID string
	Contract   Contract
	Side       Side
	EntryCents int // precio pagado por el lado comprado, (0,100)
	Contracts  int
	EntryTime  time.Time
	EntryYes   int // precio YES al abrir (entry para YES, 100−entry para NO)
	PeakYes    int // mejor precio YES visto según el lado
	CurrentYes int // último precio YES observado
	TrailArmed bool
	TrailFloor int // en precio YES: piso para YES, techo para NO
}

// NewPosition abre una posición desde un trade ejecutado.
func NewPosition(decisionID string, c Contract, side Side, entryCents, contracts int, at time.Time) Position {
	entryYes := entryCents
	if side == SideNo {
		entryYes = 100 - entryCents
	}
	return Position{
		DecisionID: decisionID,
		Contract:   c,
		Side:       side,
		EntryCents: entryCents,
		Contracts:  contracts,
		EntryTime:  at,
		EntryYes:   entryYes,
		PeakYes:    entryYes,
		CurrentYes: entryYes,
	}
}

// Value devuelve el valor actual en centavos del lado comprado.
func (p Position) Value() int {
	if p.Side == SideYes {
		return p.CurrentYes
	}
	return 100 - p.CurrentYes
}

// PeakValue devuelve el mejor valor visto del lado comprado.
func (p Position) PeakValue() int {
	if p.Side == SideYes {
		return p.PeakYes
	}
	return 100 - p.PeakYes
}

// GainFraction es la ganancia no realizada relativa a la entrada.
func (p Position) GainFraction() float64 {
	if p.EntryCents == 0 {
		return 0
	}
	return float64(p.Value()-p.EntryCents) / float64(p.EntryCents)
}

// DrawdownFromPeak es cuánto retrocedió el valor desde el pico, en centavos.
func (p Position) DrawdownFromPeak() int {
	return p.PeakValue() - p.Value()
}

// Age devuelve la antigüedad de la posición.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// ObservePrice actualiza el precio actual y el pico con una nueva quote YES.
func (p *Position) ObservePrice(yesPrice int) {
	p.CurrentYes = yesPrice
	if p.Side == SideYes {
		if yesPrice > p.PeakYes {
			p.PeakYes = yesPrice
		}
	} else {
		if yesPrice < p.PeakYes {
			p.PeakYes = yesPrice
		}
	}
}

// ArmTrail activa el trailing take-profit con el gap dado (centavos).
// Para YES el piso queda en peak − gap; para NO el techo en peak + gap
// (en precio YES, que para NO baja cuando la posición gana).
func (p *Position) ArmTrail(gapCents int) {
	p.TrailArmed = true
	if p.Side == SideYes {
		p.TrailFloor = p.PeakYes - gapCents
	} else {
		p.TrailFloor = p.PeakYes + gapCents
	}
}

// UpdateTrail sube el piso (o baja el techo) si el pico mejoró.
func (p *Position) UpdateTrail(gapCents int) {
	if !p.TrailArmed {
		return
	}
	if p.Side == SideYes {
		if floor := p.PeakYes - gapCents; floor > p.TrailFloor {
			p.TrailFloor = floor
		}
	} else {
		if ceil := p.PeakYes + gapCents; ceil < p.TrailFloor {
			p.TrailFloor = ceil
		}
	}
}

// TrailPierced indica si el precio actual atravesó el piso/techo del trailing.
func (p Position) TrailPierced() bool {
	if !p.TrailArmed {
		return false
	}
	if p.Side == SideYes {
		return p.CurrentYes < p.TrailFloor
	}
	return p.CurrentYes > p.TrailFloor
}

// StopLossEntry es una línea del stop-loss log, consumida por el analizador
// de eficacia de stops.
type StopLossEntry struct {
	Timestamp  time.Time  `json:"timestamp"`
	Type       ExitReason `json:"type"`
	DecisionID string     `json:"decision_id,omitempty"`
	Ticker     string     `json:"ticker"`
	Asset      Asset      `json:"asset"`
	Side       Side       `json:"side"`
	Strike     float64    `json:"strike"`
	Expiry     time.Time  `json:"expiry"`
	EntryCents int        `json:"entry_cents"`
	ExitCents  int        `json:"exit_cents"`
	PeakCents  int        `json:"peak_cents"`
	Contracts  int        `json:"contracts"`
	GainPct    float64    `json:"gain_pct"` // negativo en stop_loss
	AgeMinutes float64    `json:"age_minutes"`
}
