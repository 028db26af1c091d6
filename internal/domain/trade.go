package domain

import "time"

// Valuation is the model's fair value for one contract at one instant.
type Valuation struct {
	Contract  Contract
	Spot      float64 // spot at evaluation
	Sigma     float64 // hourly log-return vol used
	ProbYes   float64 // P(S_T > K), in [0,1]
	FairYes   int     // cents, round-half-to-even(100·ProbYes), clamped [1,99]
	ValuedAt  time.Time
	SpotStale bool
}

// FairFor returns the fair price in cents for the given side.
func (v Valuation) FairFor(side Side) int {
	if side == SideYes {
		return v.FairYes
	}
	return 100 - v.FairYes
}

// Decision is a sized trade the evaluator wants to open. Consumed by the executor.
type Decision struct {
	ID            string // local UUID, carried through to the trade record
	Contract      Contract
	Side          Side
	PriceCents    int     // limit price = quoted ask at decision time
	Contracts     int     // ≥1
	Edge          float64 // (fair − ask) / ask
	KellyFraction float64 // fraction of bankroll actually used
	Spot          float64
	Sigma         float64
	DecidedAt     time.Time
	ExitOf        string // non-empty when this closes a position (exit reason)
	ExitSellSide  bool   // exit decisions sell the held side instead of buying
}

// CostCents is the total cost if fully filled.
func (d Decision) CostCents() int {
	return d.PriceCents * d.Contracts
}

// OrderStatus is the terminal state reported by the exchange for a submitted order.
type OrderStatus string

const (
	OrderSubmitted OrderStatus = "submitted"
	OrderExecuted  OrderStatus = "executed"
	OrderRejected  OrderStatus = "rejected"
)

// ResultStatus is the settlement outcome of an executed trade.
type ResultStatus string

const (
	ResultPending ResultStatus = "pending"
	ResultWon     ResultStatus = "won"
	ResultLost    ResultStatus = "lost"
)

// TradeRecord is one line of trades.jsonl. Append-only, never mutated;
// settlement results are separate appends joined by (ticker, timestamp).
// Field names are stable — external consumers depend on them.
type TradeRecord struct {
	Timestamp      time.Time    `json:"timestamp"`
	Type           string       `json:"type"` // always "trade"
	DecisionID     string       `json:"decision_id,omitempty"`
	Ticker         string       `json:"ticker"`
	Asset          Asset        `json:"asset"`
	Side           Side         `json:"side"`
	PriceCents     int          `json:"price_cents"`
	Contracts      int          `json:"contracts"`
	CostCents      int          `json:"cost_cents"`
	Edge           float64      `json:"edge"`
	KellyFraction  float64      `json:"kelly_fraction,omitempty"`
	Strike         float64      `json:"strike"`
	Expiry         time.Time    `json:"expiry"`
	SpotAtDecision float64      `json:"spot_at_decision"`
	OrderStatus    OrderStatus  `json:"order_status"`
	OrderID        string       `json:"order_id,omitempty"` // exchange order id
	FilledCount    int          `json:"filled_count,omitempty"`
	LatencyMs      int          `json:"latency_ms"`
	ErrorClass     *string      `json:"error_class"`
	ResultStatus   ResultStatus `json:"result_status"`
	ExitReason     string       `json:"exit_reason,omitempty"` // stop_loss | take_profit | time_exit
}

// Settlement joins an executed trade with the authoritative close price.
// Written once per trade after expiry; idempotent on retry.
type Settlement struct {
	Timestamp  time.Time `json:"timestamp"` // when settled
	Type       string    `json:"type"`      // always "settlement"
	Ticker     string    `json:"ticker"`
	TradeTime  time.Time `json:"trade_timestamp"` // pairs with TradeRecord.Timestamp
	Asset      Asset     `json:"asset"`
	Side       Side      `json:"side"`
	Strike     float64   `json:"strike"`
	Expiry     time.Time `json:"expiry"`
	ClosePrice float64   `json:"close_price"` // settle spot
	EntryCents int       `json:"entry_cents"`
	Contracts  int       `json:"contracts"`
	Won        bool      `json:"won"`
	PnLCents   int       `json:"pnl_cents"`
}

// SettlePnLCents computes realised PnL for a binary contract:
// won ⇒ (100 − entry)·contracts, lost ⇒ −entry·contracts.
func SettlePnLCents(won bool, entryCents, contracts int) int {
	if won {
		return (100 - entryCents) * contracts
	}
	return -entryCents * contracts
}

// SideWins resolves a side against the close price. Ties go to NO:
// the condition is "close strictly above strike".
func SideWins(side Side, closePrice, strike float64) bool {
	yesWins := closePrice > strike
	if side == SideYes {
		return yesWins
	}
	return !yesWins
}
