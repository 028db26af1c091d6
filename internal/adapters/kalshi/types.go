package kalshi

import "time"

// Wire types del trade API v2. Precios en centavos enteros,
// timestamps RFC3339. Campos desconocidos se ignoran.

type marketsResponse struct {
	Markets []wireMarket `json:"markets"`
	Cursor  string       `json:"cursor"`
}

type marketResponse struct {
	Market wireMarket `json:"market"`
}

type wireMarket struct {
	Ticker       string    `json:"ticker"`
	EventTicker  string    `json:"event_ticker"`
	MarketType   string    `json:"market_type"` // "binary"
	Status       string    `json:"status"`
	FloorStrike  float64   `json:"floor_strike"`
	CloseTime    time.Time `json:"close_time"`
	YesBid       int       `json:"yes_bid"`
	YesAsk       int       `json:"yes_ask"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	Liquidity    int64     `json:"liquidity"`
}

type createOrderRequest struct {
	Action        string `json:"action"` // "buy"
	ClientOrderID string `json:"client_order_id"`
	Count         int    `json:"count"`
	Side          string `json:"side"` // "yes" | "no"
	Ticker        string `json:"ticker"`
	Type          string `json:"type"` // "limit"
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
	ExpirationTs  int64  `json:"expiration_ts,omitempty"` // pasado inmediato ⇒ IOC
}

type orderResponse struct {
	Order wireOrder `json:"order"`
}

type wireOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Status         string `json:"status"` // resting | canceled | executed | pending
	TakerFillCount int    `json:"taker_fill_count"`
	RemainingCount int    `json:"remaining_count"`
}

type balanceResponse struct {
	Balance int `json:"balance"` // centavos
}
