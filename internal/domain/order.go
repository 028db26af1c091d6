package domain

// OrderRequest is sent to the exchange order gateway. IOC-equivalent limit buy:
// the order either crosses immediately or is cancelled by the short expiration.
type OrderRequest struct {
	ClientOrderID string // UUID, idempotency key on the venue
	Ticker        string
	Side          Side
	PriceCents    int
	Count         int
}

// OrderResult is the venue's view of a submitted order.
type OrderResult struct {
	OrderID     string
	Status      string // "executed" | "resting" | "canceled" | "pending"
	FilledCount int
}

// Terminal reports whether the venue status is final.
func (r OrderResult) Terminal() bool {
	switch r.Status {
	case "executed", "canceled":
		return true
	}
	return false
}
