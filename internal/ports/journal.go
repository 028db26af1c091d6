package ports

import "github.com/alejandrodnm/kalshibot/internal/domain"

// TradeJournal is the single writer of the append-only event streams.
// Every append is durable (fsync) before it returns.
type TradeJournal interface {
	AppendTrade(rec domain.TradeRecord) error
	AppendSettlement(s domain.Settlement) error
	AppendBreakerEvent(ev domain.BreakerEvent) error
	AppendStopLoss(e domain.StopLossEntry) error
	AppendAPIError(e APIErrorEntry) error
}

// APIErrorEntry is one line of api-error-log.jsonl.
type APIErrorEntry struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"` // scanner | executor | oracle
	Class     string `json:"class"`  // network | auth | rate_limit | client | server
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

// AlertSink writes and clears plain-text alert files. Presence of a file
// means an unacknowledged alert; consumers delete after delivery.
type AlertSink interface {
	Raise(name, message string) error
	Clear(name string) error
}
