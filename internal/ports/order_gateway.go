package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// OrderGateway places and verifies real orders on the exchange.
type OrderGateway interface {
	// CreateLimitBuy submits an IOC-style limit buy and returns the venue's
	// first response. The response may be non-terminal.
	CreateLimitBuy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// CreateLimitSell closes out held contracts, IOC-style.
	CreateLimitSell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// GetOrder fetches the current status of an order by exchange ID.
	GetOrder(ctx context.Context, orderID string) (domain.OrderResult, error)

	// GetBalance returns the available cash balance in cents.
	GetBalance(ctx context.Context) (int, error)
}
