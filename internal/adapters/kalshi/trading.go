package kalshi

import (
	"context"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// trading.go — endpoints autenticados de portfolio: órdenes y balance.
// Implementa ports.OrderGateway.

// iocExpiration hace que una limit order se comporte como immediate-or-cancel:
// el venue cancela lo que no cruce dentro de la ventana.
const iocExpiration = 3 * time.Second

// CreateLimitBuy firma y envía una limit buy IOC-equivalente.
func (c *Client) CreateLimitBuy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return c.createOrder(ctx, "buy", req)
}

// CreateLimitSell cierra contratos en cartera, también IOC.
func (c *Client) CreateLimitSell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return c.createOrder(ctx, "sell", req)
}

func (c *Client) createOrder(ctx context.Context, action string, req domain.OrderRequest) (domain.OrderResult, error) {
	wire := createOrderRequest{
		Action:        action,
		ClientOrderID: req.ClientOrderID,
		Count:         req.Count,
		Side:          string(req.Side),
		Ticker:        req.Ticker,
		Type:          "limit",
		ExpirationTs:  time.Now().Add(iocExpiration).Unix(),
	}
	if req.Side == domain.SideYes {
		wire.YesPrice = req.PriceCents
	} else {
		wire.NoPrice = req.PriceCents
	}

	var resp orderResponse
	if err := c.post(ctx, SourceExecutor, "kalshi.CreateOrder", "/portfolio/orders", wire, &resp); err != nil {
		return domain.OrderResult{}, err
	}
	return mapOrder(resp.Order), nil
}

// GetOrder consulta el estado actual de una orden.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.OrderResult, error) {
	var resp orderResponse
	if err := c.get(ctx, SourceExecutor, "kalshi.GetOrder", "/portfolio/orders/"+orderID, nil, &resp); err != nil {
		return domain.OrderResult{}, err
	}
	return mapOrder(resp.Order), nil
}

// GetBalance devuelve el cash disponible en centavos. Va por el bucket de
// portfolio: el poll por ciclo no compite con los tokens de las órdenes.
func (c *Client) GetBalance(ctx context.Context) (int, error) {
	var resp balanceResponse
	if err := c.get(ctx, SourcePortfolio, "kalshi.GetBalance", "/portfolio/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func mapOrder(o wireOrder) domain.OrderResult {
	return domain.OrderResult{
		OrderID:     o.OrderID,
		Status:      o.Status,
		FilledCount: o.TakerFillCount,
	}
}
