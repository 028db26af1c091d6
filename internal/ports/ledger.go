package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// LedgerView mantiene la vista derivada consultable de trades + settlements.
// El loop vivo es el único escritor; los analizadores leen.
type LedgerView interface {
	// UpsertTrade materializa (o actualiza) la fila de un trade.
	UpsertTrade(ctx context.Context, rec domain.TradeRecord) error

	// ApplySettlement marca el result_status del trade correspondiente.
	ApplySettlement(ctx context.Context, s domain.Settlement) error

	Close() error
}
