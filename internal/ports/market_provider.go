package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// MarketProvider obtiene los contratos horarios abiertos desde el exchange.
type MarketProvider interface {
	// FetchHourlyQuotes devuelve una quote por contrato horario abierto
	// de los assets dados. Pagina automáticamente.
	FetchHourlyQuotes(ctx context.Context, assets []domain.Asset) ([]domain.Quote, error)

	// FetchQuote devuelve la quote actual de un ticker concreto.
	FetchQuote(ctx context.Context, ticker string) (domain.Quote, error)
}
