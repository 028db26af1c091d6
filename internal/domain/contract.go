package domain

import (
	"fmt"
	"time"
)

// Asset es el subyacente de un contrato horario.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
)

// ParseAsset valida y normaliza un asset.
func ParseAsset(s string) (Asset, error) {
	switch Asset(s) {
	case AssetBTC, AssetETH:
		return Asset(s), nil
	}
	return "", fmt.Errorf("domain.ParseAsset: unknown asset %q", s)
}

// Side es el lado de un contrato binario.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Contract es un mercado binario horario: paga 100¢ si el spot cierra por
// encima del strike a la hora de expiry, 0¢ si no.
// El ticker identifica de forma única (asset, expiry, strike).
type Contract struct {
	Ticker string
	Asset  Asset
	Strike float64   // USD
	Expiry time.Time // UTC, límite horario
}

// HoursToExpiry devuelve las horas restantes hasta expiry desde now.
func (c Contract) HoursToExpiry(now time.Time) float64 {
	return c.Expiry.Sub(now).Hours()
}

// Expired indica si el contrato ya expiró en el instante dado.
func (c Contract) Expired(now time.Time) bool {
	return !now.Before(c.Expiry)
}

// Quote es el precio observado de un contrato en un scan. Efímero: una por ciclo.
// Precios en centavos enteros [1..99]; el book de Kalshi cotiza el lado YES,
// los precios NO se derivan del complemento.
type Quote struct {
	Contract   Contract
	YesBid     int
	YesAsk     int
	Volume     int64 // contratos negociados
	OpenInt    int64
	ObservedAt time.Time
}

// AskFor devuelve el mejor ask para el lado pedido.
// NO ask = 100 − YES bid (comprar NO es casar contra el bid YES).
func (q Quote) AskFor(side Side) int {
	if side == SideYes {
		return q.YesAsk
	}
	return 100 - q.YesBid
}

// BidFor devuelve el mejor bid para el lado pedido.
func (q Quote) BidFor(side Side) int {
	if side == SideYes {
		return q.YesBid
	}
	return 100 - q.YesAsk
}

// Tradable indica si la quote tiene profundidad operable en ambos lados.
func (q Quote) Tradable() bool {
	return q.YesAsk > 0 && q.YesAsk < 100 && q.YesBid >= 0 && q.YesAsk > q.YesBid
}
