package analyze

// convert.go — conversión one-shot de trade logs legados al stream canónico.
//
// Los logs viejos mezclan dos generaciones: "v1" usaba market/qty/status de
// fill y tiempos unix, "v2" ya es el formato canónico de trades.jsonl. El
// convertidor deja exactamente un stream canónico: las líneas v2 pasan tal
// cual y las v1 se mapean campo a campo. Lo irreconocible se salta y se
// cuenta, nunca tumba la conversión.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// ConvertStats resume una pasada de conversión.
type ConvertStats struct {
	Lines     int `json:"lines"`
	Canonical int `json:"canonical"` // v2, copiadas tal cual
	Converted int `json:"converted"` // v1 mapeadas
	Skipped   int `json:"skipped"`
}

// Convert lee un log legado línea a línea y escribe el stream canónico.
func Convert(r io.Reader, w io.Writer) (ConvertStats, error) {
	var stats ConvertStats
	out := bufio.NewWriter(w)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		if !gjson.ValidBytes(line) {
			stats.Skipped++
			continue
		}
		switch {
		case gjson.GetBytes(line, "ticker").Exists():
			// Ya canónico: se copia sin re-serializar para no perturbar
			// campos que esta versión no conozca.
			out.Write(line)
			out.WriteByte('\n')
			stats.Canonical++
		case gjson.GetBytes(line, "market").Exists():
			rec, ok := convertV1(line)
			if !ok {
				stats.Skipped++
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				stats.Skipped++
				continue
			}
			out.Write(data)
			out.WriteByte('\n')
			stats.Converted++
		default:
			stats.Skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("analyze.Convert: scan: %w", err)
	}
	if err := out.Flush(); err != nil {
		return stats, fmt.Errorf("analyze.Convert: flush: %w", err)
	}
	return stats, nil
}

// convertV1 mapea una línea v1 al TradeRecord canónico.
//
//	{"time":1756500000,"market":"KXBTCD-...","side":"YES","price":40,
//	 "qty":5,"status":"filled","strike":80500,"close_time":1756503600}
func convertV1(line []byte) (domain.TradeRecord, bool) {
	r := gjson.ParseBytes(line)

	ticker := r.Get("market").String()
	price := int(r.Get("price").Int())
	qty := int(r.Get("qty").Int())
	if ticker == "" || price <= 0 {
		return domain.TradeRecord{}, false
	}

	rec := domain.TradeRecord{
		Timestamp:      v1Time(r.Get("time")),
		Type:           "trade",
		Ticker:         ticker,
		Asset:          v1Asset(ticker),
		Side:           v1Side(r.Get("side").String()),
		PriceCents:     price,
		Contracts:      qty,
		CostCents:      price * qty,
		Edge:           r.Get("edge").Float(),
		Strike:         r.Get("strike").Float(),
		Expiry:         v1Time(r.Get("close_time")),
		SpotAtDecision: r.Get("spot").Float(),
		LatencyMs:      int(r.Get("latency_ms").Int()),
		ResultStatus:   domain.ResultPending,
	}

	switch r.Get("status").String() {
	case "filled", "executed":
		rec.OrderStatus = domain.OrderExecuted
		rec.FilledCount = qty
	case "rejected", "canceled":
		rec.OrderStatus = domain.OrderRejected
	default:
		rec.OrderStatus = domain.OrderSubmitted
	}
	switch r.Get("result").String() {
	case "won":
		rec.ResultStatus = domain.ResultWon
	case "lost":
		rec.ResultStatus = domain.ResultLost
	}
	return rec, true
}

// v1Time acepta unix segundos, unix milisegundos o RFC3339.
func v1Time(v gjson.Result) time.Time {
	if v.Type == gjson.String {
		if ts, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return ts.UTC()
		}
		return time.Time{}
	}
	n := v.Int()
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 { // milisegundos
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func v1Side(s string) domain.Side {
	if s == "NO" || s == "no" {
		return domain.SideNo
	}
	return domain.SideYes
}

// v1Asset deduce el asset del prefijo del ticker, como hace el scanner.
func v1Asset(ticker string) domain.Asset {
	if strings.HasPrefix(ticker, "KXETH") {
		return domain.AssetETH
	}
	return domain.AssetBTC
}
