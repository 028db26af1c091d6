package ledger

// ledger.go — vista derivada consultable de trades + settlements.
//
// La verdad sigue siendo trades.jsonl / settlements.json (append-only). Esta
// DB materializa el join para consultas: una fila por trade, con result_status
// actualizado cuando llega el settlement. Reconstruible desde los logs en
// cualquier momento, perderla no pierde datos.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por trade; settlements actualizan result_status y pnl_cents.
CREATE TABLE IF NOT EXISTS trades (
    decision_id   TEXT PRIMARY KEY,
    trade_time    DATETIME NOT NULL,
    ticker        TEXT     NOT NULL,
    asset         TEXT     NOT NULL,
    side          TEXT     NOT NULL,
    price_cents   INTEGER  NOT NULL,
    contracts     INTEGER  NOT NULL,
    cost_cents    INTEGER  NOT NULL,
    edge          REAL     NOT NULL DEFAULT 0,
    strike        REAL     NOT NULL DEFAULT 0,
    expiry        DATETIME,
    order_status  TEXT     NOT NULL,
    latency_ms    INTEGER  NOT NULL DEFAULT 0,
    error_class   TEXT,
    exit_reason   TEXT,
    result_status TEXT     NOT NULL DEFAULT 'pending',
    close_price   REAL,
    pnl_cents     INTEGER,
    settled_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trades_time   ON trades(trade_time DESC);
CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
CREATE INDEX IF NOT EXISTS idx_trades_result ON trades(result_status);
`

// retención: la DB es una vista, no el archivo histórico.
const retention = 120 * 24 * time.Hour

// Ledger implementa ports.LedgerView con SQLite (pure Go, sin CGo).
type Ledger struct {
	db *sql.DB
}

// Open abre (o crea) la DB en la ruta dada, aplica el schema y poda filas viejas.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger.Open: apply schema: %w", err)
	}

	l := &Ledger{db: db}
	l.pruneOld(context.Background())
	return l, nil
}

// UpsertTrade materializa la fila del trade. Reaplicar el mismo record es
// idempotente (mismo decision_id ⇒ misma fila).
func (l *Ledger) UpsertTrade(ctx context.Context, rec domain.TradeRecord) error {
	if rec.DecisionID == "" {
		return fmt.Errorf("ledger.UpsertTrade: record %s has no decision id", rec.Ticker)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO trades
			(decision_id, trade_time, ticker, asset, side, price_cents, contracts,
			 cost_cents, edge, strike, expiry, order_status, latency_ms,
			 error_class, exit_reason, result_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET
			order_status = excluded.order_status,
			latency_ms   = excluded.latency_ms,
			error_class  = excluded.error_class,
			exit_reason  = excluded.exit_reason
	`,
		rec.DecisionID,
		rec.Timestamp.UTC(),
		rec.Ticker,
		string(rec.Asset),
		string(rec.Side),
		rec.PriceCents,
		rec.Contracts,
		rec.CostCents,
		rec.Edge,
		rec.Strike,
		rec.Expiry.UTC(),
		string(rec.OrderStatus),
		rec.LatencyMs,
		rec.ErrorClass,
		nullIfEmpty(rec.ExitReason),
		string(rec.ResultStatus),
	)
	if err != nil {
		return fmt.Errorf("ledger.UpsertTrade: %s: %w", rec.DecisionID, err)
	}
	return nil
}

// ApplySettlement marca won/lost en la fila cuyo (ticker, trade_time) coincide.
// Idempotente: re-aplicar el mismo settlement deja la fila igual.
func (l *Ledger) ApplySettlement(ctx context.Context, s domain.Settlement) error {
	result := domain.ResultLost
	if s.Won {
		result = domain.ResultWon
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE trades
		SET result_status = ?, close_price = ?, pnl_cents = ?, settled_at = ?
		WHERE ticker = ? AND trade_time = ?
	`,
		string(result),
		s.ClosePrice,
		s.PnLCents,
		s.Timestamp.UTC(),
		s.Ticker,
		s.TradeTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger.ApplySettlement: %s: %w", s.Ticker, err)
	}
	return nil
}

// PendingBefore devuelve decision_ids de trades ejecutados, ya expirados y
// todavía pending. Al arranque avisa si quedaron liquidaciones atrasadas.
func (l *Ledger) PendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT decision_id FROM trades
		WHERE result_status = 'pending' AND order_status = 'executed' AND expiry < ?
		ORDER BY expiry
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("ledger.PendingBefore: query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger.PendingBefore: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close cierra la conexión.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retention)
	l.db.ExecContext(ctx, `DELETE FROM trades WHERE trade_time < ?`, cutoff)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
