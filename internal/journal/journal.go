// File: internal/journal/journal.go
// ============================================
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    strategy TEXT NOT NULL,
    size REAL NOT NULL,
    price REAL NOT NULL,
    pnl REAL,
    executed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
`

// Journal is an append-only sqlite archive of every recorded fill. Unlike
// the recovery snapshot it is never truncated.
type Journal struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open creates the database at path if needed and applies the schema.
// ":memory:" gives a private in-memory journal.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db, log: logging.For("journal")}, nil
}

func (j *Journal) Record(ctx context.Context, rec types.TradeRecord) error {
	var pnl sql.NullFloat64
	if rec.PnL != nil {
		pnl = sql.NullFloat64{Float64: *rec.PnL, Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (order_id, symbol, side, strategy, size, price, pnl, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.Symbol, rec.Side, string(rec.Strategy), rec.Size, rec.Price, pnl, rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert trade %d: %w", rec.OrderID, err)
	}
	j.log.WithFields(logrus.Fields{"symbol": rec.Symbol, "order_id": rec.OrderID}).Debug("trade journaled")
	return nil
}

// Recent returns up to limit trades, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]types.TradeRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT order_id, symbol, side, strategy, size, price, pnl, executed_at
		 FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.TradeRecord
	for rows.Next() {
		var (
			rec      types.TradeRecord
			strategy string
			pnl      sql.NullFloat64
			executed int64
		)
		if err := rows.Scan(&rec.OrderID, &rec.Symbol, &rec.Side, &strategy, &rec.Size, &rec.Price, &pnl, &executed); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Strategy = types.StrategyType(strategy)
		rec.Timestamp = time.Unix(0, executed).UTC()
		if pnl.Valid {
			v := pnl.Float64
			rec.PnL = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Count returns the number of journaled trades.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
