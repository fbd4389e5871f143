package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// SQLiteStore persists the trade journal and session events.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.TradeRepository = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time_utc DATETIME NOT NULL,
			session_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty INTEGER NOT NULL,
			price REAL NOT NULL,
			order_id INTEGER NOT NULL DEFAULT 0,
			exec_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			realized_pnl REAL NOT NULL DEFAULT 0,
			position_after INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time_utc DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			event TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, rec *domain.TradeRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trades
			(time_utc, session_id, symbol, side, qty, price, order_id, exec_id, reason, realized_pnl, position_after)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TimeUTC, rec.SessionID, rec.Symbol, rec.Side, rec.Quantity, rec.Price,
		rec.OrderID, rec.ExecID, rec.Reason, rec.RealizedPnL, rec.PositionAfter)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time_utc, session_id, symbol, side, qty, price, order_id, exec_id, reason, realized_pnl, position_after
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		if err := rows.Scan(&rec.ID, &rec.TimeUTC, &rec.SessionID, &rec.Symbol, &rec.Side,
			&rec.Quantity, &rec.Price, &rec.OrderID, &rec.ExecID, &rec.Reason,
			&rec.RealizedPnL, &rec.PositionAfter); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSessionEvent(ctx context.Context, event, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (event, detail) VALUES (?, ?)`, event, detail)
	if err != nil {
		return fmt.Errorf("failed to save session event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
