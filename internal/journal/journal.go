package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/engine"
	"papertrade/internal/store"
)

// Journal 在 SQLite 中保存账户快照：余额、未平仓仓位与历史成交。
// 每次结算性变更后整体覆写，启动时原样恢复。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJournal 初始化账本存储并建表。
func NewJournal(store *store.Store, logger *zap.Logger) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     store.DB(),
		logger: logger,
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	balance REAL NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS open_positions (
	idx INTEGER NOT NULL,
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price REAL NOT NULL,
	margin REAL NOT NULL,
	leverage REAL NOT NULL,
	stop_loss REAL,
	take_profit REAL,
	opened_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_history (
	idx INTEGER NOT NULL,
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	margin REAL NOT NULL,
	leverage REAL NOT NULL,
	pnl REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	opened_at TEXT NOT NULL,
	closed_at TEXT NOT NULL
);
`
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// SaveSnapshot 在单个事务中覆写完整账户快照。
func (j *Journal) SaveSnapshot(ctx context.Context, snap engine.AccountSnapshot) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO account (id, balance, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		snap.Balance, now,
	); err != nil {
		return fmt.Errorf("journal: 写入余额失败: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM open_positions`); err != nil {
		return fmt.Errorf("journal: 清理仓位失败: %w", err)
	}
	for i, p := range snap.Positions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO open_positions (idx, id, symbol, direction, entry_price, margin, leverage, stop_loss, take_profit, opened_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, p.ID, p.Symbol, string(p.Direction), p.EntryPrice, p.Margin, p.Leverage,
			nullableFloat(p.StopLoss), nullableFloat(p.TakeProfit), p.OpenedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("journal: 写入仓位失败: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_history`); err != nil {
		return fmt.Errorf("journal: 清理历史失败: %w", err)
	}
	for i, t := range snap.History {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trade_history (idx, id, symbol, direction, entry_price, exit_price, margin, leverage, pnl, exit_reason, opened_at, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, t.ID, t.Symbol, string(t.Direction), t.EntryPrice, t.ExitPrice, t.Margin, t.Leverage,
			t.PnL, string(t.ExitReason), t.OpenedAt.UTC().Format(time.RFC3339Nano), t.ClosedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("journal: 写入历史成交失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: 提交快照失败: %w", err)
	}
	return nil
}

// LoadSnapshot 读取最近一次保存的快照；不存在时 ok 为 false。
func (j *Journal) LoadSnapshot(ctx context.Context) (engine.AccountSnapshot, bool, error) {
	var snap engine.AccountSnapshot

	var balance float64
	err := j.db.QueryRowContext(ctx, `SELECT balance FROM account WHERE id = 1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("journal: 读取余额失败: %w", err)
	}
	snap.Balance = balance

	positions, err := j.loadPositions(ctx)
	if err != nil {
		return snap, false, err
	}
	snap.Positions = positions

	history, err := j.loadHistory(ctx)
	if err != nil {
		return snap, false, err
	}
	snap.History = history

	return snap, true, nil
}

func (j *Journal) loadPositions(ctx context.Context) ([]engine.Position, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, direction, entry_price, margin, leverage, stop_loss, take_profit, opened_at
		 FROM open_positions ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal: 读取仓位失败: %w", err)
	}
	defer rows.Close()

	var out []engine.Position
	for rows.Next() {
		var p engine.Position
		var direction, openedAt string
		var stopLoss, takeProfit sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Symbol, &direction, &p.EntryPrice, &p.Margin, &p.Leverage,
			&stopLoss, &takeProfit, &openedAt); err != nil {
			return nil, fmt.Errorf("journal: 解析仓位行失败: %w", err)
		}
		p.Direction = engine.Direction(direction)
		if stopLoss.Valid {
			v := stopLoss.Float64
			p.StopLoss = &v
		}
		if takeProfit.Valid {
			v := takeProfit.Float64
			p.TakeProfit = &v
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, openedAt); parseErr == nil {
			p.OpenedAt = ts
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 遍历仓位失败: %w", err)
	}
	return out, nil
}

func (j *Journal) loadHistory(ctx context.Context) ([]engine.Trade, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, direction, entry_price, exit_price, margin, leverage, pnl, exit_reason, opened_at, closed_at
		 FROM trade_history ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal: 读取历史成交失败: %w", err)
	}
	defer rows.Close()

	var out []engine.Trade
	for rows.Next() {
		var t engine.Trade
		var direction, reason, openedAt, closedAt string
		if err := rows.Scan(&t.ID, &t.Symbol, &direction, &t.EntryPrice, &t.ExitPrice, &t.Margin,
			&t.Leverage, &t.PnL, &reason, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("journal: 解析历史行失败: %w", err)
		}
		t.Direction = engine.Direction(direction)
		t.ExitReason = engine.ExitReason(reason)
		if ts, parseErr := time.Parse(time.RFC3339Nano, openedAt); parseErr == nil {
			t.OpenedAt = ts
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, closedAt); parseErr == nil {
			t.ClosedAt = ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 遍历历史失败: %w", err)
	}
	return out, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
