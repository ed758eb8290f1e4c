package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/engine"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound run id 不存在。
var ErrRunNotFound = errors.New("backtest: run not found")

// ResultStore 管理 backtest_runs/trades/equity/dropped_orders 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Path() string { return s.path }

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbols TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			initial_cash REAL NOT NULL,
			final_equity REAL NOT NULL DEFAULT 0,
			total_return REAL NOT NULL DEFAULT 0,
			sharpe REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			summary_json TEXT,
			message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity REAL NOT NULL,
			commission REAL NOT NULL,
			profit REAL NOT NULL,
			win INTEGER NOT NULL,
			entry_at INTEGER,
			exit_at INTEGER,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			cash REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_dropped_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity REAL NOT NULL,
			reason TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_dropped_run ON backtest_dropped_orders(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, strategy, symbols, timeframe, status, start_ts, end_ts, initial_cash,
			final_equity, config_json, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, joinSymbols(run.Symbols), run.Timeframe, run.Status,
		run.Start.UnixMilli(), unixMillis(run.End), run.InitialCash, run.InitialCash,
		string(cfgJSON), run.Message, now, now)
	return err
}

func bytesOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func completedAt(status string, now int64) interface{} {
	if status == RunStatusDone || status == RunStatusFailed {
		return now
	}
	return nil
}

// UpdateRunSummary 更新状态与指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, summary performance.Summary, message string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateRunSummary(ctx, tx, id, status, summary, message)
	})
}

// SaveResult 在同一事务内写入成交、权益曲线、丢弃订单并把 run 标记为 done；任一步失败整体回滚。
func (s *ResultStore) SaveResult(ctx context.Context, runID string, res Result) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTrades(ctx, tx, runID, res.Trades); err != nil {
			return fmt.Errorf("写入成交: %w", err)
		}
		if err := insertEquity(ctx, tx, runID, res.Curve); err != nil {
			return fmt.Errorf("写入权益曲线: %w", err)
		}
		if err := insertDropped(ctx, tx, runID, res.Dropped); err != nil {
			return fmt.Errorf("写入丢弃订单: %w", err)
		}
		return updateRunSummary(ctx, tx, runID, RunStatusDone, res.Summary, res.Message())
	})
}

func updateRunSummary(ctx context.Context, tx *sql.Tx, id, status string, summary performance.Summary, message string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	completed := completedAt(status, now)
	_, err = tx.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, final_equity=?, total_return=?, sharpe=?, max_drawdown=?, trades=?,
		    summary_json=?, message=?, updated_at=?,
		    completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, summary.FinalEquity, summary.TotalReturn, summary.Sharpe, summary.MaxDrawdown,
		summary.Trades.TotalTrades, bytesOrNil(summaryJSON), message, now,
		completed, completed, id)
	return err
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	completed := completedAt(status, now)
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`, status, message, now, completed, completed, id)
	return err
}

// InsertTrades 批量写入已平仓交易。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []portfolio.Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertTrades(ctx, tx, runID, trades) })
}

// InsertEquity 批量写入权益曲线。
func (s *ResultStore) InsertEquity(ctx context.Context, runID string, curve portfolio.EquityCurve) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertEquity(ctx, tx, runID, curve) })
}

// InsertDropped 写入因缺价被丢弃的订单。
func (s *ResultStore) InsertDropped(ctx context.Context, runID string, dropped []engine.DroppedOrder) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertDropped(ctx, tx, runID, dropped) })
}

func insertTrades(ctx context.Context, tx *sql.Tx, runID string, trades []portfolio.Trade) error {
	return batch(ctx, tx, `
		INSERT INTO backtest_trades
			(run_id, symbol, entry_price, exit_price, quantity, commission, profit, win, entry_at, exit_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(trades), func(i int) []any {
		t := trades[i]
		return []any{runID, t.Symbol, t.EntryPrice, t.ExitPrice, t.Quantity, t.Commission, t.Profit,
			boolToInt(t.Win), unixMillis(t.EntryTime), unixMillis(t.ExitTime)}
	})
}

func insertEquity(ctx context.Context, tx *sql.Tx, runID string, curve portfolio.EquityCurve) error {
	return batch(ctx, tx, `INSERT INTO backtest_equity (run_id, ts, equity, cash) VALUES (?, ?, ?, ?)`,
		len(curve), func(i int) []any {
			p := curve[i]
			return []any{runID, p.Time.UnixMilli(), p.Equity, p.Cash}
		})
}

func insertDropped(ctx context.Context, tx *sql.Tx, runID string, dropped []engine.DroppedOrder) error {
	return batch(ctx, tx, `
		INSERT INTO backtest_dropped_orders (run_id, ts, symbol, action, quantity, reason)
		VALUES (?, ?, ?, ?, ?, ?)`, len(dropped), func(i int) []any {
		d := dropped[i]
		return []any{runID, d.Time.UnixMilli(), d.Order.Symbol, string(d.Order.Action), d.Order.Quantity, d.Reason}
	})
}

func (s *ResultStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func batch(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `id, strategy, symbols, timeframe, status, start_ts, end_ts, initial_cash,
	config_json, summary_json, message, created_at, updated_at, completed_at`

// ListRuns 按创建时间倒序。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]portfolio.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, entry_price, exit_price, quantity, commission, profit, win, entry_at, exit_at
		FROM backtest_trades WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []portfolio.Trade
	for rows.Next() {
		var (
			t             portfolio.Trade
			win           int
			entry, exitTs int64
		)
		if err := rows.Scan(&t.Symbol, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Commission,
			&t.Profit, &win, &entry, &exitTs); err != nil {
			return nil, err
		}
		t.Win = win == 1
		t.EntryTime = timeFromMillis(entry)
		t.ExitTime = timeFromMillis(exitTs)
		list = append(list, t)
	}
	return list, rows.Err()
}

func (s *ResultStore) ListEquity(ctx context.Context, runID string) (portfolio.EquityCurve, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, equity, cash FROM backtest_equity WHERE run_id=? ORDER BY ts ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var curve portfolio.EquityCurve
	for rows.Next() {
		var (
			p  portfolio.EquityPoint
			ts int64
		)
		if err := rows.Scan(&ts, &p.Equity, &p.Cash); err != nil {
			return nil, err
		}
		p.Time = timeFromMillis(ts)
		curve = append(curve, p)
	}
	return curve, rows.Err()
}

func (s *ResultStore) ListDropped(ctx context.Context, runID string) ([]engine.DroppedOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, symbol, action, quantity, reason FROM backtest_dropped_orders WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []engine.DroppedOrder
	for rows.Next() {
		var (
			d      engine.DroppedOrder
			ts     int64
			action string
		)
		if err := rows.Scan(&ts, &d.Order.Symbol, &action, &d.Order.Quantity, &d.Reason); err != nil {
			return nil, err
		}
		d.Time = timeFromMillis(ts)
		d.Order.Action = broker.Action(action)
		list = append(list, d)
	}
	return list, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run                  Run
		symbols, cfgStr      string
		summaryStr           sql.NullString
		startTS, endTS       int64
		createdAt, updatedAt int64
		completed            sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Strategy, &symbols, &run.Timeframe, &run.Status,
		&startTS, &endTS, &run.InitialCash, &cfgStr, &summaryStr, &run.Message,
		&createdAt, &updatedAt, &completed); err != nil {
		return Run{}, err
	}
	run.Symbols = splitSymbols(symbols)
	run.Start = timeFromMillis(startTS)
	run.End = timeFromMillis(endTS)
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completed.Valid {
		run.CompletedAt = timeFromMillis(completed.Int64)
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return Run{}, err
	}
	if summaryStr.Valid && summaryStr.String != "" {
		if err := json.Unmarshal([]byte(summaryStr.String), &run.Summary); err != nil {
			return Run{}, err
		}
	} else {
		run.Summary = performance.Summary{InitialCash: run.InitialCash, FinalEquity: run.InitialCash}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
