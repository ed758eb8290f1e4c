package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol@timeframe 缓存文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 每个 SYMBOL/timeframe 一个 sqlite 文件。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol, timeframe string) (*sql.DB, string, error) {
	if symbol == "" || timeframe == "" {
		return nil, "", fmt.Errorf("symbol/timeframe 不能为空")
	}
	symbol, timeframe = strings.ToUpper(symbol), strings.ToLower(timeframe)
	key := symbol + "@" + timeframe
	path := s.dbPath(symbol, timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureBarSchema(db, symbol, timeframe); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol, timeframe string) string {
	return filepath.Join(s.root, symbol, timeframe+".db")
}

// InsertBars 批量写入（相同 open_time 覆盖）。
func (s *Store) InsertBars(ctx context.Context, symbol, timeframe string, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(bars), s.refreshManifest(ctx, db)
}

// RangeBars 返回 [start, end) 内的 K 线，按时间升序；零值端点表示不限制。
func (s *Store) RangeBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	lo, hi := int64(0), int64(1<<62)
	if !start.IsZero() {
		lo = start.UnixMilli()
	}
	if !end.IsZero() {
		hi = end.UnixMilli()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM bars
		WHERE open_time >= ? AND open_time < ?
		ORDER BY open_time ASC`, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Bar
	for rows.Next() {
		var (
			b  market.Bar
			ms int64
		)
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Symbol = strings.ToUpper(symbol)
		b.Time = time.UnixMilli(ms).UTC()
		list = append(list, b)
	}
	return list, rows.Err()
}

func (s *Store) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	db, path, err := s.db(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,timeframe,COALESCE(min_time,0),COALESCE(max_time,0),rows,COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.Timeframe, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, time.Now().UnixMilli())
	return err
}

func ensureBarSchema(db *sql.DB, symbol, timeframe string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			open_time   INTEGER PRIMARY KEY,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, symbol, timeframe) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe;`, symbol, timeframe)
	return err
}

// StoreSource 把缓存当作只读数据源（data.source=store）。
type StoreSource struct {
	store *Store
}

func NewStoreSource(store *Store) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Name() string { return "store" }

func (s *StoreSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	bars, err := s.store.RangeBars(ctx, req.Symbol, req.Timeframe.Key, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s@%s 缓存为空", ErrSymbolNotFound, req.Symbol, req.Timeframe.Key)
	}
	return bars, nil
}
