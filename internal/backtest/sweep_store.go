package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/optimize"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrSweepNotFound sweep id 不存在。
var ErrSweepNotFound = errors.New("backtest: sweep not found")

type sweepModel struct {
	ID          string         `gorm:"column:id;primaryKey;size:36"`
	Strategy    string         `gorm:"column:strategy;index"`
	Symbols     string         `gorm:"column:symbols"`
	Timeframe   string         `gorm:"column:timeframe"`
	GridJSON    datatypes.JSON `gorm:"column:grid_json;type:TEXT"`
	BaseJSON    datatypes.JSON `gorm:"column:base_json;type:TEXT"`
	Total       int            `gorm:"column:total"`
	Skipped     int            `gorm:"column:skipped"`
	Failed      int            `gorm:"column:failed"`
	BestSharpe  float64        `gorm:"column:best_sharpe"`
	BestParams  datatypes.JSON `gorm:"column:best_params;type:TEXT"`
	CreatedUnix int64          `gorm:"column:created_at;index"`

	Results []sweepResultModel `gorm:"foreignKey:SweepID"`
}

func (sweepModel) TableName() string { return "sweeps" }

type sweepResultModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	SweepID     string         `gorm:"column:sweep_id;index;size:36"`
	Rank        int            `gorm:"column:result_rank"`
	ComboIndex  int            `gorm:"column:combo_index"`
	ParamsJSON  datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Sharpe      float64        `gorm:"column:sharpe"`
	SummaryJSON datatypes.JSON `gorm:"column:summary_json;type:TEXT"`
}

func (sweepResultModel) TableName() string { return "sweep_results" }

// Sweep 一次参数优化的持久化视图。
type Sweep struct {
	ID        string          `json:"id"`
	Symbols   []string        `json:"symbols"`
	Timeframe string          `json:"timeframe"`
	Grid      optimize.Grid   `json:"grid"`
	Base      strategy.Params `json:"base"`
	CreatedAt time.Time       `json:"created_at"`
	Report    optimize.Report `json:"report"`
}

// SweepStore 基于 gorm + sqlite 保存优化结果。
type SweepStore struct {
	db *gorm.DB
}

func NewSweepStore(path string) (*SweepStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sweep store: 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sweepModel{}, &sweepResultModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &SweepStore{db: db}, nil
}

func (s *SweepStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSweep 在一个事务内写入 sweep 与全部结果。
func (s *SweepStore) SaveSweep(ctx context.Context, sw Sweep) error {
	base, err := json.Marshal(sw.Base)
	if err != nil {
		return err
	}
	model := sweepModel{
		ID:          sw.ID,
		Strategy:    sw.Report.Strategy,
		Symbols:     joinSymbols(sw.Symbols),
		Timeframe:   sw.Timeframe,
		GridJSON:    datatypes.JSON(mustJSONBytes(sw.Grid)),
		BaseJSON:    datatypes.JSON(base),
		Total:       sw.Report.Total,
		Skipped:     sw.Report.Skipped,
		Failed:      sw.Report.Failed,
		CreatedUnix: sw.CreatedAt.UnixMilli(),
	}
	if best, ok := sw.Report.Best(); ok {
		model.BestSharpe = best.Sharpe
		model.BestParams = datatypes.JSON(mustJSONBytes(best.Params))
	}
	for i, r := range sw.Report.Results {
		model.Results = append(model.Results, sweepResultModel{
			Rank:        i + 1,
			ComboIndex:  r.Index,
			ParamsJSON:  datatypes.JSON(mustJSONBytes(r.Params)),
			Sharpe:      r.Sharpe,
			SummaryJSON: datatypes.JSON(mustJSONBytes(r.Summary)),
		})
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListSweeps 按创建时间倒序，不带明细结果。
func (s *SweepStore) ListSweeps(ctx context.Context, limit int) ([]Sweep, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []sweepModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Sweep, 0, len(models))
	for _, m := range models {
		sw, err := m.toSweep()
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, nil
}

// GetSweep 返回 sweep 与按排名排序的结果。
func (s *SweepStore) GetSweep(ctx context.Context, id string) (Sweep, error) {
	var m sweepModel
	err := s.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("result_rank ASC") }).
		Where("id = ?", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Sweep{}, fmt.Errorf("%w: %s", ErrSweepNotFound, id)
	}
	if err != nil {
		return Sweep{}, err
	}
	return m.toSweep()
}

func (m sweepModel) toSweep() (Sweep, error) {
	sw := Sweep{
		ID:        m.ID,
		Symbols:   splitSymbols(m.Symbols),
		Timeframe: m.Timeframe,
		CreatedAt: time.UnixMilli(m.CreatedUnix).UTC(),
		Report: optimize.Report{
			Strategy: m.Strategy,
			Total:    m.Total,
			Skipped:  m.Skipped,
			Failed:   m.Failed,
		},
	}
	if err := unmarshalJSON(m.GridJSON, &sw.Grid); err != nil {
		return Sweep{}, fmt.Errorf("sweep %s grid: %w", m.ID, err)
	}
	if err := unmarshalJSON(m.BaseJSON, &sw.Base); err != nil {
		return Sweep{}, fmt.Errorf("sweep %s base: %w", m.ID, err)
	}
	for _, r := range m.Results {
		res := optimize.Result{Index: r.ComboIndex, Sharpe: r.Sharpe}
		if err := unmarshalJSON(r.ParamsJSON, &res.Params); err != nil {
			return Sweep{}, err
		}
		if err := unmarshalJSON(r.SummaryJSON, &res.Summary); err != nil {
			return Sweep{}, err
		}
		sw.Report.Results = append(sw.Report.Results, res)
	}
	return sw, nil
}

func unmarshalJSON(raw datatypes.JSON, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func mustJSONBytes(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}
