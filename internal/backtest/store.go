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

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RunRecord is one persisted backtest run.
type RunRecord struct {
	ID         string
	Strategy   string
	Symbol     string
	StartDate  time.Time
	EndDate    time.Time
	Metrics    Metrics
	Risk       RiskSummary
	Curve      EquityCurve
	Trades     []Trade
	CreatedAt  time.Time
	FinishedAt time.Time
}

type runModel struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	RunID       string `gorm:"column:run_id;uniqueIndex"`
	Strategy    string `gorm:"column:strategy;index"`
	Symbol      string `gorm:"column:symbol;index"`
	StartUnix   int64  `gorm:"column:start_date"`
	EndUnix     int64  `gorm:"column:end_date"`
	MetricsJSON string `gorm:"column:metrics_json"`
	RiskJSON    string `gorm:"column:risk_json"`
	CurveJSON   string `gorm:"column:curve_json"`
	CreatedAt   int64  `gorm:"column:created_at;index"`
	FinishedAt  int64  `gorm:"column:finished_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	RunID      string  `gorm:"column:run_id;index"`
	Symbol     string  `gorm:"column:symbol"`
	EntryUnix  int64   `gorm:"column:entry_date"`
	ExitUnix   int64   `gorm:"column:exit_date"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	Shares     int64   `gorm:"column:shares"`
	PnL        float64 `gorm:"column:pnl"`
	PnLPct     float64 `gorm:"column:pnl_pct"`
	Reason     string  `gorm:"column:reason"`
	HoldDays   int     `gorm:"column:holding_days"`
	Partial    bool    `gorm:"column:partial"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

// Store persists backtest runs and their trades in SQLite via Gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep the pool small so HTTP reads don't fight writers.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return err
	}
	riskJSON, err := json.Marshal(rec.Risk)
	if err != nil {
		return err
	}
	curveJSON, err := json.Marshal(rec.Curve)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	model := runModel{
		RunID:       rec.ID,
		Strategy:    strings.TrimSpace(rec.Strategy),
		Symbol:      strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		StartUnix:   rec.StartDate.Unix(),
		EndUnix:     rec.EndDate.Unix(),
		MetricsJSON: string(metricsJSON),
		RiskJSON:    string(riskJSON),
		CurveJSON:   string(curveJSON),
		CreatedAt:   rec.CreatedAt.UnixMilli(),
		FinishedAt:  rec.FinishedAt.UnixMilli(),
	}
	trades := make([]tradeModel, 0, len(rec.Trades))
	for _, t := range rec.Trades {
		trades = append(trades, tradeModel{
			RunID:      rec.ID,
			Symbol:     model.Symbol,
			EntryUnix:  t.EntryDate.Unix(),
			ExitUnix:   t.ExitDate.Unix(),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Shares:     t.Shares,
			PnL:        t.PnL,
			PnLPct:     t.PnLPct,
			Reason:     t.ExitReason,
			HoldDays:   t.HoldingDays,
			Partial:    t.Partial,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		return tx.CreateInBatches(&trades, 200).Error
	})
}

// ErrRunNotFound reports a run id with no stored row.
var ErrRunNotFound = errors.New("backtest run not found")

func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, fmt.Errorf("store not initialized")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	rec, err := runModelToRecord(model)
	if err != nil {
		return RunRecord{}, err
	}
	trades, err := s.ListTrades(ctx, runID)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Trades = trades
	return rec, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		rec, err := runModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) ListTrades(ctx context.Context, runID string) ([]Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("entry_date ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(models))
	for _, m := range models {
		out = append(out, Trade{
			EntryDate:   time.Unix(m.EntryUnix, 0),
			ExitDate:    time.Unix(m.ExitUnix, 0),
			EntryPrice:  m.EntryPrice,
			ExitPrice:   m.ExitPrice,
			Shares:      m.Shares,
			PnL:         m.PnL,
			PnLPct:      m.PnLPct,
			ExitReason:  m.Reason,
			HoldingDays: m.HoldDays,
			Partial:     m.Partial,
		})
	}
	return out, nil
}

func runModelToRecord(m runModel) (RunRecord, error) {
	rec := RunRecord{
		ID:        m.RunID,
		Strategy:  m.Strategy,
		Symbol:    m.Symbol,
		StartDate: time.Unix(m.StartUnix, 0),
		EndDate:   time.Unix(m.EndUnix, 0),
		CreatedAt: time.UnixMilli(m.CreatedAt),
	}
	if m.FinishedAt > 0 {
		rec.FinishedAt = time.UnixMilli(m.FinishedAt)
	}
	if m.MetricsJSON != "" {
		if err := json.Unmarshal([]byte(m.MetricsJSON), &rec.Metrics); err != nil {
			return RunRecord{}, err
		}
	}
	if m.RiskJSON != "" {
		if err := json.Unmarshal([]byte(m.RiskJSON), &rec.Risk); err != nil {
			return RunRecord{}, err
		}
	}
	if m.CurveJSON != "" {
		if err := json.Unmarshal([]byte(m.CurveJSON), &rec.Curve); err != nil {
			return RunRecord{}, err
		}
	}
	return rec, nil
}
