package backtest

import (
	"fmt"
	"time"
)

type SizingMode string

const (
	SizingEqualWeight SizingMode = "equal_weight"
	SizingVolTarget10 SizingMode = "vol_target_10"
	SizingKelly       SizingMode = "kelly"
)

// RiskParams bound a single simulation. Validated once, immutable afterwards.
type RiskParams struct {
	StopPct                   float64    `json:"stop_pct" toml:"stop_pct"`
	TakePct                   float64    `json:"take_pct" toml:"take_pct"`
	TrailingPct               float64    `json:"trailing_pct" toml:"trailing_pct"`
	PositionSizing            SizingMode `json:"position_sizing" toml:"position_sizing"`
	MaxRiskPerTradePct        float64    `json:"max_risk_per_trade_pct" toml:"max_risk_per_trade_pct"`
	MaxPortfolioDrawdownPct   float64    `json:"max_portfolio_drawdown_pct" toml:"max_portfolio_drawdown_pct"`
	DailyLossLimitPct         float64    `json:"daily_loss_limit_pct" toml:"daily_loss_limit_pct"`
	CooldownDaysAfterLoss     int        `json:"cooldown_days_after_loss" toml:"cooldown_days_after_loss"`
	MaxConsecutiveLosses      int        `json:"max_consecutive_losses" toml:"max_consecutive_losses"`
	ScaleDownAfterDrawdownPct float64    `json:"scale_down_after_drawdown_pct" toml:"scale_down_after_drawdown_pct"`
	ScaleDownFactor           float64    `json:"scale_down_factor" toml:"scale_down_factor"`
	RiskFreeRate              float64    `json:"risk_free_rate" toml:"risk_free_rate"`
}

// DefaultRiskParams mirrors the conservative defaults used for ad-hoc runs.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		StopPct:                   0.08,
		TakePct:                   0.25,
		TrailingPct:               0.10,
		PositionSizing:            SizingEqualWeight,
		MaxRiskPerTradePct:        0.02,
		MaxPortfolioDrawdownPct:   0.25,
		DailyLossLimitPct:         0.05,
		CooldownDaysAfterLoss:     3,
		MaxConsecutiveLosses:      5,
		ScaleDownAfterDrawdownPct: 0.15,
		ScaleDownFactor:           0.5,
		RiskFreeRate:              0.02,
	}
}

func (p RiskParams) Validate() error {
	if p.StopPct <= 0 || p.StopPct >= 1 {
		return fmt.Errorf("stop_pct must be in (0,1), got %v", p.StopPct)
	}
	if p.TakePct <= 0 {
		return fmt.Errorf("take_pct must be positive, got %v", p.TakePct)
	}
	if p.TrailingPct < 0 || p.TrailingPct >= 1 {
		return fmt.Errorf("trailing_pct must be in [0,1), got %v", p.TrailingPct)
	}
	switch p.PositionSizing {
	case SizingEqualWeight, SizingVolTarget10, SizingKelly:
	default:
		return fmt.Errorf("unknown position_sizing mode %q", p.PositionSizing)
	}
	if p.MaxRiskPerTradePct <= 0 || p.MaxRiskPerTradePct > 1 {
		return fmt.Errorf("max_risk_per_trade_pct must be in (0,1], got %v", p.MaxRiskPerTradePct)
	}
	if p.MaxPortfolioDrawdownPct <= 0 || p.MaxPortfolioDrawdownPct > 1 {
		return fmt.Errorf("max_portfolio_drawdown_pct must be in (0,1], got %v", p.MaxPortfolioDrawdownPct)
	}
	if p.DailyLossLimitPct < 0 || p.DailyLossLimitPct > 1 {
		return fmt.Errorf("daily_loss_limit_pct must be in [0,1], got %v", p.DailyLossLimitPct)
	}
	if p.CooldownDaysAfterLoss < 0 {
		return fmt.Errorf("cooldown_days_after_loss must be >= 0, got %d", p.CooldownDaysAfterLoss)
	}
	if p.MaxConsecutiveLosses < 0 {
		return fmt.Errorf("max_consecutive_losses must be >= 0, got %d", p.MaxConsecutiveLosses)
	}
	if p.ScaleDownAfterDrawdownPct < 0 || p.ScaleDownAfterDrawdownPct > 1 {
		return fmt.Errorf("scale_down_after_drawdown_pct must be in [0,1], got %v", p.ScaleDownAfterDrawdownPct)
	}
	if p.ScaleDownFactor <= 0 || p.ScaleDownFactor > 1 {
		return fmt.Errorf("scale_down_factor must be in (0,1], got %v", p.ScaleDownFactor)
	}
	if p.RiskFreeRate < 0 {
		return fmt.Errorf("risk_free_rate must be >= 0, got %v", p.RiskFreeRate)
	}
	return nil
}

// Trade is one append-only ledger entry, full or partial exit.
type Trade struct {
	EntryDate   time.Time `json:"entry_date"`
	ExitDate    time.Time `json:"exit_date"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Shares      int64     `json:"shares"`
	PnL         float64   `json:"pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	ExitReason  string    `json:"exit_reason"`
	HoldingDays int       `json:"holding_days"`
	Partial     bool      `json:"partial"`
}

// EquityPoint is one simulated day of the equity curve.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

type EquityCurve []EquityPoint

// Final returns the last equity value, or the fallback when empty.
func (c EquityCurve) Final(fallback float64) float64 {
	if len(c) == 0 {
		return fallback
	}
	return c[len(c)-1].Equity
}

// Metrics summarize a finished run.
type Metrics struct {
	CAGR        float64 `json:"cagr"`
	Sharpe      float64 `json:"sharpe"`
	MaxDD       float64 `json:"max_dd"`
	HitRatio    float64 `json:"hit_ratio"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	TotalTrades int     `json:"total_trades"`
	WinTrades   int     `json:"win_trades"`
	LossTrades  int     `json:"loss_trades"`
}

// RiskSummary aggregates guardrail outcomes over a run.
type RiskSummary struct {
	MaxDrawdownPct       float64  `json:"max_drawdown_pct"`
	MaxDailyLossPct      float64  `json:"max_daily_loss_pct"`
	MaxConsecutiveLosses int      `json:"max_consecutive_losses"`
	LargestLossAmount    float64  `json:"largest_loss_amount"`
	LargestLossPct       float64  `json:"largest_loss_pct"`
	TotalTrades          int      `json:"total_trades"`
	TradingHalted        bool     `json:"trading_halted"`
	HaltReason           string   `json:"halt_reason,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
	EndingEquity         float64  `json:"ending_equity"`
}

// Result bundles everything a run produces.
type Result struct {
	Metrics      Metrics     `json:"metrics"`
	EquityCurve  EquityCurve `json:"equity_curve"`
	RiskSummary  RiskSummary `json:"risk_summary"`
	Trades       []Trade     `json:"trades"`
	DailyReturns []float64   `json:"daily_returns"`
}
