package config

import (
	"time"

	"kquant/internal/backtest"
	"kquant/internal/risk"
)

// Config is the top-level configuration for kquant.
type Config struct {
	App        AppConfig           `toml:"app"`
	Data       DataConfig          `toml:"data"`
	Backtest   BacktestConfig      `toml:"backtest"`
	Risk       backtest.RiskParams `toml:"risk"`
	Portfolio  risk.Config         `toml:"portfolio"`
	Trading    TradingConfig       `toml:"trading"`
	Strategies StrategyConfig      `toml:"strategies"`
	Notify     NotifyConfig        `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig points at the daily OHLCV source.
type DataConfig struct {
	Dir         string `toml:"dir"`
	HistoryDays int    `toml:"history_days"`
}

type BacktestConfig struct {
	InitialCapital     float64 `toml:"initial_capital"`
	TransactionCostBps int     `toml:"transaction_cost_bps"`
	SlippageBps        int     `toml:"slippage_bps"`
	KoreanStock        bool    `toml:"korean_stock"`
	StorePath          string  `toml:"store_path"`
	MonteCarloRuns     int     `toml:"monte_carlo_runs"`
	Seed               int64   `toml:"seed"`
}

type TradingConfig struct {
	Enabled                 bool     `toml:"enabled"`
	Paper                   bool     `toml:"paper"`
	SlippageTolerance       float64  `toml:"slippage_tolerance"`
	MaxOpenPositions        int      `toml:"max_open_positions"`
	DailyLossLimitPct       float64  `toml:"daily_loss_limit_pct"`
	PollIntervalSeconds     int      `toml:"poll_interval_seconds"`
	PositionIntervalSeconds int      `toml:"position_interval_seconds"`
	RiskIntervalSeconds     int      `toml:"risk_interval_seconds"`
	MarketOpen              string   `toml:"market_open"`
	MarketClose             string   `toml:"market_close"`
	Timezone                string   `toml:"timezone"`
	Symbols                 []string `toml:"symbols"`
}

func (t TradingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

func (t TradingConfig) PositionInterval() time.Duration {
	return time.Duration(t.PositionIntervalSeconds) * time.Second
}

func (t TradingConfig) RiskInterval() time.Duration {
	return time.Duration(t.RiskIntervalSeconds) * time.Second
}

type StrategyConfig struct {
	Path       string `toml:"path"`
	EventsPath string `toml:"events_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
