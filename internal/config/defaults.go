package config

import "kquant/internal/backtest"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9980"
	defaultDataDir          = "data"
	defaultDataHistoryDays  = 365
	defaultInitialCapital   = 10_000_000
	defaultTransactionBps   = 15
	defaultSlippageBps      = 10
	defaultStorePath        = "data/kquant.db"
	defaultMonteCarloRuns   = 1000
	defaultMaxOpenPositions = 5
	defaultDailyLossLimit   = 0.05
	defaultPollSeconds      = 10
	defaultPositionSeconds  = 15
	defaultRiskSeconds      = 30
	defaultMarketOpen       = "09:00"
	defaultMarketClose      = "15:30"
	defaultTimezone         = "Asia/Seoul"
	defaultStrategyPath     = "configs/strategies.yaml"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Data.applyDefaults()
	c.Backtest.applyDefaults()
	c.Trading.applyDefaults()
	c.Strategies.applyDefaults()
	c.Risk = riskWithDefaults(c.Risk)
}

// riskWithDefaults fills each unset risk field from the stock parameters so
// a partial risk section still validates.
func riskWithDefaults(p backtest.RiskParams) backtest.RiskParams {
	d := backtest.DefaultRiskParams()
	if p.StopPct == 0 {
		p.StopPct = d.StopPct
	}
	if p.TakePct == 0 {
		p.TakePct = d.TakePct
	}
	if p.TrailingPct == 0 {
		p.TrailingPct = d.TrailingPct
	}
	if p.PositionSizing == "" {
		p.PositionSizing = d.PositionSizing
	}
	if p.MaxRiskPerTradePct == 0 {
		p.MaxRiskPerTradePct = d.MaxRiskPerTradePct
	}
	if p.MaxPortfolioDrawdownPct == 0 {
		p.MaxPortfolioDrawdownPct = d.MaxPortfolioDrawdownPct
	}
	if p.DailyLossLimitPct == 0 {
		p.DailyLossLimitPct = d.DailyLossLimitPct
	}
	if p.CooldownDaysAfterLoss == 0 {
		p.CooldownDaysAfterLoss = d.CooldownDaysAfterLoss
	}
	if p.MaxConsecutiveLosses == 0 {
		p.MaxConsecutiveLosses = d.MaxConsecutiveLosses
	}
	if p.ScaleDownAfterDrawdownPct == 0 {
		p.ScaleDownAfterDrawdownPct = d.ScaleDownAfterDrawdownPct
	}
	if p.ScaleDownFactor == 0 {
		p.ScaleDownFactor = d.ScaleDownFactor
	}
	if p.RiskFreeRate == 0 {
		p.RiskFreeRate = d.RiskFreeRate
	}
	return p
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (d *DataConfig) applyDefaults() {
	if d.Dir == "" {
		d.Dir = defaultDataDir
	}
	if d.HistoryDays <= 0 {
		d.HistoryDays = defaultDataHistoryDays
	}
}

func (b *BacktestConfig) applyDefaults() {
	if b.InitialCapital <= 0 {
		b.InitialCapital = defaultInitialCapital
	}
	if b.TransactionCostBps <= 0 {
		b.TransactionCostBps = defaultTransactionBps
	}
	if b.SlippageBps <= 0 {
		b.SlippageBps = defaultSlippageBps
	}
	if b.StorePath == "" {
		b.StorePath = defaultStorePath
	}
	if b.MonteCarloRuns <= 0 {
		b.MonteCarloRuns = defaultMonteCarloRuns
	}
}

func (t *TradingConfig) applyDefaults() {
	if t.SlippageTolerance <= 0 {
		t.SlippageTolerance = 0.002
	}
	if t.MaxOpenPositions <= 0 {
		t.MaxOpenPositions = defaultMaxOpenPositions
	}
	if t.DailyLossLimitPct <= 0 {
		t.DailyLossLimitPct = defaultDailyLossLimit
	}
	if t.PollIntervalSeconds <= 0 {
		t.PollIntervalSeconds = defaultPollSeconds
	}
	if t.PositionIntervalSeconds <= 0 {
		t.PositionIntervalSeconds = defaultPositionSeconds
	}
	if t.RiskIntervalSeconds <= 0 {
		t.RiskIntervalSeconds = defaultRiskSeconds
	}
	if t.MarketOpen == "" {
		t.MarketOpen = defaultMarketOpen
	}
	if t.MarketClose == "" {
		t.MarketClose = defaultMarketClose
	}
	if t.Timezone == "" {
		t.Timezone = defaultTimezone
	}
}

func (s *StrategyConfig) applyDefaults() {
	if s.Path == "" {
		s.Path = defaultStrategyPath
	}
}
