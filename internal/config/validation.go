package config

import (
	"fmt"
	"time"
)

func validate(c *Config) error {
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return c.Risk.Validate()
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive")
	}
	if b.TransactionCostBps < 0 || b.TransactionCostBps > 1000 {
		return fmt.Errorf("backtest.transaction_cost_bps out of range [0,1000]")
	}
	if b.SlippageBps < 0 || b.SlippageBps > 1000 {
		return fmt.Errorf("backtest.slippage_bps out of range [0,1000]")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.DailyLossLimitPct <= 0 || t.DailyLossLimitPct >= 1 {
		return fmt.Errorf("trading.daily_loss_limit_pct must be in (0,1)")
	}
	if t.SlippageTolerance < 0 || t.SlippageTolerance > 0.1 {
		return fmt.Errorf("trading.slippage_tolerance out of range [0,0.1]")
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
