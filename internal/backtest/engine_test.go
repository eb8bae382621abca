package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kquant/internal/market"
)

func flatSeries(n int, price float64) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	for i := range s {
		s[i] = market.Bar{
			Date: start.AddDate(0, 0, i),
			Open: price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return s
}

func signalAt(n int, indices ...int) []bool {
	out := make([]bool, n)
	for _, i := range indices {
		out[i] = true
	}
	return out
}

func TestEngine_FlatSeriesRoundTrip(t *testing.T) {
	n := 100
	risk := DefaultRiskParams()
	risk.TakePct = 10.0
	risk.CooldownDaysAfterLoss = 0
	risk.MaxConsecutiveLosses = 0
	risk.ScaleDownAfterDrawdownPct = 0

	engine, err := NewEngine(EngineConfig{
		Series:         flatSeries(n, 100),
		EntrySignals:   signalAt(n, 10),
		ExitSignals:    signalAt(n, 20),
		Risk:           risk,
		InitialCapital: 10_000_000,
		KoreanStock:    true,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, 100.0, trade.EntryPrice)
	assert.Equal(t, 100.0, trade.ExitPrice)
	assert.Equal(t, 0.0, trade.PnL)
	assert.Equal(t, "exit_signal_open", trade.ExitReason)

	// Equity never moves, so the curve is flat and drawdown is zero.
	assert.Equal(t, 0.0, result.Metrics.MaxDD)
	for _, pt := range result.EquityCurve {
		assert.Equal(t, 10_000_000.0, pt.Equity)
	}
}

func TestEngine_NoSignalsNoTrades(t *testing.T) {
	n := 50
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	for i := range s {
		price := 1000 + float64(i)*20 // monotonic rise to ~2000
		s[i] = market.Bar{Date: start.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}

	engine, err := NewEngine(EngineConfig{
		Series:         s,
		Risk:           DefaultRiskParams(),
		InitialCapital: 10_000_000,
		KoreanStock:    true,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Equal(t, 0.0, result.Metrics.MaxDD)
	for _, pt := range result.EquityCurve {
		assert.Equal(t, 10_000_000.0, pt.Equity)
	}
}

func TestEngine_HaltBlocksNewEntries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(day int, o, h, l, c float64) market.Bar {
		return market.Bar{Date: start.AddDate(0, 0, day), Open: o, High: h, Low: l, Close: c, Volume: 1000}
	}
	s := market.Series{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 100, 100, 100),
		bar(2, 100, 100, 80, 80), // gaps through the stop
		bar(3, 80, 80, 80, 80),
		bar(4, 80, 80, 80, 80),
		bar(5, 80, 80, 80, 80),
	}

	risk := DefaultRiskParams()
	risk.MaxRiskPerTradePct = 1.0 // let the capital budget dominate
	risk.MaxPortfolioDrawdownPct = 0.05
	risk.CooldownDaysAfterLoss = 0
	risk.MaxConsecutiveLosses = 0
	risk.ScaleDownAfterDrawdownPct = 0

	engine, err := NewEngine(EngineConfig{
		Series:         s,
		EntrySignals:   signalAt(len(s), 0, 3), // second entry must be refused
		Risk:           risk,
		InitialCapital: 1_000_000,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "stop_loss", result.Trades[0].ExitReason)
	assert.Negative(t, result.Trades[0].PnL)
	assert.True(t, result.RiskSummary.TradingHalted)
	assert.NotEmpty(t, result.RiskSummary.HaltReason)
}

func TestEngine_PartialExitTakesProfitInSteps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(day int, o, h, l, c float64) market.Bar {
		return market.Bar{Date: start.AddDate(0, 0, day), Open: o, High: h, Low: l, Close: c, Volume: 1000}
	}
	s := market.Series{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 100, 100, 100),
		bar(2, 100, 121, 100, 118), // +20 target touched intraday
		bar(3, 118, 119, 117, 118),
		bar(4, 118, 118, 118, 118),
	}

	risk := DefaultRiskParams()
	risk.TakePct = 0.30
	risk.TrailingPct = 0.50
	risk.CooldownDaysAfterLoss = 0
	risk.ScaleDownAfterDrawdownPct = 0

	engine, err := NewEngine(EngineConfig{
		Series:         s,
		EntrySignals:   signalAt(len(s), 0),
		Risk:           risk,
		InitialCapital: 1_000_000,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	var partial *Trade
	for i := range result.Trades {
		if result.Trades[i].Partial {
			partial = &result.Trades[i]
			break
		}
	}
	require.NotNil(t, partial, "expected a partial profit-taking trade")
	assert.Equal(t, "partial_20", partial.ExitReason)
	assert.Equal(t, 120.0, partial.ExitPrice)
	assert.Positive(t, partial.PnL)
}

func TestEngine_RunIsDeterministic(t *testing.T) {
	n := 60
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	price := 10_000.0
	for i := range s {
		if i%7 == 0 {
			price *= 0.97
		} else {
			price *= 1.01
		}
		s[i] = market.Bar{Date: start.AddDate(0, 0, i), Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 5000}
	}
	entries := make([]bool, n)
	exits := make([]bool, n)
	for i := 5; i < n; i += 12 {
		entries[i] = true
	}
	for i := 10; i < n; i += 12 {
		exits[i] = true
	}

	cfg := EngineConfig{
		Series:             s,
		EntrySignals:       entries,
		ExitSignals:        exits,
		Risk:               DefaultRiskParams(),
		TransactionCostBps: 15,
		SlippageBps:        10,
		InitialCapital:     10_000_000,
		KoreanStock:        true,
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	first, err := engine.Run()
	require.NoError(t, err)
	second, err := engine.Run()
	require.NoError(t, err)

	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)

	// Ledger arithmetic holds: ending equity is starting capital plus the
	// sum of all realized trade PnL.
	var total float64
	for _, tr := range first.Trades {
		total += tr.PnL
	}
	assert.InDelta(t, 10_000_000+total, first.EquityCurve.Final(10_000_000), 1e-6)
}

func TestEngine_RejectsBadInput(t *testing.T) {
	t.Run("empty series", func(t *testing.T) {
		_, err := NewEngine(EngineConfig{Risk: DefaultRiskParams(), InitialCapital: 1})
		require.Error(t, err)
	})

	t.Run("invalid risk params", func(t *testing.T) {
		risk := DefaultRiskParams()
		risk.StopPct = 1.5
		_, err := NewEngine(EngineConfig{Series: flatSeries(10, 100), Risk: risk, InitialCapital: 1})
		require.Error(t, err)
	})

	t.Run("non positive capital", func(t *testing.T) {
		_, err := NewEngine(EngineConfig{Series: flatSeries(10, 100), Risk: DefaultRiskParams()})
		require.Error(t, err)
	})
}

func TestEngine_DataGapDefersEntryFill(t *testing.T) {
	n := 40
	series := flatSeries(n, 100)
	series[6] = market.Bar{Date: series[6].Date} // missing OHLC, skipped

	risk := DefaultRiskParams()
	risk.TakePct = 10.0
	risk.CooldownDaysAfterLoss = 0
	risk.MaxConsecutiveLosses = 0
	risk.ScaleDownAfterDrawdownPct = 0

	engine, err := NewEngine(EngineConfig{
		Series:         series,
		EntrySignals:   signalAt(n, 5, 15),
		ExitSignals:    signalAt(n, 25),
		Risk:           risk,
		InitialCapital: 10_000_000,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	// The fill scheduled for the gap bar lands on the next valid open, and
	// later signals still trade normally.
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, series[7].Date, trade.EntryDate)
	assert.Equal(t, series[26].Date, trade.ExitDate)
	assert.Equal(t, "exit_signal_open", trade.ExitReason)
	assert.Equal(t, 19, trade.HoldingDays)
}

func TestEngine_DataGapDefersExitFill(t *testing.T) {
	n := 40
	series := flatSeries(n, 100)
	series[11] = market.Bar{Date: series[11].Date}

	risk := DefaultRiskParams()
	risk.TakePct = 10.0
	risk.CooldownDaysAfterLoss = 0
	risk.MaxConsecutiveLosses = 0
	risk.ScaleDownAfterDrawdownPct = 0

	engine, err := NewEngine(EngineConfig{
		Series:         series,
		EntrySignals:   signalAt(n, 5),
		ExitSignals:    signalAt(n, 10),
		Risk:           risk,
		InitialCapital: 10_000_000,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, series[6].Date, trade.EntryDate)
	assert.Equal(t, series[12].Date, trade.ExitDate)
	assert.Equal(t, "exit_signal_open", trade.ExitReason)
}

func TestEngine_TrailingStopNeverMovesDown(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(day int, o, h, l, c float64) market.Bar {
		return market.Bar{Date: start.AddDate(0, 0, day), Open: o, High: h, Low: l, Close: c, Volume: 1000}
	}
	s := market.Series{
		bar(0, 100, 100, 100, 100), // entry signal
		bar(1, 100, 100, 100, 100), // fill @ 100; stop 92, trailing 90 ignored
		bar(2, 110, 110, 110, 110), // trailing stop 99
		bar(3, 105, 105, 105, 105), // dip: stop must stay 99, not 94.5
		bar(4, 118, 118, 118, 118), // trailing stop 106.2
		bar(5, 108, 108, 108, 108),
		bar(6, 107, 107, 100, 102), // low pierces 106.2
	}

	risk := DefaultRiskParams()
	risk.TakePct = 10.0
	risk.CooldownDaysAfterLoss = 0
	risk.MaxConsecutiveLosses = 0
	risk.ScaleDownAfterDrawdownPct = 0

	engine, err := NewEngine(EngineConfig{
		Series:         s,
		EntrySignals:   signalAt(len(s), 0),
		Risk:           risk,
		InitialCapital: 10_000_000,
	})
	require.NoError(t, err)

	result, err := engine.Run()
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "stop_loss", trade.ExitReason)
	// Exit at the stop ratcheted from the day-4 high, not one recomputed
	// from the day-3 dip.
	assert.InDelta(t, 118*0.9, trade.ExitPrice, 1e-9)
	assert.Positive(t, trade.PnL)
}
