package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kquant/internal/market"
)

func TestKelly(t *testing.T) {
	t.Run("zero when payoff ratio is not positive", func(t *testing.T) {
		assert.Equal(t, 0.0, Kelly(0.9, 0))
		assert.Equal(t, 0.0, Kelly(0.9, -1))
	})

	t.Run("never above the 0.25 cap", func(t *testing.T) {
		assert.Equal(t, 0.25, Kelly(0.9, 10))
		assert.LessOrEqual(t, Kelly(0.99, 100), 0.25)
	})

	t.Run("negative edge clamps to zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Kelly(0.2, 1.0))
	})

	t.Run("known value", func(t *testing.T) {
		// p=0.6, b=2 -> (0.6*2 - 0.4) / 2 = 0.4 -> clamped to 0.25
		assert.Equal(t, 0.25, Kelly(0.6, 2))
		// p=0.5, b=1.5 -> (0.75 - 0.5) / 1.5
		assert.InDelta(t, 0.25/1.5, Kelly(0.5, 1.5), 1e-12)
	})
}

func TestManager_PositionSize(t *testing.T) {
	m := NewManager(Config{
		TotalCapital:    10_000_000,
		MaxRiskPerTrade: 0.02,
		MaxPositionSize: 0.15,
	})

	t.Run("takes the most conservative budget", func(t *testing.T) {
		// riskPerShare = 1000; risk budget 200,000 -> 200 shares.
		// kelly(0.5, 2.0)=0.25 -> 10M*0.25*0.25/10000 = 62 shares.
		// cap 10M*0.15/10000 = 150 shares.
		result, err := m.PositionSize("005930", 10_000, 9_000, 0.5, 2.0, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(62), result.Shares)
		assert.Equal(t, 620_000.0, result.PositionValue)
		assert.InDelta(t, 0.062, result.PositionPct, 1e-9)
		assert.Equal(t, 12_000.0, result.TakeProfit)
	})

	t.Run("cap halves when open risk nears the ceiling", func(t *testing.T) {
		// Open risk 500,000 / 10M = 5% > 80% of the 6% ceiling.
		open := []Position{{Symbol: "000660", Shares: 500, EntryPrice: 10_000, CurrentPrice: 10_000, StopLoss: 9_000}}
		// kelly(0.9,10) caps at 0.25 -> 62 shares by value; risk budget is
		// huge (tight stop); the per-symbol cap of 100 shares halves to 50.
		m2 := NewManager(Config{TotalCapital: 10_000_000, MaxRiskPerTrade: 0.2, MaxPositionSize: 0.10})
		result, err := m2.PositionSize("005930", 10_000, 9_900, 0.9, 10, open)
		require.NoError(t, err)
		assert.Equal(t, int64(50), result.Shares)
	})

	t.Run("rejects bad inputs", func(t *testing.T) {
		_, err := m.PositionSize("005930", 0, 0, 0.5, 2, nil)
		require.Error(t, err)
		_, err = m.PositionSize("005930", 10_000, 10_000, 0.5, 2, nil)
		require.Error(t, err)
	})
}

func TestManager_AdjustForMarketConditions(t *testing.T) {
	m := NewManager(Config{MaxRiskPerTrade: 0.02})

	t.Run("panic vix halves risk", func(t *testing.T) {
		assert.InDelta(t, 0.01, m.AdjustForMarketConditions(0.02, 35, TrendNeutral), 1e-12)
	})

	t.Run("elevated vix", func(t *testing.T) {
		assert.InDelta(t, 0.014, m.AdjustForMarketConditions(0.02, 27, TrendNeutral), 1e-12)
	})

	t.Run("calm bullish market scales up", func(t *testing.T) {
		assert.InDelta(t, 0.02*1.2*1.1, m.AdjustForMarketConditions(0.02, 12, TrendBullish), 1e-12)
	})

	t.Run("floor at 0.3x of the ceiling", func(t *testing.T) {
		// 0.02 * 0.5 * 0.7 = 0.007 > floor 0.006; push base lower.
		assert.InDelta(t, 0.006, m.AdjustForMarketConditions(0.01, 35, TrendBearish), 1e-12)
	})

	t.Run("cap at 1.5x of the ceiling", func(t *testing.T) {
		assert.InDelta(t, 0.03, m.AdjustForMarketConditions(0.05, 10, TrendBullish), 1e-12)
	})
}

func historyFromCloses(closes []float64) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, len(closes))
	for i, c := range closes {
		s[i] = market.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100_000}
	}
	return s
}

func TestManager_PortfolioRisk(t *testing.T) {
	m := NewManager(Config{TotalCapital: 10_000_000})

	t.Run("empty book is low risk with unit beta", func(t *testing.T) {
		metrics := m.PortfolioRisk(nil, nil, nil)
		assert.Equal(t, LevelLow, metrics.Level)
		assert.Equal(t, 1.0, metrics.Beta)
	})

	t.Run("single position book", func(t *testing.T) {
		positions := []Position{{Symbol: "005930", Shares: 100, EntryPrice: 70_000, CurrentPrice: 72_000, StopLoss: 65_000}}
		histories := map[string]market.Series{
			"005930": historyFromCloses([]float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105}),
		}
		metrics := m.PortfolioRisk(positions, histories, nil)
		// One symbol owns the whole book.
		assert.InDelta(t, 1.0, metrics.Concentration, 1e-9)
		assert.Equal(t, 1.0, metrics.Beta)
		assert.NotNil(t, metrics.Correlation)
		assert.LessOrEqual(t, metrics.VaR95, 0.0)
		assert.LessOrEqual(t, metrics.CVaR95, metrics.VaR95)
	})
}

func TestRiskLevel(t *testing.T) {
	cases := []struct {
		name          string
		var95, sharpe float64
		concentration float64
		want          Level
	}{
		{"benign", -0.005, 1.5, 0.1, LevelLow},
		{"deep var and weak sharpe", -0.06, -0.5, 0.1, LevelHigh},
		{"everything bad", -0.06, -0.5, 0.6, LevelExtreme},
		{"moderate", -0.02, 0.7, 0.2, LevelMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, riskLevel(tc.var95, tc.sharpe, tc.concentration))
		})
	}
}

func TestManager_CorrelationHedge(t *testing.T) {
	m := NewManager(Config{})
	corr := map[string]map[string]float64{
		"005930": {"005930": 1, "000660": -0.6, "035420": 0.4, "005380": -0.35},
		"000660": {"005930": -0.6, "000660": 1},
	}

	advice := m.CorrelationHedge("005930", corr)
	require.Len(t, advice.Candidates, 2)
	assert.Equal(t, "000660", advice.Candidates[0].Symbol)
	assert.Equal(t, -0.6, advice.Candidates[0].Correlation)
	assert.Equal(t, 0.6, advice.Candidates[0].HedgeRatio)
	assert.Equal(t, "005380", advice.Candidates[1].Symbol)

	t.Run("unknown target has no candidates", func(t *testing.T) {
		assert.Empty(t, m.CorrelationHedge("035720", corr).Candidates)
	})
}
