package risk

import (
	"fmt"
	"math"
	"sort"

	"kquant/internal/market"
)

// Config bounds the manager. Zero values fall back to conservative defaults.
type Config struct {
	TotalCapital     float64 `json:"total_capital" toml:"total_capital"`
	MaxRiskPerTrade  float64 `json:"max_risk_per_trade" toml:"max_risk_per_trade"`
	MaxPortfolioRisk float64 `json:"max_portfolio_risk" toml:"max_portfolio_risk"`
	MaxPositionSize  float64 `json:"max_position_size" toml:"max_position_size"`
	RiskFreeRate     float64 `json:"risk_free_rate" toml:"risk_free_rate"`
}

func (c *Config) applyDefaults() {
	if c.TotalCapital <= 0 {
		c.TotalCapital = 10_000_000
	}
	if c.MaxRiskPerTrade <= 0 {
		c.MaxRiskPerTrade = 0.02
	}
	if c.MaxPortfolioRisk <= 0 {
		c.MaxPortfolioRisk = 0.06
	}
	if c.MaxPositionSize <= 0 {
		c.MaxPositionSize = 0.15
	}
	if c.RiskFreeRate <= 0 {
		c.RiskFreeRate = 0.02
	}
}

// kellyScale keeps only a quarter of the raw Kelly fraction.
const kellyScale = 0.25

// Manager sizes new entries and grades portfolio-level danger. Stateless
// beyond its configuration, so safe for concurrent use.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{cfg: cfg}
}

// Kelly computes the clamped Kelly fraction. Zero when the payoff ratio is
// not positive, never above 0.25.
func Kelly(winRate, winLossRatio float64) float64 {
	if winLossRatio <= 0 {
		return 0
	}
	p := winRate
	q := 1 - p
	kelly := (p*winLossRatio - q) / winLossRatio
	return math.Max(0, math.Min(kelly, 0.25))
}

// PositionSize combines risk-based sizing, Kelly-based sizing and the hard
// per-symbol cap, taking the most conservative of the three. When aggregate
// open risk already exceeds 80% of the portfolio ceiling, the cap is halved.
func (m *Manager) PositionSize(symbol string, entryPrice, stopLoss, winRate, winLossRatio float64, current []Position) (SizingResult, error) {
	if entryPrice <= 0 {
		return SizingResult{}, fmt.Errorf("entry price must be positive, got %.2f", entryPrice)
	}
	riskPerShare := math.Abs(entryPrice - stopLoss)
	if riskPerShare <= 0 {
		return SizingResult{}, fmt.Errorf("stop loss %.2f equals entry price %.2f", stopLoss, entryPrice)
	}

	kelly := Kelly(winRate, winLossRatio)

	riskBasedShares := int64(m.cfg.TotalCapital * m.cfg.MaxRiskPerTrade / riskPerShare)
	kellyBasedShares := int64(m.cfg.TotalCapital * kelly * kellyScale / entryPrice)
	maxShares := int64(m.cfg.TotalCapital * m.cfg.MaxPositionSize / entryPrice)

	if len(current) > 0 && m.openRiskFraction(current) > m.cfg.MaxPortfolioRisk*0.8 {
		maxShares /= 2
	}

	shares := riskBasedShares
	if kellyBasedShares < shares {
		shares = kellyBasedShares
	}
	if maxShares < shares {
		shares = maxShares
	}
	if shares < 0 {
		shares = 0
	}

	value := float64(shares) * entryPrice
	riskAmount := float64(shares) * riskPerShare
	return SizingResult{
		Symbol:        symbol,
		Shares:        shares,
		PositionValue: value,
		PositionPct:   value / m.cfg.TotalCapital,
		StopLoss:      stopLoss,
		TakeProfit:    entryPrice + riskPerShare*winLossRatio,
		RiskAmount:    riskAmount,
		RiskPct:       riskAmount / m.cfg.TotalCapital,
	}, nil
}

// PortfolioRisk grades the whole book from per-symbol daily histories.
// marketSeries is optional; beta defaults to 1.0 without it or on length
// mismatch.
func (m *Manager) PortfolioRisk(positions []Position, histories map[string]market.Series, marketSeries market.Series) PortfolioMetrics {
	if len(positions) == 0 {
		return PortfolioMetrics{Beta: 1.0, Level: LevelLow}
	}

	returns := portfolioReturns(positions, histories)
	var95 := quantile(returns, 0.05)
	cvar95 := tailMean(returns, var95)
	sharpe := m.sharpe(returns)
	maxDD := maxDrawdownFromReturns(returns)
	beta := beta(returns, marketSeries)
	corr := correlationMatrix(positions, histories)
	concentration := concentration(positions)
	liquidity := liquidityScore(positions, histories)

	return PortfolioMetrics{
		VaR95:         var95,
		CVaR95:        cvar95,
		Sharpe:        sharpe,
		MaxDrawdown:   maxDD,
		Beta:          beta,
		Correlation:   corr,
		Concentration: concentration,
		Liquidity:     liquidity,
		Level:         riskLevel(var95, sharpe, concentration),
	}
}

// AdjustForMarketConditions scales a base risk fraction by volatility regime
// and market trend, clamped to [0.3x, 1.5x] of the per-trade ceiling.
func (m *Manager) AdjustForMarketConditions(baseRisk, vixLevel float64, trend MarketTrend) float64 {
	adjusted := baseRisk
	switch {
	case vixLevel > 30:
		adjusted *= 0.5
	case vixLevel > 25:
		adjusted *= 0.7
	case vixLevel < 15:
		adjusted *= 1.2
	}
	switch trend {
	case TrendBearish:
		adjusted *= 0.7
	case TrendBullish:
		adjusted *= 1.1
	}
	lo := m.cfg.MaxRiskPerTrade * 0.3
	hi := m.cfg.MaxRiskPerTrade * 1.5
	return math.Max(lo, math.Min(adjusted, hi))
}

// CorrelationHedge lists symbols correlated below -0.3 with the target,
// ordered from most negative.
func (m *Manager) CorrelationHedge(target string, corr map[string]map[string]float64) HedgeAdvice {
	advice := HedgeAdvice{Target: target}
	row, ok := corr[target]
	if !ok {
		return advice
	}
	for symbol, c := range row {
		if symbol == target || c >= -0.3 {
			continue
		}
		advice.Candidates = append(advice.Candidates, HedgeCandidate{
			Symbol:      symbol,
			Correlation: c,
			HedgeRatio:  math.Abs(c),
		})
	}
	sort.Slice(advice.Candidates, func(i, j int) bool {
		return advice.Candidates[i].Correlation < advice.Candidates[j].Correlation
	})

	var sum float64
	var n int
	for _, r := range corr {
		for _, c := range r {
			sum += c
			n++
		}
	}
	if n > 0 {
		advice.DiversificationScore = 1 - math.Abs(sum/float64(n))
	}
	return advice
}

func (m *Manager) openRiskFraction(positions []Position) float64 {
	var total float64
	for _, p := range positions {
		if p.StopLoss <= 0 || p.EntryPrice <= 0 {
			continue
		}
		total += math.Abs(p.EntryPrice-p.StopLoss) * float64(p.Shares)
	}
	return total / m.cfg.TotalCapital
}

func (m *Manager) sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	daily := m.cfg.RiskFreeRate / 252
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - daily
	}
	sd := stdev(returns)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(252) * mean(excess) / sd
}

// portfolioReturns marks every position to each shared date index and takes
// the day-over-day change of the summed value. The shortest history bounds
// the window.
func portfolioReturns(positions []Position, histories map[string]market.Series) []float64 {
	n := -1
	for _, p := range positions {
		if h, ok := histories[p.Symbol]; ok {
			if n < 0 || len(h) < n {
				n = len(h)
			}
		}
	}
	if n < 2 {
		return nil
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, p := range positions {
			h, ok := histories[p.Symbol]
			if !ok {
				continue
			}
			values[i] += h[i].Close * float64(p.Shares)
		}
	}
	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if values[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	return returns
}

// quantile interpolates linearly between closest ranks, matching the usual
// percentile convention.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	w := rank - float64(lower)
	return sorted[lower]*(1-w) + sorted[upper]*w
}

func tailMean(values []float64, threshold float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v <= threshold {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func maxDrawdownFromReturns(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cum := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := (cum - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

func beta(portfolioReturns []float64, marketSeries market.Series) float64 {
	if len(marketSeries) == 0 {
		return 1.0
	}
	marketReturns := marketSeries.DailyReturns()
	if len(marketReturns) != len(portfolioReturns) || len(marketReturns) < 2 {
		return 1.0
	}
	mp := mean(portfolioReturns)
	mm := mean(marketReturns)
	var cov, varM float64
	for i := range marketReturns {
		cov += (portfolioReturns[i] - mp) * (marketReturns[i] - mm)
		varM += (marketReturns[i] - mm) * (marketReturns[i] - mm)
	}
	cov /= float64(len(marketReturns) - 1)
	varM /= float64(len(marketReturns))
	if varM == 0 {
		return 1.0
	}
	return cov / varM
}

func correlationMatrix(positions []Position, histories map[string]market.Series) map[string]map[string]float64 {
	returnsBySymbol := make(map[string][]float64)
	for _, p := range positions {
		if _, seen := returnsBySymbol[p.Symbol]; seen {
			continue
		}
		if h, ok := histories[p.Symbol]; ok && len(h) > 2 {
			returnsBySymbol[p.Symbol] = h.DailyReturns()
		}
	}
	if len(returnsBySymbol) == 0 {
		return nil
	}
	out := make(map[string]map[string]float64, len(returnsBySymbol))
	for a, ra := range returnsBySymbol {
		out[a] = make(map[string]float64, len(returnsBySymbol))
		for b, rb := range returnsBySymbol {
			out[a][b] = correlation(ra, rb)
		}
	}
	return out
}

func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[:n], b[:n]
	ma, mb := mean(a), mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// concentration is the Herfindahl-Hirschman index of position weights.
func concentration(positions []Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.Value()
	}
	if total == 0 {
		return 1.0
	}
	var hhi float64
	for _, p := range positions {
		w := p.Value() / total
		hhi += w * w
	}
	return hhi
}

// liquidityScore grades positions against average daily volume; a position
// at or below 1% of average volume scores 1.0. Unknown volume scores 0.5.
func liquidityScore(positions []Position, histories map[string]market.Series) float64 {
	var sum float64
	var n int
	for _, p := range positions {
		h, ok := histories[p.Symbol]
		if !ok || len(h) == 0 {
			continue
		}
		avgVolume := mean(h.Volumes())
		if avgVolume <= 0 {
			continue
		}
		ratio := float64(p.Shares) / avgVolume
		sum += math.Max(0, 1-ratio*100)
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// riskLevel maps a weighted score over VaR, Sharpe and concentration
// thresholds to a grade.
func riskLevel(var95, sharpe, concentration float64) Level {
	score := 0
	switch {
	case var95 < -0.05:
		score += 3
	case var95 < -0.03:
		score += 2
	case var95 < -0.01:
		score += 1
	}
	switch {
	case sharpe < 0:
		score += 3
	case sharpe < 0.5:
		score += 2
	case sharpe < 1.0:
		score += 1
	}
	switch {
	case concentration > 0.5:
		score += 3
	case concentration > 0.3:
		score += 2
	case concentration > 0.15:
		score += 1
	}
	switch {
	case score >= 7:
		return LevelExtreme
	case score >= 5:
		return LevelHigh
	case score >= 3:
		return LevelMedium
	default:
		return LevelLow
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}
