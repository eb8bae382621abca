package backtest

import (
	"math"
)

func (e *Engine) calculateMetrics(curve EquityCurve) Metrics {
	if len(e.trades) == 0 || len(curve) == 0 {
		return Metrics{TotalTrades: len(e.trades)}
	}

	totalReturn := curve[len(curve)-1].Equity/e.initialCapital - 1
	periodDays := e.data[len(e.data)-1].Date.Sub(e.data[0].Date).Hours() / 24
	cagr := totalReturn
	if periodDays > 0 {
		years := periodDays / 365.25
		cagr = math.Pow(1+totalReturn, 1/years) - 1
	}

	sharpe := 0.0
	excess := make([]float64, 0, len(e.dailyReturns))
	for _, r := range e.dailyReturns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		excess = append(excess, r-e.risk.RiskFreeRate/252)
	}
	if sd := sampleStdev(excess); sd > 0 {
		sharpe = mean(excess) / sd * math.Sqrt(252)
	}

	maxDD := maxDrawdown(curve)

	var wins, losses []float64
	for _, t := range e.trades {
		if t.PnL > 0 {
			wins = append(wins, t.PnLPct)
		} else {
			losses = append(losses, t.PnLPct)
		}
	}
	hitRatio := float64(len(wins)) / float64(len(e.trades))

	return Metrics{
		CAGR:        cagr,
		Sharpe:      sharpe,
		MaxDD:       maxDD,
		HitRatio:    hitRatio,
		AvgWin:      mean(wins),
		AvgLoss:     mean(losses),
		TotalTrades: len(e.trades),
		WinTrades:   len(wins),
		LossTrades:  len(losses),
	}
}

func (e *Engine) buildRiskSummary(curve EquityCurve, maxConsecutiveLosses int, halted bool, haltReason string) RiskSummary {
	summary := RiskSummary{
		MaxDrawdownPct:       maxDrawdown(curve),
		MaxConsecutiveLosses: maxConsecutiveLosses,
		TotalTrades:          len(e.trades),
		TradingHalted:        halted,
		HaltReason:           haltReason,
		Warnings:             append([]string(nil), e.warnings...),
		EndingEquity:         curve.Final(e.initialCapital),
	}
	for _, r := range e.dailyReturns {
		if r < summary.MaxDailyLossPct {
			summary.MaxDailyLossPct = r
		}
	}
	for i, t := range e.trades {
		if i == 0 || t.PnL < summary.LargestLossAmount {
			summary.LargestLossAmount = t.PnL
		}
		if i == 0 || t.PnLPct < summary.LargestLossPct {
			summary.LargestLossPct = t.PnLPct
		}
	}
	// A run with only profitable trades reports zero, not the smallest win.
	if summary.LargestLossAmount > 0 {
		summary.LargestLossAmount = 0
	}
	if summary.LargestLossPct > 0 {
		summary.LargestLossPct = 0
	}
	return summary
}

// maxDrawdown is min(equity / running_max - 1), <= 0.
func maxDrawdown(curve EquityCurve) float64 {
	if len(curve) == 0 {
		return 0
	}
	runningMax := curve[0].Equity
	minDD := 0.0
	for _, p := range curve {
		if p.Equity > runningMax {
			runningMax = p.Equity
		}
		if runningMax > 0 {
			dd := p.Equity/runningMax - 1
			if dd < minDD {
				minDD = dd
			}
		}
	}
	return minDD
}

// sampleStdev uses the n-1 denominator.
func sampleStdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
