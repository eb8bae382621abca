package backtest

import (
	"fmt"
	"math"
	"time"

	"kquant/internal/exchange"
	"kquant/internal/logger"
	"kquant/internal/market"
)

type partialRule struct {
	threshold float64
	sellPct   float64
	flag      string
}

// defaultPartialRules take half off the table at +20% and another quarter at +40%.
var defaultPartialRules = []partialRule{
	{threshold: 0.20, sellPct: 0.50, flag: "partial_20"},
	{threshold: 0.40, sellPct: 0.25, flag: "partial_40"},
}

// EngineConfig carries everything a single-symbol simulation needs.
type EngineConfig struct {
	Series       market.Series
	EntrySignals []bool
	ExitSignals  []bool
	Risk         RiskParams

	TransactionCostBps int
	SlippageBps        int
	InitialCapital     float64
	KoreanStock        bool

	// AnnualizedVol is an optional column aligned to Series, consumed by the
	// vol_target_10 sizing mode.
	AnnualizedVol []float64
}

// Engine replays entry/exit signal timelines bar by bar against a price
// series. Signals on bar i fill at bar i+1's open; fills carry slippage and
// transaction cost in the unfavorable direction and are tick-rounded.
// Deterministic: identical inputs produce identical ledgers.
type Engine struct {
	data    market.Series
	entries []bool
	exits   []bool
	risk    RiskParams

	transactionCost float64
	slippage        float64
	initialCapital  float64
	korean          bool
	annualizedVol   []float64
	partialRules    []partialRule

	trades       []Trade
	warnings     []string
	dailyReturns []float64
}

type position struct {
	shares          int64
	entryPrice      float64
	entryDate       int // bar index
	stopLoss        float64
	takeProfit      float64
	highestPrice    float64
	investedCapital float64
	partialFired    map[string]bool
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if len(cfg.Series) == 0 {
		return nil, fmt.Errorf("price data is empty")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk params: %w", err)
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", cfg.InitialCapital)
	}
	data, err := cfg.Series.Normalize()
	if err != nil {
		return nil, err
	}
	n := len(data)
	return &Engine{
		data:            data,
		entries:         alignSignals(cfg.EntrySignals, n),
		exits:           alignSignals(cfg.ExitSignals, n),
		risk:            cfg.Risk,
		transactionCost: float64(cfg.TransactionCostBps) / 10000,
		slippage:        float64(cfg.SlippageBps) / 10000,
		initialCapital:  cfg.InitialCapital,
		korean:          cfg.KoreanStock,
		annualizedVol:   cfg.AnnualizedVol,
		partialRules:    defaultPartialRules,
	}, nil
}

func alignSignals(signals []bool, n int) []bool {
	out := make([]bool, n)
	copy(out, signals)
	return out
}

// Run executes the simulation and returns the ledger, curve and summaries.
func (e *Engine) Run() (Result, error) {
	n := len(e.data)
	logger.Infof("backtest: %s -> %s (%d bars)",
		e.data[0].Date.Format("2006-01-02"), e.data[n-1].Date.Format("2006-01-02"), n)

	e.trades = nil
	e.warnings = nil
	e.dailyReturns = make([]float64, 0, n)

	cash := e.initialCapital
	equity := e.initialCapital
	previousEquity := equity

	var pos *position
	pendingEntry := -1
	pendingEntryFraction := 0.0
	pendingExit := -1
	cooldown := 0
	consecutiveLosses := 0
	maxConsecutiveLosses := 0
	tradingHalted := false
	haltReason := ""
	scaleDownActive := false
	sizeMultiplier := 1.0

	curve := make(EquityCurve, 0, n)

	haltLevel := e.initialCapital * (1 - e.risk.MaxPortfolioDrawdownPct)
	scaleDownLevel := e.initialCapital * (1 - e.risk.ScaleDownAfterDrawdownPct)

	recordClose := func(pnl float64) {
		if pnl <= 0 && e.risk.CooldownDaysAfterLoss > 0 {
			cooldown = maxInt(cooldown, e.risk.CooldownDaysAfterLoss)
		}
		if pnl > 0 {
			consecutiveLosses = 0
		} else {
			consecutiveLosses++
		}
		maxConsecutiveLosses = maxInt(maxConsecutiveLosses, consecutiveLosses)
	}

	for i := 0; i < n; i++ {
		bar := e.data[i]
		if !bar.Valid() {
			e.warnings = append(e.warnings,
				fmt.Sprintf("%s skipped due to missing OHLC data", bar.Date.Format("2006-01-02")))
			curve = append(curve, EquityPoint{Date: bar.Date, Equity: equity})
			e.dailyReturns = append(e.dailyReturns, 0)
			continue
		}

		if !tradingHalted && equity <= haltLevel {
			tradingHalted = true
			haltReason = fmt.Sprintf("trading halted on %s after reaching max drawdown %.2f%%",
				bar.Date.Format("2006-01-02"), (1-equity/e.initialCapital)*100)
			e.warnings = append(e.warnings, haltReason)
		}

		// Pending fills scheduled for an earlier bar are deferred here when
		// that bar had invalid OHLC and was skipped; they fill at the next
		// valid open. A due entry blocked by a halt or cooldown is dropped.
		if pendingExit >= 0 && i >= pendingExit {
			if pos != nil {
				exitPrice := e.exitPrice(bar.Open)
				var pnl float64
				cash, equity, pnl, _ = e.closePosition(pos, exitPrice, i, "exit_signal_open", cash)
				pos = nil
				recordClose(pnl)
			}
			pendingExit = -1
		}

		if pendingEntry >= 0 && i >= pendingEntry {
			if pos == nil && !tradingHalted && cooldown == 0 {
				entryPrice := e.entryPrice(bar.Open)
				shares, capitalUsed := e.determineShares(cash, equity, entryPrice, pendingEntryFraction, sizeMultiplier)
				if shares > 0 {
					pos = &position{
						shares:          shares,
						entryPrice:      entryPrice,
						entryDate:       i,
						stopLoss:        entryPrice * (1 - e.risk.StopPct),
						takeProfit:      entryPrice * (1 + e.risk.TakePct),
						highestPrice:    entryPrice,
						investedCapital: capitalUsed,
						partialFired:    make(map[string]bool, len(e.partialRules)),
					}
					cash -= capitalUsed
					logger.Infof("backtest: entered %s @ %.2f (%d shares)",
						bar.Date.Format("2006-01-02"), entryPrice, shares)
				} else {
					e.warnings = append(e.warnings,
						fmt.Sprintf("%s entry skipped (capital or risk budget insufficient)", bar.Date.Format("2006-01-02")))
				}
			}
			pendingEntry = -1
		}

		if pos != nil {
			if bar.High > pos.highestPrice {
				pos.highestPrice = bar.High
			}
			trailingStop := pos.highestPrice * (1 - e.risk.TrailingPct)
			if trailingStop > pos.stopLoss {
				pos.stopLoss = trailingStop
			}

			closedByPartial := false
			closedByPartial, cash, equity = e.evaluatePartialExits(pos, bar.High, bar.Close, i, cash)
			if closedByPartial {
				pos = nil
				pendingExit = -1
			} else {
				exitTriggered := false
				exitReason := ""
				exitLevel := 0.0
				if bar.Low <= pos.stopLoss {
					exitTriggered = true
					exitReason = "stop_loss"
					exitLevel = pos.stopLoss
				} else if bar.High >= pos.takeProfit {
					exitTriggered = true
					exitReason = "take_profit"
					exitLevel = pos.takeProfit
				}
				if exitTriggered {
					execution := e.exitPrice(exitLevel)
					var pnl float64
					cash, equity, pnl, _ = e.closePosition(pos, execution, i, exitReason, cash)
					pos = nil
					pendingExit = -1
					recordClose(pnl)
				} else {
					equity = cash + float64(pos.shares)*bar.Close
				}
			}
		} else {
			equity = cash
		}

		if pos != nil && pendingExit == -1 && e.exits[i] && i+1 < n {
			pendingExit = i + 1
		}

		if pos == nil && pendingEntry == -1 && !tradingHalted && cooldown == 0 && i+1 < n && e.entries[i] {
			fraction := e.positionFraction(i)
			pendingEntry = i + 1
			pendingEntryFraction = math.Max(0, math.Min(1, fraction))
		}

		dailyReturn := 0.0
		if previousEquity != 0 {
			dailyReturn = (equity - previousEquity) / previousEquity
		}
		e.dailyReturns = append(e.dailyReturns, dailyReturn)
		curve = append(curve, EquityPoint{Date: bar.Date, Equity: equity})
		previousEquity = equity

		if dailyReturn <= -e.risk.DailyLossLimitPct && e.risk.DailyLossLimitPct > 0 && e.risk.CooldownDaysAfterLoss > 0 {
			cooldown = maxInt(cooldown, e.risk.CooldownDaysAfterLoss)
			e.warnings = append(e.warnings,
				fmt.Sprintf("%s daily loss %.2f%% breached limit %.2f%%; applying cooldown",
					bar.Date.Format("2006-01-02"), dailyReturn*100, e.risk.DailyLossLimitPct*100))
		}

		if !scaleDownActive && e.risk.ScaleDownAfterDrawdownPct > 0 && equity <= scaleDownLevel {
			scaleDownActive = true
			sizeMultiplier = e.risk.ScaleDownFactor
			e.warnings = append(e.warnings,
				fmt.Sprintf("position sizing scaled to %.0f%% after reaching drawdown buffer on %s",
					sizeMultiplier*100, bar.Date.Format("2006-01-02")))
		}

		if e.risk.MaxConsecutiveLosses > 0 && consecutiveLosses >= e.risk.MaxConsecutiveLosses {
			if e.risk.CooldownDaysAfterLoss > 0 {
				cooldown = maxInt(cooldown, e.risk.CooldownDaysAfterLoss)
			}
			e.warnings = append(e.warnings,
				fmt.Sprintf("%s consecutive loss limit reached; triggering cooldown", bar.Date.Format("2006-01-02")))
			consecutiveLosses = 0
		}

		if cooldown > 0 {
			cooldown--
		}
	}

	if pos != nil {
		finalClose := e.data[n-1].Close
		execution := e.exitPrice(finalClose)
		var pnl float64
		cash, equity, pnl, _ = e.closePosition(pos, execution, n-1, "final_exit", cash)
		if pnl > 0 {
			consecutiveLosses = 0
		} else {
			consecutiveLosses++
		}
		maxConsecutiveLosses = maxInt(maxConsecutiveLosses, consecutiveLosses)
		pos = nil
		if len(curve) > 0 {
			curve[len(curve)-1].Equity = equity
		}
	}

	metrics := e.calculateMetrics(curve)
	summary := e.buildRiskSummary(curve, maxConsecutiveLosses, tradingHalted, haltReason)
	return Result{
		Metrics:      metrics,
		EquityCurve:  curve,
		RiskSummary:  summary,
		Trades:       append([]Trade(nil), e.trades...),
		DailyReturns: append([]float64(nil), e.dailyReturns...),
	}, nil
}

// evaluatePartialExits fires each profit-taking rule at most once per
// position, selling at the tick-rounded target when the intraday high
// reaches it. Returns whether the position fully closed this way.
func (e *Engine) evaluatePartialExits(pos *position, intradayHigh, closePrice float64, barIdx int, cash float64) (bool, float64, float64) {
	closed := false
	for _, rule := range e.partialRules {
		if pos.partialFired[rule.flag] {
			continue
		}
		target := pos.entryPrice * (1 + rule.threshold)
		if intradayHigh < target {
			continue
		}
		sharesToExit := int64(math.Floor(float64(pos.shares) * rule.sellPct))
		if sharesToExit <= 0 {
			pos.partialFired[rule.flag] = true
			continue
		}
		exitPrice := e.exitPrice(target)
		cash += exitPrice * float64(sharesToExit)
		pnl := (exitPrice - pos.entryPrice) * float64(sharesToExit)
		pnlPct := 0.0
		if pos.entryPrice != 0 {
			pnlPct = exitPrice/pos.entryPrice - 1
		}
		e.trades = append(e.trades, Trade{
			EntryDate:   e.data[pos.entryDate].Date,
			ExitDate:    e.data[barIdx].Date,
			EntryPrice:  pos.entryPrice,
			ExitPrice:   exitPrice,
			Shares:      sharesToExit,
			PnL:         pnl,
			PnLPct:      pnlPct,
			ExitReason:  rule.flag,
			HoldingDays: holdingDays(e.data[pos.entryDate].Date, e.data[barIdx].Date),
			Partial:     true,
		})
		pos.shares -= sharesToExit
		pos.investedCapital = math.Max(0, pos.investedCapital-float64(sharesToExit)*pos.entryPrice)
		pos.partialFired[rule.flag] = true
		logger.Infof("backtest: partial exit %s on %s: sold %d shares @ %.2f",
			rule.flag, e.data[barIdx].Date.Format("2006-01-02"), sharesToExit, exitPrice)
		if pos.shares <= 0 {
			closed = true
			break
		}
	}
	equity := cash
	if !closed {
		equity = cash + float64(pos.shares)*closePrice
	}
	return closed, cash, equity
}

// determineShares floors the most conservative of the capital, risk and cash
// budgets into a whole share count.
func (e *Engine) determineShares(cash, equity, entryPrice, fraction, sizeMultiplier float64) (int64, float64) {
	if entryPrice <= 0 {
		return 0, 0
	}
	capitalBudget := math.Min(equity*fraction*sizeMultiplier, cash)
	riskPerShare := entryPrice * e.risk.StopPct
	riskBudget := equity * e.risk.MaxRiskPerTradePct * sizeMultiplier

	sharesByCapital := capitalBudget / entryPrice
	sharesByRisk := sharesByCapital
	if riskPerShare > 0 {
		sharesByRisk = riskBudget / riskPerShare
	}
	sharesByCash := cash / entryPrice

	shares := int64(math.Floor(math.Min(sharesByCapital, math.Min(sharesByRisk, sharesByCash))))
	if shares <= 0 {
		return 0, 0
	}
	return shares, float64(shares) * entryPrice
}

func (e *Engine) entryPrice(price float64) float64 {
	adjusted := price * (1 + e.slippage) * (1 + e.transactionCost)
	return exchange.RoundUp(adjusted, e.korean)
}

func (e *Engine) exitPrice(price float64) float64 {
	adjusted := price * (1 - e.slippage) * (1 - e.transactionCost)
	return exchange.RoundDown(adjusted, e.korean)
}

// positionFraction applies the configured sizing mode at signal time.
func (e *Engine) positionFraction(barIdx int) float64 {
	switch e.risk.PositionSizing {
	case SizingEqualWeight:
		return 1.0
	case SizingVolTarget10:
		if barIdx < len(e.annualizedVol) {
			currentVol := e.annualizedVol[barIdx]
			if currentVol > 0 && !math.IsNaN(currentVol) {
				return math.Min(0.10/currentVol, 1.0)
			}
		}
		return 1.0
	case SizingKelly:
		if len(e.trades) >= 10 {
			var wins, losses []float64
			for _, t := range e.trades {
				if t.PnL > 0 {
					wins = append(wins, t.PnLPct)
				} else {
					losses = append(losses, math.Abs(t.PnLPct))
				}
			}
			winRate := float64(len(wins)) / float64(len(e.trades))
			avgWin := mean(wins)
			avgLoss := mean(losses)
			if avgWin > 0 && avgLoss > 0 {
				kelly := (winRate*avgWin - (1-winRate)*avgLoss) / avgWin
				return math.Max(0, math.Min(kelly*0.5, 1.0))
			}
		}
		return 1.0
	default:
		return 1.0
	}
}

func (e *Engine) closePosition(pos *position, exitPrice float64, barIdx int, reason string, cash float64) (newCash, equity, pnl, pnlPct float64) {
	if pos.shares <= 0 {
		return cash, cash, 0, 0
	}
	cash += exitPrice * float64(pos.shares)
	pnl = (exitPrice - pos.entryPrice) * float64(pos.shares)
	if pos.entryPrice != 0 {
		pnlPct = exitPrice/pos.entryPrice - 1
	}
	e.trades = append(e.trades, Trade{
		EntryDate:   e.data[pos.entryDate].Date,
		ExitDate:    e.data[barIdx].Date,
		EntryPrice:  pos.entryPrice,
		ExitPrice:   exitPrice,
		Shares:      pos.shares,
		PnL:         pnl,
		PnLPct:      pnlPct,
		ExitReason:  reason,
		HoldingDays: holdingDays(e.data[pos.entryDate].Date, e.data[barIdx].Date),
		Partial:     false,
	})
	logger.Infof("backtest: exit %s on %s @ %.2f (%d shares, pnl %+.0f)",
		reason, e.data[barIdx].Date.Format("2006-01-02"), exitPrice, pos.shares, pnl)
	return cash, cash, pnl, pnlPct
}

func holdingDays(entry, exit time.Time) int {
	return int(exit.Sub(entry).Hours() / 24)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
