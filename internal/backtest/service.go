package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kquant/internal/analysis/indicator"
	"kquant/internal/logger"
	"kquant/internal/market"
	"kquant/internal/strategy"
)

// RunRequest describes one backtest to execute end to end.
type RunRequest struct {
	Strategy strategy.Definition
	Symbol   string
	Start    time.Time
	End      time.Time

	Risk               RiskParams
	TransactionCostBps int
	SlippageBps        int
	InitialCapital     float64
	KoreanStock        bool

	Indicators indicator.Settings
	Events     *strategy.EventTable

	// MonteCarloRuns > 0 additionally runs a block-bootstrap simulation.
	MonteCarloRuns int
	Seed           int64
}

// RunSummary is what Execute hands back: the persisted record plus the
// optional bootstrap distribution.
type RunSummary struct {
	Record     RunRecord
	MonteCarlo *MonteCarloResult
}

// Service pulls prices, evaluates strategy conditions, replays the engine
// and persists the outcome.
type Service struct {
	provider market.Provider
	store    *Store
	events   *strategy.EventTable
}

func NewService(provider market.Provider, store *Store) *Service {
	return &Service{provider: provider, store: store}
}

// SetEvents installs a default event calendar used when a request carries
// none.
func (s *Service) SetEvents(events *strategy.EventTable) { s.events = events }

func (s *Service) Execute(ctx context.Context, req RunRequest) (RunSummary, error) {
	if s.provider == nil {
		return RunSummary{}, fmt.Errorf("no price provider configured")
	}
	if req.Symbol == "" {
		return RunSummary{}, fmt.Errorf("symbol is required")
	}
	if req.Strategy.Entry == "" {
		return RunSummary{}, fmt.Errorf("strategy %q has no entry condition", req.Strategy.Name)
	}

	series, err := s.provider.PriceHistory(ctx, req.Symbol, req.Start, req.End)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load %s history: %w", req.Symbol, err)
	}
	series, err = series.Normalize()
	if err != nil {
		return RunSummary{}, err
	}

	table, err := indicator.Build(series, req.Indicators)
	if err != nil {
		return RunSummary{}, fmt.Errorf("build indicators for %s: %w", req.Symbol, err)
	}
	events := req.Events
	if events == nil {
		events = s.events
	}
	eval := strategy.NewEvaluator(table, events)

	entries, err := eval.Evaluate(req.Strategy.Entry)
	if err != nil {
		return RunSummary{}, fmt.Errorf("entry condition of %q: %w", req.Strategy.Name, err)
	}
	var exits []bool
	if req.Strategy.Exit != "" {
		if exits, err = eval.Evaluate(req.Strategy.Exit); err != nil {
			return RunSummary{}, fmt.Errorf("exit condition of %q: %w", req.Strategy.Name, err)
		}
	} else {
		exits = make([]bool, len(entries))
	}

	risk := req.Risk
	if req.Strategy.StopPct > 0 {
		risk.StopPct = req.Strategy.StopPct
	}
	if req.Strategy.TakePct > 0 {
		risk.TakePct = req.Strategy.TakePct
	}
	if req.Strategy.TrailingPct > 0 {
		risk.TrailingPct = req.Strategy.TrailingPct
	}

	vol, _ := table.Column("VOL")
	engine, err := NewEngine(EngineConfig{
		Series:             series,
		EntrySignals:       entries,
		ExitSignals:        exits,
		Risk:               risk,
		TransactionCostBps: req.TransactionCostBps,
		SlippageBps:        req.SlippageBps,
		InitialCapital:     req.InitialCapital,
		KoreanStock:        req.KoreanStock,
		AnnualizedVol:      vol,
	})
	if err != nil {
		return RunSummary{}, err
	}

	started := time.Now()
	result, err := engine.Run()
	if err != nil {
		return RunSummary{}, fmt.Errorf("run %q on %s: %w", req.Strategy.Name, req.Symbol, err)
	}
	logger.Infof("backtest %s/%s: %d bars, %d trades, cagr=%.2f%% maxdd=%.2f%% (%s)",
		req.Symbol, req.Strategy.Name, len(series), result.Metrics.TotalTrades,
		result.Metrics.CAGR*100, result.Metrics.MaxDD*100, time.Since(started).Truncate(time.Millisecond))

	rec := RunRecord{
		ID:         uuid.NewString(),
		Strategy:   req.Strategy.Name,
		Symbol:     req.Symbol,
		StartDate:  series[0].Date,
		EndDate:    series[len(series)-1].Date,
		Metrics:    result.Metrics,
		Risk:       result.RiskSummary,
		Curve:      result.EquityCurve,
		Trades:     result.Trades,
		CreatedAt:  started,
		FinishedAt: time.Now(),
	}
	if s.store != nil {
		if err := s.store.SaveRun(ctx, rec); err != nil {
			return RunSummary{}, fmt.Errorf("persist run %s: %w", rec.ID, err)
		}
	}

	summary := RunSummary{Record: rec}
	if req.MonteCarloRuns > 0 {
		mc, err := NewMonteCarlo(MonteCarloConfig{
			Series:             series,
			EntrySignals:       entries,
			ExitSignals:        exits,
			Risk:               risk,
			NRuns:              req.MonteCarloRuns,
			TransactionCostBps: req.TransactionCostBps,
			SlippageBps:        req.SlippageBps,
			InitialCapital:     req.InitialCapital,
			KoreanStock:        req.KoreanStock,
			Seed:               req.Seed,
		})
		if err != nil {
			return RunSummary{}, err
		}
		dist, err := mc.Run()
		if err != nil {
			return RunSummary{}, err
		}
		summary.MonteCarlo = &dist
		logger.Infof("montecarlo %s/%s: %d runs, cagr p5=%.2f%% p50=%.2f%% p95=%.2f%%",
			req.Symbol, req.Strategy.Name, dist.Runs,
			dist.CAGR.P5*100, dist.CAGR.P50*100, dist.CAGR.P95*100)
	}
	return summary, nil
}
