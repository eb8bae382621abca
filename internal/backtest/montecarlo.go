package backtest

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kquant/internal/logger"
	"kquant/internal/market"
)

const defaultBlockSize = 20

// MonteCarloConfig drives a block-bootstrap simulation around the engine.
type MonteCarloConfig struct {
	Series       market.Series
	EntrySignals []bool
	ExitSignals  []bool
	Risk         RiskParams

	NRuns              int // default 1000
	BlockSize          int // default 20 bars
	TransactionCostBps int
	SlippageBps        int
	InitialCapital     float64
	KoreanStock        bool

	Seed    int64
	Workers int // default NumCPU
}

// Percentiles summarize one metric's distribution.
type Percentiles struct {
	P5  float64 `json:"p5"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
}

// MonteCarloResult reports the distribution over successful runs.
type MonteCarloResult struct {
	Runs  int         `json:"runs"`
	CAGR  Percentiles `json:"cagr"`
	MaxDD Percentiles `json:"max_dd"`
}

// MonteCarlo resamples the series with a block bootstrap and replays the
// engine once per iteration. Iterations are independent: each owns its own
// RNG (seeded from Seed + index) and engine, so results do not depend on
// scheduling.
type MonteCarlo struct {
	cfg        MonteCarloConfig
	entryByDay map[int64]bool
	exitByDay  map[int64]bool
}

func NewMonteCarlo(cfg MonteCarloConfig) (*MonteCarlo, error) {
	if len(cfg.Series) == 0 {
		return nil, fmt.Errorf("price data is empty")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk params: %w", err)
	}
	if cfg.NRuns <= 0 {
		cfg.NRuns = 1000
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaultBlockSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if len(cfg.Series) <= cfg.BlockSize {
		return nil, fmt.Errorf("series length %d is too short for block size %d", len(cfg.Series), cfg.BlockSize)
	}
	m := &MonteCarlo{
		cfg:        cfg,
		entryByDay: make(map[int64]bool, len(cfg.Series)),
		exitByDay:  make(map[int64]bool, len(cfg.Series)),
	}
	for i, bar := range cfg.Series {
		day := dayKey(bar.Date)
		if i < len(cfg.EntrySignals) && cfg.EntrySignals[i] {
			m.entryByDay[day] = true
		}
		if i < len(cfg.ExitSignals) && cfg.ExitSignals[i] {
			m.exitByDay[day] = true
		}
	}
	return m, nil
}

// Run executes the configured number of iterations. Individual failures are
// skipped; the result counts how many runs contributed.
func (m *MonteCarlo) Run() (MonteCarloResult, error) {
	cagrs := make([]float64, m.cfg.NRuns)
	maxDDs := make([]float64, m.cfg.NRuns)
	ok := make([]bool, m.cfg.NRuns)

	var failures int64
	var mu sync.Mutex

	var group errgroup.Group
	group.SetLimit(m.cfg.Workers)
	for i := 0; i < m.cfg.NRuns; i++ {
		i := i
		group.Go(func() error {
			rng := rand.New(rand.NewSource(m.cfg.Seed + int64(i)))
			series, entries, exits := m.resample(rng)
			engine, err := NewEngine(EngineConfig{
				Series:             series,
				EntrySignals:       entries,
				ExitSignals:        exits,
				Risk:               m.cfg.Risk,
				TransactionCostBps: m.cfg.TransactionCostBps,
				SlippageBps:        m.cfg.SlippageBps,
				InitialCapital:     m.cfg.InitialCapital,
				KoreanStock:        m.cfg.KoreanStock,
			})
			if err == nil {
				var result Result
				if result, err = engine.Run(); err == nil {
					cagrs[i] = result.Metrics.CAGR
					maxDDs[i] = result.Metrics.MaxDD
					ok[i] = true
					return nil
				}
			}
			mu.Lock()
			failures++
			mu.Unlock()
			logger.Debugf("montecarlo: iteration %d skipped: %v", i, err)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return MonteCarloResult{}, err
	}

	var cagrDist, maxDDDist []float64
	for i := 0; i < m.cfg.NRuns; i++ {
		if ok[i] {
			cagrDist = append(cagrDist, cagrs[i])
			maxDDDist = append(maxDDDist, maxDDs[i])
		}
	}
	if len(cagrDist) == 0 {
		return MonteCarloResult{}, fmt.Errorf("all %d monte carlo iterations failed", m.cfg.NRuns)
	}
	if failures > 0 {
		logger.Warnf("montecarlo: %d/%d iterations skipped", failures, m.cfg.NRuns)
	}
	return MonteCarloResult{
		Runs:  len(cagrDist),
		CAGR:  distribution(cagrDist),
		MaxDD: distribution(maxDDDist),
	}, nil
}

// resample draws len/blockSize block starts uniformly from [0, len-blockSize)
// and concatenates the blocks under a synthetic contiguous date index.
// Entry/exit signals follow their original dates; dates absent from the
// synthetic index signal nothing.
func (m *MonteCarlo) resample(rng *rand.Rand) (market.Series, []bool, []bool) {
	src := m.cfg.Series
	n := len(src)
	block := m.cfg.BlockSize
	nBlocks := n / block

	indices := make([]int, 0, nBlocks*block)
	for b := 0; b < nBlocks; b++ {
		start := rng.Intn(n - block)
		for j := start; j < start+block; j++ {
			indices = append(indices, j)
		}
	}

	out := make(market.Series, len(indices))
	entries := make([]bool, len(indices))
	exits := make([]bool, len(indices))
	for i, idx := range indices {
		bar := src[idx]
		bar.Date = src[0].Date.AddDate(0, 0, i)
		out[i] = bar
		day := dayKey(bar.Date)
		entries[i] = m.entryByDay[day]
		exits[i] = m.exitByDay[day]
	}
	return out, entries, exits
}

func distribution(values []float64) Percentiles {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Percentiles{
		P5:  percentile(sorted, 5),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
	}
}

// percentile interpolates linearly between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}
