package backtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(id string) RunRecord {
	entry := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	exit := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	return RunRecord{
		ID:        id,
		Strategy:  "rsi_reversal",
		Symbol:    "005930",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		Metrics:   Metrics{CAGR: 0.12, Sharpe: 1.1, MaxDD: 0.08, TotalTrades: 1},
		Risk:      RiskSummary{MaxDrawdownPct: 0.08, TotalTrades: 1, EndingEquity: 10_500_000},
		Curve: EquityCurve{
			{Date: entry, Equity: 10_000_000},
			{Date: exit, Equity: 10_500_000},
		},
		Trades: []Trade{{
			EntryDate:   entry,
			ExitDate:    exit,
			EntryPrice:  70_000,
			ExitPrice:   84_000,
			Shares:      50,
			PnL:         700_000,
			PnLPct:      0.20,
			ExitReason:  "partial_20",
			HoldingDays: 10,
			Partial:     true,
		}, {
			EntryDate:   entry,
			ExitDate:    exit,
			EntryPrice:  70_000,
			ExitPrice:   73_500,
			Shares:      100,
			PnL:         350_000,
			PnLPct:      0.05,
			ExitReason:  "take_profit",
			HoldingDays: 10,
		}},
		FinishedAt: time.Now(),
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleRecord("run-1")))

	rec, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "rsi_reversal", rec.Strategy)
	assert.Equal(t, "005930", rec.Symbol)
	assert.Equal(t, 0.12, rec.Metrics.CAGR)
	assert.Equal(t, 10_500_000.0, rec.Risk.EndingEquity)
	require.Len(t, rec.Curve, 2)
	require.Len(t, rec.Trades, 2)
	// Partial exits survive the round trip distinguishable from full ones.
	assert.Equal(t, "partial_20", rec.Trades[0].ExitReason)
	assert.True(t, rec.Trades[0].Partial)
	assert.Equal(t, int64(50), rec.Trades[0].Shares)
	assert.Equal(t, "take_profit", rec.Trades[1].ExitReason)
	assert.False(t, rec.Trades[1].Partial)
	assert.Equal(t, int64(100), rec.Trades[1].Shares)
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := tempStore(t)
	_, err := store.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_SaveRejectsEmptyID(t *testing.T) {
	store := tempStore(t)
	rec := sampleRecord("")
	require.Error(t, store.SaveRun(context.Background(), rec))
}

func TestStore_DuplicateRunIDRejected(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, sampleRecord("run-1")))
	require.Error(t, store.SaveRun(ctx, sampleRecord("run-1")))
}

func TestStore_ListRuns(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	first := sampleRecord("run-1")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := sampleRecord("run-2")
	second.CreatedAt = time.Now()
	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Newest first.
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)

	t.Run("limit clamps to a sane default", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, -5)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})
}

func TestStore_ListTradesEmptyRun(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()
	rec := sampleRecord("run-1")
	rec.Trades = nil
	require.NoError(t, store.SaveRun(ctx, rec))

	trades, err := store.ListTrades(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, trades)
}
