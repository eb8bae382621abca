package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kquant/internal/market"
)

func testSeries(n int) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	price := 100.0
	for i := range s {
		if i%4 == 0 {
			price *= 0.99
		} else {
			price *= 1.01
		}
		s[i] = market.Bar{Date: start.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}
	return s
}

func TestBuild(t *testing.T) {
	table, err := Build(testSeries(120), Settings{})
	require.NoError(t, err)

	assert.Equal(t, 120, table.Len())
	for _, name := range []string{"close", "volume", "RSI", "MACD", "MACD_signal", "SMA20", "SMA60", "VOL"} {
		_, ok := table.Column(name)
		assert.True(t, ok, "missing column %s", name)
	}

	t.Run("warm up region is NaN", func(t *testing.T) {
		rsi, _ := table.Column("RSI")
		assert.True(t, math.IsNaN(rsi[0]))
		assert.True(t, math.IsNaN(rsi[13]))
		assert.False(t, math.IsNaN(rsi[14]))

		sma, _ := table.Column("SMA60")
		assert.True(t, math.IsNaN(sma[58]))
		assert.False(t, math.IsNaN(sma[59]))
	})

	t.Run("rsi stays in range", func(t *testing.T) {
		rsi, _ := table.Column("RSI")
		for i := 14; i < len(rsi); i++ {
			assert.GreaterOrEqual(t, rsi[i], 0.0)
			assert.LessOrEqual(t, rsi[i], 100.0)
		}
	})

	t.Run("custom periods change column names", func(t *testing.T) {
		table, err := Build(testSeries(120), Settings{SMAShort: 5, SMALong: 10})
		require.NoError(t, err)
		_, ok := table.Column("SMA5")
		assert.True(t, ok)
		_, ok = table.Column("SMA10")
		assert.True(t, ok)
	})
}

func TestBuild_TooShort(t *testing.T) {
	_, err := Build(testSeries(30), Settings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need at least")
}

func TestAnnualizedVol(t *testing.T) {
	t.Run("too few samples", func(t *testing.T) {
		assert.Equal(t, 0.0, AnnualizedVol(nil))
		assert.Equal(t, 0.0, AnnualizedVol([]float64{0.01}))
	})

	t.Run("constant returns have zero vol", func(t *testing.T) {
		assert.Equal(t, 0.0, AnnualizedVol([]float64{0.01, 0.01, 0.01}))
	})

	t.Run("known value", func(t *testing.T) {
		// Sample stdev of {-0.01, 0.01} is ~0.01414, annualized by sqrt(252).
		got := AnnualizedVol([]float64{-0.01, 0.01})
		want := math.Sqrt(0.0002) * math.Sqrt(252)
		assert.InDelta(t, want, got, 1e-12)
	})
}
