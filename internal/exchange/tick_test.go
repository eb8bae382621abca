package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickSize(t *testing.T) {
	cases := []struct {
		price float64
		tick  int64
	}{
		{999, 1},
		{1_000, 5},
		{4_999, 5},
		{5_000, 10},
		{9_999, 10},
		{10_000, 50},
		{49_999, 50},
		{50_000, 100},
		{99_999, 100},
		{100_000, 500},
		{499_999, 500},
		{500_000, 1_000},
		{1_234_567, 1_000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.tick, TickSize(tc.price), "price %v", tc.price)
	}
}

func TestRounding(t *testing.T) {
	t.Run("buy rounds up", func(t *testing.T) {
		assert.Equal(t, 1235.0, RoundUp(1234, true))
		assert.Equal(t, 50100.0, RoundUp(50050, true))
	})

	t.Run("sell rounds down", func(t *testing.T) {
		assert.Equal(t, 1230.0, RoundDown(1234, true))
		assert.Equal(t, 50000.0, RoundDown(50050, true))
	})

	t.Run("nearest tick", func(t *testing.T) {
		assert.Equal(t, 1235.0, Round(1234, true))
		assert.Equal(t, 1230.0, Round(1232, true))
	})

	t.Run("already on a tick is unchanged", func(t *testing.T) {
		assert.Equal(t, 1250.0, RoundUp(1250, true))
		assert.Equal(t, 1250.0, RoundDown(1250, true))
	})

	t.Run("non krw passes through", func(t *testing.T) {
		assert.Equal(t, 1234.56, RoundUp(1234.56, false))
		assert.Equal(t, 1234.56, RoundDown(1234.56, false))
	})
}
