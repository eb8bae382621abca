package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperBroker_SubmitOrder(t *testing.T) {
	t.Run("zero tolerance fills at the rounded limit", func(t *testing.T) {
		broker := NewPaperBroker(0, true, 1)

		buy, err := broker.SubmitOrder(context.Background(), OrderRequest{
			Symbol: "005930", Side: SideBuy, Quantity: 10, Limit: 1234,
		})
		require.NoError(t, err)
		assert.Equal(t, 1235.0, buy.FilledPrice)
		assert.NotEmpty(t, buy.OrderID)

		sell, err := broker.SubmitOrder(context.Background(), OrderRequest{
			Symbol: "005930", Side: SideSell, Quantity: 10, Limit: 1234,
		})
		require.NoError(t, err)
		assert.Equal(t, 1230.0, sell.FilledPrice)
	})

	t.Run("slippage stays inside tolerance", func(t *testing.T) {
		broker := NewPaperBroker(0.01, false, 42)
		for i := 0; i < 50; i++ {
			fill, err := broker.SubmitOrder(context.Background(), OrderRequest{
				Symbol: "AAPL", Side: SideBuy, Quantity: 1, Limit: 100,
			})
			require.NoError(t, err)
			assert.InDelta(t, 100, fill.FilledPrice, 1.0)
		}
	})

	t.Run("rejects non positive quantity", func(t *testing.T) {
		broker := NewPaperBroker(0, false, 1)
		_, err := broker.SubmitOrder(context.Background(), OrderRequest{
			Symbol: "AAPL", Side: SideBuy, Quantity: 0, Limit: 100,
		})
		require.Error(t, err)
	})

	t.Run("rejects order without reference price", func(t *testing.T) {
		broker := NewPaperBroker(0, false, 1)
		_, err := broker.SubmitOrder(context.Background(), OrderRequest{
			Symbol: "AAPL", Side: SideBuy, Quantity: 1,
		})
		require.Error(t, err)
	})
}
