package market

import (
	"context"
	"time"
)

// Provider supplies historical and latest bars. Implementations live outside
// the core; bars must come back sorted ascending by date with no duplicates.
type Provider interface {
	PriceHistory(ctx context.Context, symbol string, start, end time.Time) (Series, error)
	LatestBar(ctx context.Context, symbol string) (Bar, error)
}
