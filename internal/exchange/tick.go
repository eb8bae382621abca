package exchange

import (
	"github.com/shopspring/decimal"
)

// KRX quotes move in fixed price steps that grow with the price band.
// Prices outside KRW are left untouched.

// TickSize returns the minimum price increment for a KRW price.
func TickSize(price float64) int64 {
	switch {
	case price < 1_000:
		return 1
	case price < 5_000:
		return 5
	case price < 10_000:
		return 10
	case price < 50_000:
		return 50
	case price < 100_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1_000
	}
}

// RoundUp rounds a KRW price up to the next tick. Buys round up so the
// simulated fill is never better than a legal quote.
func RoundUp(price float64, krw bool) float64 {
	if !krw || price <= 0 {
		return price
	}
	tick := decimal.NewFromInt(TickSize(price))
	d := decimal.NewFromFloat(price)
	out, _ := d.Div(tick).Ceil().Mul(tick).Float64()
	return out
}

// RoundDown rounds a KRW price down to the previous tick (sells).
func RoundDown(price float64, krw bool) float64 {
	if !krw || price <= 0 {
		return price
	}
	tick := decimal.NewFromInt(TickSize(price))
	d := decimal.NewFromFloat(price)
	out, _ := d.Div(tick).Floor().Mul(tick).Float64()
	return out
}

// Round rounds a KRW price to the nearest tick.
func Round(price float64, krw bool) float64 {
	if !krw || price <= 0 {
		return price
	}
	tick := decimal.NewFromInt(TickSize(price))
	d := decimal.NewFromFloat(price)
	out, _ := d.Div(tick).Round(0).Mul(tick).Float64()
	return out
}
