package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"kquant/internal/market"
	"kquant/internal/strategy"
)

// Settings holds the indicator parameters used to build a lookup table.
// Zero values fall back to the usual defaults.
type Settings struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	SMAShort   int
	SMALong    int
	VolWindow  int
}

func (s *Settings) applyDefaults() {
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
	if s.SMAShort <= 0 {
		s.SMAShort = 20
	}
	if s.SMALong <= 0 {
		s.SMALong = 60
	}
	if s.VolWindow <= 0 {
		s.VolWindow = 20
	}
}

// Build computes the standard strategy columns from a daily price series:
// RSI, MACD with its signal line, short and long SMAs, close, volume and an
// annualized rolling volatility. Lead-in values before an indicator warms up
// are NaN so condition comparisons there never fire.
func Build(series market.Series, cfg Settings) (*strategy.IndicatorTable, error) {
	cfg.applyDefaults()
	if len(series) < cfg.MACDSlow+cfg.MACDSignal {
		return nil, fmt.Errorf("need at least %d bars to build indicators, got %d",
			cfg.MACDSlow+cfg.MACDSignal, len(series))
	}

	closes := series.Closes()
	table := strategy.NewIndicatorTable(series.Dates())

	set := func(name string, values []float64) error {
		return table.Set(name, padLeft(values, len(series)))
	}

	if err := set("close", closes); err != nil {
		return nil, err
	}
	if err := set("volume", series.Volumes()); err != nil {
		return nil, err
	}
	if err := set("RSI", nanLeadIn(talib.Rsi(closes, cfg.RSIPeriod), cfg.RSIPeriod)); err != nil {
		return nil, err
	}

	macd, signal, _ := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	warmup := cfg.MACDSlow + cfg.MACDSignal - 2
	if err := set("MACD", nanLeadIn(macd, warmup)); err != nil {
		return nil, err
	}
	if err := set("MACD_signal", nanLeadIn(signal, warmup)); err != nil {
		return nil, err
	}

	if err := set(fmt.Sprintf("SMA%d", cfg.SMAShort), nanLeadIn(talib.Sma(closes, cfg.SMAShort), cfg.SMAShort-1)); err != nil {
		return nil, err
	}
	if err := set(fmt.Sprintf("SMA%d", cfg.SMALong), nanLeadIn(talib.Sma(closes, cfg.SMALong), cfg.SMALong-1)); err != nil {
		return nil, err
	}

	if err := set("VOL", annualizedVol(series.DailyReturns(), cfg.VolWindow)); err != nil {
		return nil, err
	}
	return table, nil
}

// AnnualizedVol summarizes a whole return series into one annualized figure.
func AnnualizedVol(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := 0.0
	for _, r := range returns {
		m += r
	}
	m /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		d := r - m
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(returns)-1)) * math.Sqrt(252)
}

// annualizedVol is the rolling counterpart, aligned to the bar index that
// produced each return (returns[i] belongs to bar i+1).
func annualizedVol(returns []float64, window int) []float64 {
	out := make([]float64, len(returns)+1)
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window; i <= len(returns); i++ {
		out[i] = AnnualizedVol(returns[i-window : i])
	}
	return out
}

// nanLeadIn replaces the first n values with NaN. go-talib zero-fills the
// warm-up region, which would otherwise compare as a real value.
func nanLeadIn(values []float64, n int) []float64 {
	for i := 0; i < n && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}

func padLeft(values []float64, length int) []float64 {
	if len(values) >= length {
		return values[len(values)-length:]
	}
	out := make([]float64, length)
	offset := length - len(values)
	for i := 0; i < offset; i++ {
		out[i] = math.NaN()
	}
	copy(out[offset:], values)
	return out
}
