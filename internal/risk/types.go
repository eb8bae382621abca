package risk

// Level grades overall portfolio danger.
type Level string

const (
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
	LevelExtreme Level = "extreme"
)

// MarketTrend is the coarse regime input to dynamic risk adjustment.
type MarketTrend string

const (
	TrendBullish MarketTrend = "bullish"
	TrendNeutral MarketTrend = "neutral"
	TrendBearish MarketTrend = "bearish"
)

// Position is a live holding as the manager sees it.
type Position struct {
	Symbol       string  `json:"symbol"`
	Shares       int64   `json:"shares"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	StopLoss     float64 `json:"stop_loss"`
}

// Value prefers the live mark, falling back to entry.
func (p Position) Value() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return price * float64(p.Shares)
}

// PortfolioMetrics is the full portfolio-level risk picture.
type PortfolioMetrics struct {
	VaR95         float64                       `json:"var_95"`
	CVaR95        float64                       `json:"cvar_95"`
	Sharpe        float64                       `json:"sharpe"`
	MaxDrawdown   float64                       `json:"max_drawdown"`
	Beta          float64                       `json:"beta"`
	Correlation   map[string]map[string]float64 `json:"correlation,omitempty"`
	Concentration float64                       `json:"concentration"`
	Liquidity     float64                       `json:"liquidity"`
	Level         Level                         `json:"level"`
}

// SizingResult is the recommended position for one prospective entry.
type SizingResult struct {
	Symbol        string  `json:"symbol"`
	Shares        int64   `json:"shares"`
	PositionValue float64 `json:"position_value"`
	PositionPct   float64 `json:"position_pct"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	RiskAmount    float64 `json:"risk_amount"`
	RiskPct       float64 `json:"risk_pct"`
}

// HedgeCandidate is a negatively correlated symbol usable as a hedge.
type HedgeCandidate struct {
	Symbol      string  `json:"symbol"`
	Correlation float64 `json:"correlation"`
	HedgeRatio  float64 `json:"hedge_ratio"`
}

// HedgeAdvice summarizes hedge candidates for one target symbol.
type HedgeAdvice struct {
	Target               string           `json:"target"`
	Candidates           []HedgeCandidate `json:"candidates"`
	DiversificationScore float64          `json:"diversification_score"`
}
