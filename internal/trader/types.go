package trader

import (
	"time"

	"kquant/internal/exchange"
	"kquant/internal/risk"
)

// SignalAction is what a strategy wants done with a symbol.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// TradingSignal is produced by signal generation and consumed exactly once
// by the signal processor.
type TradingSignal struct {
	Timestamp  time.Time    `json:"timestamp"`
	Symbol     string       `json:"symbol"`
	Action     SignalAction `json:"action"`
	Strategy   string       `json:"strategy"`
	Confidence float64      `json:"confidence"`
	EntryPrice float64      `json:"entry_price"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	Size       int64        `json:"size"`
	Reason     string       `json:"reason"`
}

// OrderStatus tracks an order's lifecycle. Filled, Cancelled and Rejected
// are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderPartial   OrderStatus = "partial"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Order is one submission attempt derived from a signal.
type Order struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	Side           exchange.Side `json:"side"`
	Type           string        `json:"type"`
	Quantity       int64         `json:"quantity"`
	Price          float64       `json:"price"`
	Status         OrderStatus   `json:"status"`
	FilledQuantity int64         `json:"filled_quantity"`
	FilledPrice    float64       `json:"filled_price"`
	Timestamp      time.Time     `json:"timestamp"`
	Strategy       string        `json:"strategy"`
	Note           string        `json:"note,omitempty"`
}

// Position is a live holding owned by the engine.
type Position struct {
	Symbol       string    `json:"symbol"`
	Shares       int64     `json:"shares"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	HighestPrice float64   `json:"highest_price"`
	CurrentPrice float64   `json:"current_price"`
	Strategy     string    `json:"strategy"`
}

// PnLPct marks the position against its latest price.
func (p Position) PnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return price/p.EntryPrice - 1
}

// LiveTrade is one completed round trip in the live ledger.
type LiveTrade struct {
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Shares     int64     `json:"shares"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	Reason     string    `json:"reason"`
}

// State is the engine lifecycle.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
	StateEmergencyStopped
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateEmergencyStopped:
		return "emergency_stopped"
	default:
		return "unknown"
	}
}

// EventType tags broadcast updates.
type EventType string

const (
	EventOrder    EventType = "order"
	EventPosition EventType = "position"
	EventRisk     EventType = "risk"
	EventState    EventType = "state"
)

// Event is what subscribers receive. Fields beyond Type/Time are set per
// event kind.
type Event struct {
	Type      EventType              `json:"type"`
	Time      time.Time              `json:"time"`
	State     State                  `json:"state,omitempty"`
	Order     *Order                 `json:"order,omitempty"`
	Positions []Position             `json:"positions,omitempty"`
	Risk      *risk.PortfolioMetrics `json:"risk,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	State      State       `json:"state"`
	Cash       float64     `json:"cash"`
	DailyPnL   float64     `json:"daily_pnl"`
	Positions  []Position  `json:"positions"`
	Orders     []Order     `json:"orders"`
	Trades     []LiveTrade `json:"trades"`
	HaltReason string      `json:"halt_reason,omitempty"`
}
