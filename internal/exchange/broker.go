package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest is what the core hands a broker. Limit <= 0 means market.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Quantity int64
	Limit    float64
}

// Fill is a successful submission result.
type Fill struct {
	OrderID     string
	FilledPrice float64
}

// Broker submits orders to an execution venue. Implementations live outside
// the core; failures come back as errors and are never retried here.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
}

// PaperBroker fills every order immediately at the limit price disturbed by
// a bounded random slippage, then tick-rounds in the unfavorable direction.
type PaperBroker struct {
	SlippageTolerance float64
	KRW               bool

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPaperBroker(slippageTolerance float64, krw bool, seed int64) *PaperBroker {
	if slippageTolerance < 0 {
		slippageTolerance = 0
	}
	return &PaperBroker{
		SlippageTolerance: slippageTolerance,
		KRW:               krw,
		rng:               rand.New(rand.NewSource(seed)),
	}
}

func (p *PaperBroker) SubmitOrder(_ context.Context, req OrderRequest) (Fill, error) {
	if req.Quantity <= 0 {
		return Fill{}, fmt.Errorf("paper broker: quantity must be positive, got %d", req.Quantity)
	}
	if req.Limit <= 0 {
		return Fill{}, fmt.Errorf("paper broker: market orders need a reference price")
	}
	p.mu.Lock()
	slip := (p.rng.Float64()*2 - 1) * p.SlippageTolerance
	p.mu.Unlock()

	price := req.Limit * (1 + slip)
	if req.Side == SideBuy {
		price = RoundUp(price, p.KRW)
	} else {
		price = RoundDown(price, p.KRW)
	}
	return Fill{OrderID: uuid.NewString(), FilledPrice: price}, nil
}
