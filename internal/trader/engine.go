package trader

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"kquant/internal/analysis/indicator"
	"kquant/internal/exchange"
	"kquant/internal/logger"
	"kquant/internal/market"
	"kquant/internal/notifier"
	"kquant/internal/pkg/circuit"
	"kquant/internal/risk"
	"kquant/internal/scheduler"
	"kquant/internal/strategy"
)

// Config bounds the live engine. Zero intervals fall back to defaults.
type Config struct {
	Symbols    []string
	Strategies []strategy.Definition

	InitialCapital    float64
	MaxOpenPositions  int
	DailyLossLimitPct float64
	DefaultStopPct    float64
	TrailingPct       float64

	PollInterval     time.Duration
	PositionInterval time.Duration
	RiskInterval     time.Duration
	HistoryDays      int

	Window     scheduler.TradingWindow
	Indicators indicator.Settings
	Events     *strategy.EventTable
}

func (c *Config) applyDefaults() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 10_000_000
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 5
	}
	if c.DailyLossLimitPct <= 0 {
		c.DailyLossLimitPct = 0.05
	}
	if c.DefaultStopPct <= 0 {
		c.DefaultStopPct = 0.08
	}
	if c.TrailingPct <= 0 {
		c.TrailingPct = 0.10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PositionInterval <= 0 {
		c.PositionInterval = 15 * time.Second
	}
	if c.RiskInterval <= 0 {
		c.RiskInterval = 30 * time.Second
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 180
	}
}

// Engine runs four loops over shared guarded state: a market monitor that
// turns fresh bars into signals, a signal processor that turns signals into
// orders, a position manager that ratchets trailing stops, and a risk
// monitor that can stop the whole engine.
type Engine struct {
	cfg      Config
	provider market.Provider
	broker   exchange.Broker
	riskman  *risk.Manager
	notify   notifier.TextNotifier
	feed     *circuit.Breaker
	submit   *circuit.Breaker

	mu         sync.Mutex
	state      State
	cash       float64
	dailyPnL   float64
	positions  map[string]*Position
	orders     []Order
	trades     []LiveTrade
	histories  map[string]market.Series
	haltReason string

	signalCh chan TradingSignal
	stopCh   chan struct{}
	stopOnce *sync.Once
	wg       sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

func NewEngine(cfg Config, provider market.Provider, broker exchange.Broker, riskman *risk.Manager, notify notifier.TextNotifier) *Engine {
	cfg.applyDefaults()
	if notify == nil {
		notify = notifier.Nop{}
	}
	if riskman == nil {
		riskman = risk.NewManager(risk.Config{TotalCapital: cfg.InitialCapital})
	}
	e := &Engine{
		cfg:         cfg,
		provider:    provider,
		broker:      broker,
		riskman:     riskman,
		notify:      notify,
		feed:        circuit.NewBreaker("market-data", 3, time.Minute),
		submit:      circuit.NewBreaker("order-submission", 3, time.Minute),
		state:       StateStopped,
		positions:   make(map[string]*Position),
		histories:   make(map[string]market.Series),
		subscribers: make(map[int]chan Event),
	}
	// Three consecutive failures of the same dependency escalate from log
	// lines to an operator alert.
	alert := func(name string, from, to circuit.State) {
		if to != circuit.StateOpen {
			return
		}
		if err := e.notify.SendText(fmt.Sprintf("⚠️ %s failing repeatedly, circuit opened", name)); err != nil {
			logger.Warnf("notify %s breaker open: %v", name, err)
		}
	}
	e.feed.SetStateChangeHandler(alert)
	e.submit.SetStateChangeHandler(alert)
	return e
}

// Start moves Stopped -> Running and launches the four loops. A non-empty
// symbols argument overrides the configured watch list.
func (e *Engine) Start(symbols []string) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is %s, can only start from stopped", e.state)
	}
	if len(symbols) > 0 {
		e.cfg.Symbols = symbols
	}
	if len(e.cfg.Symbols) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("no symbols to trade")
	}
	e.state = StateRunning
	e.cash = e.cfg.InitialCapital
	e.dailyPnL = 0
	e.haltReason = ""
	e.positions = make(map[string]*Position)
	e.orders = nil
	e.trades = nil
	e.signalCh = make(chan TradingSignal, 100)
	e.stopCh = make(chan struct{})
	e.stopOnce = new(sync.Once)
	e.mu.Unlock()

	e.wg.Add(4)
	go e.marketMonitorLoop()
	go e.signalProcessorLoop()
	go e.positionManagerLoop()
	go e.riskMonitorLoop()

	logger.Infof("trading engine started: %d symbols, %d strategies", len(e.cfg.Symbols), len(e.cfg.Strategies))
	e.broadcast(Event{Type: EventState, Time: time.Now(), State: StateRunning})
	return nil
}

// Stop ends all loops cooperatively, which may take up to one polling
// interval, then optionally liquidates.
func (e *Engine) Stop(closePositions bool) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine is %s, nothing to stop", e.state)
	}
	e.state = StateStopping
	stopOnce := e.stopOnce
	stopCh := e.stopCh
	e.mu.Unlock()

	stopOnce.Do(func() { close(stopCh) })
	e.wg.Wait()

	var liqErr error
	if closePositions {
		liqErr = e.liquidateAll("engine stop")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	logger.Infof("trading engine stopped (close_positions=%v)", closePositions)
	e.broadcast(Event{Type: EventState, Time: time.Now(), State: StateStopped})
	return liqErr
}

// EmergencyStop tears the engine down unconditionally and liquidates
// everything. It always lands in EmergencyStopped, even when liquidation
// fails.
func (e *Engine) EmergencyStop(reason string) {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateEmergencyStopped {
		e.mu.Unlock()
		return
	}
	e.state = StateEmergencyStopped
	e.haltReason = reason
	stopOnce := e.stopOnce
	stopCh := e.stopCh
	e.mu.Unlock()

	logger.Errorf("EMERGENCY STOP: %s", reason)
	if stopOnce != nil {
		stopOnce.Do(func() { close(stopCh) })
	}
	e.wg.Wait()

	if err := e.liquidateAll("emergency: " + reason); err != nil {
		logger.Errorf("emergency liquidation incomplete: %v", err)
	}
	if err := e.notify.SendText(fmt.Sprintf("🚨 emergency stop: %s", reason)); err != nil {
		logger.Warnf("emergency notification failed: %v", err)
	}
	e.broadcast(Event{Type: EventState, Time: time.Now(), State: StateEmergencyStopped, Message: reason})
}

// UpdateStrategies swaps the strategy set, typically from a registry reload.
func (e *Engine) UpdateStrategies(defs []strategy.Definition) {
	e.mu.Lock()
	e.cfg.Strategies = append([]strategy.Definition(nil), defs...)
	e.mu.Unlock()
	logger.Infof("strategy set updated: %d strategies", len(defs))
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status copies the shared state for reporting; readers never observe a
// partially updated position.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		State:      e.state,
		Cash:       e.cash,
		DailyPnL:   e.dailyPnL,
		HaltReason: e.haltReason,
		Positions:  make([]Position, 0, len(e.positions)),
		Orders:     append([]Order(nil), e.orders...),
		Trades:     append([]LiveTrade(nil), e.trades...),
	}
	for _, p := range e.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Symbol < snap.Positions[j].Symbol })
	return snap
}

// Subscribe registers a buffered event channel. Slow subscribers lose
// events rather than blocking the loops. The returned func unsubscribes.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch
	e.subMu.Unlock()
	return ch, func() {
		e.subMu.Lock()
		if c, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(c)
		}
		e.subMu.Unlock()
	}
}

func (e *Engine) broadcast(evt Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ---------------------------------------------------------------- loops

func (e *Engine) marketMonitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.cfg.Window.Contains(time.Now()) {
				continue
			}
			e.scanSymbols()
		}
	}
}

func (e *Engine) scanSymbols() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PollInterval)
	defer cancel()
	for _, symbol := range e.cfg.Symbols {
		if !e.feed.Allow() {
			logger.Debugf("market data breaker open, skipping scan")
			return
		}
		end := time.Now()
		start := end.AddDate(0, 0, -e.cfg.HistoryDays)
		series, err := e.provider.PriceHistory(ctx, symbol, start, end)
		if err != nil {
			e.feed.RecordFailure()
			logger.Warnf("price history %s: %v", symbol, err)
			continue
		}
		e.feed.RecordSuccess()
		series, err = series.Normalize()
		if err != nil || len(series) == 0 {
			logger.Warnf("history %s unusable: %v", symbol, err)
			continue
		}

		e.mu.Lock()
		e.histories[symbol] = series
		_, held := e.positions[symbol]
		defs := append([]strategy.Definition(nil), e.cfg.Strategies...)
		e.mu.Unlock()

		e.evaluateSymbol(symbol, series, held, defs)
	}
}

func (e *Engine) evaluateSymbol(symbol string, series market.Series, held bool, defs []strategy.Definition) {
	table, err := indicator.Build(series, e.cfg.Indicators)
	if err != nil {
		logger.Debugf("indicators %s: %v", symbol, err)
		return
	}
	eval := strategy.NewEvaluator(table, e.cfg.Events)
	last := len(series) - 1
	lastClose := series[last].Close

	for _, def := range defs {
		if !def.IsEnabled() {
			continue
		}
		if held {
			if def.Exit == "" {
				continue
			}
			exits, err := eval.Evaluate(def.Exit)
			if err != nil {
				logger.Warnf("exit condition %q: %v", def.Name, err)
				continue
			}
			if exits[last] {
				e.enqueue(TradingSignal{
					Timestamp:  time.Now(),
					Symbol:     symbol,
					Action:     ActionSell,
					Strategy:   def.Name,
					Confidence: def.Confidence,
					EntryPrice: lastClose,
					Reason:     "exit condition",
				})
			}
			continue
		}

		entries, err := eval.Evaluate(def.Entry)
		if err != nil {
			logger.Warnf("entry condition %q: %v", def.Name, err)
			continue
		}
		if !entries[last] {
			continue
		}
		stopPct := def.StopPct
		if stopPct <= 0 {
			stopPct = e.cfg.DefaultStopPct
		}
		stop := lastClose * (1 - stopPct)
		sizing, err := e.riskman.PositionSize(symbol, lastClose, stop, 0.5, 2.0, e.riskPositions())
		if err != nil || sizing.Shares <= 0 {
			continue
		}
		takePct := def.TakePct
		take := sizing.TakeProfit
		if takePct > 0 {
			take = lastClose * (1 + takePct)
		}
		e.enqueue(TradingSignal{
			Timestamp:  time.Now(),
			Symbol:     symbol,
			Action:     ActionBuy,
			Strategy:   def.Name,
			Confidence: def.Confidence,
			EntryPrice: lastClose,
			StopLoss:   stop,
			TakeProfit: take,
			Size:       sizing.Shares,
			Reason:     "entry condition",
		})
	}
}

func (e *Engine) enqueue(sig TradingSignal) {
	select {
	case e.signalCh <- sig:
	default:
		logger.Warnf("signal queue full, dropping %s %s", sig.Action, sig.Symbol)
	}
}

func (e *Engine) signalProcessorLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case sig := <-e.signalCh:
			e.processSignal(sig)
		case <-time.After(time.Second):
			// bounded wait, loop and re-check stop
		}
	}
}

func (e *Engine) processSignal(sig TradingSignal) {
	switch sig.Action {
	case ActionBuy:
		e.processBuy(sig)
	case ActionSell:
		e.processSell(sig)
	case ActionHold:
	default:
		logger.Warnf("unknown signal action %q for %s", sig.Action, sig.Symbol)
	}
}

func (e *Engine) processBuy(sig TradingSignal) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	if _, held := e.positions[sig.Symbol]; held {
		e.mu.Unlock()
		return
	}
	if len(e.positions) >= e.cfg.MaxOpenPositions {
		e.mu.Unlock()
		logger.Debugf("max open positions reached, skipping buy %s", sig.Symbol)
		return
	}
	if e.dailyPnL <= -e.cfg.DailyLossLimitPct*e.cfg.InitialCapital {
		e.mu.Unlock()
		logger.Warnf("daily loss limit reached, skipping buy %s", sig.Symbol)
		return
	}
	qty := sig.Size
	if cost := float64(qty) * sig.EntryPrice; cost > e.cash {
		qty = int64(e.cash / sig.EntryPrice)
	}
	e.mu.Unlock()
	if qty <= 0 {
		return
	}

	order := Order{
		Symbol:    sig.Symbol,
		Side:      exchange.SideBuy,
		Type:      "market",
		Quantity:  qty,
		Price:     sig.EntryPrice,
		Status:    OrderPending,
		Timestamp: time.Now(),
		Strategy:  sig.Strategy,
	}
	if !e.submit.Allow() {
		logger.Warnf("order submission breaker open, skipping buy %s", sig.Symbol)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	fill, err := e.broker.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     exchange.SideBuy,
		Quantity: qty,
		Limit:    sig.EntryPrice,
	})
	cancel()

	e.mu.Lock()
	if err != nil {
		e.submit.RecordFailure()
		order.Status = OrderRejected
		order.Note = err.Error()
		e.orders = append(e.orders, order)
		e.mu.Unlock()
		logger.Warnf("buy %s rejected: %v", sig.Symbol, err)
		e.broadcast(Event{Type: EventOrder, Time: time.Now(), Order: &order})
		return
	}
	e.submit.RecordSuccess()
	order.ID = fill.OrderID
	order.Status = OrderFilled
	order.FilledQuantity = qty
	order.FilledPrice = fill.FilledPrice
	e.orders = append(e.orders, order)
	e.cash -= fill.FilledPrice * float64(qty)
	e.positions[sig.Symbol] = &Position{
		Symbol:       sig.Symbol,
		Shares:       qty,
		EntryPrice:   fill.FilledPrice,
		EntryTime:    time.Now(),
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		HighestPrice: fill.FilledPrice,
		CurrentPrice: fill.FilledPrice,
		Strategy:     sig.Strategy,
	}
	e.mu.Unlock()

	logger.Infof("filled buy %s x%d @ %.2f (%s)", sig.Symbol, qty, fill.FilledPrice, sig.Strategy)
	e.broadcast(Event{Type: EventOrder, Time: time.Now(), Order: &order})
}

func (e *Engine) processSell(sig TradingSignal) {
	e.mu.Lock()
	pos, held := e.positions[sig.Symbol]
	if !held {
		e.mu.Unlock()
		return
	}
	snapshot := *pos
	e.mu.Unlock()

	order := Order{
		Symbol:    sig.Symbol,
		Side:      exchange.SideSell,
		Type:      "market",
		Quantity:  snapshot.Shares,
		Price:     snapshot.CurrentPrice,
		Status:    OrderPending,
		Timestamp: time.Now(),
		Strategy:  snapshot.Strategy,
	}
	ref := snapshot.CurrentPrice
	if ref <= 0 {
		ref = snapshot.EntryPrice
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	fill, err := e.broker.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     exchange.SideSell,
		Quantity: snapshot.Shares,
		Limit:    ref,
	})
	cancel()

	e.mu.Lock()
	if err != nil {
		e.submit.RecordFailure()
		order.Status = OrderRejected
		order.Note = err.Error()
		e.orders = append(e.orders, order)
		e.mu.Unlock()
		logger.Warnf("sell %s rejected: %v", sig.Symbol, err)
		e.broadcast(Event{Type: EventOrder, Time: time.Now(), Order: &order})
		return
	}
	e.submit.RecordSuccess()
	order.ID = fill.OrderID
	order.Status = OrderFilled
	order.FilledQuantity = snapshot.Shares
	order.FilledPrice = fill.FilledPrice
	e.orders = append(e.orders, order)

	proceeds := fill.FilledPrice * float64(snapshot.Shares)
	pnl := (fill.FilledPrice - snapshot.EntryPrice) * float64(snapshot.Shares)
	e.cash += proceeds
	e.dailyPnL += pnl
	e.trades = append(e.trades, LiveTrade{
		Symbol:     sig.Symbol,
		Strategy:   snapshot.Strategy,
		EntryTime:  snapshot.EntryTime,
		ExitTime:   time.Now(),
		EntryPrice: snapshot.EntryPrice,
		ExitPrice:  fill.FilledPrice,
		Shares:     snapshot.Shares,
		PnL:        pnl,
		PnLPct:     fill.FilledPrice/snapshot.EntryPrice - 1,
		Reason:     sig.Reason,
	})
	delete(e.positions, sig.Symbol)
	e.mu.Unlock()

	logger.Infof("filled sell %s x%d @ %.2f pnl=%.0f (%s)", sig.Symbol, snapshot.Shares, fill.FilledPrice, pnl, sig.Reason)
	e.broadcast(Event{Type: EventOrder, Time: time.Now(), Order: &order})
}

func (e *Engine) positionManagerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PositionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refreshPositions()
		}
	}
}

func (e *Engine) refreshPositions() {
	e.mu.Lock()
	symbols := make([]string, 0, len(e.positions))
	for s := range e.positions {
		symbols = append(symbols, s)
	}
	e.mu.Unlock()
	if len(symbols) == 0 {
		return
	}
	sort.Strings(symbols)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PositionInterval)
	defer cancel()
	for _, symbol := range symbols {
		bar, err := e.provider.LatestBar(ctx, symbol)
		if err != nil {
			logger.Debugf("latest bar %s: %v", symbol, err)
			continue
		}
		var exitSig *TradingSignal
		e.mu.Lock()
		pos, ok := e.positions[symbol]
		if !ok {
			e.mu.Unlock()
			continue
		}
		pos.CurrentPrice = bar.Close
		if bar.Close > pos.HighestPrice {
			pos.HighestPrice = bar.Close
			if trail := pos.HighestPrice * (1 - e.cfg.TrailingPct); trail > pos.StopLoss {
				pos.StopLoss = trail
			}
		}
		switch {
		case pos.StopLoss > 0 && bar.Close <= pos.StopLoss:
			exitSig = &TradingSignal{
				Timestamp: time.Now(), Symbol: symbol, Action: ActionSell,
				Strategy: pos.Strategy, Reason: "stop loss",
			}
		case pos.TakeProfit > 0 && bar.Close >= pos.TakeProfit:
			exitSig = &TradingSignal{
				Timestamp: time.Now(), Symbol: symbol, Action: ActionSell,
				Strategy: pos.Strategy, Reason: "take profit",
			}
		}
		e.mu.Unlock()
		if exitSig != nil {
			e.enqueue(*exitSig)
		}
	}

	snap := e.Status()
	e.broadcast(Event{Type: EventPosition, Time: time.Now(), Positions: snap.Positions})
}

func (e *Engine) riskMonitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RiskInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.checkRisk()
		}
	}
}

func (e *Engine) checkRisk() {
	e.mu.Lock()
	dailyPnL := e.dailyPnL
	positions := e.riskPositionsLocked()
	histories := make(map[string]market.Series, len(e.histories))
	for s, h := range e.histories {
		histories[s] = h
	}
	e.mu.Unlock()

	if dailyPnL <= -e.cfg.DailyLossLimitPct*e.cfg.InitialCapital {
		logger.Errorf("daily loss %.0f breached limit, stopping engine", dailyPnL)
		if err := e.notify.SendText(fmt.Sprintf("daily loss limit hit (%.0f), engine stopping", dailyPnL)); err != nil {
			logger.Warnf("notification failed: %v", err)
		}
		go func() {
			if err := e.Stop(true); err != nil {
				logger.Errorf("stop after daily loss: %v", err)
			}
		}()
		return
	}

	if len(positions) == 0 {
		return
	}
	metrics := e.riskman.PortfolioRisk(positions, histories, nil)
	e.broadcast(Event{Type: EventRisk, Time: time.Now(), Risk: &metrics})

	if metrics.Level == risk.LevelExtreme {
		e.closeWorstPositions()
	}
}

// closeWorstPositions enqueues synthetic sells for the worst-performing 20%
// of open positions, at least one.
func (e *Engine) closeWorstPositions() {
	e.mu.Lock()
	held := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		held = append(held, *p)
	}
	e.mu.Unlock()
	if len(held) == 0 {
		return
	}
	sort.Slice(held, func(i, j int) bool { return held[i].PnLPct() < held[j].PnLPct() })

	n := int(math.Ceil(float64(len(held)) * 0.2))
	if n < 1 {
		n = 1
	}
	logger.Warnf("extreme portfolio risk: closing %d of %d positions", n, len(held))
	for _, p := range held[:n] {
		e.enqueue(TradingSignal{
			Timestamp: time.Now(),
			Symbol:    p.Symbol,
			Action:    ActionSell,
			Strategy:  p.Strategy,
			Reason:    "extreme risk",
		})
	}
}

// liquidateAll closes every open position directly, bypassing the queue.
// Used during teardown when the loops are already gone.
func (e *Engine) liquidateAll(reason string) error {
	e.mu.Lock()
	held := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		held = append(held, *p)
	}
	e.mu.Unlock()

	var firstErr error
	for _, pos := range held {
		ref := pos.CurrentPrice
		if ref <= 0 {
			ref = pos.EntryPrice
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		fill, err := e.broker.SubmitOrder(ctx, exchange.OrderRequest{
			Symbol:   pos.Symbol,
			Side:     exchange.SideSell,
			Quantity: pos.Shares,
			Limit:    ref,
		})
		cancel()

		e.mu.Lock()
		if err != nil {
			e.submit.RecordFailure()
			if firstErr == nil {
				firstErr = fmt.Errorf("liquidate %s: %w", pos.Symbol, err)
			}
			// The position stays on the book: shares are still held and the
			// partial liquidation must remain visible in Status.
			logger.Errorf("liquidate %s failed, position kept: %v", pos.Symbol, err)
			e.mu.Unlock()
			continue
		}
		e.submit.RecordSuccess()
		pnl := (fill.FilledPrice - pos.EntryPrice) * float64(pos.Shares)
		e.cash += fill.FilledPrice * float64(pos.Shares)
		e.dailyPnL += pnl
		e.trades = append(e.trades, LiveTrade{
			Symbol:     pos.Symbol,
			Strategy:   pos.Strategy,
			EntryTime:  pos.EntryTime,
			ExitTime:   time.Now(),
			EntryPrice: pos.EntryPrice,
			ExitPrice:  fill.FilledPrice,
			Shares:     pos.Shares,
			PnL:        pnl,
			PnLPct:     fill.FilledPrice/pos.EntryPrice - 1,
			Reason:     reason,
		})
		delete(e.positions, pos.Symbol)
		e.mu.Unlock()
		logger.Infof("liquidated %s x%d @ %.2f (%s)", pos.Symbol, pos.Shares, fill.FilledPrice, reason)
	}
	return firstErr
}

func (e *Engine) riskPositions() []risk.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.riskPositionsLocked()
}

func (e *Engine) riskPositionsLocked() []risk.Position {
	out := make([]risk.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, risk.Position{
			Symbol:       p.Symbol,
			Shares:       p.Shares,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			StopLoss:     p.StopLoss,
		})
	}
	return out
}
