// Package backtest implements the Event-Driven Backtester (§3.4, §4.7):
// a specialization built on an event engine that tracks cash,
// positions, open orders, equity history and transaction history as
// Market/Signal/Order/Fill events flow through it.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/quant-bot/internal/event"
	"github.com/tathienbao/quant-bot/internal/eventengine"
	"github.com/tathienbao/quant-bot/internal/types"
)

// Config holds Event-Driven Backtester configuration (§6: initial_capital,
// commission_rate, slippage, allow_shorting).
type Config struct {
	InitialCapital decimal.Decimal
	CommissionRate decimal.Decimal // fraction of notional, e.g. 0.001 = 10bps
	Slippage       decimal.Decimal // fraction of price, e.g. 0.0005
	AllowShorting  bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialCapital: decimal.NewFromInt(100000),
		CommissionRate: decimal.NewFromFloat(0.001),
		Slippage:       decimal.NewFromFloat(0.0005),
	}
}

// Transaction is one append-only transaction_history entry (§3.4).
type Transaction struct {
	Timestamp  time.Time
	Symbol     string
	Direction  event.Direction
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	OrderID    string
}

// EquityPoint is one append-only equity_history entry (§3.4).
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// ProgressUpdate is delivered to an optional progress callback once per
// row RunBatch processes (§4.7's run loop), so a live terminal/chart UI
// can render incrementally instead of only seeing the final Summary.
type ProgressUpdate struct {
	Bar       int
	TotalBars int
	Events    []event.Event // this row's Market events, one per symbol
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
	Trades    int
	WinRate   decimal.Decimal // percent, e.g. 62.5
}

// ProgressCallback is invoked by RunBatch after each row's cascade of
// events has fully drained.
type ProgressCallback func(ProgressUpdate)

// Result holds the outcome of a completed run.
type Result struct {
	StartEquity   decimal.Decimal
	EndEquity     decimal.Decimal
	TotalReturn   decimal.Decimal
	MaxDrawdown   decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	SharpeRatio   decimal.Decimal
	Trades        []types.Trade
	EquityCurve   []EquityPoint
}

// Runner is the Event-Driven Backtester (§4.7): it registers handlers
// for Market, Signal, Order and Fill events on an event engine it owns
// (or, when bound via a replay engine manager, shares with the replay
// side of the pipeline — see Engine()).
type Runner struct {
	cfg    Config
	engine *eventengine.Engine
	logger *slog.Logger
	ledger *Ledger

	mu                 sync.Mutex
	cash               decimal.Decimal
	positions          map[string]decimal.Decimal // symbol -> signed quantity
	lastPrice          map[string]decimal.Decimal
	openOrders         map[string]event.Event
	equityHistory      []EquityPoint
	transactionHistory []Transaction
	highWater          decimal.Decimal

	progressCb ProgressCallback
	totalBars  int
}

// SetProgressCallback registers cb to be called once per row processed
// by RunBatch. Pass nil to stop receiving updates.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progressCb = cb
}

// NewRunner constructs a Runner with its own event engine and registers
// its four domain handlers on it.
func NewRunner(cfg Config, engineCfg eventengine.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialCapital.IsZero() {
		cfg.InitialCapital = DefaultConfig().InitialCapital
	}
	r := &Runner{
		cfg:        cfg,
		engine:     eventengine.New("backtest", engineCfg, logger),
		logger:     logger,
		ledger:     NewLedger(),
		cash:       cfg.InitialCapital,
		positions:  make(map[string]decimal.Decimal),
		lastPrice:  make(map[string]decimal.Decimal),
		openOrders: make(map[string]event.Event),
		highWater:  cfg.InitialCapital,
	}
	r.registerHandlers()
	return r
}

func (r *Runner) registerHandlers() {
	if _, err := r.engine.RegisterHandler(event.Market, r.onMarket); err != nil {
		r.logger.Error("backtest: failed to register market handler", "error", err)
	}
	if _, err := r.engine.RegisterHandler(event.Signal, r.onSignal); err != nil {
		r.logger.Error("backtest: failed to register signal handler", "error", err)
	}
	if _, err := r.engine.RegisterHandler(event.Order, r.onOrder); err != nil {
		r.logger.Error("backtest: failed to register order handler", "error", err)
	}
	if _, err := r.engine.RegisterHandler(event.Fill, r.onFill); err != nil {
		r.logger.Error("backtest: failed to register fill handler", "error", err)
	}
}

// Engine exposes the underlying event engine so a replay engine manager
// (internal/replayengine) can bind replay controllers to the same
// dispatch loop that drives this backtester (§4.6/§4.7 data flow).
// External strategy handlers should also register against this engine.
func (r *Runner) Engine() *eventengine.Engine { return r.engine }

// CurrentPosition returns the signed quantity held in symbol.
func (r *Runner) CurrentPosition(symbol string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[symbol]
}

// onMarket implements §4.7 "on MarketEvent(e)": broadcast happens for
// free (every other Market handler on the engine receives e too, in the
// same dispatch); this handler's own job is to refresh the last-known
// price and record an equity_history point.
func (r *Runner) onMarket(ev event.Event) {
	r.mu.Lock()
	if price, ok := marketPrice(ev); ok {
		r.lastPrice[ev.Symbol] = price
	}
	equity := r.equityLocked()
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}
	hwm := r.highWater
	r.mu.Unlock()

	drawdown := decimal.Zero
	if hwm.IsPositive() {
		drawdown = hwm.Sub(equity).Div(hwm)
	}

	r.mu.Lock()
	r.equityHistory = append(r.equityHistory, EquityPoint{Timestamp: ev.Timestamp, Equity: equity, Drawdown: drawdown})
	r.mu.Unlock()
}

func marketPrice(ev event.Event) (decimal.Decimal, bool) {
	if !ev.Close.IsZero() {
		return ev.Close, true
	}
	if v, ok := ev.Data["close"]; ok {
		switch t := v.(type) {
		case decimal.Decimal:
			return t, true
		case float64:
			return decimal.NewFromFloat(t), true
		case int:
			return decimal.NewFromInt(int64(t)), true
		}
	}
	return decimal.Decimal{}, false
}

// equityLocked computes equity = cash + Σ positions[s]·last_market_price[s]
// (§3.4). Caller must hold r.mu.
func (r *Runner) equityLocked() decimal.Decimal {
	equity := r.cash
	for symbol, qty := range r.positions {
		if qty.IsZero() {
			continue
		}
		price, ok := r.lastPrice[symbol]
		if !ok {
			continue
		}
		equity = equity.Add(qty.Mul(price))
	}
	return equity
}

// onSignal implements §4.7's signal → order position-sizing policy.
func (r *Runner) onSignal(ev event.Event) {
	r.mu.Lock()
	price, known := r.lastPrice[ev.Symbol]
	cash := r.cash
	currentPos := r.positions[ev.Symbol]
	r.mu.Unlock()

	if !known {
		return
	}

	var target decimal.Decimal
	switch ev.Direction {
	case event.Long:
		if currentPos.IsNegative() {
			target = currentPos.Abs()
			break
		}
		available := cash.Mul(ev.Strength)
		if !available.IsPositive() {
			return
		}
		target = available.Div(price).Floor()
	case event.Short:
		if currentPos.IsPositive() {
			target = currentPos
			break
		}
		if !r.cfg.AllowShorting {
			return
		}
		available := cash.Mul(ev.Strength)
		if !available.IsPositive() {
			return
		}
		target = available.Div(price).Floor()
	default:
		return
	}

	if !target.IsPositive() {
		return
	}

	order := event.NewOrder(ev.Symbol, ev.Timestamp, event.OrderMarket, target, ev.Direction).WithSource(ev.Source)
	r.mu.Lock()
	r.openOrders[order.OrderID] = order
	r.mu.Unlock()

	if !r.engine.Send(order) {
		r.logger.Warn("backtest: order refused by engine", "symbol", ev.Symbol, "order_id", order.OrderID)
	}
}

// onOrder implements §4.7 "on OrderEvent(e)": record it as open, and for
// Market-type orders simulate execution immediately. Other order types
// remain resting; nothing in this engine matches them.
func (r *Runner) onOrder(ev event.Event) {
	r.mu.Lock()
	r.openOrders[ev.OrderID] = ev
	r.mu.Unlock()

	if ev.OrderType != event.OrderMarket {
		return
	}
	r.executeMarketOrder(ev)
}

// executeMarketOrder implements §4.7's market-order execution: apply
// slippage, compute commission, emit a Fill. Direction-signed slippage
// and flat commission-on-notional follow the same conventions the
// teacher's old futures-tick SimulatedExecutor used, generalized here to
// fraction-of-price/fraction-of-notional instead of ticks and point
// value.
func (r *Runner) executeMarketOrder(ev event.Event) {
	r.mu.Lock()
	price, known := r.lastPrice[ev.Symbol]
	r.mu.Unlock()
	if !known {
		r.logger.Warn("backtest: market order dropped, no price known", "symbol", ev.Symbol, "order_id", ev.OrderID)
		return
	}

	dirMul := decimal.NewFromInt(int64(ev.Direction))
	execPrice := price.Mul(decimal.NewFromInt(1).Add(r.cfg.Slippage.Mul(dirMul)))
	commission := ev.Quantity.Mul(execPrice).Mul(r.cfg.CommissionRate)

	fill := event.NewFill(ev.Symbol, ev.Timestamp, ev.OrderID, ev.Quantity, ev.Direction, execPrice, commission)
	if !r.engine.Send(fill) {
		r.logger.Error("backtest: fill refused by engine", "symbol", ev.Symbol, "order_id", ev.OrderID)
	}
}

// onFill implements §4.7's Fill handling and §3.4's cash/position
// invariants.
func (r *Runner) onFill(ev event.Event) {
	dirMul := decimal.NewFromInt(int64(ev.Direction))

	r.mu.Lock()
	r.cash = r.cash.Sub(dirMul.Mul(ev.Quantity).Mul(ev.FillPrice)).Sub(ev.Commission)
	r.positions[ev.Symbol] = r.positions[ev.Symbol].Add(dirMul.Mul(ev.Quantity))
	delete(r.openOrders, ev.OrderID)
	r.transactionHistory = append(r.transactionHistory, Transaction{
		Timestamp: ev.Timestamp, Symbol: ev.Symbol, Direction: ev.Direction,
		Quantity: ev.Quantity, Price: ev.FillPrice, Commission: ev.Commission, OrderID: ev.OrderID,
	})
	r.mu.Unlock()

	side := types.SideLong
	if ev.Direction == event.Short {
		side = types.SideShort
	}
	r.ledger.OnFill(ev.Symbol, side, ev.Quantity, ev.FillPrice, ev.Timestamp, ev.Commission, ev.OrderID)
}

// RunBatch drives the backtester synchronously over symbol-aligned
// Market events (§4.7 "Run loop (batch mode)"): row i across every
// symbol is enqueued, then the engine is drained before row i+1 is
// sent. bars must be non-empty and every series must be non-empty; the
// shortest series' length bounds the run.
func (r *Runner) RunBatch(ctx context.Context, bars map[string][]event.Event) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest: no symbols supplied")
	}
	n := -1
	for symbol, series := range bars {
		if len(series) == 0 {
			return nil, fmt.Errorf("backtest: symbol %q has no bars", symbol)
		}
		if n == -1 || len(series) < n {
			n = len(series)
		}
	}

	r.mu.Lock()
	r.totalBars = n
	r.mu.Unlock()

	if err := r.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("backtest: engine failed to start: %w", err)
	}
	defer r.engine.Stop(ctx)

	for i := 0; i < n; i++ {
		row := make([]event.Event, 0, len(bars))
		for _, series := range bars {
			if !r.engine.Send(series[i]) {
				return nil, fmt.Errorf("backtest: send refused at row %d", i)
			}
			row = append(row, series[i])
		}
		if err := r.drain(ctx); err != nil {
			return nil, err
		}
		r.reportProgress(i+1, n, row)
	}

	return r.Summary(), nil
}

// reportProgress calls the registered ProgressCallback, if any, with a
// snapshot of state after row bar has fully drained.
func (r *Runner) reportProgress(bar, totalBars int, row []event.Event) {
	r.mu.Lock()
	cb := r.progressCb
	var lastPoint EquityPoint
	if len(r.equityHistory) > 0 {
		lastPoint = r.equityHistory[len(r.equityHistory)-1]
	}
	r.mu.Unlock()

	if cb == nil {
		return
	}

	trades := r.ledger.Trades()
	winRate := decimal.Zero
	if len(trades) > 0 {
		winning := 0
		for _, t := range trades {
			if t.NetPL.IsPositive() {
				winning++
			}
		}
		winRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(len(trades)))).Mul(decimal.NewFromInt(100))
	}

	cb(ProgressUpdate{
		Bar:       bar,
		TotalBars: totalBars,
		Events:    row,
		Equity:    lastPoint.Equity,
		Drawdown:  lastPoint.Drawdown,
		Trades:    len(trades),
		WinRate:   winRate,
	})
}

// drain blocks until the engine queue has reported empty across
// several consecutive polls, a pragmatic stand-in for a true flush
// signal: a single zero reading can race with a handler's own
// in-flight Send of a child event (Signal → Order → Fill all cascade
// from one Market dispatch).
func (r *Runner) drain(ctx context.Context) error {
	deadline := time.After(5 * time.Second)
	zeroStreak := 0
	for {
		if r.engine.Stats().QueueDepth == 0 {
			zeroStreak++
			if zeroStreak >= 3 {
				return nil
			}
		} else {
			zeroStreak = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("backtest: drain timed out with events still queued")
		case <-time.After(time.Millisecond):
		}
	}
}

// Summary computes summary metrics from equity_history and
// transaction_history (§4.7 run loop step 3), fabricating a single
// synthetic equity point when none were recorded so metric computation
// remains total.
func (r *Runner) Summary() *Result {
	r.mu.Lock()
	equityHistory := make([]EquityPoint, len(r.equityHistory))
	copy(equityHistory, r.equityHistory)
	cash := r.cash
	r.mu.Unlock()

	if len(equityHistory) == 0 {
		equityHistory = []EquityPoint{{Timestamp: time.Now(), Equity: cash}}
	}

	trades := r.ledger.Trades()
	result := &Result{
		StartEquity: r.cfg.InitialCapital,
		EndEquity:   equityHistory[len(equityHistory)-1].Equity,
		Trades:      trades,
		EquityCurve: equityHistory,
	}

	winning, losing := 0, 0
	for _, t := range trades {
		switch {
		case t.NetPL.IsPositive():
			winning++
		case t.NetPL.IsNegative():
			losing++
		}
	}
	result.TotalTrades = len(trades)
	result.WinningTrades = winning
	result.LosingTrades = losing

	if result.StartEquity.IsPositive() {
		result.TotalReturn = result.EndEquity.Sub(result.StartEquity).Div(result.StartEquity)
	}

	m := NewMetrics(result, decimal.Zero)
	result.WinRate = m.WinRate()
	result.ProfitFactor = m.ProfitFactor()
	result.MaxDrawdown = m.MaxDrawdown()
	result.SharpeRatio = m.SharpeRatio()

	return result
}

// Reset clears all accumulated state back to the initial configuration,
// leaving the engine's handler table untouched.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cash = r.cfg.InitialCapital
	r.positions = make(map[string]decimal.Decimal)
	r.lastPrice = make(map[string]decimal.Decimal)
	r.openOrders = make(map[string]event.Event)
	r.equityHistory = nil
	r.transactionHistory = nil
	r.highWater = r.cfg.InitialCapital
	r.ledger = NewLedger()
}
