package backtest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/quant-bot/internal/types"
)

// lot is a FIFO cost-basis lot for one symbol. Only one open lot per
// symbol is tracked: a fill that flips the position closes the
// existing lot in full (realizing a trade) and opens a new one in the
// opposite direction, rather than tracking multiple partial lots side
// by side. Grounded on execution.SimulatedExecutor's one-position-per-
// symbol model.
type lot struct {
	side       types.Side
	quantity   decimal.Decimal // always positive
	entryPrice decimal.Decimal
	entryTime  time.Time
}

// Ledger realizes trades from Fill events for win-rate/profit-factor
// statistics (§3.4's transaction_history feeds cash/position bookkeeping
// directly; Ledger is the separate cost-basis view Metrics consumes).
type Ledger struct {
	mu     sync.Mutex
	lots   map[string]*lot
	trades []types.Trade
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{lots: make(map[string]*lot)}
}

// OnFill updates the ledger for one fill, returning the trade it
// realized, if any (a flip realizes exactly one trade — the close —
// then opens a fresh lot for the remainder).
func (l *Ledger) OnFill(symbol string, side types.Side, quantity, price decimal.Decimal, ts time.Time, commission decimal.Decimal, orderID string) *types.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.lots[symbol]
	if !ok || existing.quantity.IsZero() {
		l.lots[symbol] = &lot{side: side, quantity: quantity, entryPrice: price, entryTime: ts}
		return nil
	}

	if existing.side == side {
		totalQty := existing.quantity.Add(quantity)
		weighted := existing.entryPrice.Mul(existing.quantity).Add(price.Mul(quantity))
		existing.entryPrice = weighted.Div(totalQty)
		existing.quantity = totalQty
		return nil
	}

	closeQty := decimal.Min(existing.quantity, quantity)
	trade := realize(symbol, existing, closeQty, price, ts, commission, orderID)
	l.trades = append(l.trades, trade)

	existing.quantity = existing.quantity.Sub(closeQty)
	remainder := quantity.Sub(closeQty)

	if existing.quantity.IsZero() {
		if remainder.IsPositive() {
			l.lots[symbol] = &lot{side: side, quantity: remainder, entryPrice: price, entryTime: ts}
		} else {
			delete(l.lots, symbol)
		}
	}
	return &trade
}

func realize(symbol string, existing *lot, qty, exitPrice decimal.Decimal, exitTime time.Time, commission decimal.Decimal, orderID string) types.Trade {
	var grossPL decimal.Decimal
	if existing.side == types.SideLong {
		grossPL = exitPrice.Sub(existing.entryPrice).Mul(qty)
	} else {
		grossPL = existing.entryPrice.Sub(exitPrice).Mul(qty)
	}
	netPL := grossPL.Sub(commission)

	return types.Trade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       existing.side,
		Contracts:  int(qty.IntPart()),
		EntryPrice: existing.entryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  existing.entryTime,
		ExitTime:   exitTime,
		GrossPL:    grossPL,
		Commission: commission,
		NetPL:      netPL,
		SignalID:   orderID,
	}
}

// Trades returns a copy of every trade realized so far.
func (l *Ledger) Trades() []types.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}
