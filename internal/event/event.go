// Package event defines the typed event model shared by the replay
// controller, the event engine, and the event-driven backtester: a closed
// set of variants (Market, Signal, Order, Fill, Account) plus an open
// Custom tag for domain-specific extensions.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type tags the variant an Event carries. It is string-backed so it can
// double as a handler-table key, including the reserved wildcard below.
type Type string

const (
	Market  Type = "Market"
	Signal  Type = "Signal"
	Order   Type = "Order"
	Fill    Type = "Fill"
	Account Type = "Account"
	Custom  Type = "Custom"

	// Wildcard is reserved as a handler-table key that receives every
	// event regardless of variant. It is never a valid Event.Type.
	Wildcard Type = "*"
)

func (t Type) String() string { return string(t) }

// valid reports whether t is one of the closed variants an Event may
// actually carry (Custom included; Wildcard excluded).
func (t Type) valid() bool {
	switch t {
	case Market, Signal, Order, Fill, Account, Custom:
		return true
	default:
		return false
	}
}

// Direction is a trade direction: Short (-1) or Long (+1). There is no
// zero value; a freshly constructed Direction is invalid by design so
// callers cannot silently treat "forgot to set it" as flat.
type Direction int8

const (
	Short Direction = -1
	Long  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("Direction(%d)", int8(d))
	}
}

// Valid reports whether d is one of the two allowed directions.
func (d Direction) Valid() bool { return d == Long || d == Short }

// OrderType enumerates the order styles an Order event may carry. Only
// Market orders are matched by the backtester itself (§4.7); the rest
// remain resting, left to extension.
type OrderType string

const (
	OrderMarket    OrderType = "Market"
	OrderLimit     OrderType = "Limit"
	OrderStop      OrderType = "Stop"
	OrderStopLimit OrderType = "StopLimit"
)

func (o OrderType) String() string { return string(o) }

// Event is the single tagged-variant type dispatched by the event engine.
// Only the fields relevant to Type are meaningful; unused fields are the
// zero value. A schema-less Data map is reserved for the Custom variant
// and for opaque OHLCV-like payloads on Market events that don't fit the
// typed OHLCV fields.
//
// Event is immutable after construction: every constructor below returns
// a fully-populated value, and nothing in this package mutates an Event
// in place.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Source    string

	// Market
	Symbol string
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	Data   map[string]any // opaque fallback for Market/Custom

	// Signal
	Direction Direction
	Strength  decimal.Decimal

	// Order
	OrderType   OrderType
	Quantity    decimal.Decimal
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	OrderID     string

	// Fill
	FillPrice  decimal.Decimal
	Commission decimal.Decimal

	// Account
	Balance   decimal.Decimal
	Available decimal.Decimal
	Margin    decimal.Decimal
}

// newID returns a fresh event id. Split out so tests can't accidentally
// depend on uuid's format, only on "non-empty and unique".
func newID() string { return uuid.NewString() }

// AssignID assigns e.ID exactly once: if the producer already set an ID
// it is left untouched; otherwise one is assigned now. Exported so the
// event engine can assign ids to events it receives already-constructed
// but without an ID (the "assigned by the engine when enqueued" case of
// §4.1).
func AssignID(e Event) Event { return assignID(e) }

// assignID assigns e.ID exactly once: if the producer already set an ID,
// it is left untouched (assigned-by-producer case of §4.1); otherwise the
// engine assigns one now (assigned-by-engine case).
func assignID(e Event) Event {
	if e.ID == "" {
		e.ID = newID()
	}
	return e
}

// NewMarket constructs a Market event carrying an OHLCV bar.
func NewMarket(symbol string, ts time.Time, open, high, low, close, volume decimal.Decimal) Event {
	return assignID(Event{
		Type: Market, Timestamp: ts, Symbol: symbol,
		Open: open, High: high, Low: low, Close: close, Volume: volume,
	})
}

// NewMarketData constructs a Market event carrying an opaque column map
// instead of typed OHLCV fields, for sources whose schema doesn't map
// cleanly onto open/high/low/close/volume.
func NewMarketData(symbol string, ts time.Time, data map[string]any) Event {
	return assignID(Event{Type: Market, Timestamp: ts, Symbol: symbol, Data: data})
}

// NewSignal constructs a Signal event. direction must be Long or Short;
// strength is expected in [0,1] but is not clamped here (validation is the
// producer's responsibility, per §7's validation-error contract).
func NewSignal(symbol string, ts time.Time, direction Direction, strength decimal.Decimal) Event {
	return assignID(Event{
		Type: Signal, Timestamp: ts, Symbol: symbol,
		Direction: direction, Strength: strength,
	})
}

// NewOrder constructs an Order event. quantity must be > 0; direction is
// independent of quantity's sign (quantity is always positive).
func NewOrder(symbol string, ts time.Time, orderType OrderType, quantity decimal.Decimal, direction Direction) Event {
	e := Event{
		Type: Order, Timestamp: ts, Symbol: symbol,
		OrderType: orderType, Quantity: quantity, Direction: direction,
	}
	e.OrderID = newID()
	return assignID(e)
}

// WithLimitPrice returns a copy of e with LimitPrice set. Intended to be
// chained immediately after NewOrder, before the event is ever enqueued.
func (e Event) WithLimitPrice(p decimal.Decimal) Event { e.LimitPrice = p; return e }

// WithStopPrice returns a copy of e with StopPrice set.
func (e Event) WithStopPrice(p decimal.Decimal) Event { e.StopPrice = p; return e }

// NewFill constructs a Fill event referencing a previously enqueued order.
func NewFill(symbol string, ts time.Time, orderID string, quantity decimal.Decimal, direction Direction, fillPrice, commission decimal.Decimal) Event {
	return assignID(Event{
		Type: Fill, Timestamp: ts, Symbol: symbol, OrderID: orderID,
		Quantity: quantity, Direction: direction,
		FillPrice: fillPrice, Commission: commission,
	})
}

// NewAccount constructs an Account event.
func NewAccount(ts time.Time, balance, available, margin decimal.Decimal) Event {
	return assignID(Event{Type: Account, Timestamp: ts, Balance: balance, Available: available, Margin: margin})
}

// NewCustom constructs a Custom event with an arbitrary, schema-less
// payload. symbol and source tagging are optional for Custom events.
func NewCustom(ts time.Time, data map[string]any) Event {
	return assignID(Event{Type: Custom, Timestamp: ts, Data: data})
}

// WithSource returns a copy of e stamped with the given replay controller
// name. Used by the replay engine manager (§4.6) to tag events with the
// source that produced them.
func (e Event) WithSource(source string) Event { e.Source = source; return e }

// Valid reports whether e carries a recognized, well-formed variant. It
// checks the structural invariants of §3.1: a valid Type, a Direction in
// {Short,Long} where the variant requires one, and Quantity > 0 for Order
// and Fill events.
func (e Event) Valid() bool {
	if !e.Type.valid() {
		return false
	}
	switch e.Type {
	case Signal:
		return e.Direction.Valid()
	case Order:
		return e.Direction.Valid() && e.Quantity.IsPositive()
	case Fill:
		return e.Direction.Valid() && e.Quantity.IsPositive()
	}
	return true
}

// Equal reports semantic equality: same variant and same fields,
// ignoring ID (engine-assigned ids are not part of an event's meaning).
func (e Event) Equal(o Event) bool {
	if e.Type != o.Type || !e.Timestamp.Equal(o.Timestamp) || e.Source != o.Source {
		return false
	}
	switch e.Type {
	case Market:
		return e.Symbol == o.Symbol && e.Open.Equal(o.Open) && e.High.Equal(o.High) &&
			e.Low.Equal(o.Low) && e.Close.Equal(o.Close) && e.Volume.Equal(o.Volume) &&
			dataEqual(e.Data, o.Data)
	case Signal:
		return e.Symbol == o.Symbol && e.Direction == o.Direction && e.Strength.Equal(o.Strength)
	case Order:
		return e.Symbol == o.Symbol && e.OrderType == o.OrderType && e.Quantity.Equal(o.Quantity) &&
			e.Direction == o.Direction && e.LimitPrice.Equal(o.LimitPrice) && e.StopPrice.Equal(o.StopPrice) &&
			e.OrderID == o.OrderID
	case Fill:
		return e.Symbol == o.Symbol && e.OrderID == o.OrderID && e.Quantity.Equal(o.Quantity) &&
			e.Direction == o.Direction && e.FillPrice.Equal(o.FillPrice) && e.Commission.Equal(o.Commission)
	case Account:
		return e.Balance.Equal(o.Balance) && e.Available.Equal(o.Available) && e.Margin.Equal(o.Margin)
	case Custom:
		return dataEqual(e.Data, o.Data)
	default:
		return false
	}
}

func dataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// String renders a diagnostic representation. Not meant to be parsed.
func (e Event) String() string {
	switch e.Type {
	case Market:
		return fmt.Sprintf("Market(%s @ %s close=%s)", e.Symbol, e.Timestamp.Format(time.RFC3339), e.Close)
	case Signal:
		return fmt.Sprintf("Signal(%s %s strength=%s @ %s)", e.Symbol, e.Direction, e.Strength, e.Timestamp.Format(time.RFC3339))
	case Order:
		return fmt.Sprintf("Order(%s %s %s qty=%s @ %s)", e.Symbol, e.OrderType, e.Direction, e.Quantity, e.Timestamp.Format(time.RFC3339))
	case Fill:
		return fmt.Sprintf("Fill(%s order=%s qty=%s @ %s price=%s)", e.Symbol, e.OrderID, e.Quantity, e.Timestamp.Format(time.RFC3339), e.FillPrice)
	case Account:
		return fmt.Sprintf("Account(balance=%s @ %s)", e.Balance, e.Timestamp.Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s(@ %s)", e.Type, e.Timestamp.Format(time.RFC3339))
	}
}
