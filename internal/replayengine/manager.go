// Package replayengine binds one or more replay controllers to a single
// event engine, converting replayed rows into Market events carrying
// their originating controller's source tag (§4.6).
package replayengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/quant-bot/internal/event"
	"github.com/tathienbao/quant-bot/internal/eventengine"
	"github.com/tathienbao/quant-bot/internal/replay"
)

// Converter turns a raw replayed row into an Event. Returning ok=false
// drops the row instead of enqueuing anything (§4.6 step 3).
type Converter func(data replay.Row, ts time.Time, symbol string) (ev event.Event, ok bool)

// replayController is the subset of replay.Controller/MultiController
// behavior the manager depends on, so either can be bound.
type replayController interface {
	Status() replay.Status
	Start() error
	Pause() error
	Resume() error
	Stop() bool
	RegisterCallback(fn replay.CallbackFunc) int
	UnregisterCallback(id int) bool
}

type binding struct {
	name       string
	controller replayController
	symbol     string // explicit override; "" means derive per-row
	converter  Converter
	callbackID int
}

// Manager binds named replay controllers to one event engine (§4.6).
type Manager struct {
	engine   *eventengine.Engine
	logger   *slog.Logger
	bindings map[string]*binding
	order    []string // registration order, for deterministic start/stop
}

// New constructs a Manager over engine. engine is not started here;
// call Start to bring both the engine and every bound controller up.
func New(engine *eventengine.Engine, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:   engine,
		logger:   logger,
		bindings: make(map[string]*binding),
	}
}

// Bind registers a controller under name. symbol overrides per-row
// symbol derivation when non-empty; converter, if non-nil, replaces the
// default Market-event construction (§4.6 Bindings).
func (m *Manager) Bind(name string, controller replayController, symbol string, converter Converter) error {
	if name == "" {
		return fmt.Errorf("replayengine: binding name must not be empty")
	}
	if _, exists := m.bindings[name]; exists {
		return fmt.Errorf("replayengine: %q already bound", name)
	}
	m.bindings[name] = &binding{name: name, controller: controller, symbol: symbol, converter: converter}
	m.order = append(m.order, name)
	return nil
}

// Start validates the base engine can start, registers a per-controller
// callback, and starts every controller not already Running (§4.6
// start()). Each callback captures its binding name by value through
// the function parameter list, not by closing over a shared variable —
// the original manager this is grounded on had exactly that bug when
// the loop variable was captured by reference instead.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.engine.Start(ctx); err != nil {
		return fmt.Errorf("replayengine: base engine failed to start: %w", err)
	}

	for _, name := range m.order {
		b := m.bindings[name]
		b.callbackID = b.controller.RegisterCallback(m.makeCallback(name))

		if b.controller.Status() != replay.Running {
			if err := b.controller.Start(); err != nil {
				return fmt.Errorf("replayengine: controller %q failed to start: %w", name, err)
			}
		}
	}
	return nil
}

// makeCallback returns a replay.CallbackFunc bound to source by value:
// source is a parameter of this function, so each call captures its own
// copy, not a shared loop variable.
func (m *Manager) makeCallback(source string) replay.CallbackFunc {
	return func(data replay.Row) {
		m.onReplayData(source, data)
	}
}

// onReplayData implements §4.6 _on_replay_data.
func (m *Manager) onReplayData(source string, data replay.Row) {
	b, ok := m.bindings[source]
	if !ok {
		return // unregistered between bind and callback firing; drop.
	}

	symbol := resolveSymbol(b.symbol, source, data)
	ts := resolveTimestamp(data)

	if b.converter != nil {
		ev, ok := b.converter(data, ts, symbol)
		if !ok {
			return
		}
		ev = ev.WithSource(source)
		if !m.engine.Send(ev) {
			m.logger.Warn("replayengine: send_event refused converted event", "source", source, "symbol", symbol)
		}
		return
	}

	ev := buildMarketEvent(symbol, ts, data).WithSource(source)
	if !m.engine.Send(ev) {
		m.logger.Warn("replayengine: send_event refused market event", "source", source, "symbol", symbol)
	}
}

func resolveSymbol(override, source string, data replay.Row) string {
	if override != "" {
		return override
	}
	if v, ok := data["symbol"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return source
}

func resolveTimestamp(data replay.Row) time.Time {
	for _, key := range []string{replay.KeyTimestamp, "timestamp", "time", "date"} {
		if v, ok := data[key]; ok {
			if ts, ok := v.(time.Time); ok {
				return ts
			}
		}
	}
	return time.Now()
}

// buildMarketEvent builds a Market event from an OHLCV row when those
// columns are present, else falls back to an opaque-data Market event
// (§3.1: "ohlcv or opaque data map").
func buildMarketEvent(symbol string, ts time.Time, data replay.Row) event.Event {
	open, hasOpen := toDecimal(data["open"])
	high, hasHigh := toDecimal(data["high"])
	low, hasLow := toDecimal(data["low"])
	closePx, hasClose := toDecimal(data["close"])
	volume, _ := toDecimal(data["volume"])

	if hasOpen && hasHigh && hasLow && hasClose {
		return event.NewMarket(symbol, ts, open, high, low, closePx, volume)
	}
	return event.NewMarketData(symbol, ts, data)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Decimal{}, false
	}
}

// Pause pauses every controller, then the engine (§4.6 lifecycle
// coupling: stop producing before stop consuming).
func (m *Manager) Pause() error {
	for _, name := range m.order {
		b := m.bindings[name]
		if b.controller.Status() == replay.Running {
			if err := b.controller.Pause(); err != nil {
				m.logger.Warn("replayengine: controller pause failed", "controller", name, "error", err)
			}
		}
	}
	return m.engine.Pause()
}

// Resume resumes the engine, then every controller (ready to consume
// before production restarts).
func (m *Manager) Resume() error {
	if err := m.engine.Resume(); err != nil {
		return err
	}
	for _, name := range m.order {
		b := m.bindings[name]
		if b.controller.Status() == replay.Paused {
			if err := b.controller.Resume(); err != nil {
				m.logger.Warn("replayengine: controller resume failed", "controller", name, "error", err)
			}
		}
	}
	return nil
}

// Stop stops every controller first, unregistering its callback to
// release the reference, then stops the engine (§4.6 lifecycle
// coupling).
func (m *Manager) Stop(ctx context.Context) bool {
	for _, name := range m.order {
		b := m.bindings[name]
		b.controller.Stop()
		b.controller.UnregisterCallback(b.callbackID)
	}
	return m.engine.Stop(ctx)
}

// Engine exposes the bound event engine for handler registration.
func (m *Manager) Engine() *eventengine.Engine { return m.engine }
