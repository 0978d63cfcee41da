package replayengine

import (
	"context"
	"testing"
	"time"

	"github.com/tathienbao/quant-bot/internal/event"
	"github.com/tathienbao/quant-bot/internal/eventengine"
	"github.com/tathienbao/quant-bot/internal/replay"
)

func TestManager_Bind_DefaultMarketConversion(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := replay.NewMemorySource([]replay.Row{
		{"open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5, "volume": 100.0, "timestamp": start},
	}, "timestamp")
	ctrl := replay.NewController("ticks", src, replay.DefaultConfig(), nil)

	eng := eventengine.New("backtest", eventengine.DefaultConfig(), nil)
	got := make(chan event.Event, 1)
	if _, err := eng.RegisterHandler(event.Market, func(ev event.Event) { got <- ev }); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	mgr := New(eng, nil)
	if err := mgr.Bind("ticks", ctrl, "", nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	ctrl.ProcessAllSync()

	select {
	case ev := <-got:
		if ev.Type != event.Market {
			t.Errorf("event type = %s, want Market", ev.Type)
		}
		if ev.Symbol != "ticks" {
			t.Errorf("symbol = %s, want fallback to source name 'ticks'", ev.Symbol)
		}
		if ev.Source != "ticks" {
			t.Errorf("source = %s, want ticks", ev.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("no Market event received")
	}
}

func TestManager_Bind_SymbolOverrideAndDataSymbol(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := replay.NewMemorySource([]replay.Row{
		{"symbol": "AAPL", "close": 150.0, "timestamp": start},
	}, "timestamp")
	ctrl := replay.NewController("feed1", src, replay.DefaultConfig(), nil)

	eng := eventengine.New("backtest2", eventengine.DefaultConfig(), nil)
	got := make(chan event.Event, 1)
	eng.RegisterHandler(event.Market, func(ev event.Event) { got <- ev })

	mgr := New(eng, nil)
	mgr.Bind("feed1", ctrl, "", nil)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	ctrl.ProcessAllSync()

	select {
	case ev := <-got:
		if ev.Symbol != "AAPL" {
			t.Errorf("symbol = %s, want AAPL (from row data)", ev.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("no Market event received")
	}
}

func TestManager_Converter_DropsRowOnFalse(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := replay.NewMemorySource([]replay.Row{
		{"close": 1.0, "timestamp": start},
		{"close": 2.0, "timestamp": start.Add(time.Minute)},
	}, "timestamp")
	ctrl := replay.NewController("custom", src, replay.DefaultConfig(), nil)

	eng := eventengine.New("backtest3", eventengine.DefaultConfig(), nil)
	got := make(chan event.Event, 4)
	eng.RegisterHandler(event.Wildcard, func(ev event.Event) { got <- ev })

	dropFirst := true
	converter := func(data replay.Row, ts time.Time, symbol string) (event.Event, bool) {
		if dropFirst {
			dropFirst = false
			return event.Event{}, false
		}
		return event.NewCustom(ts, data), true
	}

	mgr := New(eng, nil)
	mgr.Bind("custom", ctrl, "XYZ", converter)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	ctrl.ProcessAllSync()

	select {
	case ev := <-got:
		if ev.Type != event.Custom {
			t.Errorf("type = %s, want Custom", ev.Type)
		}
		if ev.Source != "custom" {
			t.Errorf("source = %s, want custom", ev.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("expected exactly one converted event, got none")
	}

	select {
	case ev := <-got:
		t.Fatalf("unexpected second event after drop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_DuplicateBindName_Errors(t *testing.T) {
	src := replay.NewMemorySource(nil, "")
	ctrl1 := replay.NewController("a", src, replay.DefaultConfig(), nil)
	ctrl2 := replay.NewController("a", src, replay.DefaultConfig(), nil)

	eng := eventengine.New("e", eventengine.DefaultConfig(), nil)
	mgr := New(eng, nil)

	if err := mgr.Bind("a", ctrl1, "", nil); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if err := mgr.Bind("a", ctrl2, "", nil); err == nil {
		t.Error("expected error re-binding the same name")
	}
}

func TestManager_PauseResumeStop_Lifecycle(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := replay.NewMemorySource([]replay.Row{
		{"close": 1.0, "timestamp": start},
		{"close": 2.0, "timestamp": start.Add(time.Millisecond)},
	}, "timestamp")
	cfg := replay.DefaultConfig()
	cfg.Mode = replay.Realtime
	ctrl := replay.NewController("r", src, cfg, nil)

	eng := eventengine.New("life", eventengine.DefaultConfig(), nil)
	mgr := New(eng, nil)
	mgr.Bind("r", ctrl, "", nil)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := mgr.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if ctrl.Status() != replay.Paused {
		t.Errorf("controller status = %s, want paused", ctrl.Status())
	}
	if eng.Status() != eventengine.Paused {
		t.Errorf("engine status = %s, want paused", eng.Status())
	}

	if err := mgr.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if !mgr.Stop(context.Background()) {
		t.Fatal("expected Stop to succeed")
	}
	if eng.Status() != eventengine.Stopped {
		t.Errorf("engine status after Stop = %s, want stopped", eng.Status())
	}
}
