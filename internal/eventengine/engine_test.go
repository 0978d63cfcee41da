package eventengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-bot/internal/event"
)

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return New("test", cfg, nil)
}

func TestEngine_StartStop(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	if e.Status() != Initialized {
		t.Fatalf("status = %s, want initialized", e.Status())
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.Status() != Running {
		t.Fatalf("status = %s, want running", e.Status())
	}
	if !e.Stop(context.Background()) {
		t.Fatal("expected Stop to succeed")
	}
	if e.Status() != Stopped {
		t.Fatalf("status = %s, want stopped", e.Status())
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	_ = e.Start(context.Background())
	if !e.Stop(context.Background()) {
		t.Fatal("first Stop should succeed")
	}
	if e.Stop(context.Background()) {
		t.Fatal("second Stop on a terminal engine should return false")
	}
}

func TestEngine_DispatchOrdering(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	var mu sync.Mutex
	var seen []string

	_, err := e.RegisterHandler(event.Market, func(ev event.Event) {
		mu.Lock()
		seen = append(seen, ev.Symbol)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(context.Background())

	symbols := []string{"A", "B", "C"}
	for _, s := range symbols {
		ev := event.NewMarket(s, time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
		if !e.Send(ev) {
			t.Fatalf("Send(%s) returned false", s)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= len(symbols) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for dispatch, got %d/%d", n, len(symbols))
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range symbols {
		if seen[i] != s {
			t.Errorf("seen[%d] = %s, want %s (send-order violated)", i, seen[i], s)
		}
	}
}

func TestEngine_WildcardReceivesEveryEvent(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	count := make(chan struct{}, 10)
	_, _ = e.RegisterHandler(event.Wildcard, func(ev event.Event) { count <- struct{}{} })

	_ = e.Start(context.Background())
	defer e.Stop(context.Background())

	e.Send(event.NewMarket("X", time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero))
	e.Send(event.NewSignal("X", time.Now(), event.Long, decimal.NewFromFloat(0.5)))

	for i := 0; i < 2; i++ {
		select {
		case <-count:
		case <-time.After(time.Second):
			t.Fatalf("wildcard handler missed event %d", i)
		}
	}
}

func TestEngine_HandlerPanicDoesNotStopOthers(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	done := make(chan struct{}, 1)

	_, _ = e.RegisterHandler(event.Market, func(ev event.Event) { panic("boom") })
	_, _ = e.RegisterHandler(event.Market, func(ev event.Event) { done <- struct{}{} })

	_ = e.Start(context.Background())
	defer e.Stop(context.Background())

	e.Send(event.NewMarket("X", time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran after first panicked")
	}
}

func TestEngine_RegisterHandler_DedupesSameFunction(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	fn := func(ev event.Event) {}

	id1, err := e.RegisterHandler(event.Market, fn)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := e.RegisterHandler(event.Market, fn)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("expected re-registration of same function to return stable id, got %d and %d", id1, id2)
	}
}

func TestEngine_RegisterHandler_RejectsEmptyTypeAndNilFunc(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	if _, err := e.RegisterHandler("", func(ev event.Event) {}); err == nil {
		t.Error("expected error for empty event type")
	}
	if _, err := e.RegisterHandler(event.Market, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestEngine_Send_InitializedAcceptsOnlyMarket(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	// Engine not started: status is Initialized.
	if !e.Send(event.NewMarket("X", time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)) {
		t.Error("expected Market event to be accepted while Initialized")
	}
	if e.Send(event.NewSignal("X", time.Now(), event.Long, decimal.NewFromFloat(0.5))) {
		t.Error("expected non-Market event to be rejected while Initialized")
	}
}

func TestEngine_QueueFull_SendTimesOut(t *testing.T) {
	cfg := Config{QueueCapacity: 1, SendTimeout: 30 * time.Millisecond, DispatchBatchSize: 10}
	e := testEngine(t, cfg)
	_ = e.Start(context.Background())
	_ = e.Pause() // dispatcher stops consuming, queue fills up
	defer e.Stop(context.Background())

	ev := func() event.Event {
		return event.NewMarket("X", time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	}
	if !e.Send(ev()) {
		t.Fatal("first send into capacity-1 queue should succeed")
	}
	start := time.Now()
	if e.Send(ev()) {
		t.Fatal("second send into a full, paused queue should fail")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("expected send to block roughly until timeout, blocked only %v", elapsed)
	}
}

func TestEngine_PauseResume_DispatchesQueuedEventsOnResume(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	got := make(chan event.Event, 4)
	_, _ = e.RegisterHandler(event.Market, func(ev event.Event) { got <- ev })

	_ = e.Start(context.Background())
	defer e.Stop(context.Background())
	if err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	for _, s := range []string{"A", "B"} {
		if !e.Send(event.NewMarket(s, time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)) {
			t.Fatalf("Send(%s) failed while paused", s)
		}
	}

	select {
	case <-got:
		t.Fatal("handler ran while engine was paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("expected queued event %d to dispatch after resume", i)
		}
	}
}

func TestEngine_Stats(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	_, _ = e.RegisterHandler(event.Market, func(ev event.Event) {})
	_ = e.Start(context.Background())
	defer e.Stop(context.Background())

	for i := 0; i < 3; i++ {
		e.Send(event.NewMarket("X", time.Now(), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero))
	}

	deadline := time.After(time.Second)
	for {
		if e.Stats().TotalDispatched >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stats never reached 3 dispatched: %+v", e.Stats())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
