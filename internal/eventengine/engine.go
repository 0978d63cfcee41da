// Package eventengine implements the bounded-queue, typed-dispatch event
// engine shared by the data replay core and the event-driven backtester:
// a single dispatcher goroutine pops batches of events off a bounded FIFO
// queue and invokes the handlers registered for each event's type, plus
// any wildcard handlers, in send order.
package eventengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tathienbao/quant-bot/internal/event"
	"github.com/tathienbao/quant-bot/internal/metrics"
)

// Stats is a snapshot of engine counters (§6 "Supplemented Features":
// get_performance_stats equivalent).
type Stats struct {
	Status          Status
	TotalDispatched int64
	PerType         map[event.Type]int64
	QueueDepth      int
	UptimeSeconds   float64
	EventsPerSec    float64
}

// Engine is the base Event Engine + Engine Manager of §4.5: one bounded
// queue, one handler table with a wildcard bucket, one dispatcher
// goroutine, cooperative start/pause/resume/stop lifecycle.
type Engine struct {
	name   string
	cfg    Config
	logger *slog.Logger
	rec    *metrics.Recorder

	mu          sync.Mutex
	status      Status
	handlers    map[event.Type][]handlerEntry
	nextID      int
	queue       chan event.Event
	stopCh      chan struct{}
	resumeCh    chan struct{}
	startedAt   time.Time
	dispatched  map[event.Type]int64
	handlerFail map[int]int64

	wg sync.WaitGroup
}

// New constructs an Engine in the Initialized state. name is used only
// for logging and metrics labels.
func New(name string, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = DefaultConfig().DispatchBatchSize
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	return &Engine{
		name:        name,
		cfg:         cfg,
		logger:      logger,
		rec:         metrics.NewRecorder(),
		status:      Initialized,
		handlers:    make(map[event.Type][]handlerEntry),
		queue:       make(chan event.Event, cfg.QueueCapacity),
		stopCh:      make(chan struct{}),
		resumeCh:    make(chan struct{}),
		dispatched:  make(map[event.Type]int64),
		handlerFail: make(map[int]int64),
	}
}

// RegisterHandler registers fn for event type t (or Wildcard to receive
// every event). Returns the handler id. Re-registering the same function
// object for the same type is a no-op that returns the existing id.
func (e *Engine) RegisterHandler(t event.Type, fn HandlerFunc) (int, error) {
	if t == "" {
		return 0, fmt.Errorf("eventengine: event type must not be empty")
	}
	if fn == nil {
		return 0, fmt.Errorf("eventengine: handler must not be nil")
	}
	ptr := funcIdentity(fn)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handlers[t] {
		if h.ptr == ptr {
			return h.id, nil
		}
	}
	e.nextID++
	id := e.nextID
	e.handlers[t] = append(e.handlers[t], handlerEntry{id: id, ptr: ptr, fn: fn})
	return id, nil
}

// Start transitions Initialized → Running and launches the dispatcher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status != Initialized {
		s := e.status
		e.mu.Unlock()
		return fmt.Errorf("eventengine: cannot start from %s", s)
	}
	e.status = Running
	e.startedAt = time.Now()
	close(e.resumeCh) // running: resumeCh is always "ready" until a Pause replaces it
	e.mu.Unlock()

	e.logger.Info("event engine starting", "engine", e.name)

	e.wg.Add(1)
	go e.dispatchLoop()
	return nil
}

// Pause transitions Running → Paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Running {
		return fmt.Errorf("eventengine: cannot pause from %s", e.status)
	}
	e.status = Paused
	e.resumeCh = make(chan struct{})
	e.logger.Info("event engine paused", "engine", e.name)
	return nil
}

// Resume transitions Paused → Running.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Paused {
		return fmt.Errorf("eventengine: cannot resume from %s", e.status)
	}
	e.status = Running
	close(e.resumeCh)
	e.logger.Info("event engine resumed", "engine", e.name)
	return nil
}

// Stop transitions any live state to Stopped, joining the dispatcher with
// a bounded timeout (§5: ≤ 2 seconds). Idempotent on terminal states.
func (e *Engine) Stop(ctx context.Context) bool {
	e.mu.Lock()
	if e.status.Terminal() {
		e.mu.Unlock()
		return false
	}
	wasRunning := e.status == Running || e.status == Paused
	e.status = Stopped
	close(e.stopCh)
	// A paused dispatcher blocks on resumeCh; closing it lets the
	// dispatcher observe stopCh instead of waiting for a real resume.
	select {
	case <-e.resumeCh:
	default:
		close(e.resumeCh)
	}
	e.mu.Unlock()

	e.logger.Info("event engine stopping", "engine", e.name)

	if !wasRunning {
		return true
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("event engine stopped", "engine", e.name)
		return true
	case <-time.After(defaultJoinTimeout):
		e.mu.Lock()
		e.status = Error
		e.mu.Unlock()
		e.logger.Error("event engine stop timed out, marking error", "engine", e.name)
		return false
	}
}

// Status returns the current lifecycle status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Send enqueues ev. Accepted in Running/Paused; in Initialized only
// Market events are accepted (the warm-up path of §4.5/§9). Blocks up to
// cfg.SendTimeout if the queue is full, then returns false.
func (e *Engine) Send(ev event.Event) bool {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()

	switch status {
	case Initialized:
		if ev.Type != event.Market {
			return false
		}
	case Running, Paused:
		// accepted
	default:
		return false
	}

	ev = event.AssignID(ev)

	select {
	case e.queue <- ev:
		return true
	case <-time.After(e.cfg.SendTimeout):
		return false
	}
}

// dispatchLoop is the single dispatcher goroutine.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		paused := e.status == Paused
		resumeCh := e.resumeCh
		e.mu.Unlock()

		if paused {
			select {
			case <-e.stopCh:
				e.drainAndExit()
				return
			case <-resumeCh:
				continue
			case <-time.After(dispatchPollInterval):
				continue
			}
		}

		select {
		case <-e.stopCh:
			e.drainAndExit()
			return
		case first := <-e.queue:
			batch := make([]event.Event, 0, e.cfg.DispatchBatchSize)
			batch = append(batch, first)
		drain:
			for len(batch) < e.cfg.DispatchBatchSize {
				select {
				case ev := <-e.queue:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			for _, ev := range batch {
				e.dispatch(ev)
			}
		case <-time.After(dispatchPollInterval):
			// empty queue; loop back and re-check the stop signal
		}
	}
}

// drainAndExit dispatches whatever remains in the queue once stop has
// been signalled (best-effort, matches the replay engine's drain-on-stop
// contract in spirit: queued work is not silently discarded).
func (e *Engine) drainAndExit() {
	for {
		select {
		case ev := <-e.queue:
			e.dispatch(ev)
		default:
			return
		}
	}
}

// dispatch invokes every handler registered for ev.Type plus the
// wildcard bucket, in registration order, catching panics per handler.
func (e *Engine) dispatch(ev event.Event) {
	e.mu.Lock()
	typed := e.handlers[ev.Type]
	wild := e.handlers[event.Wildcard]
	handlers := make([]handlerEntry, 0, len(typed)+len(wild))
	handlers = append(handlers, typed...)
	handlers = append(handlers, wild...)
	e.mu.Unlock()

	for _, h := range handlers {
		e.invoke(h, ev)
	}

	e.mu.Lock()
	e.dispatched[ev.Type]++
	e.mu.Unlock()
	e.rec.RecordEventDispatched(string(ev.Type))
	e.rec.RecordQueueDepth(e.name, len(e.queue))
}

func (e *Engine) invoke(h handlerEntry, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"engine", e.name, "handler_id", h.id, "event_type", ev.Type, "panic", r)
			e.mu.Lock()
			e.handlerFail[h.id]++
			e.mu.Unlock()
			e.rec.RecordReplayCallbackFailure(e.name)
		}
	}()
	h.fn(ev)
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := int64(0)
	perType := make(map[event.Type]int64, len(e.dispatched))
	for t, c := range e.dispatched {
		perType[t] = c
		total += c
	}

	uptime := time.Duration(0)
	if !e.startedAt.IsZero() {
		uptime = time.Since(e.startedAt)
	}
	eps := 0.0
	if uptime > 0 {
		eps = float64(total) / uptime.Seconds()
	}

	return Stats{
		Status:          e.status,
		TotalDispatched: total,
		PerType:         perType,
		QueueDepth:      len(e.queue),
		UptimeSeconds:   uptime.Seconds(),
		EventsPerSec:    eps,
	}
}
