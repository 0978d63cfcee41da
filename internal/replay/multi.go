package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tathienbao/quant-bot/internal/metrics"
)

// TimestampExtractor pulls a timestamp out of an already-stamped row.
// Used by MultiController when a source's own Source.Timestamp is
// insufficient (§6: "timestamp_extractors: map of source → fn(row) →
// timestamp").
type TimestampExtractor func(row Row) (time.Time, bool)

type sourceBinding struct {
	name      string
	source    Source
	extractor TimestampExtractor
}

type cursorState struct {
	nextIdx   int
	candidate Row
	candTS    time.Time
	hasTS     bool
	finished  bool
}

// MultiConfig holds MultiController configuration (§6).
type MultiConfig struct {
	Mode            Mode
	SpeedFactor     float64
	MemoryOptimized bool
	BatchCallbacks  bool
	QueueCapacity   int
}

// DefaultMultiConfig returns the default MultiController configuration.
func DefaultMultiConfig() MultiConfig {
	return MultiConfig{Mode: Backtest, SpeedFactor: 1.0, QueueCapacity: 1000}
}

// MultiController merges N time-indexed sources into one time-ordered
// stream, emitting the candidate row with the smallest timestamp among
// not-yet-finished sources at each step (§4.4).
type MultiController struct {
	bindings []sourceBinding
	cfg      MultiConfig
	logger   *slog.Logger
	rec      *metrics.Recorder

	mu               sync.Mutex
	status           Status
	cursors          []cursorState
	lastTimestamp    time.Time
	hasLastTimestamp bool
	callbacks        []callbackEntry
	nextCallbackID   int

	resumeCh chan struct{}
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	callbackQueue chan Row
	batchWg       sync.WaitGroup
}

// NewMultiController builds a MultiController over the given named
// sources, iterated in the order given (this order also breaks
// timestamp ties deterministically, per §4.4).
func NewMultiController(sources map[string]Source, extractors map[string]TimestampExtractor, order []string, cfg MultiConfig, logger *slog.Logger) (*MultiController, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpeedFactor <= 0 {
		cfg.SpeedFactor = 1.0
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultMultiConfig().QueueCapacity
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("replay: multi-controller requires at least one source")
	}

	bindings := make([]sourceBinding, 0, len(order))
	for _, name := range order {
		src, ok := sources[name]
		if !ok {
			return nil, fmt.Errorf("replay: no source registered for %q", name)
		}
		bindings = append(bindings, sourceBinding{name: name, source: src, extractor: extractors[name]})
	}

	mc := &MultiController{
		bindings: bindings,
		cfg:      cfg,
		logger:   logger,
		rec:      metrics.NewRecorder(),
		status:   Initialized,
		cursors:  make([]cursorState, len(bindings)),
	}
	mc.resetChannels()
	return mc, nil
}

func (mc *MultiController) resetChannels() {
	mc.resumeCh = make(chan struct{})
	close(mc.resumeCh)
	mc.stopCh = make(chan struct{})
	mc.ctx, mc.cancel = context.WithCancel(context.Background())
}

func (mc *MultiController) Status() Status {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.status
}

func (mc *MultiController) RegisterCallback(fn CallbackFunc) int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.nextCallbackID++
	id := mc.nextCallbackID
	mc.callbacks = append(mc.callbacks, callbackEntry{id: id, fn: fn})
	return id
}

func (mc *MultiController) UnregisterCallback(id int) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for i, cb := range mc.callbacks {
		if cb.id == id {
			mc.callbacks = append(mc.callbacks[:i], mc.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// Start preloads each source's first candidate row and, for
// worker-driven modes, launches the merge worker.
func (mc *MultiController) Start() error {
	mc.mu.Lock()
	if mc.status != Initialized {
		s := mc.status
		mc.mu.Unlock()
		return fmt.Errorf("replay: multi-controller cannot start from %s", s)
	}
	mc.status = Running
	mode := mc.cfg.Mode
	for i := range mc.cursors {
		mc.preload(i)
	}
	mc.mu.Unlock()

	if mc.cfg.BatchCallbacks {
		mc.callbackQueue = make(chan Row, mc.cfg.QueueCapacity)
		mc.batchWg.Add(1)
		go mc.callbackWorker()
	}
	if mode.usesWorker() {
		mc.wg.Add(1)
		go mc.runWorker()
	}
	return nil
}

func (mc *MultiController) Pause() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.status != Running {
		return fmt.Errorf("replay: multi-controller cannot pause from %s", mc.status)
	}
	mc.status = Paused
	mc.resumeCh = make(chan struct{})
	return nil
}

func (mc *MultiController) Resume() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.status != Paused {
		return fmt.Errorf("replay: multi-controller cannot resume from %s", mc.status)
	}
	mc.status = Running
	close(mc.resumeCh)
	return nil
}

func (mc *MultiController) Stop() bool {
	mc.mu.Lock()
	if mc.status.Terminal() {
		mc.mu.Unlock()
		return false
	}
	wasLive := mc.status == Running || mc.status == Paused
	mc.status = Stopped
	close(mc.stopCh)
	select {
	case <-mc.resumeCh:
	default:
		close(mc.resumeCh)
	}
	mc.mu.Unlock()
	mc.cancel()

	if !wasLive {
		return true
	}
	done := make(chan struct{})
	go func() {
		mc.wg.Wait()
		mc.batchWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(2 * time.Second):
		mc.mu.Lock()
		mc.status = Error
		mc.mu.Unlock()
		mc.logger.Error("replay multi-controller stop timed out")
		return false
	}
}

// Reset rewinds every cursor to Initialized. Rejected while Running.
func (mc *MultiController) Reset() error {
	mc.mu.Lock()
	if mc.status == Running {
		mc.mu.Unlock()
		return fmt.Errorf("replay: multi-controller cannot reset while running")
	}
	live := mc.status == Paused
	mc.mu.Unlock()

	if live {
		mc.Stop()
		mc.wg.Wait()
		mc.batchWg.Wait()
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cursors = make([]cursorState, len(mc.bindings))
	mc.lastTimestamp = time.Time{}
	mc.hasLastTimestamp = false
	mc.status = Initialized
	mc.resetChannels()
	return nil
}

// preload fetches source i's next candidate row into its cursor,
// marking the source finished when exhausted. Caller must hold mc.mu.
func (mc *MultiController) preload(i int) {
	b := mc.bindings[i]
	cur := &mc.cursors[i]
	row, ok := b.source.Row(cur.nextIdx)
	if !ok {
		cur.finished = true
		cur.candidate = nil
		return
	}
	ts, hasTS := mc.extractTimestamp(b, row, cur.nextIdx)
	cur.candidate = row
	cur.candTS = ts
	cur.hasTS = hasTS
}

func (mc *MultiController) extractTimestamp(b sourceBinding, row Row, idx int) (time.Time, bool) {
	if b.extractor != nil {
		return b.extractor(row)
	}
	if ts, ok := b.source.Timestamp(idx); ok {
		return ts, true
	}
	// Fall back to the row's own "index" column if it is timestamp-typed
	// (§4.4 "Timestamp extraction").
	if v, ok := row[KeyIndex]; ok {
		return toTimestamp(v)
	}
	return time.Time{}, false
}

// selectNext picks, among non-finished cursors, the one with the
// smallest candidate timestamp, ties broken by binding order (§4.4).
// Cursors without a timestamp sort after every timestamped candidate,
// so mixing timestamped and non-timestamped sources degrades to a
// partial rather than total order, never a crash.
func (mc *MultiController) selectNext() (int, bool) {
	best := -1
	for i, cur := range mc.cursors {
		if cur.finished {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bc := mc.cursors[best]
		switch {
		case cur.hasTS && !bc.hasTS:
			best = i
		case cur.hasTS && bc.hasTS && cur.candTS.Before(bc.candTS):
			best = i
		}
	}
	return best, best != -1
}

// advanceOne emits the current global-minimum candidate and advances
// that source's cursor, returning the emitted row or ok=false when
// every source is finished.
func (mc *MultiController) advanceOne() (Row, bool) {
	mc.mu.Lock()
	i, ok := mc.selectNext()
	if !ok {
		if !mc.status.Terminal() {
			mc.status = Completed
		}
		mc.mu.Unlock()
		return nil, false
	}
	b := mc.bindings[i]
	cur := mc.cursors[i]
	row := stampRow(cur.candidate, b.name, cur.nextIdx, cur.candTS, cur.hasTS)
	mc.cursors[i].nextIdx++
	mc.preload(i)
	mc.mu.Unlock()

	mc.dispatch(row)
	mc.rec.RecordReplayRow(b.name)

	mc.mu.Lock()
	if cur.hasTS {
		mc.lastTimestamp = cur.candTS
		mc.hasLastTimestamp = true
	}
	mc.mu.Unlock()
	return row, true
}

func (mc *MultiController) dispatch(row Row) {
	mc.mu.Lock()
	batch := mc.cfg.BatchCallbacks
	queue := mc.callbackQueue
	mc.mu.Unlock()

	if batch && queue != nil {
		select {
		case queue <- row:
		case <-mc.stopCh:
		}
		return
	}
	mc.invokeCallbacks(row)
}

func (mc *MultiController) invokeCallbacks(row Row) {
	mc.mu.Lock()
	cbs := make([]callbackEntry, len(mc.callbacks))
	copy(cbs, mc.callbacks)
	mc.mu.Unlock()

	for _, cb := range cbs {
		mc.invokeOne(cb, row)
	}
}

func (mc *MultiController) invokeOne(cb callbackEntry, row Row) {
	defer func() {
		if r := recover(); r != nil {
			mc.logger.Error("replay callback panicked", "callback_id", cb.id, "panic", r)
			mc.rec.RecordReplayCallbackFailure("multi")
		}
	}()
	cb.fn(row)
}

func (mc *MultiController) callbackWorker() {
	defer mc.batchWg.Done()
	for {
		select {
		case row := <-mc.callbackQueue:
			mc.invokeCallbacks(row)
		case <-mc.stopCh:
			mc.drainCallbackQueue()
			return
		}
	}
}

func (mc *MultiController) drainCallbackQueue() {
	deadline := time.After(callbackDrainGrace)
	for {
		select {
		case row := <-mc.callbackQueue:
			mc.invokeCallbacks(row)
		case <-deadline:
			return
		}
	}
}

// ProcessAllSync drains every source to completion on the caller's
// goroutine, returning the full merged, time-ordered sequence.
func (mc *MultiController) ProcessAllSync() []Row {
	mc.mu.Lock()
	if mc.status == Initialized {
		mc.status = Running
		for i := range mc.cursors {
			mc.preload(i)
		}
	}
	mc.mu.Unlock()

	var out []Row
	for {
		row, ok := mc.advanceOne()
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out
}

// Step advances exactly one merged data point, auto-starting if
// Initialized.
func (mc *MultiController) Step() (Row, bool) {
	mc.mu.Lock()
	if mc.status == Initialized {
		mc.status = Running
		for i := range mc.cursors {
			mc.preload(i)
		}
	}
	mc.mu.Unlock()
	return mc.advanceOne()
}

func (mc *MultiController) runWorker() {
	defer mc.wg.Done()
	for {
		mc.mu.Lock()
		status := mc.status
		resumeCh := mc.resumeCh
		mc.mu.Unlock()

		if status == Paused {
			select {
			case <-mc.stopCh:
				return
			case <-resumeCh:
				continue
			}
		}
		if status.Terminal() {
			return
		}

		prevTS, havePrev := mc.lastKnownTimestamp()
		mc.mu.Lock()
		i, ok := mc.selectNext()
		var candTS time.Time
		var hasTS bool
		if ok {
			candTS = mc.cursors[i].candTS
			hasTS = mc.cursors[i].hasTS
		}
		mode := mc.cfg.Mode
		speed := mc.cfg.SpeedFactor
		mc.mu.Unlock()
		if !ok {
			mc.mu.Lock()
			mc.status = Completed
			mc.mu.Unlock()
			return
		}

		delay := pacingDelayFor(mode, speed, prevTS, havePrev, candTS, hasTS)
		if delay > 0 {
			if !mc.wait(delay) {
				return
			}
		}

		if _, ok := mc.advanceOne(); !ok {
			return
		}
	}
}

func (mc *MultiController) lastKnownTimestamp() (time.Time, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lastTimestamp, mc.hasLastTimestamp
}

func (mc *MultiController) wait(delay time.Duration) bool {
	lim := rate.NewLimiter(rate.Every(delay), 1)
	lim.Allow()
	return lim.WaitN(mc.ctx, 1) == nil
}

// pacingDelayFor is the shared §4.2.2 computation, factored out so both
// Controller and MultiController apply identical rules.
func pacingDelayFor(mode Mode, speed float64, prevTS time.Time, havePrev bool, ts time.Time, hasTS bool) time.Duration {
	if mode == Backtest || mode == Stepped {
		return 0
	}
	if !havePrev || !hasTS {
		return 0
	}
	delta := ts.Sub(prevTS)
	if delta <= 0 {
		return 0
	}
	if mode == Accelerated {
		delta = time.Duration(float64(delta) / speed)
	}
	return delta
}
