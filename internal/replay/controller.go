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

// CallbackFunc receives one emitted data point.
type CallbackFunc func(row Row)

type callbackEntry struct {
	id int
	fn CallbackFunc
}

// Config holds Controller configuration (§6).
type Config struct {
	Mode            Mode
	SpeedFactor     float64
	MemoryOptimized bool
	BatchCallbacks  bool
	TimestampColumn string
	QueueCapacity   int // callback queue capacity in batch mode
}

// DefaultConfig returns the default Controller configuration.
func DefaultConfig() Config {
	return Config{Mode: Backtest, SpeedFactor: 1.0, QueueCapacity: 1000}
}

const callbackDrainGrace = 500 * time.Millisecond

// Controller is the single-source Data Replay Controller (§4.2).
type Controller struct {
	name   string
	source Source
	cfg    Config
	logger *slog.Logger
	rec    *metrics.Recorder

	mu               sync.Mutex
	status           Status
	position         int
	lastTimestamp    time.Time
	hasLastTimestamp bool
	callbacks        []callbackEntry
	nextCallbackID   int

	resumeCh chan struct{}
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// batch-callback mode
	callbackQueue chan Row
	batchWg       sync.WaitGroup
}

// NewController constructs a Controller over source in the Initialized
// state. name tags emitted rows' _source key and is used for logging.
func NewController(name string, source Source, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpeedFactor <= 0 {
		cfg.SpeedFactor = 1.0
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	c := &Controller{
		name:   name,
		source: source,
		cfg:    cfg,
		logger: logger,
		rec:    metrics.NewRecorder(),
		status: Initialized,
	}
	c.resetChannels()
	return c
}

func (c *Controller) resetChannels() {
	c.resumeCh = make(chan struct{})
	close(c.resumeCh) // "running" is the ready state until Pause replaces it
	c.stopCh = make(chan struct{})
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Name returns the controller's source tag.
func (c *Controller) Name() string { return c.name }

// Status returns the current lifecycle status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RegisterCallback adds fn to the callback table and returns its id.
func (c *Controller) RegisterCallback(fn CallbackFunc) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCallbackID++
	id := c.nextCallbackID
	c.callbacks = append(c.callbacks, callbackEntry{id: id, fn: fn})
	return id
}

// UnregisterCallback removes the callback with the given id. Returns
// true iff a callback was removed.
func (c *Controller) UnregisterCallback(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cb := range c.callbacks {
		if cb.id == id {
			c.callbacks = append(c.callbacks[:i], c.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// Start transitions Initialized → Running. A worker goroutine is
// launched for modes that need one (Backtest, Realtime, Accelerated);
// Stepped mode relies entirely on explicit Step() calls.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.status != Initialized {
		s := c.status
		c.mu.Unlock()
		return fmt.Errorf("replay: controller %s cannot start from %s", c.name, s)
	}
	c.status = Running
	mode := c.cfg.Mode
	c.mu.Unlock()

	c.logger.Info("replay controller starting", "controller", c.name, "mode", mode)

	if c.cfg.BatchCallbacks {
		c.callbackQueue = make(chan Row, c.cfg.QueueCapacity)
		c.batchWg.Add(1)
		go c.callbackWorker()
	}

	if mode.usesWorker() {
		c.wg.Add(1)
		go c.runWorker()
	}
	return nil
}

// Pause transitions Running → Paused.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Running {
		return fmt.Errorf("replay: controller %s cannot pause from %s", c.name, c.status)
	}
	c.status = Paused
	c.resumeCh = make(chan struct{})
	return nil
}

// Resume transitions Paused → Running.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Paused {
		return fmt.Errorf("replay: controller %s cannot resume from %s", c.name, c.status)
	}
	c.status = Running
	close(c.resumeCh)
	return nil
}

// Stop transitions any live state to Stopped, joining the worker with a
// bounded timeout (§5: ≤ 2 seconds). Idempotent: returns false if the
// controller is already terminal.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return false
	}
	wasLive := c.status == Running || c.status == Paused
	c.status = Stopped
	close(c.stopCh)
	select {
	case <-c.resumeCh:
	default:
		close(c.resumeCh)
	}
	c.mu.Unlock()
	c.cancel()

	if !wasLive {
		return true
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		c.batchWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(2 * time.Second):
		c.mu.Lock()
		c.status = Error
		c.mu.Unlock()
		c.logger.Error("replay controller stop timed out", "controller", c.name)
		return false
	}
}

// SetMode updates the pacing policy. Rejected while Running.
func (c *Controller) SetMode(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Running {
		return fmt.Errorf("replay: controller %s cannot change mode while running", c.name)
	}
	c.cfg.Mode = mode
	return nil
}

// SetSpeed updates the acceleration factor used in Accelerated mode.
func (c *Controller) SetSpeed(factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("replay: speed factor must be > 0, got %v", factor)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.SpeedFactor = factor
	return nil
}

// Reset rewinds the controller to Initialized: position and last
// timestamp are cleared, iterators conceptually rebuilt (the next Row
// call starts again at index 0), and the callback table is left
// untouched (§4.2.4). Rejected while Running.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.status == Running {
		c.mu.Unlock()
		return fmt.Errorf("replay: controller %s cannot reset while running", c.name)
	}
	live := c.status == Paused
	c.mu.Unlock()

	if live {
		c.Stop()
		c.wg.Wait()
		c.batchWg.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = 0
	c.lastTimestamp = time.Time{}
	c.hasLastTimestamp = false
	c.status = Initialized
	c.resetChannels()
	return nil
}

// Step advances one data point and invokes the callback table, returning
// the row (or ok=false at end of data). Auto-starts if Initialized.
func (c *Controller) Step() (Row, bool) {
	c.mu.Lock()
	if c.status == Initialized {
		c.status = Running
		if c.cfg.BatchCallbacks && c.callbackQueue == nil {
			c.callbackQueue = make(chan Row, c.cfg.QueueCapacity)
			c.batchWg.Add(1)
			go c.callbackWorker()
		}
	}
	c.mu.Unlock()
	// Deliberately does not launch the mode-driven background worker:
	// a caller reaching for Step() wants manual control over advancement
	// regardless of the configured pacing mode.
	return c.advance(false)
}

// StepSync is Step guaranteed to run on the caller's goroutine; since
// Controller never runs callback dispatch anywhere but the calling
// goroutine for a direct Step/StepSync call, the two are equivalent.
func (c *Controller) StepSync() (Row, bool) {
	return c.Step()
}

// ProcessAllSync iterates to the end on the caller's goroutine and
// returns the full collected sequence (§4.2 process_all_sync). No
// pacing worker is used and no pacing delay is applied. Callbacks run
// in order on the caller's goroutine, or on the batch-callback drain
// goroutine when BatchCallbacks is set.
func (c *Controller) ProcessAllSync() []Row {
	c.mu.Lock()
	if c.status == Initialized {
		c.status = Running
		// Deliberately does not launch the mode-driven background
		// worker: process_all_sync always runs on the caller's
		// goroutine (§4.2), so only the batch-callback drain worker
		// (if configured) needs starting here.
		if c.cfg.BatchCallbacks && c.callbackQueue == nil {
			c.callbackQueue = make(chan Row, c.cfg.QueueCapacity)
			c.batchWg.Add(1)
			go c.callbackWorker()
		}
	}
	c.mu.Unlock()

	var out []Row
	for {
		row, ok := c.advance(true)
		if !ok {
			break
		}
		out = append(out, row)
	}

	c.mu.Lock()
	if !c.status.Terminal() {
		c.status = Completed
	}
	c.mu.Unlock()
	return out
}

// advance fetches the next row (holding the lock only long enough to
// read and bump the cursor), dispatches it to the callback table, and
// updates last-emitted-timestamp bookkeeping. fromSyncPath suppresses
// the Stepped-mode pause after each row; ProcessAllSync passes true.
func (c *Controller) advance(fromSyncPath bool) (Row, bool) {
	c.mu.Lock()
	idx := c.position
	c.mu.Unlock()

	row, ok := c.source.Row(idx)
	if !ok {
		c.mu.Lock()
		if !c.status.Terminal() {
			c.status = Completed
		}
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.position++
	c.mu.Unlock()

	ts, hasTS := c.source.Timestamp(idx)
	stamped := stampRow(row, c.name, idx, ts, hasTS)

	c.dispatch(stamped)
	c.rec.RecordReplayRow(c.name)

	c.mu.Lock()
	if hasTS {
		c.lastTimestamp = ts
		c.hasLastTimestamp = true
	}
	mode := c.cfg.Mode
	c.mu.Unlock()

	if !fromSyncPath && mode == Stepped {
		c.mu.Lock()
		if c.status == Running {
			c.status = Paused
			c.resumeCh = make(chan struct{})
		}
		c.mu.Unlock()
	}

	return stamped, true
}

func stampRow(row Row, source string, index int, ts time.Time, hasTS bool) Row {
	out := make(Row, len(row)+3)
	for k, v := range row {
		out[k] = v
	}
	out[KeySource] = source
	out[KeyIndex] = index
	if hasTS {
		out[KeyTimestamp] = ts
	}
	return out
}

// dispatch invokes every registered callback, direct or batched
// according to cfg.BatchCallbacks (§4.2.3).
func (c *Controller) dispatch(row Row) {
	c.mu.Lock()
	batch := c.cfg.BatchCallbacks
	queue := c.callbackQueue
	c.mu.Unlock()

	if batch && queue != nil {
		select {
		case queue <- row:
		case <-c.stopCh:
		}
		return
	}
	c.invokeCallbacks(row)
}

// invokeCallbacks runs every callback synchronously, in registration
// order, catching panics per callback-id (§4.2.3: exceptions from one
// callback must not stop dispatch of the rest).
func (c *Controller) invokeCallbacks(row Row) {
	c.mu.Lock()
	cbs := make([]callbackEntry, len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()

	for _, cb := range cbs {
		c.invokeOne(cb, row)
	}
}

func (c *Controller) invokeOne(cb callbackEntry, row Row) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("replay callback panicked",
				"controller", c.name, "callback_id", cb.id, "panic", r)
			c.rec.RecordReplayCallbackFailure(c.name)
		}
	}()
	cb.fn(row)
}

// callbackWorker drains the batch-callback queue (§4.2.3 batch mode).
func (c *Controller) callbackWorker() {
	defer c.batchWg.Done()
	for {
		select {
		case row := <-c.callbackQueue:
			c.invokeCallbacks(row)
		case <-c.stopCh:
			c.drainCallbackQueue()
			return
		}
	}
}

// drainCallbackQueue invokes whatever is left in the queue, capped by a
// short grace period (§4.2.3: "best-effort; capped by a short grace period").
func (c *Controller) drainCallbackQueue() {
	deadline := time.After(callbackDrainGrace)
	for {
		select {
		case row := <-c.callbackQueue:
			c.invokeCallbacks(row)
		case <-deadline:
			return
		}
	}
}

// runWorker is the background worker loop for Backtest/Realtime/Accelerated
// modes (§4.2 "Algorithm (worker mode)").
func (c *Controller) runWorker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		status := c.status
		resumeCh := c.resumeCh
		c.mu.Unlock()

		if status == Paused {
			select {
			case <-c.stopCh:
				return
			case <-resumeCh:
				continue
			}
		}
		if status.Terminal() {
			return
		}

		prevTS, havePrevTS := c.lastKnownTimestamp()
		idx := c.peekPosition()
		ts, hasTS := c.source.Timestamp(idx)

		delay := c.pacingDelay(prevTS, havePrevTS, ts, hasTS)
		if delay > 0 {
			if !c.wait(delay) {
				return // stopped while pacing
			}
		}

		_, ok := c.advance(false)
		if !ok {
			return
		}

		c.mu.Lock()
		nowStatus := c.status
		c.mu.Unlock()
		if nowStatus.Terminal() {
			return
		}
	}
}

func (c *Controller) peekPosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Controller) lastKnownTimestamp() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTimestamp, c.hasLastTimestamp
}

// pacingDelay computes the inter-row delay per §4.2.2. Missing or
// non-monotonic timestamps yield a delay of 0.
func (c *Controller) pacingDelay(prevTS time.Time, havePrev bool, ts time.Time, hasTS bool) time.Duration {
	c.mu.Lock()
	mode := c.cfg.Mode
	speed := c.cfg.SpeedFactor
	c.mu.Unlock()

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

// wait pauses for delay using a rate.Limiter tied to the controller's
// cancellation context, so a Stop() during pacing interrupts the sleep
// immediately instead of leaving the worker blocked in a plain
// time.Sleep (§5 suspension point (b)). Returns false if the wait was
// interrupted by Stop.
func (c *Controller) wait(delay time.Duration) bool {
	lim := rate.NewLimiter(rate.Every(delay), 1)
	lim.Allow() // consume the initial, immediately-available token
	if err := lim.WaitN(c.ctx, 1); err != nil {
		return false
	}
	return true
}
