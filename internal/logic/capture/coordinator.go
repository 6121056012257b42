package capture

import (
	"fmt"
	"image"
	rtdebug "runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/hw/camera"
	"github.com/cjeanneret/scango/internal/logic/decode"
)

// Consumer receives the only two notifications the pipeline emits. Both run
// on the coordinator goroutine.
type Consumer interface {
	OnMatch(m decode.Match, crop *image.Gray)
	OnDeviceUnusable(err error)
}

// OverlayRedrawer is optionally implemented by a Consumer that draws the
// viewfinder; it is told to redraw on every restart.
type OverlayRedrawer interface {
	RedrawOverlay()
}

// DeviceController is the part of camera.Manager the coordinator drives.
type DeviceController interface {
	StartStreaming()
	StopStreaming()
	RequestOneFrame(onFrame func(camera.Frame)) error
	RequestFocus(onFocus func(bool))
	SetTorch(on bool)
	CurrentPreviewScanRect() (image.Rectangle, bool)
}

// DecodeWorker is the part of decode.Worker the coordinator drives.
type DecodeWorker interface {
	AwaitReady(timeout time.Duration) error
	Submit(req decode.Request) error
	Terminate()
	Join(timeout time.Duration) bool
}

// Options holds the coordinator timings.
type Options struct {
	FocusInterval   time.Duration // delay between focus attempts
	ShutdownTimeout time.Duration // max wait for the worker on shutdown
	ReadyTimeout    time.Duration // max wait for the worker to start
	FrameRetry      time.Duration // backoff after a refused frame request
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		FocusInterval:   1500 * time.Millisecond,
		ShutdownTimeout: 500 * time.Millisecond,
		ReadyTimeout:    2 * time.Second,
		FrameRetry:      100 * time.Millisecond,
	}
}

// shutdownGrace is added to the shutdown timeout when waiting for the
// coordinator goroutine itself.
const shutdownGrace = 250 * time.Millisecond

// Result is a decoded match with its rendered crop.
type Result struct {
	Match decode.Match
	Crop  *image.Gray
}

// Coordinator is the pipeline state machine. Every input (hardware
// callbacks, decode outcomes, restart and shutdown requests) is posted to a
// single inbox and handled in order on one goroutine, which is also the only
// goroutine driving the device.
type Coordinator struct {
	dev      DeviceController
	consumer Consumer
	opts     Options

	events chan interface{}
	done   chan struct{}
	state  atomic.Int32

	// owned by the loop goroutine
	worker           DecodeWorker
	running          bool
	frameOutstanding bool
	decoding         bool
	focusPending     bool
	focusTimer       *time.Timer
	retryTimer       *time.Timer
	frameFailures    int

	mu        sync.Mutex
	started   bool
	last      *Result
	saved     *Result
	timers    map[*time.Timer]struct{}
	listeners []Listener
}

// events
type (
	evtStart    struct{ worker DecodeWorker }
	evtRestart  struct{}
	evtFrame    struct{ frame camera.Frame }
	evtRetry    struct{}
	evtFocus    struct{ ok bool }
	evtFocusDue struct{}
	evtOutcome  struct {
		outcome  decode.Outcome
		replayed bool
	}
	evtTorch    struct{ on bool }
	evtShutdown struct{ reply chan struct{} }
)

// NewCoordinator constructs the coordinator and starts its event loop. The
// pipeline stays idle in Matched until Start.
func NewCoordinator(dev DeviceController, consumer Consumer, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = def.ReadyTimeout
	}
	if opts.FrameRetry <= 0 {
		opts.FrameRetry = def.FrameRetry
	}
	c := &Coordinator{
		dev:      dev,
		consumer: consumer,
		opts:     opts,
		events:   make(chan interface{}, 64),
		done:     make(chan struct{}),
		timers:   make(map[*time.Timer]struct{}),
	}
	c.state.Store(int32(Matched))
	go func() {
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				debug.Error(fmt.Errorf("coordinator panic: %v\n%s", r, rtdebug.Stack()))
			}
		}()
		c.loop()
	}()
	return c
}

// post delivers ev to the loop. Events posted after the loop exited are
// dropped.
func (c *Coordinator) post(ev interface{}) {
	select {
	case c.events <- ev:
	case <-c.done:
		debug.Trace("Coordinator event %T dropped: coordinator stopped", ev)
	}
}

func (c *Coordinator) loop() {
	for ev := range c.events {
		switch e := ev.(type) {
		case evtStart:
			c.handleStart(e.worker)
		case evtRestart:
			c.handleRestart()
		case evtFrame:
			c.handleFrame(e.frame)
		case evtRetry:
			c.handleRetry()
		case evtFocus:
			c.handleFocus(e.ok)
		case evtFocusDue:
			c.handleFocusDue()
		case evtOutcome:
			c.handleOutcome(e.outcome, e.replayed)
		case evtTorch:
			c.dev.SetTorch(e.on)
		case evtShutdown:
			c.handleShutdown()
			close(e.reply)
			return
		}
	}
}

// State returns the current state. Safe from any goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// AddListener registers an observer of state transitions.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) transition(next State) {
	prev := c.State()
	if prev == next {
		return
	}
	c.state.Store(int32(next))
	debug.Transition(prev.String(), next.String())

	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(prev, next)
	}
}

// Start hands the worker to the coordinator: once the worker is ready the
// camera starts streaming and the first scan begins. A worker that never
// becomes ready is reported through OnDeviceUnusable.
func (c *Coordinator) Start(worker DecodeWorker) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	c.post(evtStart{worker: worker})
}

func (c *Coordinator) handleStart(worker DecodeWorker) {
	c.worker = worker
	if err := worker.AwaitReady(c.opts.ReadyTimeout); err != nil {
		debug.Error(err)
		c.consumer.OnDeviceUnusable(err)
		return
	}
	c.running = true
	c.dev.StartStreaming()
	c.handleRestart()

	c.mu.Lock()
	saved := c.saved
	c.saved = nil
	c.mu.Unlock()
	if saved != nil {
		debug.Verbose("Replaying saved result")
		c.handleOutcome(decode.Outcome{Success: true, Match: saved.Match, Crop: saved.Crop}, true)
	}
}

// RestartAfter schedules a restart after d (0 = as soon as possible).
// Restarting while streaming does nothing.
func (c *Coordinator) RestartAfter(d time.Duration) {
	if d <= 0 {
		c.post(evtRestart{})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, t)
		c.mu.Unlock()
		c.post(evtRestart{})
	})
	c.timers[t] = struct{}{}
}

func (c *Coordinator) handleRestart() {
	if !c.running {
		debug.Trace("Restart ignored: coordinator not started")
		return
	}
	switch c.State() {
	case Streaming:
		debug.Trace("Restart ignored: already streaming")
		return
	case ShuttingDown:
		return
	}

	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()

	c.transition(Awaiting)
	c.requestFrame()
	if !c.focusPending {
		c.requestFocus()
	}
	if r, ok := c.consumer.(OverlayRedrawer); ok {
		r.RedrawOverlay()
	}
	c.transition(Streaming)
}

// requestFrame asks for the next frame unless one is already in flight,
// either outstanding at the device or being decoded.
func (c *Coordinator) requestFrame() {
	if c.frameOutstanding || c.decoding {
		return
	}
	c.frameOutstanding = true
	debug.Live("Requesting frame")
	err := c.dev.RequestOneFrame(func(f camera.Frame) { c.post(evtFrame{frame: f}) })
	if err == nil {
		c.frameFailures = 0
		return
	}

	// No callback will come for this request.
	c.frameOutstanding = false
	c.frameFailures++
	if c.frameFailures == 1 {
		debug.Warn("Frame request failed, retrying every %v: %v", c.opts.FrameRetry, err)
	} else {
		debug.Trace("Frame request failed (%d in a row): %v", c.frameFailures, err)
	}
	if c.retryTimer == nil {
		c.retryTimer = time.AfterFunc(c.opts.FrameRetry, func() { c.post(evtRetry{}) })
	}
}

// handleRetry re-requests a frame after a refused request. The preview is
// restarted first in case it never came up.
func (c *Coordinator) handleRetry() {
	c.retryTimer = nil
	if c.State() != Streaming {
		debug.Trace("Frame retry dropped: not streaming")
		return
	}
	c.dev.StartStreaming()
	c.requestFrame()
}

func (c *Coordinator) requestFocus() {
	c.focusPending = true
	debug.Live("Requesting focus")
	c.dev.RequestFocus(func(ok bool) { c.post(evtFocus{ok: ok}) })
}

func (c *Coordinator) handleFrame(f camera.Frame) {
	c.frameOutstanding = false
	switch c.State() {
	case ShuttingDown:
		debug.Trace("Frame %d dropped: shutting down", f.Seq)
		return
	case Streaming:
	default:
		debug.Trace("Frame %d dropped: not streaming", f.Seq)
		return
	}

	crop, _ := c.dev.CurrentPreviewScanRect()
	if err := c.worker.Submit(decode.Request{Frame: f, Crop: crop}); err != nil {
		debug.Error(fmt.Errorf("submit frame %d: %w", f.Seq, err))
		c.requestFrame()
		return
	}
	c.decoding = true
}

func (c *Coordinator) handleFocus(ok bool) {
	if c.State() != Streaming {
		c.focusPending = false
		debug.Trace("Focus result dropped: not streaming")
		return
	}
	debug.Live("Focus result: %v", ok)
	if c.opts.FocusInterval <= 0 {
		c.requestFocus()
		return
	}
	c.focusTimer = time.AfterFunc(c.opts.FocusInterval, func() { c.post(evtFocusDue{}) })
}

func (c *Coordinator) handleFocusDue() {
	c.focusTimer = nil
	if c.State() != Streaming {
		c.focusPending = false
		return
	}
	c.requestFocus()
}

// HandleOutcome receives a decode outcome. It is the worker's emit function.
func (c *Coordinator) HandleOutcome(o decode.Outcome) {
	c.post(evtOutcome{outcome: o})
}

func (c *Coordinator) handleOutcome(o decode.Outcome, replayed bool) {
	if !replayed {
		c.decoding = false
	}
	state := c.State()
	if state == ShuttingDown {
		return
	}

	if !o.Success {
		if state != Streaming {
			debug.Trace("Failure for frame %d dropped: %s", o.Seq, state)
			return
		}
		debug.Verbose("No match in frame %d (%v), requesting next frame", o.Seq, o.Elapsed)
		c.requestFrame()
		return
	}

	if state != Streaming && state != Matched {
		return
	}
	c.mu.Lock()
	c.last = &Result{Match: o.Match, Crop: o.Crop}
	c.mu.Unlock()
	c.transition(Matched)
	debug.Match(o.Match.Format, o.Match.Text)
	c.consumer.OnMatch(o.Match, o.Crop)
}

// Deliver injects a result as if it had been decoded. Before Start it is
// kept and replayed once the pipeline runs.
func (c *Coordinator) Deliver(r Result) {
	c.mu.Lock()
	if !c.started {
		c.saved = &r
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.post(evtOutcome{outcome: decode.Outcome{Success: true, Match: r.Match, Crop: r.Crop}, replayed: true})
}

// LastResult returns the last match since the previous restart, if any.
func (c *Coordinator) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// Rescan restarts immediately when a result is showing and reports whether
// it did.
func (c *Coordinator) Rescan() bool {
	if _, ok := c.LastResult(); !ok {
		return false
	}
	c.RestartAfter(0)
	return true
}

// SetTorch switches the torch from the coordinator goroutine.
func (c *Coordinator) SetTorch(on bool) {
	c.post(evtTorch{on: on})
}

// Shutdown stops streaming, terminates the worker and waits for it up to
// the shutdown timeout. Queued outcomes are discarded. It returns within
// the timeout plus a short grace period whatever the worker does.
func (c *Coordinator) Shutdown() {
	bound := c.opts.ShutdownTimeout + shutdownGrace
	deadline := time.NewTimer(bound)
	defer deadline.Stop()

	reply := make(chan struct{})
	select {
	case c.events <- evtShutdown{reply: reply}:
	case <-c.done:
		return
	case <-deadline.C:
		debug.Warn("Coordinator did not accept shutdown within %v", bound)
		return
	}
	select {
	case <-reply:
	case <-c.done:
	case <-deadline.C:
		debug.Warn("Coordinator did not shut down within %v", bound)
	}
}

func (c *Coordinator) handleShutdown() {
	c.transition(ShuttingDown)
	c.dev.StopStreaming()

	if c.focusTimer != nil {
		c.focusTimer.Stop()
		c.focusTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Lock()
	for t := range c.timers {
		t.Stop()
		delete(c.timers, t)
	}
	c.mu.Unlock()

	if c.worker != nil {
		c.worker.Terminate()
		if !c.worker.Join(c.opts.ShutdownTimeout) {
			debug.Warn("Decode worker did not stop within %v, abandoning it", c.opts.ShutdownTimeout)
		}
	}

	dropped := 0
	for {
		select {
		case ev := <-c.events:
			if _, ok := ev.(evtOutcome); ok {
				dropped++
			}
		default:
			if dropped > 0 {
				debug.Verbose("Discarded %d queued decode outcomes", dropped)
			}
			return
		}
	}
}

// Done is closed once the coordinator goroutine has exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
