package decode

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/hw/camera"
)

var (
	// ErrWorkerNotReady means the worker did not signal readiness in time.
	ErrWorkerNotReady = errors.New("decode worker not ready")
	// ErrWorkerStopped means Terminate has been called.
	ErrWorkerStopped = errors.New("decode worker stopped")
	// ErrWorkerBusy means the inbox is full.
	ErrWorkerBusy = errors.New("decode worker busy")
)

const inboxSize = 4

// Request asks the worker to decode Frame within Crop (preview coordinates).
type Request struct {
	Frame camera.Frame
	Crop  image.Rectangle
}

// Outcome is the result of one decode attempt: a Success carrying the match
// and the rendered crop, or a Failure.
type Outcome struct {
	Success bool
	Match   Match
	Crop    *image.Gray
	Seq     uint64
	Elapsed time.Duration
}

type message struct {
	req       Request
	terminate bool
}

// Worker decodes frames one at a time on its own goroutine. Requests are
// handled strictly in submission order; Terminate lets everything queued
// before it finish and drops the rest.
type Worker struct {
	dec  Decoder
	emit func(Outcome)

	ready chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	inbox   chan message
	started bool
	stopped bool
}

// NewWorker creates a worker feeding outcomes to emit. emit runs on the
// worker goroutine and must not block for long.
func NewWorker(dec Decoder, emit func(Outcome)) *Worker {
	return &Worker{
		dec:   dec,
		emit:  emit,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling it again does nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)

	inbox := make(chan message, inboxSize)
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inbox = inbox
	w.mu.Unlock()
	close(w.ready)
	debug.Verbose("Decode worker ready")

	for msg := range inbox {
		if msg.terminate {
			debug.Verbose("Decode worker terminated")
			return
		}
		w.emit(w.decode(msg.req))
	}
}

// AwaitReady blocks until the worker's inbox exists, up to timeout.
func (w *Worker) AwaitReady(timeout time.Duration) error {
	select {
	case <-w.ready:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %v", ErrWorkerNotReady, timeout)
	}
}

// Submit queues req. The worker must be ready.
func (w *Worker) Submit(req Request) error {
	select {
	case <-w.ready:
	default:
		return ErrWorkerNotReady
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWorkerStopped
	}
	select {
	case w.inbox <- message{req: req}:
		return nil
	default:
		return ErrWorkerBusy
	}
}

// Terminate queues the terminal message and refuses further requests. It
// never blocks: with a full inbox the message is delivered in the background.
func (w *Worker) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.inbox == nil {
		return
	}
	inbox := w.inbox
	select {
	case inbox <- message{terminate: true}:
		close(inbox)
	default:
		go func() {
			inbox <- message{terminate: true}
			close(inbox)
		}()
	}
}

// Join waits up to timeout for the worker goroutine to exit and reports
// whether it did. A worker that was never started counts as exited.
func (w *Worker) Join(timeout time.Duration) bool {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return true
	}
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done is closed when the worker goroutine exits.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// decode runs one attempt. Decoder panics and errors become a Failure; the
// decoder is reset whatever happens.
func (w *Worker) decode(req Request) (out Outcome) {
	start := time.Now()
	f := req.Frame
	out.Seq = f.Seq

	defer w.reset()
	defer func() {
		if r := recover(); r != nil {
			debug.Error(fmt.Errorf("decoder panic on frame %d: %v", f.Seq, r))
			out = Outcome{Seq: f.Seq}
		}
		out.Elapsed = time.Since(start)
	}()

	luma := Luminance(f)
	if luma == nil {
		debug.Verbose("Frame %d: %d bytes too short for %dx%d %s", f.Seq, len(f.Data), f.Width, f.Height, f.Format)
		return out
	}
	crop := ClampCrop(req.Crop, f.Width, f.Height)

	m, err := w.dec.Decode(luma, f.Width, f.Height, crop)
	if err != nil {
		debug.Verbose("Frame %d: decode failed: %v", f.Seq, err)
		return out
	}
	if m == nil {
		debug.Verbose("Frame %d: no match", f.Seq)
		return out
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	out.Success = true
	out.Match = *m
	out.Crop = RenderCrop(luma, f.Width, crop)
	debug.Verbose("Frame %d: found %s in %v", f.Seq, m.Format, time.Since(start))
	return out
}

func (w *Worker) reset() {
	defer func() {
		if r := recover(); r != nil {
			debug.Error(fmt.Errorf("decoder reset panic: %v", r))
		}
	}()
	w.dec.Reset()
}
