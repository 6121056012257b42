package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/hw/camera"
	"github.com/cjeanneret/scango/internal/logic/decode"
)

// Session is one scanning session: it opens the camera, runs the decode
// worker and the coordinator, and tears everything down on Stop.
type Session struct {
	id       string
	mgr      *camera.Manager
	consumer Consumer
	coord    *Coordinator
	worker   *decode.Worker
}

// NewSession wires a coordinator and a decode worker around mgr.
func NewSession(mgr *camera.Manager, dec decode.Decoder, consumer Consumer, opts Options) *Session {
	coord := NewCoordinator(mgr, consumer, opts)
	return &Session{
		id:       uuid.NewString(),
		mgr:      mgr,
		consumer: consumer,
		coord:    coord,
		worker:   decode.NewWorker(dec, coord.HandleOutcome),
	}
}

// ID identifies the session in the match history.
func (s *Session) ID() string {
	return s.id
}

// Start opens the camera and begins scanning. An open failure is reported
// to the consumer and returned; the session is unusable afterwards.
func (s *Session) Start(surface camera.Surface) error {
	debug.Summary("Scan session " + s.id)
	if err := s.mgr.Open(surface); err != nil {
		debug.Error(err)
		s.consumer.OnDeviceUnusable(err)
		return err
	}
	s.worker.Start()
	s.coord.Start(s.worker)
	return nil
}

// Stop shuts the pipeline down and releases the camera. Safe to call more
// than once.
func (s *Session) Stop() {
	s.coord.Shutdown()
	s.mgr.Close()
}

// Coordinator exposes the state machine, e.g. for listeners.
func (s *Session) Coordinator() *Coordinator {
	return s.coord
}

// State returns the pipeline state.
func (s *Session) State() State {
	return s.coord.State()
}

// RestartAfter schedules the next scan.
func (s *Session) RestartAfter(d time.Duration) {
	s.coord.RestartAfter(d)
}

// Rescan restarts immediately if a result is showing.
func (s *Session) Rescan() bool {
	return s.coord.Rescan()
}

// SetTorch switches the torch.
func (s *Session) SetTorch(on bool) {
	s.coord.SetTorch(on)
}

// Torch reports the requested torch state.
func (s *Session) Torch() bool {
	return s.mgr.Torch()
}

// Deliver injects a result, replayed once the session runs.
func (s *Session) Deliver(r Result) {
	s.coord.Deliver(r)
}

// LastResult returns the match shown since the last restart.
func (s *Session) LastResult() (Result, bool) {
	return s.coord.LastResult()
}

// Manager returns the camera manager.
func (s *Session) Manager() *camera.Manager {
	return s.mgr
}
