package camera

import (
	"errors"
	"image"
	"sync"

	"github.com/gofrs/flock"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// Manager owns the single camera handle and the frame geometry derived from
// it. Only the capture coordinator drives it; the mutex keeps read-only
// accessors used by the web layer consistent.
type Manager struct {
	opener  Opener
	planner *geometry.Planner

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	dev       Device
	streaming bool
	torch     bool

	frame oneShot[Frame]
	focus oneShot[bool]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockFile makes Open take an exclusive file lock at path, so two
// processes never drive the same camera.
func WithLockFile(path string) Option {
	return func(m *Manager) {
		m.lockPath = path
	}
}

// NewManager creates a manager that acquires the camera through opener.
func NewManager(opener Opener, planner *geometry.Planner, opts ...Option) *Manager {
	m := &Manager{
		opener:  opener,
		planner: planner,
		frame:   oneShot[Frame]{name: "frame"},
		focus:   oneShot[bool]{name: "focus"},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lockPath != "" {
		m.lock = flock.New(m.lockPath)
	}
	return m
}

// Open acquires the camera and applies the preferred parameters. The first
// successful open also initializes the geometry. Opening an open manager
// only re-applies parameters. Failures are returned as *DeviceError.
func (m *Manager) Open(surface Surface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev != nil {
		m.applyParameters()
		return nil
	}

	if m.lock != nil {
		ok, err := m.lock.TryLock()
		if err != nil {
			return &DeviceError{Op: "lock", Err: err}
		}
		if !ok {
			return &DeviceError{Op: "lock", Err: ErrDeviceBusy}
		}
	}

	var dev Device
	err := guard("open", func() error {
		var err error
		dev, err = m.opener()
		return err
	})
	if err == nil && dev == nil {
		err = ErrNoDevice
	}
	if err == nil {
		err = guard("set preview display", func() error { return dev.SetPreviewDisplay(surface) })
		if err != nil {
			m.release(dev)
		}
	}
	if err != nil {
		m.unlock()
		return &DeviceError{Op: "open", Err: err}
	}
	m.dev = dev

	if !m.planner.Initialized() {
		var supported []geometry.Size
		var fallback geometry.Size
		if p, err := m.parameters(); err == nil {
			supported, fallback = p.PreviewSizes, p.PreviewSize
		}
		m.planner.Initialize(surface.Resolution(), supported, fallback)
	}
	m.applyParameters()
	debug.Info("Camera opened (preview %s)", m.planner.PreviewSize())
	return nil
}

// Close releases the camera and drops the cached scan rectangles. Closing a
// closed manager does nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil {
		return
	}
	m.stopStreaming()
	m.release(m.dev)
	m.dev = nil
	m.planner.Invalidate()
	m.unlock()
	debug.Info("Camera closed")
}

func (m *Manager) release(dev Device) {
	if err := guard("release", dev.Release); err != nil {
		debug.Error(err)
	}
}

func (m *Manager) unlock() {
	if m.lock == nil {
		return
	}
	if err := m.lock.Unlock(); err != nil {
		debug.Warn("failed to release camera lock %s: %v", m.lockPath, err)
	}
}

// parameters reads the device parameters, logging a configuration warning
// when there are none.
func (m *Manager) parameters() (*Parameters, error) {
	var p *Parameters
	err := guard("get parameters", func() error {
		var err error
		p, err = m.dev.Parameters()
		return err
	})
	if err == nil && p == nil {
		err = ErrNoParameters
	}
	if err != nil {
		if errors.Is(err, ErrNoParameters) {
			debug.Warn("Device exposes no parameters, using defaults")
		} else {
			debug.Error(err)
		}
		return nil, err
	}
	return p, nil
}

func (m *Manager) applyParameters() {
	p, err := m.parameters()
	if err != nil {
		return
	}
	m.setFlash(p)
	if mode := findSettableValue("focus mode", p.FocusModes, FocusAuto, FocusMacro); mode != "" {
		p.FocusMode = mode
	}
	if preview := m.planner.PreviewSize(); !preview.IsZero() {
		p.PreviewSize = preview
	}
	if err := guard("set parameters", func() error { return m.dev.SetParameters(p) }); err != nil {
		debug.Error(err)
	}
}

func (m *Manager) setFlash(p *Parameters) {
	var mode string
	if m.torch {
		mode = findSettableValue("flash mode", p.FlashModes, FlashTorch, FlashOn)
	} else {
		mode = findSettableValue("flash mode", p.FlashModes, FlashOff)
	}
	if mode != "" {
		p.FlashMode = mode
	}
}

// findSettableValue returns the first desired value the device supports.
func findSettableValue(name string, supported []string, desired ...string) string {
	debug.Verbose("Supported %s values: %v", name, supported)
	for _, d := range desired {
		for _, s := range supported {
			if s == d {
				debug.Verbose("Settable %s: %s", name, d)
				return d
			}
		}
	}
	debug.Verbose("No supported %s among %v", name, desired)
	return ""
}

// StartStreaming starts the hardware preview. No-op when closed or already
// streaming.
func (m *Manager) StartStreaming() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil || m.streaming {
		return
	}
	if err := guard("start preview", m.dev.StartPreview); err != nil {
		debug.Error(err)
		return
	}
	m.streaming = true
	debug.Live("Camera streaming started")
}

// StopStreaming stops the preview and cancels outstanding frame and focus
// requests, so late hardware callbacks are dropped.
func (m *Manager) StopStreaming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopStreaming()
}

func (m *Manager) stopStreaming() {
	m.frame.cancel()
	m.focus.cancel()
	if m.dev == nil || !m.streaming {
		return
	}
	if err := guard("stop preview", m.dev.StopPreview); err != nil {
		debug.Error(err)
	}
	m.streaming = false
	debug.Live("Camera streaming stopped")
}

// RequestOneFrame asks for the next preview frame. onFrame runs at most once,
// on a device goroutine. An error means onFrame will never run: the request
// was made while not streaming (ErrNotStreaming) or the device refused it.
func (m *Manager) RequestOneFrame(onFrame func(Frame)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil || !m.streaming {
		debug.Trace("Frame request refused: not streaming")
		return ErrNotStreaming
	}
	m.frame.arm(onFrame)
	if err := guard("one-shot preview", func() error { return m.dev.OneShotPreview(m.frame.fire) }); err != nil {
		m.frame.cancel()
		return &DeviceError{Op: "request frame", Err: err}
	}
	return nil
}

// RequestFocus asks for one autofocus cycle. onFocus runs at most once, on a
// device goroutine; a hardware failure reports false. Ignored unless
// streaming. The manager never schedules the next cycle itself.
func (m *Manager) RequestFocus(onFocus func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil || !m.streaming {
		debug.Trace("Focus request ignored: not streaming")
		return
	}
	m.focus.arm(onFocus)
	if err := guard("auto focus", func() error { return m.dev.AutoFocus(m.focus.fire) }); err != nil {
		debug.Error(err)
		go m.focus.fire(false)
	}
}

// SetTorch switches the torch. While closed the setting is remembered and
// applied on the next Open.
func (m *Manager) SetTorch(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.torch = on
	if m.dev == nil {
		return
	}
	p, err := m.parameters()
	if err != nil {
		return
	}
	m.setFlash(p)
	if err := guard("set parameters", func() error { return m.dev.SetParameters(p) }); err != nil {
		debug.Error(err)
	}
}

// Torch reports the requested torch state.
func (m *Manager) Torch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.torch
}

// IsOpen reports whether the camera handle is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev != nil
}

// Streaming reports whether the preview is running.
func (m *Manager) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// PreviewSize returns the negotiated preview resolution.
func (m *Manager) PreviewSize() geometry.Size {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planner.PreviewSize()
}

// CurrentScanRect returns the on-screen scan rectangle. ok is false while
// closed.
func (m *Manager) CurrentScanRect() (image.Rectangle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return image.Rectangle{}, false
	}
	return m.planner.ScanRect()
}

// CurrentPreviewScanRect returns the scan rectangle in preview coordinates.
// ok is false while closed.
func (m *Manager) CurrentPreviewScanRect() (image.Rectangle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return image.Rectangle{}, false
	}
	return m.planner.PreviewScanRect()
}

// SetManualScanRect overrides the scan rectangle size. Before the first open
// the size is applied once geometry is known.
func (m *Manager) SetManualScanRect(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planner.SetManualOverride(width, height)
}
