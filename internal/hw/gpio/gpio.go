package gpio

import (
	"sync"

	"github.com/cjeanneret/scango/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver is a test implementation that logs actions and remembers the
// last level written to each pin so reads reflect writes.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

// Line is a single output pin with an active level. Accessories such as a
// torch LED or a focus trigger are wired either active-high or active-low
// (remote shutter connectors pull the line to ground).
type Line struct {
	drv       Driver
	pin       int
	activeLow bool
}

// NewOutputLine configures pin as an output and drives it inactive.
func NewOutputLine(drv Driver, pin int, activeLow bool) (*Line, error) {
	l := &Line{drv: drv, pin: pin, activeLow: activeLow}
	if err := drv.SetupPin(pin, Output); err != nil {
		return nil, err
	}
	if err := l.Set(false); err != nil {
		return nil, err
	}
	return l, nil
}

// Pin returns the BCM pin number.
func (l *Line) Pin() int {
	return l.pin
}

// Set drives the line active (on=true) or inactive.
func (l *Line) Set(on bool) error {
	level := Level(on)
	if l.activeLow {
		level = !level
	}
	return l.drv.WritePin(l.pin, level)
}

// Active reports whether the line is currently driven active.
func (l *Line) Active() (bool, error) {
	level, err := l.drv.ReadPin(l.pin)
	if err != nil {
		return false, err
	}
	if l.activeLow {
		return level == Low, nil
	}
	return level == High, nil
}
