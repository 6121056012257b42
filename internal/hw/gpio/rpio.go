package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// rawPin is the part of rpio.Pin the driver touches.
type rawPin interface {
	Input()
	Output()
	High()
	Low()
	Read() rpio.State
}

// pinState is a configured line: its mode and, for outputs, the level last
// driven.
type pinState struct {
	raw   rawPin
	mode  PinMode
	level Level
}

// pinTable tracks the torch and focus lines. They are driven from the
// coordinator and from focus pulse goroutines, so it is guarded.
type pinTable struct {
	mu     sync.Mutex
	pins   map[int]*pinState
	newPin func(pin int) rawPin
}

func newPinTable(newPin func(int) rawPin) *pinTable {
	return &pinTable{pins: make(map[int]*pinState), newPin: newPin}
}

func (t *pinTable) setup(pin int, mode PinMode) (*pinState, error) {
	var s *pinState
	if existing, ok := t.pins[pin]; ok {
		s = existing
	} else {
		s = &pinState{raw: t.newPin(pin)}
	}
	switch mode {
	case Input:
		s.raw.Input()
	case Output:
		s.raw.Output()
		s.level = Low
	default:
		return nil, fmt.Errorf("gpio %d: unknown pin mode %d", pin, mode)
	}
	s.mode = mode
	t.pins[pin] = s
	return s, nil
}

func (t *pinTable) write(pin int, level Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.pins[pin]
	if !ok || s.mode != Output {
		debug.Verbose("GPIO %d driven before setup, switching it to output", pin)
		var err error
		if s, err = t.setup(pin, Output); err != nil {
			return err
		}
	} else if s.level == level {
		debug.Trace("GPIO %d already %v", pin, level)
		return nil
	}

	if level == High {
		s.raw.High()
	} else {
		s.raw.Low()
	}
	s.level = level
	return nil
}

// read returns the driven level for outputs; reading a torch line must not
// turn it into an input.
func (t *pinTable) read(pin int) (Level, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.pins[pin]
	if !ok {
		var err error
		if s, err = t.setup(pin, Input); err != nil {
			return Low, err
		}
	}
	if s.mode == Output {
		return s.level, nil
	}
	return Level(s.raw.Read() == rpio.High), nil
}

// release returns every line to input so nothing stays driven after exit.
func (t *pinTable) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pin, s := range t.pins {
		if s.mode == Output && s.level == High {
			debug.Verbose("GPIO %d was still high, releasing it", pin)
		}
		s.raw.Input()
		delete(t.pins, pin)
	}
}

// RPiDriver drives the torch and focus lines on a Raspberry Pi through
// go-rpio. Requires /dev/gpiomem access or root.
type RPiDriver struct {
	table *pinTable
}

// NewRPiRealDriver maps GPIO memory and returns the driver.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		table: newPinTable(func(pin int) rawPin { return rpio.Pin(pin) }),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	_, err := r.table.setup(pin, mode)
	return err
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return r.table.write(pin, level)
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return r.table.read(pin)
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.table.release()
	return rpio.Close()
}
