package camera

import (
	"errors"
	"time"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/hw/gpio"
)

// Accessories are GPIO-driven extras mounted next to the camera:
// - TORCH: an LED driven HIGH to light the target
// - FOCUS: the remote focus line of a camera module, active LOW
//
// Focus sequence:
// 1. FOCUS to LOW (starts autofocus)
// 2. Wait focusDelay
// 3. FOCUS back to HIGH, report success
type Accessories struct {
	torch      *gpio.Line
	focus      *gpio.Line
	focusDelay time.Duration
}

// NewAccessories configures the torch and focus lines. A pin of 0 means the
// accessory is absent.
func NewAccessories(g gpio.Driver, torchPin, focusPin int, focusDelay time.Duration) (*Accessories, error) {
	a := &Accessories{focusDelay: focusDelay}
	var err error
	if torchPin > 0 {
		if a.torch, err = gpio.NewOutputLine(g, torchPin, false); err != nil {
			return nil, err
		}
	}
	if focusPin > 0 {
		if a.focus, err = gpio.NewOutputLine(g, focusPin, true); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Empty reports whether no accessory is wired.
func (a *Accessories) Empty() bool {
	return a.torch == nil && a.focus == nil
}

// Wrap returns dev extended with the accessories: the flash modes drive the
// torch line and AutoFocus pulses the focus line.
func (a *Accessories) Wrap(dev Device) Device {
	return &accessorized{Device: dev, acc: a}
}

type accessorized struct {
	Device
	acc *Accessories
}

func (d *accessorized) Parameters() (*Parameters, error) {
	p, err := d.Device.Parameters()
	if errors.Is(err, ErrNoParameters) {
		p, err = &Parameters{}, nil
	}
	if err != nil {
		return nil, err
	}
	if d.acc.torch != nil {
		for _, mode := range []string{FlashOff, FlashTorch} {
			if !contains(p.FlashModes, mode) {
				p.FlashModes = append(p.FlashModes, mode)
			}
		}
	}
	if d.acc.focus != nil && !contains(p.FocusModes, FocusAuto) {
		p.FocusModes = append(p.FocusModes, FocusAuto)
	}
	return p, nil
}

func (d *accessorized) SetParameters(p *Parameters) error {
	if d.acc.torch != nil {
		on := p.FlashMode == FlashTorch || p.FlashMode == FlashOn
		debug.Verbose("Accessories: torch (pin %d) -> %v", d.acc.torch.Pin(), on)
		if err := d.acc.torch.Set(on); err != nil {
			return err
		}
	}
	if err := d.Device.SetParameters(p); err != nil && !errors.Is(err, ErrNoParameters) {
		return err
	}
	return nil
}

func (d *accessorized) AutoFocus(cb func(bool)) error {
	if d.acc.focus == nil {
		return d.Device.AutoFocus(cb)
	}
	go func() {
		cb(d.acc.pulseFocus() == nil)
	}()
	return nil
}

func (a *Accessories) pulseFocus() error {
	debug.Verbose("Accessories: activating FOCUS (pin %d)", a.focus.Pin())
	if err := a.focus.Set(true); err != nil {
		return err
	}
	time.Sleep(a.focusDelay)
	debug.Verbose("Accessories: releasing FOCUS (pin %d)", a.focus.Pin())
	return a.focus.Set(false)
}

func (d *accessorized) Release() error {
	if d.acc.torch != nil {
		_ = d.acc.torch.Set(false)
	}
	return d.Device.Release()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
