package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/vova616/screenshot"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// ScreenDevice treats the desktop as a camera: every frame is a screenshot
// scaled down to the preview size. Handy for decoding codes shown in another
// window.
type ScreenDevice struct {
	mu         sync.Mutex
	params     Parameters
	previewing bool
	seq        uint64
}

// NewScreenDevice probes the screen and offers its full, half and quarter
// resolutions as preview sizes.
func NewScreenDevice() (*ScreenDevice, error) {
	rect, err := screenshot.ScreenRect()
	if err != nil {
		return nil, fmt.Errorf("probe screen: %w", err)
	}
	full := geometry.Size{Width: rect.Dx(), Height: rect.Dy()}
	if full.IsZero() {
		return nil, fmt.Errorf("probe screen: empty screen rect %v", rect)
	}
	sizes := []geometry.Size{
		full,
		{Width: full.Width / 2, Height: full.Height / 2},
		{Width: full.Width / 4, Height: full.Height / 4},
	}
	debug.Verbose("Screen capture sizes: %v", sizes)
	return &ScreenDevice{params: Parameters{PreviewSizes: sizes, PreviewSize: sizes[1]}}, nil
}

func (d *ScreenDevice) SetPreviewDisplay(s Surface) error {
	return nil
}

func (d *ScreenDevice) Parameters() (*Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.params
	return &p, nil
}

func (d *ScreenDevice) SetParameters(p *Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params.PreviewSize = p.PreviewSize
	return nil
}

func (d *ScreenDevice) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = true
	return nil
}

func (d *ScreenDevice) StopPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = false
	return nil
}

// OneShotPreview grabs the screen before returning so a failed grab is
// reported to the caller; only the callback runs on its own goroutine.
func (d *ScreenDevice) OneShotPreview(cb func(Frame)) error {
	frame, err := d.grab()
	if err != nil {
		return err
	}
	if frame == nil {
		return ErrNotStreaming
	}
	go cb(*frame)
	return nil
}

func (d *ScreenDevice) grab() (*Frame, error) {
	d.mu.Lock()
	if !d.previewing {
		d.mu.Unlock()
		return nil, nil
	}
	size := d.params.PreviewSize
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	return &Frame{
		Data:       renderLuma(img, size),
		Width:      size.Width,
		Height:     size.Height,
		Format:     Gray,
		Seq:        seq,
		CapturedAt: time.Now(),
	}, nil
}

// AutoFocus reports success immediately; a screen is always in focus.
func (d *ScreenDevice) AutoFocus(cb func(bool)) error {
	go cb(true)
	return nil
}

func (d *ScreenDevice) Release() error {
	return d.StopPreview()
}
