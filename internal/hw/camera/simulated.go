package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// SimulatedDevice replays a still image (or a blank scene) as preview frames.
// Used for development without hardware and by the end-to-end tests.
type SimulatedDevice struct {
	interval time.Duration

	mu         sync.Mutex
	params     Parameters
	scene      image.Image
	rendered   map[geometry.Size][]byte
	previewing bool
	released   bool
	seq        uint64
}

// NewSimulatedDevice creates a device offering sizes, defaulting to def, that
// answers each frame or focus request after interval.
func NewSimulatedDevice(sizes []geometry.Size, def geometry.Size, interval time.Duration) *SimulatedDevice {
	return &SimulatedDevice{
		interval: interval,
		params: Parameters{
			PreviewSizes: append([]geometry.Size(nil), sizes...),
			PreviewSize:  def,
			FlashModes:   []string{FlashOff, FlashTorch},
			FlashMode:    FlashOff,
			FocusModes:   []string{FocusAuto},
			FocusMode:    FocusAuto,
		},
		rendered: make(map[geometry.Size][]byte),
	}
}

// LoadScene replaces the scene with the image at path.
func (d *SimulatedDevice) LoadScene(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("load scene %s: %w", path, err)
	}
	d.SetScene(img)
	return nil
}

// SetScene replaces the scene. nil means a blank frame.
func (d *SimulatedDevice) SetScene(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scene = img
	d.rendered = make(map[geometry.Size][]byte)
}

func (d *SimulatedDevice) SetPreviewDisplay(s Surface) error {
	debug.Trace("Simulated camera: preview display %s", s.Resolution())
	return nil
}

func (d *SimulatedDevice) Parameters() (*Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.params
	return &p, nil
}

func (d *SimulatedDevice) SetParameters(p *Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params.PreviewSize = p.PreviewSize
	d.params.FlashMode = p.FlashMode
	d.params.FocusMode = p.FocusMode
	debug.Verbose("Simulated camera: preview=%s flash=%s focus=%s", p.PreviewSize, p.FlashMode, p.FocusMode)
	return nil
}

func (d *SimulatedDevice) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("simulated camera released")
	}
	d.previewing = true
	return nil
}

func (d *SimulatedDevice) StopPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = false
	return nil
}

func (d *SimulatedDevice) OneShotPreview(cb func(Frame)) error {
	d.mu.Lock()
	previewing := d.previewing
	d.mu.Unlock()
	if !previewing {
		return ErrNotStreaming
	}
	time.AfterFunc(d.interval, func() {
		frame, ok := d.capture()
		if ok {
			cb(frame)
		}
	})
	return nil
}

func (d *SimulatedDevice) capture() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.previewing {
		return Frame{}, false
	}
	size := d.params.PreviewSize
	luma, ok := d.rendered[size]
	if !ok {
		luma = renderLuma(d.scene, size)
		d.rendered[size] = luma
	}
	d.seq++
	data := make([]byte, len(luma))
	copy(data, luma)
	return Frame{
		Data:       data,
		Width:      size.Width,
		Height:     size.Height,
		Format:     Gray,
		Seq:        d.seq,
		CapturedAt: time.Now(),
	}, true
}

func (d *SimulatedDevice) AutoFocus(cb func(bool)) error {
	time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		previewing := d.previewing
		d.mu.Unlock()
		if previewing {
			cb(true)
		}
	})
	return nil
}

func (d *SimulatedDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = false
	d.released = true
	return nil
}

// renderLuma scales img to size and returns its luminance plane. A nil image
// renders mid-gray.
func renderLuma(img image.Image, size geometry.Size) []byte {
	out := make([]byte, size.Pixels())
	if img == nil {
		for i := range out {
			out[i] = 0x80
		}
		return out
	}
	gray := imaging.Grayscale(imaging.Resize(img, size.Width, size.Height, imaging.Lanczos))
	for y := 0; y < size.Height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+size.Width*4]
		for x := 0; x < size.Width; x++ {
			out[y*size.Width+x] = row[x*4]
		}
	}
	return out
}
