package camera

import (
	"time"

	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// PixelFormat describes the byte layout of a Frame.
type PixelFormat int

const (
	// Gray is one luminance byte per pixel.
	Gray PixelFormat = iota
	// NV21 is a full-resolution Y plane followed by interleaved VU.
	NV21
	// YUYV is packed 4:2:2, luminance on every even byte.
	YUYV
)

func (f PixelFormat) String() string {
	switch f {
	case Gray:
		return "gray"
	case NV21:
		return "nv21"
	case YUYV:
		return "yuyv"
	default:
		return "unknown"
	}
}

// Frame is one preview frame handed over by the hardware. Ownership moves to
// the receiver; the producer never touches Data again.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Format     PixelFormat
	Seq        uint64
	CapturedAt time.Time
}

// Flash and focus mode names understood by the devices.
const (
	FlashOff   = "off"
	FlashOn    = "on"
	FlashTorch = "torch"

	FocusAuto  = "auto"
	FocusMacro = "macro"
)

// Parameters is the negotiable device configuration.
type Parameters struct {
	PreviewSizes []geometry.Size
	PreviewSize  geometry.Size
	FlashModes   []string
	FlashMode    string
	FocusModes   []string
	FocusMode    string
}

// Surface is where the host renders the preview. The manager only needs its
// resolution; everything else passes through to the device untouched.
type Surface interface {
	Resolution() geometry.Size
}

// FixedSurface is a Surface of a known size, for headless hosts.
type FixedSurface geometry.Size

// Resolution implements Surface.
func (s FixedSurface) Resolution() geometry.Size {
	return geometry.Size(s)
}

// Device is the raw camera handle. Implementations may panic on platform
// faults; Manager recovers them.
//
// OneShotPreview and AutoFocus register a callback fired at most once, on a
// goroutine owned by the device. Neither fires after StopPreview.
type Device interface {
	SetPreviewDisplay(s Surface) error
	// Parameters returns ErrNoParameters when the device exposes none.
	Parameters() (*Parameters, error)
	SetParameters(p *Parameters) error
	StartPreview() error
	StopPreview() error
	OneShotPreview(cb func(Frame)) error
	AutoFocus(cb func(bool)) error
	Release() error
}

// Opener acquires the hardware. It is called once per Manager.Open.
type Opener func() (Device, error)
