package geometry

import (
	"image"

	"github.com/cjeanneret/scango/internal/debug"
)

// CalculateScanRect computes the on-screen scan rectangle:
// width = screen.W*3/4 and height = screen.H*4/5, each clamped to the
// frame limits, centered on the screen.
func CalculateScanRect(screen Size, lim Limits) image.Rectangle {
	width := clamp(screen.Width*3/4, lim.MinFrameWidth, lim.MaxFrameWidth)
	height := clamp(screen.Height*4/5, lim.MinFrameHeight, lim.MaxFrameHeight)
	return centered(screen, width, height)
}

// ManualScanRect centers a caller-sized rectangle on the screen. The size is
// only bounded by the screen itself.
func ManualScanRect(screen Size, width, height int) image.Rectangle {
	if width > screen.Width {
		width = screen.Width
	}
	if height > screen.Height {
		height = screen.Height
	}
	return centered(screen, width, height)
}

// ScaleToPreview remaps a screen-space rectangle into preview coordinates,
// scaling each edge by preview/screen on its axis.
func ScaleToPreview(r image.Rectangle, preview, screen Size) image.Rectangle {
	if screen.IsZero() {
		return r
	}
	return image.Rect(
		r.Min.X*preview.Width/screen.Width,
		r.Min.Y*preview.Height/screen.Height,
		r.Max.X*preview.Width/screen.Width,
		r.Max.Y*preview.Height/screen.Height,
	)
}

func centered(screen Size, width, height int) image.Rectangle {
	left := (screen.Width - width) / 2
	top := (screen.Height - height) / 2
	return image.Rect(left, top, left+width, top+height)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Planner computes and caches the scan rectangle for one camera session.
//
// Initialize runs once (on the first successful device open). The scan
// rectangle and its preview-space equivalent are computed lazily and cached
// until Invalidate, which the device layer calls on close.
type Planner struct {
	limits      Limits
	screen      Size
	preview     Size
	initialized bool

	scanRect        *image.Rectangle
	previewScanRect *image.Rectangle

	pendingWidth  int
	pendingHeight int
}

// NewPlanner creates a planner bounded by lim.
func NewPlanner(lim Limits) *Planner {
	return &Planner{limits: lim}
}

// Limits returns the planner's bounds.
func (p *Planner) Limits() Limits {
	return p.limits
}

// Initialized reports whether Initialize has run.
func (p *Planner) Initialized() bool {
	return p.initialized
}

// Initialize performs the one-time geometry setup: normalizes the screen to
// landscape, selects the preview size and applies any pending manual
// override. Later calls are no-ops and return the size chosen first.
func (p *Planner) Initialize(screen Size, supported []Size, fallback Size) Size {
	if p.initialized {
		return p.preview
	}
	p.initialized = true
	p.screen = Landscape(screen)
	p.preview = BestPreviewSize(supported, p.screen, fallback, p.limits)
	debug.Value("Screen resolution", p.screen)
	debug.Value("Preview resolution", p.preview)

	if p.pendingWidth > 0 && p.pendingHeight > 0 {
		p.SetManualOverride(p.pendingWidth, p.pendingHeight)
		p.pendingWidth, p.pendingHeight = 0, 0
	}
	return p.preview
}

// ScreenSize returns the landscape screen resolution (zero before Initialize).
func (p *Planner) ScreenSize() Size {
	return p.screen
}

// PreviewSize returns the selected preview resolution (zero before Initialize).
func (p *Planner) PreviewSize() Size {
	return p.preview
}

// ScanRect returns the cached screen-space scan rectangle, computing it on
// first use. ok is false before Initialize.
func (p *Planner) ScanRect() (image.Rectangle, bool) {
	if p.scanRect == nil {
		if !p.initialized {
			return image.Rectangle{}, false
		}
		r := CalculateScanRect(p.screen, p.limits)
		p.scanRect = &r
		debug.Verbose("Calculated scan rect: %v", r)
	}
	return *p.scanRect, true
}

// PreviewScanRect returns the cached preview-space scan rectangle.
func (p *Planner) PreviewScanRect() (image.Rectangle, bool) {
	if p.previewScanRect == nil {
		r, ok := p.ScanRect()
		if !ok {
			return image.Rectangle{}, false
		}
		scaled := ScaleToPreview(r, p.preview, p.screen)
		p.previewScanRect = &scaled
		debug.Verbose("Calculated preview scan rect: %v", scaled)
	}
	return *p.previewScanRect, true
}

// SetManualOverride sets the scan rectangle size explicitly. Before
// Initialize the size is remembered and applied once geometry is known.
func (p *Planner) SetManualOverride(width, height int) {
	if !p.initialized {
		p.pendingWidth, p.pendingHeight = width, height
		debug.Verbose("Manual scan rect %dx%d deferred until initialization", width, height)
		return
	}
	r := ManualScanRect(p.screen, width, height)
	p.scanRect = &r
	p.previewScanRect = nil
	debug.Verbose("Calculated manual scan rect: %v", r)
}

// Invalidate drops both cached rectangles.
func (p *Planner) Invalidate() {
	p.scanRect = nil
	p.previewScanRect = nil
}
