package geometry

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a resolution in pixels (screen, preview or frame).
type Size struct {
	Width  int `yaml:"width" toml:"width" json:"width"`
	Height int `yaml:"height" toml:"height" json:"height"`
}

// Pixels returns the pixel count.
func (s Size) Pixels() int {
	return s.Width * s.Height
}

// IsZero reports whether either dimension is unset.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WIDTHxHEIGHT" (e.g. "640x480").
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("size %q: expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: width: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return Size{}, fmt.Errorf("size %q: dimensions must be > 0", s)
	}
	return Size{Width: width, Height: height}, nil
}

// Landscape returns s with width >= height. The scanner always runs in
// landscape orientation, so portrait screens are corrected before use.
func Landscape(s Size) Size {
	if s.Height > s.Width {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// Limits bounds preview resolution selection and the scan rectangle.
type Limits struct {
	MinPreviewPixels int
	MaxPreviewPixels int
	MinFrameWidth    int
	MaxFrameWidth    int
	MinFrameHeight   int
	MaxFrameHeight   int
}

// DefaultLimits returns the stock bounds: previews between 320x240 and
// 800x480 pixels, scan rectangle between 240x240 and 700x400.
func DefaultLimits() Limits {
	return Limits{
		MinPreviewPixels: 320 * 240,
		MaxPreviewPixels: 800 * 480,
		MinFrameWidth:    240,
		MaxFrameWidth:    700,
		MinFrameHeight:   240,
		MaxFrameHeight:   400,
	}
}
