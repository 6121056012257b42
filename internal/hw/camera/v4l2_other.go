//go:build !linux

package camera

import (
	"fmt"

	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// V4L2Device is only available on Linux.
type V4L2Device struct {
	Device
}

// NewV4L2Device always fails outside Linux.
func NewV4L2Device(path string, fps int, sizes []geometry.Size, def geometry.Size) (*V4L2Device, error) {
	return nil, fmt.Errorf("v4l2 camera %s: %w", path, ErrNoDevice)
}
