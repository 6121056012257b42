package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceBusy means another process holds the camera lock.
	ErrDeviceBusy = errors.New("camera device is busy")
	// ErrNoDevice means the opener returned no handle.
	ErrNoDevice = errors.New("no camera device")
	// ErrNoParameters means the device has no negotiable parameters.
	ErrNoParameters = errors.New("camera exposes no parameters")
	// ErrNotStreaming means a frame was requested while the preview is off.
	ErrNotStreaming = errors.New("camera is not streaming")
)

// DeviceError is a hardware failure while acquiring the camera.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// guard runs a hardware call, converting a panic into an error.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
