//go:build linux

package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/geometry"
)

// V4L2Device drives a Video4Linux capture device in YUYV mode. Streaming
// runs continuously; a one-shot request takes the next buffer delivered.
type V4L2Device struct {
	path string

	mu      sync.Mutex
	dev     *device.Device
	params  Parameters
	cancel  context.CancelFunc
	pending func(Frame)
	seq     uint64
}

// NewV4L2Device opens path. V4L2 drivers do not list frame sizes through
// go4vl, so the supported sizes come from configuration.
func NewV4L2Device(path string, fps int, sizes []geometry.Size, def geometry.Size) (*V4L2Device, error) {
	dev, err := device.Open(path, device.WithFPS(uint32(fps)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	debug.Verbose("V4L2 device %s opened at %d fps", path, fps)
	return &V4L2Device{
		path: path,
		dev:  dev,
		params: Parameters{
			PreviewSizes: append([]geometry.Size(nil), sizes...),
			PreviewSize:  def,
		},
	}, nil
}

func (d *V4L2Device) SetPreviewDisplay(s Surface) error {
	return nil
}

func (d *V4L2Device) Parameters() (*Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.params
	return &p, nil
}

func (d *V4L2Device) SetParameters(p *Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.PreviewSize == d.params.PreviewSize && d.cancel != nil {
		return nil
	}
	if d.cancel != nil {
		return fmt.Errorf("cannot change preview size while streaming")
	}
	err := d.dev.SetPixFormat(v4l2.PixFormat{
		Width:       uint32(p.PreviewSize.Width),
		Height:      uint32(p.PreviewSize.Height),
		PixelFormat: v4l2.PixelFmtYUYV,
		Field:       v4l2.FieldNone,
	})
	if err != nil {
		return fmt.Errorf("set pix format %s: %w", p.PreviewSize, err)
	}
	d.params.PreviewSize = p.PreviewSize
	return nil
}

func (d *V4L2Device) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.dev.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start stream: %w", err)
	}
	d.cancel = cancel
	go d.pump(ctx, d.dev.GetOutput(), d.params.PreviewSize)
	return nil
}

// pump hands buffers to the pending one-shot request and drops the rest.
func (d *V4L2Device) pump(ctx context.Context, frames <-chan []byte, size geometry.Size) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-frames:
			if !ok {
				return
			}
			d.mu.Lock()
			cb := d.pending
			d.pending = nil
			if cb != nil {
				d.seq++
			}
			seq := d.seq
			d.mu.Unlock()
			if cb == nil {
				continue
			}
			data := make([]byte, len(buf))
			copy(data, buf)
			cb(Frame{
				Data:       data,
				Width:      size.Width,
				Height:     size.Height,
				Format:     YUYV,
				Seq:        seq,
				CapturedAt: time.Now(),
			})
		}
	}
}

func (d *V4L2Device) StopPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	d.cancel = nil
	d.pending = nil
	return d.dev.Stop()
}

func (d *V4L2Device) OneShotPreview(cb func(Frame)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return ErrNotStreaming
	}
	d.pending = cb
	return nil
}

// AutoFocus has no V4L2 equivalent here; focus is either fixed or handled by
// GPIO accessories.
func (d *V4L2Device) AutoFocus(cb func(bool)) error {
	go cb(true)
	return nil
}

func (d *V4L2Device) Release() error {
	_ = d.StopPreview()
	return d.dev.Close()
}
