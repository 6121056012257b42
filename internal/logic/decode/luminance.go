package decode

import (
	"image"

	"github.com/cjeanneret/scango/internal/hw/camera"
)

// Luminance returns the Y plane of f, width*height bytes. Gray and NV21
// frames already start with it; YUYV carries luminance on every even byte.
func Luminance(f camera.Frame) []byte {
	n := f.Width * f.Height
	switch f.Format {
	case camera.YUYV:
		if len(f.Data) < 2*n {
			return nil
		}
		luma := make([]byte, n)
		for i := range luma {
			luma[i] = f.Data[2*i]
		}
		return luma
	default:
		if len(f.Data) < n {
			return nil
		}
		return f.Data[:n]
	}
}

// ClampCrop bounds crop to the frame. An empty result means the whole frame.
func ClampCrop(crop image.Rectangle, width, height int) image.Rectangle {
	bounds := image.Rect(0, 0, width, height)
	crop = crop.Intersect(bounds)
	if crop.Empty() {
		return bounds
	}
	return crop
}

// RenderCrop copies crop out of a luminance plane into a standalone image.
func RenderCrop(luma []byte, width int, crop image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	for y := 0; y < crop.Dy(); y++ {
		start := (crop.Min.Y+y)*width + crop.Min.X
		copy(img.Pix[y*img.Stride:y*img.Stride+crop.Dx()], luma[start:start+crop.Dx()])
	}
	return img
}
