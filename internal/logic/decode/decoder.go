// Package decode runs barcode decoding on a dedicated worker goroutine.
package decode

import (
	"image"
	"time"
)

// Match is a decoded barcode.
type Match struct {
	Text   string        `json:"text"`
	Format string        `json:"format"`
	Points []image.Point `json:"points,omitempty"` // frame coordinates
	At     time.Time     `json:"at"`
}

// Decoder finds a barcode inside crop of a luminance plane. It returns nil
// when the frame holds no match; errors are treated the same way.
//
// A Decoder is only ever used by one goroutine. Reset runs after every
// attempt so no state carries over between frames.
type Decoder interface {
	Decode(luma []byte, width, height int, crop image.Rectangle) (*Match, error)
	Reset()
}

// DecoderFunc adapts a stateless function to Decoder.
type DecoderFunc func(luma []byte, width, height int, crop image.Rectangle) (*Match, error)

func (f DecoderFunc) Decode(luma []byte, width, height int, crop image.Rectangle) (*Match, error) {
	return f(luma, width, height, crop)
}

func (f DecoderFunc) Reset() {}
