package decode

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/makiuchi-d/gozxing"

	"github.com/cjeanneret/scango/internal/debug"
)

// ZXingDecoder decodes with gozxing, trying one reader per format in order.
type ZXingDecoder struct {
	readers []gozxing.Reader
	formats []string
	hints   map[gozxing.DecodeHintType]interface{}
}

// ZXingOptions configures a ZXingDecoder.
type ZXingOptions struct {
	Formats      []string // empty = DefaultFormats
	TryHarder    bool
	CharacterSet string
}

// NewZXingDecoder builds the readers for opts.Formats.
func NewZXingDecoder(opts ZXingOptions) (*ZXingDecoder, error) {
	readers, used := newReaders(opts.Formats)
	if len(readers) == 0 {
		return nil, fmt.Errorf("no supported barcode format in %v", opts.Formats)
	}
	hints := make(map[gozxing.DecodeHintType]interface{})
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if opts.CharacterSet != "" {
		hints[gozxing.DecodeHintType_CHARACTER_SET] = opts.CharacterSet
	}
	debug.Verbose("Decoder formats: %s", strings.Join(used, ", "))
	return &ZXingDecoder{readers: readers, formats: used, hints: hints}, nil
}

// Formats returns the formats actually decoded.
func (d *ZXingDecoder) Formats() []string {
	return d.formats
}

// Decode implements Decoder.
func (d *ZXingDecoder) Decode(luma []byte, width, height int, crop image.Rectangle) (*Match, error) {
	src, err := gozxing.NewPlanarYUVLuminanceSource(luma, width, height, crop.Min.X, crop.Min.Y, crop.Dx(), crop.Dy(), false)
	if err != nil {
		return nil, fmt.Errorf("luminance source: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, fmt.Errorf("binary bitmap: %w", err)
	}

	var errs []error
	for _, r := range d.readers {
		res, err := r.Decode(bmp, d.hints)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res == nil {
			continue
		}
		m := &Match{
			Text:   res.GetText(),
			Format: res.GetBarcodeFormat().String(),
			At:     time.Now(),
		}
		for _, p := range res.GetResultPoints() {
			m.Points = append(m.Points, image.Pt(crop.Min.X+int(p.GetX()), crop.Min.Y+int(p.GetY())))
		}
		return m, nil
	}
	if len(errs) > 0 {
		debug.Trace("No barcode in frame: %v", errors.Join(errs...))
	}
	return nil, nil
}

// Reset implements Decoder.
func (d *ZXingDecoder) Reset() {
	for _, r := range d.readers {
		r.Reset()
	}
}
