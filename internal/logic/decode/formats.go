package decode

import (
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/cjeanneret/scango/internal/debug"
)

// Format sets. A configured format list may name a set instead of a format.
var (
	ProductFormats = []string{"UPC_A", "UPC_E", "EAN_13", "EAN_8", "RSS_14"}
	OneDFormats    = append(append([]string(nil), ProductFormats...), "CODE_39", "CODE_93", "CODE_128", "ITF")
	QRFormats      = []string{"QR_CODE"}
)

var formatSets = map[string][]string{
	"PRODUCT": ProductFormats,
	"ONE_D":   OneDFormats,
	"1D":      OneDFormats,
	"QR":      QRFormats,
}

var readerFactories = map[string]func() gozxing.Reader{
	"QR_CODE":  func() gozxing.Reader { return qrcode.NewQRCodeReader() },
	"UPC_A":    func() gozxing.Reader { return oned.NewUPCAReader() },
	"UPC_E":    func() gozxing.Reader { return oned.NewUPCEReader() },
	"EAN_13":   func() gozxing.Reader { return oned.NewEAN13Reader() },
	"EAN_8":    func() gozxing.Reader { return oned.NewEAN8Reader() },
	"CODE_39":  func() gozxing.Reader { return oned.NewCode39Reader() },
	"CODE_93":  func() gozxing.Reader { return oned.NewCode93Reader() },
	"CODE_128": func() gozxing.Reader { return oned.NewCode128Reader() },
	"ITF":      func() gozxing.Reader { return oned.NewITFReader() },
}

// DefaultFormats is the union of the 1D and QR sets.
func DefaultFormats() []string {
	return ExpandFormats([]string{"ONE_D", "QR"})
}

// ExpandFormats upper-cases names, replaces set names by their members and
// drops duplicates, keeping first-seen order. An empty list means
// DefaultFormats.
func ExpandFormats(names []string) []string {
	if len(names) == 0 {
		return DefaultFormats()
	}
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if set, ok := formatSets[name]; ok {
			for _, f := range set {
				add(f)
			}
			continue
		}
		add(name)
	}
	return out
}

// Supported reports whether a reader exists for format.
func Supported(format string) bool {
	_, ok := readerFactories[format]
	return ok
}

// newReaders builds one reader per supported format. Formats without a
// reader are skipped with a warning.
func newReaders(formats []string) ([]gozxing.Reader, []string) {
	var readers []gozxing.Reader
	var used []string
	for _, f := range ExpandFormats(formats) {
		factory, ok := readerFactories[f]
		if !ok {
			debug.Warn("Barcode format %s is not supported, ignoring it", f)
			continue
		}
		readers = append(readers, factory())
		used = append(used, f)
	}
	return readers, used
}
