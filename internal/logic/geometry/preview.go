package geometry

import (
	"github.com/cjeanneret/scango/internal/debug"
)

// BestPreviewSize picks the supported preview size whose aspect ratio best
// matches the screen.
//
// Sizes whose pixel count falls outside [MinPreviewPixels, MaxPreviewPixels]
// are skipped. Candidates are scored by |screen.W*cand.H - cand.W*screen.H|;
// an exact match (score 0) wins immediately, otherwise the lowest score wins
// and ties go to the first candidate seen. When nothing qualifies the
// device's reported default is returned.
func BestPreviewSize(supported []Size, screen Size, fallback Size, lim Limits) Size {
	var best Size
	found := false
	bestDiff := 0

	for _, candidate := range supported {
		pixels := candidate.Pixels()
		if pixels < lim.MinPreviewPixels || pixels > lim.MaxPreviewPixels {
			debug.Trace("Preview size %s skipped (%d pixels)", candidate, pixels)
			continue
		}
		diff := abs(screen.Width*candidate.Height - candidate.Width*screen.Height)
		if diff == 0 {
			debug.Verbose("Preview size %s matches screen %s exactly", candidate, screen)
			return candidate
		}
		if !found || diff < bestDiff {
			best = candidate
			bestDiff = diff
			found = true
		}
	}

	if !found {
		debug.Verbose("No supported preview size within limits, using default %s", fallback)
		return fallback
	}
	debug.Verbose("Best preview size %s for screen %s (score %d)", best, screen, bestDiff)
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
