package encoder

import "math"

// Output bounds for normalized video.
const (
	MaxWidth  = 1280
	MaxHeight = 720
)

// TargetResolution fits w x h inside maxW x maxH preserving aspect ratio.
// Sources already inside the box are returned unchanged. Scaled dimensions
// are rounded to the nearest even value, never exceed the bound and never
// drop below 2.
func TargetResolution(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}

	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return evenWithin(float64(w)*scale, maxW), evenWithin(float64(h)*scale, maxH)
}

func evenWithin(v float64, bound int) int {
	n := int(math.Round(v/2)) * 2
	if n > bound {
		n -= 2
	}
	if n < 2 {
		n = 2
	}
	return n
}
