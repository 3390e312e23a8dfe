package encoder

import (
	"math"
	"testing"
)

func TestTargetResolution(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"4000x3000 photo sensor", 4000, 3000, 960, 720},
		{"1080p", 1920, 1080, 1280, 720},
		{"4k", 3840, 2160, 1280, 720},
		{"portrait 1080x1920", 1080, 1920, 406, 720},
		{"wide only", 2000, 500, 1280, 320},
		{"exact bound", 1280, 720, 1280, 720},
		{"small", 640, 360, 640, 360},
		{"odd small passes through", 641, 361, 641, 361},
		{"tall sliver", 3, 5000, 2, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := TargetResolution(tt.w, tt.h, MaxWidth, MaxHeight)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("TargetResolution(%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestTargetResolution_Properties(t *testing.T) {
	for w := 100; w <= 5000; w += 37 {
		for h := 100; h <= 5000; h += 53 {
			gotW, gotH := TargetResolution(w, h, MaxWidth, MaxHeight)

			if w <= MaxWidth && h <= MaxHeight {
				if gotW != w || gotH != h {
					t.Fatalf("%dx%d within bounds changed to %dx%d", w, h, gotW, gotH)
				}
				continue
			}

			if gotW > MaxWidth || gotH > MaxHeight {
				t.Fatalf("%dx%d -> %dx%d exceeds bounds", w, h, gotW, gotH)
			}
			if gotW%2 != 0 || gotH%2 != 0 {
				t.Fatalf("%dx%d -> %dx%d has odd dimension", w, h, gotW, gotH)
			}

			// rounding to even moves each side by at most 2px
			src := float64(w) / float64(h)
			got := float64(gotW) / float64(gotH)
			tolerance := src * (2/float64(gotW) + 2/float64(gotH))
			if math.Abs(src-got) > tolerance {
				t.Fatalf("%dx%d -> %dx%d aspect %.4f vs %.4f", w, h, gotW, gotH, src, got)
			}
		}
	}
}
