// Package depth implements DepthReader (raw distance extraction from a
// depth image) and DepthSmoother (per-track temporal smoothing), per
// spec.md §4.2.
package depth

import (
	"image"
	"sort"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// ReaderConfig bounds valid raw samples and the sampling window, mirroring
// spec.md §6's "depth" config section.
type ReaderConfig struct {
	WindowRadius int     // pixels; sampling window is (2r+1)x(2r+1) around the anchor
	InvalidMin   float32 // raw <= this is invalid
	InvalidMax   float32 // raw >= this is invalid
}

func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{WindowRadius: 4, InvalidMin: 0.05, InvalidMax: 12.0}
}

// Reader produces (depth_m, confidence) for a bounding box by sampling a
// small window centred on its bottom-midpoint, rejecting outliers via IQR
// and invalid-range filtering, per spec.md §4.2.
type Reader struct {
	cfg ReaderConfig
}

func NewReader(cfg ReaderConfig) *Reader {
	return &Reader{cfg: cfg}
}

// Sample returns the median valid depth in meters for box, and a confidence
// in [0,1] equal to the fraction of sampled pixels that were valid. ok is
// false if no pixel in the window was valid (spec.md: "missing" reading).
func (r *Reader) Sample(d model.DepthImage, box image.Rectangle) (depthM float64, confidence float64, ok bool) {
	anchor := model.BottomMid(box)
	var samples []float32
	total := 0
	for y := anchor.Y - r.cfg.WindowRadius; y <= anchor.Y+r.cfg.WindowRadius; y++ {
		for x := anchor.X - r.cfg.WindowRadius; x <= anchor.X+r.cfg.WindowRadius; x++ {
			v, inBounds := d.At(x, y)
			if !inBounds {
				continue
			}
			total++
			if v > r.cfg.InvalidMin && v < r.cfg.InvalidMax {
				samples = append(samples, v)
			}
		}
	}
	if total == 0 {
		return 0, 0, false
	}
	confidence = float64(len(samples)) / float64(total)
	samples = rejectOutliersIQR(samples)
	if len(samples) == 0 {
		return 0, confidence, false
	}
	return median32(samples), confidence, true
}

// rejectOutliersIQR drops samples outside [Q1-1.5*IQR, Q3+1.5*IQR].
func rejectOutliersIQR(samples []float32) []float32 {
	if len(samples) < 4 {
		return samples
	}
	sorted := append([]float32(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr
	out := make([]float32, 0, len(sorted))
	for _, v := range sorted {
		if v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	return out
}

func percentile(sorted []float32, p float64) float32 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + float32(frac)*(sorted[hi]-sorted[lo])
}

func median32(vals []float32) float64 {
	sorted := append([]float32(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}
