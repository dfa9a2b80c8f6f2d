package model

import "image"

// Detection is a single detector output for one frame. It is transient: it
// lives only for the tracker update that consumes it.
type Detection struct {
	Box       image.Rectangle
	ClassID   int
	ClassName string
	Score     float64
	Group     ClassGroup
}

// IOU returns the intersection-over-union of two boxes, following the
// teacher's object_tracker/sort.go convention of operating directly on
// image.Rectangle.
func IOU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	ua := a.Dx()*a.Dy() + b.Dx()*b.Dy() - ia
	if ua == 0 {
		return 0
	}
	return float64(ia) / float64(ua)
}

// Center returns the integer center point of a box.
func Center(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

// BottomMid returns the bottom-midpoint of a box, the anchor the depth
// reader centers its sampling window on.
func BottomMid(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, r.Max.Y)
}

// AreaRatio returns the detection's box area relative to the frame area.
func AreaRatio(r image.Rectangle, frameW, frameH int) float64 {
	if frameW <= 0 || frameH <= 0 {
		return 0
	}
	return float64(r.Dx()*r.Dy()) / float64(frameW*frameH)
}
