package model

import "image"

// TrackState is the lifecycle of a Track, per spec.md §3.
type TrackState int

const (
	TrackTentative TrackState = iota
	TrackTracked
	TrackLost
	TrackRemoved
)

func (s TrackState) String() string {
	switch s {
	case TrackTentative:
		return "tentative"
	case TrackTracked:
		return "tracked"
	case TrackLost:
		return "lost"
	case TrackRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Track is a single vehicle's identity across frames. TrackID is assigned
// once at birth and never reused; ClassID is fixed at birth (spec.md §3
// invariant).
type Track struct {
	TrackID         int64
	ClassID         int
	ClassName       string
	Group           ClassGroup
	Box             image.Rectangle
	Score           float64
	State           TrackState
	Hits            int
	TimeSinceUpdate int
	FirstSeenFrame  int64
	LastSeenFrame   int64
	Processed       bool
}

// TrackPosition is one bounded-history sample for loitering and dedup math.
type TrackPosition struct {
	At        int64 // monotonic frame id; no wall-clock timestamp is stored
	Center    image.Point
	AreaRatio float64
}

// TrackUpdate is what the Tracker publishes per track, per its public
// surface in spec.md §4.1.
type TrackUpdate struct {
	TrackID   int64
	Box       image.Rectangle
	ClassID   int
	ClassName string
	Group     ClassGroup
	Score     float64
	Hits      int
	Processed bool
}
