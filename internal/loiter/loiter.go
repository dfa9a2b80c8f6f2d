// Package loiter implements the LoiteringDetector of spec.md §4.6.
package loiter

import (
	"image"
	"math"
	"sync"
	"time"
)

// Config mirrors spec.md §6's alert.loitering block.
type Config struct {
	Enabled          bool
	MinDuration      time.Duration
	MinAreaRatio     float64
	MinMovementRatio float64
	MaxPositions     int
	ReferenceWidth   float64 // pixels; default 1920 per spec.md §4.6
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MinDuration:      10 * time.Second,
		MinAreaRatio:     0.05,
		MinMovementRatio: 0.1,
		MaxPositions:     60,
		ReferenceWidth:   1920,
	}
}

type position struct {
	at        time.Time
	center    image.Point
	areaRatio float64
}

type trackState struct {
	first     time.Time
	positions []position
}

// Detector tracks, per track id, a bounded position history and answers
// whether the track currently counts as loitering (spec.md §4.6).
type Detector struct {
	cfg   Config
	mu    sync.Mutex
	state map[int64]*trackState
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg, state: make(map[int64]*trackState)}
}

// Update records one observation for trackID.
func (d *Detector) Update(trackID int64, at time.Time, center image.Point, areaRatio float64) {
	if !d.cfg.Enabled {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[trackID]
	if !ok {
		st = &trackState{first: at}
		d.state[trackID] = st
	}
	st.positions = append(st.positions, position{at: at, center: center, areaRatio: areaRatio})
	if len(st.positions) > d.cfg.MaxPositions {
		st.positions = st.positions[len(st.positions)-d.cfg.MaxPositions:]
	}
}

// IsLoitering is a pure function of the recorded history for trackID: it
// does not depend on wall-clock time beyond the timestamp passed to the
// last Update call, so calling it repeatedly with no further Update calls
// always returns the same answer.
func (d *Detector) IsLoitering(trackID int64) bool {
	if !d.cfg.Enabled {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[trackID]
	if !ok || len(st.positions) < 10 {
		return false
	}
	last := st.positions[len(st.positions)-1]
	if last.at.Sub(st.first) < d.cfg.MinDuration {
		return false
	}
	recent := st.positions[len(st.positions)-10:]

	var areaSum float64
	minX, maxX := float64(recent[0].center.X), float64(recent[0].center.X)
	minY, maxY := float64(recent[0].center.Y), float64(recent[0].center.Y)
	for _, p := range recent {
		areaSum += p.areaRatio
		x, y := float64(p.center.X), float64(p.center.Y)
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}
	meanArea := areaSum / float64(len(recent))
	if meanArea < d.cfg.MinAreaRatio {
		return false
	}
	// Bounding-box diagonal of the whole window, not displacement from the
	// first sample: a path that wanders and returns still spans a large
	// box even though it ends near where it started.
	maxDisp := math.Hypot(maxX-minX, maxY-minY)
	movementRatio := maxDisp / d.cfg.ReferenceWidth
	return movementRatio < d.cfg.MinMovementRatio
}

// Cleanup drops state for tracks no longer active.
func (d *Detector) Cleanup(activeIDs map[int64]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.state {
		if !activeIDs[id] {
			delete(d.state, id)
		}
	}
}
