// Package bestframe implements the BestFrameSelector and its worker pool
// from spec.md §4.5: quality scoring of candidate ROIs, retain-best-seen
// triggering, and a bounded plate-recognition worker pool enforcing at most
// one pending task per track.
package bestframe

import (
	"image"
	"math"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// QualityConfig bounds the saturation points of the scoring function
// (spec.md §4.5).
type QualityConfig struct {
	SizeSaturationRatio float64 // bbox-area/frame-area at which the size term saturates; default 0.25
	DistanceSaturationM float64 // distance below which the distance term saturates; default 3.0
	SizeWeight          float64
	CenteringWeight     float64
	DistanceWeight      float64
	ConfidenceWeight    float64
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		SizeSaturationRatio: 0.25,
		DistanceSaturationM: 3.0,
		SizeWeight:          0.3,
		CenteringWeight:     0.2,
		DistanceWeight:      0.25,
		ConfidenceWeight:    0.25,
	}
}

// Quality scores a candidate ROI combining bbox size, centering, inverse
// distance, and detector confidence, each normalised to [0,1].
func Quality(cfg QualityConfig, box image.Rectangle, frameW, frameH int, confidence float64, distanceM float64, hasDistance bool) float64 {
	areaRatio := model.AreaRatio(box, frameW, frameH)
	sizeTerm := math.Min(1, areaRatio/cfg.SizeSaturationRatio)

	center := model.Center(box)
	frameCenter := image.Pt(frameW/2, frameH/2)
	dx := float64(center.X - frameCenter.X)
	dy := float64(center.Y - frameCenter.Y)
	maxDist := math.Hypot(float64(frameW)/2, float64(frameH)/2)
	var centeringTerm float64
	if maxDist > 0 {
		centeringTerm = 1 - math.Min(1, math.Hypot(dx, dy)/maxDist)
	}

	distanceTerm := 0.5 // neutral when distance unknown
	if hasDistance && distanceM > 0 {
		distanceTerm = math.Min(1, cfg.DistanceSaturationM/distanceM)
	}

	confTerm := math.Max(0, math.Min(1, confidence))

	return cfg.SizeWeight*sizeTerm +
		cfg.CenteringWeight*centeringTerm +
		cfg.DistanceWeight*distanceTerm +
		cfg.ConfidenceWeight*confTerm
}

// TriggerConfig mirrors spec.md §6's lpr.best_frame_selection block.
type TriggerConfig struct {
	Enabled          bool
	QualityThreshold float64
	MaxWaitFrames    int
	ReuseResult      bool
}

func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{Enabled: true, QualityThreshold: 0.6, MaxWaitFrames: 10, ReuseResult: true}
}

type trackState struct {
	bestQuality  float64
	bestROI      image.Image
	bestBox      image.Rectangle
	waitedFrames int
	hasResult    bool
	plate        string
	plateScore   float64
}

// Selector tracks, per track id, the best ROI seen so far and decides when
// to trigger plate recognition (spec.md §4.5).
type Selector struct {
	qualityCfg QualityConfig
	triggerCfg TriggerConfig
	state      map[int64]*trackState
}

func NewSelector(qualityCfg QualityConfig, triggerCfg TriggerConfig) *Selector {
	return &Selector{qualityCfg: qualityCfg, triggerCfg: triggerCfg, state: make(map[int64]*trackState)}
}

// ShouldTrigger implements spec.md §4.5's should_trigger: returns whether
// to submit a plate-recognition task for trackID on this frame, and which
// ROI to use.
func (s *Selector) ShouldTrigger(trackID int64, box image.Rectangle, roi image.Image, confidence float64, frameW, frameH int, distanceM float64, hasDistance bool) (trigger bool, chosenROI image.Image) {
	if !s.triggerCfg.Enabled {
		return false, nil
	}
	st, ok := s.state[trackID]
	if !ok {
		st = &trackState{}
		s.state[trackID] = st
	}

	if s.triggerCfg.ReuseResult && st.hasResult {
		return false, nil
	}

	q := Quality(s.qualityCfg, box, frameW, frameH, confidence, distanceM, hasDistance)
	if q >= s.triggerCfg.QualityThreshold {
		st.bestQuality = q
		st.bestROI = roi
		st.bestBox = box
		st.waitedFrames = 0
		return true, roi
	}

	if q > st.bestQuality {
		st.bestQuality = q
		st.bestROI = roi
		st.bestBox = box
	}
	st.waitedFrames++
	if st.waitedFrames >= s.triggerCfg.MaxWaitFrames && st.bestROI != nil {
		out := st.bestROI
		st.waitedFrames = 0
		return true, out
	}
	return false, nil
}

// OnComplete stores a plate-recognition result for reuse (spec.md §4.5).
func (s *Selector) OnComplete(trackID int64, plate string, score float64) {
	st, ok := s.state[trackID]
	if !ok {
		st = &trackState{}
		s.state[trackID] = st
	}
	st.hasResult = true
	st.plate = plate
	st.plateScore = score
}

// Result returns the stored plate result for trackID, if any.
func (s *Selector) Result(trackID int64) (plate string, score float64, ok bool) {
	st, present := s.state[trackID]
	if !present || !st.hasResult {
		return "", 0, false
	}
	return st.plate, st.plateScore, true
}

// Cleanup drops state for tracks no longer active.
func (s *Selector) Cleanup(activeIDs map[int64]bool) {
	for id := range s.state {
		if !activeIDs[id] {
			delete(s.state, id)
		}
	}
}
