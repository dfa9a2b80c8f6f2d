// Package tracker implements the two-stage, per-class multi-object tracker
// from spec.md §4.1.
//
// It is grounded on the teacher's object_tracker/sort.go (IoU cost matrix,
// Hungarian solve via github.com/charles-haynes/munkres, deterministic
// ascending tie-break) generalized from the teacher's single-stage
// single-class match to a two-stage, per-class association modeled on
// LdDl-mot-go's ByteTracker.MatchObjects: a high-confidence Hungarian pass
// followed by a low-confidence recovery pass against whatever tracks the
// first pass left unmatched.
package tracker

import (
	"sort"
	"sync"

	hg "github.com/charles-haynes/munkres"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Config holds the thresholds from spec.md §6's "tracking" section.
type Config struct {
	TrackThresh        float64 // detections below this are discarded outright
	HighThresh         float64 // detections at/above this are "high" confidence
	MatchThresh        float64 // minimum IoU to accept an assignment
	TrackBuffer        int     // frames a track may go unmatched before removal
	MinTrackConfidence float64 // minimum score to birth a brand new track
}

// DefaultConfig mirrors the values ByteTrack-style trackers commonly ship
// with and the teacher's own DefaultMinConfidence.
func DefaultConfig() Config {
	return Config{
		TrackThresh:        0.1,
		HighThresh:         0.6,
		MatchThresh:         0.3,
		TrackBuffer:        30,
		MinTrackConfidence: 0.3,
	}
}

// Tracker is the multi-object tracker. It owns its track table; callers
// never see or mutate the Track structs shared with other threads, only the
// TrackUpdate snapshots Update returns (spec.md §9's ownership discipline).
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	logger logging.Logger
	nextID int64
	tracks map[int64]*model.Track
}

// New builds a Tracker. logger may be the zero value of logging.Logger.
func New(cfg Config, logger logging.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg,
		logger: logger,
		tracks: make(map[int64]*model.Track),
	}
}

// Update runs one frame of association and returns the resulting live
// tracks, keyed by track id. Removed tracks never appear in the result
// (spec.md §3 invariant). Calling Update with an empty detection set still
// advances every track's time_since_update.
func (tr *Tracker) Update(dets []model.Detection, frameID int64) map[int64]model.TrackUpdate {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	filtered := make([]model.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score >= tr.cfg.TrackThresh {
			filtered = append(filtered, d)
		}
	}

	byClass := partitionByClass(filtered)
	tracksByClass := tr.liveTracksByClass()

	matchedTrackIDs := make(map[int64]bool)
	matchedDetClassIdx := make(map[int]map[int]bool) // classID -> det index -> used

	classes := unionClassIDs(byClass, tracksByClass)
	for _, classID := range classes {
		classTracks := tracksByClass[classID]
		high, low := splitByConfidence(byClass[classID], tr.cfg.HighThresh)

		usedHigh := make(map[int]bool)
		usedLow := make(map[int]bool)

		// Stage 1: high-confidence detections against all live tracks of this class.
		matches1, unmatchedTracks1, _ := tr.associate(classTracks, high)
		for trackID, detIdx := range matches1 {
			tr.applyMatch(trackID, high[detIdx], frameID)
			matchedTrackIDs[trackID] = true
			usedHigh[detIdx] = true
		}

		// Stage 2: low-confidence detections against tracks stage 1 left unmatched.
		matches2, unmatchedTracks2, _ := tr.associate(unmatchedTracks1, low)
		for trackID, detIdx := range matches2 {
			tr.applyMatch(trackID, low[detIdx], frameID)
			matchedTrackIDs[trackID] = true
			usedLow[detIdx] = true
		}

		// Tracks still unmatched after both stages go Lost/Removed.
		for _, trackID := range unmatchedTracks2 {
			tr.ageOut(trackID)
		}

		// High detections unmatched after stage 1 birth new tracks.
		for idx, det := range high {
			if usedHigh[idx] {
				continue
			}
			if det.Score < tr.cfg.MinTrackConfidence {
				continue
			}
			tr.birth(det, frameID)
		}
		_ = matchedDetClassIdx
	}

	out := make(map[int64]model.TrackUpdate, len(tr.tracks))
	for id, t := range tr.tracks {
		if t.State == model.TrackRemoved {
			continue
		}
		out[id] = model.TrackUpdate{
			TrackID:   t.TrackID,
			Box:       t.Box,
			ClassID:   t.ClassID,
			ClassName: t.ClassName,
			Group:     t.Group,
			Score:     t.Score,
			Hits:      t.Hits,
			Processed: t.Processed,
		}
	}
	return out
}

// MarkProcessed flags a track as having been handed off downstream (spec.md
// §4.1 public surface).
func (tr *Tracker) MarkProcessed(trackID int64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if t, ok := tr.tracks[trackID]; ok {
		t.Processed = true
	}
}

func (tr *Tracker) liveTracksByClass() map[int][]int64 {
	out := make(map[int][]int64)
	for id, t := range tr.tracks {
		if t.State == model.TrackRemoved {
			continue
		}
		out[t.ClassID] = append(out[t.ClassID], id)
	}
	for classID := range out {
		sort.Slice(out[classID], func(i, j int) bool { return out[classID][i] < out[classID][j] })
	}
	return out
}

func (tr *Tracker) applyMatch(trackID int64, det model.Detection, frameID int64) {
	t := tr.tracks[trackID]
	t.Box = det.Box
	t.Score = det.Score
	t.Hits++
	t.State = model.TrackTracked
	t.TimeSinceUpdate = 0
	t.LastSeenFrame = frameID
}

func (tr *Tracker) ageOut(trackID int64) {
	t := tr.tracks[trackID]
	t.TimeSinceUpdate++
	if t.TimeSinceUpdate > tr.cfg.TrackBuffer {
		t.State = model.TrackRemoved
		delete(tr.tracks, trackID)
		return
	}
	t.State = model.TrackLost
}

func (tr *Tracker) birth(det model.Detection, frameID int64) {
	tr.nextID++
	id := tr.nextID
	tr.tracks[id] = &model.Track{
		TrackID:        id,
		ClassID:        det.ClassID,
		ClassName:      det.ClassName,
		Group:          det.Group,
		Box:            det.Box,
		Score:          det.Score,
		State:          model.TrackTentative,
		Hits:           1,
		FirstSeenFrame: frameID,
		LastSeenFrame:  frameID,
		Processed:      false,
	}
}

// associate builds the IoU cost matrix between the given (ascending,
// deduplicated) track ids and detections, and returns the accepted
// matches, the track ids left unmatched, and the detection indices left
// unmatched. Matches below cfg.MatchThresh IoU are rejected (spec.md §4.1
// step 2).
func (tr *Tracker) associate(trackIDs []int64, dets []model.Detection) (matches map[int64]int, unmatchedTracks []int64, unmatchedDets []int) {
	matches = make(map[int64]int)
	if len(trackIDs) == 0 || len(dets) == 0 {
		unmatchedTracks = append(unmatchedTracks, trackIDs...)
		for i := range dets {
			unmatchedDets = append(unmatchedDets, i)
		}
		return matches, unmatchedTracks, unmatchedDets
	}

	cost := make([][]float64, len(trackIDs))
	for i, id := range trackIDs {
		row := make([]float64, len(dets))
		box := tr.tracks[id].Box
		for j, d := range dets {
			row[j] = 1 - model.IOU(box, d.Box)
		}
		cost[i] = row
	}

	assignment, err := solve(cost)
	if err != nil {
		if tr.logger != nil {
			tr.logger.Debugw("munkres solve failed, falling back to greedy", "err", err)
		}
		assignment = greedy(cost)
	}

	usedTrack := make(map[int]bool)
	usedDet := make(map[int]bool)
	maxCost := 1 - tr.cfg.MatchThresh
	for i, j := range assignment {
		if j < 0 || j >= len(dets) {
			continue
		}
		if cost[i][j] > maxCost {
			continue
		}
		matches[trackIDs[i]] = j
		usedTrack[i] = true
		usedDet[j] = true
	}
	for i, id := range trackIDs {
		if !usedTrack[i] {
			unmatchedTracks = append(unmatchedTracks, id)
		}
	}
	for j := range dets {
		if !usedDet[j] {
			unmatchedDets = append(unmatchedDets, j)
		}
	}
	return matches, unmatchedTracks, unmatchedDets
}

// solve runs the Hungarian algorithm. It returns, for each row, the
// assigned column index or -1.
func solve(cost [][]float64) ([]int, error) {
	ha, err := hg.NewHungarianAlgorithm(cost)
	if err != nil {
		return nil, errors.Wrap(err, "build hungarian solver")
	}
	return ha.Execute(), nil
}

// greedy is the fallback association when the optimal solver is
// unavailable: ascending cost, tie-broken by ascending row then ascending
// column, honouring one-to-one assignment (spec.md §4.1 edge case).
func greedy(cost [][]float64) []int {
	type cand struct{ i, j int }
	cands := make([]cand, 0, len(cost)*len(cost[0]))
	for i := range cost {
		for j := range cost[i] {
			cands = append(cands, cand{i, j})
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if cost[ca.i][ca.j] != cost[cb.i][cb.j] {
			return cost[ca.i][ca.j] < cost[cb.i][cb.j]
		}
		if ca.i != cb.i {
			return ca.i < cb.i
		}
		return ca.j < cb.j
	})
	result := make([]int, len(cost))
	for i := range result {
		result[i] = -1
	}
	usedRow := make(map[int]bool)
	usedCol := make(map[int]bool)
	for _, c := range cands {
		if usedRow[c.i] || usedCol[c.j] {
			continue
		}
		result[c.i] = c.j
		usedRow[c.i] = true
		usedCol[c.j] = true
	}
	return result
}

func partitionByClass(dets []model.Detection) map[int][]model.Detection {
	out := make(map[int][]model.Detection)
	for _, d := range dets {
		out[d.ClassID] = append(out[d.ClassID], d)
	}
	return out
}

func splitByConfidence(dets []model.Detection, highThresh float64) (high, low []model.Detection) {
	for _, d := range dets {
		if d.Score >= highThresh {
			high = append(high, d)
		} else {
			low = append(low, d)
		}
	}
	return high, low
}

func unionClassIDs(a map[int][]model.Detection, b map[int][]int64) []int {
	seen := make(map[int]bool)
	for c := range a {
		seen[c] = true
	}
	for c := range b {
		seen[c] = true
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
