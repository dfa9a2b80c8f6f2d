package beacon

import (
	"math"
	"sync"
)

// MatchTrackerConfig mirrors spec.md §6's beacon_match.temporal_consistency
// block.
type MatchTrackerConfig struct {
	Enabled             bool
	MinConsistentFrames int
	MaxDistanceError    float64 // meters
	DistanceEMAAlpha    float64 // smoothing applied to the remembered distance once locked
}

func DefaultMatchTrackerConfig() MatchTrackerConfig {
	return MatchTrackerConfig{Enabled: true, MinConsistentFrames: 5, MaxDistanceError: 2.0, DistanceEMAAlpha: 0.7}
}

type record struct {
	mac      string
	distance float64
	hasDist  bool
}

type trackMatchState struct {
	history        []record
	locked         bool
	lockedMac      string
	lockedDistance float64
}

// MatchTracker enforces the temporal-consistency lock-in of spec.md §4.3:
// a mac locks to a track only once the last MinConsistentFrames accepted
// records name the same mac with distance spread within MaxDistanceError,
// and once locked the decision is permanent for the track's life.
type MatchTracker struct {
	cfg   MatchTrackerConfig
	mu    sync.Mutex
	state map[int64]*trackMatchState
}

func NewMatchTracker(cfg MatchTrackerConfig) *MatchTracker {
	return &MatchTracker{cfg: cfg, state: make(map[int64]*trackMatchState)}
}

// Update records one observation for trackID (mac/distance may be
// absent, signalled by hasMac/hasDistance false) and returns the locked mac
// for the track, if any. Once locked, the locked mac is returned
// unconditionally -- a miss or a conflicting match never unlocks it
// (spec.md §3 invariant, §9 open question: this spec keeps the lock
// permanent).
func (m *MatchTracker) Update(trackID int64, mac string, hasMac bool, distance float64, hasDistance bool) (lockedMac string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state[trackID]
	if !ok {
		st = &trackMatchState{}
		m.state[trackID] = st
	}

	if st.locked {
		if hasMac && mac == st.lockedMac && hasDistance {
			st.lockedDistance = m.cfg.DistanceEMAAlpha*distance + (1-m.cfg.DistanceEMAAlpha)*st.lockedDistance
		}
		return st.lockedMac, true
	}

	// With temporal-consistency disabled, a single observed mac locks
	// immediately instead of requiring MinConsistentFrames of agreement.
	if !m.cfg.Enabled {
		if !hasMac {
			return "", false
		}
		st.locked = true
		st.lockedMac = mac
		if hasDistance {
			st.lockedDistance = distance
		}
		return st.lockedMac, true
	}

	if hasMac {
		st.history = append(st.history, record{mac: mac, distance: distance, hasDist: hasDistance})
		if len(st.history) > m.cfg.MinConsistentFrames {
			st.history = st.history[len(st.history)-m.cfg.MinConsistentFrames:]
		}
	}

	if len(st.history) < m.cfg.MinConsistentFrames {
		return "", false
	}

	candidate := st.history[0].mac
	minD, maxD := math.Inf(1), math.Inf(-1)
	haveDist := false
	for _, r := range st.history {
		if r.mac != candidate {
			return "", false
		}
		if r.hasDist {
			haveDist = true
			if r.distance < minD {
				minD = r.distance
			}
			if r.distance > maxD {
				maxD = r.distance
			}
		}
	}
	if haveDist && (maxD-minD) > m.cfg.MaxDistanceError {
		return "", false
	}

	st.locked = true
	st.lockedMac = candidate
	if haveDist {
		st.lockedDistance = maxD // any value in range; caller smooths thereafter
	}
	return st.lockedMac, true
}

// LockedDistance returns the smoothed locked distance for trackID, if
// locked.
func (m *MatchTracker) LockedDistance(trackID int64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[trackID]
	if !ok || !st.locked {
		return 0, false
	}
	return st.lockedDistance, true
}

// Reset clears the lock and history for a track (e.g. on track removal with
// reset_on_track_end enabled).
func (m *MatchTracker) Reset(trackID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, trackID)
}

// Cleanup drops state for tracks no longer active.
func (m *MatchTracker) Cleanup(activeIDs map[int64]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.state {
		if !activeIDs[id] {
			delete(m.state, id)
		}
	}
}

// IsLocked reports whether trackID already has a permanent lock.
func (m *MatchTracker) IsLocked(trackID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[trackID]
	return ok && st.locked
}
