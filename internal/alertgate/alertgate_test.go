package alertgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

func admitAfterConsistency(t *testing.T, g *Gate, c model.AlertCandidate, now time.Time) (model.AlertEvent, bool) {
	var ev model.AlertEvent
	var ok bool
	for i := 0; i < 5; i++ {
		ev, ok = g.Evaluate(c, now)
	}
	return ev, ok
}

func TestRequiresConsistentFrames(t *testing.T) {
	g := New(DefaultConfig())
	c := model.AlertCandidate{TrackID: 1, Status: model.StatusUnregistered, Box: [4]float64{0, 0, 10, 10}}
	now := time.Now()
	for i := 0; i < 4; i++ {
		_, ok := g.Evaluate(c, now)
		require.False(t, ok)
	}
	_, ok := g.Evaluate(c, now)
	require.True(t, ok)
}

func TestDedupWithinTimeWindow(t *testing.T) {
	g := New(DefaultConfig())
	c := model.AlertCandidate{TrackID: 1, Status: model.StatusUnregistered, Box: [4]float64{0, 0, 10, 10}}
	now := time.Now()
	_, ok := admitAfterConsistency(t, g, c, now)
	require.True(t, ok)

	_, ok = g.Evaluate(c, now.Add(5*time.Second))
	require.False(t, ok, "within time_window must dedup")

	_, ok = g.Evaluate(c, now.Add(31*time.Second))
	require.True(t, ok, "outside time_window must re-admit")
}

func TestDedupByPositionOverlap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsistentFrames = 1
	cfg.TimeWindow = time.Millisecond
	g := New(cfg)
	now := time.Now()
	c1 := model.AlertCandidate{TrackID: 2, Status: model.StatusIdentified, Plate: "ABC123", Box: [4]float64{0, 0, 100, 100}}
	_, ok := g.Evaluate(c1, now)
	require.True(t, ok)

	c2 := model.AlertCandidate{TrackID: 2, Status: model.StatusIdentified, Plate: "ABC123", Box: [4]float64{1, 1, 101, 101}}
	_, ok = g.Evaluate(c2, now.Add(2*time.Millisecond))
	require.False(t, ok, "overlapping bbox within position_time_window must dedup")
}

func TestDifferentKeysNeverDedup(t *testing.T) {
	g := New(DefaultConfig())
	now := time.Now()
	c1 := model.AlertCandidate{TrackID: 1, Status: model.StatusUnregistered, Box: [4]float64{0, 0, 10, 10}}
	c2 := model.AlertCandidate{TrackID: 2, Status: model.StatusUnregistered, Box: [4]float64{500, 500, 510, 510}}
	_, ok := admitAfterConsistency(t, g, c1, now)
	require.True(t, ok)
	_, ok = admitAfterConsistency(t, g, c2, now)
	require.True(t, ok)
}

func TestTimestampIsUTC(t *testing.T) {
	g := New(DefaultConfig())
	c := model.AlertCandidate{TrackID: 1, Status: model.StatusUnregistered, Box: [4]float64{0, 0, 10, 10}}
	ev, ok := admitAfterConsistency(t, g, c, time.Now())
	require.True(t, ok)
	require.Equal(t, time.UTC, ev.Timestamp.Location())
}
