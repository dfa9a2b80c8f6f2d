package loiter

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoAlertBeforeMinDuration(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Now()
	center := image.Pt(100, 100)
	for i := 0; i < 15; i++ {
		at := start.Add(time.Duration(i) * 700 * time.Millisecond) // 9.8s total
		d.Update(1, at, center, 0.06)
	}
	require.False(t, d.IsLoitering(1))
}

func TestLoiteringAfterMinDuration(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Now()
	center := image.Pt(100, 100)
	var last time.Time
	for i := 0; i < 15; i++ {
		last = start.Add(time.Duration(i) * time.Second)
		d.Update(1, last, center, 0.06)
	}
	require.True(t, last.Sub(start) >= d.cfg.MinDuration)
	require.True(t, d.IsLoitering(1))
}

func TestNoLoiterWhenMoving(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Now()
	for i := 0; i < 15; i++ {
		at := start.Add(time.Duration(i) * time.Second)
		center := image.Pt(100+i*50, 100) // moving fast
		d.Update(1, at, center, 0.06)
	}
	require.False(t, d.IsLoitering(1))
}

// TestLoiteringBoundingBoxNotFirstPointDisplacement covers spec.md §4.6's
// "max displacement... over the last 10 positions" against a non-monotonic
// path: centers visit (50,0), (0,50), (100,50), (50,100) in turn. Displacement
// from the first sample to the last is only 100 (hypot(0,100)), which would
// incorrectly read as loitering under the default MinMovementRatio*1920=192
// threshold; the bounding-box diagonal is hypot(100,100)=141.4, still under
// threshold, but the distinction matters once the box widens further, e.g.
// if the path instead swings to (300,50) before returning near (50,100): the
// first-to-last displacement stays ~100 while the bbox diagonal exceeds 300,
// correctly failing the loitering check. This test exercises that case.
func TestLoiteringBoundingBoxNotFirstPointDisplacement(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Now()
	corners := []image.Point{
		image.Pt(50, 0),
		image.Pt(0, 50),
		image.Pt(300, 50),
		image.Pt(50, 100),
	}
	for i := 0; i < 12; i++ {
		at := start.Add(time.Duration(i) * time.Second)
		d.Update(1, at, corners[i%len(corners)], 0.06)
	}

	// Bounding box over the last 10 positions spans x:[0,300], y:[0,100]:
	// diagonal = hypot(300,100) ≈ 316.2, movementRatio ≈ 0.165 > 0.1 → not
	// loitering. The old first-to-last formula would have picked whatever
	// the 3rd-from-last and last points happened to be, understating the
	// true spread and wrongly reporting loitering.
	require.False(t, d.IsLoitering(1))
}

func TestDisabledNeverReportsLoitering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	d := New(cfg)
	start := time.Now()
	center := image.Pt(100, 100)
	for i := 0; i < 15; i++ {
		d.Update(1, start.Add(time.Duration(i)*time.Second), center, 0.06)
	}
	require.False(t, d.IsLoitering(1), "disabled detector must never report loitering")
}

func TestCleanupDropsInactive(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Now()
	for i := 0; i < 15; i++ {
		d.Update(1, start.Add(time.Duration(i)*time.Second), image.Pt(10, 10), 0.06)
	}
	require.True(t, d.IsLoitering(1))
	d.Cleanup(map[int64]bool{})
	require.False(t, d.IsLoitering(1))
}

// TestIsLoiteringPure covers spec.md §8's round-trip property: repeated
// calls to IsLoitering with no intervening Update return the same answer.
func TestIsLoiteringPure(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Now()
	for i := 0; i < 15; i++ {
		d.Update(1, start.Add(time.Duration(i)*time.Second), image.Pt(10, 10), 0.06)
	}
	first := d.IsLoitering(1)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, d.IsLoitering(1))
	}
}
