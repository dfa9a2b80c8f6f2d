package bestframe

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldTriggerOnImmediateHighQuality(t *testing.T) {
	s := NewSelector(DefaultQualityConfig(), DefaultTriggerConfig())
	box := image.Rect(300, 200, 500, 440) // large, centred box
	trigger, roi := s.ShouldTrigger(1, box, box, 0.9, 640, 480, 3.0, true)
	require.True(t, trigger)
	require.Equal(t, box, roi)
}

func TestShouldTriggerFallsBackToBestSeenAfterMaxWait(t *testing.T) {
	cfg := DefaultTriggerConfig()
	cfg.QualityThreshold = 2.0 // unreachable, forces the wait-then-fallback path
	cfg.MaxWaitFrames = 3
	s := NewSelector(DefaultQualityConfig(), cfg)
	box := image.Rect(0, 0, 10, 10) // tiny, far-corner box: low but nonzero quality
	var trigger bool
	for i := 0; i < cfg.MaxWaitFrames; i++ {
		trigger, _ = s.ShouldTrigger(1, box, box, 0.5, 640, 480, 10.0, true)
	}
	require.True(t, trigger, "must fall back to the best-seen ROI once max_wait_frames elapses")
}

func TestShouldTriggerReuseResultSkipsFurtherTriggers(t *testing.T) {
	s := NewSelector(DefaultQualityConfig(), DefaultTriggerConfig())
	box := image.Rect(300, 200, 500, 440)
	s.ShouldTrigger(1, box, box, 0.9, 640, 480, 3.0, true)
	s.OnComplete(1, "ABC123", 0.8)

	trigger, roi := s.ShouldTrigger(1, box, box, 0.9, 640, 480, 3.0, true)
	require.False(t, trigger, "reuse_result must skip re-triggering once a result is stored")
	require.Nil(t, roi)
}

func TestShouldTriggerDisabledNeverFires(t *testing.T) {
	cfg := DefaultTriggerConfig()
	cfg.Enabled = false
	s := NewSelector(DefaultQualityConfig(), cfg)
	box := image.Rect(300, 200, 500, 440)
	trigger, roi := s.ShouldTrigger(1, box, box, 0.9, 640, 480, 3.0, true)
	require.False(t, trigger)
	require.Nil(t, roi)
}

func TestCleanupDropsSelectorState(t *testing.T) {
	s := NewSelector(DefaultQualityConfig(), DefaultTriggerConfig())
	box := image.Rect(300, 200, 500, 440)
	s.ShouldTrigger(1, box, box, 0.9, 640, 480, 3.0, true)
	s.OnComplete(1, "ABC123", 0.8)
	_, _, ok := s.Result(1)
	require.True(t, ok)

	s.Cleanup(map[int64]bool{})
	_, _, ok = s.Result(1)
	require.False(t, ok)
}
