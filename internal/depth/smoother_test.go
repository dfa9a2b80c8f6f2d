package depth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSmootherMissingReturnsLastRemembered(t *testing.T) {
	s := NewSmoother(SmootherConfig{Enabled: true, Method: MethodEMA, Alpha: 0.5, MinSamples: 2})
	_, ok := s.Update(1, 5.0, true)
	require.False(t, ok, "first sample alone must not be enough (min_samples=2)")
	v1, ok := s.Update(1, 6.0, true)
	require.True(t, ok)

	// A missing sample must return exactly the prior smoothed value, not a raw sample.
	v2, ok := s.Update(1, 0, false)
	require.True(t, ok)
	require.Equal(t, v1, v2)

	// And calling again with another miss must be a pure repeat (idempotent).
	v3, ok := s.Update(1, 0, false)
	require.True(t, ok)
	require.Equal(t, v2, v3)
}

func TestSmootherEMAFeedsOffPriorSmoothedNotPenultimateRaw(t *testing.T) {
	s := NewSmoother(SmootherConfig{Enabled: true, Method: MethodEMA, Alpha: 0.5, MinSamples: 2})
	s.Update(1, 10.0, true)
	v1, _ := s.Update(1, 20.0, true) // first smoothed = median(10,20) = 15
	require.InDelta(t, 15.0, v1, 1e-9)

	// Next raw = 100. Correct EMA: 0.5*100 + 0.5*15 = 57.5.
	// The buggy variant would have used history[-2] (=10) instead of the
	// smoothed value 15, giving 0.5*100 + 0.5*10 = 55 -- must not match that.
	v2, _ := s.Update(1, 100.0, true)
	require.InDelta(t, 57.5, v2, 1e-9)
	require.NotEqual(t, 55.0, v2)
}

func TestSmootherMedianMethod(t *testing.T) {
	s := NewSmoother(SmootherConfig{Enabled: true, Method: MethodMedian, WindowSize: 3})
	s.Update(1, 1.0, true)
	s.Update(1, 5.0, true)
	v, ok := s.Update(1, 3.0, true)
	require.True(t, ok)
	require.InDelta(t, 3.0, v, 1e-9)
}

func TestSmootherDisabledPassesRawThrough(t *testing.T) {
	s := NewSmoother(SmootherConfig{Enabled: false, Method: MethodEMA, Alpha: 0.5, MinSamples: 2})
	v1, ok := s.Update(1, 10.0, true)
	require.True(t, ok, "disabled smoothing has no min-samples warmup")
	require.InDelta(t, 10.0, v1, 1e-9)

	v2, ok := s.Update(1, 100.0, true)
	require.True(t, ok)
	require.InDelta(t, 100.0, v2, 1e-9, "disabled smoothing returns the raw sample unchanged, not an EMA blend")
}

func TestSmootherResetAndCleanup(t *testing.T) {
	s := NewSmoother(DefaultSmootherConfig())
	s.Update(1, 5.0, true)
	s.Update(1, 5.0, true)
	s.Update(1, 5.0, true)
	s.Reset(1)
	_, ok := s.Update(1, 0, false)
	require.False(t, ok, "reset must purge remembered smoothed value")

	s.Update(2, 5.0, true)
	s.Update(2, 5.0, true)
	s.Update(2, 5.0, true)
	s.Cleanup(map[int64]bool{})
	_, ok = s.Update(2, 0, false)
	require.False(t, ok, "cleanup must drop state for absent ids")
}
