package beacon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockRequiresConsistentFrames(t *testing.T) {
	mt := NewMatchTracker(MatchTrackerConfig{Enabled: true, MinConsistentFrames: 5, MaxDistanceError: 2.0})
	for i := 0; i < 4; i++ {
		mac, locked := mt.Update(1, "AA:BB:CC:DD:EE:01", true, 5.05, true)
		require.False(t, locked)
		require.Empty(t, mac)
	}
	mac, locked := mt.Update(1, "AA:BB:CC:DD:EE:01", true, 5.05, true)
	require.True(t, locked)
	require.Equal(t, "AA:BB:CC:DD:EE:01", mac)
}

func TestLockRejectedOnTooMuchDistanceSpread(t *testing.T) {
	mt := NewMatchTracker(MatchTrackerConfig{Enabled: true, MinConsistentFrames: 5, MaxDistanceError: 1.0})
	dists := []float64{5.0, 5.2, 7.5, 5.1, 5.0} // spread 2.5m > 1.0m max
	for _, d := range dists {
		_, locked := mt.Update(1, "AA:BB:CC:DD:EE:01", true, d, true)
		require.False(t, locked)
	}
}

func TestFlickerRobustLock(t *testing.T) {
	// Scanner alternates between two macs every frame; no lock should form.
	mt := NewMatchTracker(MatchTrackerConfig{Enabled: true, MinConsistentFrames: 5, MaxDistanceError: 2.0, DistanceEMAAlpha: 0.7})
	for i := 0; i < 10; i++ {
		var mac string
		var d float64
		if i%2 == 0 {
			mac, d = "AA:BB:CC:DD:EE:01", 5.1
		} else {
			mac, d = "AA:BB:CC:DD:EE:02", 7.0
		}
		_, locked := mt.Update(1, mac, true, d, true)
		require.False(t, locked, "alternating macs must never lock")
	}

	// Now depth settles and only ...01 is observed for 5 consecutive frames.
	var lockedMac string
	var locked bool
	for i := 0; i < 5; i++ {
		lockedMac, locked = mt.Update(1, "AA:BB:CC:DD:EE:01", true, 5.1, true)
	}
	require.True(t, locked)
	require.Equal(t, "AA:BB:CC:DD:EE:01", lockedMac)

	// A miss afterwards must still report the locked mac.
	mac, stillLocked := mt.Update(1, "", false, 0, false)
	require.True(t, stillLocked)
	require.Equal(t, "AA:BB:CC:DD:EE:01", mac)
}

func TestLockPermanentDespiteLaterConflict(t *testing.T) {
	mt := NewMatchTracker(MatchTrackerConfig{Enabled: true, MinConsistentFrames: 3, MaxDistanceError: 2.0})
	for i := 0; i < 3; i++ {
		mt.Update(1, "AA:BB:CC:DD:EE:01", true, 5.0, true)
	}
	require.True(t, mt.IsLocked(1))

	mac, locked := mt.Update(1, "FF:FF:FF:FF:FF:FF", true, 100, true)
	require.True(t, locked)
	require.Equal(t, "AA:BB:CC:DD:EE:01", mac, "a conflicting match must never unlock the track")
}

func TestTemporalConsistencyDisabledLocksImmediately(t *testing.T) {
	mt := NewMatchTracker(MatchTrackerConfig{Enabled: false, MinConsistentFrames: 5, MaxDistanceError: 1.0})
	mac, locked := mt.Update(1, "AA:BB:CC:DD:EE:01", true, 5.0, true)
	require.True(t, locked, "disabled temporal consistency must lock on the first observed mac")
	require.Equal(t, "AA:BB:CC:DD:EE:01", mac)
}

func TestResetAndCleanup(t *testing.T) {
	mt := NewMatchTracker(DefaultMatchTrackerConfig())
	for i := 0; i < 5; i++ {
		mt.Update(1, "AA:BB:CC:DD:EE:01", true, 5.0, true)
	}
	require.True(t, mt.IsLocked(1))
	mt.Reset(1)
	require.False(t, mt.IsLocked(1))

	for i := 0; i < 5; i++ {
		mt.Update(2, "AA:BB:CC:DD:EE:01", true, 5.0, true)
	}
	mt.Cleanup(map[int64]bool{})
	require.False(t, mt.IsLocked(2))
}

func TestDistanceFromRSSI(t *testing.T) {
	cfg := DefaultRSSIConfig()
	d := cfg.DistanceFromRSSI(cfg.TxPower)
	require.InDelta(t, 1.0, d, 1e-9, "distance at rssi == tx_power must be 1m")
}
