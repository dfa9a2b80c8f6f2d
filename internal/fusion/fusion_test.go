package fusion

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/beacon"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/depth"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/loiter"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

type fakeScanner struct {
	readings []model.BeaconReading
}

func (f *fakeScanner) Snapshot(ctx context.Context, maxAge time.Duration) ([]model.BeaconReading, error) {
	return f.readings, nil
}

func (f *fakeScanner) IsAvailable() bool { return true }

func newFixture(t *testing.T, scanner beacon.Scanner) *Fusion {
	return New(
		DefaultConfig(),
		depth.NewReader(depth.DefaultReaderConfig()),
		depth.NewSmoother(depth.SmootherConfig{Enabled: true, Method: depth.MethodEMA, Alpha: 0.3, WindowSize: 5, MinSamples: 1}),
		scanner,
		beacon.DefaultRSSIConfig(),
		beacon.NewMatchTracker(beacon.MatchTrackerConfig{Enabled: true, MinConsistentFrames: 5, MaxDistanceError: 2.0, DistanceEMAAlpha: 0.7}),
		nil,
		nil,
		loiter.New(loiter.DefaultConfig()),
		logging.NewTestLogger(t),
	)
}

func excavatorFrame(id int64) *model.Frame {
	meters := make([]float32, 100*100)
	for i := range meters {
		meters[i] = 5.1
	}
	return &model.Frame{
		ID:         id,
		CapturedAt: time.Now(),
		Width:      100,
		Height:     100,
		Depth:      model.DepthImage{Width: 100, Height: 100, Meters: meters},
	}
}

// TestTwoExcavatorsOneBeacon directly implements spec.md §8 end-to-end
// scenario 1.
func TestTwoExcavatorsOneBeacon(t *testing.T) {
	scanner := &fakeScanner{readings: []model.BeaconReading{
		{Mac: "AA:BB:CC:DD:EE:01", RSSI: -60, EstimatedDistance: 5.05, ObservedAt: time.Now()},
	}}
	fz := newFixture(t, scanner)
	whitelist := []model.WhitelistEntry{
		{Mac: "AA:BB:CC:DD:EE:01", MachineType: "excavator", EnvironmentCode: "site-a", EquipmentOwner: "acme"},
	}

	track1 := model.TrackUpdate{TrackID: 1, ClassID: 3, ClassName: "excavator", Group: model.ClassGroupConstruction, Box: image.Rect(10, 10, 60, 90), Score: 0.9}
	track2 := model.TrackUpdate{TrackID: 2, ClassID: 3, ClassName: "excavator", Group: model.ClassGroupConstruction, Box: image.Rect(60, 10, 90, 90), Score: 0.9}

	var track1Depth float32 = 5.10
	var track2Depth float32 = 9.80

	for i := int64(0); i < 6; i++ {
		frame := &model.Frame{ID: i, CapturedAt: time.Now(), Width: 100, Height: 100}
		// Sample each track's own depth by overlaying two regions.
		meters := make([]float32, 100*100)
		for y := 0; y < 100; y++ {
			for x := 0; x < 100; x++ {
				if x < 60 {
					meters[y*100+x] = track1Depth
				} else {
					meters[y*100+x] = track2Depth
				}
			}
		}
		frame.Depth = model.DepthImage{Width: 100, Height: 100, Meters: meters}

		tracks := map[int64]model.TrackUpdate{1: track1, 2: track2}
		fz.ProcessFrame(context.Background(), frame, tracks, whitelist)
	}

	vs1, ok := fz.VehicleState(1)
	require.True(t, ok)
	require.True(t, vs1.Registered)
	require.Equal(t, "AA:BB:CC:DD:EE:01", vs1.BeaconMac)

	vs2, ok := fz.VehicleState(2)
	require.True(t, ok)
	require.False(t, vs2.Registered)
}

// TestMultiTargetDisabledNeverMatches covers config wiring: with
// multi_target.enabled off, a construction track is never handed a beacon
// match even though a whitelisted beacon reading is available every frame.
func TestMultiTargetDisabledNeverMatches(t *testing.T) {
	scanner := &fakeScanner{readings: []model.BeaconReading{
		{Mac: "AA:BB:CC:DD:EE:01", RSSI: -60, EstimatedDistance: 5.05, ObservedAt: time.Now()},
	}}
	cfg := DefaultConfig()
	cfg.MultiTargetEnabled = false
	fz := New(
		cfg,
		depth.NewReader(depth.DefaultReaderConfig()),
		depth.NewSmoother(depth.SmootherConfig{Enabled: true, Method: depth.MethodEMA, Alpha: 0.3, WindowSize: 5, MinSamples: 1}),
		scanner,
		beacon.DefaultRSSIConfig(),
		beacon.NewMatchTracker(beacon.MatchTrackerConfig{Enabled: true, MinConsistentFrames: 5, MaxDistanceError: 2.0, DistanceEMAAlpha: 0.7}),
		nil,
		nil,
		loiter.New(loiter.DefaultConfig()),
		logging.NewTestLogger(t),
	)
	whitelist := []model.WhitelistEntry{
		{Mac: "AA:BB:CC:DD:EE:01", MachineType: "excavator", EnvironmentCode: "site-a", EquipmentOwner: "acme"},
	}
	track := model.TrackUpdate{TrackID: 1, ClassID: 3, ClassName: "excavator", Group: model.ClassGroupConstruction, Box: image.Rect(10, 10, 60, 90), Score: 0.9}

	for i := int64(0); i < 8; i++ {
		frame := excavatorFrame(i)
		fz.ProcessFrame(context.Background(), frame, map[int64]model.TrackUpdate{1: track}, whitelist)
	}

	vs, ok := fz.VehicleState(1)
	require.True(t, ok)
	require.False(t, vs.Registered, "multi_target disabled must never form a beacon match")
	require.Empty(t, vs.BeaconMac)
}

func TestCleanupRemovesVehicleState(t *testing.T) {
	fz := newFixture(t, &fakeScanner{})
	frame := excavatorFrame(1)
	track := model.TrackUpdate{TrackID: 5, ClassID: 3, ClassName: "excavator", Group: model.ClassGroupConstruction, Box: image.Rect(0, 0, 10, 10), Score: 0.9}
	fz.ProcessFrame(context.Background(), frame, map[int64]model.TrackUpdate{5: track}, nil)
	_, ok := fz.VehicleState(5)
	require.True(t, ok)

	fz.ProcessFrame(context.Background(), frame, map[int64]model.TrackUpdate{}, nil)
	_, ok = fz.VehicleState(5)
	require.False(t, ok)
}
