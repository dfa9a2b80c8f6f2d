package config

import (
	"time"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/alertgate"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/beacon"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/bestframe"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/depth"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/fusion"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/loiter"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/retention"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/tracker"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/upload"
)

// The Tracker/DepthReader/.../RetentionManager constructors each take a
// narrow package-local Config; these methods translate the single YAML
// document into each one, so cmd/gatewatch wires the pipeline from one
// parsed Config rather than re-parsing per subsystem.

func (c *Config) TrackerConfig() tracker.Config {
	return tracker.Config{
		TrackThresh:        c.Tracking.TrackThresh,
		HighThresh:         c.Tracking.HighThresh,
		MatchThresh:        c.Tracking.MatchThresh,
		TrackBuffer:        c.Tracking.TrackBuffer,
		MinTrackConfidence: c.Tracking.MinTrackConfidence,
	}
}

func (c *Config) DepthReaderConfig() depth.ReaderConfig {
	return depth.ReaderConfig{
		InvalidMin: float32(c.Depth.InvalidMin),
		InvalidMax: float32(c.Depth.InvalidMax),
	}
}

func (c *Config) DepthSmootherConfig() depth.SmootherConfig {
	method := depth.MethodEMA
	if c.Depth.Smoothing.Method == "median" {
		method = depth.MethodMedian
	}
	return depth.SmootherConfig{
		Enabled:    c.Depth.Smoothing.Enabled,
		Method:     method,
		Alpha:      c.Depth.Smoothing.Alpha,
		WindowSize: c.Depth.Smoothing.WindowSize,
		MinSamples: c.Depth.Smoothing.MinSamples,
	}
}

func (c *Config) BeaconRSSIConfig() beacon.RSSIConfig {
	return beacon.DefaultRSSIConfig()
}

func (c *Config) MatchTrackerConfig() beacon.MatchTrackerConfig {
	return beacon.MatchTrackerConfig{
		Enabled:             c.BeaconMatch.TemporalConsistency.Enabled,
		MinConsistentFrames: c.BeaconMatch.TemporalConsistency.MinConsistentFrames,
		MaxDistanceError:    c.BeaconMatch.TemporalConsistency.MaxDistanceError,
		DistanceEMAAlpha:    0.7,
	}
}

func (c *Config) FusionConfig() fusion.Config {
	return fusion.Config{
		MultiTargetEnabled:  c.BeaconMatch.MultiTarget.Enabled,
		MatchCostThreshold:  c.BeaconMatch.MultiTarget.MatchCostThreshold,
		TimeStabilityWeight: c.BeaconMatch.MultiTarget.TimeStabilityWeight,
		StabilityWindow:     c.BeaconMatch.MultiTarget.StabilityWindow,
	}
}

func (c *Config) LoiterConfig() loiter.Config {
	cfg := loiter.DefaultConfig()
	cfg.Enabled = c.Alert.Loitering.Enabled
	cfg.MinDuration = time.Duration(c.Alert.Loitering.MinDuration) * time.Second
	cfg.MinAreaRatio = c.Alert.Loitering.MinAreaRatio
	cfg.MinMovementRatio = c.Alert.Loitering.MinMovementRatio
	return cfg
}

func (c *Config) AlertGateConfig(snapshotDir string) alertgate.Config {
	cfg := alertgate.DefaultConfig()
	cfg.TimeWindow = time.Duration(c.Alert.Dedup.TimeWindow) * time.Second
	cfg.IOUThreshold = c.Alert.Dedup.IOUThreshold
	cfg.PositionTimeWindow = time.Duration(c.Alert.Dedup.PositionTimeWindow) * time.Second
	cfg.SnapshotDir = snapshotDir
	return cfg
}

func (c *Config) BestFrameTriggerConfig() bestframe.TriggerConfig {
	return bestframe.TriggerConfig{
		Enabled:          c.LPR.BestFrameSelection.Enabled,
		QualityThreshold: c.LPR.BestFrameSelection.QualityThreshold,
		MaxWaitFrames:    c.LPR.BestFrameSelection.MaxWaitFrames,
		ReuseResult:      c.LPR.BestFrameSelection.ReuseResult,
	}
}

func (c *Config) UploadConfig() upload.Config {
	cfg := upload.DefaultConfig()
	cfg.Enabled = c.Cloud.Enabled
	cfg.APIBaseURL = c.Cloud.APIBaseURL
	cfg.APIKey = c.Cloud.APIKey
	cfg.RetryAttempts = c.Cloud.RetryAttempts
	cfg.RetryDelay = time.Duration(c.Cloud.RetryDelay * float64(time.Second))
	cfg.UploadInterval = time.Duration(c.Cloud.UploadInterval * float64(time.Second))
	cfg.MaxImageSizeMB = c.Cloud.MaxImageSizeMB
	cfg.EnableImageUpload = c.Cloud.EnableImageUpload
	cfg.EnableAlertUpload = c.Cloud.EnableAlertUpload
	cfg.SaveSnapshots = c.Cloud.SaveSnapshots
	cfg.MonitoringSnapshotInterval = time.Duration(c.Cloud.MonitoringSnapshotInterval * float64(time.Second))
	cfg.EnableMonitoringSnapshot = c.Cloud.EnableMonitoringSnapshot
	return cfg
}

func (c *Config) RetentionConfig(snapshotDir string) retention.Config {
	return retention.Config{
		Database: retention.DatabasePolicy{
			MaxRecords:    c.DataRetention.Database.MaxRecords,
			RetentionDays: c.DataRetention.Database.RetentionDays,
			CheckInterval: time.Duration(c.DataRetention.Database.CleanupIntervalHours) * time.Hour,
		},
		Snapshots: retention.FilePolicy{
			MaxCount:      c.DataRetention.Snapshots.MaxCount,
			MaxSizeMB:     c.DataRetention.Snapshots.MaxSizeMB,
			RetentionDays: c.DataRetention.Snapshots.RetentionDays,
			CheckInterval: time.Duration(c.DataRetention.Snapshots.CleanupIntervalHours) * time.Hour,
		},
		MonitoringSnapshots: retention.FilePolicy{
			MaxCount:      c.DataRetention.MonitoringSnapshots.MaxCount,
			MaxSizeMB:     c.DataRetention.MonitoringSnapshots.MaxSizeMB,
			RetentionDays: c.DataRetention.MonitoringSnapshots.RetentionDays,
			CheckInterval: time.Duration(c.DataRetention.MonitoringSnapshots.CleanupIntervalHours) * time.Hour,
		},
		SnapshotDir: snapshotDir,
	}
}
