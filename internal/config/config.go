// Package config defines the YAML configuration surface of spec.md §6,
// bound through viper (grounded on go-coffee's hft-bot and
// internal/object-detection config loaders: per-section structs, viper
// defaults, then a validation pass returning a single wrapped error).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Config is the root of the YAML document accepted by --config.
type Config struct {
	Detection      DetectionConfig      `mapstructure:"detection" yaml:"detection"`
	Tracking       TrackingConfig       `mapstructure:"tracking" yaml:"tracking"`
	Depth          DepthConfig          `mapstructure:"depth" yaml:"depth"`
	BeaconMatch    BeaconMatchConfig    `mapstructure:"beacon_match" yaml:"beacon_match"`
	Alert          AlertConfig          `mapstructure:"alert" yaml:"alert"`
	LPR            LPRConfig            `mapstructure:"lpr" yaml:"lpr"`
	Cloud          CloudConfig          `mapstructure:"cloud" yaml:"cloud"`
	DataRetention  DataRetentionConfig  `mapstructure:"data_retention" yaml:"data_retention"`
}

type DetectionConfig struct {
	ConfThreshold    float64 `mapstructure:"conf_threshold" yaml:"conf_threshold"`
	IOUThreshold     float64 `mapstructure:"iou_threshold" yaml:"iou_threshold"`
	InputResolution  int     `mapstructure:"input_resolution" yaml:"input_resolution"`
	ModelPath        string  `mapstructure:"model_path" yaml:"model_path"`
}

type TrackingConfig struct {
	TrackThresh        float64 `mapstructure:"track_thresh" yaml:"track_thresh"`
	HighThresh         float64 `mapstructure:"high_thresh" yaml:"high_thresh"`
	MatchThresh        float64 `mapstructure:"match_thresh" yaml:"match_thresh"`
	TrackBuffer        int     `mapstructure:"track_buffer" yaml:"track_buffer"`
	MinTrackConfidence float64 `mapstructure:"min_track_confidence" yaml:"min_track_confidence"`
}

type SmoothingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Method     string  `mapstructure:"method" yaml:"method"`
	Alpha      float64 `mapstructure:"alpha" yaml:"alpha"`
	WindowSize int     `mapstructure:"window_size" yaml:"window_size"`
	MinSamples int     `mapstructure:"min_samples" yaml:"min_samples"`
}

type DepthConfig struct {
	MinRange   float64         `mapstructure:"min_range" yaml:"min_range"`
	MaxRange   float64         `mapstructure:"max_range" yaml:"max_range"`
	Method     string          `mapstructure:"method" yaml:"method"` // median|mean|min
	InvalidMin float64         `mapstructure:"invalid_min" yaml:"invalid_min"`
	InvalidMax float64         `mapstructure:"invalid_max" yaml:"invalid_max"`
	Smoothing  SmoothingConfig `mapstructure:"smoothing" yaml:"smoothing"`
}

type TemporalConsistencyConfig struct {
	Enabled             bool    `mapstructure:"enabled" yaml:"enabled"`
	MinConsistentFrames int     `mapstructure:"min_consistent_frames" yaml:"min_consistent_frames"`
	MaxDistanceError    float64 `mapstructure:"max_distance_error" yaml:"max_distance_error"`
	ResetOnTrackEnd     bool    `mapstructure:"reset_on_track_end" yaml:"reset_on_track_end"`
}

type MultiTargetConfig struct {
	Enabled             bool    `mapstructure:"enabled" yaml:"enabled"`
	MatchCostThreshold  float64 `mapstructure:"match_cost_threshold" yaml:"match_cost_threshold"`
	TimeStabilityWeight float64 `mapstructure:"time_stability_weight" yaml:"time_stability_weight"`
	StabilityWindow     int     `mapstructure:"stability_window" yaml:"stability_window"`
}

type BeaconMatchConfig struct {
	TemporalConsistency TemporalConsistencyConfig `mapstructure:"temporal_consistency" yaml:"temporal_consistency"`
	MultiTarget         MultiTargetConfig         `mapstructure:"multi_target" yaml:"multi_target"`
}

type LoiteringConfig struct {
	Enabled                 bool    `mapstructure:"enabled" yaml:"enabled"`
	MinDuration             int     `mapstructure:"min_duration" yaml:"min_duration"` // seconds
	MinAreaRatio            float64 `mapstructure:"min_area_ratio" yaml:"min_area_ratio"`
	MinMovementRatio        float64 `mapstructure:"min_movement_ratio" yaml:"min_movement_ratio"`
	ApplyToUnregisteredOnly bool    `mapstructure:"apply_to_unregistered_only" yaml:"apply_to_unregistered_only"`
}

type DedupConfig struct {
	TimeWindow         int     `mapstructure:"time_window" yaml:"time_window"` // seconds
	IOUThreshold       float64 `mapstructure:"iou_threshold" yaml:"iou_threshold"`
	PositionTimeWindow int     `mapstructure:"position_time_window" yaml:"position_time_window"` // seconds
}

type AlertConfig struct {
	Loitering LoiteringConfig `mapstructure:"loitering" yaml:"loitering"`
	Dedup     DedupConfig     `mapstructure:"dedup" yaml:"dedup"`
}

type BestFrameSelectionConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	QualityThreshold float64 `mapstructure:"quality_threshold" yaml:"quality_threshold"`
	MaxWaitFrames    int     `mapstructure:"max_wait_frames" yaml:"max_wait_frames"`
	ReuseResult      bool    `mapstructure:"reuse_result" yaml:"reuse_result"`
}

type LPRConfig struct {
	BestFrameSelection BestFrameSelectionConfig `mapstructure:"best_frame_selection" yaml:"best_frame_selection"`
}

type CloudConfig struct {
	Enabled                  bool    `mapstructure:"enabled" yaml:"enabled"`
	APIBaseURL               string  `mapstructure:"api_base_url" yaml:"api_base_url"`
	APIKey                   string  `mapstructure:"api_key" yaml:"api_key"`
	RetryAttempts            int     `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay               float64 `mapstructure:"retry_delay" yaml:"retry_delay"` // seconds
	UploadInterval           float64 `mapstructure:"upload_interval" yaml:"upload_interval"`
	MaxImageSizeMB           int     `mapstructure:"max_image_size_mb" yaml:"max_image_size_mb"`
	EnableImageUpload        bool    `mapstructure:"enable_image_upload" yaml:"enable_image_upload"`
	EnableAlertUpload        bool    `mapstructure:"enable_alert_upload" yaml:"enable_alert_upload"`
	SaveSnapshots            bool    `mapstructure:"save_snapshots" yaml:"save_snapshots"`
	MonitoringSnapshotInterval float64 `mapstructure:"monitoring_snapshot_interval" yaml:"monitoring_snapshot_interval"`
	EnableMonitoringSnapshot bool    `mapstructure:"enable_monitoring_snapshot" yaml:"enable_monitoring_snapshot"`
}

type DatabaseRetentionConfig struct {
	MaxRecords          int `mapstructure:"max_records" yaml:"max_records"`
	RetentionDays       int `mapstructure:"retention_days" yaml:"retention_days"`
	CleanupIntervalHours int `mapstructure:"cleanup_interval_hours" yaml:"cleanup_interval_hours"`
}

type FileRetentionConfig struct {
	MaxCount             int `mapstructure:"max_count" yaml:"max_count"`
	MaxSizeMB            int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	RetentionDays        int `mapstructure:"retention_days" yaml:"retention_days"`
	CleanupIntervalHours int `mapstructure:"cleanup_interval_hours" yaml:"cleanup_interval_hours"`
}

type DataRetentionConfig struct {
	Database            DatabaseRetentionConfig `mapstructure:"database" yaml:"database"`
	Snapshots           FileRetentionConfig     `mapstructure:"snapshots" yaml:"snapshots"`
	MonitoringSnapshots FileRetentionConfig     `mapstructure:"monitoring_snapshots" yaml:"monitoring_snapshots"`
}

// Load reads configPath (if non-empty) or searches ./configs, ./config, .
// for gatewatch.yaml, applies defaults, then validates. A validation
// failure is wrapped as model.ErrBadConfig per spec.md §7.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gatewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("GATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, model.Wrap(model.ErrBadConfig, err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, model.Wrap(model.ErrBadConfig, err, "unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, model.Wrap(model.ErrBadConfig, err, "validate config")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detection.conf_threshold", 0.5)
	v.SetDefault("detection.iou_threshold", 0.45)
	v.SetDefault("detection.input_resolution", 640)

	v.SetDefault("tracking.track_thresh", 0.1)
	v.SetDefault("tracking.high_thresh", 0.6)
	v.SetDefault("tracking.match_thresh", 0.3)
	v.SetDefault("tracking.track_buffer", 30)
	v.SetDefault("tracking.min_track_confidence", 0.3)

	v.SetDefault("depth.min_range", 0.3)
	v.SetDefault("depth.max_range", 20.0)
	v.SetDefault("depth.method", "median")
	v.SetDefault("depth.invalid_min", 0.05)
	v.SetDefault("depth.invalid_max", 12.0)
	v.SetDefault("depth.smoothing.enabled", true)
	v.SetDefault("depth.smoothing.method", "ema")
	v.SetDefault("depth.smoothing.alpha", 0.3)
	v.SetDefault("depth.smoothing.window_size", 5)
	v.SetDefault("depth.smoothing.min_samples", 3)

	v.SetDefault("beacon_match.temporal_consistency.enabled", true)
	v.SetDefault("beacon_match.temporal_consistency.min_consistent_frames", 5)
	v.SetDefault("beacon_match.temporal_consistency.max_distance_error", 2.0)
	v.SetDefault("beacon_match.temporal_consistency.reset_on_track_end", false)
	v.SetDefault("beacon_match.multi_target.enabled", true)
	v.SetDefault("beacon_match.multi_target.match_cost_threshold", 3.0)
	v.SetDefault("beacon_match.multi_target.time_stability_weight", 1.0)
	v.SetDefault("beacon_match.multi_target.stability_window", 10)

	v.SetDefault("alert.loitering.enabled", true)
	v.SetDefault("alert.loitering.min_duration", 10)
	v.SetDefault("alert.loitering.min_area_ratio", 0.05)
	v.SetDefault("alert.loitering.min_movement_ratio", 0.1)
	v.SetDefault("alert.loitering.apply_to_unregistered_only", true)
	v.SetDefault("alert.dedup.time_window", 30)
	v.SetDefault("alert.dedup.iou_threshold", 0.7)
	v.SetDefault("alert.dedup.position_time_window", 5)

	v.SetDefault("lpr.best_frame_selection.enabled", true)
	v.SetDefault("lpr.best_frame_selection.quality_threshold", 0.6)
	v.SetDefault("lpr.best_frame_selection.max_wait_frames", 10)
	v.SetDefault("lpr.best_frame_selection.reuse_result", true)

	v.SetDefault("cloud.enabled", false)
	v.SetDefault("cloud.retry_attempts", 3)
	v.SetDefault("cloud.retry_delay", 2.0)
	v.SetDefault("cloud.upload_interval", 1.0)
	v.SetDefault("cloud.max_image_size_mb", 10)
	v.SetDefault("cloud.enable_image_upload", true)
	v.SetDefault("cloud.enable_alert_upload", true)
	v.SetDefault("cloud.save_snapshots", true)
	v.SetDefault("cloud.monitoring_snapshot_interval", 600.0)
	v.SetDefault("cloud.enable_monitoring_snapshot", false)

	v.SetDefault("data_retention.database.max_records", 100000)
	v.SetDefault("data_retention.database.retention_days", 30)
	v.SetDefault("data_retention.database.cleanup_interval_hours", 1)
	v.SetDefault("data_retention.snapshots.max_count", 1000)
	v.SetDefault("data_retention.snapshots.max_size_mb", 500)
	v.SetDefault("data_retention.snapshots.retention_days", 7)
	v.SetDefault("data_retention.snapshots.cleanup_interval_hours", 1)
	v.SetDefault("data_retention.monitoring_snapshots.max_count", 500)
	v.SetDefault("data_retention.monitoring_snapshots.max_size_mb", 500)
	v.SetDefault("data_retention.monitoring_snapshots.retention_days", 7)
	v.SetDefault("data_retention.monitoring_snapshots.cleanup_interval_hours", 1)
}

// Validate checks every field with an inherent range or enum constraint,
// collecting ALL failures into one error so a BadConfig operator sees every
// problem at once rather than fixing fields one at a time (spec.md §7).
func Validate(cfg *Config) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(cfg.Detection.ConfThreshold >= 0 && cfg.Detection.ConfThreshold <= 1,
		fmt.Sprintf("detection.conf_threshold must be in [0,1], got %v", cfg.Detection.ConfThreshold))
	check(cfg.Detection.IOUThreshold >= 0 && cfg.Detection.IOUThreshold <= 1,
		fmt.Sprintf("detection.iou_threshold must be in [0,1], got %v", cfg.Detection.IOUThreshold))
	check(cfg.Detection.InputResolution > 0,
		fmt.Sprintf("detection.input_resolution must be positive, got %v", cfg.Detection.InputResolution))

	check(cfg.Tracking.TrackThresh >= 0 && cfg.Tracking.TrackThresh <= 1,
		fmt.Sprintf("tracking.track_thresh must be in [0,1], got %v", cfg.Tracking.TrackThresh))
	check(cfg.Tracking.HighThresh >= cfg.Tracking.TrackThresh,
		fmt.Sprintf("tracking.high_thresh (%v) must be >= tracking.track_thresh (%v)", cfg.Tracking.HighThresh, cfg.Tracking.TrackThresh))
	check(cfg.Tracking.MatchThresh >= 0 && cfg.Tracking.MatchThresh <= 1,
		fmt.Sprintf("tracking.match_thresh must be in [0,1], got %v", cfg.Tracking.MatchThresh))
	check(cfg.Tracking.TrackBuffer > 0,
		fmt.Sprintf("tracking.track_buffer must be positive, got %v", cfg.Tracking.TrackBuffer))

	check(cfg.Depth.MinRange >= 0,
		fmt.Sprintf("depth.min_range must be non-negative, got %v", cfg.Depth.MinRange))
	check(cfg.Depth.MaxRange > cfg.Depth.MinRange,
		fmt.Sprintf("depth.max_range (%v) must exceed depth.min_range (%v)", cfg.Depth.MaxRange, cfg.Depth.MinRange))
	check(cfg.Depth.Method == "median" || cfg.Depth.Method == "mean" || cfg.Depth.Method == "min",
		fmt.Sprintf("depth.method must be one of median|mean|min, got %q", cfg.Depth.Method))
	check(cfg.Depth.InvalidMax > cfg.Depth.InvalidMin,
		fmt.Sprintf("depth.invalid_max (%v) must exceed depth.invalid_min (%v)", cfg.Depth.InvalidMax, cfg.Depth.InvalidMin))
	if cfg.Depth.Smoothing.Enabled {
		check(cfg.Depth.Smoothing.Method == "ema" || cfg.Depth.Smoothing.Method == "median",
			fmt.Sprintf("depth.smoothing.method must be one of ema|median, got %q", cfg.Depth.Smoothing.Method))
		check(cfg.Depth.Smoothing.Alpha >= 0 && cfg.Depth.Smoothing.Alpha <= 1,
			fmt.Sprintf("depth.smoothing.alpha must be in [0,1], got %v", cfg.Depth.Smoothing.Alpha))
	}

	check(cfg.BeaconMatch.TemporalConsistency.MinConsistentFrames > 0,
		fmt.Sprintf("beacon_match.temporal_consistency.min_consistent_frames must be positive, got %v", cfg.BeaconMatch.TemporalConsistency.MinConsistentFrames))
	check(cfg.BeaconMatch.MultiTarget.MatchCostThreshold > 0,
		fmt.Sprintf("beacon_match.multi_target.match_cost_threshold must be positive, got %v", cfg.BeaconMatch.MultiTarget.MatchCostThreshold))

	check(cfg.Alert.Loitering.MinAreaRatio >= 0 && cfg.Alert.Loitering.MinAreaRatio <= 1,
		fmt.Sprintf("alert.loitering.min_area_ratio must be in [0,1], got %v", cfg.Alert.Loitering.MinAreaRatio))
	check(cfg.Alert.Dedup.IOUThreshold >= 0 && cfg.Alert.Dedup.IOUThreshold <= 1,
		fmt.Sprintf("alert.dedup.iou_threshold must be in [0,1], got %v", cfg.Alert.Dedup.IOUThreshold))

	check(cfg.LPR.BestFrameSelection.QualityThreshold >= 0 && cfg.LPR.BestFrameSelection.QualityThreshold <= 1,
		fmt.Sprintf("lpr.best_frame_selection.quality_threshold must be in [0,1], got %v", cfg.LPR.BestFrameSelection.QualityThreshold))
	check(cfg.LPR.BestFrameSelection.MaxWaitFrames > 0,
		fmt.Sprintf("lpr.best_frame_selection.max_wait_frames must be positive, got %v", cfg.LPR.BestFrameSelection.MaxWaitFrames))

	if cfg.Cloud.Enabled {
		check(cfg.Cloud.APIBaseURL != "",
			"cloud.api_base_url is required when cloud.enabled is true")
		check(cfg.Cloud.RetryAttempts >= 0,
			fmt.Sprintf("cloud.retry_attempts must be non-negative, got %v", cfg.Cloud.RetryAttempts))
		check(cfg.Cloud.MaxImageSizeMB > 0,
			fmt.Sprintf("cloud.max_image_size_mb must be positive, got %v", cfg.Cloud.MaxImageSizeMB))
	}

	check(cfg.DataRetention.Database.MaxRecords > 0,
		fmt.Sprintf("data_retention.database.max_records must be positive, got %v", cfg.DataRetention.Database.MaxRecords))
	check(cfg.DataRetention.Snapshots.MaxSizeMB > 0,
		fmt.Sprintf("data_retention.snapshots.max_size_mb must be positive, got %v", cfg.DataRetention.Snapshots.MaxSizeMB))
	check(cfg.DataRetention.MonitoringSnapshots.MaxSizeMB > 0,
		fmt.Sprintf("data_retention.monitoring_snapshots.max_size_mb must be positive, got %v", cfg.DataRetention.MonitoringSnapshots.MaxSizeMB))

	if len(problems) > 0 {
		return fmt.Errorf("%d config problem(s): %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}
