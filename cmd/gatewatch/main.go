// Command gatewatch is the CLI entrypoint for the construction-site gate
// security pipeline. It accepts one positional source argument — the
// literal token "camera" or a path to a directory of recorded frames —
// reads a YAML config file, wires every subsystem together, and runs until
// an interrupt or terminate signal arrives.
//
// Grounded on go-coffee's cmd/task-cli/commands/root.go for the
// cobra+viper CLI skeleton (the teacher itself has no CLI of its own: it
// is served as a Viam robot module via module.NewModuleFromArgs).
package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	robotclient "go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/services/vision"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/alertgate"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/beacon"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/bestframe"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/config"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/depth"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/fusion"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/loiter"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/pipeline"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/retention"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/tracker"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/upload"
)

var opts runOptions

type runOptions struct {
	configFile           string
	deviceID             string
	snapshotDir          string
	monitoringTmpDir     string
	dbPath               string
	roiWorkers           int
	loopFile             bool
	heartbeatIntervalSec float64
	whitelistIntervalSec float64

	robotAddress       string
	cameraName         string
	visionServiceName  string
}

var rootCmd = &cobra.Command{
	Use:   "gatewatch <camera|frame-dir>",
	Short: "Construction-site gate vehicle identification pipeline",
	Long: `gatewatch runs the fusion and alert-emission pipeline that turns camera
frames into construction-vehicle and visitor-vehicle alerts: detection,
tracking, beacon/depth fusion, best-frame plate selection, alert gating
and dedup, and asynchronous cloud upload.

The source argument is either the literal token "camera" (read frames and
detections from a running Viam robot) or a path to a directory of recorded
still images (detections still come from the robot's vision service).`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "path to gatewatch.yaml (default: search ./configs, ./config, .)")
	flags.StringVar(&opts.deviceID, "device-id", defaultDeviceID(), "device identifier sent with every cloud request")
	flags.StringVar(&opts.snapshotDir, "snapshot-dir", "snapshots", "directory for admitted-alert JPEG snapshots")
	flags.StringVar(&opts.monitoringTmpDir, "monitoring-tmp-dir", "", "directory to also persist monitoring snapshots locally (empty disables)")
	flags.StringVar(&opts.dbPath, "db-path", "gatewatch.db", "sqlite detection database path")
	flags.IntVar(&opts.roiWorkers, "roi-workers", 4, "plate-recognition worker pool size")
	flags.BoolVar(&opts.loopFile, "loop", false, "replay a frame-directory source from the start once exhausted")
	flags.Float64Var(&opts.heartbeatIntervalSec, "heartbeat-interval", 300, "seconds between heartbeat POSTs")
	flags.Float64Var(&opts.whitelistIntervalSec, "whitelist-refresh-interval", 300, "seconds between whitelist GET polls")

	flags.StringVar(&opts.robotAddress, "robot-address", "", "Viam robot address serving the camera and vision service (required for the \"camera\" source and for detection in any mode)")
	flags.StringVar(&opts.cameraName, "camera-name", "gate-camera", "camera component name on the robot")
	flags.StringVar(&opts.visionServiceName, "vision-service-name", "vehicle-detector", "vision service name on the robot")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultDeviceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "gatewatch-device"
}

func run(cmd *cobra.Command, args []string) error {
	source := args[0]
	logger := logging.NewLogger("gatewatch")

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		logger.Errorw("configuration rejected", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, source, logger)
	if err != nil {
		logger.Errorw("startup failed", "err", err)
		return err
	}
	defer app.Close()

	app.Start(ctx)
	logger.Infow("gatewatch running", "source", source, "device_id", opts.deviceID)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")
	return nil
}

// application bundles every long-lived collaborator so main can start and
// close them uniformly.
type application struct {
	pipeline   *pipeline.Pipeline
	uploader   *upload.Uploader
	heartbeat  *upload.Heartbeat
	monitoring *upload.MonitoringSnapshot
	whitelist  *pipeline.WhitelistRefresher
	retention  *retention.Manager
	roiPool    *bestframe.Pool
	store      *retention.DetectionStore
	robot      robotCloser
}

type robotCloser interface {
	Close(ctx context.Context) error
}

func (a *application) Start(ctx context.Context) {
	a.uploader.Start(ctx)
	a.heartbeat.Start(ctx)
	if a.monitoring != nil {
		a.monitoring.Start(ctx)
	}
	a.whitelist.Start(ctx)
	a.retention.Start(ctx)
	a.pipeline.Start(ctx)
}

func (a *application) Close() {
	if a.roiPool != nil {
		a.roiPool.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.robot != nil {
		_ = a.robot.Close(context.Background())
	}
}

// wire constructs every subsystem from cfg and opts, following
// internal/config/wire.go's per-subsystem translation so each constructor
// still takes its own narrow Config type.
func wire(ctx context.Context, cfg *config.Config, source string, logger logging.Logger) (*application, error) {
	store, err := retention.Open(opts.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open detection store: %w", err)
	}

	frameSource, detector, robot, err := newCollaborators(ctx, source, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	tr := tracker.New(cfg.TrackerConfig(), logger)

	depthReader := depth.NewReader(cfg.DepthReaderConfig())
	smoother := depth.NewSmoother(cfg.DepthSmootherConfig())

	matcher := beacon.NewMatchTracker(cfg.MatchTrackerConfig())

	selector := bestframe.NewSelector(bestframe.DefaultQualityConfig(), cfg.BestFrameTriggerConfig())
	roiPool := bestframe.NewPool(ctx, opts.roiWorkers, noopPlateRecogniser{}, logger)

	loiterer := loiter.New(cfg.LoiterConfig())

	fu := fusion.New(
		cfg.FusionConfig(),
		depthReader,
		smoother,
		beacon.NullScanner{},
		cfg.BeaconRSSIConfig(),
		matcher,
		selector,
		roiPool,
		loiterer,
		logger,
	)

	gate := alertgate.New(cfg.AlertGateConfig(opts.snapshotDir))

	uploadCfg := cfg.UploadConfig()
	client := upload.NewClient(uploadCfg)
	uploader := upload.NewUploader(uploadCfg, client, store, logger, opts.deviceID)

	whitelistRefresher := pipeline.NewWhitelistRefresher(client, secondsToDuration(opts.whitelistIntervalSec), logger, uploadCfg.Enabled)

	pCfg := pipeline.DefaultConfig()
	pCfg.SaveSnapshots = uploadCfg.SaveSnapshots
	p := pipeline.New(
		pCfg,
		frameSource,
		detector,
		tr,
		fu,
		gate,
		uploader,
		store,
		whitelistRefresher,
		logger,
	)

	heartbeat := upload.NewHeartbeat(client, secondsToDuration(opts.heartbeatIntervalSec), opts.deviceID, p, logger, uploadCfg.Enabled)

	var monitoring *upload.MonitoringSnapshot
	if uploadCfg.EnableMonitoringSnapshot {
		monitoring = upload.NewMonitoringSnapshot(client, p, uploadCfg.MonitoringSnapshotInterval, opts.deviceID, opts.monitoringTmpDir, 95, logger)
	}

	retentionMgr := retention.NewManager(cfg.RetentionConfig(opts.snapshotDir), store, logger)

	return &application{
		pipeline:   p,
		uploader:   uploader,
		heartbeat:  heartbeat,
		monitoring: monitoring,
		whitelist:  whitelistRefresher,
		retention:  retentionMgr,
		roiPool:    roiPool,
		store:      store,
		robot:      robot,
	}, nil
}

// newCollaborators builds the FrameSource/Detector pair for source. The
// vision service always comes from a connected Viam robot (inference is
// explicitly out of this core's scope, spec.md §1); the frame source is
// either that same robot's camera ("camera") or a recorded frame directory
// (any other value).
func newCollaborators(ctx context.Context, source string, logger logging.Logger) (pipeline.FrameSource, pipeline.Detector, robotCloser, error) {
	if opts.robotAddress == "" {
		return nil, nil, nil, fmt.Errorf("--robot-address is required: the vision service providing detections always comes from a connected robot")
	}

	robot, err := robotclient.New(ctx, opts.robotAddress, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to robot %q: %w", opts.robotAddress, err)
	}

	visionSvc, err := vision.FromRobot(robot, opts.visionServiceName)
	if err != nil {
		robot.Close(ctx)
		return nil, nil, nil, fmt.Errorf("vision service %q: %w", opts.visionServiceName, err)
	}
	detector := pipeline.NewVisionDetector(visionSvc, nil)

	if source == "camera" {
		cam, err := camera.FromRobot(robot, opts.cameraName)
		if err != nil {
			robot.Close(ctx)
			return nil, nil, nil, fmt.Errorf("camera %q: %w", opts.cameraName, err)
		}
		return pipeline.NewCameraFrameSource(cam), detector, robot, nil
	}

	fileSource, err := pipeline.NewFileFrameSource(source, opts.loopFile)
	if err != nil {
		robot.Close(ctx)
		return nil, nil, nil, err
	}
	return fileSource, detector, robot, nil
}

// noopPlateRecogniser is the stand-in PlateRecogniser (spec.md §1's
// "licence plate OCR engine" is explicitly out of scope): it reports no
// plate for every ROI, so the fusion pipeline runs end to end with the
// beacon identification path carrying registration decisions.
type noopPlateRecogniser struct{}

func (noopPlateRecogniser) Recognise(ctx context.Context, roi image.Image) (string, float64, bool) {
	return "", 0, false
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
