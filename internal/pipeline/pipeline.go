// Package pipeline wires FrameSource and Detector (the two external
// collaborators spec.md §6 leaves out of scope) through the Tracker, the
// Fusion orchestrator, the AlertGate, and the Uploader, as one cancelable
// loop owned by a single goroutine (spec.md §5's "Pipeline thread").
//
// Grounded on the teacher's object_tracker.run: a select-on-ctx.Done loop
// that pulls a frame, runs detection, advances state, and paces itself
// against a target frequency with a cancelable sleep for the remainder.
package pipeline

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/alertgate"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/fusion"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/retention"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/tracker"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/upload"
)

// FrameSource is the Capture-thread collaborator (spec.md §6): a camera
// device or a recorded-file reader, out of the core's scope.
type FrameSource interface {
	Next(ctx context.Context) (*model.Frame, error)
	Healthy() bool
}

// Detector is the inference collaborator (spec.md §6): any detector the
// embedding application wires in.
type Detector interface {
	Detect(ctx context.Context, frame *model.Frame) ([]model.Detection, error)
}

// WhitelistSource supplies the locally cached beacon whitelist, refreshed
// out of band by a separate goroutine (spec.md §5's Whitelist refresher).
type WhitelistSource interface {
	Snapshot() []model.WhitelistEntry
}

// Config controls pacing and which optional stages run.
type Config struct {
	TargetFPS     float64 // 0 disables pacing: runs as fast as Next() permits
	SaveSnapshots bool    // mirrors cloud.save_snapshots: write admitted-alert JPEGs to disk
}

func DefaultConfig() Config {
	return Config{TargetFPS: 10, SaveSnapshots: true}
}

// Pipeline is the single-goroutine orchestrator described in spec.md §5:
// it owns every per-track table (via Fusion and the Tracker), hands alert
// candidates to the AlertGate, and enqueues admitted events onto the
// Uploader's bounded queue without ever blocking on network I/O itself.
type Pipeline struct {
	cfg     Config
	source  FrameSource
	detector Detector
	tracker *tracker.Tracker
	fusion  *fusion.Fusion
	gate    *alertgate.Gate
	uploader *upload.Uploader
	store   *retention.DetectionStore
	whitelist WhitelistSource
	logger  logging.Logger

	currentFrame atomic.Pointer[frameHolder]
	stats        *StatsRing
}

type frameHolder struct {
	img image.Image
}

func New(
	cfg Config,
	source FrameSource,
	detector Detector,
	tr *tracker.Tracker,
	fu *fusion.Fusion,
	gate *alertgate.Gate,
	uploader *upload.Uploader,
	store *retention.DetectionStore,
	whitelist WhitelistSource,
	logger logging.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		source:    source,
		detector:  detector,
		tracker:   tr,
		fusion:    fu,
		gate:      gate,
		uploader:  uploader,
		store:     store,
		whitelist: whitelist,
		logger:    logger,
		stats:     NewStatsRing(120),
	}
}

// Start launches the Pipeline loop under viamutils.ManagedGo, following the
// teacher's goroutine-lifecycle idiom.
func (p *Pipeline) Start(ctx context.Context) {
	viamutils.ManagedGo(func() { p.Run(ctx) }, func() {})
}

// Run is the cancelable frame loop. Every suspension point (Next, Detect)
// is caught and turned into "missing input for this frame" per spec.md §7;
// only ctx cancellation stops the loop.
func (p *Pipeline) Run(ctx context.Context) {
	var frameID int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		frame, err := p.source.Next(ctx)
		if err != nil {
			p.logger.Warnw("frame source error, skipping frame", "err", err)
			p.pace(ctx, start)
			continue
		}
		if frame == nil {
			p.pace(ctx, start)
			continue
		}
		frameID++
		frame.ID = frameID
		p.currentFrame.Store(&frameHolder{img: frame.Color})

		dets, err := p.detector.Detect(ctx, frame)
		if err != nil {
			p.logger.Warnw("inference failure, track advances unchanged", "err", err, "frame_id", frameID)
			dets = nil
		}

		tracks := p.tracker.Update(dets, frameID)

		var whitelist []model.WhitelistEntry
		if p.whitelist != nil {
			whitelist = p.whitelist.Snapshot()
		}

		candidates := p.fusion.ProcessFrame(ctx, frame, tracks, whitelist)
		now := time.Now()
		for _, c := range candidates {
			p.admit(ctx, c, frame.Color, now)
		}

		p.stats.Record(time.Since(start))
		p.pace(ctx, start)
	}
}

// admit runs one AlertCandidate through the AlertGate, writes its snapshot,
// persists it, and enqueues it for upload (spec.md §4.7/§4.10 ordering:
// gate, then snapshot, then store, then upload queue).
func (p *Pipeline) admit(ctx context.Context, c model.AlertCandidate, frame image.Image, now time.Time) {
	event, ok := p.gate.Evaluate(c, now)
	if !ok {
		return
	}

	if p.cfg.SaveSnapshots {
		if path, err := p.gate.WriteSnapshot(frame, c.TrackID, now); err != nil {
			p.logger.Warnw("failed to write alert snapshot", "err", err, "track_id", c.TrackID)
		} else {
			event.SnapshotPath = path
		}
	}

	if p.store != nil {
		id, err := p.store.Insert(ctx, event)
		if err != nil {
			p.logger.Warnw("failed to persist alert event", "err", err, "track_id", c.TrackID)
		} else {
			event.ID = id
		}
	}

	if p.uploader != nil {
		if !p.uploader.Enqueue(event) {
			p.logger.Warnw("upload queue full, dropping alert event", "track_id", c.TrackID)
		}
	}
}

// pace sleeps the remainder of the target frame period, cancelable on ctx
// (mirrors the teacher's frequency-based wait in object_tracker.run).
func (p *Pipeline) pace(ctx context.Context, start time.Time) {
	if p.cfg.TargetFPS <= 0 {
		return
	}
	took := time.Since(start)
	waitFor := time.Duration(float64(time.Second)/p.cfg.TargetFPS) - took
	if waitFor <= time.Microsecond {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(waitFor):
	}
}

// CurrentFrame implements upload.FrameProvider for the monitoring-snapshot
// worker (spec.md §4.8).
func (p *Pipeline) CurrentFrame() (image.Image, bool) {
	h := p.currentFrame.Load()
	if h == nil || h.img == nil {
		return nil, false
	}
	return h.img, true
}

// Stats implements upload.StatsProvider for the heartbeat worker.
func (p *Pipeline) Stats() map[string]any {
	return p.stats.Snapshot()
}
