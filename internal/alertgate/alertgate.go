// Package alertgate implements the temporal-consistency admission window
// and dedup layer of spec.md §4.7, turning an AlertCandidate stream into
// durable AlertEvents and writing their snapshots.
package alertgate

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Config mirrors spec.md §6's alert.dedup block plus the temporal
// consistency window shared with the beacon matcher's contract.
type Config struct {
	ConsistentFrames   int // default 5
	TimeWindow         time.Duration
	IOUThreshold       float64
	PositionTimeWindow time.Duration
	SnapshotDir        string
	JPEGQuality        int
}

func DefaultConfig() Config {
	return Config{
		ConsistentFrames:   5,
		TimeWindow:         30 * time.Second,
		IOUThreshold:        0.7,
		PositionTimeWindow: 5 * time.Second,
		SnapshotDir:        "snapshots",
		JPEGQuality:        95,
	}
}

type consistencyState struct {
	status model.AlertStatus
	count  int
}

type dedupEntry struct {
	at  time.Time
	box [4]float64
}

// Gate admits AlertCandidates into durable AlertEvents after a per-track
// temporal-consistency window, then deduplicates by the spec.md §GLOSSARY
// "dedup key": plate or mac if present, else track id, combined with a
// coarse bbox bucket.
type Gate struct {
	cfg         Config
	consistency map[int64]*consistencyState
	dedup       map[string]dedupEntry
	nextEventID int64
}

func New(cfg Config) *Gate {
	return &Gate{
		cfg:         cfg,
		consistency: make(map[int64]*consistencyState),
		dedup:       make(map[string]dedupEntry),
	}
}

// Evaluate runs one AlertCandidate through the temporal-consistency window
// and dedup, returning the admitted AlertEvent (without a written snapshot
// yet) and whether it was admitted.
func (g *Gate) Evaluate(c model.AlertCandidate, now time.Time) (model.AlertEvent, bool) {
	st, ok := g.consistency[c.TrackID]
	if !ok || st.status != c.Status {
		st = &consistencyState{status: c.Status, count: 1}
		g.consistency[c.TrackID] = st
	} else {
		st.count++
	}
	if st.count < g.cfg.ConsistentFrames {
		return model.AlertEvent{}, false
	}

	bucket := bboxBucket(c.Box)
	key := fmt.Sprintf("%s|cell:%d,%d", dedupKey(c), bucket[0], bucket[1])
	if prev, exists := g.dedup[key]; exists {
		if now.Sub(prev.at) < g.cfg.TimeWindow {
			return model.AlertEvent{}, false
		}
		if now.Sub(prev.at) < g.cfg.PositionTimeWindow && iou(prev.box, c.Box) > g.cfg.IOUThreshold {
			return model.AlertEvent{}, false
		}
	}
	g.dedup[key] = dedupEntry{at: now, box: c.Box}

	g.nextEventID++
	box := c.Box
	event := model.AlertEvent{
		ID:              g.nextEventID,
		Timestamp:       now.UTC(),
		VehicleType:     c.Group.VehicleType(),
		DetectedClass:   c.ClassName,
		Status:          c.Status,
		Registered:      c.Registered,
		Box:             &box,
		TrackID:         c.TrackID,
		BeaconMac:       c.BeaconMac,
		Plate:           c.Plate,
		Distance:        c.Distance,
		Confidence:      c.Confidence,
		EnvironmentCode: c.EnvironmentCode,
		Owner:           c.Owner,
		Metadata:        c.Metadata,
	}
	return event, true
}

// dedupKey follows the GLOSSARY definition: plate, else mac, else track id.
func dedupKey(c model.AlertCandidate) string {
	if c.Plate != "" {
		return "plate:" + c.Plate
	}
	if c.BeaconMac != "" {
		return "mac:" + c.BeaconMac
	}
	return fmt.Sprintf("track:%d", c.TrackID)
}

// bboxBucket coarsens a box to a grid cell; two boxes in the same bucket
// are treated as "the same position" for dedup purposes ahead of the
// finer IoU check.
func bboxBucket(box [4]float64) [2]int {
	const cell = 64.0
	cx := (box[0] + box[2]) / 2
	cy := (box[1] + box[3]) / 2
	return [2]int{int(cx / cell), int(cy / cell)}
}

func iou(a, b [4]float64) float64 {
	ra := image.Rect(int(a[0]), int(a[1]), int(a[2]), int(a[3]))
	rb := image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
	return model.IOU(ra, rb)
}

// WriteSnapshot encodes img as JPEG at cfg.JPEGQuality to a timestamped path
// under cfg.SnapshotDir (spec.md §6 naming convention) and returns the path.
func (g *Gate) WriteSnapshot(img image.Image, trackID int64, at time.Time) (string, error) {
	if img == nil {
		return "", nil
	}
	if err := os.MkdirAll(g.cfg.SnapshotDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create snapshot dir")
	}
	// uuid suffix avoids collisions when two tracks admit within the same
	// second (dedup key differs, timestamp truncation doesn't).
	name := fmt.Sprintf("snapshot_%s_%d_%s.jpg", at.UTC().Format("20060102_150405"), trackID, uuid.NewString()[:8])
	path := filepath.Join(g.cfg.SnapshotDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create snapshot file")
	}
	defer f.Close()
	if err := encodeJPEG(f, img, g.cfg.JPEGQuality); err != nil {
		return "", errors.Wrap(err, "encode snapshot")
	}
	return path, nil
}

func encodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// Cleanup drops consistency state for tracks no longer active. Dedup state
// intentionally outlives track removal: the same plate or mac can
// reappear on a fresh track id and should still be deduplicated against
// its recent history.
func (g *Gate) Cleanup(activeIDs map[int64]bool) {
	for id := range g.consistency {
		if !activeIDs[id] {
			delete(g.consistency, id)
		}
	}
}
