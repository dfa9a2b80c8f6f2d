package upload

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// FrameProvider supplies the current frame for the monitoring-snapshot
// worker (spec.md §4.8: "asks the registered frame provider for the
// current frame").
type FrameProvider interface {
	CurrentFrame() (image.Image, bool)
}

// MonitoringSnapshot periodically captures and uploads a frame tagged
// image_type=monitoring_snapshot (spec.md §4.8, default 600s).
type MonitoringSnapshot struct {
	client   *Client
	frames   FrameProvider
	interval time.Duration
	deviceID string
	tmpDir   string
	quality  int
	logger   logging.Logger
}

func NewMonitoringSnapshot(client *Client, frames FrameProvider, interval time.Duration, deviceID, tmpDir string, quality int, logger logging.Logger) *MonitoringSnapshot {
	if interval <= 0 {
		interval = 600 * time.Second
	}
	if quality <= 0 {
		quality = 95
	}
	return &MonitoringSnapshot{client: client, frames: frames, interval: interval, deviceID: deviceID, tmpDir: tmpDir, quality: quality, logger: logger}
}

func (m *MonitoringSnapshot) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.captureAndUpload(ctx)
		}
	}
}

func (m *MonitoringSnapshot) Start(ctx context.Context) {
	viamutils.ManagedGo(func() { m.Run(ctx) }, func() {})
}

func (m *MonitoringSnapshot) captureAndUpload(ctx context.Context) {
	if m.frames == nil {
		return
	}
	frame, ok := m.frames.CurrentFrame()
	if !ok || frame == nil {
		return
	}
	data, err := EncodeSnapshotJPEG(frame, m.quality)
	if err != nil {
		m.logger.Warnw("monitoring snapshot encode failed", "err", err)
		return
	}
	name := fmt.Sprintf("monitoring_snapshot_%s_%s.jpg", m.deviceID, time.Now().UTC().Format("20060102_150405"))
	if m.tmpDir != "" {
		path := m.tmpDir + string(os.PathSeparator) + name
		if err := os.WriteFile(path, data, 0o644); err != nil {
			m.logger.Warnw("monitoring snapshot write failed", "err", err)
		}
	}
	if _, err := m.client.PostImage(ctx, data, name, 0, "monitoring_snapshot", m.deviceID); err != nil {
		m.logger.Warnw("monitoring snapshot upload failed", "err", err)
	}
}
