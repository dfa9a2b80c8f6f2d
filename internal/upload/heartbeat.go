package upload

import (
	"context"
	"time"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// StatsProvider supplies the caller-defined "stats" payload of spec.md
// §4.8's heartbeat (internal/pipeline's frame-latency ring, §4.11).
type StatsProvider interface {
	Stats() map[string]any
}

// Heartbeat periodically POSTs system metrics and pipeline stats to
// POST /api/heartbeat (spec.md §4.8, default interval 300s).
type Heartbeat struct {
	client   *Client
	interval time.Duration
	deviceID string
	stats    StatsProvider
	logger   logging.Logger
	enabled  bool
}

// NewHeartbeat builds a Heartbeat. enabled mirrors cloud.enabled: when
// false, Run returns immediately and no heartbeat is ever POSTed.
func NewHeartbeat(client *Client, interval time.Duration, deviceID string, stats StatsProvider, logger logging.Logger, enabled bool) *Heartbeat {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Heartbeat{client: client, interval: interval, deviceID: deviceID, stats: stats, logger: logger, enabled: enabled}
}

func (h *Heartbeat) Run(ctx context.Context) {
	if !h.enabled {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stats map[string]any
			if h.stats != nil {
				stats = h.stats.Stats()
			}
			if err := h.client.PostHeartbeat(ctx, h.deviceID, SystemStatus(ctx), stats); err != nil {
				h.logger.Warnw("heartbeat failed", "err", err)
			}
		}
	}
}

func (h *Heartbeat) Start(ctx context.Context) {
	viamutils.ManagedGo(func() { h.Run(ctx) }, func() {})
}
