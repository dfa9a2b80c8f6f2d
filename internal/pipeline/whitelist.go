package pipeline

import (
	"context"
	"sync"
	"time"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/upload"
)

// WhitelistRefresher is the periodic-HTTP thread of spec.md §5: it polls
// GET /api/beacons on an interval (default 300s per spec.md §6) and caches
// the last good snapshot. A fetch that fails entirely (network error)
// leaves the previous snapshot in place, per spec.md §7's
// TransientNetwork handling; entries within a successful fetch that fail
// to parse are already skipped individually by client.GetWhitelist.
type WhitelistRefresher struct {
	client   *upload.Client
	interval time.Duration
	logger   logging.Logger
	enabled  bool

	mu      sync.RWMutex
	entries []model.WhitelistEntry
}

// NewWhitelistRefresher builds a WhitelistRefresher. enabled mirrors
// cloud.enabled: when false, Start/Run never poll the cloud API and
// Snapshot always reports an empty whitelist, matching a deployment with no
// cloud connectivity configured at all.
func NewWhitelistRefresher(client *upload.Client, interval time.Duration, logger logging.Logger, enabled bool) *WhitelistRefresher {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &WhitelistRefresher{client: client, interval: interval, logger: logger, enabled: enabled}
}

func (w *WhitelistRefresher) Start(ctx context.Context) {
	if !w.enabled {
		return
	}
	w.refresh(ctx)
	viamutils.ManagedGo(func() { w.Run(ctx) }, func() {})
}

func (w *WhitelistRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *WhitelistRefresher) refresh(ctx context.Context) {
	entries, err := w.client.GetWhitelist(ctx)
	if err != nil {
		w.logger.Warnw("whitelist refresh failed, keeping previous snapshot", "err", err)
		return
	}
	w.mu.Lock()
	w.entries = entries
	w.mu.Unlock()
}

// Snapshot implements pipeline.WhitelistSource.
func (w *WhitelistRefresher) Snapshot() []model.WhitelistEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.WhitelistEntry, len(w.entries))
	copy(out, w.entries)
	return out
}
