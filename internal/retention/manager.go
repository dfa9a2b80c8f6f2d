package retention

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// DatabasePolicy mirrors spec.md §6's data_retention.database block.
type DatabasePolicy struct {
	MaxRecords      int
	RetentionDays   int
	CheckInterval   time.Duration
}

// FilePolicy mirrors spec.md §6's data_retention.snapshots /
// monitoring_snapshots blocks.
type FilePolicy struct {
	MaxCount      int
	MaxSizeMB     int
	RetentionDays int
	CheckInterval time.Duration
}

// Config bundles all three retention policies.
type Config struct {
	Database           DatabasePolicy
	Snapshots          FilePolicy
	MonitoringSnapshots FilePolicy
	SnapshotDir         string
}

func DefaultConfig(snapshotDir string) Config {
	return Config{
		Database:            DatabasePolicy{MaxRecords: 100000, RetentionDays: 30, CheckInterval: time.Hour},
		Snapshots:           FilePolicy{MaxCount: 1000, MaxSizeMB: 500, RetentionDays: 7, CheckInterval: time.Hour},
		MonitoringSnapshots: FilePolicy{MaxCount: 500, MaxSizeMB: 500, RetentionDays: 7, CheckInterval: time.Hour},
		SnapshotDir:         snapshotDir,
	}
}

// Manager is the background RetentionManager of spec.md §4.9.
type Manager struct {
	cfg    Config
	store  *DetectionStore
	logger logging.Logger
}

func NewManager(cfg Config, store *DetectionStore, logger logging.Logger) *Manager {
	return &Manager{cfg: cfg, store: store, logger: logger}
}

// Run ticks every minute and executes whichever policy's own interval has
// elapsed; each policy tracks its own "last run" independently so database
// and file cleanup cadences can differ (spec.md §6: separate
// cleanup_interval_hours per artifact).
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastDB, lastSnap, lastMonitor time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastDB) >= m.cfg.Database.CheckInterval {
				m.runDatabaseCycle(ctx)
				lastDB = now
			}
			if now.Sub(lastSnap) >= m.cfg.Snapshots.CheckInterval {
				m.runFileCycle(ctx, m.cfg.Snapshots, "snapshot_", "monitoring_snapshot_")
				lastSnap = now
			}
			if now.Sub(lastMonitor) >= m.cfg.MonitoringSnapshots.CheckInterval {
				m.runFileCycle(ctx, m.cfg.MonitoringSnapshots, "monitoring_snapshot_", "")
				lastMonitor = now
			}
		}
	}
}

func (m *Manager) Start(ctx context.Context) {
	viamutils.ManagedGo(func() { m.Run(ctx) }, func() {})
}

// runDatabaseCycle implements spec.md §4.9's detection-database policy:
// age, then count, then compact if anything was deleted.
func (m *Manager) runDatabaseCycle(ctx context.Context) {
	if m.store == nil {
		return
	}
	cutoff := time.Now().Add(-time.Duration(m.cfg.Database.RetentionDays) * 24 * time.Hour)
	deletedAge, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.Warnw("retention: delete by age failed", "err", err)
		return
	}
	deletedCount, err := m.store.DeleteOldestExcess(ctx, m.cfg.Database.MaxRecords)
	if err != nil {
		m.logger.Warnw("retention: delete oldest excess failed", "err", err)
		return
	}
	if deletedAge+deletedCount > 0 {
		if err := m.store.Vacuum(ctx); err != nil {
			m.logger.Warnw("retention: vacuum failed", "err", err)
		}
	}
}

// runFileCycle implements spec.md §4.9's three-step file policy (age,
// count, size-with-hysteresis) over files in cfg.SnapshotDir matching
// prefix but not excludePrefix (used to keep event and monitoring
// snapshots from interfering with each other, spec.md §8 scenario 6).
func (m *Manager) runFileCycle(_ context.Context, policy FilePolicy, prefix, excludePrefix string) {
	entries, err := os.ReadDir(m.cfg.SnapshotDir)
	if err != nil {
		m.logger.Warnw("retention: read snapshot dir failed", "err", err)
		return
	}

	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if excludePrefix != "" && strings.HasPrefix(name, excludePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(m.cfg.SnapshotDir, name), size: info.Size(), modTime: info.ModTime()})
	}

	cutoff := time.Now().Add(-time.Duration(policy.RetentionDays) * 24 * time.Hour)
	kept := files[:0]
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			if err := os.Remove(f.path); err != nil {
				m.logger.Warnw("retention: remove aged file failed", "path", f.path, "err", err)
			}
			continue
		}
		kept = append(kept, f)
	}
	files = kept

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	if policy.MaxCount > 0 && len(files) > policy.MaxCount {
		excess := len(files) - policy.MaxCount
		for _, f := range files[:excess] {
			if err := os.Remove(f.path); err != nil {
				m.logger.Warnw("retention: remove excess-count file failed", "path", f.path, "err", err)
			}
		}
		files = files[excess:]
	}

	maxBytes := int64(policy.MaxSizeMB) * 1024 * 1024
	hysteresisBytes := maxBytes + maxBytes/10 // 10% hysteresis (spec.md §4.9)
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= hysteresisBytes {
		return
	}
	idx := 0
	for total > maxBytes && idx < len(files) {
		f := files[idx]
		if err := os.Remove(f.path); err != nil {
			m.logger.Warnw("retention: remove oversize file failed", "path", f.path, "err", err)
		} else {
			total -= f.size
		}
		idx++
	}
}
