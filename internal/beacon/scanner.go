// Package beacon implements the Bluetooth beacon side-channel: the
// BeaconScanner snapshot interface, RSSI-to-distance conversion, and the
// BeaconMatchTracker temporal-consistency lock-in (spec.md §4.3).
package beacon

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Scanner is the external collaborator's contract (spec.md §6): a snapshot
// of readings observed within maxAge. The SSE transport that feeds it is
// out of scope; Scanner only has to answer this one query against whatever
// it has cached.
type Scanner interface {
	Snapshot(ctx context.Context, maxAge time.Duration) ([]model.BeaconReading, error)
	IsAvailable() bool
}

// RSSIConfig holds the distance-estimation constants from spec.md §4.3.
type RSSIConfig struct {
	TxPower         float64 // dBm at 1m, default -59
	PathLossExponent float64 // default 2.5
}

func DefaultRSSIConfig() RSSIConfig {
	return RSSIConfig{TxPower: -59, PathLossExponent: 2.5}
}

// DistanceFromRSSI implements d = 10^((tx_power - rssi) / (10 * n)).
func (c RSSIConfig) DistanceFromRSSI(rssi float64) float64 {
	return math.Pow(10, (c.TxPower-rssi)/(10*c.PathLossExponent))
}

// ChannelScanner is a reference Scanner backed by a channel of readings fed
// by an SSE client elsewhere in the process. It owns its own cache and
// hands out copies, per spec.md §9's redesign of the "shared mutable
// dictionary keyed by track_id across threads" anti-pattern: here the
// shared structure is keyed by mac, not track id, and only ever mutated by
// the single goroutine draining the feed channel.
type ChannelScanner struct {
	rssiCfg RSSIConfig
	mu      sync.RWMutex
	latest  map[string]model.BeaconReading
	feed    <-chan model.BeaconReading
	available bool
}

func NewChannelScanner(rssiCfg RSSIConfig, feed <-chan model.BeaconReading) *ChannelScanner {
	return &ChannelScanner{
		rssiCfg: rssiCfg,
		latest:  make(map[string]model.BeaconReading),
		feed:    feed,
	}
}

// Run drains the feed channel until ctx is done, updating distance from
// RSSI on ingest and marking the scanner available once any reading has
// been seen.
func (c *ChannelScanner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-c.feed:
			if !ok {
				return
			}
			if r.EstimatedDistance == 0 {
				r.EstimatedDistance = c.rssiCfg.DistanceFromRSSI(r.RSSI)
			}
			c.mu.Lock()
			c.latest[r.Mac] = r
			c.available = true
			c.mu.Unlock()
		}
	}
}

func (c *ChannelScanner) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *ChannelScanner) Snapshot(ctx context.Context, maxAge time.Duration) ([]model.BeaconReading, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	out := make([]model.BeaconReading, 0, len(c.latest))
	for _, r := range c.latest {
		if now.Sub(r.ObservedAt) <= maxAge {
			out = append(out, r)
		}
	}
	return out, nil
}

// NullScanner is a Scanner that never reports a reading, for deployments
// with no Bluetooth feed wired in. Fusion's beacon-match stage degrades to
// "every track unregistered" rather than needing a nil check at every call
// site.
type NullScanner struct{}

func (NullScanner) Snapshot(ctx context.Context, maxAge time.Duration) ([]model.BeaconReading, error) {
	return nil, nil
}

func (NullScanner) IsAvailable() bool { return false }
