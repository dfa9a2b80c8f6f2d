// Package fusion implements the per-frame orchestrator of spec.md §4.4: it
// combines Tracker output with depth, beacon, best-frame, and loitering
// state to produce VehicleState updates and AlertCandidates.
package fusion

import (
	"context"
	"image"
	"math"
	"sort"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/bestframe"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/beacon"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/depth"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/loiter"
	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Config mirrors spec.md §6's beacon_match.multi_target block plus the
// position-history bound shared with LoiteringDetector.
type Config struct {
	MultiTargetEnabled  bool
	MatchCostThreshold  float64
	TimeStabilityWeight float64
	StabilityWindow     int // samples of RSSI/distance retained per mac
	MaxPositions        int
}

func DefaultConfig() Config {
	return Config{
		MultiTargetEnabled:  true,
		MatchCostThreshold:  3.0,
		TimeStabilityWeight: 1.0,
		StabilityWindow:     10,
		MaxPositions:        60,
	}
}

type beaconSample struct {
	rssi     float64
	distance float64
}

// Fusion owns all per-track state tables listed in spec.md §5 as owned by
// the Pipeline thread: position history, beacon stability windows, and
// VehicleState. It is not safe for concurrent use; exactly one goroutine
// (the Pipeline) calls ProcessFrame.
type Fusion struct {
	cfg Config

	depthReader *depth.Reader
	smoother    *depth.Smoother
	scanner     beacon.Scanner
	rssiCfg     beacon.RSSIConfig
	matcher     *beacon.MatchTracker
	selector    *bestframe.Selector
	pool        *bestframe.Pool
	loiterer    *loiter.Detector
	logger      logging.Logger

	positions     map[int64][]model.TrackPosition
	vehicles      map[int64]*model.VehicleState
	beaconHistory map[string][]beaconSample
}

func New(
	cfg Config,
	depthReader *depth.Reader,
	smoother *depth.Smoother,
	scanner beacon.Scanner,
	rssiCfg beacon.RSSIConfig,
	matcher *beacon.MatchTracker,
	selector *bestframe.Selector,
	pool *bestframe.Pool,
	loiterer *loiter.Detector,
	logger logging.Logger,
) *Fusion {
	return &Fusion{
		cfg:           cfg,
		depthReader:   depthReader,
		smoother:      smoother,
		scanner:       scanner,
		rssiCfg:       rssiCfg,
		matcher:       matcher,
		selector:      selector,
		pool:          pool,
		loiterer:      loiterer,
		logger:        logger,
		positions:     make(map[int64][]model.TrackPosition),
		vehicles:      make(map[int64]*model.VehicleState),
		beaconHistory: make(map[string][]beaconSample),
	}
}

// ProcessFrame runs one frame of fusion over the Tracker's live tracks and
// returns the AlertCandidates emitted this frame (spec.md §4.4 step 7).
func (f *Fusion) ProcessFrame(ctx context.Context, frame *model.Frame, tracks map[int64]model.TrackUpdate, whitelist []model.WhitelistEntry) []model.AlertCandidate {
	f.applyPlateResults()
	f.cleanupRemoved(tracks)

	readings, _ := f.scanner.Snapshot(ctx, 5*time.Second)
	f.recordBeaconHistory(readings)

	depths := make(map[int64]float64, len(tracks))
	depthOK := make(map[int64]bool, len(tracks))

	for id, t := range tracks {
		f.recordPosition(id, frame, t)

		var rawOK bool
		var rawDepth float64
		if f.depthReader != nil {
			if d, _, ok := f.depthReader.Sample(frame.Depth, t.Box); ok {
				rawDepth, rawOK = d, true
			}
		}
		smoothed, ok := f.smoother.Update(id, rawDepth, rawOK)
		depths[id] = smoothed
		depthOK[id] = ok

		vs := f.vehicleState(id, t)
		vs.ClassName = t.ClassName
		vs.Group = t.Group
	}

	f.matchBeacons(tracks, depths, depthOK, readings, whitelist)

	var candidates []model.AlertCandidate
	for id, t := range tracks {
		vs := f.vehicleState(id, t)

		if t.Group == model.ClassGroupCivilian && f.selector != nil && f.pool != nil {
			f.driveBestFrame(id, t, frame, depths[id], depthOK[id])
		}

		center := model.Center(t.Box)
		areaRatio := model.AreaRatio(t.Box, frame.Width, frame.Height)
		if f.loiterer != nil {
			f.loiterer.Update(id, frame.CapturedAt, center, areaRatio)
		}

		if cand, emit := f.evaluateAlert(id, t, vs, depths[id], depthOK[id]); emit {
			candidates = append(candidates, cand)
		}
	}
	return candidates
}

func (f *Fusion) vehicleState(id int64, t model.TrackUpdate) *model.VehicleState {
	vs, ok := f.vehicles[id]
	if !ok {
		vs = &model.VehicleState{TrackID: id, Group: t.Group, ClassName: t.ClassName}
		f.vehicles[id] = vs
	}
	return vs
}

func (f *Fusion) recordPosition(id int64, frame *model.Frame, t model.TrackUpdate) {
	pos := model.TrackPosition{
		At:        frame.ID,
		Center:    model.Center(t.Box),
		AreaRatio: model.AreaRatio(t.Box, frame.Width, frame.Height),
	}
	hist := append(f.positions[id], pos)
	if len(hist) > f.cfg.MaxPositions {
		hist = hist[len(hist)-f.cfg.MaxPositions:]
	}
	f.positions[id] = hist
}

func (f *Fusion) recordBeaconHistory(readings []model.BeaconReading) {
	for _, r := range readings {
		h := append(f.beaconHistory[r.Mac], beaconSample{rssi: r.RSSI, distance: r.EstimatedDistance})
		if len(h) > f.cfg.StabilityWindow {
			h = h[len(h)-f.cfg.StabilityWindow:]
		}
		f.beaconHistory[r.Mac] = h
	}
}

// matchBeacons implements spec.md §4.4 step 3: type-partitioned optimal
// assignment between unlocked construction tracks and whitelist-backed
// beacon readings of the matching machine type, then applies the lock
// tracker on top.
func (f *Fusion) matchBeacons(tracks map[int64]model.TrackUpdate, depths map[int64]float64, depthOK map[int64]bool, readings []model.BeaconReading, whitelist []model.WhitelistEntry) {
	byMac := make(map[string]model.WhitelistEntry, len(whitelist))
	for _, w := range whitelist {
		byMac[w.Mac] = w
	}

	readingByMac := make(map[string]model.BeaconReading, len(readings))
	for _, r := range readings {
		readingByMac[r.Mac] = r
	}

	if !f.cfg.MultiTargetEnabled {
		// Multi-target assignment disabled: no unlocked construction track
		// acquires a new beacon match this frame (already-locked tracks keep
		// their lock via the final loop below, which still runs).
		for id, t := range tracks {
			if t.Group != model.ClassGroupConstruction || f.matcher.IsLocked(id) {
				continue
			}
			f.matcher.Update(id, "", false, 0, false)
		}
		f.applyLocks(tracks, byMac)
		return
	}

	byType := make(map[string][]int64) // machine type -> construction track ids, unlocked, ascending
	for id, t := range tracks {
		if t.Group != model.ClassGroupConstruction {
			continue
		}
		if f.matcher.IsLocked(id) {
			continue
		}
		mt := constructionMachineType(t.ClassName)
		byType[mt] = append(byType[mt], id)
	}
	for mt := range byType {
		sort.Slice(byType[mt], func(i, j int) bool { return byType[mt][i] < byType[mt][j] })
	}

	beaconsByType := make(map[string][]string) // machine type -> macs, ascending
	for mac, w := range byMac {
		if _, ok := readingByMac[mac]; !ok {
			continue
		}
		beaconsByType[w.MachineType] = append(beaconsByType[w.MachineType], mac)
	}
	for mt := range beaconsByType {
		sort.Strings(beaconsByType[mt])
	}

	matchedThisFrame := make(map[int64]string)

	for mt, vehicleIDs := range byType {
		macs := beaconsByType[mt]
		if len(macs) == 0 {
			for _, id := range vehicleIDs {
				f.matcher.Update(id, "", false, 0, false)
			}
			continue
		}
		cost := make([][]float64, len(vehicleIDs))
		for i, id := range vehicleIDs {
			row := make([]float64, len(macs))
			vDepth, hasDepth := depths[id], depthOK[id]
			for j, mac := range macs {
				reading := readingByMac[mac]
				if !hasDepth {
					row[j] = f.cfg.MatchCostThreshold + 1
					continue
				}
				penalty := f.cfg.TimeStabilityWeight * f.beaconStability(mac) * f.cfg.StabilityWindowNorm()
				row[j] = math.Abs(vDepth-reading.EstimatedDistance) + penalty
			}
			cost[i] = row
		}
		matches := assignCost(cost, f.cfg.MatchCostThreshold)
		matchedVehicle := make(map[int]bool)
		for i, j := range matches {
			matchedThisFrame[vehicleIDs[i]] = macs[j]
			matchedVehicle[i] = true
		}
		for i, id := range vehicleIDs {
			if matchedVehicle[i] {
				continue
			}
			f.matcher.Update(id, "", false, 0, false)
		}
	}

	for id, mac := range matchedThisFrame {
		reading := readingByMac[mac]
		f.matcher.Update(id, mac, true, reading.EstimatedDistance, true)
	}

	f.applyLocks(tracks, byMac)
}

// applyLocks refreshes vs.Registered/BeaconMac for every construction track
// from the matcher's current lock state, after matching (or the
// MultiTargetEnabled-disabled skip) has run for this frame.
func (f *Fusion) applyLocks(tracks map[int64]model.TrackUpdate, byMac map[string]model.WhitelistEntry) {
	for id, t := range tracks {
		if t.Group != model.ClassGroupConstruction {
			continue
		}
		vs := f.vehicleState(id, t)
		if lockedMac, locked := f.matcher.Update(id, "", false, 0, false); locked {
			vs.BeaconMac = lockedMac
			if w, ok := byMac[lockedMac]; ok {
				vs.Registered = true
				vs.EnvironmentCode = w.EnvironmentCode
				vs.Owner = w.EquipmentOwner
			}
		} else {
			vs.Registered = false
		}
	}
}

// constructionMachineType maps a detector class name to the whitelist's
// machine_type token (spec.md §4.4: "whitelisted machine_type maps to the
// same construction subtype"). The mapping is the identity for the
// class names this repository's detector emits; kept as a function so a
// richer label→machine_type table can be substituted without touching
// callers.
func constructionMachineType(className string) string {
	return className
}

func (f *Fusion) beaconStability(mac string) float64 {
	samples := f.beaconHistory[mac]
	if len(samples) < 2 {
		return 0
	}
	var rssis, dists []float64
	for _, s := range samples {
		rssis = append(rssis, s.rssi)
		dists = append(dists, s.distance)
	}
	return stabilityPenalty(spread(rssis), spread(dists))
}

func spread(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)))
}

// StabilityWindowNorm scales the [0,1] stability penalty so its
// contribution is comparable in scale to a depth-delta in meters; a
// penalty of 1.0 (maximally unstable) contributes StabilityWindow/10
// meters of equivalent cost, a small fixed multiplier keeping the knob in
// config rather than a magic constant in code.
func (c Config) StabilityWindowNorm() float64 {
	return float64(c.StabilityWindow) / 10.0
}

func (f *Fusion) driveBestFrame(id int64, t model.TrackUpdate, frame *model.Frame, distance float64, hasDistance bool) {
	roi := cropROI(frame.Color, t.Box)
	trigger, chosen := f.selector.ShouldTrigger(id, t.Box, roi, t.Score, frame.Width, frame.Height, distance, hasDistance)
	if !trigger || chosen == nil {
		return
	}
	vs := f.vehicleState(id, t)
	if f.pool.Submit(id, chosen) {
		vs.PlatePending = true
	}
}

func cropROI(img image.Image, box image.Rectangle) image.Image {
	if img == nil {
		return nil
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(box.Intersect(img.Bounds()))
	}
	return img
}

func (f *Fusion) applyPlateResults() {
	if f.pool == nil {
		return
	}
	for {
		select {
		case res := <-f.pool.Results():
			vs, ok := f.vehicles[res.TrackID]
			if !ok {
				continue
			}
			vs.PlatePending = false
			if res.Found {
				vs.Plate = res.Plate
				vs.PlateScore = res.Score
				f.selector.OnComplete(res.TrackID, res.Plate, res.Score)
			}
		default:
			return
		}
	}
}

func (f *Fusion) evaluateAlert(id int64, t model.TrackUpdate, vs *model.VehicleState, distance float64, hasDistance bool) (model.AlertCandidate, bool) {
	base := model.AlertCandidate{
		TrackID:         id,
		Group:           t.Group,
		ClassName:       t.ClassName,
		Box:             boxToFloats(t.Box),
		BeaconMac:       vs.BeaconMac,
		Plate:           vs.Plate,
		Confidence:      t.Score,
		EnvironmentCode: vs.EnvironmentCode,
		Owner:           vs.Owner,
		Registered:      vs.Registered,
	}
	if hasDistance {
		base.Distance = distance
	}

	switch {
	case t.Group == model.ClassGroupConstruction && !vs.Registered:
		if f.loiterer != nil && f.loiterer.IsLoitering(id) {
			base.Status = model.StatusUnregistered
			return base, true
		}
	case t.Group == model.ClassGroupConstruction && vs.Registered:
		if !vs.Reported {
			vs.Reported = true
			base.Status = model.StatusRegistered
			return base, true
		}
	case t.Group == model.ClassGroupCivilian:
		if vs.Plate != "" && !vs.Reported {
			vs.Reported = true
			base.Status = model.StatusIdentified
			return base, true
		}
	}
	return model.AlertCandidate{}, false
}

func boxToFloats(r image.Rectangle) [4]float64 {
	return [4]float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}

func (f *Fusion) cleanupRemoved(tracks map[int64]model.TrackUpdate) {
	active := make(map[int64]bool, len(tracks))
	for id := range tracks {
		active[id] = true
	}
	for id := range f.positions {
		if !active[id] {
			delete(f.positions, id)
		}
	}
	for id := range f.vehicles {
		if !active[id] {
			delete(f.vehicles, id)
		}
	}
	if f.loiterer != nil {
		f.loiterer.Cleanup(active)
	}
	if f.selector != nil {
		f.selector.Cleanup(active)
	}
	f.smoother.Cleanup(active)
	f.matcher.Cleanup(active)
}

// VehicleState exposes a read-only snapshot for callers (e.g. a status
// endpoint) without handing out the live pointer Fusion mutates.
func (f *Fusion) VehicleState(trackID int64) (model.VehicleState, bool) {
	vs, ok := f.vehicles[trackID]
	if !ok {
		return model.VehicleState{}, false
	}
	return *vs, true
}
