package fusion

import (
	"math"
	"sort"

	hg "github.com/charles-haynes/munkres"
	"github.com/pkg/errors"
)

// candidate is one (vehicle, beacon) pairing considered by the
// type-partitioned assignment of spec.md §4.4 step 3.
type candidate struct {
	vehicleIdx int
	beaconIdx  int
	cost       float64
}

// assignCost builds the cost matrix between vehicles and beacons of one
// machine subtype and solves optimal assignment (munkres, falling back to
// a deterministic greedy match), honoring the "a beacon matches at most one
// vehicle" rule and rejecting pairs above maxCost.
func assignCost(cost [][]float64, maxCost float64) map[int]int {
	matches := make(map[int]int) // vehicleIdx -> beaconIdx
	if len(cost) == 0 || len(cost[0]) == 0 {
		return matches
	}

	assignment, err := solve(cost)
	if err != nil {
		assignment = greedy(cost)
	}

	usedBeacon := make(map[int]bool)
	for i, j := range assignment {
		if j < 0 || j >= len(cost[i]) {
			continue
		}
		if cost[i][j] > maxCost {
			continue
		}
		if usedBeacon[j] {
			continue
		}
		matches[i] = j
		usedBeacon[j] = true
	}
	return matches
}

func solve(cost [][]float64) ([]int, error) {
	ha, err := hg.NewHungarianAlgorithm(cost)
	if err != nil {
		return nil, errors.Wrap(err, "build hungarian solver")
	}
	return ha.Execute(), nil
}

// greedy mirrors internal/tracker's deterministic fallback: ascending cost,
// tie-broken by ascending row then ascending column.
func greedy(cost [][]float64) []int {
	type cand struct{ i, j int }
	var cands []cand
	for i := range cost {
		for j := range cost[i] {
			cands = append(cands, cand{i, j})
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if cost[ca.i][ca.j] != cost[cb.i][cb.j] {
			return cost[ca.i][ca.j] < cost[cb.i][cb.j]
		}
		if ca.i != cb.i {
			return ca.i < cb.i
		}
		return ca.j < cb.j
	})
	result := make([]int, len(cost))
	for i := range result {
		result[i] = -1
	}
	usedRow := make(map[int]bool)
	usedCol := make(map[int]bool)
	for _, c := range cands {
		if usedRow[c.i] || usedCol[c.j] {
			continue
		}
		result[c.i] = c.j
		usedRow[c.i] = true
		usedCol[c.j] = true
	}
	return result
}

// stabilityPenalty derives the [0,1] penalty from normalised standard
// deviation of a beacon's recent RSSI and distance samples, per spec.md
// §4.4: spread > 10 dBm or > 2 m is penalised to 1.0.
func stabilityPenalty(rssiSpread, distanceSpread float64) float64 {
	rssiPenalty := math.Min(1, rssiSpread/10.0)
	distPenalty := math.Min(1, distanceSpread/2.0)
	if rssiSpread > 10 || distanceSpread > 2 {
		return 1.0
	}
	return math.Max(rssiPenalty, distPenalty)
}
