package heuristics

import (
	"fmt"
	"math"
	"sort"

	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// fanAnomalies flags nodes whose fan-out or fan-in exceeds
// multiplier × median total degree of the graph (at least 1). Wide
// fan-out suggests a distributor or mixer; wide fan-in an aggregation point.
//
//	severity = min(1, 0.5 + 0.5 × (degree − threshold) / threshold)
func (e *Evaluator) fanAnomalies(result *tracing.TraceResult, _ RiskOracle) []models.RiskSignal {
	g := result.Graph
	if g == nil {
		return nil
	}
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return nil
	}

	type degree struct{ in, out int }
	degrees := make([]degree, len(nodes))
	totals := make([]int, len(nodes))
	for i, n := range nodes {
		in, out := g.Degree(n)
		degrees[i] = degree{in, out}
		totals[i] = in + out
	}
	median := medianInt(totals)
	threshold := math.Max(1, e.cfg.DegreeAnomalyMultiplier*median)

	var signals []models.RiskSignal
	for i, n := range nodes {
		for _, side := range []struct {
			name string
			deg  int
		}{{"fan-out", degrees[i].out}, {"fan-in", degrees[i].in}} {
			if side.deg < e.cfg.MinAnomalyDegree || float64(side.deg) <= threshold {
				continue
			}
			severity := 0.5 + 0.5*(float64(side.deg)-threshold)/threshold
			evidence := fmt.Sprintf("%s of %d transfers vs graph median degree %.1f (threshold %.1f)",
				side.name, side.deg, median, threshold)
			signals = append(signals, nodeSignal(models.SignalFanAnomaly, n, severity, evidence))
		}
	}
	return signals
}

func medianInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
