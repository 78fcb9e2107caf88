package heuristics

import (
	"fmt"
	"math"

	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// knownRiskProximity flags every graph node the oracle knows about.
// Severity decays with the shortest hop distance from the seed:
//
//	severity = hint × decay^distance
func (e *Evaluator) knownRiskProximity(result *tracing.TraceResult, oracle RiskOracle) []models.RiskSignal {
	if oracle == nil || result.Graph == nil {
		return nil
	}

	var signals []models.RiskSignal
	for addr, dist := range result.Graph.Distances() {
		hint, ok := oracle.IsKnownRisk(addr)
		if !ok {
			continue
		}
		severity := ProximitySeverity(hint.Severity, dist, e.cfg.ProximityDecay)
		signals = append(signals, nodeSignal(models.SignalKnownRisk, addr, severity, describeKnownRisk(hint, dist)))
	}
	return signals
}

// ProximitySeverity decays a hint by distance; never outside [0, 1]
func ProximitySeverity(hint float64, distance int, decay float64) float64 {
	if distance < 0 {
		return 0
	}
	return clamp01(hint * math.Pow(decay, float64(distance)))
}

func describeKnownRisk(hint RiskHint, dist int) string {
	what := hint.Category
	if hint.Label != "" {
		what = fmt.Sprintf("%s (%s)", hint.Category, hint.Label)
	}
	switch dist {
	case 0:
		return fmt.Sprintf("seed address is flagged as %s", what)
	case 1:
		return fmt.Sprintf("direct counterparty flagged as %s", what)
	}
	return fmt.Sprintf("address flagged as %s is %d hops from the seed", what, dist)
}
