package heuristics

import (
	"fmt"

	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// pathCycles turns every path that ended on a loop-back into one signal on
// the closing edge. The more of the original amount returns, the higher
// the severity:
//
//	severity = base + (1 − base) × min(1, closing amount / first amount)
func (e *Evaluator) pathCycles(result *tracing.TraceResult, _ RiskOracle) []models.RiskSignal {
	base := e.cfg.CycleBaseSeverity
	byEdge := make(map[int]models.RiskSignal)
	for _, p := range result.Paths {
		if p.Termination != tracing.TerminatedCycle || p.ClosingEdge == nil {
			continue
		}
		closing := *p.ClosingEdge
		ratio := 0.0
		if p.FirstAmount.IsPositive() {
			ratio = closing.Amount.Div(p.FirstAmount).InexactFloat64()
		}
		ref := closing.Ref()
		sig := models.RiskSignal{
			Kind:     models.SignalPathCycle,
			Edge:     &ref,
			Severity: clamp01(base + (1-base)*clamp01(ratio)),
			Evidence: fmt.Sprintf("funds looped back to %s after %d hops (tx %s returned %s of %s)",
				closing.Next(result.Direction).Value, p.Hops(), closing.TxHash,
				closing.Amount.String(), p.FirstAmount.String()),
		}
		if prev, ok := byEdge[closing.ID]; !ok || models.CompareSignals(sig, prev) < 0 {
			byEdge[closing.ID] = sig
		}
	}

	signals := make([]models.RiskSignal, 0, len(byEdge))
	for _, s := range byEdge {
		signals = append(signals, s)
	}
	return signals
}
