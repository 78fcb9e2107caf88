package heuristics

import (
	"fmt"

	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// passthrough flags relay hops: nodes that re-send what they receive
// within the configured window.
//
//	passed  = Σ outbound sent no earlier than, and within window of, some inbound
//	ratio   = min(1, passed / Σ inbound)
//	flagged when ratio ≥ threshold, severity = ratio
func (e *Evaluator) passthrough(result *tracing.TraceResult, _ RiskOracle) []models.RiskSignal {
	g := result.Graph
	if g == nil {
		return nil
	}

	var signals []models.RiskSignal
	for _, n := range g.Nodes() {
		ratio, totalIn, passed, ok := PassthroughRatio(g.InEdges(n), g.OutEdges(n), e.cfg.PassthroughTimeWindow.Nanoseconds())
		if !ok || ratio < e.cfg.PassthroughRatioThreshold {
			continue
		}
		evidence := fmt.Sprintf("%s of %s received (%.0f%%) sent onward within %s",
			passed.String(), totalIn.String(), ratio*100, e.cfg.PassthroughTimeWindow)
		signals = append(signals, nodeSignal(models.SignalPassthrough, n, ratio, evidence))
	}
	return signals
}

// PassthroughRatio computes the share of inbound value forwarded within
// windowNanos of an inbound transfer. ok is false when nothing came in or
// nothing went out.
func PassthroughRatio(in, out []tracing.FlowEdge, windowNanos int64) (ratio float64, totalIn, passed decimal.Decimal, ok bool) {
	totalIn, passed = decimal.Zero, decimal.Zero
	if len(in) == 0 || len(out) == 0 {
		return 0, totalIn, passed, false
	}
	for _, e := range in {
		totalIn = totalIn.Add(e.Amount)
	}
	if !totalIn.IsPositive() {
		return 0, totalIn, passed, false
	}

	for _, o := range out {
		for _, i := range in {
			gap := o.Timestamp.Sub(i.Timestamp).Nanoseconds()
			if gap >= 0 && gap <= windowNanos {
				passed = passed.Add(o.Amount)
				break
			}
		}
	}
	if passed.IsZero() {
		return 0, totalIn, passed, true
	}
	r := passed.Div(totalIn).InexactFloat64()
	if r > 1 {
		r = 1
	}
	return r, totalIn, passed, true
}
