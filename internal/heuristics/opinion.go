package heuristics

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// Risk Aggregator / Opinion Generator
//
// Folds paths and signals into one explainable score:
//
//   score = Σ_k weight_k × max severity of kind k  +  weight_pathDensity × density
//   density = min(1, qualifying routes / densitySaturation)
//
// Only the strongest signal of each kind counts. A route qualifies for
// density when it reaches a risk-flagged node within densityHopLimit hops
// while still carrying at least densityMinAmount.
//
// Aggregation is pure: same paths, signals and coverage give the same opinion.

// Weights are the aggregation policy
type Weights struct {
	KnownRisk   float64 `json:"knownRisk"`
	Fanout      float64 `json:"fanout"`
	Passthrough float64 `json:"passthrough"`
	Cycle       float64 `json:"cycle"`
	PathDensity float64 `json:"pathDensity"`
}

// DefaultWeights sum to 1 so a trace saturating every term scores exactly 1
func DefaultWeights() Weights {
	return Weights{KnownRisk: 0.45, Fanout: 0.15, Passthrough: 0.2, Cycle: 0.1, PathDensity: 0.1}
}

func (w Weights) forKind(k models.SignalKind) float64 {
	switch k {
	case models.SignalKnownRisk:
		return w.KnownRisk
	case models.SignalFanAnomaly:
		return w.Fanout
	case models.SignalPassthrough:
		return w.Passthrough
	case models.SignalPathCycle:
		return w.Cycle
	}
	return 0
}

// AggregationConfig holds the aggregation policy
type AggregationConfig struct {
	Weights             Weights         `json:"weights"`
	MaxRationaleEntries int             `json:"maxRationaleEntries"`
	DensityHopLimit     int             `json:"densityHopLimit"`
	DensityMinAmount    decimal.Decimal `json:"densityMinAmount"`
	DensitySaturation   int             `json:"densitySaturation"`
}

// DefaultAggregationConfig returns sensible defaults
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		Weights:             DefaultWeights(),
		MaxRationaleEntries: 10,
		DensityHopLimit:     2,
		DensityMinAmount:    decimal.Zero,
		DensitySaturation:   5,
	}
}

// Validate rejects unusable policy with *models.ConfigurationError
func (c AggregationConfig) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"weight_knownRisk": w.KnownRisk, "weight_fanout": w.Fanout, "weight_passthrough": w.Passthrough,
		"weight_cycle": w.Cycle, "weight_pathDensity": w.PathDensity,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &models.ConfigurationError{Field: name, Reason: "must be a finite value >= 0"}
		}
	}
	switch {
	case w.KnownRisk+w.Fanout+w.Passthrough+w.Cycle+w.PathDensity <= 0:
		return &models.ConfigurationError{Field: "weights", Reason: "at least one weight must be > 0"}
	case c.MaxRationaleEntries <= 0:
		return &models.ConfigurationError{Field: "maxRationaleEntries", Reason: "must be > 0"}
	case c.DensityHopLimit <= 0:
		return &models.ConfigurationError{Field: "densityHopLimit", Reason: "must be > 0"}
	case c.DensityMinAmount.IsNegative():
		return &models.ConfigurationError{Field: "densityMinAmount", Reason: "must be >= 0"}
	case c.DensitySaturation <= 0:
		return &models.ConfigurationError{Field: "densitySaturation", Reason: "must be > 0"}
	}
	return nil
}

// Coverage describes what the trace could not see
type Coverage struct {
	Warnings  []models.PartialTraceWarning
	Truncated []models.Address
}

// CoverageOf collects coverage gaps from one or more trace results
func CoverageOf(results ...*tracing.TraceResult) Coverage {
	var c Coverage
	for _, r := range results {
		if r == nil {
			continue
		}
		c.Warnings = append(c.Warnings, r.Warnings...)
		c.Truncated = append(c.Truncated, r.Truncated...)
	}
	return c
}

// Aggregator builds RiskOpinions
type Aggregator struct {
	cfg AggregationConfig
}

// NewAggregator validates cfg
func NewAggregator(cfg AggregationConfig) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{cfg: cfg}, nil
}

// Config returns the active policy
func (a *Aggregator) Config() AggregationConfig { return a.cfg }

// Aggregate scores one investigation. It performs no I/O.
func (a *Aggregator) Aggregate(seed models.Address, paths []tracing.FlowPath, signals []models.RiskSignal, coverage Coverage) models.RiskOpinion {
	sorted := append([]models.RiskSignal(nil), signals...)
	slices.SortStableFunc(sorted, models.CompareSignals)

	op := models.RiskOpinion{
		Seed:      seed,
		Signals:   sorted,
		PathCount: len(paths),
	}
	if op.Signals == nil {
		op.Signals = []models.RiskSignal{}
	}
	a.applyCoverage(&op, coverage)

	if len(paths) == 0 && len(signals) == 0 {
		op.Score = 0
		op.Level = classifyRisk(0)
		op.Breakdown = []models.ScoreComponent{}
		op.Rationale = []models.RationaleEntry{{
			Kind:        "",
			Subject:     "node:" + seed.String(),
			Severity:    0,
			Description: "no data: no transfers were found for this address, so there is nothing to score",
		}}
		op.Summary = a.summary(op)
		return op
	}

	maxByKind := make(map[models.SignalKind]float64)
	for _, s := range sorted {
		if s.Severity > maxByKind[s.Kind] {
			maxByKind[s.Kind] = s.Severity
		}
	}

	score := 0.0
	for _, k := range models.SignalKinds {
		w := a.cfg.Weights.forKind(k)
		contrib := w * maxByKind[k]
		score += contrib
		op.Breakdown = append(op.Breakdown, models.ScoreComponent{
			Name: string(k), Weight: w, Value: maxByKind[k], Contribution: round4(contrib),
		})
	}
	qualifying := a.qualifyingPaths(paths, sorted)
	density := math.Min(1, float64(qualifying)/float64(a.cfg.DensitySaturation))
	densityContrib := a.cfg.Weights.PathDensity * density
	score += densityContrib
	op.Breakdown = append(op.Breakdown, models.ScoreComponent{
		Name: "path_density", Weight: a.cfg.Weights.PathDensity, Value: round4(density), Contribution: round4(densityContrib),
	})

	op.Score = round4(clamp01(score))
	op.Level = classifyRisk(op.Score)
	op.Rationale = a.rationale(sorted)
	op.Summary = a.summary(op)
	return op
}

// qualifyingPaths counts distinct path prefixes that reach a flagged node
// within the hop limit while carrying at least DensityMinAmount up to that
// node. Paths sharing the prefix up to their first flagged node count once,
// so one flagged counterparty with many children is a single route.
func (a *Aggregator) qualifyingPaths(paths []tracing.FlowPath, signals []models.RiskSignal) int {
	flagged := make(map[models.Address]bool)
	for _, s := range signals {
		if s.Address != nil {
			flagged[*s.Address] = true
		}
	}
	if len(flagged) == 0 {
		return 0
	}

	routes := make(map[string]struct{})
	for _, p := range paths {
		bottleneck := decimal.Decimal{}
		var prefix strings.Builder
		prefix.WriteString(string(p.Direction))
		for i, e := range p.Edges {
			if i >= a.cfg.DensityHopLimit {
				break
			}
			if i == 0 || e.Amount.LessThan(bottleneck) {
				bottleneck = e.Amount
			}
			if bottleneck.LessThan(a.cfg.DensityMinAmount) {
				break
			}
			fmt.Fprintf(&prefix, "|%d", e.ID)
			if flagged[p.Nodes[i+1]] {
				routes[prefix.String()] = struct{}{}
				break
			}
		}
	}
	return len(routes)
}

// rationale keeps the strongest entry of every kind, then fills the rest by
// severity, capped at MaxRationaleEntries
func (a *Aggregator) rationale(sorted []models.RiskSignal) []models.RationaleEntry {
	limit := a.cfg.MaxRationaleEntries
	picked := make([]bool, len(sorted))
	var chosen []int

	seenKind := make(map[models.SignalKind]bool)
	for i, s := range sorted {
		if len(chosen) >= limit {
			break
		}
		if !seenKind[s.Kind] {
			seenKind[s.Kind] = true
			picked[i] = true
			chosen = append(chosen, i)
		}
	}
	for i := range sorted {
		if len(chosen) >= limit {
			break
		}
		if !picked[i] {
			picked[i] = true
			chosen = append(chosen, i)
		}
	}
	sort.Ints(chosen)

	entries := make([]models.RationaleEntry, 0, len(chosen)+1)
	for _, i := range chosen {
		s := sorted[i]
		entries = append(entries, models.RationaleEntry{
			Kind:        s.Kind,
			Subject:     s.Subject(),
			Severity:    round4(s.Severity),
			Description: s.Evidence,
		})
	}
	if len(entries) == 0 {
		entries = append(entries, models.RationaleEntry{
			Description: "no risk signals were raised by the traced flows",
		})
	}
	return entries
}

func (a *Aggregator) summary(op models.RiskOpinion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Risk score %.2f (%s) for %s", op.Score, op.Level, op.Seed.Value)
	kinds := make(map[models.SignalKind]bool)
	for _, s := range op.Signals {
		kinds[s.Kind] = true
	}
	fmt.Fprintf(&b, ": %d signal(s) across %d kind(s), %d path(s) traced", len(op.Signals), len(kinds), op.PathCount)
	if op.Complete {
		b.WriteString(", coverage complete")
	} else {
		fmt.Fprintf(&b, ", coverage partial (%d failed branch(es)); score may be understated", op.FailedBranches)
	}
	return b.String()
}

func (a *Aggregator) applyCoverage(op *models.RiskOpinion, c Coverage) {
	op.Complete = len(c.Warnings) == 0
	op.FailedBranches = len(c.Warnings)

	failed := make(map[models.Address]struct{})
	for _, w := range c.Warnings {
		failed[w.Address] = struct{}{}
	}
	for addr := range failed {
		op.FailedAddresses = append(op.FailedAddresses, addr)
	}
	sort.Slice(op.FailedAddresses, func(i, j int) bool { return op.FailedAddresses[i].Compare(op.FailedAddresses[j]) < 0 })

	warnings := append([]models.PartialTraceWarning(nil), c.Warnings...)
	sort.SliceStable(warnings, func(i, j int) bool {
		if c := warnings[i].Address.Compare(warnings[j].Address); c != 0 {
			return c < 0
		}
		return warnings[i].Hop < warnings[j].Hop
	})
	for _, w := range warnings {
		op.CoverageNotes = append(op.CoverageNotes,
			fmt.Sprintf("branch at %s (hop %d) not traced: %s", w.Address.Value, w.Hop, strings.ReplaceAll(w.Reason, "_", " ")))
	}

	truncated := append([]models.Address(nil), c.Truncated...)
	sort.Slice(truncated, func(i, j int) bool { return truncated[i].Compare(truncated[j]) < 0 })
	for i, t := range truncated {
		if i > 0 && truncated[i-1] == t {
			continue
		}
		op.CoverageNotes = append(op.CoverageNotes,
			fmt.Sprintf("history of %s truncated at the page limit; older transfers not traced", t.Value))
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
