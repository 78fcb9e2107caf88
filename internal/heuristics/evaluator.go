package heuristics

import (
	"context"
	"slices"
	"time"

	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Risk Signal Evaluator
//
// Runs a fixed set of independent checks over a finished trace:
//   known_risk   proximity of any graph node to the known-risk oracle
//   fan_anomaly  in/out degree far above the graph median
//   passthrough  inbound value re-sent within a short window (relay hop)
//   path_cycle   paths that looped back onto themselves
//
// Checks never read each other's output, so they run concurrently. Each
// severity is a pure function of the graph, the paths, the thresholds and
// the oracle, and the merged output is sorted, so results are reproducible.

// SignalConfig holds the thresholds of every check
type SignalConfig struct {
	PassthroughTimeWindow     time.Duration `json:"passthroughTimeWindow"`
	PassthroughRatioThreshold float64       `json:"passthroughRatioThreshold"`
	DegreeAnomalyMultiplier   float64       `json:"degreeAnomalyMultiplier"`
	MinAnomalyDegree          int           `json:"minAnomalyDegree"`
	ProximityDecay            float64       `json:"proximityDecay"`    // severity multiplier per hop
	CycleBaseSeverity         float64       `json:"cycleBaseSeverity"` // severity of a loop that returns nothing
}

// DefaultSignalConfig returns sensible defaults
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		PassthroughTimeWindow:     time.Hour,
		PassthroughRatioThreshold: 0.9,
		DegreeAnomalyMultiplier:   3.0,
		MinAnomalyDegree:          5,
		ProximityDecay:            0.75,
		CycleBaseSeverity:         0.5,
	}
}

// Validate rejects unusable thresholds with *models.ConfigurationError
func (c SignalConfig) Validate() error {
	switch {
	case c.PassthroughTimeWindow <= 0:
		return &models.ConfigurationError{Field: "passthroughTimeWindow", Reason: "must be > 0"}
	case c.PassthroughRatioThreshold <= 0 || c.PassthroughRatioThreshold > 1:
		return &models.ConfigurationError{Field: "passthroughRatioThreshold", Reason: "must be in (0, 1]"}
	case c.DegreeAnomalyMultiplier <= 1:
		return &models.ConfigurationError{Field: "degreeAnomalyMultiplier", Reason: "must be > 1"}
	case c.MinAnomalyDegree < 1:
		return &models.ConfigurationError{Field: "minAnomalyDegree", Reason: "must be >= 1"}
	case c.ProximityDecay <= 0 || c.ProximityDecay > 1:
		return &models.ConfigurationError{Field: "proximityDecay", Reason: "must be in (0, 1]"}
	case c.CycleBaseSeverity < 0 || c.CycleBaseSeverity > 1:
		return &models.ConfigurationError{Field: "cycleBaseSeverity", Reason: "must be in [0, 1]"}
	}
	return nil
}

// Evaluator computes risk signals for trace results
type Evaluator struct {
	cfg SignalConfig
	log zerolog.Logger
}

// NewEvaluator validates cfg
func NewEvaluator(cfg SignalConfig) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg, log: log.With().Str("component", "evaluator").Logger()}, nil
}

// Config returns the active thresholds
func (e *Evaluator) Config() SignalConfig { return e.cfg }

type check func(result *tracing.TraceResult, oracle RiskOracle) []models.RiskSignal

// Evaluate runs every check and returns signals sorted by severity desc,
// kind, then subject. A nil oracle disables the known-risk check.
func (e *Evaluator) Evaluate(ctx context.Context, result *tracing.TraceResult, oracle RiskOracle) ([]models.RiskSignal, error) {
	checks := []check{e.knownRiskProximity, e.fanAnomalies, e.passthrough, e.pathCycles}
	out := make([][]models.RiskSignal, len(checks))

	group, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = c(result, oracle)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var signals []models.RiskSignal
	for _, s := range out {
		signals = append(signals, s...)
	}
	slices.SortStableFunc(signals, models.CompareSignals)

	e.log.Debug().Str("seed", result.Seed.Value).Int("signals", len(signals)).Msg("evaluator: signals computed")
	return signals, nil
}

func nodeSignal(kind models.SignalKind, addr models.Address, severity float64, evidence string) models.RiskSignal {
	a := addr
	return models.RiskSignal{Kind: kind, Address: &a, Severity: clamp01(severity), Evidence: evidence}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
