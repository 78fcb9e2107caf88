package investigation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/classifier"
	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/internal/sink"
	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Wallet Investigation Service
//
// One investigation runs:
//   1. classify and canonicalize the seed
//   2. fetch the seed balance (best effort)
//   3. trace forward, backward or both
//   4. evaluate risk signals over every trace
//   5. aggregate into one RiskOpinion
//   6. hand the opinion to the result sinks
//
// Every step publishes a progress event. Only steps 1 and 3 can fail the
// investigation; a sink or balance failure is logged and the opinion stands.

const persistTimeout = 10 * time.Second

// Options wires a Service
type Options struct {
	Registry   *chains.Registry
	Trace      tracing.TraceConfig
	Evaluator  *heuristics.Evaluator
	Aggregator *heuristics.Aggregator
	Oracle     heuristics.RiskOracle // nil disables known-risk proximity
	Sink       sink.ResultSink       // optional
	Publisher  ProgressPublisher     // optional
	Manager    *Manager              // optional, a fresh one is created
	Timeout    time.Duration         // per investigation, 0 means none
}

// Service runs investigations
type Service struct {
	registry   *chains.Registry
	traceCfg   tracing.TraceConfig
	evaluator  *heuristics.Evaluator
	aggregator *heuristics.Aggregator
	oracle     heuristics.RiskOracle
	sink       sink.ResultSink
	publisher  ProgressPublisher
	manager    *Manager
	timeout    time.Duration
	log        zerolog.Logger
}

func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Registry == nil:
		return nil, &models.ConfigurationError{Field: "registry", Reason: "must not be nil"}
	case opts.Evaluator == nil:
		return nil, &models.ConfigurationError{Field: "evaluator", Reason: "must not be nil"}
	case opts.Aggregator == nil:
		return nil, &models.ConfigurationError{Field: "aggregator", Reason: "must not be nil"}
	case opts.Timeout < 0:
		return nil, &models.ConfigurationError{Field: "investigationTimeout", Reason: "must be >= 0"}
	}
	if err := opts.Trace.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		registry:   opts.Registry,
		traceCfg:   opts.Trace,
		evaluator:  opts.Evaluator,
		aggregator: opts.Aggregator,
		oracle:     opts.Oracle,
		sink:       opts.Sink,
		publisher:  opts.Publisher,
		manager:    opts.Manager,
		timeout:    opts.Timeout,
		log:        log.With().Str("component", "investigation").Logger(),
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.manager == nil {
		s.manager = NewManager(DefaultMaxCases, DefaultCaseTTL)
	}
	return s, nil
}

// Manager exposes the case store
func (s *Service) Manager() *Manager { return s.manager }

// ParseDirections maps "forward", "backward" or "both" ("" = both)
func ParseDirections(raw string) ([]models.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "both":
		return []models.Direction{models.Forward, models.Backward}, nil
	}
	d, ok := models.ParseDirection(raw)
	if !ok {
		return nil, &models.ConfigurationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", raw)}
	}
	return []models.Direction{d}, nil
}

// Investigate runs a whole investigation and returns the finished case.
// Bad input is returned as an error before any case is created.
func (s *Service) Investigate(ctx context.Context, req Request) (Investigation, error) {
	inv, adapter, err := s.open(req)
	if err != nil {
		return Investigation{}, err
	}
	return s.run(ctx, inv, adapter), nil
}

// Start validates req, registers the case and runs it in the background.
// The returned snapshot is in the running state.
func (s *Service) Start(ctx context.Context, req Request) (Investigation, error) {
	inv, adapter, err := s.open(req)
	if err != nil {
		return Investigation{}, err
	}
	go s.run(context.WithoutCancel(ctx), inv, adapter)
	return inv, nil
}

func (s *Service) open(req Request) (Investigation, chains.Adapter, error) {
	var chain models.ChainID
	if req.Chain != "" {
		c, err := models.ParseChainID(req.Chain)
		if err != nil {
			return Investigation{}, nil, err
		}
		chain = c
	}
	seed, err := classifier.Resolve(req.Address, chain)
	if err != nil {
		return Investigation{}, nil, err
	}
	dirs, err := ParseDirections(req.Direction)
	if err != nil {
		return Investigation{}, nil, err
	}
	adapter, err := s.registry.Get(seed.Chain)
	if err != nil {
		return Investigation{}, nil, &models.ConfigurationError{Field: "chain", Reason: fmt.Sprintf("no adapter configured for %s", seed.Chain)}
	}

	candidates := classifier.Candidates(req.Address)
	inv := s.manager.Create(req, seed, candidates, dirs)
	s.publish(EventClassified, inv, map[string]any{"chain": seed.Chain, "candidates": candidates})
	s.log.Info().Str("id", inv.ID).Str("seed", seed.String()).Msg("investigation: started")
	return inv, adapter, nil
}

func (s *Service) run(ctx context.Context, inv Investigation, adapter chains.Adapter) Investigation {
	traceCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		traceCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if bf, ok := adapter.(chains.BalanceFetcher); ok {
		bal, err := bf.FetchBalance(traceCtx, inv.Seed)
		if err != nil {
			s.log.Warn().Err(err).Str("id", inv.ID).Msg("investigation: balance unavailable")
		} else {
			s.manager.update(inv.ID, func(i *Investigation) { i.Balance = &bal })
		}
	}

	tracer, err := tracing.NewTracer(adapter, s.traceCfg)
	if err != nil {
		return s.fail(inv, err)
	}
	results := make([]*tracing.TraceResult, 0, len(inv.Directions))
	flows := make(map[models.Direction]tracing.FlowSummary, len(inv.Directions))
	var paths []tracing.FlowPath
	for _, dir := range inv.Directions {
		res, err := tracer.Trace(traceCtx, inv.Seed, dir)
		if err != nil {
			return s.fail(inv, err)
		}
		results = append(results, res)
		flows[dir] = res.Graph.Summary()
		paths = append(paths, res.Paths...)
	}
	tracing.SortPaths(paths)
	snap, _ := s.manager.update(inv.ID, func(i *Investigation) {
		i.Flows = flows
		i.Paths = paths
	})
	s.publish(EventTraceComplete, snap, map[string]any{"paths": len(paths), "complete": allComplete(results)})

	// scoring always sees the partial trace, even after the timeout fired
	scoreCtx := context.WithoutCancel(ctx)
	var signals []models.RiskSignal
	for _, res := range results {
		sigs, err := s.evaluator.Evaluate(scoreCtx, res, s.oracle)
		if err != nil {
			return s.fail(inv, err)
		}
		signals = append(signals, sigs...)
	}
	signals = MergeSignals(signals)
	opinion := s.aggregator.Aggregate(inv.Seed, paths, signals, heuristics.CoverageOf(results...))

	if s.sink != nil {
		pctx, cancel := context.WithTimeout(scoreCtx, persistTimeout)
		if err := s.sink.Persist(pctx, inv.ID, opinion); err != nil {
			s.log.Warn().Err(err).Str("id", inv.ID).Msg("investigation: failed to persist opinion")
		}
		cancel()
	}

	snap, _ = s.manager.update(inv.ID, func(i *Investigation) {
		i.Opinion = &opinion
		i.Status = StatusCompleted
	})
	s.publish(EventOpinionReady, snap, map[string]any{"score": opinion.Score, "level": opinion.Level, "complete": opinion.Complete})
	s.log.Info().Str("id", inv.ID).Float64("score", opinion.Score).Str("level", string(opinion.Level)).
		Bool("complete", opinion.Complete).Msg("investigation: opinion ready")
	return snap
}

func (s *Service) fail(inv Investigation, err error) Investigation {
	snap, _ := s.manager.update(inv.ID, func(i *Investigation) {
		i.Status = StatusFailed
		i.Error = err.Error()
	})
	s.publish(EventFailed, snap, map[string]any{"error": err.Error()})
	s.log.Error().Err(err).Str("id", inv.ID).Msg("investigation: failed")
	return snap
}

func (s *Service) publish(t EventType, inv Investigation, data any) {
	s.publisher.Publish(Event{
		Type:            t,
		InvestigationID: inv.ID,
		Seed:            inv.Seed,
		Timestamp:       time.Now().UTC(),
		Data:            data,
	})
}

// MergeSignals collapses signals raised on the same subject by more than one
// trace direction, keeping the strongest, and returns them sorted.
func MergeSignals(signals []models.RiskSignal) []models.RiskSignal {
	best := make(map[string]models.RiskSignal, len(signals))
	for _, sig := range signals {
		key := string(sig.Kind) + "|" + sig.Subject()
		if prev, ok := best[key]; !ok || models.CompareSignals(sig, prev) < 0 {
			best[key] = sig
		}
	}
	out := make([]models.RiskSignal, 0, len(best))
	for _, sig := range best {
		out = append(out, sig)
	}
	slices.SortStableFunc(out, models.CompareSignals)
	return out
}

func allComplete(results []*tracing.TraceResult) bool {
	for _, r := range results {
		if !r.Complete() {
			return false
		}
	}
	return true
}
