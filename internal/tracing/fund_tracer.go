package tracing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Fund Flow Tracer
//
// Starting at a seed address, follows value hop-by-hop through the
// transfer graph, forward (where funds went) or backward (where they came
// from):
//   1. Fetch the seed's history and merge it into the FlowGraph
//   2. Select the material edges of every reachable node
//      (dust threshold, then the top maxPathsPerHop by amount)
//   3. Fetch every newly reachable node that is still below maxHops,
//      concurrently up to fanoutConcurrencyLimit
//   4. Repeat until nothing new is reachable, then enumerate paths
//
// Adapter failures never abort the trace. The failing node becomes a
// PartialTraceWarning and every path reaching it ends there. Cancelling
// the context stops new fetches and the partial graph is still returned.

// MaxHopsCeiling bounds maxHops; deeper traces are rejected, not clamped
const MaxHopsCeiling = 32

// TraceConfig controls the tracing behavior
type TraceConfig struct {
	MaxHops                int             `json:"maxHops"`
	MaxPathsPerHop         int             `json:"maxPathsPerHop"`
	MinAmountThreshold     decimal.Decimal `json:"minAmountThreshold"` // edges below are pruned (dust)
	FanoutConcurrencyLimit int             `json:"fanoutConcurrencyLimit"`
	MaxPagesPerAddress     int             `json:"maxPagesPerAddress"`
}

// DefaultTraceConfig returns sensible defaults for fund tracing
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		MaxHops:                4,
		MaxPathsPerHop:         5,
		MinAmountThreshold:     decimal.Zero,
		FanoutConcurrencyLimit: 4,
		MaxPagesPerAddress:     5,
	}
}

// Validate rejects unusable settings with *models.ConfigurationError
func (c TraceConfig) Validate() error {
	switch {
	case c.MaxHops <= 0:
		return &models.ConfigurationError{Field: "maxHops", Reason: "must be > 0"}
	case c.MaxHops > MaxHopsCeiling:
		return &models.ConfigurationError{Field: "maxHops", Reason: fmt.Sprintf("must be <= %d", MaxHopsCeiling)}
	case c.MaxPathsPerHop <= 0:
		return &models.ConfigurationError{Field: "maxPathsPerHop", Reason: "must be > 0"}
	case c.MinAmountThreshold.IsNegative():
		return &models.ConfigurationError{Field: "minAmountThreshold", Reason: "must be >= 0"}
	case c.FanoutConcurrencyLimit <= 0:
		return &models.ConfigurationError{Field: "fanoutConcurrencyLimit", Reason: "must be > 0"}
	case c.MaxPagesPerAddress <= 0:
		return &models.ConfigurationError{Field: "maxPagesPerAddress", Reason: "must be > 0"}
	}
	return nil
}

// TraceResult is everything one trace produced
type TraceResult struct {
	Seed      models.Address               `json:"seed"`
	Direction models.Direction             `json:"direction"`
	Graph     *FlowGraph                   `json:"-"`
	Paths     []FlowPath                   `json:"paths"`
	Warnings  []models.PartialTraceWarning `json:"warnings,omitempty"`
	Truncated []models.Address             `json:"truncated,omitempty"` // histories cut at maxPagesPerAddress
	Rejected  int                          `json:"rejected"`            // transactions refused by the graph
	Fetched   int                          `json:"fetched"`
}

// Complete reports whether every reachable branch was fetched
func (r *TraceResult) Complete() bool { return len(r.Warnings) == 0 }

// Tracer runs traces against one chain adapter
type Tracer struct {
	adapter chains.Adapter
	cfg     TraceConfig
	log     zerolog.Logger
}

// NewTracer validates cfg and binds it to adapter
func NewTracer(adapter chains.Adapter, cfg TraceConfig) (*Tracer, error) {
	if adapter == nil {
		return nil, &models.ConfigurationError{Field: "adapter", Reason: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracer{
		adapter: adapter,
		cfg:     cfg,
		log:     log.With().Str("component", "tracer").Str("chain", string(adapter.Chain())).Logger(),
	}, nil
}

// Config returns the active configuration
func (t *Tracer) Config() TraceConfig { return t.cfg }

type fetchResult struct {
	txs       []models.Transaction
	truncated bool
	err       error
}

// Trace builds the flow graph around seed and returns its ranked paths.
// A seed from another chain or an unknown direction is a fatal error;
// every adapter failure after that is a warning on the result.
func (t *Tracer) Trace(ctx context.Context, seed models.Address, dir models.Direction) (*TraceResult, error) {
	if seed.Chain != t.adapter.Chain() {
		return nil, &models.InvalidChainError{Expected: t.adapter.Chain(), Got: seed.Chain}
	}
	if dir != models.Forward && dir != models.Backward {
		return nil, &models.ConfigurationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", dir)}
	}

	graph := NewFlowGraph(seed, dir)
	result := &TraceResult{Seed: seed, Direction: dir, Graph: graph}
	fetched := make(map[models.Address]bool)
	failed := make(map[models.Address]bool)

	for round := 0; ; round++ {
		frontier := t.pending(graph, fetched, failed)
		if len(frontier) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			for _, node := range frontier {
				failed[node.addr] = true
				result.Warnings = append(result.Warnings, models.NewPartialTraceWarning(node.addr, node.hop, models.ErrCancelled))
			}
			t.log.Warn().Int("skipped", len(frontier)).Msg("tracer: cancelled, returning partial trace")
			break
		}

		t.log.Debug().Int("round", round).Int("frontier", len(frontier)).Msg("tracer: fetching frontier")
		results := t.fetchFrontier(ctx, frontier)

		// merge in frontier order so arrival order never matters
		for i, node := range frontier {
			res := results[i]
			if res.err != nil {
				if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
					res.err = fmt.Errorf("%w: %v", models.ErrCancelled, res.err)
				}
				failed[node.addr] = true
				w := models.NewPartialTraceWarning(node.addr, node.hop, res.err)
				result.Warnings = append(result.Warnings, w)
				t.log.Warn().Str("address", node.addr.Value).Int("hop", node.hop).
					Str("reason", w.Reason).Err(res.err).Msg("tracer: branch fetch failed")
				continue
			}
			fetched[node.addr] = true
			result.Fetched++
			if res.truncated {
				result.Truncated = append(result.Truncated, node.addr)
			}
			_, rejected := graph.AddTransactions(res.txs, node.hop)
			for _, err := range rejected {
				result.Rejected++
				t.log.Warn().Str("address", node.addr.Value).Err(err).Msg("tracer: transaction rejected")
			}
		}
	}

	result.Paths = EnumeratePaths(graph, t.cfg, failed)
	t.log.Info().Str("seed", seed.Value).Str("direction", string(dir)).
		Int("nodes", graph.NodeCount()).Int("edges", graph.EdgeCount()).
		Int("paths", len(result.Paths)).Int("warnings", len(result.Warnings)).
		Msg("tracer: trace complete")
	return result, nil
}

type frontierNode struct {
	addr models.Address
	hop  int
}

// pending returns the unfetched nodes reachable through selected edges at a
// depth below maxHops, by breadth-first search from the seed. Selection at
// a node does not depend on the path used to reach it, so this is exactly
// the set of nodes path enumeration will need to expand.
func (t *Tracer) pending(g *FlowGraph, fetched, failed map[models.Address]bool) []frontierNode {
	seed := g.Seed()
	depth := map[models.Address]int{seed: 0}
	queue := []models.Address{seed}
	var out []frontierNode
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := depth[cur]
		if failed[cur] {
			continue
		}
		if !fetched[cur] {
			out = append(out, frontierNode{addr: cur, hop: d})
			continue
		}
		if d+1 >= t.cfg.MaxHops {
			continue
		}
		for _, e := range selectEdges(g, cur, g.Direction(), t.cfg.MinAmountThreshold, t.cfg.MaxPathsPerHop) {
			next := e.Next(g.Direction())
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = d + 1
			queue = append(queue, next)
		}
	}

	sortFrontier(out)
	return out
}

func sortFrontier(nodes []frontierNode) {
	set := make(map[models.Address]struct{}, len(nodes))
	hops := make(map[models.Address]int, len(nodes))
	for _, n := range nodes {
		set[n.addr] = struct{}{}
		hops[n.addr] = n.hop
	}
	for i, a := range sortedAddresses(set) {
		nodes[i] = frontierNode{addr: a, hop: hops[a]}
	}
}

// fetchFrontier fetches every node concurrently, bounded by the fan-out limit.
// Results are indexed by frontier position.
func (t *Tracer) fetchFrontier(ctx context.Context, frontier []frontierNode) []fetchResult {
	results := make([]fetchResult, len(frontier))
	var group errgroup.Group
	group.SetLimit(t.cfg.FanoutConcurrencyLimit)
	for i, node := range frontier {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = fetchResult{err: err}
				return nil
			}
			txs, truncated, err := t.fetchHistory(ctx, node.addr)
			results[i] = fetchResult{txs: txs, truncated: truncated, err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// fetchHistory pages through an address history up to MaxPagesPerAddress
func (t *Tracer) fetchHistory(ctx context.Context, addr models.Address) ([]models.Transaction, bool, error) {
	var all []models.Transaction
	cursor := ""
	for page := 0; page < t.cfg.MaxPagesPerAddress; page++ {
		p, err := t.adapter.FetchTransactions(ctx, addr, cursor)
		if err != nil {
			return nil, false, err
		}
		all = append(all, p.Transactions...)
		if !p.HasMore || p.NextCursor == "" {
			return all, false, nil
		}
		cursor = p.NextCursor
	}
	return all, true, nil
}
