package tracing

import (
	"sort"
	"strings"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// TerminationReason explains why a path stopped growing
type TerminationReason string

const (
	TerminatedNoEdges     TerminationReason = "no_edges"
	TerminatedMaxHops     TerminationReason = "max_hops"
	TerminatedCycle       TerminationReason = "cycle"
	TerminatedFetchFailed TerminationReason = "fetch_failed"
)

// FlowPath is an acyclic walk from the seed. Nodes[0] is the seed and
// Nodes[i+1] is reached through Edges[i]; no address appears twice.
// When Termination is TerminatedCycle, ClosingEdge is the edge that would
// have revisited an address already on the path. It is not part of Edges.
type FlowPath struct {
	Direction      models.Direction  `json:"direction"`
	Nodes          []models.Address  `json:"nodes"`
	Edges          []FlowEdge        `json:"edges"`
	Termination    TerminationReason `json:"termination"`
	ClosingEdge    *FlowEdge         `json:"closingEdge,omitempty"`
	FirstAmount    decimal.Decimal   `json:"firstAmount"`
	TerminalAmount decimal.Decimal   `json:"terminalAmount"` // smallest edge amount along the path
	Decay          float64           `json:"decay"`          // TerminalAmount / FirstAmount
}

// Hops is the number of edges in the path
func (p FlowPath) Hops() int { return len(p.Edges) }

// Terminal is the last address on the path
func (p FlowPath) Terminal() models.Address { return p.Nodes[len(p.Nodes)-1] }

// Key is a stable identity used as the final ordering tiebreak. The
// direction comes last so forward and backward paths over the same edges
// stay distinct.
func (p FlowPath) Key() string {
	var b strings.Builder
	b.WriteString(p.Nodes[0].Value)
	for _, e := range p.Edges {
		b.WriteString("|")
		b.WriteString(e.TxHash)
		b.WriteString(">")
		b.WriteString(e.To.Value)
		b.WriteString("<")
		b.WriteString(e.From.Value)
	}
	if p.ClosingEdge != nil {
		b.WriteString("|cycle:")
		b.WriteString(p.ClosingEdge.TxHash)
		b.WriteString(">")
		b.WriteString(p.ClosingEdge.To.Value)
		b.WriteString("<")
		b.WriteString(p.ClosingEdge.From.Value)
	}
	b.WriteString("|dir:")
	b.WriteString(string(p.Direction))
	return b.String()
}

// Contains reports whether a is on the path
func (p FlowPath) Contains(a models.Address) bool {
	for _, n := range p.Nodes {
		if n == a {
			return true
		}
	}
	return false
}

// selectEdges applies the dust threshold then keeps the top maxPerHop edges
// by amount desc, earliest timestamp, tx hash, then counterparty.
// Self-transfers never expand traversal.
func selectEdges(g *FlowGraph, node models.Address, dir models.Direction, minAmount decimal.Decimal, maxPerHop int) []FlowEdge {
	candidates := g.Expansion(node, dir)
	kept := candidates[:0]
	for _, e := range candidates {
		if e.Amount.LessThan(minAmount) {
			continue
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.TxHash != b.TxHash {
			return a.TxHash < b.TxHash
		}
		return a.Next(dir).Compare(b.Next(dir)) < 0
	})
	if len(kept) > maxPerHop {
		kept = kept[:maxPerHop]
	}
	return kept
}

// EnumeratePaths walks the graph from its seed and returns every bounded
// path, sorted by terminal amount desc, hop count asc, then Key. Nodes in
// failed end their path with TerminatedFetchFailed. The result depends only
// on graph content, cfg and failed.
func EnumeratePaths(g *FlowGraph, cfg TraceConfig, failed map[models.Address]bool) []FlowPath {
	w := &pathWalker{g: g, dir: g.Direction(), cfg: cfg, failed: failed}
	w.walk(g.Seed(), []models.Address{g.Seed()}, nil)
	SortPaths(w.paths)
	return w.paths
}

type pathWalker struct {
	g      *FlowGraph
	dir    models.Direction
	cfg    TraceConfig
	failed map[models.Address]bool
	paths  []FlowPath
}

// walk extends one path; visited is the path's own node list, so the same
// address can appear on sibling paths.
func (w *pathWalker) walk(node models.Address, visited []models.Address, edges []FlowEdge) {
	depth := len(edges)
	if depth > 0 && w.failed[node] {
		w.emit(visited, edges, TerminatedFetchFailed, nil)
		return
	}
	if depth >= w.cfg.MaxHops {
		w.emit(visited, edges, TerminatedMaxHops, nil)
		return
	}

	selected := selectEdges(w.g, node, w.dir, w.cfg.MinAmountThreshold, w.cfg.MaxPathsPerHop)
	if len(selected) == 0 {
		if depth > 0 {
			w.emit(visited, edges, TerminatedNoEdges, nil)
		}
		return
	}

	for _, e := range selected {
		next := e.Next(w.dir)
		if containsAddress(visited, next) {
			closing := e
			w.emit(visited, edges, TerminatedCycle, &closing)
			continue
		}
		hopEdge := e
		hopEdge.Hop = depth + 1
		w.walk(next, appendAddress(visited, next), appendEdge(edges, hopEdge))
	}
}

func (w *pathWalker) emit(nodes []models.Address, edges []FlowEdge, reason TerminationReason, closing *FlowEdge) {
	if len(edges) == 0 {
		return
	}
	p := FlowPath{
		Direction:   w.dir,
		Nodes:       append([]models.Address(nil), nodes...),
		Edges:       append([]FlowEdge(nil), edges...),
		Termination: reason,
		ClosingEdge: closing,
		FirstAmount: edges[0].Amount,
	}
	if closing != nil {
		p.ClosingEdge.Hop = len(edges) + 1
	}
	p.TerminalAmount = edges[0].Amount
	for _, e := range edges[1:] {
		if e.Amount.LessThan(p.TerminalAmount) {
			p.TerminalAmount = e.Amount
		}
	}
	if p.FirstAmount.IsPositive() {
		p.Decay = p.TerminalAmount.Div(p.FirstAmount).InexactFloat64()
	}
	w.paths = append(w.paths, p)
}

// SortPaths orders paths by terminal amount desc, hops asc, then Key.
// Paths from several traces of one seed can be merged and sorted together.
func SortPaths(paths []FlowPath) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if c := a.TerminalAmount.Cmp(b.TerminalAmount); c != 0 {
			return c > 0
		}
		if a.Hops() != b.Hops() {
			return a.Hops() < b.Hops()
		}
		return a.Key() < b.Key()
	})
}

func containsAddress(list []models.Address, a models.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// appendAddress copies so sibling branches never share a backing array
func appendAddress(list []models.Address, a models.Address) []models.Address {
	out := make([]models.Address, len(list)+1)
	copy(out, list)
	out[len(list)] = a
	return out
}

func appendEdge(list []FlowEdge, e FlowEdge) []FlowEdge {
	out := make([]FlowEdge, len(list)+1)
	copy(out, list)
	out[len(list)] = e
	return out
}
