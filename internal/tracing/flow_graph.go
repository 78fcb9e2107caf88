package tracing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// FlowEdge is one value transfer between two addresses
type FlowEdge struct {
	ID             int             `json:"id"`
	From           models.Address  `json:"from"`
	To             models.Address  `json:"to"`
	Amount         decimal.Decimal `json:"amount"`
	TxHash         string          `json:"txHash"`
	Timestamp      time.Time       `json:"timestamp"`
	Hop            int             `json:"hop"` // distance from the seed when discovered
	IsSelfTransfer bool            `json:"isSelfTransfer"`
}

// Ref identifies the edge for risk signals
func (e FlowEdge) Ref() models.EdgeRef {
	return models.EdgeRef{From: e.From, To: e.To, TxHash: e.TxHash}
}

// Next returns the endpoint reached when following the edge in dir
func (e FlowEdge) Next(dir models.Direction) models.Address {
	if dir == models.Backward {
		return e.From
	}
	return e.To
}

// FlowGraph is the directed multigraph of transfers discovered for one
// investigation. Nodes and edges live in slices and are referenced by index;
// adjacency lists hold edge indices. The graph may contain cycles.
//
// All methods are safe for concurrent use. Writers merge whole transaction
// batches under the write lock.
type FlowGraph struct {
	mu sync.RWMutex

	seed       models.Address
	direction  models.Direction
	extractors map[models.ChainID]EdgeExtractor

	nodes     []models.Address
	nodeIndex map[models.Address]int
	edges     []FlowEdge
	adjOut    [][]int
	adjIn     [][]int
	seenTx    map[string]struct{}
}

// NewFlowGraph creates a graph containing only the seed
func NewFlowGraph(seed models.Address, direction models.Direction) *FlowGraph {
	return NewFlowGraphWithExtractors(seed, direction, DefaultExtractors())
}

// NewFlowGraphWithExtractors overrides the per-chain edge extraction strategies
func NewFlowGraphWithExtractors(seed models.Address, direction models.Direction, extractors map[models.ChainID]EdgeExtractor) *FlowGraph {
	g := &FlowGraph{
		seed:       seed,
		direction:  direction,
		extractors: extractors,
		nodeIndex:  make(map[models.Address]int),
		seenTx:     make(map[string]struct{}),
	}
	g.ensureNode(seed)
	return g
}

func (g *FlowGraph) Seed() models.Address        { return g.seed }
func (g *FlowGraph) Direction() models.Direction { return g.direction }

// AddTransactions merges a batch discovered while expanding a node at hop.
// Transactions already in the graph are skipped, failed transactions add no
// edges, and a transaction from another chain is rejected with
// *models.InvalidChainError without affecting the rest of the batch.
// It returns the number of newly merged transactions.
func (g *FlowGraph) AddTransactions(txs []models.Transaction, hop int) (int, []error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var rejected []error
	added := 0
	for _, tx := range txs {
		if _, dup := g.seenTx[tx.Hash]; dup {
			continue
		}
		if err := g.checkChain(tx); err != nil {
			rejected = append(rejected, err)
			continue
		}
		extract, ok := g.extractors[tx.Chain]
		if !ok {
			rejected = append(rejected, fmt.Errorf("no edge extractor for chain %s", tx.Chain))
			continue
		}

		g.seenTx[tx.Hash] = struct{}{}
		added++
		if tx.Status == models.TxFailed {
			continue
		}
		for _, spec := range extract(tx) {
			g.addEdge(spec, tx, hop+1)
		}
	}
	return added, rejected
}

func (g *FlowGraph) checkChain(tx models.Transaction) error {
	if tx.Chain != g.seed.Chain {
		return &models.InvalidChainError{Expected: g.seed.Chain, Got: tx.Chain, TxHash: tx.Hash}
	}
	for _, side := range [][]models.Transfer{tx.Inputs, tx.Outputs} {
		for _, t := range side {
			if !t.Address.IsZero() && t.Address.Chain != g.seed.Chain {
				return &models.InvalidChainError{Expected: g.seed.Chain, Got: t.Address.Chain, TxHash: tx.Hash}
			}
			if t.Amount.IsNegative() {
				return fmt.Errorf("tx %s: negative amount for %s", tx.Hash, t.Address)
			}
		}
	}
	return nil
}

func (g *FlowGraph) ensureNode(a models.Address) int {
	if idx, ok := g.nodeIndex[a]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, a)
	g.nodeIndex[a] = idx
	g.adjOut = append(g.adjOut, nil)
	g.adjIn = append(g.adjIn, nil)
	return idx
}

func (g *FlowGraph) addEdge(spec EdgeSpec, tx models.Transaction, hop int) {
	from := g.ensureNode(spec.From)
	to := g.ensureNode(spec.To)
	id := len(g.edges)
	g.edges = append(g.edges, FlowEdge{
		ID:             id,
		From:           spec.From,
		To:             spec.To,
		Amount:         spec.Amount,
		TxHash:         tx.Hash,
		Timestamp:      tx.Timestamp,
		Hop:            hop,
		IsSelfTransfer: spec.From == spec.To,
	})
	g.adjOut[from] = append(g.adjOut[from], id)
	if from != to {
		g.adjIn[to] = append(g.adjIn[to], id)
	}
}

// HasNode reports whether a is in the graph
func (g *FlowGraph) HasNode(a models.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodeIndex[a]
	return ok
}

// Nodes returns all addresses in insertion order
func (g *FlowGraph) Nodes() []models.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.Address(nil), g.nodes...)
}

// Edges returns all edges in insertion order
func (g *FlowGraph) Edges() []FlowEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]FlowEdge(nil), g.edges...)
}

func (g *FlowGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *FlowGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// OutEdges returns edges leaving a, self-transfers excluded
func (g *FlowGraph) OutEdges(a models.Address) []FlowEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIndex[a]
	if !ok {
		return nil
	}
	return g.collect(g.adjOut[idx], true)
}

// InEdges returns edges arriving at a, self-transfers excluded
func (g *FlowGraph) InEdges(a models.Address) []FlowEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIndex[a]
	if !ok {
		return nil
	}
	return g.collect(g.adjIn[idx], true)
}

// SelfTransfers returns self-transfer edges recorded at a
func (g *FlowGraph) SelfTransfers(a models.Address) []FlowEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIndex[a]
	if !ok {
		return nil
	}
	var out []FlowEdge
	for _, id := range g.adjOut[idx] {
		if g.edges[id].IsSelfTransfer {
			out = append(out, g.edges[id])
		}
	}
	return out
}

// Expansion returns the edges that move away from a in dir
func (g *FlowGraph) Expansion(a models.Address, dir models.Direction) []FlowEdge {
	if dir == models.Backward {
		return g.InEdges(a)
	}
	return g.OutEdges(a)
}

// Degree returns in- and out-degree of a, self-transfers excluded
func (g *FlowGraph) Degree(a models.Address) (in, out int) {
	return len(g.InEdges(a)), len(g.OutEdges(a))
}

func (g *FlowGraph) collect(ids []int, skipSelf bool) []FlowEdge {
	out := make([]FlowEdge, 0, len(ids))
	for _, id := range ids {
		e := g.edges[id]
		if skipSelf && e.IsSelfTransfer {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Distances returns the shortest hop count from the seed to every node,
// ignoring edge direction and self-transfers.
func (g *FlowGraph) Distances() map[models.Address]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dist := make([]int, len(g.nodes))
	for i := range dist {
		dist[i] = -1
	}
	start := g.nodeIndex[g.seed]
	dist[start] = 0
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, list := range [][]int{g.adjOut[cur], g.adjIn[cur]} {
			for _, id := range list {
				e := g.edges[id]
				if e.IsSelfTransfer {
					continue
				}
				next := g.nodeIndex[e.To]
				if next == cur {
					next = g.nodeIndex[e.From]
				}
				if dist[next] == -1 {
					dist[next] = dist[cur] + 1
					queue = append(queue, next)
				}
			}
		}
	}

	out := make(map[models.Address]int, len(g.nodes))
	for i, d := range dist {
		if d >= 0 {
			out[g.nodes[i]] = d
		}
	}
	return out
}

// FlowSummary is the inbound/outbound overview of the seed's direct transfers
type FlowSummary struct {
	TotalInbound    decimal.Decimal `json:"totalInbound"`
	TotalOutbound   decimal.Decimal `json:"totalOutbound"`
	InboundCount    int             `json:"inboundCount"`
	OutboundCount   int             `json:"outboundCount"`
	Counterparties  int             `json:"counterparties"`
	LargestTransfer *FlowEdge       `json:"largestTransfer,omitempty"`
	TotalNodes      int             `json:"totalNodes"`
	TotalEdges      int             `json:"totalEdges"`
}

// Summary returns totals over the seed's direct edges
func (g *FlowGraph) Summary() FlowSummary {
	in := g.InEdges(g.seed)
	out := g.OutEdges(g.seed)
	s := FlowSummary{
		TotalInbound:  decimal.Zero,
		TotalOutbound: decimal.Zero,
		InboundCount:  len(in),
		OutboundCount: len(out),
		TotalNodes:    g.NodeCount(),
		TotalEdges:    g.EdgeCount(),
	}

	parties := make(map[models.Address]struct{})
	consider := func(e FlowEdge) {
		if s.LargestTransfer == nil || e.Amount.GreaterThan(s.LargestTransfer.Amount) {
			edge := e
			s.LargestTransfer = &edge
		}
	}
	for _, e := range in {
		s.TotalInbound = s.TotalInbound.Add(e.Amount)
		parties[e.From] = struct{}{}
		consider(e)
	}
	for _, e := range out {
		s.TotalOutbound = s.TotalOutbound.Add(e.Amount)
		parties[e.To] = struct{}{}
		consider(e)
	}
	s.Counterparties = len(parties)
	return s
}

// sortedAddresses returns addrs ordered by Address.Compare
func sortedAddresses(set map[models.Address]struct{}) []models.Address {
	out := make([]models.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
