package chains

import (
	"context"
	"fmt"
	"sort"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// Adapter supplies normalized transaction history for one chain.
//
// FetchTransactions returns one page of the address history starting at
// cursor ("" for the first page). Failures are reported as
// *models.AdapterUnavailableError or *models.RateLimitedError.
type Adapter interface {
	Chain() models.ChainID
	FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error)
}

// BalanceFetcher is implemented by adapters that can report a current balance
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error)
}

// Registry maps each chain to its adapter
type Registry struct {
	adapters map[models.ChainID]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.ChainID]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Chain()
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Chain()] = a
}

// Get returns the adapter for chain
func (r *Registry) Get(chain models.ChainID) (Adapter, error) {
	a, ok := r.adapters[chain]
	if !ok {
		return nil, &models.AdapterUnavailableError{Chain: chain, Err: fmt.Errorf("no adapter configured")}
	}
	return a, nil
}

// Chains returns the configured chains in stable order
func (r *Registry) Chains() []models.ChainID {
	out := make([]models.ChainID, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortTransactions orders txs by timestamp ascending, pending last, hash as tiebreak
func SortTransactions(txs []models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		pi, pj := txs[i].Status == models.TxPending, txs[j].Status == models.TxPending
		if pi != pj {
			return pj
		}
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].Hash < txs[j].Hash
	})
}
