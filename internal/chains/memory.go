package chains

import (
	"context"
	"strconv"
	"sync"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// MemoryAdapter serves transaction history from memory. It backs offline
// replay of fixture files and tests.
type MemoryAdapter struct {
	chain    models.ChainID
	pageSize int

	mu       sync.RWMutex
	history  map[models.Address][]models.Transaction
	balances map[models.Address]decimal.Decimal
	failures map[models.Address]error
	calls    map[models.Address]int
}

// NewMemoryAdapter creates an empty adapter returning pages of pageSize (<=0 means one page)
func NewMemoryAdapter(chain models.ChainID, pageSize int) *MemoryAdapter {
	return &MemoryAdapter{
		chain:    chain,
		pageSize: pageSize,
		history:  make(map[models.Address][]models.Transaction),
		balances: make(map[models.Address]decimal.Decimal),
		failures: make(map[models.Address]error),
		calls:    make(map[models.Address]int),
	}
}

func (m *MemoryAdapter) Chain() models.ChainID { return m.chain }

// AddTransaction indexes tx under every address it involves
func (m *MemoryAdapter) AddTransaction(tx models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[models.Address]bool)
	index := func(addr models.Address) {
		if addr.IsZero() || seen[addr] {
			return
		}
		seen[addr] = true
		txs := append(m.history[addr], tx)
		SortTransactions(txs)
		m.history[addr] = txs
	}
	for _, in := range tx.Inputs {
		index(in.Address)
	}
	for _, out := range tx.Outputs {
		index(out.Address)
	}
}

// SetBalance sets the value returned by FetchBalance
func (m *MemoryAdapter) SetBalance(addr models.Address, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = amount
}

// FailOn makes every fetch for addr return err
func (m *MemoryAdapter) FailOn(addr models.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[addr] = err
}

// Calls returns how many times addr history was requested
func (m *MemoryAdapter) Calls(addr models.Address) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[addr]
}

func (m *MemoryAdapter) FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return models.TransactionPage{}, err
	}

	m.mu.Lock()
	m.calls[addr]++
	err := m.failures[addr]
	txs := m.history[addr]
	m.mu.Unlock()

	if err != nil {
		return models.TransactionPage{}, err
	}

	offset := 0
	if cursor != "" {
		n, convErr := strconv.Atoi(cursor)
		if convErr != nil || n < 0 {
			return models.TransactionPage{}, &models.AdapterUnavailableError{Chain: m.chain, Address: addr.Value, Err: convErr}
		}
		offset = n
	}
	if offset >= len(txs) {
		return models.TransactionPage{}, nil
	}

	end := len(txs)
	if m.pageSize > 0 && offset+m.pageSize < end {
		end = offset + m.pageSize
	}
	page := models.TransactionPage{Transactions: append([]models.Transaction(nil), txs[offset:end]...)}
	if end < len(txs) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryAdapter) FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[addr]; err != nil {
		return decimal.Zero, err
	}
	return m.balances[addr], nil
}
