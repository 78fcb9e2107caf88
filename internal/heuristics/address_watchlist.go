package heuristics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Address Watchlist: known-risk reference set
//
// Concurrent-safe set of addresses with known risk attribution. The
// evaluator consults it as a read-only oracle, so one watchlist is shared
// by every running investigation.
//
// Performance: O(1) lookup using a map keyed by canonical Address.
// Concurrency: sync.RWMutex allows concurrent lookups during evaluation
// while writes (API additions, reference feed refreshes) are serialized.
//
// Categories and default severity hints:
//   sanctioned  OFAC/SDN listed addresses          1.0
//   theft       stolen fund origin addresses       0.9
//   mixer       mixing / tumbling services         0.8
//   scam        phishing, ponzi, fake giveaways    0.8
//   suspect     addresses under investigation      0.6
//   exchange    known exchange deposit addresses   0.1

// RiskHint is what the oracle knows about a flagged address
type RiskHint struct {
	Severity float64 `json:"severity"` // 0.0-1.0
	Category string  `json:"category"`
	Label    string  `json:"label"`
}

// RiskOracle answers set-membership queries against known-risk data.
// Implementations must be safe for concurrent reads.
type RiskOracle interface {
	IsKnownRisk(addr models.Address) (RiskHint, bool)
}

// CategorySeverity returns the default hint for a category (0.5 if unknown)
func CategorySeverity(category string) float64 {
	switch strings.ToLower(category) {
	case "sanctioned":
		return 1.0
	case "theft":
		return 0.9
	case "mixer", "scam":
		return 0.8
	case "suspect":
		return 0.6
	case "exchange":
		return 0.1
	}
	return 0.5
}

// WatchedAddress holds metadata for a flagged address
type WatchedAddress struct {
	Address  models.Address `json:"address"`
	Category string         `json:"category"`
	Label    string         `json:"label"`
	Severity float64        `json:"severity"`
	Source   string         `json:"source"` // api/postgres/redis/fixture
	AddedAt  time.Time      `json:"addedAt"`
}

// AddressWatchlist is a concurrent-safe known-risk address set
type AddressWatchlist struct {
	mu        sync.RWMutex
	addresses map[models.Address]WatchedAddress
}

// NewAddressWatchlist creates a new empty watchlist
func NewAddressWatchlist() *AddressWatchlist {
	return &AddressWatchlist{
		addresses: make(map[models.Address]WatchedAddress),
	}
}

// Add registers or replaces an entry. A severity <= 0 takes the category default.
func (w *AddressWatchlist) Add(entry WatchedAddress) {
	if entry.Severity <= 0 {
		entry.Severity = CategorySeverity(entry.Category)
	}
	if entry.Severity > 1 {
		entry.Severity = 1
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.addresses[entry.Address] = entry
}

// Remove stops flagging an address
func (w *AddressWatchlist) Remove(addr models.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.addresses, addr)
}

// Get returns the watchlist entry for an address
func (w *AddressWatchlist) Get(addr models.Address) (WatchedAddress, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entry, exists := w.addresses[addr]
	return entry, exists
}

// IsKnownRisk implements RiskOracle
func (w *AddressWatchlist) IsKnownRisk(addr models.Address) (RiskHint, bool) {
	entry, ok := w.Get(addr)
	if !ok {
		return RiskHint{}, false
	}
	return RiskHint{Severity: entry.Severity, Category: entry.Category, Label: entry.Label}, true
}

// Size returns the number of watched addresses
func (w *AddressWatchlist) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.addresses)
}

// ListAll returns all entries sorted by address
func (w *AddressWatchlist) ListAll() []WatchedAddress {
	w.mu.RLock()
	list := make([]WatchedAddress, 0, len(w.addresses))
	for _, entry := range w.addresses {
		list = append(list, entry)
	}
	w.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Address.Compare(list[j].Address) < 0 })
	return list
}
