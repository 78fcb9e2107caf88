package investigation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/wallet-investigator/internal/tracing"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// Investigation Case Manager
//
// Keeps the investigations of this process in memory by ID. Readers
// always get a snapshot; only the service mutates a case, through update.
//
// Retention: finished cases older than the TTL are dropped, and past the
// case cap the oldest finished cases go first. Running cases are never
// evicted.
//
// Lifecycle:
//   running    classification done, trace or scoring in progress
//   completed  opinion available (possibly with partial coverage)
//   failed     fatal error before an opinion could be produced

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Request is what a caller asks to investigate
type Request struct {
	Address   string `json:"address" binding:"required"`
	Chain     string `json:"chain,omitempty"`     // empty means auto-detect
	Direction string `json:"direction,omitempty"` // forward|backward|both, default both
}

// Investigation is one case and everything it produced so far
type Investigation struct {
	ID         string                                   `json:"id"`
	Request    Request                                  `json:"request"`
	Seed       models.Address                           `json:"seed"`
	Candidates []models.ChainID                         `json:"candidates,omitempty"` // every chain the address format fits
	Directions []models.Direction                       `json:"directions"`
	Status     Status                                   `json:"status"`
	Balance    *decimal.Decimal                         `json:"balance,omitempty"`
	Flows      map[models.Direction]tracing.FlowSummary `json:"flows,omitempty"`
	Paths      []tracing.FlowPath                       `json:"-"`
	Opinion    *models.RiskOpinion                      `json:"opinion,omitempty"`
	Error      string                                   `json:"error,omitempty"`
	CreatedAt  time.Time                                `json:"createdAt"`
	UpdatedAt  time.Time                                `json:"updatedAt"`
}

// Retention defaults
const (
	DefaultMaxCases = 1000
	DefaultCaseTTL  = 24 * time.Hour
)

// Manager handles CRUD for investigations
type Manager struct {
	mu       sync.RWMutex
	cases    map[string]*Investigation
	maxCases int
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates an empty case manager. maxCases <= 0 and ttl <= 0
// fall back to DefaultMaxCases and DefaultCaseTTL.
func NewManager(maxCases int, ttl time.Duration) *Manager {
	if maxCases <= 0 {
		maxCases = DefaultMaxCases
	}
	if ttl <= 0 {
		ttl = DefaultCaseTTL
	}
	return &Manager{
		cases:    make(map[string]*Investigation),
		maxCases: maxCases,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a running case under a fresh UUID
func (m *Manager) Create(req Request, seed models.Address, candidates []models.ChainID, dirs []models.Direction) Investigation {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	inv := &Investigation{
		ID:         uuid.NewString(),
		Request:    req,
		Seed:       seed,
		Candidates: candidates,
		Directions: dirs,
		Status:     StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.evictLocked(now)
	m.cases[inv.ID] = inv
	return *inv
}

// evictLocked makes room for one more case. Caller holds mu.
func (m *Manager) evictLocked(now time.Time) {
	var finished []*Investigation
	for id, inv := range m.cases {
		if inv.Status == StatusRunning {
			continue
		}
		if now.Sub(inv.UpdatedAt) > m.ttl {
			delete(m.cases, id)
			continue
		}
		finished = append(finished, inv)
	}

	excess := len(m.cases) + 1 - m.maxCases
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		if !finished[i].UpdatedAt.Equal(finished[j].UpdatedAt) {
			return finished[i].UpdatedAt.Before(finished[j].UpdatedAt)
		}
		return finished[i].ID < finished[j].ID
	})
	for i := 0; i < excess && i < len(finished); i++ {
		delete(m.cases, finished[i].ID)
	}
}

// Get retrieves a snapshot of a case by ID
func (m *Manager) Get(id string) (Investigation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.cases[id]
	if !ok {
		return Investigation{}, false
	}
	return *inv, true
}

// List returns snapshots of every case, newest first
func (m *Manager) List() []Investigation {
	m.mu.RLock()
	list := make([]Investigation, 0, len(m.cases))
	for _, inv := range m.cases {
		list = append(list, *inv)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (m *Manager) update(id string, fn func(inv *Investigation)) (Investigation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.cases[id]
	if !ok {
		return Investigation{}, false
	}
	fn(inv)
	inv.UpdatedAt = m.now()
	return *inv, true
}
