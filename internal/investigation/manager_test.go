package investigation

import (
	"testing"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock lets tests age cases without sleeping
type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(maxCases int, ttl time.Duration) (*Manager, *manualClock) {
	clock := &manualClock{t: t0}
	m := NewManager(maxCases, ttl)
	m.now = clock.now
	return m, clock
}

func createCase(m *Manager, n int) Investigation {
	return m.Create(Request{Address: hex(n)}, eth(n), nil, []models.Direction{models.Forward})
}

func finish(t *testing.T, m *Manager, id string) {
	t.Helper()
	_, ok := m.update(id, func(i *Investigation) { i.Status = StatusCompleted })
	require.True(t, ok)
}

func TestManager_EvictsOldestFinishedPastCap(t *testing.T) {
	m, clock := newTestManager(2, time.Hour)

	first := createCase(m, 1)
	finish(t, m, first.ID)
	clock.advance(time.Minute)
	second := createCase(m, 2)
	finish(t, m, second.ID)
	clock.advance(time.Minute)

	third := createCase(m, 3)
	_, ok := m.Get(first.ID)
	assert.False(t, ok)
	_, ok = m.Get(second.ID)
	assert.True(t, ok)
	_, ok = m.Get(third.ID)
	assert.True(t, ok)
	assert.Len(t, m.List(), 2)
}

func TestManager_NeverEvictsRunningCases(t *testing.T) {
	m, clock := newTestManager(1, time.Minute)

	running := createCase(m, 1)
	clock.advance(time.Hour)
	other := createCase(m, 2)

	_, ok := m.Get(running.ID)
	assert.True(t, ok)
	_, ok = m.Get(other.ID)
	assert.True(t, ok)
}

func TestManager_ExpiresFinishedCases(t *testing.T) {
	m, clock := newTestManager(10, time.Hour)

	old := createCase(m, 1)
	finish(t, m, old.ID)
	clock.advance(30 * time.Minute)
	recent := createCase(m, 2)
	finish(t, m, recent.ID)

	clock.advance(45 * time.Minute)
	createCase(m, 3)

	_, ok := m.Get(old.ID)
	assert.False(t, ok)
	_, ok = m.Get(recent.ID)
	assert.True(t, ok)
}

func TestManager_ListNewestFirst(t *testing.T) {
	m, clock := newTestManager(0, 0)
	a := createCase(m, 1)
	clock.advance(time.Second)
	b := createCase(m, 2)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}
