package heuristics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressWatchlist_CategoryDefaults(t *testing.T) {
	wl := NewAddressWatchlist()
	wl.Add(WatchedAddress{Address: eth("0xbb"), Category: "Mixer", Label: "tumbler"})
	wl.Add(WatchedAddress{Address: eth("0xaa"), Category: "custom", Severity: 3})

	hint, ok := wl.IsKnownRisk(eth("0xBB"))
	require.True(t, ok)
	assert.Equal(t, 0.8, hint.Severity)
	assert.Equal(t, "tumbler", hint.Label)

	entry, ok := wl.Get(eth("0xaa"))
	require.True(t, ok)
	assert.Equal(t, 1.0, entry.Severity)
	assert.False(t, entry.AddedAt.IsZero())

	_, ok = wl.IsKnownRisk(eth("0xcc"))
	assert.False(t, ok)
	assert.Equal(t, 0.5, CategorySeverity("unknown"))
}

func TestAddressWatchlist_ListAndRemove(t *testing.T) {
	wl := NewAddressWatchlist()
	for _, a := range []string{"0x03", "0x01", "0x02"} {
		wl.Add(WatchedAddress{Address: eth(a), Category: "suspect"})
	}
	list := wl.ListAll()
	require.Len(t, list, 3)
	assert.Equal(t, eth("0x01"), list[0].Address)
	assert.Equal(t, eth("0x03"), list[2].Address)

	wl.Remove(eth("0x02"))
	assert.Equal(t, 2, wl.Size())
	_, ok := wl.Get(eth("0x02"))
	assert.False(t, ok)
}

func TestAddressWatchlist_ConcurrentAccess(t *testing.T) {
	wl := NewAddressWatchlist()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wl.Add(WatchedAddress{Address: eth("0xdd"), Category: "theft"})
			wl.IsKnownRisk(eth("0xdd"))
			wl.ListAll()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wl.Size())
}
