package combat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerCacheMergeCreatesEntry(t *testing.T) {
	c := NewPlayerCache()
	c.Merge(0x4b0, CacheUpdate{Name: "Riven", ClassID: 1, AbilityScore: 1200})

	entry, ok := c.Get(0x4b0)
	require.True(t, ok)
	assert.Equal(t, "Riven", entry.Name)
	assert.Equal(t, int32(1), entry.ClassID)
	assert.Equal(t, int64(1200), entry.AbilityScore)
}

func TestPlayerCacheMergeIsMonotonic(t *testing.T) {
	c := NewPlayerCache()
	c.Merge(1, CacheUpdate{Name: "First", ClassID: 2, SpecID: 3, AbilityScore: 100, SpecName: "Icicle"})
	c.Merge(1, CacheUpdate{Name: "Second", ClassID: 9, SpecID: 9, AbilityScore: 999, SpecName: "Block"})

	entry, _ := c.Get(1)
	assert.Equal(t, "First", entry.Name)
	assert.Equal(t, int32(2), entry.ClassID)
	assert.Equal(t, int32(3), entry.SpecID)
	assert.Equal(t, int64(100), entry.AbilityScore)
	assert.Equal(t, "Icicle", entry.SpecName)
}

func TestPlayerCacheMergeIsIdempotent(t *testing.T) {
	c := NewPlayerCache()
	upd := CacheUpdate{Name: "Kestrel", ClassID: 12, AbilityScore: 555}
	c.Merge(7, upd)
	first, _ := c.Get(7)
	c.Merge(7, upd)
	second, _ := c.Get(7)
	assert.Equal(t, first, second)
}

func TestPlayerCacheRejectsInvalidNames(t *testing.T) {
	c := NewPlayerCache()
	c.Merge(1, CacheUpdate{Name: "Unknown"})
	entry, ok := c.Get(1)
	require.True(t, ok, "entry exists even when the name was rejected")
	assert.Empty(t, entry.Name)

	c.Merge(1, CacheUpdate{Name: ""})
	entry, _ = c.Get(1)
	assert.Empty(t, entry.Name)

	c.Merge(1, CacheUpdate{Name: "Riven"})
	entry, _ = c.Get(1)
	assert.Equal(t, "Riven", entry.Name)
}

func TestPlayerCacheRejectsNonPositiveNumbers(t *testing.T) {
	c := NewPlayerCache()
	c.Merge(1, CacheUpdate{ClassID: 0, SpecID: -1, AbilityScore: -5})
	entry, _ := c.Get(1)
	assert.Zero(t, entry.ClassID)
	assert.Zero(t, entry.SpecID)
	assert.Zero(t, entry.AbilityScore)
}

func TestPlayerCacheMiss(t *testing.T) {
	c := NewPlayerCache()
	_, ok := c.Get(42)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}
