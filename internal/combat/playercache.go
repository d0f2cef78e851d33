package combat

import (
	"sync"

	"github.com/resonance/meter/internal/protocol"
)

// CacheEntry is the process-wide knowledge about one player uid. Fields
// grow monotonically: a valid value, once set, is never overwritten.
type CacheEntry struct {
	UID          uint64
	Name         string
	ClassID      int32
	SpecID       int32
	AbilityScore int64
	SpecName     string
}

// CacheUpdate carries candidate values for a merge; zero values mean
// "not observed".
type CacheUpdate struct {
	Name         string
	ClassID      int32
	SpecID       int32
	AbilityScore int64
	SpecName     string
}

// PlayerCache maps shifted player ids to identity data learned anywhere in
// the stream. Safe for concurrent use.
type PlayerCache struct {
	mu      sync.RWMutex
	players map[uint64]*CacheEntry
}

func NewPlayerCache() *PlayerCache {
	return &PlayerCache{players: make(map[uint64]*CacheEntry)}
}

// Merge folds an update into the entry for uid, creating it if needed.
// Names must pass the validity filter; numeric fields must be strictly
// positive and only fill empty slots.
func (c *PlayerCache) Merge(uid uint64, upd CacheUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.players[uid]
	if !ok {
		entry = &CacheEntry{UID: uid}
		c.players[uid] = entry
	}
	if entry.Name == "" && protocol.ValidName(upd.Name) {
		entry.Name = upd.Name
	}
	if entry.ClassID == 0 && upd.ClassID > 0 {
		entry.ClassID = upd.ClassID
	}
	if entry.SpecID == 0 && upd.SpecID > 0 {
		entry.SpecID = upd.SpecID
	}
	if entry.AbilityScore == 0 && upd.AbilityScore > 0 {
		entry.AbilityScore = upd.AbilityScore
	}
	if entry.SpecName == "" && upd.SpecName != "" {
		entry.SpecName = upd.SpecName
	}
}

// Get returns a copy of the entry for uid.
func (c *PlayerCache) Get(uid uint64) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.players[uid]
	if !ok {
		return CacheEntry{}, false
	}
	return *entry, true
}

// Len returns the number of cached players.
func (c *PlayerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.players)
}
