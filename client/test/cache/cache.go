package cache

import (
	"sort"
	"sync"

	"github.com/drand/drand-watch/drand"
)

// MapCache is an unbounded cache that remembers every beacon it is given.
type MapCache struct {
	sync.RWMutex
	data map[uint64]drand.Result
}

// NewMapCache creates a new in memory cache backed by a map.
func NewMapCache() *MapCache {
	return &MapCache{data: make(map[uint64]drand.Result)}
}

// TryGet provides a round beacon or nil if it is not cached.
func (mc *MapCache) TryGet(round uint64) drand.Result {
	mc.RLock()
	defer mc.RUnlock()
	return mc.data[round]
}

// Add adds an item to the cache
func (mc *MapCache) Add(round uint64, result drand.Result) {
	mc.Lock()
	mc.data[round] = result
	mc.Unlock()
}

// Rounds lists the cached rounds in increasing order.
func (mc *MapCache) Rounds() []uint64 {
	mc.RLock()
	defer mc.RUnlock()
	rounds := make([]uint64, 0, len(mc.data))
	for r := range mc.data {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
	return rounds
}
