package client

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/drand/drand-watch/drand"
)

// DefaultCacheSize is the number of verified beacons a client keeps.
const DefaultCacheSize = 32

// Cache holds verified beacons by round. Implementations are safe for
// concurrent use.
type Cache interface {
	// TryGet provides a round beacon or nil if it is not cached.
	TryGet(round uint64) drand.Result
	// Add adds an item to the cache
	Add(round uint64, result drand.Result)
}

// NewCache returns an ARC cache of size beacons, or a cache that keeps
// nothing when size is 0.
func NewCache(size int) (Cache, error) {
	if size == 0 {
		return nullCache{}, nil
	}
	c, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &typedCache{c}, nil
}

type typedCache struct {
	*lru.ARCCache
}

func (t *typedCache) Add(round uint64, result drand.Result) {
	t.ARCCache.Add(round, result)
}

func (t *typedCache) TryGet(round uint64) drand.Result {
	if v, ok := t.ARCCache.Get(round); ok {
		return v.(drand.Result)
	}
	return nil
}

type nullCache struct{}

func (nullCache) Add(uint64, drand.Result) {}

func (nullCache) TryGet(uint64) drand.Result {
	return nil
}
