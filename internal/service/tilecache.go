package service

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTileCacheTTL is how long an encoded tile stays cached.
const DefaultTileCacheTTL = 10 * time.Minute

const tileCacheCapacity = 4096

// tileCache holds encoded MVT tiles of one built index. A rebuild replaces
// the cache together with the index, so entries never outlive their pyramid.
// A nil entry records an empty tile.
type tileCache struct {
	cache *ttlcache.Cache[string, []byte]
}

func newTileCache(ttl time.Duration) *tileCache {
	if ttl <= 0 {
		ttl = DefaultTileCacheTTL
	}
	return &tileCache{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []byte](ttl),
			ttlcache.WithCapacity[string, []byte](tileCacheCapacity),
		),
	}
}

func tileKey(z, x, y int) string {
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}

// get returns the cached tile and whether it was present.
func (c *tileCache) get(z, x, y int) ([]byte, bool) {
	item := c.cache.Get(tileKey(z, x, y))
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *tileCache) set(z, x, y int, data []byte) {
	c.cache.Set(tileKey(z, x, y), data, ttlcache.DefaultTTL)
}

func (c *tileCache) len() int {
	return c.cache.Len()
}
