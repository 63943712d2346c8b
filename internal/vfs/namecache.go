package vfs

import (
	"github.com/dgraph-io/ristretto"

	"blockvfs/internal/logging"
	"blockvfs/internal/storage"
)

var cacheLogger = logging.GetLogger().WithPrefix("namecache")

// nameCache memoizes the names stored in metadata regions so directory scans
// don't have to jump into every metadata region on each lookup. Cost is the
// name length in bytes.
type nameCache struct {
	cache *ristretto.Cache
}

func newNameCache() (*nameCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &nameCache{cache: c}, nil
}

func (nc *nameCache) get(region storage.RegionID) (string, bool) {
	v, ok := nc.cache.Get(uint64(region))
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

func (nc *nameCache) put(region storage.RegionID, name string) {
	nc.cache.Set(uint64(region), name, int64(len(name)))
}

// drop removes a region's cached name. Called whenever a metadata region is
// freed; the region id will be recycled and must not serve a stale name.
func (nc *nameCache) drop(region storage.RegionID) {
	cacheLogger.Trace("Dropping cached name for region %d", region)
	nc.cache.Del(uint64(region))
	nc.cache.Wait()
}

func (nc *nameCache) close() {
	nc.cache.Close()
}
