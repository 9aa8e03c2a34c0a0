package labelvol

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/coocood/freecache"

	"github.com/voxellab/segvol/voxel"
)

// headerCache keeps recently seen volume headers so converters that pass
// over the same files repeatedly skip the gzip open.  Entries are keyed by
// path, size, and mtime, so a rewritten file never serves a stale header.
type headerCache struct {
	cache    *freecache.Cache
	attempts uint64
	hits     uint64
}

func newHeaderCache(numBytes int) *headerCache {
	if numBytes <= 0 {
		return nil
	}
	return &headerCache{cache: freecache.NewCache(numBytes)}
}

func cacheKey(path string, info os.FileInfo) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano()))
}

// header loads a header-only volume through the cache.  A nil receiver
// reads straight from disk.
func (c *headerCache) header(path string) (*voxel.Volume, error) {
	if c == nil {
		return voxel.LoadHeader(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey(path, info)

	atomic.AddUint64(&c.attempts, 1)
	blocks, err := c.cache.Get(key)
	if err != nil && err != freecache.ErrNotFound {
		return nil, err
	}
	if blocks != nil {
		vol, err := voxel.NewVolumeFromHeader(path, blocks[:348], blocks[348:])
		if err == nil {
			atomic.AddUint64(&c.hits, 1)
			return vol, nil
		}
		voxel.Errorf("bad cached header for %q, rereading: %v\n", path, err)
	}

	vol, err := voxel.LoadHeader(path)
	if err != nil {
		return nil, err
	}
	hdr, ext := vol.RawHeader()
	if err := c.cache.Set(key, append(append([]byte(nil), hdr...), ext...), 0); err != nil {
		voxel.Errorf("unable to cache header for %q: %v\n", path, err)
	}
	return vol, nil
}

// stats reports cache attempts and hits since creation.
func (c *headerCache) stats() (attempts, hits uint64) {
	if c == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&c.attempts), atomic.LoadUint64(&c.hits)
}
