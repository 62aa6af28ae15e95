package packedstorage

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// blockCache is a bounded LRU of recently decoded blocks, keyed by block
// index, guarded by its own mutex so a Reader stays safe for concurrent
// ReadRange/ReadBlock/IterBlocks calls (spec.md §5). It is grounded on
// the pack sibling wal-g/wal-g, which reaches for
// github.com/hashicorp/golang-lru for exactly this shape of "bounded
// cache of expensive-to-recompute byte buffers".
//
// A block whose decoded size exceeds byteBudget on its own is decoded
// transiently and never cached, per spec.md §9.
type blockCache struct {
	capacity   int
	byteBudget int64

	mu        sync.Mutex
	lru       *lru.Cache
	usedBytes int64
}

func newBlockCache(capacity int, byteBudget int64) *blockCache {
	c := &blockCache{capacity: capacity, byteBudget: byteBudget}
	if capacity <= 0 {
		return c
	}

	l, err := lru.NewWithEvict(capacity, func(_ interface{}, value interface{}) {
		c.usedBytes -= int64(len(value.([]byte)))
	})
	if err != nil {
		// NewWithEvict only errors on a non-positive size, already
		// excluded above.
		return c
	}
	c.lru = l
	return c
}

func (c *blockCache) get(blockIndex int) ([]byte, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(blockIndex)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *blockCache) put(blockIndex int, decoded []byte) {
	if c == nil || c.lru == nil {
		return
	}
	if int64(len(decoded)) > c.byteBudget {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.usedBytes+int64(len(decoded)) > c.byteBudget && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}

	c.lru.Add(blockIndex, decoded)
	c.usedBytes += int64(len(decoded))
}
