package arena

import "sync"

// SlabCache is a bump allocator over a sequence of same-sized Arena slabs.
// It never looks inside a slab for size classes; that's the small-object
// allocator's job (package tuple) and the extent pool's job (package
// extent). SlabCache just hands out [n]byte regions carved out of the
// current slab, pulling a fresh one from the Arena when the current slab
// is exhausted.
type SlabCache struct {
	mu      sync.Mutex
	arena   *Arena
	current *Slab
	slabs   []*Slab
}

// NewSlabCache creates a cache drawing slabs from arena.
func NewSlabCache(arena *Arena) *SlabCache {
	return &SlabCache{arena: arena}
}

// Alloc carves out n bytes from the current slab, pulling a new one from
// the Arena if there isn't enough room left. n must not exceed SlabSize.
func (c *SlabCache) Alloc(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.off+n > len(c.current.mem) {
		slab, err := c.arena.AllocSlab()
		if err != nil {
			return nil, err
		}
		c.current = slab
		c.slabs = append(c.slabs, slab)
	}
	buf := c.current.mem[c.current.off : c.current.off+n]
	c.current.off += n
	return buf, nil
}

// SlabCount reports how many slabs this cache currently holds, for
// statistics reporting (Engine.MemoryStat).
func (c *SlabCache) SlabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slabs)
}

// BytesUsed reports the total bytes charged against the underlying arena
// by this cache's slabs.
func (c *SlabCache) BytesUsed() uint64 {
	return uint64(c.SlabCount()) * SlabSize
}
