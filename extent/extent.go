// Package extent implements the fixed-size block allocator that backs
// index structures (B-tree pages, hash buckets). Extents are carved out
// of arena slabs in fixed 16KiB units, so an index can reserve a worst
// case budget up front and then rebalance without ever risking a failed
// mid-operation allocation.
package extent

import (
	"errors"
	"sync"

	"github.com/dmitrylala/memtx/arena"
)

// Size is the fixed size of one extent. Matches the engine's index
// extent size.
const Size = 16 * 1024

// ErrReservationExhausted is returned by Alloc when the caller has used
// up every extent it reserved in advance.
var ErrReservationExhausted = errors.New("extent: reservation exhausted")

// GCStepper lets the pool ask the garbage collector to make room when the
// underlying slab cache is exhausted. Mirrors tuple.GCStepper so both
// allocators retry through the same collector.
type GCStepper interface {
	RunOneStep() (done bool)
}

// Extent is one fixed-size block handed out by a Pool.
type Extent struct {
	buf []byte
}

// Bytes returns the extent's backing storage.
func (e *Extent) Bytes() []byte { return e.buf }

// Pool hands out fixed-size Extents carved out of an arena.SlabCache, and
// recycles freed extents through a LIFO free list.
type Pool struct {
	cache *arena.SlabCache
	gc    GCStepper

	mu       sync.Mutex
	freeList []*Extent
}

// NewPool creates a Pool drawing extents from cache, retrying an
// underlying-cache exhaustion through gc (may be nil to disable retries).
func NewPool(cache *arena.SlabCache, gc GCStepper) *Pool {
	return &Pool{cache: cache, gc: gc}
}

// Alloc returns one extent: from the free list first, otherwise from the
// underlying fixed-size pool, retrying once through the garbage collector
// per round on exhaustion (spec §4.2), the same shape as
// tuple.Allocator.Alloc.
func (p *Pool) Alloc() (*Extent, error) {
	p.mu.Lock()
	if n := len(p.freeList); n > 0 {
		e := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	for {
		buf, err := p.cache.Alloc(Size)
		if err == nil {
			return &Extent{buf: buf}, nil
		}
		if p.gc == nil {
			return nil, err
		}
		if done := p.gc.RunOneStep(); done {
			buf, err := p.cache.Alloc(Size)
			if err != nil {
				return nil, err
			}
			return &Extent{buf: buf}, nil
		}
	}
}

// Free returns an extent to the pool's free list for reuse.
func (p *Pool) Free(e *Extent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeList = append(p.freeList, e)
}

// Reserve draws n extents up front from the pool (growing the underlying
// arena if needed) and returns a Reservation that can then hand them out
// one at a time without ever failing. This is what lets an index
// rebalance operation guarantee it can't run out of memory partway
// through: it reserves its worst-case extent budget before starting the
// rebalance, not during it.
func (p *Pool) Reserve(n int) (*Reservation, error) {
	extents := make([]*Extent, 0, n)
	for i := 0; i < n; i++ {
		e, err := p.Alloc()
		if err != nil {
			// Return what we already drew before failing the reservation.
			for _, got := range extents {
				p.Free(got)
			}
			return nil, err
		}
		extents = append(extents, e)
	}
	return &Reservation{pool: p, extents: extents}, nil
}

// Reservation is a pre-drawn batch of extents. Alloc and Free on a
// Reservation never touch the underlying Pool's allocation path (and so
// never fail) once the reservation has been made.
type Reservation struct {
	mu      sync.Mutex
	pool    *Pool
	extents []*Extent
}

// Alloc hands out one extent from the reservation. It is infallible as
// long as the caller requested no more extents overall than it reserved;
// ErrReservationExhausted signals a caller bug, not an out-of-memory
// condition.
func (r *Reservation) Alloc() (*Extent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.extents) == 0 {
		return nil, ErrReservationExhausted
	}
	n := len(r.extents)
	e := r.extents[n-1]
	r.extents = r.extents[:n-1]
	return e, nil
}

// Free returns an extent to the reservation so a later Alloc call within
// the same rebalance can reuse it without growing the pool.
func (r *Reservation) Free(e *Extent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extents = append(r.extents, e)
}

// Release returns any extents left unused in the reservation back to the
// pool's general free list, called once the rebalance operation
// completes.
func (r *Reservation) Release() {
	r.mu.Lock()
	leftover := r.extents
	r.extents = nil
	r.mu.Unlock()

	for _, e := range leftover {
		r.pool.Free(e)
	}
}

// Remaining reports how many extents are still available in the
// reservation, for tests and statistics.
func (r *Reservation) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.extents)
}
