package tuple

import (
	"sort"
	"sync"

	"github.com/dmitrylala/memtx/arena"
)

// GCStepper lets the allocator ask the garbage collector to make room when
// an allocation can't otherwise be satisfied. RunOneStep performs one unit
// of GC work and reports whether the collector has nothing left to do.
type GCStepper interface {
	RunOneStep() (done bool)
}

// FreeMode selects how Allocator.Free behaves. See I1: while any checkpoint
// is in flight the allocator is kept in ModeDelayed.
type FreeMode int

const (
	// ModeImmediate releases memory back to its size class the instant
	// Free is called.
	ModeImmediate FreeMode = iota
	// ModeDelayed queues frees for bulk release once the allocator
	// leaves delayed mode (checkpoint commit/abort).
	ModeDelayed
)

// Allocator is a size-class small-object allocator over a tuple
// arena.SlabCache. It supports the two free modes the engine needs to
// implement copy-on-write snapshots: immediate release, and delayed
// release queued until a checkpoint completes.
type Allocator struct {
	cache      *arena.SlabCache
	classSizes []int
	gc         GCStepper

	mu             sync.Mutex
	mode           FreeMode
	freeLists      [][][]byte // one LIFO free list per size class
	delayed        [][]byte   // queued frees, released in bulk on DrainDelayed
	delayedClasses []int      // size class for each entry in delayed
}

// NewAllocator builds the size-class table from minObjectSize (rounded up
// to 16) up to maxSize, growing each class by growthFactor, mirroring the
// engine's "minimum object size" / "allocation growth factor" tunables.
func NewAllocator(cache *arena.SlabCache, minObjectSize int, growthFactor float64, maxSize int, gc GCStepper) *Allocator {
	if minObjectSize < 16 {
		minObjectSize = 16
	} else {
		minObjectSize = ((minObjectSize + 15) / 16) * 16
	}
	if growthFactor <= 1.0 {
		growthFactor = 1.2
	}
	var classes []int
	for size := float64(minObjectSize); int(size) < maxSize; size *= growthFactor {
		classes = append(classes, int(size))
	}
	classes = append(classes, maxSize)

	return &Allocator{
		cache:      cache,
		classSizes: classes,
		gc:         gc,
		freeLists:  make([][][]byte, len(classes)),
	}
}

// classFor returns the index of the smallest size class that fits n bytes,
// or -1 if n exceeds every class (the caller must reject as too large).
func (a *Allocator) classFor(n int) int {
	idx := sort.SearchInts(a.classSizes, n)
	if idx >= len(a.classSizes) {
		return -1
	}
	return idx
}

// Alloc returns n bytes of scratch storage, retrying once through the
// garbage collector on exhaustion per round, matching make_tuple's "on
// out-of-memory, runs one step of GC and retries; stops when GC reports
// done" rule.
func (a *Allocator) Alloc(n int) ([]byte, int, error) {
	class := a.classFor(n)
	if class < 0 {
		return nil, 0, ErrTupleTooLarge
	}
	for {
		buf, err := a.allocClass(class)
		if err == nil {
			return buf[:n], class, nil
		}
		if a.gc == nil {
			return nil, 0, ErrOutOfMemory
		}
		if done := a.gc.RunOneStep(); done {
			// One more try after the final step, then give up.
			buf, err := a.allocClass(class)
			if err != nil {
				return nil, 0, ErrOutOfMemory
			}
			return buf[:n], class, nil
		}
	}
}

func (a *Allocator) allocClass(class int) ([]byte, error) {
	a.mu.Lock()
	if n := len(a.freeLists[class]); n > 0 {
		buf := a.freeLists[class][n-1]
		a.freeLists[class] = a.freeLists[class][:n-1]
		a.mu.Unlock()
		return buf, nil
	}
	a.mu.Unlock()

	return a.cache.Alloc(a.classSizes[class])
}

// SetMode switches the allocator between immediate and delayed free.
// Leaving ModeDelayed drains the queued frees in bulk.
func (a *Allocator) SetMode(mode FreeMode) {
	a.mu.Lock()
	prev := a.mode
	a.mode = mode
	a.mu.Unlock()

	if prev == ModeDelayed && mode == ModeImmediate {
		a.DrainDelayed()
	}
}

// Mode reports the allocator's current free mode.
func (a *Allocator) Mode() FreeMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Free releases buf (originally returned from Alloc for the given class)
// according to immediate, which the caller computes per I2: a tuple may be
// freed immediately iff its generation equals the engine's current
// generation, or its format is temporary, or the allocator isn't in
// delayed mode.
func (a *Allocator) Free(class int, buf []byte, immediate bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if immediate || a.mode == ModeImmediate {
		a.freeLists[class] = append(a.freeLists[class], buf[:cap(buf)])
		return
	}
	a.delayed = append(a.delayed, buf[:cap(buf)])
	a.delayedClasses = append(a.delayedClasses, class)
}

// DrainDelayed releases every queued delayed free in bulk. Called when the
// allocator leaves delayed mode (checkpoint commit) or is forced to catch
// up (checkpoint abort).
func (a *Allocator) DrainDelayed() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, buf := range a.delayed {
		class := a.delayedClasses[i]
		a.freeLists[class] = append(a.freeLists[class], buf)
	}
	a.delayed = a.delayed[:0]
	a.delayedClasses = a.delayedClasses[:0]
}

// PendingDelayed reports how many frees are currently queued, for tests
// and statistics.
func (a *Allocator) PendingDelayed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delayed)
}
