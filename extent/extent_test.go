package extent

import (
	"testing"

	"github.com/dmitrylala/memtx/arena"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	q := arena.NewQuota(0)
	ar := arena.New(q)
	cache := arena.NewSlabCache(ar)
	return NewPool(cache, nil)
}

func TestPoolAllocReturnsFixedSizeExtent(t *testing.T) {
	p := newTestPool(t)
	e, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(e.Bytes()) != Size {
		t.Fatalf("got extent size %d, want %d", len(e.Bytes()), Size)
	}
}

func TestPoolFreeRecyclesExtent(t *testing.T) {
	p := newTestPool(t)
	e, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	p.Free(e)

	e2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if e2 != e {
		t.Fatalf("expected Free'd extent to be reused")
	}
}

func TestReservationAllocNeverFailsWithinBudget(t *testing.T) {
	p := newTestPool(t)
	r, err := p.Reserve(4)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := r.Alloc(); err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
	}
	if _, err := r.Alloc(); err != ErrReservationExhausted {
		t.Fatalf("got %v, want ErrReservationExhausted", err)
	}
}

func TestReservationFreeThenAllocReusesWithoutTouchingPool(t *testing.T) {
	p := newTestPool(t)
	r, err := p.Reserve(1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	e, err := r.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	r.Free(e)
	if r.Remaining() != 1 {
		t.Fatalf("got remaining %d, want 1", r.Remaining())
	}
	e2, err := r.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if e2 != e {
		t.Fatalf("expected reservation to hand back the same extent")
	}
}

func TestReservationReleaseReturnsLeftoverToPool(t *testing.T) {
	p := newTestPool(t)
	r, err := p.Reserve(2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := r.Alloc(); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	leftover := r.extents[0]
	r.Release()

	if r.Remaining() != 0 {
		t.Fatalf("got remaining %d, want 0 after Release", r.Remaining())
	}

	e2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if e2 != leftover {
		t.Fatalf("expected pool free list to contain the released extent")
	}
}
