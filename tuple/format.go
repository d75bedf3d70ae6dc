package tuple

import "sync"

// Format describes how a tuple's raw body decodes into a field map. It
// also carries the "temporary" flag that, per the engine's free-mode
// rules (I2), makes every tuple of this format eligible for immediate
// free regardless of the allocator's current mode.
type Format struct {
	ID         uint32
	FieldCount int
	Temporary  bool

	mu       sync.Mutex
	refcount int64
}

// NewFormat creates a format descriptor with a zero refcount.
func NewFormat(id uint32, fieldCount int, temporary bool) *Format {
	return &Format{ID: id, FieldCount: fieldCount, Temporary: temporary}
}

// ref bumps the format's refcount; called once per tuple allocated against
// this format.
func (f *Format) ref() {
	f.mu.Lock()
	f.refcount++
	f.mu.Unlock()
}

// unref releases one tuple's worth of format reference; called once per
// tuple dropped.
func (f *Format) unref() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refcount == 0 {
		panic("tuple: format refcount underflow")
	}
	f.refcount--
}

// RefCount reports how many live tuples currently reference this format.
func (f *Format) RefCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refcount
}
