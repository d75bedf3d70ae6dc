package snapshot

import "sync/atomic"

// Generation is the engine-wide monotonic snapshot-generation counter.
// It implements tuple.GenerationSource so the tuple factory can stamp
// every new tuple with the value in effect at allocation time.
type Generation struct {
	v uint32
}

// CurrentGeneration implements tuple.GenerationSource.
func (g *Generation) CurrentGeneration() uint32 {
	return atomic.LoadUint32(&g.v)
}

// Bump increments the generation counter by one, called exactly once at
// the start of each checkpoint (I1's commit point for copy-on-write).
func (g *Generation) Bump() uint32 {
	return atomic.AddUint32(&g.v, 1)
}
