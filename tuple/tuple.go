// Package tuple implements the variably-sized tuple type, its small-object
// allocator, and the snapshot-generation-aware delayed-free discipline
// that lets a checkpoint's read-views observe a stable set of tuples
// while writers keep mutating the live data.
package tuple

import "fmt"

// MaxTupleSize is the default ceiling on a single tuple's total encoded
// size (header + field map + payload).
const MaxTupleSize = 1 << 20 // 1 MiB

// Header carries the bookkeeping every tuple needs regardless of its
// format: the snapshot generation it was stamped with, its refcount, the
// size of its payload, which format decodes it, and where the raw body
// starts.
type Header struct {
	Generation uint32
	refcount   int32
	PayloadLen uint32
	FormatID   uint32
	DataOffset uint32
}

// Tuple is a variably-sized record: a Header, a decoded field map, and the
// raw serialized body. Tuples are shared by zero or more indexes within a
// space; a tuple's refcount reaches zero only when no index and no
// read-view holds it any longer.
//
// Invariant: Generation always equals the engine's snapshot generation at
// the instant the tuple was allocated.
type Tuple struct {
	Header
	Fields     []FieldRef // decoded field map
	raw        []byte     // header + field map + payload, backing storage
	allocClass int        // size class raw was allocated from, needed by Factory.DropTuple
}

// FieldRef locates one decoded field within the raw payload.
type FieldRef struct {
	Offset int
	Length int
}

// Raw returns the tuple's full backing storage (header + field map + raw
// body). The serialized body alone, which is what a snapshot row carries
// and what Factory.MakeTuple takes as input, is
// Raw()[DataOffset : DataOffset+PayloadLen].
func (t *Tuple) Raw() []byte { return t.raw }

// Ref increments the tuple's reference count. Called by an index when it
// starts sharing the tuple.
func (t *Tuple) Ref() {
	t.refcount++
}

// Unref decrements the tuple's reference count and reports whether it
// reached zero (at which point the caller must route the tuple through
// Factory.DropTuple).
func (t *Tuple) Unref() bool {
	if t.refcount <= 0 {
		panic(fmt.Sprintf("tuple: unref of tuple with refcount %d", t.refcount))
	}
	t.refcount--
	return t.refcount == 0
}

// RefCount reports the tuple's current reference count.
func (t *Tuple) RefCount() int32 { return t.refcount }
