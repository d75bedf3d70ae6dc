// Package space defines the collaborator contracts the engine consumes
// but never implements: the per-space index structures, the transaction
// manager, and the replication/GC hooks. Mirrors the split the teacher
// draws between its public Snapshot interface and the richer internal
// snapshot interface it actually drives — here expressed as the narrow
// set of capabilities package memtx needs from its surrounding system.
package space

import "github.com/dmitrylala/memtx/tuple"

// ReplaceBehavior tracks how far a space's secondary indexes have been
// built, driving both the recovery state machine and rollback_statement.
type ReplaceBehavior int

const (
	// NoneBuilt means the space is still mid-snapshot-recovery: rows go
	// into the primary index only, and the primary key has not been
	// end-built yet.
	NoneBuilt ReplaceBehavior = iota
	// PrimaryOnly means only the primary index is being maintained;
	// secondary indexes will be built in bulk later.
	PrimaryOnly
	// AllKeys means every index is live and must be kept in sync on
	// every replace.
	AllKeys
)

// Vclock is a vector clock: replica id to highest reflected LSN. It's
// the signature a checkpoint is keyed by.
type Vclock map[uint32]int64

// Space is a named collection of indexes; Indexes[0] is always the
// primary index.
type Space struct {
	ID              uint32
	GroupID         uint32
	Name            string
	Temporary       bool
	Memtx           bool
	ReplaceBehavior ReplaceBehavior
	Indexes         []Index
	Format          *tuple.Format
}

// Primary returns the space's primary index, or nil if none exists yet.
func (s *Space) Primary() Index {
	if len(s.Indexes) == 0 {
		return nil
	}
	return s.Indexes[0]
}

// Row is one decoded DML record applied during recovery or WAL replay,
// or emitted to an Xstream for replication initial join.
type Row struct {
	Type    RowType
	SpaceID uint32
	Raw     []byte // the affected tuple's raw serialized body, as passed to tuple.Factory.MakeTuple
}

// RowType distinguishes the kinds of rows the recovery/replication path
// can see. Only RowInsert is relevant to this engine's scope; the others
// exist so cross-engine/unknown-type rejection has something concrete to
// check against.
type RowType int

const (
	RowInsert RowType = iota
	RowUpdate
	RowDelete
	RowUnknown
)

// DuplicatePolicy controls Index.Replace's behavior when a key collides
// with an existing tuple.
type DuplicatePolicy int

const (
	// DupReplace overwrites the existing tuple unconditionally.
	DupReplace DuplicatePolicy = iota
	// DupError rejects the replace if a tuple with the same key exists.
	DupError
	// DupInsert rejects the replace if a tuple with the same key
	// already exists (i.e. this must be a pure insert).
	DupInsert
)

// IndexPart describes one field contributing to an index's key.
type IndexPart struct {
	FieldNo   int
	Collation string
	JSONPath  string
}

// IndexDef describes an index's shape for rebuild-decision purposes.
type IndexDef struct {
	Type   string
	Unique bool
	FuncID int
	Parts  []IndexPart
}

// RequiresRebuild implements def_change_requires_rebuild exactly: true
// iff the index's type changed, uniqueness was added, its backing
// function id changed, its part count changed, or any part differs by
// field number, collation, or JSON path.
func (d *IndexDef) RequiresRebuild(newDef *IndexDef) bool {
	if d.Type != newDef.Type {
		return true
	}
	if !d.Unique && newDef.Unique {
		return true
	}
	if d.FuncID != newDef.FuncID {
		return true
	}
	if len(d.Parts) != len(newDef.Parts) {
		return true
	}
	for i, p := range d.Parts {
		np := newDef.Parts[i]
		if p.FieldNo != np.FieldNo || p.Collation != np.Collation || p.JSONPath != np.JSONPath {
			return true
		}
	}
	return false
}

// Index is the collaborator contract for one per-space index structure
// (tree, hash, rtree — the algorithm itself is out of this module's
// scope).
type Index interface {
	Build(it IndexIterator) error
	EndBuild()
	Replace(old, new *tuple.Tuple, policy DuplicatePolicy) (displaced *tuple.Tuple, err error)
	Size() int
	CreateSnapshotIterator() SnapshotIterator
	DefChangeRequiresRebuild(newDef *IndexDef) bool
}

// IndexIterator feeds tuples to Index.Build during a bulk rebuild.
type IndexIterator interface {
	Next() (t *tuple.Tuple, ok bool)
}

// SnapshotIterator is a stable, thread-safe-once-constructed cursor over
// one index's contents, read only by the checkpoint writer thread.
type SnapshotIterator interface {
	// Next returns the next tuple's raw encoded bytes, or ok=false once
	// exhausted.
	Next() (data []byte, ok bool)
	Free()
}

// Transaction is the collaborator contract for the out-of-scope
// transaction manager, consumed only by recovery row replay.
type Transaction interface {
	Begin() error
	Commit() error
	Rollback() error
}

// GCRegistry lets the engine apprise an outer garbage collector of
// checkpoints that are now available for incremental cleanup elsewhere
// in the system.
type GCRegistry interface {
	AddCheckpoint(v Vclock)
}

// Xstream is a row writer used for replication's initial join.
type Xstream interface {
	Write(row Row) error
}
