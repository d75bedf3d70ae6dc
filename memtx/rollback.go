package memtx

import (
	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/tuple"
)

// RollbackStatement implements vtable rollback_statement() per spec
// §4.7: reverts one statement's (old, new) tuple pair across every index
// the space currently maintains, in reverse index order, then swaps
// refcount ownership: the statement already holds a reference on old for
// exactly this purpose, so putting it back in the index needs no new
// Ref — only new's index reference is released. A mid-snapshot-recovery
// space (ReplaceBehavior == NoneBuilt) never issues statements that can
// be rolled back; seeing one here means an invariant upstream already
// broke, so this panics rather than silently corrupting the index set.
func (e *Engine) RollbackStatement(sp *space.Space, old, new *tuple.Tuple) {
	var indexes []space.Index
	switch sp.ReplaceBehavior {
	case space.AllKeys:
		indexes = sp.Indexes
	case space.PrimaryOnly:
		indexes = sp.Indexes[:1]
	case space.NoneBuilt:
		panic("memtx: rollback_statement on a space still in mid-snapshot-recovery")
	}

	for i := len(indexes) - 1; i >= 0; i-- {
		if _, err := indexes[i].Replace(new, old, space.DupReplace); err != nil {
			// The snapshot is already durable and the WAL already
			// committed this statement; failing to restore the
			// pre-statement index state would leave them
			// inconsistent with no way back.
			panic("memtx: failed to roll back statement: " + err.Error())
		}
	}

	if new != nil && new.Unref() {
		e.factory.DropTuple(sp.Format, new)
	}
}
