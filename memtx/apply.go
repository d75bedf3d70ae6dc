package memtx

import (
	"github.com/dmitrylala/memtx/recovery"
	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/xlog"
)

// Apply implements recovery.RowApplier: builds a tuple from row.Raw
// against sp's format and replaces it into sp's primary index, and into
// every secondary index once the space has reached AllKeys (i.e. outside
// the fast-path window where only the primary key is being maintained).
// A collision is always reported as recovery.ErrDuplicateKey — the only
// error Driver's replay loop distinguishes.
func (e *Engine) Apply(tx space.Transaction, sp *space.Space, row space.Row) error {
	primary := sp.Primary()
	if primary == nil {
		return ErrCrossEngineTransaction
	}

	t, err := e.factory.MakeTuple(sp.Format, row.Raw)
	if err != nil {
		return err
	}

	indexes := sp.Indexes[:1]
	if sp.ReplaceBehavior == space.AllKeys {
		indexes = sp.Indexes
	}

	for _, idx := range indexes {
		t.Ref()
		if _, err := idx.Replace(nil, t, space.DupInsert); err != nil {
			if t.Unref() {
				e.factory.DropTuple(sp.Format, t)
			}
			return recovery.ErrDuplicateKey
		}
	}
	return nil
}

// toXlogSignature converts the space package's vclock representation to
// xlog's; both are map[uint32]int64 under distinct names so the
// directory index's lookup key lines up with what the checkpoint writer
// registered.
func toXlogSignature(v space.Vclock) xlog.Signature {
	out := make(xlog.Signature, len(v))
	for replica, lsn := range v {
		out[replica] = lsn
	}
	return out
}
