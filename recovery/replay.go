package recovery

import (
	"io"

	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/xlog"
)

// applyRow resolves a row's target space, validates it, and applies it
// through a fresh transaction. Used for both bootstrap rows and
// snapshot-replay rows, which share the same validation and apply
// shape.
func (d *Driver) applyRow(row space.Row) error {
	if row.Type != space.RowInsert {
		return ErrUnknownRequestType
	}

	sp, ok := d.resolver.ResolveSpace(row.SpaceID)
	if !ok {
		return ErrCrossEngineTransaction
	}

	tx, err := d.txFactory.Begin()
	if err != nil {
		return err
	}
	if err := tx.Begin(); err != nil {
		return err
	}

	if err := d.applier.Apply(tx, sp, row); err != nil {
		tx.Rollback()
		if err == ErrDuplicateKey && d.forceRecovery {
			d.log.Warn("dropping duplicate key row under force recovery", "space", row.SpaceID)
			return nil
		}
		return err
	}
	return tx.Commit()
}

// ReplaySnapshot implements the snapshot-replay algorithm of §4.5: reads
// every INSERT row from r, applies it, yields cooperatively every
// yieldEvery rows, and — once the file is exhausted — flips every
// touched space's replace behavior to primary-only (end-build primary
// key). xlog.ErrMissingEOF propagates as-is; callers are expected to
// treat it as fatal per the engine's CorruptSnapshot error kind.
func (d *Driver) ReplaySnapshot(r *xlog.Reader) error {
	touched := make(map[uint32]*space.Space)
	var count int

	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		sp, ok := d.resolver.ResolveSpace(row.SpaceID)
		if ok {
			touched[row.SpaceID] = sp
		}

		if err := d.applyRow(space.Row{Type: space.RowInsert, SpaceID: row.SpaceID, Raw: row.Payload}); err != nil {
			return err
		}

		count++
		if count%d.yieldEvery == 0 && d.onYield != nil {
			d.onYield()
		}
	}

	for _, sp := range touched {
		if sp.ReplaceBehavior == space.NoneBuilt {
			sp.ReplaceBehavior = space.PrimaryOnly
		}
		if primary := sp.Primary(); primary != nil {
			primary.EndBuild()
		}
	}
	return nil
}
