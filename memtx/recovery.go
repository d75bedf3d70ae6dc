package memtx

import (
	"github.com/dmitrylala/memtx/xlog"
)

// ReplaySnapshot drives recovery.Driver.ReplaySnapshot over r. A missing
// EOF marker or a corrupt frame means the file was left truncated by a
// crashed writer; per the engine's CorruptSnapshot error kind this is
// fatal, so it panics rather than letting the caller limp along with a
// partially-loaded space.
func (e *Engine) ReplaySnapshot(r *xlog.Reader) error {
	err := e.driver.ReplaySnapshot(r)
	if err == xlog.ErrMissingEOF || err == xlog.ErrCorruptRow {
		panic("memtx: corrupt snapshot file: " + err.Error())
	}
	return err
}
