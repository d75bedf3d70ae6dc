package memtx

import "errors"

// Engine-level error kinds (spec §7). OutOfMemory/TupleTooLarge surface
// from package tuple; CorruptSnapshot/FailedRename/FailedRollback are
// fatal and panic rather than return, matching the teacher's own
// log.Crit-then-halt severity for unrecoverable on-disk invariant
// violations.
var (
	ErrUnknownRequestType     = errors.New("memtx: unknown request type")
	ErrCrossEngineTransaction = errors.New("memtx: cross-engine transaction")
	ErrEngineNotRunning       = errors.New("memtx: engine not started")
)
