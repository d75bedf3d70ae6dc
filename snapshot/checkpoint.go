package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/tuple"
	"github.com/dmitrylala/memtx/xlog"
)

// state is the Checkpoint's position in NONE → BEGUN → WAITING →
// COMMITTED | ABORTED.
type state int

const (
	stateBegun state = iota
	stateWaiting
	stateCommitted
	stateAborted
)

// ErrWrongState is returned when a Checkpoint method is called out of
// its required predecessor state.
type ErrWrongState struct {
	Op    string
	State state
}

func (e *ErrWrongState) Error() string {
	return fmt.Sprintf("snapshot: %s called in wrong checkpoint state %d", e.Op, e.State)
}

// Checkpoint is one in-flight (or just-finished) snapshot operation: the
// target vclock, the per-space iterators draining into it, and the
// worker goroutine doing the actual I/O.
type Checkpoint struct {
	tree          *Tree
	dirPath       string
	rateLimitMiBs int
	entries       []spaceEntry

	mu        sync.Mutex
	state     state
	touchOnly bool
	sig       xlog.Signature

	eg        *errgroup.Group
	cancel    context.CancelFunc
	workerErr error
}

// Wait implements wait(target_vclock): checks for an existing snapshot
// with an identical signature (touch-only optimization), then starts
// the writer goroutine and blocks until it joins. Per the engine's
// "log but don't re-raise" policy for the worker join, a writer failure
// is recorded and logged here but does not fail Wait itself — Commit
// still runs, matching the teacher's own "best effort, log the rest"
// shutdown idiom; callers that need to know whether the write actually
// succeeded should check WorkerError after Wait returns.
//
// A signature registered in the directory index is only trusted as
// touch-only if its file is still actually present on disk: an entry
// left behind after its backing file was lost or truncated (a stale or
// corrupt registration) is forgotten and the pass falls through to a
// full write, the same "wipe before regenerating" discipline the
// teacher's snapshot generator applies to a broken on-disk snapshot.
func (cp *Checkpoint) Wait(ctx context.Context, target space.Vclock) error {
	cp.mu.Lock()
	if cp.state != stateBegun {
		cp.mu.Unlock()
		return &ErrWrongState{Op: "Wait", State: cp.state}
	}
	sig := xlog.Signature(target)
	cp.sig = sig

	if name, err := cp.tree.dir.Lookup(sig); err == nil {
		if _, statErr := os.Stat(filepath.Join(cp.dirPath, name)); statErr == nil {
			cp.touchOnly = true
		} else {
			cp.tree.logger().Warn("discarding stale snapshot registration", "sig", sig.String(), "file", name, "err", statErr)
			if forgetErr := cp.tree.dir.Forget(sig); forgetErr != nil {
				cp.mu.Unlock()
				return forgetErr
			}
		}
	}
	cp.state = stateWaiting
	cp.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		return runWriter(egCtx, cp)
	})
	cp.mu.Lock()
	cp.cancel = cancel
	cp.eg = eg
	cp.mu.Unlock()

	err := eg.Wait()
	cp.mu.Lock()
	cp.workerErr = err
	cp.mu.Unlock()

	if err != nil {
		cp.tree.logger().Error("checkpoint writer failed", "err", err, "sig", sig.String())
	}
	return nil
}

// WorkerError reports the writer goroutine's outcome after Wait
// returns, or nil if no error was observed.
func (cp *Checkpoint) WorkerError() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.workerErr
}

// inProgressPath is the writer's private in-progress file path.
func (cp *Checkpoint) inProgressPath() string {
	return filepath.Join(cp.dirPath, InProgressFileName(cp.sig))
}

// finalPath is the renamed, durable file path.
func (cp *Checkpoint) finalPath() string {
	return filepath.Join(cp.dirPath, FileName(cp.sig))
}

// Commit implements commit(target_vclock): leaves delayed-free mode
// (draining queued frees), renames the in-progress file to its final
// name unless this was a touch-only pass, registers the new signature
// with the snapshot directory, and runs the post-checkpoint GC drain.
func (cp *Checkpoint) Commit(target space.Vclock) error {
	cp.mu.Lock()
	if cp.state != stateWaiting {
		cp.mu.Unlock()
		return &ErrWrongState{Op: "Commit", State: cp.state}
	}
	touchOnly := cp.touchOnly
	sig := cp.sig
	cp.mu.Unlock()

	cp.tree.alloc.SetMode(tuple.ModeImmediate)

	if !touchOnly {
		if err := os.Rename(cp.inProgressPath(), cp.finalPath()); err != nil {
			panic(fmt.Sprintf("snapshot: failed to rename %s to %s: %v", cp.inProgressPath(), cp.finalPath(), err))
		}
	}

	if _, err := cp.tree.dir.Lookup(sig); err != nil {
		if regErr := cp.tree.dir.Register(sig, FileName(sig)); regErr != nil {
			return regErr
		}
	}

	cp.tree.gcw.SetCheckpointInFlight(false)
	cp.freeIterators()

	cp.mu.Lock()
	cp.state = stateCommitted
	cp.mu.Unlock()
	cp.tree.finish(cp)

	cp.tree.logger().Info("checkpoint committed", "sig", sig.String(), "touch_only", touchOnly)
	return nil
}

// Abort implements abort(): joins the worker if still running, leaves
// delayed mode, best-effort unlinks the in-progress file, and releases
// iterators.
func (cp *Checkpoint) Abort() error {
	cp.mu.Lock()
	cancel := cp.cancel
	eg := cp.eg
	sig := cp.sig
	cp.mu.Unlock()

	if eg != nil {
		// Wait records and logs the writer's outcome; joining here only
		// makes sure the writer has stopped before its file is unlinked.
		_ = eg.Wait()
	}
	if cancel != nil {
		cancel()
	}

	cp.tree.alloc.SetMode(tuple.ModeImmediate)

	if path := cp.inProgressPath(); sig != nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			cp.tree.logger().Warn("best-effort unlink of in-progress snapshot failed", "path", path, "err", err)
		}
	}

	cp.tree.gcw.SetCheckpointInFlight(false)
	cp.freeIterators()

	cp.mu.Lock()
	cp.state = stateAborted
	cp.mu.Unlock()
	cp.tree.finish(cp)

	cp.tree.logger().Info("checkpoint aborted", "sig", sig.String())
	return nil
}

// Cancel implements cancel(): the shutdown-time variant of Abort that
// issues a thread-level cancel to the still-running worker before
// joining it, rather than letting it run to completion.
func (cp *Checkpoint) Cancel() error {
	cp.mu.Lock()
	cancel := cp.cancel
	cp.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return cp.Abort()
}

func (cp *Checkpoint) freeIterators() {
	for _, e := range cp.entries {
		e.iter.Free()
	}
}
