package snapshot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/inconshreveable/log15"

	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/tuple"
	"github.com/dmitrylala/memtx/xlog"
)

// ErrCheckpointInFlight is returned by BeginCheckpoint when a prior
// checkpoint hasn't reached COMMITTED or ABORTED yet.
var ErrCheckpointInFlight = errors.New("snapshot: a checkpoint is already in flight")

// DirectoryIndex is the subset of snapdir.Directory the Tree needs:
// looking up whether a signature is already committed, and registering
// a newly committed one. Kept as an interface so tests can fake it.
type DirectoryIndex interface {
	Lookup(sig xlog.Signature) (string, error)
	Register(sig xlog.Signature, fileName string) error
	Forget(sig xlog.Signature) error
}

// ErrSignatureNotFound is a not-registered sentinel for DirectoryIndex
// implementations, mirroring snapdir.ErrNotFound (which snapdir.Directory
// returns instead). Checkpoint treats any Lookup error as "not
// registered".
var ErrSignatureNotFound = errors.New("snapshot: signature not registered")

// CheckpointAwareGC is the subset of gc.Worker the Tree drives: telling
// it when a checkpoint starts and ends so task frees can be deferred
// per I3.
type CheckpointAwareGC interface {
	SetCheckpointInFlight(inFlight bool)
}

// Tree owns the set of memtx spaces eligible for checkpointing, the
// tuple allocator whose free mode it drives, the snapshot-generation
// counter, and the GC worker it coordinates with. It is the root object
// package memtx's Engine wires together for checkpoint support.
type Tree struct {
	mu      sync.Mutex
	spaces  []*space.Space
	alloc   *tuple.Allocator
	gen     *Generation
	gcw     CheckpointAwareGC
	dir     DirectoryIndex
	cache   *fastcache.Cache
	log     log15.Logger
	current *Checkpoint
}

// NewTree creates a Tree. cacheBytes sizes the clean-cache fronting
// recently-checkpointed row payloads (pass 0 to disable).
func NewTree(alloc *tuple.Allocator, gen *Generation, gcw CheckpointAwareGC, dir DirectoryIndex, cacheBytes int) *Tree {
	var cache *fastcache.Cache
	if cacheBytes > 0 {
		cache = fastcache.New(cacheBytes)
	}
	return &Tree{
		alloc: alloc,
		gen:   gen,
		gcw:   gcw,
		dir:   dir,
		cache: cache,
		log:   log15.New("component", "snapshot"),
	}
}

// AddSpace registers a space as a checkpoint participant candidate. Only
// spaces that are memtx, non-temporary, and already have a primary
// index are actually snapshotted (see BeginCheckpoint).
func (t *Tree) AddSpace(sp *space.Space) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spaces = append(t.spaces, sp)
}

// Generation exposes the tree's generation counter so the tuple factory
// can be wired to it as a tuple.GenerationSource.
func (t *Tree) Generation() *Generation { return t.gen }

// spaceEntry is one space's worth of checkpoint state: the space and
// group id to tag its rows with, and the snapshot iterator draining it.
type spaceEntry struct {
	spaceID uint32
	groupID uint32
	iter    space.SnapshotIterator
}

// BeginCheckpoint implements begin(): constructs a Checkpoint bound to
// dirPath, snapshots every eligible space's primary index, bumps the
// snapshot generation, and switches the allocator into delayed-free
// mode (I1).
func (t *Tree) BeginCheckpoint(dirPath string, rateLimitMiBs int) (*Checkpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && t.current.state != stateCommitted && t.current.state != stateAborted {
		return nil, ErrCheckpointInFlight
	}

	var entries []spaceEntry
	for _, sp := range t.spaces {
		if !sp.Memtx || sp.Temporary {
			continue
		}
		pk := sp.Primary()
		if pk == nil {
			continue
		}
		entries = append(entries, spaceEntry{
			spaceID: sp.ID,
			groupID: sp.GroupID,
			iter:    pk.CreateSnapshotIterator(),
		})
	}

	cp := &Checkpoint{
		tree:          t,
		dirPath:       dirPath,
		rateLimitMiBs: rateLimitMiBs,
		entries:       entries,
		state:         stateBegun,
	}

	t.gen.Bump()
	t.alloc.SetMode(tuple.ModeDelayed)
	t.gcw.SetCheckpointInFlight(true)

	t.current = cp
	t.log.Info("checkpoint begun", "dir", dirPath, "spaces", len(entries))
	return cp, nil
}

// CancelInFlight cancels the tree's current checkpoint if one is still
// BEGUN or WAITING, for use at engine shutdown so a writer goroutine
// doesn't keep running past the owning process's teardown. A no-op if
// no checkpoint exists or the current one already reached COMMITTED or
// ABORTED.
func (t *Tree) CancelInFlight() error {
	t.mu.Lock()
	cp := t.current
	t.mu.Unlock()

	if cp == nil {
		return nil
	}
	cp.mu.Lock()
	inFlight := cp.state == stateBegun || cp.state == stateWaiting
	cp.mu.Unlock()
	if !inFlight {
		return nil
	}
	return cp.Cancel()
}

// finish is called by Checkpoint once it reaches COMMITTED or ABORTED.
// current is deliberately left set rather than cleared, so its terminal
// state stays observable by callers inspecting the Tree between
// checkpoints; BeginCheckpoint's guard only rejects a new checkpoint
// while current is BEGUN or WAITING.
func (t *Tree) finish(cp *Checkpoint) {}

func (t *Tree) logger() log15.Logger { return t.log }

func (t *Tree) cacheStore(key []byte, val []byte) {
	if t.cache != nil {
		t.cache.Set(key, val)
	}
}

// String implements fmt.Stringer for diagnostic logging.
func (t *Tree) String() string {
	return fmt.Sprintf("snapshot.Tree{spaces=%d}", len(t.spaces))
}
