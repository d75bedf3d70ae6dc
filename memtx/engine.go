package memtx

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/rcrowley/go-metrics"

	"github.com/dmitrylala/memtx/arena"
	"github.com/dmitrylala/memtx/extent"
	"github.com/dmitrylala/memtx/gc"
	"github.com/dmitrylala/memtx/recovery"
	"github.com/dmitrylala/memtx/snapdir"
	"github.com/dmitrylala/memtx/snapshot"
	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/tuple"
)

// Engine is the storage engine facade: the exported method set below is
// this module's vtable, the full surface a surrounding database process
// drives (spec §6). Construction wires every leaf component — quota,
// arena, slab caches, allocator, extent pool, GC worker, snapshot tree,
// recovery driver, snapshot directory index — following the same
// "build the pieces, then the facade that owns them" shape as
// pruner.NewPruner wiring a snapshot tree and bloom filter.
type Engine struct {
	cfg Config
	log log15.Logger

	tupleQuota *arena.Quota
	tupleArena *arena.Arena
	tupleCache *arena.SlabCache
	extArena   *arena.Arena
	extCache   *arena.SlabCache

	alloc   *tuple.Allocator
	factory *tuple.Factory
	extents *extent.Pool
	gcw     *gc.Worker

	gen    *snapshot.Generation
	tree   *snapshot.Tree
	dir    *snapdir.Directory
	driver *recovery.Driver

	mu     sync.Mutex
	spaces map[uint32]*space.Space

	bytesInUse   metrics.Gauge
	gcQueueDepth metrics.Gauge
}

// New constructs an Engine from cfg. It does not start recovery or
// bootstrap — the caller drives those explicitly, exactly as the
// teacher's Pruner is constructed separately from when Prune actually
// runs.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxTupleSize == 0 {
		cfg.MaxTupleSize = tuple.MaxTupleSize
	}

	quota := arena.NewQuota(cfg.ArenaMaxBytes)
	tupleArena := arena.New(quota)
	tupleCache := arena.NewSlabCache(tupleArena)
	extArena := arena.New(quota)
	extCache := arena.NewSlabCache(extArena)

	gcw := gc.NewWorker(0)
	alloc := tuple.NewAllocator(tupleCache, int(cfg.MinObjectSize), cfg.GrowthFactor, int(cfg.MaxTupleSize), gcw)
	extents := extent.NewPool(extCache, gcw)

	gen := &snapshot.Generation{}
	factory := tuple.NewFactory(alloc, gen, nil, int(cfg.MaxTupleSize))

	var dir *snapdir.Directory
	if cfg.SnapDir != "" {
		d, err := snapdir.Open(cfg.SnapDir, cfg.SnapdirCacheEntries)
		if err != nil {
			return nil, err
		}
		dir = d
	}

	e := &Engine{
		cfg:        cfg,
		log:        log15.New("component", "memtx"),
		tupleQuota: quota,
		tupleArena: tupleArena,
		tupleCache: tupleCache,
		extArena:   extArena,
		extCache:   extCache,
		alloc:      alloc,
		factory:    factory,
		extents:    extents,
		gcw:        gcw,
		gen:        gen,
		dir:        dir,
		spaces:     make(map[uint32]*space.Space),

		bytesInUse:   metrics.NewGauge(),
		gcQueueDepth: metrics.NewGauge(),
	}
	metrics.Register("memtx.tuple.bytes_in_use", e.bytesInUse)
	metrics.Register("memtx.gc.queue_depth", e.gcQueueDepth)

	if dir != nil {
		e.tree = snapshot.NewTree(alloc, gen, gcw, dir, cfg.CheckpointCacheBytes)
	}

	var sweeper recovery.AbandonedSweeper
	if dir != nil {
		sweeper = dir
	}
	e.driver = recovery.NewDriver(cfg.ForceRecovery, e, e, e, e.buildSecondaryIndexes, sweeper, 100000, nil)

	go gcw.Run()
	e.log.Info("engine started", "arena_max_bytes", cfg.ArenaMaxBytes, "force_recovery", cfg.ForceRecovery, "snap_dir", cfg.SnapDir)
	return e, nil
}

// Factory exposes the tuple factory for collaborators (index
// implementations) that need to build/drop tuples through this
// engine's allocator.
func (e *Engine) Factory() *tuple.Factory { return e.factory }

// Extents exposes the extent pool for index implementations.
func (e *Engine) Extents() *extent.Pool { return e.extents }

// CreateSpace registers sp as a checkpoint and recovery participant
// (vtable: create_space).
func (e *Engine) CreateSpace(sp *space.Space) {
	e.mu.Lock()
	e.spaces[sp.ID] = sp
	e.mu.Unlock()

	if e.tree != nil {
		e.tree.AddSpace(sp)
	}
}

// ResolveSpace implements recovery.SpaceResolver.
func (e *Engine) ResolveSpace(id uint32) (*space.Space, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sp, ok := e.spaces[id]
	return sp, ok
}

// Spaces implements recovery.SpaceResolver.
func (e *Engine) Spaces() []*space.Space {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*space.Space, 0, len(e.spaces))
	for _, sp := range e.spaces {
		out = append(out, sp)
	}
	return out
}

// buildSecondaryIndexes is the recovery.SecondaryBuilder hook: building
// a secondary index's contents from the primary key is the index
// algorithm's job (out of scope); the engine only orchestrates calling
// Build/EndBuild on each one.
func (e *Engine) buildSecondaryIndexes(sp *space.Space) error {
	for _, idx := range sp.Indexes[1:] {
		if err := idx.Build(nil); err != nil {
			return err
		}
		idx.EndBuild()
	}
	return nil
}

// Shutdown releases the engine's resources in reverse construction
// order: cancel any in-flight checkpoint so its writer goroutine can't
// outlive the engine, stop the GC worker, then close the snapshot
// directory handle.
func (e *Engine) Shutdown() error {
	e.log.Info("engine shutting down")
	if e.tree != nil {
		if err := e.tree.CancelInFlight(); err != nil {
			e.log.Warn("failed to cancel in-flight checkpoint during shutdown", "err", err)
		}
	}
	e.gcw.Stop()
	if e.dir != nil {
		return e.dir.Close()
	}
	return nil
}

// Join starts the engine for a newly-joining replica; in this module's
// scope that's a no-op placeholder for the replication subsystem
// (out of scope) to hook into.
func (e *Engine) Join(ctx context.Context) error { return nil }

// Begin implements vtable begin() and recovery.TxFactory. Package memtx
// does not implement transactions itself: the returned Transaction's
// Begin, Commit and Rollback do nothing, which is what bootstrap and
// snapshot replay drive each row through.
func (e *Engine) Begin() (space.Transaction, error) {
	return nopTransaction{}, nil
}

type nopTransaction struct{}

func (nopTransaction) Begin() error    { return nil }
func (nopTransaction) Commit() error   { return nil }
func (nopTransaction) Rollback() error { return nil }

// Bootstrap implements vtable bootstrap().
func (e *Engine) Bootstrap(rows []space.Row) error {
	return e.driver.Bootstrap(rows)
}

// BeginInitialRecovery implements vtable begin_initial_recovery().
func (e *Engine) BeginInitialRecovery(vclock space.Vclock) error {
	return e.driver.BeginInitialRecovery(vclock)
}

// BeginFinalRecovery implements vtable begin_final_recovery().
func (e *Engine) BeginFinalRecovery() error {
	return e.driver.BeginFinalRecovery()
}

// EndRecovery implements vtable end_recovery().
func (e *Engine) EndRecovery() error {
	return e.driver.EndRecovery()
}

// BeginCheckpoint implements vtable begin_checkpoint().
func (e *Engine) BeginCheckpoint() (*snapshot.Checkpoint, error) {
	if e.tree == nil {
		return nil, ErrEngineNotRunning
	}
	return e.tree.BeginCheckpoint(e.cfg.SnapDir, e.cfg.SnapIORateLimitMiBs)
}

// WaitCheckpoint implements vtable wait_checkpoint().
func (e *Engine) WaitCheckpoint(ctx context.Context, cp *snapshot.Checkpoint, target space.Vclock) error {
	return cp.Wait(ctx, target)
}

// CommitCheckpoint implements vtable commit_checkpoint().
func (e *Engine) CommitCheckpoint(cp *snapshot.Checkpoint, target space.Vclock) error {
	return cp.Commit(target)
}

// AbortCheckpoint implements vtable abort_checkpoint().
func (e *Engine) AbortCheckpoint(cp *snapshot.Checkpoint) error {
	return cp.Abort()
}

// CollectGarbage implements vtable collect_garbage(): schedules a
// cooperative collection task for later reclamation.
func (e *Engine) CollectGarbage(t gc.Task) {
	e.gcw.Push(t)
	e.gcQueueDepth.Update(int64(e.gcw.Pending()))
}

// Backup implements vtable backup(): resolves the currently committed
// snapshot for vclock through the directory index and returns the path
// of its file inside the snapshot directory, so an external backup tool
// can copy it.
func (e *Engine) Backup(vclock space.Vclock) (string, error) {
	if e.dir == nil {
		return "", ErrEngineNotRunning
	}
	name, err := e.dir.Lookup(toXlogSignature(vclock))
	if err != nil {
		return "", err
	}
	return filepath.Join(e.cfg.SnapDir, name), nil
}

// MemoryStat is what vtable memory_stat() returns: tuple arena bytes,
// slab counts of the tuple and extent caches, quota bytes in use, and
// GC queue depth. Engine.MemoryStat also copies QuotaUsedBytes into the
// memtx.tuple.bytes_in_use gauge.
type MemoryStat struct {
	TupleArenaBytes uint64
	TupleSlabCount  int
	ExtentSlabCount int
	QuotaUsedBytes  uint64
	GCQueueDepth    int
}

func (e *Engine) MemoryStat() MemoryStat {
	stat := MemoryStat{
		TupleArenaBytes: e.tupleCache.BytesUsed(),
		TupleSlabCount:  e.tupleCache.SlabCount(),
		ExtentSlabCount: e.extCache.SlabCount(),
		QuotaUsedBytes:  e.tupleQuota.Used(),
		GCQueueDepth:    e.gcw.Pending(),
	}
	e.bytesInUse.Update(int64(stat.QuotaUsedBytes))
	return stat
}
