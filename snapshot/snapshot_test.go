package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrylala/memtx/arena"
	"github.com/dmitrylala/memtx/space"
	"github.com/dmitrylala/memtx/tuple"
	"github.com/dmitrylala/memtx/xlog"
)

type fakeIterator struct {
	rows  [][]byte
	pos   int
	freed bool
}

func (f *fakeIterator) Next() ([]byte, bool) {
	if f.pos >= len(f.rows) {
		return nil, false
	}
	row := f.rows[f.pos]
	f.pos++
	return row, true
}

func (f *fakeIterator) Free() { f.freed = true }

type fakeIndex struct {
	iter *fakeIterator
}

func (i *fakeIndex) Build(space.IndexIterator) error { return nil }
func (i *fakeIndex) EndBuild()                       {}
func (i *fakeIndex) Replace(old, new *tuple.Tuple, policy space.DuplicatePolicy) (*tuple.Tuple, error) {
	return nil, nil
}
func (i *fakeIndex) Size() int                                      { return len(i.iter.rows) }
func (i *fakeIndex) CreateSnapshotIterator() space.SnapshotIterator { return i.iter }
func (i *fakeIndex) DefChangeRequiresRebuild(*space.IndexDef) bool  { return false }

type memDir struct {
	entries map[string]string
}

func newMemDir() *memDir { return &memDir{entries: map[string]string{}} }

func (d *memDir) Lookup(sig xlog.Signature) (string, error) {
	if name, ok := d.entries[sig.String()]; ok {
		return name, nil
	}
	return "", ErrSignatureNotFound
}

func (d *memDir) Register(sig xlog.Signature, fileName string) error {
	d.entries[sig.String()] = fileName
	return nil
}

func (d *memDir) Forget(sig xlog.Signature) error {
	delete(d.entries, sig.String())
	return nil
}

type fakeGC struct {
	calls []bool
}

func (g *fakeGC) SetCheckpointInFlight(inFlight bool) { g.calls = append(g.calls, inFlight) }

func newTestAllocator(t *testing.T) *tuple.Allocator {
	t.Helper()
	q := arena.NewQuota(0)
	ar := arena.New(q)
	cache := arena.NewSlabCache(ar)
	return tuple.NewAllocator(cache, 16, 1.2, 4096, nil)
}

func newTestTree(t *testing.T) (*Tree, *space.Space, *fakeIndex, *memDir, *fakeGC) {
	t.Helper()
	alloc := newTestAllocator(t)
	gen := &Generation{}
	gcw := &fakeGC{}
	dir := newMemDir()
	tree := NewTree(alloc, gen, gcw, dir, 0)

	idx := &fakeIndex{iter: &fakeIterator{rows: [][]byte{[]byte("row1"), []byte("row2")}}}
	sp := &space.Space{ID: 1, Memtx: true, Indexes: []space.Index{idx}}
	tree.AddSpace(sp)

	return tree, sp, idx, dir, gcw
}

func TestBeginCheckpointBumpsGenerationAndEntersDelayedMode(t *testing.T) {
	tree, _, _, _, gcw := newTestTree(t)

	cp, err := tree.BeginCheckpoint(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}
	if tree.gen.CurrentGeneration() != 1 {
		t.Fatalf("got generation %d, want 1", tree.gen.CurrentGeneration())
	}
	if tree.alloc.Mode() != tuple.ModeDelayed {
		t.Fatalf("expected allocator to be in delayed mode")
	}
	if len(gcw.calls) != 1 || !gcw.calls[0] {
		t.Fatalf("expected gc worker to be told a checkpoint began")
	}
	if len(cp.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(cp.entries))
	}
}

func TestFullCheckpointLifecycleCommits(t *testing.T) {
	tree, _, idx, dir, gcw := newTestTree(t)
	snapDir := t.TempDir()

	cp, err := tree.BeginCheckpoint(snapDir, 0)
	if err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}

	target := space.Vclock{1: 2}
	if err := cp.Wait(context.Background(), target); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cp.WorkerError() != nil {
		t.Fatalf("unexpected writer error: %v", cp.WorkerError())
	}

	if err := cp.Commit(target); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if tree.alloc.Mode() != tuple.ModeImmediate {
		t.Fatalf("expected allocator back in immediate mode after commit")
	}
	if !idx.iter.freed {
		t.Fatalf("expected snapshot iterator to be freed on commit")
	}
	if len(gcw.calls) != 2 || gcw.calls[1] {
		t.Fatalf("expected gc worker to be told the checkpoint ended")
	}

	finalPath := filepath.Join(snapDir, FileName(xlog.Signature(target)))
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected final snapshot file to exist: %v", err)
	}
	if _, ok := dir.entries[xlog.Signature(target).String()]; !ok {
		t.Fatalf("expected signature to be registered in the directory")
	}

	r := xlog.NewReader(mustOpen(t, finalPath))
	var rows int
	for {
		_, err := r.Next()
		if err != nil {
			break
		}
		rows++
	}
	if rows != 2 {
		t.Fatalf("got %d rows in snapshot file, want 2", rows)
	}
}

func TestSecondCommitWithSameSignatureIsTouchOnly(t *testing.T) {
	tree, sp, _, _, _ := newTestTree(t)
	snapDir := t.TempDir()
	target := space.Vclock{1: 1}

	cp1, err := tree.BeginCheckpoint(snapDir, 0)
	if err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}
	if err := cp1.Wait(context.Background(), target); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := cp1.Commit(target); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Rearm the space's index with a fresh iterator for the second pass.
	idx2 := &fakeIndex{iter: &fakeIterator{rows: [][]byte{[]byte("row1")}}}
	sp.Indexes[0] = idx2

	cp2, err := tree.BeginCheckpoint(snapDir, 0)
	if err != nil {
		t.Fatalf("BeginCheckpoint (2nd): %v", err)
	}
	if err := cp2.Wait(context.Background(), target); err != nil {
		t.Fatalf("Wait (2nd): %v", err)
	}
	if !cp2.touchOnly {
		t.Fatalf("expected second pass with identical signature to be touch-only")
	}
	if err := cp2.Commit(target); err != nil {
		t.Fatalf("Commit (2nd): %v", err)
	}

	entries, err := os.ReadDir(snapDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files in snapshot dir, want exactly 1", len(entries))
	}
}

func TestWaitWipesStaleRegistrationAndWritesFreshFile(t *testing.T) {
	tree, _, _, dir, _ := newTestTree(t)
	snapDir := t.TempDir()
	target := space.Vclock{1: 3}
	sig := xlog.Signature(target)

	// Register a signature whose backing file was never actually
	// written (or was lost after the fact) — a stale directory entry.
	if err := dir.Register(sig, FileName(sig)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cp, err := tree.BeginCheckpoint(snapDir, 0)
	if err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}
	if err := cp.Wait(context.Background(), target); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if cp.touchOnly {
		t.Fatalf("expected a stale registration with no backing file to not be touch-only")
	}
	if err := cp.Commit(target); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	finalPath := filepath.Join(snapDir, FileName(sig))
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected a fresh snapshot file to be written: %v", err)
	}
	if name, ok := dir.entries[sig.String()]; !ok || name != FileName(sig) {
		t.Fatalf("expected signature to be re-registered after the stale entry was wiped")
	}
}

func TestAbortRemovesInProgressFileAndRestoresImmediateMode(t *testing.T) {
	tree, _, _, _, _ := newTestTree(t)
	snapDir := t.TempDir()
	target := space.Vclock{1: 5}

	cp, err := tree.BeginCheckpoint(snapDir, 0)
	if err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}
	if err := cp.Wait(context.Background(), target); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := cp.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if tree.alloc.Mode() != tuple.ModeImmediate {
		t.Fatalf("expected allocator back in immediate mode after abort")
	}
	if _, err := os.Stat(cp.inProgressPath()); !os.IsNotExist(err) {
		t.Fatalf("expected in-progress file to be removed after abort")
	}
	if _, err := os.Stat(cp.finalPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no final snapshot file after abort")
	}
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}
