package snapdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrylala/memtx/xlog"
)

func TestRegisterThenLookupHitsPrimary(t *testing.T) {
	dir, err := Open(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dir.Close()

	sig := xlog.Signature{1: 10}
	if err := dir.Register(sig, "00000000000000000010.snap"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	name, err := dir.Lookup(sig)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if name != "00000000000000000010.snap" {
		t.Fatalf("got %q, want the registered file name", name)
	}
	hits, _ := dir.Efficiency()
	if hits != 1 {
		t.Fatalf("got %d hits, want 1", hits)
	}
}

func TestLookupFallsThroughToDurableIndex(t *testing.T) {
	dir, err := Open(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dir.Close()

	sigs := []xlog.Signature{{1: 1}, {1: 2}, {1: 3}}
	for i, sig := range sigs {
		if err := dir.Register(sig, "file"); err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
	}
	// Capacity is 1, so looking up the first signature again must miss
	// the in-memory cache and fall through to leveldb.
	if _, err := dir.Lookup(sigs[0]); err != nil {
		t.Fatalf("Lookup after eviction: %v", err)
	}
	_, misses := dir.Efficiency()
	if misses == 0 {
		t.Fatalf("expected at least one primary-index miss")
	}
}

func TestLookupUnknownSignatureReturnsErrNotFound(t *testing.T) {
	dir, err := Open(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dir.Close()

	if _, err := dir.Lookup(xlog.Signature{9: 9}); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestForgetRemovesFromBothIndexes(t *testing.T) {
	dir, err := Open(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dir.Close()

	sig := xlog.Signature{1: 1}
	if err := dir.Register(sig, "file"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := dir.Forget(sig); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := dir.Lookup(sig); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after Forget", err)
	}
}

func TestSweepAbandonedRemovesOnlyInProgressFiles(t *testing.T) {
	path := t.TempDir()
	dir, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dir.Close()

	abandoned := filepath.Join(path, "00000000000000000001.snap.inprogress")
	committed := filepath.Join(path, "00000000000000000002.snap")
	if err := os.WriteFile(abandoned, nil, 0o644); err != nil {
		t.Fatalf("WriteFile abandoned: %v", err)
	}
	if err := os.WriteFile(committed, nil, 0o644); err != nil {
		t.Fatalf("WriteFile committed: %v", err)
	}

	swept, err := dir.SweepAbandoned()
	if err != nil {
		t.Fatalf("SweepAbandoned: %v", err)
	}
	if swept != 1 {
		t.Fatalf("got %d swept, want 1", swept)
	}
	if _, err := os.Stat(abandoned); !os.IsNotExist(err) {
		t.Fatalf("expected abandoned in-progress file to be removed")
	}
	if _, err := os.Stat(committed); err != nil {
		t.Fatalf("expected committed snapshot file to survive the sweep: %v", err)
	}
}
