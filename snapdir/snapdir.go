// Package snapdir indexes the set of committed snapshot files by their
// vclock signature, so recovery and backup can look up "the snapshot
// file that covers up through this point" without scanning a directory.
// A fast in-memory primary index serves most lookups; a durable
// secondary index (a goleveldb database on the snapshot directory)
// survives a restart and is consulted only on a primary miss, the same
// read-through shape as ethdb/relaydb's primary/secondary KV store.
package snapdir

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/dmitrylala/memtx/xlog"
)

// inprogressSuffix mirrors snapshot.InProgressFileName's suffix. Kept as
// a local constant because package snapshot's own copy is unexported.
const inprogressSuffix = ".inprogress"

// ErrNotFound is returned when no snapshot is registered for a
// signature.
var ErrNotFound = errors.New("snapdir: no snapshot for signature")

// entry is the durable record: the file name a signature resolves to.
type entry struct {
	FileName string `json:"file"`
}

// Directory maps a snapshot's vclock Signature to the file name holding
// it. Entries are registered once, at checkpoint commit, and never
// updated afterward — a Directory only grows (and shrinks via Forget
// when old snapshots are pruned).
type Directory struct {
	path string

	mu      sync.RWMutex
	primary *lru.Cache // Signature.String() -> entry
	ldb     *leveldb.DB

	hits   int64
	misses int64
}

// Open creates a Directory backed by a goleveldb database rooted at
// path, with an in-memory LRU of primaryCapacity entries in front of it.
func Open(path string, primaryCapacity int) (*Directory, error) {
	if primaryCapacity <= 0 {
		primaryCapacity = 128
	}
	cache, err := lru.New(primaryCapacity)
	if err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Directory{path: path, primary: cache, ldb: db}, nil
}

// Close releases the underlying durable index.
func (d *Directory) Close() error {
	return d.ldb.Close()
}

// Register records that signature resolves to fileName, in both the
// in-memory cache and the durable index.
func (d *Directory) Register(sig xlog.Signature, fileName string) error {
	key := sig.String()
	e := entry{FileName: fileName}

	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := d.ldb.Put([]byte(key), buf, nil); err != nil {
		return err
	}

	d.mu.Lock()
	d.primary.Add(key, e)
	d.mu.Unlock()
	return nil
}

// Lookup resolves signature to a file name, consulting the in-memory
// index first and falling through to the durable one on a miss (and
// repopulating the in-memory index so the next lookup hits).
func (d *Directory) Lookup(sig xlog.Signature) (string, error) {
	key := sig.String()

	d.mu.Lock()
	if v, ok := d.primary.Get(key); ok {
		d.hits++
		d.mu.Unlock()
		return v.(entry).FileName, nil
	}
	d.misses++
	d.mu.Unlock()

	buf, err := d.ldb.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return "", ErrNotFound
		}
		return "", err
	}
	var e entry
	if err := json.Unmarshal(buf, &e); err != nil {
		return "", err
	}

	d.mu.Lock()
	d.primary.Add(key, e)
	d.mu.Unlock()
	return e.FileName, nil
}

// Forget removes a signature from both indexes, called when the
// garbage collector prunes a snapshot file that's no longer needed for
// recovery.
func (d *Directory) Forget(sig xlog.Signature) error {
	key := sig.String()

	d.mu.Lock()
	d.primary.Remove(key)
	d.mu.Unlock()

	return d.ldb.Delete([]byte(key), nil)
}

// SweepAbandoned scans the snapshot directory for leftover *.inprogress
// files — snapshot writers that crashed or were killed before either
// renaming to their final name or unlinking on abort — and removes
// them. Called once at end_recovery() so a restart after a hard crash
// mid-checkpoint doesn't accumulate dead snapshot files forever.
func (d *Directory) SweepAbandoned() (int, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return 0, err
	}

	var swept int
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), inprogressSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(d.path, de.Name())); err != nil && !os.IsNotExist(err) {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// Efficiency reports the primary index's hit/miss counters, for
// statistics reporting.
func (d *Directory) Efficiency() (hits, misses int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hits, d.misses
}
