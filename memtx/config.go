// Package memtx ties together the arena, tuple, extent, gc, snapshot,
// recovery, snapdir and xlog packages into the engine facade a
// surrounding database process drives: bootstrap, recovery, checkpoint,
// garbage collection, and statement rollback.
package memtx

import (
	"os"

	"github.com/naoina/toml"
)

// Config lists the engine's tunables (spec §6): snapshot directory,
// force-recovery flag, arena sizing, allocator size-class parameters,
// the advisory core-dump flag, the snapshot I/O rate limit, and the
// maximum tuple size.
type Config struct {
	SnapDir              string
	ForceRecovery        bool
	ArenaMaxBytes        uint64
	MinObjectSize        uint32
	GrowthFactor         float64
	NoDumpOnCore         bool
	SnapIORateLimitMiBs  int
	MaxTupleSize         uint32
	SnapdirCacheEntries  int
	CheckpointCacheBytes int
}

// DefaultConfig returns a Config with the engine's documented defaults:
// 1MiB maximum tuple size, 16-byte minimum object size, a 1.2 growth
// factor, no rate limiting.
func DefaultConfig() Config {
	return Config{
		MinObjectSize:        16,
		GrowthFactor:         1.2,
		MaxTupleSize:         1 << 20,
		SnapdirCacheEntries:  128,
		CheckpointCacheBytes: 0,
	}
}

// LoadFile decodes a TOML file into a Config, starting from
// DefaultConfig so unset fields keep their defaults. This exists for
// tests and tools that want tunables on disk; no command-line flag
// parser is built around it.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	// Mirrors the teacher pack's own use of naoina/toml: a zero-value
	// toml.Config used purely for its NewDecoder, no custom field
	// normalization needed for this engine's flat tunables struct.
	if err := (toml.Config{}).NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
