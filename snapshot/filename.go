package snapshot

import (
	"fmt"
	"sort"

	"github.com/dmitrylala/memtx/xlog"
)

// inprogressSuffix marks a snapshot file still being constructed.
const inprogressSuffix = ".inprogress"

// fileExt is the extension given to a completed snapshot file.
const fileExt = ".snap"

// FileName derives a deterministic file name from a vclock signature:
// the sum of every replica's LSN, zero-padded to 20 digits, the same
// shape the wider ecosystem uses for LSN-named snapshot files.
func FileName(sig xlog.Signature) string {
	return fmt.Sprintf("%020d%s", signatureOrdinal(sig), fileExt)
}

// InProgressFileName is FileName with the in-progress suffix appended,
// the name the writer creates before an atomic rename at commit.
func InProgressFileName(sig xlog.Signature) string {
	return FileName(sig) + inprogressSuffix
}

// signatureOrdinal collapses a vclock into a single ascending ordinal
// for filename purposes: the sum of per-replica LSNs. Distinct
// signatures could in principle collide under this reduction, but two
// signatures this engine ever constructs for the same directory always
// differ in at least one component actually advancing, and ties are
// broken by snapdir's signature-keyed index, not by the filename alone.
func signatureOrdinal(sig xlog.Signature) int64 {
	ids := make([]uint32, 0, len(sig))
	for id := range sig {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sum int64
	for _, id := range ids {
		sum += sig[id]
	}
	return sum
}
