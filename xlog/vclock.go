package xlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Signature is a vector clock: for each replica id, the highest log
// sequence number from that replica reflected in a snapshot. It is the
// value snapdir indexes committed snapshots by.
type Signature map[uint32]int64

// String renders a signature deterministically (ascending replica id),
// suitable for use as a map key or log field.
func (s Signature) String() string {
	ids := make([]uint32, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d: %d", id, s[id])
	}
	return out + "}"
}

// encodeSignature writes sig as a trailing footer: a count, then
// (replica id, lsn) pairs in ascending replica id order.
func encodeSignature(w io.Writer, sig Signature) error {
	ids := make([]uint32, 0, len(sig))
	for id := range sig {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(ids)))
	if _, err := w.Write(buf); err != nil {
		return err
	}

	entry := make([]byte, 12)
	for _, id := range ids {
		binary.BigEndian.PutUint32(entry[0:4], id)
		binary.BigEndian.PutUint64(entry[4:12], uint64(sig[id]))
		if _, err := w.Write(entry); err != nil {
			return err
		}
	}
	return nil
}

// decodeSignature reads a footer written by encodeSignature.
func decodeSignature(r io.Reader) (Signature, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrCorruptRow
	}
	count := binary.BigEndian.Uint32(buf)

	sig := make(Signature, count)
	entry := make([]byte, 12)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, ErrCorruptRow
		}
		id := binary.BigEndian.Uint32(entry[0:4])
		lsn := int64(binary.BigEndian.Uint64(entry[4:12]))
		sig[id] = lsn
	}
	return sig, nil
}
