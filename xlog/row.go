// Package xlog implements the on-disk row format a checkpoint writer
// emits and a recovery replay reads back: a sequence of framed INSERT
// rows terminated by an EOF marker, snappy-compressed per row the same
// way the engine's data files are, with a trailing vclock signature
// identifying exactly which log positions the snapshot covers.
package xlog

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
)

// RowType distinguishes the handful of record kinds that can appear in a
// snapshot file.
type RowType uint8

const (
	// RowInsert carries one tuple's worth of row data.
	RowInsert RowType = 1
	// RowEOF is a zero-length sentinel row marking the end of a snapshot
	// file, so a reader can distinguish "clean end" from "truncated by a
	// crash."
	RowEOF RowType = 0xff
)

// ErrCorruptRow is returned by Reader.Next when a frame's length or type
// byte is unreadable or self-inconsistent.
var ErrCorruptRow = errors.New("xlog: corrupt row")

// ErrMissingEOF is returned when a snapshot file ends without its EOF
// marker row, meaning the writer crashed mid-dump and the file must be
// treated as unusable.
var ErrMissingEOF = errors.New("xlog: missing EOF marker, snapshot file is truncated")

// Row is one framed record: an ascending log sequence number, the space
// it belongs to, and the tuple's raw serialized body (the bytes
// tuple.Factory.MakeTuple takes as input).
type Row struct {
	Type    RowType
	LSN     uint64
	SpaceID uint32
	Payload []byte
}

// frameHeaderSize is the fixed portion of a frame: 4-byte compressed
// length, 1-byte type, 8-byte LSN, 4-byte space id.
const frameHeaderSize = 4 + 1 + 8 + 4

// encodeRow appends r's wire frame to dst and returns the extended
// slice. The payload is snappy-compressed, mirroring freezerTable's
// per-blob compression.
func encodeRow(dst []byte, r Row) []byte {
	compressed := snappy.Encode(nil, r.Payload)

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(compressed)))
	header[4] = byte(r.Type)
	binary.BigEndian.PutUint64(header[5:13], r.LSN)
	binary.BigEndian.PutUint32(header[13:17], r.SpaceID)

	dst = append(dst, header...)
	dst = append(dst, compressed...)
	return dst
}

// encodeEOF appends the zero-length EOF sentinel frame to dst.
func encodeEOF(dst []byte) []byte {
	return encodeRow(dst, Row{Type: RowEOF})
}

// decodeRow reads exactly one frame from r. It returns io.EOF only when
// r is exhausted at a frame boundary with no bytes consumed (used by
// callers that pre-check stream length); within a well-formed stream the
// terminal condition is a Row with Type == RowEOF, not an io.EOF error.
func decodeRow(r io.Reader) (Row, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Row{}, ErrCorruptRow
		}
		return Row{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	typ := RowType(header[4])
	lsn := binary.BigEndian.Uint64(header[5:13])
	spaceID := binary.BigEndian.Uint32(header[13:17])

	compressed := make([]byte, length)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return Row{}, ErrCorruptRow
	}

	if typ == RowEOF {
		return Row{Type: RowEOF, LSN: lsn, SpaceID: spaceID}, nil
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Row{}, ErrCorruptRow
	}
	return Row{Type: typ, LSN: lsn, SpaceID: spaceID, Payload: payload}, nil
}
