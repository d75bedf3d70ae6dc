package xlog

import (
	"bufio"
	"io"
	"time"
)

// syncInterval is how many bytes a Writer buffers before forcing a disk
// sync, mirroring freezerTable's "fsync before irreversibly deleting
// data" discipline applied instead to "fsync periodically while still
// writing," so a checkpoint can't silently lose a large tail on crash.
const syncInterval = 16 * 1024 * 1024

// syncer is the subset of *os.File a Writer needs; satisfied by the
// *os.File the checkpoint writer creates.
type syncer interface {
	io.Writer
	Sync() error
}

// RateLimiter throttles a Writer's output to a target byte rate. A nil
// RateLimiter disables throttling.
type RateLimiter struct {
	bytesPerSec int64
	window      time.Duration
	written     int64
	windowStart time.Time
	sleep       func(time.Duration)
	now         func() time.Time
}

// NewRateLimiter creates a limiter capped at bytesPerSec bytes per
// second, matching the engine's snap_io_rate_limit tunable.
func NewRateLimiter(bytesPerSec int64) *RateLimiter {
	return &RateLimiter{
		bytesPerSec: bytesPerSec,
		window:      time.Second,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

func (rl *RateLimiter) account(n int) {
	if rl == nil || rl.bytesPerSec <= 0 {
		return
	}
	now := rl.now()
	if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rl.window {
		rl.windowStart = now
		rl.written = 0
	}
	rl.written += int64(n)
	if rl.written >= rl.bytesPerSec {
		elapsed := now.Sub(rl.windowStart)
		if remain := rl.window - elapsed; remain > 0 {
			rl.sleep(remain)
		}
		rl.windowStart = rl.now()
		rl.written = 0
	}
}

// Writer emits a snapshot file: a sequence of INSERT rows, an EOF
// marker, and a trailing vclock signature. Callers drive it through
// WriteRow once per tuple the checkpoint's read-view yields, then
// Close to finalize.
type Writer struct {
	f       syncer
	buf     *bufio.Writer
	limiter *RateLimiter

	sinceSync int
	rowCount  uint64
}

// NewWriter wraps f (typically an *os.File) for snapshot output.
// limiter may be nil to disable throttling.
func NewWriter(f syncer, limiter *RateLimiter) *Writer {
	return &Writer{f: f, buf: bufio.NewWriterSize(f, 1<<16), limiter: limiter}
}

// WriteRow appends one INSERT row. LSNs must be written in strictly
// ascending order; callers (the checkpoint writer) are responsible for
// that ordering since it's a property of iteration order, not something
// this type can enforce cheaply.
func (w *Writer) WriteRow(spaceID uint32, lsn uint64, payload []byte) error {
	frame := encodeRow(nil, Row{Type: RowInsert, LSN: lsn, SpaceID: spaceID, Payload: payload})
	if _, err := w.buf.Write(frame); err != nil {
		return err
	}
	w.rowCount++
	w.limiter.account(len(frame))

	w.sinceSync += len(frame)
	if w.sinceSync >= syncInterval {
		if err := w.sync(); err != nil {
			return err
		}
		w.sinceSync = 0
	}
	return nil
}

func (w *Writer) sync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close writes the EOF marker and the vclock signature, flushes, and
// fsyncs the file. After Close, sig is durably recorded as the file's
// identity for snapdir to index.
func (w *Writer) Close(sig Signature) error {
	frame := encodeEOF(nil)
	if _, err := w.buf.Write(frame); err != nil {
		return err
	}
	if err := encodeSignature(w.buf, sig); err != nil {
		return err
	}
	return w.sync()
}

// RowCount reports how many INSERT rows have been written so far.
func (w *Writer) RowCount() uint64 { return w.rowCount }
