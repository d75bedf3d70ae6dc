package xlog

import (
	"bytes"
	"io"
	"testing"
	"time"
)

type memFile struct {
	bytes.Buffer
	synced int
}

func (m *memFile) Sync() error {
	m.synced++
	return nil
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, nil)

	rows := []Row{
		{SpaceID: 1, LSN: 1, Payload: []byte("alpha")},
		{SpaceID: 1, LSN: 2, Payload: []byte("beta")},
		{SpaceID: 2, LSN: 3, Payload: []byte("gamma")},
	}
	for _, r := range rows {
		if err := w.WriteRow(r.SpaceID, r.LSN, r.Payload); err != nil {
			t.Fatalf("WriteRow: %v", err)
		}
	}
	sig := Signature{1: 3}
	if err := w.Close(sig); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReader(bytes.NewReader(f.Bytes()))
	var got []Row
	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, row)
	}

	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i, row := range got {
		if row.LSN != rows[i].LSN || row.SpaceID != rows[i].SpaceID || !bytes.Equal(row.Payload, rows[i].Payload) {
			t.Fatalf("row %d mismatch: got %+v, want %+v", i, row, rows[i])
		}
	}
	if r.Signature()[1] != 3 {
		t.Fatalf("got signature %v, want {1: 3}", r.Signature())
	}
}

func TestReaderMissingEOFIsFatal(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, nil)
	if err := w.WriteRow(1, 1, []byte("x")); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if err := w.buf.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Deliberately never call Close, so no EOF marker is written.

	r := NewReader(bytes.NewReader(f.Bytes()))
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := r.Next(); err != ErrMissingEOF {
		t.Fatalf("got %v, want ErrMissingEOF", err)
	}
}

func TestWriterSyncsEveryIntervalBytes(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, nil)
	// The interval counts frame bytes after snappy compression, so the
	// payload has to be incompressible (pseudo-random) to exceed it.
	big := make([]byte, syncInterval+1)
	x := uint32(1)
	for i := range big {
		x = x*1664525 + 1013904223
		big[i] = byte(x >> 24)
	}
	if err := w.WriteRow(1, 1, big); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if f.synced == 0 {
		t.Fatalf("expected at least one sync after exceeding the sync interval")
	}
}

func TestRateLimiterSleepsWhenOverBudget(t *testing.T) {
	var slept time.Duration
	rl := NewRateLimiter(100)
	rl.sleep = func(d time.Duration) { slept += d }
	rl.now = fixedClock()

	rl.account(150)
	if slept == 0 {
		t.Fatalf("expected rate limiter to sleep when over budget")
	}
}

func fixedClock() func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		cur := t
		t = t.Add(time.Millisecond)
		return cur
	}
}
