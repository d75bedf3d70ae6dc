package tuple

import "encoding/binary"

// GenerationSource reports the engine's current snapshot generation. The
// factory stamps every tuple it builds with this value at allocation time
// (see the Tuple invariant: generation == engine generation at alloc).
type GenerationSource interface {
	CurrentGeneration() uint32
}

// Factory builds tuples and chunks through an Allocator, stamping them
// with the current snapshot generation and driving the delayed-free
// discipline on drop.
type Factory struct {
	alloc   *Allocator
	gen     GenerationSource
	decoder FieldDecoder
	maxSize int
}

// NewFactory creates a Factory. maxSize caps a tuple's total encoded size
// (header + field map + payload); pass 0 to use MaxTupleSize.
func NewFactory(alloc *Allocator, gen GenerationSource, decoder FieldDecoder, maxSize int) *Factory {
	if maxSize <= 0 {
		maxSize = MaxTupleSize
	}
	if decoder == nil {
		decoder = RawFieldDecoder{}
	}
	return &Factory{alloc: alloc, gen: gen, decoder: decoder, maxSize: maxSize}
}

const headerEncodedSize = 4 + 4 + 4 + 4 + 4 // generation, refcount placeholder, payloadLen, formatID, dataOffset

// MakeTuple builds a tuple from the raw body against format, stamping it
// with the engine's current snapshot generation. Fails with
// ErrTupleTooLarge if header + field map + payload would exceed the
// configured maximum.
func (f *Factory) MakeTuple(format *Format, raw []byte) (*Tuple, error) {
	fields, err := f.decoder.Decode(raw)
	if err != nil {
		return nil, ErrFormatError
	}
	fieldMapSize := len(fields) * 8 // offset+length, uint32 each
	total := headerEncodedSize + fieldMapSize + len(raw)
	if total > f.maxSize {
		return nil, ErrTupleTooLarge
	}

	buf, class, err := f.alloc.Alloc(total)
	if err != nil {
		return nil, err
	}

	dataOffset := headerEncodedSize + fieldMapSize
	copy(buf[dataOffset:], raw)

	// Re-anchor field offsets onto the tuple's own backing storage.
	anchored := make([]FieldRef, len(fields))
	for i, fr := range fields {
		anchored[i] = FieldRef{Offset: dataOffset + fr.Offset, Length: fr.Length}
	}

	t := &Tuple{
		Header: Header{
			Generation: f.gen.CurrentGeneration(),
			refcount:   0,
			PayloadLen: uint32(len(raw)),
			FormatID:   format.ID,
			DataOffset: uint32(dataOffset),
		},
		Fields: anchored,
		raw:    buf,
	}
	t.allocClass = class
	format.ref()
	return t, nil
}

// DropTuple releases a tuple whose refcount has reached zero. Precondition:
// t.RefCount() == 0. Releases the format reference, then frees the
// backing storage immediately if the allocator is in immediate mode, or
// the tuple's generation equals the engine's current generation, or the
// format is temporary (I2); otherwise the free is queued (delayed mode).
func (f *Factory) DropTuple(format *Format, t *Tuple) {
	if t.RefCount() != 0 {
		panic("tuple: DropTuple on tuple with non-zero refcount")
	}
	format.unref()

	immediate := t.Generation == f.gen.CurrentGeneration() || format.Temporary
	f.alloc.Free(t.allocClass, t.raw, immediate)
}

// encodeUint32 is a small helper kept for parity with the header layout
// documented above. Nothing in this module calls it: MakeTuple does not
// serialize the header into the tuple's backing storage, and the
// checkpoint writer frames only the tuple body.
func encodeUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}
