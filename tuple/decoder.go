package tuple

// FieldDecoder turns a tuple's raw serialized body into a field map. The
// actual wire format (msgpack, protobuf, whatever the space's tuple
// format uses) is an out-of-scope collaborator — this module only needs
// the shape of the contract so Factory.MakeTuple can size and validate
// the incoming payload.
type FieldDecoder interface {
	// Decode returns the field map for raw, or an error if raw is not a
	// well-formed body for this decoder's format.
	Decode(raw []byte) ([]FieldRef, error)
}

// RawFieldDecoder treats the entire payload as a single opaque field. It's
// the decoder used when no space-specific decoder is wired in (and by
// tests), matching formats with FieldCount == 1.
type RawFieldDecoder struct{}

// Decode implements FieldDecoder.
func (RawFieldDecoder) Decode(raw []byte) ([]FieldRef, error) {
	return []FieldRef{{Offset: 0, Length: len(raw)}}, nil
}
