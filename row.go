package worktable

import "encoding/binary"

// TableRow is implemented by a generated row type to expose its primary key.
// This is the only contract this engine needs from the row shape itself;
// everything else about the row's Go type is opaque to the engine.
type TableRow[Pk any] interface {
	PrimaryKey() Pk
}

// Codec is the pluggable serialization boundary spec.md treats as an
// external collaborator (§1): turning a row value into bytes and back. It
// stands in for the original's zero-copy archived-view codec — this engine
// does not require zero-copy reads, only length-preserving in-place writes,
// which RowWrapper's fixed-offset token layout below provides without it.
type Codec[Row any] interface {
	Encode(Row) ([]byte, error)
	Decode([]byte) (Row, error)
}

// KeyCodec serializes index keys for the persistence layer.
type KeyCodec[K any] interface {
	EncodeKey(K) []byte
	DecodeKey([]byte) (K, error)
}

// RowWrapper is the value actually serialized into a DataPage: the inner row
// plus a tombstone flag and one lock token per declared column, mirroring
// spec.md's RowWrapper<Row> (§3). A tombstoned wrapper is invisible to
// reads but its slot is eligible for equal-size reuse.
type RowWrapper[Row any] struct {
	Inner     Row
	Tombstone bool
	Tokens    []uint16 // one entry per declared column, in declared order
}

// FromInner wraps a freshly inserted row with numFields zeroed lock tokens.
func FromInner[Row any](inner Row, numFields int) RowWrapper[Row] {
	return RowWrapper[Row]{Inner: inner, Tokens: make([]uint16, numFields)}
}

// wrapperPrefixSize is the byte size of the tombstone flag and field count
// preceding the token array: 1 byte tombstone + 2 bytes field count.
const wrapperPrefixSize = 3

// wrapperCodec adapts a Codec[Row] for the inner row into one that encodes
// the full RowWrapper[Row], using the fixed layout:
//
//	[0]                      tombstone (0/1)
//	[1:3]                    numFields uint16 LE
//	[3 : 3+2*numFields]      per-field lock tokens, uint16 LE each
//	[3+2*numFields:]         inner row bytes
//
// The fixed-offset prefix is what lets a caller flip the tombstone bit or
// bump a single field's token in place via pages.GetMutRowRef, without
// decoding the inner row at all — the closest idiomatic-Go analogue to the
// original's pinned archived view.
type wrapperCodec[Row any] struct {
	inner Codec[Row]
}

func newWrapperCodec[Row any](inner Codec[Row]) wrapperCodec[Row] {
	return wrapperCodec[Row]{inner: inner}
}

func (c wrapperCodec[Row]) encode(w RowWrapper[Row]) ([]byte, error) {
	innerBytes, err := c.inner.Encode(w.Inner)
	if err != nil {
		return nil, err
	}
	n := len(w.Tokens)
	buf := make([]byte, wrapperPrefixSize+2*n+len(innerBytes))
	if w.Tombstone {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
	for i, tok := range w.Tokens {
		binary.LittleEndian.PutUint16(buf[3+2*i:5+2*i], tok)
	}
	copy(buf[wrapperPrefixSize+2*n:], innerBytes)
	return buf, nil
}

func (c wrapperCodec[Row]) decode(buf []byte) (RowWrapper[Row], error) {
	if len(buf) < wrapperPrefixSize {
		return RowWrapper[Row]{}, ErrDeserialize
	}
	tombstone := buf[0] == 1
	n := int(binary.LittleEndian.Uint16(buf[1:3]))
	if len(buf) < wrapperPrefixSize+2*n {
		return RowWrapper[Row]{}, ErrDeserialize
	}
	tokens := make([]uint16, n)
	for i := range tokens {
		tokens[i] = binary.LittleEndian.Uint16(buf[3+2*i : 5+2*i])
	}
	inner, err := c.inner.Decode(buf[wrapperPrefixSize+2*n:])
	if err != nil {
		return RowWrapper[Row]{}, err
	}
	return RowWrapper[Row]{Inner: inner, Tombstone: tombstone, Tokens: tokens}, nil
}

// isTombstoned reads the tombstone flag directly out of a wrapper's raw
// bytes, without decoding the row.
func isTombstoned(buf []byte) bool {
	return len(buf) > 0 && buf[0] == 1
}

// setTombstone flips the tombstone flag directly in a wrapper's raw bytes.
func setTombstone(buf []byte, v bool) {
	if v {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
}

// tokenOffset returns the byte offset of field i's lock token within a
// wrapper's raw bytes.
func tokenOffset(field int) int {
	return wrapperPrefixSize + 2*field
}

// bumpToken increments field's lock token in place, without decoding the
// row. WorkTable does not call it: updateAtLink increments every token once
// by re-encoding the wrapper after its field locks are held, and no code
// path decrements a token, so a token's value does not show whether a
// mutation is in flight.
func bumpToken(buf []byte, field int) {
	off := tokenOffset(field)
	cur := binary.LittleEndian.Uint16(buf[off : off+2])
	binary.LittleEndian.PutUint16(buf[off:off+2], cur+1)
}
