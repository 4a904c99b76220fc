package worktable

import "encoding/binary"

// person is a small demo row used across worktable_test.go. Its codec
// follows the tag-based binary layout internal/storage/pager/row_codec.go
// uses for []any rows, specialized to person's fixed five columns instead of
// a dynamic column list.
type person struct {
	id    int64
	name  string
	email string
	city  string
	age   int64
}

func (p person) PrimaryKey() int64 { return p.id }

const (
	colTagInt64  byte = 0x02
	colTagString byte = 0x04
)

type personCodec struct{}

func (personCodec) Encode(p person) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = appendInt64Col(buf, p.id)
	buf = appendStringCol(buf, p.name)
	buf = appendStringCol(buf, p.email)
	buf = appendStringCol(buf, p.city)
	buf = appendInt64Col(buf, p.age)
	return buf, nil
}

func (personCodec) Decode(data []byte) (person, error) {
	var p person
	off := 0

	readInt64 := func() (int64, error) {
		if off+1+8 > len(data) || data[off] != colTagInt64 {
			return 0, ErrDeserialize
		}
		off++
		v := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		return v, nil
	}
	readString := func() (string, error) {
		if off+1+2 > len(data) || data[off] != colTagString {
			return "", ErrDeserialize
		}
		off++
		n := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if off+n > len(data) {
			return "", ErrDeserialize
		}
		s := string(data[off : off+n])
		off += n
		return s, nil
	}

	var err error
	if p.id, err = readInt64(); err != nil {
		return person{}, err
	}
	if p.name, err = readString(); err != nil {
		return person{}, err
	}
	if p.email, err = readString(); err != nil {
		return person{}, err
	}
	if p.city, err = readString(); err != nil {
		return person{}, err
	}
	if p.age, err = readInt64(); err != nil {
		return person{}, err
	}
	return p, nil
}

func appendInt64Col(buf []byte, v int64) []byte {
	buf = append(buf, colTagInt64)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendStringCol(buf []byte, v string) []byte {
	buf = append(buf, colTagString)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(v)))
	buf = append(buf, b[:]...)
	return append(buf, v...)
}

type int64KeyCodec struct{}

func (int64KeyCodec) EncodeKey(k int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(k))
	return b
}

func (int64KeyCodec) DecodeKey(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, ErrDeserialize
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

type stringKeyCodec struct{}

func (stringKeyCodec) EncodeKey(k string) []byte    { return []byte(k) }
func (stringKeyCodec) DecodeKey(b []byte) (string, error) { return string(b), nil }

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
