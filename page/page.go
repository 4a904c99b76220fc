// Package page implements the lowest-level storage primitive of the engine:
// a fixed-size data page holding a contiguous, append-only body of serialized
// rows, addressed by compact PageLink values.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ID is a 32-bit page identifier, unique and monotonically assigned within a
// table's DataPages. It is never reused during the table's lifetime.
type ID uint32

// InvalidID is the null page id, never assigned to a real page.
const InvalidID ID = 0

// LinkSize is the exact wire size of a Link: page_id(4) + offset(4) + length(4).
const LinkSize = 12

// Link addresses a serialized row inside a data page. It is a value type:
// freely copied, never an owner of page memory.
type Link struct {
	PageID ID
	Offset uint32
	Length uint32
}

// MarshalBinary encodes l into exactly LinkSize bytes, little-endian.
func (l Link) MarshalBinary() ([]byte, error) {
	buf := make([]byte, LinkSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(l.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], l.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], l.Length)
	return buf, nil
}

// UnmarshalBinary decodes l from exactly LinkSize bytes.
func (l *Link) UnmarshalBinary(buf []byte) error {
	if len(buf) < LinkSize {
		return fmt.Errorf("page: short link buffer: %d bytes, want %d", len(buf), LinkSize)
	}
	l.PageID = ID(binary.LittleEndian.Uint32(buf[0:4]))
	l.Offset = binary.LittleEndian.Uint32(buf[4:8])
	l.Length = binary.LittleEndian.Uint32(buf[8:12])
	return nil
}

// Errors returned by DataPage operations. PageIsFull and InvalidLink are
// internal signals: PageIsFull is recovered by DataPages (allocate + retry);
// InvalidLink indicates caller misuse (a stale or foreign link) and should be
// surfaced as a bug, not a user-facing condition.
var (
	ErrDeserialize = errors.New("page: deserialize error")
)

// FullError reports that a row could not be appended because its serialized
// length exceeds the remaining page body space.
type FullError struct {
	Need int // bytes the row needed
	Left int // bytes actually left in the page body
}

func (e *FullError) Error() string {
	return fmt.Sprintf("page: page is full: need %d bytes, %d left", e.Need, e.Left)
}

// InvalidLinkError reports a link that does not address a currently valid
// region of this page: either an overwrite whose new length does not match
// the existing slot's length, or an offset beyond the page's append cursor.
type InvalidLinkError struct {
	Link   Link
	Reason string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("page: invalid link %+v: %s", e.Link, e.Reason)
}

// DefaultBodySize is the default usable body size of a DataPage, chosen to
// match the teacher engine's default page size minus a header.
const DefaultBodySize = 8192 - headerSize

const headerSize = 16 // page_id(4) + offset(4) + reserved(8)

// DataPage is a fixed-size byte buffer split into a small header (page id,
// append cursor) and a body holding the serialized bytes of rows. It is not
// internally synchronized: concurrent access across pages, or to disjoint
// link ranges of the same page, is the caller's responsibility (coordinated
// by the pages package and the lock map).
type DataPage struct {
	id     ID
	offset uint32 // append cursor; monotonic
	body   []byte
}

// New creates an empty DataPage of the given id and body size, with the
// append cursor at zero.
func New(id ID, bodySize int) *DataPage {
	if bodySize <= 0 {
		bodySize = DefaultBodySize
	}
	return &DataPage{id: id, body: make([]byte, bodySize)}
}

// ID returns the page's identifier.
func (p *DataPage) ID() ID { return p.id }

// Offset returns the current append cursor.
func (p *DataPage) Offset() uint32 { return p.offset }

// BodySize returns the capacity of the page body in bytes.
func (p *DataPage) BodySize() int { return len(p.body) }

// SaveRow appends serialized row bytes b to the page and returns the Link
// addressing them. It fails with *FullError if b does not fit in the
// remaining body space; the page is left unmodified in that case.
func (p *DataPage) SaveRow(b []byte) (Link, error) {
	need := len(b)
	left := len(p.body) - int(p.offset)
	if need > left {
		return Link{}, &FullError{Need: need, Left: left}
	}
	copy(p.body[p.offset:int(p.offset)+need], b)
	link := Link{PageID: p.id, Offset: p.offset, Length: uint32(need)}
	p.offset += uint32(need)
	return link, nil
}

// SaveRowByLink overwrites the bytes addressed by link in place. It is the
// only supported update primitive at the page level: it fails with
// *InvalidLinkError unless len(b) equals link.Length, which is why row sizes
// are tracked per-link rather than re-derived from the bytes themselves.
func (p *DataPage) SaveRowByLink(b []byte, link Link) error {
	if link.PageID != p.id {
		return &InvalidLinkError{Link: link, Reason: "wrong page id"}
	}
	if uint32(len(b)) != link.Length {
		return &InvalidLinkError{Link: link, Reason: "length mismatch on overwrite"}
	}
	if link.Offset+link.Length > p.offset {
		return &InvalidLinkError{Link: link, Reason: "offset beyond append cursor"}
	}
	copy(p.body[link.Offset:link.Offset+link.Length], b)
	return nil
}

// GetRowRef returns a read-only view over the bytes addressed by link,
// without copying. The slice aliases the page body and must not be retained
// past a subsequent mutation of the same region.
func (p *DataPage) GetRowRef(link Link) ([]byte, error) {
	if link.PageID != p.id {
		return nil, &InvalidLinkError{Link: link, Reason: "wrong page id"}
	}
	if link.Offset+link.Length > p.offset {
		return nil, &InvalidLinkError{Link: link, Reason: "offset beyond append cursor"}
	}
	return p.body[link.Offset : link.Offset+link.Length], nil
}

// GetMutRowRef returns a mutable view over the bytes addressed by link. The
// caller must not change the length of what it writes back; doing so would
// violate the length-preserving-update invariant that makes in-place update
// and later overwrite consistent with the stored Link.
func (p *DataPage) GetMutRowRef(link Link) ([]byte, error) {
	return p.GetRowRef(link)
}

// GetRow returns a copy of the bytes addressed by link.
func (p *DataPage) GetRow(link Link) ([]byte, error) {
	ref, err := p.GetRowRef(link)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ref))
	copy(out, ref)
	return out, nil
}
