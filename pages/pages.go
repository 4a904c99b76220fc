// Package pages implements DataPages, the ordered collection of page.DataPage
// that WorkTable uses for table-wide insert/select/update/delete over links.
// It manages allocation of new pages when the tail page is full and reuse of
// tombstoned, equal-size slots via a free-list keyed by row length.
package pages

import (
	"errors"
	"fmt"
	"sync"

	"worktable/page"
)

// ErrInvalidLink is returned when a link does not address any page currently
// owned by this DataPages.
var ErrInvalidLink = errors.New("pages: invalid link")

// DataPages is an ordered collection of page.DataPage. At least one page
// always exists. New pages are appended monotonically; page ids are never
// reused, but freed row slots are tracked for equal-size reuse.
//
// DataPages is safe for concurrent use: a single RWMutex guards the page
// list and free-list bookkeeping. Per-row synchronization against concurrent
// updates to the *same* row is the caller's responsibility via lock.Map;
// DataPages only guarantees the page list and free-list stay consistent.
type DataPages struct {
	mu       sync.RWMutex
	bodySize int
	nextID   page.ID
	byID     map[page.ID]*page.DataPage
	order    []page.ID // allocation order; last element is the tail

	// freeList maps a row length to a FIFO queue of links whose slot was
	// tombstoned and is available for reuse by a row of the same length.
	freeList map[uint32][]page.Link
}

// New creates a DataPages with a single empty page and the given per-page
// body size. A bodySize <= 0 selects page.DefaultBodySize.
func New(bodySize int) *DataPages {
	dp := &DataPages{
		bodySize: bodySize,
		byID:     make(map[page.ID]*page.DataPage),
		freeList: make(map[uint32][]page.Link),
	}
	dp.allocLocked()
	return dp
}

// allocLocked appends a fresh page and makes it the tail. Caller must hold mu.
func (dp *DataPages) allocLocked() *page.DataPage {
	dp.nextID++
	p := page.New(dp.nextID, dp.bodySize)
	dp.byID[p.ID()] = p
	dp.order = append(dp.order, p.ID())
	return p
}

func (dp *DataPages) tailLocked() *page.DataPage {
	return dp.byID[dp.order[len(dp.order)-1]]
}

// Insert serializes a row's bytes into the store. It first tries to reuse a
// tombstoned slot of exactly the same length; failing that, it appends to the
// tail page, allocating a new page on overflow.
func (dp *DataPages) Insert(b []byte) (page.Link, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if reused, ok := dp.popFreeLocked(uint32(len(b))); ok {
		p := dp.byID[reused.PageID]
		if err := p.SaveRowByLink(b, reused); err != nil {
			return page.Link{}, fmt.Errorf("pages: reuse free slot: %w", err)
		}
		return reused, nil
	}

	tail := dp.tailLocked()
	link, err := tail.SaveRow(b)
	if err == nil {
		return link, nil
	}
	var full *page.FullError
	if !errors.As(err, &full) {
		return page.Link{}, err
	}
	tail = dp.allocLocked()
	return tail.SaveRow(b)
}

// popFreeLocked removes and returns one free link of the given length, if any.
func (dp *DataPages) popFreeLocked(length uint32) (page.Link, bool) {
	q := dp.freeList[length]
	if len(q) == 0 {
		return page.Link{}, false
	}
	link := q[0]
	if len(q) == 1 {
		delete(dp.freeList, length)
	} else {
		dp.freeList[length] = q[1:]
	}
	return link, true
}

// Select returns a copy of the row bytes addressed by link.
func (dp *DataPages) Select(link page.Link) ([]byte, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	p, ok := dp.byID[link.PageID]
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidLink, link)
	}
	return p.GetRow(link)
}

// GetRowRef returns a read-only view of the bytes addressed by link. The
// returned slice aliases page memory and must be copied before any concurrent
// mutation of the same link is possible.
func (dp *DataPages) GetRowRef(link page.Link) ([]byte, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	p, ok := dp.byID[link.PageID]
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidLink, link)
	}
	return p.GetRowRef(link)
}

// GetMutRowRef returns a mutable view of the bytes addressed by link, for a
// length-preserving in-place update performed under a held field lock.
func (dp *DataPages) GetMutRowRef(link page.Link) ([]byte, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	p, ok := dp.byID[link.PageID]
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidLink, link)
	}
	return p.GetMutRowRef(link)
}

// UpdateByLink overwrites the row addressed by link in place. It fails unless
// len(b) == link.Length; callers must fall back to Delete+Insert otherwise.
func (dp *DataPages) UpdateByLink(link page.Link, b []byte) error {
	dp.mu.RLock()
	p, ok := dp.byID[link.PageID]
	dp.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %+v", ErrInvalidLink, link)
	}
	return p.SaveRowByLink(b, link)
}

// Delete removes the row addressed by link from service and pushes the slot
// onto the free-list so an equal-length insert can reuse it. It does not
// tombstone the bytes itself; callers that carry a tombstone flag inside the
// row wrapper must flip it before calling Delete.
func (dp *DataPages) Delete(link page.Link) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, ok := dp.byID[link.PageID]; !ok {
		return fmt.Errorf("%w: %+v", ErrInvalidLink, link)
	}
	dp.freeList[link.Length] = append(dp.freeList[link.Length], link)
	return nil
}

// PageCount returns the number of allocated pages.
func (dp *DataPages) PageCount() int {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return len(dp.order)
}
