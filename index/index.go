// Package index implements the engine's ordered, concurrent key maps: the
// primary-key map (Pk -> page.Link) and secondary indexes (unique: K ->
// page.Link; non-unique: K -> set of page.Link).
//
// No concurrent ordered-map library appears anywhere in the example corpus
// (no github.com/google/btree, no tidwall/btree, no lock-free skip list);
// every example repo that needs ordering rolls its own tree or, like the
// teacher's B+Tree pager, pairs stdlib maps with explicit sort. This package
// follows that precedent: a sync.RWMutex-guarded map plus a sorted key slice
// maintained by insertion-order binary search, which is the idiomatic Go
// substitute for the original's epoch-guarded lock-free tree — Go's garbage
// collector makes the epoch-reclamation machinery unnecessary (see
// DESIGN.md).
package index

import (
	"errors"
	"sort"
	"sync"

	"worktable/page"
)

// ErrAlreadyExists is returned by Insert on a unique index (primary key or
// unique secondary) when the key is already present.
var ErrAlreadyExists = errors.New("index: key already exists")

// ErrNotFound is returned by lookups that require the key to be present.
var ErrNotFound = errors.New("index: key not found")

// Compare supplies the total order over a comparable index key type, since Go's ordered constraint (cmp.Ordered) cannot express
// user-defined composite/tuple keys. Compare must return <0, 0, >0 like
// strings.Compare.
type Compare[K any] func(a, b K) int

// Unique is a concurrent, ordered map from key to a single page.Link, used
// for the primary-key index and for secondary indexes declared unique.
type Unique[K comparable] struct {
	mu      sync.RWMutex
	cmp     Compare[K]
	entries map[K]page.Link
	order   []K // sorted ascending by cmp
}

// NewUnique creates an empty Unique index using cmp for ordering.
func NewUnique[K comparable](cmp Compare[K]) *Unique[K] {
	return &Unique[K]{cmp: cmp, entries: make(map[K]page.Link)}
}

func (u *Unique[K]) searchLocked(key K) int {
	return sort.Search(len(u.order), func(i int) bool {
		return u.cmp(u.order[i], key) >= 0
	})
}

// Insert adds key -> link. Returns ErrAlreadyExists if key is present,
// leaving the index unchanged.
func (u *Unique[K]) Insert(key K, link page.Link) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.entries[key]; ok {
		return ErrAlreadyExists
	}
	i := u.searchLocked(key)
	u.order = append(u.order, key)
	copy(u.order[i+1:], u.order[i:])
	u.order[i] = key
	u.entries[key] = link
	return nil
}

// Peek returns the link for key under a read lock, mirroring the original's
// epoch-guarded peek. The returned value is a copy; no guard object needs to
// be held past the call, since Go's GC makes the link's lifetime safe to use
// after Peek returns.
func (u *Unique[K]) Peek(key K) (page.Link, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	l, ok := u.entries[key]
	return l, ok
}

// Set overwrites the link for an existing key (used by link-preserving
// update). It does not reorder the key.
func (u *Unique[K]) Set(key K, link page.Link) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries[key] = link
}

// Remove deletes key from the index, returning false if it was absent.
func (u *Unique[K]) Remove(key K) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.entries[key]; !ok {
		return false
	}
	delete(u.entries, key)
	i := u.searchLocked(key)
	u.order = append(u.order[:i], u.order[i+1:]...)
	return true
}

// Len returns the number of entries.
func (u *Unique[K]) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.entries)
}

// Range calls fn for every (key, link) pair in ascending key order, stopping
// early if fn returns false. Range takes a read lock for its entire
// traversal; fn must not call back into the same Unique index.
func (u *Unique[K]) Range(fn func(key K, link page.Link) bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, k := range u.order {
		if !fn(k, u.entries[k]) {
			return
		}
	}
}

// Snapshot returns a copy of all (key, link) pairs in ascending key order.
func (u *Unique[K]) Snapshot() []Pair[K] {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]Pair[K], 0, len(u.order))
	for _, k := range u.order {
		out = append(out, Pair[K]{Key: k, Link: u.entries[k]})
	}
	return out
}

// Pair is a snapshot entry of a Unique index.
type Pair[K any] struct {
	Key  K
	Link page.Link
}

// NonUnique is a concurrent, ordered map from key to a set of page.Link,
// used for secondary indexes declared non-unique. Each key's bucket is a set
// supporting concurrent add/remove; an empty bucket is dropped.
type NonUnique[K comparable] struct {
	mu      sync.RWMutex
	cmp     Compare[K]
	entries map[K]map[page.Link]struct{}
	order   []K
}

// NewNonUnique creates an empty NonUnique index using cmp for ordering.
func NewNonUnique[K comparable](cmp Compare[K]) *NonUnique[K] {
	return &NonUnique[K]{cmp: cmp, entries: make(map[K]map[page.Link]struct{})}
}

func (n *NonUnique[K]) searchLocked(key K) int {
	return sort.Search(len(n.order), func(i int) bool {
		return n.cmp(n.order[i], key) >= 0
	})
}

// Insert adds link to key's bucket, creating the bucket if absent.
func (n *NonUnique[K]) Insert(key K, link page.Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.entries[key]
	if !ok {
		set = make(map[page.Link]struct{})
		n.entries[key] = set
		i := n.searchLocked(key)
		n.order = append(n.order, key)
		copy(n.order[i+1:], n.order[i:])
		n.order[i] = key
	}
	set[link] = struct{}{}
}

// Remove removes link from key's bucket, dropping the bucket (and the key
// from ordering) when it becomes empty.
func (n *NonUnique[K]) Remove(key K, link page.Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.entries[key]
	if !ok {
		return
	}
	delete(set, link)
	if len(set) == 0 {
		delete(n.entries, key)
		i := n.searchLocked(key)
		if i < len(n.order) && n.order[i] == key {
			n.order = append(n.order[:i], n.order[i+1:]...)
		}
	}
}

// Get returns a snapshot slice of links in key's bucket. Returns
// ErrNotFound if the bucket does not exist, mirroring the original's
// select_by_<non_unique> contract, which fails loudly on an empty key
// rather than returning an empty slice.
func (n *NonUnique[K]) Get(key K) ([]page.Link, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	set, ok := n.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]page.Link, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out, nil
}

// Len returns the number of distinct keys.
func (n *NonUnique[K]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.entries)
}

// Range calls fn for every (key, link) pair in ascending key order, a link
// at a time; stops early if fn returns false.
func (n *NonUnique[K]) Range(fn func(key K, link page.Link) bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, k := range n.order {
		for l := range n.entries[k] {
			if !fn(k, l) {
				return
			}
		}
	}
}
