package worktable

import (
	"worktable/index"
	"worktable/page"
	"worktable/persist"
)

// SecondaryIndex is the type-erased view of a declared secondary index that
// WorkTable holds in its index registry. Concrete key types are hidden
// behind KeyOf/Compare closures captured at construction; callers that need
// typed lookups use the free functions SelectByUnique/SelectByNonUnique/
// UpdateByUnique/UpdateByNonUnique in worktable.go, which type-assert back to the
// concrete *UniqueIndex[Row,K] / *NonUniqueIndex[Row,K].
type SecondaryIndex[Row any] interface {
	Name() string
	Unique() bool
	insert(row Row, link page.Link) error
	remove(row Row, link page.Link)
	persistAdapter() persist.PersistableIndex
}

// UniqueIndex is a secondary index that rejects a second row with the same
// key (spec.md §4.4).
type UniqueIndex[Row any, K comparable] struct {
	name     string
	keyOf    func(Row) K
	keyCodec KeyCodec[K]
	idx      *index.Unique[K]
}

// NewUniqueIndex declares a unique secondary index named name, deriving a
// row's key via keyOf and ordering keys with cmp.
func NewUniqueIndex[Row any, K comparable](name string, keyOf func(Row) K, cmp index.Compare[K], kc KeyCodec[K]) *UniqueIndex[Row, K] {
	return &UniqueIndex[Row, K]{name: name, keyOf: keyOf, keyCodec: kc, idx: index.NewUnique[K](cmp)}
}

func (u *UniqueIndex[Row, K]) Name() string { return u.name }
func (u *UniqueIndex[Row, K]) Unique() bool { return true }

func (u *UniqueIndex[Row, K]) insert(row Row, link page.Link) error {
	if err := u.idx.Insert(u.keyOf(row), link); err != nil {
		return err // index.ErrAlreadyExists
	}
	return nil
}

func (u *UniqueIndex[Row, K]) remove(row Row, link page.Link) {
	u.idx.Remove(u.keyOf(row))
}

// SelectLink returns the link stored under key, if any.
func (u *UniqueIndex[Row, K]) SelectLink(key K) (page.Link, bool) {
	return u.idx.Peek(key)
}

// Rekey moves a row's entry from its old key to its new key after an update
// that changed the indexed field's value, preserving link.
func (u *UniqueIndex[Row, K]) Rekey(oldRow, newRow Row, link page.Link) error {
	oldKey, newKey := u.keyOf(oldRow), u.keyOf(newRow)
	if oldKey == newKey {
		u.idx.Set(newKey, link)
		return nil
	}
	if err := u.idx.Insert(newKey, link); err != nil {
		return err
	}
	u.idx.Remove(oldKey)
	return nil
}

func (u *UniqueIndex[Row, K]) persistAdapter() persist.PersistableIndex {
	return uniquePersistAdapter[Row, K]{u}
}

type uniquePersistAdapter[Row any, K comparable] struct {
	idx *UniqueIndex[Row, K]
}

func (a uniquePersistAdapter[Row, K]) Name() string { return a.idx.name }

func (a uniquePersistAdapter[Row, K]) Snapshot() []persist.Entry {
	pairs := a.idx.idx.Snapshot()
	out := make([]persist.Entry, len(pairs))
	for i, p := range pairs {
		out[i] = persist.Entry{Key: a.idx.keyCodec.EncodeKey(p.Key), Link: p.Link}
	}
	return out
}

func (a uniquePersistAdapter[Row, K]) Load(entries []persist.Entry) error {
	for _, e := range entries {
		k, err := a.idx.keyCodec.DecodeKey(e.Key)
		if err != nil {
			return err
		}
		if err := a.idx.idx.Insert(k, e.Link); err != nil {
			return err
		}
	}
	return nil
}

// NonUniqueIndex is a secondary index whose keys may repeat across rows; a
// key's value is a set of links (spec.md §4.4).
type NonUniqueIndex[Row any, K comparable] struct {
	name     string
	keyOf    func(Row) K
	keyCodec KeyCodec[K]
	idx      *index.NonUnique[K]
}

// NewNonUniqueIndex declares a non-unique secondary index.
func NewNonUniqueIndex[Row any, K comparable](name string, keyOf func(Row) K, cmp index.Compare[K], kc KeyCodec[K]) *NonUniqueIndex[Row, K] {
	return &NonUniqueIndex[Row, K]{name: name, keyOf: keyOf, keyCodec: kc, idx: index.NewNonUnique[K](cmp)}
}

func (n *NonUniqueIndex[Row, K]) Name() string { return n.name }
func (n *NonUniqueIndex[Row, K]) Unique() bool { return false }

func (n *NonUniqueIndex[Row, K]) insert(row Row, link page.Link) error {
	n.idx.Insert(n.keyOf(row), link)
	return nil
}

func (n *NonUniqueIndex[Row, K]) remove(row Row, link page.Link) {
	n.idx.Remove(n.keyOf(row), link)
}

// SelectLinks returns every link stored under key. Returns index.ErrNotFound
// if the bucket does not exist, mirroring select_by_<non-unique> returning
// an error on an empty key rather than an empty slice.
func (n *NonUniqueIndex[Row, K]) SelectLinks(key K) ([]page.Link, error) {
	return n.idx.Get(key)
}

func (n *NonUniqueIndex[Row, K]) persistAdapter() persist.PersistableIndex {
	return nonUniquePersistAdapter[Row, K]{n}
}

type nonUniquePersistAdapter[Row any, K comparable] struct {
	idx *NonUniqueIndex[Row, K]
}

func (a nonUniquePersistAdapter[Row, K]) Name() string { return a.idx.name }

func (a nonUniquePersistAdapter[Row, K]) Snapshot() []persist.Entry {
	var out []persist.Entry
	a.idx.idx.Range(func(k K, l page.Link) bool {
		out = append(out, persist.Entry{Key: a.idx.keyCodec.EncodeKey(k), Link: l})
		return true
	})
	return out
}

func (a nonUniquePersistAdapter[Row, K]) Load(entries []persist.Entry) error {
	for _, e := range entries {
		k, err := a.idx.keyCodec.DecodeKey(e.Key)
		if err != nil {
			return err
		}
		a.idx.idx.Insert(k, e.Link)
	}
	return nil
}
