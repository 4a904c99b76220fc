// Package worktable is an embeddable, concurrent, in-process table engine:
// a paged data store holding serialized rows addressable by a compact link,
// concurrent primary and secondary indexes translating keys to links, a
// per-row field-lock protocol serializing conflicting mutations, and an
// index-persistence format that round-trips a live index to a paged file.
package worktable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"worktable/index"
	"worktable/lock"
	"worktable/page"
	"worktable/pages"
	"worktable/persist"
	"worktable/pkgen"
)

// WorkTable is the table handle composing the paged store, the lock map,
// the primary-key index, the declared secondary indexes, and a primary-key
// generator (spec.md §2 component 7). Reads (Select*) never suspend;
// mutations (Update*, Upsert, Delete) may briefly contend on a field lock.
type WorkTable[Row TableRow[Pk], Pk comparable] struct {
	data    *pages.DataPages
	pkMap   *index.Unique[Pk]
	pkCodec KeyCodec[Pk]
	lockMap *lock.Map[Pk]
	pkGen   pkgen.Generator[Pk]
	wcodec  wrapperCodec[Row]

	numFields  int
	fieldIDs   []lock.ID
	secondary  []SecondaryIndex[Row]
	byName     map[string]SecondaryIndex[Row]
}

// Config declares a table's shape: its codec, primary-key ordering and
// generator, and the secondary indexes it carries.
type Config[Row TableRow[Pk], Pk comparable] struct {
	Codec        Codec[Row]
	PkCompare    index.Compare[Pk]
	PkCodec      KeyCodec[Pk]
	PkGen        pkgen.Generator[Pk]
	NumFields    int // declared column count, for per-field lock tokens
	PageBodySize int // 0 selects page.DefaultBodySize
	Secondary    []SecondaryIndex[Row]
}

// New constructs a WorkTable from cfg.
func New[Row TableRow[Pk], Pk comparable](cfg Config[Row, Pk]) *WorkTable[Row, Pk] {
	fieldIDs := make([]lock.ID, cfg.NumFields)
	for i := range fieldIDs {
		fieldIDs[i] = lock.ID(i)
	}
	byName := make(map[string]SecondaryIndex[Row], len(cfg.Secondary))
	for _, si := range cfg.Secondary {
		byName[si.Name()] = si
	}
	return &WorkTable[Row, Pk]{
		data:      pages.New(cfg.PageBodySize),
		pkMap:     index.NewUnique[Pk](cfg.PkCompare),
		pkCodec:   cfg.PkCodec,
		lockMap:   lock.NewMap[Pk](),
		pkGen:     cfg.PkGen,
		wcodec:    newWrapperCodec[Row](cfg.Codec),
		numFields: cfg.NumFields,
		fieldIDs:  fieldIDs,
		secondary: cfg.Secondary,
		byName:    byName,
	}
}

// NextPK delegates to the table's primary-key generator.
func (wt *WorkTable[Row, Pk]) NextPK() Pk { return wt.pkGen.Next() }

// Insert serializes row, appends it to the paged store, then updates the
// primary-key map and every secondary index in turn. Any failure after the
// row bytes have been written rolls back every prior step in reverse order,
// including reclaiming the row's slot — correcting the original source's
// documented bug of leaving an orphaned row write behind on AlreadyExists
// (spec.md §9).
func (wt *WorkTable[Row, Pk]) Insert(row Row) error {
	pk := row.PrimaryKey()

	wrapper := FromInner(row, wt.numFields)
	b, err := wt.wcodec.encode(wrapper)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	link, err := wt.data.Insert(b)
	if err != nil {
		return wrapPagesError(err)
	}

	if err := wt.pkMap.Insert(pk, link); err != nil {
		_ = wt.data.Delete(link) // rollback: reclaim the orphaned row write
		if errors.Is(err, index.ErrAlreadyExists) {
			return ErrAlreadyExists
		}
		return err
	}

	installed := 0
	for _, si := range wt.secondary {
		if err := si.insert(row, link); err != nil {
			// Roll back in reverse: prior secondary inserts, the pk_map
			// entry, then the row write itself.
			for i := installed - 1; i >= 0; i-- {
				wt.secondary[i].remove(row, link)
			}
			wt.pkMap.Remove(pk)
			_ = wt.data.Delete(link)
			if errors.Is(err, index.ErrAlreadyExists) {
				return ErrAlreadyExists
			}
			return err
		}
		installed++
	}
	return nil
}

// Select looks up pk and returns its row. Returns ErrNotFound if absent.
func (wt *WorkTable[Row, Pk]) Select(pk Pk) (Row, error) {
	var zero Row
	link, ok := wt.pkMap.Peek(pk)
	if !ok {
		return zero, ErrNotFound
	}
	return wt.selectByLink(link)
}

func (wt *WorkTable[Row, Pk]) selectByLink(link page.Link) (Row, error) {
	var zero Row
	b, err := wt.data.Select(link)
	if err != nil {
		return zero, wrapPagesError(err)
	}
	w, err := wt.wcodec.decode(b)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if w.Tombstone {
		return zero, ErrNotFound
	}
	return w.Inner, nil
}

// SelectAll returns every live row in ascending primary-key order.
func (wt *WorkTable[Row, Pk]) SelectAll() ([]Row, error) {
	var out []Row
	var rangeErr error
	wt.pkMap.Range(func(_ Pk, link page.Link) bool {
		row, err := wt.selectByLink(link)
		if err != nil {
			rangeErr = err
			return false
		}
		out = append(out, row)
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return out, nil
}

// Update replaces the row stored for row.PrimaryKey() with row, acquiring
// every declared field's lock in declared order for the duration of the
// critical section, and rewriting every secondary index entry that pointed
// at the row's old link.
func (wt *WorkTable[Row, Pk]) Update(row Row) error {
	pk := row.PrimaryKey()
	link, ok := wt.pkMap.Peek(pk)
	if !ok {
		return ErrNotFound
	}
	return wt.updateAtLink(pk, link, func(Row) Row { return row })
}

// updateAtLink is the shared critical section for Update and the
// update-by-index free functions: read the current row, apply mutate,
// rewrite storage (in place when the serialized length is unchanged, else
// delete+insert), and rewrite every secondary index entry for this row.
func (wt *WorkTable[Row, Pk]) updateAtLink(pk Pk, link page.Link, mutate func(Row) Row) error {
	locks := wt.lockMap.AcquireAll(pk, wt.fieldIDs)
	defer wt.lockMap.ReleaseAll(pk, wt.fieldIDs, locks)

	b, err := wt.data.Select(link)
	if err != nil {
		return wrapPagesError(err)
	}
	oldWrapper, err := wt.wcodec.decode(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	oldRow := oldWrapper.Inner
	newRow := mutate(oldRow)

	tokens := append([]uint16(nil), oldWrapper.Tokens...)
	for i := range tokens {
		tokens[i]++
	}
	newWrapper := RowWrapper[Row]{Inner: newRow, Tombstone: false, Tokens: tokens}
	newBytes, err := wt.wcodec.encode(newWrapper)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	finalLink := link
	if uint32(len(newBytes)) == link.Length {
		if err := wt.data.UpdateByLink(link, newBytes); err != nil {
			return wrapPagesError(err)
		}
	} else {
		if err := wt.data.Delete(link); err != nil {
			return wrapPagesError(err)
		}
		newLink, err := wt.data.Insert(newBytes)
		if err != nil {
			return wrapPagesError(err)
		}
		finalLink = newLink
		wt.pkMap.Set(pk, finalLink)
	}

	for _, si := range wt.secondary {
		si.remove(oldRow, link)
		if err := si.insert(newRow, finalLink); err != nil {
			return fmt.Errorf("worktable: update violates unique index %q: %w", si.Name(), err)
		}
	}
	return nil
}

// Upsert inserts row if its primary key is absent, otherwise updates the
// existing row in place.
func (wt *WorkTable[Row, Pk]) Upsert(row Row) error {
	pk := row.PrimaryKey()
	if _, ok := wt.pkMap.Peek(pk); ok {
		return wt.Update(row)
	}
	return wt.Insert(row)
}

// Delete tombstones the row at pk, removes it from the primary-key map and
// every secondary index (reading old key values before removal), and
// reclaims its slot on the free-list for equal-size reuse.
func (wt *WorkTable[Row, Pk]) Delete(pk Pk) error {
	link, ok := wt.pkMap.Peek(pk)
	if !ok {
		return ErrNotFound
	}

	locks := wt.lockMap.AcquireAll(pk, wt.fieldIDs)
	defer wt.lockMap.ReleaseAll(pk, wt.fieldIDs, locks)

	b, err := wt.data.Select(link)
	if err != nil {
		return wrapPagesError(err)
	}
	w, err := wt.wcodec.decode(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if w.Tombstone {
		return ErrNotFound
	}
	row := w.Inner

	mut, err := wt.data.GetMutRowRef(link)
	if err != nil {
		return wrapPagesError(err)
	}
	setTombstone(mut, true)

	wt.pkMap.Remove(pk)
	for _, si := range wt.secondary {
		si.remove(row, link)
	}
	return wt.data.Delete(link)
}

// persistAdapters returns the pk index plus every secondary index as
// persist.PersistableIndex, in declaration order (pk first), matching
// spec.md §4.6's "indexes are persisted in declaration order".
func (wt *WorkTable[Row, Pk]) persistAdapters() []persist.PersistableIndex {
	out := make([]persist.PersistableIndex, 0, 1+len(wt.secondary))
	out = append(out, pkPersistAdapter[Pk]{name: "pk", idx: wt.pkMap, codec: wt.pkCodec})
	for _, si := range wt.secondary {
		out = append(out, si.persistAdapter())
	}
	return out
}

// PersistTo snapshots every index into opts-shaped pages and writes them to
// w, returning the recorded intervals.
func (wt *WorkTable[Row, Pk]) PersistTo(w io.Writer, opts persist.Options) (map[string][]persist.Interval, error) {
	return persist.Persist(w, wt.persistAdapters(), opts)
}

// LoadFrom installs what snap records into every index. It does not clear
// existing entries: a primary key or unique secondary key that is already
// present makes it fail with index.ErrAlreadyExists. It does not touch the
// paged row store; callers load a table from an empty WorkTable
// immediately after construction.
func (wt *WorkTable[Row, Pk]) LoadFrom(snap *persist.Snapshot) error {
	return persist.FromPersisted(snap, wt.persistAdapters())
}

// Persist writes the table's indexes to path (the scheduler package calls
// this on a cron schedule). ctx is checked once, before the file is
// created; a write already under way is not interrupted by cancellation.
// opts controls page sizing and compression.
func (wt *WorkTable[Row, Pk]) Persist(ctx context.Context, path string, opts persist.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("worktable: persist: %w", err)
	}
	defer f.Close()
	if _, err := wt.PersistTo(f, opts); err != nil {
		return fmt.Errorf("worktable: persist: %w", err)
	}
	return f.Sync()
}

// PersistJob binds a WorkTable to a fixed file path and Options, adapting
// WorkTable.Persist to scheduler.PersistRunner's Persist(ctx) error shape so
// it can be registered with scheduler.Scheduler.
type PersistJob[Row TableRow[Pk], Pk comparable] struct {
	Table *WorkTable[Row, Pk]
	Path  string
	Opts  persist.Options
}

// Persist implements scheduler.PersistRunner.
func (j PersistJob[Row, Pk]) Persist(ctx context.Context) error {
	return j.Table.Persist(ctx, j.Path, j.Opts)
}

// LoadIndexesFromFile reads path and installs its index contents into wt.
func (wt *WorkTable[Row, Pk]) LoadIndexesFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("worktable: load: %w", err)
	}
	defer f.Close()
	snap, err := persist.ReadFile(f)
	if err != nil {
		return fmt.Errorf("worktable: load: %w", err)
	}
	return wt.LoadFrom(snap)
}

type pkPersistAdapter[Pk comparable] struct {
	name  string
	idx   *index.Unique[Pk]
	codec KeyCodec[Pk]
}

func (a pkPersistAdapter[Pk]) Name() string { return a.name }

func (a pkPersistAdapter[Pk]) Snapshot() []persist.Entry {
	pairs := a.idx.Snapshot()
	out := make([]persist.Entry, len(pairs))
	for i, p := range pairs {
		out[i] = persist.Entry{Key: a.codec.EncodeKey(p.Key), Link: p.Link}
	}
	return out
}

func (a pkPersistAdapter[Pk]) Load(entries []persist.Entry) error {
	for _, e := range entries {
		k, err := a.codec.DecodeKey(e.Key)
		if err != nil {
			return err
		}
		if err := a.idx.Insert(k, e.Link); err != nil {
			return err
		}
	}
	return nil
}

// SelectByUnique looks up row by key in the unique secondary index named
// indexName, returning (_, false, nil) if the key is absent — mirroring the
// original's select_by_<unique> returning an Option rather than an error
// (spec.md §9 Open Questions).
func SelectByUnique[Row TableRow[Pk], Pk comparable, K comparable](wt *WorkTable[Row, Pk], indexName string, key K) (Row, bool, error) {
	var zero Row
	si, ok := wt.byName[indexName]
	if !ok {
		return zero, false, fmt.Errorf("worktable: no such index %q", indexName)
	}
	uidx, ok := si.(*UniqueIndex[Row, K])
	if !ok {
		return zero, false, fmt.Errorf("worktable: index %q is not a unique index of this key type", indexName)
	}
	link, ok := uidx.SelectLink(key)
	if !ok {
		return zero, false, nil
	}
	row, err := wt.selectByLink(link)
	return row, true, err
}

// SelectByNonUnique looks up every row whose non-unique secondary index
// indexName has value key, returning ErrNotFound when no bucket exists for
// key — mirroring the original's select_by_<non-unique> returning a Result
// where empty is an Err.
func SelectByNonUnique[Row TableRow[Pk], Pk comparable, K comparable](wt *WorkTable[Row, Pk], indexName string, key K) ([]Row, error) {
	si, ok := wt.byName[indexName]
	if !ok {
		return nil, fmt.Errorf("worktable: no such index %q", indexName)
	}
	nidx, ok := si.(*NonUniqueIndex[Row, K])
	if !ok {
		return nil, fmt.Errorf("worktable: index %q is not a non-unique index of this key type", indexName)
	}
	links, err := nidx.SelectLinks(key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows := make([]Row, 0, len(links))
	for _, l := range links {
		row, err := wt.selectByLink(l)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// UpdateByUnique locates the single row whose unique secondary index
// indexName equals key and applies mutate to it.
func UpdateByUnique[Row TableRow[Pk], Pk comparable, K comparable](wt *WorkTable[Row, Pk], indexName string, key K, mutate func(Row) Row) error {
	si, ok := wt.byName[indexName]
	if !ok {
		return fmt.Errorf("worktable: no such index %q", indexName)
	}
	uidx, ok := si.(*UniqueIndex[Row, K])
	if !ok {
		return fmt.Errorf("worktable: index %q is not a unique index of this key type", indexName)
	}
	link, ok := uidx.SelectLink(key)
	if !ok {
		return ErrNotFound
	}
	row, err := wt.selectByLink(link)
	if err != nil {
		return err
	}
	return wt.updateAtLink(row.PrimaryKey(), link, mutate)
}

// UpdateByNonUnique applies mutate to every row whose non-unique secondary
// index indexName equals key (spec.md §8 testable property 6).
func UpdateByNonUnique[Row TableRow[Pk], Pk comparable, K comparable](wt *WorkTable[Row, Pk], indexName string, key K, mutate func(Row) Row) error {
	si, ok := wt.byName[indexName]
	if !ok {
		return fmt.Errorf("worktable: no such index %q", indexName)
	}
	nidx, ok := si.(*NonUniqueIndex[Row, K])
	if !ok {
		return fmt.Errorf("worktable: index %q is not a non-unique index of this key type", indexName)
	}
	links, err := nidx.SelectLinks(key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	for _, link := range links {
		row, err := wt.selectByLink(link)
		if err != nil {
			return err
		}
		if err := wt.updateAtLink(row.PrimaryKey(), link, mutate); err != nil {
			return err
		}
	}
	return nil
}
