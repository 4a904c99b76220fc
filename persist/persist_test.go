package persist

import (
	"bytes"
	"sort"
	"testing"

	"worktable/page"
)

// memIndex is a minimal PersistableIndex used only to exercise the
// persistence format in isolation from the root WorkTable adapter.
type memIndex struct {
	name    string
	entries []Entry
}

func (m *memIndex) Name() string { return m.name }
func (m *memIndex) Snapshot() []Entry {
	out := append([]Entry(nil), m.entries...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}
func (m *memIndex) Load(entries []Entry) error {
	m.entries = entries
	return nil
}

func TestPersistRoundTripSmall(t *testing.T) {
	src := &memIndex{name: "pk"}
	for i := 0; i < 5; i++ {
		src.entries = append(src.entries, Entry{
			Key:  []byte{byte(i)},
			Link: page.Link{PageID: page.ID(i + 1), Offset: uint32(i * 10), Length: 10},
		})
	}

	var buf bytes.Buffer
	intervals, err := Persist(&buf, []PersistableIndex{src}, Options{PageBodySize: 64})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, ok := intervals["pk"]; !ok {
		t.Fatalf("expected interval for pk")
	}

	snap, err := ReadFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	dst := &memIndex{name: "pk"}
	if err := FromPersisted(snap, []PersistableIndex{dst}); err != nil {
		t.Fatalf("from persisted: %v", err)
	}

	if len(dst.entries) != len(src.entries) {
		t.Fatalf("got %d entries, want %d", len(dst.entries), len(src.entries))
	}
	wantSorted := src.Snapshot()
	for i := range wantSorted {
		if !bytes.Equal(dst.entries[i].Key, wantSorted[i].Key) || dst.entries[i].Link != wantSorted[i].Link {
			t.Fatalf("entry %d = %+v, want %+v", i, dst.entries[i], wantSorted[i])
		}
	}
}

func TestPersistRoundTripMultiplePagesAndCompression(t *testing.T) {
	for _, compress := range []bool{false, true} {
		src := &memIndex{name: "secondary"}
		for i := 0; i < 500; i++ {
			src.entries = append(src.entries, Entry{
				Key:  []byte{byte(i), byte(i >> 8)},
				Link: page.Link{PageID: page.ID(i + 1), Offset: 0, Length: 8},
			})
		}
		var buf bytes.Buffer
		intervals, err := Persist(&buf, []PersistableIndex{src}, Options{PageBodySize: 256, Compress: compress})
		if err != nil {
			t.Fatalf("persist (compress=%v): %v", compress, err)
		}
		ivs := intervals["secondary"]
		if len(ivs) != 1 || ivs[0].End <= ivs[0].Start {
			t.Fatalf("expected a multi-page interval, got %+v", ivs)
		}

		snap, err := ReadFile(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("read file (compress=%v): %v", compress, err)
		}
		dst := &memIndex{name: "secondary"}
		if err := FromPersisted(snap, []PersistableIndex{dst}); err != nil {
			t.Fatalf("from persisted (compress=%v): %v", compress, err)
		}
		if len(dst.entries) != len(src.entries) {
			t.Fatalf("compress=%v: got %d entries, want %d", compress, len(dst.entries), len(src.entries))
		}
	}
}

func TestPersistIntervalCoversExactlyEmittedPages(t *testing.T) {
	a := &memIndex{name: "a"}
	b := &memIndex{name: "b"}
	for i := 0; i < 300; i++ {
		a.entries = append(a.entries, Entry{Key: []byte{byte(i)}, Link: page.Link{PageID: page.ID(i), Length: 4}})
	}
	for i := 0; i < 300; i++ {
		b.entries = append(b.entries, Entry{Key: []byte{byte(i)}, Link: page.Link{PageID: page.ID(i), Length: 4}})
	}

	var buf bytes.Buffer
	intervals, err := Persist(&buf, []PersistableIndex{a, b}, Options{PageBodySize: 128})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	ivA := intervals["a"][0]
	ivB := intervals["b"][0]
	if ivB.Start != ivA.End+1 {
		t.Fatalf("expected b's range to immediately follow a's: a=%+v b=%+v", ivA, ivB)
	}

	snap, err := ReadFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	total := 0
	for id := ivA.Start; id <= ivB.End; id++ {
		if _, ok := snap.pagesByID[id]; !ok {
			t.Fatalf("page %d inside the recorded intervals was not emitted", id)
		}
		total++
	}
	if total != len(snap.pagesByID) {
		t.Fatalf("emitted %d index pages, intervals cover %d", len(snap.pagesByID), total)
	}
}

func TestPersistChainContinuity(t *testing.T) {
	src := &memIndex{name: "chain"}
	for i := 0; i < 100; i++ {
		src.entries = append(src.entries, Entry{Key: []byte{byte(i)}, Link: page.Link{PageID: page.ID(i), Length: 4}})
	}
	var buf bytes.Buffer
	if _, err := Persist(&buf, []PersistableIndex{src}, Options{PageBodySize: 32}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	if _, _, err := readHeader(r); err != nil {
		t.Fatalf("read header: %v", err)
	}
	visited := map[uint32]bool{}
	var chainOK = true
	var prevNext uint32
	for {
		p, ok, err := readPage(r, false)
		if err != nil {
			t.Fatalf("read page: %v", err)
		}
		if !ok {
			break
		}
		if visited[p.header.PageID] {
			chainOK = false
		}
		if prevNext != 0 && p.header.PageID != prevNext {
			chainOK = false
		}
		prevNext = p.header.NextID
		visited[p.header.PageID] = true
	}
	if !chainOK {
		t.Fatalf("expected every page visited exactly once, following NextID")
	}
	if len(visited) < 2 {
		t.Fatalf("expected interval table plus index pages, got %d pages", len(visited))
	}
}
