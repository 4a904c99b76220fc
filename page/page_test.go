package page

import (
	"sync"
	"testing"
)

func TestLinkMarshalSize(t *testing.T) {
	l := Link{PageID: 7, Offset: 42, Length: 128}
	buf, err := l.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(buf) != LinkSize {
		t.Fatalf("link wire size = %d, want %d", len(buf), LinkSize)
	}
	var got Link
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != l {
		t.Fatalf("round trip = %+v, want %+v", got, l)
	}
}

func TestDataPageSaveRow(t *testing.T) {
	p := New(1, 64)
	link, err := p.SaveRow([]byte("hello"))
	if err != nil {
		t.Fatalf("save row: %v", err)
	}
	if link.PageID != 1 || link.Offset != 0 || link.Length != 5 {
		t.Fatalf("unexpected link: %+v", link)
	}
	got, err := p.GetRow(link)
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDataPageOverwriteRow(t *testing.T) {
	p := New(1, 64)
	link, _ := p.SaveRow([]byte("hello"))
	if err := p.SaveRowByLink([]byte("world"), link); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ := p.GetRow(link)
	if string(got) != "world" {
		t.Fatalf("got %q, want %q", got, "world")
	}

	if err := p.SaveRowByLink([]byte("too-long"), link); err == nil {
		t.Fatalf("expected InvalidLinkError on length mismatch")
	}
}

func TestDataPageFull(t *testing.T) {
	p := New(1, 8)
	if _, err := p.SaveRow([]byte("123456789")); err == nil {
		t.Fatalf("expected PageIsFull")
	} else if _, ok := err.(*FullError); !ok {
		t.Fatalf("expected *FullError, got %T", err)
	}
}

func TestDataPageSaveManyRows(t *testing.T) {
	p := New(1, 64)
	var links []Link
	for i := 0; i < 5; i++ {
		l, err := p.SaveRow([]byte{byte(i), byte(i), byte(i)})
		if err != nil {
			t.Fatalf("save row %d: %v", i, err)
		}
		links = append(links, l)
	}
	for i, l := range links {
		got, err := p.GetRow(l)
		if err != nil {
			t.Fatalf("get row %d: %v", i, err)
		}
		want := []byte{byte(i), byte(i), byte(i)}
		if string(got) != string(want) {
			t.Fatalf("row %d = %v, want %v", i, got, want)
		}
	}
}

func TestDataPageGetRowRefInvalidOffset(t *testing.T) {
	p := New(1, 64)
	_, _ = p.SaveRow([]byte("abc"))
	bad := Link{PageID: 1, Offset: 100, Length: 1}
	if _, err := p.GetRowRef(bad); err == nil {
		t.Fatalf("expected InvalidLinkError")
	}
}

func TestDataPageFullMultithread(t *testing.T) {
	// DataPage is documented as not internally synchronized; callers must
	// coordinate concurrent writers. Here we verify that external
	// synchronization (a mutex) is sufficient to keep the page consistent.
	p := New(1, 4096)
	var mu sync.Mutex
	var wg sync.WaitGroup
	n := 100
	links := make([]Link, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			l, err := p.SaveRow([]byte{byte(i)})
			if err != nil {
				t.Errorf("save row %d: %v", i, err)
				return
			}
			links[i] = l
		}(i)
	}
	wg.Wait()
	seen := map[uint32]bool{}
	for _, l := range links {
		if seen[l.Offset] {
			t.Fatalf("duplicate offset %d", l.Offset)
		}
		seen[l.Offset] = true
	}
}
