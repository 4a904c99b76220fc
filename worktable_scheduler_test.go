package worktable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"worktable/persist"
	"worktable/scheduler"
)

// TestPersistJobRunsOnSchedule exercises worktable.PersistJob as a
// scheduler.PersistRunner: a registered table is flushed to disk by the
// scheduler without the caller driving Persist directly.
func TestPersistJobRunsOnSchedule(t *testing.T) {
	wt := newPersonTable()
	pk := wt.NextPK()
	if err := wt.Insert(person{id: pk, name: "Tess", email: "tess@example.com", city: "Lima", age: 22}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	path := filepath.Join(t.TempDir(), "scheduled.idx")
	job := PersistJob[person, int64]{Table: wt, Path: path, Opts: persist.Options{}}

	s := scheduler.New(nil)
	if err := s.Register("people", "@every 1s", job); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("scheduler did not persist %s in time", path)
}
