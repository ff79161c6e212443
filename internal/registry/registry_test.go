package registry

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"activity-sync/internal/store"
)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st.DB
}

func TestGetOrCreateAssignsDenseKeys(t *testing.T) {
	r, err := Open(testDB(t), "profile_id")
	if err != nil {
		t.Fatal(err)
	}

	a, err := r.GetOrCreate("id-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetOrCreate("id-b")
	if err != nil {
		t.Fatal(err)
	}
	if a != 0 || b != 1 {
		t.Errorf("Expected keys 0 and 1, got %d and %d", a, b)
	}

	// Repeated ids keep their key.
	again, err := r.GetOrCreate("id-a")
	if err != nil {
		t.Fatal(err)
	}
	if again != a {
		t.Errorf("Expected stable key %d for repeated id, got %d", a, again)
	}
}

func TestGetNeverAllocates(t *testing.T) {
	r, err := Open(testDB(t), "profile_id")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("unseen"); ok {
		t.Error("Expected lookup of an unseen id to miss")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry after lookup, got %d entries", r.Len())
	}
}

func TestReopenContinuesFromMax(t *testing.T) {
	db := testDB(t)

	r, err := Open(db, "profile_id")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.BulkRegister([]string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}

	// A fresh registry over the same table must hand out max + 1 next.
	r2, err := Open(db, "profile_id")
	if err != nil {
		t.Fatal(err)
	}
	if r2.Len() != 3 {
		t.Fatalf("Expected 3 entries after reopen, got %d", r2.Len())
	}
	key, ok := r2.Get("b")
	if !ok || key != 1 {
		t.Errorf("Expected 'b' to keep key 1, got %d (ok=%v)", key, ok)
	}
	next, err := r2.GetOrCreate("d")
	if err != nil {
		t.Fatal(err)
	}
	if next != 3 {
		t.Errorf("Expected next key 3 after reopen, got %d", next)
	}
}

func TestBulkRegisterFirstSeenOrder(t *testing.T) {
	r, err := Open(testDB(t), "profile_id")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.BulkRegister([]string{"x", "y", "x", "z"}); err != nil {
		t.Fatal(err)
	}
	expected := map[string]int64{"x": 0, "y": 1, "z": 2}
	for id, want := range expected {
		got, ok := r.Get(id)
		if !ok || got != want {
			t.Errorf("Expected %q -> %d, got %d (ok=%v)", id, want, got, ok)
		}
	}
}

func TestBulkRegisterReplayIsDeterministic(t *testing.T) {
	db := testDB(t)
	r, err := Open(db, "course")
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{"m", "n", "o"}
	if err := r.BulkRegister(ids); err != nil {
		t.Fatal(err)
	}
	before := map[string]int64{}
	for _, id := range ids {
		before[id], _ = r.Get(id)
	}

	// Replaying the same batch must change nothing.
	if err := r.BulkRegister(ids); err != nil {
		t.Fatal(err)
	}
	if r.Len() != len(ids) {
		t.Errorf("Expected %d entries after replay, got %d", len(ids), r.Len())
	}
	for _, id := range ids {
		got, _ := r.Get(id)
		if got != before[id] {
			t.Errorf("Expected %q to keep key %d after replay, got %d", id, before[id], got)
		}
	}
}
