package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func databases(t *testing.T) map[string]Database {
	t.Helper()
	ldb, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(ldb.Close)
	return map[string]Database{"mem": NewMemDB(), "level": ldb}
}

func TestGetMissingKey(t *testing.T) {
	for name, db := range databases(t) {
		if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
		if ok, err := db.Has([]byte("missing")); err != nil || ok {
			t.Fatalf("%s: unexpected has result %v (%v)", name, ok, err)
		}
	}
}

func TestBatchAppliesAllWrites(t *testing.T) {
	for name, db := range databases(t) {
		if err := db.Put([]byte("a/old"), []byte("x")); err != nil {
			t.Fatalf("%s: put: %v", name, err)
		}
		batch := db.NewBatch()
		batch.Put([]byte("a/1"), []byte("one"))
		batch.Put([]byte("a/2"), []byte("two"))
		batch.Delete([]byte("a/old"))
		if batch.Len() != 3 {
			t.Fatalf("%s: expected 3 ops, got %d", name, batch.Len())
		}
		if _, err := db.Get([]byte("a/1")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: batch visible before write", name)
		}
		if err := batch.Write(); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		value, err := db.Get([]byte("a/2"))
		if err != nil || string(value) != "two" {
			t.Fatalf("%s: unexpected value %q (%v)", name, value, err)
		}
		if ok, _ := db.Has([]byte("a/old")); ok {
			t.Fatalf("%s: delete not applied", name)
		}
	}
}

func TestIteratePrefixOrder(t *testing.T) {
	for name, db := range databases(t) {
		for _, k := range []string{"p/b", "p/a", "q/a", "p/c"} {
			if err := db.Put([]byte(k), []byte(k)); err != nil {
				t.Fatalf("%s: put: %v", name, err)
			}
		}
		var seen []string
		err := db.Iterate([]byte("p/"), func(key, _ []byte) bool {
			seen = append(seen, string(key))
			return len(seen) < 2
		})
		if err != nil {
			t.Fatalf("%s: iterate: %v", name, err)
		}
		if len(seen) != 2 || seen[0] != "p/a" || seen[1] != "p/b" {
			t.Fatalf("%s: unexpected keys %v", name, seen)
		}
	}
}
