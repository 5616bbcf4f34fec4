package cargosqlite

import (
	"path/filepath"
	"sort"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := testStore(t)

	if err := s.Set("k1", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, ok, err := s.Get("k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key to be present")
	}
	if v != "v1" {
		t.Errorf("value = %q, want v1", v)
	}
}

func TestGet_Missing(t *testing.T) {
	s := testStore(t)

	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected missing key to report not-found")
	}
}

func TestSet_Upsert(t *testing.T) {
	s := testStore(t)

	s.Set("k1", "v1")
	s.Set("k1", "v2")

	v, _, err := s.Get("k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "v2" {
		t.Errorf("value = %q, want v2 after upsert", v)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	s.Set("k1", "v1")

	if err := s.Delete("k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err := s.Get("k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected key to be gone after delete")
	}
}

func TestDelete_Missing(t *testing.T) {
	s := testStore(t)
	if err := s.Delete("nope"); err != nil {
		t.Errorf("delete of missing key returned error: %v", err)
	}
}

func TestKeys(t *testing.T) {
	s := testStore(t)
	s.Set("b", "2")
	s.Set("a", "1")
	s.Set("c", "3")

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestDB_ExposesUnderlyingDB(t *testing.T) {
	s := testStore(t)
	if s.DB() == nil {
		t.Error("DB() returned nil")
	}
	if _, err := s.DB().Exec(`CREATE TABLE IF NOT EXISTS extra (k TEXT)`); err != nil {
		t.Errorf("expected to be able to add another table via DB(): %v", err)
	}
}
