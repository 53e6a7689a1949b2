package kv

import (
	"testing"
)

func newTestPebble(t *testing.T) *PebbleDatabase {
	t.Helper()
	db, err := NewPebbleDatabase(PebbleConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewPebbleDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPebblePutGetHasDelete(t *testing.T) {
	db := newTestPebble(t)

	if ok, err := db.Has(ColumnAccounts, []byte("k")); err != nil || ok {
		t.Fatalf("Has before Put = (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := db.Get(ColumnAccounts, []byte("k")); err != ErrNotFound {
		t.Fatalf("Get before Put = %v, want ErrNotFound", err)
	}

	if err := db.Put(ColumnAccounts, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := db.Has(ColumnAccounts, []byte("k")); err != nil || !ok {
		t.Fatalf("Has after Put = (%v, %v), want (true, nil)", ok, err)
	}
	got, err := db.Get(ColumnAccounts, []byte("k"))
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}

	if err := db.Delete(ColumnAccounts, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get(ColumnAccounts, []byte("k")); err != ErrNotFound {
		t.Fatalf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestPebbleColumnsAreIsolated(t *testing.T) {
	db := newTestPebble(t)

	if err := db.Put(ColumnAccounts, []byte("key"), []byte("accounts-value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Put(ColumnTasks, []byte("key"), []byte("tasks-value")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := db.Get(ColumnAccounts, []byte("key"))
	if err != nil || string(got) != "accounts-value" {
		t.Fatalf("Get(ColumnAccounts) = (%q, %v), want (%q, nil)", got, err, "accounts-value")
	}
	got, err = db.Get(ColumnTasks, []byte("key"))
	if err != nil || string(got) != "tasks-value" {
		t.Fatalf("Get(ColumnTasks) = (%q, %v), want (%q, nil)", got, err, "tasks-value")
	}
}

func TestPebbleWriteBatchAtomic(t *testing.T) {
	db := newTestPebble(t)

	batch := db.NewBatch()
	batch.Put(ColumnAccounts, []byte("a"), []byte("1"))
	batch.Put(ColumnTasks, []byte("b"), []byte("2"))
	batch.Delete(ColumnAccounts, []byte("missing"))
	if batch.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", batch.Len())
	}

	if err := db.Write(batch); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, err := db.Get(ColumnAccounts, []byte("a")); err != nil || string(got) != "1" {
		t.Fatalf("Get(a) = (%q, %v), want (%q, nil)", got, err, "1")
	}
	if got, err := db.Get(ColumnTasks, []byte("b")); err != nil || string(got) != "2" {
		t.Fatalf("Get(b) = (%q, %v), want (%q, nil)", got, err, "2")
	}

	batch.Reset()
	if batch.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", batch.Len())
	}
}

func TestPebbleIteratorAscendingAndScopedToColumn(t *testing.T) {
	db := newTestPebble(t)

	keys := []string{"b", "a", "c"}
	for _, k := range keys {
		if err := db.Put(ColumnAccounts, []byte(k), []byte("val-"+k)); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}
	// A key in a different column must never surface from ColumnAccounts's
	// iterator, even though the prefix byte sorts adjacent to it.
	if err := db.Put(ColumnBlockHeaders, []byte("z"), []byte("other-column")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	it := db.Iterator(ColumnAccounts)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator Error(): %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("iterated keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iterated keys = %v, want %v", got, want)
		}
	}
}

func TestPebbleFlushAndClose(t *testing.T) {
	db := newTestPebble(t)
	if err := db.Put(ColumnExtra, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
