// Copyright 2024-2026 Aiku AI

package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type testDoc struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestUpsertFindAll verifies the write/scan round trip within one type.
func TestUpsertFindAll(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Upsert("chat", "t1", &testDoc{Name: "one", N: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert("chat", "t2", &testDoc{Name: "two", N: 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	records, err := s.FindAll("chat")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}

	byKey := map[string]testDoc{}
	for _, rec := range records {
		var doc testDoc
		if err := json.Unmarshal(rec.Data, &doc); err != nil {
			t.Fatalf("unmarshal %s: %v", rec.Key, err)
		}
		byKey[rec.Key] = doc
	}
	if byKey["t1"].Name != "one" || byKey["t2"].N != 2 {
		t.Errorf("documents: got %v", byKey)
	}
}

// TestUpsertReplaces verifies an upsert overwrites the previous value.
func TestUpsertReplaces(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Upsert("chat", "t1", &testDoc{N: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert("chat", "t1", &testDoc{N: 2}); err != nil {
		t.Fatal(err)
	}

	records, err := s.FindAll("chat")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}
	var doc testDoc
	if err := json.Unmarshal(records[0].Data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.N != 2 {
		t.Errorf("value: got %d, want 2", doc.N)
	}
}

// TestTypeIsolation verifies that record types do not bleed into each
// other's scans, including prefix-sharing type names.
func TestTypeIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Upsert("chat", "k", &testDoc{Name: "chat"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert("user", "k", &testDoc{Name: "user"}); err != nil {
		t.Fatal(err)
	}

	for _, rtype := range []string{"chat", "user"} {
		records, err := s.FindAll(rtype)
		if err != nil {
			t.Fatalf("FindAll(%s): %v", rtype, err)
		}
		if len(records) != 1 {
			t.Errorf("FindAll(%s): got %d records, want 1", rtype, len(records))
		}
	}

	records, err := s.FindAll("cha")
	if err != nil {
		t.Fatalf("FindAll(cha): %v", err)
	}
	if len(records) != 0 {
		t.Errorf("prefix type should not match: got %d records", len(records))
	}
}

// TestDelete verifies removal and the missing-key no-op.
func TestDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Upsert("chat", "t1", &testDoc{N: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("chat", "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	records, err := s.FindAll("chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("records after delete: got %d, want 0", len(records))
	}

	if err := s.Delete("chat", "never-existed"); err != nil {
		t.Errorf("deleting missing key: got %v, want nil", err)
	}
}

// TestReopen verifies durability across close/open cycles.
func TestReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "db")

	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Upsert("chat", "t1", &testDoc{Name: "persisted"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	records, err := s.FindAll("chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Key != "t1" {
		t.Errorf("records after reopen: got %+v", records)
	}
}
