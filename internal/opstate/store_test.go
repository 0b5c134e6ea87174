package opstate

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	val, err := s.Get(context.Background(), "ns", "missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "" {
		t.Errorf("Get() = %q, want empty string for missing key", val)
	}
}

func TestSetUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "ns", "key", "v1"); err != nil {
		t.Fatalf("Set(v1) error: %v", err)
	}
	if err := s.Set(ctx, "ns", "key", "v2"); err != nil {
		t.Fatalf("Set(v2) error: %v", err)
	}

	val, err := s.Get(ctx, "ns", "key")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "v2" {
		t.Errorf("Get() = %q, want %q", val, "v2")
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "ns", "key", "v")
	if err := s.Delete(ctx, "ns", "key"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if val, _ := s.Get(ctx, "ns", "key"); val != "" {
		t.Errorf("Get() after Delete = %q, want empty", val)
	}
	if err := s.Delete(ctx, "ns", "never-set"); err != nil {
		t.Errorf("Delete(missing) error: %v", err)
	}
}

func TestNamespaceIsolationAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "preferences", "signal:+15550001", "a")
	s.Set(ctx, "preferences", "web:alice", "b")
	s.Set(ctx, "other", "signal:+15550001", "c")

	got, err := s.List(ctx, "preferences")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 || got["signal:+15550001"] != "a" || got["web:alice"] != "b" {
		t.Errorf("List() = %v", got)
	}

	empty, err := s.List(ctx, "nothing")
	if err != nil {
		t.Fatalf("List(empty) error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("List(empty) = %v, want empty non-nil map", empty)
	}
}
