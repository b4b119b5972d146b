package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	ChatID  int64  `json:"chat_id"`
	Pending *int64 `json:"pending_chat_id"`
}

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, driver := range []string{DriverJSON, DriverSQLite} {
		s, err := Open(driver, filepath.Join(t.TempDir(), driver))
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		out[driver] = s
	}
	return out
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	for name, s := range openBackends(t) {
		var d doc
		if err := s.Load(t.Context(), KindLobby, &d); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestSaveThenLoadOverwritesWholeDocument(t *testing.T) {
	for name, s := range openBackends(t) {
		pending := int64(-200)
		if err := s.Save(t.Context(), KindLobby, doc{ChatID: -100, Pending: &pending}); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		if err := s.Save(t.Context(), KindLobby, doc{ChatID: -200}); err != nil {
			t.Fatalf("%s: save again: %v", name, err)
		}
		var got doc
		if err := s.Load(t.Context(), KindLobby, &got); err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if got.ChatID != -200 || got.Pending != nil {
			t.Fatalf("%s: unexpected document %+v", name, got)
		}
	}
}

func TestInvalidKindRejected(t *testing.T) {
	for name, s := range openBackends(t) {
		if err := s.Save(t.Context(), "../escape", doc{}); err == nil {
			t.Fatalf("%s: expected invalid kind error", name)
		}
	}
}

func TestFileStoreWritesKindFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := s.Save(t.Context(), KindAccessLists, map[string][]int64{"white": {1}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "users_lists.json")); err != nil {
		t.Fatalf("expected users_lists.json: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
