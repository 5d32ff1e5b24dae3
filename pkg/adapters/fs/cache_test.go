package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCache_FreshnessByMtime(t *testing.T) {
	c := newCache(t.TempDir(), DefaultSystemDir)
	mtime := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	c.Set("doc-1/state.json", &indexEntry{
		ID:             "doc-1",
		Version:        4,
		OperationCount: 3,
		LastModified:   mtime,
	})

	entry, ok := c.Get("doc-1/state.json", mtime)
	if !ok {
		t.Fatal("expected fresh hit")
	}
	if entry.Version != 4 || entry.OperationCount != 3 {
		t.Fatalf("entry = %+v", entry)
	}

	if _, ok := c.Get("doc-1/state.json", mtime.Add(time.Second)); ok {
		t.Fatal("stale mtime must miss")
	}
	if _, ok := c.Get("ghost/state.json", mtime); ok {
		t.Fatal("unknown path must miss")
	}
}

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	c := newCache(dir, DefaultSystemDir)
	c.Set("doc-1/state.json", &indexEntry{ID: "doc-1", Version: 2, LastModified: mtime})
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := newCache(dir, DefaultSystemDir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("entries = %d, want 1", reloaded.Len())
	}
	entry, ok := reloaded.Get("doc-1/state.json", mtime)
	if !ok || entry.ID != "doc-1" || entry.Version != 2 {
		t.Fatalf("entry = %+v, ok = %v", entry, ok)
	}
}

func TestCache_SaveSkipsWhenClean(t *testing.T) {
	dir := t.TempDir()
	c := newCache(dir, DefaultSystemDir)
	c.Set("doc-1/state.json", &indexEntry{ID: "doc-1"})
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A clean cache must not rewrite the file.
	if err := os.Remove(c.Path); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save (clean): %v", err)
	}
	if _, err := os.Stat(c.Path); !os.IsNotExist(err) {
		t.Fatal("clean save recreated the index file")
	}
}

func TestCache_CorruptIndexSelfHeals(t *testing.T) {
	dir := t.TempDir()
	c := newCache(dir, DefaultSystemDir)
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.Path, []byte("{{{"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := c.Load(); err != nil {
		t.Fatalf("Load should self-heal, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("entries = %d, want 0", c.Len())
	}
}

func TestCache_PruneAndDelete(t *testing.T) {
	c := newCache(t.TempDir(), DefaultSystemDir)
	c.Set("a/state.json", &indexEntry{ID: "a"})
	c.Set("b/state.json", &indexEntry{ID: "b"})
	c.Set("c/state.json", &indexEntry{ID: "c"})

	c.Prune(map[string]bool{"a/state.json": true, "c/state.json": true})
	if c.Len() != 2 {
		t.Fatalf("entries = %d, want 2", c.Len())
	}

	c.Delete("a/state.json")
	if c.Len() != 1 {
		t.Fatalf("entries = %d, want 1", c.Len())
	}
	if _, ok := c.Get("c/state.json", time.Time{}); !ok {
		t.Fatal("survivor entry lost")
	}
}
