package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/tandem/pkg/core"
)

func newTestArchive(t *testing.T, config Config) *Archive {
	t.Helper()
	if config.Dir == "" {
		config.Dir = t.TempDir()
	}
	a, err := NewArchive(config)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

func TestArchive_SaveLoadRoundTrip(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	doc := sampleDoc("doc-1")
	if err := a.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	if _, err := os.Stat(filepath.Join(a.Dir, "doc-1", "state.json")); err != nil {
		t.Fatalf("state file missing: %v", err)
	}

	got, err := a.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if got.ID != "doc-1" || got.Content != "Hello World" || got.Version != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Operations) != 2 {
		t.Fatalf("operations = %d, want 2", len(got.Operations))
	}
}

func TestArchive_SaveOverwrites(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	doc := sampleDoc("doc-1")
	if err := a.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	doc.Content = "Hello World!"
	doc.Version = 4
	if err := a.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument (second): %v", err)
	}

	got, err := a.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if got.Content != "Hello World!" || got.Version != 4 {
		t.Fatalf("overwrite lost: %+v", got)
	}
}

func TestArchive_Formats(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML, FormatMarkdown} {
		t.Run(format, func(t *testing.T) {
			a := newTestArchive(t, Config{Format: format})
			ctx := context.Background()

			doc := sampleDoc("doc-1")
			doc.Content = "line one\nline two"
			if err := a.SaveDocument(ctx, doc); err != nil {
				t.Fatalf("SaveDocument: %v", err)
			}
			got, err := a.LoadDocument(ctx, "doc-1")
			if err != nil {
				t.Fatalf("LoadDocument: %v", err)
			}
			if got.Content != doc.Content || got.Version != doc.Version {
				t.Fatalf("round trip mismatch: %+v", got)
			}
			if len(got.Operations) != len(doc.Operations) {
				t.Fatalf("operations = %d, want %d", len(got.Operations), len(doc.Operations))
			}
		})
	}
}

func TestArchive_LoadMissingDocument(t *testing.T) {
	a := newTestArchive(t, Config{})
	_, err := a.LoadDocument(context.Background(), "ghost")
	if !errors.Is(err, core.ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestArchive_LoadAll(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		doc := sampleDoc(id)
		if err := a.SaveDocument(ctx, doc); err != nil {
			t.Fatalf("SaveDocument(%s): %v", id, err)
		}
	}

	// A corrupt record and stray files must not block the load.
	corruptDir := filepath.Join(a.Dir, "corrupt")
	if err := os.MkdirAll(corruptDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corruptDir, "state.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(a.Dir, "README.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatal(err)
	}

	docs, err := a.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("docs = %d, want 3", len(docs))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if docs[i].ID != want {
			t.Fatalf("docs[%d].ID = %s, want %s", i, docs[i].ID, want)
		}
	}
}

func TestArchive_LoadAllEmptyRoot(t *testing.T) {
	a, err := NewArchive(Config{Dir: filepath.Join(t.TempDir(), "never-created")})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	docs, err := a.LoadAll(context.Background())
	if err != nil || docs != nil {
		t.Fatalf("LoadAll on missing root: docs=%v err=%v", docs, err)
	}
}

func TestArchive_Snapshots(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	first := sampleSnapshot("doc-1")
	second := sampleSnapshot("doc-1")
	second.ID = "snap-2"
	second.Version = 5
	second.CreatedAt = first.CreatedAt.Add(time.Hour)

	// Save newest first to prove ListSnapshots orders by creation time.
	if err := a.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := a.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := a.LoadSnapshot(ctx, "doc-1", "snap-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Content != first.Content || got.Version != first.Version {
		t.Fatalf("snapshot mismatch: %+v", got)
	}

	snaps, err := a.ListSnapshots(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].ID != "snap-1" || snaps[1].ID != "snap-2" {
		t.Fatalf("order = %s, %s", snaps[0].ID, snaps[1].ID)
	}

	if _, err := a.LoadSnapshot(ctx, "doc-1", "ghost"); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
	}

	none, err := a.ListSnapshots(ctx, "bare-doc")
	if err != nil || len(none) != 0 {
		t.Fatalf("ListSnapshots on bare doc: %v, %v", none, err)
	}
}

func TestArchive_List(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"beta", "alpha"} {
		if err := a.SaveDocument(ctx, sampleDoc(id)); err != nil {
			t.Fatalf("SaveDocument(%s): %v", id, err)
		}
	}

	infos, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("infos = %d, want 2", len(infos))
	}
	if infos[0].ID != "alpha" || infos[1].ID != "beta" {
		t.Fatalf("order = %s, %s", infos[0].ID, infos[1].ID)
	}
	if infos[0].Version != 3 || infos[0].OperationCount != 2 {
		t.Fatalf("summary mismatch: %+v", infos[0])
	}

	// Updates show up.
	doc := sampleDoc("alpha")
	doc.Version = 9
	if err := a.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	infos, err = a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if infos[0].Version != 9 {
		t.Fatalf("version = %d, want 9", infos[0].Version)
	}

	// Removed directories are pruned.
	if err := os.RemoveAll(filepath.Join(a.Dir, "beta")); err != nil {
		t.Fatal(err)
	}
	infos, err = a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "alpha" {
		t.Fatalf("prune failed: %+v", infos)
	}
	if a.cache.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", a.cache.Len())
	}
}

func TestArchive_ListServesFromIndex(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	if err := a.SaveDocument(ctx, sampleDoc("doc-1")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if _, err := a.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}

	// Corrupt the state file but restore its mtime. A fresh index entry
	// means List answers without touching the payload.
	path := filepath.Join(a.Dir, "doc-1", "state.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{corrupt"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	infos, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Version != 3 {
		t.Fatalf("index miss forced a reparse: %+v", infos)
	}
}

func TestArchive_Delete(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	if err := a.SaveDocument(ctx, sampleDoc("doc-1")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := a.SaveSnapshot(ctx, sampleSnapshot("doc-1")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	if err := a.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Dir, "doc-1")); !os.IsNotExist(err) {
		t.Fatalf("document directory survived: %v", err)
	}
	if _, err := a.LoadDocument(ctx, "doc-1"); !errors.Is(err, core.ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
	if err := a.Delete(ctx, "doc-1"); !errors.Is(err, core.ErrDocumentNotFound) {
		t.Fatalf("second delete err = %v, want ErrDocumentNotFound", err)
	}
}

func TestArchive_ReadOnly(t *testing.T) {
	dir := t.TempDir()

	rw := newTestArchive(t, Config{Dir: dir})
	ctx := context.Background()
	if err := rw.SaveDocument(ctx, sampleDoc("doc-1")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	ro := newTestArchive(t, Config{Dir: dir, ReadOnly: true})
	if err := ro.SaveDocument(ctx, sampleDoc("doc-2")); !errors.Is(err, core.ErrReadOnly) {
		t.Fatalf("SaveDocument err = %v, want ErrReadOnly", err)
	}
	if err := ro.SaveSnapshot(ctx, sampleSnapshot("doc-1")); !errors.Is(err, core.ErrReadOnly) {
		t.Fatalf("SaveSnapshot err = %v, want ErrReadOnly", err)
	}
	if err := ro.Delete(ctx, "doc-1"); !errors.Is(err, core.ErrReadOnly) {
		t.Fatalf("Delete err = %v, want ErrReadOnly", err)
	}

	got, err := ro.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if got.Content != "Hello World" {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestArchive_MustExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	a, err := NewArchive(Config{Dir: missing, MustExist: true})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if err := a.Initialize(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	a, err = NewArchive(Config{Dir: file, MustExist: true})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if err := a.Initialize(context.Background()); err == nil {
		t.Fatal("expected error for non-directory path")
	}
}

func TestArchive_RejectsUnsafeIDs(t *testing.T) {
	a := newTestArchive(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		doc := sampleDoc("x")
		doc.ID = id
		if err := a.SaveDocument(ctx, doc); err == nil {
			t.Fatalf("SaveDocument accepted id %q", id)
		}
		if _, err := a.LoadDocument(ctx, id); err == nil {
			t.Fatalf("LoadDocument accepted id %q", id)
		}
	}
}

func TestNewArchive_Validation(t *testing.T) {
	if _, err := NewArchive(Config{}); err == nil {
		t.Fatal("expected error for missing dir")
	}
	if _, err := NewArchive(Config{Dir: t.TempDir(), Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestArchive_CloseSavesIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewArchive(Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := a.SaveDocument(ctx, sampleDoc("doc-1")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, DefaultSystemDir, "index.json")); err != nil {
		t.Fatalf("index file missing: %v", err)
	}

	reopened, err := NewArchive(Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if err := reopened.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if reopened.cache.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", reopened.cache.Len())
	}
}

func TestArchive_MarkdownBackfillsID(t *testing.T) {
	a := newTestArchive(t, Config{Format: FormatMarkdown})
	ctx := context.Background()

	dir := filepath.Join(a.Dir, "hand-made")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state.md"), []byte("typed by hand"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := a.LoadDocument(ctx, "hand-made")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if got.ID != "hand-made" || got.Content != "typed by hand" {
		t.Fatalf("got %+v", got)
	}
}
