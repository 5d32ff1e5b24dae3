// Package fs archives engine state as plain files under one root directory:
// a subdirectory per document holding its serialized state and snapshots.
// The archive is a durability collaborator, not the source of truth; the
// engine owns live state in memory and saves here best effort.
//
// Layout, with the default JSON format:
//
//	{dir}/
//	  {document_id}/
//	    state.json
//	    snapshots/
//	      {snapshot_id}.json
//	  .tandem/
//	    index.json
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/tandem/pkg/core"
)

// DefaultSystemDir is where the archive keeps its own bookkeeping, such as
// the list index.
const DefaultSystemDir = ".tandem"

const snapshotsDir = "snapshots"

// Config configures an Archive.
type Config struct {
	// Dir is the archive root directory. Required.
	Dir string
	// Format selects the on-disk rendering: json (default), yaml or
	// markdown.
	Format string
	// MustExist makes Initialize fail when Dir is missing instead of
	// creating it.
	MustExist bool
	// ReadOnly rejects every write with core.ErrReadOnly. Loading and
	// watching still work.
	ReadOnly bool
	// Strict keeps numbers in operation metadata as json.Number when
	// decoding JSON records.
	Strict bool
	// Logger receives archive diagnostics. Defaults to a discarding
	// logger.
	Logger *slog.Logger
	// ErrorHandler receives asynchronous watcher errors. When nil they
	// are logged instead.
	ErrorHandler func(error)
	// SystemDir overrides the bookkeeping directory name. Defaults to
	// DefaultSystemDir.
	SystemDir string
}

// Archive persists document states and snapshots as files. It implements
// core.Archiver for the engine's saves and core.Watchable for observing
// external changes to archived records.
type Archive struct {
	Dir string

	config     Config
	serializer Serializer
	cache      *cache
	logger     *slog.Logger

	mu            sync.Mutex
	watcher       *watchWorker
	watcherActive bool
}

var (
	_ core.Archiver  = (*Archive)(nil)
	_ core.Watchable = (*Archive)(nil)
)

// NewArchive builds an archive rooted at config.Dir. It does not touch the
// filesystem; call Initialize before first use.
func NewArchive(config Config) (*Archive, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("archive dir is required")
	}
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	serializer, err := NewSerializer(config.Format, config.Strict)
	if err != nil {
		return nil, err
	}
	return &Archive{
		Dir:        config.Dir,
		config:     config,
		serializer: serializer,
		cache:      newCache(config.Dir, config.SystemDir),
		logger:     config.Logger,
	}, nil
}

// Initialize prepares the archive directory and loads the list index.
func (a *Archive) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.config.MustExist {
		info, err := os.Stat(a.Dir)
		if os.IsNotExist(err) {
			return fmt.Errorf("archive directory does not exist: %s", a.Dir)
		}
		if err != nil {
			return fmt.Errorf("failed to stat archive directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("archive path is not a directory: %s", a.Dir)
		}
	} else if !a.config.ReadOnly {
		if err := os.MkdirAll(a.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	if err := a.cache.Load(); err != nil {
		a.logger.Warn("failed to load archive index", "error", err)
	}
	return nil
}

// validateID rejects ids that cannot become a single path segment. The
// engine never produces such ids; this guards hand-fed ones from escaping
// the archive root.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q is not archivable", id)
	}
	return nil
}

func (a *Archive) docDir(docID string) string {
	return filepath.Join(a.Dir, docID)
}

func (a *Archive) statePath(docID string) string {
	return filepath.Join(a.Dir, docID, "state."+a.serializer.Ext())
}

func (a *Archive) snapshotPath(docID, snapshotID string) string {
	return filepath.Join(a.Dir, docID, snapshotsDir, snapshotID+"."+a.serializer.Ext())
}

// stateRelPath is the cache key for a document's state file.
func (a *Archive) stateRelPath(docID string) string {
	return docID + "/state." + a.serializer.Ext()
}

// SaveDocument serializes doc to {dir}/{id}/state.{ext} atomically and
// refreshes its list index entry.
func (a *Archive) SaveDocument(ctx context.Context, doc core.DocumentState) error {
	if a.config.ReadOnly {
		return core.ErrReadOnly
	}
	if err := validateID(doc.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := a.serializer.MarshalDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document %s: %w", doc.ID, err)
	}
	if err := os.MkdirAll(a.docDir(doc.ID), 0755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}
	path := a.statePath(doc.ID)
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil {
		a.cache.Set(a.stateRelPath(doc.ID), &indexEntry{
			ID:             doc.ID,
			Version:        doc.Version,
			OperationCount: len(doc.Operations),
			LastModified:   info.ModTime(),
		})
	}
	return nil
}

// LoadDocument reads one archived document state.
func (a *Archive) LoadDocument(ctx context.Context, docID string) (*core.DocumentState, error) {
	if err := validateID(docID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.statePath(docID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", docID, err)
	}
	doc, err := a.serializer.UnmarshalDocument(data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", docID, err)
	}
	if doc.ID == "" {
		// Hand-written markdown records may omit the id; the directory
		// name is authoritative anyway.
		doc.ID = docID
	}
	return doc, nil
}

// LoadAll reads every archived document state, skipping records that fail
// to parse so one corrupt file cannot block engine startup.
func (a *Archive) LoadAll(ctx context.Context) ([]core.DocumentState, error) {
	entries, err := os.ReadDir(a.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var docs []core.DocumentState
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == a.config.SystemDir {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := a.LoadDocument(ctx, entry.Name())
		if err != nil {
			a.logger.Warn("skipping unreadable archive entry",
				"document", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, *doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// SaveSnapshot serializes snap to {dir}/{document_id}/snapshots/{id}.{ext}.
func (a *Archive) SaveSnapshot(ctx context.Context, snap core.Snapshot) error {
	if a.config.ReadOnly {
		return core.ErrReadOnly
	}
	if err := validateID(snap.DocumentID); err != nil {
		return err
	}
	if err := validateID(snap.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := a.serializer.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot %s: %w", snap.ID, err)
	}
	dir := filepath.Join(a.docDir(snap.DocumentID), snapshotsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return writeFileAtomic(a.snapshotPath(snap.DocumentID, snap.ID), data, 0644)
}

// LoadSnapshot reads one archived snapshot.
func (a *Archive) LoadSnapshot(ctx context.Context, docID, snapshotID string) (*core.Snapshot, error) {
	if err := validateID(docID); err != nil {
		return nil, err
	}
	if err := validateID(snapshotID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.snapshotPath(docID, snapshotID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", snapshotID, err)
	}
	snap, err := a.serializer.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	if snap.ID == "" {
		snap.ID = snapshotID
	}
	if snap.DocumentID == "" {
		snap.DocumentID = docID
	}
	return snap, nil
}

// ListSnapshots returns the archived snapshots of one document, oldest
// first. A document with no snapshots directory yields an empty list.
func (a *Archive) ListSnapshots(ctx context.Context, docID string) ([]core.Snapshot, error) {
	if err := validateID(docID); err != nil {
		return nil, err
	}
	dir := filepath.Join(a.docDir(docID), snapshotsDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	ext := "." + a.serializer.Ext()
	var snaps []core.Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ext || strings.HasPrefix(name, TempFilePrefix) {
			continue
		}
		snap, err := a.LoadSnapshot(ctx, docID, strings.TrimSuffix(name, ext))
		if err != nil {
			a.logger.Warn("skipping unreadable snapshot",
				"document", docID, "file", name, "error", err)
			continue
		}
		snaps = append(snaps, *snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// DocumentInfo is a light summary of one archived document, served from the
// index cache when its state file has not changed since last indexed.
type DocumentInfo struct {
	ID             string    `json:"id"`
	Version        int       `json:"version"`
	OperationCount int       `json:"operation_count"`
	LastModified   time.Time `json:"last_modified"`
}

// List summarizes every archived document without deserializing unchanged
// state files.
//
// Workflow:
//  1. Scan the root for document directories.
//  2. Serve each from the index when the state file mtime still matches.
//  3. Deserialize and re-index the rest.
//  4. Prune index entries whose files are gone, then persist the index.
func (a *Archive) List(ctx context.Context) ([]DocumentInfo, error) {
	entries, err := os.ReadDir(a.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var infos []DocumentInfo
	keep := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == a.config.SystemDir {
			continue
		}
		docID := entry.Name()
		info, err := os.Stat(a.statePath(docID))
		if err != nil {
			continue // directory without a state file yet
		}
		relPath := a.stateRelPath(docID)
		keep[relPath] = true

		if cached, ok := a.cache.Get(relPath, info.ModTime()); ok {
			infos = append(infos, DocumentInfo{
				ID:             cached.ID,
				Version:        cached.Version,
				OperationCount: cached.OperationCount,
				LastModified:   cached.LastModified,
			})
			continue
		}

		doc, err := a.LoadDocument(ctx, docID)
		if err != nil {
			a.logger.Warn("skipping unreadable archive entry",
				"document", docID, "error", err)
			continue
		}
		e := &indexEntry{
			ID:             doc.ID,
			Version:        doc.Version,
			OperationCount: len(doc.Operations),
			LastModified:   info.ModTime(),
		}
		a.cache.Set(relPath, e)
		infos = append(infos, DocumentInfo{
			ID:             e.ID,
			Version:        e.Version,
			OperationCount: e.OperationCount,
			LastModified:   e.LastModified,
		})
	}

	a.cache.Prune(keep)
	if !a.config.ReadOnly {
		if err := a.cache.Save(); err != nil {
			a.logger.Warn("failed to save archive index", "error", err)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Delete removes a document directory and everything under it, snapshots
// included. The engine never calls this; retention belongs to whoever owns
// the archive.
func (a *Archive) Delete(ctx context.Context, docID string) error {
	if a.config.ReadOnly {
		return core.ErrReadOnly
	}
	if err := validateID(docID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(a.statePath(docID)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, docID)
	}
	if err := os.RemoveAll(a.docDir(docID)); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	a.cache.Delete(a.stateRelPath(docID))
	if err := a.cache.Save(); err != nil {
		a.logger.Warn("failed to save archive index", "error", err)
	}
	return nil
}

// Watch emits core.EventDocumentArchived whenever an archived record whose
// document id matches pattern changes on disk, letting an engine surface
// edits made behind its back. Pattern uses doublestar syntax against the
// document id. One watcher per archive; the returned channel closes when
// ctx ends or the archive closes.
func (a *Archive) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern: %s", pattern)
	}

	a.mu.Lock()
	if a.watcher != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("archive watcher already active")
	}
	events := make(chan core.Event, 16)
	w := newWatchWorker(a, pattern, events)
	a.watcher = w
	a.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		a.mu.Lock()
		a.watcher = nil
		a.mu.Unlock()
		return nil, err
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
		a.mu.Lock()
		if a.watcher == w {
			a.watcher = nil
		}
		a.mu.Unlock()
		return nil
	})

	return events, nil
}

// Close stops the watcher if one is running and persists the index.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()

	if w != nil {
		if err := w.Stop(ctx); err != nil {
			a.logger.Warn("failed to stop archive watcher", "error", err)
		}
	}
	if a.config.ReadOnly {
		return nil
	}
	if err := a.cache.Save(); err != nil {
		return fmt.Errorf("failed to save archive index: %w", err)
	}
	return nil
}

// fail reports an asynchronous error to the configured handler, or logs it.
func (a *Archive) fail(err error) {
	if a.config.ErrorHandler != nil {
		a.config.ErrorHandler(err)
		return
	}
	a.logger.Error("archive watcher error", "error", err)
}

// shouldIgnore filters watcher noise: temp files from atomic writes, the
// bookkeeping directory, and files that do not carry the archive's
// extension.
func (a *Archive) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, TempFilePrefix) {
		return true
	}
	rel, err := filepath.Rel(a.Dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}
	if firstSegment(rel) == a.config.SystemDir {
		return true
	}
	return filepath.Ext(base) != "."+a.serializer.Ext()
}

// resolveDocID maps an event path back to the owning document id, which is
// always the first path segment under the archive root.
func (a *Archive) resolveDocID(path string) (string, error) {
	rel, err := filepath.Rel(a.Dir, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path outside archive: %s", path)
	}
	return firstSegment(rel), nil
}

func firstSegment(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.Index(rel, "/"); i >= 0 {
		return rel[:i]
	}
	return rel
}

// recursiveAdd registers the archive root and every document directory with
// the fsnotify watcher. Directories created later are picked up by the
// event loop as their create events arrive.
func (a *Archive) recursiveAdd(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(a.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == a.config.SystemDir {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
