package core

import "context"

// Archiver persists snapshots and document states outside the engine's
// memory. Archival is best effort: the engine keeps working when a save
// fails, it only logs the failure. Adhering to this interface keeps the
// engine independent of the backing store (filesystem, object storage, SQL).
type Archiver interface {
	// SaveSnapshot persists an immutable snapshot.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// SaveDocument persists the current document state, replacing any
	// previous capture of the same document.
	SaveDocument(ctx context.Context, doc DocumentState) error

	// LoadAll returns every archived document state, used to rehydrate an
	// engine at boot.
	LoadAll(ctx context.Context) ([]DocumentState, error)

	// Initialize ensures the underlying storage is ready (e.g. create
	// directories).
	Initialize(ctx context.Context) error
}

// Watchable is implemented by archivers that can report changes made behind
// the engine's back, such as snapshot files dropped into the archive
// directory by another process. The pattern filters document ids with
// doublestar syntax.
type Watchable interface {
	Watch(ctx context.Context, pattern string) (<-chan Event, error)
}

// Publisher fans engine events out to an external broker so other nodes can
// follow a document. Implementations must tolerate being called from a
// dedicated pump goroutine, not from the document actors.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
