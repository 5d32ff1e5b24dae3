// Package tandem is the Composition Root for the Tandem sync engine.
//
// It connects the synchronization core (Domain Layer) with the infrastructure
// adapters (Persistence and Transport Layers) using the Hexagonal
// Architecture pattern.
//
// Philosophy:
//
// Tandem treats a collaborative document as an operation log with a current
// state. Edits from concurrent users are transformed against each other
// positionally, conflicts are detected and recorded rather than silently
// dropped, and every document carries its own history: undo/redo per user,
// named branches, snapshots, and a version vector. The core is agnostic of
// storage and transport; the default adapters archive documents on the
// filesystem and serve sessions over websockets.
//
// Features:
//
//   - **Single-Writer Documents**: One worker per document serializes every
//     mutation, so no locks leak into the public API.
//   - **Operational Transformation**: Concurrent positional edits are
//     transformed and recorded as resolved conflicts.
//   - **History First**: Per-user undo/redo, branch overlay logs, snapshots
//     and version vectors are engine primitives, not add-ons.
//   - **Default Adapter (FS)**: Out-of-the-box archival of document states
//     and snapshots as JSON, YAML or Markdown files, with change watching.
//   - **Extensible**: Designed to support other backends via core.Archiver
//     and other event sinks via core.Publisher.
//
// Usage:
//
//	// Build an engine backed by an on-disk archive
//	engine, err := tandem.New("./archive",
//		tandem.WithFormat("yaml"),
//		tandem.WithLogger(logger),
//	)
//
//	// Register a document and apply an edit
//	_, err = engine.CreateDocument(ctx, "notes", "hello", "alice")
//	_, err = engine.ApplyOperation(ctx, "notes", core.Operation{
//		Type: core.OpInsert, Position: 5, Content: " world",
//		UserID: "alice", Version: 1,
//	})
package tandem
