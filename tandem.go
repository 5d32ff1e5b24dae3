package tandem

import (
	"context"
	"log/slog"

	"github.com/aretw0/tandem/internal/platform"
	"github.com/aretw0/tandem/pkg/core"
)

// --- Configuration ---

// Option defines a functional option for configuring the engine.
type Option = platform.Option

// WithLogger sets the logger for the engine and its archive.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithArchive allows injecting a custom archive adapter.
func WithArchive(archive core.Archiver) Option {
	return platform.WithArchive(archive)
}

// WithAdapter allows specifying the archive adapter to use by name.
// Defaults to "fs"; "none" runs the engine purely in memory.
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithFormat selects the on-disk encoding for archived documents
// ("json", "yaml" or "markdown").
func WithFormat(format string) Option {
	return platform.WithFormat(format)
}

// WithMustExist ensures the archive directory must already exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithSystemDir allows specifying the hidden bookkeeping directory name
// (e.g. ".tandem").
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithEventBuffer allows specifying the size of the event broker buffer.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithQueueSize allows specifying the per-document inbox capacity.
func WithQueueSize(size int) Option {
	return platform.WithQueueSize(size)
}

// WithStrict enables strict number handling in the archive serializers.
func WithStrict(strict bool) Option {
	return platform.WithStrict(strict)
}

// WithRestore controls whether New loads archived documents on startup.
func WithRestore(enabled bool) Option {
	return platform.WithRestore(enabled)
}

// WithWatcherErrorHandler registers a callback for archive watcher errors.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// WithReadOnly enables read-only mode.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithForceTemp forces the use of a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithDevSafety controls the sandbox mechanism when running via `go run`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// --- Factory ---

// New creates a sync engine backed by the archive at path. Archived documents
// are restored into the engine unless WithRestore(false) is given.
func New(path string, opts ...Option) (*core.Engine, error) {
	return platform.New(path, opts...)
}

// Init builds and initializes an archive explicitly, without an engine.
func Init(path string, opts ...Option) (core.Archiver, error) {
	return platform.Init(path, opts...)
}

// --- Operations ---

// Forward relays engine events matching pattern to an external publisher
// (e.g. the Redis adapter) until ctx ends.
func Forward(ctx context.Context, engine *core.Engine, publisher core.Publisher, pattern string, opts ...Option) error {
	return platform.Forward(ctx, engine, publisher, pattern, opts...)
}

// --- Safety & Utils ---

// ResolveArchivePath determines the actual path for the archive based on
// safety rules.
func ResolveArchivePath(userPath string, forceTemp bool) string {
	return platform.ResolveArchivePath(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindArchiveRoot recursively looks upwards for an archive root indicator.
func FindArchiveRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
