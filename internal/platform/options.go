package platform

import (
	"log/slog"

	"github.com/aretw0/tandem/pkg/core"
)

// options holds the internal configuration for the engine factory.
type options struct {
	archive core.Archiver
	logger  *slog.Logger
	adapter string
	config  map[string]interface{}
}

// Option defines a functional option for configuring the engine.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		archive: nil,
		logger:  nil,
		adapter: "fs",
		config:  make(map[string]interface{}),
	}
}

// WithLogger sets the logger for the engine and its archive.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithArchive allows injecting a custom archive adapter (e.g. mock, s3).
// If provided, the default filesystem adapter will be skipped.
func WithArchive(archive core.Archiver) Option {
	return func(o *options) {
		o.archive = archive
	}
}

// WithAdapter allows specifying the archive adapter to use by name.
// Defaults to "fs"; "none" runs the engine purely in memory.
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithFormat selects the on-disk encoding for archived documents
// ("json", "yaml" or "markdown"). Defaults to "json".
func WithFormat(format string) Option {
	return func(o *options) {
		o.config["format"] = format
	}
}

// WithMustExist ensures the archive directory must already exist.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.config["must_exist"] = must
	}
}

// WithSystemDir allows specifying the hidden bookkeeping directory name.
// Defaults to ".tandem" if not set (handled by adapter).
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.config["system_dir"] = name
	}
}

// WithEventBuffer allows specifying the size of the event broker buffer.
// Zero means default (100).
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.config["event_buffer"] = size
	}
}

// WithQueueSize allows specifying the per-document inbox capacity.
// Zero means default (64).
func WithQueueSize(size int) Option {
	return func(o *options) {
		o.config["queue_size"] = size
	}
}

// WithStrict enables strict mode for the archive serializers.
// When enabled, numbers in JSON are parsed as json.Number (string based)
// to preserve precision of large integers in operation metadata.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.config["strict"] = strict
	}
}

// WithRestore controls whether New loads every archived document back into
// the engine on startup. Enabled by default; disable it to start from an
// empty engine while keeping the archive attached for writes.
func WithRestore(enabled bool) Option {
	return func(o *options) {
		o.config["restore"] = enabled
	}
}

// WithWatcherErrorHandler registers a callback to handle errors occurring
// during the archive watch loop. This allows applications to log or react to
// runtime watcher failures (e.g. permission denied) which are otherwise only
// logged.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.config["watcher_error_handler"] = fn
	}
}

// WithReadOnly enables read-only mode.
// In this mode:
// 1. Archive writes (SaveDocument, SaveSnapshot, Delete) return ErrReadOnly.
// 2. Initialization skips directory creation.
// 3. Index updates are not persisted to disk.
// 4. Dev Safety Lock (go run temp dir) is BYPASSED (uses real path).
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.config["read_only"] = enabled
	}
}

// WithForceTemp forces the use of a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.config["temp_dir"] = force
	}
}

// WithDevSafety controls the "Sandbox" safety mechanism when running via
// `go run`. By default (true), the factory forces a temporary directory to
// prevent accidental damage to a real archive. Setting this to false allows
// operating on the real filesystem even during `go run`.
//
// CAUTION: Only disable this if you are sure your code is safe.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.config["dev_safety"] = enabled
	}
}
