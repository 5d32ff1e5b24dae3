package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/tandem/pkg/adapters/fs"
	"github.com/aretw0/tandem/pkg/core"
)

// Init builds and initializes the archive described by the configuration.
// The uri argument is adapter-specific (a directory path for "fs").
//
// It returns the configured core.Archiver.
func Init(uri string, opts ...Option) (core.Archiver, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	// 1. Check for injected archive
	if o.archive != nil {
		return o.archive, nil
	}

	// 2. Build based on adapter
	var archive core.Archiver
	var err error

	switch o.adapter {
	case "fs":
		archive, err = initFS(uri, o)
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}

	if err != nil {
		return nil, err
	}

	// 3. Run initialization
	if err := archive.Initialize(context.Background()); err != nil {
		return nil, err
	}

	return archive, nil
}

// initFS handles the construction logic for the filesystem adapter.
func initFS(path string, o *options) (core.Archiver, error) {
	format, _ := o.config["format"].(string)
	tempDir, _ := o.config["temp_dir"].(bool)
	mustExist, _ := o.config["must_exist"].(bool)
	strict, _ := o.config["strict"].(bool)
	systemDir, _ := o.config["system_dir"].(string)
	errorHandler, _ := o.config["watcher_error_handler"].(func(error))
	isReadOnly, _ := o.config["read_only"].(bool)

	// Default to true (safe) when dev_safety is not present.
	devSafety := true
	if val, ok := o.config["dev_safety"].(bool); ok {
		devSafety = val
	}

	// Bypass the sandbox if:
	// 1. ReadOnly is active (inherently safe)
	// 2. User explicitly disabled DevSafety
	bypassSafety := isReadOnly || !devSafety

	useTemp := tempDir || (IsDevRun() && !bypassSafety)
	resolvedPath := ResolveArchivePath(path, useTemp)

	if IsDevRun() && o.logger != nil {
		switch {
		case isReadOnly:
			o.logger.Debug("running in READ-ONLY mode (bypassing dev sandbox)", "path", resolvedPath)
		case bypassSafety:
			o.logger.Warn("running in UNSAFE mode (bypassing dev sandbox)", "path", resolvedPath)
		case useTemp:
			o.logger.Warn("running in SAFE MODE (Dev/Test)", "original_path", path, "resolved_path", resolvedPath)
		}
	}

	return fs.NewArchive(fs.Config{
		Dir:          resolvedPath,
		Format:       format,
		MustExist:    mustExist,
		ReadOnly:     isReadOnly,
		Strict:       strict,
		Logger:       o.logger,
		ErrorHandler: errorHandler,
		SystemDir:    systemDir,
	})
}

// Forward relays engine events matching pattern to an external publisher
// until ctx ends. Publish failures are logged and the relay keeps going; a
// flaky broker must not stall the engine.
func Forward(ctx context.Context, engine *core.Engine, publisher core.Publisher, pattern string, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	events, err := engine.Watch(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to watch engine events: %w", err)
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-events:
				if !ok {
					return nil
				}
				if err := publisher.Publish(ctx, event); err != nil {
					logger.Warn("failed to forward event",
						"event", event.String(),
						"error", err)
				}
			}
		}
	})
	return nil
}
