package platform

import (
	"context"

	"github.com/aretw0/tandem/pkg/core"
)

// New assembles a ready-to-use engine backed by the archive at uri.
//
// Workflow:
//  1. Build and initialize the archive adapter (or adopt an injected one).
//  2. Construct the engine around it.
//  3. Restore every archived document, unless restoring was disabled.
//
// The uri argument is adapter-specific (a directory path for "fs").
func New(uri string, opts ...Option) (*core.Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var archive core.Archiver
	if o.archive != nil || o.adapter != "none" {
		var err error
		archive, err = Init(uri, opts...)
		if err != nil {
			return nil, err
		}
	}

	eventBuffer, _ := o.config["event_buffer"].(int)
	queueSize, _ := o.config["queue_size"].(int)

	engine := core.NewEngine(core.Config{
		Logger:      o.logger,
		EventBuffer: eventBuffer,
		QueueSize:   queueSize,
		Archive:     archive,
	})

	restore := true
	if val, ok := o.config["restore"].(bool); ok {
		restore = val
	}
	if restore && archive != nil {
		ctx := context.Background()
		docs, err := archive.LoadAll(ctx)
		if err != nil {
			_ = engine.Close(ctx)
			return nil, err
		}
		for _, doc := range docs {
			if err := engine.Restore(ctx, doc); err != nil {
				_ = engine.Close(ctx)
				return nil, err
			}
		}
	}

	return engine, nil
}
