package core

import (
	"sort"

	"github.com/aretw0/introspection"
)

// EngineState exposes internal state for observability.
type EngineState struct {
	Documents       []string `json:"documents"`
	EventBufferSize int      `json:"event_buffer_size"`
	QueueSize       int      `json:"queue_size"`
	ArchiveType     string   `json:"archive_type"`
}

// Documents returns the ids of every document the engine currently manages,
// sorted for stable output.
func (e *Engine) Documents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	docs := make([]string, 0, len(e.workers))
	for id := range e.workers {
		docs = append(docs, id)
	}
	sort.Strings(docs)
	return docs
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	archiveType := "none"
	if e.archive != nil {
		archiveType = "archive"
		// Try to get component type if the archive implements introspection.Component
		if comp, ok := e.archive.(introspection.Component); ok {
			archiveType = comp.ComponentType()
		}
	}

	return EngineState{
		Documents:       e.Documents(),
		EventBufferSize: e.broker.buffer,
		QueueSize:       e.queue,
		ArchiveType:     archiveType,
	}
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "sync-engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
