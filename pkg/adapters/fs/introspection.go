package fs

import (
	"github.com/aretw0/introspection"
)

// ArchiveState exposes internal state for observability.
type ArchiveState struct {
	Dir           string `json:"dir"`
	Format        string `json:"format"`
	SystemDir     string `json:"system_dir"`
	CacheSize     int    `json:"cache_size"`
	ReadOnly      bool   `json:"read_only"`
	Strict        bool   `json:"strict"`
	WatcherActive bool   `json:"watcher_active"`
}

// State implements introspection.Introspectable.
func (a *Archive) State() any {
	a.mu.Lock()
	defer a.mu.Unlock()

	return ArchiveState{
		Dir:           a.Dir,
		Format:        a.serializer.Ext(),
		SystemDir:     a.config.SystemDir,
		CacheSize:     a.cache.Len(),
		ReadOnly:      a.config.ReadOnly,
		Strict:        a.config.Strict,
		WatcherActive: a.watcherActive,
	}
}

// ComponentType implements introspection.Component.
func (a *Archive) ComponentType() string {
	return "fs-archive"
}

var _ introspection.Introspectable = (*Archive)(nil)
var _ introspection.Component = (*Archive)(nil)

func (a *Archive) setWatcherActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watcherActive = active
}
