package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/tandem/pkg/core"
)

// watchWorker tails the archive directory with fsnotify and turns record
// changes into core events. It owns the events channel and closes it when
// its run loop exits.
type watchWorker struct {
	*worker.BaseWorker
	archive   *Archive
	pattern   string
	events    chan core.Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

func newWatchWorker(archive *Archive, pattern string, events chan core.Event) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("archive-watcher"),
		archive:    archive,
		pattern:    pattern,
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.BaseWorker.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.archive.recursiveAdd(watcher); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch archive directory: %w", err)
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(50 * time.Millisecond)
	w.archive.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.StopRequested = true
			w.cancel()
		}
		w.stopErr = w.BaseWorker.Stop(ctx)
	})
	return w.stopErr
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"archive":           w.archive.Dir,
		}
	})
}

// handleFilesystemEvent filters, resolves, and debounces one fsnotify
// event. Returns true if an engine event was scheduled.
func (w *watchWorker) handleFilesystemEvent(ctx context.Context, event fsnotify.Event) bool {
	w.archive.logger.Debug("archive event", "op", event.Op.String(), "name", event.Name)

	// A new document or snapshots directory must join the watch set
	// before its first record lands.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Base(event.Name) != w.archive.config.SystemDir {
				_ = w.watcher.Add(event.Name)
			}
			return false
		}
	}

	if w.archive.shouldIgnore(event.Name) {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}

	docID, err := w.archive.resolveDocID(event.Name)
	if err != nil {
		w.archive.fail(fmt.Errorf("failed to resolve document for %s: %w", event.Name, err))
		return false
	}
	if match, _ := doublestar.Match(w.pattern, docID); !match {
		return false
	}

	w.sendEvent(ctx, core.Event{
		Type:       core.EventDocumentArchived,
		DocumentID: docID,
		Timestamp:  time.Now().UTC(),
	})
	return true
}

// sendEvent enqueues an event via the debouncer, protecting against channel
// closure during shutdown.
func (w *watchWorker) sendEvent(ctx context.Context, event core.Event) {
	w.debouncer.add(event, func(e core.Event) {
		defer func() {
			// Recover from panic if channel was closed (worker stopping)
			_ = recover()
		}()
		select {
		case w.events <- e:
		case <-ctx.Done():
		}
	})
}

// run is the main loop of the watcher worker.
func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)

			// Stack traces only when debug logging is on; production
			// levels get the error alone.
			var stack string
			if w.archive.logger.Enabled(ctx, slog.LevelDebug) {
				stack = string(debug.Stack())
			}
			if stack != "" {
				w.archive.logger.Error("watcher panic", "error", panicErr, "stack", stack)
			} else {
				w.archive.logger.Error("watcher panic", "error", panicErr)
			}
		}
	}()
	defer close(w.events)
	defer w.archive.setWatcherActive(false)
	defer w.watcher.Close()

	err = w.mainEventLoop(ctx)

	// Stop accepting new events and wait for in-flight timers before the
	// deferred close releases the channel.
	w.debouncer.stopAndWait(5 * time.Second)

	return err
}

func (w *watchWorker) mainEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.archive.fail(wErr)
		}
	}
}
