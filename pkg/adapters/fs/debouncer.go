package fs

import (
	"sync"
	"time"

	"github.com/aretw0/tandem/pkg/core"
)

// debouncer coalesces bursts of events per topic: an atomic write produces
// several filesystem events for the same record, and only the last one
// within the window should surface.
type debouncer struct {
	wait time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newDebouncer(wait time.Duration) *debouncer {
	return &debouncer{
		wait:   wait,
		timers: make(map[string]*time.Timer),
	}
}

// add schedules fire for the event, resetting any pending timer with the
// same topic. Events added after stopAndWait are dropped.
func (d *debouncer) add(event core.Event, fire func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	key := event.Topic()
	if t, ok := d.timers[key]; ok {
		// Stop returns false when the callback already started; that
		// run does its own wg.Done.
		if t.Stop() {
			d.wg.Done()
		}
	}

	d.wg.Add(1)
	d.timers[key] = time.AfterFunc(d.wait, func() {
		defer d.wg.Done()
		d.mu.Lock()
		delete(d.timers, key)
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return
		}
		fire(event)
	})
}

// stopAndWait refuses new events, cancels pending timers, and waits for
// in-flight callbacks to finish, up to timeout.
func (d *debouncer) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
