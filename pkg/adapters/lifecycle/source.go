// Package lifecycle bridges engine event streams into lifecycle sources so
// sync events can drive reactive supervisors alongside timers and signals.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/tandem/pkg/core"
)

type engineSource struct {
	events <-chan core.Event
	out    chan lifecycle.Event
}

// NewSource wraps a channel of engine events, such as one returned by
// Engine.Watch, as a lifecycle.Source. The source closes when the engine
// channel closes or the context ends.
func NewSource(events <-chan core.Event) lifecycle.Source {
	return &engineSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
}

func (s *engineSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *engineSource) Start(ctx context.Context) error {
	// The bridge goroutine runs under lifecycle.Go so panics are contained
	// and shutdown is tracked.
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				// core.Event implements lifecycle.Event (has String())
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
