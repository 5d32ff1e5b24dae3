package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"
)

// EventType represents the kind of change the engine observed.
type EventType string

const (
	EventDocumentCreated  EventType = "document.created"
	EventOperationApplied EventType = "operation.applied"
	EventConflictDetected EventType = "conflict.detected"
	EventBranchCreated    EventType = "branch.created"
	EventBranchMerged     EventType = "branch.merged"
	EventSnapshotCreated  EventType = "snapshot.created"
	EventSnapshotRestored EventType = "snapshot.restored"
	EventDocumentArchived EventType = "document.archived"
)

// Event describes a change to a document. Operation and Conflict are set when
// the event carries one, so transports and publishers can fan the payload out
// without a second engine round trip.
type Event struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id,omitempty"`
	Version    int       `json:"version,omitempty"`
	BranchID   string    `json:"branch_id,omitempty"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	Operation *Operation `json:"operation,omitempty"`
	Conflict  *Conflict  `json:"conflict,omitempty"`
}

// String makes Event satisfy lifecycle.Event, so a Watch channel can be
// bridged into a lifecycle.Source directly.
func (e Event) String() string {
	return fmt.Sprintf("%s %s v%d", e.Type, e.DocumentID, e.Version)
}

// Topic is the subscription key an event is matched against:
// "<document_id>/<event_type>". Patterns use doublestar syntax, so
// "doc-1/**" follows one document and "*/conflict.detected" follows one kind.
func (e Event) Topic() string {
	return e.DocumentID + "/" + string(e.Type)
}

// broker fans engine events out to pattern subscribers. Publishing never
// blocks the document actors: a subscriber whose buffer is full misses the
// event, and the drop is logged at debug level.
type broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
	logger *slog.Logger
}

type subscriber struct {
	pattern string
	ch      chan Event
}

func newBroker(buffer int, logger *slog.Logger) *broker {
	return &broker{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// subscribe registers a pattern and returns the delivery channel. The
// subscription lives until ctx is done or the broker closes; either way the
// channel is closed so ranging consumers terminate.
func (b *broker) subscribe(ctx context.Context, pattern string) (<-chan Event, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern: %s", pattern)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrEngineClosed
	}
	id := b.nextID
	b.nextID++
	sub := &subscriber{pattern: pattern, ch: make(chan Event, b.buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	lifecycle.Go(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		b.unsubscribe(id)
		return nil
	})

	return sub.ch, nil
}

func (b *broker) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// publish delivers the event to every subscriber whose pattern matches the
// topic. Non-blocking on purpose: the actors must never wait on a consumer.
func (b *broker) publish(e Event) {
	topic := e.Topic()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		ok, err := doublestar.Match(sub.pattern, topic)
		if err != nil || !ok {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.logger.Debug("event dropped, subscriber buffer full",
				"topic", topic, "pattern", sub.pattern)
		}
	}
}

// close shuts every subscriber channel. Publishing afterwards is a no-op.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
