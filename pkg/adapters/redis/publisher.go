// Package redis relays engine events through Redis pub/sub so several
// processes can follow the same documents. Each document gets its own
// channel under a shared prefix; subscribers pattern-match document ids the
// same way Engine.Watch does.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/redis/go-redis/v9"

	"github.com/aretw0/tandem/pkg/core"
)

// DefaultChannelPrefix namespaces tandem pub/sub channels. The document id
// is appended, so doc-1's events travel on "tandem:events:doc-1".
const DefaultChannelPrefix = "tandem:events:"

// Config configures a Publisher.
type Config struct {
	// Client is the Redis client to publish through. Required.
	Client redis.UniversalClient
	// ChannelPrefix overrides DefaultChannelPrefix.
	ChannelPrefix string
	// Logger receives relay diagnostics. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Publisher sends engine events into Redis and reads them back out. It
// implements core.Publisher, so it can be fed straight from a Watch pump.
type Publisher struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ core.Publisher = (*Publisher)(nil)

// NewPublisher builds a Publisher on an existing Redis client. The caller
// keeps ownership of the client's lifetime.
func NewPublisher(config Config) (*Publisher, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.ChannelPrefix == "" {
		config.ChannelPrefix = DefaultChannelPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{
		client: config.Client,
		prefix: config.ChannelPrefix,
		logger: config.Logger,
	}, nil
}

// Publish sends one event to its document's channel as JSON. Events without
// a document id have no channel to land on and are rejected.
func (p *Publisher) Publish(ctx context.Context, event core.Event) error {
	if event.DocumentID == "" {
		return fmt.Errorf("event has no document id: %s", event)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	channel := p.prefix + event.DocumentID
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe follows events whose document id matches pattern, published by
// any process sharing the prefix. The returned channel closes when ctx ends.
//
// Workflow:
//  1. PSubscribe to every channel under the prefix.
//  2. Wait for the subscription confirmation, so events published after
//     Subscribe returns are never missed.
//  3. Relay decoded events that match the pattern until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, pattern string) (<-chan core.Event, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern: %s", pattern)
	}

	sub := p.client.PSubscribe(ctx, p.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	events := make(chan core.Event, 16)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(events)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				var event core.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warn("dropping undecodable event",
						"channel", msg.Channel, "error", err)
					continue
				}
				if match, _ := doublestar.Match(pattern, event.DocumentID); !match {
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return events, nil
}

// PublisherState exposes internal state for observability.
type PublisherState struct {
	ChannelPrefix string `json:"channel_prefix"`
	PoolHits      uint32 `json:"pool_hits"`
	PoolMisses    uint32 `json:"pool_misses"`
	TotalConns    uint32 `json:"total_conns"`
	IdleConns     uint32 `json:"idle_conns"`
}

// State implements introspection.Introspectable.
func (p *Publisher) State() any {
	stats := p.client.PoolStats()
	return PublisherState{
		ChannelPrefix: p.prefix,
		PoolHits:      stats.Hits,
		PoolMisses:    stats.Misses,
		TotalConns:    stats.TotalConns,
		IdleConns:     stats.IdleConns,
	}
}

// ComponentType implements introspection.Component.
func (p *Publisher) ComponentType() string {
	return "redis-publisher"
}

var _ introspection.Introspectable = (*Publisher)(nil)
var _ introspection.Component = (*Publisher)(nil)
