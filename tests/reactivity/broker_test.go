package reactivity

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, opts ...tandem.Option) *core.Engine {
	t.Helper()
	opts = append([]tandem.Option{tandem.WithAdapter("none")}, opts...)
	engine, err := tandem.New("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return engine
}

func TestEventBroker_Decoupling(t *testing.T) {
	// 1. Setup an engine with a tiny subscriber buffer so a slow consumer
	// overflows almost immediately.
	engine := newEngine(t, tandem.WithEventBuffer(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := engine.Watch(ctx, "**")
	require.NoError(t, err)

	// 2. Simulate a slow consumer: do NOT read from the stream while a fast
	// producer hammers the document.
	_, err = engine.CreateDocument(ctx, "doc", "x", "alice")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			doc, err := engine.GetDocument(ctx, "doc")
			if err != nil {
				return
			}
			_, _ = engine.ApplyOperation(ctx, "doc", core.Operation{
				Type: core.OpInsert, Position: 0, Content: "y",
				UserID: "alice", Version: doc.Version,
			})
		}
	}()

	// 3. The producer must finish promptly even though nobody is draining
	// the stream: publishing never blocks the document actor.
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("producer blocked on a slow subscriber")
	}

	doc, err := engine.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 21, doc.Version, "all operations must apply regardless of the stream")

	// 4. The slow consumer still gets the buffered event; the overflow was
	// dropped, not queued.
	received := 0
	deadline := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case <-stream:
			received++
		case <-deadline:
			break drain
		}
	}
	assert.GreaterOrEqual(t, received, 1, "the buffered event must survive")
	assert.Less(t, received, 21, "overflow events must be dropped")
}

func TestEventBroker_PatternRouting(t *testing.T) {
	engine := newEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Topics are "{document}/{event type}", so subscriptions can select a
	// document, an event type, or both.
	all, err := engine.Watch(ctx, "**")
	require.NoError(t, err)
	onlyA, err := engine.Watch(ctx, "doc-a/**")
	require.NoError(t, err)
	onlyConflicts, err := engine.Watch(ctx, "*/"+string(core.EventConflictDetected))
	require.NoError(t, err)

	_, err = engine.CreateDocument(ctx, "doc-a", "hello", "alice")
	require.NoError(t, err)
	_, err = engine.CreateDocument(ctx, "doc-b", "hello", "bob")
	require.NoError(t, err)

	// Two concurrent inserts at the same position force a conflict on doc-a.
	_, err = engine.ApplyOperation(ctx, "doc-a", core.Operation{
		Type: core.OpInsert, Position: 5, Content: " world", UserID: "alice", Version: 1,
	})
	require.NoError(t, err)
	conflicts, err := engine.ApplyOperation(ctx, "doc-a", core.Operation{
		Type: core.OpInsert, Position: 5, Content: "!", UserID: "bob", Version: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, conflicts, "stale overlapping insert must conflict")

	countByDoc := func(stream <-chan core.Event, wait time.Duration) map[string]int {
		counts := make(map[string]int)
		deadline := time.After(wait)
		for {
			select {
			case e := <-stream:
				counts[e.DocumentID]++
			case <-deadline:
				return counts
			}
		}
	}

	allCounts := countByDoc(all, 500*time.Millisecond)
	assert.Greater(t, allCounts["doc-a"], 0)
	assert.Greater(t, allCounts["doc-b"], 0)

	aCounts := countByDoc(onlyA, 200*time.Millisecond)
	assert.Greater(t, aCounts["doc-a"], 0)
	assert.Zero(t, aCounts["doc-b"], "doc-a subscription must not see doc-b events")

	conflictEvents := 0
	deadline := time.After(200 * time.Millisecond)
conflictDrain:
	for {
		select {
		case e := <-onlyConflicts:
			require.Equal(t, core.EventConflictDetected, e.Type)
			require.NotNil(t, e.Conflict)
			conflictEvents++
		case <-deadline:
			break conflictDrain
		}
	}
	assert.Equal(t, len(conflicts), conflictEvents)
}

func TestEventBroker_Lifecycle(t *testing.T) {
	engine := newEngine(t)

	t.Run("Cancel Closes Stream", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := engine.Watch(ctx, "**")
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-stream:
			assert.False(t, ok, "stream must close after cancel")
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not close after cancel")
		}
	})

	t.Run("Invalid Pattern Fails", func(t *testing.T) {
		_, err := engine.Watch(context.Background(), "[")
		assert.Error(t, err)
	})

	t.Run("Close Ends All Streams", func(t *testing.T) {
		closing, err := tandem.New("", tandem.WithAdapter("none"))
		require.NoError(t, err)

		ctx := context.Background()
		stream, err := closing.Watch(ctx, "**")
		require.NoError(t, err)

		require.NoError(t, closing.Close(ctx))

		select {
		case _, ok := <-stream:
			assert.False(t, ok, "stream must close with the engine")
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not close with the engine")
		}

		_, err = closing.Watch(ctx, "**")
		assert.ErrorIs(t, err, core.ErrEngineClosed)
	})
}
