package reactivity_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/adapters/fs"
	"github.com/aretw0/tandem/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupWatchTest opens an archive on a temp directory and starts watching it.
// It returns the directory, the archive, the event stream and the context.
func setupWatchTest(t *testing.T, pattern string) (string, *fs.Archive, <-chan core.Event, context.Context) {
	t.Helper()
	tmp := t.TempDir()

	archiver, err := tandem.Init(tmp)
	require.NoError(t, err)
	archive, ok := archiver.(*fs.Archive)
	require.True(t, ok, "fs adapter expected")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	events, err := archive.Watch(ctx, pattern)
	require.NoError(t, err, "Watch should be supported")
	require.NotNil(t, events)

	// Wait a bit to ensure the watcher is ready (naive)
	time.Sleep(100 * time.Millisecond)

	return tmp, archive, events, ctx
}

// writeState drops a state file into the archive the way an external process
// would: directory first, then the record.
func writeState(t *testing.T, dir, docID, content string) {
	t.Helper()
	docDir := filepath.Join(dir, docID)
	require.NoError(t, os.MkdirAll(docDir, 0755))
	// Give the watcher time to pick up the new directory before the record
	// lands in it.
	time.Sleep(150 * time.Millisecond)
	payload := fmt.Sprintf(`{"id":%q,"content":%q,"version":1,"operations":[]}`, docID, content)
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "state.json"), []byte(payload), 0644))
}

// TestWatch_ExternalStateChange tests that a record written behind the
// archive's back surfaces as a document.archived event.
func TestWatch_ExternalStateChange(t *testing.T) {
	tmp, _, events, ctx := setupWatchTest(t, "**")

	writeState(t, tmp, "ext-doc", "hello watcher")

	select {
	case event := <-events:
		assert.Equal(t, core.EventDocumentArchived, event.Type)
		assert.Equal(t, "ext-doc", event.DocumentID)
	case <-ctx.Done():
		t.Fatal("Timed out waiting for event")
	}
}

// TestWatch_EngineBridge feeds archive events into an engine so its
// subscribers observe changes made behind the engine's back.
func TestWatch_EngineBridge(t *testing.T) {
	tmp, _, archiveEvents, ctx := setupWatchTest(t, "**")

	engine, err := tandem.New("", tandem.WithAdapter("none"))
	require.NoError(t, err)
	defer engine.Close(context.Background())

	stream, err := engine.Watch(ctx, "**")
	require.NoError(t, err)

	// Relay archive observations into the engine broker.
	go func() {
		for e := range archiveEvents {
			engine.Emit(e)
		}
	}()

	writeState(t, tmp, "shared-doc", "written elsewhere")

	select {
	case event := <-stream:
		assert.Equal(t, core.EventDocumentArchived, event.Type)
		assert.Equal(t, "shared-doc", event.DocumentID)
		assert.False(t, event.Timestamp.IsZero(), "bridge must carry a timestamp")
	case <-ctx.Done():
		t.Fatal("Timed out waiting for bridged event")
	}
}

// TestWatch_IgnoresNoise ensures temp files from atomic writes, foreign
// extensions and the bookkeeping directory never surface.
func TestWatch_IgnoresNoise(t *testing.T) {
	tmp, _, events, _ := setupWatchTest(t, "**")

	docDir := filepath.Join(tmp, "noisy")
	require.NoError(t, os.MkdirAll(docDir, 0755))
	time.Sleep(150 * time.Millisecond)

	// 1. Atomic-write temp file
	require.NoError(t, os.WriteFile(filepath.Join(docDir, fs.TempFilePrefix+"123"), []byte("x"), 0644))
	// 2. Foreign extension
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "readme.txt"), []byte("skip me"), 0644))
	// 3. Bookkeeping directory
	sysDir := filepath.Join(tmp, fs.DefaultSystemDir)
	require.NoError(t, os.MkdirAll(sysDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sysDir, "index.json"), []byte("{}"), 0644))

	select {
	case event := <-events:
		t.Fatalf("Received event for ignorable change: %v (%s)", event.Type, event.DocumentID)
	case <-time.After(500 * time.Millisecond):
		// Success: no event received in the window
	}
}

// TestWatch_PatternMatching verifies that the watcher respects document id
// patterns.
func TestWatch_PatternMatching(t *testing.T) {
	tmp, _, events, _ := setupWatchTest(t, "notes-*")

	writeState(t, tmp, "other-1", "ignored")
	writeState(t, tmp, "notes-1", "matched")

	matchCount := 0
	ignoreCount := 0

	timeout := time.After(700 * time.Millisecond)
	for {
		select {
		case event := <-events:
			t.Logf("Event: %s", event.DocumentID)
			switch event.DocumentID {
			case "notes-1":
				matchCount++
			case "other-1":
				ignoreCount++
			}
		case <-timeout:
			if matchCount != 1 {
				t.Errorf("Expected 1 match event, got %d", matchCount)
			}
			if ignoreCount != 0 {
				t.Errorf("Expected 0 events for the unmatched document, got %d", ignoreCount)
			}
			return
		}
	}
}

// TestWatch_Debounce verifies that rapid rewrites of one record are grouped.
func TestWatch_Debounce(t *testing.T) {
	tmp, _, events, _ := setupWatchTest(t, "**")

	docDir := filepath.Join(tmp, "rapid")
	require.NoError(t, os.MkdirAll(docDir, 0755))
	time.Sleep(150 * time.Millisecond)

	// Simulate 3 rapid writes within the debounce window
	target := filepath.Join(docDir, "state.json")
	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{"id":"rapid","content":"content %d","version":1}`, i)
		require.NoError(t, os.WriteFile(target, []byte(payload), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	count := 0
	timeout := time.After(500 * time.Millisecond)
	for {
		select {
		case event := <-events:
			if event.DocumentID == "rapid" {
				count++
			}
		case <-timeout:
			// Without debouncing, fsnotify often sends several events per
			// write, so 3 writes could produce 6.
			if count > 1 {
				t.Fatalf("Expected 1 debounced event, got %d", count)
			}
			if count == 0 {
				t.Fatal("Expected 1 event, got 0")
			}
			return
		}
	}
}

// TestWatch_SingleWatcher ensures an archive refuses a second concurrent
// watcher.
func TestWatch_SingleWatcher(t *testing.T) {
	_, archive, _, ctx := setupWatchTest(t, "**")

	_, err := archive.Watch(ctx, "**")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
}
