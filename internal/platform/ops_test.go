package platform_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/adapters/fs"
	"github.com/aretw0/tandem/pkg/core"
)

func TestInit(t *testing.T) {
	t.Run("Creates Archive Directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		archivePath := filepath.Join(tmpDir, "archive")

		archive, err := tandem.Init(archivePath, tandem.WithForceTemp(true))
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}

		fsArchive, ok := archive.(*fs.Archive)
		if !ok {
			t.Fatalf("Expected fs archive")
		}
		if fsArchive.Dir != archivePath {
			t.Errorf("Expected path %s, got %s", archivePath, fsArchive.Dir)
		}

		if info, err := os.Stat(archivePath); err != nil || !info.IsDir() {
			t.Errorf("Archive directory not created")
		}
	})

	t.Run("MustExist Fails if Directory Missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		missing := filepath.Join(tmpDir, "missing")

		_, err := tandem.Init(missing, tandem.WithMustExist(true), tandem.WithForceTemp(true))
		if err == nil {
			t.Error("Expected failure for missing directory with MustExist")
		}
	})

	t.Run("Unknown Adapter Fails", func(t *testing.T) {
		_, err := tandem.Init(t.TempDir(), tandem.WithAdapter("s3"))
		if err == nil {
			t.Error("Expected failure for unknown adapter")
		}
	})

	t.Run("Injected Archive Is Adopted", func(t *testing.T) {
		injected, err := fs.NewArchive(fs.Config{Dir: t.TempDir()})
		if err != nil {
			t.Fatalf("NewArchive failed: %v", err)
		}

		archive, err := tandem.Init("ignored", tandem.WithArchive(injected))
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		if archive != core.Archiver(injected) {
			t.Error("Expected the injected archive back")
		}
	})

	t.Run("ReadOnly Rejects Writes", func(t *testing.T) {
		archive, err := tandem.Init(t.TempDir(), tandem.WithReadOnly(true))
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}

		doc := core.NewDocumentState("doc-1", "hello", "alice")
		if err := archive.SaveDocument(context.Background(), *doc); !errors.Is(err, core.ErrReadOnly) {
			t.Errorf("Expected ErrReadOnly, got %v", err)
		}
	})

	t.Run("Format Is Honored", func(t *testing.T) {
		dir := t.TempDir()
		archive, err := tandem.Init(dir, tandem.WithFormat("yaml"))
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}

		doc := core.NewDocumentState("doc-1", "hello", "alice")
		if err := archive.SaveDocument(context.Background(), *doc); err != nil {
			t.Fatalf("SaveDocument failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "doc-1", "state.yaml")); err != nil {
			t.Errorf("Expected a yaml state file: %v", err)
		}
	})
}

// capturePublisher records published events; with fail set it refuses them.
type capturePublisher struct {
	mu     sync.Mutex
	events []core.Event
	fail   bool
}

func (p *capturePublisher) Publish(_ context.Context, event core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePublisher) first() core.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[0]
}

func TestForward(t *testing.T) {
	newEngine := func(t *testing.T) *core.Engine {
		t.Helper()
		engine, err := tandem.New("", tandem.WithAdapter("none"))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = engine.Close(ctx)
		})
		return engine
	}

	t.Run("Relays Engine Events", func(t *testing.T) {
		engine := newEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		pub := &capturePublisher{}
		if err := tandem.Forward(ctx, engine, pub, "**"); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		if _, err := engine.CreateDocument(ctx, "doc-1", "hello", "alice"); err != nil {
			t.Fatalf("CreateDocument failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for pub.count() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("No event was forwarded")
			}
			time.Sleep(10 * time.Millisecond)
		}

		if event := pub.first(); event.Type != core.EventDocumentCreated || event.DocumentID != "doc-1" {
			t.Errorf("Unexpected first event: %+v", event)
		}
	})

	t.Run("Publish Failures Do Not Stall The Engine", func(t *testing.T) {
		engine := newEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		pub := &capturePublisher{fail: true}
		if err := tandem.Forward(ctx, engine, pub, "**"); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		if _, err := engine.CreateDocument(ctx, "doc-1", "x", "alice"); err != nil {
			t.Fatalf("CreateDocument failed: %v", err)
		}
		if _, err := engine.CreateDocument(ctx, "doc-2", "hello", "alice"); err != nil {
			t.Fatalf("Engine stalled behind a failing publisher: %v", err)
		}
		if _, err := engine.GetDocument(ctx, "doc-2"); err != nil {
			t.Errorf("GetDocument failed: %v", err)
		}
	})

	t.Run("Closed Engine Fails", func(t *testing.T) {
		engine := newEngine(t)
		ctx := context.Background()
		_ = engine.Close(ctx)

		if err := tandem.Forward(ctx, engine, &capturePublisher{}, "**"); err == nil {
			t.Error("Expected Forward to fail on a closed engine")
		}
	})
}
