package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/core"
)

// Spike configuration
const (
	WorkerCount = 100
	OpsPerUser  = 10
)

func main() {
	log.Println("⚡ Starting Spike: Tandem Concurrency Test")

	// 1. Temp directory setup
	tmpDir, err := os.MkdirTemp("", "tandem-spike-*")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	// Cleanup at the end (commented out for inspection on failure)
	// defer os.RemoveAll(tmpDir)

	log.Printf("📂 Working directory: %s", tmpDir)

	// 2. Boot the engine
	engine, err := tandem.New(tmpDir)
	if err != nil {
		log.Fatalf("Failed to boot engine: %v", err)
	}

	ctx := context.Background()
	if _, err := engine.CreateDocument(ctx, "spike", "", "spike"); err != nil {
		log.Fatalf("Failed to create document: %v", err)
	}

	start := time.Now()

	// 3. Concurrent execution: every worker submits deliberately stale
	// operations, all colliding at position 0. The single-writer worker must
	// serialize them without losing a single one.
	var wg sync.WaitGroup
	wg.Add(WorkerCount)

	for i := 0; i < WorkerCount; i++ {
		go func(id int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", id)

			for n := 0; n < OpsPerUser; n++ {
				_, err := engine.ApplyOperation(ctx, "spike", core.Operation{
					Type:     core.OpInsert,
					Position: 0,
					Content:  "x",
					UserID:   user,
					Version:  1,
				})
				if err != nil {
					log.Printf("[Error] Apply failed for %s: %v", user, err)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	// 4. Final validation
	log.Println("🏁 All goroutines finished.")
	log.Printf("⏱️  Total time: %v", duration)
	log.Printf("⚡ Throughput: %.2f ops/sec", float64(WorkerCount*OpsPerUser)/duration.Seconds())

	doc, err := engine.GetDocument(ctx, "spike")
	if err != nil {
		log.Fatalf("❌ FAILURE: Could not read document back: %v", err)
	}

	wantOps := WorkerCount * OpsPerUser
	if len(doc.Operations) != wantOps {
		log.Fatalf("❌ FAILURE: Lost updates: logged %d ops, want %d", len(doc.Operations), wantOps)
	}
	if doc.Version != wantOps+1 {
		log.Fatalf("❌ FAILURE: Version drift: v%d, want v%d", doc.Version, wantOps+1)
	}
	if len(doc.Content) != wantOps {
		log.Fatalf("❌ FAILURE: Content length %d, want %d", len(doc.Content), wantOps)
	}
	log.Println("✅ SUCCESS: No lost updates, version and content consistent.")

	conflicts, err := engine.GetConflicts(ctx, "spike")
	if err != nil {
		log.Fatalf("Failed to read conflicts: %v", err)
	}
	log.Printf("📊 Conflicts detected and resolved: %d", len(conflicts))

	if err := engine.Close(ctx); err != nil {
		log.Fatalf("❌ FAILURE: Engine close: %v", err)
	}
	log.Println("✅ Archive flushed cleanly.")
}
