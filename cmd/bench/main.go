package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/core"
)

func main() {
	count := flag.Int("count", 10000, "Number of operations to apply")
	workers := flag.Int("workers", 8, "Number of concurrent writers")
	keep := flag.Bool("keep", false, "Keep the benchmark archive after running")
	flag.Parse()

	// 1. Setup Namespace
	benchDir, err := os.MkdirTemp("", "tandem_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	engine, err := tandem.New(benchDir, tandem.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	if _, err := engine.CreateDocument(ctx, "bench", "", "bench"); err != nil {
		panic(err)
	}

	// 2. Concurrent writers hammer a single document. Each writer reads the
	// current version before applying, so most operations take the fast path
	// and the races in between exercise the transformer.
	fmt.Printf("Applying %d operations from %d writers...\n", *count, *workers)
	perWorker := *count / *workers
	startApply := time.Now()

	var wg sync.WaitGroup
	wg.Add(*workers)
	for w := 0; w < *workers; w++ {
		go func(w int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", w)
			for i := 0; i < perWorker; i++ {
				doc, err := engine.GetDocument(ctx, "bench")
				if err != nil {
					panic(err)
				}
				_, err = engine.ApplyOperation(ctx, "bench", core.Operation{
					Type:     core.OpInsert,
					Position: 0,
					Content:  "x",
					UserID:   user,
					Version:  doc.Version,
				})
				if err != nil {
					panic(err)
				}
			}
		}(w)
	}
	wg.Wait()
	applyDuration := time.Since(startApply)

	doc, err := engine.GetDocument(ctx, "bench")
	if err != nil {
		panic(err)
	}
	applied := *workers * perWorker
	fmt.Printf("Apply took: %v (%.0f ops/sec), final version v%d\n",
		applyDuration, float64(applied)/applyDuration.Seconds(), doc.Version)

	// 3. Flush the log to the archive and measure it.
	startFlush := time.Now()
	if err := engine.Close(ctx); err != nil {
		panic(err)
	}
	flushDuration := time.Since(startFlush)
	fmt.Printf("Flush took: %v\n", flushDuration)

	// 4. Cold boot: re-instantiate to measure restoring the archived log,
	// simulating a new server process over the same archive.
	startBoot := time.Now()
	engine2, err := tandem.New(benchDir, tandem.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	bootDuration := time.Since(startBoot)

	restored, err := engine2.GetDocument(ctx, "bench")
	if err != nil {
		panic(err)
	}
	if err := engine2.Close(ctx); err != nil {
		panic(err)
	}

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d ops, %d writers):\n", applied, *workers)
	fmt.Printf("  Apply: %v (%.0f ops/sec)\n", applyDuration, float64(applied)/applyDuration.Seconds())
	fmt.Printf("  Flush: %v\n", flushDuration)
	fmt.Printf("  Boot:  %v (restored v%d, %d logged ops)\n", bootDuration, restored.Version, len(restored.Operations))
	fmt.Printf("--------------------------------------------------\n")
}
