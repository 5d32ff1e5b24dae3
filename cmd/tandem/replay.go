package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/wire"
	"github.com/spf13/cobra"
)

var (
	replayUser string
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay [document] [file]",
	Short: "Apply a JSON operations file to a document",
	Long: `Replay reads a JSON array of operations in wire format and applies them to a
document in order, stopping at the first failure. Each operation carries its
own base version, so stale entries go through conflict detection and
transformation exactly as live traffic would. Operations without a user are
stamped with --user.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		file := args[1]

		data, err := os.ReadFile(file)
		if err != nil {
			fatal("Failed to read operations file", err)
		}
		ops, err := wire.DecodeOperations(data)
		if err != nil {
			fatal("Failed to decode operations", err)
		}
		for i := range ops {
			if ops[i].UserID == "" {
				ops[i].UserID = replayUser
			}
		}

		cwd, err := os.Getwd()
		if err != nil {
			fatal("Failed to get CWD", err)
		}

		root, err := tandem.FindArchiveRoot(cwd)
		if err != nil {
			fmt.Printf("Error: Not a Tandem archive: %v\n", err)
			os.Exit(1)
		}

		engine, err := tandem.New(root,
			tandem.WithLogger(slog.Default()),
			tandem.WithMustExist(true),
		)
		if err != nil {
			fatal("Failed to start engine", err)
		}

		ctx := context.Background()
		conflicts, applyErr := engine.ApplyBatch(ctx, id, ops)

		doc, err := engine.GetDocument(ctx, id)
		if err != nil {
			fatal("Failed to read document", err)
		}

		// Flush whatever was applied; on a partial replay the successful
		// prefix persists.
		if err := engine.Close(ctx); err != nil {
			fatal("Failed to flush archive", err)
		}

		if applyErr != nil {
			fmt.Fprintf(os.Stderr, "Replay stopped at v%d: %v\n", doc.Version, applyErr)
			os.Exit(1)
		}

		if len(conflicts) > 0 {
			fmt.Printf("Replayed %d operations onto '%s': v%d (%d conflicts transformed).\n", len(ops), id, doc.Version, len(conflicts))
			return
		}
		fmt.Printf("Replayed %d operations onto '%s': v%d.\n", len(ops), id, doc.Version)
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayUser, "user", "u", "local", "User stamped on operations that lack one")
}
