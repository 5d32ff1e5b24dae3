package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/core"
	"github.com/spf13/cobra"
)

var (
	applyType     string
	applyPosition int
	applyContent  string
	applyLength   int
	applyUser     string
	applyVersion  int
	applyBranch   string
)

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply [document]",
	Short: "Apply an operation to a document",
	Long: `Apply submits a single insert or delete against a document and flushes the
result to the archive. The operation's base version defaults to the document's
current version; pass --version to submit a deliberately stale operation and
let the engine transform it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
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
		doc, err := engine.GetDocument(ctx, id)
		if err != nil {
			fatal("Failed to read document", err)
		}

		version := applyVersion
		if version == 0 {
			version = doc.Version
		}

		conflicts, err := engine.ApplyOperation(ctx, id, core.Operation{
			Type:     core.OpType(applyType),
			Position: applyPosition,
			Content:  applyContent,
			Length:   applyLength,
			UserID:   applyUser,
			Version:  version,
			BranchID: applyBranch,
		})
		if err != nil {
			fatal("Failed to apply operation", err)
		}

		doc, err = engine.GetDocument(ctx, id)
		if err != nil {
			fatal("Failed to read document", err)
		}

		if err := engine.Close(ctx); err != nil {
			fatal("Failed to flush archive", err)
		}

		if len(conflicts) > 0 {
			fmt.Printf("Applied %s to '%s': v%d (%d conflicts transformed).\n", applyType, id, doc.Version, len(conflicts))
			return
		}
		fmt.Printf("Applied %s to '%s': v%d.\n", applyType, id, doc.Version)
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringVarP(&applyType, "type", "t", "insert", "Operation type (insert, delete)")
	applyCmd.Flags().IntVarP(&applyPosition, "position", "p", 0, "Character position the operation targets")
	applyCmd.Flags().StringVarP(&applyContent, "content", "c", "", "Text to insert")
	applyCmd.Flags().IntVar(&applyLength, "length", 0, "Number of characters to delete")
	applyCmd.Flags().StringVarP(&applyUser, "user", "u", "local", "User submitting the operation")
	applyCmd.Flags().IntVar(&applyVersion, "version", 0, "Base version of the operation (0 = current)")
	applyCmd.Flags().StringVar(&applyBranch, "branch", "", "Branch the operation belongs to")
}
