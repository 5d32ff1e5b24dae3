package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/spf13/cobra"
)

var (
	createContent string
	createUser    string
)

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create [id]",
	Short: "Register a new document in the archive",
	Long:  `Create registers a document with the given ID and initial content at version 1.`,
	Args:  cobra.ExactArgs(1),
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
		doc, err := engine.CreateDocument(ctx, id, createContent, createUser)
		if err != nil {
			fatal("Failed to create document", err)
		}

		// Close flushes the new state to the archive.
		if err := engine.Close(ctx); err != nil {
			fatal("Failed to flush archive", err)
		}

		fmt.Printf("Document '%s' created at v%d.\n", doc.ID, doc.Version)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&createContent, "content", "c", "", "Initial document content")
	createCmd.Flags().StringVarP(&createUser, "user", "u", "local", "User recorded as the document creator")
}
