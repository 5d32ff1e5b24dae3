package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/spf13/cobra"
)

var (
	readJSON bool
)

var readCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Read a document",
	Long:  `Read a document by its ID. Outputs the current content by default, or the full state (version, log, conflicts) with --json.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		wd, err := os.Getwd()
		if err != nil {
			fmt.Printf("Error getting working directory: %v\n", err)
			os.Exit(1)
		}

		root, err := tandem.FindArchiveRoot(wd)
		if err != nil {
			fmt.Printf("Error: Not a Tandem archive: %v\n", err)
			os.Exit(1)
		}

		engine, err := tandem.New(root,
			tandem.WithLogger(slog.Default()),
			tandem.WithMustExist(true),
		)
		if err != nil {
			fmt.Printf("Error starting engine: %v\n", err)
			os.Exit(1)
		}

		doc, err := engine.GetDocument(context.Background(), id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading document: %v\n", err)
			os.Exit(1)
		}

		if readJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(doc); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
				os.Exit(1)
			}
			return
		}

		// Default: Print Content
		fmt.Println(doc.Content)
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Output in JSON format")
}
