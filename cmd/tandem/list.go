package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/adapters/fs"
	"github.com/spf13/cobra"
)

var (
	listJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all documents in the archive",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
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

		// Listing reads the archive index directly; no engine is needed.
		archiver, err := tandem.Init(root,
			tandem.WithLogger(slog.Default()),
			tandem.WithMustExist(true),
		)
		if err != nil {
			fmt.Printf("Error opening archive: %v\n", err)
			os.Exit(1)
		}

		archive, ok := archiver.(*fs.Archive)
		if !ok {
			fmt.Printf("Error: archive adapter does not support listing\n")
			os.Exit(1)
		}

		docs, err := archive.List(context.Background())
		if err != nil {
			fmt.Printf("Error listing documents: %v\n", err)
			os.Exit(1)
		}

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(docs); err != nil {
				fmt.Printf("Error encoding JSON: %v\n", err)
				os.Exit(1)
			}
			return
		}

		for _, doc := range docs {
			fmt.Printf("%s v%d (%d ops)\n", doc.ID, doc.Version, doc.OperationCount)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
