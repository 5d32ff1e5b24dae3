package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/core"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [document]",
	Short: "Show the operation log of a document",
	Long:  `History prints a document's operation log in application order, oldest first.`,
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

		ops, err := engine.GetHistory(context.Background(), id, historyLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
			os.Exit(1)
		}

		if historyJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(ops); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
				os.Exit(1)
			}
			return
		}

		for _, op := range ops {
			detail := fmt.Sprintf("%q", op.Content)
			if op.Type == core.OpDelete {
				detail = fmt.Sprintf("-%d chars", op.Length)
			}
			fmt.Printf("v%d\t%s @%d\t%s\tby %s\n", op.Version, op.Type, op.Position, detail, op.UserID)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Only show the most recent N operations (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output in JSON format")
}
