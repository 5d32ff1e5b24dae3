package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/adapters/fs"
	"github.com/aretw0/tandem/pkg/core"
	"github.com/spf13/cobra"
)

var (
	snapshotID     string
	snapshotReason string
	snapshotList   bool
	snapshotJSON   bool
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [document]",
	Short: "Capture or list snapshots of a document",
	Long: `Snapshot captures an immutable point-in-time copy of a document and archives
it alongside the document state. With --list, previously archived snapshots
are printed instead.`,
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

		ctx := context.Background()

		if snapshotList {
			archiver, err := tandem.Init(root,
				tandem.WithLogger(slog.Default()),
				tandem.WithMustExist(true),
			)
			if err != nil {
				fatal("Failed to open archive", err)
			}
			archive, ok := archiver.(*fs.Archive)
			if !ok {
				fatal("Failed to list snapshots", fmt.Errorf("archive adapter does not support listing"))
			}

			snaps, err := archive.ListSnapshots(ctx, id)
			if err != nil {
				fatal("Failed to list snapshots", err)
			}

			if snapshotJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(snaps); err != nil {
					fatal("Failed to encode JSON", err)
				}
				return
			}

			for _, snap := range snaps {
				fmt.Printf("%s v%d (%d ops) %s\n", snap.ID, snap.Version, snap.OperationCount, snap.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return
		}

		engine, err := tandem.New(root,
			tandem.WithLogger(slog.Default()),
			tandem.WithMustExist(true),
		)
		if err != nil {
			fatal("Failed to start engine", err)
		}

		var metadata core.Metadata
		if snapshotReason != "" {
			metadata = core.Metadata{"reason": snapshotReason}
		}

		snap, err := engine.CreateSnapshot(ctx, id, snapshotID, metadata)
		if err != nil {
			fatal("Failed to create snapshot", err)
		}

		if err := engine.Close(ctx); err != nil {
			fatal("Failed to flush archive", err)
		}

		fmt.Printf("Snapshot '%s' of '%s' captured at v%d.\n", snap.ID, id, snap.Version)
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapshotID, "id", "", "Snapshot ID (defaults to a generated UUID)")
	snapshotCmd.Flags().StringVarP(&snapshotReason, "reason", "m", "", "Reason recorded in the snapshot metadata")
	snapshotCmd.Flags().BoolVar(&snapshotList, "list", false, "List archived snapshots instead of creating one")
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Output in JSON format (with --list)")
}
