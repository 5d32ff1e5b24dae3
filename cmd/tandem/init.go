package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/tandem"
	"github.com/aretw0/tandem/pkg/adapters/fs"
	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a tandem archive",
	Long: `Initialize a new Tandem archive in the current directory. The directory
becomes discoverable as an archive root for the other commands.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal("Failed to get CWD", err)
		}

		if _, err := tandem.Init(cwd, tandem.WithDevSafety(false)); err != nil {
			fatal("Failed to initialize archive", err)
		}

		// The bookkeeping directory marks the archive root.
		if err := os.MkdirAll(filepath.Join(cwd, fs.DefaultSystemDir), 0755); err != nil {
			fatal("Failed to create system directory", err)
		}

		fmt.Println("Initialized empty Tandem archive in", cwd)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
