package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/frpfleet/internal/index"
)

var (
	syncFull  bool
	syncWatch bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update the metadata index from the config directory",
	Long: `By default only files modified since the last sync are reindexed.
--full rebuilds from scratch, removing entries whose file is gone.
--watch keeps running and reindexes files as they change.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		start := time.Now()
		if syncFull {
			if err := store.Rebuild(); err != nil {
				return err
			}
			fmt.Printf("Rebuilt index from %s in %v.\n", configDir, time.Since(start))
		} else {
			n, err := store.Sync()
			if err != nil {
				return err
			}
			fmt.Printf("Reindexed %d changed files in %v.\n", n, time.Since(start))
		}

		if !syncWatch {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %s for changes (interrupt to stop)...\n", configDir)
		if err := index.NewWatcher(store).Watch(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Full rebuild instead of incremental sync")
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep watching the directory for changes")
	rootCmd.AddCommand(syncCmd)
}
