package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/frpfleet/internal/bulkedit"
)

var (
	setFilter string
	setDryRun bool
)

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config field across the fleet, all-or-nothing",
	Long: `Stages the field change for every config matching --filter, validates
every staged result, then commits all of them (or none). This is a
transactional update, not a per-item batch: one invalid candidate
aborts the whole operation with no file modified.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		entries, err := resolveFilter(engine, setFilter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No configs matched; nothing to update.")
			return nil
		}

		paths := make([]string, 0, len(entries))
		for _, e := range entries {
			paths = append(paths, e.Path)
		}

		if setDryRun {
			fmt.Printf("Would set %s = %s in %d configs:\n", args[0], args[1], len(paths))
			for _, p := range paths {
				fmt.Printf("  %s\n", p)
			}
			return nil
		}

		result, err := bulkedit.Apply(paths, args[0], args[1])
		if err != nil {
			return err
		}

		// Reindex what changed so queries see the new values immediately.
		for _, p := range result.Updated {
			if err := store.IndexFile(p); err != nil {
				return fmt.Errorf("files updated, but reindex of %s failed: %w", p, err)
			}
		}
		fmt.Printf("Updated %d configs.\n", len(result.Updated))
		return nil
	},
}

func init() {
	setCmd.Flags().StringVarP(&setFilter, "filter", "f", "", "Target selection filter (required)")
	setCmd.Flags().BoolVar(&setDryRun, "dry-run", false, "List targets without modifying files")
	_ = setCmd.MarkFlagRequired("filter") // error only on unknown flag name
	rootCmd.AddCommand(setCmd)
}
