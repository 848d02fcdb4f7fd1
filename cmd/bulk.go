package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/frpfleet/internal/dispatch"
)

var (
	bulkFilter   string
	maxParallel  int
	bulkDryRun   bool
	probeTimeout time.Duration
)

var bulkCmd = &cobra.Command{
	Use:   "bulk <start|stop|restart|reload|probe>",
	Short: "Run a service action or reachability probe across the fleet",
	Long: `Runs the action against every config matching --filter with bounded
concurrency. Per-item failures never abort the batch; the command exits
non-zero when any item failed so automation can branch on it. An
interrupt stops launching new items and reports what completed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := args[0]
		isProbe := action == "probe"
		if !isProbe && !dispatch.LifecycleActions[action] {
			return fmt.Errorf("unknown action %q (want start, stop, restart, reload, or probe)", action)
		}

		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		entries, err := resolveFilter(engine, bulkFilter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No configs matched; nothing to do.")
			return nil
		}

		if bulkDryRun {
			fmt.Printf("Would %s %d configs:\n", action, len(entries))
			for _, e := range entries {
				fmt.Printf("  %s\n", e.Path)
			}
			return nil
		}

		var items []dispatch.Item
		limit := maxParallel
		if isProbe {
			items = dispatch.ProbeItems(entries, probeTimeout)
			if limit <= 0 {
				limit = dispatch.DefaultProbeWorkers
			}
		} else {
			items = dispatch.LifecycleItems(entries, action, dispatch.ExecRunner)
			if limit <= 0 {
				limit = dispatch.DefaultLifecycleWorkers
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report := dispatch.Run(ctx, items, limit, func(done, total int) {
			fmt.Printf("\r%d/%d complete", done, total)
		})
		fmt.Println()

		fmt.Printf("Batch %s: %d succeeded, %d failed", report.BatchID, report.Succeeded, report.Failed)
		if report.Skipped > 0 {
			fmt.Printf(", %d skipped", report.Skipped)
		}
		fmt.Println()
		for _, f := range report.Failures {
			fmt.Printf("  FAILED %s: %s\n", f.ID, f.Reason)
		}
		return report.Err()
	},
}

func init() {
	bulkCmd.Flags().StringVarP(&bulkFilter, "filter", "f", "all", "Target selection filter")
	bulkCmd.Flags().IntVarP(&maxParallel, "max-parallel", "p", 0, "Concurrency bound (default 10, probes 20)")
	bulkCmd.Flags().BoolVar(&bulkDryRun, "dry-run", false, "List targets without acting")
	bulkCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", dispatch.DefaultProbeTimeout, "Per-target probe timeout")
	rootCmd.AddCommand(bulkCmd)
}
