package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/frpfleet/api"
	"github.com/agentic-research/frpfleet/internal/dispatch"
	"github.com/agentic-research/frpfleet/internal/index"
	"github.com/agentic-research/frpfleet/internal/snapshot"
)

var (
	statusTTL   time.Duration
	statusReset bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fleet summary from the cached snapshot",
	Long: `Serves the aggregate snapshot with stale-while-revalidate semantics:
a fresh snapshot prints immediately; a stale one prints immediately too
while one background refresh runs for the next caller. Only the very
first invocation ever waits for a computation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		mgr := snapshot.NewManager(snapshotPath, statusTTL, computePayload(store))
		if statusReset {
			if err := mgr.Invalidate(); err != nil {
				return err
			}
		}

		snap, err := mgr.Get(cmd.Context())
		if err != nil {
			return err
		}
		printSnapshot(snap)

		// If this read kicked off a background refresh, let it persist
		// before the process exits so the next invocation inherits it.
		mgr.WaitRefresh(10 * time.Second)
		return nil
	},
}

// computePayload builds the snapshot computation over the index and a
// probe pass: aggregate counts from the store, active/failed counts from
// the dispatcher's observations, plus the installed frp version.
func computePayload(store *index.Store) snapshot.Compute {
	return func(ctx context.Context) (api.SnapshotPayload, error) {
		agg, err := store.QueryAggregate()
		if err != nil {
			return api.SnapshotPayload{}, err
		}
		payload := api.SnapshotPayload{
			TotalConfigs: agg.Total,
			Servers:      agg.Servers,
			Clients:      agg.Clients,
			TotalProxies: agg.Proxies,
		}

		entries, err := store.All()
		if err != nil {
			return api.SnapshotPayload{}, err
		}
		probeable := entries[:0:0]
		for _, e := range entries {
			if e.ProbeAddr() != "" {
				probeable = append(probeable, e)
			}
		}
		if len(probeable) > 0 {
			report := dispatch.Run(ctx, dispatch.ProbeItems(probeable, dispatch.DefaultProbeTimeout),
				dispatch.DefaultProbeWorkers, nil)
			payload.Active = report.Succeeded
			payload.Failed = report.Failed
		}

		if out, err := dispatch.ExecRunner(ctx, "frpc", "--version"); err == nil {
			payload.ToolVersion = strings.TrimSpace(string(out))
		}
		return payload, nil
	}
}

func printSnapshot(snap api.Snapshot) {
	p := snap.Payload
	fmt.Printf("Configs:  %d total (%d servers, %d clients)\n", p.TotalConfigs, p.Servers, p.Clients)
	fmt.Printf("Proxies:  %d\n", p.TotalProxies)
	fmt.Printf("Probes:   %d active, %d failed\n", p.Active, p.Failed)
	if p.ToolVersion != "" {
		fmt.Printf("frp:      %s\n", p.ToolVersion)
	}
	fmt.Printf("Captured: %s (%s ago)\n", snap.CapturedAt.Format(time.RFC3339),
		time.Since(snap.CapturedAt).Round(time.Second))
}

func init() {
	statusCmd.Flags().DurationVar(&statusTTL, "ttl", snapshot.DefaultTTL, "Snapshot freshness window")
	statusCmd.Flags().BoolVar(&statusReset, "reset", false, "Discard the cached snapshot first")
	rootCmd.AddCommand(statusCmd)
}
