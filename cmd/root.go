package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/frpfleet/api"
	"github.com/agentic-research/frpfleet/internal/filter"
	"github.com/agentic-research/frpfleet/internal/index"
	"github.com/agentic-research/frpfleet/internal/tags"
)

var (
	configDir    string
	dbPath       string
	snapshotPath string
)

var rootCmd = &cobra.Command{
	Use:   "frpfleet",
	Short: "frpfleet: fleet manager for frp tunnel endpoint configs",
	Long: `frpfleet indexes a directory of frp configuration files into a local
metadata store and runs queries, labeling, and bounded-concurrency bulk
operations against it without re-reading every file on every action.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "dir", "d", "", "Directory of frp config files (default /etc/frp)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the index database")
	rootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Path to the status snapshot file")
}

// defaultDir mirrors the per-user state convention: both the index and
// the snapshot are derived, rebuildable files — deleting either never
// touches the config files themselves.
func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".agentic-research", "frpfleet"), nil
}

// resolvePaths fills unset flags with their defaults.
func resolvePaths() error {
	base, err := defaultDir()
	if err != nil {
		return err
	}
	if configDir == "" {
		configDir = "/etc/frp"
	}
	abs, err := filepath.Abs(configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	configDir = abs
	if dbPath == "" {
		dbPath = filepath.Join(base, "index.db")
	}
	if snapshotPath == "" {
		snapshotPath = filepath.Join(base, "snapshot.json")
	}
	return nil
}

// openStore opens the index over the host filesystem. Paths are absolute
// so watcher events and billy paths coincide.
func openStore() (*index.Store, error) {
	if err := resolvePaths(); err != nil {
		return nil, err
	}
	return index.Open(dbPath, configDir, osfs.New("/"))
}

// openEngine wires the filter engine over one shared store.
func openEngine() (*index.Store, *filter.Engine, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	engine := &filter.Engine{Index: store, Tags: tags.New(store.DB())}
	return store, engine, nil
}

// resolveFilter parses and resolves a filter expression in one step.
func resolveFilter(engine *filter.Engine, expr string) ([]api.ConfigEntry, error) {
	spec, err := filter.Parse(expr)
	if err != nil {
		return nil, err
	}
	return engine.Resolve(spec)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
