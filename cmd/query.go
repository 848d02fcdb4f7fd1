package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentic-research/frpfleet/api"
)

var queryCmd = &cobra.Command{
	Use:   "query <filter>",
	Short: "List indexed configs matching a filter",
	Long: `Filters: all, type:<server|client>, tag:<key[:value]>, name:<substring>,
ip:<address>, port:<n>. A bare token is auto-detected in that order:
IPv4 literal, then port number, then tag expression (contains ':'),
then name substring. Use an explicit prefix to override detection.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		entries, err := resolveFilter(engine, args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No configs matched.")
			return nil
		}
		printEntries(entries)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search configs by name substring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		entries, err := resolveFilter(engine, "name:"+args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No configs matched.")
			return nil
		}
		printEntries(entries)
		return nil
	},
}

func printEntries(entries []api.ConfigEntry) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKIND\tADDRESS\tPORT\tBIND\tPROXIES")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.Path, orDash(e.Kind), orDash(e.ServerAddr),
			orDashInt(e.ServerPort), orDashInt(e.BindPort), e.ProxyCount)
	}
	_ = w.Flush() // safe to ignore
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orDashInt(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
}
