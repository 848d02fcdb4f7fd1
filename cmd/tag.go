package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage key/value labels on indexed configs",
}

var tagAddCmd = &cobra.Command{
	Use:   "add <config> <key> <value>",
	Short: "Add or overwrite a tag on one config",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore
		return engine.Tags.Add(args[0], args[1], args[2])
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <config> <key>",
	Short: "Remove a tag from one config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore
		return engine.Tags.Remove(args[0], args[1])
	},
}

var tagListCmd = &cobra.Command{
	Use:   "list <config>",
	Short: "List tags on one config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		tags, err := engine.Tags.List(args[0])
		if err != nil {
			return err
		}
		if len(tags) == 0 {
			fmt.Println("No tags.")
			return nil
		}
		for _, t := range tags {
			fmt.Printf("%s: %s\n", t.Key, t.Value)
		}
		return nil
	},
}

var tagBulkFilter string

var tagBulkCmd = &cobra.Command{
	Use:   "bulk <key> <value>",
	Short: "Tag every config matching --filter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		entries, err := resolveFilter(engine, tagBulkFilter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No configs matched; nothing to tag.")
			return nil
		}
		for _, e := range entries {
			if err := engine.Tags.Add(e.Path, args[0], args[1]); err != nil {
				return err
			}
		}
		fmt.Printf("Tagged %d configs with %s: %s\n", len(entries), args[0], args[1])
		return nil
	},
}

func init() {
	tagBulkCmd.Flags().StringVarP(&tagBulkFilter, "filter", "f", "all", "Target selection filter")
	tagCmd.AddCommand(tagAddCmd, tagRemoveCmd, tagListCmd, tagBulkCmd)
	rootCmd.AddCommand(tagCmd)
}
